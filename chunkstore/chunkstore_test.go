package chunkstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashbeekim/tensorstore/chunk"
	"github.com/ashbeekim/tensorstore/codec"
	"github.com/ashbeekim/tensorstore/provider"
)

func newEngine(cacheBudget uint64) *Engine {
	return New(provider.NewMemory(), cacheBudget)
}

func onesU8(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 1
	}
	return b
}

func scaledOnesU8(n int, scale byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = scale
	}
	return b
}

// Scenario A (spec §8): 99 samples with sample i shaped (i,i) and bytes
// i*ones((i,i),uint8); checks num_samples, shape interval, and readback.
func TestScenarioA_GrowingShapes(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("images", codec.Uint8, 2, codec.SampleNone, codec.ChunkNone, DefaultChunkMaxSize))

	for i := 1; i < 100; i++ {
		shape := []uint64{uint64(i), uint64(i)}
		buf := scaledOnesU8(i*i, byte(i))
		require.NoError(t, e.Append("images", buf, shape))
	}

	n, err := e.NumSamples("images")
	require.NoError(t, err)
	assert.EqualValues(t, 99, n)

	lower, upper, err := e.ShapeInterval("images")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 1}, lower)
	assert.Equal(t, []uint64{99, 99}, upper)

	// Sample i is stored at table index i-1, since the loop starts at i=1.
	data, shape, err := e.Read("images", 49)
	require.NoError(t, err)
	assert.Equal(t, []uint64{50, 50}, shape)
	assert.Equal(t, scaledOnesU8(50*50, 50), data)
}

// Scenario B (spec §8): MAX=256, 10 samples of 100 bytes each -> 5
// chunks; the chunk-id encoder's rows end at [1,3,5,7,9]. Popping the
// last sample keeps all 5 rows: the final row covered two samples, so
// its last-seen just drops to 8.
func TestScenarioB_ChunkDistribution(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("t", codec.Uint8, 1, codec.SampleNone, codec.ChunkNone, 256))

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Append("t", onesU8(100), []uint64{100}))
	}

	st, err := e.state("t")
	require.NoError(t, err)
	rows := st.chunkIDs.Table().Rows()
	require.Len(t, rows, 5)
	var lastSeens []int64
	for _, r := range rows {
		lastSeens = append(lastSeens, r.LastSeen)
	}
	assert.Equal(t, []int64{1, 3, 5, 7, 9}, lastSeens)

	require.NoError(t, e.Pop("t"))
	rowsAfter := st.chunkIDs.Table().Rows()
	require.Len(t, rowsAfter, 5)
	assert.EqualValues(t, 8, rowsAfter[len(rowsAfter)-1].LastSeen)

	n, err := e.NumSamples("t")
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)
}

// Scenario C (spec §8): MAX=100, a 150-byte sample with no sample
// compression tiles into two chunks (100 + 50); reading it back yields
// the concatenated 150 bytes.
func TestScenarioC_TiledAppendAndRead(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("t", codec.Uint8, 1, codec.SampleNone, codec.ChunkNone, 100))

	payload := make([]byte, 150)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	require.NoError(t, e.Append("t", payload, []uint64{150}))

	st, err := e.state("t")
	require.NoError(t, err)
	rows := st.chunkIDs.Table().Rows()
	require.Len(t, rows, 2)
	assert.EqualValues(t, 0, rows[0].LastSeen)
	assert.EqualValues(t, 0, rows[1].LastSeen)

	data, shape, err := e.Read("t", 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{150}, shape)
	assert.Equal(t, payload, data)

	n, err := e.NumSamples("t")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	lower, upper, err := e.ShapeInterval("t")
	require.NoError(t, err)
	assert.Equal(t, []uint64{150}, lower)
	assert.Equal(t, []uint64{150}, upper)
}

// Scenario D (spec §8): with lz4 chunk compression, appending 5
// ones((10,10)) samples and updating sample 2 leaves 0,1,3,4 unchanged
// and 2 equal to the new value.
func TestScenarioD_ChunkLevelCompressionUpdate(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("t", codec.Uint8, 2, codec.SampleNone, codec.ChunkLZ4, DefaultChunkMaxSize))

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Append("t", onesU8(100), []uint64{10, 10}))
	}

	newVal := scaledOnesU8(100, 2)
	require.NoError(t, e.Update("t", 2, newVal, []uint64{10, 10}))

	for i := 0; i < 5; i++ {
		data, shape, err := e.Read("t", int64(i))
		require.NoError(t, err)
		assert.Equal(t, []uint64{10, 10}, shape)
		if i == 2 {
			assert.Equal(t, newVal, data)
		} else {
			assert.Equal(t, onesU8(100), data)
		}
	}
}

// Extend should batch a run of equal-shape, equal-length samples
// through Chunk.ExtendSamples: MAX=120 fits 2 of these 50-byte samples
// per chunk, so 6 samples land in 3 chunks with last-seens [1,3,5].
func TestExtendBatchesUniformSamples(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("t", codec.Uint8, 1, codec.SampleNone, codec.ChunkNone, 120))

	bufs := make([][]byte, 6)
	shapes := make([][]uint64, 6)
	for i := range bufs {
		bufs[i] = onesU8(50)
		shapes[i] = []uint64{50}
	}
	require.NoError(t, e.Extend("t", bufs, shapes))

	st, err := e.state("t")
	require.NoError(t, err)
	rows := st.chunkIDs.Table().Rows()
	require.Len(t, rows, 3)
	var lastSeens []int64
	for _, r := range rows {
		lastSeens = append(lastSeens, r.LastSeen)
	}
	assert.Equal(t, []int64{1, 3, 5}, lastSeens)

	for i := 0; i < 6; i++ {
		data, shape, err := e.Read("t", int64(i))
		require.NoError(t, err)
		assert.Equal(t, []uint64{50}, shape)
		assert.Equal(t, onesU8(50), data)
	}
}

// A run that doesn't share a common shape/length falls back to Append
// per sample rather than batching.
func TestExtendFallsBackForMixedShapes(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("t", codec.Uint8, 1, codec.SampleNone, codec.ChunkNone, DefaultChunkMaxSize))

	bufs := [][]byte{onesU8(10), onesU8(20), onesU8(10)}
	shapes := [][]uint64{{10}, {20}, {10}}
	require.NoError(t, e.Extend("t", bufs, shapes))

	n, err := e.NumSamples("t")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	data, shape, err := e.Read("t", 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{20}, shape)
	assert.Equal(t, onesU8(20), data)
}

func TestCreateTensorRejectsDuplicateName(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("t", codec.Uint8, 1, codec.SampleNone, codec.ChunkNone, DefaultChunkMaxSize))
	err := e.CreateTensor("t", codec.Uint8, 1, codec.SampleNone, codec.ChunkNone, DefaultChunkMaxSize)
	assert.Error(t, err)
}

func TestCreateTensorRejectsBothCompressionKinds(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	err := e.CreateTensor("t", codec.Uint8, 1, codec.SamplePNG, codec.ChunkLZ4, DefaultChunkMaxSize)
	assert.Error(t, err)
}

func TestUpdateRejectsTiledSample(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("t", codec.Uint8, 1, codec.SampleNone, codec.ChunkNone, 100))
	require.NoError(t, e.Append("t", make([]byte, 150), []uint64{150}))

	err := e.Update("t", 0, make([]byte, 150), []uint64{150})
	assert.Error(t, err)
}

func TestFlushPersistsIndexAndMeta(t *testing.T) {
	e := newEngine(DefaultCacheBudget)
	require.NoError(t, e.CreateTensor("t", codec.Uint8, 1, codec.SampleNone, codec.ChunkNone, DefaultChunkMaxSize))
	require.NoError(t, e.Append("t", onesU8(10), []uint64{10}))
	require.NoError(t, e.Flush("t"))

	ctx := context.Background()
	_, err := e.provider.Get(ctx, chunkIndexKey("t"))
	require.NoError(t, err)
	_, err = e.provider.Get(ctx, metaKey("t"))
	require.NoError(t, err)
}

func TestWrapFullChunkErrorAddsHumanizedHint(t *testing.T) {
	err := wrapFullChunkError(&chunk.FullChunkError{Requested: 4096, Available: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available")
}

func TestWrapFullChunkErrorPassesThroughOtherErrors(t *testing.T) {
	err := wrapFullChunkError(&provider.NotFoundError{Key: "x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "available")
}
