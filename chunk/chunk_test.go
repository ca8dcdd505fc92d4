package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashbeekim/tensorstore/codec"
)

func ones(n int, v byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestHasSpaceFor(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(50, 1), 100, []uint64{5, 10}))
	assert.True(t, c.HasSpaceFor(50, 100))
	assert.False(t, c.HasSpaceFor(51, 100))
}

func TestAppendSampleFullChunkError(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(80, 1), 100, []uint64{8, 10}))
	err := c.AppendSample(ones(30, 2), 100, []uint64{3, 10})
	require.Error(t, err)
	var fce *FullChunkError
	assert.ErrorAs(t, err, &fce)
}

func TestAppendSampleRegistersShapeAndBytes(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(9, 7), 100, []uint64{3, 3}))
	require.NoError(t, c.AppendSample(ones(9, 8), 100, []uint64{3, 3}))

	shape, err := c.Shapes().Shape(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 3}, shape)

	start, end, err := c.BytePositions().ByteRange(1)
	require.NoError(t, err)
	assert.EqualValues(t, 9, start)
	assert.EqualValues(t, 18, end)
	assert.Equal(t, 18, c.NumDataBytes())
}

func TestExtendSamplesBulk(t *testing.T) {
	c := New(1)
	bufs := [][]byte{ones(4, 1), ones(4, 2), ones(4, 3)}
	require.NoError(t, c.ExtendSamples(bufs, 100, []uint64{4}))
	assert.EqualValues(t, 3, c.Shapes().NumSamples())
	assert.Equal(t, 12, c.NumDataBytes())
}

func TestToBytesFromBufferRoundTrip(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(9, 1), 100, []uint64{3, 3}))
	require.NoError(t, c.AppendSample(ones(16, 2), 100, []uint64{4, 4}))

	blob := c.ToBytes()
	got, err := FromBuffer(blob)
	require.NoError(t, err)

	assert.Equal(t, c.Data(), got.Data())
	assert.True(t, c.Shapes().Table().Equal(got.Shapes().Table()))
	assert.True(t, c.BytePositions().Table().Equal(got.BytePositions().Table()))
}

func TestFromBufferEmptyYieldsEmptyInstance(t *testing.T) {
	got, err := FromBuffer(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumDataBytes())
}

func TestNBytesMatchesActualSerializedLength(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(9, 1), 100, []uint64{3, 3}))
	assert.Equal(t, len(c.ToBytes()), c.NBytes())
}

func TestUpdateSampleUncompressedSplice(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(4, 1), 1000, []uint64{2, 2}))
	require.NoError(t, c.AppendSample(ones(4, 2), 1000, []uint64{2, 2}))
	require.NoError(t, c.AppendSample(ones(4, 3), 1000, []uint64{2, 2}))

	err := c.UpdateSample(1, ones(9, 9), []uint64{3, 3}, nil, nil, codec.Uint8)
	require.NoError(t, err)

	samples, err := c.DecompressedSamples(nil, nil, codec.Uint8)
	require.NoError(t, err)
	assert.Equal(t, ones(4, 1), samples[0])
	assert.Equal(t, ones(9, 9), samples[1])
	assert.Equal(t, ones(4, 3), samples[2])
}

func TestUpdateSampleRejectsDimensionalityChange(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(4, 1), 1000, []uint64{2, 2}))
	err := c.UpdateSample(0, ones(8, 1), []uint64{2, 2, 2}, nil, nil, codec.Uint8)
	require.Error(t, err)
	var se *TensorInvalidSampleShapeError
	assert.ErrorAs(t, err, &se)
}

func TestUpdateSampleChunkLevelCompression(t *testing.T) {
	cc, err := codec.ChunkCodecFor(codec.ChunkLZ4)
	require.NoError(t, err)

	c := New(2)
	plainSamples := [][]byte{ones(100, 1), ones(100, 1), ones(100, 1)}
	var plain []byte
	for _, s := range plainSamples {
		plain = append(plain, s...)
	}
	require.NoError(t, c.shapes.RegisterShape([]uint64{10, 10}, 3))
	require.NoError(t, c.bytepos.RegisterSamples(100, 3))
	compressed, err := cc.Compress(plain)
	require.NoError(t, err)
	c.data = compressed

	err = c.UpdateSample(1, ones(100, 2), []uint64{10, 10}, cc, nil, codec.Uint8)
	require.NoError(t, err)

	samples, err := c.DecompressedSamples(cc, nil, codec.Uint8)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, ones(100, 1), samples[0])
	assert.Equal(t, ones(100, 2), samples[1])
	assert.Equal(t, ones(100, 1), samples[2])
}

func TestPopSampleRemovesLast(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(4, 1), 1000, []uint64{2, 2}))
	require.NoError(t, c.AppendSample(ones(9, 2), 1000, []uint64{3, 3}))

	require.NoError(t, c.PopSample())
	assert.EqualValues(t, 1, c.Shapes().NumSamples())
	assert.Equal(t, 4, c.NumDataBytes())
}

func TestDecompressedSamplesMemoizesUntilMutation(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AppendSample(ones(4, 1), 1000, []uint64{2, 2}))

	first, err := c.DecompressedSamples(nil, nil, codec.Uint8)
	require.NoError(t, err)

	require.NoError(t, c.AppendSample(ones(4, 2), 1000, []uint64{2, 2}))
	second, err := c.DecompressedSamples(nil, nil, codec.Uint8)
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
}
