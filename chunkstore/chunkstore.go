// Package chunkstore implements the §4.H Chunk Engine: the only
// component that knows the key-value store. For each tensor it owns the
// chunk-id encoder, the tensor meta, and a reference to the LRU cache
// over the storage provider, and orchestrates append/extend/read/
// update/pop against that state.
package chunkstore

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/ashbeekim/tensorstore/cache"
	"github.com/ashbeekim/tensorstore/chunk"
	"github.com/ashbeekim/tensorstore/chunkid"
	"github.com/ashbeekim/tensorstore/codec"
	"github.com/ashbeekim/tensorstore/provider"
	"github.com/ashbeekim/tensorstore/serialize"
	"github.com/ashbeekim/tensorstore/tensormeta"
)

// Engine-wide configuration constants (spec §6 "Environment/config").
const (
	// DefaultChunkMaxSize is DEFAULT_CHUNK_MAX_SIZE: the default soft
	// byte budget for a chunk's data buffer.
	DefaultChunkMaxSize = 16 * 1024 * 1024

	// DefaultCacheBudget bounds how many bytes of deserialized chunks
	// and encoders the engine keeps hot across every tensor.
	DefaultCacheBudget = 64 * 1024 * 1024
)

func chunkKey(tensor, hexID string) string { return tensor + "/chunks/" + hexID }
func chunkIndexKey(tensor string) string   { return tensor + "/chunks_index/unsharded" }
func metaKey(tensor string) string         { return tensor + "/tensor_meta.json" }

// tensorState is the engine's per-tensor working set.
type tensorState struct {
	meta         *tensormeta.Meta
	chunkIDs     *chunkid.Encoder
	lastChunk    *chunk.Chunk
	lastChunkHex string
}

// Engine is the upward-facing API of §6: CreateTensor, Append, Extend,
// Read, Update, Pop, NumSamples, ShapeInterval.
type Engine struct {
	provider provider.Provider
	cache    *cache.Cache
	tensors  map[string]*tensorState
}

// New returns an Engine backed by p, with an LRU cache budgeted to
// cacheBudget bytes across every tensor it manages.
func New(p provider.Provider, cacheBudget uint64) *Engine {
	e := &Engine{provider: p, tensors: make(map[string]*tensorState)}
	e.cache = cache.New(cacheBudget, e.flushDirty)
	return e
}

func (e *Engine) flushDirty(key string, value cache.Cachable) error {
	return e.provider.Set(context.Background(), key, value.ToBytes())
}

// CreateTensor registers a new, empty tensor (spec §6 "create_tensor").
func (e *Engine) CreateTensor(name string, dtype codec.DType, dims int, sampleCompression codec.SampleCompression, chunkCompression codec.ChunkCompression, maxChunkSize uint64) error {
	if _, exists := e.tensors[name]; exists {
		return fmt.Errorf("chunkstore: tensor %q already exists", name)
	}
	if sampleCompression != codec.SampleNone && chunkCompression != codec.ChunkNone {
		return fmt.Errorf("chunkstore: sample_compression and chunk_compression are mutually exclusive (spec §4.F)")
	}
	if maxChunkSize == 0 {
		maxChunkSize = DefaultChunkMaxSize
	}
	e.tensors[name] = &tensorState{
		meta:     tensormeta.New(name, dtype, dims, sampleCompression, chunkCompression, maxChunkSize),
		chunkIDs: chunkid.New(),
	}
	return nil
}

func (e *Engine) state(name string) (*tensorState, error) {
	st, ok := e.tensors[name]
	if !ok {
		return nil, fmt.Errorf("chunkstore: unknown tensor %q", name)
	}
	return st, nil
}

func (e *Engine) codecs(st *tensorState) (codec.SampleCodec, codec.ChunkCodec, error) {
	sc, err := codec.SampleCodecFor(st.meta.SampleCompression)
	if err != nil {
		return nil, nil, err
	}
	cc, err := codec.ChunkCodecFor(st.meta.ChunkCompression)
	if err != nil {
		return nil, nil, err
	}
	if st.meta.SampleCompression == codec.SampleNone {
		sc = nil
	}
	if st.meta.ChunkCompression == codec.ChunkNone {
		cc = nil
	}
	return sc, cc, nil
}

// loadChunk fetches a chunk by its hex name, preferring the cache.
func (e *Engine) loadChunk(name string) (*chunk.Chunk, error) {
	if v, _, ok := e.cache.Get(name); ok {
		return v.(*chunk.Chunk), nil
	}
	data, err := e.provider.Get(context.Background(), name)
	if err != nil {
		return nil, err
	}
	c, err := chunk.FromBuffer(data)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Put(name, c, false); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Engine) putChunkDirty(key string, c *chunk.Chunk) error {
	if err := e.cache.Put(key, c, true); err != nil {
		return err
	}
	e.cache.MarkDirty(key)
	return nil
}

// Append encodes and appends one sample (spec §4.H "Append one
// sample"). buf is the already-encoded (per sample_compression) byte
// payload, shape its final shape.
func (e *Engine) Append(name string, buf []byte, shape []uint64) error {
	st, err := e.state(name)
	if err != nil {
		return err
	}
	if err := st.meta.CheckSampleShape(shape); err != nil {
		return err
	}

	max := st.meta.MaxChunkSize
	if st.lastChunk != nil && st.lastChunk.HasSpaceFor(uint64(len(buf)), max) {
		if err := e.appendToChunk(st, st.lastChunk, st.lastChunkHex, buf, shape); err != nil {
			return err
		}
		if err := st.chunkIDs.RegisterSamples(1); err != nil {
			return err
		}
		return st.meta.RegisterSample(shape)
	}

	if uint64(len(buf)) > max {
		if err := e.appendTiled(st, buf, shape, max); err != nil {
			return err
		}
		return st.meta.RegisterSample(shape)
	}

	id := st.chunkIDs.GenerateChunkID()
	hexID := chunkid.NameFromID(id)
	c := chunk.New(st.meta.Dims)
	key := chunkKey(name, hexID)
	if err := e.appendToChunk(st, c, key, buf, shape); err != nil {
		return err
	}
	if err := st.chunkIDs.RegisterSamples(1); err != nil {
		return err
	}
	st.lastChunk = c
	st.lastChunkHex = key
	return st.meta.RegisterSample(shape)
}

// appendToChunk appends buf to c and persists it as dirty, wrapping a
// capacity failure with a human-readable byte-count diagnostic. It
// routes through the chunk-level compressed append path when the
// tensor's chunk_compression is set (spec §4.F: sample_compression and
// chunk_compression are mutually exclusive per tensor).
func (e *Engine) appendToChunk(st *tensorState, c *chunk.Chunk, key string, buf []byte, shape []uint64) error {
	var err error
	if st.meta.ChunkCompression == codec.ChunkNone {
		err = c.AppendSample(buf, st.meta.MaxChunkSize, shape)
	} else {
		cc, ccErr := codec.ChunkCodecFor(st.meta.ChunkCompression)
		if ccErr != nil {
			return ccErr
		}
		err = c.AppendCompressedSample(buf, st.meta.MaxChunkSize, shape, cc)
	}
	if err != nil {
		return wrapFullChunkError(err)
	}
	return e.putChunkDirty(key, c)
}

// appendTiled implements spec §4.H step 4: a sample whose byte length
// exceeds MAX is split into ceil(nbytes/MAX) pieces, each getting its
// own fresh chunk id; the chunk-id encoder records 1 sample in the
// first row and 0 in every continuation row.
func (e *Engine) appendTiled(st *tensorState, buf []byte, shape []uint64, max uint64) error {
	offset := 0
	first := true
	for offset < len(buf) {
		end := offset + int(max)
		if end > len(buf) {
			end = len(buf)
		}
		piece := buf[offset:end]

		id := st.chunkIDs.GenerateChunkID()
		hexID := chunkid.NameFromID(id)
		key := chunkKey(st.meta.Name, hexID)
		c := chunk.New(st.meta.Dims)
		if err := c.AppendSample(piece, max, shape); err != nil {
			return wrapFullChunkError(err)
		}
		if err := e.putChunkDirty(key, c); err != nil {
			return err
		}

		n := int64(0)
		if first {
			n = 1
		}
		if err := st.chunkIDs.RegisterSamples(n); err != nil {
			return err
		}

		offset = end
		first = false
	}
	// No tile chunk stays open for later appends: a further sample
	// registered into the last tile's row would stop that row from
	// marking a tile continuation.
	st.lastChunk, st.lastChunkHex = nil, ""
	return nil
}

// Extend appends every sample in bufs/shapes in order (spec §4.H
// "extend"). Consecutive runs of equal-shape, equal-length samples on
// an uncompressed tensor are batched through Chunk.ExtendSamples rather
// than appended one at a time; anything else (compression, a run of
// one, a sample too large for a single chunk) falls back to Append.
func (e *Engine) Extend(name string, bufs [][]byte, shapes [][]uint64) error {
	if len(bufs) != len(shapes) {
		return fmt.Errorf("chunkstore: Extend given %d buffers but %d shapes", len(bufs), len(shapes))
	}
	st, err := e.state(name)
	if err != nil {
		return err
	}

	i := 0
	for i < len(bufs) {
		if st.meta.SampleCompression == codec.SampleNone && st.meta.ChunkCompression == codec.ChunkNone &&
			uint64(len(bufs[i])) <= st.meta.MaxChunkSize {
			j := i + 1
			for j < len(bufs) && shapesEqual(shapes[j], shapes[i]) && len(bufs[j]) == len(bufs[i]) {
				j++
			}
			if j-i > 1 {
				if err := e.extendUniformBatch(st, name, bufs[i:j], shapes[i]); err != nil {
					return err
				}
				i = j
				continue
			}
		}
		if err := e.Append(name, bufs[i], shapes[i]); err != nil {
			return err
		}
		i++
	}
	return nil
}

func shapesEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

// extendUniformBatch packs a run of same-shape, same-length,
// uncompressed samples into the fewest chunks possible via
// Chunk.ExtendSamples, reusing the tensor's open chunk first and
// opening fresh ones as each fills (spec §4.H extend_samples).
func (e *Engine) extendUniformBatch(st *tensorState, name string, bufs [][]byte, shape []uint64) error {
	max := st.meta.MaxChunkSize
	nbytes := uint64(len(bufs[0]))
	idx := 0

	for idx < len(bufs) {
		var c *chunk.Chunk
		var key string

		if st.lastChunk != nil && st.lastChunk.HasSpaceFor(nbytes, max) {
			c, key = st.lastChunk, st.lastChunkHex
		} else {
			id := st.chunkIDs.GenerateChunkID()
			key = chunkKey(name, chunkid.NameFromID(id))
			c = chunk.New(st.meta.Dims)
		}

		avail := max - uint64(c.NumDataBytes())
		count := int(avail / nbytes)
		if count < 1 {
			count = 1
		}
		if remaining := len(bufs) - idx; count > remaining {
			count = remaining
		}
		batch := bufs[idx : idx+count]

		if err := c.ExtendSamples(batch, max, shape); err != nil {
			return wrapFullChunkError(err)
		}
		if err := e.putChunkDirty(key, c); err != nil {
			return err
		}
		if err := st.chunkIDs.RegisterSamples(int64(count)); err != nil {
			return err
		}
		for k := 0; k < count; k++ {
			if err := st.meta.RegisterSample(shape); err != nil {
				return err
			}
		}

		st.lastChunk, st.lastChunkHex = c, key
		idx += count
	}
	return nil
}

// Read implements spec §4.H "Read sample i": resolve the sample's
// chunk id(s), fetch the chunk(s), concatenate tiled pieces, and
// decompress/reshape through the tensor's codecs.
func (e *Engine) Read(name string, i int64) (data []byte, shape []uint64, err error) {
	st, err := e.state(name)
	if err != nil {
		return nil, nil, err
	}
	ids, err := st.chunkIDs.ChunkIDs(i)
	if err != nil {
		return nil, nil, err
	}
	localI, err := st.chunkIDs.TranslateIndexRelativeToChunks(i)
	if err != nil {
		return nil, nil, err
	}

	sc, cc, err := e.codecs(st)
	if err != nil {
		return nil, nil, err
	}

	if len(ids) == 1 {
		c, err := e.loadChunk(chunkKey(name, chunkid.NameFromID(ids[0])))
		if err != nil {
			return nil, nil, err
		}
		samples, err := c.DecompressedSamples(cc, sc, st.meta.DType)
		if err != nil {
			return nil, nil, err
		}
		if int(localI) >= len(samples) {
			return nil, nil, fmt.Errorf("chunkstore: local index %d out of range for chunk with %d samples", localI, len(samples))
		}
		shape, err := c.Shapes().Shape(localI)
		if err != nil {
			return nil, nil, err
		}
		return samples[localI], shape, nil
	}

	// Tiled: concatenate raw data of every chunk in order, then
	// decompress/reshape using the first chunk's encoders (spec §4.H:
	// "shape is stored once in the first chunk").
	var raw []byte
	var firstChunk *chunk.Chunk
	for idx, id := range ids {
		c, err := e.loadChunk(chunkKey(name, chunkid.NameFromID(id)))
		if err != nil {
			return nil, nil, err
		}
		if idx == 0 {
			firstChunk = c
		}
		raw = append(raw, c.Data()...)
	}
	if cc != nil {
		raw, err = cc.Decompress(raw)
		if err != nil {
			return nil, nil, err
		}
	}
	shape, err = firstChunk.Shapes().Shape(0)
	if err != nil {
		return nil, nil, err
	}
	if sc != nil {
		raw, err = sc.Decode(raw, shape, st.meta.DType)
		if err != nil {
			return nil, nil, err
		}
	}
	return raw, shape, nil
}

// Update implements spec §4.H "Update sample i": locate the owning
// chunk and splice in the new bytes. Only untiled samples can be
// updated in place; spec.md defers re-tiling to an out-of-scope
// compaction step, so an update that grows an untiled sample's chunk
// past MAX is allowed to leave that chunk temporarily oversize.
func (e *Engine) Update(name string, i int64, newBuf []byte, newShape []uint64) error {
	st, err := e.state(name)
	if err != nil {
		return err
	}
	ids, err := st.chunkIDs.ChunkIDs(i)
	if err != nil {
		return err
	}
	if len(ids) > 1 {
		return errors.New("chunkstore: updating a tiled sample in place is not supported; see spec.md's compaction non-goal")
	}
	localI, err := st.chunkIDs.TranslateIndexRelativeToChunks(i)
	if err != nil {
		return err
	}
	sc, cc, err := e.codecs(st)
	if err != nil {
		return err
	}

	key := chunkKey(name, chunkid.NameFromID(ids[0]))
	c, err := e.loadChunk(key)
	if err != nil {
		return err
	}
	if err := c.UpdateSample(localI, newBuf, newShape, cc, sc, st.meta.DType); err != nil {
		return err
	}
	return e.putChunkDirty(key, c)
}

// Pop implements spec §4.H "Pop last sample": the chunk-id encoder's
// _pop returns chunk ids to delete; those keys are removed from the
// store and the corresponding rows popped from the last chunk's
// encoders.
func (e *Engine) Pop(name string) error {
	st, err := e.state(name)
	if err != nil {
		return err
	}
	freed, err := st.chunkIDs.Pop()
	if err != nil {
		return err
	}
	for _, id := range freed {
		key := chunkKey(name, chunkid.NameFromID(id))
		e.cache.Remove(key)
		if err := e.provider.Delete(context.Background(), key); err != nil {
			return err
		}
	}

	if len(freed) > 0 {
		// The popped sample's chunk(s) are gone; the next append opens a
		// fresh chunk instead of reusing a deleted one.
		st.lastChunk, st.lastChunkHex = nil, ""
	} else {
		if st.lastChunk == nil {
			key := chunkKey(name, chunkid.NameFromID(st.chunkIDs.Table().LastRowValue()[0]))
			c, err := e.loadChunk(key)
			if err != nil {
				return err
			}
			st.lastChunk, st.lastChunkHex = c, key
		}
		if err := st.lastChunk.PopSample(); err != nil {
			return err
		}
		if err := e.putChunkDirty(st.lastChunkHex, st.lastChunk); err != nil {
			return err
		}
	}
	st.meta.PopSample()
	return nil
}

// NumSamples returns the tensor's current sample count (spec §4.H
// "Length": last-row last-seen + 1 of the chunk-id encoder).
func (e *Engine) NumSamples(name string) (int64, error) {
	st, err := e.state(name)
	if err != nil {
		return 0, err
	}
	return st.chunkIDs.NumSamples(), nil
}

// ShapeInterval returns the elementwise (lower, upper) shape bound
// across every registered sample.
func (e *Engine) ShapeInterval(name string) (lower, upper []uint64, err error) {
	st, err := e.state(name)
	if err != nil {
		return nil, nil, err
	}
	lower, upper, ok := st.meta.ShapeInterval()
	if !ok {
		return nil, nil, fmt.Errorf("chunkstore: tensor %q has no samples yet", name)
	}
	return lower, upper, nil
}

// Flush persists every dirty chunk, the chunk-id encoder, and the
// tensor meta for name, in the durability order spec §5 requires:
// chunk blobs first, then encoders, then tensor meta.
func (e *Engine) Flush(name string) error {
	st, err := e.state(name)
	if err != nil {
		return err
	}
	if err := e.cache.Flush(); err != nil {
		return err
	}

	ctx := context.Background()
	idxBlob := serialize.EncodeChunkIDBlob(serialize.Version, st.chunkIDs.Table())
	if err := e.provider.Set(ctx, chunkIndexKey(name), idxBlob); err != nil {
		return errors.Wrap(err, "chunkstore: flushing chunk-id encoder")
	}

	if err := e.provider.Set(ctx, metaKey(name), st.meta.ToBytes()); err != nil {
		return errors.Wrap(err, "chunkstore: flushing tensor meta")
	}
	return nil
}

// wrapFullChunkError adds a human-readable byte-count hint to a
// *chunk.FullChunkError. Any other error passes through unchanged.
func wrapFullChunkError(err error) error {
	var full *chunk.FullChunkError
	if !errors.As(err, &full) {
		return err
	}
	return errors.Wrapf(err, "requested %s but only %s available in this chunk",
		humanize.Bytes(full.Requested), humanize.Bytes(full.Available))
}
