// Package chunk implements the §4.E Chunk: a data buffer paired with a
// shape encoder and a byte-positions encoder, plus the compression and
// (de)serialization paths that operate over it. A Chunk never references
// another chunk - overflow ("tiling") is owned by the chunk engine, which
// allocates a fresh chunk id per tile piece (see DESIGN.md Open Question
// 1; the abandoned next_chunk/_spawn_chunk design in the original Python
// draft is not ported).
package chunk

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ashbeekim/tensorstore/byteposenc"
	"github.com/ashbeekim/tensorstore/codec"
	"github.com/ashbeekim/tensorstore/serialize"
	"github.com/ashbeekim/tensorstore/shapeenc"
)

// TensorInvalidSampleShapeError is returned when a sample's declared
// dimensionality doesn't match the tensor it belongs to (spec §6 "Error
// kinds surfaced").
type TensorInvalidSampleShapeError struct {
	Expected, Got int
}

func (e *TensorInvalidSampleShapeError) Error() string {
	return fmt.Sprintf("chunk: sample has %d dims, expected %d", e.Got, e.Expected)
}

// FullChunkError is the expected control-flow error the chunk engine
// catches to allocate a new chunk (spec §7 "Capacity errors").
type FullChunkError struct {
	Requested, Available uint64
}

func (e *FullChunkError) Error() string {
	return fmt.Sprintf("chunk: no space for %d bytes (%d available)", e.Requested, e.Available)
}

// Chunk is one append-only unit of sample storage.
type Chunk struct {
	Version string

	data []byte

	shapes  *shapeenc.Encoder
	bytepos *byteposenc.Encoder

	// decompressed is a lazily populated, invalidated-on-mutation cache
	// of this chunk's decompressed samples (spec §4.E
	// decompressed_samples memoization).
	decompressed [][]byte
}

// New returns an empty chunk whose samples have dims dimensions.
func New(dims int) *Chunk {
	return &Chunk{
		Version: serialize.Version,
		shapes:  shapeenc.New(dims),
		bytepos: byteposenc.New(),
	}
}

// NumDataBytes returns the length of the chunk's raw (possibly
// compressed) data buffer.
func (c *Chunk) NumDataBytes() int {
	return len(c.data)
}

// HasSpaceFor reports whether n more raw bytes fit within max total
// bytes (spec §4.E has_space_for).
func (c *Chunk) HasSpaceFor(n uint64, max uint64) bool {
	return uint64(len(c.data))+n <= max
}

func (c *Chunk) ffwChunk() {
	if c.Version == serialize.Version {
		return
	}
	c.Version = serialize.Version
}

func (c *Chunk) invalidateDecompressedCache() {
	c.decompressed = nil
}

// AppendSample appends one sample's already-encoded bytes, registering
// its shape and byte range. It fails with FullChunkError if buf would
// push the chunk's data buffer past max (spec §4.E append_sample).
func (c *Chunk) AppendSample(buf []byte, max uint64, shape []uint64) error {
	c.ffwChunk()
	if !c.HasSpaceFor(uint64(len(buf)), max) {
		return &FullChunkError{Requested: uint64(len(buf)), Available: max - uint64(len(c.data))}
	}
	if err := c.shapes.RegisterShape(shape, 1); err != nil {
		return err
	}
	if err := c.bytepos.RegisterSamples(uint64(len(buf)), 1); err != nil {
		return err
	}
	c.data = append(c.data, buf...)
	c.invalidateDecompressedCache()
	return nil
}

// AppendCompressedSample appends one sample to a chunk whose tensor uses
// chunk-level compression: data always holds a single compressed blob
// once chunk_compression is set (mirrored by decompressed_samples'
// "decompress bulk buffer first" path and update_sample's chunk-level
// splice), so appending means decompress, append in the clear, then
// recompress the whole buffer (spec §4.E).
func (c *Chunk) AppendCompressedSample(buf []byte, max uint64, shape []uint64, cc codec.ChunkCodec) error {
	c.ffwChunk()
	if !c.HasSpaceFor(uint64(len(buf)), max) {
		return &FullChunkError{Requested: uint64(len(buf)), Available: max - uint64(len(c.data))}
	}

	var plain []byte
	if len(c.data) > 0 {
		p, err := cc.Decompress(c.data)
		if err != nil {
			return err
		}
		plain = p
	}

	if err := c.shapes.RegisterShape(shape, 1); err != nil {
		return err
	}
	if err := c.bytepos.RegisterSamples(uint64(len(buf)), 1); err != nil {
		return err
	}
	plain = append(plain, buf...)

	recompressed, err := cc.Compress(plain)
	if err != nil {
		return err
	}
	c.data = recompressed
	c.invalidateDecompressedCache()
	return nil
}

// ExtendSamples is the bulk variant of AppendSample: every sample in
// bufs shares shape, and all of buf's bytes are appended as a single
// run (spec §4.E extend_samples).
func (c *Chunk) ExtendSamples(bufs [][]byte, max uint64, shape []uint64) error {
	c.ffwChunk()
	var total uint64
	for _, b := range bufs {
		total += uint64(len(b))
	}
	if !c.HasSpaceFor(total, max) {
		return &FullChunkError{Requested: total, Available: max - uint64(len(c.data))}
	}
	if len(bufs) == 0 {
		return nil
	}
	nbytes := uint64(len(bufs[0]))
	for _, b := range bufs {
		if uint64(len(b)) != nbytes {
			return errors.New("chunk: ExtendSamples requires every sample to share one byte length")
		}
	}
	if err := c.shapes.RegisterShape(shape, int64(len(bufs))); err != nil {
		return err
	}
	if err := c.bytepos.RegisterSamples(nbytes, int64(len(bufs))); err != nil {
		return err
	}
	for _, b := range bufs {
		c.data = append(c.data, b...)
	}
	c.invalidateDecompressedCache()
	return nil
}

// UpdateSample replaces local sample localI with newBuf/newShape, per
// the compression-specific splice paths in spec §4.E update_sample.
// chunkCompression governs how data is spliced; sampleCodec, when not
// nil, means samples are compressed individually and the whole index
// is decompressed/recompressed around the replacement.
func (c *Chunk) UpdateSample(localI int64, newBuf []byte, newShape []uint64, chunkCodec codec.ChunkCodec, sampleCodec codec.SampleCodec, dtype codec.DType) error {
	c.ffwChunk()

	oldShape, err := c.shapes.Shape(localI)
	if err != nil {
		return err
	}
	if len(oldShape) != len(newShape) {
		return &TensorInvalidSampleShapeError{Expected: len(oldShape), Got: len(newShape)}
	}

	if sampleCodec != nil {
		return c.updateSampleLevel(localI, newBuf, newShape, sampleCodec, dtype)
	}

	start, end, err := c.bytepos.ByteRange(localI)
	if err != nil {
		return err
	}

	if chunkCodec == nil {
		return c.spliceData(localI, int(start), int(end), newBuf, newShape)
	}
	return c.updateChunkLevel(localI, int(start), int(end), newBuf, newShape, chunkCodec)
}

func (c *Chunk) spliceData(localI int64, start, end int, newBuf []byte, newShape []uint64) error {
	left := append([]byte{}, c.data[:start]...)
	right := append([]byte{}, c.data[end:]...)
	c.data = append(left, append(append([]byte{}, newBuf...), right...)...)

	if err := c.bytepos.Resize(localI, uint64(len(newBuf))); err != nil {
		return err
	}
	if err := c.shapes.SetShape(localI, newShape); err != nil {
		return err
	}
	c.invalidateDecompressedCache()
	return nil
}

// updateChunkLevel implements the whole-buffer chunk_compression path:
// decompress the whole buffer, splice in decompressed space, recompress
// the entire buffer.
func (c *Chunk) updateChunkLevel(localI int64, start, end int, newBuf []byte, newShape []uint64, cc codec.ChunkCodec) error {
	plain, err := cc.Decompress(c.data)
	if err != nil {
		return err
	}
	left := append([]byte{}, plain[:start]...)
	right := append([]byte{}, plain[end:]...)
	plain = append(left, append(append([]byte{}, newBuf...), right...)...)

	recompressed, err := cc.Compress(plain)
	if err != nil {
		return err
	}
	c.data = recompressed

	if err := c.bytepos.Resize(localI, uint64(len(newBuf))); err != nil {
		return err
	}
	if err := c.shapes.SetShape(localI, newShape); err != nil {
		return err
	}
	c.invalidateDecompressedCache()
	return nil
}

// updateSampleLevel implements the per-sample codec path: every sample
// is decompressed to raw bytes, the target sample is replaced, and
// every sample is individually recompressed back into the buffer.
func (c *Chunk) updateSampleLevel(localI int64, newBuf []byte, newShape []uint64, sc codec.SampleCodec, dtype codec.DType) error {
	samples, err := c.decompressedSamplesRaw(nil, sc, dtype)
	if err != nil {
		return err
	}
	if int(localI) >= len(samples) {
		return fmt.Errorf("chunk: local sample index %d out of range [0, %d)", localI, len(samples))
	}
	samples[int(localI)] = newBuf

	var rebuilt []byte
	newBytepos := byteposenc.New()
	for i, raw := range samples {
		shape := newShape
		if int64(i) != localI {
			shape, err = c.shapes.Shape(int64(i))
			if err != nil {
				return err
			}
		}
		encoded, err := sc.Encode(raw, shape, dtype)
		if err != nil {
			return err
		}
		if err := newBytepos.RegisterSamples(uint64(len(encoded)), 1); err != nil {
			return err
		}
		rebuilt = append(rebuilt, encoded...)
	}

	c.data = rebuilt
	c.bytepos = newBytepos
	if err := c.shapes.SetShape(localI, newShape); err != nil {
		return err
	}
	c.invalidateDecompressedCache()
	return nil
}

// DecompressedSamples materializes every sample in this chunk as raw,
// uncompressed, row-major bytes, memoizing the result until the next
// mutation (spec §4.E decompressed_samples).
func (c *Chunk) DecompressedSamples(cc codec.ChunkCodec, sc codec.SampleCodec, dtype codec.DType) ([][]byte, error) {
	return c.decompressedSamplesRaw(cc, sc, dtype)
}

func (c *Chunk) decompressedSamplesRaw(cc codec.ChunkCodec, sc codec.SampleCodec, dtype codec.DType) ([][]byte, error) {
	if c.decompressed != nil {
		return c.decompressed, nil
	}

	n := c.bytepos.NumSamples()
	buf := c.data
	if cc != nil {
		plain, err := cc.Decompress(c.data)
		if err != nil {
			return nil, err
		}
		buf = plain
	}

	out := make([][]byte, 0, n)
	for i := int64(0); i < n; i++ {
		start, end, err := c.bytepos.ByteRange(i)
		if err != nil {
			return nil, err
		}
		raw := buf[start:end]
		if sc != nil {
			shape, err := c.shapes.Shape(i)
			if err != nil {
				return nil, err
			}
			decoded, err := sc.Decode(raw, shape, dtype)
			if err != nil {
				return nil, err
			}
			raw = decoded
		}
		out = append(out, raw)
	}
	c.decompressed = out
	return out, nil
}

// NBytes returns the exact serialized length of this chunk without
// building its buffer (spec §4.E nbytes - needed by the LRU cache's
// byte-budget accounting).
func (c *Chunk) NBytes() int {
	return serialize.InferChunkNumBytes(c.Version, c.shapes.Table(), c.bytepos.Table(), len(c.data))
}

// ToBytes serializes the chunk to its wire form (spec §6 tobytes).
func (c *Chunk) ToBytes() []byte {
	return serialize.EncodeChunkBlob(c.Version, c.shapes.Table(), c.bytepos.Table(), c.data)
}

// FromBuffer deserializes a chunk from its wire form, inferring dims
// from the decoded shape table's width (spec §6 frombuffer). An empty
// buffer yields an empty instance, per spec §6.
func FromBuffer(buf []byte) (*Chunk, error) {
	if len(buf) == 0 {
		return New(0), nil
	}
	version, shapeTable, byteposTable, data, err := serialize.DecodeChunkBlob(buf)
	if err != nil {
		return nil, errors.Wrap(err, "chunk: decoding blob")
	}
	return &Chunk{
		Version: version,
		data:    data,
		shapes:  shapeenc.FromTable(shapeTable.Width, shapeTable),
		bytepos: byteposenc.FromTable(byteposTable),
	}, nil
}

// Shapes exposes the chunk's shape encoder.
func (c *Chunk) Shapes() *shapeenc.Encoder { return c.shapes }

// BytePositions exposes the chunk's byte-positions encoder.
func (c *Chunk) BytePositions() *byteposenc.Encoder { return c.bytepos }

// Data returns the chunk's raw (possibly compressed) data buffer.
// Callers must not mutate the returned slice.
func (c *Chunk) Data() []byte { return c.data }

// PopSample removes the chunk's last registered sample from both
// encoders and truncates its bytes from data.
func (c *Chunk) PopSample() error {
	n := c.bytepos.NumSamples()
	if n == 0 {
		return errors.New("chunk: cannot pop from a chunk with no samples")
	}
	start, _, err := c.bytepos.ByteRange(n - 1)
	if err != nil {
		return err
	}
	if err := c.bytepos.Pop(); err != nil {
		return err
	}
	if err := c.shapes.Pop(); err != nil {
		return err
	}
	c.data = c.data[:start]
	c.invalidateDecompressedCache()
	return nil
}
