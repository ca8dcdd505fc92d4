// Package tensormeta implements the §3 "Tensor meta" record: the
// per-tensor dtype, compression configuration, chunk byte budget, and
// running shape interval, serialized as textual JSON to
// T/tensor_meta.json (spec §4.H key scheme).
package tensormeta

import (
	"encoding/json"
	"fmt"

	"github.com/ashbeekim/tensorstore/codec"
)

// TensorMetaMismatchError is returned when an incoming sample's
// dimensionality disagrees with a tensor's already-established meta
// (spec §6 "Error kinds surfaced").
type TensorMetaMismatchError struct {
	Field            string
	Expected, Actual string
}

func (e *TensorMetaMismatchError) Error() string {
	return fmt.Sprintf("tensormeta: %s mismatch: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// Meta is one tensor's metadata record.
type Meta struct {
	Name              string                  `json:"name"`
	DType             codec.DType             `json:"dtype"`
	Dims              int                     `json:"dims"`
	SampleCompression codec.SampleCompression `json:"sample_compression"`
	ChunkCompression  codec.ChunkCompression  `json:"chunk_compression"`
	MaxChunkSize      uint64                  `json:"max_chunk_size"`
	MinShape          []uint64                `json:"min_shape,omitempty"`
	MaxShape          []uint64                `json:"max_shape,omitempty"`
	LengthSamples     int64                   `json:"length"`
}

// New returns a fresh tensor meta with no samples registered yet, and
// therefore no shape interval.
func New(name string, dtype codec.DType, dims int, sampleCompression codec.SampleCompression, chunkCompression codec.ChunkCompression, maxChunkSize uint64) *Meta {
	return &Meta{
		Name:              name,
		DType:             dtype,
		Dims:              dims,
		SampleCompression: sampleCompression,
		ChunkCompression:  chunkCompression,
		MaxChunkSize:      maxChunkSize,
	}
}

// CheckSampleShape validates that shape is compatible with this
// tensor's fixed dimensionality before it is registered.
func (m *Meta) CheckSampleShape(shape []uint64) error {
	if len(shape) != m.Dims {
		return &TensorMetaMismatchError{
			Field:    "dims",
			Expected: fmt.Sprintf("%d", m.Dims),
			Actual:   fmt.Sprintf("%d", len(shape)),
		}
	}
	return nil
}

// RegisterSample widens the running shape interval to include shape
// (spec §3 "running shape interval (elementwise min/max ... for fast
// shape queries)") and bumps the sample count.
func (m *Meta) RegisterSample(shape []uint64) error {
	if err := m.CheckSampleShape(shape); err != nil {
		return err
	}
	if m.MinShape == nil {
		m.MinShape = append([]uint64{}, shape...)
		m.MaxShape = append([]uint64{}, shape...)
	} else {
		for i, v := range shape {
			if v < m.MinShape[i] {
				m.MinShape[i] = v
			}
			if v > m.MaxShape[i] {
				m.MaxShape[i] = v
			}
		}
	}
	m.LengthSamples++
	return nil
}

// ShapeInterval returns the elementwise (lower, upper) shape bound
// across every registered sample, and whether any sample has been
// registered at all.
func (m *Meta) ShapeInterval() (lower, upper []uint64, ok bool) {
	if m.MinShape == nil {
		return nil, nil, false
	}
	return append([]uint64{}, m.MinShape...), append([]uint64{}, m.MaxShape...), true
}

// PopSample narrows bookkeeping after a sample is removed. The shape
// interval is not recomputed (spec.md does not require shrinking it on
// pop - it is a running, monotonic bound); only the sample count
// changes.
func (m *Meta) PopSample() {
	if m.LengthSamples > 0 {
		m.LengthSamples--
	}
}

// NBytes returns the exact length of m's JSON serialization, satisfying
// the Cachable interface (spec §6) so tensor meta can share the LRU
// cache with chunks and encoders.
func (m *Meta) NBytes() int {
	return len(m.ToBytes())
}

// ToBytes serializes m to compact (non-indented) JSON.
func (m *Meta) ToBytes() []byte {
	// encoding/json.Marshal on a value built entirely from this
	// package's own fields never errors.
	data, _ := json.Marshal(m)
	return data
}

// FromBytes deserializes a Meta previously produced by ToBytes.
func FromBytes(data []byte) (*Meta, error) {
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("tensormeta: decoding tensor_meta.json: %w", err)
	}
	return &m, nil
}
