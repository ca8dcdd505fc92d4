// Package shapeenc implements the §4.B Shape Encoder: a run-length
// mapping from sample index to an N-dimensional shape tuple.
package shapeenc

import (
	"fmt"

	"github.com/ashbeekim/tensorstore/rle"
)

// Encoder maps sample index -> shape tuple. Every shape registered with
// an Encoder must have the same dimensionality N.
type Encoder struct {
	dims  int
	table *rle.Table
}

// New returns an encoder fixed to dims dimensions.
func New(dims int) *Encoder {
	return &Encoder{dims: dims, table: rle.New(dims)}
}

// Dims returns the fixed dimensionality of shapes this encoder accepts.
func (e *Encoder) Dims() int {
	return e.dims
}

// NumSamples returns the total number of samples registered so far.
func (e *Encoder) NumSamples() int64 {
	return e.table.NumSamples()
}

func shapeToValue(shape []uint64) []uint64 {
	v := make([]uint64, len(shape))
	copy(v, shape)
	return v
}

func combine(target []uint64) func([]uint64) bool {
	return func(existing []uint64) bool {
		if len(existing) != len(target) {
			return false
		}
		for i := range existing {
			if existing[i] != target[i] {
				return false
			}
		}
		return true
	}
}

// RegisterShape registers n samples, all carrying shape. shape must have
// Dims() components.
func (e *Encoder) RegisterShape(shape []uint64, n int64) error {
	if len(shape) != e.dims {
		return fmt.Errorf("shapeenc: shape has %d dims, encoder expects %d", len(shape), e.dims)
	}
	return e.table.RegisterRun(shapeToValue(shape), n, combine(shape))
}

// Shape returns the shape registered for sample i.
func (e *Encoder) Shape(i int64) ([]uint64, error) {
	row, _, err := e.table.Get(i)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(row.Value))
	copy(out, row.Value)
	return out, nil
}

// SetShape overwrites the shape of a single sample, splitting and
// coalescing rows as needed (spec §4.A __setitem__).
func (e *Encoder) SetShape(i int64, shape []uint64) error {
	if len(shape) != e.dims {
		return fmt.Errorf("shapeenc: shape has %d dims, encoder expects %d", len(shape), e.dims)
	}
	return e.table.Overwrite(i, shapeToValue(shape), func(a, b []uint64) bool {
		return combine(a)(b)
	})
}

// Pop removes the last sample's shape registration.
func (e *Encoder) Pop() error {
	_, _, err := e.table.PopOne()
	return err
}

// MinMax returns the elementwise minimum and maximum shape across every
// registered sample - the running "shape interval" tracked per tensor
// (spec §3 "Tensor meta").
func (e *Encoder) MinMax() (min, max []uint64, ok bool) {
	rows := e.table.Rows()
	if len(rows) == 0 {
		return nil, nil, false
	}
	min = make([]uint64, e.dims)
	max = make([]uint64, e.dims)
	copy(min, rows[0].Value)
	copy(max, rows[0].Value)
	for _, r := range rows {
		for d := 0; d < e.dims; d++ {
			if r.Value[d] < min[d] {
				min[d] = r.Value[d]
			}
			if r.Value[d] > max[d] {
				max[d] = r.Value[d]
			}
		}
	}
	return min, max, true
}

// Table exposes the underlying run-length table for serialization.
func (e *Encoder) Table() *rle.Table {
	return e.table
}

// FromTable rebuilds an Encoder around an already-decoded table, e.g.
// when deserializing a chunk.
func FromTable(dims int, t *rle.Table) *Encoder {
	return &Encoder{dims: dims, table: t}
}
