// Package byteposenc implements the §4.C Byte-Positions Encoder: a
// run-length mapping from sample index to the (start, end) byte range it
// occupies within its chunk's data buffer.
package byteposenc

import (
	"fmt"

	"github.com/ashbeekim/tensorstore/rle"
)

const (
	colNBytes    = 0
	colStartByte = 1
	width        = 2
)

// Encoder maps sample index -> byte range.
type Encoder struct {
	table *rle.Table
}

// New returns an empty Byte-Positions Encoder.
func New() *Encoder {
	return &Encoder{table: rle.New(width)}
}

// NumSamples returns the total number of samples registered so far.
func (e *Encoder) NumSamples() int64 {
	return e.table.NumSamples()
}

func (e *Encoder) endOfLastRun() uint64 {
	rows := e.table.Rows()
	if len(rows) == 0 {
		return 0
	}
	last := len(rows) - 1
	count := uint64(e.table.RowSampleCount(last))
	return rows[last].Value[colStartByte] + rows[last].Value[colNBytes]*count
}

// RegisterSamples registers n samples of nbytes bytes each, appended
// immediately after the previously registered run.
func (e *Encoder) RegisterSamples(nbytes uint64, n int64) error {
	startByte := e.endOfLastRun()
	value := []uint64{nbytes, startByte}
	return e.table.RegisterRun(value, n, func(existing []uint64) bool {
		return existing[colNBytes] == nbytes
	})
}

// ByteRange returns the [start, end) byte range sample i occupies.
func (e *Encoder) ByteRange(i int64) (start, end uint64, err error) {
	row, rowIdx, err := e.table.Get(i)
	if err != nil {
		return 0, 0, err
	}
	first := e.table.RowFirstSample(rowIdx)
	nbytes := row.Value[colNBytes]
	start = row.Value[colStartByte] + uint64(i-first)*nbytes
	end = start + nbytes
	return start, end, nil
}

// NumBytes returns the exact serialized byte length of sample i.
func (e *Encoder) NumBytes(i int64) (uint64, error) {
	start, end, err := e.ByteRange(i)
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// Resize implements §4.C __setitem__: sample i is resized to newNBytes,
// and every row after it has its start_byte shifted by the resulting
// delta. Because a byte-position row's value encodes an absolute offset
// (unlike a shape row's position-independent value), splitting the row
// that contains i is done explicitly here rather than through the
// generic rle.Table.Overwrite used by position-independent encoders.
func (e *Encoder) Resize(i int64, newNBytes uint64) error {
	row, rowIdx, err := e.table.Get(i)
	if err != nil {
		return err
	}
	first := e.table.RowFirstSample(rowIdx)
	last := row.LastSeen
	oldNBytes := row.Value[colNBytes]
	oldRowStart := row.Value[colStartByte]
	if oldNBytes == newNBytes {
		return nil
	}
	delta := int64(newNBytes) - int64(oldNBytes)

	replacement := make([]rle.Row, 0, 3)
	pivot := 0
	if first < i {
		replacement = append(replacement, rle.Row{Value: []uint64{oldNBytes, oldRowStart}, LastSeen: i - 1})
		pivot = 1
	}
	singletonStart := oldRowStart + uint64(i-first)*oldNBytes
	replacement = append(replacement, rle.Row{Value: []uint64{newNBytes, singletonStart}, LastSeen: i})
	if i < last {
		suffixStart := oldRowStart + uint64(i+1-first)*oldNBytes
		replacement = append(replacement, rle.Row{Value: []uint64{oldNBytes, suffixStart}, LastSeen: last})
	}

	combine := func(a, b []uint64) bool { return a[colNBytes] == b[colNBytes] }
	e.table.SpliceRow(rowIdx, replacement, pivot, combine)

	rows := e.table.Rows()
	for idx := range rows {
		if e.table.RowFirstSample(idx) > i {
			shifted := int64(rows[idx].Value[colStartByte]) + delta
			if shifted < 0 {
				return fmt.Errorf("byteposenc: resize produced a negative start byte")
			}
			rows[idx].Value[colStartByte] = uint64(shifted)
		}
	}
	return nil
}

// Pop removes the last sample's byte-range registration.
func (e *Encoder) Pop() error {
	_, _, err := e.table.PopOne()
	return err
}

// Table exposes the underlying run-length table for serialization.
func (e *Encoder) Table() *rle.Table {
	return e.table
}

// FromTable rebuilds an Encoder around an already-decoded table.
func FromTable(t *rle.Table) *Encoder {
	return &Encoder{table: t}
}
