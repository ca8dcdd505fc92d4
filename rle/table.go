// Package rle implements the generic run-length encoded row table that
// backs the Shape, Byte-Positions and Chunk-Id encoders. A table is a
// dense sequence of rows, each binding a fixed-width value payload to a
// last-seen-sample-index: the inclusive upper bound of the run of sample
// indices the row covers. Row 0 covers samples 0..LastSeen, row i>0
// covers samples (rows[i-1].LastSeen+1)..rows[i].LastSeen.
package rle

import (
	"fmt"
	"sort"
)

// noSamplesYet is the sentinel "previous last-seen" value used when a row
// is appended to represent zero samples registered so far (an empty table,
// or - for the chunk-id encoder - a freshly generated id with nothing
// registered to it yet). It is handled explicitly throughout this package
// rather than relying on unsigned-integer wraparound.
const noSamplesYet int64 = -1

// Row is one entry of a Table: a value payload of fixed width plus the
// inclusive upper bound sample index the row covers.
type Row struct {
	Value    []uint64
	LastSeen int64
}

// Table is the 2D, uint64-backed row table described in spec §4.A.
type Table struct {
	Width int
	rows  []Row
}

// New returns an empty table whose rows carry a value payload of width
// columns.
func New(width int) *Table {
	return &Table{Width: width}
}

// FromRows builds a table directly from a pre-built row slice, e.g. when
// deserializing from the wire. Ownership of rows transfers to the table.
func FromRows(width int, rows []Row) *Table {
	return &Table{Width: width, rows: rows}
}

// NumRows returns the number of rows currently in the table.
func (t *Table) NumRows() int {
	return len(t.rows)
}

// Rows returns the table's rows. Callers must not mutate the returned
// slice or its Value slices; it is shared with the table.
func (t *Table) Rows() []Row {
	return t.rows
}

// NumSamples returns the number of samples the table describes: the last
// row's LastSeen+1, or 0 if the table is empty.
func (t *Table) NumSamples() int64 {
	if len(t.rows) == 0 {
		return 0
	}
	return t.rows[len(t.rows)-1].LastSeen + 1
}

// LastRowValue returns the value payload of the last row, or nil if the
// table is empty.
func (t *Table) LastRowValue() []uint64 {
	if len(t.rows) == 0 {
		return nil
	}
	return t.rows[len(t.rows)-1].Value
}

func (t *Table) lastLastSeen() int64 {
	if len(t.rows) == 0 {
		return noSamplesYet
	}
	return t.rows[len(t.rows)-1].LastSeen
}

// Translate performs the binary-search lookup described in spec §4.A:
// the smallest row index whose LastSeen is >= sampleIndex. It returns an
// error if sampleIndex is out of range.
func (t *Table) Translate(sampleIndex int64) (int, error) {
	if sampleIndex < 0 || sampleIndex >= t.NumSamples() {
		return 0, fmt.Errorf("rle: sample index %d out of range [0, %d)", sampleIndex, t.NumSamples())
	}
	row := sort.Search(len(t.rows), func(i int) bool {
		return t.rows[i].LastSeen >= sampleIndex
	})
	return row, nil
}

// rowFirstSample returns the first sample index covered by row i.
func (t *Table) rowFirstSample(row int) int64 {
	if row == 0 {
		return 0
	}
	return t.rows[row-1].LastSeen + 1
}

// RowFirstSample is the exported form of rowFirstSample, used by
// encoders built on top of Table that need to know a row's extent.
func (t *Table) RowFirstSample(row int) int64 {
	return t.rowFirstSample(row)
}

// RowSampleCount returns the number of samples row covers.
func (t *Table) RowSampleCount(row int) int64 {
	return t.rows[row].LastSeen - t.rowFirstSample(row) + 1
}

// RegisterRun implements §4.A register_samples: append n samples bound to
// value. If the table is empty, or combine(lastRowValue) returns false,
// a new row is appended covering exactly n samples. Otherwise the last
// row is extended by n samples (value is ignored in that case - the
// existing row's value already matches).
//
// A nil combine is treated as always false: every call then appends a
// new row.
func (t *Table) RegisterRun(value []uint64, n int64, combine func(existing []uint64) bool) error {
	if n < 0 {
		return fmt.Errorf("rle: cannot register a negative number of samples: %d", n)
	}
	if len(t.rows) == 0 {
		if n == 0 {
			return fmt.Errorf("rle: cannot register zero samples into an empty table")
		}
		t.rows = append(t.rows, Row{Value: cloneValue(value), LastSeen: noSamplesYet + n})
		return nil
	}

	if combine != nil && combine(t.rows[len(t.rows)-1].Value) {
		t.rows[len(t.rows)-1].LastSeen += n
		return nil
	}

	prevLastSeen := t.lastLastSeen()
	t.rows = append(t.rows, Row{Value: cloneValue(value), LastSeen: prevLastSeen + n})
	return nil
}

// AppendZeroWidthRow appends a new row bound to value that initially
// covers zero samples - it duplicates the previous row's LastSeen (or the
// noSamplesYet sentinel if the table is empty). Used exclusively by the
// chunk-id encoder's generate-then-register two-step protocol (spec §4.D).
func (t *Table) AppendZeroWidthRow(value []uint64) {
	t.rows = append(t.rows, Row{Value: cloneValue(value), LastSeen: t.lastLastSeen()})
}

// Get performs the §4.A __getitem__ lookup: returns the row covering
// sampleIndex, and its row index.
func (t *Table) Get(sampleIndex int64) (Row, int, error) {
	row, err := t.Translate(sampleIndex)
	if err != nil {
		return Row{}, 0, err
	}
	return t.rows[row], row, nil
}

// Overwrite implements §4.A __setitem__: set sample i to carry newValue.
// If every sample in i's row already carries i (a singleton row), the
// row's value is mutated in place. Otherwise the row is split into up to
// three rows (prefix/singleton/suffix), and the result is coalesced with
// neighboring rows whose values now match per combine.
func (t *Table) Overwrite(i int64, newValue []uint64, combine func(a, b []uint64) bool) error {
	row, err := t.Translate(i)
	if err != nil {
		return err
	}

	first := t.rowFirstSample(row)
	last := t.rows[row].LastSeen

	if first == i && last == i {
		t.rows[row].Value = cloneValue(newValue)
		t.coalesceAround(row, combine)
		return nil
	}

	replacement := make([]Row, 0, 3)
	if first < i {
		replacement = append(replacement, Row{Value: cloneValue(t.rows[row].Value), LastSeen: i - 1})
	}
	replacement = append(replacement, Row{Value: cloneValue(newValue), LastSeen: i})
	if i < last {
		replacement = append(replacement, Row{Value: cloneValue(t.rows[row].Value), LastSeen: last})
	}

	t.rows = append(t.rows[:row], append(replacement, t.rows[row+1:]...)...)

	// the singleton sits at row+len(prefix)
	singleton := row
	if first < i {
		singleton++
	}
	t.coalesceAround(singleton, combine)
	return nil
}

// SpliceRow replaces row with the rows in replacement (which must cover
// the same sample range row did) and coalesces the row at replacement
// index pivot with its new neighbors. It is the position-aware sibling
// of Overwrite, used by encoders (byteposenc) whose value payload is
// itself a function of row position and so cannot be split by simply
// cloning the old row's value.
func (t *Table) SpliceRow(row int, replacement []Row, pivot int, combine func(a, b []uint64) bool) {
	tail := append([]Row{}, t.rows[row+1:]...)
	t.rows = append(t.rows[:row], append(append([]Row{}, replacement...), tail...)...)
	t.coalesceAround(row+pivot, combine)
}

// coalesceAround merges row with its left and/or right neighbor whenever
// combine reports their values match, keeping the table in maximally
// coalesced form (spec invariant: no two adjacent rows may combine).
func (t *Table) coalesceAround(row int, combine func(a, b []uint64) bool) {
	if combine == nil {
		return
	}
	if row+1 < len(t.rows) && combine(t.rows[row].Value, t.rows[row+1].Value) {
		t.rows[row].LastSeen = t.rows[row+1].LastSeen
		t.rows = append(t.rows[:row+1], t.rows[row+2:]...)
	}
	if row > 0 && combine(t.rows[row-1].Value, t.rows[row].Value) {
		t.rows[row-1].LastSeen = t.rows[row].LastSeen
		t.rows = append(t.rows[:row], t.rows[row+1:]...)
	}
}

// PopOne implements the base §4.A _pop: decrement the last row's
// LastSeen by one sample, dropping the row entirely if it becomes empty
// (covered zero samples). It returns the value of the row the popped
// sample belonged to, and whether that row was dropped.
func (t *Table) PopOne() (value []uint64, rowDropped bool, err error) {
	if len(t.rows) == 0 {
		return nil, false, fmt.Errorf("rle: cannot pop from an empty table")
	}
	last := len(t.rows) - 1
	value = cloneValue(t.rows[last].Value)
	first := t.rowFirstSample(last)
	if first == t.rows[last].LastSeen {
		t.rows = t.rows[:last]
		return value, true, nil
	}
	t.rows[last].LastSeen--
	return value, false, nil
}

// DropLastRows removes the trailing n rows in their entirety - used by
// the chunk-id encoder to drop every tile row of a popped sample at once.
func (t *Table) DropLastRows(n int) error {
	if n < 0 || n > len(t.rows) {
		return fmt.Errorf("rle: cannot drop %d rows from a table of %d rows", n, len(t.rows))
	}
	t.rows = t.rows[:len(t.rows)-n]
	return nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	rows := make([]Row, len(t.rows))
	for i, r := range t.rows {
		rows[i] = Row{Value: cloneValue(r.Value), LastSeen: r.LastSeen}
	}
	return &Table{Width: t.Width, rows: rows}
}

// Equal reports whether two tables have identical width, row count,
// values and last-seen indices.
func (t *Table) Equal(o *Table) bool {
	if t.Width != o.Width || len(t.rows) != len(o.rows) {
		return false
	}
	for i := range t.rows {
		if t.rows[i].LastSeen != o.rows[i].LastSeen {
			return false
		}
		if len(t.rows[i].Value) != len(o.rows[i].Value) {
			return false
		}
		for j := range t.rows[i].Value {
			if t.rows[i].Value[j] != o.rows[i].Value[j] {
				return false
			}
		}
	}
	return true
}

func cloneValue(v []uint64) []uint64 {
	if v == nil {
		return nil
	}
	out := make([]uint64, len(v))
	copy(out, v)
	return out
}
