// Package chunkid implements the §4.D Chunk-Id Encoder: a run-length
// mapping from sample index to one or more 64-bit chunk ids. Its combine
// condition is always false (every chunk id is its own row) and its
// registration protocol is two steps - GenerateChunkID then
// RegisterSamples - grounded directly on
// hub/core/meta/encode/chunk_id.py from the original Python source this
// spec distills.
package chunkid

import (
	"encoding/binary"
	"strconv"

	"github.com/google/uuid"

	"github.com/ashbeekim/tensorstore/rle"
)

// UUIDShiftAmount controls how many of a freshly generated UUID's top
// bits are discarded; the remaining 64-UUIDShiftAmount bits become the
// chunk id (spec §3 "Chunk-id payload", §6 UUID_SHIFT_AMOUNT).
const UUIDShiftAmount = 4

const width = 1

// ChunkIdEncoderError is the typed error surfaced for chunk-id encoder
// misuse (spec §6 "Error kinds surfaced").
type ChunkIdEncoderError struct {
	msg string
}

func (e *ChunkIdEncoderError) Error() string { return e.msg }

func newErr(msg string) error { return &ChunkIdEncoderError{msg: msg} }

// GenerateID produces a new random 64-bit chunk id from a UUIDv4, with
// its top UUIDShiftAmount bits truncated.
func GenerateID() uint64 {
	u := uuid.New()
	hi := binary.BigEndian.Uint64(u[0:8])
	return hi >> UUIDShiftAmount
}

// NameFromID renders id as the lowercase hex storage-key suffix (spec
// §3/§6: "Written hex-lowercase without prefix").
func NameFromID(id uint64) string {
	return strconv.FormatUint(id, 16)
}

// IDFromName parses a chunk's hex name back into its id. Inverse of
// NameFromID.
func IDFromName(name string) (uint64, error) {
	return strconv.ParseUint(name, 16, 64)
}

// Encoder maps sample index -> one or more chunk ids.
type Encoder struct {
	table *rle.Table
}

// New returns an empty Chunk-Id Encoder.
func New() *Encoder {
	return &Encoder{table: rle.New(width)}
}

// NumSamples returns the total number of samples registered so far.
func (e *Encoder) NumSamples() int64 {
	return e.table.NumSamples()
}

// NumChunks returns the number of distinct chunk ids generated, or 0 if
// no samples have been registered yet (matching the Python original's
// num_chunks property, which reports 0 until at least one sample has
// been registered even if a chunk id has already been generated).
func (e *Encoder) NumChunks() int {
	if e.NumSamples() == 0 {
		return 0
	}
	return e.table.NumRows()
}

// GenerateChunkID generates a fresh chunk id and prepares it to receive
// sample registrations (spec §4.D generate_chunk_id). It must be called
// once per chunk created, before RegisterSamples.
func (e *Encoder) GenerateChunkID() uint64 {
	id := GenerateID()
	e.table.AppendZeroWidthRow([]uint64{id})
	return id
}

// RegisterSamples adds n to the last row's last-seen index. n may be
// zero only when at least two chunk ids already exist, signaling that
// the sample being registered is a tile continuation spanning from the
// previous chunk into this one.
//
// The Python original this is grounded on guards "no chunk ids exist"
// with a num_samples==0 check that is also true immediately after the
// very first GenerateChunkID call (before any sample has been
// registered), which would incorrectly reject the very first
// registration. This implementation instead checks the row count
// directly, which is the behavior §4.D's prose describes.
func (e *Encoder) RegisterSamples(n int64) error {
	if n < 0 {
		return newErr("cannot register a negative number of samples")
	}
	if e.table.NumRows() == 0 {
		return newErr("cannot register samples because no chunk ids exist")
	}
	if n == 0 && e.table.NumRows() < 2 {
		return newErr("cannot register 0 samples (a tile continuation) when no prior chunk exists")
	}
	return e.table.RegisterRun(nil, n, func([]uint64) bool { return true })
}

// ChunkIDs returns every chunk id whose row covers global sample index i,
// in storage order. A sample split into tiles resolves to more than one
// id (spec §4.D __getitem__).
func (e *Encoder) ChunkIDs(i int64) ([]uint64, error) {
	row, rowIdx, err := e.table.Get(i)
	if err != nil {
		return nil, err
	}
	ids := []uint64{row.Value[0]}
	rows := e.table.Rows()
	for idx := rowIdx + 1; idx < len(rows); idx++ {
		if rows[idx].LastSeen == row.LastSeen {
			ids = append(ids, rows[idx].Value[0])
		} else {
			break
		}
	}
	return ids, nil
}

// TranslateIndexRelativeToChunks converts a global sample index into an
// index relative to the (first) chunk the sample belongs to.
func (e *Encoder) TranslateIndexRelativeToChunks(i int64) (int64, error) {
	_, rowIdx, err := e.table.Get(i)
	if err != nil {
		return 0, err
	}
	if rowIdx == 0 {
		return i, nil
	}
	prevLastSeen := e.table.Rows()[rowIdx-1].LastSeen
	return i - (prevLastSeen + 1), nil
}

// Pop removes the registration of the last sample, returning the ids of
// any chunks that must now be deleted from storage (spec §4.D _pop): all
// tile ids if the last sample was tiled, the sole id if its chunk now
// holds zero samples, or no ids if the chunk still holds other samples.
func (e *Encoder) Pop() ([]uint64, error) {
	n := e.NumSamples()
	if n == 0 {
		return nil, newErr("cannot pop from an encoder with no samples")
	}
	ids, err := e.ChunkIDs(n - 1)
	if err != nil {
		return nil, err
	}
	if len(ids) > 1 {
		if err := e.table.DropLastRows(len(ids)); err != nil {
			return nil, err
		}
		return ids, nil
	}

	last := e.table.NumRows() - 1
	if e.table.RowSampleCount(last) == 1 {
		if err := e.table.DropLastRows(1); err != nil {
			return nil, err
		}
		return ids, nil
	}

	if _, _, err := e.table.PopOne(); err != nil {
		return nil, err
	}
	return nil, nil
}

// NameForChunk returns the hex storage-key name of the chunk id that
// holds sample i's first (or only) piece.
func (e *Encoder) NameForChunk(i int64) (string, error) {
	ids, err := e.ChunkIDs(i)
	if err != nil {
		return "", err
	}
	return NameFromID(ids[0]), nil
}

// Table exposes the underlying run-length table for serialization.
func (e *Encoder) Table() *rle.Table {
	return e.table
}

// FromTable rebuilds an Encoder around an already-decoded table.
func FromTable(t *rle.Table) *Encoder {
	return &Encoder{table: t}
}
