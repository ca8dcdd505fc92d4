// Package serialize implements the §4.G wire framing for chunk blobs and
// chunk-id blobs, plus infer_chunk_num_bytes. All framing is big-endian
// except row-table payloads, which spec §4.G and §6 specify as
// little-endian ("ENCODING_DTYPE" u32 for shape/byte-position tables,
// u64 for the chunk-id table).
package serialize

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ashbeekim/tensorstore/rle"
)

// Version is the current wire format version string written into every
// blob's version header.
const Version = "1.0"

func encodeVersion(buf *bytes.Buffer, version string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(version)))
	buf.Write(lenBuf[:])
	buf.WriteString(version)
}

func decodeVersion(data []byte) (version string, rest []byte, err error) {
	if len(data) < 4 {
		return "", nil, errors.New("serialize: blob too short to contain a version length")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return "", nil, errors.New("serialize: blob too short to contain its version string")
	}
	return string(data[:n]), data[n:], nil
}

// CheckVersion refuses a blob from a newer engine and signals that an
// older blob needs a forward-compatibility upgrade (spec §7 "Version
// errors"). ok is true when v can be read as-is.
func CheckVersion(v string) (ok bool, needsUpgrade bool) {
	if v == Version {
		return true, false
	}
	if v < Version {
		return true, true
	}
	return false, false
}

// encodeRowTable serializes a shape or byte-positions table: row-count
// and col-count as big-endian u4, then every row's value columns
// followed by its last-seen index, all as little-endian u4 (spec §4.G,
// §6 "Table column width must be inferred from encoder type").
func encodeRowTable(t *rle.Table) []byte {
	var buf bytes.Buffer
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t.NumRows()))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(t.Width+1))
	buf.Write(hdr[:])

	var cell [4]byte
	for _, row := range t.Rows() {
		for _, v := range row.Value {
			binary.LittleEndian.PutUint32(cell[:], uint32(v))
			buf.Write(cell[:])
		}
		binary.LittleEndian.PutUint32(cell[:], uint32(row.LastSeen))
		buf.Write(cell[:])
	}
	return buf.Bytes()
}

// decodeRowTable is the inverse of encodeRowTable; it returns the table
// and the number of bytes consumed from data.
func decodeRowTable(data []byte) (*rle.Table, int, error) {
	if len(data) < 8 {
		return nil, 0, errors.New("serialize: row table header truncated")
	}
	numRows := int(binary.BigEndian.Uint32(data[0:4]))
	colCount := int(binary.BigEndian.Uint32(data[4:8]))
	if colCount < 1 {
		return nil, 0, fmt.Errorf("serialize: row table col-count %d is invalid", colCount)
	}
	width := colCount - 1
	consumed := 8
	rows := make([]rle.Row, numRows)
	for i := 0; i < numRows; i++ {
		row := rle.Row{Value: make([]uint64, width)}
		for c := 0; c < width; c++ {
			if len(data) < consumed+4 {
				return nil, 0, errors.New("serialize: row table truncated mid-row")
			}
			row.Value[c] = uint64(binary.LittleEndian.Uint32(data[consumed : consumed+4]))
			consumed += 4
		}
		if len(data) < consumed+4 {
			return nil, 0, errors.New("serialize: row table truncated mid-row")
		}
		row.LastSeen = int64(binary.LittleEndian.Uint32(data[consumed : consumed+4]))
		consumed += 4
		rows[i] = row
	}
	return rle.FromRows(width, rows), consumed, nil
}

// EncodeChunkBlob implements §4.G's chunk blob framing:
// [len(version):u4][version][shape-table][bytepos-table][data...].
func EncodeChunkBlob(version string, shapeTable, byteposTable *rle.Table, data []byte) []byte {
	var buf bytes.Buffer
	encodeVersion(&buf, version)
	buf.Write(encodeRowTable(shapeTable))
	buf.Write(encodeRowTable(byteposTable))
	buf.Write(data)
	return buf.Bytes()
}

// DecodeChunkBlob is the inverse of EncodeChunkBlob. data is the
// remainder of the blob after the two tables (length-implicit per
// spec §4.G).
func DecodeChunkBlob(blob []byte) (version string, shapeTable, byteposTable *rle.Table, data []byte, err error) {
	version, rest, err := decodeVersion(blob)
	if err != nil {
		return "", nil, nil, nil, errors.Wrap(err, "serialize: decoding chunk blob")
	}
	shapeTable, n, err := decodeRowTable(rest)
	if err != nil {
		return "", nil, nil, nil, errors.Wrap(err, "serialize: decoding chunk blob shape table")
	}
	rest = rest[n:]
	byteposTable, n, err = decodeRowTable(rest)
	if err != nil {
		return "", nil, nil, nil, errors.Wrap(err, "serialize: decoding chunk blob bytepos table")
	}
	rest = rest[n:]
	return version, shapeTable, byteposTable, rest, nil
}

// EncodeChunkIDBlob implements §4.G's chunk-id blob framing:
// [len(version):u4][version][row-count:u4][rows as uint64 little-endian].
// Each row is its chunk id followed by its last-seen index.
func EncodeChunkIDBlob(version string, t *rle.Table) []byte {
	var buf bytes.Buffer
	encodeVersion(&buf, version)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(t.NumRows()))
	buf.Write(hdr[:])

	var cell [8]byte
	for _, row := range t.Rows() {
		binary.LittleEndian.PutUint64(cell[:], row.Value[0])
		buf.Write(cell[:])
		binary.LittleEndian.PutUint64(cell[:], uint64(row.LastSeen))
		buf.Write(cell[:])
	}
	return buf.Bytes()
}

// DecodeChunkIDBlob is the inverse of EncodeChunkIDBlob.
func DecodeChunkIDBlob(blob []byte) (version string, t *rle.Table, err error) {
	version, rest, err := decodeVersion(blob)
	if err != nil {
		return "", nil, errors.Wrap(err, "serialize: decoding chunk-id blob")
	}
	if len(rest) < 4 {
		return "", nil, errors.New("serialize: chunk-id blob truncated before row count")
	}
	numRows := int(binary.BigEndian.Uint32(rest[0:4]))
	rest = rest[4:]

	rows := make([]rle.Row, numRows)
	for i := 0; i < numRows; i++ {
		if len(rest) < 16 {
			return "", nil, errors.New("serialize: chunk-id blob truncated mid-row")
		}
		id := binary.LittleEndian.Uint64(rest[0:8])
		lastSeen := int64(binary.LittleEndian.Uint64(rest[8:16]))
		rows[i] = rle.Row{Value: []uint64{id}, LastSeen: lastSeen}
		rest = rest[16:]
	}
	return version, rle.FromRows(1, rows), nil
}

// InferChunkNumBytes computes the exact serialized size of a chunk blob
// from its components without building the buffer (spec §4.G
// infer_chunk_num_bytes).
func InferChunkNumBytes(version string, shapeTable, byteposTable *rle.Table, lenData int) int {
	return 4 + len(version) +
		rowTableNumBytes(shapeTable) +
		rowTableNumBytes(byteposTable) +
		lenData
}

func rowTableNumBytes(t *rle.Table) int {
	return 8 + t.NumRows()*(t.Width+1)*4
}
