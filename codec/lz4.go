package codec

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// lz4ChunkCodec implements the whole-buffer LZ4 chunk compression named
// in spec §4.F.
type lz4ChunkCodec struct{}

func (lz4ChunkCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4ChunkCodec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}
