package kvstore

import (
	"bytes"

	"github.com/ulikunitz/xz/lzma"
)

// compressThreshold is the value size, in bytes, at or above which dskey
// values get LZMA-compressed before they hit badger.
const compressThreshold = 512

// CompressValue LZMA-compresses data when it is worth the CPU, and
// otherwise returns it unchanged; CompressValue/DecompressValue record which
// happened with a one-byte tag so decompression is unconditional at read
// time.
func CompressValue(data []byte) ([]byte, error) {
	if len(data) < compressThreshold {
		return append([]byte{0}, data...), nil
	}

	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return append([]byte{1}, buf.Bytes()...), nil
}

// DecompressValue reverses CompressValue.
func DecompressValue(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	tag, body := data[0], data[1:]
	if tag == 0 {
		return append([]byte(nil), body...), nil
	}

	r, err := lzma.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
