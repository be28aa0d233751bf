// Package keycodec implements the binary key grammar of spec.md §6.1:
// length-prefixed big-endian integers (lbeint), NUL-terminated ASCII
// strings, and the five subkey kinds (dskey, ikey, headkey, vkey,
// uskey). Keys sort lexicographically, which is what gives internal/
// kvstore's range scans their insertion-order and per-id semantics.
package keycodec

import (
	"encoding/binary"
	"errors"
)

const (
	subkeyData = 0x01
	subkeyI    = 0x02
	subkeyHead = 0x03
	subkeyV    = 0x04
	subkeyUser = 0x05
)

var (
	// ErrNameTooLong rejects tree names over the §3 254-byte bound.
	ErrNameTooLong = errors.New("tangle: name exceeds 254 bytes")
	// ErrStringHasNUL rejects strings with an embedded NUL byte.
	ErrStringHasNUL = errors.New("tangle: string contains NUL byte")
	// ErrIntTooLarge rejects integers whose big-endian encoding would
	// need more than 254 bytes.
	ErrIntTooLarge = errors.New("tangle: integer too large to encode")
	// ErrMalformedKey is returned by the decoders on truncated input.
	ErrMalformedKey = errors.New("tangle: malformed key")
)

// encodeString appends the length-prefixed (length includes the
// trailing NUL), NUL-terminated ASCII string encoding of s.
func encodeString(buf []byte, s string) ([]byte, error) {
	if len(s)+1 > 254 {
		return nil, ErrNameTooLong
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return nil, ErrStringHasNUL
		}
	}
	buf = append(buf, byte(len(s)+1))
	buf = append(buf, s...)
	buf = append(buf, 0)
	return buf, nil
}

// decodeString reads a length-prefixed NUL-terminated string starting at
// buf[0], returning the string and the remaining bytes.
func decodeString(buf []byte) (string, []byte, error) {
	if len(buf) < 1 {
		return "", nil, ErrMalformedKey
	}
	n := int(buf[0])
	if n < 1 || len(buf) < 1+n {
		return "", nil, ErrMalformedKey
	}
	body := buf[1:n] // excludes the length byte and trailing NUL
	if buf[n] != 0 {
		return "", nil, ErrMalformedKey
	}
	return string(body), buf[n+1:], nil
}

// encodeLBEInt appends the lbeint encoding of n: a single length byte
// 1..254 followed by the minimal big-endian bytes of n.
func encodeLBEInt(buf []byte, n uint64) ([]byte, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	trimmed := b[i:]
	if len(trimmed) > 254 {
		return nil, ErrIntTooLarge
	}
	buf = append(buf, byte(len(trimmed)))
	buf = append(buf, trimmed...)
	return buf, nil
}

// decodeLBEInt reads an lbeint starting at buf[0].
func decodeLBEInt(buf []byte) (uint64, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, ErrMalformedKey
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return 0, nil, ErrMalformedKey
	}
	b := make([]byte, 8)
	copy(b[8-n:], buf[1:1+n])
	return binary.BigEndian.Uint64(b), buf[1+n:], nil
}

// encodeBytes appends the lbeint encoding of raw bytes (used for
// versions and document ids, which are not length-in-the-usual sense
// but share the length-prefixed byte-string shape).
func encodeBytes(buf []byte, b []byte) ([]byte, error) {
	if len(b) > 254 {
		return nil, ErrIntTooLarge
	}
	buf = append(buf, byte(len(b)))
	buf = append(buf, b...)
	return buf, nil
}

func decodeBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, ErrMalformedKey
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return nil, nil, ErrMalformedKey
	}
	return buf[1 : 1+n], buf[1+n:], nil
}

// EncodeDSKey builds the data-store key: name 0x01 id ival.
func EncodeDSKey(name string, id []byte, i uint64) ([]byte, error) {
	buf, err := encodeString(nil, name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, subkeyData)
	buf, err = encodeBytes(buf, id)
	if err != nil {
		return nil, err
	}
	return encodeLBEInt(buf, i)
}

// EncodeIKey builds the insertion-order index key: name 0x02 ival.
func EncodeIKey(name string, i uint64) ([]byte, error) {
	buf, err := encodeString(nil, name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, subkeyI)
	return encodeLBEInt(buf, i)
}

// EncodeHeadKey builds the head-index key: name 0x03 id version.
func EncodeHeadKey(name string, id, version []byte) ([]byte, error) {
	buf, err := encodeString(nil, name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, subkeyHead)
	buf, err = encodeBytes(buf, id)
	if err != nil {
		return nil, err
	}
	return encodeBytes(buf, version)
}

// EncodeHeadPrefix builds the name 0x03 id prefix used to scan all heads
// of one document id.
func EncodeHeadPrefix(name string, id []byte) ([]byte, error) {
	buf, err := encodeString(nil, name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, subkeyHead)
	return encodeBytes(buf, id)
}

// EncodeVKey builds the version-index key: name 0x04 version.
func EncodeVKey(name string, version []byte) ([]byte, error) {
	buf, err := encodeString(nil, name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, subkeyV)
	return encodeBytes(buf, version)
}

// EncodeUSKey builds the user-store key: name 0x05 string.
func EncodeUSKey(name string, userKey string) ([]byte, error) {
	buf, err := encodeString(nil, name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, subkeyUser)
	return encodeString(buf, userKey)
}

// IKeyPrefix builds the name 0x02 prefix used to scan a tree's full
// insertion order.
func IKeyPrefix(name string) ([]byte, error) {
	buf, err := encodeString(nil, name)
	if err != nil {
		return nil, err
	}
	return append(buf, subkeyI), nil
}

// DecodeHeadKey splits a headkey back into id and version, e.g. to
// report which document a scanned head entry belongs to.
func DecodeHeadKey(name string, key []byte) (id, version []byte, err error) {
	prefix, err := EncodeHeadPrefixName(name)
	if err != nil {
		return nil, nil, err
	}
	if len(key) < len(prefix) {
		return nil, nil, ErrMalformedKey
	}
	rest := key[len(prefix):]
	id, rest, err = decodeBytes(rest)
	if err != nil {
		return nil, nil, err
	}
	version, _, err = decodeBytes(rest)
	if err != nil {
		return nil, nil, err
	}
	return id, version, nil
}

// EncodeHeadPrefixName builds just "name 0x03" without an id, the prefix
// shared by every head key of a tree.
func EncodeHeadPrefixName(name string) ([]byte, error) {
	buf, err := encodeString(nil, name)
	if err != nil {
		return nil, err
	}
	return append(buf, subkeyHead), nil
}

const headOptsConflict = 0x01

// EncodeHeadValue builds the headkey value: an opts byte (bit 0x01 =
// conflict) followed by the lbeint insertion index.
func EncodeHeadValue(conflict bool, i uint64) ([]byte, error) {
	var opts byte
	if conflict {
		opts |= headOptsConflict
	}
	buf := []byte{opts}
	return encodeLBEInt(buf, i)
}

// DecodeHeadValue reverses EncodeHeadValue.
func DecodeHeadValue(val []byte) (conflict bool, i uint64, err error) {
	if len(val) < 1 {
		return false, 0, ErrMalformedKey
	}
	conflict = val[0]&headOptsConflict != 0
	i, _, err = decodeLBEInt(val[1:])
	return conflict, i, err
}

// DecodeIKey extracts the insertion index encoded in an ikey.
func DecodeIKey(name string, key []byte) (uint64, error) {
	prefix, err := IKeyPrefix(name)
	if err != nil {
		return 0, err
	}
	if len(key) < len(prefix) {
		return 0, ErrMalformedKey
	}
	i, _, err := decodeLBEInt(key[len(prefix):])
	return i, err
}
