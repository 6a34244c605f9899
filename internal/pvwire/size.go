// Package pvwire implements the wire codec: per-message endianness, the
// variable-length size prefix, type-description encode/decode with a
// per-connection type cache, full and masked value encode/decode, and the
// message framing used by the session layer.
package pvwire

import "encoding/binary"

// PutSize appends the variable-length size prefix for n in the chosen byte
// order: values under 254 in one byte, 254 followed by a 4-byte count, 255
// followed by an 8-byte count.
func PutSize(buf []byte, n uint64, order binary.ByteOrder) []byte {
	switch {
	case n < 254:
		return append(buf, byte(n))
	case n <= 0xFFFFFFFF:
		buf = append(buf, 254)
		var tmp [4]byte
		order.PutUint32(tmp[:], uint32(n))
		return append(buf, tmp[:]...)
	default:
		buf = append(buf, 255)
		var tmp [8]byte
		order.PutUint64(tmp[:], n)
		return append(buf, tmp[:]...)
	}
}

// GetSize reads a size prefix from the front of b, returning the decoded
// value and the number of bytes consumed. ErrNeedMore if b is too short to
// tell.
func GetSize(b []byte, order binary.ByteOrder) (uint64, int, error) {
	if len(b) < 1 {
		return 0, 0, ErrNeedMore
	}
	switch b[0] {
	case 254:
		if len(b) < 5 {
			return 0, 0, ErrNeedMore
		}
		return uint64(order.Uint32(b[1:5])), 5, nil
	case 255:
		if len(b) < 9 {
			return 0, 0, ErrNeedMore
		}
		return order.Uint64(b[1:9]), 9, nil
	default:
		return uint64(b[0]), 1, nil
	}
}

// PutString appends a varint-size-prefixed UTF-8 string.
func PutString(buf []byte, s string, order binary.ByteOrder) []byte {
	buf = PutSize(buf, uint64(len(s)), order)
	return append(buf, s...)
}

// GetString reads a varint-size-prefixed UTF-8 string from the front of b.
func GetString(b []byte, order binary.ByteOrder) (string, int, error) {
	n, used, err := GetSize(b, order)
	if err != nil {
		return "", 0, err
	}
	if uint64(len(b)-used) < n {
		return "", 0, ErrNeedMore
	}
	s := string(b[used : used+int(n)])
	return s, used + int(n), nil
}
