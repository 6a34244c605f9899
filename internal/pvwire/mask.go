package pvwire

import (
	"encoding/binary"

	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
)

// BitMask is a little-endian bit vector over flat storage indices 0..n-1,
// used to describe which cells a masked value update touches.
type BitMask struct {
	n    int
	bits []byte
}

// NewBitMask allocates a mask sized for n flat cells, all clear.
func NewBitMask(n int) *BitMask {
	return &BitMask{n: n, bits: make([]byte, (n+7)/8)}
}

// Set marks bit i.
func (m *BitMask) Set(i int) {
	if i < 0 || i >= m.n {
		return
	}
	m.bits[i/8] |= 1 << uint(i%8)
}

// Get reports bit i.
func (m *BitMask) Get(i int) bool {
	if i < 0 || i >= m.n {
		return false
	}
	return m.bits[i/8]&(1<<uint(i%8)) != 0
}

// Len returns the bit count the mask was sized for.
func (m *BitMask) Len() int { return m.n }

// EncodeBitMask appends the mask as a varint bit count followed by its
// little-endian byte vector.
func EncodeBitMask(buf []byte, m *BitMask, order binary.ByteOrder) []byte {
	buf = PutSize(buf, uint64(m.n), order)
	return append(buf, m.bits...)
}

// DecodeBitMask reads a mask previously written by EncodeBitMask.
func DecodeBitMask(b []byte, order binary.ByteOrder) (*BitMask, int, error) {
	n, used, err := GetSize(b, order)
	if err != nil {
		return nil, 0, err
	}
	nbytes := (int(n) + 7) / 8
	if len(b)-used < nbytes {
		return nil, 0, ErrNeedMore
	}
	m := &BitMask{n: int(n), bits: make([]byte, nbytes)}
	copy(m.bits, b[used:used+nbytes])
	return m, used + nbytes, nil
}

// MaskFromValid builds a BitMask over top's flat cells from their current
// valid bits, the mask a masked-encode of a fully-marked value would send.
func MaskFromValid(top *pvstore.StructTop) *BitMask {
	m := NewBitMask(len(top.Cells))
	for i, c := range top.Cells {
		if c.Valid {
			m.Set(i)
		}
	}
	return m
}

// EncodeMaskedValue writes a BitMask over top's cells, then each marked
// cell's value, depth-first in flat order. Struct anchor cells (which
// carry no payload) are skipped even if marked.
func EncodeMaskedValue(buf []byte, top *pvstore.StructTop, cache *OutCache, order binary.ByteOrder) []byte {
	mask := MaskFromValid(top)
	buf = EncodeBitMask(buf, mask, order)
	for i, d := range top.Flat {
		if d.Code == pvtype.Struct || !mask.Get(i) {
			continue
		}
		buf = encodeMaskedCell(buf, top, i, cache, order)
	}
	return buf
}

func encodeMaskedCell(buf []byte, top *pvstore.StructTop, index int, cache *OutCache, order binary.ByteOrder) []byte {
	d := top.Flat[index]
	c := &top.Cells[index]
	switch {
	case d.Code == pvtype.Union:
		return encodeUnionCell(buf, d, c, cache, order)
	case d.Code == pvtype.Any:
		return encodeAnyCell(buf, c, cache, order)
	case d.Code.IsArray():
		return encodeArrayCell(buf, d, c, cache, order)
	default:
		return encodeScalarCell(buf, d.Code, c, order)
	}
}

// DecodeMaskedValue reads a BitMask (verifying it fits top's cell count)
// and then each marked cell's value in flat order, setting Valid on
// arrival. Cells absent from the mask are left untouched.
func DecodeMaskedValue(b []byte, top *pvstore.StructTop, ts *TypeStore, order binary.ByteOrder) (int, error) {
	mask, n, err := DecodeBitMask(b, order)
	if err != nil {
		return 0, err
	}
	if mask.Len() > len(top.Cells) {
		return 0, ErrFatalProtocol
	}
	for i := 0; i < mask.Len(); i++ {
		if !mask.Get(i) {
			continue
		}
		d := top.Flat[i]
		if d.Code == pvtype.Struct {
			continue
		}
		used, err := decodeMaskedCell(b[n:], top, i, ts, order)
		if err != nil {
			return 0, err
		}
		n += used
		top.Cells[i].Valid = true
	}
	return n, nil
}

func decodeMaskedCell(b []byte, top *pvstore.StructTop, index int, ts *TypeStore, order binary.ByteOrder) (int, error) {
	d := top.Flat[index]
	c := &top.Cells[index]
	switch {
	case d.Code == pvtype.Union:
		return decodeUnionCell(b, d, c, ts, order)
	case d.Code == pvtype.Any:
		return decodeAnyCell(b, c, ts, order)
	case d.Code.IsArray():
		return decodeArrayCell(b, d, c, ts, order)
	default:
		return decodeScalarCell(b, d.Code, c, order)
	}
}
