package pvwire

import (
	"encoding/binary"

	"github.com/openpva/pva/internal/pvtype"
)

const (
	markerNull    byte = 0xFF
	markerCached  byte = 0xFE
	markerDeclare byte = 0xFD
)

// TypeStore is a per-connection, per-direction decode-side cache: u16 ->
// FieldDesc, populated by 0xFD declarations and resolved by later 0xFE
// references.
type TypeStore struct {
	byID map[uint16]*pvtype.FieldDesc
}

// NewTypeStore returns an empty decode-side type cache.
func NewTypeStore() *TypeStore {
	return &TypeStore{byID: make(map[uint16]*pvtype.FieldDesc)}
}

func (s *TypeStore) declare(id uint16, d *pvtype.FieldDesc) { s.byID[id] = d }

func (s *TypeStore) lookup(id uint16) (*pvtype.FieldDesc, bool) {
	d, ok := s.byID[id]
	return d, ok
}

// OutCache is the matching encode-side cache: it remembers which descriptor
// pointers have already been declared to the peer and at which id, so a
// later encode of the identical (interned) descriptor emits a cheap
// 0xFE reference instead of re-declaring it.
type OutCache struct {
	ids  map[*pvtype.FieldDesc]uint16
	next uint16
}

// NewOutCache returns an empty encode-side type cache.
func NewOutCache() *OutCache {
	return &OutCache{ids: make(map[*pvtype.FieldDesc]uint16)}
}

func (c *OutCache) lookup(d *pvtype.FieldDesc) (uint16, bool) {
	id, ok := c.ids[d]
	return id, ok
}

func (c *OutCache) assign(d *pvtype.FieldDesc) uint16 {
	id := c.next
	c.next++
	c.ids[d] = id
	return id
}

// EncodeType appends d's type description to buf: 0xFF for Null, 0xFE+id
// if already declared on cache, else 0xFD+id+inline and a new cache entry.
func EncodeType(buf []byte, d *pvtype.FieldDesc, cache *OutCache, order binary.ByteOrder) []byte {
	if d == nil || d.Code == pvtype.Null {
		return append(buf, markerNull)
	}
	if id, ok := cache.lookup(d); ok {
		buf = append(buf, markerCached)
		return putU16(buf, id, order)
	}
	id := cache.assign(d)
	buf = append(buf, markerDeclare)
	buf = putU16(buf, id, order)
	return encodeInline(buf, d, cache, order)
}

// encodeInline writes the inline type representation: code byte, then
// Struct/Union member lists or a single array-of-compound element type.
// Nested types recurse through EncodeType so they too can be cached.
func encodeInline(buf []byte, d *pvtype.FieldDesc, cache *OutCache, order binary.ByteOrder) []byte {
	buf = append(buf, byte(d.Code))
	switch d.Code {
	case pvtype.Struct, pvtype.Union:
		buf = PutString(buf, d.ID, order)
		names := d.MemberNames()
		buf = PutSize(buf, uint64(len(names)), order)
		children := memberTypes(d)
		for i, name := range names {
			buf = PutString(buf, name, order)
			buf = EncodeType(buf, children[i], cache, order)
		}
	case pvtype.StructA, pvtype.UnionA:
		buf = EncodeType(buf, d.Members[0], cache, order)
	case pvtype.Any, pvtype.AnyA:
		// no further type information: the element type is dynamic.
	default:
		// plain scalar or scalar array: nothing further.
	}
	return buf
}

// memberTypes returns d's immediate child/alternative descriptors in
// MemberNames() order: Children for Struct, Members for Union.
func memberTypes(d *pvtype.FieldDesc) []*pvtype.FieldDesc {
	if d.Code == pvtype.Union {
		return d.Members
	}
	return d.Children
}

// DecodeType reads one type description from the front of b.
func DecodeType(b []byte, ts *TypeStore, order binary.ByteOrder) (*pvtype.FieldDesc, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrNeedMore
	}
	switch b[0] {
	case markerNull:
		return pvtype.Scalar(pvtype.Null), 1, nil
	case markerCached:
		id, used, err := getU16(b[1:], order)
		if err != nil {
			return nil, 0, err
		}
		d, ok := ts.lookup(id)
		if !ok {
			return nil, 0, ErrUnknownType
		}
		return d, 1 + used, nil
	case markerDeclare:
		id, used, err := getU16(b[1:], order)
		if err != nil {
			return nil, 0, err
		}
		n := 1 + used
		d, inlineUsed, err := decodeInline(b[n:], ts, order)
		if err != nil {
			return nil, 0, err
		}
		ts.declare(id, d)
		return d, n + inlineUsed, nil
	default:
		return decodeInline(b, ts, order)
	}
}

func decodeInline(b []byte, ts *TypeStore, order binary.ByteOrder) (*pvtype.FieldDesc, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrNeedMore
	}
	code := pvtype.Code(b[0])
	n := 1

	switch code {
	case pvtype.Struct, pvtype.Union:
		id, used, err := GetString(b[n:], order)
		if err != nil {
			return nil, 0, err
		}
		n += used
		count, used, err := GetSize(b[n:], order)
		if err != nil {
			return nil, 0, err
		}
		n += used
		fields := make([]pvtype.StructField, 0, count)
		for i := uint64(0); i < count; i++ {
			name, used, err := GetString(b[n:], order)
			if err != nil {
				return nil, 0, err
			}
			n += used
			child, used, err := DecodeType(b[n:], ts, order)
			if err != nil {
				return nil, 0, err
			}
			n += used
			fields = append(fields, pvtype.StructField{Name: name, Child: child})
		}
		if code == pvtype.Struct {
			return pvtype.NewStruct(id, fields), n, nil
		}
		return pvtype.NewUnion(id, fields), n, nil

	case pvtype.StructA, pvtype.UnionA:
		elem, used, err := DecodeType(b[n:], ts, order)
		if err != nil {
			return nil, 0, err
		}
		n += used
		if code == pvtype.StructA {
			return pvtype.NewStructArray(elem), n, nil
		}
		return pvtype.NewUnionArray(elem), n, nil

	case pvtype.Any:
		return pvtype.NewAny(), n, nil
	case pvtype.AnyA:
		return pvtype.NewAnyArray(), n, nil

	default:
		if code.IsArray() {
			return pvtype.ScalarArray(code), n, nil
		}
		return pvtype.Scalar(code), n, nil
	}
}

func putU16(buf []byte, v uint16, order binary.ByteOrder) []byte {
	var tmp [2]byte
	order.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func getU16(b []byte, order binary.ByteOrder) (uint16, int, error) {
	if len(b) < 2 {
		return 0, 0, ErrNeedMore
	}
	return order.Uint16(b[:2]), 2, nil
}
