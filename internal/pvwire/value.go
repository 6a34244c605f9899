package pvwire

import (
	"encoding/binary"
	"math"

	"github.com/openpva/pva/internal/pvarray"
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
)

// EncodeFullValue writes every cell of top depth-first over its
// descriptor's wire order: scalars in their natural fixed-width form,
// strings varint-prefixed, Union/Any cells a recursive selector plus
// chosen value, and StructA/UnionA/AnyA a varint count then each element.
// cache backs any Any cell's embedded dynamic type description.
func EncodeFullValue(buf []byte, top *pvstore.StructTop, cache *OutCache, order binary.ByteOrder) []byte {
	return encodeFullAt(buf, top, 0, cache, order)
}

func encodeFullAt(buf []byte, top *pvstore.StructTop, index int, cache *OutCache, order binary.ByteOrder) []byte {
	d := top.Flat[index]
	c := &top.Cells[index]

	switch {
	case d.Code == pvtype.Struct:
		off := index + 1
		for _, child := range d.Children {
			buf = encodeFullAt(buf, top, off, cache, order)
			off += child.Size()
		}
		return buf
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

// DecodeFullValue reads into an already-allocated top (its descriptor
// having been established by the type exchange that precedes every value
// on the wire). ts resolves any Any cell's embedded dynamic type.
func DecodeFullValue(b []byte, top *pvstore.StructTop, ts *TypeStore, order binary.ByteOrder) (int, error) {
	return decodeFullAt(b, top, 0, ts, order)
}

func decodeFullAt(b []byte, top *pvstore.StructTop, index int, ts *TypeStore, order binary.ByteOrder) (int, error) {
	d := top.Flat[index]
	c := &top.Cells[index]
	n := 0

	switch {
	case d.Code == pvtype.Struct:
		off := index + 1
		for _, child := range d.Children {
			used, err := decodeFullAt(b[n:], top, off, ts, order)
			if err != nil {
				return 0, err
			}
			n += used
			off += child.Size()
		}
		return n, nil
	case d.Code == pvtype.Union:
		used, err := decodeUnionCell(b, d, c, ts, order)
		if err != nil {
			return 0, err
		}
		c.Valid = true
		return used, nil
	case d.Code == pvtype.Any:
		used, err := decodeAnyCell(b, c, ts, order)
		if err != nil {
			return 0, err
		}
		c.Valid = true
		return used, nil
	case d.Code.IsArray():
		used, err := decodeArrayCell(b, d, c, ts, order)
		if err != nil {
			return 0, err
		}
		c.Valid = true
		return used, nil
	default:
		used, err := decodeScalarCell(b, d.Code, c, order)
		if err != nil {
			return 0, err
		}
		c.Valid = true
		return used, nil
	}
}

func encodeScalarCell(buf []byte, code pvtype.Code, c *pvstore.FieldStorage, order binary.ByteOrder) []byte {
	switch code {
	case pvtype.Int8:
		return append(buf, byte(c.I))
	case pvtype.UInt8:
		return append(buf, byte(c.U))
	case pvtype.Int16:
		var tmp [2]byte
		order.PutUint16(tmp[:], uint16(c.I))
		return append(buf, tmp[:]...)
	case pvtype.UInt16:
		var tmp [2]byte
		order.PutUint16(tmp[:], uint16(c.U))
		return append(buf, tmp[:]...)
	case pvtype.Int32:
		var tmp [4]byte
		order.PutUint32(tmp[:], uint32(c.I))
		return append(buf, tmp[:]...)
	case pvtype.UInt32:
		var tmp [4]byte
		order.PutUint32(tmp[:], uint32(c.U))
		return append(buf, tmp[:]...)
	case pvtype.Int64:
		var tmp [8]byte
		order.PutUint64(tmp[:], uint64(c.I))
		return append(buf, tmp[:]...)
	case pvtype.UInt64:
		var tmp [8]byte
		order.PutUint64(tmp[:], c.U)
		return append(buf, tmp[:]...)
	case pvtype.Bool:
		if c.B {
			return append(buf, 1)
		}
		return append(buf, 0)
	case pvtype.Float32:
		var tmp [4]byte
		order.PutUint32(tmp[:], math.Float32bits(float32(c.R)))
		return append(buf, tmp[:]...)
	case pvtype.Float64:
		var tmp [8]byte
		order.PutUint64(tmp[:], math.Float64bits(c.R))
		return append(buf, tmp[:]...)
	case pvtype.String:
		return PutString(buf, c.S, order)
	default:
		return buf
	}
}

func decodeScalarCell(b []byte, code pvtype.Code, c *pvstore.FieldStorage, order binary.ByteOrder) (int, error) {
	need := func(n int) error {
		if len(b) < n {
			return ErrNeedMore
		}
		return nil
	}
	switch code {
	case pvtype.Int8:
		if err := need(1); err != nil {
			return 0, err
		}
		c.I = int64(int8(b[0]))
		return 1, nil
	case pvtype.UInt8:
		if err := need(1); err != nil {
			return 0, err
		}
		c.U = uint64(b[0])
		return 1, nil
	case pvtype.Int16:
		if err := need(2); err != nil {
			return 0, err
		}
		c.I = int64(int16(order.Uint16(b)))
		return 2, nil
	case pvtype.UInt16:
		if err := need(2); err != nil {
			return 0, err
		}
		c.U = uint64(order.Uint16(b))
		return 2, nil
	case pvtype.Int32:
		if err := need(4); err != nil {
			return 0, err
		}
		c.I = int64(int32(order.Uint32(b)))
		return 4, nil
	case pvtype.UInt32:
		if err := need(4); err != nil {
			return 0, err
		}
		c.U = uint64(order.Uint32(b))
		return 4, nil
	case pvtype.Int64:
		if err := need(8); err != nil {
			return 0, err
		}
		c.I = int64(order.Uint64(b))
		return 8, nil
	case pvtype.UInt64:
		if err := need(8); err != nil {
			return 0, err
		}
		c.U = order.Uint64(b)
		return 8, nil
	case pvtype.Bool:
		if err := need(1); err != nil {
			return 0, err
		}
		c.B = b[0] != 0
		return 1, nil
	case pvtype.Float32:
		if err := need(4); err != nil {
			return 0, err
		}
		c.R = float64(math.Float32frombits(order.Uint32(b)))
		return 4, nil
	case pvtype.Float64:
		if err := need(8); err != nil {
			return 0, err
		}
		c.R = math.Float64frombits(order.Uint64(b))
		return 8, nil
	case pvtype.String:
		s, used, err := GetString(b, order)
		if err != nil {
			return 0, err
		}
		c.S = s
		return used, nil
	default:
		return 0, nil
	}
}

// unselected is the single-byte sentinel for "no Union selection" / "Null
// Any". It aliases markerNull: both mean "nothing typed is present here".
const unselected = markerNull

func encodeUnionCell(buf []byte, d *pvtype.FieldDesc, c *pvstore.FieldStorage, cache *OutCache, order binary.ByteOrder) []byte {
	if c.Selected < 0 || c.Nested == nil {
		return append(buf, unselected)
	}
	buf = PutSize(buf, uint64(c.Selected), order)
	return encodeFullAt(buf, c.Nested, 0, cache, order)
}

func decodeUnionCell(b []byte, d *pvtype.FieldDesc, c *pvstore.FieldStorage, ts *TypeStore, order binary.ByteOrder) (int, error) {
	if len(b) < 1 {
		return 0, ErrNeedMore
	}
	if b[0] == unselected {
		c.Selected = -1
		c.Nested = nil
		return 1, nil
	}
	idx, used, err := GetSize(b, order)
	if err != nil {
		return 0, err
	}
	if int(idx) >= len(d.Members) {
		return 0, ErrFatalProtocol
	}
	nested := pvstore.NewStructTop(d.Members[idx])
	consumed, err := decodeFullAt(b[used:], nested, 0, ts, order)
	if err != nil {
		return 0, err
	}
	c.Selected = int(idx)
	c.Nested = nested
	return used + consumed, nil
}

func encodeAnyCell(buf []byte, c *pvstore.FieldStorage, cache *OutCache, order binary.ByteOrder) []byte {
	if c.NestedDesc == nil || c.Nested == nil {
		return EncodeType(buf, nil, cache, order)
	}
	buf = EncodeType(buf, c.NestedDesc, cache, order)
	return encodeFullAt(buf, c.Nested, 0, cache, order)
}

func decodeAnyCell(b []byte, c *pvstore.FieldStorage, ts *TypeStore, order binary.ByteOrder) (int, error) {
	d, used, err := DecodeType(b, ts, order)
	if err != nil {
		return 0, err
	}
	if d == nil || d.Code == pvtype.Null {
		c.NestedDesc = nil
		c.Nested = nil
		return used, nil
	}
	nested := pvstore.NewStructTop(d)
	consumed, err := decodeFullAt(b[used:], nested, 0, ts, order)
	if err != nil {
		return 0, err
	}
	c.NestedDesc = d
	c.Nested = nested
	return used + consumed, nil
}

func encodeArrayCell(buf []byte, d *pvtype.FieldDesc, c *pvstore.FieldStorage, cache *OutCache, order binary.ByteOrder) []byte {
	if c.Arr == nil {
		return PutSize(buf, 0, order)
	}
	buf = PutSize(buf, uint64(c.Arr.Len()), order)
	elemCode, _ := d.Code.ElementCode()

	switch elemCode {
	case pvtype.String:
		for _, s := range c.Arr.Strings() {
			buf = PutString(buf, s, order)
		}
	case pvtype.Struct, pvtype.Union, pvtype.Any:
		for _, ve := range c.Arr.Values() {
			top := ve.(*pvstore.ArrayElemTop).Top
			if elemCode == pvtype.Any {
				buf = encodeAnyCell(buf, &pvstore.FieldStorage{NestedDesc: top.Desc, Nested: top}, cache, order)
			} else {
				buf = encodeFullAt(buf, top, 0, cache, order)
			}
		}
	default:
		buf = encodeScalarSlice(buf, elemCode, c.Arr, order)
	}
	return buf
}

func decodeArrayCell(b []byte, d *pvtype.FieldDesc, c *pvstore.FieldStorage, ts *TypeStore, order binary.ByteOrder) (int, error) {
	count, n, err := GetSize(b, order)
	if err != nil {
		return 0, err
	}
	elemCode, _ := d.Code.ElementCode()

	switch elemCode {
	case pvtype.String:
		out := make([]string, 0, count)
		for i := uint64(0); i < count; i++ {
			s, used, err := GetString(b[n:], order)
			if err != nil {
				return 0, err
			}
			n += used
			out = append(out, s)
		}
		c.Arr = pvarray.NewStrings(out)

	case pvtype.Struct, pvtype.Union, pvtype.Any:
		elemDesc := elementDesc(d, elemCode)
		out := make([]pvarray.ValueElem, 0, count)
		for i := uint64(0); i < count; i++ {
			if elemCode == pvtype.Any {
				cell := pvstore.FieldStorage{Selected: -1}
				used, err := decodeAnyCell(b[n:], &cell, ts, order)
				if err != nil {
					return 0, err
				}
				n += used
				out = append(out, &pvstore.ArrayElemTop{Top: cell.Nested})
			} else {
				top := pvstore.NewStructTop(elemDesc)
				used, err := decodeFullAt(b[n:], top, 0, ts, order)
				if err != nil {
					return 0, err
				}
				n += used
				out = append(out, &pvstore.ArrayElemTop{Top: top})
			}
		}
		c.Arr = pvarray.NewValues(out)

	default:
		arr, used, err := decodeScalarSlice(b[n:], elemCode, count, order)
		if err != nil {
			return 0, err
		}
		n += used
		c.Arr = arr
	}
	return n, nil
}

// elementDesc returns the element type for a StructA/UnionA cell (always
// Members[0]); AnyA has no static element type, so callers never need it.
func elementDesc(d *pvtype.FieldDesc, elemCode pvtype.Code) *pvtype.FieldDesc {
	if elemCode == pvtype.Any {
		return nil
	}
	return d.Members[0]
}

func elemWidth(code pvtype.Code) int {
	switch code {
	case pvtype.Int8, pvtype.UInt8, pvtype.Bool:
		return 1
	case pvtype.Int16, pvtype.UInt16:
		return 2
	case pvtype.Int32, pvtype.UInt32, pvtype.Float32:
		return 4
	case pvtype.Int64, pvtype.UInt64, pvtype.Float64:
		return 8
	default:
		return 0
	}
}

// encodeScalarSlice appends the array's packed bytes verbatim: pvarray
// stores fixed-width scalar elements pre-packed in the byte order they
// were built or decoded with, matching the order the caller passes here.
func encodeScalarSlice(buf []byte, code pvtype.Code, arr *pvarray.ErasedArray, order binary.ByteOrder) []byte {
	if elemWidth(code) == 0 {
		return buf
	}
	return append(buf, arr.Bytes()...)
}

func decodeScalarSlice(b []byte, code pvtype.Code, count uint64, order binary.ByteOrder) (*pvarray.ErasedArray, int, error) {
	w := elemWidth(code)
	need := int(count) * w
	if len(b) < need {
		return nil, 0, ErrNeedMore
	}
	data := make([]byte, need)
	copy(data, b[:need])
	return pvarray.NewScalar(code, w, data), need, nil
}
