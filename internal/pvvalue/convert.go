package pvvalue

import (
	"strconv"

	"github.com/openpva/pva/internal/pvarray"
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
)

// AsInt64 converts the cell's current value to an int64, following the
// scalar conversion matrix: Integer/UInteger truncate-or-widen, Real
// truncates toward zero, Bool is 0/1, String is parsed, and a Union/Any
// cell delegates to whatever it currently holds.
func (v Value) AsInt64() (int64, error) {
	c, ok := v.leaf()
	if !ok {
		return 0, ErrNoField
	}
	switch c.Type {
	case pvstore.StoreInteger:
		return c.I, nil
	case pvstore.StoreUInteger:
		return int64(c.U), nil
	case pvstore.StoreReal:
		return int64(c.R), nil
	case pvstore.StoreBool:
		if c.B {
			return 1, nil
		}
		return 0, nil
	case pvstore.StoreString:
		n, err := strconv.ParseInt(c.S, 10, 64)
		if err != nil {
			return 0, ErrNoConvert
		}
		return n, nil
	default:
		return 0, ErrNoConvert
	}
}

// AsUint64 is AsInt64's unsigned counterpart.
func (v Value) AsUint64() (uint64, error) {
	c, ok := v.leaf()
	if !ok {
		return 0, ErrNoField
	}
	switch c.Type {
	case pvstore.StoreInteger:
		return uint64(c.I), nil
	case pvstore.StoreUInteger:
		return c.U, nil
	case pvstore.StoreReal:
		return uint64(c.R), nil
	case pvstore.StoreBool:
		if c.B {
			return 1, nil
		}
		return 0, nil
	case pvstore.StoreString:
		n, err := strconv.ParseUint(c.S, 10, 64)
		if err != nil {
			return 0, ErrNoConvert
		}
		return n, nil
	default:
		return 0, ErrNoConvert
	}
}

// AsFloat64 converts the cell's current value to a float64.
func (v Value) AsFloat64() (float64, error) {
	c, ok := v.leaf()
	if !ok {
		return 0, ErrNoField
	}
	switch c.Type {
	case pvstore.StoreReal:
		return c.R, nil
	case pvstore.StoreInteger:
		return float64(c.I), nil
	case pvstore.StoreUInteger:
		return float64(c.U), nil
	case pvstore.StoreBool:
		if c.B {
			return 1, nil
		}
		return 0, nil
	case pvstore.StoreString:
		f, err := strconv.ParseFloat(c.S, 64)
		if err != nil {
			return 0, ErrNoConvert
		}
		return f, nil
	default:
		return 0, ErrNoConvert
	}
}

// AsBool converts the cell's current value to a bool: a numeric zero is
// false and any other number true; a string converts only from exactly
// "true" or "false".
func (v Value) AsBool() (bool, error) {
	c, ok := v.leaf()
	if !ok {
		return false, ErrNoField
	}
	switch c.Type {
	case pvstore.StoreBool:
		return c.B, nil
	case pvstore.StoreInteger:
		return c.I != 0, nil
	case pvstore.StoreUInteger:
		return c.U != 0, nil
	case pvstore.StoreReal:
		return c.R != 0, nil
	case pvstore.StoreString:
		switch c.S {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return false, ErrNoConvert
		}
	default:
		return false, ErrNoConvert
	}
}

// AsString formats the cell's current value as a string.
func (v Value) AsString() (string, error) {
	c, ok := v.leaf()
	if !ok {
		return "", ErrNoField
	}
	switch c.Type {
	case pvstore.StoreString:
		return c.S, nil
	case pvstore.StoreInteger:
		return strconv.FormatInt(c.I, 10), nil
	case pvstore.StoreUInteger:
		return strconv.FormatUint(c.U, 10), nil
	case pvstore.StoreReal:
		return strconv.FormatFloat(c.R, 'g', -1, 64), nil
	case pvstore.StoreBool:
		return strconv.FormatBool(c.B), nil
	default:
		return "", ErrNoConvert
	}
}

// leaf resolves v to the scalar cell a conversion reads from: v's own cell
// if it is already scalar, or — for Union/Any — the currently selected
// member's scalar cell, resolved recursively.
func (v Value) leaf() (pvstore.FieldStorage, bool) {
	if v.IsEmpty() {
		return pvstore.FieldStorage{}, false
	}
	d := v.Desc()
	if d.Code.IsArray() {
		return pvstore.FieldStorage{}, false
	}
	switch d.Code {
	case pvtype.Union:
		inner, ok := v.I("->" + firstSelectedName(v))
		if !ok {
			return pvstore.FieldStorage{}, false
		}
		return inner.Value.leaf()
	case pvtype.Any:
		inner, ok := v.I("->")
		if !ok {
			return pvstore.FieldStorage{}, false
		}
		return inner.Value.leaf()
	case pvtype.Struct:
		return pvstore.FieldStorage{}, false
	default:
		return *v.cell(), true
	}
}

func firstSelectedName(v Value) string {
	c := v.cell()
	names := v.Desc().MemberNames()
	if c.Selected < 0 || c.Selected >= len(names) {
		return ""
	}
	return names[c.Selected]
}

// SetInt64 writes n into v's cell, converting to the cell's own storage
// kind. Writing through a Union/Any cursor is rejected, and M does not
// descend into a Union/Any interior, so a Union/Any member has no writable
// handle.
func (v MValue) SetInt64(n int64) error {
	c, ok := v.writable()
	if !ok {
		return ErrNoField
	}
	switch c.Type {
	case pvstore.StoreInteger:
		c.I = n
	case pvstore.StoreUInteger:
		c.U = uint64(n)
	case pvstore.StoreReal:
		c.R = float64(n)
	case pvstore.StoreBool:
		c.B = n != 0
	case pvstore.StoreString:
		c.S = strconv.FormatInt(n, 10)
	default:
		return ErrNoConvert
	}
	c.Valid = true
	return nil
}

// SetUint64 is SetInt64's unsigned counterpart.
func (v MValue) SetUint64(n uint64) error {
	c, ok := v.writable()
	if !ok {
		return ErrNoField
	}
	switch c.Type {
	case pvstore.StoreInteger:
		c.I = int64(n)
	case pvstore.StoreUInteger:
		c.U = n
	case pvstore.StoreReal:
		c.R = float64(n)
	case pvstore.StoreBool:
		c.B = n != 0
	case pvstore.StoreString:
		c.S = strconv.FormatUint(n, 10)
	default:
		return ErrNoConvert
	}
	c.Valid = true
	return nil
}

// SetFloat64 writes f into v's cell.
func (v MValue) SetFloat64(f float64) error {
	c, ok := v.writable()
	if !ok {
		return ErrNoField
	}
	switch c.Type {
	case pvstore.StoreReal:
		c.R = f
	case pvstore.StoreInteger:
		c.I = int64(f)
	case pvstore.StoreUInteger:
		c.U = uint64(f)
	case pvstore.StoreBool:
		c.B = f != 0
	case pvstore.StoreString:
		c.S = strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return ErrNoConvert
	}
	c.Valid = true
	return nil
}

// SetBool writes b into v's cell.
func (v MValue) SetBool(b bool) error {
	c, ok := v.writable()
	if !ok {
		return ErrNoField
	}
	switch c.Type {
	case pvstore.StoreBool:
		c.B = b
	case pvstore.StoreInteger:
		c.I = boolToInt64(b)
	case pvstore.StoreUInteger:
		c.U = uint64(boolToInt64(b))
	case pvstore.StoreReal:
		c.R = float64(boolToInt64(b))
	case pvstore.StoreString:
		c.S = strconv.FormatBool(b)
	default:
		return ErrNoConvert
	}
	c.Valid = true
	return nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// SetString writes s into v's cell, parsing it if the cell is numeric.
func (v MValue) SetString(s string) error {
	c, ok := v.writable()
	if !ok {
		return ErrNoField
	}
	switch c.Type {
	case pvstore.StoreString:
		c.S = s
	case pvstore.StoreInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ErrNoConvert
		}
		c.I = n
	case pvstore.StoreUInteger:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return ErrNoConvert
		}
		c.U = n
	case pvstore.StoreReal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ErrNoConvert
		}
		c.R = f
	case pvstore.StoreBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return ErrNoConvert
		}
		c.B = b
	default:
		return ErrNoConvert
	}
	c.Valid = true
	return nil
}

// writable returns v's own cell for direct scalar mutation. Unlike leaf, it
// never follows into a Union/Any's selected member; a Union/Any cell is
// not writable.
func (v MValue) writable() (*pvstore.FieldStorage, bool) {
	if v.IsEmpty() {
		return nil, false
	}
	d := v.Desc()
	if d.Code.IsArray() || d.Code.Kind() == pvtype.KindCompound {
		return nil, false
	}
	return v.cell(), true
}

// Array returns the cell's current erased array, or nil if the cell isn't
// an array or holds no array.
func (v Value) Array() *pvarray.ErasedArray {
	if v.IsEmpty() || !v.Desc().Code.IsArray() {
		return nil
	}
	return v.cell().Arr
}

// SetArray replaces v's cell's array wholesale. The element type recorded
// on arr must match the cell's descriptor; callers build arr with
// pvarray.NewScalar/NewStrings/NewValues.
func (v MValue) SetArray(arr *pvarray.ErasedArray) error {
	if v.IsEmpty() || !v.Desc().Code.IsArray() {
		return ErrNoField
	}
	c := v.cell()
	c.Arr = arr
	c.Valid = true
	return nil
}
