// Package pvtype describes the self-describing structured-value type system:
// type codes and the immutable FieldDesc tree that shapes every value on the
// wire.
package pvtype

// Kind groups type codes into the families the value-conversion matrix
// switches on.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindReal
	KindString
	KindCompound
)

// Code is the single-byte type tag carried on the wire for every scalar,
// array, and compound value.
type Code uint8

const (
	Null Code = iota

	Int8
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64

	Bool
	Float32
	Float64

	String

	Struct
	Union
	Any

	Int8A
	UInt8A
	Int16A
	UInt16A
	Int32A
	UInt32A
	Int64A
	UInt64A

	BoolA
	Float32A
	Float64A

	StringA

	StructA
	UnionA
	AnyA
)

// arrayToScalar maps an array code back to its element code;
// scalarToArray is its inverse.
var arrayToScalar = map[Code]Code{
	Int8A: Int8, UInt8A: UInt8, Int16A: Int16, UInt16A: UInt16,
	Int32A: Int32, UInt32A: UInt32, Int64A: Int64, UInt64A: UInt64,
	BoolA: Bool, Float32A: Float32, Float64A: Float64,
	StringA: String, StructA: Struct, UnionA: Union, AnyA: Any,
}

var scalarToArray = func() map[Code]Code {
	out := make(map[Code]Code, len(arrayToScalar))
	for a, s := range arrayToScalar {
		out[s] = a
	}
	return out
}()

// IsArray reports whether c is an array-suffixed code.
func (c Code) IsArray() bool {
	_, ok := arrayToScalar[c]
	return ok
}

// ArrayOf returns the array-suffixed form of a scalar code, and ok=false if
// c has no array form (c is already an array, or c is Null).
func (c Code) ArrayOf() (Code, bool) {
	a, ok := scalarToArray[c]
	return a, ok
}

// ElementCode returns the scalar element code for an array code.
func (c Code) ElementCode() (Code, bool) {
	s, ok := arrayToScalar[c]
	return s, ok
}

// Kind classifies c by conversion family. Array codes carry the Kind of
// their element type; callers distinguish arrays with IsArray.
func (c Code) Kind() Kind {
	base := c
	if s, ok := arrayToScalar[c]; ok {
		base = s
	}
	switch base {
	case Null:
		return KindNull
	case Bool:
		return KindBool
	case Int8, UInt8, Int16, UInt16, Int32, UInt32, Int64, UInt64:
		return KindInteger
	case Float32, Float64:
		return KindReal
	case String:
		return KindString
	case Struct, Union, Any:
		return KindCompound
	default:
		return KindNull
	}
}

// IsUnsigned reports whether c (or its array element) is one of the unsigned
// integer codes. The parity bit referenced in the spec is this low bit of
// the unsigned/signed pairing below.
func (c Code) IsUnsigned() bool {
	base := c
	if s, ok := arrayToScalar[c]; ok {
		base = s
	}
	switch base {
	case UInt8, UInt16, UInt32, UInt64:
		return true
	default:
		return false
	}
}

func (c Code) String() string {
	switch c {
	case Null:
		return "Null"
	case Int8:
		return "Int8"
	case UInt8:
		return "UInt8"
	case Int16:
		return "Int16"
	case UInt16:
		return "UInt16"
	case Int32:
		return "Int32"
	case UInt32:
		return "UInt32"
	case Int64:
		return "Int64"
	case UInt64:
		return "UInt64"
	case Bool:
		return "Bool"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case String:
		return "String"
	case Struct:
		return "Struct"
	case Union:
		return "Union"
	case Any:
		return "Any"
	case Int8A:
		return "Int8A"
	case UInt8A:
		return "UInt8A"
	case Int16A:
		return "Int16A"
	case UInt16A:
		return "UInt16A"
	case Int32A:
		return "Int32A"
	case UInt32A:
		return "UInt32A"
	case Int64A:
		return "Int64A"
	case UInt64A:
		return "UInt64A"
	case BoolA:
		return "BoolA"
	case Float32A:
		return "Float32A"
	case Float64A:
		return "Float64A"
	case StringA:
		return "StringA"
	case StructA:
		return "StructA"
	case UnionA:
		return "UnionA"
	case AnyA:
		return "AnyA"
	default:
		return "Unknown"
	}
}
