// Package pvarray implements SharedArray: a reference-counted, runtime
// element-typed contiguous buffer, plus type-erased aliasing casts used by
// Struct/Union/Any array storage cells.
package pvarray

import (
	"sync/atomic"

	"github.com/openpva/pva/internal/pvtype"
)

// ArrayType tags the runtime element type of an erased array: one of the
// scalar codes, String, Value (for StructA/UnionA/AnyA elements), or Null
// for an untyped/empty array.
type ArrayType = pvtype.Code

// ValueElem is the opaque element shape used for StructA/UnionA/AnyA
// backing storage: each element is itself a nested storage tree. The
// concrete type lives in pvstore, but pvarray cannot import it without a
// cycle, so callers hand in *pvstore.StructTop via this interface.
type ValueElem interface {
	Clone() ValueElem
}

// ErasedArray is SharedArray<void>: a type-erased, refcounted buffer that
// preserves its original element type tag through erasure, exactly as
// SharedArray<T>.castTo<U>() would on the other side of the cast.
type ErasedArray struct {
	elemType ArrayType
	frozen   bool

	// Exactly one of the following backs the array, selected by elemType.
	bytesBuf  []byte // fixed-width scalar element storage, packed
	strings   []string
	values    []ValueElem
	elemWidth int

	refs atomic.Int64
}

// NewEmpty returns an untyped, zero-length erased array.
func NewEmpty() *ErasedArray {
	a := &ErasedArray{elemType: pvtype.Null}
	a.refs.Store(1)
	return a
}

// NewScalar builds a typed erased array over raw packed scalar bytes.
// elemWidth is the fixed per-element byte width (1/2/4/8).
func NewScalar(elemType ArrayType, elemWidth int, data []byte) *ErasedArray {
	a := &ErasedArray{elemType: elemType, elemWidth: elemWidth, bytesBuf: data}
	a.refs.Store(1)
	return a
}

// NewStrings builds a String-element erased array.
func NewStrings(data []string) *ErasedArray {
	a := &ErasedArray{elemType: pvtype.String, strings: data}
	a.refs.Store(1)
	return a
}

// NewValues builds a Value-element erased array (backs StructA/UnionA/AnyA).
func NewValues(data []ValueElem) *ErasedArray {
	a := &ErasedArray{elemType: pvtype.Any, values: data}
	a.refs.Store(1)
	return a
}

// OriginalType reports the element type tag preserved through erasure.
func (a *ErasedArray) OriginalType() ArrayType {
	if a == nil {
		return pvtype.Null
	}
	return a.elemType
}

// Len returns the element count.
func (a *ErasedArray) Len() int {
	if a == nil {
		return 0
	}
	switch {
	case a.strings != nil:
		return len(a.strings)
	case a.values != nil:
		return len(a.values)
	case a.elemWidth > 0:
		return len(a.bytesBuf) / a.elemWidth
	default:
		return 0
	}
}

// IsEmpty reports whether the array is untyped/zero-length, the sentinel
// "clears the field" write value.
func (a *ErasedArray) IsEmpty() bool {
	return a == nil || (a.elemType == pvtype.Null && a.Len() == 0)
}

// Bytes returns the raw packed scalar backing buffer (valid when elemWidth
// > 0).
func (a *ErasedArray) Bytes() []byte {
	if a == nil {
		return nil
	}
	return a.bytesBuf
}

// ElemWidth returns the fixed per-scalar-element byte width, 0 for
// String/Value-backed arrays.
func (a *ErasedArray) ElemWidth() int {
	if a == nil {
		return 0
	}
	return a.elemWidth
}

// Strings returns the String-element backing slice.
func (a *ErasedArray) Strings() []string {
	if a == nil {
		return nil
	}
	return a.strings
}

// Values returns the Value-element backing slice.
func (a *ErasedArray) Values() []ValueElem {
	if a == nil {
		return nil
	}
	return a.values
}

// Frozen reports whether the array has been converted to its immutable
// form.
func (a *ErasedArray) Frozen() bool {
	return a != nil && a.frozen
}

// Freeze converts the array to immutable in place, requiring sole
// ownership; it reports whether the conversion happened.
func (a *ErasedArray) Freeze() bool {
	if a == nil {
		return false
	}
	if a.refs.Load() > 1 {
		return false
	}
	a.frozen = true
	return true
}

// Retain increments the shared refcount.
func (a *ErasedArray) Retain() {
	if a != nil {
		a.refs.Add(1)
	}
}

// Release decrements the shared refcount, reporting whether it reached
// zero.
func (a *ErasedArray) Release() bool {
	if a == nil {
		return true
	}
	return a.refs.Add(-1) == 0
}

// Clone deep-copies the array into a fresh, unfrozen, sole-owned instance.
func (a *ErasedArray) Clone() *ErasedArray {
	if a == nil {
		return nil
	}
	out := &ErasedArray{elemType: a.elemType, elemWidth: a.elemWidth}
	out.refs.Store(1)
	if a.bytesBuf != nil {
		out.bytesBuf = append([]byte(nil), a.bytesBuf...)
	}
	if a.strings != nil {
		out.strings = append([]string(nil), a.strings...)
	}
	if a.values != nil {
		out.values = make([]ValueElem, len(a.values))
		for i, v := range a.values {
			out.values[i] = v.Clone()
		}
	}
	return out
}
