// Package pvstore holds the mutable storage tree parallel to a pvtype
// descriptor tree: one FieldStorage cell per descriptor node, plus the
// StructTop that owns the whole contiguous slice and its refcount.
package pvstore

import (
	"sync/atomic"

	"github.com/openpva/pva/internal/pvarray"
	"github.com/openpva/pva/internal/pvtype"
)

// StoreType tags the discriminated payload a FieldStorage cell holds.
// Integer widths promote to Integer/UInteger; float widths promote to Real.
type StoreType uint8

const (
	StoreNull StoreType = iota
	StoreBool
	StoreInteger
	StoreUInteger
	StoreReal
	StoreString
	StoreArray
	StoreCompound
)

// FieldStorage is one mutable slot: a StoreType tag, a discriminated
// payload, and a valid bit usable for masked (partial) serialization.
//
// Struct cells are always StoreNull (they exist only to anchor children).
// Union/Any cells are StoreCompound and additionally carry Selected (the
// chosen member index, or -1 for "no selection") and, for Any, the
// dynamically-bound descriptor of the stored value.
type FieldStorage struct {
	Type StoreType
	Valid bool

	I int64
	U uint64
	R float64
	B bool
	S string
	Arr *pvarray.ErasedArray

	// Selected is the chosen Union member index, or -1 for "no selection".
	// Unused for Struct/Any.
	Selected int
	// NestedDesc is the dynamically bound type for an Any cell holding a
	// value, or nil if the Any cell is empty. Unused for Union/Struct.
	NestedDesc *pvtype.FieldDesc
	// Nested holds the selected Union member's storage, or the Any cell's
	// dynamically-typed storage, when non-empty.
	Nested *StructTop
}

// StructTop owns the contiguous storage slice for one top-level type
// instance, the shared descriptor, and an atomic refcount shared by every
// Value handle that aliases this tree.
type StructTop struct {
	Desc  *pvtype.FieldDesc
	Flat  []*pvtype.FieldDesc
	Cells []FieldStorage

	refs atomic.Int64
}

// NewStructTop allocates desc.Size() storage cells and zero-initializes
// each according to its code's Kind.
func NewStructTop(desc *pvtype.FieldDesc) *StructTop {
	flat := pvtype.Flatten(desc)
	top := &StructTop{
		Desc:  desc,
		Flat:  flat,
		Cells: make([]FieldStorage, len(flat)),
	}
	top.refs.Store(1)
	for i, d := range flat {
		top.Cells[i] = zeroCell(d)
	}
	return top
}

func zeroCell(d *pvtype.FieldDesc) FieldStorage {
	switch d.Code.Kind() {
	case pvtype.KindNull:
		if d.Code.IsArray() {
			return FieldStorage{Type: StoreArray, Selected: -1}
		}
		return FieldStorage{Type: StoreNull, Selected: -1}
	case pvtype.KindBool:
		if d.Code.IsArray() {
			return FieldStorage{Type: StoreArray, Selected: -1}
		}
		return FieldStorage{Type: StoreBool, Selected: -1}
	case pvtype.KindInteger:
		if d.Code.IsArray() {
			return FieldStorage{Type: StoreArray, Selected: -1}
		}
		if d.Code.IsUnsigned() {
			return FieldStorage{Type: StoreUInteger, Selected: -1}
		}
		return FieldStorage{Type: StoreInteger, Selected: -1}
	case pvtype.KindReal:
		if d.Code.IsArray() {
			return FieldStorage{Type: StoreArray, Selected: -1}
		}
		return FieldStorage{Type: StoreReal, Selected: -1}
	case pvtype.KindString:
		if d.Code.IsArray() {
			return FieldStorage{Type: StoreArray, Selected: -1}
		}
		return FieldStorage{Type: StoreString, Selected: -1}
	case pvtype.KindCompound:
		if d.Code == pvtype.Struct {
			return FieldStorage{Type: StoreNull, Selected: -1}
		}
		// Union, Any, and their array forms: start unselected/empty.
		return FieldStorage{Type: StoreCompound, Selected: -1}
	default:
		return FieldStorage{Type: StoreNull, Selected: -1}
	}
}

// Retain increments the shared refcount. Called whenever a new Value handle
// is constructed sharing this tree.
func (t *StructTop) Retain() {
	t.refs.Add(1)
}

// Release decrements the shared refcount and reports whether this was the
// last reference (the tree is now free to be reclaimed by the caller).
func (t *StructTop) Release() bool {
	return t.refs.Add(-1) == 0
}

// RefCount returns the current number of sharing handles.
func (t *StructTop) RefCount() int64 {
	return t.refs.Load()
}

// SoleOwner reports whether exactly one handle shares this tree, the
// precondition for an O(1) Freeze/Thaw.
func (t *StructTop) SoleOwner() bool {
	return t.refs.Load() == 1
}

// Clone deep-copies the entire tree into a fresh StructTop with refcount 1.
func (t *StructTop) Clone() *StructTop {
	out := &StructTop{
		Desc:  t.Desc,
		Flat:  t.Flat,
		Cells: make([]FieldStorage, len(t.Cells)),
	}
	out.refs.Store(1)
	for i, c := range t.Cells {
		out.Cells[i] = cloneCell(c)
	}
	return out
}

// CloneSubtree deep-copies the subtree rooted at index into a fresh,
// detached StructTop with refcount 1. Used by Value.Clone to detach a
// sub-handle into its own owned tree.
func (t *StructTop) CloneSubtree(index int) *StructTop {
	d := t.Flat[index]
	flat := pvtype.Flatten(d)
	out := &StructTop{Desc: d, Flat: flat, Cells: make([]FieldStorage, len(flat))}
	out.refs.Store(1)
	for i := range flat {
		out.Cells[i] = cloneCell(t.Cells[index+i])
	}
	return out
}

// CloneCell deep-copies a single storage cell, including any owned array or
// nested tree.
func CloneCell(c FieldStorage) FieldStorage {
	return cloneCell(c)
}

// ArrayElemTop adapts a *StructTop to pvarray.ValueElem, backing
// StructA/UnionA/AnyA array elements.
type ArrayElemTop struct {
	Top *StructTop
}

func (e *ArrayElemTop) Clone() pvarray.ValueElem {
	return &ArrayElemTop{Top: e.Top.Clone()}
}

func cloneCell(c FieldStorage) FieldStorage {
	out := c
	if c.Arr != nil {
		out.Arr = c.Arr.Clone()
	}
	if c.Nested != nil {
		out.Nested = c.Nested.Clone()
	}
	return out
}
