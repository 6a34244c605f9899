// Package pvvalue implements the Value/MValue/IValue cursor into a
// (descriptor, storage) pair: traversal by path, scalar/array/compound
// read-write, marking, cloning, and freeze/thaw.
package pvvalue

import (
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
)

// Value is the common cursor shared by MValue and IValue: a position
// (top, index) into a storage tree. It never mutates storage itself —
// mutation is only reachable through MValue's method set.
type Value struct {
	top   *pvstore.StructTop
	index int
}

// MValue is a read+write handle.
type MValue struct{ Value }

// IValue is a read-only handle.
type IValue struct{ Value }

// Empty is the zero handle returned by any failed traversal or conversion
// edge case, per spec: "On any syntax error or missing member, the result
// is the empty handle (no exception)."
var Empty Value

func (v Value) IsEmpty() bool { return v.top == nil }

// NewRoot allocates a fresh storage tree for desc and returns the
// sole-owning mutable root handle.
func NewRoot(desc *pvtype.FieldDesc) MValue {
	return MValue{Value{top: pvstore.NewStructTop(desc), index: 0}}
}

// FromTop wraps an existing top-level storage tree (e.g. just
// deserialized) as a mutable root handle.
func FromTop(top *pvstore.StructTop) MValue {
	return MValue{Value{top: top, index: 0}}
}

func (v Value) Desc() *pvtype.FieldDesc {
	if v.IsEmpty() {
		return nil
	}
	return v.top.Flat[v.index]
}

func (v Value) cell() *pvstore.FieldStorage {
	return &v.top.Cells[v.index]
}

// Top returns the underlying storage tree this handle shares ownership of.
func (v Value) Top() *pvstore.StructTop { return v.top }

// Index returns this handle's position within its tree's flat array.
func (v Value) Index() int { return v.index }

// Retain bumps the shared tree's refcount, for callers that want to hold an
// independent owning reference alongside this handle.
func (v Value) Retain() {
	if !v.IsEmpty() {
		v.top.Retain()
	}
}

// Release drops a reference previously taken with Retain.
func (v Value) Release() {
	if !v.IsEmpty() {
		v.top.Release()
	}
}

// M resolves path against v and returns a mutable handle. Traversal that
// would dereference a Union/Any interior is rejected on a mutable handle
// (it could subvert the const-ness of a tree shared with an IValue).
func (v MValue) M(path string) (MValue, bool) {
	steps, err := tokenize(path)
	if err != nil {
		return MValue{}, false
	}
	for _, s := range steps {
		if s.kind == stepUnion || s.kind == stepAnyDeref {
			return MValue{}, false
		}
	}
	cur, ok := walk(v.Value, steps)
	if !ok {
		return MValue{}, false
	}
	return MValue{cur}, true
}

// I resolves path against v and returns a read-only handle.
func (v Value) I(path string) (IValue, bool) {
	steps, err := tokenize(path)
	if err != nil {
		return IValue{}, false
	}
	cur, ok := walk(v, steps)
	if !ok {
		return IValue{}, false
	}
	return IValue{cur}, true
}

func (v IValue) I(path string) (IValue, bool) { return v.Value.I(path) }

// walk applies each parsed step in turn, returning the empty handle on any
// failure.
func walk(start Value, steps []step) (Value, bool) {
	cur := start
	for _, s := range steps {
		next, ok := applyStep(cur, s)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

func applyStep(cur Value, s step) (Value, bool) {
	d := cur.Desc()
	switch s.kind {
	case stepField:
		if d.Code != pvtype.Struct {
			return Value{}, false
		}
		off, ok := d.Lookup(s.name)
		if !ok {
			return Value{}, false
		}
		return Value{top: cur.top, index: cur.index + off}, true

	case stepAscend:
		if cur.index == 0 {
			return Value{}, false
		}
		return Value{top: cur.top, index: cur.index - d.ParentIndex}, true

	case stepUnion:
		if d.Code != pvtype.Union {
			return Value{}, false
		}
		idx, ok := d.Lookup(s.name)
		if !ok {
			return Value{}, false
		}
		cell := cur.cell()
		if cell.Selected != idx || cell.Nested == nil {
			return Value{}, false
		}
		return Value{top: cell.Nested, index: 0}, true

	case stepAnyDeref:
		if d.Code != pvtype.Any {
			return Value{}, false
		}
		cell := cur.cell()
		if cell.Nested == nil {
			return Value{}, false
		}
		return Value{top: cell.Nested, index: 0}, true

	case stepIndex:
		if !d.Code.IsArray() {
			return Value{}, false
		}
		elemCode, ok := d.Code.ElementCode()
		if !ok {
			return Value{}, false
		}
		if elemCode != pvtype.Struct && elemCode != pvtype.Union && elemCode != pvtype.Any {
			return Value{}, false
		}
		cell := cur.cell()
		if cell.Arr == nil || s.index < 0 || s.index >= cell.Arr.Len() {
			return Value{}, false
		}
		elems := cell.Arr.Values()
		elemTop, ok := elems[s.index].(*pvstore.ArrayElemTop)
		if !ok || elemTop == nil || elemTop.Top == nil {
			return Value{}, false
		}
		return Value{top: elemTop.Top, index: 0}, true

	default:
		return Value{}, false
	}
}
