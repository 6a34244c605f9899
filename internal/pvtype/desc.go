package pvtype

import "fmt"

// member is one (name, offset) pair in serialization order. For Struct,
// offset is the distance within the enclosing flat descriptor array; for
// Union, offset is an index within Members.
type member struct {
	name   string
	offset int
}

// FieldDesc is an immutable node in a flat, depth-first descriptor array.
// Never share a single FieldDesc instance at two different structural
// positions: ParentIndex and the mlookup/miter offsets are baked in at
// construction time for one embedding.
type FieldDesc struct {
	Code Code
	ID   string

	// Children holds, in wire/serialization order, the immediate child
	// descriptors of a Struct. Empty for every other Code.
	Children []*FieldDesc

	// mlookup resolves a (possibly dotted) member path to an offset:
	// within the flat array for Struct, within Members for Union.
	mlookup map[string]int
	miter   []member

	// Members holds Union alternatives, or (for StructA/UnionA) the single
	// element-type descriptor. Empty for Any/AnyA, whose element type is
	// chosen dynamically per storage cell.
	Members []*FieldDesc

	// ParentIndex is the distance back to the nearest enclosing Struct's
	// own node; 0 at that struct's root.
	ParentIndex int

	hash uint64
	size int
}

// Size returns the number of flat descriptor slots this subtree occupies
// (always >= 1).
func (d *FieldDesc) Size() int {
	if d == nil {
		return 0
	}
	return d.size
}

// Hash returns the structural hash used to deduplicate cached types. It is
// not cryptographically strong: callers must still verify structural
// equality on a hash match (see Registry).
func (d *FieldDesc) Hash() uint64 {
	if d == nil {
		return 0
	}
	return d.hash
}

// MemberNames returns the ordered member names, matching wire serialization
// order (Struct field names, or Union alternative names).
func (d *FieldDesc) MemberNames() []string {
	out := make([]string, len(d.miter))
	for i, m := range d.miter {
		out[i] = m.name
	}
	return out
}

// Lookup resolves a (possibly dotted) member path to an offset using
// mlookup. ok=false on any unresolved segment.
func (d *FieldDesc) Lookup(path string) (int, bool) {
	if d == nil {
		return 0, false
	}
	off, ok := d.mlookup[path]
	return off, ok
}

func fnv1a(h uint64, b []byte) uint64 {
	const prime = 1099511628211
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}

func stringHash(s string) uint64 {
	return fnv1a(14695981039346656037, []byte(s))
}

// Scalar builds a leaf descriptor for a non-compound, non-array code.
func Scalar(code Code) *FieldDesc {
	if code.Kind() == KindCompound || code.IsArray() {
		panic(fmt.Sprintf("pvtype: Scalar called with compound/array code %s", code))
	}
	return &FieldDesc{Code: code, size: 1, hash: stringHash(code.String())}
}

// ScalarArray builds a leaf descriptor for a scalar array code (e.g. Int32A,
// StringA). For StructA/UnionA/AnyA use NewStructArray/NewUnionArray/
// NewAnyArray.
func ScalarArray(code Code) *FieldDesc {
	if !code.IsArray() || code.Kind() == KindCompound {
		panic(fmt.Sprintf("pvtype: ScalarArray called with invalid code %s", code))
	}
	return &FieldDesc{Code: code, size: 1, hash: stringHash(code.String())}
}

// StructField is one named child passed to the Struct builder.
type StructField struct {
	Name  string
	Child *FieldDesc
}

// NewStruct flattens a depth-first tree of named children into one
// FieldDesc, patching ParentIndex for every descendant and memoizing the
// structural hash.
func NewStruct(id string, fields []StructField) *FieldDesc {
	root := &FieldDesc{
		Code:     Struct,
		ID:       id,
		Children: make([]*FieldDesc, 0, len(fields)),
		mlookup:  make(map[string]int),
		miter:    make([]member, 0, len(fields)),
	}

	off := 1
	h := stringHash("Struct") ^ stringHash(id)
	for _, f := range fields {
		root.Children = append(root.Children, f.Child)
		root.miter = append(root.miter, member{name: f.Name, offset: off})
		root.mlookup[f.Name] = off
		if f.Child.Code == Struct {
			for dotted, subOff := range f.Child.mlookup {
				root.mlookup[f.Name+"."+dotted] = off + subOff
			}
		}
		h ^= stringHash(f.Name) ^ f.Child.hash
		off += f.Child.Size()
	}
	root.size = off
	root.hash = h
	patchParentIndex(root)
	return root
}

// patchParentIndex walks d's subtree, setting each descendant's
// ParentIndex to its flat-array distance back to the nearest enclosing
// Struct's own slot — d's slot for its direct fields, or a nested Struct
// field's own slot for that field's descendants.
func patchParentIndex(d *FieldDesc) {
	d.ParentIndex = 0
	patchChildren(d, 0)
}

// patchChildren assigns ParentIndex to every descendant of the Struct
// whose own flat-array slot is structRoot.
func patchChildren(d *FieldDesc, structRoot int) {
	off := structRoot + 1
	for _, child := range d.Children {
		child.ParentIndex = off - structRoot
		if child.Code == Struct {
			patchChildren(child, off)
		}
		off += child.Size()
	}
}

// NewUnion builds a Union descriptor from named alternatives.
func NewUnion(id string, alts []StructField) *FieldDesc {
	root := &FieldDesc{
		Code:    Union,
		ID:      id,
		mlookup: make(map[string]int),
		miter:   make([]member, 0, len(alts)),
		Members: make([]*FieldDesc, 0, len(alts)),
		size:    1,
	}
	h := stringHash("Union") ^ stringHash(id)
	for i, a := range alts {
		root.miter = append(root.miter, member{name: a.Name, offset: i})
		root.mlookup[a.Name] = i
		root.Members = append(root.Members, a.Child)
		h ^= stringHash(a.Name) ^ a.Child.hash
	}
	root.hash = h
	return root
}

// NewStructArray builds a StructA descriptor over an element Struct type.
func NewStructArray(elem *FieldDesc) *FieldDesc { return arrayOfCompound(StructA, elem) }

// NewUnionArray builds a UnionA descriptor over an element Union type.
func NewUnionArray(elem *FieldDesc) *FieldDesc { return arrayOfCompound(UnionA, elem) }

// NewAny builds an Any descriptor: a variant holding any single type,
// selected dynamically at the storage layer.
func NewAny() *FieldDesc { return &FieldDesc{Code: Any, size: 1, hash: stringHash("Any")} }

// NewAnyArray builds an AnyA descriptor.
func NewAnyArray() *FieldDesc { return &FieldDesc{Code: AnyA, size: 1, hash: stringHash("AnyA")} }

func arrayOfCompound(code Code, elem *FieldDesc) *FieldDesc {
	return &FieldDesc{
		Code:    code,
		Members: []*FieldDesc{elem},
		size:    1,
		hash:    stringHash(code.String()) ^ elem.hash,
	}
}

// Flatten returns d's full depth-first array, starting at d itself.
func Flatten(d *FieldDesc) []*FieldDesc {
	out := []*FieldDesc{d}
	for _, c := range d.Children {
		out = append(out, Flatten(c)...)
	}
	return out
}

// Equal performs the structural compare the Registry always runs on a hash
// hit: hashes collide-resist only probabilistically.
func Equal(a, b *FieldDesc) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Code != b.Code || a.ID != b.ID || len(a.Members) != len(b.Members) || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.miter {
		if a.miter[i].name != b.miter[i].name || a.miter[i].offset != b.miter[i].offset {
			return false
		}
	}
	for i := range a.Members {
		if !Equal(a.Members[i], b.Members[i]) {
			return false
		}
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
