package pvvalue

import (
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
)

// Mark sets v's own cell's valid bit, the same bit masked (partial) wire
// encoding reads to decide whether a field is present.
func (v MValue) Mark() error {
	if v.IsEmpty() {
		return ErrNoField
	}
	v.cell().Valid = true
	return nil
}

// Unmark clears v's own cell's valid bit.
func (v MValue) Unmark() error {
	if v.IsEmpty() {
		return ErrNoField
	}
	v.cell().Valid = false
	return nil
}

// IsMarked reports v's own cell's valid bit.
func (v Value) IsMarked() bool {
	if v.IsEmpty() {
		return false
	}
	return v.cell().Valid
}

// ForEachMarked walks every cell in v's own subtree (v included) in flat
// order and invokes fn for each one whose valid bit is set. It does not
// skip ahead over unmarked compound subtrees — a plain linear scan, traded
// for the complexity of tracking per-node skip distances.
func ForEachMarked(v Value, fn func(rel int, d *pvtype.FieldDesc, c *pvstore.FieldStorage)) {
	if v.IsEmpty() {
		return
	}
	end := v.index + v.Desc().Size()
	for i := v.index; i < end; i++ {
		if v.top.Cells[i].Valid {
			fn(i-v.index, v.top.Flat[i], &v.top.Cells[i])
		}
	}
}
