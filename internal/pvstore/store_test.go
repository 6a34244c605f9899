package pvstore

import (
	"testing"

	"github.com/openpva/pva/internal/pvtype"
)

func pointDesc() *pvtype.FieldDesc {
	return pvtype.NewStruct("point_t", []pvtype.StructField{
		{Name: "x", Child: pvtype.Scalar(pvtype.Int32)},
		{Name: "y", Child: pvtype.Scalar(pvtype.Int32)},
	})
}

func TestNewStructTopZeroInitializesEveryCell(t *testing.T) {
	top := NewStructTop(pointDesc())
	if len(top.Cells) != 3 {
		t.Fatalf("len(Cells) = %d, want 3", len(top.Cells))
	}
	for i, c := range top.Cells {
		if c.Valid {
			t.Fatalf("cell %d starts valid, want unmarked", i)
		}
	}
}

func TestCloneIsDeepAndIndependent(t *testing.T) {
	top := NewStructTop(pointDesc())
	top.Cells[1].I = 7
	top.Cells[1].Valid = true

	clone := top.Clone()
	clone.Cells[1].I = 99

	if top.Cells[1].I != 7 {
		t.Fatalf("clone mutation leaked into original: got %d, want 7", top.Cells[1].I)
	}
}

func TestRefCountingSoleOwner(t *testing.T) {
	top := NewStructTop(pointDesc())
	if !top.SoleOwner() {
		t.Fatalf("freshly created top should be sole-owned")
	}
	top.Retain()
	if top.SoleOwner() {
		t.Fatalf("top should not be sole-owned after Retain")
	}
	if top.Release() {
		t.Fatalf("Release should report false while a reference remains")
	}
	if !top.Release() {
		t.Fatalf("final Release should report true")
	}
}

func TestCloneSubtreeDetachesAndReindexes(t *testing.T) {
	line := pvtype.NewStruct("line_t", []pvtype.StructField{
		{Name: "from", Child: pointDesc()},
		{Name: "to", Child: pointDesc()},
	})
	top := NewStructTop(line)
	fromIdx, _ := line.Lookup("from")
	fromXIdx, _ := line.Lookup("from.x")
	top.Cells[fromXIdx].I = 5
	top.Cells[fromXIdx].Valid = true

	sub := top.CloneSubtree(fromIdx)
	if sub.Desc.ID != "point_t" {
		t.Fatalf("CloneSubtree root ID = %q, want point_t", sub.Desc.ID)
	}
	xOff, ok := sub.Desc.Lookup("x")
	if !ok || sub.Cells[xOff].I != 5 {
		t.Fatalf("CloneSubtree did not carry over x's value")
	}
}
