package pvvalue

import (
	"testing"

	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
)

func pointDesc() *pvtype.FieldDesc {
	return pvtype.NewStruct("point_t", []pvtype.StructField{
		{Name: "x", Child: pvtype.Scalar(pvtype.Int32)},
		{Name: "y", Child: pvtype.Scalar(pvtype.Int32)},
	})
}

func lineDesc() *pvtype.FieldDesc {
	return pvtype.NewStruct("line_t", []pvtype.StructField{
		{Name: "from", Child: pointDesc()},
		{Name: "to", Child: pointDesc()},
		{Name: "label", Child: pvtype.Scalar(pvtype.String)},
	})
}

func TestFieldTraversalAndScalarRoundTrip(t *testing.T) {
	root := NewRoot(lineDesc())

	fromX, ok := root.M("from.x")
	if !ok {
		t.Fatalf("M(from.x) failed")
	}
	if err := fromX.SetInt64(7); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}

	got, err := fromX.AsInt64()
	if err != nil || got != 7 {
		t.Fatalf("AsInt64 = %d, %v; want 7, nil", got, err)
	}

	label, ok := root.M("label")
	if !ok {
		t.Fatalf("M(label) failed")
	}
	if err := label.SetString("segment"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	s, err := label.AsString()
	if err != nil || s != "segment" {
		t.Fatalf("AsString = %q, %v; want segment, nil", s, err)
	}
}

func TestAscendReturnsToStructRoot(t *testing.T) {
	root := NewRoot(lineDesc())
	fromY, ok := root.M("from.y")
	if !ok {
		t.Fatalf("M(from.y) failed")
	}
	back, ok := fromY.M("<")
	if !ok {
		t.Fatalf("M(<) failed")
	}
	if back.Desc().Code != pvtype.Struct || back.Desc().ID != "point_t" {
		t.Fatalf("ascend landed on %v, want point_t struct", back.Desc())
	}
}

func TestUnmatchedFieldIsEmptyHandle(t *testing.T) {
	root := NewRoot(lineDesc())
	if _, ok := root.M("nonexistent"); ok {
		t.Fatalf("M(nonexistent) should fail")
	}
	if _, ok := root.I("from.z"); ok {
		t.Fatalf("I(from.z) should fail")
	}
}

func TestMarkAndForEachMarked(t *testing.T) {
	root := NewRoot(lineDesc())
	fromX, _ := root.M("from.x")
	fromX.SetInt64(1)
	fromX.Mark()

	toY, _ := root.M("to.y")
	toY.SetInt64(2)
	toY.Mark()

	count := 0
	ForEachMarked(root.Value, func(rel int, d *pvtype.FieldDesc, c *pvstore.FieldStorage) {
		count++
	})
	if count != 2 {
		t.Fatalf("ForEachMarked visited %d cells, want 2", count)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	root := NewRoot(lineDesc())
	fromX, _ := root.M("from.x")
	fromX.SetInt64(42)

	clone := root.Value.Clone()
	cloneX, _ := clone.M("from.x")
	v, err := cloneX.AsInt64()
	if err != nil || v != 42 {
		t.Fatalf("clone AsInt64 = %d, %v; want 42, nil", v, err)
	}

	cloneX.SetInt64(99)
	orig, _ := fromX.AsInt64()
	if orig != 42 {
		t.Fatalf("clone mutation leaked into original: got %d, want 42", orig)
	}
}

func TestFreezeThawRoundTrip(t *testing.T) {
	root := NewRoot(pointDesc())
	mx, _ := root.M("x")
	mx.SetInt64(5)

	frozen := Freeze(root)
	ix, ok := frozen.I("x")
	if !ok {
		t.Fatalf("I(x) on frozen failed")
	}
	v, err := ix.AsInt64()
	if err != nil || v != 5 {
		t.Fatalf("frozen AsInt64 = %d, %v; want 5, nil", v, err)
	}

	thawed := Thaw(frozen)
	tx, ok := thawed.M("x")
	if !ok {
		t.Fatalf("M(x) on thawed failed")
	}
	if err := tx.SetInt64(6); err != nil {
		t.Fatalf("SetInt64 on thawed: %v", err)
	}
}
