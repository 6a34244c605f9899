package pvvalue

import (
	"github.com/openpva/pva/internal/pvstore"
	"github.com/openpva/pva/internal/pvtype"
)

// Assign copies src's marked cells into dst. When both handles share the
// same descriptor (the common case: decoding a masked update into an
// already-typed holder, or squashing a Monitor queue) it is a flat,
// offset-by-offset OR-merge: each marked source cell overwrites the
// corresponding destination cell and marks it. Struct anchor cells (which
// carry no payload) are skipped.
//
// When the descriptors differ, Assign falls back to a single leaf-to-leaf
// scalar conversion: this only succeeds if src resolves (via Union/Any
// delegation) to a scalar leaf and dst is itself a scalar cell (dst is not
// followed into a Union/Any) of a compatible Kind.
func Assign(dst MValue, src Value) error {
	if dst.IsEmpty() || src.IsEmpty() {
		return ErrNoField
	}
	if dst.Desc() == src.Desc() || pvtype.Equal(dst.Desc(), src.Desc()) {
		return assignSameShape(dst, src)
	}
	return assignConvert(dst, src)
}

func assignSameShape(dst MValue, src Value) error {
	n := dst.Desc().Size()
	for rel := 0; rel < n; rel++ {
		srcCell := &src.top.Cells[src.index+rel]
		if !srcCell.Valid {
			continue
		}
		d := dst.top.Flat[dst.index+rel]
		if d.Code == pvtype.Struct {
			continue
		}
		dst.top.Cells[dst.index+rel] = pvstore.CloneCell(*srcCell)
	}
	return nil
}

func assignConvert(dst MValue, src Value) error {
	sf, ok := src.leaf()
	if !ok {
		return ErrNoConvert
	}
	switch sf.Type {
	case pvstore.StoreInteger:
		return dst.SetInt64(sf.I)
	case pvstore.StoreUInteger:
		return dst.SetUint64(sf.U)
	case pvstore.StoreReal:
		return dst.SetFloat64(sf.R)
	case pvstore.StoreBool:
		return dst.SetBool(sf.B)
	case pvstore.StoreString:
		return dst.SetString(sf.S)
	default:
		return ErrNoConvert
	}
}
