// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package pdbparse

import (
	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/tpi"
)

// StructRecord is a recursive layout node produced by walking the
// resolved type graph from some base address, per §4.7.
type StructRecord struct {
	Level   string
	Value   int64
	Type    string
	Address int64
	Size    int64

	HasBitfield bool
	BitOffset   uint8
	BitSize     uint8

	IsPointer bool
	IsFuncPtr bool
	IsReal    bool
	HasSign   bool

	// Fields holds named children for a composite (struct/class/union);
	// nil when the type isn't a composite or the caller asked for a
	// non-recursive layout below the root.
	Fields map[string]*StructRecord
	// Elements holds ordered children for an array.
	Elements []*StructRecord

	entry *tpi.Entry
	graph *tpi.Graph
}

// Entry exposes the originating type this record was built from.
func (s *StructRecord) Entry() *Type {
	if s.entry == nil {
		return nil
	}
	return &Type{graph: s.graph, entry: s.entry}
}

// layoutType walks the resolved graph from e at addr, producing the
// StructRecord tree described in §4.7. recursive controls whether a
// composite's fields are descended below the immediate root; depth
// tracks how many composite levels have already been unwound.
func layoutType(g *tpi.Graph, e *tpi.Entry, level string, addr int64, recursive bool, depth int) (*StructRecord, error) {
	if e == nil {
		return nil, errs.New("pdbparse.layout", errs.UnknownType, nil)
	}

	rec := &StructRecord{
		Level:   level,
		Type:    g.TypeName(e),
		Address: addr,
		Size:    g.SizeOf(e),
		entry:   e,
		graph:   g,
	}

	if e.Primitive != nil {
		rec.IsPointer = e.Primitive.IsPtr
		rec.IsReal = e.Primitive.IsReal
		rec.HasSign = e.Primitive.HasSign
		return rec, nil
	}

	t := e.Type
	switch {
	case t.Composite != nil:
		if !recursive && depth > 0 {
			return rec, nil
		}
		rec.Fields = make(map[string]*StructRecord)
		fl, err := lookupFieldList(g, t.Composite.Fields)
		if err != nil {
			// A composite with no resolvable fieldlist still has a
			// valid size/name; just no children.
			return rec, nil
		}
		for _, f := range fl.Fields {
			switch {
			case f.Member != nil:
				mEntry, err := g.LookupByID(f.Member.Type)
				if err != nil {
					continue
				}
				child, err := layoutType(g, mEntry, f.Member.Name, addr+f.Member.Offset, recursive, depth+1)
				if err != nil {
					continue
				}
				rec.Fields[f.Member.Name] = child
			case f.NestType != nil, f.StMember != nil:
				// Nested types and static members carry no instance
				// storage; skipped per §4.7.
			}
		}

	case t.Array != nil:
		elemEntry, err := g.LookupByID(t.Array.ElemType)
		if err != nil {
			return rec, nil
		}
		elemSize := g.SizeOf(elemEntry)
		if elemSize <= 0 {
			return rec, nil
		}
		count := t.Array.Size / elemSize
		for i := int64(0); i < count; i++ {
			child, err := layoutType(g, elemEntry, "", addr+i*elemSize, recursive, depth+1)
			if err != nil {
				continue
			}
			rec.Elements = append(rec.Elements, child)
		}

	case t.Bitfield != nil:
		baseEntry, err := g.LookupByID(t.Bitfield.BaseType)
		if err == nil {
			rec.HasSign = baseEntry.Primitive != nil && baseEntry.Primitive.HasSign
		}
		rec.HasBitfield = true
		rec.BitOffset = t.Bitfield.Position
		rec.BitSize = t.Bitfield.Length

	case t.Pointer != nil:
		rec.IsPointer = true
		pointee, err := g.LookupByID(t.Pointer.Utype)
		if err == nil && pointee.Type != nil && pointee.Type.Procedure != nil {
			rec.IsFuncPtr = true
		}

	case t.Enum != nil:
		// Values are retrieved via the fieldlist on request; no
		// children descended by default per §4.7.

	case t.Modifier != nil:
		modEntry, err := g.LookupByID(t.Modifier.ModifiedType)
		if err != nil {
			return rec, nil
		}
		child, err := layoutType(g, modEntry, level, addr, recursive, depth)
		if err != nil {
			return rec, nil
		}
		child.Level = level
		child.Type = rec.Type
		return child, nil
	}

	return rec, nil
}

func lookupFieldList(g *tpi.Graph, idx tpi.Index) (*tpi.FieldList, error) {
	e, err := g.LookupByID(idx)
	if err != nil {
		return nil, err
	}
	if e.Type == nil || e.Type.FieldList == nil {
		return nil, errs.New("pdbparse.fieldlist", errs.UnknownType, nil)
	}
	return e.Type.FieldList, nil
}

// derefPointer resolves ptr's pointee type and lays it out at addr, per
// §4.7's pointer-dereference rule.
func derefPointer(g *tpi.Graph, e *tpi.Entry, addr int64) (*StructRecord, error) {
	if e == nil || e.Type == nil || e.Type.Pointer == nil {
		return nil, errs.New("pdbparse.deref", errs.NotAPointer, nil)
	}
	pointee, err := g.LookupByID(e.Type.Pointer.Utype)
	if err != nil {
		return nil, err
	}
	return layoutType(g, pointee, "", addr, true, 0)
}
