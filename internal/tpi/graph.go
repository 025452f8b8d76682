// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package tpi

import (
	"fmt"
	"strings"

	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/log"
	"github.com/ukyouz/pdbparse/internal/stream"
)

// Entry is a resolved type-graph lookup result: exactly one of
// Primitive or Type is set, mirroring §4.2's split between the fixed
// primitive table (indices below typeIndexBegin) and the decoded
// record table.
type Entry struct {
	Index     Index
	Primitive *Primitive
	Type      *Type
}

// Graph is the resolved CodeView type graph: every record decoded,
// forward references rewritten to their definitions, and derived
// size/name/layout queries available. It is built once and never
// mutated afterward, matching §4.9's frozen-after-construction Pdb.
type Graph struct {
	begin, end   Index
	types        map[Index]*Type
	byName       map[string]Index
	primitives   map[Index]Primitive
	pointerWidth int64
	logger       *log.Helper
}

// Decode parses the TPI stream body (header already stripped from the
// byte-offset bookkeeping but present in data) into a resolved Graph.
func Decode(data []byte, header Header, pointerWidth int64, logger *log.Helper) (*Graph, error) {
	if logger == nil {
		logger = log.NewHelper(nil)
	}
	g := &Graph{
		begin:        Index(header.TypeIndexBegin),
		end:          Index(header.TypeIndexEnd),
		types:        make(map[Index]*Type),
		primitives:   BuildPrimitiveTable(),
		pointerWidth: pointerWidth,
		logger:       logger,
	}

	if uint64(header.HeaderSize) > uint64(len(data)) {
		return nil, errs.New("tpi.decode", errs.TruncatedRecord, nil)
	}
	r := stream.New(data[header.HeaderSize:])

	idx := g.begin
	for r.Remaining() > 0 {
		length, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("tpi.decode", errs.TruncatedRecord, err)
		}
		recBytes, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, errs.New("tpi.decode", errs.TruncatedRecord, err)
		}

		rr := stream.New(recBytes)
		kindVal, err := rr.ReadU16()
		if err != nil {
			return nil, errs.New("tpi.decode", errs.TruncatedRecord, err)
		}
		payload, _ := rr.ReadBytes(rr.Remaining())

		kind := LeafKind(kindVal)
		t, derr := decodeRecord(idx, kind, payload)
		if derr != nil {
			g.logger.Warnf("tpi: skipping malformed type %d (%s): %v", uint32(idx), kind, derr)
			t = &Type{Index: idx, Kind: kind, Raw: payload}
		}
		g.types[idx] = t
		idx++
	}

	g.resolveForwardRefs()
	g.buildNameIndex()
	return g, nil
}

func (g *Graph) buildNameIndex() {
	g.byName = make(map[string]Index, len(g.types))
	for idx, t := range g.types {
		if t.Composite != nil {
			g.byName[t.Composite.Name] = idx
		} else if t.Enum != nil {
			g.byName[t.Enum.Name] = idx
		}
	}
}

// resolveForwardRefs implements §4.2's two-pass forward-reference
// resolution: join fwdref composites to their real definition by
// name, rewrite every reference-bearing attribute in the graph, then
// drop the fwdref records.
func (g *Graph) resolveForwardRefs() {
	nameToFwdref := make(map[string]Index)
	for idx, t := range g.types {
		if t.Composite != nil && t.Composite.Property.Fwdref {
			nameToFwdref[t.Composite.Name] = idx
		}
	}

	fwdrefToReal := make(map[Index]Index)
	for idx, t := range g.types {
		if t.Composite != nil && !t.Composite.Property.Fwdref {
			if fwdIdx, ok := nameToFwdref[t.Composite.Name]; ok {
				fwdrefToReal[fwdIdx] = idx
			}
		}
	}

	for _, t := range g.types {
		rewriteRefs(t, fwdrefToReal)
	}

	for fwdIdx := range fwdrefToReal {
		delete(g.types, fwdIdx)
	}

	for name, fwdIdx := range nameToFwdref {
		if _, resolved := fwdrefToReal[fwdIdx]; !resolved {
			g.logger.Warnf("tpi: unresolved forward reference %q (type %d)", name, uint32(fwdIdx))
		}
	}
}

func remapIdx(idx Index, m map[Index]Index) Index {
	if r, ok := m[idx]; ok {
		return r
	}
	return idx
}

func rewriteRefs(t *Type, m map[Index]Index) {
	switch {
	case t.Modifier != nil:
		t.Modifier.ModifiedType = remapIdx(t.Modifier.ModifiedType, m)
	case t.Pointer != nil:
		t.Pointer.Utype = remapIdx(t.Pointer.Utype, m)
	case t.Procedure != nil:
		t.Procedure.ReturnType = remapIdx(t.Procedure.ReturnType, m)
		t.Procedure.ArgList = remapIdx(t.Procedure.ArgList, m)
	case t.ArgList != nil:
		for i, a := range t.ArgList.Args {
			t.ArgList.Args[i] = remapIdx(a, m)
		}
	case t.Array != nil:
		t.Array.ElemType = remapIdx(t.Array.ElemType, m)
		t.Array.IdxType = remapIdx(t.Array.IdxType, m)
	case t.Bitfield != nil:
		t.Bitfield.BaseType = remapIdx(t.Bitfield.BaseType, m)
	case t.Enum != nil:
		t.Enum.Utype = remapIdx(t.Enum.Utype, m)
		t.Enum.Fields = remapIdx(t.Enum.Fields, m)
	case t.Composite != nil:
		t.Composite.Fields = remapIdx(t.Composite.Fields, m)
		t.Composite.Derived = remapIdx(t.Composite.Derived, m)
		t.Composite.VShape = remapIdx(t.Composite.VShape, m)
	case t.FieldList != nil:
		for i := range t.FieldList.Fields {
			f := &t.FieldList.Fields[i]
			switch {
			case f.Member != nil:
				f.Member.Type = remapIdx(f.Member.Type, m)
			case f.BClass != nil:
				f.BClass.Index = remapIdx(f.BClass.Index, m)
			case f.VFuncTab != nil:
				f.VFuncTab.Type = remapIdx(f.VFuncTab.Type, m)
			case f.OneMethod != nil:
				f.OneMethod.Index = remapIdx(f.OneMethod.Index, m)
			case f.Method != nil:
				f.Method.MList = remapIdx(f.Method.MList, m)
			case f.NestType != nil:
				f.NestType.Type = remapIdx(f.NestType.Type, m)
			case f.StMember != nil:
				f.StMember.Index = remapIdx(f.StMember.Index, m)
			}
		}
	}
}

// PointerWidth reports the architecture pointer size (4 or 8) this
// graph was constructed with, per §9's replacement for the source's
// global ARCH_PTR_SIZE.
func (g *Graph) PointerWidth() int64 { return g.pointerWidth }

// LookupByID resolves a type index: the primitive table below
// typeIndexBegin, the dense record table otherwise.
func (g *Graph) LookupByID(idx Index) (*Entry, error) {
	if idx < g.begin {
		if p, ok := g.primitives[idx]; ok {
			pc := p
			return &Entry{Index: idx, Primitive: &pc}, nil
		}
		return nil, errs.New("tpi.lookupByID", errs.UnknownType, nil)
	}
	t, ok := g.types[idx]
	if !ok {
		return nil, errs.New("tpi.lookupByID", errs.UnknownType, nil)
	}
	return &Entry{Index: idx, Type: t}, nil
}

// LookupByName scans primitives then composites/enums by name.
func (g *Graph) LookupByName(name string) (*Entry, error) {
	for idx, p := range g.primitives {
		if p.Name == name {
			pc := p
			return &Entry{Index: idx, Primitive: &pc}, nil
		}
	}
	if idx, ok := g.byName[name]; ok {
		return g.LookupByID(idx)
	}
	return nil, errs.New("tpi.lookupByName", errs.UnknownType, nil)
}

// SizeOf implements §4.2's size_of rule.
func (g *Graph) SizeOf(e *Entry) int64 {
	if e == nil {
		return -1
	}
	if e.Primitive != nil {
		return e.Primitive.Size
	}
	t := e.Type
	switch {
	case t.Composite != nil:
		return t.Composite.Size
	case t.Array != nil:
		return t.Array.Size
	case t.Pointer != nil:
		return g.pointerWidth
	case t.Enum != nil:
		return 4
	case t.Bitfield != nil:
		base, err := g.LookupByID(t.Bitfield.BaseType)
		if err != nil {
			return -1
		}
		return g.SizeOf(base)
	case t.Modifier != nil:
		mod, err := g.LookupByID(t.Modifier.ModifiedType)
		if err != nil {
			return -1
		}
		return g.SizeOf(mod)
	default:
		return -1
	}
}

// TypeName implements §4.2's type_name rule.
func (g *Graph) TypeName(e *Entry) string {
	if e == nil {
		return "<nil>"
	}
	if e.Primitive != nil {
		return e.Primitive.Name
	}
	t := e.Type
	switch {
	case t.Composite != nil:
		return t.Composite.Name
	case t.Enum != nil:
		return t.Enum.Name
	case t.Pointer != nil:
		pointee, err := g.LookupByID(t.Pointer.Utype)
		if err != nil {
			return "void *"
		}
		if pointee.Type != nil && pointee.Type.Procedure != nil {
			return g.funcPointerName(pointee.Type.Procedure)
		}
		return g.TypeName(pointee) + " *"
	case t.Array != nil:
		elem, err := g.LookupByID(t.Array.ElemType)
		elemName := "?"
		if err == nil {
			elemName = g.TypeName(elem)
		}
		elemSize := int64(1)
		if err == nil {
			elemSize = g.SizeOf(elem)
		}
		count := int64(0)
		if elemSize > 0 {
			count = t.Array.Size / elemSize
		}
		if err == nil && elem.Type != nil && elem.Type.Pointer != nil {
			return fmt.Sprintf("(%s)[%d]", elemName, count)
		}
		return fmt.Sprintf("%s[%d]", elemName, count)
	case t.Modifier != nil:
		mod, err := g.LookupByID(t.Modifier.ModifiedType)
		base := "?"
		if err == nil {
			base = g.TypeName(mod)
		}
		var prefixes []string
		if t.Modifier.Const {
			prefixes = append(prefixes, "const")
		}
		if t.Modifier.Volatile {
			prefixes = append(prefixes, "volatile")
		}
		if t.Modifier.Unaligned {
			prefixes = append(prefixes, "unaligned")
		}
		prefixes = append(prefixes, base)
		return strings.Join(prefixes, " ")
	case t.Bitfield != nil:
		base, err := g.LookupByID(t.Bitfield.BaseType)
		if err != nil {
			return "?"
		}
		return g.TypeName(base)
	default:
		return t.Kind.String()
	}
}

func (g *Graph) funcPointerName(p *Procedure) string {
	ret, err := g.LookupByID(p.ReturnType)
	retName := "void"
	if err == nil {
		retName = g.TypeName(ret)
	}
	var args []string
	if al, err := g.LookupByID(p.ArgList); err == nil && al.Type != nil && al.Type.ArgList != nil {
		for _, a := range al.Type.ArgList.Args {
			ae, err := g.LookupByID(a)
			if err != nil {
				args = append(args, "?")
				continue
			}
			args = append(args, g.TypeName(ae))
		}
	}
	return fmt.Sprintf("%s (*)(%s)", retName, strings.Join(args, ", "))
}

// Types exposes the resolved record table for callers that need to
// walk every surviving type, e.g. invariant-checking tests.
func (g *Graph) Types() map[Index]*Type { return g.types }

// Begin reports typeIndexBegin.
func (g *Graph) Begin() Index { return g.begin }

// End reports typeIndexEnd.
func (g *Graph) End() Index { return g.end }
