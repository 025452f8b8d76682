// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package tpi

import (
	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/stream"
)

// Property decodes the leading bits of a composite/enum's property
// field. Only fwdref is load-bearing for §4.2's resolution pass; the
// rest are retained for completeness when pretty-printing a type.
type Property struct {
	Packed    bool
	Ctor      bool
	OvlOps    bool
	IsNested  bool
	CNested   bool
	OpAssign  bool
	OpCast    bool
	Fwdref    bool
	Scoped    bool
	HasUnique bool
	Sealed    bool
}

func decodeProperty(v uint16) Property {
	bit := func(n uint) bool { return v&(1<<n) != 0 }
	return Property{
		Packed: bit(0), Ctor: bit(1), OvlOps: bit(2), IsNested: bit(3),
		CNested: bit(4), OpAssign: bit(5), OpCast: bit(6), Fwdref: bit(7),
		Scoped: bit(8), HasUnique: bit(9), Sealed: bit(10),
	}
}

// Modifier is LF_MODIFIER: const/volatile/unaligned qualification of
// another type.
type Modifier struct {
	ModifiedType Index
	Const        bool
	Volatile     bool
	Unaligned    bool
}

// Pointer is LF_POINTER.
type Pointer struct {
	Utype Index
	Attr  uint32
}

// PointerMode extracts the 3-bit pointer mode (PTR_MODE_*) from Attr.
func (p Pointer) PointerMode() uint32 { return p.Attr & 0x7 }

// PointerKind extracts the 5-bit pointer type (PTR_NEAR, PTR_64, ...)
// from Attr.
func (p Pointer) PointerKind() uint32 { return (p.Attr >> 3) & 0x1F }

// Procedure is LF_PROCEDURE.
type Procedure struct {
	ReturnType Index
	CallType   uint8
	FuncAttr   uint8
	ParamCount uint16
	ArgList    Index
}

// ArgList is LF_ARGLIST.
type ArgList struct {
	Args []Index
}

// Array is LF_ARRAY/LF_ARRAY_ST.
type Array struct {
	ElemType Index
	IdxType  Index
	Size     int64
	Name     string
}

// Bitfield is LF_BITFIELD.
type Bitfield struct {
	BaseType Index
	Length   uint8
	Position uint8
}

// Composite is LF_CLASS/LF_STRUCTURE/LF_UNION and their _ST variants.
type Composite struct {
	Kind     LeafKind
	Count    uint16
	Property Property
	Fields   Index
	Derived  Index // 0 for unions
	VShape   Index // 0 for unions
	Size     int64
	Name     string
}

// Enum is LF_ENUM/LF_ENUM_ST.
type Enum struct {
	Count    uint16
	Property Property
	Utype    Index
	Fields   Index
	Name     string
}

// Member is an LF_MEMBER/LF_MEMBER_ST fieldlist sub-record.
type Member struct {
	Attr   uint16
	Type   Index
	Offset int64
	Name   string
}

// BClass is LF_BCLASS: a direct base class.
type BClass struct {
	Attr   uint16
	Index  Index
	Offset int64
}

// Enumerate is LF_ENUMERATE: one named enum value.
type Enumerate struct {
	Attr  uint16
	Value int64
	Name  string
}

// VFuncTab is LF_VFUNCTAB.
type VFuncTab struct {
	Type Index
}

// OneMethod is LF_ONEMETHOD.
type OneMethod struct {
	Attr  uint16
	Index Index
	Name  string
}

// Method is LF_METHOD: an overload set.
type Method struct {
	Count uint16
	MList Index
	Name  string
}

// NestType is LF_NESTTYPE.
type NestType struct {
	Type Index
	Name string
}

// StMember is LF_STMEMBER: a static data member.
type StMember struct {
	Attr  uint16
	Index Index
	Name  string
}

// Field is one decoded fieldlist sub-record. Exactly one of the
// pointer fields is non-nil, matching the leaf kind in Kind; unknown
// sub-record kinds are retained in Raw.
type Field struct {
	Kind      LeafKind
	Member    *Member
	BClass    *BClass
	Enumerate *Enumerate
	VFuncTab  *VFuncTab
	OneMethod *OneMethod
	Method    *Method
	NestType  *NestType
	StMember  *StMember
	Raw       []byte
}

// FieldList is LF_FIELDLIST: the member/base/method sequence a
// composite's Fields index points at.
type FieldList struct {
	Fields []Field
}

// Type is a fully decoded TPI record. Exactly one of the typed
// pointer fields is populated according to Kind; Raw always holds the
// original payload bytes so an unresolved or opaque leaf can still be
// inspected.
type Type struct {
	Index Index
	Kind  LeafKind
	Raw   []byte

	Modifier  *Modifier
	Pointer   *Pointer
	Procedure *Procedure
	ArgList   *ArgList
	Array     *Array
	Bitfield  *Bitfield
	FieldList *FieldList
	Enum      *Enum
	Composite *Composite
}

// decodeRecord dispatches on kind and fills exactly one typed field
// of Type, or leaves Raw populated for leaf kinds outside the
// MUST-decode list. Unsupported-but-required leaves (none today, all
// MUST leaves are implemented) would return an UnsupportedLeaf error;
// everything else degrades silently to Raw retention.
func decodeRecord(idx Index, kind LeafKind, payload []byte) (*Type, error) {
	t := &Type{Index: idx, Kind: kind, Raw: payload}
	r := stream.New(payload)

	switch kind {
	case LFModifier:
		modType, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_MODIFIER", errs.TruncatedRecord, err)
		}
		bits, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("tpi.LF_MODIFIER", errs.TruncatedRecord, err)
		}
		t.Modifier = &Modifier{
			ModifiedType: Index(modType),
			Unaligned:    bits&(1<<5) != 0,
			Volatile:     bits&(1<<6) != 0,
			Const:        bits&(1<<7) != 0,
		}

	case LFPointer:
		utype, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_POINTER", errs.TruncatedRecord, err)
		}
		attr, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_POINTER", errs.TruncatedRecord, err)
		}
		t.Pointer = &Pointer{Utype: Index(utype), Attr: attr}

	case LFProcedure:
		rv, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_PROCEDURE", errs.TruncatedRecord, err)
		}
		callType, err := r.ReadU8()
		if err != nil {
			return nil, errs.New("tpi.LF_PROCEDURE", errs.TruncatedRecord, err)
		}
		funcAttr, err := r.ReadU8()
		if err != nil {
			return nil, errs.New("tpi.LF_PROCEDURE", errs.TruncatedRecord, err)
		}
		paramCount, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("tpi.LF_PROCEDURE", errs.TruncatedRecord, err)
		}
		argList, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_PROCEDURE", errs.TruncatedRecord, err)
		}
		t.Procedure = &Procedure{
			ReturnType: Index(rv), CallType: callType, FuncAttr: funcAttr,
			ParamCount: paramCount, ArgList: Index(argList),
		}

	case LFArgList:
		count, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_ARGLIST", errs.TruncatedRecord, err)
		}
		args := make([]Index, count)
		for i := range args {
			v, err := r.ReadU32()
			if err != nil {
				return nil, errs.New("tpi.LF_ARGLIST", errs.TruncatedRecord, err)
			}
			args[i] = Index(v)
		}
		t.ArgList = &ArgList{Args: args}

	case LFBitfield:
		base, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_BITFIELD", errs.TruncatedRecord, err)
		}
		length, err := r.ReadU8()
		if err != nil {
			return nil, errs.New("tpi.LF_BITFIELD", errs.TruncatedRecord, err)
		}
		position, err := r.ReadU8()
		if err != nil {
			return nil, errs.New("tpi.LF_BITFIELD", errs.TruncatedRecord, err)
		}
		t.Bitfield = &Bitfield{BaseType: Index(base), Length: length, Position: position}

	case LFArray, LFArrayST:
		elem, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_ARRAY", errs.TruncatedRecord, err)
		}
		idxType, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_ARRAY", errs.TruncatedRecord, err)
		}
		size, name, err := readSizeAndName(r, kind)
		if err != nil {
			return nil, errs.New("tpi.LF_ARRAY", errs.TruncatedRecord, err)
		}
		t.Array = &Array{ElemType: Index(elem), IdxType: Index(idxType), Size: size, Name: name}

	case LFEnum, LFEnumST:
		count, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("tpi.LF_ENUM", errs.TruncatedRecord, err)
		}
		prop, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("tpi.LF_ENUM", errs.TruncatedRecord, err)
		}
		utype, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_ENUM", errs.TruncatedRecord, err)
		}
		fields, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.LF_ENUM", errs.TruncatedRecord, err)
		}
		name, err := readTrailingName(r, kind)
		if err != nil {
			return nil, errs.New("tpi.LF_ENUM", errs.TruncatedRecord, err)
		}
		t.Enum = &Enum{Count: count, Property: decodeProperty(prop), Utype: Index(utype), Fields: Index(fields), Name: name}

	case LFClass, LFStructure, LFClassST, LFStructureST:
		c, err := decodeComposite(r, kind, true)
		if err != nil {
			return nil, err
		}
		t.Composite = c

	case LFUnion, LFUnionST:
		c, err := decodeComposite(r, kind, false)
		if err != nil {
			return nil, err
		}
		t.Composite = c

	case LFFieldList:
		fl, err := decodeFieldList(r)
		if err != nil {
			return nil, err
		}
		t.FieldList = fl

	default:
		// Not in the MUST-decode list: retained as opaque bytes.
	}

	return t, nil
}

func decodeComposite(r *stream.Reader, kind LeafKind, hasDerivedVShape bool) (*Composite, error) {
	count, err := r.ReadU16()
	if err != nil {
		return nil, errs.New("tpi.composite", errs.TruncatedRecord, err)
	}
	prop, err := r.ReadU16()
	if err != nil {
		return nil, errs.New("tpi.composite", errs.TruncatedRecord, err)
	}
	fields, err := r.ReadU32()
	if err != nil {
		return nil, errs.New("tpi.composite", errs.TruncatedRecord, err)
	}
	var derived, vshape uint32
	if hasDerivedVShape {
		derived, err = r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.composite", errs.TruncatedRecord, err)
		}
		vshape, err = r.ReadU32()
		if err != nil {
			return nil, errs.New("tpi.composite", errs.TruncatedRecord, err)
		}
	}
	size, name, err := readSizeAndName(r, kind)
	if err != nil {
		return nil, errs.New("tpi.composite", errs.TruncatedRecord, err)
	}
	return &Composite{
		Kind: kind, Count: count, Property: decodeProperty(prop),
		Fields: Index(fields), Derived: Index(derived), VShape: Index(vshape),
		Size: size, Name: name,
	}, nil
}

// readSizeAndName reads the numeric-leaf "size" and following name for
// the non-ST form, or a plain u16 size plus Pascal-string name for the
// _ST form.
func readSizeAndName(r *stream.Reader, kind LeafKind) (int64, string, error) {
	if isSTVariant(kind) {
		size, err := r.ReadU16()
		if err != nil {
			return 0, "", err
		}
		name, err := r.ReadLengthPrefixedString()
		if err != nil {
			return 0, "", err
		}
		return int64(size), name, nil
	}
	n, name, err := r.ReadNumericWithName()
	if err != nil {
		return 0, "", err
	}
	return n.Int64(), name, nil
}

func readTrailingName(r *stream.Reader, kind LeafKind) (string, error) {
	if isSTVariant(kind) {
		return r.ReadLengthPrefixedString()
	}
	return r.ReadCString()
}

// decodeFieldList decodes the leaf-tagged sub-record sequence of an
// LF_FIELDLIST payload, aligning the cursor to 4 bytes after each
// sub-record via SkipPad.
func decodeFieldList(r *stream.Reader) (*FieldList, error) {
	var fl FieldList
	for r.Remaining() > 0 {
		kindVal, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("tpi.LF_FIELDLIST", errs.TruncatedRecord, err)
		}
		kind := LeafKind(kindVal)
		f, err := decodeFieldRecord(r, kind)
		if err != nil {
			return nil, err
		}
		fl.Fields = append(fl.Fields, f)
		if err := r.SkipPad(); err != nil {
			return nil, errs.New("tpi.LF_FIELDLIST", errs.TruncatedRecord, err)
		}
	}
	return &fl, nil
}

func decodeFieldRecord(r *stream.Reader, kind LeafKind) (Field, error) {
	switch kind {
	case LFMember, LFMemberST:
		attr, err := r.ReadU16()
		if err != nil {
			return Field{}, errs.New("tpi.LF_MEMBER", errs.TruncatedRecord, err)
		}
		typ, err := r.ReadU32()
		if err != nil {
			return Field{}, errs.New("tpi.LF_MEMBER", errs.TruncatedRecord, err)
		}
		var offset int64
		var name string
		if kind == LFMemberST {
			off, err := r.ReadU16()
			if err != nil {
				return Field{}, errs.New("tpi.LF_MEMBER_ST", errs.TruncatedRecord, err)
			}
			offset = int64(off)
			name, err = r.ReadLengthPrefixedString()
			if err != nil {
				return Field{}, errs.New("tpi.LF_MEMBER_ST", errs.TruncatedRecord, err)
			}
		} else {
			n, nm, err := r.ReadNumericWithName()
			if err != nil {
				return Field{}, errs.New("tpi.LF_MEMBER", errs.TruncatedRecord, err)
			}
			offset, name = n.Int64(), nm
		}
		return Field{Kind: kind, Member: &Member{Attr: attr, Type: Index(typ), Offset: offset, Name: name}}, nil

	case LFBClass:
		attr, err := r.ReadU16()
		if err != nil {
			return Field{}, errs.New("tpi.LF_BCLASS", errs.TruncatedRecord, err)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return Field{}, errs.New("tpi.LF_BCLASS", errs.TruncatedRecord, err)
		}
		n, err := r.ReadNumeric()
		if err != nil {
			return Field{}, errs.New("tpi.LF_BCLASS", errs.TruncatedRecord, err)
		}
		return Field{Kind: kind, BClass: &BClass{Attr: attr, Index: Index(idx), Offset: n.Int64()}}, nil

	case LFEnumerate:
		attr, err := r.ReadU16()
		if err != nil {
			return Field{}, errs.New("tpi.LF_ENUMERATE", errs.TruncatedRecord, err)
		}
		n, name, err := r.ReadNumericWithName()
		if err != nil {
			return Field{}, errs.New("tpi.LF_ENUMERATE", errs.TruncatedRecord, err)
		}
		return Field{Kind: kind, Enumerate: &Enumerate{Attr: attr, Value: n.Int64(), Name: name}}, nil

	case LFVFuncTab:
		if _, err := r.ReadU16(); err != nil { // 2 reserved bytes
			return Field{}, errs.New("tpi.LF_VFUNCTAB", errs.TruncatedRecord, err)
		}
		typ, err := r.ReadU32()
		if err != nil {
			return Field{}, errs.New("tpi.LF_VFUNCTAB", errs.TruncatedRecord, err)
		}
		return Field{Kind: kind, VFuncTab: &VFuncTab{Type: Index(typ)}}, nil

	case LFOneMethod, LFOneMethodST:
		attr, err := r.ReadU16()
		if err != nil {
			return Field{}, errs.New("tpi.LF_ONEMETHOD", errs.TruncatedRecord, err)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return Field{}, errs.New("tpi.LF_ONEMETHOD", errs.TruncatedRecord, err)
		}
		mprop := (attr >> 2) & 0x7
		if mprop == 4 || mprop == 6 { // MTintro / MTpureintro carry a vtable offset
			if _, err := r.ReadU32(); err != nil {
				return Field{}, errs.New("tpi.LF_ONEMETHOD", errs.TruncatedRecord, err)
			}
		}
		var name string
		if kind == LFOneMethodST {
			name, err = r.ReadLengthPrefixedString()
		} else {
			name, err = r.ReadCString()
		}
		if err != nil {
			return Field{}, errs.New("tpi.LF_ONEMETHOD", errs.TruncatedRecord, err)
		}
		return Field{Kind: kind, OneMethod: &OneMethod{Attr: attr, Index: Index(idx), Name: name}}, nil

	case LFMethod, LFMethodST:
		count, err := r.ReadU16()
		if err != nil {
			return Field{}, errs.New("tpi.LF_METHOD", errs.TruncatedRecord, err)
		}
		mlist, err := r.ReadU32()
		if err != nil {
			return Field{}, errs.New("tpi.LF_METHOD", errs.TruncatedRecord, err)
		}
		var name string
		if kind == LFMethodST {
			name, err = r.ReadLengthPrefixedString()
		} else {
			name, err = r.ReadCString()
		}
		if err != nil {
			return Field{}, errs.New("tpi.LF_METHOD", errs.TruncatedRecord, err)
		}
		return Field{Kind: kind, Method: &Method{Count: count, MList: Index(mlist), Name: name}}, nil

	case LFNestType, LFNestTypeST:
		if _, err := r.ReadU16(); err != nil { // 2 reserved bytes
			return Field{}, errs.New("tpi.LF_NESTTYPE", errs.TruncatedRecord, err)
		}
		typ, err := r.ReadU32()
		if err != nil {
			return Field{}, errs.New("tpi.LF_NESTTYPE", errs.TruncatedRecord, err)
		}
		var name string
		if kind == LFNestTypeST {
			name, err = r.ReadLengthPrefixedString()
		} else {
			name, err = r.ReadCString()
		}
		if err != nil {
			return Field{}, errs.New("tpi.LF_NESTTYPE", errs.TruncatedRecord, err)
		}
		return Field{Kind: kind, NestType: &NestType{Type: Index(typ), Name: name}}, nil

	case LFSTMember, LFSTMemberST:
		attr, err := r.ReadU16()
		if err != nil {
			return Field{}, errs.New("tpi.LF_STMEMBER", errs.TruncatedRecord, err)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return Field{}, errs.New("tpi.LF_STMEMBER", errs.TruncatedRecord, err)
		}
		var name string
		if kind == LFSTMemberST {
			name, err = r.ReadLengthPrefixedString()
		} else {
			name, err = r.ReadCString()
		}
		if err != nil {
			return Field{}, errs.New("tpi.LF_STMEMBER", errs.TruncatedRecord, err)
		}
		return Field{Kind: kind, StMember: &StMember{Attr: attr, Index: Index(idx), Name: name}}, nil

	default:
		// Unknown sub-record kind: the rest of the fieldlist is
		// effectively unreadable since we don't know this shape's
		// length, so stop here rather than mis-frame. Record what's
		// left as raw and drain the reader.
		rest, _ := r.ReadBytes(r.Remaining())
		return Field{Kind: kind, Raw: rest}, nil
	}
}
