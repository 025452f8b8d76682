// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package tpi

// LeafKind tags a CodeView type record. Values match
// https://github.com/Microsoft/microsoft-pdb/blob/master/include/cvinfo.h.
type LeafKind uint16

// Leaf kinds this module decodes fully, plus a representative sample
// of the remaining ones retained as opaque bytes for texture.
const (
	LFModifier  LeafKind = 0x1001
	LFPointer   LeafKind = 0x1002
	LFProcedure LeafKind = 0x1008
	LFMFunction LeafKind = 0x1009

	LFArgList LeafKind = 0x1201

	LFFieldList LeafKind = 0x1203
	LFBitfield  LeafKind = 0x1205

	LFArrayST     LeafKind = 0x1003
	LFClassST     LeafKind = 0x1004
	LFStructureST LeafKind = 0x1005
	LFUnionST     LeafKind = 0x1006
	LFEnumST      LeafKind = 0x1007

	LFArray     LeafKind = 0x1503
	LFClass     LeafKind = 0x1504
	LFStructure LeafKind = 0x1505
	LFUnion     LeafKind = 0x1506
	LFEnum      LeafKind = 0x1507

	LFVTShape LeafKind = 0x000a

	// Fieldlist sub-record kinds.
	LFBClass    LeafKind = 0x1400
	LFIndex     LeafKind = 0x1404
	LFVFuncTab  LeafKind = 0x1409
	LFMemberST  LeafKind = 0x1405
	LFSTMemberST LeafKind = 0x1406
	LFMethodST  LeafKind = 0x1407
	LFNestTypeST LeafKind = 0x1408
	LFOneMethodST LeafKind = 0x140b

	LFEnumerate LeafKind = 0x1502
	LFMember    LeafKind = 0x150d
	LFSTMember  LeafKind = 0x150e
	LFMethod    LeafKind = 0x150f
	LFNestType  LeafKind = 0x1510
	LFOneMethod LeafKind = 0x1511
)

func (k LeafKind) String() string {
	names := map[LeafKind]string{
		LFModifier: "LF_MODIFIER", LFPointer: "LF_POINTER",
		LFProcedure: "LF_PROCEDURE", LFMFunction: "LF_MFUNCTION",
		LFArgList: "LF_ARGLIST", LFFieldList: "LF_FIELDLIST",
		LFBitfield: "LF_BITFIELD",
		LFArrayST: "LF_ARRAY_ST", LFClassST: "LF_CLASS_ST",
		LFStructureST: "LF_STRUCTURE_ST", LFUnionST: "LF_UNION_ST",
		LFEnumST: "LF_ENUM_ST",
		LFArray: "LF_ARRAY", LFClass: "LF_CLASS",
		LFStructure: "LF_STRUCTURE", LFUnion: "LF_UNION", LFEnum: "LF_ENUM",
		LFVTShape: "LF_VTSHAPE",
		LFBClass:  "LF_BCLASS", LFIndex: "LF_INDEX", LFVFuncTab: "LF_VFUNCTAB",
		LFMemberST: "LF_MEMBER_ST", LFSTMemberST: "LF_STMEMBER_ST",
		LFMethodST: "LF_METHOD_ST", LFNestTypeST: "LF_NESTTYPE_ST",
		LFOneMethodST: "LF_ONEMETHOD_ST",
		LFEnumerate: "LF_ENUMERATE", LFMember: "LF_MEMBER",
		LFSTMember: "LF_STMEMBER", LFMethod: "LF_METHOD",
		LFNestType: "LF_NESTTYPE", LFOneMethod: "LF_ONEMETHOD",
	}
	if s, ok := names[k]; ok {
		return s
	}
	return "LF_UNKNOWN"
}

// isComposite reports whether k is one of the class/struct/union
// leaf kinds eligible for forward-reference resolution.
func isComposite(k LeafKind) bool {
	switch k {
	case LFClass, LFStructure, LFClassST, LFStructureST, LFUnion, LFUnionST:
		return true
	}
	return false
}

func isSTVariant(k LeafKind) bool {
	switch k {
	case LFArrayST, LFClassST, LFStructureST, LFUnionST, LFEnumST:
		return true
	}
	return false
}
