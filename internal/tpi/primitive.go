// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package tpi

// Index is a CodeView type index. Indices below a graph's
// typeIndexBegin name built-in primitives; indices at or above it
// name records decoded from the TPI stream body.
type Index uint32

// Primitive describes a built-in base type addressed by a type index
// below typeIndexBegin. The low byte of the index names the base
// type; bits 8-11 encode pointer mode (0 = value, 4 = 32-bit pointer,
// 6 = 64-bit pointer), per §4.2's primitive index convention.
type Primitive struct {
	Name    string
	Size    int64
	HasSign bool
	IsPtr   bool
	IsReal  bool
	Utype   Index // base type this pointer-mode variant points to
}

// baseTypes is the fixed low-byte → primitive mapping, independent of
// pointer mode, ported from the CodeView base-type enumeration
// (T_NOTYPE .. T_CHAR32) named in cvinfo.h.
var baseTypes = map[Index]Primitive{
	0x00: {Name: "T_NOTYPE"},
	0x03: {Name: "T_VOID", Size: 4},
	0x08: {Name: "T_HRESULT", Size: 4},
	0x10: {Name: "T_CHAR", Size: 1, HasSign: true},
	0x11: {Name: "T_SHORT", Size: 2, HasSign: true},
	0x12: {Name: "T_LONG", Size: 4, HasSign: true},
	0x13: {Name: "T_QUAD", Size: 8, HasSign: true},
	0x20: {Name: "T_UCHAR", Size: 1},
	0x21: {Name: "T_USHORT", Size: 2},
	0x22: {Name: "T_ULONG", Size: 4},
	0x23: {Name: "T_UQUAD", Size: 8},
	0x30: {Name: "T_BOOL08", Size: 1},
	0x40: {Name: "T_REAL32", Size: 4, HasSign: true, IsReal: true},
	0x41: {Name: "T_REAL64", Size: 8, HasSign: true, IsReal: true},
	0x42: {Name: "T_REAL80", Size: 10, HasSign: true, IsReal: true},
	0x70: {Name: "T_RCHAR", Size: 1},
	0x71: {Name: "T_WCHAR", Size: 2},
	0x74: {Name: "T_INT4", Size: 4, HasSign: true},
	0x75: {Name: "T_UINT4", Size: 4},
	0x77: {Name: "T_UINT8", Size: 8},
	0x7A: {Name: "T_CHAR16", Size: 2},
	0x7B: {Name: "T_CHAR32", Size: 4},
}

// pointerModes maps the bits 8-11 pointer-mode nibble to the pointer
// width it denotes (0 for a plain value).
var pointerModes = map[Index]int64{
	0x0: 0, // value, no indirection
	0x4: 4,
	0x6: 8,
}

// BuildPrimitiveTable synthesizes every primitive index below
// typeIndexBegin: the bare base types plus their 32-bit/64-bit
// pointer variants, e.g. T_32PVOID (0x0403) and T_64PVOID (0x0603).
func BuildPrimitiveTable() map[Index]Primitive {
	table := make(map[Index]Primitive, len(baseTypes)*3)
	for baseIdx, base := range baseTypes {
		table[baseIdx] = base
		for modeNibble, width := range pointerModes {
			if modeNibble == 0 {
				continue
			}
			idx := baseIdx | (modeNibble << 8)
			name := "T_32P" + base.Name[2:]
			if width == 8 {
				name = "T_64P" + base.Name[2:]
			}
			table[idx] = Primitive{
				Name:  name,
				Size:  width,
				IsPtr: true,
				Utype: baseIdx,
			}
		}
	}
	return table
}

// LookupPrimitive resolves a type index below typeIndexBegin. The
// caller is expected to have already checked idx < typeIndexBegin.
func LookupPrimitive(table map[Index]Primitive, idx Index) (Primitive, bool) {
	p, ok := table[idx]
	return p, ok
}
