// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package tpi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(kind LeafKind, payload []byte) []byte {
	body := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(body, uint16(kind))
	copy(body[2:], payload)

	out := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	return out
}

func u16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func cstr(s string) []byte { return append([]byte(s), 0) }

func compositePayload(prop uint16, fields, derived, vshape uint32, size uint16, name string) []byte {
	var b []byte
	b = append(b, u16(0)...)     // count
	b = append(b, u16(prop)...)  // property
	b = append(b, u32(fields)...)
	b = append(b, u32(derived)...)
	b = append(b, u32(vshape)...)
	b = append(b, u16(size)...) // numeric leaf raw form (<0x8000)
	b = append(b, cstr(name)...)
	return b
}

func memberField(typ uint32, offset uint16, name string) []byte {
	var b []byte
	b = append(b, u16(0)...) // attr
	b = append(b, u32(typ)...)
	b = append(b, u16(offset)...)
	b = append(b, cstr(name)...)
	return b
}

// TestForwardReferenceResolution builds a fwdref "Foo" at one index and
// its real definition at another, plus a pointer naming the fwdref, and
// confirms resolution rewrites the pointer to the real definition and
// the fwdref itself is dropped from the graph.
func TestForwardReferenceResolution(t *testing.T) {
	const begin = Index(0x1000)
	const fwdIdx = begin     // LF_STRUCTURE "Foo", fwdref
	const fieldListIdx = begin + 1
	const realIdx = begin + 2 // LF_STRUCTURE "Foo", real
	const ptrIdx = begin + 3  // LF_POINTER -> fwdIdx

	const fwdref uint16 = 1 << 7

	var data []byte
	data = append(data, record(LFStructure, compositePayload(fwdref, 0, 0, 0, 0, "Foo"))...)
	data = append(data, record(LFFieldList, func() []byte {
		kindAndBody := make([]byte, 2)
		binary.LittleEndian.PutUint16(kindAndBody, uint16(LFMember))
		return append(kindAndBody, memberField(0x74, 0, "x")...)
	}())...)
	data = append(data, record(LFStructure, compositePayload(0, uint32(fieldListIdx), 0, 0, 4, "Foo"))...)
	data = append(data, record(LFPointer, append(u32(uint32(fwdIdx)), u32(0)...))...)

	header := Header{HeaderSize: 0, TypeIndexBegin: uint32(begin), TypeIndexEnd: uint32(ptrIdx) + 1}
	g, err := Decode(data, header, 8, nil)
	require.NoError(t, err)

	_, err = g.LookupByID(fwdIdx)
	assert.Error(t, err, "the fwdref record should have been dropped")

	real, err := g.LookupByID(realIdx)
	require.NoError(t, err)
	assert.Equal(t, "Foo", g.TypeName(real))
	assert.EqualValues(t, 4, g.SizeOf(real))

	ptr, err := g.LookupByID(ptrIdx)
	require.NoError(t, err)
	assert.Equal(t, realIdx, ptr.Type.Pointer.Utype, "pointer should now reference the real definition")

	byName, err := g.LookupByName("Foo")
	require.NoError(t, err)
	assert.Equal(t, realIdx, byName.Index)
}

func TestLookupPrimitive(t *testing.T) {
	header := Header{HeaderSize: 0, TypeIndexBegin: 0x1000, TypeIndexEnd: 0x1000}
	g, err := Decode(nil, header, 8, nil)
	require.NoError(t, err)

	e, err := g.LookupByID(0x74) // T_INT4
	require.NoError(t, err)
	assert.Equal(t, "T_INT4", g.TypeName(e))
	assert.EqualValues(t, 4, g.SizeOf(e))

	ptrE, err := g.LookupByID(0x0674) // 64-bit pointer to T_INT4
	require.NoError(t, err)
	assert.True(t, ptrE.Primitive.IsPtr)
	assert.EqualValues(t, 8, g.SizeOf(ptrE))
}
