// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package pdbparse

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukyouz/pdbparse/internal/tpi"
)

func le16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func lestr(s string) []byte { return append([]byte(s), 0) }

func leRecord(kind tpi.LeafKind, payload []byte) []byte {
	body := append(le16(uint16(kind)), payload...)
	return append(le16(uint16(len(body))), body...)
}

// buildPointToStructGraph builds: index 0x1000 a two-member struct
// {x int, y int}, index 0x1001 its fieldlist, index 0x1002 a pointer
// to the struct. Returns the graph plus the indices.
func buildPointToStructGraph(t *testing.T) (*tpi.Graph, tpi.Index, tpi.Index) {
	const begin = tpi.Index(0x1000)
	const structIdx = begin
	const fieldListIdx = begin + 1
	const ptrIdx = begin + 2

	member := func(typ uint32, offset uint16, name string) []byte {
		b := le16(0)
		b = append(b, le32(typ)...)
		b = append(b, le16(offset)...)
		b = append(b, lestr(name)...)
		return b
	}

	fieldListPayload := append(le16(uint16(0x150d)), member(0x74, 0, "x")...) // LF_MEMBER
	fieldListPayload = append(fieldListPayload, le16(uint16(0x150d))...)
	fieldListPayload = append(fieldListPayload, member(0x74, 4, "y")...)

	structPayload := le16(0)                   // count
	structPayload = append(structPayload, le16(0)...) // property
	structPayload = append(structPayload, le32(uint32(fieldListIdx))...)
	structPayload = append(structPayload, le32(0)...) // derived
	structPayload = append(structPayload, le32(0)...) // vshape
	structPayload = append(structPayload, le16(8)...) // size
	structPayload = append(structPayload, lestr("Point")...)

	var data []byte
	data = append(data, leRecord(0x1505, structPayload)...) // LF_STRUCTURE
	data = append(data, leRecord(0x1203, fieldListPayload)...) // LF_FIELDLIST
	data = append(data, leRecord(0x1002, append(le32(uint32(structIdx)), le32(0)...))...) // LF_POINTER

	header := tpi.Header{HeaderSize: 0, TypeIndexBegin: uint32(begin), TypeIndexEnd: uint32(ptrIdx) + 1}
	g, err := tpi.Decode(data, header, 8, nil)
	require.NoError(t, err)
	return g, structIdx, ptrIdx
}

func TestLayoutComposite(t *testing.T) {
	g, structIdx, _ := buildPointToStructGraph(t)
	e, err := g.LookupByID(structIdx)
	require.NoError(t, err)

	rec, err := layoutType(g, e, "Point", 0x1000, true, 0)
	require.NoError(t, err)

	assert.Equal(t, "Point", rec.Type)
	assert.EqualValues(t, 8, rec.Size)
	require.Contains(t, rec.Fields, "x")
	require.Contains(t, rec.Fields, "y")
	assert.EqualValues(t, 0x1000, rec.Fields["x"].Address)
	assert.EqualValues(t, 0x1004, rec.Fields["y"].Address)
}

func TestLayoutNonRecursiveOmitsNestedFields(t *testing.T) {
	g, structIdx, _ := buildPointToStructGraph(t)
	e, err := g.LookupByID(structIdx)
	require.NoError(t, err)

	rec2, err := layoutType(g, e, "Point", 0, false, 0)
	require.NoError(t, err)
	assert.NotNil(t, rec2.Fields, "the root of a non-recursive layout still gets its own fields")

	for _, child := range rec2.Fields {
		assert.Nil(t, child.Fields, "fields below the root are not expanded when recursive=false")
	}
}

func TestDerefPointerLaysOutPointee(t *testing.T) {
	g, _, ptrIdx := buildPointToStructGraph(t)
	e, err := g.LookupByID(ptrIdx)
	require.NoError(t, err)

	rec, err := derefPointer(g, e, 0x4000)
	require.NoError(t, err)
	assert.Equal(t, "Point", rec.Type)
	assert.EqualValues(t, 0x4000, rec.Address)
}

func TestDerefPointerRejectsNonPointer(t *testing.T) {
	g, structIdx, _ := buildPointToStructGraph(t)
	e, err := g.LookupByID(structIdx)
	require.NoError(t, err)

	_, err = derefPointer(g, e, 0)
	assert.True(t, IsKind(err, NotAPointer))
}
