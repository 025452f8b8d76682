// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package pdbparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukyouz/pdbparse/internal/omap"
	"github.com/ukyouz/pdbparse/internal/pesection"
	"github.com/ukyouz/pdbparse/internal/symbols"
	"github.com/ukyouz/pdbparse/internal/tpi"
)

func sectionTable(vaddrs ...uint32) []pesection.ImageSectionHeader {
	out := make([]pesection.ImageSectionHeader, len(vaddrs))
	for i, va := range vaddrs {
		out[i] = pesection.ImageSectionHeader{VirtualAddress: va}
	}
	return out
}

// TestResolveAndNameAtRoundTrip exercises scenario #5: an S_GDATA32
// global resolves to its type and a remapped address, and name_at on
// that same address finds the symbol back.
func TestResolveAndNameAtRoundTrip(t *testing.T) {
	header := tpi.Header{HeaderSize: 0, TypeIndexBegin: 0x1000, TypeIndexEnd: 0x1000}
	graph, err := tpi.Decode(nil, header, 4, nil)
	require.NoError(t, err)

	global := &symbols.GlobalIndex{
		Data: map[string]symbols.DataSym{
			"g_counter": {TypInd: 0x74, Offset: 0x20, Section: 1}, // T_INT4
		},
		ProcRef: map[string]symbols.RefSym{},
		UDT:     map[string]symbols.UDTSym{},
	}

	r := newResolver(sectionTable(0x2000), omap.Identity(), global, nil, nil, graph, nil)

	typ, addr, err := r.resolve("g_counter")
	require.NoError(t, err)
	require.NotNil(t, typ)
	assert.Equal(t, "T_INT4", graph.TypeName(typ))
	assert.EqualValues(t, 0x2020, addr)

	name, ok := r.nameAt(0x2020)
	require.True(t, ok)
	assert.Equal(t, "g_counter", name)
}

// TestResolveViaProcRef exercises an S_PROCREF-mediated resolution:
// the global stream only carries a reference into a module's private
// symbol list.
func TestResolveViaProcRef(t *testing.T) {
	header := tpi.Header{HeaderSize: 0, TypeIndexBegin: 0x1000, TypeIndexEnd: 0x1000}
	graph, err := tpi.Decode(nil, header, 4, nil)
	require.NoError(t, err)

	global := &symbols.GlobalIndex{
		Data:    map[string]symbols.DataSym{},
		ProcRef: map[string]symbols.RefSym{"DoWork": {IMod: 1}},
		UDT:     map[string]symbols.UDTSym{},
	}
	modSyms := map[uint16][]symbols.ModuleSymbol{
		1: {{Name: "DoWork", HasAddr: true, Section: 1, Offset: 0x50}},
	}

	r := newResolver(sectionTable(0x1000), omap.Identity(), global, nil, modSyms, graph, nil)

	_, addr, err := r.resolve("DoWork")
	require.NoError(t, err)
	assert.EqualValues(t, 0x1050, addr)
}

// TestRemapBadSectionIndex exercises §4.8's BadSectionIndex edge case.
func TestRemapBadSectionIndex(t *testing.T) {
	r := newResolver(sectionTable(0x1000), omap.Identity(), nil, nil, nil, nil, nil)
	_, err := r.remap(5, 0)
	assert.True(t, IsKind(err, BadSectionIndex))
}

// TestSectionRemapThroughOMAP checks that remap passes the section's
// virtual address plus offset through a non-identity OMAP table.
func TestSectionRemapThroughOMAP(t *testing.T) {
	omapTable, err := omap.Parse(encodeOMAPEntries([]omap.Entry{
		{From: 0x3000, To: 0x4000},
	}))
	require.NoError(t, err)

	r := newResolver(sectionTable(0x3000), omapTable, nil, nil, nil, nil, nil)
	addr, err := r.remap(1, 0x10)
	require.NoError(t, err)
	assert.EqualValues(t, 0x4010, addr)
}

func encodeOMAPEntries(entries []omap.Entry) []byte {
	buf := make([]byte, len(entries)*8)
	for i, e := range entries {
		putU32(buf[i*8:], e.From)
		putU32(buf[i*8+4:], e.To)
	}
	return buf
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
