// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package omap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeEntries(entries []Entry) []byte {
	buf := make([]byte, len(entries)*8)
	for i, e := range entries {
		binary.LittleEndian.PutUint32(buf[i*8:], e.From)
		binary.LittleEndian.PutUint32(buf[i*8+4:], e.To)
	}
	return buf
}

func TestIdentityPassesThrough(t *testing.T) {
	tbl := Identity()
	assert.Equal(t, uint32(0x1000), tbl.Remap(0x1000))
}

func TestRemapWithinRange(t *testing.T) {
	tbl, err := Parse(encodeEntries([]Entry{
		{From: 0x1000, To: 0x2000},
		{From: 0x1100, To: 0x0},
		{From: 0x1200, To: 0x2100},
	}))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x2000), tbl.Remap(0x1000))
	assert.Equal(t, uint32(0x2050), tbl.Remap(0x1050))
	assert.Equal(t, uint32(0), tbl.Remap(0x1150), "addresses in a To==0 range are unmapped")
	assert.Equal(t, uint32(0x2110), tbl.Remap(0x1210))
}

func TestRemapBelowFirstEntryPassesThrough(t *testing.T) {
	tbl, err := Parse(encodeEntries([]Entry{{From: 0x1000, To: 0x2000}}))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x500), tbl.Remap(0x500))
}

func TestParseRejectsUnalignedBuffer(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	assert.Error(t, err)
}
