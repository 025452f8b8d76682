// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package symbols

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeGData32 builds one [length u16][record] entry for S_GDATA32:
// kind u16, typind u32, offset u32, section u16, name cstring.
func encodeGData32(typind uint32, offset uint32, section uint16, name string) []byte {
	body := make([]byte, 2+4+4+2+len(name)+1)
	binary.LittleEndian.PutUint16(body[0:], uint16(SGData32))
	binary.LittleEndian.PutUint32(body[2:], typind)
	binary.LittleEndian.PutUint32(body[6:], offset)
	binary.LittleEndian.PutUint16(body[10:], section)
	copy(body[12:], name)

	out := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(out[0:], uint16(len(body)))
	copy(out[2:], body)
	return out
}

func TestParseGlobalStreamDecodesGData32(t *testing.T) {
	buf := encodeGData32(0x1234, 0x100, 1, "g_counter")

	idx, err := ParseGlobalStream(buf, true, nil)
	require.NoError(t, err)
	require.Contains(t, idx.Data, "g_counter")
	assert.EqualValues(t, 0x1234, idx.Data["g_counter"].TypInd)
	assert.EqualValues(t, 0x100, idx.Data["g_counter"].Offset)
	assert.EqualValues(t, 1, idx.Data["g_counter"].Section)
}

func TestParseGlobalStreamFiltersStdNames(t *testing.T) {
	buf := encodeGData32(1, 0, 1, "std::allocator")
	idx, err := ParseGlobalStream(buf, true, nil)
	require.NoError(t, err)
	assert.NotContains(t, idx.Data, "std::allocator")
}

func TestParseGlobalStreamKeepsStdNamesWhenFilterDisabled(t *testing.T) {
	buf := encodeGData32(1, 0, 1, "std::allocator")
	idx, err := ParseGlobalStream(buf, false, nil)
	require.NoError(t, err)
	assert.Contains(t, idx.Data, "std::allocator")
}

func TestParseGlobalStreamLastWinsRecordsDuplicate(t *testing.T) {
	var buf []byte
	buf = append(buf, encodeGData32(1, 0x10, 1, "g_x")...)
	buf = append(buf, encodeGData32(2, 0x20, 1, "g_x")...)

	idx, err := ParseGlobalStream(buf, true, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, idx.Data["g_x"].TypInd)
	assert.Contains(t, idx.Duplicates, "g_x")
}
