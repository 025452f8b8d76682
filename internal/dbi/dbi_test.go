// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package dbi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i32(v int32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, uint32(v)); return b }
func u32b(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func u16b(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func i16b(v int16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, uint16(v)); return b }

// buildDBI assembles a minimal 64-byte DBI header with every
// substream empty except the optional debug header, which carries
// secHdrOrig/omapFromSrc so callers can exercise §4.8's OMAP path
// selection.
func buildDBI(machine uint16, secHdrOrig, omapFromSrc int16) []byte {
	debugHdr := []byte{}
	for i := 0; i < 11; i++ {
		debugHdr = append(debugHdr, i16b(-1)...)
	}
	// overwrite SectionHdrOrig (index 10) and OmapFromSrc (index 4)
	binary.LittleEndian.PutUint16(debugHdr[4*2:], uint16(omapFromSrc))
	binary.LittleEndian.PutUint16(debugHdr[10*2:], uint16(secHdrOrig))

	var h []byte
	h = append(h, i32(-1)...)     // VersionSignature
	h = append(h, u32b(0)...)     // VersionHeader
	h = append(h, u32b(1)...)     // Age
	h = append(h, u16b(0)...)     // GlobalStreamIndex
	h = append(h, u16b(0)...)     // BuildNumber
	h = append(h, u16b(0)...)     // PublicStreamIndex
	h = append(h, u16b(0)...)     // PDBDllVersion
	h = append(h, u16b(7)...)     // SymRecordStream
	h = append(h, u16b(0)...)     // PDBDllRbld
	h = append(h, i32(0)...)      // ModInfoSize
	h = append(h, i32(0)...)      // SectionContribSize
	h = append(h, i32(0)...)      // SectionMapSize
	h = append(h, i32(0)...)      // SourceInfoSize
	h = append(h, i32(0)...)      // TypeServerMapSize
	h = append(h, u32b(0)...)     // MFCTypeServerIndex
	h = append(h, i32(int32(len(debugHdr)))...) // OptionalDbgHeaderSize
	h = append(h, i32(0)...)      // ECSubstreamSize
	h = append(h, u16b(0)...)     // Flags
	h = append(h, u16b(machine)...) // Machine
	h = append(h, u32b(0)...)     // Padding

	return append(h, debugHdr...)
}

func TestParseDecodesMachineAndDebugHeader(t *testing.T) {
	s, err := Parse(buildDBI(uint16(MachineAMD64), 5, 6))
	require.NoError(t, err)

	assert.Equal(t, MachineAMD64, s.Machine)
	assert.EqualValues(t, 8, s.Machine.PointerWidth())
	assert.True(t, s.DbgHdr.HasSectionHdrOrig())
	assert.True(t, s.DbgHdr.HasOmapFromSrc())
	assert.EqualValues(t, 5, s.DbgHdr.SectionHdrOrig)
	assert.EqualValues(t, 6, s.DbgHdr.OmapFromSrc)
}

func TestParseRejectsBadVersionSignature(t *testing.T) {
	buf := buildDBI(uint16(MachineI386), -1, -1)
	binary.LittleEndian.PutUint32(buf[0:], 0) // corrupt VersionSignature away from -1
	_, err := Parse(buf)
	assert.Error(t, err)
}

func TestOptionalDbgHeaderAbsentByDefault(t *testing.T) {
	s, err := Parse(buildDBI(uint16(MachineI386), -1, -1))
	require.NoError(t, err)
	assert.False(t, s.DbgHdr.HasSectionHdrOrig())
	assert.False(t, s.DbgHdr.HasOmapFromSrc())
}
