// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package msf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalMSF assembles a tiny MSF image with a single non-empty
// stream holding payload, laid out as:
//
//	page 0: magic + superblock
//	page 1: block-map page (lists the directory's own pages)
//	page 2: stream directory (numStreams, sizes[], pages[][])
//	page 3: the payload stream's single page
func buildMinimalMSF(payload []byte) []byte {
	const blockSize = 512
	buf := make([]byte, blockSize*4)

	copy(buf, Magic)
	sb := make([]byte, 24)
	binary.LittleEndian.PutUint32(sb[0:], blockSize)   // BlockSize
	binary.LittleEndian.PutUint32(sb[4:], 0)           // FreeBlockMapBlock
	binary.LittleEndian.PutUint32(sb[8:], 4)           // NumBlocks

	var dir []byte
	dir = appendU32(dir, 1) // numStreams
	dir = appendU32(dir, uint32(len(payload)))
	dir = appendU32(dir, 3) // payload lives in page 3
	binary.LittleEndian.PutUint32(sb[12:], uint32(len(dir))) // NumDirectoryBytes
	binary.LittleEndian.PutUint32(sb[16:], 0)                // Reserved
	binary.LittleEndian.PutUint32(sb[20:], 1)                // BlockMapAddr = page 1
	copy(buf[32:56], sb)

	binary.LittleEndian.PutUint32(buf[blockSize:], 2) // block-map page: directory is in page 2
	copy(buf[blockSize*2:], dir)
	copy(buf[blockSize*3:], payload)

	return buf
}

func appendU32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func TestOpenBytesRoundTripsAStream(t *testing.T) {
	payload := []byte("hello pdb")
	f, err := OpenBytes(buildMinimalMSF(payload))
	require.NoError(t, err)
	defer f.Close()

	require.True(t, f.HasStream(0))
	got, err := f.ReadStream(0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpenBytesRejectsBadMagic(t *testing.T) {
	data := make([]byte, 64)
	_, err := OpenBytes(data)
	assert.Error(t, err)
}

func TestReadStreamNoSuchStream(t *testing.T) {
	f, err := OpenBytes(buildMinimalMSF([]byte("x")))
	require.NoError(t, err)
	defer f.Close()

	_, err = f.ReadStream(99)
	assert.Error(t, err)
}
