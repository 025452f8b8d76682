// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadNumericRawU16(t *testing.T) {
	r := New([]byte{0x2a, 0x00})
	n, err := r.ReadNumeric()
	require.NoError(t, err)
	assert.False(t, n.HasSign)
	assert.Equal(t, uint64(0x2a), n.Uint64())
}

func TestReadNumericLFLongNegative(t *testing.T) {
	// 0x8003 (LF_LONG tag) followed by the little-endian bytes of
	// -2147483647.
	r := New([]byte{0x03, 0x80, 0x01, 0x00, 0x00, 0x80})
	n, err := r.ReadNumeric()
	require.NoError(t, err)
	assert.True(t, n.HasSign)
	assert.EqualValues(t, -2147483647, n.Int64())
}

func TestReadNumericLFUQuadword(t *testing.T) {
	r := New([]byte{0x0a, 0x80, 1, 0, 0, 0, 0, 0, 0, 0})
	n, err := r.ReadNumeric()
	require.NoError(t, err)
	assert.False(t, n.HasSign)
	assert.EqualValues(t, 1, n.Uint64())
}

func TestReadNumericTruncated(t *testing.T) {
	r := New([]byte{0x03, 0x80, 0x01})
	_, err := r.ReadNumeric()
	assert.Error(t, err)
}

func TestAlign(t *testing.T) {
	r := New(make([]byte, 16))
	require.NoError(t, r.Skip(5))
	require.NoError(t, r.Align(4))
	assert.Equal(t, 8, r.Offset())
}

func TestReadCString(t *testing.T) {
	r := New([]byte("hello\x00world"))
	s, err := r.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, 6, r.Offset())
}
