// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package tpi

import (
	"bytes"
	"encoding/binary"

	"github.com/ukyouz/pdbparse/internal/errs"
)

// Header is the TPI stream (stream 2) header.
type Header struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          uint32
	TypeIndexEnd            uint32
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// ParseHeader decodes the fixed 56-byte TPI stream header.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < 56 {
		return h, errs.New("tpi.header", errs.TruncatedRecord, nil)
	}
	if err := binary.Read(bytes.NewReader(data[:56]), binary.LittleEndian, &h); err != nil {
		return h, errs.New("tpi.header", errs.TruncatedRecord, err)
	}
	return h, nil
}
