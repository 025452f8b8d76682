// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package pesection decodes the PE section-header stream (component
// J): a tight array of 40-byte IMAGE_SECTION_HEADER records, the same
// wire shape as a PE image's own section table.
package pesection

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/ukyouz/pdbparse/internal/errs"
)

const headerSize = 40

// ImageSectionHeader is the 40-byte on-disk IMAGE_SECTION_HEADER.
type ImageSectionHeader struct {
	Name                 [8]uint8
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// Name characteristics flags relevant to pretty-printing.
const (
	ScnCntCode            uint32 = 0x00000020
	ScnCntInitializedData uint32 = 0x00000040
	ScnCntUninitializedData uint32 = 0x00000080
	ScnMemExecute         uint32 = 0x20000000
	ScnMemRead            uint32 = 0x40000000
	ScnMemWrite           uint32 = 0x80000000
)

// NameString trims the trailing NULs from the fixed 8-byte Name field.
func (h ImageSectionHeader) NameString() string {
	return strings.TrimRight(string(h.Name[:]), "\x00")
}

// PrettySectionFlags returns human-readable characteristic names,
// adapted from the teacher's section-flag pretty-printer of the same
// name.
func (h ImageSectionHeader) PrettySectionFlags() []string {
	table := map[uint32]string{
		ScnCntCode:              "Contains Code",
		ScnCntInitializedData:   "Initialized Data",
		ScnCntUninitializedData: "Uninitialized Data",
		ScnMemExecute:           "Execute",
		ScnMemRead:              "Read",
		ScnMemWrite:             "Write",
	}
	var out []string
	for bit, name := range table {
		if h.Characteristics&bit != 0 {
			out = append(out, name)
		}
	}
	return out
}

// ParseTable decodes a tight array of section headers from the
// section-header stream body.
func ParseTable(data []byte) ([]ImageSectionHeader, error) {
	if len(data)%headerSize != 0 {
		return nil, errs.New("pesection.parse", errs.TruncatedRecord, nil)
	}
	count := len(data) / headerSize
	out := make([]ImageSectionHeader, count)
	r := bytes.NewReader(data)
	for i := 0; i < count; i++ {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, errs.New("pesection.parse", errs.TruncatedRecord, err)
		}
	}
	return out, nil
}
