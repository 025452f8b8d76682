// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package pedebug locates the companion PDB path, GUID and age recorded
// in a PE image's CodeView debug directory entry. This is a
// supplemented feature: a caller that only has the compiled binary, not
// the PDB path, can use it to find the PDB worth opening.
package pedebug

import (
	"encoding/binary"
	"fmt"

	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/stream"
)

// ImageDebugDirectoryType is the Type field of an IMAGE_DEBUG_DIRECTORY
// entry.
type ImageDebugDirectoryType uint32

// Debug directory types relevant to PDB location; the PE format defines
// many more (FPO, POGO, REPRO, ...) that this module has no use for.
const (
	ImageDebugTypeCodeView    ImageDebugDirectoryType = 2
	ImageDebugTypeOMAPToSrc   ImageDebugDirectoryType = 7
	ImageDebugTypeOMAPFromSrc ImageDebugDirectoryType = 8
)

// CodeView signatures identifying the debug data block's age.
const (
	CVSignatureRSDS = 0x53445352 // PDB 7.0
	CVSignatureNB10 = 0x3031424e // PDB 2.0
)

// GUID is a 128-bit value formatted the way Windows tooling prints a
// PDB signature.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// String renders the GUID in the conventional hyphenated hex form.
func (g GUID) String() string {
	return fmt.Sprintf("%08X-%04X-%04X-%04X-%X", g.Data1, g.Data2, g.Data3, g.Data4[0:2], g.Data4[2:])
}

// imageDebugDirectory is the 28-byte on-disk IMAGE_DEBUG_DIRECTORY.
type imageDebugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

const debugDirEntrySize = 28

// dataDirectoryDebug is the index of the debug entry in a PE optional
// header's data directory array.
const dataDirectoryDebug = 6

// Info is what FindPDBPath recovers from a PE image's CodeView debug
// directory entry.
type Info struct {
	Signature GUID
	Age       uint32
	PDBPath   string
}

// FindPDBPath scans a PE image for its CodeView (RSDS) debug directory
// entry and returns the embedded PDB path, GUID and age. It returns
// errs.NoSuchStream if the image carries no CodeView debug entry.
func FindPDBPath(data []byte) (Info, error) {
	rva, size, err := debugDataDirectory(data)
	if err != nil {
		return Info{}, err
	}
	if size == 0 {
		return Info{}, errs.New("pedebug.find", errs.NoSuchStream, nil)
	}

	sections, err := sectionTable(data)
	if err != nil {
		return Info{}, err
	}

	count := size / debugDirEntrySize
	off, ok := rvaToOffset(sections, rva)
	if !ok {
		return Info{}, errs.New("pedebug.find", errs.CorruptMsf, nil)
	}

	for i := uint32(0); i < count; i++ {
		entryOff := off + i*debugDirEntrySize
		if int(entryOff)+debugDirEntrySize > len(data) {
			break
		}
		var dir imageDebugDirectory
		r := stream.New(data[entryOff : entryOff+debugDirEntrySize])
		if err := readDebugDirectory(r, &dir); err != nil {
			continue
		}
		if ImageDebugDirectoryType(dir.Type) != ImageDebugTypeCodeView {
			continue
		}
		info, ok := parseCodeView(data, dir.PointerToRawData, dir.SizeOfData)
		if ok {
			return info, nil
		}
	}
	return Info{}, errs.New("pedebug.find", errs.NoSuchStream, nil)
}

func readDebugDirectory(r *stream.Reader, dir *imageDebugDirectory) error {
	fields := []*uint32{
		&dir.Characteristics, &dir.TimeDateStamp,
	}
	for _, f := range fields {
		v, err := r.ReadU32()
		if err != nil {
			return err
		}
		*f = v
	}
	mv, err := r.ReadU16()
	if err != nil {
		return err
	}
	dir.MajorVersion = mv
	nv, err := r.ReadU16()
	if err != nil {
		return err
	}
	dir.MinorVersion = nv
	rest := []*uint32{&dir.Type, &dir.SizeOfData, &dir.AddressOfRawData, &dir.PointerToRawData}
	for _, f := range rest {
		v, err := r.ReadU32()
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}

func parseCodeView(data []byte, fileOffset, size uint32) (Info, bool) {
	if uint64(fileOffset)+4 > uint64(len(data)) {
		return Info{}, false
	}
	sig := binary.LittleEndian.Uint32(data[fileOffset : fileOffset+4])
	switch sig {
	case CVSignatureRSDS:
		const headerSize = 4 + 16 + 4 // signature + GUID + age
		if uint64(fileOffset)+headerSize > uint64(len(data)) {
			return Info{}, false
		}
		r := stream.New(data[fileOffset+4:])
		var guid GUID
		g1, err := r.ReadU32()
		if err != nil {
			return Info{}, false
		}
		guid.Data1 = g1
		g2, err := r.ReadU16()
		if err != nil {
			return Info{}, false
		}
		guid.Data2 = g2
		g3, err := r.ReadU16()
		if err != nil {
			return Info{}, false
		}
		guid.Data3 = g3
		g4, err := r.ReadBytes(8)
		if err != nil {
			return Info{}, false
		}
		copy(guid.Data4[:], g4)
		age, err := r.ReadU32()
		if err != nil {
			return Info{}, false
		}
		name, err := r.ReadCString()
		if err != nil {
			return Info{}, false
		}
		return Info{Signature: guid, Age: age, PDBPath: name}, true
	default:
		return Info{}, false
	}
}

// debugDataDirectory reads just enough of the PE headers to find the
// debug data directory's RVA and size, without depending on a full PE
// parser.
func debugDataDirectory(data []byte) (rva, size uint32, err error) {
	if len(data) < 0x40 {
		return 0, 0, errs.New("pedebug.headers", errs.CorruptMsf, nil)
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return 0, 0, errs.New("pedebug.headers", errs.CorruptMsf, nil)
	}
	lfanew := binary.LittleEndian.Uint32(data[0x3C:0x40])
	if uint64(lfanew)+24 > uint64(len(data)) {
		return 0, 0, errs.New("pedebug.headers", errs.CorruptMsf, nil)
	}
	if string(data[lfanew:lfanew+4]) != "PE\x00\x00" {
		return 0, 0, errs.New("pedebug.headers", errs.CorruptMsf, nil)
	}
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(data[lfanew+20 : lfanew+22])
	optHeaderOff := lfanew + 24
	if uint64(optHeaderOff)+uint64(sizeOfOptionalHeader) > uint64(len(data)) {
		return 0, 0, errs.New("pedebug.headers", errs.CorruptMsf, nil)
	}
	magic := binary.LittleEndian.Uint16(data[optHeaderOff : optHeaderOff+2])

	var dataDirOff uint32
	switch magic {
	case 0x10b: // PE32
		dataDirOff = optHeaderOff + 96
	case 0x20b: // PE32+
		dataDirOff = optHeaderOff + 112
	default:
		return 0, 0, errs.New("pedebug.headers", errs.UnsupportedVersion, nil)
	}
	entryOff := dataDirOff + dataDirectoryDebug*8
	if uint64(entryOff)+8 > uint64(len(data)) {
		return 0, 0, nil
	}
	rva = binary.LittleEndian.Uint32(data[entryOff : entryOff+4])
	size = binary.LittleEndian.Uint32(data[entryOff+4 : entryOff+8])
	return rva, size, nil
}

type peSection struct {
	VirtualAddress   uint32
	VirtualSize      uint32
	PointerToRawData uint32
}

func sectionTable(data []byte) ([]peSection, error) {
	lfanew := binary.LittleEndian.Uint32(data[0x3C:0x40])
	numSections := binary.LittleEndian.Uint16(data[lfanew+6 : lfanew+8])
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(data[lfanew+20 : lfanew+22])
	sectionOff := lfanew + 24 + uint32(sizeOfOptionalHeader)

	out := make([]peSection, 0, numSections)
	for i := uint16(0); i < numSections; i++ {
		off := sectionOff + uint32(i)*40
		if uint64(off)+40 > uint64(len(data)) {
			break
		}
		out = append(out, peSection{
			VirtualSize:      binary.LittleEndian.Uint32(data[off+8 : off+12]),
			VirtualAddress:   binary.LittleEndian.Uint32(data[off+12 : off+16]),
			PointerToRawData: binary.LittleEndian.Uint32(data[off+20 : off+24]),
		})
	}
	return out, nil
}

func rvaToOffset(sections []peSection, rva uint32) (uint32, bool) {
	for _, s := range sections {
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.VirtualSize {
			return s.PointerToRawData + (rva - s.VirtualAddress), true
		}
	}
	return 0, false
}
