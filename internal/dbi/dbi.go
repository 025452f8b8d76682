// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package dbi decodes the DBI (Debug Info) stream, stream 3: the
// module list, section contributions/map, and the optional debug
// header naming the auxiliary streams (section headers, OMAP, FPO,
// ...) consumed by the address/name resolver.
package dbi

import (
	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/stream"
)

// MachineKind is the COFF machine type recorded in the DBI header.
type MachineKind uint16

// Machine kinds named in §6's façade.
const (
	MachineUnknown MachineKind = 0x0000
	MachineI386    MachineKind = 0x014C
	MachineIA64    MachineKind = 0x0200
	MachineAMD64   MachineKind = 0x8664
)

func (m MachineKind) String() string {
	switch m {
	case MachineI386:
		return "I386"
	case MachineIA64:
		return "IA64"
	case MachineAMD64:
		return "AMD64"
	default:
		return "UNKNOWN"
	}
}

// PointerWidth reports the natural pointer size for the machine kind.
func (m MachineKind) PointerWidth() int64 {
	switch m {
	case MachineAMD64, MachineIA64:
		return 8
	default:
		return 4
	}
}

// Header is the fixed-size prefix of the DBI stream.
type Header struct {
	VersionSignature     int32
	VersionHeader        uint32
	Age                  uint32
	GlobalStreamIndex    uint16
	BuildNumber          uint16
	PublicStreamIndex    uint16
	PDBDllVersion        uint16
	SymRecordStream      uint16
	PDBDllRbld           uint16
	ModInfoSize          int32
	SectionContribSize   int32
	SectionMapSize       int32
	SourceInfoSize       int32
	TypeServerMapSize    int32
	MFCTypeServerIndex   uint32
	OptionalDbgHeaderSize int32
	ECSubstreamSize      int32
	Flags                uint16
	Machine              uint16
	Padding              uint32
}

// ModuleInfo is one DBI module-list entry: the object-file module a
// compiland contributed, and which private stream holds its local
// symbols.
type ModuleInfo struct {
	Stream      int16 // private symbol stream index, -1 if none
	SymByteSize uint32
	ModuleName  string
	ObjFileName string
}

// SectionContribution locates one module's contribution within a
// section.
type SectionContribution struct {
	Section     uint16
	Offset      int32
	Size        int32
	Characteristics uint32
	ModuleIndex uint16
}

// SectionMapEntry is one entry of the DBI section map substream.
type SectionMapEntry struct {
	Flags        uint16
	Ovl          uint16
	Group        uint16
	Frame        uint16
	SectionName  uint16
	ClassName    uint16
	Offset       uint32
	SectionLength uint32
}

// OptionalDbgHeader lists the stream indices of auxiliary debug data.
// A value of -1 (0xFFFF as stored, sign-extended when read as int16)
// means the stream is absent.
type OptionalDbgHeader struct {
	FPO              int16
	Exception        int16
	Fixup            int16
	OmapToSrc        int16
	OmapFromSrc      int16
	SectionHdr       int16
	TokenRidMap      int16
	Xdata            int16
	Pdata            int16
	NewFPO           int16
	SectionHdrOrig   int16
}

func present(i int16) bool { return i >= 0 }

// HasOmapFromSrc reports whether the OMAP-from-src stream is present.
func (h OptionalDbgHeader) HasOmapFromSrc() bool { return present(h.OmapFromSrc) }

// HasSectionHdrOrig reports whether the original section headers are
// present, the condition §4.8 uses to pick the OMAP-backed remap path.
func (h OptionalDbgHeader) HasSectionHdrOrig() bool { return present(h.SectionHdrOrig) }

// Stream is the fully decoded DBI stream.
type Stream struct {
	Header   Header
	Machine  MachineKind
	Modules  []ModuleInfo
	Contribs []SectionContribution
	SecMap   []SectionMapEntry
	DbgHdr   OptionalDbgHeader
}

// headerSize is sizeof(Header) with Go's natural field alignment
// collapsed to match the wire layout: 14 x int32/uint32-equivalent
// fields before Flags/Machine/Padding. Computed explicitly since the
// struct mixes int16/int32 and binary.Read would otherwise insert no
// padding (Go structs read via binary.Read are already packed), but
// we read it field by field below for clarity and error locality.
const headerSize = 64

// Parse decodes the full DBI stream body.
func Parse(data []byte) (*Stream, error) {
	if len(data) < headerSize {
		return nil, errs.New("dbi.parse", errs.TruncatedRecord, nil)
	}
	r := stream.New(data)
	h, err := parseHeader(r)
	if err != nil {
		return nil, err
	}
	if h.VersionSignature != -1 {
		return nil, errs.New("dbi.parse", errs.UnsupportedVersion, nil)
	}

	s := &Stream{Header: h, Machine: MachineKind(h.Machine)}

	modBuf, err := r.ReadBytes(int(h.ModInfoSize))
	if err != nil {
		return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
	}
	s.Modules, err = parseModules(modBuf)
	if err != nil {
		return nil, err
	}

	contribBuf, err := r.ReadBytes(int(h.SectionContribSize))
	if err != nil {
		return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
	}
	s.Contribs, err = parseSectionContributions(contribBuf)
	if err != nil {
		return nil, err
	}

	secMapBuf, err := r.ReadBytes(int(h.SectionMapSize))
	if err != nil {
		return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
	}
	s.SecMap, err = parseSectionMap(secMapBuf)
	if err != nil {
		return nil, err
	}

	// File info, type-server map, and EC substreams are skipped: the
	// core has no use for source-file indexing or type servers.
	if err := r.Skip(int(h.SourceInfoSize)); err != nil {
		return nil, errs.New("dbi.sourceInfo", errs.TruncatedRecord, err)
	}
	if err := r.Skip(int(h.TypeServerMapSize)); err != nil {
		return nil, errs.New("dbi.typeServerMap", errs.TruncatedRecord, err)
	}
	if err := r.Skip(int(h.ECSubstreamSize)); err != nil {
		return nil, errs.New("dbi.ecInfo", errs.TruncatedRecord, err)
	}

	dbgBuf, err := r.ReadBytes(int(h.OptionalDbgHeaderSize))
	if err != nil {
		return nil, errs.New("dbi.debugHeader", errs.TruncatedRecord, err)
	}
	s.DbgHdr, err = parseDebugHeader(dbgBuf)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func parseHeader(r *stream.Reader) (Header, error) {
	var h Header
	var err error
	read := func(dst interface{}) {
		if err != nil {
			return
		}
		switch p := dst.(type) {
		case *int32:
			var v int32
			v, err = r.ReadI32()
			*p = v
		case *uint32:
			var v uint32
			v, err = r.ReadU32()
			*p = v
		case *uint16:
			var v uint16
			v, err = r.ReadU16()
			*p = v
		}
	}
	read(&h.VersionSignature)
	read(&h.VersionHeader)
	read(&h.Age)
	read(&h.GlobalStreamIndex)
	read(&h.BuildNumber)
	read(&h.PublicStreamIndex)
	read(&h.PDBDllVersion)
	read(&h.SymRecordStream)
	read(&h.PDBDllRbld)
	read(&h.ModInfoSize)
	read(&h.SectionContribSize)
	read(&h.SectionMapSize)
	read(&h.SourceInfoSize)
	read(&h.TypeServerMapSize)
	read(&h.MFCTypeServerIndex)
	read(&h.OptionalDbgHeaderSize)
	read(&h.ECSubstreamSize)
	read(&h.Flags)
	read(&h.Machine)
	read(&h.Padding)
	if err != nil {
		return h, errs.New("dbi.header", errs.TruncatedRecord, err)
	}
	return h, nil
}

// parseModules decodes the variable-length module list. Each entry is
// consumed one at a time and 4-byte aligned after its two trailing
// C-strings, per §4.3.
func parseModules(buf []byte) ([]ModuleInfo, error) {
	var mods []ModuleInfo
	r := stream.New(buf)
	for r.Remaining() > 0 {
		var m ModuleInfo
		if err := r.Skip(4); err != nil { // Opened (unused)
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		// SectionContr substructure: the same 28-byte entry that
		// parseSectionContributions decodes, ModuleIndex included.
		if err := r.Skip(4); err != nil { // Section+Padding1
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // Offset
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // Size
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // Characteristics
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // ModuleIndex+Padding2
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // DataCrc
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // RelocCrc
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		flags, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		_ = flags
		streamVal, err := r.ReadI16()
		if err != nil {
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		m.Stream = streamVal
		symBytes, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		m.SymByteSize = symBytes
		if err := r.Skip(4); err != nil { // LinesByteSize
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // C13LinesByteSize
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(2); err != nil { // NumContribFiles
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(2); err != nil { // Padding3
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // FileNameOffsets
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // SourceFileNameIndex
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // PdbFilePathNameIndex
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		m.ModuleName, err = r.ReadCString()
		if err != nil {
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		m.ObjFileName, err = r.ReadCString()
		if err != nil {
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		if err := r.Align(4); err != nil {
			return nil, errs.New("dbi.modules", errs.TruncatedRecord, err)
		}
		mods = append(mods, m)
	}
	return mods, nil
}

const sectionContribEntrySize = 28

func parseSectionContributions(buf []byte) ([]SectionContribution, error) {
	r := stream.New(buf)
	// Newer PDBs prefix the substream with a version DWORD; detect by
	// whether the remaining length is a clean multiple of the entry
	// size once the first 4 bytes are skipped.
	if r.Remaining()%sectionContribEntrySize != 0 && r.Remaining() >= 4 {
		if err := r.Skip(4); err != nil {
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
	}
	var out []SectionContribution
	for r.Remaining() >= sectionContribEntrySize {
		var c SectionContribution
		sec, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		c.Section = sec
		if err := r.Skip(2); err != nil { // Padding1
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		off, err := r.ReadI32()
		if err != nil {
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		c.Offset = off
		size, err := r.ReadI32()
		if err != nil {
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		c.Size = size
		chars, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		c.Characteristics = chars
		modIdx, err := r.ReadU16()
		if err != nil {
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		c.ModuleIndex = modIdx
		if err := r.Skip(2); err != nil { // Padding2
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // DataCrc
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		if err := r.Skip(4); err != nil { // RelocCrc
			return nil, errs.New("dbi.sectionContribs", errs.TruncatedRecord, err)
		}
		out = append(out, c)
	}
	return out, nil
}

const sectionMapEntrySize = 20

func parseSectionMap(buf []byte) ([]SectionMapEntry, error) {
	r := stream.New(buf)
	if r.Remaining() < 4 {
		return nil, nil
	}
	if err := r.Skip(4); err != nil { // count + logCount (u16 each)
		return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
	}
	var out []SectionMapEntry
	for r.Remaining() >= sectionMapEntrySize {
		var e SectionMapEntry
		var err error
		if e.Flags, err = r.ReadU16(); err != nil {
			return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
		}
		if e.Ovl, err = r.ReadU16(); err != nil {
			return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
		}
		if e.Group, err = r.ReadU16(); err != nil {
			return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
		}
		if e.Frame, err = r.ReadU16(); err != nil {
			return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
		}
		if e.SectionName, err = r.ReadU16(); err != nil {
			return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
		}
		if e.ClassName, err = r.ReadU16(); err != nil {
			return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
		}
		if e.Offset, err = r.ReadU32(); err != nil {
			return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
		}
		if e.SectionLength, err = r.ReadU32(); err != nil {
			return nil, errs.New("dbi.sectionMap", errs.TruncatedRecord, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func parseDebugHeader(buf []byte) (OptionalDbgHeader, error) {
	var h OptionalDbgHeader
	if len(buf) == 0 {
		h.FPO, h.Exception, h.Fixup = -1, -1, -1
		h.OmapToSrc, h.OmapFromSrc, h.SectionHdr = -1, -1, -1
		h.TokenRidMap, h.Xdata, h.Pdata = -1, -1, -1
		h.NewFPO, h.SectionHdrOrig = -1, -1
		return h, nil
	}
	r := stream.New(buf)
	fields := []*int16{
		&h.FPO, &h.Exception, &h.Fixup, &h.OmapToSrc, &h.OmapFromSrc,
		&h.SectionHdr, &h.TokenRidMap, &h.Xdata, &h.Pdata, &h.NewFPO,
		&h.SectionHdrOrig,
	}
	for _, f := range fields {
		if r.Remaining() < 2 {
			*f = -1
			continue
		}
		v, err := r.ReadI16()
		if err != nil {
			return h, errs.New("dbi.debugHeader", errs.TruncatedRecord, err)
		}
		*f = v
	}
	return h, nil
}
