// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package symbols decodes CodeView symbol records from the global
// symbol stream and per-module symbol streams: the name/address
// tuples the address/name resolver joins against PE sections and
// OMAP.
package symbols

import (
	"strings"

	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/log"
	"github.com/ukyouz/pdbparse/internal/stream"
)

// Kind tags a symbol record.
type Kind uint16

// Symbol kinds named in §4.4/§4.5.
const (
	SConstant  Kind = 0x1107
	SUDT       Kind = 0x1108
	SLData32   Kind = 0x110C
	SGData32   Kind = 0x110D
	SPub32     Kind = 0x110E
	SLThread32 Kind = 0x1112
	SGThread32 Kind = 0x1113
	SProcRef   Kind = 0x1125
	SLProcRef  Kind = 0x1127
	// A representative sample of the many kinds this module names but
	// does not decode; records of these kinds are skipped.
	SObjName    Kind = 0x1101
	SBPRel32    Kind = 0x110B
	SLProc32    Kind = 0x110F
	SGProc32    Kind = 0x1110
	SCompile3   Kind = 0x113C
	SFrameProc  Kind = 0x1012
	SRegRel32   Kind = 0x1111
)

// DataSym is the decoded shape of S_GDATA32/S_LDATA32/S_GTHREAD32/
// S_LTHREAD32: a typed, section-relative global or thread-local
// variable.
type DataSym struct {
	Kind    Kind
	TypInd  uint32
	Offset  uint32
	Section uint16
	Name    string
}

// PublicSymFlags decodes the bit-flag word of an S_PUB32 record.
type PublicSymFlags uint32

// Bits of PublicSymFlags, in LSB order.
const (
	PubSymCode PublicSymFlags = 1 << iota
	PubSymFunction
	PubSymManaged
	PubSymMSIL
)

// PublicSym is the decoded shape of S_PUB32.
type PublicSym struct {
	Flags   PublicSymFlags
	Offset  uint32
	Section uint16
	Name    string
}

// UDTSym is the decoded shape of S_UDT: a named alias for a type
// index, with no address of its own.
type UDTSym struct {
	TypInd uint32
	Name   string
}

// ConstantSym is the decoded shape of S_CONSTANT.
type ConstantSym struct {
	TypInd uint32
	Value  int64
	Name   string
}

// RefSym is the decoded shape of S_PROCREF/S_LPROCREF: a cross-
// reference from the global stream into a named symbol inside a
// module's private stream.
type RefSym struct {
	SumName uint32
	IbSym   uint32 // byte offset of the referenced symbol in its module stream
	IMod    uint16 // 1-based index into the DBI module list
	Name    string
}

// Record is one decoded symbol. Exactly one typed field is set
// according to Kind.
type Record struct {
	Kind     Kind
	Data     *DataSym
	Public   *PublicSym
	UDT      *UDTSym
	Constant *ConstantSym
	Ref      *RefSym
}

// GlobalIndex holds the name-keyed views over the global symbol
// stream described in §4.4: last-wins maps plus a diagnostic list of
// names that were overwritten.
type GlobalIndex struct {
	Data       map[string]DataSym
	ProcRef    map[string]RefSym
	UDT        map[string]UDTSym
	Duplicates []string
}

func hasStdPrefix(name string) bool {
	return strings.HasPrefix(name, "std::")
}

// ParseGlobalStream decodes the global symbol stream body (length-
// prefixed record sequence) and builds the name indexes.
func ParseGlobalStream(data []byte, filterStd bool, logger *log.Helper) (*GlobalIndex, error) {
	if logger == nil {
		logger = log.NewHelper(nil)
	}
	idx := &GlobalIndex{
		Data:    make(map[string]DataSym),
		ProcRef: make(map[string]RefSym),
		UDT:     make(map[string]UDTSym),
	}
	r := stream.New(data)
	for r.Remaining() > 0 {
		rec, name, err := readOneRecord(r)
		if err != nil {
			logger.Warnf("symbols: skipping malformed global record at offset %d: %v", r.Offset(), err)
			return idx, nil // truncation mid-stream: stop, keep what decoded so far
		}
		if rec == nil {
			continue
		}
		if filterStd && hasStdPrefix(name) {
			continue
		}
		switch {
		case rec.Data != nil:
			if _, dup := idx.Data[name]; dup {
				idx.Duplicates = append(idx.Duplicates, name)
			}
			idx.Data[name] = *rec.Data
		case rec.Ref != nil:
			idx.ProcRef[name] = *rec.Ref
		case rec.UDT != nil:
			idx.UDT[name] = *rec.UDT
		}
	}
	return idx, nil
}

// ModuleSymbol is the subset of a module-local symbol record the
// address/name resolver needs: a name plus its section/offset. Only
// data/thread records (S_GDATA32, S_LDATA32, S_GTHREAD32, S_LTHREAD32)
// and S_PUB32 carry an address here; procedure records (S_GPROC32,
// S_LPROC32) are not decoded and do not appear in the result.
type ModuleSymbol struct {
	Name      string
	HasAddr   bool
	Section   uint16
	Offset    uint32
}

// ParseModuleStream decodes a per-module local symbol stream: a
// 4-byte opaque signature, then a length-prefixed record sequence.
func ParseModuleStream(data []byte, filterStd bool, logger *log.Helper) ([]ModuleSymbol, error) {
	if logger == nil {
		logger = log.NewHelper(nil)
	}
	if len(data) < 4 {
		return nil, nil
	}
	r := stream.New(data[4:])
	var out []ModuleSymbol
	for r.Remaining() > 0 {
		rec, name, err := readOneRecord(r)
		if err != nil {
			logger.Warnf("symbols: skipping malformed module record at offset %d: %v", r.Offset(), err)
			break
		}
		if rec == nil || name == "" {
			continue
		}
		if filterStd && hasStdPrefix(name) {
			continue
		}
		ms := ModuleSymbol{Name: name}
		if rec.Data != nil {
			ms.HasAddr = true
			ms.Section = rec.Data.Section
			ms.Offset = rec.Data.Offset
		} else if rec.Public != nil {
			ms.HasAddr = true
			ms.Section = rec.Public.Section
			ms.Offset = rec.Public.Offset
		}
		out = append(out, ms)
	}
	return out, nil
}

// readOneRecord reads one [length u16][record] entry and decodes it
// by tag. Unrecognized tags are skipped (nil Record, empty name) but
// still advance the cursor so later records remain framed correctly.
func readOneRecord(r *stream.Reader) (*Record, string, error) {
	length, err := r.ReadU16()
	if err != nil {
		return nil, "", err
	}
	body, err := r.ReadBytes(int(length))
	if err != nil {
		return nil, "", errs.New("symbols.record", errs.TruncatedRecord, err)
	}
	br := stream.New(body)
	kindVal, err := br.ReadU16()
	if err != nil {
		return nil, "", err
	}
	kind := Kind(kindVal)

	switch kind {
	case SGData32, SLData32, SGThread32, SLThread32:
		typind, err := br.ReadU32()
		if err != nil {
			return nil, "", nil
		}
		offset, err := br.ReadU32()
		if err != nil {
			return nil, "", nil
		}
		section, err := br.ReadU16()
		if err != nil {
			return nil, "", nil
		}
		name, err := br.ReadCString()
		if err != nil {
			return nil, "", nil
		}
		return &Record{Kind: kind, Data: &DataSym{Kind: kind, TypInd: typind, Offset: offset, Section: section, Name: name}}, name, nil

	case SPub32:
		flags, err := br.ReadU32()
		if err != nil {
			return nil, "", nil
		}
		offset, err := br.ReadU32()
		if err != nil {
			return nil, "", nil
		}
		section, err := br.ReadU16()
		if err != nil {
			return nil, "", nil
		}
		name, err := br.ReadCString()
		if err != nil {
			return nil, "", nil
		}
		return &Record{Kind: kind, Public: &PublicSym{Flags: PublicSymFlags(flags), Offset: offset, Section: section, Name: name}}, name, nil

	case SUDT:
		typind, err := br.ReadU32()
		if err != nil {
			return nil, "", nil
		}
		name, err := br.ReadCString()
		if err != nil {
			return nil, "", nil
		}
		return &Record{Kind: kind, UDT: &UDTSym{TypInd: typind, Name: name}}, name, nil

	case SConstant:
		typind, err := br.ReadU32()
		if err != nil {
			return nil, "", nil
		}
		n, name, err := br.ReadNumericWithName()
		if err != nil {
			return nil, "", nil
		}
		return &Record{Kind: kind, Constant: &ConstantSym{TypInd: typind, Value: n.Int64(), Name: name}}, name, nil

	case SProcRef, SLProcRef:
		sumName, err := br.ReadU32()
		if err != nil {
			return nil, "", nil
		}
		ibSym, err := br.ReadU32()
		if err != nil {
			return nil, "", nil
		}
		imod, err := br.ReadU16()
		if err != nil {
			return nil, "", nil
		}
		name, err := br.ReadCString()
		if err != nil {
			return nil, "", nil
		}
		return &Record{Kind: kind, Ref: &RefSym{SumName: sumName, IbSym: ibSym, IMod: imod, Name: name}}, name, nil

	default:
		return nil, "", nil
	}
}
