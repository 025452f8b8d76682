// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package pdbparse reads Microsoft Program Database (PDB version 7)
// debug-information files and exposes the program's type universe and
// symbol universe as a navigable in-memory model: a type name resolves
// to a fully laid-out record (offsets, sizes, bitfields, pointer
// indirections), and an unrelocated image offset resolves to a named
// symbol and back.
package pdbparse

import (
	"fmt"
	"os"

	"github.com/ukyouz/pdbparse/internal/dbi"
	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/log"
	"github.com/ukyouz/pdbparse/internal/msf"
	"github.com/ukyouz/pdbparse/internal/omap"
	"github.com/ukyouz/pdbparse/internal/pdbinfo"
	"github.com/ukyouz/pdbparse/internal/pesection"
	"github.com/ukyouz/pdbparse/internal/symbols"
	"github.com/ukyouz/pdbparse/internal/tpi"
)

// Options configures a PDB open. The zero value is not valid; use
// DefaultOptions or Open's functional options.
type Options struct {
	// FilterStdNames excludes std::-prefixed symbol names from every
	// user-visible index, per §9's open question (default on).
	FilterStdNames bool
	// Logger receives structured progress and anomaly messages. Nil
	// discards log output; warn/error messages are still collected for
	// Anomalies(). DefaultOptions sets log.NewStdLogger(os.Stderr).
	Logger log.Logger
	// MaxAnomalies bounds how many per-record skip diagnostics Open
	// retains in the returned Pdb's Anomalies() slice.
	MaxAnomalies int
}

// DefaultOptions returns the Options Open uses when none are given.
func DefaultOptions() Options {
	return Options{
		FilterStdNames: true,
		Logger:         log.NewStdLogger(os.Stderr),
		MaxAnomalies:   200,
	}
}

// Option mutates Options during Open.
type Option func(*Options)

// WithLogger overrides the destination for progress and anomaly logs.
func WithLogger(l log.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithFilterStdNames toggles the std::-prefix symbol filter.
func WithFilterStdNames(enabled bool) Option {
	return func(o *Options) { o.FilterStdNames = enabled }
}

// WithMaxAnomalies bounds the retained anomaly diagnostics.
func WithMaxAnomalies(n int) Option {
	return func(o *Options) { o.MaxAnomalies = n }
}

// Type is an opaque handle onto one resolved type-graph entry: a
// primitive or a decoded TPI record. Obtained from TypeByName,
// TypeByID, or Resolve; queried with Name/Size and passed back into
// Layout/DerefPointer.
type Type struct {
	graph *tpi.Graph
	entry *tpi.Entry
}

// Name renders the type the way §4.2's type_name rule describes.
func (t *Type) Name() string { return t.graph.TypeName(t.entry) }

// Size reports the type's byte size, or -1 if unknown.
func (t *Type) Size() int64 { return t.graph.SizeOf(t.entry) }

// Index reports the type's index in the resolved graph (or the
// primitive table).
func (t *Type) Index() uint32 { return uint32(t.entry.Index) }

// anomalySink wraps a Logger, additionally capturing warn/error-level
// messages into a bounded slice for Pdb.Anomalies.
type anomalySink struct {
	inner     log.Logger
	anomalies *[]string
	max       int
}

func (a *anomalySink) Log(level log.Level, msg string) error {
	if level >= log.LevelWarn && len(*a.anomalies) < a.max {
		*a.anomalies = append(*a.anomalies, msg)
	}
	if a.inner != nil {
		return a.inner.Log(level, msg)
	}
	return nil
}

// Pdb is a fully resolved, read-only view over one PDB file. All
// streams are materialized and the type graph is fully resolved by the
// time Open returns; there is no further state transition and no
// mutation (§4.9's Opened→HeaderRead→StreamsMaterialized→
// TypeGraphResolved→Ready machine collapses to "Open succeeds or
// fails").
type Pdb struct {
	opts      Options
	graph     *tpi.Graph
	dbi       *dbi.Stream
	info      pdbinfo.Header
	resolver  *resolver
	anomalies []string
}

// Open decodes path as a PDB v7 file: the MSF container, the PDB info,
// TPI and DBI streams, every module's local symbol stream, the PE
// section table and OMAP remap table, and builds the address/name
// resolver. The file handle is held only for the duration of this
// call; the returned Pdb owns no further reference to disk.
func Open(path string, opts ...Option) (*Pdb, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, err := msf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return build(f, o)
}

// OpenBytes is Open for a PDB already resident in memory.
func OpenBytes(data []byte, opts ...Option) (*Pdb, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, err := msf.OpenBytes(data)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return build(f, o)
}

func build(f *msf.File, o Options) (*Pdb, error) {
	p := &Pdb{opts: o}

	sink := &anomalySink{inner: o.Logger, anomalies: &p.anomalies, max: o.MaxAnomalies}
	helper := log.NewHelper(log.NewFilter(sink, log.FilterLevel(log.LevelDebug)))

	if f.HasStream(msf.StreamPDBInfo) {
		infoBuf, err := f.ReadStream(msf.StreamPDBInfo)
		if err != nil {
			return nil, err
		}
		info, err := pdbinfo.Parse(infoBuf)
		if err != nil {
			helper.Warnf("pdb info stream did not decode: %v", err)
		} else {
			p.info = info
		}
	}

	dbiBuf, err := f.ReadStream(msf.StreamDBI)
	if err != nil {
		return nil, err
	}
	dbiStream, err := dbi.Parse(dbiBuf)
	if err != nil {
		return nil, err
	}
	p.dbi = dbiStream

	tpiBuf, err := f.ReadStream(msf.StreamTPI)
	if err != nil {
		return nil, err
	}
	tpiHeader, err := tpi.ParseHeader(tpiBuf)
	if err != nil {
		return nil, err
	}
	graph, err := tpi.Decode(tpiBuf, tpiHeader, dbiStream.Machine.PointerWidth(), helper)
	if err != nil {
		return nil, err
	}
	p.graph = graph

	var global *symbols.GlobalIndex
	if f.HasStream(uint32(dbiStream.Header.SymRecordStream)) {
		globalBuf, err := f.ReadStream(uint32(dbiStream.Header.SymRecordStream))
		if err != nil {
			return nil, err
		}
		global, err = symbols.ParseGlobalStream(globalBuf, o.FilterStdNames, helper)
		if err != nil {
			return nil, err
		}
	}

	modSyms := make(map[uint16][]symbols.ModuleSymbol)
	for i, m := range dbiStream.Modules {
		if m.Stream < 0 {
			continue
		}
		if !f.HasStream(uint32(m.Stream)) {
			continue
		}
		buf, err := f.ReadStream(uint32(m.Stream))
		if err != nil {
			helper.Warnf("module %q: %v", m.ModuleName, err)
			continue
		}
		syms, err := symbols.ParseModuleStream(buf, o.FilterStdNames, helper)
		if err != nil {
			helper.Warnf("module %q: %v", m.ModuleName, err)
			continue
		}
		modSyms[uint16(i+1)] = syms
	}

	sections, omapTable := loadSectionsAndOMAP(f, dbiStream, helper)

	p.resolver = newResolver(sections, omapTable, global, dbiStream.Modules, modSyms, graph, helper)

	return p, nil
}

// loadSectionsAndOMAP implements §4.8's section-remap selection: when
// both the original section headers and OMAP-from-src are present, the
// resolver works in pre-relink coordinates and remaps through OMAP;
// otherwise it works directly in the current image's coordinates with
// an identity remap.
func loadSectionsAndOMAP(f *msf.File, d *dbi.Stream, helper *log.Helper) ([]pesection.ImageSectionHeader, *omap.Table) {
	useOriginal := d.DbgHdr.HasSectionHdrOrig() && d.DbgHdr.HasOmapFromSrc()

	secStream := d.DbgHdr.SectionHdr
	if useOriginal {
		secStream = d.DbgHdr.SectionHdrOrig
	}

	var sections []pesection.ImageSectionHeader
	if secStream >= 0 && f.HasStream(uint32(secStream)) {
		buf, err := f.ReadStream(uint32(secStream))
		if err != nil {
			helper.Warnf("section headers: %v", err)
		} else if sections, err = pesection.ParseTable(buf); err != nil {
			helper.Warnf("section headers: %v", err)
			sections = nil
		}
	}

	omapTable := omap.Identity()
	if useOriginal && f.HasStream(uint32(d.DbgHdr.OmapFromSrc)) {
		buf, err := f.ReadStream(uint32(d.DbgHdr.OmapFromSrc))
		if err != nil {
			helper.Warnf("omap: %v", err)
		} else if t, err := omap.Parse(buf); err != nil {
			helper.Warnf("omap: %v", err)
		} else {
			omapTable = t
		}
	}

	return sections, omapTable
}

// Machine reports the COFF machine type recorded in the DBI header.
func (p *Pdb) Machine() dbi.MachineKind { return p.dbi.Machine }

// PointerWidth reports the architecture pointer size in bytes (4 or 8).
func (p *Pdb) PointerWidth() int64 { return p.dbi.Machine.PointerWidth() }

// TypeByName resolves a type by its composite/enum/primitive name.
func (p *Pdb) TypeByName(name string) (*Type, error) {
	e, err := p.graph.LookupByName(name)
	if err != nil {
		return nil, err
	}
	return &Type{graph: p.graph, entry: e}, nil
}

// TypeByID resolves a type by its CodeView type index.
func (p *Pdb) TypeByID(index uint32) (*Type, error) {
	e, err := p.graph.LookupByID(tpi.Index(index))
	if err != nil {
		return nil, err
	}
	return &Type{graph: p.graph, entry: e}, nil
}

// Resolve implements §4.8's chained name→(Type, rva) lookup.
func (p *Pdb) Resolve(name string) (*Type, uint32, error) {
	e, addr, err := p.resolver.resolve(name)
	if err != nil {
		return nil, 0, err
	}
	if e == nil {
		return nil, addr, nil
	}
	return &Type{graph: p.graph, entry: e}, addr, nil
}

// NameAt resolves an already-relocated address back to a symbol name.
func (p *Pdb) NameAt(rva uint32) (string, bool) {
	return p.resolver.nameAt(rva)
}

// Layout walks t's resolved type graph from addr, producing a
// StructRecord tree per §4.7. When recursive is false, composite
// fields below the immediate root are omitted.
func (p *Pdb) Layout(t *Type, addr int64, recursive bool) (*StructRecord, error) {
	if t == nil {
		return nil, errs.New("pdbparse.layout", errs.UnknownType, nil)
	}
	return layoutType(t.graph, t.entry, t.Name(), addr, recursive, 0)
}

// DerefPointer resolves ptr's pointee type and lays it out at addr.
// Fails NotAPointer if ptr does not carry a utype.
func (p *Pdb) DerefPointer(ptr *Type, addr int64) (*StructRecord, error) {
	if ptr == nil {
		return nil, errs.New("pdbparse.deref", errs.NotAPointer, nil)
	}
	return derefPointer(ptr.graph, ptr.entry, addr)
}

// Anomalies lists the per-record decode failures encountered while
// building the index: these are logged and skipped, never fatal to
// Open, but worth surfacing to a careful caller.
func (p *Pdb) Anomalies() []string { return p.anomalies }

// DuplicateNames lists global data-symbol names that collided during
// index construction (§9's last-wins open question), most recent
// winner not distinguished from the ones it overwrote.
func (p *Pdb) DuplicateNames() []string { return p.resolver.duplicateNames() }

// GUID renders the PDB info stream's signature GUID, or the zero value
// if the info stream was absent or failed to decode.
func (p *Pdb) GUID() string {
	g := p.info.GUID
	return fmt.Sprintf("%x-%x-%x-%x-%x", g[0:4], g[4:6], g[6:8], g[8:10], g[10:16])
}

// Age reports the PDB info stream's age counter.
func (p *Pdb) Age() uint32 { return p.info.Age }
