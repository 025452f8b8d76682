// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package pdbparse

import (
	"sort"

	"github.com/ukyouz/pdbparse/internal/dbi"
	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/log"
	"github.com/ukyouz/pdbparse/internal/omap"
	"github.com/ukyouz/pdbparse/internal/pesection"
	"github.com/ukyouz/pdbparse/internal/symbols"
	"github.com/ukyouz/pdbparse/internal/tpi"
)

// resolver joins the global symbol stream, per-module symbol streams,
// PE section headers and the OMAP remap table into the two derived
// tables §4.8 describes: offset→name and name→(Type, addr).
type resolver struct {
	sections []pesection.ImageSectionHeader
	omap     *omap.Table
	global   *symbols.GlobalIndex
	modules  []dbi.ModuleInfo
	modSyms  map[uint16][]symbols.ModuleSymbol
	graph    *tpi.Graph
	logger   *log.Helper

	offsetToName map[uint32]string
}

func newResolver(
	sections []pesection.ImageSectionHeader,
	omapTable *omap.Table,
	global *symbols.GlobalIndex,
	modules []dbi.ModuleInfo,
	modSyms map[uint16][]symbols.ModuleSymbol,
	graph *tpi.Graph,
	logger *log.Helper,
) *resolver {
	if logger == nil {
		logger = log.NewHelper(nil)
	}
	if omapTable == nil {
		omapTable = omap.Identity()
	}
	r := &resolver{
		sections: sections,
		omap:     omapTable,
		global:   global,
		modules:  modules,
		modSyms:  modSyms,
		graph:    graph,
		logger:   logger,
	}
	r.buildOffsetIndex()
	return r
}

// remap implements §4.8's section-relative remap: remap(section,
// offset) = omap.remap(sections[section-1].VirtualAddress + offset).
// Section indices are 1-based.
func (r *resolver) remap(section uint16, offset uint32) (uint32, error) {
	if section == 0 || int(section) > len(r.sections) {
		return 0, errs.New("pdbparse.remap", errs.BadSectionIndex, nil)
	}
	va := r.sections[section-1].VirtualAddress
	return r.omap.Remap(va + offset), nil
}

// buildOffsetIndex merges every global data/thread symbol and every
// named symbol reachable through a procref into one offset→name table.
// Later entries win on collision. The global-data pass iterates in
// name-sorted order and the procref pass in ascending module index
// (each module's symbols in stream order), so the result is
// deterministic even though the source maps are unordered.
func (r *resolver) buildOffsetIndex() {
	r.offsetToName = make(map[uint32]string)
	if r.global == nil {
		return
	}

	names := make([]string, 0, len(r.global.Data))
	for name := range r.global.Data {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := r.global.Data[name]
		addr, err := r.remap(d.Section, d.Offset)
		if err != nil {
			r.logger.Warnf("resolver: skipping %q: %v", name, err)
			continue
		}
		r.offsetToName[addr] = name
	}

	imods := make(map[uint16]bool)
	for _, ref := range r.global.ProcRef {
		imods[ref.IMod] = true
	}
	sortedMods := make([]uint16, 0, len(imods))
	for imod := range imods {
		sortedMods = append(sortedMods, imod)
	}
	sort.Slice(sortedMods, func(i, j int) bool { return sortedMods[i] < sortedMods[j] })

	for _, imod := range sortedMods {
		for _, sym := range r.modSyms[imod] {
			if !sym.HasAddr || sym.Name == "" {
				continue
			}
			addr, err := r.remap(sym.Section, sym.Offset)
			if err != nil {
				continue
			}
			r.offsetToName[addr] = sym.Name
		}
	}
}

// nameAt looks up the symbol name at a (already relocated) address.
func (r *resolver) nameAt(addr uint32) (string, bool) {
	name, ok := r.offsetToName[addr]
	return name, ok
}

// resolve implements §4.8's name→(Type, addr) chain: global data, then
// procref, then UDT, then a plain TPI lookup.
func (r *resolver) resolve(name string) (*tpi.Entry, uint32, error) {
	if r.global != nil {
		if d, ok := r.global.Data[name]; ok {
			entry, err := r.graph.LookupByID(tpi.Index(d.TypInd))
			if err != nil {
				return nil, 0, err
			}
			addr, err := r.remap(d.Section, d.Offset)
			if err != nil {
				return nil, 0, err
			}
			return entry, addr, nil
		}

		if ref, ok := r.global.ProcRef[name]; ok {
			for _, sym := range r.modSyms[ref.IMod] {
				if sym.Name == name && sym.HasAddr {
					addr, err := r.remap(sym.Section, sym.Offset)
					if err != nil {
						return nil, 0, err
					}
					entry, err := r.graph.LookupByName(name)
					if err != nil {
						// A procref target with no TPI type is
						// still a valid address-only resolution.
						return nil, addr, nil
					}
					return entry, addr, nil
				}
			}
		}

		if u, ok := r.global.UDT[name]; ok {
			entry, err := r.graph.LookupByID(tpi.Index(u.TypInd))
			if err != nil {
				return nil, 0, err
			}
			return entry, 0, nil
		}
	}

	entry, err := r.graph.LookupByName(name)
	if err != nil {
		return nil, 0, err
	}
	return entry, 0, nil
}

// duplicateNames surfaces the global data index's last-wins collisions
// (§9's open question on duplicate S_GDATA32 names).
func (r *resolver) duplicateNames() []string {
	if r.global == nil {
		return nil
	}
	return r.global.Duplicates
}
