// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package omap decodes and queries the address-remap table an
// optimized/relinked PE image carries between its original and
// current layout (component K).
package omap

import (
	"sort"

	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/stream"
)

// Entry is one (From, To) pair of the OMAP table.
type Entry struct {
	From uint32
	To   uint32
}

// Table is a sorted-by-From OMAP, or an absent one behaving as the
// identity remap per §4.6.
type Table struct {
	entries []Entry
}

// Parse decodes the tight array of (From u32, To u32) pairs making up
// an OMAP stream body.
func Parse(data []byte) (*Table, error) {
	if len(data)%8 != 0 {
		return nil, errs.New("omap.parse", errs.TruncatedRecord, nil)
	}
	r := stream.New(data)
	n := len(data) / 8
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		from, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("omap.parse", errs.TruncatedRecord, err)
		}
		to, err := r.ReadU32()
		if err != nil {
			return nil, errs.New("omap.parse", errs.TruncatedRecord, err)
		}
		entries[i] = Entry{From: from, To: to}
	}
	return &Table{entries: entries}, nil
}

// Identity returns an absent OMAP: Remap is the identity function.
func Identity() *Table { return &Table{} }

// Remap finds the greatest entry with From <= addr and returns
// Entry.To + (addr - Entry.From), or 0 if that entry's To is zero. An
// address below every entry's From (or an absent table) passes
// through unchanged.
func (t *Table) Remap(addr uint32) uint32 {
	if t == nil || len(t.entries) == 0 {
		return addr
	}
	// Smallest index i such that entries[i].From > addr; the greatest
	// entry with From <= addr is therefore at i-1.
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].From > addr
	})
	if i == 0 {
		return addr
	}
	e := t.entries[i-1]
	if e.To == 0 {
		return 0
	}
	return e.To + (addr - e.From)
}
