// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package pdbinfo decodes the PDB info stream (stream 1, component D):
// the version/signature/age header and the named-stream map that maps
// auxiliary stream names (e.g. "/names") to stream indices.
package pdbinfo

import (
	"github.com/ukyouz/pdbparse/internal/errs"
	"github.com/ukyouz/pdbparse/internal/stream"
)

// Version is the PDB stream version, a fixed set of historical values;
// only the most recent is expected in practice.
type Version uint32

// Known PDB info stream versions.
const (
	VC70 Version = 20000404
	VC80 Version = 20030901
	VC110 Version = 20091201
)

// GUID is the 16-byte unique identifier binding a PDB to its image.
type GUID [16]byte

// Header is the decoded PDB info stream.
type Header struct {
	Version   Version
	Signature uint32
	Age       uint32
	GUID      GUID
	// NamedStreams maps an auxiliary stream name to its stream index,
	// e.g. "/names" to the string-table stream. Not every PDB carries
	// entries of interest to this module; absent names are simply not
	// present in the map.
	NamedStreams map[string]uint32
}

const fixedHeaderSize = 4 + 4 + 4 + 16

// Parse decodes the PDB info stream body.
func Parse(data []byte) (Header, error) {
	var h Header
	if len(data) < fixedHeaderSize {
		return h, errs.New("pdbinfo.parse", errs.TruncatedRecord, nil)
	}
	r := stream.New(data)
	ver, err := r.ReadU32()
	if err != nil {
		return h, errs.New("pdbinfo.parse", errs.TruncatedRecord, err)
	}
	h.Version = Version(ver)
	sig, err := r.ReadU32()
	if err != nil {
		return h, errs.New("pdbinfo.parse", errs.TruncatedRecord, err)
	}
	h.Signature = sig
	age, err := r.ReadU32()
	if err != nil {
		return h, errs.New("pdbinfo.parse", errs.TruncatedRecord, err)
	}
	h.Age = age
	guidBytes, err := r.ReadBytes(16)
	if err != nil {
		return h, errs.New("pdbinfo.parse", errs.TruncatedRecord, err)
	}
	copy(h.GUID[:], guidBytes)

	h.NamedStreams = parseNamedStreamMap(r)
	return h, nil
}

// parseNamedStreamMap decodes the string buffer plus hash table that
// follows the fixed header. Malformed or absent maps degrade to an
// empty result rather than failing the whole stream: the core has no
// hard dependency on named streams.
func parseNamedStreamMap(r *stream.Reader) map[string]uint32 {
	out := map[string]uint32{}

	namesLen, err := r.ReadU32()
	if err != nil {
		return out
	}
	namesBuf, err := r.ReadBytes(int(namesLen))
	if err != nil {
		return out
	}

	numEntries, err := r.ReadU32()
	if err != nil {
		return out
	}
	if _, err := r.ReadU32(); err != nil { // capacity
		return out
	}
	presentWords, err := r.ReadU32()
	if err != nil {
		return out
	}
	present := make([]uint32, presentWords)
	for i := range present {
		v, err := r.ReadU32()
		if err != nil {
			return out
		}
		present[i] = v
	}
	deletedWords, err := r.ReadU32()
	if err != nil {
		return out
	}
	if err := r.Skip(int(deletedWords) * 4); err != nil {
		return out
	}

	read := 0
	for bit := 0; bit < len(present)*32 && read < int(numEntries); bit++ {
		word := present[bit/32]
		if word&(1<<uint(bit%32)) == 0 {
			continue
		}
		nameOff, err := r.ReadU32()
		if err != nil {
			return out
		}
		streamIdx, err := r.ReadU32()
		if err != nil {
			return out
		}
		if int(nameOff) < len(namesBuf) {
			end := nameOff
			for end < uint32(len(namesBuf)) && namesBuf[end] != 0 {
				end++
			}
			out[string(namesBuf[nameOff:end])] = streamIdx
		}
		read++
	}
	return out
}
