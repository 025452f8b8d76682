// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package errs defines the closed taxonomy of structural failures a
// PDB decoder can report, shared by every internal decoder package
// and re-exported by the top-level pdb package.
package errs

import "fmt"

// Kind is a closed set of structural failure categories. Per-record
// failures during index construction are logged and skipped by the
// calling decoder; they never surface as a Kind from Open.
type Kind int

const (
	// UnsupportedVersion: MSF signature mismatch, or a PDB/TPI/DBI
	// stream version the decoder does not understand.
	UnsupportedVersion Kind = iota
	// CorruptMsf: page index beyond the file, or an inconsistent
	// stream directory.
	CorruptMsf
	// NoSuchStream: a stream index has no directory entry.
	NoSuchStream
	// TruncatedRecord: a declared record length exceeds the buffer.
	TruncatedRecord
	// UnknownType: a type index or name is not present in the graph.
	UnknownType
	// UnresolvedFwdref: a forward reference has no matching
	// definition. Retained as a warning-grade condition; the record
	// is kept in the graph rather than dropped.
	UnresolvedFwdref
	// UnsupportedLeaf: a required (MUST-decode) leaf kind could not
	// be decoded.
	UnsupportedLeaf
	// NotAPointer: Deref applied to a non-pointer type.
	NotAPointer
	// BadSectionIndex: a section index is <= 0 or > the section count.
	BadSectionIndex
)

func (k Kind) String() string {
	switch k {
	case UnsupportedVersion:
		return "UnsupportedVersion"
	case CorruptMsf:
		return "CorruptMsf"
	case NoSuchStream:
		return "NoSuchStream"
	case TruncatedRecord:
		return "TruncatedRecord"
	case UnknownType:
		return "UnknownType"
	case UnresolvedFwdref:
		return "UnresolvedFwdref"
	case UnsupportedLeaf:
		return "UnsupportedLeaf"
	case NotAPointer:
		return "NotAPointer"
	case BadSectionIndex:
		return "BadSectionIndex"
	default:
		return "Unknown"
	}
}

// Error is the structural error type returned by Open and by the
// core's query surface. Op names the failing component, e.g.
// "tpi.decode" or "msf.readStream".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind wrapping err (which may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given kind, unwrapping
// as necessary.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
