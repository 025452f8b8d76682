// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package pdbparse

import "github.com/ukyouz/pdbparse/internal/errs"

// Kind is the closed set of structural failure categories a parse can
// report. See the individual constants for the condition each names.
type Kind = errs.Kind

// Error kinds, re-exported from internal/errs so callers never import
// the internal package directly.
const (
	UnsupportedVersion = errs.UnsupportedVersion
	CorruptMsf         = errs.CorruptMsf
	NoSuchStream       = errs.NoSuchStream
	TruncatedRecord    = errs.TruncatedRecord
	UnknownType        = errs.UnknownType
	UnresolvedFwdref   = errs.UnresolvedFwdref
	UnsupportedLeaf    = errs.UnsupportedLeaf
	NotAPointer        = errs.NotAPointer
	BadSectionIndex    = errs.BadSectionIndex
)

// Error is the structural error type returned by Open and by the
// query surface.
type Error = errs.Error

// IsKind reports whether err is a structural *Error of the given kind.
func IsKind(err error, kind Kind) bool { return errs.Is(err, kind) }
