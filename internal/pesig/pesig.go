// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package pesig lists the certificates in a PE image's Authenticode
// signature, for a caller deciding whether to trust the PDB path the
// image embeds. It parses the PKCS#7 blob only; it does not verify the
// signature or check it against the image contents.
package pesig

import (
	"encoding/binary"

	"go.mozilla.org/pkcs7"

	"github.com/ukyouz/pdbparse/internal/errs"
)

const dataDirectorySecurity = 4

// Signers returns the common names of every certificate carried in the
// PKCS#7 blob of a PE image's WIN_CERTIFICATE table (signer and chain
// certificates alike), or an empty slice if the image has no security
// directory.
func Signers(data []byte) ([]string, error) {
	rva, size, err := securityDataDirectory(data)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	// The security directory's "RVA" is actually a file offset: the
	// WIN_CERTIFICATE table is appended after the image, not mapped.
	if uint64(rva)+uint64(size) > uint64(len(data)) {
		return nil, errs.New("pesig.signers", errs.CorruptMsf, nil)
	}
	// Skip the 8-byte WIN_CERTIFICATE header (dwLength, wRevision, wCertificateType).
	if size < 8 {
		return nil, errs.New("pesig.signers", errs.TruncatedRecord, nil)
	}
	blob := data[rva+8 : rva+size]

	p7, err := pkcs7.Parse(blob)
	if err != nil {
		return nil, errs.New("pesig.signers", errs.CorruptMsf, err)
	}
	var names []string
	for _, cert := range p7.Certificates {
		names = append(names, cert.Subject.CommonName)
	}
	return names, nil
}

func securityDataDirectory(data []byte) (rva, size uint32, err error) {
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return 0, 0, errs.New("pesig.headers", errs.CorruptMsf, nil)
	}
	lfanew := binary.LittleEndian.Uint32(data[0x3C:0x40])
	if uint64(lfanew)+24 > uint64(len(data)) {
		return 0, 0, errs.New("pesig.headers", errs.CorruptMsf, nil)
	}
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(data[lfanew+20 : lfanew+22])
	optHeaderOff := lfanew + 24
	if uint64(optHeaderOff)+uint64(sizeOfOptionalHeader) > uint64(len(data)) {
		return 0, 0, errs.New("pesig.headers", errs.CorruptMsf, nil)
	}
	magic := binary.LittleEndian.Uint16(data[optHeaderOff : optHeaderOff+2])
	var dataDirOff uint32
	switch magic {
	case 0x10b:
		dataDirOff = optHeaderOff + 96
	case 0x20b:
		dataDirOff = optHeaderOff + 112
	default:
		return 0, 0, errs.New("pesig.headers", errs.UnsupportedVersion, nil)
	}
	entryOff := dataDirOff + dataDirectorySecurity*8
	if uint64(entryOff)+8 > uint64(len(data)) {
		return 0, 0, nil
	}
	rva = binary.LittleEndian.Uint32(data[entryOff : entryOff+4])
	size = binary.LittleEndian.Uint32(data[entryOff+4 : entryOff+8])
	return rva, size, nil
}
