// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Package msf decodes the Multi-Stream File container that every PDB
// v7 file is wrapped in: a page-indexed virtual filesystem in which
// even the stream directory is itself addressed through a page list
// stored in the file header.
package msf

import (
	"bytes"
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/ukyouz/pdbparse/internal/errs"
)

// Magic is the fixed 32-byte MSF 7.00 signature every PDB v7 file
// begins with.
var Magic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// Reserved stream indices; everything else is dynamic and assigned
// meaning by the DBI stream.
const (
	StreamOldDirectory = 0
	StreamPDBInfo      = 1
	StreamTPI          = 2
	StreamDBI          = 3
)

// emptyStreamSize is the sentinel size a directory entry uses to mark
// an absent stream.
const emptyStreamSize = 0xFFFFFFFF

// superBlock is the 24-byte fixed header (six u32 fields) following the
// 32-byte magic; magic and superBlock together make up the 56-byte
// file header.
type superBlock struct {
	BlockSize         uint32
	FreeBlockMapBlock uint32
	NumBlocks         uint32
	NumDirectoryBytes uint32
	Reserved          uint32
	BlockMapAddr      uint32
}

// File is an open MSF container: a memory-mapped page array plus the
// reconstructed stream directory. Page I/O is scoped to the lifetime
// of the backing file handle; once streams have been read out, File
// can be closed.
type File struct {
	data      mmap.MMap
	f         *os.File
	blockSize uint32
	numBlocks uint32
	streams   [][]uint32 // page list per stream index
	sizes     []uint32   // declared byte size per stream index
}

// Open memory-maps path and reconstructs its stream directory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	msf := &File{data: data, f: f}
	if err := msf.init(); err != nil {
		msf.Close()
		return nil, err
	}
	return msf, nil
}

// OpenBytes reconstructs a stream directory from an in-memory buffer,
// for tests and for embedding a PDB read from a non-file source.
func OpenBytes(data []byte) (*File, error) {
	msf := &File{data: mmap.MMap(data)}
	if err := msf.init(); err != nil {
		return nil, err
	}
	return msf, nil
}

// Close unmaps the backing file. Safe to call once all streams of
// interest have already been materialized.
func (f *File) Close() error {
	if f.data != nil {
		_ = f.data.Unmap()
	}
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

func (f *File) init() error {
	const magicLen = 32
	const headerLen = magicLen + 24 // superBlock is 6 x u32

	if len(f.data) < headerLen {
		return errs.New("msf.open", errs.CorruptMsf, nil)
	}
	if !bytes.Equal(f.data[:magicLen], Magic) {
		return errs.New("msf.open", errs.UnsupportedVersion, nil)
	}

	var sb superBlock
	if err := binary.Read(bytes.NewReader(f.data[magicLen:headerLen]), binary.LittleEndian, &sb); err != nil {
		return errs.New("msf.open", errs.CorruptMsf, err)
	}
	if sb.BlockSize == 0 {
		return errs.New("msf.open", errs.CorruptMsf, nil)
	}
	f.blockSize = sb.BlockSize
	f.numBlocks = sb.NumBlocks

	numDirBlocks := ceilDiv(sb.NumDirectoryBytes, sb.BlockSize)
	blockMapPage, err := f.readPage(sb.BlockMapAddr)
	if err != nil {
		return errs.New("msf.open", errs.CorruptMsf, err)
	}
	if uint32(len(blockMapPage)) < numDirBlocks*4 {
		return errs.New("msf.open", errs.CorruptMsf, nil)
	}
	dirPages := make([]uint32, numDirBlocks)
	for i := range dirPages {
		dirPages[i] = binary.LittleEndian.Uint32(blockMapPage[i*4:])
	}

	dirBuf, err := f.concatPages(dirPages, sb.NumDirectoryBytes)
	if err != nil {
		return errs.New("msf.open", errs.CorruptMsf, err)
	}

	return f.parseDirectory(dirBuf)
}

func (f *File) parseDirectory(dirBuf []byte) error {
	r := bytes.NewReader(dirBuf)
	var numStreams uint32
	if err := binary.Read(r, binary.LittleEndian, &numStreams); err != nil {
		return errs.New("msf.directory", errs.CorruptMsf, err)
	}

	sizes := make([]uint32, numStreams)
	for i := range sizes {
		if err := binary.Read(r, binary.LittleEndian, &sizes[i]); err != nil {
			return errs.New("msf.directory", errs.CorruptMsf, err)
		}
		if sizes[i] == emptyStreamSize {
			sizes[i] = 0
		}
	}

	streams := make([][]uint32, numStreams)
	for i, size := range sizes {
		n := ceilDiv(size, f.blockSize)
		pages := make([]uint32, n)
		for j := range pages {
			if err := binary.Read(r, binary.LittleEndian, &pages[j]); err != nil {
				return errs.New("msf.directory", errs.CorruptMsf, err)
			}
		}
		streams[i] = pages
	}

	f.sizes = sizes
	f.streams = streams
	return nil
}

func (f *File) readPage(index uint32) ([]byte, error) {
	start := uint64(index) * uint64(f.blockSize)
	end := start + uint64(f.blockSize)
	if end > uint64(len(f.data)) {
		return nil, errs.New("msf.readPage", errs.CorruptMsf, nil)
	}
	return f.data[start:end], nil
}

func (f *File) concatPages(pages []uint32, size uint32) ([]byte, error) {
	buf := make([]byte, 0, size)
	for _, p := range pages {
		page, err := f.readPage(p)
		if err != nil {
			return nil, err
		}
		buf = append(buf, page...)
	}
	if uint32(len(buf)) < size {
		return nil, errs.New("msf.concatPages", errs.CorruptMsf, nil)
	}
	return buf[:size], nil
}

// NumStreams reports the number of entries in the stream directory.
func (f *File) NumStreams() int { return len(f.streams) }

// StreamSize returns the declared byte length of stream i.
func (f *File) StreamSize(i uint32) (uint32, error) {
	if int(i) >= len(f.sizes) {
		return 0, errs.New("msf.streamSize", errs.NoSuchStream, nil)
	}
	return f.sizes[i], nil
}

// ReadStream reconstructs the full byte contents of stream i by
// concatenating its page list and truncating to its declared size.
func (f *File) ReadStream(i uint32) ([]byte, error) {
	if int(i) >= len(f.streams) {
		return nil, errs.New("msf.readStream", errs.NoSuchStream, nil)
	}
	if f.sizes[i] == 0 {
		return nil, nil
	}
	buf, err := f.concatPages(f.streams[i], f.sizes[i])
	if err != nil {
		return nil, errs.New("msf.readStream", errs.CorruptMsf, err)
	}
	return buf, nil
}

// HasStream reports whether stream i exists and is non-empty.
func (f *File) HasStream(i uint32) bool {
	return int(i) < len(f.streams) && f.sizes[i] > 0
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
