// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage defines the byte-addressable region that the arena and
// hash-map layers are built on top of. A Storage is a fixed-size, []byte-like
// model of a region: it never grows or shrinks after construction. In
// contrast to an io.ReaderAt/io.WriterAt, Read and WriteMut hand back a slice
// backed directly by the region instead of copying into a caller-supplied
// buffer, so that the same bytes can later be mapped straight out of a file
// with no fix-ups.
//
// All bounds and overlap preconditions documented below are programming
// errors, not recoverable runtime conditions: violating one panics with a
// typed error (see errors.go) rather than returning one.
package storage

// Address is an unsigned byte offset into a Storage region. Address 0 is
// reserved by convention of the layers built on top of Storage (the arena's
// initial reservation, see package arena) and carries no special meaning
// here.
type Address = uint64

// Size is an unsigned byte length.
type Size = uint64

// Storage is a fixed-size byte region with byte-range read, write and
// intra-region copy. It has no state beyond the bytes themselves: no
// transactions, no journaling, no resizing.
type Storage interface {
	// Size returns the fixed size of the region, in bytes.
	Size() Size

	// Read returns a slice of length bytes starting at addr, backed
	// directly by the region. Panics if addr+length exceeds Size().
	Read(addr Address, length Size) []byte

	// WriteMut returns a mutable slice of length bytes starting at addr,
	// backed directly by the region. Panics if addr+length exceeds
	// Size(), or if the storage is read-only.
	WriteMut(addr Address, length Size) []byte

	// CopyWithin copies length bytes from src to dst. The ranges
	// [src,src+length) and [dst,dst+length) must not overlap; violating
	// that is a fatal programming error, even though Go's builtin copy
	// would happily (and correctly) handle the overlapping case.
	CopyWithin(src, dst Address, length Size)

	// IsReadonly reports whether WriteMut and CopyWithin are permitted.
	IsReadonly() bool
}

func checkBounds(name string, s Storage, addr Address, length Size) {
	if length == 0 {
		return
	}
	total := s.Size()
	if addr > total || length > total-addr {
		fail(&ErrOutOfBounds{Op: name, Addr: addr, Length: length, Total: total})
	}
}

func checkOverlap(name string, src, dst Address, length Size) {
	if length == 0 {
		return
	}
	if src+length <= dst || dst+length <= src {
		return
	}
	fail(&ErrOverlap{Op: name, Src: src, Dst: dst, Length: length})
}

func checkWritable(name string, s Storage) {
	if s.IsReadonly() {
		fail(&ErrPERM{Op: name})
	}
}
