// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// An os.File backed Storage, memory-mapped so that the region really can be
// read and written without a copy through the kernel on every access, and so
// that the byte-for-byte layout written by the arena/hash-map layers above
// can be reopened later with no fix-ups, matching the pointer-free addressing
// design note in the spec this package implements.

package storage

import (
	"fmt"
	"os"

	"github.com/cznic/fileutil"
	"golang.org/x/sys/unix"
)

var _ Storage = (*FileStorage)(nil) // Ensure FileStorage is a Storage.

// FileStorage is an os.File backed Storage of fixed size, mapped into the
// process address space for the lifetime of the FileStorage.
type FileStorage struct {
	file     *os.File
	data     []byte
	readonly bool
}

// CreateFileStorage creates a new file at name, sized exactly size bytes, and
// memory-maps it read-write. The file must not already exist.
func CreateFileStorage(name string, size Size) (*FileStorage, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(name)
		return nil, err
	}

	return mapFile(f, size, false)
}

// OpenFileStorage memory-maps an existing file of the given size. Pass
// readonly=true to map it PROT_READ only; WriteMut and CopyWithin then panic.
func OpenFileStorage(name string, size Size, readonly bool) (*FileStorage, error) {
	flag := os.O_RDWR
	if readonly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return nil, err
	}

	return mapFile(f, size, readonly)
}

func mapFile(f *os.File, size Size, readonly bool) (*FileStorage, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readonly {
		prot = unix.PROT_READ
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap %s: %w", f.Name(), err)
	}

	return &FileStorage{file: f, data: data, readonly: readonly}, nil
}

// Sync flushes dirty pages of the mapping to disk.
func (s *FileStorage) Sync() error {
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close unmaps the region and closes the underlying file.
func (s *FileStorage) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		return err
	}
	return s.file.Close()
}

// Size implements Storage.
func (s *FileStorage) Size() Size { return Size(len(s.data)) }

// IsReadonly implements Storage.
func (s *FileStorage) IsReadonly() bool { return s.readonly }

// Read implements Storage.
func (s *FileStorage) Read(addr Address, length Size) []byte {
	checkBounds("Read", s, addr, length)
	end := addr + length
	return s.data[addr:end:end]
}

// WriteMut implements Storage.
func (s *FileStorage) WriteMut(addr Address, length Size) []byte {
	checkWritable("WriteMut", s)
	checkBounds("WriteMut", s, addr, length)
	end := addr + length
	return s.data[addr:end:end]
}

// CopyWithin implements Storage.
func (s *FileStorage) CopyWithin(src, dst Address, length Size) {
	checkWritable("CopyWithin", s)
	checkBounds("CopyWithin(src)", s, src, length)
	checkBounds("CopyWithin(dst)", s, dst, length)
	checkOverlap("CopyWithin", src, dst, length)
	copy(s.data[dst:dst+length], s.data[src:src+length])
}

// Trim is a best-effort hint that the byte range [addr,addr+length) holds no
// data the caller cares about anymore, e.g. a large free block the arena just
// coalesced. It punches a hole in the backing file via fileutil.PunchHole,
// exactly how lldb.SimpleFileFiler.PunchHole delegates; unsupported
// filesystems make this a silent no-op. Trim is additive: the core's required
// Storage interface (Size/Read/WriteMut/CopyWithin/IsReadonly) never calls it.
func (s *FileStorage) Trim(addr Address, length Size) error {
	if s.readonly || length == 0 {
		return nil
	}
	checkBounds("Trim", s, addr, length)
	return fileutil.PunchHole(s.file, int64(addr), int64(length))
}
