// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import "fmt"

// fail panics with err. Every error type in this package indicates a
// programming error on the part of the caller (an out-of-bounds access, a
// write against a read-only region, an overlapping copy) and is never meant
// to be recovered except at a deliberate API boundary — see arena.Try for the
// one place in this module tree that does that.
func fail(err error) {
	panic(err)
}

// ErrOutOfBounds is reported when an access range exceeds the region size.
type ErrOutOfBounds struct {
	Op            string
	Addr          Address
	Length, Total Size
}

func (e *ErrOutOfBounds) Error() string {
	return fmt.Sprintf("storage: %s: range [%d,%d) exceeds size %d", e.Op, e.Addr, e.Addr+e.Length, e.Total)
}

// ErrOverlap is reported when CopyWithin's source and destination ranges
// overlap.
type ErrOverlap struct {
	Op       string
	Src, Dst Address
	Length   Size
}

func (e *ErrOverlap) Error() string {
	return fmt.Sprintf("storage: %s: overlapping ranges src=[%d,%d) dst=[%d,%d)",
		e.Op, e.Src, e.Src+e.Length, e.Dst, e.Dst+e.Length)
}

// ErrPERM is reported when a mutating operation is attempted against a
// read-only Storage.
type ErrPERM struct {
	Op string
}

func (e *ErrPERM) Error() string { return "storage: " + e.Op + ": storage is read-only" }
