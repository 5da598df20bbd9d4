// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arena

import (
	"fmt"
	"log"

	"github.com/anchorbyte/barena/storage"
)

// fail panics with err. Every error type here indicates the caller already
// violated a documented precondition (double free, exhausted arena,
// aliasing, corruption found by a self-check) — see Try for the one place
// that turns such a panic back into a returned error.
func fail(err error) {
	panic(err)
}

// Try runs fn, recovering any panic whose value is an error and returning
// that error instead. It mirrors lldb.Allocator.Verify's log func(error) bool
// callback: a consumer embedding the arena in a larger service can use Try
// to turn a corruption panic into a returned error at its own boundary
// instead of crashing the process outright. Every error-valued panic is
// recovered, whatever package raised it (runtime errors included); panics
// with a non-error value are re-raised unchanged.
func Try(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}

// ErrINVAL reports an invalid argument to an Arena operation, such as
// alloc(0) or a borrow that does not lie within a live allocation.
type ErrINVAL struct {
	Op  string
	Arg interface{}
}

func (e *ErrINVAL) Error() string { return fmt.Sprintf("arena: %s: invalid argument %v", e.Op, e.Arg) }

// ErrExhausted reports that alloc requested more bytes than any single free
// block can satisfy.
type ErrExhausted struct {
	Requested storage.Size
	Largest   storage.Size
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("arena: exhausted: requested %d, largest free block %d", e.Requested, e.Largest)
}

// ErrDoubleFree reports a Free call passing an (addr, size) pair that does
// not match any currently outstanding Allocation.
type ErrDoubleFree struct {
	Alloc Allocation
}

func (e *ErrDoubleFree) Error() string {
	return fmt.Sprintf("arena: free: %v is not a live allocation (double free or foreign address)", e.Alloc)
}

// ErrAliasing reports a debug-mode borrow tracker violation: an attempt to
// hold two overlapping borrows where at least one is mutable.
type ErrAliasing struct {
	Existing, Requested borrow
}

func (e *ErrAliasing) Error() string {
	return fmt.Sprintf("arena: aliasing violation: requested %+v overlaps existing %+v", e.Requested, e.Existing)
}

// ErrCorrupted reports a self-check or invariant failure in the arena:
// free-list bookkeeping that doesn't reconcile. Package hashmap reports its
// own invariant failures with its own ErrCorrupted type.
type ErrCorrupted struct {
	Reason string
}

func (e *ErrCorrupted) Error() string { return "arena: corrupted: " + e.Reason }

var defaultLogger = log.Default()
