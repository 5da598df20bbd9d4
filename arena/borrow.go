// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arena

import "github.com/anchorbyte/barena/storage"

// borrow records one outstanding byte-range borrow: [start, end) and whether
// it was taken mutably. This bookkeeping exists only to enforce the one
// mutable xor many immutable rule documented in spec section 5; production
// code that has already been exercised under the tracker may disable it with
// DisableBorrowChecks for a small constant-factor speedup.
type borrow struct {
	start, end storage.Address
	mutable    bool
}

func (b borrow) overlaps(o borrow) bool {
	return b.start < o.end && o.start < b.end
}

// Borrow is a handle to a registered borrow. Call Release when done with the
// slice it guards; using the slice after Release is a programming error the
// tracker cannot catch (Go has no destructors), exactly as using an
// Allocation after Free is documented as a fatal programming error in spec
// section 5.
type Borrow struct {
	a     *Arena
	b     borrow
	bytes []byte
	live  bool
}

// Bytes returns the borrowed slice.
func (h *Borrow) Bytes() []byte { return h.bytes }

// Release unregisters the borrow. Releasing twice is a no-op.
func (h *Borrow) Release() {
	if !h.live {
		return
	}
	h.live = false
	h.a.unregisterBorrow(h.b)
}

// DisableBorrowChecks turns off the debug aliasing tracker. Spec section 4.2
// explicitly allows production builds to skip it.
func (a *Arena) DisableBorrowChecks() { a.trackBorrows = false }

// EnableBorrowChecks turns the debug aliasing tracker back on. New
// Arenas have it enabled by default.
func (a *Arena) EnableBorrowChecks() { a.trackBorrows = true }

func (a *Arena) registerBorrow(start, end storage.Address, mutable bool) borrow {
	b := borrow{start: start, end: end, mutable: mutable}
	if !a.trackBorrows {
		return b
	}

	if !a.coveredByLiveAllocation(start, end) {
		fail(&ErrINVAL{Op: "registerBorrow", Arg: b})
	}

	for _, existing := range a.borrows {
		if !b.overlaps(existing) {
			continue
		}
		if b.mutable || existing.mutable {
			fail(&ErrAliasing{Existing: existing, Requested: b})
		}
	}

	a.borrows = append(a.borrows, b)
	return b
}

func (a *Arena) unregisterBorrow(b borrow) {
	if !a.trackBorrows {
		return
	}
	for i, existing := range a.borrows {
		if existing == b {
			a.borrows = append(a.borrows[:i], a.borrows[i+1:]...)
			return
		}
	}
}

func (a *Arena) coveredByLiveAllocation(start, end storage.Address) bool {
	i := a.allocIndexContaining(start)
	if i < 0 {
		return false
	}
	alloc := a.allocations[i]
	return start >= alloc.Addr && end <= alloc.Addr+alloc.Size
}
