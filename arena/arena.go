// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The storage space management.
//
// Arena implements best-fit free-list allocation (allocation and
// deallocation) for the low level of the embedded hash map in package
// hashmap. The storage is an abstraction provided by storage.Storage.
//
// Unlike lldb's Allocator, which threads a doubly linked list of free blocks
// through the blocks themselves (so it can work against an append-only
// Filer), Arena keeps two small in-memory ordered views of the free set —
// one by address, for coalescing, one by (size, address), for best-fit
// lookup — because its region is fixed size and fully resident, making two
// slices far simpler and just as fast for the region sizes this package
// targets.
package arena

import (
	"log"
	"sort"

	"github.com/cznic/mathutil"

	"github.com/anchorbyte/barena/storage"
)

// Address is an unsigned offset into the arena's Storage region. Address 0
// is reserved: NewArena always performs an initial reservation so address 0
// is never returned by Alloc, letting higher layers (package hashmap) use it
// as a null/"no overflow" sentinel.
type Address = storage.Address

// Size is an unsigned byte length.
type Size = storage.Size

// Allocation is a live (addr, size) pair returned by Alloc. The caller must
// pass the exact same pair back to Free; using it after Free is a fatal
// programming error.
type Allocation struct {
	Addr Address
	Size Size
}

type block struct {
	addr Address
	size Size
}

// AllocStats summarizes the current state of an Arena, mirroring the shape
// of lldb.AllocStats.
type AllocStats struct {
	TotalBytes     Size
	LiveBytes      Size
	FreeBytes      Size
	LiveAllocCount int
	FreeBlockCount int
	LargestFree    Size
}

// Arena is the allocator plus the storage region it manages, viewed as a
// single resource.
type Arena struct {
	storage storage.Storage
	total   Size

	allocations []Allocation // addr-ordered
	freeByAddr  []block      // addr-ordered
	freeBySize  []block      // (size, addr)-ordered

	trackBorrows bool
	borrows      []borrow

	reservation Allocation // the address-0-exclusion reservation; never freed

	logger *log.Logger
}

// SetLogger sets the logger SelfCheck uses to report an invariant violation
// before returning it as an error. A nil logger silences this reporting.
func (a *Arena) SetLogger(l *log.Logger) { a.logger = l }

// NewArena constructs an Arena over s. reservation must be >= 1; it is
// allocated immediately and never exposed, so that address 0 stays unused
// for the lifetime of the Arena (spec section 3, "Address").
func NewArena(s storage.Storage, reservation Size) *Arena {
	if reservation == 0 {
		fail(&ErrINVAL{Op: "NewArena", Arg: reservation})
	}

	total := s.Size()
	a := &Arena{
		storage:      s,
		total:        total,
		freeByAddr:   []block{{addr: 0, size: total}},
		freeBySize:   []block{{addr: 0, size: total}},
		trackBorrows: true,
		logger:       defaultLogger,
	}
	a.reservation = a.Alloc(reservation)
	return a
}

// Total returns the fixed size of the underlying region.
func (a *Arena) Total() Size { return a.total }

// Alloc returns a new Allocation of exactly size bytes, chosen by best fit:
// an exact-size free block if one exists, otherwise the smallest free block
// that fits, split so the remainder stays free. Fatal if size == 0 or no
// free block is large enough.
func (a *Arena) Alloc(size Size) Allocation {
	if size == 0 {
		fail(&ErrINVAL{Op: "Alloc", Arg: size})
	}

	i := sort.Search(len(a.freeBySize), func(i int) bool { return a.freeBySize[i].size >= size })
	if i == len(a.freeBySize) {
		fail(&ErrExhausted{Requested: size, Largest: a.largestFree()})
	}

	chosen := a.freeBySize[i]
	a.removeFree(chosen)

	if chosen.size > size {
		remainder := block{addr: chosen.addr + size, size: chosen.size - size}
		a.insertFree(remainder)
	}

	alloc := Allocation{Addr: chosen.addr, Size: size}
	a.insertAllocation(alloc)
	return alloc
}

// Free releases alloc back to the arena. alloc must be exactly the value
// previously returned by Alloc; Free zeroes the released range before
// merging it into the free set, then coalesces with any free neighbors.
func (a *Arena) Free(alloc Allocation) {
	i := a.allocIndexForAddr(alloc.Addr)
	if i < 0 || a.allocations[i] != alloc {
		fail(&ErrDoubleFree{Alloc: alloc})
	}
	a.allocations = append(a.allocations[:i], a.allocations[i+1:]...)

	a.zero(alloc.Addr, alloc.Size)

	merged := block{addr: alloc.Addr, size: alloc.Size}

	if j := a.freeIndexForAddr(merged.addr + merged.size); j >= 0 && a.freeByAddr[j].addr == merged.addr+merged.size {
		next := a.freeByAddr[j]
		a.removeFree(next)
		merged.size += next.size
	}

	if j := a.freeIndexBefore(merged.addr); j >= 0 && a.freeByAddr[j].addr+a.freeByAddr[j].size == merged.addr {
		prev := a.freeByAddr[j]
		a.removeFree(prev)
		merged.addr = prev.addr
		merged.size += prev.size
	}

	a.insertFree(merged)
}

func (a *Arena) zero(addr Address, size Size) {
	if size == 0 {
		return
	}
	w := a.storage.WriteMut(addr, size)
	for i := range w {
		w[i] = 0
	}
}

func (a *Arena) largestFree() Size {
	if len(a.freeBySize) == 0 {
		return 0
	}
	return a.freeBySize[len(a.freeBySize)-1].size
}

// Stats reports a point-in-time summary of the arena.
func (a *Arena) Stats() AllocStats {
	st := AllocStats{TotalBytes: a.total, LiveAllocCount: len(a.allocations), FreeBlockCount: len(a.freeByAddr)}
	for _, al := range a.allocations {
		st.LiveBytes += al.Size
	}
	for _, fb := range a.freeByAddr {
		st.FreeBytes += fb.size
		st.LargestFree = Size(mathutil.MaxUint64(uint64(st.LargestFree), uint64(fb.size)))
	}
	return st
}

// SelfCheck verifies the universal arena invariants from spec section 8:
// live and free blocks partition [0,total) with no overlap and no two
// abutting free blocks, and both free-set views are permutations of each
// other.
func (a *Arena) SelfCheck() error {
	type span struct {
		start, end Address
		free       bool
	}
	var spans []span
	for _, al := range a.allocations {
		spans = append(spans, span{al.Addr, al.Addr + al.Size, false})
	}
	for _, fb := range a.freeByAddr {
		spans = append(spans, span{fb.addr, fb.addr + fb.size, true})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var cursor Address
	var lastWasFree bool
	for i, s := range spans {
		if s.start != cursor {
			return a.corrupted("gap or overlap in region coverage")
		}
		if i > 0 && lastWasFree && s.free {
			return a.corrupted("two abutting free blocks were not coalesced")
		}
		cursor = s.end
		lastWasFree = s.free
	}
	if cursor != a.total {
		return a.corrupted("region coverage does not reach total size")
	}

	if len(a.freeByAddr) != len(a.freeBySize) {
		return a.corrupted("free-by-addr and free-by-size views disagree in size")
	}
	byAddr := make(map[block]int, len(a.freeByAddr))
	for _, b := range a.freeByAddr {
		byAddr[b]++
	}
	for _, b := range a.freeBySize {
		byAddr[b]--
	}
	for _, n := range byAddr {
		if n != 0 {
			return a.corrupted("free-by-addr and free-by-size views are not the same multiset")
		}
	}
	return nil
}

func (a *Arena) corrupted(reason string) error {
	err := &ErrCorrupted{Reason: reason}
	if a.logger != nil {
		a.logger.Printf("%v", err)
	}
	return err
}

// --- borrowed access -------------------------------------------------

// BorrowRead registers a debug-mode read borrow over alloc and returns a
// handle exposing the bytes. Call Release when finished.
func (a *Arena) BorrowRead(alloc Allocation) *Borrow {
	b := a.registerBorrow(alloc.Addr, alloc.Addr+alloc.Size, false)
	return &Borrow{a: a, b: b, bytes: a.storage.Read(alloc.Addr, alloc.Size), live: true}
}

// BorrowMut registers a debug-mode mutable borrow over alloc and returns a
// handle exposing the bytes. Call Release when finished.
func (a *Arena) BorrowMut(alloc Allocation) *Borrow {
	b := a.registerBorrow(alloc.Addr, alloc.Addr+alloc.Size, true)
	return &Borrow{a: a, b: b, bytes: a.storage.WriteMut(alloc.Addr, alloc.Size), live: true}
}

// BorrowReadRange is BorrowRead over an explicit sub-range rather than a
// whole Allocation, for callers (package hashmap) that only need a field
// inside a larger allocation.
func (a *Arena) BorrowReadRange(addr Address, length Size) *Borrow {
	b := a.registerBorrow(addr, addr+length, false)
	return &Borrow{a: a, b: b, bytes: a.storage.Read(addr, length), live: true}
}

// BorrowMutRange is BorrowMut over an explicit sub-range.
func (a *Arena) BorrowMutRange(addr Address, length Size) *Borrow {
	b := a.registerBorrow(addr, addr+length, true)
	return &Borrow{a: a, b: b, bytes: a.storage.WriteMut(addr, length), live: true}
}

// CopyWithin delegates to the underlying Storage; src and dst must not
// overlap.
func (a *Arena) CopyWithin(src, dst Address, length Size) {
	a.storage.CopyWithin(src, dst, length)
}

// --- internal ordered-set maintenance ----------------------------------

func (a *Arena) allocIndexForAddr(addr Address) int {
	i := sort.Search(len(a.allocations), func(i int) bool { return a.allocations[i].Addr >= addr })
	if i < len(a.allocations) && a.allocations[i].Addr == addr {
		return i
	}
	return -1
}

// allocIndexContaining returns the index of the live allocation with the
// greatest Addr <= addr, or -1 if none starts at or before addr. Unlike
// allocIndexForAddr, which Free uses to demand an exact match, this is for
// callers (the borrow tracker) that need the allocation a sub-range address
// falls inside, not one that starts exactly there.
func (a *Arena) allocIndexContaining(addr Address) int {
	i := sort.Search(len(a.allocations), func(i int) bool { return a.allocations[i].Addr > addr })
	if i == 0 {
		return -1
	}
	return i - 1
}

func (a *Arena) insertAllocation(al Allocation) {
	i := sort.Search(len(a.allocations), func(i int) bool { return a.allocations[i].Addr >= al.Addr })
	a.allocations = append(a.allocations, Allocation{})
	copy(a.allocations[i+1:], a.allocations[i:])
	a.allocations[i] = al
}

// freeIndexForAddr returns the index of the free-by-addr block whose address
// is >= addr (the first candidate for "starts exactly at addr"), or -1.
func (a *Arena) freeIndexForAddr(addr Address) int {
	i := sort.Search(len(a.freeByAddr), func(i int) bool { return a.freeByAddr[i].addr >= addr })
	if i < len(a.freeByAddr) {
		return i
	}
	return -1
}

// freeIndexBefore returns the index of the last free-by-addr block whose
// address is < addr, or -1.
func (a *Arena) freeIndexBefore(addr Address) int {
	i := sort.Search(len(a.freeByAddr), func(i int) bool { return a.freeByAddr[i].addr >= addr })
	if i == 0 {
		return -1
	}
	return i - 1
}

func freeLess(a, b block) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.addr < b.addr
}

func (a *Arena) insertFree(b block) {
	i := sort.Search(len(a.freeByAddr), func(i int) bool { return a.freeByAddr[i].addr >= b.addr })
	a.freeByAddr = append(a.freeByAddr, block{})
	copy(a.freeByAddr[i+1:], a.freeByAddr[i:])
	a.freeByAddr[i] = b

	j := sort.Search(len(a.freeBySize), func(j int) bool { return !freeLess(a.freeBySize[j], b) })
	a.freeBySize = append(a.freeBySize, block{})
	copy(a.freeBySize[j+1:], a.freeBySize[j:])
	a.freeBySize[j] = b
}

func (a *Arena) removeFree(b block) {
	i := sort.Search(len(a.freeByAddr), func(i int) bool { return a.freeByAddr[i].addr >= b.addr })
	if i >= len(a.freeByAddr) || a.freeByAddr[i] != b {
		fail(&ErrCorrupted{Reason: "free block missing from address-ordered view"})
	}
	a.freeByAddr = append(a.freeByAddr[:i], a.freeByAddr[i+1:]...)

	j := sort.Search(len(a.freeBySize), func(j int) bool { return !freeLess(a.freeBySize[j], b) })
	for j < len(a.freeBySize) && a.freeBySize[j] != b {
		j++
	}
	if j >= len(a.freeBySize) {
		fail(&ErrCorrupted{Reason: "free block missing from size-ordered view"})
	}
	a.freeBySize = append(a.freeBySize[:j], a.freeBySize[j+1:]...)
}
