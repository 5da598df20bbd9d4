// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arena

import (
	"testing"

	"github.com/cznic/sortutil"
	"github.com/stretchr/testify/require"

	"github.com/anchorbyte/barena/storage"
)

func newTestArena(t *testing.T, size storage.Size) *Arena {
	t.Helper()
	return NewArena(storage.NewMemStorage(size), 1)
}

func TestAllocFreeRestoresState(t *testing.T) {
	a := newTestArena(t, 1024)
	before := a.Stats()

	al := a.Alloc(64)
	require.NotZero(t, al.Addr)
	a.Free(al)

	after := a.Stats()
	require.Equal(t, before, after)
	require.NoError(t, a.SelfCheck())
}

func TestFreeCoalescing(t *testing.T) {
	// Scenario 6: allocate three adjacent blocks, free in an order that
	// exercises both "merge with next" and "merge with prev". The region
	// is sized so the three 10-byte blocks exactly exhaust it once the
	// 1-byte address-0 reservation is taken, leaving no stray remainder
	// block to confuse coalescing.
	a := newTestArena(t, 31)
	base := a.Stats()

	allocA := a.Alloc(10)
	allocB := a.Alloc(10)
	allocC := a.Alloc(10)
	require.Equal(t, allocA.Addr+10, allocB.Addr)
	require.Equal(t, allocB.Addr+10, allocC.Addr)

	a.Free(allocB)
	a.Free(allocA)

	// One free block of size 20 must now start at allocA's address.
	found := false
	for _, b := range a.freeByAddr {
		if b.addr == allocA.Addr {
			require.EqualValues(t, 20, b.size)
			found = true
		}
	}
	require.True(t, found)

	a.Free(allocC)
	found = false
	for _, b := range a.freeByAddr {
		if b.addr == allocA.Addr {
			require.EqualValues(t, 30, b.size)
			found = true
		}
	}
	require.True(t, found)
	require.NoError(t, a.SelfCheck())
	require.Equal(t, base, a.Stats())
}

func TestAllocZeroIsFatal(t *testing.T) {
	a := newTestArena(t, 64)
	require.Panics(t, func() { a.Alloc(0) })
}

func TestAllocExhaustedIsFatal(t *testing.T) {
	a := newTestArena(t, 16)
	require.Panics(t, func() { a.Alloc(1 << 20) })
}

func TestDoubleFreeIsFatal(t *testing.T) {
	a := newTestArena(t, 64)
	al := a.Alloc(8)
	a.Free(al)
	require.Panics(t, func() { a.Free(al) })
}

func TestForeignFreeIsFatal(t *testing.T) {
	a := newTestArena(t, 64)
	require.Panics(t, func() { a.Free(Allocation{Addr: 5, Size: 8}) })
}

func TestFreedRangeIsZeroed(t *testing.T) {
	s := storage.NewMemStorage(64)
	a := NewArena(s, 1)
	al := a.Alloc(8)
	b := a.BorrowMut(al)
	for i := range b.Bytes() {
		b.Bytes()[i] = 0xff
	}
	b.Release()
	a.Free(al)

	al2 := a.Alloc(8)
	require.Equal(t, al.Addr, al2.Addr)
	r := a.BorrowRead(al2)
	defer r.Release()
	for _, v := range r.Bytes() {
		require.Zero(t, v)
	}
}

func TestBorrowAliasing(t *testing.T) {
	a := newTestArena(t, 64)
	al := a.Alloc(16)

	m1 := a.BorrowMut(al)
	require.Panics(t, func() { a.BorrowRead(al) })
	m1.Release()

	r1 := a.BorrowRead(al)
	r2 := a.BorrowRead(al)
	r1.Release()
	r2.Release()

	m2 := a.BorrowMut(al)
	m2.Release()
}

func TestBorrowMustLieWithinLiveAllocation(t *testing.T) {
	a := newTestArena(t, 64)
	a.Alloc(8)
	require.Panics(t, func() { a.BorrowReadRange(40, 8) })
}

func TestDisableBorrowChecksSkipsTracking(t *testing.T) {
	a := newTestArena(t, 64)
	al := a.Alloc(16)
	a.DisableBorrowChecks()
	m1 := a.BorrowMut(al)
	m2 := a.BorrowMut(al) // would panic if tracked
	m1.Release()
	m2.Release()
}

func TestBestFitPicksSmallestAdequateBlock(t *testing.T) {
	a := newTestArena(t, 1024)
	x := a.Alloc(100)
	y := a.Alloc(50)
	z := a.Alloc(200)
	a.Free(x)
	a.Free(z)
	// free set now has the 100-byte block at x and one larger block that
	// z's 200 bytes coalesced into with the tail.
	got := a.Alloc(80)
	require.Equal(t, x.Addr, got.Addr, "best fit should reuse the 100-byte block, not the 200-byte one")
	a.Free(got)
	a.Free(y)
}

func TestLiveAllocationSetMatchesReferenceAfterChurn(t *testing.T) {
	a := newTestArena(t, 1 << 20)
	live := map[storage.Address]Allocation{}

	sizes := []storage.Size{16, 32, 64, 8, 128, 256}
	for _, sz := range sizes {
		al := a.Alloc(sz)
		live[al.Addr] = al
	}

	// free every other one
	i := 0
	for addr, al := range live {
		if i%2 == 0 {
			a.Free(al)
			delete(live, addr)
		}
		i++
	}

	var gotAddrs sortutil.Uint64Slice
	for _, al := range a.allocations {
		gotAddrs = append(gotAddrs, al.Addr)
	}
	// The address-0 reservation NewArena made is live as well.
	wantAddrs := sortutil.Uint64Slice{a.reservation.Addr}
	for addr := range live {
		wantAddrs = append(wantAddrs, addr)
	}
	gotAddrs.Sort()
	wantAddrs.Sort()
	require.Equal(t, []uint64(wantAddrs), []uint64(gotAddrs))
	require.NoError(t, a.SelfCheck())
}
