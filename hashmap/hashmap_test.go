// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hashmap

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anchorbyte/barena/arena"
	"github.com/anchorbyte/barena/storage"
)

func newTestMap(t *testing.T, k, v uint8) *Map {
	t.Helper()
	a := arena.NewArena(storage.NewMemStorage(1<<20), 1)
	return NewKV(a, k, v)
}

func TestInsertFindInlineOnly(t *testing.T) {
	m := newTestMap(t, 4, 4)

	require.True(t, m.Insert([]byte("ab"), []byte("1")))
	require.True(t, m.Insert([]byte("cd"), []byte("22")))
	require.Equal(t, 2, m.Len())

	v, ok := m.Find([]byte("ab"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	v, ok = m.Find([]byte("cd"))
	require.True(t, ok)
	require.Equal(t, []byte("22"), v)

	_, ok = m.Find([]byte("zz"))
	require.False(t, ok)
	require.NoError(t, m.SelfCheck())
}

func TestInsertOverflowValue(t *testing.T) {
	m := newTestMap(t, 4, 4)
	big := []byte("this value is much longer than four bytes")

	require.True(t, m.Insert([]byte("key"), big))
	v, ok := m.Find([]byte("key"))
	require.True(t, ok)
	require.Equal(t, big, v)
	require.NoError(t, m.SelfCheck())
}

func TestUpdateFreesOldOverflow(t *testing.T) {
	a := arena.NewArena(storage.NewMemStorage(1<<20), 1)
	m := NewKV(a, 4, 4)

	before := a.Stats()

	long1 := []byte("first long value that spills out of line")
	m.Insert([]byte("k"), long1)
	afterFirst := a.Stats()
	require.Greater(t, int(afterFirst.LiveBytes), int(before.LiveBytes))

	long2 := []byte("second long value, different length entirely now")
	require.False(t, m.Insert([]byte("k"), long2))

	v, ok := m.Find([]byte("k"))
	require.True(t, ok)
	require.Equal(t, long2, v)

	// Replacing with a short inline value should free the overflow
	// allocation entirely, leaving only the reservation and the (grown)
	// table live, as many allocations as before the first insert.
	require.False(t, m.Insert([]byte("k"), []byte("x")))
	require.Equal(t, before.LiveAllocCount, a.Stats().LiveAllocCount)
	v, ok = m.Find([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("x"), v)
	require.NoError(t, m.SelfCheck())
}

func TestRemoveBackshiftAcrossManyKeys(t *testing.T) {
	m := newTestMap(t, 4, 4)

	const n = 16
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte{byte(i), byte(i * 7)}
		require.True(t, m.Insert(keys[i], []byte{byte(i)}))
	}
	require.NoError(t, m.SelfCheck())

	for i := 0; i < n; i += 2 {
		require.True(t, m.Remove(keys[i]))
	}
	require.NoError(t, m.SelfCheck())

	for i := 0; i < n; i++ {
		v, ok := m.Find(keys[i])
		if i%2 == 0 {
			require.False(t, ok, "key %d should have been removed", i)
		} else {
			require.True(t, ok, "key %d should remain", i)
			require.Equal(t, []byte{byte(i)}, v)
		}
	}
}

func TestGrowthPreservesEntriesAgainstReferenceMap(t *testing.T) {
	m := newTestMap(t, 4, 4)
	ref := map[string]string{}

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("k%d", i)
		v := fmt.Sprintf("v%d-%d", i, r.Intn(1<<20))
		ref[k] = v
		m.Insert([]byte(k), []byte(v))
	}

	require.NoError(t, m.SelfCheck())
	require.Equal(t, len(ref), m.Len())

	for k, v := range ref {
		got, ok := m.Find([]byte(k))
		require.True(t, ok)
		require.Equal(t, v, string(got))
	}
}

func TestKeyLengthExactlyInlineCapStaysInline(t *testing.T) {
	m := newTestMap(t, 4, 4)
	key := []byte("abcd") // exactly K bytes
	before := m.a.Stats().LiveAllocCount
	m.Insert(key, []byte("v"))
	// The grown table replaced the header-only one; no overflow allocation.
	require.Equal(t, before, m.a.Stats().LiveAllocCount)

	v, ok := m.Find(key)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestKeyOneByteOverInlineCapSpills(t *testing.T) {
	m := newTestMap(t, 4, 4)
	key := []byte("abcde") // K+1 bytes
	before := m.a.Stats().LiveAllocCount
	m.Insert(key, []byte("v"))
	// The grown table replaced the header-only one; the key's overflow
	// allocation is the one extra.
	require.Equal(t, before+1, m.a.Stats().LiveAllocCount)

	v, ok := m.Find(key)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
	require.NoError(t, m.SelfCheck())
}

func TestGrowthFromZeroCapacity(t *testing.T) {
	a := arena.NewArena(storage.NewMemStorage(1<<16), 1)
	m := NewKV(a, 4, 4)
	require.Equal(t, 0, m.Capacity())

	m.Insert([]byte("a"), []byte("1"))
	require.GreaterOrEqual(t, m.Capacity(), 8)
	require.Equal(t, 1, m.Len())
}

func TestExplicitGrowIsANoOpWhenAlreadyBigEnough(t *testing.T) {
	a := arena.NewArena(storage.NewMemStorage(1<<16), 1)
	m := WithCapacityKV(a, 4, 4, 64)
	m.Grow(8)
	require.Equal(t, 64, m.Capacity())
}

func TestBadInlineSizeIsFatal(t *testing.T) {
	a := arena.NewArena(storage.NewMemStorage(1<<16), 1)
	require.Panics(t, func() { NewKV(a, 3, 4) })
	require.Panics(t, func() { NewKV(a, 4, 2) })
}

func TestDeleteAllFreesTable(t *testing.T) {
	a := arena.NewArena(storage.NewMemStorage(1<<16), 1)
	base := a.Stats()
	m := WithCapacityKV(a, 4, 4, 16)

	m.Insert([]byte("a"), []byte("this value spills out of the inline region"))
	m.Insert([]byte("b"), []byte("2"))
	m.DeleteAll()

	require.Equal(t, base, a.Stats())
}

func TestIterVisitsEveryEntry(t *testing.T) {
	m := newTestMap(t, 4, 4)
	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		m.Insert([]byte(k), []byte(v))
	}

	got := map[string]string{}
	m.Iter(func(k, v []byte) bool {
		got[string(k)] = string(v)
		return true
	})
	require.Equal(t, want, got)
}

func TestIterStopsEarly(t *testing.T) {
	m := newTestMap(t, 4, 4)
	for i := 0; i < 10; i++ {
		m.Insert([]byte{byte(i)}, []byte{byte(i)})
	}

	visited := 0
	m.Iter(func(k, v []byte) bool {
		visited++
		return false
	})
	require.Equal(t, 1, visited)
}
