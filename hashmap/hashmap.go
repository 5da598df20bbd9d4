// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hashmap implements the open-addressed hash table described in the
// design this module grew from: a robin-hood-flavored table whose header,
// entry array, and spilled keys/values all live inside a package arena.Arena,
// addressed purely by offset. There is no in-process copy of the table
// sitting next to it the way a regular Go map would — every read and write
// goes through the arena, which is what lets the same bytes later be mapped
// straight out of a file.
package hashmap

import (
	"encoding/binary"

	"github.com/anchorbyte/barena/arena"
	"github.com/anchorbyte/barena/storage"
)

const (
	magic      = "HASH"
	headerSize = 12 // magic(4) + len(4) + capacity(4)

	defaultK = 4
	defaultV = 4
)

// entryArrayLen maps a user-facing capacity to the number of physical slots
// in the entry array, keeping the load factor (len/entrySlots) at or below
// 2/3 whenever len <= capacity. Source variants disagree between 2*capacity
// and ceil(3*capacity/2); this implementation picks the latter (see
// DESIGN.md for the resulting load-factor bound).
func entryArrayLen(capacity uint32) uint32 {
	return uint32((uint64(capacity)*3 + 1) / 2)
}

// Map is an open-addressed hash table of []byte keys to []byte values,
// stored entirely inside an arena.Arena.
type Map struct {
	a          *arena.Arena
	base       arena.Address
	k, v       uint8 // inline key/value region sizes
	slotSize   uint32
	capacity   uint32
	entrySlots uint32
	length     uint32
}

// New creates an empty Map with the default inline sizes (K=4, V=4). Its
// backing allocation holds only the 12-byte header and no entry slots until
// the first Insert forces a grow from capacity 0.
func New(a *arena.Arena) *Map { return NewKV(a, defaultK, defaultV) }

// WithCapacity pre-sizes a Map for at least capacity entries, default inline
// sizes.
func WithCapacity(a *arena.Arena, capacity uint32) *Map {
	return WithCapacityKV(a, defaultK, defaultV, capacity)
}

// NewKV is New with explicit inline key/value region sizes. K and V must
// each be >= 4, since a spilled field stores a 4-byte overflow address in
// its inline region.
func NewKV(a *arena.Arena, k, v uint8) *Map {
	return WithCapacityKV(a, k, v, 0)
}

// WithCapacityKV is WithCapacity with explicit inline key/value region
// sizes.
func WithCapacityKV(a *arena.Arena, k, v uint8, capacity uint32) *Map {
	if k < 4 || v < 4 {
		fail(&ErrBadInlineSize{K: k, V: v})
	}

	m := &Map{a: a, k: k, v: v, slotSize: uint32(8 + int(k) + int(v))}
	m.base, m.entrySlots = m.allocTable(capacity)
	m.capacity = capacity
	return m
}

// Len returns the number of occupied entries.
func (m *Map) Len() int { return int(m.length) }

// Capacity returns the table's current user-facing capacity.
func (m *Map) Capacity() int { return int(m.capacity) }

// Grow pre-sizes the map to at least capacity entries, performing a resize
// immediately rather than waiting for the next Insert that would trigger
// one. A no-op if capacity is already sufficient.
func (m *Map) Grow(capacity uint32) {
	if capacity <= m.capacity {
		return
	}
	m.resize(capacity)
}

func (m *Map) allocTable(capacity uint32) (arena.Address, uint32) {
	entrySlots := entryArrayLen(capacity)
	size := storage.Size(headerSize) + storage.Size(m.slotSize)*storage.Size(entrySlots)
	al := m.a.Alloc(size)
	m.writeHeader(al.Addr, 0, capacity)
	return al.Addr, entrySlots
}

func (m *Map) tableSize(entrySlots uint32) storage.Size {
	return storage.Size(headerSize) + storage.Size(m.slotSize)*storage.Size(entrySlots)
}

func (m *Map) writeHeader(base arena.Address, length, capacity uint32) {
	b := m.a.BorrowMutRange(base, headerSize)
	defer b.Release()
	copy(b.Bytes()[0:4], magic)
	binary.LittleEndian.PutUint32(b.Bytes()[4:8], length)
	binary.LittleEndian.PutUint32(b.Bytes()[8:12], capacity)
}

func (m *Map) setLen(n uint32) {
	m.length = n
	b := m.a.BorrowMutRange(m.base+4, 4)
	defer b.Release()
	binary.LittleEndian.PutUint32(b.Bytes(), n)
}

func (m *Map) slotAddr(i uint32) arena.Address {
	return m.base + headerSize + arena.Address(i)*arena.Address(m.slotSize)
}

func (m *Map) keyRegionAddr(slot arena.Address) arena.Address { return slot + 8 }
func (m *Map) valRegionAddr(slot arena.Address) arena.Address {
	return slot + 8 + arena.Address(m.k)
}

func (m *Map) readMeta(slot arena.Address) metadata {
	b := m.a.BorrowReadRange(slot, 8)
	defer b.Release()
	return metadata(binary.LittleEndian.Uint64(b.Bytes()))
}

func (m *Map) writeMeta(slot arena.Address, meta metadata) {
	b := m.a.BorrowMutRange(slot, 8)
	defer b.Release()
	binary.LittleEndian.PutUint64(b.Bytes(), uint64(meta))
}

// --- field (key/value) inline-or-spill access --------------------------

func (m *Map) readField(regionAddr arena.Address, inlineCap uint8, ool bool, inlineLen uint8) []byte {
	if !ool {
		b := m.a.BorrowReadRange(regionAddr, storage.Size(inlineCap))
		defer b.Release()
		out := make([]byte, inlineLen)
		copy(out, b.Bytes()[:inlineLen])
		return out
	}

	addr := m.readOverflowAddr(regionAddr)
	lb := m.a.BorrowReadRange(addr, 1)
	l := lb.Bytes()[0]
	lb.Release()
	db := m.a.BorrowReadRange(addr+1, storage.Size(l))
	out := make([]byte, l)
	copy(out, db.Bytes())
	db.Release()
	return out
}

func (m *Map) readOverflowAddr(regionAddr arena.Address) arena.Address {
	b := m.a.BorrowReadRange(regionAddr, 4)
	defer b.Release()
	return arena.Address(binary.LittleEndian.Uint32(b.Bytes()))
}

// freeOverflowIfAny frees the overflow allocation (if any) a field
// currently points to, per the inline-or-spill write rule's first step.
func (m *Map) freeOverflowIfAny(regionAddr arena.Address, ool bool) {
	if !ool {
		return
	}
	addr := m.readOverflowAddr(regionAddr)
	if addr == 0 {
		return
	}
	lb := m.a.BorrowReadRange(addr, 1)
	l := lb.Bytes()[0]
	lb.Release()
	m.a.Free(arena.Allocation{Addr: addr, Size: storage.Size(1) + storage.Size(l)})
}

// writeField applies the inline-or-spill rule, returning the metadata
// updated with the field's out-of-line bit and inline-length bits. The
// caller is responsible for clearing the prior state first via
// freeOverflowIfAny.
func (m *Map) writeField(regionAddr arena.Address, inlineCap uint8, meta metadata, data []byte, setOOL func(metadata, bool) metadata, setLen func(metadata, uint8) metadata) metadata {
	if len(data) > maxFieldLen {
		fail(&ErrTooLarge{What: "field", Len: len(data)})
	}

	if len(data) <= int(inlineCap) && len(data) <= maxInline {
		b := m.a.BorrowMutRange(regionAddr, storage.Size(inlineCap))
		for i := range b.Bytes() {
			b.Bytes()[i] = 0
		}
		copy(b.Bytes(), data)
		b.Release()
		meta = setOOL(meta, false)
		return setLen(meta, uint8(len(data)))
	}

	al := m.a.Alloc(storage.Size(1 + len(data)))
	wb := m.a.BorrowMut(al)
	wb.Bytes()[0] = byte(len(data))
	copy(wb.Bytes()[1:], data)
	wb.Release()

	ptr := m.a.BorrowMutRange(regionAddr, storage.Size(inlineCap))
	for i := range ptr.Bytes() {
		ptr.Bytes()[i] = 0
	}
	binary.LittleEndian.PutUint32(ptr.Bytes(), uint32(al.Addr))
	ptr.Release()

	meta = setOOL(meta, true)
	return setLen(meta, 0)
}

// --- probing -------------------------------------------------------------

// Find looks up key and returns its value and true, or (nil, false).
func (m *Map) Find(key []byte) ([]byte, bool) {
	if m.entrySlots == 0 {
		return nil, false
	}

	hash := hashKey(key)
	want := hash & hash46Mask
	i := idealSlot(hash, m.entrySlots)

	for n := uint32(0); n < m.entrySlots; n++ {
		slot := m.slotAddr(i)
		meta := m.readMeta(slot)
		if !meta.occupied() {
			return nil, false
		}
		if meta.hash46() == want {
			k := m.readField(m.keyRegionAddr(slot), m.k, meta.keyOOL(), meta.keyLen())
			if bytesEqual(k, key) {
				v := m.readField(m.valRegionAddr(slot), m.v, meta.valOOL(), meta.valLen())
				return v, true
			}
		}
		i = (i + 1) % m.entrySlots
	}
	return nil, false
}

// Insert stores value under key, growing the table first if it is at
// capacity. Returns true if a new entry was added, false if an existing
// entry's value was overwritten.
func (m *Map) Insert(key, value []byte) bool {
	if len(key) > maxFieldLen {
		fail(&ErrTooLarge{What: "key", Len: len(key)})
	}
	if len(value) > maxFieldLen {
		fail(&ErrTooLarge{What: "value", Len: len(value)})
	}

	if m.length >= m.capacity {
		next := uint32(8)
		if m.capacity != 0 {
			next = uint32((uint64(m.capacity)*3 + 1) / 2)
		}
		m.resize(next)
	}

	hash := hashKey(key)
	hash46 := hash & hash46Mask
	i := idealSlot(hash, m.entrySlots)

	for n := uint32(0); n < m.entrySlots; n++ {
		slot := m.slotAddr(i)
		meta := m.readMeta(slot)

		if !meta.occupied() {
			meta = packMetadata(hash46).withOccupied(true)
			meta = m.writeField(m.keyRegionAddr(slot), m.k, meta, key, metadata.withKeyOOL, metadata.withKeyLen)
			meta = m.writeField(m.valRegionAddr(slot), m.v, meta, value, metadata.withValOOL, metadata.withValLen)
			m.writeMeta(slot, meta)
			m.setLen(m.length + 1)
			return true
		}

		if meta.hash46() == hash46 {
			existing := m.readField(m.keyRegionAddr(slot), m.k, meta.keyOOL(), meta.keyLen())
			if bytesEqual(existing, key) {
				m.freeOverflowIfAny(m.valRegionAddr(slot), meta.valOOL())
				meta = m.writeField(m.valRegionAddr(slot), m.v, meta, value, metadata.withValOOL, metadata.withValLen)
				m.writeMeta(slot, meta)
				return false
			}
		}

		i = (i + 1) % m.entrySlots
	}

	fail(&ErrCorrupted{Reason: "insert swept every slot without finding room or a match"})
	panic("unreachable")
}

// Remove deletes key if present, repairing the probe sequence of any
// entries that followed it. Returns whether key was present.
func (m *Map) Remove(key []byte) bool {
	if m.entrySlots == 0 {
		return false
	}

	hash := hashKey(key)
	want := hash & hash46Mask
	i := idealSlot(hash, m.entrySlots)

	for n := uint32(0); n < m.entrySlots; n++ {
		slot := m.slotAddr(i)
		meta := m.readMeta(slot)
		if !meta.occupied() {
			return false
		}
		if meta.hash46() == want {
			k := m.readField(m.keyRegionAddr(slot), m.k, meta.keyOOL(), meta.keyLen())
			if bytesEqual(k, key) {
				m.freeOverflowIfAny(m.keyRegionAddr(slot), meta.keyOOL())
				m.freeOverflowIfAny(m.valRegionAddr(slot), meta.valOOL())
				m.clearSlot(slot)
				m.backshiftRepair(i)
				m.setLen(m.length - 1)
				return true
			}
		}
		i = (i + 1) % m.entrySlots
	}
	return false
}

func (m *Map) clearSlot(slot arena.Address) {
	b := m.a.BorrowMutRange(slot, storage.Size(m.slotSize))
	defer b.Release()
	for i := range b.Bytes() {
		b.Bytes()[i] = 0
	}
}

// backshiftRepair walks forward from the just-emptied slot d, pulling
// entries back toward their ideal slot so that every occupied slot remains
// reachable by a probe from its ideal slot without crossing an empty one.
func (m *Map) backshiftRepair(d uint32) {
	s := (d + 1) % m.entrySlots
	for {
		slot := m.slotAddr(s)
		meta := m.readMeta(slot)
		if !meta.occupied() {
			return
		}

		ideal := idealSlot(meta.hash46(), m.entrySlots)

		if ideal == s {
			s = (s + 1) % m.entrySlots
			continue
		}

		var onPath bool
		if s > ideal {
			onPath = ideal <= d && d < s
		} else {
			onPath = d >= ideal || d < s
		}

		if !onPath {
			s = (s + 1) % m.entrySlots
			continue
		}

		m.moveSlot(s, d)
		d = s
		s = (s + 1) % m.entrySlots
	}
}

func (m *Map) moveSlot(from, to uint32) {
	src := m.slotAddr(from)
	dst := m.slotAddr(to)
	m.a.CopyWithin(src, dst, storage.Size(m.slotSize))
	m.clearSlot(src)
}

// --- iteration and bulk teardown ----------------------------------------

// Iter visits every occupied (key, value) pair in storage order. The order
// is unspecified and may change across resizes.
func (m *Map) Iter(visit func(key, value []byte) bool) {
	for i := uint32(0); i < m.entrySlots; i++ {
		slot := m.slotAddr(i)
		meta := m.readMeta(slot)
		if !meta.occupied() {
			continue
		}
		k := m.readField(m.keyRegionAddr(slot), m.k, meta.keyOOL(), meta.keyLen())
		v := m.readField(m.valRegionAddr(slot), m.v, meta.valOOL(), meta.valLen())
		if !visit(k, v) {
			return
		}
	}
}

// DeleteAll frees every overflow allocation of every occupied entry, then
// frees the table allocation itself. The Map must not be used afterward.
func (m *Map) DeleteAll() {
	for i := uint32(0); i < m.entrySlots; i++ {
		slot := m.slotAddr(i)
		meta := m.readMeta(slot)
		if !meta.occupied() {
			continue
		}
		m.freeOverflowIfAny(m.keyRegionAddr(slot), meta.keyOOL())
		m.freeOverflowIfAny(m.valRegionAddr(slot), meta.valOOL())
	}
	m.a.Free(arena.Allocation{Addr: m.base, Size: m.tableSize(m.entrySlots)})
	m.base = 0
	m.entrySlots = 0
	m.capacity = 0
	m.length = 0
}

// resize allocates a new table at newCapacity, re-inserts every occupied
// entry by byte-copying its whole slot (preserving any embedded overflow
// address, so overflow allocations are never duplicated), then frees the
// old table.
func (m *Map) resize(newCapacity uint32) {
	oldBase, oldEntrySlots := m.base, m.entrySlots
	oldSize := m.tableSize(oldEntrySlots)

	newBase, newEntrySlots := m.allocTable(newCapacity)

	for i := uint32(0); i < oldEntrySlots; i++ {
		oldSlot := oldBase + headerSize + arena.Address(i)*arena.Address(m.slotSize)
		meta := m.readMeta(oldSlot)
		if !meta.occupied() {
			continue
		}

		b := m.a.BorrowReadRange(oldSlot, storage.Size(m.slotSize))
		raw := make([]byte, m.slotSize)
		copy(raw, b.Bytes())
		b.Release()

		newIdeal := idealSlot(meta.hash46(), newEntrySlots)
		j := newIdeal
		for {
			newSlot := newBase + headerSize + arena.Address(j)*arena.Address(m.slotSize)
			nm := m.readMeta(newSlot)
			if !nm.occupied() {
				wb := m.a.BorrowMutRange(newSlot, storage.Size(m.slotSize))
				copy(wb.Bytes(), raw)
				wb.Release()
				break
			}
			j = (j + 1) % newEntrySlots
		}
	}

	m.a.Free(arena.Allocation{Addr: oldBase, Size: oldSize})

	m.base = newBase
	m.entrySlots = newEntrySlots
	m.capacity = newCapacity
	m.writeHeader(m.base, m.length, m.capacity)
}

// SelfCheck verifies that for every occupied slot, walking backward to its
// ideal slot crosses only occupied slots — the single global invariant
// spec section 4.3 asks a test to assert after every mutation.
func (m *Map) SelfCheck() error {
	var occupiedCount uint32
	for i := uint32(0); i < m.entrySlots; i++ {
		slot := m.slotAddr(i)
		meta := m.readMeta(slot)
		if !meta.occupied() {
			continue
		}
		occupiedCount++

		ideal := idealSlot(meta.hash46(), m.entrySlots)
		for s := i; s != ideal; {
			if s == 0 {
				s = m.entrySlots - 1
			} else {
				s--
			}
			sm := m.readMeta(m.slotAddr(s))
			if !sm.occupied() {
				return &ErrCorrupted{Reason: "occupied slot not reachable from its ideal slot without crossing an empty one"}
			}
		}
	}
	if occupiedCount != m.length {
		return &ErrCorrupted{Reason: "header len disagrees with occupied slot count"}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
