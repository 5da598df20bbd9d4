// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hashmap

import "fmt"

func fail(err error) {
	panic(err)
}

// ErrTooLarge reports a key or value longer than the wire format's 255-byte
// overflow-payload length prefix can express.
type ErrTooLarge struct {
	What string
	Len  int
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("hashmap: %s length %d exceeds the 255-byte maximum", e.What, e.Len)
}

// ErrCorrupted reports an invariant violation: a probe walked the full
// entry array without terminating, or a self-check found an occupied slot
// unreachable from its ideal slot without crossing an empty one.
type ErrCorrupted struct {
	Reason string
}

func (e *ErrCorrupted) Error() string { return "hashmap: corrupted: " + e.Reason }

// ErrBadInlineSize reports K or V configured too small to hold the 4-byte
// overflow address a spilled field must store inline.
type ErrBadInlineSize struct {
	K, V uint8
}

func (e *ErrBadInlineSize) Error() string {
	return fmt.Sprintf("hashmap: inline sizes K=%d V=%d must each be >= 4 to hold an overflow address", e.K, e.V)
}
