// SPDX-License-Identifier: MIT
/*
Package bitint sizes power-of-two rings.

A ring whose length is a power of two can wrap an index with a mask instead
of a division:

	ring := make([]T, bitint.NextPowerOfTwo(want))
	slot := (head + i) & bitint.Mask(len(ring))

NextPowerOfTwo subtracts one before taking the bit length so that an exact
power of two maps to itself: 8-1 = 0b0111 has bit length 3 and 1<<3 = 8,
whereas bits.Len(8) = 4 would double it.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// size <= 1.
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n has exactly one bit set.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Mask returns the index mask for a ring of length n. It panics unless n is
// a power of two.
func Mask(n int) int {
	if !IsPowerOfTwo(n) {
		panic("bitint: ring length is not a power of two")
	}
	return n - 1
}
