// Package utils implements various helper functions.
package utils

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// IsPowerOfTwo returns true if x is a strictly positive power of two.
func IsPowerOfTwo[T constraints.Integer](x T) bool {
	return x > 0 && x&(x-1) == 0
}

// PowerOfTwoAbove returns the smallest power of two strictly greater than x.
// It returns 1 for any x < 1.
func PowerOfTwoAbove(x int) int {
	if x < 1 {
		return 1
	}
	return 1 << bits.Len(uint(x))
}

// Log2 returns floor(log2(x)) for x > 0, and 0 otherwise.
func Log2[T constraints.Integer](x T) int {
	if x <= 0 {
		return 0
	}
	return bits.Len64(uint64(x)) - 1
}
