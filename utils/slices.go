package utils

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// GetKeys returns the keys of the input map.
// Order is not guaranteed.
func GetKeys[K constraints.Ordered, V any](m map[K]V) (keys []K) {

	keys = make([]K, len(m))

	var i int
	for key := range m {
		keys[i] = key
		i++
	}

	return
}

// GetSortedKeys returns the sorted keys of a map.
func GetSortedKeys[K constraints.Ordered, V any](m map[K]V) (keys []K) {
	keys = GetKeys(m)
	SortSlice(keys)
	return
}

// SortSlice sorts a slice in place.
func SortSlice[T constraints.Ordered](s []T) {
	sort.Slice(s, func(i, j int) bool {
		return s[i] < s[j]
	})
}

// ResizeSlice returns a copy of s of length n, truncated or padded
// with the zero value of V.
func ResizeSlice[V any](s []V, n int) (r []V) {
	if n < 0 {
		n = 0
	}
	r = make([]V, n)
	copy(r, s)
	return
}

// TileSlice returns a slice of length n whose i-th element is s[i%len(s)].
// It returns a zero-filled slice if s is empty.
func TileSlice[V any](s []V, n int) (r []V) {
	r = make([]V, n)

	if len(s) == 0 {
		return
	}

	for i := 0; i < n; i += len(s) {
		copy(r[i:], s)
	}

	return
}

// RotateSlice returns a new slice corresponding to s rotated by k positions to the left.
func RotateSlice[V any](s []V, k int) []V {
	ret := make([]V, len(s))

	if len(s) == 0 {
		return ret
	}

	k = k % len(s)
	if k < 0 {
		k = k + len(s)
	}

	copy(ret[:len(s)-k], s[k:])
	copy(ret[len(s)-k:], s[:k])

	return ret
}

// MaxLen returns the length of the longest row of m.
func MaxLen[V any](m [][]V) (n int) {
	for i := range m {
		n = max(n, len(m[i]))
	}
	return
}
