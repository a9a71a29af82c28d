package gen

import "cmp"

func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DeleteFromSliceOrdered removes element i, preserving the order of the remaining elements
func DeleteFromSliceOrdered[T any](s []T, i int) []T {
	copy(s[i:], s[i+1:])
	var zero T
	s[len(s)-1] = zero
	return s[:len(s)-1]
}

// Returns the smallest power of 2 that is >= n (and at least 1)
func NextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
