package core

import "golang.org/x/exp/constraints"

// Align rounds value up to the next multiple of align. align must be a power
// of two; zero and already aligned values are returned unchanged.
func Align[T constraints.Unsigned](value, align T) T {
	if value == 0 || value%align == 0 {
		return value
	}
	return (value &^ (align - 1)) + align
}

// IsPowerOfTwo is used to validate alignments coming from configuration.
func IsPowerOfTwo[T constraints.Unsigned](value T) bool {
	return value != 0 && value&(value-1) == 0
}
