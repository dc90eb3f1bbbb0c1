// Package matcher indexes item sets in a trie keyed by a total order and
// enumerates, for a given transaction, every indexed set that is a subset of
// the transaction allowing a bounded number of missing items.
//
// The index is built once by a Builder and frozen into a Forest. A Forest is
// immutable and safe for concurrent use by any number of matching goroutines.
package matcher

import (
	"cmp"
	"slices"
)

// Comparator orders items. It returns a negative number when a < b, zero when
// a and b are the same item and a positive number when a > b. The same
// comparator sorts item sets, transactions and node children, and drives all
// pruning during matching, so it must be a strict weak ordering.
type Comparator[T any] func(a, b T) int

// Ordered returns the natural comparator for ordered types.
func Ordered[T cmp.Ordered]() Comparator[T] {
	return cmp.Compare[T]
}

// Normalize returns a sorted copy of items with duplicates removed. The input
// slice is never modified.
func Normalize[T any](compare Comparator[T], items []T) []T {
	out := slices.Clone(items)
	slices.SortFunc(out, compare)
	return slices.CompactFunc(out, func(a, b T) bool {
		return compare(a, b) == 0
	})
}
