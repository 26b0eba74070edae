// Package collections provides generic containers used by the address map
// and the memory scanners.
package collections

import (
	"iter"
	"slices"
)

// ============================================================================
// SortedList - ordered sequence with stable insertion
// ============================================================================

// SortedList keeps its items ordered by cmp. Items comparing equal keep
// their insertion order, so an item inserted later sorts after existing
// equal items.
type SortedList[T any] struct {
	items []T
	cmp   func(a, b T) int
}

// NewSortedList creates an empty list ordered by cmp.
func NewSortedList[T any](cmp func(a, b T) int) *SortedList[T] {
	return &SortedList[T]{cmp: cmp}
}

// upperBound returns the index of the first item greater than v.
func (l *SortedList[T]) upperBound(v T) int {
	lo, hi := 0, len(l.items)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if l.cmp(l.items[mid], v) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Add inserts v after every item that compares less than or equal to it
// and returns its index.
func (l *SortedList[T]) Add(v T) int {
	i := l.upperBound(v)
	l.items = slices.Insert(l.items, i, v)
	return i
}

// AddAll inserts every item of vs.
func (l *SortedList[T]) AddAll(vs []T) {
	for _, v := range vs {
		l.Add(v)
	}
}

// Len returns the number of items.
func (l *SortedList[T]) Len() int {
	return len(l.items)
}

// At returns the item at index i.
func (l *SortedList[T]) At(i int) T {
	return l.items[i]
}

// Items returns a copy of the items in order.
func (l *SortedList[T]) Items() []T {
	return slices.Clone(l.items)
}

// All iterates the items in order.
func (l *SortedList[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, v := range l.items {
			if !yield(i, v) {
				return
			}
		}
	}
}

// Search returns the smallest index i for which pred(At(i)) is true,
// assuming pred is false then true over the list. It returns Len() if no
// such index exists.
func (l *SortedList[T]) Search(pred func(T) bool) int {
	lo, hi := 0, len(l.items)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if !pred(l.items[mid]) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Clear removes all items.
func (l *SortedList[T]) Clear() {
	clear(l.items)
	l.items = l.items[:0]
}
