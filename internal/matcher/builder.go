package matcher

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
)

// ErrEmptyItemSet is returned by Builder.Add for a set with no items. It
// wraps ErrSkippableInput so callers can count it and carry on.
var ErrEmptyItemSet = apperrors.Skippable("item set has no items")

// ErrEmptyCorpus is returned by Build when no set was accepted.
var ErrEmptyCorpus = apperrors.Config("corpus contains no item sets")

// Builder accumulates item sets into a trie. A Builder is not safe for
// concurrent use; build the index on one goroutine, then share the Forest.
type Builder[T any] struct {
	arena   arena[T]
	sets    int
	skipped int
}

func NewBuilder[T any](compare Comparator[T]) (*Builder[T], error) {
	if compare == nil {
		return nil, apperrors.Config("item comparator is required")
	}
	return &Builder[T]{arena: newArena(compare)}, nil
}

// Add sorts and deduplicates items, then inserts them as one item set. Sets
// sharing a prefix share the corresponding chain of nodes. Adding the same
// set twice is a no-op beyond the count.
func (b *Builder[T]) Add(items []T) error {
	set := Normalize(b.arena.compare, items)
	if len(set) == 0 {
		b.skipped++
		return ErrEmptyItemSet
	}
	cur := rootID
	for _, item := range set {
		cur, _ = b.arena.child(cur, item)
	}
	b.arena.nodes[cur].terminal = true
	b.sets++
	return nil
}

// Sets returns the number of item sets accepted so far.
func (b *Builder[T]) Sets() int { return b.sets }

// Skipped returns the number of empty item sets rejected so far.
func (b *Builder[T]) Skipped() int { return b.skipped }

// Build freezes the current contents into a Forest. The Builder stays usable;
// later inserts do not affect forests that were already built.
func (b *Builder[T]) Build() (*Forest[T], error) {
	if b.sets == 0 {
		return nil, ErrEmptyCorpus
	}
	return &Forest[T]{
		arena: b.arena.clone(),
		sets:  b.sets,
	}, nil
}

// BuildForest indexes every set in sets. Empty sets are skipped; the number
// skipped is returned alongside the forest.
func BuildForest[T any](compare Comparator[T], sets [][]T) (*Forest[T], int, error) {
	b, err := NewBuilder(compare)
	if err != nil {
		return nil, 0, err
	}
	for _, set := range sets {
		if err := b.Add(set); err != nil && !apperrors.IsSkippable(err) {
			return nil, b.Skipped(), err
		}
	}
	f, err := b.Build()
	return f, b.Skipped(), err
}
