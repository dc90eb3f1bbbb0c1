package matcher

// Transaction is one query: an identity plus the items it contains.
type Transaction[T any] struct {
	ID    string `json:"id"`
	Items []T    `json:"items"`
}

// Match is one indexed item set found in a transaction, with the number of
// its items that were absent from the transaction.
type Match[T any] struct {
	Items      []T `json:"items"`
	Mismatches int `json:"mismatches"`
}

// EmitFunc receives matches as they are found. Returning false stops the
// traversal; no further matches are produced for the transaction.
type EmitFunc[T any] func(Match[T]) bool

// Forest is the frozen trie built from a corpus. Its child lists are sorted
// once at build time, so matching only reads it.
type Forest[T any] struct {
	arena arena[T]
	sets  int
}

// Stats describes the shape of a forest.
type Stats struct {
	Sets  int `json:"sets"`
	Roots int `json:"roots"`
	Nodes int `json:"nodes"`
	Depth int `json:"depth"`
}

func (f *Forest[T]) Stats() Stats {
	return Stats{
		Sets:  f.sets,
		Roots: len(f.arena.nodes[rootID].children),
		Nodes: len(f.arena.nodes) - 1,
		Depth: f.arena.depth(rootID),
	}
}

func (f *Forest[T]) Comparator() Comparator[T] {
	return f.arena.compare
}

// Match walks the forest for one transaction and hands every match to emit.
// items need not be sorted or unique. It returns false if emit stopped the
// traversal early.
func (f *Forest[T]) Match(items []T, budget Budget, emit EmitFunc[T]) bool {
	tx := Normalize(f.arena.compare, items)
	return f.descend(rootID, tx, 0, budget, nil, emit)
}

// MatchAll collects every match for items with the given number of allowed
// mismatches.
func (f *Forest[T]) MatchAll(items []T, allowed int) []Match[T] {
	var out []Match[T]
	f.Match(items, NewBudget(allowed), func(m Match[T]) bool {
		out = append(out, m)
		return true
	})
	return out
}

// descend processes node id, whose own item has already been matched against
// the transaction or paid for with a mismatch. next is the first transaction
// position its children may consume.
//
// Children and transaction items are both ascending, so the walk is a merge
// join: a child greater than the current item can only match a later item, a
// child equal to it consumes it, and a child smaller than it can no longer be
// matched at all and costs one mismatch.
func (f *Forest[T]) descend(id nodeID, tx []T, next int, budget Budget, path []T, emit EmitFunc[T]) bool {
	n := &f.arena.nodes[id]
	if id != rootID {
		// Full slice expression: every frame appends into its own array.
		path = append(path[:len(path):len(path)], n.item)
		if n.terminal {
			items := make([]T, len(path))
			copy(items, path)
			if !emit(Match[T]{Items: items, Mismatches: budget.Used()}) {
				return false
			}
		}
	}

	children := n.children
	c, t := 0, next
	for c < len(children) {
		child := children[c]
		if t >= len(tx) {
			// No transaction items left: every remaining child is missing.
			b, ok := budget.Record()
			if !ok {
				return true
			}
			if !f.descend(child, tx, t, b, path, emit) {
				return false
			}
			c++
			continue
		}
		d := f.arena.compare(f.arena.nodes[child].item, tx[t])
		switch {
		case d > 0:
			t++
		case d == 0:
			if !f.descend(child, tx, t+1, budget, path, emit) {
				return false
			}
			c++
		default:
			if b, ok := budget.Record(); ok {
				if !f.descend(child, tx, t, b, path, emit) {
					return false
				}
			}
			c++
		}
	}
	return true
}

// Walk calls fn with every indexed set in comparator order until fn returns
// false. The slice passed to fn is only valid for the duration of the call.
func (f *Forest[T]) Walk(fn func(items []T) bool) {
	var walk func(id nodeID, path []T) bool
	walk = func(id nodeID, path []T) bool {
		n := &f.arena.nodes[id]
		if id != rootID {
			path = append(path, n.item)
			if n.terminal && !fn(path) {
				return false
			}
		}
		for _, c := range n.children {
			if !walk(c, path) {
				return false
			}
		}
		return true
	}
	walk(rootID, nil)
}
