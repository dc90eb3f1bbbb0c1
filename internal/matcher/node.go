package matcher

import "slices"

// nodeID indexes a node in the arena. The arena owns every node; parents
// refer to children by id and children never point back.
type nodeID int32

// rootID is the sentinel node whose children are the forest roots. It carries
// no item and is never terminal.
const rootID nodeID = 0

type node[T any] struct {
	item     T
	children []nodeID
	terminal bool
	// dirty is set whenever a child is appended and cleared once the
	// children are sorted again.
	dirty bool
}

// arena stores the nodes of one trie.
type arena[T any] struct {
	compare Comparator[T]
	nodes   []node[T]
}

func newArena[T any](compare Comparator[T]) arena[T] {
	return arena[T]{
		compare: compare,
		nodes:   []node[T]{{}},
	}
}

// child returns the child of parent that holds item, creating it when no
// sibling matches. Children are scanned linearly because they are unsorted
// while the index is being built.
func (a *arena[T]) child(parent nodeID, item T) (nodeID, bool) {
	for _, id := range a.nodes[parent].children {
		if a.compare(a.nodes[id].item, item) == 0 {
			return id, false
		}
	}
	id := nodeID(len(a.nodes))
	a.nodes = append(a.nodes, node[T]{item: item})
	a.nodes[parent].children = append(a.nodes[parent].children, id)
	a.nodes[parent].dirty = true
	return id, true
}

// sortedChildren returns the children of id in comparator order, resorting
// them only if an insert has happened since the last call.
func (a *arena[T]) sortedChildren(id nodeID) []nodeID {
	n := &a.nodes[id]
	if n.dirty {
		slices.SortFunc(n.children, func(x, y nodeID) int {
			return a.compare(a.nodes[x].item, a.nodes[y].item)
		})
		n.dirty = false
	}
	return n.children
}

// clone deep-copies the arena with every child list sorted.
func (a *arena[T]) clone() arena[T] {
	out := arena[T]{
		compare: a.compare,
		nodes:   make([]node[T], len(a.nodes)),
	}
	for id := range a.nodes {
		out.nodes[id] = node[T]{
			item:     a.nodes[id].item,
			children: slices.Clone(a.sortedChildren(nodeID(id))),
			terminal: a.nodes[id].terminal,
		}
	}
	return out
}

// depth returns the length of the longest root-to-leaf chain below id.
func (a *arena[T]) depth(id nodeID) int {
	best := 0
	for _, c := range a.nodes[id].children {
		if d := a.depth(c) + 1; d > best {
			best = d
		}
	}
	return best
}
