package circuit

import (
	"cmp"
	"slices"
)

type cell struct {
	depth int
	qubit int
}

// Index is the derived dependency view of an item list. An item's parents
// are the items most recently placed on any qubit of its span at an earlier
// depth; children are the inverse relation. Nothing in the model stores
// these links.
type Index struct {
	byID     map[string]Item
	cells    map[cell]string
	parents  map[string][]string
	children map[string][]string
	order    []string
}

// BuildIndex walks items in (depth, first qubit) order, linking each item to
// the last item seen on every qubit it spans. A nested circuit occupies its
// whole span in its own column.
func BuildIndex(items []Item) *Index {
	idx := &Index{
		byID:     make(map[string]Item, len(items)),
		cells:    make(map[cell]string),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b Item) int {
		if c := cmp.Compare(a.ItemDepth(), b.ItemDepth()); c != 0 {
			return c
		}
		sa, _ := SpanQubits(a)
		sb, _ := SpanQubits(b)
		return cmp.Compare(sa.Start, sb.Start)
	})

	lastOnQubit := make(map[int]string)
	for _, item := range sorted {
		id := item.ItemID()
		idx.byID[id] = item
		idx.order = append(idx.order, id)

		span, ok := SpanQubits(item)
		if !ok {
			continue
		}
		for _, q := range span.Qubits() {
			idx.cells[cell{item.ItemDepth(), q}] = id
			if prev, ok := lastOnQubit[q]; ok && !slices.Contains(idx.parents[id], prev) {
				idx.parents[id] = append(idx.parents[id], prev)
				idx.children[prev] = append(idx.children[prev], id)
			}
			lastOnQubit[q] = id
		}
	}
	return idx
}

// At returns the item covering (depth, qubit).
func (idx *Index) At(depth, qubit int) (Item, bool) {
	id, ok := idx.cells[cell{depth, qubit}]
	if !ok {
		return nil, false
	}
	return idx.byID[id], true
}

// Free reports whether every qubit of span is empty at depth.
func (idx *Index) Free(depth int, span Span) bool {
	for q := span.Start; q <= span.End; q++ {
		if _, ok := idx.cells[cell{depth, q}]; ok {
			return false
		}
	}
	return true
}

// Parents returns the ids id depends on.
func (idx *Index) Parents(id string) []string {
	return slices.Clone(idx.parents[id])
}

// Children returns the ids that depend on id.
func (idx *Index) Children(id string) []string {
	return slices.Clone(idx.children[id])
}

// Column returns the ids placed at depth, top qubit first.
func (idx *Index) Column(depth int) []string {
	var ids []string
	for _, id := range idx.order {
		if idx.byID[id].ItemDepth() == depth {
			ids = append(ids, id)
		}
	}
	return ids
}

// Ordered returns every id in (depth, first qubit) order.
func (idx *Index) Ordered() []string {
	return slices.Clone(idx.order)
}
