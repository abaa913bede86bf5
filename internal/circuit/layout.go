package circuit

import (
	"slices"

	"qcompose/internal/gate"
)

// Span is an inclusive, contiguous range of qubit lines.
type Span struct {
	Start int
	End   int
}

// Overlaps reports whether the two spans share at least one qubit.
func (s Span) Overlaps(o Span) bool {
	return s.Start <= o.End && o.Start <= s.End
}

// Contains reports whether q lies inside the span.
func (s Span) Contains(q int) bool {
	return q >= s.Start && q <= s.End
}

// Qubits expands the span to its qubit indices.
func (s Span) Qubits() []int {
	out := make([]int, 0, s.End-s.Start+1)
	for q := s.Start; q <= s.End; q++ {
		out = append(out, q)
	}
	return out
}

// Direction is the way ShiftGates moves items along the depth axis.
type Direction int

const (
	Left  Direction = -1
	Right Direction = 1
)

// InvolvedQubits returns the qubits an item acts on, strictly ascending.
// A nested circuit reports the contiguous range covered by its contents,
// offset by its start qubit.
func InvolvedQubits(item Item) []int {
	switch it := item.(type) {
	case PlacedGate:
		qubits := make([]int, 0, len(it.ControlQubits)+len(it.TargetQubits))
		qubits = append(qubits, it.ControlQubits...)
		qubits = append(qubits, it.TargetQubits...)
		slices.Sort(qubits)
		return slices.Compact(qubits)
	case PlacedCircuit:
		lo, hi, ok := innerBounds(it.Circuit.Gates)
		if !ok {
			return nil
		}
		return Span{Start: it.StartQubit + lo, End: it.StartQubit + hi}.Qubits()
	}
	return nil
}

func innerBounds(items Items) (lo, hi int, ok bool) {
	for _, it := range items {
		qubits := InvolvedQubits(it)
		if len(qubits) == 0 {
			continue
		}
		first, last := qubits[0], qubits[len(qubits)-1]
		if !ok {
			lo, hi, ok = first, last, true
			continue
		}
		lo = min(lo, first)
		hi = max(hi, last)
	}
	return lo, hi, ok
}

// SpanQubits returns the contiguous range from the lowest to the highest
// involved qubit. A multi-qubit gate occupies every row in between.
func SpanQubits(item Item) (Span, bool) {
	qubits := InvolvedQubits(item)
	if len(qubits) == 0 {
		return Span{}, false
	}
	return Span{Start: qubits[0], End: qubits[len(qubits)-1]}, true
}

// MaxDepth returns the greatest depth across items, counting a nested
// circuit as its own depth plus the depth of its contents. It is 0 for an
// empty list.
func MaxDepth(items []Item) int {
	deepest := 0
	for _, item := range items {
		d := item.ItemDepth()
		if c, ok := item.(PlacedCircuit); ok {
			d += MaxDepth(c.Circuit.Gates)
		}
		deepest = max(deepest, d)
	}
	return deepest
}

// ContiguousQubitArrays lays out a freshly dropped gate: controls first,
// starting at startQubit, then targets immediately after.
func ContiguousQubitArrays(info gate.Info, startQubit int) (controls, targets []int) {
	controls = make([]int, 0, info.NumControlQubits)
	for i := range info.NumControlQubits {
		controls = append(controls, startQubit+i)
	}
	targets = make([]int, 0, info.NumTargetQubits)
	for i := range info.NumTargetQubits {
		targets = append(targets, startQubit+info.NumControlQubits+i)
	}
	return controls, targets
}

// GatesToShift returns the ids of items at or after depth whose span
// intersects span, skipping excludeID.
func GatesToShift(items []Item, depth int, span Span, excludeID string) []string {
	var ids []string
	for _, item := range items {
		if item.ItemID() == excludeID || item.ItemDepth() < depth {
			continue
		}
		s, ok := SpanQubits(item)
		if ok && s.Overlaps(span) {
			ids = append(ids, item.ItemID())
		}
	}
	return ids
}

// ShiftGates returns a new list in which every item named in ids has moved
// one column in dir. The input is not modified.
func ShiftGates(items []Item, ids []string, dir Direction) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		if slices.Contains(ids, item.ItemID()) {
			out[i] = item.withDepth(item.ItemDepth() + int(dir))
			continue
		}
		out[i] = item
	}
	return out
}

// CascadeShift extends GatesToShift with knock-on moves: when a shifted item
// lands on a column holding another overlapping item, that item is shifted
// too. Shifting the returned ids right frees (depth, span) without creating
// new overlaps.
func CascadeShift(items []Item, depth int, span Span, excludeID string) []string {
	ids := GatesToShift(items, depth, span, excludeID)
	moving := make(map[string]bool, len(ids))
	queue := make([]Item, 0, len(ids))
	for _, id := range ids {
		moving[id] = true
	}
	for _, item := range items {
		if moving[item.ItemID()] {
			queue = append(queue, item)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curSpan, ok := SpanQubits(cur)
		if !ok {
			continue
		}
		for _, item := range items {
			id := item.ItemID()
			if id == excludeID || moving[id] || item.ItemDepth() != cur.ItemDepth()+1 {
				continue
			}
			s, ok := SpanQubits(item)
			if !ok || !s.Overlaps(curSpan) {
				continue
			}
			moving[id] = true
			ids = append(ids, id)
			queue = append(queue, item)
		}
	}
	return ids
}
