package circuit

import (
	"fmt"
	"slices"
	"strings"
)

// Default look of a freshly grouped block.
const (
	DefaultGroupSymbol = "GRP"
	DefaultGroupColor  = "#6366f1"
)

// Insert places item, first pushing everything that would collide with it
// one column to the right.
func Insert(s State, item Item) State {
	out := s.Clone()
	span, ok := SpanQubits(item)
	if ok {
		ids := CascadeShift(out.PlacedGates, item.ItemDepth(), span, item.ItemID())
		out.PlacedGates = ShiftGates(out.PlacedGates, ids, Right)
	}
	out.PlacedGates = append(out.PlacedGates, cloneItem(item))
	return out
}

// Move relocates id to depth with its lowest involved qubit at startQubit.
// Controls and targets keep their relative layout. It reports false when id
// is unknown or the new placement leaves the register.
func Move(s State, id string, depth, startQubit int) (State, bool) {
	item, i, ok := s.PlacedGates.Find(id)
	if !ok {
		return s, false
	}
	span, ok := SpanQubits(item)
	if !ok {
		span = Span{Start: startQubit, End: startQubit}
	}
	delta := startQubit - span.Start
	if depth < 0 || span.Start+delta < 0 || span.End+delta >= s.NumQubits {
		return s, false
	}

	moved := item.offset(delta).withDepth(depth)
	rest := s.Clone()
	rest.PlacedGates = slices.Delete(rest.PlacedGates, i, i+1)
	return Insert(rest, moved), true
}

// Remove deletes id.
func Remove(s State, id string) (State, bool) {
	_, i, ok := s.PlacedGates.Find(id)
	if !ok {
		return s, false
	}
	out := s.Clone()
	out.PlacedGates = slices.Delete(out.PlacedGates, i, i+1)
	return out, true
}

// SetParameters replaces the rotation angles of gate id.
func SetParameters(s State, id string, params []float64) (State, bool) {
	item, i, ok := s.PlacedGates.Find(id)
	if !ok {
		return s, false
	}
	g, ok := item.(PlacedGate)
	if !ok {
		return s, false
	}
	out := s.Clone()
	g.Parameters = slices.Clone(params)
	out.PlacedGates[i] = g
	return out, true
}

// AddQubit appends a measured qubit line.
func AddQubit(s State) State {
	out := s.Clone()
	out.NumQubits++
	out.Measurements = append(out.Measurements, true)
	return out
}

// RemoveQubit drops the last qubit line and every item touching it. A
// single-qubit circuit is returned unchanged.
func RemoveQubit(s State) State {
	if s.NumQubits <= 1 {
		return s
	}
	last := s.NumQubits - 1
	out := s.Clone()
	out.PlacedGates = slices.DeleteFunc(out.PlacedGates, func(it Item) bool {
		return slices.Contains(InvolvedQubits(it), last)
	})
	out.NumQubits = last
	out.Measurements = out.Measurements[:last]
	return out
}

// ToggleMeasurement flips the measurement flag of qubit q.
func ToggleMeasurement(s State, q int) State {
	if q < 0 || q >= len(s.Measurements) {
		return s
	}
	out := s.Clone()
	out.Measurements[q] = !out.Measurements[q]
	return out
}

// Group replaces the items named by ids with one nested circuit anchored at
// their lowest depth and qubit. Inner depths and qubits are stored relative
// to that anchor.
func Group(s State, ids []string, symbol, color string) (State, PlacedCircuit, error) {
	if len(ids) == 0 {
		return s, PlacedCircuit{}, fmt.Errorf("group: no items")
	}
	if symbol == "" {
		symbol = DefaultGroupSymbol
	}
	if color == "" {
		color = DefaultGroupColor
	}

	var members Items
	for _, id := range ids {
		item, _, ok := s.PlacedGates.Find(id)
		if !ok {
			return s, PlacedCircuit{}, fmt.Errorf("group %s: %w", id, ErrUnknownItem)
		}
		members = append(members, item)
	}

	minDepth := members[0].ItemDepth()
	minQubit, found := 0, false
	for _, m := range members {
		minDepth = min(minDepth, m.ItemDepth())
		if qs := InvolvedQubits(m); len(qs) > 0 {
			if !found || qs[0] < minQubit {
				minQubit = qs[0]
			}
			found = true
		}
	}

	inner := make(Items, 0, len(members))
	for _, m := range members {
		inner = append(inner, cloneItem(m).offset(-minQubit).withDepth(m.ItemDepth()-minDepth))
	}
	block := PlacedCircuit{
		ID:         NewID(symbol),
		Depth:      minDepth,
		StartQubit: minQubit,
		Circuit: Template{
			ID:     NewID(symbol),
			Symbol: symbol,
			Color:  color,
			Gates:  inner,
		},
	}

	out := s.Clone()
	out.PlacedGates = slices.DeleteFunc(out.PlacedGates, func(it Item) bool {
		return slices.Contains(ids, it.ItemID())
	})
	return Insert(out, block), block, nil
}

// Ungroup expands nested circuit id back onto the grid. The expanded items
// get fresh ids that keep the prefix of their stored ids.
func Ungroup(s State, id string) (State, bool) {
	item, i, ok := s.PlacedGates.Find(id)
	if !ok {
		return s, false
	}
	block, ok := item.(PlacedCircuit)
	if !ok {
		return s, false
	}

	out := s.Clone()
	out.PlacedGates = slices.Delete(out.PlacedGates, i, i+1)

	inner := block.Circuit.Gates.Clone()
	slices.SortStableFunc(inner, func(a, b Item) int { return a.ItemDepth() - b.ItemDepth() })
	for _, it := range inner {
		it = it.offset(block.StartQubit).withDepth(it.ItemDepth() + block.Depth)
		out = Insert(out, withID(it, NewID(idPrefix(it.ItemID()))))
	}
	return out, true
}

// FitRemote adopts a remote item list, growing the register when the list
// reaches past the local qubit count.
func FitRemote(s State, items Items) State {
	out := s.Clone()
	out.PlacedGates = items.Clone()
	if out.PlacedGates == nil {
		out.PlacedGates = Items{}
	}
	highest := -1
	for _, it := range out.PlacedGates {
		if qs := InvolvedQubits(it); len(qs) > 0 {
			highest = max(highest, qs[len(qs)-1])
		}
	}
	for out.NumQubits <= highest {
		out.NumQubits++
		out.Measurements = append(out.Measurements, true)
	}
	return out
}

func idPrefix(id string) string {
	prefix, _, _ := strings.Cut(id, "-")
	return prefix
}

func withID(it Item, id string) Item {
	switch v := it.(type) {
	case PlacedGate:
		v.ID = id
		return v
	case PlacedCircuit:
		v.ID = id
		return v
	}
	return it
}

// KeepIDs gives each item of next the id of an unclaimed item of prev with
// the same placement and contents, so a circuit rebuilt from text keeps the
// ids collaborators already know.
func KeepIDs(prev, next Items) Items {
	free := make(map[string][]string)
	for _, it := range prev {
		k := placementKey(it)
		free[k] = append(free[k], it.ItemID())
	}
	out := make(Items, len(next))
	for i, it := range next {
		k := placementKey(it)
		if ids := free[k]; len(ids) > 0 {
			out[i] = withID(it, ids[0])
			free[k] = ids[1:]
			continue
		}
		out[i] = it
	}
	return out
}

func placementKey(it Item) string {
	switch v := it.(type) {
	case PlacedGate:
		params := make([]string, len(v.Parameters))
		for i, p := range v.Parameters {
			params[i] = fmt.Sprintf("%.6f", p)
		}
		return fmt.Sprintf("g|%s|%d|%v|%v|%s", v.Gate.ID, v.Depth, v.TargetQubits, v.ControlQubits, strings.Join(params, ","))
	case PlacedCircuit:
		return fmt.Sprintf("c|%s|%d|%d|%d", v.Circuit.ID, v.Depth, v.StartQubit, len(v.Circuit.Gates))
	}
	return ""
}
