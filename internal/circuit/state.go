package circuit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// DefaultQubits is the register size of a freshly opened circuit.
const DefaultQubits = 4

// ErrUnknownItem is returned when an edit names an id that is not placed.
var ErrUnknownItem = errors.New("circuit: unknown item")

// State is the unit of undo/redo, collaboration sync and persistence.
type State struct {
	PlacedGates  Items  `json:"placedGates"`
	NumQubits    int    `json:"numQubits"`
	Measurements []bool `json:"measurements"`
}

// NewState returns an empty circuit with n qubits, all measured.
func NewState(n int) State {
	n = max(n, 1)
	m := make([]bool, n)
	for i := range m {
		m[i] = true
	}
	return State{PlacedGates: Items{}, NumQubits: n, Measurements: m}
}

// Clone deep-copies the state.
func (s State) Clone() State {
	return State{
		PlacedGates:  s.PlacedGates.Clone(),
		NumQubits:    s.NumQubits,
		Measurements: slices.Clone(s.Measurements),
	}
}

// Equal compares two states by their encoded form.
func Equal(a, b State) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// Validate checks the structural invariants and returns every violation.
func (s State) Validate() error {
	var errs []error
	if len(s.Measurements) != s.NumQubits {
		errs = append(errs, fmt.Errorf("measurements: have %d flags for %d qubits", len(s.Measurements), s.NumQubits))
	}

	seen := make(map[string]bool, len(s.PlacedGates))
	for _, item := range s.PlacedGates {
		id := item.ItemID()
		if seen[id] {
			errs = append(errs, fmt.Errorf("item %s: duplicate id", id))
		}
		seen[id] = true

		if item.ItemDepth() < 0 {
			errs = append(errs, fmt.Errorf("item %s: negative depth %d", id, item.ItemDepth()))
		}
		for _, q := range InvolvedQubits(item) {
			if q < 0 || q >= s.NumQubits {
				errs = append(errs, fmt.Errorf("item %s: qubit %d outside register of %d", id, q, s.NumQubits))
				break
			}
		}
		if g, ok := item.(PlacedGate); ok {
			for _, c := range g.ControlQubits {
				if slices.Contains(g.TargetQubits, c) {
					errs = append(errs, fmt.Errorf("item %s: qubit %d is both control and target", id, c))
				}
			}
		}
	}

	for i, a := range s.PlacedGates {
		sa, ok := SpanQubits(a)
		if !ok {
			continue
		}
		for _, b := range s.PlacedGates[i+1:] {
			if a.ItemDepth() != b.ItemDepth() {
				continue
			}
			if sb, ok := SpanQubits(b); ok && sa.Overlaps(sb) {
				errs = append(errs, fmt.Errorf("items %s and %s overlap at depth %d", a.ItemID(), b.ItemID(), a.ItemDepth()))
			}
		}
	}
	return errors.Join(errs...)
}

// Index returns the derived placement index for the state's items.
func (s State) Index() *Index {
	return BuildIndex(s.PlacedGates)
}
