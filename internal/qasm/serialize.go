// Package qasm converts circuits to and from OpenQASM 2.0 text.
package qasm

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"qcompose/internal/circuit"
)

// gateNames maps catalog ids to their qelib1 mnemonics.
var gateNames = map[string]string{
	"h": "h", "x": "x", "y": "y", "z": "z", "s": "s", "t": "t", "sx": "sx",
	"cnot": "cx", "cx": "cx", "cz": "cz", "swap": "swap", "ch": "ch", "ccx": "ccx",
	"rx": "rx", "ry": "ry", "rz": "rz",
}

// Serialize renders the circuit as OpenQASM 2.0. Items are ordered by depth
// then by lowest qubit; items that have no QASM form are skipped silently.
func Serialize(numQubits int, items []circuit.Item, measurements []bool) string {
	measured := slices.Contains(measurements, true)

	lines := []string{
		"OPENQASM 2.0;",
		`include "qelib1.inc";`,
		"",
		fmt.Sprintf("qreg q[%d];", numQubits),
	}
	if measured {
		lines = append(lines, fmt.Sprintf("creg c[%d];", numQubits))
	}
	lines = append(lines, "")

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b circuit.Item) int {
		if c := cmp.Compare(a.ItemDepth(), b.ItemDepth()); c != 0 {
			return c
		}
		return cmp.Compare(lowestQubit(a), lowestQubit(b))
	})
	for _, item := range sorted {
		lines = appendItem(lines, item, 0)
	}

	if measured {
		lines = append(lines, "")
		for i := 0; i < numQubits && i < len(measurements); i++ {
			if measurements[i] {
				lines = append(lines, fmt.Sprintf("measure q[%d] -> c[%d];", i, i))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func lowestQubit(item circuit.Item) int {
	if span, ok := circuit.SpanQubits(item); ok {
		return span.Start
	}
	if c, ok := item.(circuit.PlacedCircuit); ok {
		return c.StartQubit
	}
	return 0
}

// appendItem writes item with every qubit shifted by offset. Nested circuit
// contents follow in stored order.
func appendItem(lines []string, item circuit.Item, offset int) []string {
	switch it := item.(type) {
	case circuit.PlacedCircuit:
		lines = append(lines, "// Nested circuit: "+it.Circuit.Symbol)
		for _, inner := range it.Circuit.Gates {
			lines = appendItem(lines, inner, offset+it.StartQubit)
		}
	case circuit.PlacedGate:
		if line, ok := gateLine(it, offset); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func gateLine(g circuit.PlacedGate, offset int) (string, bool) {
	name, ok := gateNames[strings.ToLower(g.Gate.ID)]
	if !ok {
		return "", false
	}
	targets := shifted(g.TargetQubits, offset)
	controls := shifted(g.ControlQubits, offset)

	switch {
	case name == "rx" || name == "ry" || name == "rz":
		if len(targets) == 0 {
			return "", false
		}
		angle := math.Pi / 2
		if len(g.Parameters) > 0 {
			angle = g.Parameters[0]
		}
		return fmt.Sprintf("%s(%.6f) q[%d];", name, angle, targets[0]), true
	case len(controls) == 1 && len(targets) == 1:
		return fmt.Sprintf("%s q[%d], q[%d];", name, controls[0], targets[0]), true
	case name == "ccx" && len(controls) == 2 && len(targets) == 1:
		return fmt.Sprintf("ccx q[%d], q[%d], q[%d];", controls[0], controls[1], targets[0]), true
	case name == "swap" && len(controls) == 0 && len(targets) == 2:
		return fmt.Sprintf("swap q[%d], q[%d];", targets[0], targets[1]), true
	case len(controls) == 0 && len(targets) == 1:
		return fmt.Sprintf("%s q[%d];", name, targets[0]), true
	}
	return "", false
}

func shifted(qubits []int, by int) []int {
	out := make([]int, len(qubits))
	for i, q := range qubits {
		out[i] = q + by
	}
	return out
}

// Stats summarises a serialized circuit.
type Stats struct {
	Code  string `json:"code"`
	Lines int    `json:"lines"`
	Gates int    `json:"gates"`
	Depth int    `json:"depth"`
}

// Metadata serializes the circuit and reports its size. Depth counts
// columns, so it is one past the deepest item and 0 for an empty circuit.
func Metadata(numQubits int, items []circuit.Item, measurements []bool) Stats {
	code := Serialize(numQubits, items, measurements)
	depth := 0
	if len(items) > 0 {
		for _, it := range items {
			depth = max(depth, it.ItemDepth())
		}
		depth++
	}
	return Stats{
		Code:  code,
		Lines: strings.Count(code, "\n") + 1,
		Gates: len(items),
		Depth: depth,
	}
}
