package qasm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"qcompose/internal/circuit"
	"qcompose/internal/gate"
)

// ErrNoRegister is returned when the source declares no quantum register.
var ErrNoRegister = errors.New("qasm: no qubits found")

const operand = `\w+\[(\d+)\]`

// Pre-compiled regexps for QASM statements.
var (
	singleGateRegex      = regexp.MustCompile(`^(\w+)\s+` + operand + `$`)
	singleGateParamRegex = regexp.MustCompile(`^(\w+)\s*\(\s*(` + paramPattern + `(?:\s*,\s*` + paramPattern + `)*)\s*\)\s+` + operand + `$`)
	twoQubitRegex        = regexp.MustCompile(`^(\w+)\s+` + operand + `\s*,\s*` + operand + `$`)
	threeQubitRegex      = regexp.MustCompile(`^(\w+)\s+` + operand + `\s*,\s*` + operand + `\s*,\s*` + operand + `$`)
	measureRegex         = regexp.MustCompile(`^measure\s+` + operand + `\s*->\s*` + operand + `$`)
	qregRegex            = regexp.MustCompile(`^qreg\s+(\w+)\[(\d+)\]$`)
	cregRegex            = regexp.MustCompile(`^creg\s+(\w+)\[(\d+)\]$`)
)

// importNames maps QASM mnemonics and common aliases to catalog ids.
var importNames = map[string]string{
	"h": "h", "x": "x", "y": "y", "z": "z", "s": "s", "t": "t", "sx": "sx",
	"cx": "cnot", "cnot": "cnot", "cz": "cz", "swap": "swap", "ch": "ch",
	"ccx": "ccx", "ccnot": "ccx", "toffoli": "ccx",
	"rx": "rx", "ry": "ry", "rz": "rz",
}

// Result is an imported circuit plus every statement that could not be
// represented.
type Result struct {
	State    circuit.State
	Warnings []string
}

// Parse imports OpenQASM 2.0 source. Gates are placed in the earliest column
// free on their whole span; unmeasured qubits are left unmeasured. Only a
// missing qreg is an error.
func Parse(src string) (Result, error) {
	p := &parser{}
	for lineNo, raw := range strings.Split(src, "\n") {
		if i := strings.Index(raw, "//"); i >= 0 {
			raw = raw[:i]
		}
		for stmt := range strings.SplitSeq(raw, ";") {
			stmt = strings.Join(strings.Fields(stmt), " ")
			if stmt == "" {
				continue
			}
			if err := p.statement(stmt); err != nil {
				p.warnings = append(p.warnings, fmt.Sprintf("line %d: %v", lineNo+1, err))
			}
		}
	}
	if p.numQubits == 0 {
		return Result{Warnings: p.warnings}, ErrNoRegister
	}

	state := circuit.NewState(p.numQubits)
	for i := range state.Measurements {
		state.Measurements[i] = p.measured[i]
	}
	state.PlacedGates = p.items
	return Result{State: state, Warnings: p.warnings}, nil
}

type parser struct {
	numQubits int
	items     circuit.Items
	measured  map[int]bool
	frontier  map[int]int
	warnings  []string
}

func (p *parser) statement(stmt string) error {
	lower := strings.ToLower(stmt)
	switch {
	case strings.HasPrefix(lower, "openqasm"), strings.HasPrefix(lower, "include"):
		return nil
	}

	if m := qregRegex.FindStringSubmatch(stmt); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad register size %q", m[2])
		}
		p.numQubits += n
		return nil
	}
	if cregRegex.MatchString(stmt) {
		return nil
	}
	if m := measureRegex.FindStringSubmatch(stmt); m != nil {
		q, _ := strconv.Atoi(m[1])
		if q >= p.numQubits {
			return fmt.Errorf("measure: qubit %d outside register", q)
		}
		if p.measured == nil {
			p.measured = make(map[int]bool)
		}
		p.measured[q] = true
		return nil
	}

	var (
		name   string
		params []float64
		wires  []int
	)
	if m := singleGateParamRegex.FindStringSubmatch(stmt); m != nil {
		var err error
		if params, err = ParseParams(m[2]); err != nil {
			return err
		}
		name, wires = m[1], atoiAll(m[len(m)-1:])
	} else if m := threeQubitRegex.FindStringSubmatch(stmt); m != nil {
		name, wires = m[1], atoiAll(m[2:])
	} else if m := twoQubitRegex.FindStringSubmatch(stmt); m != nil {
		name, wires = m[1], atoiAll(m[2:])
	} else if m := singleGateRegex.FindStringSubmatch(stmt); m != nil {
		name, wires = m[1], atoiAll(m[2:])
	} else {
		return fmt.Errorf("unsupported statement %q", stmt)
	}

	id, ok := importNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unsupported gate %q", name)
	}
	info, ok := gate.Lookup(id)
	if !ok {
		return fmt.Errorf("unsupported gate %q", name)
	}
	if len(wires) != info.NumQubits() {
		return fmt.Errorf("%s: expected %d qubits, got %d", name, info.NumQubits(), len(wires))
	}
	for _, q := range wires {
		if q >= p.numQubits {
			return fmt.Errorf("%s: qubit %d outside register", name, q)
		}
	}

	g := circuit.PlacedGate{
		ID:            circuit.NewID(info.ID),
		Gate:          info,
		ControlQubits: append([]int{}, wires[:info.NumControlQubits]...),
		TargetQubits:  append([]int{}, wires[info.NumControlQubits:]...),
		Parameters:    params,
	}
	if len(circuit.InvolvedQubits(g)) != len(wires) {
		return fmt.Errorf("%s: repeated qubit", name)
	}
	g.Depth = p.place(g)
	p.items = append(p.items, g)
	return nil
}

// place returns the first column after everything already on the gate's
// span and reserves it.
func (p *parser) place(g circuit.PlacedGate) int {
	if p.frontier == nil {
		p.frontier = make(map[int]int)
	}
	span, _ := circuit.SpanQubits(g)
	depth := 0
	for q := span.Start; q <= span.End; q++ {
		depth = max(depth, p.frontier[q])
	}
	for q := span.Start; q <= span.End; q++ {
		p.frontier[q] = depth + 1
	}
	return depth
}

func atoiAll(ss []string) []int {
	out := make([]int, 0, len(ss))
	for _, s := range ss {
		n, _ := strconv.Atoi(s)
		out = append(out, n)
	}
	return out
}
