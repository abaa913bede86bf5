package qasm

import (
	"errors"
	"math"
	"strings"
	"testing"

	"qcompose/internal/circuit"
)

func TestParseBell(t *testing.T) {
	src := `OPENQASM 2.0;
include "qelib1.inc";

qreg q[3];
creg c[3];

h q[0];
cx q[0], q[1];
x q[2]; // independent of the pair
measure q[0] -> c[0];
measure q[1] -> c[1];`

	res, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	s := res.State
	if s.NumQubits != 3 {
		t.Fatalf("NumQubits = %d, want 3", s.NumQubits)
	}
	want := []bool{true, true, false}
	for i, m := range want {
		if s.Measurements[i] != m {
			t.Errorf("measurement %d = %v, want %v", i, s.Measurements[i], m)
		}
	}
	if len(s.PlacedGates) != 3 {
		t.Fatalf("expected 3 gates, got %d", len(s.PlacedGates))
	}

	h := s.PlacedGates[0].(circuit.PlacedGate)
	cx := s.PlacedGates[1].(circuit.PlacedGate)
	x := s.PlacedGates[2].(circuit.PlacedGate)
	if h.Gate.ID != "h" || h.Depth != 0 {
		t.Errorf("h: id=%s depth=%d", h.Gate.ID, h.Depth)
	}
	if cx.Gate.ID != "cnot" || cx.Depth != 1 || cx.ControlQubits[0] != 0 || cx.TargetQubits[0] != 1 {
		t.Errorf("cx: id=%s depth=%d controls=%v targets=%v", cx.Gate.ID, cx.Depth, cx.ControlQubits, cx.TargetQubits)
	}
	if x.Depth != 0 {
		t.Errorf("x should share the first column, got depth %d", x.Depth)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("imported state invalid: %v", err)
	}
}

func TestParseSpansBlockColumns(t *testing.T) {
	// cx q[0], q[2] covers q[1] too, so the h on q[1] moves after it.
	src := "qreg q[3];\ncx q[0], q[2];\nh q[1];"
	res, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if d := res.State.PlacedGates[1].ItemDepth(); d != 1 {
		t.Errorf("h depth = %d, want 1", d)
	}
}

func TestParseAliasesAndParams(t *testing.T) {
	src := `qreg q[3];
toffoli q[0], q[1], q[2];
rx(pi/2) q[0];
ry(-3*pi/4) q[1];`

	res, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	items := res.State.PlacedGates
	if len(items) != 3 {
		t.Fatalf("expected 3 gates, got %d (warnings %v)", len(items), res.Warnings)
	}
	ccx := items[0].(circuit.PlacedGate)
	if ccx.Gate.ID != "ccx" || len(ccx.ControlQubits) != 2 || ccx.TargetQubits[0] != 2 {
		t.Errorf("toffoli: %+v", ccx)
	}
	rx := items[1].(circuit.PlacedGate)
	if math.Abs(rx.Parameters[0]-math.Pi/2) > 1e-10 {
		t.Errorf("rx param = %g", rx.Parameters[0])
	}
	ry := items[2].(circuit.PlacedGate)
	if math.Abs(ry.Parameters[0]+3*math.Pi/4) > 1e-10 {
		t.Errorf("ry param = %g", ry.Parameters[0])
	}
}

func TestParseWarnings(t *testing.T) {
	src := `qreg q[2];
u3(0.1,0.2,0.3) q[0];
cx q[0], q[5];
cx q[1], q[1];
reset q[0];
h q[1];`

	res, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(res.State.PlacedGates) != 1 {
		t.Errorf("expected only h to survive, got %d gates", len(res.State.PlacedGates))
	}
	if len(res.Warnings) != 4 {
		t.Fatalf("expected 4 warnings, got %d: %v", len(res.Warnings), res.Warnings)
	}
	if !strings.HasPrefix(res.Warnings[0], "line 2:") {
		t.Errorf("warning should carry its line: %q", res.Warnings[0])
	}
}

func TestParseWithoutRegister(t *testing.T) {
	_, err := Parse("h q[0];")
	if !errors.Is(err, ErrNoRegister) {
		t.Errorf("err = %v, want ErrNoRegister", err)
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	src := `qreg q[2];
h q[0];
cx q[0], q[1];
rz(0.5) q[1];
measure q[1] -> c[1];`

	first, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	s := first.State
	code := Serialize(s.NumQubits, s.PlacedGates, s.Measurements)

	second, err := Parse(code)
	if err != nil {
		t.Fatalf("re-parse error: %v", err)
	}
	again := Serialize(second.State.NumQubits, second.State.PlacedGates, second.State.Measurements)
	if again != code {
		t.Errorf("round trip changed output:\n%s\n---\n%s", code, again)
	}
}
