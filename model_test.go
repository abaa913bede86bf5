package main

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"qcompose/internal/circuit"
	"qcompose/internal/collab"
	"qcompose/internal/gate"
	"qcompose/internal/history"
	"qcompose/internal/store"
)

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+y":
		return tea.KeyMsg{Type: tea.KeyCtrlY}
	case "ctrl+z":
		return tea.KeyMsg{Type: tea.KeyCtrlZ}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		next, _ := m.Update(keyMsg(k))
		m = next.(Model)
	}
	return m
}

func gateAt(t *testing.T, m Model, depth, qubit int) circuit.PlacedGate {
	t.Helper()
	item, ok := m.index.At(depth, qubit)
	if !ok {
		t.Fatalf("no item at depth %d qubit %d", depth, qubit)
	}
	g, ok := item.(circuit.PlacedGate)
	if !ok {
		t.Fatalf("item at depth %d qubit %d is %T, want PlacedGate", depth, qubit, item)
	}
	return g
}

func TestPlaceFromPalette(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		wantGate string
		wantQ    []int
	}{
		{"hadamard", []string{"a", "enter"}, "h", []int{0}},
		{"pauli x on q1", []string{"j", "a", "j", "enter"}, "x", []int{1}},
		{"cnot spans two lines", []string{"a", "l", "l", "enter"}, "cnot", []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := press(newModel(modelOptions{}), tt.keys...)
			if len(m.state.PlacedGates) != 1 {
				t.Fatalf("expected 1 item, got %d", len(m.state.PlacedGates))
			}
			g := m.state.PlacedGates[0].(circuit.PlacedGate)
			if g.Gate.ID != tt.wantGate {
				t.Errorf("gate = %s, want %s", g.Gate.ID, tt.wantGate)
			}
			if len(g.TargetQubits) != len(tt.wantQ) || g.TargetQubits[0] != tt.wantQ[0] {
				t.Errorf("targets = %v, want %v", g.TargetQubits, tt.wantQ)
			}
			if m.cursorStep != 1 {
				t.Errorf("cursor should advance to depth 1, got %d", m.cursorStep)
			}
			if m.focus != focusCircuit {
				t.Errorf("focus = %v, want circuit", m.focus)
			}
		})
	}
}

func TestPlaceParameterized(t *testing.T) {
	m := press(newModel(modelOptions{}), "a", "l", "enter")
	if m.focus != focusInputParam {
		t.Fatalf("rotation should ask for an angle, focus = %v", m.focus)
	}
	m = press(m, "p", "i", "/", "4", "enter")

	g := gateAt(t, m, 0, 0)
	if g.Gate.ID != "rx" {
		t.Fatalf("gate = %s, want rx", g.Gate.ID)
	}
	if len(g.Parameters) != 1 || math.Abs(g.Parameters[0]-math.Pi/4) > 1e-9 {
		t.Errorf("parameters = %v, want [pi/4]", g.Parameters)
	}
	if !strings.Contains(m.qasmEditor.Value(), "rx(0.785398) q[0];") {
		t.Errorf("QASM panel not refreshed:\n%s", m.qasmEditor.Value())
	}
}

func TestPlaceRejectsOverflow(t *testing.T) {
	// ccx needs three lines; from q[2] only two remain.
	m := press(newModel(modelOptions{}), "j", "j", "a", "l", "l", "j", "j", "j", "j", "enter")
	if len(m.state.PlacedGates) != 0 {
		t.Fatalf("expected nothing placed, got %d items", len(m.state.PlacedGates))
	}
	if m.statusMsg == "" {
		t.Error("expected a status message")
	}
}

func TestUndoRedoKeys(t *testing.T) {
	m := press(newModel(modelOptions{}), "a", "enter")
	m = press(m, "u")
	if len(m.state.PlacedGates) != 0 {
		t.Fatalf("undo should remove the gate, got %d items", len(m.state.PlacedGates))
	}
	m = press(m, "ctrl+y")
	if len(m.state.PlacedGates) != 1 {
		t.Fatalf("redo should restore the gate, got %d items", len(m.state.PlacedGates))
	}
	m = press(m, "ctrl+y")
	if m.statusMsg != "Nothing to redo" {
		t.Errorf("status = %q", m.statusMsg)
	}
}

func TestMoveAndDelete(t *testing.T) {
	m := press(newModel(modelOptions{}), "a", "enter", "h")
	m = press(m, ">")
	if g := gateAt(t, m, 1, 0); g.Gate.ID != "h" {
		t.Fatalf("gate = %s", g.Gate.ID)
	}
	if m.cursorStep != 1 {
		t.Errorf("cursor should follow the item, got depth %d", m.cursorStep)
	}

	m = press(m, "J")
	gateAt(t, m, 1, 1)
	if m.cursorQubit != 1 {
		t.Errorf("cursor should follow the item, got qubit %d", m.cursorQubit)
	}

	m = press(m, "x")
	if len(m.state.PlacedGates) != 0 {
		t.Fatalf("delete left %d items", len(m.state.PlacedGates))
	}
}

func TestQubitAndMeasurementKeys(t *testing.T) {
	m := press(newModel(modelOptions{}), "+")
	if m.state.NumQubits != 5 || len(m.state.Measurements) != 5 {
		t.Fatalf("qubits = %d, measurements = %d", m.state.NumQubits, len(m.state.Measurements))
	}
	m = press(m, "m")
	if m.state.Measurements[0] {
		t.Error("m should clear the measurement on q[0]")
	}
	m = press(m, "-", "-")
	if m.state.NumQubits != 3 {
		t.Errorf("qubits = %d, want 3", m.state.NumQubits)
	}
}

func TestGroupAndUngroupColumn(t *testing.T) {
	m := press(newModel(modelOptions{}), "a", "enter", "h", "j", "a", "j", "enter", "h")
	if len(m.state.PlacedGates) != 2 {
		t.Fatalf("setup placed %d items", len(m.state.PlacedGates))
	}

	m = press(m, "g")
	if len(m.state.PlacedGates) != 1 {
		t.Fatalf("group left %d items", len(m.state.PlacedGates))
	}
	block, ok := m.state.PlacedGates[0].(circuit.PlacedCircuit)
	if !ok {
		t.Fatalf("expected a block, got %T", m.state.PlacedGates[0])
	}
	if block.Circuit.Symbol != circuit.DefaultGroupSymbol || len(block.Circuit.Gates) != 2 {
		t.Errorf("block = %+v", block.Circuit)
	}

	m = press(m, "G")
	if len(m.state.PlacedGates) != 2 {
		t.Fatalf("ungroup left %d items", len(m.state.PlacedGates))
	}
}

func TestEditParameters(t *testing.T) {
	m := press(newModel(modelOptions{}), "a", "l", "enter", "enter", "h", "e")
	if m.focus != focusEditGate {
		t.Fatalf("focus = %v, want edit", m.focus)
	}
	m = press(m, "enter")
	if m.focus != focusEditParam {
		t.Fatalf("focus = %v, want param entry", m.focus)
	}
	m.paramInput = ""
	m = press(m, "p", "i", "enter")
	if g := gateAt(t, m, 0, 0); len(g.Parameters) != 1 || math.Abs(g.Parameters[0]-math.Pi) > 1e-9 {
		t.Errorf("parameters = %v, want [pi]", g.Parameters)
	}
}

func TestQASMPanelEditsAreOneUndoStep(t *testing.T) {
	m := press(newModel(modelOptions{}), "a", "enter", "tab")
	if m.focus != focusQASM {
		t.Fatalf("focus = %v", m.focus)
	}
	m.qasmEditor.SetValue("OPENQASM 2.0;\ninclude \"qelib1.inc\";\nqreg q[2];\nh q[0];\ncx q[0], q[1];")
	m = press(m, " ", " ", " ")
	if len(m.state.PlacedGates) != 2 || m.state.NumQubits != 2 {
		t.Fatalf("import gave %d items on %d qubits", len(m.state.PlacedGates), m.state.NumQubits)
	}

	m = press(m, "tab", "u")
	if len(m.state.PlacedGates) != 1 || m.state.NumQubits != 4 {
		t.Fatalf("one undo should restore the pre-edit circuit, got %d items on %d qubits",
			len(m.state.PlacedGates), m.state.NumQubits)
	}
}

func TestQASMPanelReportsParseErrors(t *testing.T) {
	m := press(newModel(modelOptions{}), "tab")
	m.qasmEditor.SetValue("h q[0];")
	m = press(m, " ")
	if m.statusMsg == "" {
		t.Error("missing qreg should be reported")
	}
	if m.state.NumQubits != circuit.DefaultQubits {
		t.Errorf("state changed on a failed import: %d qubits", m.state.NumQubits)
	}
}

type sinkTransport struct {
	mu   sync.Mutex
	sent []collab.Message
}

func (s *sinkTransport) Send(_ context.Context, msg collab.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *sinkTransport) Sent() []collab.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]collab.Message(nil), s.sent...)
}

// quietSession is a started session whose timers never fire during a test.
func quietSession(t *testing.T, h *history.Store[circuit.State], tr collab.Transport) *collab.Session {
	t.Helper()
	session := collab.NewSession(h, tr, collab.Options{
		ConnectionID: "me",
		Room:         "r",
		Debounce:     time.Hour,
		SuppressFor:  time.Hour,
	})
	session.Start(context.Background())
	t.Cleanup(session.Close)
	return session
}

// runCmd executes cmd and any commands it batches.
func runCmd(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if batch, ok := cmd().(tea.BatchMsg); ok {
		for _, c := range batch {
			runCmd(c)
		}
	}
}

func TestRemoteUpdateIsApplied(t *testing.T) {
	h := history.New(circuit.NewState(2), history.WithEqual(circuit.Equal))
	session := collab.NewSession(h, &sinkTransport{}, collab.Options{
		ConnectionID: "me",
		Room:         "r",
		Debounce:     time.Hour,
		SuppressFor:  time.Hour,
	})
	session.Start(context.Background())
	t.Cleanup(session.Close)

	m := newModel(modelOptions{history: h, session: session})

	info, _ := gate.Lookup("h")
	msg, err := collab.NewUpdate("peer", "r", circuit.Items{circuit.NewGate(info, 0, 2)})
	if err != nil {
		t.Fatal(err)
	}
	next, _ := m.Update(remoteMsg{msg: msg})
	m = next.(Model)

	if len(m.state.PlacedGates) != 1 {
		t.Fatalf("remote update not applied: %d items", len(m.state.PlacedGates))
	}
	if m.state.NumQubits != 3 {
		t.Errorf("register should grow to 3 qubits, got %d", m.state.NumQubits)
	}
	if h.CanUndo() {
		t.Error("remote updates must not be undoable")
	}
	if !strings.Contains(m.qasmEditor.Value(), "h q[2];") {
		t.Errorf("QASM panel not refreshed:\n%s", m.qasmEditor.Value())
	}

	next, _ = m.Update(connStatusMsg{})
	if m = next.(Model); m.peerStatus != "offline" {
		t.Errorf("peer status = %q", m.peerStatus)
	}
}

func TestAutosave(t *testing.T) {
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "qcompose.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	m := newModel(modelOptions{db: db, circuitID: "auto", autosaveDelay: time.Millisecond})
	next, cmd := m.Update(keyMsg("a"))
	m = next.(Model)
	next, cmd = m.Update(keyMsg("enter"))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("an edit should schedule an autosave")
	}

	next, _ = m.Update(autosaveMsg{gen: m.saveGen - 1})
	m = next.(Model)
	if _, err := db.LoadCircuit(context.Background(), "auto"); err == nil {
		t.Fatal("stale autosave tick should not save")
	}

	next, _ = m.Update(autosaveMsg{gen: m.saveGen})
	m = next.(Model)
	saved, err := db.LoadCircuit(context.Background(), "auto")
	if err != nil {
		t.Fatalf("autosave did not store the circuit: %v", err)
	}
	if !circuit.Equal(saved, m.state) {
		t.Error("saved circuit differs from the editor state")
	}
}

func TestViewRendersGrid(t *testing.T) {
	m := press(newModel(modelOptions{}), "a", "l", "l", "enter")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	m = next.(Model)

	view := m.View()
	for _, want := range []string{"Quantum Circuit", "QASM Editor", "q[0]", "q[3]", "●", "⊕", "meas", "c4"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m = press(m, "a")
	if !strings.Contains(m.View(), "Add Gate") {
		t.Error("menu overlay not rendered")
	}
}

func TestSpliceLineAt(t *testing.T) {
	tests := []struct {
		bg, ov string
		x      int
		want   string
	}{
		{"abcdef", "XY", 2, "ab\x1b[0mXYef"},
		{"ab", "XY", 4, "ab  \x1b[0mXY"},
		{"abcdef", "XYZ", 0, "\x1b[0mXYZdef"},
	}
	for _, tt := range tests {
		if got := spliceLineAt(tt.bg, tt.ov, tt.x); got != tt.want {
			t.Errorf("spliceLineAt(%q, %q, %d) = %q, want %q", tt.bg, tt.ov, tt.x, got, tt.want)
		}
	}
}

func TestRemoteUpdateReloadsFocusedQASMPanel(t *testing.T) {
	h := history.New(circuit.NewState(2), history.WithEqual(circuit.Equal))
	m := newModel(modelOptions{history: h, session: quietSession(t, h, &sinkTransport{})})
	m = press(m, "tab")

	info, _ := gate.Lookup("h")
	remote := circuit.NewGate(info, 0, 0)
	msg, err := collab.NewUpdate("peer", "r", circuit.Items{remote})
	if err != nil {
		t.Fatal(err)
	}
	next, _ := m.Update(remoteMsg{msg: msg})
	m = next.(Model)

	if !strings.Contains(m.qasmEditor.Value(), "h q[0];") {
		t.Fatalf("focused QASM panel not reloaded:\n%s", m.qasmEditor.Value())
	}

	m = press(m, " ")
	if len(m.state.PlacedGates) != 1 {
		t.Fatalf("typing after a remote edit dropped it: %d items", len(m.state.PlacedGates))
	}
	if got := m.state.PlacedGates[0].ItemID(); got != remote.ID {
		t.Errorf("re-import changed the item id: %s, want %s", got, remote.ID)
	}
}

func TestPresenceAndCursorSharing(t *testing.T) {
	h := history.New(circuit.NewState(2), history.WithEqual(circuit.Equal))
	tr := &sinkTransport{}
	m := newModel(modelOptions{history: h, session: quietSession(t, h, tr)})

	next, cmd := m.Update(remoteMsg{msg: collab.Message{Type: collab.TypeRoomJoined, Room: "r", Peers: []string{"p1", "p2"}}})
	m = next.(Model)
	runCmd(cmd)
	next, _ = m.Update(remoteMsg{msg: collab.Message{
		Type: collab.TypeCursorUpdate, Room: "r", ConnectionID: "p1", Position: &collab.Cursor{Depth: 0, Qubit: 1},
	}})
	m = next.(Model)

	if got := m.presenceLine(); !strings.Contains(got, "2 peers") {
		t.Errorf("presence line = %q", got)
	}
	if !m.peerCursors()[collab.Cursor{Depth: 0, Qubit: 1}] {
		t.Error("peer cursor not tracked")
	}

	next, cmd = m.Update(keyMsg("j"))
	m = next.(Model)
	runCmd(cmd)

	sent := tr.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want the joined position and one move", len(sent))
	}
	last := sent[1]
	if last.Type != collab.TypeCursorMove || last.Position == nil || *last.Position != (collab.Cursor{Depth: 0, Qubit: 1}) {
		t.Errorf("cursor move = %+v", last)
	}

	next, _ = m.Update(remoteMsg{msg: collab.Message{
		Type: collab.TypeConnectionUpdate, Event: collab.EventUserDisconnected, ConnectionID: "p2",
	}})
	m = next.(Model)
	if got := m.presenceLine(); !strings.Contains(got, "1 peer") {
		t.Errorf("presence line after disconnect = %q", got)
	}
}
