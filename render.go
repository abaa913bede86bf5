package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"

	"qcompose/internal/circuit"
	"qcompose/internal/collab"
	"qcompose/internal/qasm"
)

// ──────────────────────────── Rendering helpers ────────────────────────────

// padCenter centres a string within the given visual width.
func padCenter(s string, width int) string {
	w := xansi.StringWidth(s)
	if w >= width {
		return xansi.Cut(s, 0, width)
	}
	total := width - w
	left := total / 2
	right := total - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

// wireSymbol returns the glyph drawn on a target line instead of a box, or
// "" when the gate is drawn boxed.
func wireSymbol(gateID string) string {
	switch gateID {
	case "cnot", "cx", "ccx":
		return "⊕"
	case "cz":
		return "●"
	case "swap":
		return "×"
	}
	return ""
}

// boxLabel is the text inside a boxed target. Controlled gates drop their
// leading C since the control dot already says it.
func boxLabel(g circuit.PlacedGate) string {
	if len(g.ControlQubits) > 0 {
		return strings.TrimPrefix(g.Gate.Symbol, "C")
	}
	return g.Gate.Symbol
}

// ──────────────────────────── Cell rendering ────────────────────────────

// cellInfo describes what occupies a single cell in the circuit grid.
type cellInfo struct {
	gate        *circuit.PlacedGate
	block       *circuit.PlacedCircuit
	isControl   bool
	isTarget    bool
	vertAbove   bool
	vertBelow   bool
	passThrough bool
	blockTop    bool
	blockBottom bool
}

// cellAt resolves the item covering (depth, qubit) through the index.
func (m Model) cellAt(depth, qubit int) cellInfo {
	var info cellInfo
	item, ok := m.index.At(depth, qubit)
	if !ok {
		return info
	}
	span, _ := circuit.SpanQubits(item)
	info.vertAbove = qubit > span.Start
	info.vertBelow = qubit < span.End

	switch it := item.(type) {
	case circuit.PlacedGate:
		info.gate = &it
		switch {
		case slices.Contains(it.ControlQubits, qubit):
			info.isControl = true
		case slices.Contains(it.TargetQubits, qubit):
			info.isTarget = true
		default:
			info.passThrough = true
		}
	case circuit.PlacedCircuit:
		info.block = &it
		info.blockTop = qubit == span.Start
		info.blockBottom = qubit == span.End
	}
	return info
}

// renderCell returns 3 lines (top, mid, bot) for a single cell.
// Each line is exactly cellW (11) visual characters wide. A non-nil cursor
// draws the cell boxed in that style.
func renderCell(info cellInfo, cursor *lipgloss.Style) (top, mid, bot string) {
	emptyRow := strings.Repeat(" ", cellW)
	halfW := cellW / 2
	vertRow := strings.Repeat(" ", halfW) + "│" + strings.Repeat(" ", cellW-halfW-1)
	margin := (cellW - gateBoxW) / 2
	rightMargin := cellW - margin - gateBoxW

	if cursor != nil {
		bdr := *cursor
		innerW := cellW - 2
		dashL := (innerW - 1) / 2
		dashR := innerW - dashL - 1
		top = bdr.Render("╔" + strings.Repeat("═", innerW) + "╗")
		bot = bdr.Render("╚" + strings.Repeat("═", innerW) + "╝")

		switch {
		case info.block != nil:
			label := strings.Repeat(" ", gateNameW)
			if info.blockTop {
				label = padCenter(info.block.Circuit.Symbol, gateNameW)
			}
			mid = bdr.Render("║") + "─┤" + colorStyle(info.block.Circuit.Color).Render(label) + "├─" + bdr.Render("║")
		case info.gate != nil && info.isControl:
			mid = bdr.Render("║") + strings.Repeat("─", dashL) + colorStyle(info.gate.Gate.Color).Render("●") + strings.Repeat("─", dashR) + bdr.Render("║")
		case info.gate != nil && info.isTarget && useWireSymbol(*info.gate):
			mid = bdr.Render("║") + strings.Repeat("─", dashL) + colorStyle(info.gate.Gate.Color).Render(wireSymbol(info.gate.Gate.ID)) + strings.Repeat("─", dashR) + bdr.Render("║")
		case info.gate != nil && info.isTarget:
			name := padCenter(boxLabel(*info.gate), gateNameW)
			mid = bdr.Render("║") + "─┤" + colorStyle(info.gate.Gate.Color).Render(name) + "├─" + bdr.Render("║")
		case info.passThrough:
			mid = bdr.Render("║") + strings.Repeat("─", dashL) + "┼" + strings.Repeat("─", dashR) + bdr.Render("║")
		default:
			mid = bdr.Render("║") + strings.Repeat("─", innerW) + bdr.Render("║")
		}
		return
	}

	dashL := (cellW - 1) / 2
	dashR := cellW - dashL - 1

	switch {
	case info.block != nil:
		st := colorStyle(info.block.Circuit.Color)
		label := strings.Repeat(" ", gateNameW)
		if info.blockTop {
			label = padCenter(info.block.Circuit.Symbol, gateNameW)
		}
		side := strings.Repeat(" ", margin) + st.Render("│"+strings.Repeat(" ", gateNameW)+"│") + strings.Repeat(" ", rightMargin)
		top, bot = side, side
		if info.blockTop {
			top = strings.Repeat(" ", margin) + st.Render("┌"+strings.Repeat("─", gateNameW)+"┐") + strings.Repeat(" ", rightMargin)
		}
		if info.blockBottom {
			bot = strings.Repeat(" ", margin) + st.Render("└"+strings.Repeat("─", gateNameW)+"┘") + strings.Repeat(" ", rightMargin)
		}
		mid = strings.Repeat("─", margin) + st.Render("┤"+label+"├") + strings.Repeat("─", rightMargin)

	case info.gate != nil && (info.isControl || (info.isTarget && useWireSymbol(*info.gate))):
		sym := "●"
		if !info.isControl {
			sym = wireSymbol(info.gate.Gate.ID)
		}
		top = emptyRow
		if info.vertAbove {
			top = vertRow
		}
		mid = strings.Repeat("─", dashL) + colorStyle(info.gate.Gate.Color).Render(sym) + strings.Repeat("─", dashR)
		bot = emptyRow
		if info.vertBelow {
			bot = vertRow
		}

	case info.gate != nil && info.isTarget:
		st := colorStyle(info.gate.Gate.Color)
		name := padCenter(boxLabel(*info.gate), gateNameW)
		topEdge := strings.Repeat("─", gateNameW)
		botEdge := topEdge
		if info.vertAbove {
			topEdge = strings.Repeat("─", gateNameW/2) + "┴" + strings.Repeat("─", gateNameW-gateNameW/2-1)
		}
		if info.vertBelow {
			botEdge = strings.Repeat("─", gateNameW/2) + "┬" + strings.Repeat("─", gateNameW-gateNameW/2-1)
		}
		top = strings.Repeat(" ", margin) + st.Render("┌"+topEdge+"┐") + strings.Repeat(" ", rightMargin)
		mid = strings.Repeat("─", margin) + st.Render("┤"+name+"├") + strings.Repeat("─", rightMargin)
		bot = strings.Repeat(" ", margin) + st.Render("└"+botEdge+"┘") + strings.Repeat(" ", rightMargin)

	case info.passThrough:
		top = vertRow
		mid = strings.Repeat("─", dashL) + "┼" + strings.Repeat("─", dashR)
		bot = vertRow

	default:
		top = emptyRow
		mid = strings.Repeat("─", cellW)
		bot = emptyRow
	}
	return
}

// useWireSymbol reports whether a target is drawn as a bare glyph.
func useWireSymbol(g circuit.PlacedGate) bool {
	if wireSymbol(g.Gate.ID) == "" {
		return false
	}
	return len(g.ControlQubits) > 0 || len(g.TargetQubits) > 1
}

// measureCell draws the trailing measurement column for one qubit.
func measureCell(measured bool) (top, mid, bot string) {
	margin := (cellW - gateBoxW) / 2
	rightMargin := cellW - margin - gateBoxW
	if !measured {
		return strings.Repeat(" ", cellW), strings.Repeat("─", margin) + strings.Repeat(" ", cellW-margin), strings.Repeat(" ", cellW)
	}
	halfW := cellW / 2
	top = strings.Repeat(" ", margin) + gateStyle.Render("┌"+strings.Repeat("─", gateNameW)+"┐") + strings.Repeat(" ", rightMargin)
	mid = strings.Repeat("─", margin) + gateStyle.Render("┤"+padCenter("M", gateNameW)+"├") + strings.Repeat(" ", rightMargin)
	bot = strings.Repeat(" ", halfW) + cbitConnectorStyle.Render("║") + strings.Repeat(" ", cellW-halfW-1)
	return
}

// ──────────────────────────── Panel rendering ────────────────────────────

// renderCircuitPanel renders the circuit grid panel.
func (m Model) renderCircuitPanel(width, height int) string {
	var sb strings.Builder

	title := "Quantum Circuit"
	if m.circuitID != "" {
		title += " · " + m.circuitID
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n\n")

	// How many depth columns fit next to the measurement column
	availWidth := width - labelVisualW - 4 - cellW
	maxSteps := max(availWidth/cellW, 1)

	startStep := 0
	if m.cursorStep >= maxSteps {
		startStep = m.cursorStep - maxSteps + 1
	}
	if startStep > 0 {
		fmt.Fprintf(&sb, "  ◀ showing depths %d–%d\n", startStep, startStep+maxSteps-1)
	}

	header := strings.Repeat(" ", labelVisualW)
	for step := startStep; step < startStep+maxSteps; step++ {
		header += dimStyle.Render(padCenter(fmt.Sprintf("%d", step), cellW))
	}
	header += dimStyle.Render(padCenter("meas", cellW))
	sb.WriteString(header + "\n")

	peerCells := m.peerCursors()
	measured := 0
	for qubit := range m.state.NumQubits {
		isMeasured := qubit < len(m.state.Measurements) && m.state.Measurements[qubit]
		if isMeasured {
			measured++
		}

		topLine := strings.Repeat(" ", labelVisualW)
		label := fmt.Sprintf("q[%d]", qubit)
		midLine := qubitLabelStyle.Render(fmt.Sprintf("%-5s", label)) + "──"
		botLine := strings.Repeat(" ", labelVisualW)

		for step := startStep; step < startStep+maxSteps; step++ {
			var cursor *lipgloss.Style
			switch {
			case step == m.cursorStep && qubit == m.cursorQubit && (m.focus == focusCircuit || m.focus == focusMenu):
				cursor = &cursorBoxStyle
			case peerCells[collab.Cursor{Depth: step, Qubit: qubit}]:
				cursor = &peerCursorStyle
			}
			top, mid, bot := renderCell(m.cellAt(step, qubit), cursor)
			topLine += top
			midLine += mid
			botLine += bot
		}

		top, mid, bot := measureCell(isMeasured)
		topLine += top
		midLine += mid
		botLine += bot

		sb.WriteString(topLine + "\n")
		sb.WriteString(midLine + "\n")
		sb.WriteString(botLine + "\n")
	}

	// ── Classical register (single line) ──
	if measured > 0 {
		label := fmt.Sprintf("c%d", measured)
		cbitLine := cbitLabelStyle.Render(fmt.Sprintf("%-5s", label)) + cbitWireStyle.Render("══")
		cbitLine += cbitWireStyle.Render(strings.Repeat("═", cellW*maxSteps))
		dashL := (cellW - 1) / 2
		cbitLine += cbitWireStyle.Render(strings.Repeat("═", dashL)) + cbitConnectorStyle.Render("╩")
		sb.WriteString(cbitLine + "\n")
	}

	fmt.Fprintf(&sb, "\n  Depth %d, Qubit %d", m.cursorStep, m.cursorQubit)
	if item, ok := m.index.At(m.cursorStep, m.cursorQubit); ok {
		fmt.Fprintf(&sb, "  │  %s", dimStyle.Render(describeItem(item)))
	}
	if status := m.presenceLine(); status != "" {
		fmt.Fprintf(&sb, "  │  %s", dimStyle.Render(status))
	}
	if m.statusMsg != "" {
		fmt.Fprintf(&sb, "  │  %s", activeGateStyle.Render(m.statusMsg))
	}

	return circuitStyle.Width(width).Height(height).Render(sb.String())
}

// peerCursors returns the cells collaborators are pointing at.
func (m Model) peerCursors() map[collab.Cursor]bool {
	if m.session == nil {
		return nil
	}
	cells := make(map[collab.Cursor]bool)
	for _, p := range m.session.Peers() {
		if p.Cursor != nil {
			cells[*p.Cursor] = true
		}
	}
	return cells
}

// presenceLine is the connection status plus the number of peers in the room.
func (m Model) presenceLine() string {
	if m.session == nil || strings.HasPrefix(m.peerStatus, "offline") {
		return m.peerStatus
	}
	n := len(m.session.Peers())
	peers := fmt.Sprintf("%d peers", n)
	if n == 1 {
		peers = "1 peer"
	}
	if m.peerStatus == "" {
		return peers
	}
	return m.peerStatus + " · " + peers
}

// describeItem is the one-line summary shown for the item under the cursor.
func describeItem(item circuit.Item) string {
	switch it := item.(type) {
	case circuit.PlacedGate:
		s := it.Gate.Name
		if len(it.Parameters) > 0 {
			s += "(" + qasm.FormatParams(it.Parameters) + ")"
		}
		return s
	case circuit.PlacedCircuit:
		return fmt.Sprintf("%s block, %d items", it.Circuit.Symbol, len(it.Circuit.Gates))
	}
	return ""
}

// renderQASMPanel renders the QASM editor panel.
func (m Model) renderQASMPanel(width, height int) string {
	var sb strings.Builder

	title := "QASM Editor"
	if m.focus == focusQASM {
		title += " [ACTIVE]"
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n\n")
	sb.WriteString(m.qasmEditor.View())

	if len(m.warnings) > 0 {
		sb.WriteString("\n")
		sb.WriteString(warnStyle.Render(fmt.Sprintf("%d skipped: %s", len(m.warnings), m.warnings[0])))
	}

	return qasmStyle.Width(width).Height(height).Render(sb.String())
}

// renderControlsPanel renders the bottom help/controls bar.
func (m Model) renderControlsPanel(width, height int) string {
	var sb strings.Builder

	sb.WriteString(activeGateStyle.Render("Navigate: "))
	sb.WriteString("↑↓/jk Qubit  ←→/hl Depth  </> Move  J/K Shift  +/- Qubits  m Measure")
	sb.WriteString("    ")
	sb.WriteString(activeGateStyle.Render("a"))
	sb.WriteString(" Add gate\n")

	sb.WriteString(activeGateStyle.Render("Actions:  "))
	sb.WriteString("Tab QASM  e Edit  x Delete  g/G Group  u/^Y Undo/Redo  ^R Clear  ^S Save  q Quit")

	return controlsStyle.Width(width).Height(height).Render(sb.String())
}

// ──────────────────────────── Overlay helpers ────────────────────────────

// overlayAt composites the overlay string on top of the background at position (x, y).
func overlayAt(bg, overlay string, x, y int) string {
	bgLines := strings.Split(bg, "\n")
	ovLines := strings.Split(overlay, "\n")

	for i, ovLine := range ovLines {
		bgIdx := y + i
		if bgIdx < 0 || bgIdx >= len(bgLines) {
			continue
		}
		bgLines[bgIdx] = spliceLineAt(bgLines[bgIdx], ovLine, x)
	}
	return strings.Join(bgLines, "\n")
}

// spliceLineAt replaces the visible columns starting at x with overlay.
func spliceLineAt(bgLine, overlay string, x int) string {
	bgW := xansi.StringWidth(bgLine)
	prefix := xansi.Cut(bgLine, 0, x)
	if pad := x - xansi.StringWidth(prefix); pad > 0 {
		prefix += strings.Repeat(" ", pad)
	}
	suffix := ""
	if end := x + xansi.StringWidth(overlay); end < bgW {
		suffix = xansi.Cut(bgLine, end, bgW)
	}
	return prefix + "\x1b[0m" + overlay + suffix
}
