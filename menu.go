package main

import (
	"fmt"
	"strings"

	"qcompose/internal/circuit"
	"qcompose/internal/gate"
)

// paletteEntry is a single choice in the add menu: a catalog gate or a
// saved template.
type paletteEntry struct {
	name     string
	symbol   string
	color    string
	qubits   int
	param    bool
	info     gate.Info
	template *circuit.Template
}

// paletteTab groups related entries under a tab.
type paletteTab struct {
	name    string
	entries []paletteEntry
}

// buildPalette lays out the catalog by category, followed by a tab for the
// template library when it is not empty.
func buildPalette(templates []circuit.Template) []paletteTab {
	var tabs []paletteTab
	for _, cat := range gate.Categories() {
		tab := paletteTab{name: cat.Name}
		for _, info := range cat.Gates {
			tab.entries = append(tab.entries, paletteEntry{
				name:   info.Name,
				symbol: info.Symbol,
				color:  info.Color,
				qubits: info.NumQubits(),
				param:  info.Parameterized(),
				info:   info,
			})
		}
		tabs = append(tabs, tab)
	}

	if len(templates) == 0 {
		return tabs
	}
	tab := paletteTab{name: "Templates"}
	for i := range templates {
		t := templates[i]
		span, ok := circuit.SpanQubits(circuit.PlacedCircuit{Circuit: t})
		if !ok {
			continue
		}
		tab.entries = append(tab.entries, paletteEntry{
			name:     fmt.Sprintf("%s (%d items)", t.Symbol, len(t.Gates)),
			symbol:   t.Symbol,
			color:    t.Color,
			qubits:   span.End - span.Start + 1,
			template: &t,
		})
	}
	if len(tab.entries) > 0 {
		tabs = append(tabs, tab)
	}
	return tabs
}

// renderMenu renders the floating gate-picker popup.
func (m Model) renderMenu() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Add Gate"))
	sb.WriteString("\n")

	// Category tabs
	for i, tab := range m.palette {
		name := " " + tab.name + " "
		if i == m.menuCat {
			sb.WriteString(activeGateStyle.Render(name))
		} else {
			sb.WriteString(dimStyle.Render(name))
		}
		if i < len(m.palette)-1 {
			sb.WriteString(dimStyle.Render("│"))
		}
	}
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(strings.Repeat("─", 42)))
	sb.WriteString("\n")

	tab := m.palette[m.menuCat]
	for i, e := range tab.entries {
		name := e.name
		if len(name) > 18 {
			name = name[:17] + "…"
		}
		if i == m.menuItem {
			sb.WriteString(menuSelectedStyle.Render(" ▸ "))
			sb.WriteString(menuSelectedStyle.Render(fmt.Sprintf("%-18s", name)))
			sb.WriteString(colorStyle(e.color).Render(e.symbol))
		} else {
			sb.WriteString("   ")
			sb.WriteString(menuNormalStyle.Render(fmt.Sprintf("%-18s", name)))
			sb.WriteString(dimStyle.Render(e.symbol))
		}
		if e.qubits > 1 {
			sb.WriteString(dimStyle.Render(fmt.Sprintf(" %dq", e.qubits)))
		}
		if e.param {
			sb.WriteString(dimStyle.Render(" (θ)"))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render(" ↑↓ Select  ←→ Cat  ⏎ Ok  Esc ✕"))

	return menuBorderStyle.Render(sb.String())
}
