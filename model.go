package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"qcompose/internal/circuit"
	"qcompose/internal/collab"
	"qcompose/internal/history"
	"qcompose/internal/qasm"
	"qcompose/internal/store"
)

// focus represents which panel/mode has keyboard input.
type focus int

const (
	focusCircuit focus = iota
	focusQASM
	focusMenu
	focusInputParam
	focusEditGate
	focusEditParam
)

// remoteMsg carries one relay message into the update loop.
type remoteMsg struct{ msg collab.Message }

// connStatusMsg reports that the relay connection ended.
type connStatusMsg struct{ err error }

// autosaveMsg fires after the autosave delay; stale generations are ignored.
type autosaveMsg struct{ gen int }

// Model represents the TUI application state.
type Model struct {
	history *history.Store[circuit.State]
	state   circuit.State  // snapshot of history.Present()
	index   *circuit.Index // derived from state
	session *collab.Session
	db      *store.Store
	log     *slog.Logger

	circuitID     string
	autosaveDelay time.Duration
	saveGen       int

	cursorQubit int
	cursorStep  int
	width       int
	height      int
	qasmEditor  textarea.Model
	focus       focus
	lastQASM    string
	qasmEditing bool // first import of a QASM focus session already checkpointed
	warnings    []string
	statusMsg   string
	peerStatus  string

	// Menu state
	palette  []paletteTab
	menuCat  int
	menuItem int

	// Parameter entry
	pending    paletteEntry
	paramInput string

	// Edit state
	editID      string
	editMenuIdx int
}

type modelOptions struct {
	history       *history.Store[circuit.State]
	session       *collab.Session
	db            *store.Store
	templates     []circuit.Template
	circuitID     string
	autosaveDelay time.Duration
	logger        *slog.Logger
}

func newModel(opts modelOptions) Model {
	ta := textarea.New()
	ta.Placeholder = "Edit QASM here..."
	ta.SetWidth(40)
	ta.SetHeight(20)
	ta.ShowLineNumbers = true
	ta.KeyMap.InsertNewline.SetEnabled(true)

	h := opts.history
	if h == nil {
		h = history.New(circuit.NewState(circuit.DefaultQubits), history.WithEqual(circuit.Equal))
	}
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}

	m := Model{
		history:       h,
		session:       opts.session,
		db:            opts.db,
		log:           logger,
		circuitID:     opts.circuitID,
		autosaveDelay: opts.autosaveDelay,
		qasmEditor:    ta,
		focus:         focusCircuit,
		palette:       buildPalette(opts.templates),
	}
	if opts.session != nil {
		m.peerStatus = "connecting…"
	}
	m.refresh()
	return m
}

// refresh re-reads the present state and rebuilds everything derived from
// it. The QASM text is left alone while the user is typing in it.
func (m *Model) refresh() {
	m.state = m.history.Present()
	m.index = m.state.Index()
	m.cursorQubit = min(m.cursorQubit, max(m.state.NumQubits-1, 0))

	if m.focus != focusQASM {
		m.reloadQASM()
	}
}

// reloadQASM replaces the panel text with the export of the present state.
func (m *Model) reloadQASM() {
	code := qasm.Serialize(m.state.NumQubits, m.state.PlacedGates, m.state.Measurements)
	m.qasmEditor.SetValue(code)
	m.lastQASM = code
	m.warnings = nil
}

// shareCursor tells the room where the local cursor is.
func (m *Model) shareCursor() tea.Cmd {
	if m.session == nil {
		return nil
	}
	sess, log := m.session, m.log
	depth, qubit := m.cursorStep, m.cursorQubit
	return func() tea.Msg {
		if err := sess.MoveCursor(depth, qubit); err != nil {
			log.Debug("share cursor", "error", err)
		}
		return nil
	}
}

// commit records next as a new undo step.
func (m *Model) commit(next circuit.State) tea.Cmd {
	m.history.Set(next, true)
	return m.changed()
}

func (m *Model) changed() tea.Cmd {
	m.refresh()
	return m.scheduleSave()
}

func (m *Model) scheduleSave() tea.Cmd {
	if m.db == nil || m.circuitID == "" || m.autosaveDelay <= 0 {
		return nil
	}
	m.saveGen++
	gen := m.saveGen
	return tea.Tick(m.autosaveDelay, func(time.Time) tea.Msg {
		return autosaveMsg{gen: gen}
	})
}

func (m *Model) save() error {
	if m.db == nil || m.circuitID == "" {
		return errors.New("no circuit store configured")
	}
	return m.db.SaveCircuit(context.Background(), m.circuitID, "", m.state)
}

// cursorItem returns the item covering the cursor cell.
func (m *Model) cursorItem() (circuit.Item, bool) {
	return m.index.At(m.cursorStep, m.cursorQubit)
}

// placeEntry drops a palette entry at the cursor, pushing whatever it
// collides with to the right.
func (m *Model) placeEntry(e paletteEntry, params []float64) tea.Cmd {
	if m.cursorQubit+e.qubits > m.state.NumQubits {
		m.statusMsg = fmt.Sprintf("Cannot place %s: needs %d qubits from q[%d]", e.symbol, e.qubits, m.cursorQubit)
		return nil
	}

	var item circuit.Item
	if e.template != nil {
		span, _ := circuit.SpanQubits(circuit.PlacedCircuit{Circuit: *e.template})
		item = circuit.PlacedCircuit{
			ID:         circuit.NewID(e.template.Symbol),
			Circuit:    *e.template,
			Depth:      m.cursorStep,
			StartQubit: m.cursorQubit - span.Start,
		}
	} else {
		g := circuit.NewGate(e.info, m.cursorStep, m.cursorQubit)
		g.Parameters = params
		item = g
	}

	m.cursorStep++
	return m.commit(circuit.Insert(m.state, item))
}

// moveCursorItem shifts the item under the cursor by (dDepth, dQubit).
func (m *Model) moveCursorItem(dDepth, dQubit int) tea.Cmd {
	item, ok := m.cursorItem()
	if !ok {
		return nil
	}
	span, _ := circuit.SpanQubits(item)
	next, ok := circuit.Move(m.state, item.ItemID(), item.ItemDepth()+dDepth, span.Start+dQubit)
	if !ok {
		m.statusMsg = "Cannot move there"
		return nil
	}
	m.cursorStep = max(m.cursorStep+dDepth, 0)
	m.cursorQubit = min(max(m.cursorQubit+dQubit, 0), m.state.NumQubits-1)
	return m.commit(next)
}

// groupColumn wraps every item in the cursor column into one block and
// adds it to the template library.
func (m *Model) groupColumn() tea.Cmd {
	ids := m.index.Column(m.cursorStep)
	if len(ids) == 0 {
		m.statusMsg = "Nothing to group at this depth"
		return nil
	}
	next, block, err := circuit.Group(m.state, ids, circuit.DefaultGroupSymbol, circuit.DefaultGroupColor)
	if err != nil {
		m.statusMsg = err.Error()
		return nil
	}
	if m.db != nil {
		if err := m.db.SaveTemplate(context.Background(), block.Circuit); err != nil {
			m.log.Warn("save template", "id", block.Circuit.ID, "error", err)
		} else if tpl, err := m.db.Templates(context.Background()); err == nil {
			m.palette = buildPalette(tpl)
			m.menuCat = min(m.menuCat, len(m.palette)-1)
		}
	}
	m.statusMsg = fmt.Sprintf("Grouped %d items", len(ids))
	return m.commit(next)
}

func (m *Model) importQASM() tea.Cmd {
	code := m.qasmEditor.Value()
	if code == m.lastQASM {
		return nil
	}
	m.lastQASM = code

	res, err := qasm.Parse(code)
	if err != nil {
		m.statusMsg = err.Error()
		return nil
	}
	m.warnings = res.Warnings
	next := res.State
	next.PlacedGates = circuit.KeepIDs(m.state.PlacedGates, next.PlacedGates)
	// One undo step per editing session in the QASM panel.
	m.history.Set(next, !m.qasmEditing)
	m.qasmEditing = true
	return m.changed()
}

// ──────────────────────────── Init / Update ────────────────────────────

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	step, qubit := m.cursorStep, m.cursorQubit

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		qasmW := max(msg.Width/3-6, 20)
		m.qasmEditor.SetWidth(qasmW)
		ctrlH := 6
		circH := msg.Height - ctrlH - 4
		editorH := max(circH-8, 4)
		m.qasmEditor.SetHeight(editorH)

	case remoteMsg:
		if m.session == nil {
			break
		}
		if msg.msg.Type == collab.TypeConnectionEstablished {
			m.peerStatus = "online " + shortID(msg.msg.ConnectionID)
		}
		before := m.state
		m.session.Receive(msg.msg)
		if !circuit.Equal(before, m.history.Present()) {
			cmds = append(cmds, m.changed())
			if m.focus == focusQASM {
				// the panel text would otherwise overwrite the peer's edit
				// on the next keystroke
				m.reloadQASM()
				m.statusMsg = "QASM reloaded after a remote edit"
			}
		}
		if msg.msg.Type == collab.TypeRoomJoined {
			cmds = append(cmds, m.shareCursor())
		}

	case connStatusMsg:
		m.peerStatus = "offline"
		if msg.err != nil {
			m.peerStatus = "offline: " + msg.err.Error()
		}

	case autosaveMsg:
		if msg.gen != m.saveGen {
			break
		}
		if err := m.save(); err != nil {
			m.log.Warn("autosave failed", "circuit", m.circuitID, "error", err)
			m.statusMsg = fmt.Sprintf("Autosave error: %v", err)
		}

	case tea.KeyMsg:
		key := msg.String()
		m.statusMsg = ""

		if key == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.focus {
		case focusCircuit:
			switch key {
			case "q":
				return m, tea.Quit
			case "tab":
				m.focus = focusQASM
				m.qasmEditing = false
				m.qasmEditor.Focus()
			case "ctrl+r":
				cmds = append(cmds, m.commit(circuit.NewState(m.state.NumQubits)))
				m.cursorStep = 0
			case "ctrl+s":
				if err := m.save(); err != nil {
					m.statusMsg = fmt.Sprintf("Save error: %v", err)
				} else {
					m.statusMsg = "Saved " + m.circuitID
				}
			case "up", "k":
				if m.cursorQubit > 0 {
					m.cursorQubit--
				}
			case "down", "j":
				if m.cursorQubit < m.state.NumQubits-1 {
					m.cursorQubit++
				}
			case "left", "h":
				if m.cursorStep > 0 {
					m.cursorStep--
				}
			case "right", "l":
				m.cursorStep++
			case "<", ",":
				cmds = append(cmds, m.moveCursorItem(-1, 0))
			case ">", ".":
				cmds = append(cmds, m.moveCursorItem(1, 0))
			case "K":
				cmds = append(cmds, m.moveCursorItem(0, -1))
			case "J":
				cmds = append(cmds, m.moveCursorItem(0, 1))
			case "+", "=":
				cmds = append(cmds, m.commit(circuit.AddQubit(m.state)))
			case "-":
				cmds = append(cmds, m.commit(circuit.RemoveQubit(m.state)))
			case "m":
				cmds = append(cmds, m.commit(circuit.ToggleMeasurement(m.state, m.cursorQubit)))
			case "u", "ctrl+z":
				if m.history.Undo() {
					cmds = append(cmds, m.changed())
				} else {
					m.statusMsg = "Nothing to undo"
				}
			case "U", "ctrl+y":
				if m.history.Redo() {
					cmds = append(cmds, m.changed())
				} else {
					m.statusMsg = "Nothing to redo"
				}
			case "a":
				m.focus = focusMenu
				m.menuCat = 0
				m.menuItem = 0
			case "x", "backspace", "delete":
				if item, ok := m.cursorItem(); ok {
					next, _ := circuit.Remove(m.state, item.ItemID())
					cmds = append(cmds, m.commit(next))
				}
			case "g":
				cmds = append(cmds, m.groupColumn())
			case "G":
				if item, ok := m.cursorItem(); ok {
					if next, ok := circuit.Ungroup(m.state, item.ItemID()); ok {
						cmds = append(cmds, m.commit(next))
					}
				}
			case "e":
				if item, ok := m.cursorItem(); ok {
					m.editID = item.ItemID()
					m.editMenuIdx = 0
					m.focus = focusEditGate
				}
			}

		case focusMenu:
			switch key {
			case "esc":
				m.focus = focusCircuit
			case "up", "k":
				if m.menuItem > 0 {
					m.menuItem--
				}
			case "down", "j":
				if m.menuItem < len(m.palette[m.menuCat].entries)-1 {
					m.menuItem++
				}
			case "left", "h":
				if m.menuCat > 0 {
					m.menuCat--
					m.menuItem = 0
				}
			case "right", "l":
				if m.menuCat < len(m.palette)-1 {
					m.menuCat++
					m.menuItem = 0
				}
			case "enter":
				e := m.palette[m.menuCat].entries[m.menuItem]
				if e.param {
					m.pending = e
					m.paramInput = ""
					m.focus = focusInputParam
					break
				}
				m.focus = focusCircuit
				cmds = append(cmds, m.placeEntry(e, nil))
			}

		case focusInputParam:
			switch key {
			case "esc":
				m.focus = focusCircuit
				m.paramInput = ""
			case "enter":
				params, err := qasm.ParseParams(m.paramInput)
				if err != nil {
					m.statusMsg = "Invalid parameter, use numbers or pi expressions (e.g. pi/2, 3*pi/4)"
					break
				}
				m.focus = focusCircuit
				m.paramInput = ""
				cmds = append(cmds, m.placeEntry(m.pending, params))
			default:
				m.paramInput = editParamInput(m.paramInput, key)
			}

		case focusEditGate:
			item, _, ok := m.state.PlacedGates.Find(m.editID)
			if !ok {
				m.focus = focusCircuit
				break
			}
			opts := editOptionsFor(item, m.db != nil)
			switch key {
			case "esc":
				m.focus = focusCircuit
			case "up", "k":
				if m.editMenuIdx > 0 {
					m.editMenuIdx--
				}
			case "down", "j":
				if m.editMenuIdx < len(opts)-1 {
					m.editMenuIdx++
				}
			case "enter":
				if m.editMenuIdx >= len(opts) {
					break
				}
				switch opts[m.editMenuIdx].action {
				case "edit_param":
					m.paramInput = ""
					if g, ok := item.(circuit.PlacedGate); ok {
						m.paramInput = qasm.FormatParams(g.Parameters)
					}
					m.focus = focusEditParam
				case "ungroup":
					if next, ok := circuit.Ungroup(m.state, m.editID); ok {
						cmds = append(cmds, m.commit(next))
					}
					m.focus = focusCircuit
				case "save_template":
					if block, ok := item.(circuit.PlacedCircuit); ok {
						if err := m.db.SaveTemplate(context.Background(), block.Circuit); err != nil {
							m.statusMsg = fmt.Sprintf("Save error: %v", err)
						} else if tpl, err := m.db.Templates(context.Background()); err == nil {
							m.palette = buildPalette(tpl)
							m.statusMsg = "Template saved"
						}
					}
					m.focus = focusCircuit
				case "delete":
					next, _ := circuit.Remove(m.state, m.editID)
					cmds = append(cmds, m.commit(next))
					m.focus = focusCircuit
				}
			}

		case focusEditParam:
			switch key {
			case "esc":
				m.paramInput = ""
				m.focus = focusEditGate
			case "enter":
				params, err := qasm.ParseParams(m.paramInput)
				if err != nil {
					m.statusMsg = "Invalid parameter, use numbers or pi expressions (e.g. pi/2, 3*pi/4)"
					break
				}
				if next, ok := circuit.SetParameters(m.state, m.editID, params); ok {
					cmds = append(cmds, m.commit(next))
				}
				m.paramInput = ""
				m.focus = focusEditGate
			default:
				m.paramInput = editParamInput(m.paramInput, key)
			}

		case focusQASM:
			switch key {
			case "tab", "esc":
				m.focus = focusCircuit
				m.qasmEditor.Blur()
				m.refresh()
			default:
				var cmd tea.Cmd
				m.qasmEditor, cmd = m.qasmEditor.Update(msg)
				cmds = append(cmds, cmd, m.importQASM())
			}
		}
	}

	if m.cursorStep != step || m.cursorQubit != qubit {
		cmds = append(cmds, m.shareCursor())
	}
	return m, tea.Batch(cmds...)
}

// editParamInput applies one key press to an angle being typed.
func editParamInput(input, key string) string {
	if key == "backspace" {
		if len(input) > 0 {
			return input[:len(input)-1]
		}
		return input
	}
	if len(key) != 1 {
		return input
	}
	ch := key[0]
	if (ch >= '0' && ch <= '9') || ch == '.' || ch == ',' || ch == '-' || ch == 'e' || ch == 'E' || ch == '+' ||
		ch == 'p' || ch == 'i' || ch == '*' || ch == '/' || ch == ' ' {
		return input + key
	}
	return input
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// editOption represents an option in the edit menu.
type editOption struct {
	label  string
	action string
}

// editOptionsFor returns the edit menu entries for item.
func editOptionsFor(item circuit.Item, canSave bool) []editOption {
	var opts []editOption
	switch it := item.(type) {
	case circuit.PlacedGate:
		if it.Gate.Parameterized() {
			params := "default"
			if len(it.Parameters) > 0 {
				params = qasm.FormatParams(it.Parameters)
			}
			opts = append(opts, editOption{label: "Parameters: " + params, action: "edit_param"})
		}
	case circuit.PlacedCircuit:
		opts = append(opts, editOption{label: "Ungroup " + it.Circuit.Symbol, action: "ungroup"})
		if canSave {
			opts = append(opts, editOption{label: "Save as template", action: "save_template"})
		}
	}
	return append(opts, editOption{label: "Delete", action: "delete"})
}

// View renders the UI.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	qasmWidth := m.width / 3
	circuitWidth := m.width - qasmWidth - 4
	controlsHeight := 6
	circuitHeight := max(m.height-controlsHeight-2, 6)

	circuitPanel := m.renderCircuitPanel(circuitWidth, circuitHeight)
	qasmPanel := m.renderQASMPanel(qasmWidth, circuitHeight)
	controlsPanel := m.renderControlsPanel(m.width-4, controlsHeight-2)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, circuitPanel, qasmPanel)
	frame := lipgloss.JoinVertical(lipgloss.Left, topRow, controlsPanel)

	switch m.focus {
	case focusMenu:
		frame = overlayAt(frame, m.renderMenu(), 2, 2)
	case focusInputParam, focusEditParam:
		frame = overlayAt(frame, m.renderParamInput(), 2, 2)
	case focusEditGate:
		frame = overlayAt(frame, m.renderEditMenu(), 2, 2)
	}

	return frame
}

// renderParamInput renders parameter input overlay.
func (m Model) renderParamInput() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Enter Angle"))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Value: %s_", m.paramInput)
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Examples: pi/2, 3*pi/4, 1.57 (empty = pi/2)"))
	return menuBorderStyle.Render(sb.String())
}

// renderEditMenu renders the edit menu overlay.
func (m Model) renderEditMenu() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Edit"))
	sb.WriteString("\n\n")
	item, _, ok := m.state.PlacedGates.Find(m.editID)
	if ok {
		sb.WriteString(dimStyle.Render(describeItem(item)))
		sb.WriteString("\n\n")
		for i, opt := range editOptionsFor(item, m.db != nil) {
			if i == m.editMenuIdx {
				sb.WriteString(menuSelectedStyle.Render(fmt.Sprintf("▸ %s", opt.label)))
			} else {
				fmt.Fprintf(&sb, "  %s", opt.label)
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("↑↓ Select  ⏎ Ok  Esc ✕"))
	return menuBorderStyle.Render(sb.String())
}
