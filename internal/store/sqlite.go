// Package store persists circuit snapshots and the reusable template library
// in a local SQLite file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"qcompose/internal/circuit"
)

// ErrNotFound is returned when a circuit or template id is not stored.
var ErrNotFound = errors.New("store: not found")

// Store is a handle on the snapshot database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// CircuitInfo is the listing row for a saved circuit.
type CircuitInfo struct {
	ID        string
	Name      string
	NumQubits int
	Gates     int
	UpdatedAt time.Time
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the editor and an export run side by side.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS circuits (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			num_qubits INTEGER NOT NULL,
			gate_count INTEGER NOT NULL,
			state_json TEXT NOT NULL,
			created_at_unixms INTEGER NOT NULL,
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_circuits_updated ON circuits(updated_at_unixms);`,
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			color TEXT NOT NULL,
			gates_json TEXT NOT NULL,
			created_at_unixms INTEGER NOT NULL
		);`,
	}
	for _, st := range stmts {
		if _, err := db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCircuit validates state and stores it under id, replacing any
// earlier snapshot. An empty name keeps the stored name, or uses id for a
// new row.
func (s *Store) SaveCircuit(ctx context.Context, id, name string, state circuit.State) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("save circuit: empty id")
	}
	if err := state.Validate(); err != nil {
		return fmt.Errorf("save circuit %s: %w", id, err)
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode circuit %s: %w", id, err)
	}
	rename := name != ""
	if !rename {
		name = id
	}
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO circuits (id, name, num_qubits, gate_count, state_json, created_at_unixms, updated_at_unixms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN ? THEN excluded.name ELSE circuits.name END,
			num_qubits = excluded.num_qubits,
			gate_count = excluded.gate_count,
			state_json = excluded.state_json,
			updated_at_unixms = excluded.updated_at_unixms`,
		id, name, state.NumQubits, len(state.PlacedGates), string(raw), now, now, rename)
	if err != nil {
		return fmt.Errorf("save circuit %s: %w", id, err)
	}
	return nil
}

// LoadCircuit returns the snapshot stored under id.
func (s *Store) LoadCircuit(ctx context.Context, id string) (circuit.State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM circuits WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return circuit.State{}, fmt.Errorf("circuit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return circuit.State{}, fmt.Errorf("load circuit %s: %w", id, err)
	}
	var state circuit.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return circuit.State{}, fmt.Errorf("decode circuit %s: %w", id, err)
	}
	return state, nil
}

// ListCircuits returns every saved circuit, most recently updated first.
func (s *Store) ListCircuits(ctx context.Context) ([]CircuitInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, num_qubits, gate_count, updated_at_unixms
		FROM circuits
		ORDER BY updated_at_unixms DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list circuits: %w", err)
	}
	defer rows.Close()

	var out []CircuitInfo
	for rows.Next() {
		var (
			info    CircuitInfo
			updated int64
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.NumQubits, &info.Gates, &updated); err != nil {
			return nil, fmt.Errorf("list circuits: %w", err)
		}
		info.UpdatedAt = time.UnixMilli(updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteCircuit removes a saved circuit.
func (s *Store) DeleteCircuit(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "circuits", id)
}

// SaveTemplate adds t to the template library, replacing a template with
// the same id.
func (s *Store) SaveTemplate(ctx context.Context, t circuit.Template) error {
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Symbol) == "" {
		return errors.New("save template: id and symbol are required")
	}
	gates := t.Gates
	if gates == nil {
		gates = circuit.Items{}
	}
	raw, err := json.Marshal(gates)
	if err != nil {
		return fmt.Errorf("encode template %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, symbol, color, gates_json, created_at_unixms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			color = excluded.color,
			gates_json = excluded.gates_json`,
		t.ID, t.Symbol, t.Color, string(raw), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save template %s: %w", t.ID, err)
	}
	return nil
}

// Templates returns the library in creation order.
func (s *Store) Templates(ctx context.Context) ([]circuit.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, color, gates_json FROM templates
		ORDER BY created_at_unixms ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []circuit.Template
	for rows.Next() {
		var (
			t   circuit.Template
			raw string
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Color, &raw); err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &t.Gates); err != nil {
			return nil, fmt.Errorf("decode template %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTemplate removes a template from the library.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "templates", id)
}

func (s *Store) deleteRow(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}
