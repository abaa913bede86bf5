package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"qcompose/internal/circuit"
	"qcompose/internal/collab"
	"qcompose/internal/config"
	"qcompose/internal/history"
	"qcompose/internal/relay"
	"qcompose/internal/store"
)

type app struct {
	configPath string
	circuitID  string
	cfg        config.Config
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "qcompose",
		Short:        "Collaborative quantum circuit composer",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Edit the scratch circuit
  qcompose

  # Edit a named circuit together with everyone in room "lab"
  QCOMPOSE_COLLAB_URL=ws://localhost:8080/ws QCOMPOSE_COLLAB_ROOM=lab qcompose --circuit bell

  # Run the relay
  qcompose relay --addr :8080

  # Round-trip through OpenQASM
  qcompose import bell.qasm --circuit bell
  qcompose export bell
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand => editor.
			return a.runEditor(cmd.Context())
		},
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
		return nil
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("QCOMPOSE_CONFIG"), "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&a.circuitID, "circuit", "scratch", "Id of the stored circuit to open")

	cmd.AddCommand(newRelayCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newListCmd(a))

	return cmd
}

// openLog points a text logger at path. The editor owns the terminal, so it
// never logs to stderr.
func openLog(path string, level slog.Level) (*slog.Logger, func() error, error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), f.Close, nil
}

func stderrLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	db, err := store.Open(ctx, a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", a.cfg.DBPath, err)
	}
	return db, nil
}

func (a *app) runEditor(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger, closeLog, err := openLog(a.cfg.LogFile, a.cfg.SlogLevel())
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	initial, err := db.LoadCircuit(ctx, a.circuitID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		initial = circuit.NewState(a.cfg.Qubits)
	case err != nil:
		return err
	}
	templates, err := db.Templates(ctx)
	if err != nil {
		return err
	}

	hist := history.New(initial,
		history.WithLimit[circuit.State](a.cfg.HistoryLimit),
		history.WithEqual(circuit.Equal))

	var (
		client  *relay.Client
		session *collab.Session
		dialErr error
	)
	if a.cfg.Collab.URL != "" {
		room := a.cfg.Collab.Room
		if room == "" {
			room = a.circuitID
		}
		client, dialErr = relay.Dial(ctx, a.cfg.Collab.URL, room, logger)
		if dialErr != nil {
			logger.Warn("collab disabled", "error", dialErr)
		} else {
			defer client.Close()
			session = collab.NewSession(hist, client, collab.Options{
				Room:        room,
				Debounce:    a.cfg.Collab.Debounce,
				SuppressFor: a.cfg.Collab.SuppressFor,
				Logger:      logger,
			})
			session.Start(ctx)
			defer session.Close()
		}
	}

	m := newModel(modelOptions{
		history:       hist,
		session:       session,
		db:            db,
		templates:     templates,
		circuitID:     a.circuitID,
		autosaveDelay: a.cfg.AutosaveDelay,
		logger:        logger,
	})
	if dialErr != nil {
		m.peerStatus = "offline"
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if client != nil {
		go func() {
			err := client.Run(ctx, func(msg collab.Message) {
				p.Send(remoteMsg{msg: msg})
			})
			p.Send(connStatusMsg{err: err})
		}()
	}

	logger.Info("editor started", "circuit", a.circuitID, "collab", client != nil)
	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		runErr = nil
	}

	if err := db.SaveCircuit(context.Background(), a.circuitID, "", hist.Present()); err != nil {
		logger.Error("save on exit", "circuit", a.circuitID, "error", err)
		return errors.Join(runErr, err)
	}
	return runErr
}
