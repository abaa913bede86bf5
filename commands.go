package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"qcompose/internal/qasm"
	"qcompose/internal/relay"
)

func newRelayCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the collaboration relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Relay.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := relay.NewHub(stderrLogger(a.cfg.SlogLevel()))
			return hub.Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config relay.addr)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var stats bool
	cmd := &cobra.Command{
		Use:   "export [circuit-id]",
		Short: "Print a stored circuit as OpenQASM 2.0",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := a.circuitID
			if len(args) == 1 {
				id = args[0]
			}
			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			state, err := db.LoadCircuit(cmd.Context(), id)
			if err != nil {
				return err
			}
			if stats {
				s := qasm.Metadata(state.NumQubits, state.PlacedGates, state.Measurements)
				fmt.Fprintf(cmd.ErrOrStderr(), "lines=%d gates=%d depth=%d\n", s.Lines, s.Gates, s.Depth)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), qasm.Serialize(state.NumQubits, state.PlacedGates, state.Measurements))
			return err
		},
	}
	cmd.Flags().BoolVar(&stats, "stats", false, "Also print line, gate and depth counts to stderr")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.qasm>",
		Short: "Parse an OpenQASM 2.0 file into the circuit store",
		Long:  "Parse an OpenQASM 2.0 file and store it under --circuit. Unsupported lines are reported and skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := qasm.Parse(string(raw))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}

			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			if err := db.SaveCircuit(cmd.Context(), a.circuitID, name, res.State); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d items on %d qubits into %s\n",
				len(res.State.PlacedGates), res.State.NumQubits, a.circuitID)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored circuits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := db.ListCircuits(cmd.Context())
			if err != nil {
				return err
			}
			tbl := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ID", "NAME", "QUBITS", "ITEMS", "UPDATED").
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return titleStyle.Padding(0, 1)
					}
					return lipgloss.NewStyle().Padding(0, 1)
				})
			for _, c := range list {
				tbl.Row(c.ID, c.Name, strconv.Itoa(c.NumQubits), strconv.Itoa(c.Gates), c.UpdatedAt.Format("2006-01-02 15:04"))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tbl.Render())
			return err
		},
	}
}
