package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"notegraph/internal/config"
	"notegraph/internal/control"
	"notegraph/internal/store"
	"notegraph/internal/system"
	"notegraph/internal/tactile"
	"notegraph/internal/types"
)

var (
	minScore      float64
	minConfidence float64
	applyPending  bool
)

// connectionsCmd lists (and optionally applies) stored connections
var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List pending connections from the result store",
	Long: `Lists connections that have not been applied yet, strongest first.
With --apply, every listed connection that passes the auto-apply policy is
written into its source document. A running service applies them itself so
its hourly cap stays authoritative; otherwise they are applied locally under
a cap seeded from the links already applied this hour.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Vault.Path == "" && cfg.Vault.DatabasePath == "" {
			return errors.New("no database: set vault.path or vault.database_path")
		}
		if _, err := os.Stat(cfg.DatabasePath()); err != nil {
			return fmt.Errorf("no result store at %s: %w", cfg.DatabasePath(), err)
		}

		st, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer st.Close()

		pending, err := st.ListPendingConnections(minScore, minConfidence)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printConnections(out, pending)

		if !applyPending || len(pending) == 0 {
			return nil
		}
		rep, err := applyConnections(cmd, cfg, st, pending)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\napplied %d of %d (%d skipped by policy)\n", rep.Applied, rep.Considered, rep.Skipped)
		return nil
	},
}

func init() {
	connectionsCmd.Flags().Float64Var(&minScore, "min-score", control.DefaultMinScore, "Minimum strength (0-10)")
	connectionsCmd.Flags().Float64Var(&minConfidence, "min-confidence", control.DefaultMinConfidence, "Minimum confidence (0-1)")
	connectionsCmd.Flags().BoolVar(&applyPending, "apply", false, "Apply connections allowed by the auto-apply policy")
}

func applyConnections(cmd *cobra.Command, cfg *config.Config, st *store.ResultStore, pending []*types.Connection) (system.ApplyReport, error) {
	ctx := cmd.Context()

	client := control.NewClient(cfg.Control.ListenAddr)
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := client.Health(healthCtx)
	cancel()
	if err == nil {
		logger.Debug("applying through running service", zap.String("addr", cfg.Control.ListenAddr))
		rep, err := client.Apply(ctx, minScore, minConfidence)
		if err != nil {
			return system.ApplyReport{}, err
		}
		return *rep, nil
	}

	applier := tactile.NewLinkApplier(tactile.PolicyFromConfig(cfg), st)
	if err := applier.SeedHour(st); err != nil {
		return system.ApplyReport{}, err
	}

	var rep system.ApplyReport
	for _, conn := range pending {
		if ctx.Err() != nil {
			break
		}
		rep.Considered++
		if applier.ShouldAutoApply(conn) && applier.Apply(ctx, conn) {
			rep.Applied++
			logger.Debug("applied connection", zap.Int64("id", conn.ID), zap.String("source", conn.Source), zap.String("target", conn.Target))
			continue
		}
		rep.Skipped++
	}
	return rep, nil
}

func printConnections(w io.Writer, conns []*types.Connection) {
	if len(conns) == 0 {
		fmt.Fprintln(w, "no pending connections")
		return
	}
	fmt.Fprintf(w, "%-6s %-5s %-5s %-10s %s\n", "ID", "SCORE", "CONF", "TYPE", "CONNECTION")
	for _, c := range conns {
		fmt.Fprintf(w, "%-6d %-5.1f %-5.2f %-10s %s -> %s\n",
			c.ID, c.Strength, c.Confidence, c.Type, types.DisplayName(c.Source), types.DisplayName(c.Target))
		if c.Reason != "" {
			fmt.Fprintf(w, "%31s%s\n", "", c.Reason)
		}
	}
}
