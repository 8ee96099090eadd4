package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"notegraph/internal/control"
	"notegraph/internal/system"
)

var testDuration time.Duration

// forceCmd asks a running service to re-analyze documents
var forceCmd = &cobra.Command{
	Use:   "force [path]",
	Short: "Queue forced analysis on a running service",
	Long: `Queues forced analysis of one document, or of every document in the vault
when no path is given. Forced tasks run before all other work.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			// The service resolves relative paths against the vault, so only
			// paths that exist from here are made absolute.
			path = args[0]
			if abs, err := filepath.Abs(path); err == nil {
				if _, statErr := os.Stat(abs); statErr == nil {
					path = abs
				}
			}
		}

		client := control.NewClient(controlAddr())
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		queued, err := client.Force(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %d document(s) for forced analysis\n", queued)
		return nil
	},
}

// forceAnalysisCmd runs a one-shot local pass
var forceAnalysisCmd = &cobra.Command{
	Use:   "force-analysis",
	Short: "Analyze every document once, then exit",
	Long: `Starts the service locally, forces analysis of every document, waits until
the queue is drained and prints the totals.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(cmd, func(ctx context.Context, svc *system.Service) error {
			return svc.WaitIdle(ctx)
		})
	},
}

// testCmd runs the service for a fixed duration
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the service for a short period and print its status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(cmd, func(ctx context.Context, svc *system.Service) error {
			timer := time.NewTimer(testDuration)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	},
}

func init() {
	testCmd.Flags().DurationVar(&testDuration, "duration", 2*time.Minute, "How long to run")
}

// runLocal boots the service, forces every document, runs wait and prints
// the final status. Interrupts cancel wait and still print totals.
func runLocal(cmd *cobra.Command, wait func(context.Context, *system.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := system.Boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to boot service: %w", err)
	}
	defer svc.Close()

	queued, err := svc.ForceAnalysis(ctx, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d document(s)\n", queued)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	start := time.Now()
	if err := wait(ctx, svc); err != nil && ctx.Err() == nil {
		logger.Warn("run ended early", zap.Error(err))
	}
	if err := svc.Stop(); err != nil {
		return err
	}

	logger.Info("local run finished", zap.Duration("elapsed", time.Since(start)))
	st := svc.Status()
	return printStatus(cmd.OutOrStdout(), &st, "text")
}
