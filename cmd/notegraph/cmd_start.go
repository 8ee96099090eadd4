package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"notegraph/internal/control"
	"notegraph/internal/system"
)

var statusEvery time.Duration

// startCmd runs the service in the foreground
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the analyzer service in the foreground",
	Long: `Starts the scanner, the analysis workers and the discovery loop, plus the
control API. Runs until interrupted (Ctrl+C or SIGTERM).`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().DurationVar(&statusEvery, "status-every", time.Hour, "Interval between status log lines (0 disables)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	svc, err := system.Boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to boot service: %w", err)
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	var server *control.Server
	if cfg.Control.Enabled {
		server = control.NewServer(svc, svc.Metrics().Registry())
		bound, err := server.Start(cfg.Control.ListenAddr)
		if err != nil {
			_ = svc.Stop()
			return fmt.Errorf("failed to start control API: %w", err)
		}
		logger.Info("control API listening", zap.String("addr", bound))
	}

	logger.Info("service started",
		zap.String("instance", svc.InstanceID()),
		zap.String("vault", cfg.Vault.Path),
		zap.String("database", cfg.DatabasePath()),
		zap.String("provider", cfg.Analyzer.Provider),
		zap.String("model", cfg.Analyzer.Model))
	fmt.Printf("notegraph running on %s (Ctrl+C to stop)\n", cfg.Vault.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var tick <-chan time.Time
	if statusEvery > 0 {
		ticker := time.NewTicker(statusEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

wait:
	for {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			break wait
		case <-ctx.Done():
			break wait
		case <-tick:
			logStatus(svc.Status())
		}
	}

	if server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.GetStopTimeout())
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("control API shutdown", zap.Error(err))
		}
		cancelShutdown()
	}
	if err := svc.Stop(); err != nil {
		return err
	}
	logStatus(svc.Status())
	fmt.Println("notegraph stopped")
	return nil
}

func logStatus(st system.Status) {
	logger.Info("status",
		zap.Int("queue", st.Processing.QueueSize),
		zap.Int64("processed", st.Processing.FilesProcessed),
		zap.Int64("connections_found", st.Processing.ConnectionsFound),
		zap.Int64("connections_applied", st.Processing.ConnectionsApplied),
		zap.Int64("errors", st.Processing.Errors),
		zap.Float64("files_per_hour", st.Rates.FilesPerHour),
		zap.Float64("uptime_hours", st.Service.UptimeHours))
}
