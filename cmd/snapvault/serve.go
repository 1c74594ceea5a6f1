package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"snapvault/internal/archive"
	"snapvault/internal/ledger"
	"snapvault/internal/privexec"
	"snapvault/internal/scanner"
	"snapvault/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scanner and serve the control protocol",
	Long: `Opens the scan ledger, records an initial snapshot if the ledger is empty,
and serves the control protocol on /scan and Prometheus metrics on /metrics
until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	privilege, err := privexec.ParsePrivilege(cfg.Privilege)
	if err != nil {
		return err
	}
	exec := privexec.NewShellExecutor(privilege, cfg.Process.StopCommand, cfg.Process.StartCommand,
		logger.With("component", "privexec"))

	ledgerCfg := ledger.DefaultConfig(cfg.LedgerDir())
	ledgerCfg.SyncWrites = cfg.Ledger.SyncWrites
	ledgerCfg.Logger = logger.With("component", "badger")
	store, err := ledger.Open(ledgerCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	archives, err := archive.NewManager(exec, cfg.ArchivesDir(), logger.With("component", "archive"))
	if err != nil {
		return err
	}

	coordinator, err := scanner.New(ctx, scanner.Options{
		Target:   cfg.Target,
		ScansDir: cfg.ScansDir(),
		TempDir:  cfg.TempDir(),
		Process:  cfg.Process.Name,
		Mode:     cfg.Permissions.Mode,
		Owner:    cfg.Permissions.Owner,
		Exclude:  cfg.Exclude,
		Logger:   logger.With("component", "scanner"),
	}, exec, archives, store)
	if err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}
	defer coordinator.Close()

	sessions := session.NewServer(session.NewHandler(coordinator, logger.With("component", "session")), session.Options{
		TelemetryInterval: cfg.TelemetryInterval,
		PingPeriod:        cfg.PingPeriod,
		Logger:            logger.With("component", "session"),
	})

	mux := http.NewServeMux()
	mux.Handle("/scan", sessions)
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving control protocol", "addr", cfg.Listen, "target", cfg.Target)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		sessions.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
