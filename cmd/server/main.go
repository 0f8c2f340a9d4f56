package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"upgradereg/internal/api"
	"upgradereg/internal/config"
	"upgradereg/internal/engine"
	"upgradereg/internal/keyring"
	"upgradereg/internal/ledger"
	"upgradereg/internal/logging"
	"upgradereg/internal/metrics"
	"upgradereg/internal/ratelimiter"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "registryd",
		Short:         "Run a single-node development ledger with the upgradable contract registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromPath(configPath)
			if err != nil {
				return err
			}
			log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format, "registryd")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a registry.yaml config file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "registryd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	kr, err := keyring.Derive(cfg.Ledger.Mnemonic, cfg.Ledger.Accounts)
	if err != nil {
		return fmt.Errorf("derive dev accounts: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := ledger.Options{
		Recorder:     metrics.NewLedger(reg),
		Logger:       log.With("component", "ledger"),
		MaxCallDepth: cfg.Ledger.MaxCallDepth,
	}

	var journal *engine.CommitLogManager
	if path := cfg.JournalPath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		// The journal outlives ctx so that shutdown can flush after the
		// HTTP server has drained.
		j, stopJournal, err := engine.NewCommitLogManager(context.WithoutCancel(ctx), engine.CommitLogCfg{
			Path:           path,
			EnqueueTimeout: cfg.Journal.EnqueueTimeout,
			FlushInterval:  cfg.Journal.FlushInterval,
			BufferBytes:    cfg.Journal.BufferBytes,
			SyncOnAppend:   cfg.Journal.SyncOnAppend,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			stopJournal()
			<-j.Done()
		}()
		journal = j
		opts.Journal = j
	} else {
		log.Warn("journal disabled, ledger state lives in memory only")
	}

	l := ledger.New(ledger.Genesis{Accounts: kr.Addresses(), Balance: cfg.Ledger.GenesisBalance}, opts)
	if journal != nil {
		if _, err := l.Replay(ctx, journal.Load()); err != nil {
			return fmt.Errorf("replay journal: %w", err)
		}
	}
	for i, a := range l.Accounts() {
		log.Info("dev account", "index", i, "address", a.String(), "balance", l.Balance(a))
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewServer(api.Options{
			Backend: l,
			Limiter: ratelimiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL),
			Metrics: metrics.Handler(reg),
			Logger:  log.With("component", "api"),
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
