// rpcprobe measures end-to-end transaction latency of a JSON-RPC provider.
// It submits zero-value self-transfers, waits for each receipt, and prints
// per-iteration timings plus min/max/mean over the run.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/rpcprobe/internal/config"
	"github.com/gateway-fm/rpcprobe/internal/metrics"
	"github.com/gateway-fm/rpcprobe/internal/probe"
	"github.com/gateway-fm/rpcprobe/internal/report"
	"github.com/gateway-fm/rpcprobe/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		slog.Error("invalid configuration", "error", err)
		return 2
	}

	// The report goes to stdout, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []probe.Option
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		prom := metrics.NewPrometheusMetrics(reg)
		opts = append(opts, probe.WithPrometheus(prom))
		go metrics.Serve(ctx, cfg.MetricsAddr, reg, logger)
	}

	p, pf, cleanup, err := probe.Setup(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Error("probe setup failed", "error", err, "kind", probe.Kind(err))
		return 1
	}
	defer cleanup()

	logger.Info("provider reachable",
		"endpoint", cfg.RPCURL,
		"chainID", pf.ChainID,
		"head", pf.Head,
		"address", pf.Address,
		"balance", pf.Balance,
	)
	if pf.Balance.Sign() == 0 {
		logger.Warn("sender balance is zero, submissions will likely be rejected", "address", pf.Address)
	}

	run, runErr := p.Run(ctx)
	if run == nil {
		logger.Error("probe run failed", "error", runErr, "kind", probe.Kind(runErr))
		return 1
	}

	if err := report.New(os.Stdout).Write(run); err != nil {
		logger.Error("failed to write report", "error", err)
	}

	if cfg.ReportDir != "" {
		path, err := report.WriteMarkdown(run, cfg.ReportDir, cfg.ReportName)
		if err != nil {
			logger.Error("failed to write markdown report", "error", err)
		} else {
			logger.Info("markdown report written", "path", path)
		}
	}

	if cfg.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			logger.Error("failed to open history database", "error", err, "path", cfg.DatabasePath)
		} else {
			defer store.Close()
			if err := store.SaveRun(ctx, run); err != nil {
				logger.Error("failed to persist run", "error", err, "runID", run.ID)
			} else {
				logger.Info("run persisted", "runID", run.ID, "path", cfg.DatabasePath)
			}
		}
	}

	// A completed run exits zero even when iterations failed; only an
	// aborted run (signing failure, cancellation) is an error exit.
	if runErr != nil {
		logger.Error("probe run aborted", "error", runErr, "kind", probe.Kind(runErr))
		return 1
	}
	return 0
}
