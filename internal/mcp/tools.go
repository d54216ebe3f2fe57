// Package mcp exposes the probe over the Model Context Protocol so agents can
// measure an RPC provider and browse stored run history.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/rpcprobe/internal/config"
	"github.com/gateway-fm/rpcprobe/internal/probe"
	"github.com/gateway-fm/rpcprobe/internal/storage"
)

// Runner executes probes in-process for the MCP tools.
type Runner struct {
	base   *config.Config
	store  storage.Storage // nil when history is disabled
	logger *slog.Logger
}

// NewRunner creates a Runner. store may be nil.
func NewRunner(base *config.Config, store storage.Storage, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{base: base, store: store, logger: logger}
}

// RegisterTools registers all probe tools on the MCP server.
func RegisterTools(s *server.MCPServer, r *Runner) {
	registerRun(s, r)
	registerHistory(s, r)
	registerRunDetail(s, r)
	registerDeleteRun(s, r)
}

func registerRun(s *server.MCPServer, r *Runner) {
	tool := gomcp.NewTool("probe_run",
		gomcp.WithDescription("Run a latency probe against the configured JSON-RPC provider: sends zero-value self-transfers and reports submit-to-receipt latency per iteration plus min/max/mean."),
		gomcp.WithNumber("iterations",
			gomcp.Description("Number of probe transactions to send (default 10)"),
		),
		gomcp.WithNumber("timeout_sec",
			gomcp.Description("Per-iteration receipt timeout in seconds (default 60)"),
		),
		gomcp.WithNumber("delay_sec",
			gomcp.Description("Pause between iterations in seconds (default 0)"),
		),
		gomcp.WithBoolean("stop_on_failure",
			gomcp.Description("Abort the run after the first failed iteration"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		cfg := *r.base
		if v := req.GetInt("iterations", 0); v > 0 {
			cfg.Iterations = v
		}
		if v := req.GetInt("timeout_sec", 0); v > 0 {
			cfg.Timeout = time.Duration(v) * time.Second
		}
		if v := req.GetInt("delay_sec", 0); v > 0 {
			cfg.Delay = time.Duration(v) * time.Second
		}
		cfg.StopOnFailure = req.GetBool("stop_on_failure", cfg.StopOnFailure)
		if err := cfg.Validate(); err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}

		p, _, cleanup, err := probe.Setup(ctx, &cfg, r.logger)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Probe setup failed: %v", err)), nil
		}
		defer cleanup()

		run, runErr := p.Run(ctx)
		if run == nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Probe run failed: %v", runErr)), nil
		}

		if r.store != nil {
			if err := r.store.SaveRun(ctx, run); err != nil {
				r.logger.Warn("failed to persist run", "runID", run.ID, "error", err)
			}
		}

		text := formatRun(run)
		if runErr != nil {
			text += fmt.Sprintf("\n\nRun aborted early: %v", runErr)
		}
		return gomcp.NewToolResultText(text), nil
	})
}

func registerHistory(s *server.MCPServer, r *Runner) {
	tool := gomcp.NewTool("probe_history",
		gomcp.WithDescription("List stored probe runs, most recent first. Requires history persistence to be enabled."),
		gomcp.WithNumber("limit",
			gomcp.Description("Maximum number of runs to return (default 20)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if r.store == nil {
			return gomcp.NewToolResultError("History is disabled: set DATABASE_PATH to enable it."), nil
		}
		limit := req.GetInt("limit", 20)
		runs, err := r.store.ListRuns(ctx, limit)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(runs)), nil
	})
}

func registerRunDetail(s *server.MCPServer, r *Runner) {
	tool := gomcp.NewTool("probe_run_detail",
		gomcp.WithDescription("Get the full per-iteration results of a stored probe run."),
		gomcp.WithString("run_id",
			gomcp.Required(),
			gomcp.Description("Run ID, e.g. run-20260829-153005"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if r.store == nil {
			return gomcp.NewToolResultError("History is disabled: set DATABASE_PATH to enable it."), nil
		}
		id, err := req.RequireString("run_id")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		run, err := r.store.GetRun(ctx, id)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to load run: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRun(run)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, r *Runner) {
	tool := gomcp.NewTool("probe_delete_run",
		gomcp.WithDescription("Delete a stored probe run. This is a MUTATING operation."),
		gomcp.WithString("run_id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if r.store == nil {
			return gomcp.NewToolResultError("History is disabled: set DATABASE_PATH to enable it."), nil
		}
		id, err := req.RequireString("run_id")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		if err := r.store.DeleteRun(ctx, id); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to delete run: %v", err)), nil
		}
		return gomcp.NewToolResultText(fmt.Sprintf("Deleted run %s.", id)), nil
	})
}
