// RPC probe MCP server.
// Exposes probe tools over MCP stdio transport.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/rpcprobe/internal/config"
	mcptools "github.com/gateway-fm/rpcprobe/internal/mcp"
	"github.com/gateway-fm/rpcprobe/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Stdout carries the MCP transport, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	var store storage.Storage
	if cfg.DatabasePath != "" {
		s, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open history database: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()
		store = s
	}

	s := server.NewMCPServer(
		"rpcprobe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	mcptools.RegisterTools(s, mcptools.NewRunner(cfg, store, logger))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
