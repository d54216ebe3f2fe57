// Package storage provides opt-in persistence of probe run history.
// When no database path is configured the probe keeps nothing: results live
// only for the duration of one run.
package storage

import (
	"context"

	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// Storage defines the persistence interface for probe run history.
type Storage interface {
	// SaveRun persists a completed run and all of its iteration results.
	SaveRun(ctx context.Context, run *types.ProbeRun) error

	// GetRun loads a run with its iteration results.
	GetRun(ctx context.Context, id string) (*types.ProbeRun, error)

	// ListRuns returns run summaries, most recent first.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// DeleteRun removes a run and its iteration rows.
	DeleteRun(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}

// RunSummary is the row shape returned by ListRuns.
type RunSummary struct {
	ID        string  `json:"id"`
	StartedAt string  `json:"startedAt"`
	Endpoint  string  `json:"endpoint"`
	ChainID   int64   `json:"chainId"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	MinMs     float64 `json:"minMs"`
	MaxMs     float64 `json:"maxMs"`
	MeanMs    float64 `json:"meanMs"`
}
