package mcp

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/gateway-fm/rpcprobe/internal/report"
	"github.com/gateway-fm/rpcprobe/internal/storage"
	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// formatRun renders the same text report the CLI prints.
func formatRun(run *types.ProbeRun) string {
	var buf bytes.Buffer
	if err := report.New(&buf).Write(run); err != nil {
		return fmt.Sprintf("Error formatting run: %v", err)
	}
	return buf.String()
}

func formatHistory(runs []storage.RunSummary) string {
	if len(runs) == 0 {
		return "No stored probe runs."
	}

	var b strings.Builder
	b.WriteString("## Probe Run History\n\n")
	for _, r := range runs {
		started := r.StartedAt
		if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			started = t.Format("2006-01-02 15:04:05")
		}
		b.WriteString("### " + r.ID + "\n")
		b.WriteString(kv("Started", started) + "\n")
		b.WriteString(kv("Endpoint", r.Endpoint) + "\n")
		b.WriteString(kv("Chain ID", r.ChainID) + "\n")
		b.WriteString(kv("Succeeded", r.Succeeded) + "\n")
		b.WriteString(kv("Failed", r.Failed) + "\n")
		if r.Succeeded > 0 {
			b.WriteString(kv("Latency", fmt.Sprintf("min %.1fms / mean %.1fms / max %.1fms",
				r.MinMs, r.MeanMs, r.MaxMs)) + "\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// kv formats a key-value pair with aligned values.
func kv(key string, value any) string {
	return fmt.Sprintf("%-12s %v", key+":", value)
}
