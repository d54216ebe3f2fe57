package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// WriteMarkdown renders the run as a Markdown report under dir, named after
// testName and the run's start time, and returns the path written. Callers
// opt in explicitly; the default output remains stdout only.
func WriteMarkdown(run *types.ProbeRun, dir, testName string) (string, error) {
	timestamp := run.StartedAt.UTC().Format("2006-01-02-150405")
	filename := fmt.Sprintf("rpc-probe-%s.md", timestamp)
	if testName != "" {
		filename = fmt.Sprintf("%s-%s.md", testName, timestamp)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(dir, filename)

	var b strings.Builder

	title := testName
	if title == "" {
		title = "Default"
	}
	fmt.Fprintf(&b, "# RPC Latency Probe Results: %s\n\n", title)

	fmt.Fprintf(&b, "## Run Information\n\n")
	fmt.Fprintf(&b, "- **Date and Time**: %s\n", run.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "- **Endpoint**: %s\n", run.Endpoint)
	fmt.Fprintf(&b, "- **Chain ID**: %d\n", run.ChainID)
	fmt.Fprintf(&b, "- **Address**: %s\n", run.Address)
	fmt.Fprintf(&b, "- **Iterations**: %d (succeeded %d, failed %d)\n",
		run.Iterations, run.Succeeded, run.Failed)
	fmt.Fprintf(&b, "- **Total Duration**: %d ms\n\n",
		run.CompletedAt.Sub(run.StartedAt).Milliseconds())

	summary, totalBlocks := Aggregate(run)
	if summary != nil {
		fmt.Fprintf(&b, "## Summary Statistics\n\n")
		fmt.Fprintf(&b, "| Metric | Min | Max | Mean |\n")
		fmt.Fprintf(&b, "|--------|-----|-----|------|\n")
		fmt.Fprintf(&b, "| Confirmation time (ms) | %d | %d | %d |\n\n",
			summary.Min.Milliseconds(), summary.Max.Milliseconds(), summary.Mean.Milliseconds())
		fmt.Fprintf(&b, "Total block span: %d, average %.2f per iteration.\n\n",
			totalBlocks, float64(totalBlocks)/float64(summary.Count))
	}

	fmt.Fprintf(&b, "## Individual Iteration Results\n\n")
	fmt.Fprintf(&b, "| # | Elapsed (ms) | Blocks | Nonce | Result |\n")
	fmt.Fprintf(&b, "|---|--------------|--------|-------|--------|\n")
	for _, res := range run.Results {
		if res.Succeeded() {
			fmt.Fprintf(&b, "| %d | %d | %d | %d | `%s` |\n",
				res.Index, res.Elapsed.Milliseconds(), res.BlockDelta, res.Nonce, res.TxHash)
		} else {
			fmt.Fprintf(&b, "| %d | - | - | %d | %s: %s |\n",
				res.Index, res.Nonce, res.ErrorKind, res.ErrorMessage)
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
