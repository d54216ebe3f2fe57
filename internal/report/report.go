// Package report formats probe results for human consumption.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gateway-fm/rpcprobe/internal/metrics"
	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// Reporter writes per-iteration lines and a summary block for a completed run.
type Reporter struct {
	w io.Writer
}

// New creates a Reporter writing to w.
func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Write renders the whole run: one line per iteration, then the summary.
func (r *Reporter) Write(run *types.ProbeRun) error {
	fmt.Fprintf(r.w, "Probe run %s\n", run.ID)
	fmt.Fprintf(r.w, "Endpoint:   %s\n", run.Endpoint)
	fmt.Fprintf(r.w, "Address:    %s\n", run.Address)
	fmt.Fprintf(r.w, "Chain ID:   %d\n", run.ChainID)
	fmt.Fprintf(r.w, "Iterations: %d\n\n", run.Iterations)

	fmt.Fprintf(r.w, "%-4s %-12s %-7s %-10s %s\n", "#", "ELAPSED", "BLOCKS", "NONCE", "HASH / ERROR")
	for _, res := range run.Results {
		r.writeIteration(&res)
	}

	r.writeSummary(run)
	return nil
}

func (r *Reporter) writeIteration(res *types.IterationResult) {
	if res.Succeeded() {
		note := ""
		if res.ReorgSuspected {
			note = "  [warn: receipt block below submission block, possible reorg]"
		}
		fmt.Fprintf(r.w, "%-4d %-12s %-7d %-10d %s%s\n",
			res.Index,
			formatDuration(res.Elapsed),
			res.BlockDelta,
			res.Nonce,
			res.TxHash,
			note,
		)
		return
	}
	fmt.Fprintf(r.w, "%-4d %-12s %-7s %-10d %s: %s\n",
		res.Index, "-", "-", res.Nonce, res.ErrorKind, res.ErrorMessage)
}

func (r *Reporter) writeSummary(run *types.ProbeRun) {
	fmt.Fprintf(r.w, "\n===== SUMMARY =====\n")
	fmt.Fprintf(r.w, "Succeeded: %d   Failed: %d\n", run.Succeeded, run.Failed)

	if run.Failed > 0 {
		kinds := run.FailureKinds()
		names := make([]string, 0, len(kinds))
		for k := range kinds {
			names = append(names, string(k))
		}
		sort.Strings(names)
		fmt.Fprintf(r.w, "Failures by kind:")
		for _, name := range names {
			fmt.Fprintf(r.w, " %s=%d", name, kinds[types.ErrorKind(name)])
		}
		fmt.Fprintln(r.w)
	}

	summary, totalBlocks := Aggregate(run)
	if summary == nil {
		fmt.Fprintf(r.w, "No successful iterations to aggregate.\n")
		return
	}

	fmt.Fprintf(r.w, "Latency:   min %s   max %s   mean %s\n",
		formatDuration(summary.Min),
		formatDuration(summary.Max),
		formatDuration(summary.Mean),
	)
	fmt.Fprintf(r.w, "Blocks:    total span %d   average %.2f per iteration\n",
		totalBlocks,
		float64(totalBlocks)/float64(summary.Count),
	)
}

// Aggregate recomputes the latency summary and total block span from the
// stored per-iteration timestamps. Recomputing from the stored values always
// reproduces the reported figures.
func Aggregate(run *types.ProbeRun) (*types.LatencySummary, int64) {
	s := metrics.NewSummary()
	var totalBlocks int64
	for _, res := range run.Successful() {
		s.Add(res.ReceiptAt.Sub(res.SubmittedAt))
		totalBlocks += res.BlockDelta
	}
	return s.Stats(), totalBlocks
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
