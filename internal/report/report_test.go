package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gateway-fm/rpcprobe/pkg/types"
)

func sampleRun() *types.ProbeRun {
	started := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	run := &types.ProbeRun{
		ID:         "run-20260829-120000",
		Endpoint:   "https://rpc.example.com",
		Address:    "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		ChainID:    1337,
		Iterations: 3,
		StartedAt:  started,
	}
	run.Append(types.IterationResult{
		Index:       0,
		State:       types.StateReceived,
		TxHash:      "0xaaa",
		Nonce:       10,
		SubmittedAt: started,
		ReceiptAt:   started.Add(200 * time.Millisecond),
		Elapsed:     200 * time.Millisecond,
		BlockDelta:  1,
	})
	run.Append(types.IterationResult{
		Index:       1,
		State:       types.StateReceived,
		TxHash:      "0xbbb",
		Nonce:       11,
		SubmittedAt: started.Add(time.Second),
		ReceiptAt:   started.Add(time.Second + 400*time.Millisecond),
		Elapsed:     400 * time.Millisecond,
		BlockDelta:  1,
	})
	run.Append(types.IterationResult{
		Index:        2,
		State:        types.StateFailed,
		Nonce:        12,
		ErrorKind:    types.ErrKindTimeout,
		ErrorMessage: "no receipt within 60s",
	})
	run.CompletedAt = started.Add(3 * time.Second)
	return run
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf).Write(sampleRun()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Probe run run-20260829-120000",
		"Endpoint:   https://rpc.example.com",
		"Chain ID:   1337",
		"0xaaa",
		"0xbbb",
		"timeout: no receipt within 60s",
		"Succeeded: 2   Failed: 1",
		"Failures by kind: timeout=1",
		"min 200ms",
		"max 400ms",
		"mean 300ms",
		"total span 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestWriteNoSuccesses(t *testing.T) {
	run := &types.ProbeRun{ID: "run-x", Iterations: 1, StartedAt: time.Now()}
	run.Append(types.IterationResult{
		Index:        0,
		State:        types.StateFailed,
		ErrorKind:    types.ErrKindConnection,
		ErrorMessage: "connection refused",
	})

	var buf bytes.Buffer
	if err := New(&buf).Write(run); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No successful iterations to aggregate.") {
		t.Errorf("missing empty-summary line:\n%s", buf.String())
	}
}

func TestWriteReorgNote(t *testing.T) {
	run := sampleRun()
	run.Results[0].ReorgSuspected = true

	var buf bytes.Buffer
	if err := New(&buf).Write(run); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), "possible reorg") {
		t.Errorf("missing reorg warning:\n%s", buf.String())
	}
}

func TestAggregateReproducible(t *testing.T) {
	run := sampleRun()

	first, firstBlocks := Aggregate(run)
	second, secondBlocks := Aggregate(run)

	if first == nil || second == nil {
		t.Fatal("expected summaries")
	}
	if *first != *second || firstBlocks != secondBlocks {
		t.Errorf("aggregation not reproducible: %+v/%d vs %+v/%d",
			first, firstBlocks, second, secondBlocks)
	}
	if first.Count != 2 {
		t.Errorf("Count = %d, want 2", first.Count)
	}
	if first.Min != 200*time.Millisecond || first.Max != 400*time.Millisecond {
		t.Errorf("min/max = %v/%v, want 200ms/400ms", first.Min, first.Max)
	}
	if first.Mean != 300*time.Millisecond {
		t.Errorf("Mean = %v, want 300ms", first.Mean)
	}
}

func TestWriteMarkdown(t *testing.T) {
	dir := t.TempDir()
	run := sampleRun()

	path, err := WriteMarkdown(run, dir, "")
	if err != nil {
		t.Fatalf("WriteMarkdown() error = %v", err)
	}
	if filepath.Base(path) != "rpc-probe-2026-08-29-120000.md" {
		t.Errorf("unexpected filename %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"# RPC Latency Probe Results: Default",
		"## Run Information",
		"## Summary Statistics",
		"| Confirmation time (ms) | 200 | 400 | 300 |",
		"## Individual Iteration Results",
		"`0xaaa`",
		"timeout: no receipt within 60s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestWriteMarkdownNamed(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteMarkdown(sampleRun(), dir, "mainnet-check")
	if err != nil {
		t.Fatalf("WriteMarkdown() error = %v", err)
	}
	if filepath.Base(path) != "mainnet-check-2026-08-29-120000.md" {
		t.Errorf("unexpected filename %s", filepath.Base(path))
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "# RPC Latency Probe Results: mainnet-check") {
		t.Error("title should carry the report name")
	}
}
