// Package types defines the shared data model for probe runs and results.
package types

import (
	"time"
)

// IterationState is the state an iteration ended in.
type IterationState string

const (
	StateBuilding  IterationState = "building"
	StateSubmitted IterationState = "submitted"
	StatePolling   IterationState = "polling"
	StateReceived  IterationState = "received"
	StateFailed    IterationState = "failed"
)

// ErrorKind classifies probe failures.
type ErrorKind string

const (
	// ErrKindConfig means the configuration was missing or invalid.
	// Fatal: aborts before any network activity.
	ErrKindConfig ErrorKind = "config"

	// ErrKindConnection is a transport-level failure reaching the provider.
	ErrKindConnection ErrorKind = "connection"

	// ErrKindProvider means the provider answered with a malformed response.
	ErrKindProvider ErrorKind = "provider"

	// ErrKindSubmission means the provider rejected the transaction
	// (bad nonce, insufficient funds, underpriced gas).
	ErrKindSubmission ErrorKind = "submission"

	// ErrKindSigning means the key material could not sign. Fatal for the run.
	ErrKindSigning ErrorKind = "signing"

	// ErrKindTimeout means no receipt appeared within the poll window.
	ErrKindTimeout ErrorKind = "timeout"
)

// IterationResult records one probe cycle.
// JSON tags use camelCase to match the rest of the API surface.
type IterationResult struct {
	Index  int            `json:"index"`
	State  IterationState `json:"state"`
	TxHash string         `json:"txHash,omitempty"`
	Nonce  uint64         `json:"nonce"`

	SubmittedAt time.Time     `json:"submittedAt"`
	ReceiptAt   time.Time     `json:"receiptAt,omitempty"`
	Elapsed     time.Duration `json:"elapsedNs"`

	BlockAtSubmission uint64 `json:"blockAtSubmission"`
	BlockAtReceipt    uint64 `json:"blockAtReceipt,omitempty"`
	// ReceiptBlock is the block the provider reported the transaction
	// included in. May trail BlockAtReceipt when more blocks were mined
	// before the receipt was observed.
	ReceiptBlock uint64 `json:"receiptBlock,omitempty"`
	BlockDelta   int64  `json:"blockDelta"`

	// ReorgSuspected is set when the receipt's block number is below the
	// block height observed at submission. Reported as a data-quality
	// warning, never as a negative delta.
	ReorgSuspected bool `json:"reorgSuspected,omitempty"`

	ErrorKind    ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// Succeeded reports whether the iteration reached a receipt.
func (r *IterationResult) Succeeded() bool {
	return r.State == StateReceived
}

// ProbeRun is the top-level record for one execution of the probe.
// Created at start, populated iteration by iteration, consumed once by the
// reporter, and discarded unless history persistence is enabled.
type ProbeRun struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`
	Address     string    `json:"address"`
	ChainID     int64     `json:"chainId"`
	Iterations  int       `json:"iterations"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`

	Results []IterationResult `json:"results"`

	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Append records an iteration result and updates the counters.
func (p *ProbeRun) Append(r IterationResult) {
	p.Results = append(p.Results, r)
	if r.Succeeded() {
		p.Succeeded++
	} else {
		p.Failed++
	}
}

// Successful returns the results that reached a receipt, in order.
func (p *ProbeRun) Successful() []IterationResult {
	out := make([]IterationResult, 0, len(p.Results))
	for _, r := range p.Results {
		if r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}

// FailureKinds returns failure counts grouped by error kind.
func (p *ProbeRun) FailureKinds() map[ErrorKind]int {
	kinds := make(map[ErrorKind]int)
	for _, r := range p.Results {
		if !r.Succeeded() {
			kinds[r.ErrorKind]++
		}
	}
	return kinds
}

// LatencySummary holds min/max/mean over a set of elapsed durations.
type LatencySummary struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"minNs"`
	Max   time.Duration `json:"maxNs"`
	Mean  time.Duration `json:"meanNs"`
}
