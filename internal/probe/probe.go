// Package probe implements the latency measurement loop: build, submit,
// poll for the receipt, record timings and block progression.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gateway-fm/rpcprobe/internal/account"
	"github.com/gateway-fm/rpcprobe/internal/metrics"
	"github.com/gateway-fm/rpcprobe/internal/rpc"
	"github.com/gateway-fm/rpcprobe/internal/txbuilder"
	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// Defaults for the poll loop. The timeout bounds every iteration so a
// never-mined transaction cannot stall the run.
const (
	DefaultIterations   = 10
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTimeout      = 60 * time.Second
)

// HeadSource supplies the chain head without an RPC round trip.
// Optional; when absent or stale the probe falls back to eth_blockNumber.
type HeadSource interface {
	Head() (head uint64, ok bool)
}

// Config holds probe parameters. Zero values fall back to the defaults above.
type Config struct {
	Iterations    int
	PollInterval  time.Duration
	Timeout       time.Duration
	Delay         time.Duration // pause between iterations
	StopOnFailure bool

	ChainID   *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int

	// Endpoint is recorded on the run for reporting; it does not affect
	// where requests go.
	Endpoint string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Iterations <= 0 {
		out.Iterations = DefaultIterations
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return out
}

// Probe drives the measurement loop. Iterations run strictly sequentially;
// each consumes the account's next nonce.
type Probe struct {
	client  rpc.Client
	acct    *account.Account
	builder *txbuilder.SelfTransferBuilder
	cfg     Config
	heads   HeadSource
	logger  *slog.Logger
	summary *metrics.Summary
	prom    *metrics.PrometheusMetrics
}

// Option configures optional collaborators.
type Option func(*Probe)

// WithHeadSource attaches a chain-head source (e.g. a newHeads watcher).
func WithHeadSource(h HeadSource) Option {
	return func(p *Probe) { p.heads = h }
}

// WithPrometheus attaches Prometheus instrumentation.
func WithPrometheus(m *metrics.PrometheusMetrics) Option {
	return func(p *Probe) { p.prom = m }
}

// New creates a Probe.
func New(client rpc.Client, acct *account.Account, builder *txbuilder.SelfTransferBuilder, cfg Config, logger *slog.Logger, opts ...Option) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Probe{
		client:  client,
		acct:    acct,
		builder: builder,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		summary: metrics.NewSummary(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Summary returns the elapsed-duration summary over successful iterations.
func (p *Probe) Summary() *types.LatencySummary {
	return p.summary.Stats()
}

// Run executes the configured number of iterations and returns the populated
// run. A partial run is returned alongside the error when the run is aborted
// (signing failure or cancellation); per-iteration failures are recorded in
// the run and do not produce an error.
func (p *Probe) Run(ctx context.Context) (*types.ProbeRun, error) {
	if p.cfg.ChainID == nil || p.cfg.ChainID.Sign() == 0 {
		return nil, newError(types.ErrKindConfig, fmt.Errorf("chain ID is not set"))
	}

	run := &types.ProbeRun{
		ID:         "run-" + time.Now().UTC().Format("20060102-150405"),
		Endpoint:   p.cfg.Endpoint,
		Address:    p.acct.Address.Hex(),
		ChainID:    p.cfg.ChainID.Int64(),
		Iterations: p.cfg.Iterations,
		StartedAt:  time.Now(),
	}

	// Seed the local nonce counter from the endpoint once; iterations then
	// advance it locally and only go back to the endpoint after a failure.
	if err := p.acct.Resync(ctx, p.client); err != nil {
		return nil, classifyRead(err)
	}

	resyncNeeded := false
	for i := 0; i < p.cfg.Iterations; i++ {
		if ctx.Err() != nil {
			run.CompletedAt = time.Now()
			return run, ctx.Err()
		}

		res, err := p.runIteration(ctx, i, resyncNeeded)
		run.Append(res)
		p.observe(res)

		if res.Succeeded() {
			resyncNeeded = false
		} else {
			// The local counter may be ahead of (or behind) the chain
			// after a failure; the next iteration re-fetches instead of
			// trusting it.
			resyncNeeded = true
			p.logger.Warn("iteration failed",
				slog.Int("iteration", i),
				slog.String("kind", string(res.ErrorKind)),
				slog.String("error", res.ErrorMessage),
			)

			var pe *Error
			if errors.As(err, &pe) && pe.Fatal() {
				run.CompletedAt = time.Now()
				return run, pe
			}
			if p.cfg.StopOnFailure {
				break
			}
		}

		if p.cfg.Delay > 0 && i < p.cfg.Iterations-1 {
			select {
			case <-ctx.Done():
				run.CompletedAt = time.Now()
				return run, ctx.Err()
			case <-time.After(p.cfg.Delay):
			}
		}
	}

	run.CompletedAt = time.Now()
	return run, nil
}

// runIteration executes one build → submit → poll cycle. The returned error
// restates the failure recorded in the result so the caller can check
// fatality; it is nil for successful iterations.
func (p *Probe) runIteration(ctx context.Context, idx int, resync bool) (types.IterationResult, error) {
	res := types.IterationResult{
		Index: idx,
		State: types.StateBuilding,
	}

	if resync {
		if err := p.acct.ResyncFromChain(ctx, p.client); err != nil {
			cerr := classifyRead(err)
			return p.fail(res, cerr), cerr
		}
	}

	blockAtSubmission, err := p.head(ctx)
	if err != nil {
		cerr := classifyRead(err)
		return p.fail(res, cerr), cerr
	}
	res.BlockAtSubmission = blockAtSubmission

	nonce := p.acct.ReserveNonce()
	defer nonce.Rollback()
	res.Nonce = nonce.Value()

	signed, err := p.builder.BuildSigned(txbuilder.TxParams{
		ChainID:   p.cfg.ChainID,
		Nonce:     nonce.Value(),
		GasTipCap: p.cfg.GasTipCap,
		GasFeeCap: p.cfg.GasFeeCap,
	})
	if err != nil {
		serr := newError(types.ErrKindSigning, err)
		return p.fail(res, serr), serr
	}
	res.TxHash = signed.Hash.Hex()

	res.State = types.StateSubmitted
	res.SubmittedAt = time.Now()
	hash, err := p.client.SendRawTransaction(ctx, signed.RLP)
	if p.prom != nil {
		p.prom.SubmitLatency.Observe(time.Since(res.SubmittedAt).Seconds())
	}
	if err != nil {
		serr := classifySend(err)
		return p.fail(res, serr), serr
	}
	nonce.Commit()
	if hash != "" {
		res.TxHash = hash
	}

	p.logger.Debug("transaction submitted",
		slog.Int("iteration", idx),
		slog.String("hash", res.TxHash),
		slog.Uint64("nonce", res.Nonce),
		slog.Uint64("block", res.BlockAtSubmission),
	)

	res.State = types.StatePolling
	receipt, receiptAt, err := p.pollReceipt(ctx, res.TxHash, res.SubmittedAt)
	if err != nil {
		var perr *Error
		if !errors.As(err, &perr) {
			perr = classifyRead(err)
		}
		return p.fail(res, perr), perr
	}

	res.ReceiptAt = receiptAt
	res.Elapsed = receiptAt.Sub(res.SubmittedAt)
	res.ReceiptBlock = receipt.BlockNumber

	// Chain head at receipt time; the receipt's own block is the floor.
	blockAtReceipt, err := p.head(ctx)
	if err != nil || blockAtReceipt < receipt.BlockNumber {
		blockAtReceipt = receipt.BlockNumber
	}
	res.BlockAtReceipt = blockAtReceipt

	if receipt.BlockNumber < res.BlockAtSubmission {
		// Height went backwards between submission and inclusion. Flag it
		// instead of reporting a negative span.
		res.ReorgSuspected = true
		res.BlockDelta = 0
		p.logger.Warn("receipt block below submission block, possible reorg",
			slog.Int("iteration", idx),
			slog.Uint64("blockAtSubmission", res.BlockAtSubmission),
			slog.Uint64("receiptBlock", receipt.BlockNumber),
		)
	} else {
		res.BlockDelta = int64(blockAtReceipt) - int64(res.BlockAtSubmission)
	}

	res.State = types.StateReceived
	p.logger.Info("receipt observed",
		slog.Int("iteration", idx),
		slog.Duration("elapsed", res.Elapsed),
		slog.Int64("blockDelta", res.BlockDelta),
	)
	return res, nil
}

// pollReceipt polls at the configured interval until a receipt appears, the
// window expires, or ctx is cancelled.
func (p *Probe) pollReceipt(ctx context.Context, hash string, submittedAt time.Time) (*rpc.TransactionReceipt, time.Time, error) {
	deadline := submittedAt.Add(p.cfg.Timeout)

	for {
		receipt, err := p.client.GetTransactionReceipt(ctx, hash)
		if err != nil {
			return nil, time.Time{}, classifyRead(err)
		}
		if receipt != nil {
			return receipt, time.Now(), nil
		}

		if !time.Now().Before(deadline) {
			return nil, time.Time{}, newError(types.ErrKindTimeout,
				fmt.Errorf("no receipt for %s within %s", hash, p.cfg.Timeout))
		}

		select {
		case <-ctx.Done():
			return nil, time.Time{}, ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// head returns the current block number, preferring the subscription source.
func (p *Probe) head(ctx context.Context) (uint64, error) {
	if p.heads != nil {
		if head, ok := p.heads.Head(); ok {
			if p.prom != nil {
				p.prom.ChainHead.Set(float64(head))
			}
			return head, nil
		}
	}
	head, err := p.client.GetBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if p.prom != nil {
		p.prom.ChainHead.Set(float64(head))
	}
	return head, nil
}

func (p *Probe) fail(res types.IterationResult, err *Error) types.IterationResult {
	res.State = types.StateFailed
	res.ErrorKind = err.Kind
	res.ErrorMessage = err.Err.Error()
	return res
}

func (p *Probe) observe(res types.IterationResult) {
	if p.prom != nil {
		if res.Succeeded() {
			p.prom.IterationsTotal.WithLabelValues("received").Inc()
			p.prom.ConfirmLatency.Observe(res.Elapsed.Seconds())
			p.prom.BlockDelta.Observe(float64(res.BlockDelta))
		} else {
			p.prom.IterationsTotal.WithLabelValues("failed").Inc()
			p.prom.RPCErrorsTotal.WithLabelValues(string(res.ErrorKind)).Inc()
		}
	}
	if res.Succeeded() {
		p.summary.Add(res.Elapsed)
	}
}

// SuggestFees derives the gas pricing for probe transactions from the
// provider's current gas price. The fee cap is the gas price scaled by
// multiplier (never below twice the tip), the tip is fixed at 1 gwei.
func SuggestFees(gasPrice uint64, multiplier int64) (gasTipCap, gasFeeCap *big.Int) {
	if multiplier <= 0 {
		multiplier = 1
	}
	gasTipCap = big.NewInt(1_000_000_000) // 1 gwei

	gasFeeCap = new(big.Int).Mul(new(big.Int).SetUint64(gasPrice), big.NewInt(multiplier))
	floor := new(big.Int).Mul(gasTipCap, big.NewInt(2))
	if gasFeeCap.Cmp(floor) < 0 {
		gasFeeCap = floor
	}
	return gasTipCap, gasFeeCap
}
