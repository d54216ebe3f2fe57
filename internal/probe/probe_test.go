package probe

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/rpcprobe/internal/account"
	"github.com/gateway-fm/rpcprobe/internal/rpc"
	"github.com/gateway-fm/rpcprobe/internal/txbuilder"
	"github.com/gateway-fm/rpcprobe/pkg/types"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// mockClient simulates a provider: it accepts signed transactions, tracks
// their nonces, and serves receipts after a configurable number of polls.
type mockClient struct {
	mu sync.Mutex

	head           uint64
	pendingNonce   uint64
	confirmedNonce uint64
	confirmedCalls int

	sendErr    map[int]error // by submission attempt index
	sentNonces []uint64

	noReceipt    bool
	receiptAfter int    // polls before a receipt appears
	receiptBlock uint64 // 0 = current head
	polls        map[string]int
	mined        map[string]uint64
}

func newMockClient() *mockClient {
	return &mockClient{
		head:  100,
		polls: make(map[string]int),
		mined: make(map[string]uint64),
	}
}

func (m *mockClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return nil, nil
}

func (m *mockClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingNonce, nil
}

func (m *mockClient) GetConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmedCalls++
	return m.confirmedNonce, nil
}

func (m *mockClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

func (m *mockClient) GetGasPrice(ctx context.Context) (uint64, error) {
	return 1_000_000_000, nil
}

func (m *mockClient) GetChainID(ctx context.Context) (int64, error) {
	return 1337, nil
}

func (m *mockClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}

func (m *mockClient) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(txRLP); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	attempt := len(m.sentNonces)
	m.sentNonces = append(m.sentNonces, tx.Nonce())
	if err := m.sendErr[attempt]; err != nil {
		return "", err
	}

	block := m.receiptBlock
	if block == 0 {
		block = m.head
	}
	m.mined[tx.Hash().Hex()] = block
	m.pendingNonce = tx.Nonce() + 1
	m.confirmedNonce = tx.Nonce() + 1
	return tx.Hash().Hex(), nil
}

func (m *mockClient) GetTransactionReceipt(ctx context.Context, txHash string) (*rpc.TransactionReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.noReceipt {
		return nil, nil
	}
	m.polls[txHash]++
	if m.polls[txHash] <= m.receiptAfter {
		return nil, nil
	}
	block, ok := m.mined[txHash]
	if !ok {
		return nil, nil
	}
	return &rpc.TransactionReceipt{
		Status:      1,
		GasUsed:     21000,
		BlockNumber: block,
	}, nil
}

func testConfig(iterations int) Config {
	return Config{
		Iterations:   iterations,
		PollInterval: 2 * time.Millisecond,
		Timeout:      100 * time.Millisecond,
		ChainID:      big.NewInt(1337),
		GasTipCap:    big.NewInt(1_000_000_000),
		GasFeeCap:    big.NewInt(3_000_000_000),
	}
}

func newTestProbe(t *testing.T, client rpc.Client, cfg Config, opts ...Option) *Probe {
	t.Helper()
	acct, err := account.NewAccountFromHex(testKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	builder := txbuilder.New(txbuilder.Config{
		Sender: acct.Address,
		Key:    acct.PrivateKey,
	})
	return New(client, acct, builder, cfg, nil, opts...)
}

func TestRunAllIterationsSucceed(t *testing.T) {
	client := newMockClient()
	p := newTestProbe(t, client, testConfig(10))

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(run.Results) != 10 {
		t.Fatalf("got %d results, want 10", len(run.Results))
	}
	if run.Succeeded != 10 || run.Failed != 0 {
		t.Errorf("succeeded/failed = %d/%d, want 10/0", run.Succeeded, run.Failed)
	}
	if run.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	for i, res := range run.Results {
		if res.State != types.StateReceived {
			t.Errorf("iteration %d state = %s, want received", i, res.State)
		}
		if res.Nonce != uint64(i) {
			t.Errorf("iteration %d nonce = %d, want %d", i, res.Nonce, i)
		}
		if res.ReceiptAt.Before(res.SubmittedAt) {
			t.Errorf("iteration %d receipt before submission", i)
		}
		if res.Elapsed < 0 {
			t.Errorf("iteration %d negative elapsed %v", i, res.Elapsed)
		}
		if res.BlockDelta != 0 {
			t.Errorf("iteration %d block delta = %d, want 0 for static head", i, res.BlockDelta)
		}
		if res.TxHash == "" {
			t.Errorf("iteration %d missing tx hash", i)
		}
	}

	summary := p.Summary()
	if summary == nil || summary.Count != 10 {
		t.Fatalf("summary = %+v, want count 10", summary)
	}
	if summary.Min > summary.Mean || summary.Mean > summary.Max {
		t.Errorf("summary ordering violated: %+v", summary)
	}
}

func TestRunNoReceipts(t *testing.T) {
	client := newMockClient()
	client.noReceipt = true

	cfg := testConfig(3)
	cfg.Timeout = 20 * time.Millisecond
	p := newTestProbe(t, client, cfg)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("timeouts must not abort the run, got %v", err)
	}
	if len(run.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(run.Results))
	}
	for i, res := range run.Results {
		if res.State != types.StateFailed {
			t.Errorf("iteration %d state = %s, want failed", i, res.State)
		}
		if res.ErrorKind != types.ErrKindTimeout {
			t.Errorf("iteration %d kind = %s, want timeout", i, res.ErrorKind)
		}
	}
	if p.Summary() != nil {
		t.Error("summary must be empty when nothing succeeded")
	}
}

func TestRunResyncsAfterRejectedSubmission(t *testing.T) {
	client := newMockClient()
	// Third submission is rejected by the provider.
	client.sendErr = map[int]error{2: &rpc.RPCError{Code: -32000, Message: "nonce too low"}}

	p := newTestProbe(t, client, testConfig(4))

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if run.Succeeded != 3 || run.Failed != 1 {
		t.Fatalf("succeeded/failed = %d/%d, want 3/1", run.Succeeded, run.Failed)
	}

	failed := run.Results[2]
	if failed.ErrorKind != types.ErrKindSubmission {
		t.Errorf("kind = %s, want submission", failed.ErrorKind)
	}

	// The rejected nonce is re-fetched from the chain, not blindly advanced.
	if client.confirmedCalls != 1 {
		t.Errorf("confirmed-nonce fetches = %d, want 1", client.confirmedCalls)
	}
	wantNonces := []uint64{0, 1, 2, 2}
	if len(client.sentNonces) != len(wantNonces) {
		t.Fatalf("sent %d transactions, want %d", len(client.sentNonces), len(wantNonces))
	}
	for i, want := range wantNonces {
		if client.sentNonces[i] != want {
			t.Errorf("submission %d nonce = %d, want %d", i, client.sentNonces[i], want)
		}
	}
}

func TestRunStopOnFailure(t *testing.T) {
	client := newMockClient()
	client.sendErr = map[int]error{0: &rpc.RPCError{Code: -32000, Message: "rejected"}}

	cfg := testConfig(5)
	cfg.StopOnFailure = true
	p := newTestProbe(t, client, cfg)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(run.Results) != 1 {
		t.Errorf("got %d results, want 1", len(run.Results))
	}
}

func TestRunSigningFailureIsFatal(t *testing.T) {
	client := newMockClient()
	acct, _ := account.NewAccountFromHex(testKey)
	builder := txbuilder.New(txbuilder.Config{Sender: acct.Address}) // no key
	p := New(client, acct, builder, testConfig(5), nil)

	run, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if Kind(err) != types.ErrKindSigning {
		t.Errorf("kind = %s, want signing", Kind(err))
	}
	if run == nil || len(run.Results) != 1 {
		t.Fatalf("expected partial run with 1 result, got %+v", run)
	}
}

func TestRunMissingChainID(t *testing.T) {
	cfg := testConfig(1)
	cfg.ChainID = nil
	p := newTestProbe(t, newMockClient(), cfg)

	_, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if Kind(err) != types.ErrKindConfig {
		t.Errorf("kind = %s, want config", Kind(err))
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProbe(t, newMockClient(), testConfig(10))
	run, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if run != nil && len(run.Results) != 0 {
		t.Errorf("cancelled before the first iteration, got %d results", len(run.Results))
	}
}

func TestRunReorgFlagged(t *testing.T) {
	client := newMockClient()
	client.head = 100
	client.receiptBlock = 95

	p := newTestProbe(t, client, testConfig(1))

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := run.Results[0]
	if res.State != types.StateReceived {
		t.Fatalf("state = %s, want received", res.State)
	}
	if !res.ReorgSuspected {
		t.Error("expected reorg flag when receipt block is below submission block")
	}
	if res.BlockDelta != 0 {
		t.Errorf("block delta = %d, want 0 for flagged reorg", res.BlockDelta)
	}
}

func TestRunDelaysBetweenIterations(t *testing.T) {
	client := newMockClient()
	cfg := testConfig(3)
	cfg.Delay = 10 * time.Millisecond
	p := newTestProbe(t, client, cfg)

	start := time.Now()
	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if run.Succeeded != 3 {
		t.Fatalf("succeeded = %d, want 3", run.Succeeded)
	}
	// Two gaps between three iterations.
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("run finished in %v, expected at least 20ms of delay", elapsed)
	}
}

func TestRunUsesHeadSource(t *testing.T) {
	client := newMockClient()
	heads := &staticHeads{head: 200}
	p := newTestProbe(t, client, testConfig(1), WithHeadSource(heads))

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := run.Results[0].BlockAtSubmission; got != 200 {
		t.Errorf("BlockAtSubmission = %d, want 200 from head source", got)
	}
}

type staticHeads struct{ head uint64 }

func (s *staticHeads) Head() (uint64, bool) { return s.head, true }

func TestSuggestFees(t *testing.T) {
	tests := []struct {
		name       string
		gasPrice   uint64
		multiplier int64
		wantTip    int64
		wantFee    int64
	}{
		{
			name:       "typical gas price",
			gasPrice:   2_000_000_000,
			multiplier: 3,
			wantTip:    1_000_000_000,
			wantFee:    6_000_000_000,
		},
		{
			name:       "fee cap floored at twice the tip",
			gasPrice:   100,
			multiplier: 3,
			wantTip:    1_000_000_000,
			wantFee:    2_000_000_000,
		},
		{
			name:       "non-positive multiplier treated as 1",
			gasPrice:   5_000_000_000,
			multiplier: 0,
			wantTip:    1_000_000_000,
			wantFee:    5_000_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tip, fee := SuggestFees(tt.gasPrice, tt.multiplier)
			if tip.Int64() != tt.wantTip {
				t.Errorf("tip = %d, want %d", tip.Int64(), tt.wantTip)
			}
			if fee.Int64() != tt.wantFee {
				t.Errorf("fee = %d, want %d", fee.Int64(), tt.wantFee)
			}
		})
	}
}
