package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/gateway-fm/rpcprobe/internal/account"
	"github.com/gateway-fm/rpcprobe/internal/blockwatch"
	"github.com/gateway-fm/rpcprobe/internal/config"
	"github.com/gateway-fm/rpcprobe/internal/rpc"
	"github.com/gateway-fm/rpcprobe/internal/txbuilder"
	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// Preflight holds the chain facts gathered before the first iteration.
type Preflight struct {
	ChainID  *big.Int
	Head     uint64
	GasPrice uint64
	Balance  *big.Int
	Address  string
}

// Setup builds a ready-to-run Probe from the runtime configuration. It parses
// the key, dials the provider for chain ID, head, gas price and balance, and
// wires the optional newHeads watcher. Key and chain-ID problems come back as
// config or signing errors before anything is signed or sent.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Probe, *Preflight, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	acct, err := account.NewAccountFromHex(cfg.PrivateKey)
	if err != nil {
		return nil, nil, nil, newError(types.ErrKindConfig, fmt.Errorf("invalid private key: %w", err))
	}

	client := rpc.NewHTTPClient(rpc.DefaultClientConfig(cfg.RPCURL))

	pf, err := preflight(ctx, client, acct, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	gasTipCap := big.NewInt(cfg.GasTipCap)
	gasFeeCap := big.NewInt(cfg.GasFeeCap)
	if cfg.GasFeeCap == 0 {
		tip, fee := SuggestFees(pf.GasPrice, cfg.GasMultiplier)
		if cfg.GasTipCap == 0 {
			gasTipCap = tip
		}
		gasFeeCap = fee
	}

	builder := txbuilder.New(txbuilder.Config{
		Sender:    acct.Address,
		Key:       acct.PrivateKey,
		GasLimit:  cfg.GasLimit,
		UseLegacy: cfg.UseLegacy,
	})

	p := New(client, acct, builder, Config{
		Iterations:    cfg.Iterations,
		PollInterval:  cfg.PollInterval,
		Timeout:       cfg.Timeout,
		Delay:         cfg.Delay,
		StopOnFailure: cfg.StopOnFailure,
		ChainID:       pf.ChainID,
		GasTipCap:     gasTipCap,
		GasFeeCap:     gasFeeCap,
		Endpoint:      cfg.RPCURL,
	}, logger, opts...)

	cleanup := func() {}
	if cfg.WSURL != "" {
		watcher := blockwatch.New(cfg.WSURL, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("newHeads watcher unavailable, falling back to polling", "error", err)
		} else {
			WithHeadSource(watcher)(p)
			cleanup = func() { watcher.Close() }
		}
	}

	return p, pf, cleanup, nil
}

// preflight verifies the provider is reachable and collects chain facts.
// An unreachable or inconsistent provider fails here, before any iteration.
func preflight(ctx context.Context, client rpc.Client, acct *account.Account, cfg *config.Config) (*Preflight, error) {
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return nil, classifyRead(fmt.Errorf("eth_chainId: %w", err))
	}
	if cfg.ChainID != 0 && chainID != cfg.ChainID {
		return nil, newError(types.ErrKindConfig,
			fmt.Errorf("chain ID mismatch: provider reports %d, configured %d", chainID, cfg.ChainID))
	}

	head, err := client.GetBlockNumber(ctx)
	if err != nil {
		return nil, classifyRead(fmt.Errorf("eth_blockNumber: %w", err))
	}

	gasPrice, err := client.GetGasPrice(ctx)
	if err != nil {
		return nil, classifyRead(fmt.Errorf("eth_gasPrice: %w", err))
	}

	balance, err := client.GetBalance(ctx, acct.Address.Hex())
	if err != nil {
		return nil, classifyRead(fmt.Errorf("eth_getBalance: %w", err))
	}

	return &Preflight{
		ChainID:  big.NewInt(chainID),
		Head:     head,
		GasPrice: gasPrice,
		Balance:  balance,
		Address:  acct.Address.Hex(),
	}, nil
}
