// Package txbuilder builds and signs the probe's zero-value self-transfer.
package txbuilder

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxParams holds the per-iteration inputs for building a transaction.
type TxParams struct {
	ChainID   *big.Int
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// SignedTx is a built, signed transaction ready for submission.
type SignedTx struct {
	Hash  common.Hash
	RLP   []byte
	Nonce uint64
}

// SelfTransferBuilder builds zero-value transfers from the sender to itself.
// The same nonce and gas inputs always produce the same signed payload.
type SelfTransferBuilder struct {
	sender    common.Address
	key       *ecdsa.PrivateKey
	gasLimit  uint64
	useLegacy bool
}

// Config for creating a SelfTransferBuilder.
type Config struct {
	Sender    common.Address
	Key       *ecdsa.PrivateKey
	GasLimit  uint64 // default 21000
	UseLegacy bool   // legacy (type 0) instead of EIP-1559
}

// New creates a SelfTransferBuilder.
func New(cfg Config) *SelfTransferBuilder {
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 21000
	}
	return &SelfTransferBuilder{
		sender:    cfg.Sender,
		key:       cfg.Key,
		gasLimit:  gasLimit,
		useLegacy: cfg.UseLegacy,
	}
}

// GasLimit returns the gas limit the builder stamps on transactions.
func (b *SelfTransferBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// BuildSigned creates and signs a zero-value transfer to the sender itself.
func (b *SelfTransferBuilder) BuildSigned(params TxParams) (*SignedTx, error) {
	if params.ChainID == nil || params.ChainID.Sign() == 0 {
		return nil, fmt.Errorf("chain ID must be non-nil and non-zero")
	}
	if b.key == nil {
		return nil, fmt.Errorf("no signing key configured")
	}

	tx := newTransferTx(params.ChainID, params.Nonce, b.sender, big.NewInt(0),
		b.gasLimit, params.GasTipCap, params.GasFeeCap, b.useLegacy)

	signer := types.LatestSignerForChainID(params.ChainID)
	signed, err := types.SignTx(tx, signer, b.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	data, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return &SignedTx{
		Hash:  signed.Hash(),
		RLP:   data,
		Nonce: params.Nonce,
	}, nil
}

// newTransferTx creates either a DynamicFeeTx or LegacyTx depending on useLegacy.
// For legacy transactions, gasFeeCap is used as the gas price.
func newTransferTx(chainID *big.Int, nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasTipCap, gasFeeCap *big.Int, useLegacy bool) *types.Transaction {
	if useLegacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasFeeCap,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
	})
}
