package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoSigner is returned when a transaction is requested without a private key.
var ErrNoSigner = errors.New("no signing key configured")

// Transactor signs and broadcasts EIP-1559 transactions for one account.
type Transactor struct {
	client    *Client
	key       *ecdsa.PrivateKey
	from      common.Address
	pollEvery time.Duration

	mu      sync.Mutex
	chainID *big.Int
	signer  types.Signer
}

// NewTransactor parses a hex private key (with or without 0x prefix).
func NewTransactor(client *Client, hexKey string, pollEvery time.Duration) (*Transactor, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoSigner
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	return &Transactor{
		client:    client,
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		pollEvery: pollEvery,
	}, nil
}

// From returns the signing account.
func (t *Transactor) From() common.Address {
	return t.from
}

func (t *Transactor) loadSigner(ctx context.Context) (*big.Int, types.Signer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signer != nil {
		return t.chainID, t.signer, nil
	}
	chainID, err := t.client.GetChainID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get chain id: %w", err)
	}
	t.chainID = chainID
	t.signer = types.LatestSignerForChainID(chainID)
	return t.chainID, t.signer, nil
}

// Send estimates gas, signs and broadcasts a call to the target contract.
// Estimation failures include contract reverts and are returned before anything is broadcast.
func (t *Transactor) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	chainID, signer, err := t.loadSigner(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}
	tip, err := t.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := t.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := t.client.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := types.SignTx(tx, signer, t.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash(), nil
}

// receiptRetries bounds consecutive transport failures while waiting for a receipt.
const receiptRetries = 3

// WaitMined polls for the receipt until it appears or ctx is done.
// A pending transaction is not an error; transient read failures are retried.
func (t *Transactor) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for {
		var receipt *types.Receipt
		err := withBackoff(ctx, receiptRetries, t.pollEvery/4, func(ctx context.Context) error {
			r, err := t.client.TransactionReceipt(ctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			receipt = r
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("get receipt: %w", err)
		}
		if receipt != nil {
			return receipt, nil
		}
		if err := sleep(ctx, t.pollEvery); err != nil {
			return nil, err
		}
	}
}
