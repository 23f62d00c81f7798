// Package txflow drives approve, swap and wrap transactions through their lifecycle.
package txflow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"clearClient/internal/config"
	"clearClient/internal/metrics"
	"clearClient/internal/model"
	"clearClient/internal/preview"
	"clearClient/internal/protocol"
)

// Sender broadcasts calldata and waits for the receipt.
type Sender interface {
	Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// ChainReader supplies the fresh reads taken right before submission.
type ChainReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	PreviewSwap(ctx context.Context, vault, from, to common.Address, amountIn *big.Int) (model.SwapPreview, error)
}

// Intent describes what the user is about to sign.
type Intent struct {
	Kind    model.TxKind
	To      common.Address
	Summary string
}

// Confirmer asks the user to sign. Returning false cancels the action.
type Confirmer interface {
	Confirm(ctx context.Context, intent Intent) (bool, error)
}

// Journal receives every finished transaction.
type Journal interface {
	RecordTransaction(ctx context.Context, tx model.PendingTransaction) error
}

// Config wires the orchestrator.
type Config struct {
	Contracts      config.Contracts
	Account        common.Address
	ConfirmTimeout time.Duration
	Journal        Journal
	Metrics        *metrics.Metrics
	// OnFinal runs after every confirmed or reverted transaction.
	OnFinal func(model.PendingTransaction)
}

// Orchestrator validates, gates and submits user actions. It never retries.
type Orchestrator struct {
	cfg       Config
	reader    ChainReader
	sender    Sender
	confirmer Confirmer
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[model.TxKind]bool
}

func NewOrchestrator(cfg Config, reader ChainReader, sender Sender, confirmer Confirmer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		reader:    reader,
		sender:    sender,
		confirmer: confirmer,
		logger:    logger,
		inFlight:  make(map[model.TxKind]bool),
	}
}

// NeedsApproval is true iff the allowance is known and below the amount.
func NeedsApproval(amount, allowance *big.Int) bool {
	if amount == nil || allowance == nil {
		return false
	}
	return allowance.Cmp(amount) < 0
}

// ApproveRequest grants spender the right to pull amount of token.
type ApproveRequest struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
}

// SwapRequest swaps AmountIn of From for To through the router.
type SwapRequest struct {
	Vault       common.Address
	From        common.Address
	To          common.Address
	AmountIn    *big.Int
	SlippageBps uint64
	ReceiveIOU  bool
}

// WrapRequest deposits Amount of Token into the vault for IOUs.
type WrapRequest struct {
	Vault  common.Address
	Token  common.Address
	Amount *big.Int
}

func unresolved(what string) error {
	return fmt.Errorf("%w: %s", ErrUnresolvedInput, what)
}

func zero(a common.Address) bool {
	return a == (common.Address{})
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

func (o *Orchestrator) acquire(kind model.TxKind) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[kind] {
		return fmt.Errorf("%w: %s", ErrInFlight, kind)
	}
	o.inFlight[kind] = true
	return nil
}

func (o *Orchestrator) release(kind model.TxKind) {
	o.mu.Lock()
	delete(o.inFlight, kind)
	o.mu.Unlock()
}

// Approve submits an ERC20 approval.
func (o *Orchestrator) Approve(ctx context.Context, req ApproveRequest) (model.PendingTransaction, error) {
	switch {
	case zero(o.cfg.Account):
		return model.PendingTransaction{}, unresolved("account")
	case zero(req.Token), zero(req.Spender):
		return model.PendingTransaction{}, unresolved("token or spender")
	case !positive(req.Amount):
		return model.PendingTransaction{}, unresolved("amount")
	}
	if err := o.acquire(model.TxApprove); err != nil {
		return model.PendingTransaction{}, err
	}
	defer o.release(model.TxApprove)

	data, err := protocol.PackApprove(req.Spender, req.Amount)
	if err != nil {
		return model.PendingTransaction{}, err
	}
	intent := Intent{
		Kind:    model.TxApprove,
		To:      req.Token,
		Summary: fmt.Sprintf("approve %s to spend %s of %s", req.Spender.Hex(), req.Amount, req.Token.Hex()),
	}
	return o.execute(ctx, intent, data)
}

// Swap re-reads allowance and the preview, then submits the swap with a
// minimum output derived from the fresh preview.
func (o *Orchestrator) Swap(ctx context.Context, req SwapRequest) (model.PendingTransaction, error) {
	switch {
	case zero(o.cfg.Account):
		return model.PendingTransaction{}, unresolved("account")
	case zero(req.Vault), zero(req.From), zero(req.To):
		return model.PendingTransaction{}, unresolved("vault or token")
	case req.From == req.To:
		return model.PendingTransaction{}, unresolved("from and to are the same token")
	case !positive(req.AmountIn):
		return model.PendingTransaction{}, unresolved("amount")
	case req.SlippageBps > 10_000:
		return model.PendingTransaction{}, preview.ErrSlippage
	}
	if err := o.acquire(model.TxSwap); err != nil {
		return model.PendingTransaction{}, err
	}
	defer o.release(model.TxSwap)

	if err := o.checkAllowance(ctx, req.From, o.cfg.Contracts.Swap, req.AmountIn); err != nil {
		return model.PendingTransaction{}, err
	}

	quote, ok, err := preview.Fetch(ctx, o.reader, preview.Request{Vault: &req.Vault, From: &req.From, To: &req.To, AmountIn: req.AmountIn})
	if err != nil {
		return model.PendingTransaction{}, err
	}
	if !ok {
		return model.PendingTransaction{}, unresolved("preview")
	}
	minOut, err := preview.MinAmountOut(quote, req.SlippageBps)
	if err != nil {
		return model.PendingTransaction{}, err
	}

	data, err := protocol.PackSwap(protocol.SwapArgs{
		Receiver:     o.cfg.Account,
		Vault:        req.Vault,
		From:         req.From,
		To:           req.To,
		AmountIn:     req.AmountIn,
		MinAmountOut: minOut,
		ReceiveIOU:   req.ReceiveIOU,
	})
	if err != nil {
		return model.PendingTransaction{}, err
	}
	intent := Intent{
		Kind: model.TxSwap,
		To:   o.cfg.Contracts.Swap,
		Summary: fmt.Sprintf("swap %s of %s for %s (expect %s + %s IOU, min %s)",
			req.AmountIn, req.From.Hex(), req.To.Hex(), quote.AmountOut, quote.IOUAmount, minOut),
	}
	return o.execute(ctx, intent, data)
}

// Wrap deposits tokens into the vault in exchange for IOUs sent to the account.
func (o *Orchestrator) Wrap(ctx context.Context, req WrapRequest) (model.PendingTransaction, error) {
	switch {
	case zero(o.cfg.Account):
		return model.PendingTransaction{}, unresolved("account")
	case zero(req.Vault), zero(req.Token):
		return model.PendingTransaction{}, unresolved("vault or token")
	case !positive(req.Amount):
		return model.PendingTransaction{}, unresolved("amount")
	}
	if err := o.acquire(model.TxWrap); err != nil {
		return model.PendingTransaction{}, err
	}
	defer o.release(model.TxWrap)

	if err := o.checkAllowance(ctx, req.Token, req.Vault, req.Amount); err != nil {
		return model.PendingTransaction{}, err
	}

	data, err := protocol.PackWrapIOU(req.Token, o.cfg.Account, req.Amount)
	if err != nil {
		return model.PendingTransaction{}, err
	}
	intent := Intent{
		Kind:    model.TxWrap,
		To:      req.Vault,
		Summary: fmt.Sprintf("wrap %s of %s into IOUs", req.Amount, req.Token.Hex()),
	}
	return o.execute(ctx, intent, data)
}

func (o *Orchestrator) checkAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	allowance, err := o.reader.Allowance(ctx, token, o.cfg.Account, spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if NeedsApproval(amount, allowance) {
		return fmt.Errorf("%w: allowance %s below %s for spender %s", ErrApprovalRequired, allowance, amount, spender.Hex())
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, intent Intent, data []byte) (model.PendingTransaction, error) {
	m := NewMachine(intent.Kind, o.cfg.Metrics)
	if err := m.Begin(); err != nil {
		return m.Snapshot(), err
	}
	log := o.logger.With(zap.String("id", m.Snapshot().ID), zap.String("kind", string(intent.Kind)))

	ok, err := o.confirmer.Confirm(ctx, intent)
	if err != nil {
		_ = m.Abort(err)
		return m.Snapshot(), fmt.Errorf("confirm: %w", err)
	}
	if !ok {
		_ = m.Abort(ErrUserRejected)
		log.Info("action cancelled")
		return m.Snapshot(), ErrUserRejected
	}

	hash, err := o.sender.Send(ctx, intent.To, data)
	if err != nil {
		serr := &SubmissionError{Kind: intent.Kind, Err: err}
		_ = m.Abort(serr)
		log.Warn("submission rejected", zap.Error(err))
		return m.Snapshot(), serr
	}
	if err := m.Submitted(hash); err != nil {
		return m.Snapshot(), err
	}
	log.Info("transaction submitted", zap.String("hash", hash.Hex()))

	waitCtx := ctx
	if o.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
		defer cancel()
	}
	receipt, err := o.sender.WaitMined(waitCtx, hash)
	if err != nil {
		_ = m.Drop(err)
		tx := m.Snapshot()
		o.record(tx, log)
		log.Warn("stopped waiting for receipt", zap.String("hash", hash.Hex()), zap.Error(err))
		return tx, fmt.Errorf("await %s: %w", hash.Hex(), err)
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	success := receipt.Status == types.ReceiptStatusSuccessful
	if err := m.Finalize(success, block); err != nil {
		return m.Snapshot(), err
	}
	tx := m.Snapshot()
	o.record(tx, log)
	if o.cfg.OnFinal != nil {
		o.cfg.OnFinal(tx)
	}
	if !success {
		log.Warn("transaction reverted", zap.String("hash", hash.Hex()), zap.Uint64("block", block))
		return tx, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	log.Info("transaction confirmed", zap.String("hash", hash.Hex()), zap.Uint64("block", block))
	return tx, nil
}

func (o *Orchestrator) record(tx model.PendingTransaction, log *zap.Logger) {
	if o.cfg.Journal == nil {
		return
	}
	// The outcome is already on chain; a journal failure must not mask it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.cfg.Journal.RecordTransaction(ctx, tx); err != nil {
		log.Warn("journal write failed", zap.Error(err))
	}
}
