package txflow

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearClient/internal/config"
	"clearClient/internal/model"
	"clearClient/internal/protocol"
	"clearClient/internal/protocol/protocoltest"
)

var (
	vault   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdc    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	gho     = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	account = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

type fakeSender struct {
	mu      sync.Mutex
	sent    [][]byte
	to      []common.Address
	sendErr error
	status  uint64
	waitErr error
	block   chan struct{}
	onMined func(to common.Address, data []byte)
}

func (s *fakeSender) Send(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	s.sent = append(s.sent, data)
	s.to = append(s.to, to)
	return common.BytesToHash([]byte{byte(len(s.sent))}), nil
}

func (s *fakeSender) WaitMined(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitErr != nil {
		return nil, s.waitErr
	}
	if s.onMined != nil {
		s.onMined(s.to[len(s.to)-1], s.sent[len(s.sent)-1])
	}
	return &types.Receipt{Status: s.status, BlockNumber: big.NewInt(42)}, nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type answer bool

func (a answer) Confirm(context.Context, Intent) (bool, error) { return bool(a), nil }

type memJournal struct {
	mu  sync.Mutex
	txs []model.PendingTransaction
}

func (j *memJournal) RecordTransaction(_ context.Context, tx model.PendingTransaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.txs = append(j.txs, tx)
	return nil
}

type fixture struct {
	chain   *protocoltest.Chain
	sender  *fakeSender
	journal *memJournal
	orch    *Orchestrator
	cfg     Config
}

func newFixture(t *testing.T, confirm Confirmer) *fixture {
	t.Helper()
	contracts, err := config.NewContracts(config.Config{})
	require.NoError(t, err)
	chain := protocoltest.NewChain()
	chain.SetPreview(func(_, _, _ common.Address, amountIn *big.Int) model.SwapPreview {
		return model.SwapPreview{AmountOut: new(big.Int).Set(amountIn), IOUAmount: big.NewInt(0)}
	})
	f := &fixture{
		chain:   chain,
		sender:  &fakeSender{status: types.ReceiptStatusSuccessful},
		journal: &memJournal{},
	}
	f.cfg = Config{Contracts: contracts, Account: account, ConfirmTimeout: time.Second, Journal: f.journal}
	reader := protocol.NewReader(chain, contracts, nil)
	f.orch = NewOrchestrator(f.cfg, reader, f.sender, confirm, nil)
	return f
}

func swapReq(amount int64) SwapRequest {
	return SwapRequest{Vault: vault, From: usdc, To: gho, AmountIn: big.NewInt(amount), SlippageBps: 50}
}

func TestNeedsApproval(t *testing.T) {
	assert.True(t, NeedsApproval(big.NewInt(100), big.NewInt(99)))
	assert.False(t, NeedsApproval(big.NewInt(100), big.NewInt(100)))
	assert.False(t, NeedsApproval(big.NewInt(100), big.NewInt(101)))
	assert.False(t, NeedsApproval(nil, big.NewInt(0)))
	assert.False(t, NeedsApproval(big.NewInt(1), nil))
}

func TestSwapWithoutAllowanceIsRejectedWithoutSubmission(t *testing.T) {
	f := newFixture(t, answer(true))
	f.chain.SetAllowance(usdc, account, f.cfg.Contracts.Swap, big.NewInt(99))

	_, err := f.orch.Swap(context.Background(), swapReq(100))
	require.ErrorIs(t, err, ErrApprovalRequired)
	assert.Zero(t, f.sender.count())
	assert.Zero(t, f.chain.Calls("previewSwap"))
}

func TestWrapWithoutAllowanceIsRejectedWithoutSubmission(t *testing.T) {
	f := newFixture(t, answer(true))
	f.chain.SetAllowance(usdc, account, f.cfg.Contracts.Swap, big.NewInt(1_000))

	_, err := f.orch.Wrap(context.Background(), WrapRequest{Vault: vault, Token: usdc, Amount: big.NewInt(100)})
	require.ErrorIs(t, err, ErrApprovalRequired, "wrap checks the vault as spender, not the router")
	assert.Zero(t, f.sender.count())
}

func TestUnresolvedInputs(t *testing.T) {
	f := newFixture(t, answer(true))
	ctx := context.Background()

	_, err := f.orch.Swap(ctx, SwapRequest{From: usdc, To: gho, AmountIn: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrUnresolvedInput)
	_, err = f.orch.Swap(ctx, swapReq(0))
	assert.ErrorIs(t, err, ErrUnresolvedInput)
	_, err = f.orch.Wrap(ctx, WrapRequest{Vault: vault, Token: usdc})
	assert.ErrorIs(t, err, ErrUnresolvedInput)
	_, err = f.orch.Approve(ctx, ApproveRequest{Token: usdc, Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrUnresolvedInput)
	assert.Zero(t, f.chain.Calls("allowance"))
	assert.Zero(t, f.sender.count())
}

func TestApproveThenSwap(t *testing.T) {
	f := newFixture(t, answer(true))
	ctx := context.Background()
	f.sender.onMined = func(to common.Address, _ []byte) {
		if to == usdc {
			f.chain.SetAllowance(usdc, account, f.cfg.Contracts.Swap, big.NewInt(1_000_000))
		}
	}

	tx, err := f.orch.Approve(ctx, ApproveRequest{Token: usdc, Spender: f.cfg.Contracts.Swap, Amount: big.NewInt(1_000_000)})
	require.NoError(t, err)
	assert.Equal(t, model.TxConfirmed, tx.State)
	assert.Equal(t, model.OutcomeSuccess, tx.Outcome)
	require.NotNil(t, tx.Hash)

	swapTx, err := f.orch.Swap(ctx, swapReq(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, model.TxConfirmed, swapTx.State)
	assert.NotEqual(t, tx.ID, swapTx.ID, "approval and swap are separate instances")
	assert.Equal(t, uint64(42), swapTx.BlockNumber)

	require.Equal(t, 2, f.sender.count())
	assert.Equal(t, f.cfg.Contracts.Swap, f.sender.to[1])

	parsed, err := protocol.SwapABI()
	require.NoError(t, err)
	args, err := parsed.Methods["swap"].Inputs.Unpack(f.sender.sent[1][4:])
	require.NoError(t, err)
	assert.Equal(t, account, args[0])
	assert.Equal(t, int64(995_000), args[5].(*big.Int).Int64())

	f.journal.mu.Lock()
	assert.Len(t, f.journal.txs, 2)
	f.journal.mu.Unlock()
}

func TestUserRejectionReturnsToIdle(t *testing.T) {
	f := newFixture(t, answer(false))
	tx, err := f.orch.Approve(context.Background(), ApproveRequest{Token: usdc, Spender: vault, Amount: big.NewInt(5)})
	require.ErrorIs(t, err, ErrUserRejected)
	assert.Equal(t, model.TxIdle, tx.State)
	assert.Equal(t, ErrUserRejected.Error(), tx.Err)
	assert.Zero(t, f.sender.count())
}

func TestSubmissionErrorSurfacesVerbatim(t *testing.T) {
	f := newFixture(t, answer(true))
	f.sender.sendErr = errors.New("insufficient funds for gas * price + value")

	tx, err := f.orch.Approve(context.Background(), ApproveRequest{Token: usdc, Spender: vault, Amount: big.NewInt(5)})
	var serr *SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, model.TxApprove, serr.Kind)
	assert.Contains(t, err.Error(), "insufficient funds for gas * price + value")
	assert.Equal(t, model.TxIdle, tx.State)
	assert.NotErrorIs(t, err, ErrUserRejected)
}

func TestRevertedIsTerminal(t *testing.T) {
	f := newFixture(t, answer(true))
	f.sender.status = types.ReceiptStatusFailed
	var finals []model.PendingTransaction
	f.orch.cfg.OnFinal = func(tx model.PendingTransaction) { finals = append(finals, tx) }

	tx, err := f.orch.Approve(context.Background(), ApproveRequest{Token: usdc, Spender: vault, Amount: big.NewInt(5)})
	require.ErrorIs(t, err, ErrReverted)
	assert.Equal(t, model.TxReverted, tx.State)
	assert.Equal(t, model.OutcomeFailed, tx.Outcome)
	require.Len(t, finals, 1)
	assert.Equal(t, 1, f.sender.count(), "no automatic retry")
}

func TestReceiptTimeoutIsDropped(t *testing.T) {
	f := newFixture(t, answer(true))
	f.sender.block = make(chan struct{})
	f.orch.cfg.ConfirmTimeout = 20 * time.Millisecond

	tx, err := f.orch.Approve(context.Background(), ApproveRequest{Token: usdc, Spender: vault, Amount: big.NewInt(5)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.OutcomeDropped, tx.Outcome)
	assert.Equal(t, model.TxIdle, tx.State)
	require.NotNil(t, tx.Hash)
}

func TestSameKindInFlightIsRefused(t *testing.T) {
	f := newFixture(t, answer(true))
	f.sender.block = make(chan struct{})
	f.orch.cfg.ConfirmTimeout = 0

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Approve(context.Background(), ApproveRequest{Token: usdc, Spender: vault, Amount: big.NewInt(5)})
		done <- err
	}()
	require.Eventually(t, func() bool { return f.sender.count() == 1 }, time.Second, time.Millisecond)

	_, err := f.orch.Approve(context.Background(), ApproveRequest{Token: gho, Spender: vault, Amount: big.NewInt(5)})
	assert.ErrorIs(t, err, ErrInFlight)

	close(f.sender.block)
	require.NoError(t, <-done)
}
