package main

import (
	"bufio"
	"bytes"
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clearClient/internal/config"
	"clearClient/internal/poll"
	"clearClient/internal/protocol/protocoltest"
	"clearClient/internal/session"
	"clearClient/internal/txflow"
)

// minedSender applies each transaction to the fake chain once it is mined.
type minedSender struct {
	mu      sync.Mutex
	to      []common.Address
	onMined func(to common.Address)
}

func (s *minedSender) Send(_ context.Context, to common.Address, _ []byte) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, to)
	return common.BytesToHash([]byte{byte(len(s.to))}), nil
}

func (s *minedSender) WaitMined(context.Context, common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	to := s.to[len(s.to)-1]
	s.mu.Unlock()
	s.onMined(to)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)}, nil
}

func (s *minedSender) sent() []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Address(nil), s.to...)
}

type consoleFixture struct {
	loop      *poll.Loop
	chain     *protocoltest.Chain
	contracts config.Contracts
	session   *session.Session
	sender    *minedSender
	orch      *txflow.Orchestrator
}

func newConsoleFixture(t *testing.T) *consoleFixture {
	t.Helper()
	reader, chain, contracts := testChain(t)
	chain.SetBalance(testUSDC, testUser, big.NewInt(500_000_000))

	loop := poll.NewLoop(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	s := session.New(loop, reader, session.Config{Contracts: contracts, Account: testUser}, nil)

	f := &consoleFixture{loop: loop, chain: chain, contracts: contracts, session: s}
	f.sender = &minedSender{onMined: func(to common.Address) {
		switch to {
		case testUSDC:
			chain.SetAllowance(testUSDC, testUser, contracts.Swap, big.NewInt(1_000_000_000))
		case contracts.Swap:
			chain.SetBalance(testUSDC, testUser, big.NewInt(400_000_000))
		}
	}}
	cfg := txflow.Config{
		Contracts: contracts,
		Account:   testUser,
		OnFinal:   afterTransaction(ctx, loop, s, zap.NewNop()),
	}
	f.orch = txflow.NewOrchestrator(cfg, reader, f.sender, newPromptConfirmer(strings.NewReader(""), &bytes.Buffer{}, true), nil)

	require.NoError(t, loop.Do(context.Background(), func() {
		s.Start()
		s.Select(session.Selection{Amount: "100", SlippageBps: 50})
	}))
	return f
}

func (f *consoleFixture) console(input string, out *bytes.Buffer) *console {
	return &console{
		loop:    f.loop,
		session: f.session,
		router:  f.contracts.Swap,
		trader:  f.orch,
		in:      bufio.NewReader(strings.NewReader(input)),
		out:     out,
		logger:  zap.NewNop(),
	}
}

func (f *consoleFixture) swapEventually(t *testing.T, cond func(v session.SwapView) bool) session.SwapView {
	t.Helper()
	var last session.SwapView
	require.Eventually(t, func() bool {
		var ok bool
		err := f.loop.Do(context.Background(), func() {
			last = f.session.SwapView()
			ok = cond(last)
		})
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func TestConsoleApproveRefreshesSession(t *testing.T) {
	f := newConsoleFixture(t)
	f.swapEventually(t, func(v session.SwapView) bool { return v.Action == session.ActionApprove })

	var out bytes.Buffer
	require.NoError(t, f.console("approve\n", &out).run(context.Background()))
	assert.Contains(t, out.String(), "status    confirmed (success)")
	assert.Equal(t, []common.Address{testUSDC}, f.sender.sent())

	// allowance has no refresh interval; only the finished approval re-reads it.
	f.swapEventually(t, func(v session.SwapView) bool { return v.Action == session.ActionSwap })

	out.Reset()
	require.NoError(t, f.console("swap\n", &out).run(context.Background()))
	assert.Equal(t, []common.Address{testUSDC, f.contracts.Swap}, f.sender.sent())
	v := f.swapEventually(t, func(v session.SwapView) bool {
		return v.Balance != nil && v.Balance.Cmp(big.NewInt(400_000_000)) == 0
	})
	assert.Equal(t, session.ActionSwap, v.Action)
}

func TestConsoleRefusesActionTheViewDoesNotOffer(t *testing.T) {
	f := newConsoleFixture(t)
	f.swapEventually(t, func(v session.SwapView) bool { return v.Action == session.ActionApprove })

	var out bytes.Buffer
	require.NoError(t, f.console("swap\nwrap\n", &out).run(context.Background()))
	assert.Contains(t, out.String(), "cannot swap: approve USDC for the swap router")
	assert.Contains(t, out.String(), "cannot wrap: switch to wrap mode first")
	assert.Empty(t, f.sender.sent())
}

func TestConsoleEditsSelection(t *testing.T) {
	f := newConsoleFixture(t)
	f.swapEventually(t, func(v session.SwapView) bool { return v.From.Symbol == "USDC" && v.To.Symbol == "GHO" })

	var out bytes.Buffer
	input := "amount 5\nflip\nkeep-ious on\nslippage 30\nbogus\nslippage 20000\nmode wrap\nquit\namount 9\n"
	require.NoError(t, f.console(input, &out).run(context.Background()))

	var sel session.Selection
	require.NoError(t, f.loop.Do(context.Background(), func() { sel = f.session.Selection() }))
	assert.Equal(t, "5", sel.Amount, "commands after quit are not read")
	assert.Equal(t, testGHO, sel.From)
	assert.Equal(t, testUSDC, sel.To)
	assert.True(t, sel.KeepIOUs)
	assert.Equal(t, uint64(30), sel.SlippageBps)
	assert.Equal(t, session.ModeWrap, sel.Mode)
	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.Contains(t, out.String(), "slippage: want basis points")
}

func TestConsoleTokenBySymbol(t *testing.T) {
	f := newConsoleFixture(t)
	f.swapEventually(t, func(v session.SwapView) bool { return len(v.Tokens) == 2 && v.Tokens[1].Symbol == "GHO" })

	var out bytes.Buffer
	require.NoError(t, f.console("from gho\nto usdc\nshow\n", &out).run(context.Background()))
	v := f.swapEventually(t, func(v session.SwapView) bool { return v.From.Address == testGHO })
	assert.Equal(t, testUSDC, v.To.Address)
	assert.Contains(t, out.String(), "pair      GHO -> USDC")
}

func TestConsoleWithoutSigner(t *testing.T) {
	f := newConsoleFixture(t)
	f.swapEventually(t, func(v session.SwapView) bool { return v.Action == session.ActionApprove })

	var out bytes.Buffer
	c := f.console("approve\n", &out)
	c.trader = nil
	require.NoError(t, c.run(context.Background()))
	assert.Contains(t, out.String(), "signing requires --private-key")
}
