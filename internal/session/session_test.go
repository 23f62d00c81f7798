package session

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearClient/internal/config"
	"clearClient/internal/model"
	"clearClient/internal/poll"
	"clearClient/internal/protocol"
	"clearClient/internal/protocol/protocoltest"
)

type fixture struct {
	loop      *poll.Loop
	chain     *protocoltest.Chain
	contracts config.Contracts
	session   *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, config.Intervals{})
}

func newFixtureWith(t *testing.T, intervals config.Intervals) *fixture {
	t.Helper()
	contracts, err := config.NewContracts(config.Config{})
	require.NoError(t, err)

	chain := protocoltest.NewChain()
	chain.AddVault(vault, details())
	chain.SetToken(usdc, "USDC", 6)
	chain.SetToken(gho, "GHO", 18)
	chain.SetThresholds(9900, 9000)
	chain.SetPrice(usdc, 95_000_000)
	chain.SetPrice(gho, 100_000_000)
	chain.SetBalance(usdc, user, exp(1000, 6))
	chain.SetPreview(func(_, _, _ common.Address, amountIn *big.Int) model.SwapPreview {
		return model.SwapPreview{
			AmountOut: new(big.Int).Mul(amountIn, big.NewInt(1_000_000_000_000)),
			IOUAmount: new(big.Int),
		}
	})

	loop := poll.NewLoop(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	reader := protocol.NewReader(chain, contracts, nil)
	s := New(loop, reader, Config{Contracts: contracts, Account: user, Intervals: intervals}, nil)
	return &fixture{loop: loop, chain: chain, contracts: contracts, session: s}
}

func (f *fixture) on(t *testing.T, fn func(s *Session)) {
	t.Helper()
	require.NoError(t, f.loop.Do(context.Background(), func() { fn(f.session) }))
}

func (f *fixture) swapEventually(t *testing.T, cond func(v SwapView) bool) SwapView {
	t.Helper()
	var last SwapView
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

func TestSessionDefaultsPairAndGatesOnApproval(t *testing.T) {
	f := newFixture(t)
	f.on(t, func(s *Session) {
		s.Start()
		s.Select(Selection{Amount: "100", SlippageBps: 50})
	})

	v := f.swapEventually(t, func(v SwapView) bool {
		return v.Action == ActionApprove && v.Balance != nil && v.From.Symbol != ""
	})
	assert.Equal(t, vault, v.Vault)
	assert.Equal(t, usdc, v.From.Address)
	assert.Equal(t, "USDC", v.From.Symbol)
	assert.Equal(t, gho, v.To.Address)
	assert.True(t, v.Route.IsOpen)
	assert.Equal(t, exp(1000, 6), v.Balance)

	f.chain.SetAllowance(usdc, user, f.contracts.Swap, exp(1000, 6))
	f.on(t, func(s *Session) {
		s.AfterTransaction(model.PendingTransaction{Kind: model.TxApprove, Outcome: model.OutcomeFailed})
	})
	assert.Equal(t, ActionApprove, f.swapEventually(t, func(SwapView) bool { return true }).Action, "a failed approval refetches nothing")

	f.on(t, func(s *Session) {
		s.AfterTransaction(model.PendingTransaction{Kind: model.TxApprove, Outcome: model.OutcomeSuccess})
	})

	v = f.swapEventually(t, func(v SwapView) bool { return v.Action == ActionSwap })
	assert.Equal(t, exp(100, 18), v.Output)
	assert.Equal(t, "99500000000000000000", v.MinReceived.String())
}

func TestSessionPreviewFollowsLatestAmount(t *testing.T) {
	f := newFixture(t)
	release := f.chain.Hold("previewSwap")
	f.on(t, func(s *Session) {
		s.Start()
		s.Select(Selection{Amount: "100"})
	})
	require.Eventually(t, func() bool { return f.chain.Calls("previewSwap") >= 1 }, 2*time.Second, 5*time.Millisecond)

	f.on(t, func(s *Session) { s.Select(Selection{Amount: "200"}) })
	release()

	v := f.swapEventually(t, func(v SwapView) bool { return v.PreviewStatus == poll.StatusReady })
	assert.Equal(t, exp(200, 18), v.Output)
}

func TestSessionPairChangeDiscardsInFlightPreview(t *testing.T) {
	f := newFixture(t)
	scale := big.NewInt(1_000_000_000_000)
	f.chain.SetPreview(func(_, from, _ common.Address, amountIn *big.Int) model.SwapPreview {
		out := new(big.Int).Mul(amountIn, scale)
		if from == gho {
			out = new(big.Int).Quo(amountIn, scale)
		}
		return model.SwapPreview{AmountOut: out, IOUAmount: new(big.Int)}
	})
	f.chain.SetPrice(gho, 95_000_000)
	f.chain.SetPrice(usdc, 100_000_000)

	release := f.chain.Hold("previewSwap")
	f.on(t, func(s *Session) {
		s.Start()
		s.Select(Selection{From: usdc, To: gho, Amount: "100"})
	})
	require.Eventually(t, func() bool { return f.chain.Calls("previewSwap") >= 1 }, 2*time.Second, 5*time.Millisecond)

	f.on(t, func(s *Session) { s.Select(Selection{From: gho, To: usdc, Amount: "100"}) })
	release()

	v := f.swapEventually(t, func(v SwapView) bool {
		return v.PreviewStatus == poll.StatusReady && v.Output != nil && v.From.Address == gho
	})
	assert.Equal(t, usdc, v.To.Address)
	assert.Equal(t, exp(100, 6), v.Output, "the usdc-to-gho quote never lands on the new pair")
}

func TestSessionClosedRoute(t *testing.T) {
	f := newFixture(t)
	f.chain.SetPrice(usdc, 100_000_000)
	f.chain.SetAllowance(usdc, user, f.contracts.Swap, exp(1000, 6))
	f.on(t, func(s *Session) {
		s.Start()
		s.Select(Selection{Amount: "1"})
	})

	v := f.swapEventually(t, func(v SwapView) bool { return !v.RouteLoading })
	assert.False(t, v.Route.IsOpen)
	assert.Equal(t, ActionNone, v.Action)
	assert.Equal(t, "route closed: asset not depegged", v.Reason)
}

func TestSessionThresholdsRecoverAfterFailedRead(t *testing.T) {
	f := newFixtureWith(t, config.Intervals{Vault: 10 * time.Millisecond})
	f.chain.SetAllowance(usdc, user, f.contracts.Swap, exp(1000, 6))
	f.chain.Fail("getDepegTresholdBps", errors.New("execution reverted"))
	f.on(t, func(s *Session) {
		s.Start()
		s.Select(Selection{Amount: "1"})
	})

	v := f.swapEventually(t, func(v SwapView) bool { return v.RouteErr != nil && v.From.Symbol != "" })
	assert.Equal(t, ActionNone, v.Action)
	assert.Contains(t, v.Reason, "route unavailable")

	f.chain.Fail("getDepegTresholdBps", nil)
	v = f.swapEventually(t, func(v SwapView) bool { return v.Action == ActionSwap })
	assert.Nil(t, v.RouteErr)
	assert.True(t, v.Route.IsOpen)
}

func TestSessionUnknownTokenIssuesNoPreview(t *testing.T) {
	f := newFixture(t)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	f.on(t, func(s *Session) {
		s.Start()
		s.Select(Selection{From: stranger, To: gho, Amount: "1"})
	})

	v := f.swapEventually(t, func(v SwapView) bool { return len(v.Tokens) == 2 })
	assert.Error(t, v.AmountErr)
	assert.Nil(t, v.AmountIn)
	assert.Zero(t, f.chain.Calls("previewSwap"))
}

func TestSessionWrapMode(t *testing.T) {
	f := newFixture(t)
	f.chain.SetBalance(iou, user, big.NewInt(7))
	f.chain.SetAllowance(usdc, user, vault, exp(50, 6))
	f.on(t, func(s *Session) {
		s.Start()
		s.Select(Selection{Mode: ModeWrap, Amount: "10"})
	})

	var v WrapView
	require.Eventually(t, func() bool {
		var ok bool
		err := f.loop.Do(context.Background(), func() {
			v = f.session.WrapView()
			ok = v.Action == ActionWrap && v.IOUBalance != nil
		})
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, usdc, v.Token.Address)
	assert.Equal(t, iou, v.IOU)
	assert.Equal(t, big.NewInt(7), v.IOUBalance)
	assert.Zero(t, f.chain.Calls("previewSwap"), "wrap mode never quotes swaps")
	assert.Zero(t, f.chain.Calls("getPriceAndRedemptionPrice"))
}
