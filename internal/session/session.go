// Package session binds the user's selection to polled chain state and
// derives the swap and wrap views from it.
package session

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"clearClient/internal/config"
	"clearClient/internal/discovery"
	"clearClient/internal/model"
	"clearClient/internal/poll"
	"clearClient/internal/preview"
)

// Mode picks which screen the session feeds.
type Mode string

const (
	ModeSwap Mode = "swap"
	ModeWrap Mode = "wrap"
)

// Reader is the chain surface the session polls.
type Reader interface {
	discovery.Factory
	preview.Quoter
	VaultDetails(ctx context.Context, vault common.Address) (model.VaultDetails, error)
	VaultTokenMeta(ctx context.Context, tokens []model.VaultToken) (map[common.Address]model.TokenMeta, error)
	Price(ctx context.Context, asset common.Address) (model.PriceQuote, error)
	DepegThresholds(ctx context.Context) (model.DepegThresholds, error)
	Paused(ctx context.Context) (bool, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Selection is what the user has picked. Zero addresses fall back to the
// vault's first and second tokens. In wrap mode From is the token to wrap.
type Selection struct {
	Mode        Mode
	From        common.Address
	To          common.Address
	Amount      string
	KeepIOUs    bool
	SlippageBps uint64
}

type Config struct {
	Contracts config.Contracts
	Account   common.Address
	Intervals config.Intervals
}

// Session owns every slot the views read. All methods are loop-confined;
// call them through Loop.Do from other goroutines.
type Session struct {
	loop   *poll.Loop
	reader Reader
	cfg    Config
	logger *zap.Logger

	resolver   *discovery.Resolver
	details    *poll.Slot[model.VaultDetails]
	meta       *poll.Slot[map[common.Address]model.TokenMeta]
	thresholds *poll.Slot[model.DepegThresholds]
	paused     *poll.Slot[bool]
	fromPrice  *poll.Slot[model.PriceQuote]
	toPrice    *poll.Slot[model.PriceQuote]
	balance    *poll.Slot[*big.Int]
	iouBalance *poll.Slot[*big.Int]
	allowance  *poll.Slot[*big.Int]
	preview    *poll.Slot[model.SwapPreview]

	sel     Selection
	started bool
}

func New(loop *poll.Loop, reader Reader, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		loop:       loop,
		reader:     reader,
		cfg:        cfg,
		logger:     logger,
		resolver:   discovery.NewResolver(loop, reader, cfg.Contracts.Factory, cfg.Contracts.Vault, cfg.Intervals.Vault),
		details:    poll.NewSlot[model.VaultDetails](loop),
		meta:       poll.NewSlot[map[common.Address]model.TokenMeta](loop),
		thresholds: poll.NewSlot[model.DepegThresholds](loop),
		paused:     poll.NewSlot[bool](loop),
		fromPrice:  poll.NewSlot[model.PriceQuote](loop),
		toPrice:    poll.NewSlot[model.PriceQuote](loop),
		balance:    poll.NewSlot[*big.Int](loop),
		iouBalance: poll.NewSlot[*big.Int](loop),
		allowance:  poll.NewSlot[*big.Int](loop),
		preview:    poll.NewSlot[model.SwapPreview](loop),
		sel:        Selection{Mode: ModeSwap, SlippageBps: config.DefaultSlippageBps},
	}
}

// Start subscribes the session to the loop. Call it once, from the loop.
func (s *Session) Start() {
	if s.started {
		return
	}
	s.started = true
	s.resolver.Start()
	s.loop.OnChange(s.refresh)
	s.refresh()
}

// Select replaces the selection and rebinds every dependent line.
func (s *Session) Select(sel Selection) {
	if sel.Mode == "" {
		sel.Mode = ModeSwap
	}
	s.sel = sel
	s.refresh()
}

func (s *Session) Selection() Selection {
	return s.sel
}

// Vault returns the resolved vault address.
func (s *Session) Vault() (common.Address, bool) {
	return s.resolver.Address()
}

// Tokens is the vault's token list, or nil before details arrive.
func (s *Session) Tokens() []model.TokenMeta {
	return tokenList(s.details.Snapshot(), s.meta.Snapshot())
}

// Pair resolves the effective from/to tokens, applying the default pair.
func (s *Session) Pair() (from, to common.Address) {
	from, to = s.sel.From, s.sel.To
	tokens := s.Tokens()
	if from == (common.Address{}) && len(tokens) >= 2 {
		from = tokens[0].Address
	}
	if to == (common.Address{}) && len(tokens) >= 2 {
		to = tokens[1].Address
		if to == from {
			to = tokens[0].Address
		}
	}
	if s.sel.Mode == ModeWrap {
		if from == (common.Address{}) && len(tokens) > 0 {
			from = tokens[0].Address
		}
		to = common.Address{}
	}
	return from, to
}

// AmountIn parses the entered amount with the source token's decimals.
func (s *Session) AmountIn() *big.Int {
	from, _ := s.Pair()
	token, known := findToken(s.Tokens(), from)
	amount, err := parseAmount(s.sel.Amount, token, known)
	if err != nil {
		return nil
	}
	return amount
}

// RefetchAllowance re-reads the allowance; used after an approval confirms.
func (s *Session) RefetchAllowance() {
	s.allowance.Refetch()
}

// RefetchBalances re-reads the account balances; used after a swap or wrap.
func (s *Session) RefetchBalances() {
	s.balance.Refetch()
	s.iouBalance.Refetch()
}

// AfterTransaction refreshes the lines a finished transaction moved.
// Wire it to the orchestrator's OnFinal through Loop.Do.
func (s *Session) AfterTransaction(tx model.PendingTransaction) {
	if tx.Outcome != model.OutcomeSuccess {
		return
	}
	switch tx.Kind {
	case model.TxApprove:
		s.RefetchAllowance()
	case model.TxSwap, model.TxWrap:
		s.RefetchBalances()
		s.allowance.Refetch()
	}
}

// RefetchAll forces a read of every bound line.
func (s *Session) RefetchAll() {
	s.details.Refetch()
	s.thresholds.Refetch()
	s.paused.Refetch()
	s.fromPrice.Refetch()
	s.toPrice.Refetch()
	s.balance.Refetch()
	s.iouBalance.Refetch()
	s.allowance.Refetch()
	s.preview.Refetch()
}

func (s *Session) refresh() {
	s.resolver.Update()
	vault, _ := s.resolver.Address()
	contracts := s.cfg.Contracts
	iv := s.cfg.Intervals
	account := s.cfg.Account

	s.details.Bind(poll.Query[model.VaultDetails]{
		Endpoint: "details",
		Args:     []any{vault},
		Interval: iv.Vault,
		Fetch: func(ctx context.Context) (model.VaultDetails, error) {
			return s.reader.VaultDetails(ctx, vault)
		},
	})
	s.bindMeta(vault)

	s.thresholds.Bind(poll.Query[model.DepegThresholds]{
		Endpoint: "getDepegTresholdBps",
		Args:     []any{contracts.Swap},
		Retry:    iv.Vault,
		Fetch:    s.reader.DepegThresholds,
	})

	from, to := s.Pair()
	amount := s.AmountIn()
	swapping := s.sel.Mode != ModeWrap

	if swapping {
		s.paused.Bind(poll.Query[bool]{
			Endpoint: "paused",
			Args:     []any{contracts.Swap},
			Interval: iv.Vault,
			Fetch:    s.reader.Paused,
		})
		s.fromPrice.Bind(s.priceQuery(from))
		s.toPrice.Bind(s.priceQuery(to))
		s.iouBalance.Release()
	} else {
		s.paused.Release()
		s.fromPrice.Release()
		s.toPrice.Release()
		s.iouBalance.Bind(s.balanceQuery(s.iouOf(from), account))
	}

	s.balance.Bind(s.balanceQuery(from, account))

	spender := contracts.Swap
	if !swapping {
		spender = vault
	}
	s.allowance.Bind(poll.Query[*big.Int]{
		Endpoint: "allowance",
		Args:     []any{from, account, spender},
		Retry:    iv.Vault,
		Fetch: func(ctx context.Context) (*big.Int, error) {
			return s.reader.Allowance(ctx, from, account, spender)
		},
	})

	req := preview.Request{Vault: &vault, From: &from, To: &to, AmountIn: amount}
	if swapping && from != to {
		s.preview.Bind(preview.Query(s.reader, req, iv.Preview))
	} else {
		s.preview.Release()
	}
}

// bindMeta keys token metadata by vault. The token list is captured when the
// line is bound; a vault's token set is fixed at deployment.
func (s *Session) bindMeta(vault common.Address) {
	snap := s.details.Snapshot()
	if !snap.HasValue {
		s.meta.Release()
		return
	}
	tokens := append([]model.VaultToken(nil), snap.Value.Tokens...)
	s.meta.Bind(poll.Query[map[common.Address]model.TokenMeta]{
		Endpoint: "tokenMeta",
		Args:     []any{vault},
		Retry:    s.cfg.Intervals.Vault,
		Fetch: func(ctx context.Context) (map[common.Address]model.TokenMeta, error) {
			return s.reader.VaultTokenMeta(ctx, tokens)
		},
	})
}

func (s *Session) priceQuery(asset common.Address) poll.Query[model.PriceQuote] {
	return poll.Query[model.PriceQuote]{
		Endpoint: "getPriceAndRedemptionPrice",
		Args:     []any{asset},
		Interval: s.cfg.Intervals.Oracle,
		Fetch: func(ctx context.Context) (model.PriceQuote, error) {
			return s.reader.Price(ctx, asset)
		},
	}
}

func (s *Session) balanceQuery(token, owner common.Address) poll.Query[*big.Int] {
	return poll.Query[*big.Int]{
		Endpoint: "balanceOf",
		Args:     []any{token, owner},
		Interval: s.cfg.Intervals.Balance,
		Fetch: func(ctx context.Context) (*big.Int, error) {
			return s.reader.BalanceOf(ctx, token, owner)
		},
	}
}

func (s *Session) iouOf(token common.Address) common.Address {
	snap := s.details.Snapshot()
	if !snap.HasValue {
		return common.Address{}
	}
	vt, ok := snap.Value.Token(token)
	if !ok {
		return common.Address{}
	}
	return vt.IOU
}

// SwapView computes the swap screen from the current snapshots.
func (s *Session) SwapView() SwapView {
	vault, _ := s.resolver.Address()
	from, to := s.Pair()
	return BuildSwapView(SwapInputs{
		Vault:       vault,
		VaultStatus: s.resolver.Status(),
		Account:     s.cfg.Account,
		Details:     s.details.Snapshot(),
		Meta:        s.meta.Snapshot(),
		From:        from,
		To:          to,
		Amount:      s.sel.Amount,
		KeepIOUs:    s.sel.KeepIOUs,
		SlippageBps: s.sel.SlippageBps,
		Thresholds:  s.thresholds.Snapshot(),
		Paused:      s.paused.Snapshot(),
		FromPrice:   s.fromPrice.Snapshot(),
		ToPrice:     s.toPrice.Snapshot(),
		Balance:     s.balance.Snapshot(),
		Allowance:   s.allowance.Snapshot(),
		Preview:     s.preview.Snapshot(),
	})
}

// WrapView computes the wrap screen from the current snapshots.
func (s *Session) WrapView() WrapView {
	vault, _ := s.resolver.Address()
	token, _ := s.Pair()
	return BuildWrapView(WrapInputs{
		Vault:       vault,
		VaultStatus: s.resolver.Status(),
		Account:     s.cfg.Account,
		Details:     s.details.Snapshot(),
		Meta:        s.meta.Snapshot(),
		Token:       token,
		Amount:      s.sel.Amount,
		Balance:     s.balance.Snapshot(),
		IOUBalance:  s.iouBalance.Snapshot(),
		Allowance:   s.allowance.Snapshot(),
	})
}

// Details returns the vault details line.
func (s *Session) Details() poll.Snapshot[model.VaultDetails] {
	return s.details.Snapshot()
}
