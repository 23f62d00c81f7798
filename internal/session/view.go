package session

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"clearClient/internal/model"
	"clearClient/internal/poll"
	"clearClient/internal/preview"
	"clearClient/internal/route"
	"clearClient/internal/txflow"
	"clearClient/internal/units"
)

// Action is the one thing the user may do next.
type Action string

const (
	ActionNone    Action = "none"
	ActionApprove Action = "approve"
	ActionSwap    Action = "swap"
	ActionWrap    Action = "wrap"
)

// SwapInputs are the snapshots a swap view is computed from.
type SwapInputs struct {
	Vault       common.Address
	VaultStatus poll.Status
	Account     common.Address
	Details     poll.Snapshot[model.VaultDetails]
	Meta        poll.Snapshot[map[common.Address]model.TokenMeta]
	From        common.Address
	To          common.Address
	Amount      string
	KeepIOUs    bool
	SlippageBps uint64
	Thresholds  poll.Snapshot[model.DepegThresholds]
	Paused      poll.Snapshot[bool]
	FromPrice   poll.Snapshot[model.PriceQuote]
	ToPrice     poll.Snapshot[model.PriceQuote]
	Balance     poll.Snapshot[*big.Int]
	Allowance   poll.Snapshot[*big.Int]
	Preview     poll.Snapshot[model.SwapPreview]
}

// SwapView is everything the swap screen shows. It is recomputed, never stored.
type SwapView struct {
	Vault  common.Address
	Tokens []model.TokenMeta
	From   model.TokenMeta
	To     model.TokenMeta

	AmountIn  *big.Int
	AmountErr error

	Route        model.RouteStatus
	RouteLoading bool
	RouteErr     error
	Paused       bool

	PreviewStatus poll.Status
	PreviewErr    error
	Output        *big.Int
	IOUs          *big.Int
	MinReceived   *big.Int

	Balance             *big.Int
	InsufficientBalance bool
	Allowance           *big.Int
	AllowanceErr        error
	NeedsApproval       bool

	Action Action
	Reason string
}

// WrapInputs are the snapshots a wrap view is computed from.
type WrapInputs struct {
	Vault       common.Address
	VaultStatus poll.Status
	Account     common.Address
	Details     poll.Snapshot[model.VaultDetails]
	Meta        poll.Snapshot[map[common.Address]model.TokenMeta]
	Token       common.Address
	Amount      string
	Balance     poll.Snapshot[*big.Int]
	IOUBalance  poll.Snapshot[*big.Int]
	Allowance   poll.Snapshot[*big.Int]
}

// WrapView is everything the wrap screen shows.
type WrapView struct {
	Vault  common.Address
	Tokens []model.TokenMeta
	Token  model.TokenMeta
	IOU    common.Address

	AmountIn  *big.Int
	AmountErr error

	Balance             *big.Int
	InsufficientBalance bool
	IOUBalance          *big.Int
	Allowance           *big.Int
	AllowanceErr        error
	NeedsApproval       bool

	Action Action
	Reason string
}

func tokenList(details poll.Snapshot[model.VaultDetails], meta poll.Snapshot[map[common.Address]model.TokenMeta]) []model.TokenMeta {
	if !details.HasValue {
		return nil
	}
	known := meta.Value
	out := make([]model.TokenMeta, 0, len(details.Value.Tokens))
	for _, t := range details.Value.Tokens {
		m, ok := known[t.Addr]
		if !ok {
			m = model.TokenMeta{Address: t.Addr}
		}
		m.Decimals = t.Decimals
		out = append(out, m)
	}
	return out
}

func findToken(tokens []model.TokenMeta, addr common.Address) (model.TokenMeta, bool) {
	for _, t := range tokens {
		if t.Address == addr {
			return t, true
		}
	}
	return model.TokenMeta{Address: addr}, false
}

// parseAmount uses the token's declared decimals. A token outside the vault has
// no known precision, so its amount stays unresolved.
func parseAmount(text string, token model.TokenMeta, known bool) (*big.Int, error) {
	if text == "" {
		return nil, nil
	}
	if !known {
		return nil, errors.New("token is not part of the vault")
	}
	return units.ParseUnits(text, token.Decimals)
}

func value[T any](s poll.Snapshot[T]) (T, bool) {
	return s.Get()
}

// BuildSwapView derives the swap view from snapshots. It has no side effects.
func BuildSwapView(in SwapInputs) SwapView {
	v := SwapView{Vault: in.Vault, Tokens: tokenList(in.Details, in.Meta)}
	from, fromKnown := findToken(v.Tokens, in.From)
	to, _ := findToken(v.Tokens, in.To)
	v.From, v.To = from, to

	v.AmountIn, v.AmountErr = parseAmount(in.Amount, from, fromKnown)
	v.Route, v.RouteLoading = routeOrLoading(in)
	if v.RouteLoading {
		v.RouteErr = firstFailure(in.Thresholds.Failure(), in.FromPrice.Failure(), in.ToPrice.Failure())
	}
	v.Paused = in.Paused.Ready() && in.Paused.Value
	v.PreviewStatus = in.Preview.Status
	v.PreviewErr = in.Preview.Failure()
	v.AllowanceErr = in.Allowance.Failure()

	if p, ok := value(in.Preview); ok && v.AmountIn != nil {
		v.Output = preview.Display(p, in.KeepIOUs)
		if in.KeepIOUs {
			v.IOUs = p.IOUAmount
		}
		v.MinReceived, _ = preview.MinReceived(v.Output, in.SlippageBps)
	}
	if bal, ok := value(in.Balance); ok {
		v.Balance = bal
		v.InsufficientBalance = v.AmountIn != nil && bal.Cmp(v.AmountIn) < 0
	}
	if allowance, ok := value(in.Allowance); ok {
		v.Allowance = allowance
		v.NeedsApproval = txflow.NeedsApproval(v.AmountIn, allowance)
	}

	v.Action, v.Reason = swapAction(in, v)
	return v
}

func routeOrLoading(in SwapInputs) (model.RouteStatus, bool) {
	if in.From == (common.Address{}) || in.To == (common.Address{}) {
		return model.RouteStatus{}, true
	}
	status, ok := route.FromSnapshots(in.Thresholds, in.FromPrice, in.ToPrice)
	return status, !ok
}

func firstFailure(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func swapAction(in SwapInputs, v SwapView) (Action, string) {
	switch {
	case in.VaultStatus != poll.StatusReady:
		return ActionNone, "vault not resolved"
	case in.Account == (common.Address{}):
		return ActionNone, "no account configured"
	case in.From == (common.Address{}) || in.To == (common.Address{}):
		return ActionNone, "select a token pair"
	case in.From == in.To:
		return ActionNone, "pick two different tokens"
	case v.Paused:
		return ActionNone, "swap router is paused"
	case v.RouteErr != nil:
		return ActionNone, "route unavailable: " + v.RouteErr.Error()
	case v.RouteLoading:
		return ActionNone, "route status loading"
	case !v.Route.IsOpen:
		return ActionNone, "route closed: asset not depegged"
	case v.AmountErr != nil:
		return ActionNone, v.AmountErr.Error()
	case v.AmountIn == nil || v.AmountIn.Sign() == 0:
		return ActionNone, "enter an amount"
	case v.AllowanceErr != nil:
		return ActionNone, "allowance read failed: " + v.AllowanceErr.Error()
	case v.Allowance == nil:
		return ActionNone, "allowance loading"
	case v.NeedsApproval:
		return ActionApprove, "approve " + v.From.Label() + " for the swap router"
	case v.PreviewErr != nil:
		return ActionNone, "quote failed: " + v.PreviewErr.Error()
	case v.Output == nil:
		return ActionNone, "quote loading"
	default:
		return ActionSwap, ""
	}
}

// BuildWrapView derives the wrap view from snapshots.
func BuildWrapView(in WrapInputs) WrapView {
	v := WrapView{Vault: in.Vault, Tokens: tokenList(in.Details, in.Meta)}
	token, known := findToken(v.Tokens, in.Token)
	v.Token = token
	if in.Details.HasValue {
		if vt, ok := in.Details.Value.Token(in.Token); ok {
			v.IOU = vt.IOU
		}
	}
	v.AmountIn, v.AmountErr = parseAmount(in.Amount, token, known)
	v.AllowanceErr = in.Allowance.Failure()

	if bal, ok := value(in.Balance); ok {
		v.Balance = bal
		v.InsufficientBalance = v.AmountIn != nil && bal.Cmp(v.AmountIn) < 0
	}
	if bal, ok := value(in.IOUBalance); ok {
		v.IOUBalance = bal
	}
	if allowance, ok := value(in.Allowance); ok {
		v.Allowance = allowance
		v.NeedsApproval = txflow.NeedsApproval(v.AmountIn, allowance)
	}

	switch {
	case in.VaultStatus != poll.StatusReady:
		v.Action, v.Reason = ActionNone, "vault not resolved"
	case in.Account == (common.Address{}):
		v.Action, v.Reason = ActionNone, "no account configured"
	case in.Token == (common.Address{}):
		v.Action, v.Reason = ActionNone, "select a token"
	case v.AmountErr != nil:
		v.Action, v.Reason = ActionNone, v.AmountErr.Error()
	case v.AmountIn == nil || v.AmountIn.Sign() == 0:
		v.Action, v.Reason = ActionNone, "enter an amount"
	case v.AllowanceErr != nil:
		v.Action, v.Reason = ActionNone, "allowance read failed: "+v.AllowanceErr.Error()
	case v.Allowance == nil:
		v.Action, v.Reason = ActionNone, "allowance loading"
	case v.NeedsApproval:
		v.Action, v.Reason = ActionApprove, "approve "+v.Token.Label()+" for the vault"
	default:
		v.Action = ActionWrap
	}
	return v
}
