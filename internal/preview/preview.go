// Package preview quotes swaps through the router's read-only simulation.
package preview

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"clearClient/internal/model"
	"clearClient/internal/poll"
)

// ErrSlippage is returned for a tolerance outside 0..10000 bps.
var ErrSlippage = errors.New("slippage must be within 0..10000 bps")

// Quoter is the remote simulation entry point.
type Quoter interface {
	PreviewSwap(ctx context.Context, vault, from, to common.Address, amountIn *big.Int) (model.SwapPreview, error)
}

// Request is a possibly incomplete preview tuple.
type Request struct {
	Vault    *common.Address
	From     *common.Address
	To       *common.Address
	AmountIn *big.Int
}

// Enabled reports whether the tuple is complete with a positive amount.
func (r Request) Enabled() bool {
	return isSet(r.Vault) && isSet(r.From) && isSet(r.To) && r.AmountIn != nil && r.AmountIn.Sign() > 0
}

// Key identifies the tuple. Only meaningful when Enabled.
func (r Request) Key() model.PreviewKey {
	k := model.PreviewKey{}
	if r.Vault != nil {
		k.Vault = *r.Vault
	}
	if r.From != nil {
		k.From = *r.From
	}
	if r.To != nil {
		k.To = *r.To
	}
	if r.AmountIn != nil {
		k.AmountIn = r.AmountIn.String()
	}
	return k
}

func isSet(a *common.Address) bool {
	return a != nil && *a != (common.Address{})
}

// Query builds the polled line for the request. A disabled request yields a
// disabled query, so no read is ever issued for it.
func Query(q Quoter, req Request, interval time.Duration) poll.Query[model.SwapPreview] {
	enabled := req.Enabled()
	query := poll.Query[model.SwapPreview]{
		Endpoint: "previewSwap",
		Interval: interval,
		Disabled: !enabled,
	}
	if !enabled {
		return query
	}
	vault, from, to, amount := *req.Vault, *req.From, *req.To, new(big.Int).Set(req.AmountIn)
	query.Args = []any{vault, from, to, amount}
	query.Fetch = func(ctx context.Context) (model.SwapPreview, error) {
		return q.PreviewSwap(ctx, vault, from, to, amount)
	}
	return query
}

// Fetch quotes once. It reports ok=false without a remote call when the request is disabled.
func Fetch(ctx context.Context, q Quoter, req Request) (model.SwapPreview, bool, error) {
	if !req.Enabled() {
		return model.SwapPreview{}, false, nil
	}
	p, err := q.PreviewSwap(ctx, *req.Vault, *req.From, *req.To, req.AmountIn)
	if err != nil {
		return model.SwapPreview{}, false, fmt.Errorf("preview swap: %w", err)
	}
	return p, true, nil
}

// Display is the amount shown to the user. When IOUs are kept they are shown
// separately; otherwise they are counted at the previewed rate.
func Display(p model.SwapPreview, keepIOUs bool) *big.Int {
	out := orZero(p.AmountOut)
	if keepIOUs {
		return new(big.Int).Set(out)
	}
	return new(big.Int).Add(out, orZero(p.IOUAmount))
}

// MinReceived is floor(total*(10000-bps)/10000) in integer arithmetic.
func MinReceived(total *big.Int, slippageBps uint64) (*big.Int, error) {
	if slippageBps > 10_000 {
		return nil, ErrSlippage
	}
	if total == nil || total.Sign() <= 0 {
		return new(big.Int), nil
	}
	t, overflow := uint256.FromBig(total)
	if overflow {
		return nil, fmt.Errorf("amount exceeds 256 bits")
	}
	keep := uint256.NewInt(10_000 - slippageBps)
	out, overflow := new(uint256.Int).MulDivOverflow(t, keep, uint256.NewInt(10_000))
	if overflow {
		return nil, fmt.Errorf("min received overflow")
	}
	return out.ToBig(), nil
}

// MinAmountOut is the swap call's protection argument. The router compares it
// with the base amount out, so IOUs are not included.
func MinAmountOut(p model.SwapPreview, slippageBps uint64) (*big.Int, error) {
	return MinReceived(orZero(p.AmountOut), slippageBps)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
