// Package route decides whether the swap router will accept a pair at current prices.
package route

import (
	"math/big"

	"github.com/holiman/uint256"

	"clearClient/internal/model"
	"clearClient/internal/poll"
)

var bpsDenominator = uint256.NewInt(10_000)

// Evaluate derives the route status from the router thresholds and both oracle prices.
// It returns false while any input is missing. Prices share the oracle's 1e8 scale.
//
// The route is open iff toPrice*maxDepegBps/10000 < fromPrice < toPrice*depegBps/10000,
// with floor division in 256-bit arithmetic as the contract performs it.
func Evaluate(depegBps, maxDepegBps, fromPrice, toPrice *big.Int) (model.RouteStatus, bool) {
	if depegBps == nil || maxDepegBps == nil || fromPrice == nil || toPrice == nil {
		return model.RouteStatus{}, false
	}

	status := model.RouteStatus{
		FromPriceUSD: model.ScaledToFloat(fromPrice),
		ToPriceUSD:   model.ScaledToFloat(toPrice),
		ThresholdBps: clampUint64(depegBps),
	}

	depeg, ok1 := toUint256(depegBps)
	maxDepeg, ok2 := toUint256(maxDepegBps)
	from, ok3 := toUint256(fromPrice)
	to, ok4 := toUint256(toPrice)
	if !(ok1 && ok2 && ok3 && ok4) || to.IsZero() {
		return status, true
	}

	threshold, overflow := new(uint256.Int).MulDivOverflow(to, depeg, bpsDenominator)
	if overflow {
		return status, true
	}
	maxThreshold, overflow := new(uint256.Int).MulDivOverflow(to, maxDepeg, bpsDenominator)
	if overflow {
		return status, true
	}
	status.IsOpen = from.Lt(threshold) && from.Gt(maxThreshold)
	status.DepegPercent = depegPercent(fromPrice, toPrice)
	return status, true
}

// depegPercent is (10000 - floor(from*10000/to)) / 100. The floor happens before
// scaling, so the result moves in steps of 0.01.
func depegPercent(from, to *big.Int) float64 {
	ratio := new(big.Int).Mul(from, big.NewInt(10_000))
	ratio.Quo(ratio, to)
	diff := new(big.Int).Sub(big.NewInt(10_000), ratio)
	f, _ := new(big.Float).SetInt(diff).Float64()
	return f / 100
}

// FromSnapshots evaluates using whatever the cache lines currently hold.
// Only ready lines count; anything else reports loading.
func FromSnapshots(thresholds poll.Snapshot[model.DepegThresholds], from, to poll.Snapshot[model.PriceQuote]) (model.RouteStatus, bool) {
	th, ok := thresholds.Get()
	if !ok {
		return model.RouteStatus{}, false
	}
	fq, ok := from.Get()
	if !ok {
		return model.RouteStatus{}, false
	}
	tq, ok := to.Get()
	if !ok {
		return model.RouteStatus{}, false
	}
	return Evaluate(th.DepegBps, th.MaxDepegBps, fq.Price, tq.Price)
}

func toUint256(v *big.Int) (*uint256.Int, bool) {
	if v.Sign() < 0 {
		return nil, false
	}
	u, overflow := uint256.FromBig(v)
	return u, !overflow
}

func clampUint64(v *big.Int) uint64 {
	if v.Sign() < 0 {
		return 0
	}
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
