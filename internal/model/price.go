package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point scale of oracle prices.
var PriceScale = big.NewInt(100_000_000)

// PriceQuote is the oracle answer for one asset.
type PriceQuote struct {
	Asset           common.Address `json:"asset"`
	Price           *big.Int       `json:"price"`
	RedemptionPrice *big.Int       `json:"redemption_price"`
}

// USD converts the market price to a float for display.
func (q PriceQuote) USD() float64 {
	return ScaledToFloat(q.Price)
}

// ScaledToFloat converts a 1e8-scaled price to a float.
func ScaledToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(v, PriceScale).Float64()
	return f
}

// DepegThresholds are the swap contract's band parameters in basis points of the target price.
type DepegThresholds struct {
	DepegBps    *big.Int `json:"depeg_bps"`
	MaxDepegBps *big.Int `json:"max_depeg_bps"`
}
