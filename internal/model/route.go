package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RouteStatus is derived from prices and thresholds; it is never stored in a cache line.
type RouteStatus struct {
	IsOpen       bool    `json:"is_open"`
	DepegPercent float64 `json:"depeg_percent"`
	FromPriceUSD float64 `json:"from_price_usd"`
	ToPriceUSD   float64 `json:"to_price_usd"`
	ThresholdBps uint64  `json:"threshold_bps"`
}

// RouteObservation is a journal record of an evaluated route.
type RouteObservation struct {
	Vault      common.Address `json:"vault"`
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	Status     RouteStatus    `json:"status"`
	ObservedAt time.Time      `json:"observed_at"`
}
