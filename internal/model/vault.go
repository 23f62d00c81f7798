package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultToken is one entry of the vault's token list as returned by details().
type VaultToken struct {
	Addr               common.Address `json:"addr"`
	IOU                common.Address `json:"iou"`
	IOUCurvePool       common.Address `json:"iou_curve_pool"`
	Adapter            common.Address `json:"adapter"`
	MaxExposureBps     *big.Int       `json:"max_exposure_bps"`
	DesiredExposureBps *big.Int       `json:"desired_exposure_bps"`
	EmittedIOU         *big.Int       `json:"emitted_iou"`
	Balance            *big.Int       `json:"balance"`
	Exposure           *big.Int       `json:"exposure"`
	Decimals           uint8          `json:"decimals"`
}

// VaultDetails is a full snapshot of the vault. Snapshots are replaced, never mutated.
type VaultDetails struct {
	IOUFeeBps                   *big.Int     `json:"iou_fee_bps"`
	MaxRebalanceBpsSpread       *big.Int     `json:"max_rebalance_bps_spread"`
	DesiredExposureMaxBpsSpread *big.Int     `json:"desired_exposure_max_bps_spread"`
	TotalAssets                 *big.Int     `json:"total_assets"`
	Tokens                      []VaultToken `json:"tokens"`
}

// Token looks up a vault token by its address.
func (d VaultDetails) Token(addr common.Address) (VaultToken, bool) {
	for _, t := range d.Tokens {
		if t.Addr == addr {
			return t, true
		}
	}
	return VaultToken{}, false
}
