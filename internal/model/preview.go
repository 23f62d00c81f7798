package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapPreview is the contract's answer to previewSwap.
type SwapPreview struct {
	AmountOut *big.Int `json:"amount_out"`
	IOUAmount *big.Int `json:"iou_amount"`
}

// PreviewKey identifies the tuple a preview was computed for.
type PreviewKey struct {
	Vault    common.Address
	From     common.Address
	To       common.Address
	AmountIn string
}

func (k PreviewKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Vault.Hex(), k.From.Hex(), k.To.Hex(), k.AmountIn)
}
