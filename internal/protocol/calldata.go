package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PackApprove encodes ERC20 approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := erc20ABI.get()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return parsed.Pack("approve", spender, amount)
}

// SwapArgs are the arguments of the router's swap call.
type SwapArgs struct {
	Receiver     common.Address
	Vault        common.Address
	From         common.Address
	To           common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	ReceiveIOU   bool
}

// PackSwap encodes swap(receiver, vault, from, to, amountIn, minAmountOut, receiveIOU).
func PackSwap(args SwapArgs) ([]byte, error) {
	parsed, err := swapABI.get()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return parsed.Pack("swap", args.Receiver, args.Vault, args.From, args.To, args.AmountIn, args.MinAmountOut, args.ReceiveIOU)
}

// PackWrapIOU encodes the vault's wrapIOU(token, receiver, amount).
func PackWrapIOU(token, receiver common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := vaultABI.get()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return parsed.Pack("wrapIOU", token, receiver, amount)
}
