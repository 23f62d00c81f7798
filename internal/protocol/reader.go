package protocol

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"clearClient/internal/config"
	"clearClient/internal/model"
)

// Caller is the read side of an RPC client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader performs typed reads against the protocol contracts and ERC20 tokens.
type Reader struct {
	caller    Caller
	contracts config.Contracts
	tokens    *TokenMetaCache
	logger    *zap.Logger
}

// NewReader binds a caller to the configured contract set.
func NewReader(caller Caller, contracts config.Contracts, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		caller:    caller,
		contracts: contracts,
		tokens:    NewTokenMetaCache(),
		logger:    logger,
	}
}

// Contracts returns the address set the reader was built with.
func (r *Reader) Contracts() config.Contracts {
	return r.contracts
}

func (r *Reader) call(ctx context.Context, lazy *lazyABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := lazy.get()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return callMethod(ctx, r.caller, parsed, to, method, args...)
}

func callMethod(ctx context.Context, caller Caller, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, &RemoteCallError{Contract: to, Method: method, Err: err}
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, &RemoteCallError{Contract: to, Method: method, Err: fmt.Errorf("unpack: %w", err)}
	}
	return values, nil
}

// VaultsLength reads the number of vaults deployed by the factory.
func (r *Reader) VaultsLength(ctx context.Context) (*big.Int, error) {
	values, err := r.call(ctx, factoryABI, r.contracts.Factory, "vaultsLength")
	if err != nil {
		return nil, err
	}
	if err := expectLen("vaultsLength", values, 1); err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// VaultAt reads the factory's vault list at index.
func (r *Reader) VaultAt(ctx context.Context, index *big.Int) (common.Address, error) {
	values, err := r.call(ctx, factoryABI, r.contracts.Factory, "vaults", index)
	if err != nil {
		return common.Address{}, err
	}
	if err := expectLen("vaults", values, 1); err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

type vaultTokenTuple struct {
	Addr               common.Address
	Iou                common.Address
	IouCurvePool       common.Address
	Adapter            common.Address
	MaxExposureBps     *big.Int
	DesiredExposureBps *big.Int
	EmitedIou          *big.Int
	Balance            *big.Int
	Exposure           *big.Int
	Decimals           uint8
}

// VaultDetails reads the full vault snapshot.
func (r *Reader) VaultDetails(ctx context.Context, vault common.Address) (model.VaultDetails, error) {
	values, err := r.call(ctx, vaultABI, vault, "details")
	if err != nil {
		return model.VaultDetails{}, err
	}
	if err := expectLen("details", values, 5); err != nil {
		return model.VaultDetails{}, err
	}
	return decodeVaultDetails(values)
}

func decodeVaultDetails(values []interface{}) (model.VaultDetails, error) {
	var out model.VaultDetails
	fields := []**big.Int{&out.IOUFeeBps, &out.MaxRebalanceBpsSpread, &out.DesiredExposureMaxBpsSpread, &out.TotalAssets}
	for i, dst := range fields {
		v, err := asBigInt(values[i])
		if err != nil {
			return model.VaultDetails{}, fmt.Errorf("details field %d: %w", i, err)
		}
		*dst = v
	}

	tuples, ok := abi.ConvertType(values[4], new([]vaultTokenTuple)).(*[]vaultTokenTuple)
	if !ok {
		return model.VaultDetails{}, fmt.Errorf("details tokens: unexpected type %T", values[4])
	}
	out.Tokens = make([]model.VaultToken, 0, len(*tuples))
	for _, t := range *tuples {
		out.Tokens = append(out.Tokens, model.VaultToken{
			Addr:               t.Addr,
			IOU:                t.Iou,
			IOUCurvePool:       t.IouCurvePool,
			Adapter:            t.Adapter,
			MaxExposureBps:     t.MaxExposureBps,
			DesiredExposureBps: t.DesiredExposureBps,
			EmittedIOU:         t.EmitedIou,
			Balance:            t.Balance,
			Exposure:           t.Exposure,
			Decimals:           t.Decimals,
		})
	}
	return out, nil
}

// IsBalanced reports whether the vault considers its exposures within target.
func (r *Reader) IsBalanced(ctx context.Context, vault common.Address) (bool, error) {
	values, err := r.call(ctx, vaultABI, vault, "isBalanced")
	if err != nil {
		return false, err
	}
	if err := expectLen("isBalanced", values, 1); err != nil {
		return false, err
	}
	return asBool(values[0])
}

// Price reads the oracle's market and redemption price for an asset.
func (r *Reader) Price(ctx context.Context, asset common.Address) (model.PriceQuote, error) {
	values, err := r.call(ctx, oracleABI, r.contracts.Oracle, "getPriceAndRedemptionPrice", asset)
	if err != nil {
		return model.PriceQuote{}, err
	}
	if err := expectLen("getPriceAndRedemptionPrice", values, 2); err != nil {
		return model.PriceQuote{}, err
	}
	price, err := asBigInt(values[0])
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("price: %w", err)
	}
	redemption, err := asBigInt(values[1])
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("redemption price: %w", err)
	}
	return model.PriceQuote{Asset: asset, Price: price, RedemptionPrice: redemption}, nil
}

// DepegThresholds reads the swap router's band parameters.
func (r *Reader) DepegThresholds(ctx context.Context) (model.DepegThresholds, error) {
	values, err := r.call(ctx, swapABI, r.contracts.Swap, "getDepegTresholdBps")
	if err != nil {
		return model.DepegThresholds{}, err
	}
	if err := expectLen("getDepegTresholdBps", values, 2); err != nil {
		return model.DepegThresholds{}, err
	}
	depeg, err := asBigInt(values[0])
	if err != nil {
		return model.DepegThresholds{}, fmt.Errorf("depeg threshold: %w", err)
	}
	maxDepeg, err := asBigInt(values[1])
	if err != nil {
		return model.DepegThresholds{}, fmt.Errorf("max depeg threshold: %w", err)
	}
	return model.DepegThresholds{DepegBps: depeg, MaxDepegBps: maxDepeg}, nil
}

// PreviewSwap asks the router what a swap would return right now.
func (r *Reader) PreviewSwap(ctx context.Context, vault, from, to common.Address, amountIn *big.Int) (model.SwapPreview, error) {
	values, err := r.call(ctx, swapABI, r.contracts.Swap, "previewSwap", vault, from, to, amountIn)
	if err != nil {
		return model.SwapPreview{}, err
	}
	if err := expectLen("previewSwap", values, 2); err != nil {
		return model.SwapPreview{}, err
	}
	out, err := asBigInt(values[0])
	if err != nil {
		return model.SwapPreview{}, fmt.Errorf("amount out: %w", err)
	}
	ious, err := asBigInt(values[1])
	if err != nil {
		return model.SwapPreview{}, fmt.Errorf("ious: %w", err)
	}
	return model.SwapPreview{AmountOut: out, IOUAmount: ious}, nil
}

// Paused reports whether the swap router is paused.
func (r *Reader) Paused(ctx context.Context) (bool, error) {
	values, err := r.call(ctx, swapABI, r.contracts.Swap, "paused")
	if err != nil {
		return false, err
	}
	if err := expectLen("paused", values, 1); err != nil {
		return false, err
	}
	return asBool(values[0])
}

// BalanceOf reads an ERC20 balance.
func (r *Reader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	values, err := r.call(ctx, erc20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	if err := expectLen("balanceOf", values, 1); err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// Allowance reads how much spender may pull from owner.
func (r *Reader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	values, err := r.call(ctx, erc20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	if err := expectLen("allowance", values, 1); err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}
