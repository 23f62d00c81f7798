// Package protocoltest provides an in-memory contract backend for tests.
package protocoltest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"clearClient/internal/model"
	"clearClient/internal/protocol"
)

type tokenTuple struct {
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

// Chain answers eth_call for the protocol contracts from in-memory state.
// It implements protocol.Caller and is safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	vaults     []common.Address
	details    map[common.Address]model.VaultDetails
	prices     map[common.Address]model.PriceQuote
	thresholds *model.DepegThresholds
	paused     bool
	balances   map[[2]common.Address]*big.Int
	allowances map[[3]common.Address]*big.Int
	decimals   map[common.Address]uint8
	symbols    map[common.Address]string
	symbols32  map[common.Address]string
	preview    func(vault, from, to common.Address, amountIn *big.Int) model.SwapPreview

	failures map[string]error
	holds    map[string]chan struct{}
	calls    map[string]int
}

// NewChain returns an empty backend. Unset values read as zero.
func NewChain() *Chain {
	return &Chain{
		details:    make(map[common.Address]model.VaultDetails),
		prices:     make(map[common.Address]model.PriceQuote),
		balances:   make(map[[2]common.Address]*big.Int),
		allowances: make(map[[3]common.Address]*big.Int),
		decimals:   make(map[common.Address]uint8),
		symbols:    make(map[common.Address]string),
		symbols32:  make(map[common.Address]string),
		failures:   make(map[string]error),
		holds:      make(map[string]chan struct{}),
		calls:      make(map[string]int),
	}
}

func (c *Chain) AddVault(vault common.Address, details model.VaultDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vaults = append(c.vaults, vault)
	c.details[vault] = details
}

func (c *Chain) SetDetails(vault common.Address, details model.VaultDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[vault] = details
}

// SetPrice sets the market price; the redemption price defaults to 1e8.
func (c *Chain) SetPrice(asset common.Address, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[asset] = model.PriceQuote{Asset: asset, Price: big.NewInt(price), RedemptionPrice: big.NewInt(100_000_000)}
}

func (c *Chain) SetThresholds(depegBps, maxDepegBps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholds = &model.DepegThresholds{DepegBps: big.NewInt(depegBps), MaxDepegBps: big.NewInt(maxDepegBps)}
}

func (c *Chain) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

func (c *Chain) SetBalance(token, owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[[2]common.Address{token, owner}] = amount
}

func (c *Chain) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowances[[3]common.Address{token, owner, spender}] = amount
}

func (c *Chain) SetToken(token common.Address, symbol string, decimals uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols[token] = symbol
	c.decimals[token] = decimals
}

// SetBytes32Symbol makes the token answer symbol() with a bytes32 like legacy tokens.
func (c *Chain) SetBytes32Symbol(token common.Address, symbol string, decimals uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols32[token] = symbol
	c.decimals[token] = decimals
}

func (c *Chain) SetPreview(fn func(vault, from, to common.Address, amountIn *big.Int) model.SwapPreview) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preview = fn
}

// Fail makes every call of method return err until cleared with a nil err.
func (c *Chain) Fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = err
}

// Hold blocks calls of method until the returned release func is called.
func (c *Chain) Hold(method string) (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.holds[method] = ch
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.holds[method] == ch {
				delete(c.holds, method)
			}
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times method was called.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// CallContract implements protocol.Caller.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("bad call")
	}
	method, err := lookup(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls[method.Name]++
	hold := c.holds[method.Name]
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[method.Name]; err != nil {
		return nil, err
	}
	return c.answer(*msg.To, method, args)
}

func (c *Chain) answer(to common.Address, method *abi.Method, args []interface{}) ([]byte, error) {
	switch method.Name {
	case "vaultsLength":
		return method.Outputs.Pack(big.NewInt(int64(len(c.vaults))))
	case "vaults":
		i := args[0].(*big.Int)
		if !i.IsInt64() || i.Int64() >= int64(len(c.vaults)) {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(c.vaults[i.Int64()])
	case "details":
		d, ok := c.details[to]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		tokens := make([]tokenTuple, 0, len(d.Tokens))
		for _, t := range d.Tokens {
			tokens = append(tokens, tokenTuple{
				Addr: t.Addr, Iou: t.IOU, IouCurvePool: t.IOUCurvePool, Adapter: t.Adapter,
				MaxExposureBps: orZero(t.MaxExposureBps), DesiredExposureBps: orZero(t.DesiredExposureBps),
				EmitedIou: orZero(t.EmittedIOU), Balance: orZero(t.Balance), Exposure: orZero(t.Exposure),
				Decimals: t.Decimals,
			})
		}
		return method.Outputs.Pack(orZero(d.IOUFeeBps), orZero(d.MaxRebalanceBpsSpread), orZero(d.DesiredExposureMaxBpsSpread), orZero(d.TotalAssets), tokens)
	case "isBalanced":
		return method.Outputs.Pack(true)
	case "getPriceAndRedemptionPrice":
		q, ok := c.prices[args[0].(common.Address)]
		if !ok {
			return nil, errors.New("execution reverted: no price")
		}
		return method.Outputs.Pack(q.Price, q.RedemptionPrice)
	case "getDepegTresholdBps":
		if c.thresholds == nil {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(c.thresholds.DepegBps, c.thresholds.MaxDepegBps)
	case "previewSwap":
		if c.preview == nil {
			return method.Outputs.Pack(new(big.Int), new(big.Int))
		}
		p := c.preview(args[0].(common.Address), args[1].(common.Address), args[2].(common.Address), args[3].(*big.Int))
		return method.Outputs.Pack(orZero(p.AmountOut), orZero(p.IOUAmount))
	case "paused":
		return method.Outputs.Pack(c.paused)
	case "balanceOf":
		return method.Outputs.Pack(orZero(c.balances[[2]common.Address{to, args[0].(common.Address)}]))
	case "allowance":
		key := [3]common.Address{to, args[0].(common.Address), args[1].(common.Address)}
		return method.Outputs.Pack(orZero(c.allowances[key]))
	case "decimals":
		return method.Outputs.Pack(c.decimals[to])
	case "symbol":
		if s, ok := c.symbols32[to]; ok {
			var b [32]byte
			copy(b[:], s)
			return b[:], nil
		}
		s, ok := c.symbols[to]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(s)
	default:
		return nil, fmt.Errorf("unsupported view %s", method.Name)
	}
}

func lookup(selector []byte) (*abi.Method, error) {
	loaders := []func() (abi.ABI, error){protocol.SwapABI, protocol.VaultABI, protocol.OracleABI, protocol.FactoryABI, protocol.ERC20ABI}
	for _, load := range loaders {
		parsed, err := load()
		if err != nil {
			return nil, err
		}
		if m, err := parsed.MethodById(selector); err == nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown selector %x", selector)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
