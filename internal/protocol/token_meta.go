package protocol

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clearClient/internal/model"
)

// TokenMetaCache caches token metadata by address. Metadata is immutable on chain.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// TokenMeta loads decimals and symbol via ERC20 calls.
func (r *Reader) TokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := r.tokens.Get(token); ok {
		return meta, nil
	}

	meta := model.TokenMeta{Address: token}
	values, err := r.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return meta, err
	}
	if err := expectLen("decimals", values, 1); err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals
	meta.Symbol = r.symbol(ctx, token)

	r.tokens.Set(token, meta)
	return meta, nil
}

// symbol tries the string ABI first, then the bytes32 variant. Failures yield "".
func (r *Reader) symbol(ctx context.Context, token common.Address) string {
	values, err := r.call(ctx, erc20ABI, token, "symbol")
	if err == nil && len(values) == 1 {
		if s, ok := values[0].(string); ok {
			return s
		}
	}
	values, err2 := r.call(ctx, erc20SymbolABI, token, "symbol")
	if err2 == nil && len(values) == 1 {
		if s, ok := bytes32ToString(values[0]); ok {
			return s
		}
	}
	r.logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	return ""
}

// VaultTokenMeta resolves symbols for every vault token concurrently.
// Decimals come from the vault tuple; a missing symbol is not an error.
func (r *Reader) VaultTokenMeta(ctx context.Context, tokens []model.VaultToken) (map[common.Address]model.TokenMeta, error) {
	out := make(map[common.Address]model.TokenMeta, len(tokens))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, tok := range tokens {
		if meta, ok := r.tokens.Get(tok.Addr); ok {
			out[tok.Addr] = meta
			continue
		}
		g.Go(func() error {
			meta := model.TokenMeta{Address: tok.Addr, Decimals: tok.Decimals, Symbol: r.symbol(gctx, tok.Addr)}
			if meta.Symbol != "" {
				r.tokens.Set(tok.Addr, meta)
			}
			mu.Lock()
			out[tok.Addr] = meta
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
