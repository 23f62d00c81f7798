package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"clearClient/internal/config"
	"clearClient/internal/model"
	"clearClient/internal/poll"
	"clearClient/internal/session"
	"clearClient/internal/units"
)

// pairRequest is the user's one-shot selection; blank tokens take the vault defaults.
type pairRequest struct {
	From        string
	To          string
	Amount      string
	KeepIOUs    bool
	SlippageBps uint64
}

func snapshot[T any](v T, err error) poll.Snapshot[T] {
	if err != nil {
		return poll.Snapshot[T]{Status: poll.StatusErrored, Err: err}
	}
	return poll.Snapshot[T]{Status: poll.StatusReady, Value: v, HasValue: true, UpdatedAt: time.Now()}
}

// resolvePair applies the vault's default pair to blank inputs.
func resolvePair(details model.VaultDetails, from, to string) (common.Address, common.Address, error) {
	var fromAddr, toAddr common.Address
	var err error
	if from != "" {
		if fromAddr, err = config.ParseToken(from); err != nil {
			return common.Address{}, common.Address{}, fmt.Errorf("from: %w", err)
		}
	}
	if to != "" {
		if toAddr, err = config.ParseToken(to); err != nil {
			return common.Address{}, common.Address{}, fmt.Errorf("to: %w", err)
		}
	}
	if len(details.Tokens) < 2 {
		if fromAddr == (common.Address{}) || toAddr == (common.Address{}) {
			return common.Address{}, common.Address{}, fmt.Errorf("vault lists %d tokens, pass --from and --to", len(details.Tokens))
		}
		return fromAddr, toAddr, nil
	}
	if fromAddr == (common.Address{}) {
		fromAddr = details.Tokens[0].Addr
	}
	if toAddr == (common.Address{}) {
		toAddr = details.Tokens[1].Addr
		if toAddr == fromAddr {
			toAddr = details.Tokens[0].Addr
		}
	}
	return fromAddr, toAddr, nil
}

// readSwapView takes every read the swap screen needs once and builds the
// same view the watch loop derives from its cache lines.
func readSwapView(ctx context.Context, r session.Reader, contracts config.Contracts, vault, account common.Address, req pairRequest) (session.SwapView, error) {
	details, err := r.VaultDetails(ctx, vault)
	if err != nil {
		return session.SwapView{}, fmt.Errorf("read vault details: %w", err)
	}
	from, to, err := resolvePair(details, req.From, req.To)
	if err != nil {
		return session.SwapView{}, err
	}

	in := session.SwapInputs{
		Vault:       vault,
		VaultStatus: poll.StatusReady,
		Account:     account,
		Details:     snapshot(details, nil),
		From:        from,
		To:          to,
		Amount:      req.Amount,
		KeepIOUs:    req.KeepIOUs,
		SlippageBps: req.SlippageBps,
	}

	var amount *big.Int
	if vt, ok := details.Token(from); ok && req.Amount != "" {
		amount, _ = units.ParseUnits(req.Amount, vt.Decimals)
	}
	withAccount := account != (common.Address{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	g.Go(func() error {
		v, err := r.VaultTokenMeta(gctx, details.Tokens)
		in.Meta = snapshot(v, err)
		return nil
	})
	g.Go(func() error {
		v, err := r.DepegThresholds(gctx)
		in.Thresholds = snapshot(v, err)
		return nil
	})
	g.Go(func() error {
		v, err := r.Paused(gctx)
		in.Paused = snapshot(v, err)
		return nil
	})
	g.Go(func() error {
		v, err := r.Price(gctx, from)
		in.FromPrice = snapshot(v, err)
		return nil
	})
	g.Go(func() error {
		v, err := r.Price(gctx, to)
		in.ToPrice = snapshot(v, err)
		return nil
	})
	if withAccount {
		g.Go(func() error {
			v, err := r.BalanceOf(gctx, from, account)
			in.Balance = snapshot(v, err)
			return nil
		})
		g.Go(func() error {
			v, err := r.Allowance(gctx, from, account, contracts.Swap)
			in.Allowance = snapshot(v, err)
			return nil
		})
	}
	if amount != nil && amount.Sign() > 0 && from != to {
		g.Go(func() error {
			v, err := r.PreviewSwap(gctx, vault, from, to, amount)
			in.Preview = snapshot(v, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return session.SwapView{}, err
	}
	return session.BuildSwapView(in), nil
}

// readWrapView is the one-shot form of the wrap screen.
func readWrapView(ctx context.Context, r session.Reader, vault, account, token common.Address, amount string) (session.WrapView, error) {
	details, err := r.VaultDetails(ctx, vault)
	if err != nil {
		return session.WrapView{}, fmt.Errorf("read vault details: %w", err)
	}
	if token == (common.Address{}) && len(details.Tokens) > 0 {
		token = details.Tokens[0].Addr
	}
	in := session.WrapInputs{
		Vault:       vault,
		VaultStatus: poll.StatusReady,
		Account:     account,
		Details:     snapshot(details, nil),
		Token:       token,
		Amount:      amount,
	}
	meta, err := r.VaultTokenMeta(ctx, details.Tokens)
	in.Meta = snapshot(meta, err)
	if account != (common.Address{}) {
		balance, err := r.BalanceOf(ctx, token, account)
		in.Balance = snapshot(balance, err)
		allowance, err := r.Allowance(ctx, token, account, vault)
		in.Allowance = snapshot(allowance, err)
		if vt, ok := details.Token(token); ok && vt.IOU != (common.Address{}) {
			ious, err := r.BalanceOf(ctx, vt.IOU, account)
			in.IOUBalance = snapshot(ious, err)
		}
	}
	return session.BuildWrapView(in), nil
}

func formatAmount(v *big.Int, decimals uint8) string {
	if v == nil {
		return "-"
	}
	return units.FormatShort(v, decimals, 6)
}
