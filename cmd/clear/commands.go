package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clearClient/internal/config"
	"clearClient/internal/model"
	"clearClient/internal/session"
	"clearClient/internal/txflow"
	"clearClient/internal/units"
)

// withApp builds the app under a signal-aware context and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func pairFromFlags(cmd *cobra.Command, slippage int) pairRequest {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	req := pairRequest{From: from, To: to, SlippageBps: uint64(slippage)}
	if f := cmd.Flags().Lookup("amount"); f != nil {
		req.Amount = f.Value.String()
	}
	if f := cmd.Flags().Lookup("keep-ious"); f != nil {
		req.KeepIOUs, _ = cmd.Flags().GetBool("keep-ious")
	}
	return req
}

func runVault(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		vault, err := a.vault(ctx)
		if err != nil {
			return err
		}
		details, err := a.reader.VaultDetails(ctx, vault)
		if err != nil {
			return err
		}
		meta, err := a.reader.VaultTokenMeta(ctx, details.Tokens)
		if err != nil {
			a.logger.Warn("token metadata incomplete", zap.Error(err))
		}
		balanced, err := a.reader.IsBalanced(ctx, vault)
		if err != nil {
			a.logger.Warn("isBalanced unavailable", zap.Error(err))
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "vault        %s\n", vault.Hex())
		fmt.Fprintf(out, "total assets %s\n", details.TotalAssets)
		fmt.Fprintf(out, "iou fee      %s bps\n", details.IOUFeeBps)
		fmt.Fprintf(out, "balanced     %t\n\n", balanced)
		printVaultTokens(out, details, meta)
		return nil
	})
}

func printVaultTokens(out io.Writer, details model.VaultDetails, meta map[common.Address]model.TokenMeta) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tADDRESS\tBALANCE\tEXPOSURE\tMAX\tIOU")
	for _, t := range details.Tokens {
		m, ok := meta[t.Addr]
		if !ok {
			m = model.TokenMeta{Address: t.Addr, Decimals: t.Decimals}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s bps\t%s bps\t%s\n",
			m.Label(), t.Addr.Hex(), formatAmount(t.Balance, t.Decimals), t.Exposure, t.MaxExposureBps, t.IOU.Hex())
	}
	tw.Flush()
}

func runRoute(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		vault, err := a.vault(ctx)
		if err != nil {
			return err
		}
		v, err := readSwapView(ctx, a.reader, a.contracts, vault, a.account, pairFromFlags(cmd, a.cfg.SlippageBps))
		if err != nil {
			return err
		}
		printRoute(cmd.OutOrStdout(), v)

		if !v.RouteLoading {
			journal, err := a.journal(ctx)
			if err != nil {
				return err
			}
			if journal != nil {
				obs := model.RouteObservation{Vault: vault, From: v.From.Address, To: v.To.Address, Status: v.Route, ObservedAt: time.Now().UTC()}
				if err := journal.RecordRoute(ctx, obs); err != nil {
					a.logger.Warn("journal write failed", zap.Error(err))
				}
			}
		}
		return nil
	})
}

func printRoute(out io.Writer, v session.SwapView) {
	fmt.Fprintf(out, "pair      %s -> %s\n", v.From.Label(), v.To.Label())
	if v.RouteErr != nil {
		fmt.Fprintf(out, "route     unavailable: %v\n", v.RouteErr)
		return
	}
	if v.RouteLoading {
		fmt.Fprintln(out, "route     unavailable")
		return
	}
	state := "closed"
	if v.Route.IsOpen {
		state = "open"
	}
	fmt.Fprintf(out, "route     %s\n", state)
	fmt.Fprintf(out, "prices    $%.4f -> $%.4f\n", v.Route.FromPriceUSD, v.Route.ToPriceUSD)
	fmt.Fprintf(out, "depeg     %.2f%% (threshold %d bps)\n", v.Route.DepegPercent, v.Route.ThresholdBps)
	if v.Paused {
		fmt.Fprintln(out, "router    paused")
	}
}

func runPreview(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		vault, err := a.vault(ctx)
		if err != nil {
			return err
		}
		req := pairFromFlags(cmd, a.cfg.SlippageBps)
		v, err := readSwapView(ctx, a.reader, a.contracts, vault, a.account, req)
		if err != nil {
			return err
		}
		printSwapView(cmd.OutOrStdout(), v, req.SlippageBps)
		return nil
	})
}

func printSwapView(out io.Writer, v session.SwapView, slippageBps uint64) {
	printRoute(out, v)
	if v.AmountErr != nil {
		fmt.Fprintf(out, "amount    invalid: %v\n", v.AmountErr)
	}
	if v.PreviewErr != nil {
		fmt.Fprintf(out, "quote     failed: %v\n", v.PreviewErr)
	}
	if v.Output != nil {
		fmt.Fprintf(out, "pay       %s %s\n", formatAmount(v.AmountIn, v.From.Decimals), v.From.Label())
		fmt.Fprintf(out, "receive   %s %s\n", formatAmount(v.Output, v.To.Decimals), v.To.Label())
		if v.IOUs != nil {
			fmt.Fprintf(out, "ious      %s\n", formatAmount(v.IOUs, v.To.Decimals))
		}
		fmt.Fprintf(out, "min       %s %s (slippage %d bps)\n", formatAmount(v.MinReceived, v.To.Decimals), v.To.Label(), slippageBps)
	}
	if v.Balance != nil {
		note := ""
		if v.InsufficientBalance {
			note = " (insufficient)"
		}
		fmt.Fprintf(out, "balance   %s %s%s\n", formatAmount(v.Balance, v.From.Decimals), v.From.Label(), note)
	}
	next := string(v.Action)
	if v.Reason != "" {
		next += ": " + v.Reason
	}
	fmt.Fprintf(out, "next      %s\n", next)
}

func printWrapView(out io.Writer, v session.WrapView) {
	fmt.Fprintf(out, "wrap      %s %s -> IOU %s\n", formatAmount(v.AmountIn, v.Token.Decimals), v.Token.Label(), v.IOU.Hex())
	if v.AmountErr != nil {
		fmt.Fprintf(out, "amount    invalid: %v\n", v.AmountErr)
	}
	if v.Balance != nil {
		note := ""
		if v.InsufficientBalance {
			note = " (insufficient)"
		}
		fmt.Fprintf(out, "balance   %s %s%s\n", formatAmount(v.Balance, v.Token.Decimals), v.Token.Label(), note)
	}
	if v.IOUBalance != nil {
		fmt.Fprintf(out, "ious      %s\n", formatAmount(v.IOUBalance, v.Token.Decimals))
	}
	next := string(v.Action)
	if v.Reason != "" {
		next += ": " + v.Reason
	}
	fmt.Fprintf(out, "next      %s\n", next)
}

func runBalances(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if a.account == (common.Address{}) {
			return fmt.Errorf("balances need --account or --private-key")
		}
		vault, err := a.vault(ctx)
		if err != nil {
			return err
		}
		details, err := a.reader.VaultDetails(ctx, vault)
		if err != nil {
			return err
		}
		meta, err := a.reader.VaultTokenMeta(ctx, details.Tokens)
		if err != nil {
			a.logger.Warn("token metadata incomplete", zap.Error(err))
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TOKEN\tBALANCE\tIOU BALANCE")
		for _, t := range details.Tokens {
			label := model.TokenMeta{Address: t.Addr}.Label()
			if m, ok := meta[t.Addr]; ok {
				label = m.Label()
			}
			bal, err := a.reader.BalanceOf(ctx, t.Addr, a.account)
			if err != nil {
				return err
			}
			ious := "-"
			if t.IOU != (common.Address{}) {
				ib, err := a.reader.BalanceOf(ctx, t.IOU, a.account)
				if err != nil {
					return err
				}
				ious = formatAmount(ib, t.Decimals)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", label, formatAmount(bal, t.Decimals), ious)
		}
		return tw.Flush()
	})
}

func runApprove(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		tokenArg, _ := cmd.Flags().GetString("token")
		spenderArg, _ := cmd.Flags().GetString("spender")
		amountArg, _ := cmd.Flags().GetString("amount")

		token, err := config.ParseToken(tokenArg)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		var spender common.Address
		switch spenderArg {
		case "swap", "":
			spender = a.contracts.Swap
		case "vault":
			if spender, err = a.vault(ctx); err != nil {
				return err
			}
		default:
			if spender, err = config.ParseAddress(spenderArg); err != nil {
				return fmt.Errorf("spender: %w", err)
			}
		}
		meta, err := a.reader.TokenMeta(ctx, token)
		if err != nil {
			return err
		}
		amount, err := units.ParseUnits(amountArg, meta.Decimals)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}

		orch, err := a.orchestrator(ctx, cmd)
		if err != nil {
			return err
		}
		tx, err := orch.Approve(ctx, txflow.ApproveRequest{Token: token, Spender: spender, Amount: amount})
		return reportTx(cmd.OutOrStdout(), tx, err)
	})
}

func runSwap(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		vault, err := a.vault(ctx)
		if err != nil {
			return err
		}
		approveFirst, _ := cmd.Flags().GetBool("approve")
		req := pairFromFlags(cmd, a.cfg.SlippageBps)
		v, err := readSwapView(ctx, a.reader, a.contracts, vault, a.account, req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printSwapView(out, v, req.SlippageBps)
		if v.Action != session.ActionSwap && v.Action != session.ActionApprove {
			return errors.New(v.Reason)
		}
		if v.Action == session.ActionApprove && !approveFirst {
			fmt.Fprintf(out, "run: clear approve --token %s --spender swap --amount %s (or pass --approve)\n", v.From.Address.Hex(), req.Amount)
			return txflow.ErrApprovalRequired
		}

		orch, err := a.orchestrator(ctx, cmd)
		if err != nil {
			return err
		}
		if v.Action == session.ActionApprove {
			tx, err := orch.Approve(ctx, txflow.ApproveRequest{Token: v.From.Address, Spender: a.contracts.Swap, Amount: v.AmountIn})
			if err := reportTx(out, tx, err); err != nil || tx.Outcome != model.OutcomeSuccess {
				return err
			}
			// Gate again on fresh reads now that the allowance moved.
			if v, err = readSwapView(ctx, a.reader, a.contracts, vault, a.account, req); err != nil {
				return err
			}
			if v.Action != session.ActionSwap {
				return errors.New(v.Reason)
			}
		}

		tx, err := orch.Swap(ctx, txflow.SwapRequest{
			Vault:       vault,
			From:        v.From.Address,
			To:          v.To.Address,
			AmountIn:    v.AmountIn,
			SlippageBps: req.SlippageBps,
			ReceiveIOU:  req.KeepIOUs,
		})
		return reportTx(out, tx, err)
	})
}

func runWrap(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		tokenArg, _ := cmd.Flags().GetString("token")
		amountArg, _ := cmd.Flags().GetString("amount")
		approveFirst, _ := cmd.Flags().GetBool("approve")

		vault, err := a.vault(ctx)
		if err != nil {
			return err
		}
		var token common.Address
		if tokenArg != "" {
			if token, err = config.ParseToken(tokenArg); err != nil {
				return fmt.Errorf("token: %w", err)
			}
		}
		v, err := readWrapView(ctx, a.reader, vault, a.account, token, amountArg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printWrapView(out, v)
		if v.Action != session.ActionWrap && v.Action != session.ActionApprove {
			return errors.New(v.Reason)
		}
		if v.Action == session.ActionApprove && !approveFirst {
			fmt.Fprintf(out, "run: clear approve --token %s --spender vault --amount %s (or pass --approve)\n", v.Token.Address.Hex(), amountArg)
			return txflow.ErrApprovalRequired
		}

		orch, err := a.orchestrator(ctx, cmd)
		if err != nil {
			return err
		}
		if v.Action == session.ActionApprove {
			tx, err := orch.Approve(ctx, txflow.ApproveRequest{Token: v.Token.Address, Spender: vault, Amount: v.AmountIn})
			if err := reportTx(out, tx, err); err != nil || tx.Outcome != model.OutcomeSuccess {
				return err
			}
		}
		tx, err := orch.Wrap(ctx, txflow.WrapRequest{Vault: vault, Token: v.Token.Address, Amount: v.AmountIn})
		return reportTx(out, tx, err)
	})
}

func reportTx(out io.Writer, tx model.PendingTransaction, err error) error {
	if errors.Is(err, txflow.ErrUserRejected) {
		fmt.Fprintln(out, "cancelled, nothing was sent")
		return nil
	}
	if tx.Hash != nil {
		fmt.Fprintf(out, "tx        %s\n", tx.Hash.Hex())
	}
	if tx.State != "" {
		status := string(tx.State)
		if tx.Outcome != "" {
			status += " (" + string(tx.Outcome) + ")"
		}
		fmt.Fprintf(out, "status    %s\n", status)
	}
	return err
}
