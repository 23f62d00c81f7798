package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"clearClient/internal/config"
	"clearClient/internal/model"
	"clearClient/internal/poll"
	"clearClient/internal/session"
	"clearClient/internal/txflow"
)

// trader submits user actions; *txflow.Orchestrator in production.
type trader interface {
	Approve(ctx context.Context, req txflow.ApproveRequest) (model.PendingTransaction, error)
	Swap(ctx context.Context, req txflow.SwapRequest) (model.PendingTransaction, error)
	Wrap(ctx context.Context, req txflow.WrapRequest) (model.PendingTransaction, error)
}

const consoleHelp = `commands:
  amount <n>           set the amount of the from token
  from <token>         set the token to sell (symbol or address)
  to <token>           set the token to buy
  flip                 swap from and to
  keep-ious on|off     receive IOUs instead of counting them into the output
  slippage <bps>       set the slippage tolerance
  mode swap|wrap       switch views
  refresh              re-read everything now
  show                 print the current view
  approve|swap|wrap    act on the current view
  quit`

var errQuit = errors.New("quit")

// console drives a watch session from terminal commands. Selection changes
// go through the loop; transactions run on the console goroutine.
type console struct {
	loop    *poll.Loop
	session *session.Session
	router  common.Address
	trader  trader
	in      *bufio.Reader
	out     io.Writer
	logger  *zap.Logger
}

// run reads commands until quit, end of input, or ctx ends.
func (c *console) run(ctx context.Context) error {
	fmt.Fprintln(c.out, `type "help" for commands`)
	for {
		line, err := readLine(ctx, c.in)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil && err != io.EOF {
			return err
		}
		if cerr := c.exec(ctx, strings.Fields(line)); errors.Is(cerr, errQuit) {
			return nil
		} else if cerr != nil {
			fmt.Fprintf(c.out, "error: %v\n", cerr)
		}
		if err == io.EOF {
			return nil
		}
	}
}

func (c *console) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case "quit", "exit":
		return errQuit
	case "show":
		return c.show(ctx)
	case "refresh":
		return c.loop.Do(ctx, c.session.RefetchAll)
	case "approve":
		return c.approve(ctx)
	case "swap":
		return c.swap(ctx)
	case "wrap":
		return c.wrap(ctx)
	case "flip":
		return c.loop.Do(ctx, func() {
			sel := c.session.Selection()
			sel.From, sel.To = c.session.Pair()
			sel.From, sel.To = sel.To, sel.From
			c.session.Select(sel)
		})
	}

	switch cmd {
	case "amount", "from", "to", "keep-ious", "slippage", "mode":
	default:
		return fmt.Errorf("unknown command %q (see help)", cmd)
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: %s <value> (see help)", cmd)
	}
	arg := rest[0]
	switch cmd {
	case "amount":
		return c.update(ctx, func(sel *session.Selection) error {
			sel.Amount = arg
			return nil
		})
	case "from", "to":
		return c.update(ctx, func(sel *session.Selection) error {
			addr, err := c.token(arg)
			if err != nil {
				return err
			}
			if cmd == "from" {
				sel.From = addr
			} else {
				sel.To = addr
			}
			return nil
		})
	case "keep-ious":
		var on bool
		switch strings.ToLower(arg) {
		case "on", "true", "yes":
			on = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("keep-ious: want on or off")
		}
		return c.update(ctx, func(sel *session.Selection) error {
			sel.KeepIOUs = on
			return nil
		})
	case "slippage":
		bps, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || bps > 10_000 {
			return fmt.Errorf("slippage: want basis points between 0 and 10000")
		}
		return c.update(ctx, func(sel *session.Selection) error {
			sel.SlippageBps = bps
			return nil
		})
	default:
		mode := session.Mode(arg)
		if mode != session.ModeSwap && mode != session.ModeWrap {
			return fmt.Errorf("mode must be swap or wrap, got %q", arg)
		}
		return c.update(ctx, func(sel *session.Selection) error {
			sel.Mode = mode
			return nil
		})
	}
}

// update edits the selection on the loop; fn runs loop-confined.
func (c *console) update(ctx context.Context, fn func(sel *session.Selection) error) error {
	var err error
	if derr := c.loop.Do(ctx, func() {
		sel := c.session.Selection()
		if err = fn(&sel); err == nil {
			c.session.Select(sel)
		}
	}); derr != nil {
		return derr
	}
	return err
}

// token matches a vault token symbol first, then the known symbols and raw addresses.
// Loop-confined.
func (c *console) token(arg string) (common.Address, error) {
	for _, t := range c.session.Tokens() {
		if t.Symbol != "" && strings.EqualFold(t.Symbol, arg) {
			return t.Address, nil
		}
	}
	return config.ParseToken(arg)
}

func (c *console) show(ctx context.Context) error {
	var (
		mode session.Mode
		sv   session.SwapView
		wv   session.WrapView
		sel  session.Selection
	)
	if err := c.loop.Do(ctx, func() {
		sel = c.session.Selection()
		mode = sel.Mode
		if mode == session.ModeWrap {
			wv = c.session.WrapView()
		} else {
			sv = c.session.SwapView()
		}
	}); err != nil {
		return err
	}
	if mode == session.ModeWrap {
		printWrapView(c.out, wv)
		return nil
	}
	printSwapView(c.out, sv, sel.SlippageBps)
	return nil
}

func (c *console) approve(ctx context.Context) error {
	var (
		req    txflow.ApproveRequest
		action session.Action
		reason string
	)
	if err := c.loop.Do(ctx, func() {
		if c.session.Selection().Mode == session.ModeWrap {
			v := c.session.WrapView()
			action, reason = v.Action, v.Reason
			req = txflow.ApproveRequest{Token: v.Token.Address, Spender: v.Vault, Amount: v.AmountIn}
			return
		}
		v := c.session.SwapView()
		action, reason = v.Action, v.Reason
		req = txflow.ApproveRequest{Token: v.From.Address, Spender: c.router, Amount: v.AmountIn}
	}); err != nil {
		return err
	}
	if action != session.ActionApprove {
		return fmt.Errorf("nothing to approve: %s", orAction(action, reason))
	}
	return c.submit(func(t trader) (model.PendingTransaction, error) { return t.Approve(ctx, req) })
}

func (c *console) swap(ctx context.Context) error {
	var (
		req    txflow.SwapRequest
		action session.Action
		reason string
	)
	if err := c.loop.Do(ctx, func() {
		if c.session.Selection().Mode == session.ModeWrap {
			action, reason = session.ActionNone, "switch to swap mode first"
			return
		}
		sel := c.session.Selection()
		v := c.session.SwapView()
		action, reason = v.Action, v.Reason
		req = txflow.SwapRequest{
			Vault:       v.Vault,
			From:        v.From.Address,
			To:          v.To.Address,
			AmountIn:    v.AmountIn,
			SlippageBps: sel.SlippageBps,
			ReceiveIOU:  sel.KeepIOUs,
		}
	}); err != nil {
		return err
	}
	if action != session.ActionSwap {
		return fmt.Errorf("cannot swap: %s", orAction(action, reason))
	}
	return c.submit(func(t trader) (model.PendingTransaction, error) { return t.Swap(ctx, req) })
}

func (c *console) wrap(ctx context.Context) error {
	var (
		req    txflow.WrapRequest
		action session.Action
		reason string
	)
	if err := c.loop.Do(ctx, func() {
		if c.session.Selection().Mode != session.ModeWrap {
			action, reason = session.ActionNone, "switch to wrap mode first"
			return
		}
		v := c.session.WrapView()
		action, reason = v.Action, v.Reason
		req = txflow.WrapRequest{Vault: v.Vault, Token: v.Token.Address, Amount: v.AmountIn}
	}); err != nil {
		return err
	}
	if action != session.ActionWrap {
		return fmt.Errorf("cannot wrap: %s", orAction(action, reason))
	}
	return c.submit(func(t trader) (model.PendingTransaction, error) { return t.Wrap(ctx, req) })
}

// submit runs a transaction off the loop; the orchestrator's OnFinal refreshes the session.
func (c *console) submit(send func(t trader) (model.PendingTransaction, error)) error {
	if c.trader == nil {
		return fmt.Errorf("signing requires --private-key")
	}
	tx, err := send(c.trader)
	if err := reportTx(c.out, tx, err); err != nil {
		c.logger.Warn("console action failed", zap.String("kind", string(tx.Kind)), zap.Error(err))
		return err
	}
	return nil
}

func orAction(action session.Action, reason string) string {
	if reason != "" {
		return reason
	}
	return "next action is " + string(action)
}

// afterTransaction hands finished transactions back to the session on the loop.
func afterTransaction(ctx context.Context, loop *poll.Loop, s *session.Session, logger *zap.Logger) func(model.PendingTransaction) {
	return func(tx model.PendingTransaction) {
		if err := loop.Do(ctx, func() { s.AfterTransaction(tx) }); err != nil {
			logger.Debug("session refresh skipped", zap.String("id", tx.ID), zap.Error(err))
		}
	}
}
