package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clearClient/internal/config"
	"clearClient/internal/model"
	"clearClient/internal/poll"
	"clearClient/internal/session"
	"clearClient/internal/storage"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		sel, err := selectionFromFlags(cmd, a.cfg.SlippageBps)
		if err != nil {
			return err
		}
		journal, err := a.journal(ctx)
		if err != nil {
			return err
		}

		loop := poll.NewLoop(a.logger, a.metrics)
		s := session.New(loop, a.reader, session.Config{
			Contracts: a.contracts,
			Account:   a.account,
			Intervals: a.cfg.Intervals,
		}, a.logger)
		w := newWatcher(s, a.metrics, journal != nil, a.logger)

		runCtx, stop := context.WithCancel(ctx)
		defer stop()
		g, gctx := errgroup.WithContext(runCtx)
		g.Go(func() error {
			err := loop.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		if journal != nil {
			g.Go(func() error {
				w.drain(gctx, journal)
				return nil
			})
		}
		if a.cfg.MetricsAddr != "" {
			g.Go(func() error {
				return serveMetrics(gctx, a.cfg.MetricsAddr, a.metrics.Handler(), a.logger)
			})
		}

		if err := loop.Do(ctx, func() {
			s.Start()
			s.Select(sel)
			loop.OnChange(w.observe)
		}); err != nil {
			return err
		}
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			in := bufio.NewReader(cmd.InOrStdin())
			con := &console{loop: loop, session: s, router: a.contracts.Swap, in: in, out: cmd.OutOrStdout(), logger: a.logger}
			if a.signer != nil {
				orch, err := a.newOrchestrator(journal, newPromptConfirmer(in, cmd.ErrOrStderr(), a.cfg.Yes), afterTransaction(gctx, loop, s, a.logger))
				if err != nil {
					return err
				}
				con.trader = orch
			}
			g.Go(func() error {
				defer stop()
				return con.run(gctx)
			})
		}
		a.logger.Info("watch start",
			zap.String("mode", string(sel.Mode)),
			zap.Duration("vault_interval", a.cfg.Intervals.Vault),
			zap.Duration("oracle_interval", a.cfg.Intervals.Oracle),
			zap.Duration("preview_interval", a.cfg.Intervals.Preview),
			zap.String("metrics", a.cfg.MetricsAddr),
		)
		return g.Wait()
	})
}

func selectionFromFlags(cmd *cobra.Command, slippage int) (session.Selection, error) {
	req := pairFromFlags(cmd, slippage)
	mode, _ := cmd.Flags().GetString("mode")
	sel := session.Selection{
		Mode:        session.Mode(mode),
		Amount:      req.Amount,
		KeepIOUs:    req.KeepIOUs,
		SlippageBps: req.SlippageBps,
	}
	switch sel.Mode {
	case session.ModeSwap, session.ModeWrap:
	default:
		return session.Selection{}, fmt.Errorf("mode must be swap or wrap, got %q", mode)
	}
	var err error
	if req.From != "" {
		if sel.From, err = config.ParseToken(req.From); err != nil {
			return session.Selection{}, fmt.Errorf("from: %w", err)
		}
	}
	if req.To != "" {
		if sel.To, err = config.ParseToken(req.To); err != nil {
			return session.Selection{}, fmt.Errorf("to: %w", err)
		}
	}
	return sel, nil
}

type routeGauge interface {
	SetRouteOpen(from, to string, open bool)
}

// watcher logs recomputed views and queues route observations. observe is loop-confined.
type watcher struct {
	session *session.Session
	metrics routeGauge
	logger  *zap.Logger

	lastView  string
	lastRoute *model.RouteObservation
	routes    chan model.RouteObservation
}

// newWatcher queues route observations only when record is set.
func newWatcher(s *session.Session, m routeGauge, record bool, logger *zap.Logger) *watcher {
	w := &watcher{session: s, metrics: m, logger: logger}
	if record {
		w.routes = make(chan model.RouteObservation, 64)
	}
	return w
}

func (w *watcher) observe() {
	if w.session.Selection().Mode == session.ModeWrap {
		v := w.session.WrapView()
		summary := fmt.Sprintf("%s|%s|%v|%v|%s", v.Token.Label(), v.Action, v.Balance, v.IOUBalance, v.Reason)
		if summary == w.lastView {
			return
		}
		w.lastView = summary
		w.logger.Info("wrap view",
			zap.String("token", v.Token.Label()),
			zap.String("iou", v.IOU.Hex()),
			zap.String("balance", formatAmount(v.Balance, v.Token.Decimals)),
			zap.String("iou_balance", formatAmount(v.IOUBalance, v.Token.Decimals)),
			zap.Bool("needs_approval", v.NeedsApproval),
			zap.String("action", string(v.Action)),
			zap.String("reason", v.Reason),
		)
		return
	}

	v := w.session.SwapView()
	w.trackRoute(v)
	summary := fmt.Sprintf("%s|%s|%v|%v|%v|%v|%s", v.From.Label(), v.To.Label(), v.Route, v.Output, v.Balance, v.Allowance, v.Reason)
	if summary == w.lastView {
		return
	}
	w.lastView = summary
	w.logger.Info("swap view",
		zap.String("from", v.From.Label()),
		zap.String("to", v.To.Label()),
		zap.Bool("route_loading", v.RouteLoading),
		zap.Bool("route_open", v.Route.IsOpen),
		zap.Float64("depeg_percent", v.Route.DepegPercent),
		zap.Float64("from_price_usd", v.Route.FromPriceUSD),
		zap.String("preview", v.PreviewStatus.String()),
		zap.NamedError("route_error", v.RouteErr),
		zap.NamedError("preview_error", v.PreviewErr),
		zap.NamedError("allowance_error", v.AllowanceErr),
		zap.String("output", formatAmount(v.Output, v.To.Decimals)),
		zap.String("min_received", formatAmount(v.MinReceived, v.To.Decimals)),
		zap.String("balance", formatAmount(v.Balance, v.From.Decimals)),
		zap.Bool("needs_approval", v.NeedsApproval),
		zap.String("action", string(v.Action)),
		zap.String("reason", v.Reason),
	)
}

// trackRoute queues an observation whenever the evaluated route changes.
func (w *watcher) trackRoute(v session.SwapView) {
	if v.RouteLoading || v.From.Address == (common.Address{}) {
		return
	}
	obs := model.RouteObservation{Vault: v.Vault, From: v.From.Address, To: v.To.Address, Status: v.Route}
	if w.lastRoute != nil && w.lastRoute.From == obs.From && w.lastRoute.To == obs.To && w.lastRoute.Status == obs.Status {
		return
	}
	obs.ObservedAt = time.Now().UTC()
	w.lastRoute = &obs
	w.metrics.SetRouteOpen(v.From.Label(), v.To.Label(), v.Route.IsOpen)
	if w.routes == nil {
		return
	}

	select {
	case w.routes <- obs:
	default:
		w.logger.Warn("route journal backlog full, dropping observation")
	}
}

func (w *watcher) drain(ctx context.Context, journal storage.Journal) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-w.routes:
			if err := journal.RecordRoute(ctx, obs); err != nil {
				w.logger.Warn("journal write failed", zap.Error(err))
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
