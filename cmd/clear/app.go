package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clearClient/internal/chain"
	"clearClient/internal/config"
	"clearClient/internal/discovery"
	"clearClient/internal/metrics"
	"clearClient/internal/model"
	"clearClient/internal/protocol"
	"clearClient/internal/storage"
	"clearClient/internal/storage/postgres"
	"clearClient/internal/txflow"
)

// app holds what every command needs once flags are parsed.
type app struct {
	cfg       config.Config
	contracts config.Contracts
	logger    *zap.Logger
	metrics   *metrics.Metrics
	client    *chain.Client
	reader    *protocol.Reader
	account   common.Address
	signer    *chain.Transactor

	closers []func()
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	if cfg.RPCURL == "" {
		a.close()
		return nil, fmt.Errorf("rpc url is required")
	}
	a.contracts, err = config.NewContracts(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.client, err = chain.NewClient(ctx, cfg.RPCURL, chain.Options{ReadsPerSecond: cfg.RPCRate, ReadBurst: cfg.RPCBurst})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	a.closers = append(a.closers, a.client.Close)
	a.reader = protocol.NewReader(a.client, a.contracts, logger)

	if err := a.loadAccount(); err != nil {
		a.close()
		return nil, err
	}

	logger.Debug("client ready",
		zap.String("rpc", cfg.RPCURL),
		zap.String("factory", a.contracts.Factory.Hex()),
		zap.String("swap", a.contracts.Swap.Hex()),
		zap.String("account", a.account.Hex()),
		zap.Bool("can_sign", a.signer != nil),
	)
	return a, nil
}

func (a *app) loadAccount() error {
	if a.cfg.Account != "" {
		addr, err := config.ParseAddress(a.cfg.Account)
		if err != nil {
			return fmt.Errorf("account: %w", err)
		}
		a.account = addr
	}

	signer, err := chain.NewTransactor(a.client, a.cfg.PrivateKey, a.cfg.ReceiptPoll)
	if errors.Is(err, chain.ErrNoSigner) {
		return nil
	}
	if err != nil {
		return err
	}
	if a.account != (common.Address{}) && a.account != signer.From() {
		return fmt.Errorf("account %s does not match signing key %s", a.account.Hex(), signer.From().Hex())
	}
	a.account = signer.From()
	a.signer = signer
	return nil
}

// close runs the closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// vault returns the pinned vault or the factory's first one.
func (a *app) vault(ctx context.Context) (common.Address, error) {
	if a.contracts.VaultPinned() {
		return a.contracts.Vault, nil
	}
	addr, ok := discovery.Resolve(ctx, a.reader, a.logger)
	if !ok {
		return common.Address{}, fmt.Errorf("no vault found at factory %s", a.contracts.Factory.Hex())
	}
	return addr, nil
}

// journal opens the configured sinks. It returns nil when none is configured.
func (a *app) journal(ctx context.Context) (storage.Journal, error) {
	var sinks storage.Multi
	if a.cfg.Journal != "" {
		sinks = append(sinks, storage.NewJsonlJournal(a.cfg.Journal))
	}
	if a.cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, a.cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func (a *app) orchestrator(ctx context.Context, cmd *cobra.Command) (*txflow.Orchestrator, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("signing requires --private-key: %w", chain.ErrNoSigner)
	}
	journal, err := a.journal(ctx)
	if err != nil {
		return nil, err
	}
	return a.newOrchestrator(journal, newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr(), a.cfg.Yes), nil)
}

// newOrchestrator wires the signer to an already opened journal. onFinal sees
// every transaction that reached a receipt.
func (a *app) newOrchestrator(journal storage.Journal, confirmer txflow.Confirmer, onFinal func(model.PendingTransaction)) (*txflow.Orchestrator, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("signing requires --private-key: %w", chain.ErrNoSigner)
	}
	cfg := txflow.Config{
		Contracts:      a.contracts,
		Account:        a.account,
		ConfirmTimeout: a.cfg.ConfirmTimeout,
		Journal:        journal,
		Metrics:        a.metrics,
		OnFinal:        onFinal,
	}
	return txflow.NewOrchestrator(cfg, a.reader, a.signer, confirmer, a.logger), nil
}
