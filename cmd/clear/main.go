package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"clearClient/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	root := &cobra.Command{
		Use:          "clear",
		Short:        "Command-line client for Clear depeg swaps",
		SilenceUsage: true,
	}

	defaults := config.DefaultIntervals()
	pf := root.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("rpc", "", "Ethereum RPC URL")
	pf.String("account", "", "account address (derived from private-key when set)")
	pf.String("private-key", "", "hex private key used to sign transactions")
	pf.String("factory", "", "vault factory address (mainnet default)")
	pf.String("oracle", "", "price oracle address (mainnet default)")
	pf.String("swap", "", "swap router address (mainnet default)")
	pf.String("vault", "", "vault address; skips factory discovery")
	pf.Duration("vault-interval", defaults.Vault, "vault details refresh period")
	pf.Duration("oracle-interval", defaults.Oracle, "oracle price refresh period")
	pf.Duration("balance-interval", defaults.Balance, "balance refresh period")
	pf.Duration("preview-interval", defaults.Preview, "swap preview refresh period")
	pf.Int("slippage-bps", config.DefaultSlippageBps, "slippage tolerance in basis points")
	pf.Float64("rpc-rps", 10, "eth_call rate limit per second, 0 disables")
	pf.Int("rpc-burst", 5, "eth_call burst size")
	pf.Duration("receipt-poll", 2*time.Second, "receipt polling period")
	pf.Duration("confirm-timeout", 5*time.Minute, "how long to wait for a receipt")
	pf.String("journal", "", "JSONL journal path for transactions and route observations")
	pf.String("pg-dsn", "", "Postgres DSN for the journal")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address (watch only)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.Bool("yes", false, "sign without prompting")

	vaultCmd := &cobra.Command{
		Use:   "vault",
		Short: "Discover the vault and print its details",
		RunE:  runVault,
	}
	root.AddCommand(vaultCmd)

	routeCmd := &cobra.Command{
		Use:   "route",
		Short: "Show whether the router accepts a pair at current prices",
		RunE:  runRoute,
	}
	pairFlags(routeCmd)
	root.AddCommand(routeCmd)

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Quote a swap",
		RunE:  runPreview,
	}
	pairFlags(previewCmd)
	swapFlags(previewCmd)
	root.AddCommand(previewCmd)

	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the swap router or the vault to spend a token",
		RunE:  runApprove,
	}
	approveCmd.Flags().String("token", "", "token symbol or address")
	approveCmd.Flags().String("spender", "swap", "spender: swap, vault, or an address")
	approveCmd.Flags().String("amount", "", "amount in token units")
	root.AddCommand(approveCmd)

	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap a depegged asset through the router",
		RunE:  runSwap,
	}
	pairFlags(swapCmd)
	swapFlags(swapCmd)
	swapCmd.Flags().Bool("approve", false, "submit the missing approval first")
	root.AddCommand(swapCmd)

	wrapCmd := &cobra.Command{
		Use:   "wrap",
		Short: "Deposit a token into the vault for IOUs",
		RunE:  runWrap,
	}
	wrapCmd.Flags().String("token", "", "token symbol or address")
	wrapCmd.Flags().String("amount", "", "amount in token units")
	wrapCmd.Flags().Bool("approve", false, "submit the missing approval first")
	root.AddCommand(wrapCmd)

	balancesCmd := &cobra.Command{
		Use:   "balances",
		Short: "Print the account's token and IOU balances",
		RunE:  runBalances,
	}
	root.AddCommand(balancesCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the vault and log every recomputed view",
		RunE:  runWatch,
	}
	pairFlags(watchCmd)
	swapFlags(watchCmd)
	watchCmd.Flags().String("mode", "swap", "view to follow: swap or wrap")
	watchCmd.Flags().Bool("interactive", false, "read commands from stdin (amount, from, to, approve, swap, wrap, ...); the watch ends with the console")
	root.AddCommand(watchCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func pairFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "token to sell (symbol or address); defaults to the vault's first token")
	cmd.Flags().String("to", "", "token to buy (symbol or address); defaults to the vault's second token")
}

func swapFlags(cmd *cobra.Command) {
	cmd.Flags().String("amount", "", "amount of the from token")
	cmd.Flags().Bool("keep-ious", false, "receive IOUs instead of counting them into the output")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
