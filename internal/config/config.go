package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultSlippageBps is the slippage tolerance applied when none is configured.
const DefaultSlippageBps = 50

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL     string
	Account    string
	PrivateKey string

	Factory string
	Oracle  string
	Swap    string
	Vault   string

	Intervals   Intervals
	SlippageBps int

	RPCRate        float64
	RPCBurst       int
	ReceiptPoll    time.Duration
	ConfirmTimeout time.Duration

	Journal     string
	PGDSN       string
	MetricsAddr string
	LogLevel    string
	Yes         bool
}

// Intervals are the refresh periods of each polled line. Zero means refetch on demand only.
type Intervals struct {
	Vault   time.Duration
	Oracle  time.Duration
	Balance time.Duration
	Preview time.Duration
}

// DefaultIntervals matches the refresh pacing of the hosted client.
func DefaultIntervals() Intervals {
	return Intervals{
		Vault:   30 * time.Second,
		Oracle:  10 * time.Second,
		Balance: 15 * time.Second,
		Preview: 10 * time.Second,
	}
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLEAR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := DefaultIntervals()
	v.SetDefault("vault-interval", defaults.Vault)
	v.SetDefault("oracle-interval", defaults.Oracle)
	v.SetDefault("balance-interval", defaults.Balance)
	v.SetDefault("preview-interval", defaults.Preview)
	v.SetDefault("slippage-bps", DefaultSlippageBps)
	v.SetDefault("rpc-rps", 10.0)
	v.SetDefault("rpc-burst", 5)
	v.SetDefault("receipt-poll", 2*time.Second)
	v.SetDefault("confirm-timeout", 5*time.Minute)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:     v.GetString("rpc"),
		Account:    strings.TrimSpace(v.GetString("account")),
		PrivateKey: strings.TrimSpace(v.GetString("private-key")),
		Factory:    v.GetString("factory"),
		Oracle:     v.GetString("oracle"),
		Swap:       v.GetString("swap"),
		Vault:      v.GetString("vault"),
		Intervals: Intervals{
			Vault:   v.GetDuration("vault-interval"),
			Oracle:  v.GetDuration("oracle-interval"),
			Balance: v.GetDuration("balance-interval"),
			Preview: v.GetDuration("preview-interval"),
		},
		SlippageBps:    v.GetInt("slippage-bps"),
		RPCRate:        v.GetFloat64("rpc-rps"),
		RPCBurst:       v.GetInt("rpc-burst"),
		ReceiptPoll:    v.GetDuration("receipt-poll"),
		ConfirmTimeout: v.GetDuration("confirm-timeout"),
		Journal:        v.GetString("journal"),
		PGDSN:          v.GetString("pg-dsn"),
		MetricsAddr:    v.GetString("metrics-addr"),
		LogLevel:       v.GetString("log-level"),
		Yes:            v.GetBool("yes"),
	}

	if cfg.SlippageBps < 0 || cfg.SlippageBps > 10_000 {
		return Config{}, fmt.Errorf("slippage-bps must be within 0..10000, got %d", cfg.SlippageBps)
	}

	return cfg, nil
}
