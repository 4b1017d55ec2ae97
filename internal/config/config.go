// Package config defines the top-level configuration for the dexarb engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXARB_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Jupiter     JupiterConfig     `toml:"jupiter"`
	Dexscreener DexscreenerConfig `toml:"dexscreener"`
	Solana      SolanaConfig      `toml:"solana"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Scan        ScanConfig        `toml:"scan"`
	Execution   ExecutionConfig   `toml:"execution"`
	Sweep       SweepConfig       `toml:"sweep"`
	Notify      NotifyConfig      `toml:"notify"`
	Tokens      []TokenConfig     `toml:"tokens"`
	Venues      []string          `toml:"venues"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds Solana wallet credentials. Either a raw base58 key or an
// encrypted keyfile plus password must be provided for trading modes.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	PublicKey        string `toml:"public_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// JupiterConfig holds swap-router API endpoints and quote parameters.
type JupiterConfig struct {
	QuoteHost        string   `toml:"quote_host"`
	SwapHost         string   `toml:"swap_host"`
	ProbeNotionalUsd float64  `toml:"probe_notional_usd"`
	SlippageBps      int      `toml:"slippage_bps"`
	ConfirmTimeout   duration `toml:"confirm_timeout"`
	ConfirmPoll      duration `toml:"confirm_poll"`
}

// DexscreenerConfig holds the broad fallback price source parameters.
type DexscreenerConfig struct {
	Host            string  `toml:"host"`
	MinLiquidityUsd float64 `toml:"min_liquidity_usd"`
	MinVolume24hUsd float64 `toml:"min_volume_24h_usd"`
}

// SolanaConfig holds chain endpoints for the venue activity feed.
type SolanaConfig struct {
	WsURL        string `toml:"ws_url"`
	BaseMint     string `toml:"base_mint"`
	BaseDecimals int    `toml:"base_decimals"`
}

// PostgresConfig holds ledger database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the price cache and the
// venue signal bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for trade archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScanConfig holds detection and scheduling parameters.
type ScanConfig struct {
	MinProfitPercent float64  `toml:"min_profit_percent"`
	NearMissMargin   float64  `toml:"near_miss_margin"`
	Slippage         float64  `toml:"slippage"`
	MaxPointAge      duration `toml:"max_point_age"`
	CacheTTL         duration `toml:"cache_ttl"`
	Debounce         duration `toml:"debounce"`
	MinScanInterval  duration `toml:"min_scan_interval"`
	FallbackInterval duration `toml:"fallback_interval"`
	MaxTradesPerScan int      `toml:"max_trades_per_scan"`
}

// ExecutionConfig holds trade sizing and safety parameters.
type ExecutionConfig struct {
	Enabled            bool     `toml:"enabled"`
	MaxTradeUsd        float64  `toml:"max_trade_usd"`
	BalanceFraction    float64  `toml:"balance_fraction"`
	MinProfitUsd       float64  `toml:"min_profit_usd"`
	MinSolReserve      float64  `toml:"min_sol_reserve"`
	EstimatedFeeSol    float64  `toml:"estimated_fee_sol"`
	SellRetries        int      `toml:"sell_retries"`
	SellRetryBackoff   duration `toml:"sell_retry_backoff"`
	DailyLossLimitUsd  float64  `toml:"daily_loss_limit_usd"`
	FailuresToRaise    int      `toml:"failures_to_raise"`
	RaisedMinProfitPct float64  `toml:"raised_min_profit_pct"`
}

// SweepConfig holds auto-sweep parameters for residual token balances.
type SweepConfig struct {
	Enabled         bool     `toml:"enabled"`
	Interval        duration `toml:"interval"`
	DustFloorUsd    float64  `toml:"dust_floor_usd"`
	CleanupFloorUsd float64  `toml:"cleanup_floor_usd"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TokenConfig describes one basket entry.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Mint     string `toml:"mint"`
	Decimals int    `toml:"decimals"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "150ms", "8s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Jupiter: JupiterConfig{
			QuoteHost:        "https://quote-api.jup.ag/v6",
			SwapHost:         "https://quote-api.jup.ag/v6",
			ProbeNotionalUsd: 50.0,
			SlippageBps:      50,
			ConfirmTimeout:   duration{45 * time.Second},
			ConfirmPoll:      duration{2 * time.Second},
		},
		Dexscreener: DexscreenerConfig{
			Host:            "https://api.dexscreener.com",
			MinLiquidityUsd: 10_000,
			MinVolume24hUsd: 500,
		},
		Solana: SolanaConfig{
			WsURL:        "wss://api.mainnet-beta.solana.com",
			BaseMint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
			BaseDecimals: 6,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexarb-archive",
			ForcePathStyle: true,
		},
		Scan: ScanConfig{
			MinProfitPercent: 0.5,
			NearMissMargin:   0.3,
			Slippage:         0.01,
			MaxPointAge:      duration{10 * time.Second},
			CacheTTL:         duration{3 * time.Second},
			Debounce:         duration{150 * time.Millisecond},
			MinScanInterval:  duration{8 * time.Second},
			FallbackInterval: duration{30 * time.Second},
			MaxTradesPerScan: 1,
		},
		Execution: ExecutionConfig{
			Enabled:            true,
			MaxTradeUsd:        250.0,
			BalanceFraction:    0.25,
			MinProfitUsd:       0.50,
			MinSolReserve:      0.05,
			EstimatedFeeSol:    0.001,
			SellRetries:        3,
			SellRetryBackoff:   duration{2 * time.Second},
			DailyLossLimitUsd:  50.0,
			FailuresToRaise:    3,
			RaisedMinProfitPct: 1.5,
		},
		Sweep: SweepConfig{
			Enabled:         true,
			Interval:        duration{15 * time.Minute},
			DustFloorUsd:    0.25,
			CleanupFloorUsd: 2.0,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "partial_failure", "circuit_breaker", "near_miss", "threshold_reverted"},
		},
		Venues:   []string{"Raydium", "Orca", "Meteora", "Phoenix"},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading needs a key source.
	if strings.ToLower(c.Mode) == "trade" && c.Execution.Enabled {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for trade mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Jupiter.QuoteHost == "" {
		errs = append(errs, "jupiter: quote_host must not be empty")
	}
	if c.Jupiter.ProbeNotionalUsd <= 0 {
		errs = append(errs, "jupiter: probe_notional_usd must be > 0")
	}
	if c.Jupiter.SlippageBps < 0 {
		errs = append(errs, "jupiter: slippage_bps must be >= 0")
	}

	if c.Dexscreener.Host == "" {
		errs = append(errs, "dexscreener: host must not be empty")
	}

	if c.Solana.BaseMint == "" {
		errs = append(errs, "solana: base_mint must not be empty")
	}
	if c.Solana.BaseDecimals <= 0 {
		errs = append(errs, "solana: base_decimals must be > 0")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Scan.MinProfitPercent <= 0 {
		errs = append(errs, "scan: min_profit_percent must be > 0")
	}
	if c.Scan.Slippage < 0 || c.Scan.Slippage >= 1 {
		errs = append(errs, fmt.Sprintf("scan: slippage must be in [0,1), got %v", c.Scan.Slippage))
	}
	if c.Scan.Debounce.Duration <= 0 {
		errs = append(errs, "scan: debounce must be > 0")
	}
	if c.Scan.MinScanInterval.Duration <= 0 {
		errs = append(errs, "scan: min_scan_interval must be > 0")
	}
	if c.Scan.FallbackInterval.Duration <= c.Scan.MinScanInterval.Duration {
		errs = append(errs, "scan: fallback_interval must exceed min_scan_interval")
	}
	if c.Scan.MaxTradesPerScan < 1 {
		errs = append(errs, "scan: max_trades_per_scan must be >= 1")
	}

	if c.Execution.Enabled {
		if c.Execution.MaxTradeUsd <= 0 {
			errs = append(errs, "execution: max_trade_usd must be > 0 when enabled")
		}
		if c.Execution.BalanceFraction <= 0 || c.Execution.BalanceFraction > 1 {
			errs = append(errs, fmt.Sprintf("execution: balance_fraction must be in (0,1], got %v", c.Execution.BalanceFraction))
		}
		if c.Execution.SellRetries < 1 {
			errs = append(errs, "execution: sell_retries must be >= 1")
		}
		if c.Execution.DailyLossLimitUsd <= 0 {
			errs = append(errs, "execution: daily_loss_limit_usd must be > 0 when enabled")
		}
		if c.Execution.FailuresToRaise < 1 {
			errs = append(errs, "execution: failures_to_raise must be >= 1")
		}
		if c.Execution.RaisedMinProfitPct <= c.Scan.MinProfitPercent {
			errs = append(errs, "execution: raised_min_profit_pct must exceed scan.min_profit_percent")
		}
	}

	if c.Sweep.Enabled {
		if c.Sweep.Interval.Duration <= 0 {
			errs = append(errs, "sweep: interval must be > 0 when enabled")
		}
		if c.Sweep.CleanupFloorUsd < c.Sweep.DustFloorUsd {
			errs = append(errs, "sweep: cleanup_floor_usd must be >= dust_floor_usd")
		}
	}

	if len(c.Tokens) == 0 {
		errs = append(errs, "tokens: at least one basket token must be configured")
	}
	for i, t := range c.Tokens {
		if t.Symbol == "" || t.Mint == "" {
			errs = append(errs, fmt.Sprintf("tokens[%d]: symbol and mint must not be empty", i))
		}
		if t.Decimals <= 0 {
			errs = append(errs, fmt.Sprintf("tokens[%d]: decimals must be > 0", i))
		}
	}
	if len(c.Venues) < 2 {
		errs = append(errs, "venues: at least two venues are required for arbitrage")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
