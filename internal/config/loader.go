package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DEXARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PublicKey, "DEXARB_WALLET_PUBLIC_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DEXARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DEXARB_WALLET_KEY_PASSWORD")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.QuoteHost, "DEXARB_JUPITER_QUOTE_HOST")
	setStr(&cfg.Jupiter.SwapHost, "DEXARB_JUPITER_SWAP_HOST")
	setFloat64(&cfg.Jupiter.ProbeNotionalUsd, "DEXARB_JUPITER_PROBE_NOTIONAL_USD")
	setInt(&cfg.Jupiter.SlippageBps, "DEXARB_JUPITER_SLIPPAGE_BPS")
	setDuration(&cfg.Jupiter.ConfirmTimeout, "DEXARB_JUPITER_CONFIRM_TIMEOUT")
	setDuration(&cfg.Jupiter.ConfirmPoll, "DEXARB_JUPITER_CONFIRM_POLL")

	// ── Dexscreener ──
	setStr(&cfg.Dexscreener.Host, "DEXARB_DEXSCREENER_HOST")
	setFloat64(&cfg.Dexscreener.MinLiquidityUsd, "DEXARB_DEXSCREENER_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Dexscreener.MinVolume24hUsd, "DEXARB_DEXSCREENER_MIN_VOLUME_24H_USD")

	// ── Solana ──
	setStr(&cfg.Solana.WsURL, "DEXARB_SOLANA_WS_URL")
	setStr(&cfg.Solana.BaseMint, "DEXARB_SOLANA_BASE_MINT")
	setInt(&cfg.Solana.BaseDecimals, "DEXARB_SOLANA_BASE_DECIMALS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEXARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEXARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEXARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXARB_S3_FORCE_PATH_STYLE")

	// ── Scan ──
	setFloat64(&cfg.Scan.MinProfitPercent, "DEXARB_SCAN_MIN_PROFIT_PERCENT")
	setFloat64(&cfg.Scan.NearMissMargin, "DEXARB_SCAN_NEAR_MISS_MARGIN")
	setFloat64(&cfg.Scan.Slippage, "DEXARB_SCAN_SLIPPAGE")
	setDuration(&cfg.Scan.MaxPointAge, "DEXARB_SCAN_MAX_POINT_AGE")
	setDuration(&cfg.Scan.CacheTTL, "DEXARB_SCAN_CACHE_TTL")
	setDuration(&cfg.Scan.Debounce, "DEXARB_SCAN_DEBOUNCE")
	setDuration(&cfg.Scan.MinScanInterval, "DEXARB_SCAN_MIN_SCAN_INTERVAL")
	setDuration(&cfg.Scan.FallbackInterval, "DEXARB_SCAN_FALLBACK_INTERVAL")
	setInt(&cfg.Scan.MaxTradesPerScan, "DEXARB_SCAN_MAX_TRADES_PER_SCAN")

	// ── Execution ──
	setBool(&cfg.Execution.Enabled, "DEXARB_EXECUTION_ENABLED")
	setFloat64(&cfg.Execution.MaxTradeUsd, "DEXARB_EXECUTION_MAX_TRADE_USD")
	setFloat64(&cfg.Execution.BalanceFraction, "DEXARB_EXECUTION_BALANCE_FRACTION")
	setFloat64(&cfg.Execution.MinProfitUsd, "DEXARB_EXECUTION_MIN_PROFIT_USD")
	setFloat64(&cfg.Execution.MinSolReserve, "DEXARB_EXECUTION_MIN_SOL_RESERVE")
	setInt(&cfg.Execution.SellRetries, "DEXARB_EXECUTION_SELL_RETRIES")
	setDuration(&cfg.Execution.SellRetryBackoff, "DEXARB_EXECUTION_SELL_RETRY_BACKOFF")
	setFloat64(&cfg.Execution.DailyLossLimitUsd, "DEXARB_EXECUTION_DAILY_LOSS_LIMIT_USD")
	setInt(&cfg.Execution.FailuresToRaise, "DEXARB_EXECUTION_FAILURES_TO_RAISE")
	setFloat64(&cfg.Execution.RaisedMinProfitPct, "DEXARB_EXECUTION_RAISED_MIN_PROFIT_PCT")

	// ── Sweep ──
	setBool(&cfg.Sweep.Enabled, "DEXARB_SWEEP_ENABLED")
	setDuration(&cfg.Sweep.Interval, "DEXARB_SWEEP_INTERVAL")
	setFloat64(&cfg.Sweep.DustFloorUsd, "DEXARB_SWEEP_DUST_FLOOR_USD")
	setFloat64(&cfg.Sweep.CleanupFloorUsd, "DEXARB_SWEEP_CLEANUP_FLOOR_USD")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.Venues, "DEXARB_VENUES")
	setStr(&cfg.Mode, "DEXARB_MODE")
	setStr(&cfg.LogLevel, "DEXARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
