package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/kmelnick/dexarb/internal/blob/s3"
	"github.com/kmelnick/dexarb/internal/cache/memory"
	"github.com/kmelnick/dexarb/internal/cache/redis"
	"github.com/kmelnick/dexarb/internal/config"
	"github.com/kmelnick/dexarb/internal/crypto"
	"github.com/kmelnick/dexarb/internal/domain"
	"github.com/kmelnick/dexarb/internal/executor"
	"github.com/kmelnick/dexarb/internal/feed"
	"github.com/kmelnick/dexarb/internal/notify"
	"github.com/kmelnick/dexarb/internal/platform/dexscreener"
	"github.com/kmelnick/dexarb/internal/platform/jupiter"
	"github.com/kmelnick/dexarb/internal/pricing"
	"github.com/kmelnick/dexarb/internal/scanner"
	"github.com/kmelnick/dexarb/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. Engine and
// Sweeper are nil outside trade mode; Archiver is nil unless S3 is enabled;
// SignalBus and Feed are nil when redis is unreachable.
type Dependencies struct {
	Ledger     *postgres.Ledger
	PriceCache domain.PriceCache
	SignalBus  domain.SignalBus

	Router     *jupiter.Client
	Aggregator *pricing.Aggregator
	Scanner    *scanner.Scanner
	Tokens     []domain.Token

	Risk    *executor.RiskState
	Engine  *executor.Engine
	Sweeper *executor.Sweeper

	Feed     *feed.ActivityFeed
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Postgres ledger.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Ledger = postgres.NewLedger(pgClient.Pool())

	// Redis price cache and signal bus. A redis outage degrades rather than
	// blocks startup: the price cache falls back to a process-local map and
	// scanning falls back to the scheduler's interval timer alone.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		logger.Warn("redis unavailable, using in-process price cache without venue signals",
			slog.String("addr", cfg.Redis.Addr),
			slog.String("error", err.Error()),
		)
		deps.PriceCache = memory.NewPriceCache()
	} else {
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// Platform clients and price aggregation.
	deps.Router = jupiter.NewClient(jupiter.ClientConfig{
		QuoteHost:   cfg.Jupiter.QuoteHost,
		SwapHost:    cfg.Jupiter.SwapHost,
		PublicKey:   cfg.Wallet.PublicKey,
		SlippageBps: cfg.Jupiter.SlippageBps,
	})
	fallback := dexscreener.NewClient(cfg.Dexscreener.Host)

	deps.Aggregator = pricing.NewAggregator(deps.Router, fallback, deps.PriceCache, pricing.AggregatorConfig{
		Venues:           cfg.Venues,
		BaseMint:         cfg.Solana.BaseMint,
		BaseDecimals:     cfg.Solana.BaseDecimals,
		ProbeNotionalUsd: cfg.Jupiter.ProbeNotionalUsd,
		MinLiquidityUsd:  cfg.Dexscreener.MinLiquidityUsd,
		MinVolume24hUsd:  cfg.Dexscreener.MinVolume24hUsd,
		CacheTTL:         cfg.Scan.CacheTTL.Duration,
	}, logger)

	deps.Scanner = scanner.New(scanner.Config{
		MinProfitPercent: cfg.Scan.MinProfitPercent,
		NearMissMargin:   cfg.Scan.NearMissMargin,
		Slippage:         cfg.Scan.Slippage,
		MaxPointAge:      cfg.Scan.MaxPointAge.Duration,
	})

	for _, t := range cfg.Tokens {
		deps.Tokens = append(deps.Tokens, domain.Token{
			Symbol:   t.Symbol,
			Mint:     t.Mint,
			Decimals: t.Decimals,
		})
	}

	deps.Risk = executor.NewRiskState(executor.RiskConfig{
		DefaultMinProfitPct: cfg.Scan.MinProfitPercent,
		RaisedMinProfitPct:  cfg.Execution.RaisedMinProfitPct,
		FailuresToRaise:     cfg.Execution.FailuresToRaise,
		DailyLossLimitUsd:   cfg.Execution.DailyLossLimitUsd,
	})

	// Execution wiring only in trade mode; monitor mode never touches the
	// wallet key.
	if strings.ToLower(cfg.Mode) == "trade" {
		if _, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		}); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}

		deps.Engine = executor.NewEngine(
			deps.Router, deps.Ledger, deps.Ledger, deps.Risk, deps.Notifier,
			deps.Tokens,
			executor.Config{
				BaseMint:         cfg.Solana.BaseMint,
				BaseDecimals:     cfg.Solana.BaseDecimals,
				MaxTradeUsd:      cfg.Execution.MaxTradeUsd,
				BalanceFraction:  cfg.Execution.BalanceFraction,
				MinProfitUsd:     cfg.Execution.MinProfitUsd,
				MinSolReserve:    cfg.Execution.MinSolReserve,
				EstimatedFeeSol:  cfg.Execution.EstimatedFeeSol,
				SellRetries:      cfg.Execution.SellRetries,
				SellRetryBackoff: cfg.Execution.SellRetryBackoff.Duration,
				ConfirmPoll:      cfg.Jupiter.ConfirmPoll.Duration,
				ConfirmTimeout:   cfg.Jupiter.ConfirmTimeout.Duration,
			},
			logger,
		)

		if cfg.Sweep.Enabled {
			deps.Sweeper = executor.NewSweeper(
				deps.Router, deps.Ledger, deps.Ledger, deps.Risk,
				executor.SweepConfig{
					Interval:        cfg.Sweep.Interval.Duration,
					DustFloorUsd:    cfg.Sweep.DustFloorUsd,
					CleanupFloorUsd: cfg.Sweep.CleanupFloorUsd,
					BaseMint:        cfg.Solana.BaseMint,
					BaseDecimals:    cfg.Solana.BaseDecimals,
					ConfirmPoll:     cfg.Jupiter.ConfirmPoll.Duration,
					ConfirmTimeout:  cfg.Jupiter.ConfirmTimeout.Duration,
				},
				logger,
			)
		}
	}

	// Venue activity feed. Without a signal bus the feed has nowhere to
	// publish, so scanning runs on the fallback interval alone.
	if deps.SignalBus != nil {
		deps.Feed = feed.NewActivityFeed(feed.Config{
			WsURL:    cfg.Solana.WsURL,
			Programs: feed.ProgramsFor(cfg.Venues),
			Channel:  feed.SignalChannel,
		}, deps.SignalBus, logger)
	}

	// S3 trade archive.
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Ledger, logger)
	}

	return deps, cleanup, nil
}
