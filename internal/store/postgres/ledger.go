package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kmelnick/dexarb/internal/domain"
)

// Ledger implements domain.Ledger, domain.ResidualStore, and
// domain.TradeArchiveSource on PostgreSQL. Snapshots are append-only; the
// current snapshot is the newest row.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// CurrentSnapshot returns the latest balance snapshot. It returns
// domain.ErrNotFound when the ledger has never been seeded.
func (l *Ledger) CurrentSnapshot(ctx context.Context) (domain.BalanceSnapshot, error) {
	var snap domain.BalanceSnapshot
	err := l.pool.QueryRow(ctx, `
		SELECT balance, sol_balance, total_trades, winning_trades, total_profit, updated_at
		FROM balance_snapshots
		ORDER BY id DESC
		LIMIT 1`,
	).Scan(
		&snap.Balance, &snap.SolBalance, &snap.TotalTrades,
		&snap.WinningTrades, &snap.TotalProfit, &snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BalanceSnapshot{}, domain.ErrNotFound
		}
		return domain.BalanceSnapshot{}, fmt.Errorf("postgres: current snapshot: %w", err)
	}
	return snap, nil
}

// UpdateSnapshot appends a new snapshot row.
func (l *Ledger) UpdateSnapshot(ctx context.Context, snap domain.BalanceSnapshot) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO balance_snapshots
			(balance, sol_balance, total_trades, winning_trades, total_profit, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.Balance, snap.SolBalance, snap.TotalTrades,
		snap.WinningTrades, snap.TotalProfit, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update snapshot: %w", err)
	}
	return nil
}

// RecordTrade persists one execution result with its originating opportunity
// flattened into the row.
func (l *Ledger) RecordTrade(ctx context.Context, res domain.ExecutionResult) error {
	opp := res.Opportunity
	_, err := l.pool.Exec(ctx, `
		INSERT INTO trades (
			opportunity_id, token_pair, token_symbol, token_mint,
			buy_venue, sell_venue, buy_price, sell_price, profit_percent,
			status, reason, buy_ref, sell_ref, amount_usd, realized_profit, executed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16
		)`,
		opp.ID, opp.TokenPair, opp.TokenSymbol, opp.TokenMint,
		opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice, opp.ProfitPercent,
		string(res.Status), res.Reason, res.BuyRef, res.SellRef,
		res.AmountUsd, res.RealizedProfit, res.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade: %w", err)
	}
	return nil
}

// RecordOpportunity persists a detected opportunity. Re-recording the same ID
// updates the taken flag, which covers the detect-then-execute sequence.
func (l *Ledger) RecordOpportunity(ctx context.Context, opp domain.Opportunity, taken bool) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO opportunities (
			id, token_pair, token_symbol, token_mint,
			buy_venue, sell_venue, buy_price, sell_price, profit_percent,
			taken, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET taken = EXCLUDED.taken`,
		opp.ID, opp.TokenPair, opp.TokenSymbol, opp.TokenMint,
		opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice, opp.ProfitPercent,
		taken, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record opportunity: %w", err)
	}
	return nil
}

// AddResidual upserts a stranded token balance. A second partial failure on
// the same mint accumulates into the existing row.
func (l *Ledger) AddResidual(ctx context.Context, r domain.Residual) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO residual_balances (mint, symbol, decimals, amount, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (mint) DO UPDATE SET
			amount      = residual_balances.amount + EXCLUDED.amount,
			recorded_at = EXCLUDED.recorded_at`,
		r.Mint, r.Symbol, r.Decimals, int64(r.Amount), r.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: add residual %s: %w", r.Symbol, err)
	}
	return nil
}

// Residuals lists every stranded balance, oldest first.
func (l *Ledger) Residuals(ctx context.Context) ([]domain.Residual, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT mint, symbol, decimals, amount, recorded_at
		FROM residual_balances
		ORDER BY recorded_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list residuals: %w", err)
	}
	defer rows.Close()

	var out []domain.Residual
	for rows.Next() {
		var r domain.Residual
		var amount int64
		if err := rows.Scan(&r.Mint, &r.Symbol, &r.Decimals, &amount, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan residual: %w", err)
		}
		r.Amount = uint64(amount)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RemoveResidual deletes a residual row after a successful sweep.
func (l *Ledger) RemoveResidual(ctx context.Context, mint string) error {
	if _, err := l.pool.Exec(ctx,
		"DELETE FROM residual_balances WHERE mint = $1", mint,
	); err != nil {
		return fmt.Errorf("postgres: remove residual %s: %w", mint, err)
	}
	return nil
}

// TradesOnDay returns every trade executed on the given UTC day (YYYY-MM-DD).
func (l *Ledger) TradesOnDay(ctx context.Context, day string) ([]domain.ExecutionResult, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT opportunity_id, token_pair, token_symbol, token_mint,
			buy_venue, sell_venue, buy_price, sell_price, profit_percent,
			status, reason, buy_ref, sell_ref, amount_usd, realized_profit, executed_at
		FROM trades
		WHERE (executed_at AT TIME ZONE 'UTC')::date = $1::date
		ORDER BY executed_at ASC`,
		day,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: trades on %s: %w", day, err)
	}
	defer rows.Close()

	var out []domain.ExecutionResult
	for rows.Next() {
		var res domain.ExecutionResult
		var status string
		if err := rows.Scan(
			&res.Opportunity.ID, &res.Opportunity.TokenPair,
			&res.Opportunity.TokenSymbol, &res.Opportunity.TokenMint,
			&res.Opportunity.BuyVenue, &res.Opportunity.SellVenue,
			&res.Opportunity.BuyPrice, &res.Opportunity.SellPrice,
			&res.Opportunity.ProfitPercent,
			&status, &res.Reason, &res.BuyRef, &res.SellRef,
			&res.AmountUsd, &res.RealizedProfit, &res.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		res.Status = domain.ExecStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}

// OpportunitiesOnDay returns every opportunity detected on the given UTC day.
func (l *Ledger) OpportunitiesOnDay(ctx context.Context, day string) ([]domain.Opportunity, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, token_pair, token_symbol, token_mint,
			buy_venue, sell_venue, buy_price, sell_price, profit_percent, detected_at
		FROM opportunities
		WHERE (detected_at AT TIME ZONE 'UTC')::date = $1::date
		ORDER BY detected_at ASC`,
		day,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: opportunities on %s: %w", day, err)
	}
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		if err := rows.Scan(
			&opp.ID, &opp.TokenPair, &opp.TokenSymbol, &opp.TokenMint,
			&opp.BuyVenue, &opp.SellVenue, &opp.BuyPrice, &opp.SellPrice,
			&opp.ProfitPercent, &opp.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		out = append(out, opp)
	}
	return out, rows.Err()
}

// Compile-time interface checks.
var (
	_ domain.Ledger             = (*Ledger)(nil)
	_ domain.ResidualStore      = (*Ledger)(nil)
	_ domain.TradeArchiveSource = (*Ledger)(nil)
)
