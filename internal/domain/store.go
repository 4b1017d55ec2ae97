package domain

import "context"

// Ledger is the durable source of truth for balances and trade/opportunity
// history. There is only ever one writer process, so callers follow a
// read-before-write pattern on snapshot mutations; idempotent-on-retry is not
// guaranteed (duplicate records are a persistence-layer concern).
type Ledger interface {
	// CurrentSnapshot returns the latest balance snapshot, or ErrNotFound
	// when the ledger has never been seeded.
	CurrentSnapshot(ctx context.Context) (BalanceSnapshot, error)
	// UpdateSnapshot persists a new snapshot row.
	UpdateSnapshot(ctx context.Context, snap BalanceSnapshot) error
	// RecordTrade persists one execution result.
	RecordTrade(ctx context.Context, res ExecutionResult) error
	// RecordOpportunity persists a detected opportunity and whether it was taken.
	RecordOpportunity(ctx context.Context, opp Opportunity, taken bool) error
}

// TradeArchiveSource lists persisted records for the blob archiver.
type TradeArchiveSource interface {
	TradesOnDay(ctx context.Context, day string) ([]ExecutionResult, error)
	OpportunitiesOnDay(ctx context.Context, day string) ([]Opportunity, error)
}

// ResidualStore tracks non-base token balances stranded by partial failures,
// for the auto-sweep to liquidate later.
type ResidualStore interface {
	AddResidual(ctx context.Context, r Residual) error
	Residuals(ctx context.Context) ([]Residual, error)
	RemoveResidual(ctx context.Context, mint string) error
}
