package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kmelnick/dexarb/internal/domain"
)

// dayFormat is the UTC day key used for archive partitioning.
const dayFormat = "2006-01-02"

// BlobWriter is the upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver uploads each completed UTC day's trades and detected
// opportunities as JSONL files. Records stay in the primary store; the
// archive is a durable copy, not a migration.
type Archiver struct {
	writer BlobWriter
	source domain.TradeArchiveSource
	logger *slog.Logger

	now func() time.Time
}

// NewArchiver creates an Archiver reading from the given source.
func NewArchiver(writer BlobWriter, source domain.TradeArchiveSource, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		source: source,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// Run archives the previous UTC day shortly after each midnight until ctx is
// cancelled. The first archive pass happens immediately on start so a restart
// never leaves a day gap longer than the process downtime.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		if err := a.ArchiveDay(ctx, previousDay(a.now())); err != nil {
			a.logger.Warn("archive pass failed", slog.String("error", err.Error()))
		}

		next := nextMidnightUTC(a.now()).Add(5 * time.Minute)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
	}
}

// ArchiveDay uploads the trades and opportunities of one UTC day
// (YYYY-MM-DD). Empty days upload nothing.
func (a *Archiver) ArchiveDay(ctx context.Context, day string) error {
	trades, err := a.source.TradesOnDay(ctx, day)
	if err != nil {
		return fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) > 0 {
		if err := upload(ctx, a.writer, archivePath("trades", day), trades); err != nil {
			return err
		}
		a.logger.Info("trades archived",
			slog.String("day", day),
			slog.Int("count", len(trades)),
		)
	}

	opps, err := a.source.OpportunitiesOnDay(ctx, day)
	if err != nil {
		return fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) > 0 {
		if err := upload(ctx, a.writer, archivePath("opportunities", day), opps); err != nil {
			return err
		}
		a.logger.Info("opportunities archived",
			slog.String("day", day),
			slog.Int("count", len(opps)),
		)
	}

	return nil
}

func upload[T any](ctx context.Context, w BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal: %w", err)
	}
	if err := w.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}
	return nil
}

// archivePath builds the object key, partitioned by day:
//
//	archive/trades/2026-08-30.jsonl
//	archive/opportunities/2026-08-30.jsonl
func archivePath(kind, day string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day)
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func previousDay(now time.Time) string {
	return now.UTC().AddDate(0, 0, -1).Format(dayFormat)
}

func nextMidnightUTC(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
