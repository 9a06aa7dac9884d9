package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-erp/meridian/internal/jobs"
)

// IntegrityScanner cross-checks the posting tables. It flags pending
// markers that were never confirmed, posted markers whose journal entry
// is missing, and journal entries whose header totals drifted from the
// line sums.
type IntegrityScanner struct {
	pool       *pgxpool.Pool
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
	staleAfter time.Duration
}

// NewIntegrityScanner constructs the scanner.
func NewIntegrityScanner(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics, staleAfter time.Duration) *IntegrityScanner {
	if staleAfter <= 0 {
		staleAfter = 7 * 24 * time.Hour
	}
	return &IntegrityScanner{pool: pool, logger: logger, metrics: metrics, staleAfter: staleAfter}
}

// HandleTask adapts the scanner to an Asynq handler.
func (s *IntegrityScanner) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	staleAfter := s.staleAfter
	if payload.PendingStaleAfter != "" {
		if d, err := time.ParseDuration(payload.PendingStaleAfter); err == nil && d > 0 {
			staleAfter = d
		}
	}
	tracker := s.metrics.Track("integrity_scan")
	return tracker.End(s.Run(ctx, staleAfter))
}

// Run executes one scan pass.
func (s *IntegrityScanner) Run(ctx context.Context, staleAfter time.Duration) error {
	var stalePending int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounting_markers
WHERE status='pending' AND created_at < NOW() - $1::interval`, staleAfter.String()).Scan(&stalePending)
	if err != nil {
		return err
	}
	s.metrics.SetStalePendingMarkers(stalePending)
	if stalePending > 0 {
		s.logger.Warn("pending postings awaiting confirmation",
			slog.Int("count", stalePending),
			slog.Duration("older_than", staleAfter))
	}

	var orphaned int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounting_markers m
WHERE m.status='posted'
AND (m.journal_entry_id IS NULL
     OR NOT EXISTS (SELECT 1 FROM journal_entries je WHERE je.id = m.journal_entry_id))`).Scan(&orphaned)
	if err != nil {
		return err
	}
	if orphaned > 0 {
		s.logger.Error("posted markers without a journal entry", slog.Int("count", orphaned))
	}

	var drifted int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries je
WHERE je.status='POSTED' AND EXISTS (
  SELECT 1 FROM journal_lines jl
  WHERE jl.entry_id = je.id
  GROUP BY jl.entry_id
  HAVING ABS(COALESCE(SUM(jl.debit),0) - je.total_debit) > 0.01
      OR ABS(COALESCE(SUM(jl.credit),0) - je.total_credit) > 0.01
)`).Scan(&drifted)
	if err != nil {
		return err
	}
	if drifted > 0 {
		s.logger.Error("journal headers drifted from line sums", slog.Int("count", drifted))
	}

	s.logger.Info("integrity scan finished",
		slog.Int("stale_pending", stalePending),
		slog.Int("orphaned_posted", orphaned),
		slog.Int("drifted_entries", drifted))
	return nil
}
