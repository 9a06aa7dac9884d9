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

// MarkerCleaner removes preview markers past their retention window.
// Previews are advisory; a document can always be re-run to produce a
// fresh one. Posted, pending and failed markers are never touched.
type MarkerCleaner struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
	retention time.Duration
}

// NewMarkerCleaner constructs the cleaner.
func NewMarkerCleaner(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics, retention time.Duration) *MarkerCleaner {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &MarkerCleaner{pool: pool, logger: logger, metrics: metrics, retention: retention}
}

// HandleTask adapts the cleaner to an Asynq handler.
func (c *MarkerCleaner) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload MarkerCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := c.retention
	if payload.Retention != "" {
		if d, err := time.ParseDuration(payload.Retention); err == nil && d > 0 {
			retention = d
		}
	}
	tracker := c.metrics.Track("marker_cleanup")
	return tracker.End(c.Run(ctx, retention))
}

// Run executes one cleanup pass.
func (c *MarkerCleaner) Run(ctx context.Context, retention time.Duration) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM accounting_markers
WHERE status='preview' AND updated_at < NOW() - $1::interval`, retention.String())
	if err != nil {
		return err
	}
	removed := int(tag.RowsAffected())
	c.metrics.AddCleanedMarkers("preview", removed)
	if removed > 0 {
		c.logger.Info("expired preview markers removed",
			slog.Int("count", removed),
			slog.Duration("retention", retention))
	}
	return nil
}
