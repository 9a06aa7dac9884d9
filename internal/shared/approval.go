package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalConfirm marks confirmation of a pending posting.
	ApprovalConfirm ApprovalAction = "CONFIRM"
	// ApprovalOverride marks an explicit matching-variance override.
	ApprovalOverride ApprovalAction = "OVERRIDE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
)

// ApprovalLog represents a single approval record.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// ApprovalRecorder persists approval history. Pending-posting
// confirmations and variance overrides are recorded here so the
// decision trail survives the ephemeral matching result.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes an approval entry to the database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.Module == "" {
		return errors.New("approval module required")
	}
	if log.ActorID == 0 {
		return errors.New("approval actor required")
	}
	if log.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	if log.At.IsZero() {
		log.At = time.Now()
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6)`, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, log.At)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns approvals for module/ref ordered oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, actor_id, action, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// HasOverride reports whether a variance override was recorded for ref.
func (r *ApprovalRecorder) HasOverride(ctx context.Context, module string, ref uuid.UUID) (bool, error) {
	if r == nil {
		return false, errors.New("approval recorder not initialised")
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT true FROM approvals WHERE module=$1 AND ref_id=$2 AND action='OVERRIDE' LIMIT 1`, module, ref).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}
