package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/documents"
	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/shared"
)

// TxRepository exposes the operations that share the posting transaction.
type TxRepository interface {
	// AcquirePostingLock serializes concurrent first-time attempts for
	// one idempotency tuple. The lock is transaction scoped.
	AcquirePostingLock(ctx context.Context, entityType string, entityID int64, trigger string) error
	GetMarkerForUpdate(ctx context.Context, entityType string, entityID int64, trigger string) (Marker, bool, error)
	GetMarkerByIDForUpdate(ctx context.Context, markerID int64) (Marker, error)
	UpsertMarker(ctx context.Context, marker Marker) (int64, error)
	MarkPosted(ctx context.Context, markerID, journalEntryID int64, postedAt time.Time) error
	WriteBack(ctx context.Context, entityType string, entityID int64, accountingStatus string, journalEntryID *int64) error
	LoadProjection(ctx context.Context, entityType string, entityID, companyID int64) (documents.Projection, error)
	Ledger() ledger.TxWriter
}

// RepositoryPort abstracts engine persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMarker(ctx context.Context, entityType string, entityID int64, trigger string) (Marker, bool, error)
	GetMarkerByID(ctx context.Context, markerID int64) (Marker, error)
	ListMarkers(ctx context.Context, companyID int64, entityType string, entityID int64) ([]Marker, error)
	LoadActiveRules(ctx context.Context, trigger string, companyID int64) ([]Rule, error)
	// RecordFailure upserts a failed marker outside the rolled-back
	// transaction. It never downgrades a posted marker.
	RecordFailure(ctx context.Context, marker Marker) error
}

// ProjectionPort loads denormalized source-document views.
type ProjectionPort interface {
	LoadProjection(ctx context.Context, entityType documents.EntityType, entityID, companyID int64) (documents.Projection, error)
}

// AuditPort records posting events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posting outcomes.
type MetricsPort interface {
	ObservePosting(trigger, status string, duration time.Duration)
}

// Config tunes engine behaviour.
type Config struct {
	// StrictAccounts switches missing-account resolution from fail-open
	// (skip the line with a diagnostic) to fail-closed.
	StrictAccounts bool
}

// RunInput identifies one posting attempt.
type RunInput struct {
	Event      string
	EntityType string
	EntityID   int64
	CompanyID  int64
	UserID     int64
}

// Engine evaluates posting rules and converts matched documents into
// balanced ledger transactions, exactly once per (entity, trigger).
type Engine struct {
	repo        RepositoryPort
	projections ProjectionPort
	ledger      *ledger.Writer
	approvals   *shared.ApprovalRecorder
	audit       AuditPort
	metrics     MetricsPort
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

// NewEngine constructs the posting engine.
func NewEngine(repo RepositoryPort, projections ProjectionPort, ledgerWriter *ledger.Writer, approvals *shared.ApprovalRecorder, audit AuditPort, metrics MetricsPort, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{
		repo:        repo,
		projections: projections,
		ledger:      ledgerWriter,
		approvals:   approvals,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Run executes the posting algorithm for one trigger event. Expected
// business outcomes (already posted, no rule, unbalanced) come back as
// typed results; the returned error is reserved for store failures.
func (e *Engine) Run(ctx context.Context, in RunInput) (AccountingResult, error) {
	started := e.now()
	result, err := e.run(ctx, in)
	e.observe(in.Event, result, started)
	return result, err
}

func (e *Engine) run(ctx context.Context, in RunInput) (AccountingResult, error) {
	// Fast idempotency check before any heavier work. The authoritative
	// check happens again under the advisory lock.
	if marker, found, err := e.repo.GetMarker(ctx, in.EntityType, in.EntityID, in.Event); err != nil {
		return systemFailure(err), err
	} else if found && marker.Status == MarkerPosted {
		return skippedAlreadyPosted(marker), nil
	}

	rules, err := e.repo.LoadActiveRules(ctx, in.Event, in.CompanyID)
	if err != nil {
		return systemFailure(err), err
	}
	if len(rules) == 0 {
		// No rules configured is not an error.
		return AccountingResult{Status: StatusSkipped, Reason: "no posting rules configured for event"}, nil
	}

	projection, err := e.projections.LoadProjection(ctx, documents.EntityType(in.EntityType), in.EntityID, in.CompanyID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) || errors.Is(err, documents.ErrUnknownEntityType) {
			return AccountingResult{Status: StatusFailed, ErrorCode: CodeNotFound, Reason: err.Error()}, nil
		}
		return systemFailure(err), err
	}

	matched, ok := matchRule(rules, projection.FieldMap())
	if !ok {
		return AccountingResult{Status: StatusSkipped, Reason: "no rule matched"}, nil
	}

	preview, err := BuildPreview(matched, projection, BuilderConfig{StrictAccounts: e.cfg.StrictAccounts})
	if err != nil {
		return AccountingResult{Status: StatusFailed, ErrorCode: CodeSystemFailure, Reason: err.Error()}, nil
	}
	if !preview.Balanced() {
		// Nothing is written for an unbalanced rule outcome.
		return AccountingResult{
			Status:    StatusFailed,
			ErrorCode: CodeUnbalanced,
			Reason:    fmt.Sprintf("debit %.2f != credit %.2f", preview.TotalDebit, preview.TotalCredit),
			Preview:   &preview,
		}, nil
	}

	var result AccountingResult
	txErr := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.AcquirePostingLock(ctx, in.EntityType, in.EntityID, in.Event); err != nil {
			return err
		}
		if existing, found, err := tx.GetMarkerForUpdate(ctx, in.EntityType, in.EntityID, in.Event); err != nil {
			return err
		} else if found && existing.Status == MarkerPosted {
			result = skippedAlreadyPosted(existing)
			return nil
		}

		ruleID := matched.ID
		marker := Marker{
			EntityType:  in.EntityType,
			EntityID:    in.EntityID,
			TriggerCode: in.Event,
			CompanyID:   in.CompanyID,
			RuleID:      &ruleID,
			Preview:     &preview,
			CreatedBy:   in.UserID,
		}
		if matched.AutoPost {
			marker.Status = MarkerPending
		} else {
			marker.Status = MarkerPreview
		}
		markerID, err := tx.UpsertMarker(ctx, marker)
		if err != nil {
			return err
		}

		if !matched.AutoPost {
			result = AccountingResult{Status: StatusPreview, MarkerID: &markerID, Preview: &preview}
			return nil
		}
		if matched.RequireApproval {
			result = AccountingResult{Status: StatusPending, MarkerID: &markerID, Preview: &preview}
			return nil
		}

		entry, err := e.ledger.Post(ctx, tx.Ledger(), preview.ToLedgerInput(projection, in.UserID))
		if err != nil {
			return err
		}
		if err := tx.MarkPosted(ctx, markerID, entry.ID, e.now()); err != nil {
			return err
		}
		entryID := entry.ID
		if err := tx.WriteBack(ctx, in.EntityType, in.EntityID, "posted", &entryID); err != nil {
			return err
		}
		result = AccountingResult{Status: StatusPosted, MarkerID: &markerID, JournalEntryID: &entryID, Preview: &preview}
		return nil
	})
	if txErr != nil {
		e.recordFailure(ctx, in, matched.ID, txErr)
		return systemFailure(txErr), txErr
	}

	e.auditRun(ctx, in, result)
	return result, nil
}

// ConfirmPendingPosting commits the ledger transaction for a marker
// that required human confirmation, replaying its stored preview.
func (e *Engine) ConfirmPendingPosting(ctx context.Context, markerID, userID int64) (AccountingResult, error) {
	// Read the marker outside the transaction to learn its idempotency
	// tuple. The tuple is immutable, so it is safe to derive the lock key
	// from this read.
	peek, err := e.repo.GetMarkerByID(ctx, markerID)
	if err != nil {
		if errors.Is(err, ErrMarkerNotFound) {
			return AccountingResult{Status: StatusFailed, ErrorCode: CodeNotFound, Reason: err.Error()}, nil
		}
		return systemFailure(err), err
	}

	var result AccountingResult
	var confirmed Marker
	txErr := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Advisory lock before the row lock, matching Run. Taking them in
		// the opposite order here could deadlock against a concurrent Run
		// for the same tuple.
		if err := tx.AcquirePostingLock(ctx, peek.EntityType, peek.EntityID, peek.TriggerCode); err != nil {
			return err
		}
		marker, err := tx.GetMarkerByIDForUpdate(ctx, markerID)
		if err != nil {
			return err
		}
		if marker.Status == MarkerPosted {
			result = skippedAlreadyPosted(marker)
			return nil
		}
		if marker.Status != MarkerPending || marker.Preview == nil {
			return ErrMarkerNotPending
		}
		projection, err := tx.LoadProjection(ctx, marker.EntityType, marker.EntityID, marker.CompanyID)
		if err != nil {
			return err
		}
		entry, err := e.ledger.Post(ctx, tx.Ledger(), marker.Preview.ToLedgerInput(projection, userID))
		if err != nil {
			return err
		}
		if err := tx.MarkPosted(ctx, marker.ID, entry.ID, e.now()); err != nil {
			return err
		}
		entryID := entry.ID
		if err := tx.WriteBack(ctx, marker.EntityType, marker.EntityID, "posted", &entryID); err != nil {
			return err
		}
		confirmed = marker
		result = AccountingResult{Status: StatusPosted, MarkerID: &marker.ID, JournalEntryID: &entryID, Preview: marker.Preview}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrMarkerNotPending) || errors.Is(txErr, ErrMarkerNotFound) {
			return AccountingResult{Status: StatusFailed, ErrorCode: CodeNotFound, Reason: txErr.Error()}, nil
		}
		return systemFailure(txErr), txErr
	}

	if result.Status == StatusPosted && confirmed.ID != 0 {
		if e.approvals != nil {
			_ = e.approvals.Record(ctx, shared.ApprovalLog{
				Module:  "posting",
				RefID:   markerRef(confirmed),
				ActorID: userID,
				Action:  shared.ApprovalConfirm,
				Note:    fmt.Sprintf("posting confirmed for %s %d", confirmed.EntityType, confirmed.EntityID),
			})
		}
		e.auditRun(ctx, RunInput{
			Event:      confirmed.TriggerCode,
			EntityType: confirmed.EntityType,
			EntityID:   confirmed.EntityID,
			CompanyID:  confirmed.CompanyID,
			UserID:     userID,
		}, result)
	}
	return result, nil
}

// GetMarker returns one marker by id.
func (e *Engine) GetMarker(ctx context.Context, markerID int64) (Marker, error) {
	return e.repo.GetMarkerByID(ctx, markerID)
}

// ListMarkers returns the markers recorded for an entity.
func (e *Engine) ListMarkers(ctx context.Context, companyID int64, entityType string, entityID int64) ([]Marker, error) {
	return e.repo.ListMarkers(ctx, companyID, entityType, entityID)
}

// matchRule scans active rules in ascending priority and returns the
// first whose condition groups match. First match wins: a matching rule
// ends the scan whether or not it sets stopOnMatch, which keeps rule
// precedence equal to priority order.
func matchRule(rules []Rule, fields map[string]any) (Rule, bool) {
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if EvaluateConditions(rule.Conditions, fields) {
			return rule, true
		}
	}
	return Rule{}, false
}

func (e *Engine) recordFailure(ctx context.Context, in RunInput, ruleID int64, cause error) {
	marker := Marker{
		EntityType:   in.EntityType,
		EntityID:     in.EntityID,
		TriggerCode:  in.Event,
		CompanyID:    in.CompanyID,
		RuleID:       &ruleID,
		Status:       MarkerFailed,
		ErrorMessage: cause.Error(),
		CreatedBy:    in.UserID,
	}
	if err := e.repo.RecordFailure(ctx, marker); err != nil {
		e.logger.Error("record posting failure", slog.Any("error", err))
	}
	e.logger.Error("posting attempt rolled back",
		slog.String("event", in.Event),
		slog.String("entity_type", in.EntityType),
		slog.Int64("entity_id", in.EntityID),
		slog.Any("error", cause))
}

func (e *Engine) auditRun(ctx context.Context, in RunInput, result AccountingResult) {
	if e.audit == nil {
		return
	}
	meta := map[string]any{
		"event":  in.Event,
		"status": string(result.Status),
	}
	if result.JournalEntryID != nil {
		meta["journal_entry_id"] = *result.JournalEntryID
	}
	_ = e.audit.Record(ctx, shared.AuditLog{
		ActorID:  in.UserID,
		Action:   "posting." + string(result.Status),
		Entity:   in.EntityType,
		EntityID: fmt.Sprintf("%d", in.EntityID),
		Meta:     meta,
		At:       e.now(),
	})
}

func (e *Engine) observe(trigger string, result AccountingResult, started time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObservePosting(trigger, string(result.Status), e.now().Sub(started))
}

func skippedAlreadyPosted(marker Marker) AccountingResult {
	id := marker.ID
	return AccountingResult{
		Status:         StatusSkipped,
		ErrorCode:      CodeAlreadyPosted,
		Reason:         "entity already posted for this trigger",
		MarkerID:       &id,
		JournalEntryID: marker.JournalEntryID,
	}
}

func systemFailure(err error) AccountingResult {
	return AccountingResult{Status: StatusFailed, ErrorCode: CodeSystemFailure, Reason: err.Error()}
}

func markerRef(marker Marker) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("posting:%s:%d:%s", marker.EntityType, marker.EntityID, marker.TriggerCode)))
}
