package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort describes the read-only data access the validator needs.
type RepositoryPort interface {
	GetInvoice(ctx context.Context, invoiceID, companyID int64) (Invoice, []InvoiceLine, error)
	GetPOLines(ctx context.Context, poID int64) ([]POLine, error)
	GetGRLines(ctx context.Context, grID int64) ([]GRLine, error)
	GetToleranceConfig(ctx context.Context, companyID int64) (ToleranceConfig, error)
}

// AuditPort records override decisions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service performs three-way matching. It never mutates data and is
// safe to call repeatedly, both as a pre-post gate and as a preview.
type Service struct {
	repo      RepositoryPort
	approvals *shared.ApprovalRecorder
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the matching validator.
func NewService(repo RepositoryPort, approvals *shared.ApprovalRecorder, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, approvals: approvals, audit: audit, logger: logger, now: time.Now}
}

// Validate reconciles the invoice against its linked purchase order and
// goods receipt.
func (s *Service) Validate(ctx context.Context, invoiceID, companyID int64) (Result, error) {
	invoice, lines, err := s.repo.GetInvoice(ctx, invoiceID, companyID)
	if err != nil {
		return Result{}, err
	}
	cfg, err := s.repo.GetToleranceConfig(ctx, companyID)
	if err != nil {
		return Result{}, err
	}
	var poLines []POLine
	if invoice.PurchaseOrderID != nil {
		if poLines, err = s.repo.GetPOLines(ctx, *invoice.PurchaseOrderID); err != nil {
			return Result{}, err
		}
	}
	var grLines []GRLine
	if invoice.GoodsReceiptID != nil {
		if grLines, err = s.repo.GetGRLines(ctx, *invoice.GoodsReceiptID); err != nil {
			return Result{}, err
		}
	}
	return Match(invoice, lines, poLines, grLines, cfg), nil
}

// RecordOverride logs an explicit variance override with its reason so
// a blocked posting may proceed. The override itself is consumed by the
// posting caller; this only persists the decision trail.
func (s *Service) RecordOverride(ctx context.Context, invoiceID, companyID, actorID int64, reason string) error {
	if reason == "" {
		return fmt.Errorf("matching: override reason required")
	}
	// Validate first so an override cannot reference a missing invoice.
	result, err := s.Validate(ctx, invoiceID, companyID)
	if err != nil {
		return err
	}
	ref := overrideRef(invoiceID, companyID)
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  "matching",
			RefID:   ref,
			ActorID: actorID,
			Action:  shared.ApprovalOverride,
			Note:    reason,
		}); err != nil {
			return err
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "matching.override",
			Entity:   "purchase_invoice",
			EntityID: fmt.Sprintf("%d", invoiceID),
			Meta: map[string]any{
				"reason":         reason,
				"match_status":   string(result.Status),
				"variance_count": len(result.Variances),
			},
			At: s.now(),
		})
	}
	s.logger.Info("matching variance overridden",
		slog.Int64("invoice_id", invoiceID),
		slog.Int64("actor_id", actorID),
		slog.String("reason", reason))
	return nil
}

// GateForPosting decides whether an invoice may proceed to posting.
// Invoices without purchase-order or goods-receipt links pass through.
// A variance that requires approval blocks posting unless an override
// was recorded.
func (s *Service) GateForPosting(ctx context.Context, invoiceID, companyID int64) (bool, *Result, error) {
	invoice, _, err := s.repo.GetInvoice(ctx, invoiceID, companyID)
	if err != nil {
		return false, nil, err
	}
	if invoice.PurchaseOrderID == nil && invoice.GoodsReceiptID == nil {
		return true, nil, nil
	}
	result, err := s.Validate(ctx, invoiceID, companyID)
	if err != nil {
		return false, nil, err
	}
	if !result.RequiresApproval {
		return true, &result, nil
	}
	overridden, err := s.HasOverride(ctx, invoiceID, companyID)
	if err != nil {
		return false, &result, err
	}
	return overridden, &result, nil
}

// HasOverride reports whether an override was recorded for the invoice.
func (s *Service) HasOverride(ctx context.Context, invoiceID, companyID int64) (bool, error) {
	if s.approvals == nil {
		return false, nil
	}
	return s.approvals.HasOverride(ctx, "matching", overrideRef(invoiceID, companyID))
}

func overrideRef(invoiceID, companyID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("matching:%d:%d", companyID, invoiceID)))
}
