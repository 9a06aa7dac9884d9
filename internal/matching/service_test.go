package matching

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryMatchRepo struct {
	invoices map[int64]Invoice
	invLines map[int64][]InvoiceLine
	poLines  map[int64][]POLine
	grLines  map[int64][]GRLine
	cfg      ToleranceConfig
}

func newMemoryMatchRepo() *memoryMatchRepo {
	return &memoryMatchRepo{
		invoices: make(map[int64]Invoice),
		invLines: make(map[int64][]InvoiceLine),
		poLines:  make(map[int64][]POLine),
		grLines:  make(map[int64][]GRLine),
		cfg:      DefaultToleranceConfig(),
	}
}

func (r *memoryMatchRepo) GetInvoice(ctx context.Context, invoiceID, companyID int64) (Invoice, []InvoiceLine, error) {
	inv, ok := r.invoices[invoiceID]
	if !ok || inv.CompanyID != companyID {
		return Invoice{}, nil, ErrInvoiceNotFound
	}
	return inv, append([]InvoiceLine(nil), r.invLines[invoiceID]...), nil
}

func (r *memoryMatchRepo) GetPOLines(ctx context.Context, poID int64) ([]POLine, error) {
	return append([]POLine(nil), r.poLines[poID]...), nil
}

func (r *memoryMatchRepo) GetGRLines(ctx context.Context, grID int64) ([]GRLine, error) {
	return append([]GRLine(nil), r.grLines[grID]...), nil
}

func (r *memoryMatchRepo) GetToleranceConfig(ctx context.Context, companyID int64) (ToleranceConfig, error) {
	return r.cfg, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateLoadsLinkedDocuments(t *testing.T) {
	repo := newMemoryMatchRepo()
	poID, grID := int64(10), int64(20)
	repo.invoices[1] = Invoice{ID: 1, CompanyID: 100, Total: 103, PurchaseOrderID: &poID, GoodsReceiptID: &grID}
	repo.invLines[1] = []InvoiceLine{{ItemID: 7, Quantity: 1, UnitPrice: 103, Total: 103}}
	repo.poLines[poID] = []POLine{{ItemID: 7, Quantity: 1, UnitPrice: 100}}
	repo.grLines[grID] = []GRLine{{ItemID: 7, Quantity: 1, UnitCost: 100}}

	svc := NewService(repo, nil, nil, testLogger())
	result, err := svc.Validate(context.Background(), 1, 100)
	require.NoError(t, err)

	require.True(t, result.HasPurchaseOrder)
	require.True(t, result.HasGoodsReceipt)
	require.Equal(t, MatchPartial, result.Status)
	require.InDelta(t, 3, result.TotalVariance, 0.01)
}

func TestValidateUnknownInvoice(t *testing.T) {
	svc := NewService(newMemoryMatchRepo(), nil, nil, testLogger())
	_, err := svc.Validate(context.Background(), 99, 100)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestValidateIsTenantScoped(t *testing.T) {
	repo := newMemoryMatchRepo()
	repo.invoices[1] = Invoice{ID: 1, CompanyID: 100, Total: 50}

	svc := NewService(repo, nil, nil, testLogger())
	_, err := svc.Validate(context.Background(), 1, 200)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestRecordOverrideRequiresReason(t *testing.T) {
	repo := newMemoryMatchRepo()
	repo.invoices[1] = Invoice{ID: 1, CompanyID: 100, Total: 50}

	svc := NewService(repo, nil, nil, testLogger())
	err := svc.RecordOverride(context.Background(), 1, 100, 5, "")
	require.Error(t, err)
}

func TestRecordOverrideValidatesInvoiceExists(t *testing.T) {
	svc := NewService(newMemoryMatchRepo(), nil, nil, testLogger())
	err := svc.RecordOverride(context.Background(), 42, 100, 5, "supplier confirmed revised price")
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}
