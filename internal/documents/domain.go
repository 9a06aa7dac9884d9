package documents

import (
	"errors"
	"time"
)

// EntityType tags the source-document tables the posting engine reads.
type EntityType string

const (
	EntityPurchaseInvoice EntityType = "purchase_invoice"
	EntityPurchaseReturn  EntityType = "purchase_return"
	EntityGoodsReceipt    EntityType = "goods_receipt"
	EntityExpenseRequest  EntityType = "expense_request"
)

var (
	// ErrNotFound indicates the source entity is missing.
	ErrNotFound = errors.New("documents: not found")
	// ErrUnknownEntityType indicates no projection is registered for the type.
	ErrUnknownEntityType = errors.New("documents: unknown entity type")
)

// Projection is the denormalized view of one source document, with
// foreign keys already resolved to the names and account ids journal
// construction needs. One typed struct serves every entity type; the
// per-type SQL decides which columns are populated.
type Projection struct {
	EntityType     EntityType
	EntityID       int64
	CompanyID      int64
	DocumentNumber string
	Status         string
	DocumentDate   time.Time
	Currency       string

	Amount    float64
	Subtotal  float64
	TaxAmount float64

	VendorID           *int64
	VendorName         string
	VendorAccountID    *int64
	ExpenseTypeID      *int64
	ExpenseAccountID   *int64
	BankAccountID      *int64
	InventoryAccountID *int64

	CostCenterID *int64
	ProjectID    *int64
	ShipmentID   *int64
	BranchID     *int64
	CreatedBy    int64
}

// FieldMap exposes the projection's named fields for rule-condition
// evaluation and description templates. This is the single boundary
// where fields are matched by name; everything else stays typed.
func (p Projection) FieldMap() map[string]any {
	fields := map[string]any{
		"entity_id":       p.EntityID,
		"company_id":      p.CompanyID,
		"document_number": p.DocumentNumber,
		"status":          p.Status,
		"currency":        p.Currency,
		"amount":          p.Amount,
		"subtotal":        p.Subtotal,
		"tax_amount":      p.TaxAmount,
		"vendor_name":     p.VendorName,
		"created_by":      p.CreatedBy,
		"document_date":   p.DocumentDate.Format("2006-01-02"),
	}
	putOptional(fields, "vendor_id", p.VendorID)
	putOptional(fields, "vendor_account_id", p.VendorAccountID)
	putOptional(fields, "expense_type_id", p.ExpenseTypeID)
	putOptional(fields, "expense_account_id", p.ExpenseAccountID)
	putOptional(fields, "bank_account_id", p.BankAccountID)
	putOptional(fields, "inventory_account_id", p.InventoryAccountID)
	putOptional(fields, "cost_center_id", p.CostCenterID)
	putOptional(fields, "project_id", p.ProjectID)
	putOptional(fields, "shipment_id", p.ShipmentID)
	putOptional(fields, "branch_id", p.BranchID)
	return fields
}

func putOptional(fields map[string]any, name string, v *int64) {
	if v == nil {
		fields[name] = nil
		return
	}
	fields[name] = *v
}

// State is the transient lifecycle view computed from the owning row.
type State struct {
	Status      string
	IsPosted    bool
	IsApproved  bool
	IsReversed  bool
	IsCancelled bool
	IsLocked    bool
}
