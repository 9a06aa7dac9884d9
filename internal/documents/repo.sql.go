package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// entityMeta is the lookup table keyed by entity type: owning table for
// state/write-back plus the denormalizing projection query. Every query
// returns the same column shape so one scan serves all types.
type entityMeta struct {
	table         string
	projectionSQL string
}

const projectionColumns = `d.id, d.company_id, d.number, d.status, d.doc_date, d.currency,
d.total, d.subtotal, d.tax_amount,
d.vendor_id, COALESCE(v.name, ''), v.payable_account_id,
d.expense_type_id, et.expense_account_id,
d.bank_account_id, d.inventory_account_id,
d.cost_center_id, d.project_id, d.shipment_id, d.branch_id, d.created_by`

var entityRegistry = map[EntityType]entityMeta{
	EntityPurchaseInvoice: {
		table: "purchase_invoices",
		projectionSQL: `SELECT ` + projectionColumns + `
FROM purchase_invoices d
LEFT JOIN vendors v ON v.id = d.vendor_id
LEFT JOIN expense_types et ON et.id = d.expense_type_id
WHERE d.id = $1 AND d.company_id = $2`,
	},
	EntityPurchaseReturn: {
		table: "purchase_returns",
		projectionSQL: `SELECT ` + projectionColumns + `
FROM purchase_returns d
LEFT JOIN vendors v ON v.id = d.vendor_id
LEFT JOIN expense_types et ON et.id = d.expense_type_id
WHERE d.id = $1 AND d.company_id = $2`,
	},
	EntityGoodsReceipt: {
		table: "goods_receipts",
		projectionSQL: `SELECT ` + projectionColumns + `
FROM goods_receipts d
LEFT JOIN vendors v ON v.id = d.vendor_id
LEFT JOIN expense_types et ON et.id = d.expense_type_id
WHERE d.id = $1 AND d.company_id = $2`,
	},
	EntityExpenseRequest: {
		table: "expense_requests",
		projectionSQL: `SELECT ` + projectionColumns + `
FROM expense_requests d
LEFT JOIN vendors v ON v.id = d.vendor_id
LEFT JOIN expense_types et ON et.id = d.expense_type_id
WHERE d.id = $1 AND d.company_id = $2`,
	},
}

// TableFor resolves the owning table for write-backs.
func TableFor(entityType EntityType) (string, error) {
	meta, ok := entityRegistry[entityType]
	if !ok {
		return "", ErrUnknownEntityType
	}
	return meta.table, nil
}

// KnownEntityType reports whether a projection is registered.
func KnownEntityType(entityType EntityType) bool {
	_, ok := entityRegistry[entityType]
	return ok
}

// Repository reads source documents for the posting core.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type row interface {
	Scan(dest ...any) error
}

func scanProjection(r row, entityType EntityType) (Projection, error) {
	var p Projection
	err := r.Scan(&p.EntityID, &p.CompanyID, &p.DocumentNumber, &p.Status, &p.DocumentDate, &p.Currency,
		&p.Amount, &p.Subtotal, &p.TaxAmount,
		&p.VendorID, &p.VendorName, &p.VendorAccountID,
		&p.ExpenseTypeID, &p.ExpenseAccountID,
		&p.BankAccountID, &p.InventoryAccountID,
		&p.CostCenterID, &p.ProjectID, &p.ShipmentID, &p.BranchID, &p.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Projection{}, ErrNotFound
		}
		return Projection{}, err
	}
	p.EntityType = entityType
	return p, nil
}

// LoadProjection fetches the denormalized view of one source document.
func (r *Repository) LoadProjection(ctx context.Context, entityType EntityType, entityID, companyID int64) (Projection, error) {
	meta, ok := entityRegistry[entityType]
	if !ok {
		return Projection{}, ErrUnknownEntityType
	}
	return scanProjection(r.pool.QueryRow(ctx, meta.projectionSQL, entityID, companyID), entityType)
}

// LoadProjectionTx is LoadProjection against an open transaction.
func LoadProjectionTx(ctx context.Context, tx pgx.Tx, entityType EntityType, entityID, companyID int64) (Projection, error) {
	meta, ok := entityRegistry[entityType]
	if !ok {
		return Projection{}, ErrUnknownEntityType
	}
	return scanProjection(tx.QueryRow(ctx, meta.projectionSQL, entityID, companyID), entityType)
}

// GetState computes the lifecycle view from the owning row.
func (r *Repository) GetState(ctx context.Context, entityType EntityType, entityID, companyID int64) (State, error) {
	meta, ok := entityRegistry[entityType]
	if !ok {
		return State{}, ErrUnknownEntityType
	}
	var s State
	query := fmt.Sprintf(`SELECT status, is_posted, is_approved, is_reversed, is_cancelled, is_locked
FROM %s WHERE id = $1 AND company_id = $2`, meta.table)
	err := r.pool.QueryRow(ctx, query, entityID, companyID).Scan(
		&s.Status, &s.IsPosted, &s.IsApproved, &s.IsReversed, &s.IsCancelled, &s.IsLocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}
	return s, nil
}

// WriteBackTx stamps the accounting status and journal reference onto
// the source document inside the posting transaction.
func WriteBackTx(ctx context.Context, tx pgx.Tx, entityType EntityType, entityID int64, accountingStatus string, journalEntryID *int64) error {
	table, err := TableFor(entityType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET accounting_status = $2, journal_entry_id = $3 WHERE id = $1`, table)
	tag, err := tx.Exec(ctx, query, entityID, accountingStatus, journalEntryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
