package matching

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads matching inputs from Postgres. All queries are
// read-only; the validator never writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetInvoice loads the invoice header and its lines.
func (r *Repository) GetInvoice(ctx context.Context, invoiceID, companyID int64) (Invoice, []InvoiceLine, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, number, total, purchase_order_id, goods_receipt_id
FROM purchase_invoices WHERE id=$1 AND company_id=$2`, invoiceID, companyID).Scan(
		&inv.ID, &inv.CompanyID, &inv.Number, &inv.Total, &inv.PurchaseOrderID, &inv.GoodsReceiptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, nil, ErrInvoiceNotFound
		}
		return Invoice{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT item_id, quantity, unit_price, total
FROM purchase_invoice_lines WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return Invoice{}, nil, err
	}
	defer rows.Close()
	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.UnitPrice, &l.Total); err != nil {
			return Invoice{}, nil, err
		}
		lines = append(lines, l)
	}
	return inv, lines, rows.Err()
}

// GetPOLines loads ordered quantities and prices.
func (r *Repository) GetPOLines(ctx context.Context, poID int64) ([]POLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, quantity, unit_price
FROM purchase_order_lines WHERE order_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetGRLines loads received quantities and unit costs.
func (r *Repository) GetGRLines(ctx context.Context, grID int64) ([]GRLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, quantity, unit_cost
FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id`, grID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []GRLine
	for rows.Next() {
		var l GRLine
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetToleranceConfig loads the tenant tolerances, applying defaults
// when no configuration row exists.
func (r *Repository) GetToleranceConfig(ctx context.Context, companyID int64) (ToleranceConfig, error) {
	cfg := DefaultToleranceConfig()
	err := r.pool.QueryRow(ctx, `SELECT price_tolerance_pct, qty_tolerance_pct, allow_over_receipt, allow_over_invoice, require_po_match, require_gr_match
FROM matching_tolerances WHERE company_id=$1`, companyID).Scan(
		&cfg.PriceTolerancePercent, &cfg.QtyTolerancePercent,
		&cfg.AllowOverReceipt, &cfg.AllowOverInvoice,
		&cfg.RequirePOMatch, &cfg.RequireGRMatch)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultToleranceConfig(), nil
		}
		return ToleranceConfig{}, err
	}
	return cfg, nil
}
