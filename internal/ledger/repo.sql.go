package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxRepo implements TxWriter over a pgx transaction owned by the caller.
type TxRepo struct {
	tx pgx.Tx
}

// NewTxRepo wraps an open transaction.
func NewTxRepo(tx pgx.Tx) *TxRepo {
	return &TxRepo{tx: tx}
}

// NextEntryNumber allocates the next sequential entry number for the
// company and fiscal year. The surrounding transaction serializes
// concurrent allocations.
func (r *TxRepo) NextEntryNumber(ctx context.Context, companyID int64, fiscalYear int) (int64, error) {
	var number int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) + 1
FROM journal_entries WHERE company_id=$1 AND fiscal_year=$2`, companyID, fiscalYear).Scan(&number)
	if err != nil {
		return 0, err
	}
	return number, nil
}

// ResolvePostingPeriod finds the OPEN period covering date; when none is
// strictly open it falls back to any period in the date's year. The
// second return reports whether a strictly open period was found.
func (r *TxRepo) ResolvePostingPeriod(ctx context.Context, companyID int64, date time.Time) (Period, bool, error) {
	var p Period
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, fiscal_year, period_no, start_date, end_date, status
FROM fiscal_periods
WHERE company_id=$1 AND status='OPEN' AND start_date <= $2 AND end_date >= $2
ORDER BY start_date LIMIT 1`, companyID, date).Scan(&p.ID, &p.CompanyID, &p.FiscalYear, &p.PeriodNo, &p.StartDate, &p.EndDate, &p.Status)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Period{}, false, err
	}
	err = r.tx.QueryRow(ctx, `SELECT id, company_id, fiscal_year, period_no, start_date, end_date, status
FROM fiscal_periods
WHERE company_id=$1 AND fiscal_year=$2
ORDER BY period_no LIMIT 1`, companyID, date.Year()).Scan(&p.ID, &p.CompanyID, &p.FiscalYear, &p.PeriodNo, &p.StartDate, &p.EndDate, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, false, nil
		}
		return Period{}, false, err
	}
	return p, false, nil
}

// InsertEntry writes the provisional header and returns its id.
func (r *TxRepo) InsertEntry(ctx context.Context, entry JournalEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(company_id, number, fiscal_year, period_id, entry_date, currency, description, source_type, source_id, total_debit, total_credit, status, reversal_of, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,0,$10,$11,$12,$13)
RETURNING id`,
		entry.CompanyID, entry.Number, entry.FiscalYear, entry.PeriodID, entry.Date,
		entry.Currency, entry.Description, entry.SourceType, entry.SourceID,
		string(EntryStatusDraft), entry.ReversalOf, entry.CreatedBy, entry.CreatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertLines writes all journal lines for an entry.
func (r *TxRepo) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO journal_lines
(entry_id, account_id, debit, credit, cost_center_id, project_id, shipment_id, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			entryID, line.AccountID, round2(line.Debit), round2(line.Credit),
			line.CostCenterID, line.ProjectID, line.ShipmentID, line.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

// AccumulateBalance additively upserts the per-period accumulators.
// closing balance is derived at read time, never written here.
func (r *TxRepo) AccumulateBalance(ctx context.Context, delta BalanceDelta) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO account_balances
(account_id, company_id, fiscal_year, period_no, currency, cost_center_id, branch_id, period_debit, period_credit)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (account_id, company_id, fiscal_year, period_no, currency, COALESCE(cost_center_id, 0), COALESCE(branch_id, 0))
DO UPDATE SET period_debit = account_balances.period_debit + EXCLUDED.period_debit,
              period_credit = account_balances.period_credit + EXCLUDED.period_credit`,
		delta.AccountID, delta.CompanyID, delta.FiscalYear, delta.PeriodNo, delta.Currency,
		delta.CostCenterID, delta.BranchID, delta.Debit, delta.Credit)
	return err
}

// FinalizeEntry flips the header out of DRAFT; the balance-validating
// constraint fires on this status transition.
func (r *TxRepo) FinalizeEntry(ctx context.Context, entryID int64, status EntryStatus, totalDebit, totalCredit float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries
SET status=$2, total_debit=$3, total_credit=$4
WHERE id=$1 AND status=$5`,
		entryID, string(status), totalDebit, totalCredit, string(EntryStatusDraft))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// GetEntryWithLines loads a header plus its ordered lines.
func (r *TxRepo) GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	var e JournalEntry
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, number, fiscal_year, period_id, entry_date, currency, description, source_type, source_id, total_debit, total_credit, status, reversal_of, created_by, created_at
FROM journal_entries WHERE id=$1`, entryID).Scan(
		&e.ID, &e.CompanyID, &e.Number, &e.FiscalYear, &e.PeriodID, &e.Date, &e.Currency,
		&e.Description, &e.SourceType, &e.SourceID, &e.TotalDebit, &e.TotalCredit,
		&status, &e.ReversalOf, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	e.Status = EntryStatus(status)
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, cost_center_id, project_id, shipment_id, description
FROM journal_lines WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.Debit, &l.Credit, &l.CostCenterID, &l.ProjectID, &l.ShipmentID, &l.Description); err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

// MarkReversed stamps the original entry with its reversal reference.
func (r *TxRepo) MarkReversed(ctx context.Context, entryID int64, reversalID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries
SET status=$2, reversed_by=$3
WHERE id=$1 AND status=$4`,
		entryID, string(EntryStatusReversed), reversalID, string(EntryStatusPosted))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPosted
	}
	return nil
}
