package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TxWriter exposes the transactional ledger operations. The posting
// engine shares one database transaction with the marker and document
// write-back work, so every method here runs against the caller's tx.
type TxWriter interface {
	NextEntryNumber(ctx context.Context, companyID int64, fiscalYear int) (int64, error)
	ResolvePostingPeriod(ctx context.Context, companyID int64, date time.Time) (Period, bool, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (int64, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
	AccumulateBalance(ctx context.Context, delta BalanceDelta) error
	FinalizeEntry(ctx context.Context, entryID int64, status EntryStatus, totalDebit, totalCredit float64) error
	GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, error)
	MarkReversed(ctx context.Context, entryID int64, reversalID int64) error
}

// Writer builds balanced journal entries inside a caller-provided
// transaction. It owns period resolution, numbering, line insertion and
// the per-period balance accumulators.
type Writer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter constructs the ledger writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (w *Writer) WithNow(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Post validates and persists a new journal entry within tx. The header
// goes in as DRAFT, lines and balance accumulators follow, and only
// then does the status flip to POSTED.
func (w *Writer) Post(ctx context.Context, tx TxWriter, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = w.now()
	}
	period, open, err := tx.ResolvePostingPeriod(ctx, input.CompanyID, date)
	if err != nil {
		return JournalEntry{}, err
	}
	var periodID *int64
	fiscalYear := date.Year()
	periodNo := int(date.Month())
	if period.ID != 0 {
		id := period.ID
		periodID = &id
		fiscalYear = period.FiscalYear
		periodNo = period.PeriodNo
		if !open {
			w.logger.Warn("no open fiscal period, falling back to current-year period",
				slog.Int64("company_id", input.CompanyID),
				slog.Int64("period_id", period.ID))
		}
	} else {
		// Availability over strictness: post with null period references
		// rather than refusing the entry.
		w.logger.Warn("no fiscal period resolved, posting with null period",
			slog.Int64("company_id", input.CompanyID),
			slog.Time("date", date))
	}

	number, err := tx.NextEntryNumber(ctx, input.CompanyID, fiscalYear)
	if err != nil {
		return JournalEntry{}, err
	}
	debit, credit := input.Totals()
	totalDebit, _ := debit.Float64()
	totalCredit, _ := credit.Float64()

	entry := JournalEntry{
		CompanyID:   input.CompanyID,
		Number:      number,
		FiscalYear:  fiscalYear,
		PeriodID:    periodID,
		Date:        date,
		Currency:    defaultCurrency(input.Currency),
		Description: input.Description,
		SourceType:  input.SourceType,
		SourceID:    input.SourceID,
		Status:      EntryStatusDraft,
		ReversalOf:  input.ReversalOf,
		CreatedBy:   input.CreatedBy,
		CreatedAt:   w.now(),
	}
	entryID, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.InsertLines(ctx, entryID, input.Lines); err != nil {
		return JournalEntry{}, err
	}
	for _, line := range input.Lines {
		delta := BalanceDelta{
			AccountID:    line.AccountID,
			CompanyID:    input.CompanyID,
			FiscalYear:   fiscalYear,
			PeriodNo:     periodNo,
			Currency:     entry.Currency,
			CostCenterID: line.CostCenterID,
			Debit:        round2(line.Debit),
			Credit:       round2(line.Credit),
		}
		if err := tx.AccumulateBalance(ctx, delta); err != nil {
			return JournalEntry{}, err
		}
	}
	if err := tx.FinalizeEntry(ctx, entryID, EntryStatusPosted, round2(totalDebit), round2(totalCredit)); err != nil {
		return JournalEntry{}, err
	}
	entry.ID = entryID
	entry.Status = EntryStatusPosted
	entry.TotalDebit = round2(totalDebit)
	entry.TotalCredit = round2(totalCredit)
	entry.Lines = toLines(entryID, input.Lines)
	return entry, nil
}

// Reverse creates an opposite-signed entry undoing a posted one. The
// original row is never mutated beyond its reversed flag.
func (w *Writer) Reverse(ctx context.Context, tx TxWriter, entryID, actorID int64, memo string) (JournalEntry, error) {
	original, err := tx.GetEntryWithLines(ctx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if original.Status == EntryStatusReversed {
		return JournalEntry{}, ErrAlreadyReversed
	}
	if original.Status != EntryStatusPosted {
		return JournalEntry{}, ErrNotPosted
	}
	if memo == "" {
		memo = reversalMemo(original.Number)
	}
	origID := original.ID
	input := PostingInput{
		CompanyID:   original.CompanyID,
		Date:        w.now(),
		Currency:    original.Currency,
		Description: memo,
		SourceType:  original.SourceType + ":REVERSAL",
		SourceID:    original.SourceID,
		CreatedBy:   actorID,
		ReversalOf:  &origID,
		Lines:       reverseLines(original.Lines),
	}
	reversal, err := w.Post(ctx, tx, input)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.MarkReversed(ctx, original.ID, reversal.ID); err != nil {
		return JournalEntry{}, err
	}
	return reversal, nil
}

func reverseLines(lines []JournalLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID:    line.AccountID,
			Debit:        line.Credit,
			Credit:       line.Debit,
			CostCenterID: line.CostCenterID,
			ProjectID:    line.ProjectID,
			ShipmentID:   line.ShipmentID,
			Description:  line.Description,
		})
	}
	return out
}

func toLines(entryID int64, lines []LineInput) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			EntryID:      entryID,
			AccountID:    line.AccountID,
			Debit:        round2(line.Debit),
			Credit:       round2(line.Credit),
			CostCenterID: line.CostCenterID,
			ProjectID:    line.ProjectID,
			ShipmentID:   line.ShipmentID,
			Description:  line.Description,
		})
	}
	return out
}

func reversalMemo(number int64) string {
	return fmt.Sprintf("Reversal of JE-%06d", number)
}

func defaultCurrency(cur string) string {
	if cur == "" {
		return "USD"
	}
	return cur
}
