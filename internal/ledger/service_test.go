package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memTx implements TxWriter in memory for Writer tests.
type memTx struct {
	entries   map[int64]JournalEntry
	balances  []BalanceDelta
	nextID    int64
	period    Period
	periodOK  bool
	noPeriod  bool
	finalized []EntryStatus
}

func newMemTx() *memTx {
	return &memTx{
		entries:  map[int64]JournalEntry{},
		nextID:   1,
		period:   Period{ID: 3, CompanyID: 1, FiscalYear: 2026, PeriodNo: 3, Status: PeriodStatusOpen},
		periodOK: true,
	}
}

func (m *memTx) NextEntryNumber(_ context.Context, _ int64, _ int) (int64, error) {
	return int64(len(m.entries)) + 1, nil
}

func (m *memTx) ResolvePostingPeriod(_ context.Context, _ int64, _ time.Time) (Period, bool, error) {
	if m.noPeriod {
		return Period{}, false, nil
	}
	return m.period, m.periodOK, nil
}

func (m *memTx) InsertEntry(_ context.Context, entry JournalEntry) (int64, error) {
	entry.ID = m.nextID
	m.nextID++
	m.entries[entry.ID] = entry
	return entry.ID, nil
}

func (m *memTx) InsertLines(_ context.Context, entryID int64, lines []LineInput) error {
	entry := m.entries[entryID]
	entry.Lines = append(entry.Lines, toLines(entryID, lines)...)
	m.entries[entryID] = entry
	return nil
}

func (m *memTx) AccumulateBalance(_ context.Context, delta BalanceDelta) error {
	m.balances = append(m.balances, delta)
	return nil
}

func (m *memTx) FinalizeEntry(_ context.Context, entryID int64, status EntryStatus, totalDebit, totalCredit float64) error {
	entry, ok := m.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = status
	entry.TotalDebit = totalDebit
	entry.TotalCredit = totalCredit
	m.entries[entryID] = entry
	m.finalized = append(m.finalized, status)
	return nil
}

func (m *memTx) GetEntryWithLines(_ context.Context, entryID int64) (JournalEntry, error) {
	entry, ok := m.entries[entryID]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

func (m *memTx) MarkReversed(_ context.Context, entryID, _ int64) error {
	entry, ok := m.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = EntryStatusReversed
	m.entries[entryID] = entry
	return nil
}

func testWriter() *Writer {
	w := NewWriter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.WithNow(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) })
	return w
}

func balancedInput() PostingInput {
	return PostingInput{
		CompanyID:   1,
		Date:        time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Currency:    "EGP",
		Description: "Expense accrual EXP-1",
		SourceType:  "expense_request",
		SourceID:    7,
		CreatedBy:   3,
		Lines: []LineInput{
			{AccountID: 5010, Debit: 250.75},
			{AccountID: 2100, Credit: 250.75},
		},
	}
}

func TestPostBalancedEntry(t *testing.T) {
	tx := newMemTx()
	entry, err := testWriter().Post(context.Background(), tx, balancedInput())
	require.NoError(t, err)

	require.Equal(t, EntryStatusPosted, entry.Status)
	require.Equal(t, int64(1), entry.Number)
	require.Equal(t, 2026, entry.FiscalYear)
	require.NotNil(t, entry.PeriodID)
	require.Equal(t, 250.75, entry.TotalDebit)
	require.Equal(t, 250.75, entry.TotalCredit)
	require.Len(t, entry.Lines, 2)

	// The status flip happens once, after lines and balances exist.
	require.Equal(t, []EntryStatus{EntryStatusPosted}, tx.finalized)

	require.Len(t, tx.balances, 2)
	require.Equal(t, int64(5010), tx.balances[0].AccountID)
	require.Equal(t, 250.75, tx.balances[0].Debit)
	require.Equal(t, 3, tx.balances[0].PeriodNo)
}

func TestPostRejectsUnbalancedInput(t *testing.T) {
	input := balancedInput()
	input.Lines[1].Credit = 200

	tx := newMemTx()
	_, err := testWriter().Post(context.Background(), tx, input)
	require.ErrorIs(t, err, ErrUnbalanced)
	require.Empty(t, tx.entries, "nothing written before validation passes")
}

func TestPostToleratesRoundingNoise(t *testing.T) {
	input := balancedInput()
	input.Lines[0].Debit = 100.004
	input.Lines[1].Credit = 100.00

	_, err := testWriter().Post(context.Background(), newMemTx(), input)
	require.NoError(t, err)
}

func TestPostRejectsSingleLine(t *testing.T) {
	input := balancedInput()
	input.Lines = input.Lines[:1]

	_, err := testWriter().Post(context.Background(), newMemTx(), input)
	require.ErrorIs(t, err, ErrTooFewLines)
}

func TestPostWithoutResolvedPeriod(t *testing.T) {
	tx := newMemTx()
	tx.noPeriod = true

	entry, err := testWriter().Post(context.Background(), tx, balancedInput())
	require.NoError(t, err)
	require.Nil(t, entry.PeriodID)
	require.Equal(t, 2026, entry.FiscalYear, "falls back to document date year")
	require.Equal(t, 3, tx.balances[0].PeriodNo, "falls back to document date month")
}

func TestReverseMirrorsLines(t *testing.T) {
	tx := newMemTx()
	w := testWriter()
	entry, err := w.Post(context.Background(), tx, balancedInput())
	require.NoError(t, err)

	reversal, err := w.Reverse(context.Background(), tx, entry.ID, 9, "")
	require.NoError(t, err)

	require.Equal(t, EntryStatusPosted, reversal.Status)
	require.Equal(t, "expense_request:REVERSAL", reversal.SourceType)
	require.NotNil(t, reversal.ReversalOf)
	require.Equal(t, entry.ID, *reversal.ReversalOf)
	require.Equal(t, "Reversal of JE-000001", reversal.Description)
	require.Equal(t, 250.75, reversal.Lines[0].Credit, "debit leg flips to credit")
	require.Equal(t, 250.75, reversal.Lines[1].Debit)

	original, err := tx.GetEntryWithLines(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, EntryStatusReversed, original.Status)
}

func TestReverseGuards(t *testing.T) {
	tx := newMemTx()
	w := testWriter()
	entry, err := w.Post(context.Background(), tx, balancedInput())
	require.NoError(t, err)

	_, err = w.Reverse(context.Background(), tx, entry.ID, 9, "")
	require.NoError(t, err)

	_, err = w.Reverse(context.Background(), tx, entry.ID, 9, "")
	require.ErrorIs(t, err, ErrAlreadyReversed)

	_, err = w.Reverse(context.Background(), tx, 999, 9, "")
	require.ErrorIs(t, err, ErrEntryNotFound)
}
