package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceEpsilon is the tolerance applied when verifying that journal
// debits equal credits before anything is written.
const BalanceEpsilon = 0.01

// PeriodStatus enumerates valid fiscal period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// EntryStatus enumerates journal lifecycle values. Entries are inserted
// as DRAFT and flipped to POSTED only after every line exists, so the
// balance-validating constraint fires once on the status transition.
type EntryStatus string

const (
	EntryStatusDraft    EntryStatus = "DRAFT"
	EntryStatusPosted   EntryStatus = "POSTED"
	EntryStatusReversed EntryStatus = "REVERSED"
)

// Period represents a fiscal period window within a company's year.
type Period struct {
	ID         int64
	CompanyID  int64
	FiscalYear int
	PeriodNo   int
	StartDate  time.Time
	EndDate    time.Time
	Status     PeriodStatus
}

// JournalEntry is the ledger transaction header.
type JournalEntry struct {
	ID          int64
	CompanyID   int64
	Number      int64
	FiscalYear  int
	PeriodID    *int64
	Date        time.Time
	Currency    string
	Description string
	SourceType  string
	SourceID    int64
	TotalDebit  float64
	TotalCredit float64
	Status      EntryStatus
	ReversalOf  *int64
	CreatedBy   int64
	CreatedAt   time.Time
	Lines       []JournalLine
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID           int64
	EntryID      int64
	AccountID    int64
	Debit        float64
	Credit       float64
	CostCenterID *int64
	ProjectID    *int64
	ShipmentID   *int64
	Description  string
}

// BalanceDelta is the additive accumulator update applied to one
// (account, year, period, currency[, cost center, branch]) row.
type BalanceDelta struct {
	AccountID    int64
	CompanyID    int64
	FiscalYear   int
	PeriodNo     int
	Currency     string
	CostCenterID *int64
	BranchID     *int64
	Debit        float64
	Credit       float64
}

// LineInput describes a journal line for a posting request.
type LineInput struct {
	AccountID    int64
	Debit        float64
	Credit       float64
	CostCenterID *int64
	ProjectID    *int64
	ShipmentID   *int64
	Description  string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	CompanyID   int64
	Date        time.Time
	Currency    string
	Description string
	SourceType  string
	SourceID    int64
	CreatedBy   int64
	ReversalOf  *int64
	Lines       []LineInput
}

var (
	// ErrUnbalanced indicates debit != credit beyond tolerance.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrNotPosted indicates the entry is not in POSTED status.
	ErrNotPosted = errors.New("ledger: entry is not posted")
	// ErrAlreadyReversed indicates a second reversal attempt.
	ErrAlreadyReversed = errors.New("ledger: entry already reversed")
)

// Totals sums debits and credits using exact decimal arithmetic.
func (in PostingInput) Totals() (debit, credit decimal.Decimal) {
	for _, line := range in.Lines {
		debit = debit.Add(decimal.NewFromFloat(line.Debit))
		credit = credit.Add(decimal.NewFromFloat(line.Credit))
	}
	return debit, credit
}

// Validate ensures posting input meets minimum criteria, including the
// balance invariant within BalanceEpsilon.
func (in PostingInput) Validate() error {
	if in.CompanyID == 0 {
		return errors.New("ledger: company required")
	}
	if in.SourceType == "" || in.SourceID == 0 {
		return errors.New("ledger: source reference required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
	}
	debit, credit := in.Totals()
	diff, _ := debit.Sub(credit).Abs().Float64()
	if diff > BalanceEpsilon {
		return ErrUnbalanced
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
