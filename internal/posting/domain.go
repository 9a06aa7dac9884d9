package posting

import (
	"errors"
	"time"
)

// Operator is the closed set of condition operators.
type Operator string

const (
	OpEq        Operator = "="
	OpNe        Operator = "!="
	OpGt        Operator = ">"
	OpLt        Operator = "<"
	OpGte       Operator = ">="
	OpLte       Operator = "<="
	OpIn        Operator = "IN"
	OpNotIn     Operator = "NOT_IN"
	OpIsNull    Operator = "IS_NULL"
	OpIsNotNull Operator = "IS_NOT_NULL"
	OpLike      Operator = "LIKE"
	OpBetween   Operator = "BETWEEN"
)

// LineType marks the side of a generated journal line.
type LineType string

const (
	LineDebit  LineType = "debit"
	LineCredit LineType = "credit"
)

// AccountSource selects how a rule line resolves its ledger account.
type AccountSource string

const (
	AccountFixed       AccountSource = "fixed"
	AccountExpenseType AccountSource = "expense_type"
	AccountVendor      AccountSource = "vendor"
	AccountBank        AccountSource = "bank"
	AccountEntityField AccountSource = "entity_field"
)

// AmountSource selects how a rule line resolves its amount.
type AmountSource string

const (
	AmountFull        AmountSource = "full_amount"
	AmountPercent     AmountSource = "percent_of_base"
	AmountFixed       AmountSource = "fixed_value"
	AmountEntityField AmountSource = "entity_field"
)

// DimensionSource selects how cost center / project / shipment
// references are resolved.
type DimensionSource string

const (
	DimNone   DimensionSource = "none"
	DimFixed  DimensionSource = "fixed"
	DimEntity DimensionSource = "entity"
)

// Condition compares one projection field against configured values.
// Conditions in the same group are AND-ed; groups are OR-ed.
type Condition struct {
	ID       int64
	Field    string
	Operator Operator
	Value    string
	Values   []string
	Group    int
}

// RuleLine produces exactly one journal line when its rule matches.
type RuleLine struct {
	ID       int64
	Position int
	Type     LineType

	AccountSource     AccountSource
	AccountID         *int64
	AccountField      string
	FallbackAccountID *int64

	AmountSource AmountSource
	AmountValue  float64
	AmountField  string

	CostCenterSource DimensionSource
	CostCenterID     *int64
	ProjectSource    DimensionSource
	ProjectID        *int64
	ShipmentSource   DimensionSource
	ShipmentID       *int64

	DescriptionTemplate string
}

// Rule is admin-authored master data binding a trigger event to journal
// construction. Rules are evaluated in ascending priority.
type Rule struct {
	ID              int64
	CompanyID       int64
	Name            string
	TriggerCode     string
	Priority        int
	StopOnMatch     bool
	AutoPost        bool
	RequireApproval bool
	Active          bool
	Conditions      []Condition
	Lines           []RuleLine
}

// MarkerStatus tracks an auto-posting attempt. At most one marker per
// (entityType, entityID, triggerCode) may ever reach posted.
type MarkerStatus string

const (
	MarkerPreview MarkerStatus = "preview"
	MarkerPending MarkerStatus = "pending"
	MarkerPosted  MarkerStatus = "posted"
	MarkerSkipped MarkerStatus = "skipped"
	MarkerFailed  MarkerStatus = "failed"
)

// Marker is the idempotency record for one (entity, trigger) pair.
type Marker struct {
	ID             int64
	EntityType     string
	EntityID       int64
	TriggerCode    string
	CompanyID      int64
	RuleID         *int64
	Status         MarkerStatus
	Preview        *PreviewData
	ErrorMessage   string
	JournalEntryID *int64
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PostedAt       *time.Time
}

// PreviewVersion is the current serialization version of PreviewData.
const PreviewVersion = 1

// PreviewLine is one computed journal line awaiting commit.
type PreviewLine struct {
	Type         LineType `json:"type"`
	AccountID    int64    `json:"accountId"`
	Amount       float64  `json:"amount"`
	CostCenterID *int64   `json:"costCenterId,omitempty"`
	ProjectID    *int64   `json:"projectId,omitempty"`
	ShipmentID   *int64   `json:"shipmentId,omitempty"`
	Description  string   `json:"description"`
}

// PreviewData is the strongly typed, versioned posting preview stored
// on the marker and replayed on confirmation.
type PreviewData struct {
	Version     int           `json:"version"`
	RuleID      int64         `json:"ruleId"`
	RuleName    string        `json:"ruleName"`
	Currency    string        `json:"currency"`
	Description string        `json:"description"`
	Lines       []PreviewLine `json:"lines"`
	TotalDebit  float64       `json:"totalDebit"`
	TotalCredit float64       `json:"totalCredit"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
}

// ResultStatus enumerates posting run outcomes.
type ResultStatus string

const (
	StatusPosted  ResultStatus = "posted"
	StatusPreview ResultStatus = "preview"
	StatusPending ResultStatus = "pending"
	StatusSkipped ResultStatus = "skipped"
	StatusFailed  ResultStatus = "failed"
)

// Error codes carried on failed results. Expected business conditions
// are returned, never raised.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeUnbalanced    = "UNBALANCED_ENTRY"
	CodeAlreadyPosted = "ALREADY_POSTED"
	CodeSystemFailure = "SYSTEM_FAILURE"
)

// AccountingResult is the typed outcome of Run and ConfirmPendingPosting.
type AccountingResult struct {
	Status         ResultStatus `json:"status"`
	MarkerID       *int64       `json:"markerId,omitempty"`
	JournalEntryID *int64       `json:"journalEntryId,omitempty"`
	Preview        *PreviewData `json:"previewData,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	ErrorCode      string       `json:"errorCode,omitempty"`
}

var (
	// ErrMarkerNotFound indicates an unknown marker id.
	ErrMarkerNotFound = errors.New("posting: marker not found")
	// ErrMarkerNotPending indicates confirmation of a marker that is not
	// awaiting approval.
	ErrMarkerNotPending = errors.New("posting: marker is not pending confirmation")
	// ErrUnresolvedAccount indicates a rule line whose account could not
	// be resolved while strict account mode is enabled.
	ErrUnresolvedAccount = errors.New("posting: account could not be resolved")
)
