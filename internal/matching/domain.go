package matching

import "errors"

// Severity grades a variance.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// VarianceType names what diverged.
type VarianceType string

const (
	VarianceQuantity VarianceType = "quantity"
	VariancePrice    VarianceType = "price"
)

// MatchStatus is the aggregate outcome of a validation call.
type MatchStatus string

const (
	MatchFull      MatchStatus = "full_match"
	MatchPartial   MatchStatus = "partial_match"
	MatchVariance  MatchStatus = "variance_detected"
	MatchUnmatched MatchStatus = "unmatched"
)

// Variance is one detected discrepancy. Variances are ephemeral: they
// are computed per call and only ever embedded in responses, never
// persisted.
type Variance struct {
	ItemID          int64        `json:"itemId"`
	Type            VarianceType `json:"type"`
	Severity        Severity     `json:"severity"`
	InvoiceValue    float64      `json:"invoiceValue"`
	ExpectedValue   float64      `json:"expectedValue"`
	VariancePercent float64      `json:"variancePercent"`
	Detail          string       `json:"detail"`
}

// Result is the outcome of a three-way match.
type Result struct {
	InvoiceID        int64       `json:"invoiceId"`
	Status           MatchStatus `json:"matchStatus"`
	Variances        []Variance  `json:"variances"`
	RequiresApproval bool        `json:"requiresApproval"`
	TotalVariance    float64     `json:"totalVariance"`
	HasPurchaseOrder bool        `json:"hasPurchaseOrder"`
	HasGoodsReceipt  bool        `json:"hasGoodsReceipt"`
}

// ToleranceConfig carries the tenant-scoped matching tolerances.
type ToleranceConfig struct {
	PriceTolerancePercent float64
	QtyTolerancePercent   float64
	AllowOverReceipt      bool
	AllowOverInvoice      bool
	RequirePOMatch        bool
	RequireGRMatch        bool
}

// DefaultToleranceConfig returns the tolerances used when a tenant has
// no configuration row.
func DefaultToleranceConfig() ToleranceConfig {
	return ToleranceConfig{
		PriceTolerancePercent: 2,
		QtyTolerancePercent:   5,
		AllowOverReceipt:      false,
		AllowOverInvoice:      false,
		RequirePOMatch:        false,
		RequireGRMatch:        false,
	}
}

// Invoice is the matching view of a purchase invoice header.
type Invoice struct {
	ID              int64
	CompanyID       int64
	Number          string
	Total           float64
	PurchaseOrderID *int64
	GoodsReceiptID  *int64
}

// InvoiceLine is one invoiced item.
type InvoiceLine struct {
	ItemID    int64
	Quantity  float64
	UnitPrice float64
	Total     float64
}

// POLine is one ordered item.
type POLine struct {
	ItemID    int64
	Quantity  float64
	UnitPrice float64
}

// GRLine is one received item.
type GRLine struct {
	ItemID   int64
	Quantity float64
	UnitCost float64
}

var (
	// ErrInvoiceNotFound indicates the invoice is missing.
	ErrInvoiceNotFound = errors.New("matching: invoice not found")
)
