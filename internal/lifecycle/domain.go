package lifecycle

import "errors"

// DocumentType tags the document families covered by the policy registry.
type DocumentType string

const (
	DocTypePurchaseOrder   DocumentType = "purchase_order"
	DocTypePurchaseInvoice DocumentType = "purchase_invoice"
	DocTypePurchaseReturn  DocumentType = "purchase_return"
	DocTypeGoodsReceipt    DocumentType = "goods_receipt"
	DocTypeVendorContract  DocumentType = "vendor_contract"
	DocTypeVendorQuotation DocumentType = "vendor_quotation"
)

// Action enumerates lifecycle actions a caller may attempt.
type Action string

const (
	ActionCreate  Action = "create"
	ActionView    Action = "view"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPost    Action = "post"
	ActionReverse Action = "reverse"
	ActionCancel  Action = "cancel"
)

// Document statuses shared across transition tables.
const (
	StatusDraft           = "draft"
	StatusPending         = "pending"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
	StatusPosted          = "posted"
	StatusReversed        = "reversed"
	StatusCancelled       = "cancelled"
	StatusClosed          = "closed"
)

// DocumentState is the transient per-request view over a document row.
// It is computed from the owning table and never persisted on its own.
type DocumentState struct {
	Status      string
	IsPosted    bool
	IsApproved  bool
	IsReversed  bool
	IsCancelled bool
	IsLocked    bool
}

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	RequiresReversal  bool   `json:"requiresReversal,omitempty"`
	Warning           string `json:"warning,omitempty"`
	MissingPermission string `json:"missingPermission,omitempty"`
}

// SideEffects describes the static consequences of posting or reversing
// one document type. Consumed by confirmation UIs before committing.
type SideEffects struct {
	UpdatesInventory     bool     `json:"updatesInventory"`
	UpdatesVendorBalance bool     `json:"updatesVendorBalance"`
	CreatesJournalEntry  bool     `json:"createsJournalEntry"`
	LocksDocument        bool     `json:"locksDocument"`
	Descriptions         []string `json:"descriptions"`
}

// ErrUnknownDocumentType indicates the registry has no policy for the tag.
var ErrUnknownDocumentType = errors.New("lifecycle: unknown document type")

func allowed() Decision {
	return Decision{Allowed: true}
}

func denied(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

func deniedMissingPermission(perm string) Decision {
	return Decision{Allowed: false, Reason: "missing permission", MissingPermission: perm}
}
