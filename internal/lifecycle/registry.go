package lifecycle

// Registry holds one immutable Policy per document type.
type Registry struct {
	policies map[DocumentType]Policy
	order    []DocumentType
}

// NewRegistry builds the default registry covering all procurement
// document families.
func NewRegistry() *Registry {
	r := &Registry{policies: make(map[DocumentType]Policy)}
	for _, p := range defaultPolicies() {
		r.policies[p.docType] = p
		r.order = append(r.order, p.docType)
	}
	return r
}

// Get returns the policy for a document type.
func (r *Registry) Get(docType DocumentType) (Policy, error) {
	p, ok := r.policies[docType]
	if !ok {
		return Policy{}, ErrUnknownDocumentType
	}
	return p, nil
}

// Types lists the registered document types in registration order.
func (r *Registry) Types() []DocumentType {
	return append([]DocumentType(nil), r.order...)
}

func set(statuses ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		m[s] = struct{}{}
	}
	return m
}

// postingTransitions is the table shared by documents that post to the
// ledger: draft goes through approval to posted, posted can only be
// reversed.
func postingTransitions() map[string]map[Action]string {
	return map[string]map[Action]string{
		StatusDraft: {
			ActionSubmit: StatusPendingApproval,
			ActionPost:   StatusPosted,
			ActionCancel: StatusCancelled,
		},
		StatusPendingApproval: {
			ActionApprove: StatusApproved,
			ActionReject:  StatusDraft,
			ActionCancel:  StatusCancelled,
		},
		StatusPending: {
			ActionApprove: StatusApproved,
			ActionReject:  StatusDraft,
			ActionCancel:  StatusCancelled,
		},
		StatusApproved: {
			ActionPost:   StatusPosted,
			ActionCancel: StatusCancelled,
		},
		StatusPosted: {
			ActionReverse: StatusReversed,
		},
	}
}

// approvalTransitions is the table for contracts and quotations, which
// use approve/reject instead of post.
func approvalTransitions() map[string]map[Action]string {
	return map[string]map[Action]string{
		StatusDraft: {
			ActionSubmit: StatusPendingApproval,
			ActionCancel: StatusCancelled,
		},
		StatusPendingApproval: {
			ActionApprove: StatusApproved,
			ActionReject:  StatusRejected,
			ActionCancel:  StatusCancelled,
		},
		StatusPending: {
			ActionApprove: StatusApproved,
			ActionReject:  StatusRejected,
		},
		StatusRejected: {
			ActionSubmit: StatusPendingApproval,
		},
		StatusApproved: {
			ActionCancel: StatusCancelled,
		},
	}
}

func defaultPolicies() []Policy {
	approvable := set(StatusDraft, StatusPending, StatusPendingApproval)
	return []Policy{
		{
			docType:          DocTypePurchaseOrder,
			permissionPrefix: "purchase.order",
			transitions:      postingTransitions(),
			approvableFrom:   approvable,
			postEffects: SideEffects{
				LocksDocument: true,
				Descriptions: []string{
					"Order becomes binding and is locked against edits",
					"Open commitment is recorded for budget tracking",
				},
			},
			reverseEffects: SideEffects{
				Descriptions: []string{
					"Open commitment is released",
				},
			},
		},
		{
			docType:          DocTypePurchaseInvoice,
			permissionPrefix: "purchase.invoice",
			transitions:      postingTransitions(),
			approvableFrom:   approvable,
			postEffects: SideEffects{
				UpdatesVendorBalance: true,
				CreatesJournalEntry:  true,
				LocksDocument:        true,
				Descriptions: []string{
					"A balanced journal entry is created in the ledger",
					"The vendor payable balance increases",
					"The invoice is locked against edits",
				},
			},
			reverseEffects: SideEffects{
				UpdatesVendorBalance: true,
				CreatesJournalEntry:  true,
				Descriptions: []string{
					"An opposite-signed journal entry is created",
					"The vendor payable balance decreases",
				},
			},
		},
		{
			docType:          DocTypePurchaseReturn,
			permissionPrefix: "purchase.return",
			transitions:      postingTransitions(),
			approvableFrom:   approvable,
			postEffects: SideEffects{
				UpdatesInventory:     true,
				UpdatesVendorBalance: true,
				CreatesJournalEntry:  true,
				LocksDocument:        true,
				Descriptions: []string{
					"Returned stock leaves the warehouse",
					"A balanced journal entry is created in the ledger",
					"The vendor payable balance decreases",
				},
			},
			reverseEffects: SideEffects{
				UpdatesInventory:     true,
				UpdatesVendorBalance: true,
				CreatesJournalEntry:  true,
				Descriptions: []string{
					"Returned stock re-enters the warehouse",
					"An opposite-signed journal entry is created",
				},
			},
		},
		{
			docType:          DocTypeGoodsReceipt,
			permissionPrefix: "purchase.receipt",
			transitions:      postingTransitions(),
			approvableFrom:   approvable,
			postEffects: SideEffects{
				UpdatesInventory:    true,
				CreatesJournalEntry: true,
				LocksDocument:       true,
				Descriptions: []string{
					"Received stock enters the warehouse",
					"A balanced journal entry is created in the ledger",
				},
			},
			reverseEffects: SideEffects{
				UpdatesInventory:    true,
				CreatesJournalEntry: true,
				Descriptions: []string{
					"Received stock leaves the warehouse",
					"An opposite-signed journal entry is created",
				},
			},
		},
		{
			docType:          DocTypeVendorContract,
			permissionPrefix: "vendor.contract",
			transitions:      approvalTransitions(),
			approvableFrom:   approvable,
			postEffects: SideEffects{
				Descriptions: []string{
					"Contracts do not post to the ledger",
				},
			},
			reverseEffects: SideEffects{
				Descriptions: []string{
					"Contracts do not post to the ledger",
				},
			},
		},
		{
			docType:          DocTypeVendorQuotation,
			permissionPrefix: "vendor.quotation",
			transitions:      approvalTransitions(),
			approvableFrom:   approvable,
			postEffects: SideEffects{
				Descriptions: []string{
					"Quotations do not post to the ledger",
				},
			},
			reverseEffects: SideEffects{
				Descriptions: []string{
					"Quotations do not post to the ledger",
				},
			},
		},
	}
}
