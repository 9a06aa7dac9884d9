package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/shared"
)

func fullPerms(p Policy) shared.PermissionSet {
	return shared.NewPermissionSet(
		p.Permission(ActionCreate),
		p.Permission(ActionView),
		p.Permission(ActionEdit),
		p.Permission(ActionDelete),
		p.Permission(ActionApprove),
		p.Permission(ActionPost),
		p.Permission(ActionReverse),
	)
}

func TestPermissionCheckedFirst(t *testing.T) {
	registry := NewRegistry()
	policy, err := registry.Get(DocTypePurchaseInvoice)
	require.NoError(t, err)

	// Locked AND missing permission: permission failure must win.
	state := DocumentState{Status: StatusDraft, IsLocked: true}
	decision := policy.CanEdit(state, shared.NewPermissionSet())
	require.False(t, decision.Allowed)
	require.Equal(t, "purchase.invoice.edit", decision.MissingPermission)
}

func TestPostedDocumentIsImmutable(t *testing.T) {
	registry := NewRegistry()
	state := DocumentState{Status: StatusPosted, IsPosted: true}

	for _, docType := range []DocumentType{
		DocTypePurchaseOrder, DocTypePurchaseInvoice, DocTypePurchaseReturn, DocTypeGoodsReceipt,
	} {
		policy, err := registry.Get(docType)
		require.NoError(t, err)
		perms := fullPerms(policy)

		edit := policy.CanEdit(state, perms)
		require.False(t, edit.Allowed, "edit %s", docType)
		require.True(t, edit.RequiresReversal, "edit %s", docType)

		del := policy.CanDelete(state, perms)
		require.False(t, del.Allowed, "delete %s", docType)
		require.True(t, del.RequiresReversal, "delete %s", docType)
	}
}

func TestDeleteSkipsLockedCheck(t *testing.T) {
	registry := NewRegistry()
	policy, err := registry.Get(DocTypePurchaseInvoice)
	require.NoError(t, err)
	perms := fullPerms(policy)

	state := DocumentState{Status: StatusDraft, IsLocked: true}
	require.False(t, policy.CanEdit(state, perms).Allowed)
	require.True(t, policy.CanDelete(state, perms).Allowed)
}

func TestApprovedBlocksEditWithReversalHint(t *testing.T) {
	registry := NewRegistry()
	policy, err := registry.Get(DocTypePurchaseOrder)
	require.NoError(t, err)
	perms := fullPerms(policy)

	decision := policy.CanEdit(DocumentState{Status: StatusApproved, IsApproved: true}, perms)
	require.False(t, decision.Allowed)
	require.True(t, decision.RequiresReversal)
}

func TestCanApproveStatuses(t *testing.T) {
	registry := NewRegistry()
	policy, err := registry.Get(DocTypeVendorContract)
	require.NoError(t, err)
	perms := fullPerms(policy)

	for _, status := range []string{StatusDraft, StatusPending, StatusPendingApproval} {
		require.True(t, policy.CanApprove(DocumentState{Status: status}, perms).Allowed, status)
	}
	require.False(t, policy.CanApprove(DocumentState{Status: StatusApproved, IsApproved: true}, perms).Allowed)
	require.False(t, policy.CanApprove(DocumentState{Status: StatusCancelled}, perms).Allowed)
}

func TestCanPostGuards(t *testing.T) {
	registry := NewRegistry()
	policy, err := registry.Get(DocTypePurchaseInvoice)
	require.NoError(t, err)
	perms := fullPerms(policy)

	require.True(t, policy.CanPost(DocumentState{Status: StatusDraft}, perms).Allowed)
	require.False(t, policy.CanPost(DocumentState{IsPosted: true}, perms).Allowed)
	require.False(t, policy.CanPost(DocumentState{IsReversed: true}, perms).Allowed)
	require.False(t, policy.CanPost(DocumentState{IsCancelled: true}, perms).Allowed)
}

func TestReversalGuard(t *testing.T) {
	registry := NewRegistry()
	policy, err := registry.Get(DocTypePurchaseInvoice)
	require.NoError(t, err)
	perms := fullPerms(policy)

	decision := policy.CanReverse(DocumentState{Status: StatusPosted, IsPosted: true}, perms)
	require.True(t, decision.Allowed)
	require.NotEmpty(t, decision.Warning)

	// After reversal the same check must deny.
	after := policy.CanReverse(DocumentState{Status: StatusReversed, IsPosted: true, IsReversed: true}, perms)
	require.False(t, after.Allowed)

	require.False(t, policy.CanReverse(DocumentState{Status: StatusDraft}, perms).Allowed)
}

func TestNextStatusTables(t *testing.T) {
	registry := NewRegistry()

	invoice, err := registry.Get(DocTypePurchaseInvoice)
	require.NoError(t, err)
	next, ok := invoice.NextStatus(StatusDraft, ActionPost)
	require.True(t, ok)
	require.Equal(t, StatusPosted, next)
	next, ok = invoice.NextStatus(StatusPosted, ActionReverse)
	require.True(t, ok)
	require.Equal(t, StatusReversed, next)

	// Illegal transition returns ok=false.
	_, ok = invoice.NextStatus(StatusPosted, ActionEdit)
	require.False(t, ok)
	_, ok = invoice.NextStatus(StatusReversed, ActionPost)
	require.False(t, ok)

	// Contracts approve/reject instead of posting.
	contract, err := registry.Get(DocTypeVendorContract)
	require.NoError(t, err)
	_, ok = contract.NextStatus(StatusDraft, ActionPost)
	require.False(t, ok)
	next, ok = contract.NextStatus(StatusPendingApproval, ActionApprove)
	require.True(t, ok)
	require.Equal(t, StatusApproved, next)
	next, ok = contract.NextStatus(StatusPendingApproval, ActionReject)
	require.True(t, ok)
	require.Equal(t, StatusRejected, next)
}

func TestUnknownDocumentType(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Get(DocumentType("sales_order"))
	require.ErrorIs(t, err, ErrUnknownDocumentType)
}

func TestSideEffectDescriptors(t *testing.T) {
	registry := NewRegistry()
	invoice, err := registry.Get(DocTypePurchaseInvoice)
	require.NoError(t, err)

	post := invoice.PostSideEffects()
	require.True(t, post.CreatesJournalEntry)
	require.True(t, post.UpdatesVendorBalance)
	require.True(t, post.LocksDocument)
	require.NotEmpty(t, post.Descriptions)

	receipt, err := registry.Get(DocTypeGoodsReceipt)
	require.NoError(t, err)
	require.True(t, receipt.PostSideEffects().UpdatesInventory)
}
