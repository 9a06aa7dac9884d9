package lifecycle

import (
	"github.com/meridian-erp/meridian/internal/shared"
)

// Policy is an immutable per-document-type value holding the permission
// prefix, the transition table and the side-effect descriptors. There is
// no shared mutable state between document types.
type Policy struct {
	docType          DocumentType
	permissionPrefix string
	transitions      map[string]map[Action]string
	approvableFrom   map[string]struct{}
	postEffects      SideEffects
	reverseEffects   SideEffects
}

// DocumentType returns the tag this policy governs.
func (p Policy) DocumentType() DocumentType {
	return p.docType
}

// Permission builds the permission string for an action.
func (p Policy) Permission(action Action) string {
	return p.permissionPrefix + "." + string(action)
}

// CanCreate checks the create permission.
func (p Policy) CanCreate(perms shared.PermissionSet) Decision {
	if !perms.Has(p.Permission(ActionCreate)) {
		return deniedMissingPermission(p.Permission(ActionCreate))
	}
	return allowed()
}

// CanView checks the view permission.
func (p Policy) CanView(perms shared.PermissionSet) Decision {
	if !perms.Has(p.Permission(ActionView)) {
		return deniedMissingPermission(p.Permission(ActionView))
	}
	return allowed()
}

// CanEdit walks the denial checks in fixed order: permission, locked,
// posted, approved, reversed, cancelled. The first failing check wins.
func (p Policy) CanEdit(state DocumentState, perms shared.PermissionSet) Decision {
	if !perms.Has(p.Permission(ActionEdit)) {
		return deniedMissingPermission(p.Permission(ActionEdit))
	}
	if state.IsLocked {
		return denied("document is locked")
	}
	return p.mutationChecks(state)
}

// CanDelete mirrors CanEdit without the locked short-circuit.
func (p Policy) CanDelete(state DocumentState, perms shared.PermissionSet) Decision {
	if !perms.Has(p.Permission(ActionDelete)) {
		return deniedMissingPermission(p.Permission(ActionDelete))
	}
	return p.mutationChecks(state)
}

func (p Policy) mutationChecks(state DocumentState) Decision {
	if state.IsPosted {
		return Decision{Allowed: false, Reason: "document is posted", RequiresReversal: true}
	}
	if state.IsApproved {
		return Decision{Allowed: false, Reason: "document is approved", RequiresReversal: true}
	}
	if state.IsReversed {
		return denied("document is reversed")
	}
	if state.IsCancelled {
		return denied("document is cancelled")
	}
	return allowed()
}

// CanApprove allows approval only from draft or pending statuses.
func (p Policy) CanApprove(state DocumentState, perms shared.PermissionSet) Decision {
	if !perms.Has(p.Permission(ActionApprove)) {
		return deniedMissingPermission(p.Permission(ActionApprove))
	}
	if state.IsApproved {
		return denied("document is already approved")
	}
	if _, ok := p.approvableFrom[state.Status]; !ok {
		return denied("document status does not allow approval")
	}
	return allowed()
}

// CanPost denies once a document is posted, reversed or cancelled.
func (p Policy) CanPost(state DocumentState, perms shared.PermissionSet) Decision {
	if !perms.Has(p.Permission(ActionPost)) {
		return deniedMissingPermission(p.Permission(ActionPost))
	}
	if state.IsPosted {
		return denied("document is already posted")
	}
	if state.IsReversed {
		return denied("document is reversed")
	}
	if state.IsCancelled {
		return denied("document is cancelled")
	}
	return allowed()
}

// CanReverse succeeds only for a posted, not-yet-reversed document. The
// decision carries a non-blocking warning about the side effects being
// undone.
func (p Policy) CanReverse(state DocumentState, perms shared.PermissionSet) Decision {
	if !perms.Has(p.Permission(ActionReverse)) {
		return deniedMissingPermission(p.Permission(ActionReverse))
	}
	if !state.IsPosted {
		return denied("document is not posted")
	}
	if state.IsReversed {
		return denied("document is already reversed")
	}
	d := allowed()
	d.Warning = "reversing will undo all posting side effects"
	return d
}

// NextStatus resolves the transition table. ok is false for illegal
// transitions; callers must treat that as "do not attempt".
func (p Policy) NextStatus(currentStatus string, action Action) (string, bool) {
	byAction, ok := p.transitions[currentStatus]
	if !ok {
		return "", false
	}
	next, ok := byAction[action]
	return next, ok
}

// PostSideEffects returns the static posting consequences.
func (p Policy) PostSideEffects() SideEffects {
	return p.postEffects
}

// ReverseSideEffects returns the static reversal consequences.
func (p Policy) ReverseSideEffects() SideEffects {
	return p.reverseEffects
}
