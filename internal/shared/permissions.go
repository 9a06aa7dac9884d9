package shared

import "strings"

// PermissionSet is the flattened permission-string set issued by the
// authorization collaborator for one actor.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from raw permission strings.
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// ParsePermissionSet splits a comma-separated permission header.
func ParsePermissionSet(raw string) PermissionSet {
	return NewPermissionSet(strings.Split(raw, ",")...)
}

// Has reports whether the set contains the permission.
func (s PermissionSet) Has(perm string) bool {
	if s == nil {
		return false
	}
	_, ok := s[perm]
	return ok
}

// HasAny reports whether any of the permissions is present.
func (s PermissionSet) HasAny(perms ...string) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}
