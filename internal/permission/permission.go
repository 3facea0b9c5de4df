// Package permission computes and caches the effective permission set of a
// user inside an organization.
//
// A set is the union of the permission codes granted by the user's roles,
// after which per-user overrides are applied: an allow override adds a code,
// a deny override removes it. Codes use the canonical "module:action" form;
// "*" grants everything and "module:*" grants every action of a module.
package permission

import (
	"errors"
	"strings"
)

var (
	ErrInvalidCode       = errors.New("invalid permission code")
	ErrUnknownPermission = errors.New("unknown permission code")
)

// globalLocation is the cache key segment used when no location is given.
const globalLocation = "global"

// Scope is the context a permission is evaluated in. LocationID is optional;
// when empty the evaluation is organization-wide.
type Scope struct {
	OrgID      string `json:"org_id"`
	LocationID string `json:"location_id,omitempty"`
}

// location returns the location key segment for the scope.
func (s Scope) location() string {
	if s.LocationID == "" {
		return globalLocation
	}
	return s.LocationID
}

// cacheKey identifies a cache entry: user|org|location-or-"global".
func cacheKey(userID string, scope Scope) string {
	return userID + "|" + scope.OrgID + "|" + scope.location()
}

// keyPrefix matches every location key of a user within an organization.
func keyPrefix(userID, orgID string) string {
	return userID + "|" + orgID + "|"
}

// keyOrg extracts the organization segment of a cache key.
func keyOrg(key string) string {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// RoleGrant is one role assigned to a user together with the codes the role
// grants. A role with no linked permissions has a nil Permissions slice.
type RoleGrant struct {
	RoleID      string   `json:"role_id"`
	RoleCode    string   `json:"role_code"`
	Permissions []string `json:"permissions"`
}

// Override is a per-user exception for a single permission code.
type Override struct {
	Code  string `json:"code"`
	Allow bool   `json:"allow"`
}
