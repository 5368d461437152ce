// Package transport holds the request-identification logic shared by
// internal/transport/rest and internal/transport/jsonrpc: resolving the
// caller's user_id string from an *auth.UserContext (§6.2's
// "X-User-ID overrides token's user for single-tenant use"). Both
// surfaces call AuthGate (internal/authgate) for identification/filtering
// and this package only for the string-vs-uuid reconciliation AuthGate
// doesn't need.
package transport

import (
	"github.com/google/uuid"

	"github.com/shannon-memory/core/internal/auth"
)

// UserIDHeader is the header a caller supplies to operate as a user_id
// other than the one implied by its bearer token (spec §6.2).
const UserIDHeader = "X-User-ID"

// ResolveUserID derives the user_id string every memory/coding/graph
// operation takes from a *auth.UserContext (whose UserID field is a
// uuid.UUID, not the plain string the rest of the system addresses
// memories by) plus an optional X-User-ID header override.
//
// headerOverride wins unconditionally when non-empty (spec §6.2). Failing
// that, a real authenticated UserID (non-nil uuid) stringifies to its
// canonical form; the unauthenticated/default-user fallback UserContext
// (internal/auth.defaultUserContext, uuid.Nil) has no UserID to stringify,
// so Username ("default_user") is used instead.
func ResolveUserID(uc *auth.UserContext, headerOverride string) string {
	if headerOverride != "" {
		return headerOverride
	}
	if uc == nil {
		return auth.DefaultUserID
	}
	if uc.UserID != uuid.Nil {
		return uc.UserID.String()
	}
	if uc.Username != "" {
		return uc.Username
	}
	return auth.DefaultUserID
}
