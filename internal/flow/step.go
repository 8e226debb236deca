// Package flow turns resolved organization status into an onboarding step,
// deduplicates status refreshes per identity and decides when a client is
// sent to an onboarding screen.
package flow

import (
	"strings"

	"orderdesk/api/internal/org"
)

type Step string

const (
	StepLoading           Step = "loading"
	StepNoOrganization    Step = "no-organization"
	StepPendingInvitation Step = "pending-invitation"
	StepPendingRequest    Step = "pending-request"
	StepHasOrganization   Step = "has-organization"
)

// DeriveStep is total: a check in flight or an unknown status is loading,
// never no-organization.
func DeriveStep(checking bool, status *org.Status) Step {
	if checking || status == nil {
		return StepLoading
	}
	switch status.Kind {
	case org.HasOrganization:
		return StepHasOrganization
	case org.PendingInvitation:
		return StepPendingInvitation
	case org.PendingRequest:
		return StepPendingRequest
	case org.NoOrganization:
		return StepNoOrganization
	default:
		return StepLoading
	}
}

// Onboarding screens.
const (
	PathCreate      = "/organization/create"
	PathInvitations = "/organization/invitations"
	PathRequests    = "/organization/requests"
)

var targets = map[Step]string{
	StepNoOrganization:    PathCreate,
	StepPendingInvitation: PathInvitations,
	StepPendingRequest:    PathRequests,
}

// Target is the onboarding screen of a gating step.
func Target(step Step) (string, bool) {
	t, ok := targets[step]
	return t, ok
}

// Gating reports whether step keeps the user out of tenant content.
func (s Step) Gating() bool {
	return s != StepHasOrganization
}

// Exemptions are route prefixes that are never gated or redirected away
// from: the authentication screens and the onboarding screens themselves.
type Exemptions []string

var DefaultExemptions = Exemptions{
	"/login",
	"/register",
	"/reset-password",
	"/verify-email",
	PathCreate,
	PathInvitations,
	PathRequests,
}

func (e Exemptions) Match(route string) bool {
	path := RoutePath(route)
	for _, prefix := range e {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RoutePath drops the query string and fragment of a client route.
func RoutePath(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	return strings.TrimSpace(route)
}
