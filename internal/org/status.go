// Package org classifies an authenticated user into exactly one
// organization membership state.
package org

import "orderdesk/api/internal/store"

// Kind values double as the status strings of the HTTP envelope.
type Kind string

const (
	HasOrganization   Kind = "HAS_ORGANIZATION"
	PendingInvitation Kind = "PENDING_INVITATION"
	PendingRequest    Kind = "PENDING_REQUEST"
	NoOrganization    Kind = "NO_ORGANIZATION"
)

func (k Kind) Valid() bool {
	switch k {
	case HasOrganization, PendingInvitation, PendingRequest, NoOrganization:
		return true
	}
	return false
}

// Status is one resolved membership state. It is built once per resolution
// and replaced wholesale; callers must not mutate its slices.
//
// Organization is set only for HasOrganization, Invitations (non-empty) only
// for PendingInvitation and Requests (non-empty) only for PendingRequest.
type Status struct {
	Kind         Kind                `json:"status"`
	User         store.User          `json:"user"`
	Organization *store.Organization `json:"organization,omitempty"`
	Invitations  []store.Invitation  `json:"invitations,omitempty"`
	Requests     []store.JoinRequest `json:"requests,omitempty"`
}

func WithOrganization(user store.User, org store.Organization) Status {
	return Status{Kind: HasOrganization, User: user, Organization: &org}
}

func WithInvitations(user store.User, invitations []store.Invitation) Status {
	return Status{Kind: PendingInvitation, User: user, Invitations: invitations}
}

func WithRequests(user store.User, requests []store.JoinRequest) Status {
	return Status{Kind: PendingRequest, User: user, Requests: requests}
}

func WithoutOrganization(user store.User) Status {
	return Status{Kind: NoOrganization, User: user}
}

// OrganizationID is the tenant of a HasOrganization status.
func (s Status) OrganizationID() (int64, bool) {
	if s.Kind != HasOrganization || s.Organization == nil {
		return 0, false
	}
	return s.Organization.ID, true
}

// Role is the member role of a HasOrganization status.
func (s Status) Role() string {
	if s.Kind != HasOrganization || s.User.Role == nil {
		return ""
	}
	return *s.User.Role
}

// Classify applies the membership precedence: an organization overrides
// invitations, invitations override requests.
func Classify(user store.User, org *store.Organization, invitations []store.Invitation, requests []store.JoinRequest) Status {
	switch {
	case org != nil:
		return WithOrganization(user, *org)
	case len(invitations) > 0:
		return WithInvitations(user, invitations)
	case len(requests) > 0:
		return WithRequests(user, requests)
	default:
		return WithoutOrganization(user)
	}
}
