package org

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/metrics"
	"orderdesk/api/internal/store"
)

type fakeRepo struct {
	mu    sync.Mutex
	calls []string

	getUserFn        func(ctx context.Context, uid string) (store.User, error)
	getOrganization  func(ctx context.Context, id int64) (store.Organization, error)
	listInvitations  func(ctx context.Context, email string) ([]store.Invitation, error)
	listJoinRequests func(ctx context.Context, uid string) ([]store.JoinRequest, error)
}

func (f *fakeRepo) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRepo) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeRepo) GetUser(ctx context.Context, uid string) (store.User, error) {
	f.record("GetUser")
	if f.getUserFn == nil {
		return store.User{UID: uid, Email: uid + "@example.com"}, nil
	}
	return f.getUserFn(ctx, uid)
}

func (f *fakeRepo) GetOrganization(ctx context.Context, id int64) (store.Organization, error) {
	f.record("GetOrganization")
	if f.getOrganization == nil {
		return store.Organization{ID: id, Name: "Org", Slug: "org"}, nil
	}
	return f.getOrganization(ctx, id)
}

func (f *fakeRepo) ListPendingInvitationsForEmail(ctx context.Context, email string) ([]store.Invitation, error) {
	f.record("ListPendingInvitationsForEmail")
	if f.listInvitations == nil {
		return nil, nil
	}
	return f.listInvitations(ctx, email)
}

func (f *fakeRepo) ListPendingJoinRequestsForUser(ctx context.Context, uid string) ([]store.JoinRequest, error) {
	f.record("ListPendingJoinRequestsForUser")
	if f.listJoinRequests == nil {
		return nil, nil
	}
	return f.listJoinRequests(ctx, uid)
}

func int64Ptr(v int64) *int64 { return &v }

func identity(uid, email string) auth.Identity {
	return auth.Identity{UID: uid, Email: email, EmailVerified: true}
}

func TestResolveHasOrganizationSkipsPendingLookups(t *testing.T) {
	role := "admin"
	repo := &fakeRepo{
		getUserFn: func(_ context.Context, uid string) (store.User, error) {
			return store.User{UID: uid, Email: "a@example.com", OrganizationID: int64Ptr(42), Role: &role}, nil
		},
		getOrganization: func(_ context.Context, id int64) (store.Organization, error) {
			return store.Organization{ID: id, Name: "Acme", Slug: "acme"}, nil
		},
		listInvitations: func(context.Context, string) ([]store.Invitation, error) {
			return []store.Invitation{{ID: 1, Status: store.InvitationPending}}, nil
		},
	}
	r := NewResolver(repo, nil, metrics.New())

	status, err := r.Resolve(context.Background(), identity("u1", "a@example.com"))
	require.NoError(t, err)
	require.Equal(t, HasOrganization, status.Kind)
	require.NotNil(t, status.Organization)
	require.Equal(t, "Acme", status.Organization.Name)
	require.Empty(t, status.Invitations)

	id, ok := status.OrganizationID()
	require.True(t, ok)
	require.EqualValues(t, 42, id)
	require.Equal(t, "admin", status.Role())

	require.False(t, repo.called("ListPendingInvitationsForEmail"))
	require.False(t, repo.called("ListPendingJoinRequestsForUser"))
}

func TestResolveIgnoresStaleTokenClaims(t *testing.T) {
	repo := &fakeRepo{}
	r := NewResolver(repo, nil, nil)

	id := identity("u1", "u1@example.com")
	id.OrganizationID = int64Ptr(7)

	status, err := r.Resolve(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, NoOrganization, status.Kind)
	require.False(t, repo.called("GetOrganization"))
}

func TestResolvePendingInvitationCarriesAllInvitationsForEmail(t *testing.T) {
	var gotEmail string
	repo := &fakeRepo{
		listInvitations: func(_ context.Context, email string) ([]store.Invitation, error) {
			gotEmail = email
			return []store.Invitation{
				{ID: 1, OrganizationID: 10, OrganizationName: "One", InviterEmail: "boss@one.io"},
				{ID: 2, OrganizationID: 20, OrganizationName: "Two", InviterEmail: "boss@two.io"},
			}, nil
		},
		listJoinRequests: func(context.Context, string) ([]store.JoinRequest, error) {
			return []store.JoinRequest{{ID: 5}}, nil
		},
	}
	r := NewResolver(repo, nil, nil)

	status, err := r.Resolve(context.Background(), identity("u1", "  Mixed@Example.COM "))
	require.NoError(t, err)
	require.Equal(t, PendingInvitation, status.Kind)
	require.Len(t, status.Invitations, 2)
	require.Empty(t, status.Requests)
	require.Equal(t, "mixed@example.com", gotEmail)
	require.Equal(t, "boss@two.io", status.Invitations[1].InviterEmail)
}

func TestResolvePendingRequest(t *testing.T) {
	repo := &fakeRepo{
		listJoinRequests: func(_ context.Context, uid string) ([]store.JoinRequest, error) {
			return []store.JoinRequest{{ID: 9, OrganizationName: "Couriers", RequestedBy: uid, Status: store.JoinRequestPending}}, nil
		},
	}
	status, err := NewResolver(repo, nil, nil).Resolve(context.Background(), identity("u1", "u1@example.com"))
	require.NoError(t, err)
	require.Equal(t, PendingRequest, status.Kind)
	require.Len(t, status.Requests, 1)
	require.Equal(t, "Couriers", status.Requests[0].OrganizationName)
}

func TestResolveNoOrganization(t *testing.T) {
	status, err := NewResolver(&fakeRepo{}, nil, nil).Resolve(context.Background(), identity("u1", "u1@example.com"))
	require.NoError(t, err)
	require.Equal(t, NoOrganization, status.Kind)
	require.Equal(t, "u1", status.User.UID)
	_, ok := status.OrganizationID()
	require.False(t, ok)
}

func TestResolveUserNotFoundIsDistinct(t *testing.T) {
	repo := &fakeRepo{
		getUserFn: func(context.Context, string) (store.User, error) {
			return store.User{}, store.ErrNotFound
		},
	}
	_, err := NewResolver(repo, nil, nil).Resolve(context.Background(), identity("ghost", "ghost@example.com"))
	require.ErrorIs(t, err, ErrUserNotFound)

	var resErr *ResolutionError
	require.False(t, errors.As(err, &resErr))
	require.False(t, repo.called("ListPendingInvitationsForEmail"))
}

func TestResolveFailuresBecomeResolutionErrors(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		name string
		repo *fakeRepo
		op   string
	}{
		{
			name: "user lookup",
			repo: &fakeRepo{getUserFn: func(context.Context, string) (store.User, error) { return store.User{}, boom }},
			op:   "load user",
		},
		{
			name: "dangling organization",
			repo: &fakeRepo{
				getUserFn: func(_ context.Context, uid string) (store.User, error) {
					return store.User{UID: uid, OrganizationID: int64Ptr(3)}, nil
				},
				getOrganization: func(context.Context, int64) (store.Organization, error) {
					return store.Organization{}, store.ErrNotFound
				},
			},
			op: "load organization",
		},
		{
			name: "invitations",
			repo: &fakeRepo{listInvitations: func(context.Context, string) ([]store.Invitation, error) { return nil, boom }},
			op:   "list invitations",
		},
		{
			name: "join requests",
			repo: &fakeRepo{listJoinRequests: func(context.Context, string) ([]store.JoinRequest, error) { return nil, boom }},
			op:   "list join requests",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.repo, nil, nil).Resolve(context.Background(), identity("u1", "u1@example.com"))
			var resErr *ResolutionError
			require.ErrorAs(t, err, &resErr)
			require.Equal(t, tt.op, resErr.Op)
			require.NotErrorIs(t, err, ErrUserNotFound)
			require.Contains(t, err.Error(), "could not determine organization status")
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	user := store.User{UID: "u"}
	org := &store.Organization{ID: 1}
	invs := []store.Invitation{{ID: 1}}
	reqs := []store.JoinRequest{{ID: 1}}

	require.Equal(t, HasOrganization, Classify(user, org, invs, reqs).Kind)
	require.Equal(t, PendingInvitation, Classify(user, nil, invs, reqs).Kind)
	require.Equal(t, PendingRequest, Classify(user, nil, nil, reqs).Kind)
	require.Equal(t, NoOrganization, Classify(user, nil, []store.Invitation{}, nil).Kind)
}
