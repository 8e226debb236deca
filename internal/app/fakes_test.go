package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/flow"
	"orderdesk/api/internal/guard"
	"orderdesk/api/internal/org"
	"orderdesk/api/internal/search"
	"orderdesk/api/internal/session"
	"orderdesk/api/internal/store"
)

// memoryStore keeps the onboarding tables in maps. Catalog methods not
// overridden below panic through the nil embedded interface.
type memoryStore struct {
	CatalogStore

	mu          sync.Mutex
	nextID      int64
	users       map[string]store.User
	orgs        map[int64]store.Organization
	invitations []store.Invitation
	requests    []store.JoinRequest
	clients     []store.Client
	listErr     error
	pingErr     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		nextID: 100,
		users:  make(map[string]store.User),
		orgs:   make(map[int64]store.Organization),
	}
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) addUser(uid, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[uid] = store.User{UID: uid, Email: email, DisplayName: uid}
}

func (m *memoryStore) addMember(uid, email string, organizationID int64, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := role
	orgID := organizationID
	m.users[uid] = store.User{UID: uid, Email: email, DisplayName: uid, OrganizationID: &orgID, Role: &r}
}

func (m *memoryStore) addOrganization(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[id] = store.Organization{ID: id, Name: name, Slug: store.Slugify(name)}
}

func (m *memoryStore) addInvitation(organizationID int64, email, role string) store.Invitation {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := store.Invitation{
		ID:               m.id(),
		OrganizationID:   organizationID,
		OrganizationName: m.orgs[organizationID].Name,
		InvitedEmail:     email,
		InviterEmail:     "owner@example.com",
		Role:             role,
		Status:           store.InvitationPending,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
	m.invitations = append(m.invitations, inv)
	return inv
}

func (m *memoryStore) Ping(context.Context) error { return m.pingErr }

func (m *memoryStore) GetUser(_ context.Context, uid string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memoryStore) GetOrganization(_ context.Context, id int64) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return store.Organization{}, store.ErrNotFound
	}
	return o, nil
}

func (m *memoryStore) ListPendingInvitationsForEmail(_ context.Context, email string) ([]store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]store.Invitation, 0)
	for _, inv := range m.invitations {
		if inv.Status == store.InvitationPending && strings.EqualFold(inv.InvitedEmail, email) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memoryStore) ListPendingJoinRequestsForUser(_ context.Context, uid string) ([]store.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]store.JoinRequest, 0)
	for _, req := range m.requests {
		if req.Status == store.JoinRequestPending && req.RequestedBy == uid {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateOrganization(_ context.Context, creatorUID string, input store.NewOrganization) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[creatorUID]
	if !ok {
		return store.Organization{}, store.ErrNotFound
	}
	if u.OrganizationID != nil {
		return store.Organization{}, store.ErrAlreadyMember
	}
	slug := input.Slug
	if slug == "" {
		slug = store.Slugify(input.Name)
	}
	for _, o := range m.orgs {
		if o.Slug == slug {
			return store.Organization{}, store.ErrSlugTaken
		}
	}
	o := store.Organization{ID: m.id(), Name: input.Name, Slug: slug, Description: input.Description, CreatedBy: creatorUID}
	m.orgs[o.ID] = o
	role := "admin"
	u.OrganizationID, u.Role = &o.ID, &role
	m.users[creatorUID] = u
	return o, nil
}

func (m *memoryStore) ListMembers(_ context.Context, organizationID int64) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0)
	for _, u := range m.users {
		if u.OrganizationID != nil && *u.OrganizationID == organizationID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateInvitation(_ context.Context, input store.NewInvitation) (store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.OrganizationID == input.OrganizationID && inv.Status == store.InvitationPending && strings.EqualFold(inv.InvitedEmail, input.InvitedEmail) {
			return store.Invitation{}, store.ErrDuplicateInvitation
		}
	}
	inv := store.Invitation{
		ID:               m.id(),
		OrganizationID:   input.OrganizationID,
		OrganizationName: m.orgs[input.OrganizationID].Name,
		InvitedEmail:     input.InvitedEmail,
		InviterEmail:     input.InviterEmail,
		Role:             input.Role,
		Token:            input.Token,
		Status:           store.InvitationPending,
		ExpiresAt:        input.ExpiresAt,
	}
	m.invitations = append(m.invitations, inv)
	return inv, nil
}

func (m *memoryStore) SetInvitationStatus(_ context.Context, id int64, requesterEmail string, status store.InvitationStatus) (store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, inv := range m.invitations {
		if inv.ID != id {
			continue
		}
		if !strings.EqualFold(inv.InvitedEmail, requesterEmail) || inv.Status != store.InvitationPending {
			return store.Invitation{}, store.ErrForbidden
		}
		if status == store.InvitationAccepted {
			for uid, u := range m.users {
				if strings.EqualFold(u.Email, requesterEmail) {
					orgID, role := inv.OrganizationID, inv.Role
					u.OrganizationID, u.Role = &orgID, &role
					m.users[uid] = u
				}
			}
		}
		inv.Status = status
		m.invitations[i] = inv
		return inv, nil
	}
	return store.Invitation{}, store.ErrNotFound
}

func (m *memoryStore) CreateJoinRequest(_ context.Context, uid string, organizationID int64, message string) (store.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[organizationID]
	if !ok {
		return store.JoinRequest{}, store.ErrNotFound
	}
	for _, req := range m.requests {
		if req.RequestedBy == uid && req.OrganizationID == organizationID && req.Status == store.JoinRequestPending {
			return store.JoinRequest{}, store.ErrDuplicateRequest
		}
	}
	req := store.JoinRequest{
		ID:               m.id(),
		OrganizationID:   organizationID,
		OrganizationName: o.Name,
		RequestedBy:      uid,
		Message:          message,
		Status:           store.JoinRequestPending,
	}
	m.requests = append(m.requests, req)
	return req, nil
}

func (m *memoryStore) ListPendingJoinRequestsForOrganization(_ context.Context, organizationID int64) ([]store.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.JoinRequest, 0)
	for _, req := range m.requests {
		if req.OrganizationID == organizationID && req.Status == store.JoinRequestPending {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *memoryStore) DecideJoinRequest(_ context.Context, id, organizationID int64, deciderUID string, approve bool) (store.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, req := range m.requests {
		if req.ID != id || req.OrganizationID != organizationID {
			continue
		}
		if req.Status != store.JoinRequestPending {
			return store.JoinRequest{}, store.ErrForbidden
		}
		req.Status = store.JoinRequestRejected
		if approve {
			req.Status = store.JoinRequestApproved
			u := m.users[req.RequestedBy]
			orgID, role := organizationID, "member"
			u.OrganizationID, u.Role = &orgID, &role
			m.users[req.RequestedBy] = u
		}
		req.DecidedBy = &deciderUID
		m.requests[i] = req
		return req, nil
	}
	return store.JoinRequest{}, store.ErrNotFound
}

func (m *memoryStore) ListClients(_ context.Context, organizationID int64, _ string) ([]store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Client, 0)
	for _, c := range m.clients {
		if c.OrganizationID == organizationID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateClient(_ context.Context, c store.Client) (store.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.clients = append(m.clients, c)
	return c, nil
}

// fakeSessions maps bearer tokens to identities.
type fakeSessions struct {
	mu        sync.Mutex
	tokens    map[string]auth.Identity
	listeners []func(session.Event)
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]auth.Identity)}
}

func (f *fakeSessions) add(token string, identity auth.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = identity
}

// signIn registers token and announces the login the way Manager.SignIn
// does, counting the other live tokens of the identity.
func (f *fakeSessions) signIn(token string, identity auth.Identity) {
	f.mu.Lock()
	others := 0
	for _, other := range f.tokens {
		if other.UID == identity.UID {
			others++
		}
	}
	f.tokens[token] = identity
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(session.Event{Kind: session.SignedIn, UID: identity.UID, Remaining: others})
	}
}

// expire drops token without any event, like a token reaching its expiry.
func (f *fakeSessions) expire(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
}

func (f *fakeSessions) SignUp(context.Context, string, string, string) (session.SignUpResult, error) {
	return session.SignUpResult{}, errors.New("not supported")
}

func (f *fakeSessions) SignIn(context.Context, string, string) (session.SignInResult, error) {
	return session.SignInResult{}, errors.New("not supported")
}

func (f *fakeSessions) SignOut(_ context.Context, token string) (int, error) {
	f.mu.Lock()
	identity, ok := f.tokens[token]
	if !ok {
		f.mu.Unlock()
		return 0, auth.ErrInvalidToken
	}
	delete(f.tokens, token)
	remaining := 0
	for _, other := range f.tokens {
		if other.UID == identity.UID {
			remaining++
		}
	}
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(session.Event{Kind: session.SignedOut, UID: identity.UID, Remaining: remaining})
	}
	return remaining, nil
}

func (f *fakeSessions) Refresh(context.Context, string) (session.SignInResult, error) {
	return session.SignInResult{}, errors.New("not supported")
}

func (f *fakeSessions) Current(_ context.Context, token string) (auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.tokens[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return identity, nil
}

func (f *fakeSessions) VerifyEmail(context.Context, string) (string, error) {
	return "", errors.New("not supported")
}

func (f *fakeSessions) RequestPasswordReset(context.Context, string) (string, error) {
	return "reset-token", nil
}

func (f *fakeSessions) ResetPassword(context.Context, string, string) error { return nil }

func (f *fakeSessions) Subscribe(fn func(session.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

type sentInvitation struct {
	to, organization, inviter, role, url string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentInvitation
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendInvitationEmail(to, organizationName, inviterEmail, role, invitationsURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentInvitation{to, organizationName, inviterEmail, role, invitationsURL})
	return nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	indexed []store.Organization
}

func (f *fakeDirectory) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]search.Result, 0)
	for _, o := range f.indexed {
		if strings.Contains(strings.ToLower(o.Name), strings.ToLower(q.Text)) {
			results = append(results, search.Result{ID: o.ID, Name: o.Name, Slug: o.Slug})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text, Backend: "test"}
}

func (f *fakeDirectory) IndexOrganization(o store.Organization) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, o)
}

type harness struct {
	t         *testing.T
	store     *memoryStore
	sessions  *fakeSessions
	mailer    *fakeMailer
	directory *fakeDirectory
	registry  *flow.Registry
	service   *Service
	logins    int
	handler   http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		store:     newMemoryStore(),
		sessions:  newFakeSessions(),
		mailer:    &fakeMailer{},
		directory: &fakeDirectory{},
	}
	resolver := org.NewResolver(h.store, nil, nil)
	h.registry = flow.NewRegistry(resolver, flow.Options{ResolveTimeout: 2 * time.Second})
	t.Cleanup(h.registry.Close)
	g := guard.New(guard.Options{Wait: 2 * time.Second})
	h.service = New(Config{AppBaseURL: "http://app.test/"}, Deps{
		Store:     h.store,
		Sessions:  h.sessions,
		Registry:  h.registry,
		Guard:     g,
		Directory: h.directory,
		Mailer:    h.mailer,
	})
	h.handler = NewHTTPServer(h.service, ServerOptions{CORSOrigin: "*"}).Handler()
	return h
}

// login registers a bearer token for uid; the user record is created
// separately.
func (h *harness) login(uid, email string) string {
	h.logins++
	token := fmt.Sprintf("tok-%s-%d", uid, h.logins)
	h.sessions.add(token, auth.Identity{UID: uid, Email: email, EmailVerified: true})
	return token
}

// signIn is login plus the SignedIn event a real sign-in emits.
func (h *harness) signIn(uid, email string) string {
	h.logins++
	token := fmt.Sprintf("tok-%s-%d", uid, h.logins)
	h.sessions.signIn(token, auth.Identity{UID: uid, Email: email, EmailVerified: true})
	return token
}

type response struct {
	Code    int             `json:"-"`
	Header  http.Header     `json:"-"`
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	ErrCode string          `json:"code"`
	Details map[string]any  `json:"details"`
}

func (h *harness) do(method, path, token string, body string) response {
	h.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	resp := response{Code: rr.Code, Header: rr.Header()}
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			h.t.Fatalf("decode %s %s: %v (%s)", method, path, err, rr.Body.String())
		}
	}
	return resp
}

func decodeData[T any](t *testing.T, resp response) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, string(resp.Data))
	}
	return v
}
