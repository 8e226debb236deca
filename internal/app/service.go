package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/flow"
	"orderdesk/api/internal/guard"
	"orderdesk/api/internal/org"
	"orderdesk/api/internal/rbac"
	"orderdesk/api/internal/search"
	"orderdesk/api/internal/session"
	"orderdesk/api/internal/store"
	"orderdesk/api/internal/util"
)

// Store is the persistence the HTTP surface needs. *store.PostgresStore
// satisfies it.
type Store interface {
	org.Repository
	CatalogStore

	Ping(ctx context.Context) error
	CreateOrganization(ctx context.Context, creatorUID string, input store.NewOrganization) (store.Organization, error)
	ListMembers(ctx context.Context, organizationID int64) ([]store.User, error)

	CreateInvitation(ctx context.Context, input store.NewInvitation) (store.Invitation, error)
	SetInvitationStatus(ctx context.Context, id int64, requesterEmail string, status store.InvitationStatus) (store.Invitation, error)

	CreateJoinRequest(ctx context.Context, uid string, organizationID int64, message string) (store.JoinRequest, error)
	ListPendingJoinRequestsForOrganization(ctx context.Context, organizationID int64) ([]store.JoinRequest, error)
	DecideJoinRequest(ctx context.Context, id, organizationID int64, deciderUID string, approve bool) (store.JoinRequest, error)
}

type CatalogStore interface {
	ListClients(ctx context.Context, organizationID int64, q string) ([]store.Client, error)
	GetClient(ctx context.Context, organizationID, id int64) (store.Client, error)
	CreateClient(ctx context.Context, c store.Client) (store.Client, error)
	ListProducts(ctx context.Context, organizationID int64, q string) ([]store.Product, error)
	GetProduct(ctx context.Context, organizationID, id int64) (store.Product, error)
	CreateProduct(ctx context.Context, p store.Product) (store.Product, error)
	ListCouriers(ctx context.Context, organizationID int64, activeOnly bool) ([]store.Courier, error)
	GetCourier(ctx context.Context, organizationID, id int64) (store.Courier, error)
	CreateCourier(ctx context.Context, c store.Courier) (store.Courier, error)
	ListOrders(ctx context.Context, organizationID int64, status store.OrderStatus) ([]store.Order, error)
	GetOrder(ctx context.Context, organizationID, id int64) (store.Order, error)
	CreateOrder(ctx context.Context, organizationID int64, input store.NewOrder) (store.Order, error)
	UpdateOrderStatus(ctx context.Context, organizationID, id int64, status store.OrderStatus) (store.Order, error)
}

// Sessions is the session store. *session.Manager satisfies it.
type Sessions interface {
	SignUp(ctx context.Context, email, password, displayName string) (session.SignUpResult, error)
	SignIn(ctx context.Context, email, password string) (session.SignInResult, error)
	SignOut(ctx context.Context, token string) (int, error)
	Refresh(ctx context.Context, token string) (session.SignInResult, error)
	Current(ctx context.Context, token string) (auth.Identity, error)
	VerifyEmail(ctx context.Context, token string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, password string) error
	Subscribe(fn func(session.Event))
}

type InvitationMailer interface {
	IsConfigured() bool
	SendInvitationEmail(to, organizationName, inviterEmail, role, invitationsURL string) error
}

// Directory is the organization search. *search.Service satisfies it.
type Directory interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexOrganization(org store.Organization)
}

// ReadyCheck is one dependency probed by /api/ready.
type ReadyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Config struct {
	AppBaseURL    string
	InvitationTTL time.Duration
}

type Deps struct {
	Store     Store
	Sessions  Sessions
	Registry  *flow.Registry
	Guard     *guard.Guard
	Directory Directory
	Mailer    InvitationMailer
	Logger    *zap.Logger
	// Ready lists extra readiness probes next to the store ping.
	Ready []ReadyCheck
}

type Service struct {
	store     Store
	sessions  Sessions
	registry  *flow.Registry
	guard     *guard.Guard
	directory Directory
	mailer    InvitationMailer
	logger    *zap.Logger
	ready     []ReadyCheck
	cfg       Config
	now       func() time.Time
}

func New(cfg Config, deps Deps) *Service {
	if cfg.InvitationTTL <= 0 {
		cfg.InvitationTTL = 7 * 24 * time.Hour
	}
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:     deps.Store,
		sessions:  deps.Sessions,
		registry:  deps.Registry,
		guard:     deps.Guard,
		directory: deps.Directory,
		mailer:    deps.Mailer,
		logger:    logger.Named("app"),
		cfg:       cfg,
		now:       time.Now,
	}
	s.ready = append([]ReadyCheck{{Name: "database", Ping: deps.Store.Ping}}, deps.Ready...)
	if s.sessions != nil {
		s.sessions.Subscribe(s.onIdentityChange)
	}
	return s
}

// onIdentityChange keeps flow state aligned with logins. A login with no
// other live session starts from a fresh controller; a login next to other
// sessions opens a new gating episode. Either way the guard checks again.
// The last sign-out tears the state down.
func (s *Service) onIdentityChange(ev session.Event) {
	switch ev.Kind {
	case session.SignedIn:
		// Release before Reset: a check latched on a closed controller
		// would never run.
		if ev.Remaining == 0 {
			s.registry.Release(ev.UID)
		} else if c, ok := s.registry.Lookup(ev.UID); ok {
			c.CompleteFlow()
		}
		s.guard.Reset(ev.UID)
		s.logger.Debug("flow state reset for new login", zap.String("uid", ev.UID), zap.Int("other_sessions", ev.Remaining))
	case session.SignedOut:
		if ev.Remaining > 0 {
			return
		}
		s.registry.Release(ev.UID)
		s.guard.Reset(ev.UID)
		s.logger.Debug("flow state released", zap.String("uid", ev.UID))
	}
}

// ReleaseIdle drops the flow state of identities unseen for idle, so users
// whose tokens lapse without a sign-out do not accumulate.
func (s *Service) ReleaseIdle(idle time.Duration) int {
	uids := s.registry.ReleaseIdle(idle)
	for _, uid := range uids {
		s.guard.Reset(uid)
	}
	return len(uids)
}

func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ok := true
	checks := make(map[string]any, len(s.ready))
	for _, check := range s.ready {
		if err := check.Ping(ctx); err != nil {
			ok = false
			checks[check.Name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[check.Name] = map[string]any{"status": "ok"}
	}
	return ok, checks
}

func (s *Service) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	return s.sessions.Current(ctx, token)
}

func (s *Service) controller(identity auth.Identity) (*flow.Controller, error) {
	return s.registry.Acquire(identity)
}

// Check runs the route guard for route. identity is nil for anonymous
// callers.
func (s *Service) Check(ctx context.Context, identity *auth.Identity, route string) (guard.Decision, *flow.Controller, error) {
	if identity == nil {
		return s.guard.Check(ctx, nil, route, nil), nil, nil
	}
	c, err := s.controller(*identity)
	if err != nil {
		return guard.Decision{}, nil, err
	}
	return s.guard.Check(ctx, identity, route, c), c, nil
}

// OrganizationStatus refreshes (or joins a refresh of) the identity's status.
func (s *Service) OrganizationStatus(ctx context.Context, identity auth.Identity) (org.Status, error) {
	c, err := s.controller(identity)
	if err != nil {
		return org.Status{}, err
	}
	snap, err := c.Refresh(ctx)
	if err != nil {
		return org.Status{}, err
	}
	if snap.Err != nil {
		return org.Status{}, snap.Err
	}
	if snap.Status == nil {
		return org.Status{}, fmt.Errorf("status not resolved")
	}
	return *snap.Status, nil
}

// FlowView is the client-facing flow controller snapshot.
type FlowView struct {
	Step       flow.Step   `json:"step"`
	Checking   bool        `json:"checking"`
	Status     *org.Status `json:"status,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       string      `json:"code,omitempty"`
	Episode    uint64      `json:"episode"`
	Redirected bool        `json:"redirected"`
	Route      string      `json:"route,omitempty"`
	RedirectTo string      `json:"redirectTo,omitempty"`
}

func viewOf(snap flow.Snapshot) FlowView {
	v := FlowView{
		Step:       snap.Step,
		Checking:   snap.Checking,
		Status:     snap.Status,
		Episode:    snap.Episode,
		Redirected: snap.Redirected,
		Route:      snap.Route,
	}
	if snap.Err != nil {
		_, v.Code, v.Error, _ = mapError(snap.Err)
	}
	return v
}

// Flow reads the controller and consumes its pending navigation.
func (s *Service) Flow(identity auth.Identity) (FlowView, error) {
	c, err := s.controller(identity)
	if err != nil {
		return FlowView{}, err
	}
	v := viewOf(c.Snapshot())
	v.RedirectTo, _ = c.TakeNavigation()
	return v, nil
}

func (s *Service) RefreshFlow(ctx context.Context, identity auth.Identity, force bool) (FlowView, error) {
	c, err := s.controller(identity)
	if err != nil {
		return FlowView{}, err
	}
	refresh := c.Refresh
	if force {
		refresh = c.ForceRefresh
	}
	snap, err := refresh(ctx)
	if err != nil {
		return FlowView{}, err
	}
	v := viewOf(snap)
	v.RedirectTo, _ = c.TakeNavigation()
	return v, nil
}

func (s *Service) CompleteFlow(identity auth.Identity) (FlowView, error) {
	c, err := s.controller(identity)
	if err != nil {
		return FlowView{}, err
	}
	c.CompleteFlow()
	return viewOf(c.Snapshot()), nil
}

func (s *Service) ResetRedirection(identity auth.Identity) (FlowView, error) {
	c, err := s.controller(identity)
	if err != nil {
		return FlowView{}, err
	}
	c.ResetRedirection()
	return viewOf(c.Snapshot()), nil
}

// mutate runs a membership change under the identity's mutation lock, then
// forces a refresh. Reaching has-organization completes the gating episode.
// A failed mutation leaves the controller untouched.
func (s *Service) mutate(ctx context.Context, identity auth.Identity, fn func(ctx context.Context) error) (FlowView, error) {
	c, err := s.controller(identity)
	if err != nil {
		return FlowView{}, err
	}
	release, err := c.BeginMutation()
	if err != nil {
		return FlowView{}, err
	}
	defer release()

	if err := fn(ctx); err != nil {
		return FlowView{}, err
	}

	snap, err := c.ForceRefresh(ctx)
	if err != nil {
		s.logger.Warn("post-mutation refresh not awaited", zap.String("uid", identity.UID), zap.Error(err))
		return viewOf(c.Snapshot()), nil
	}
	if snap.Err == nil && snap.Step == flow.StepHasOrganization {
		c.CompleteFlow()
		snap = c.Snapshot()
	}
	v := viewOf(snap)
	v.RedirectTo, _ = c.TakeNavigation()
	return v, nil
}

type CreateOrganizationInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

type OrganizationResult struct {
	Organization store.Organization `json:"organization"`
	Flow         FlowView           `json:"flow"`
}

func (s *Service) CreateOrganization(ctx context.Context, identity auth.Identity, input CreateOrganizationInput) (OrganizationResult, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return OrganizationResult{}, validationError("name is required")
	}
	if len(name) > 120 {
		return OrganizationResult{}, validationError("name must be at most 120 characters")
	}
	slug := strings.TrimSpace(input.Slug)
	if slug != "" && store.Slugify(slug) != slug {
		return OrganizationResult{}, validationError("slug may contain only lowercase letters, digits and dashes")
	}

	var created store.Organization
	view, err := s.mutate(ctx, identity, func(ctx context.Context) error {
		var err error
		created, err = s.store.CreateOrganization(ctx, identity.UID, store.NewOrganization{
			Name:        name,
			Slug:        slug,
			Description: input.Description,
		})
		return err
	})
	if err != nil {
		return OrganizationResult{}, err
	}
	s.logger.Info("organization created", zap.String("uid", identity.UID), zap.Int64("organization_id", created.ID), zap.String("slug", created.Slug))
	if s.directory != nil {
		s.directory.IndexOrganization(created)
	}
	return OrganizationResult{Organization: created, Flow: view}, nil
}

func (s *Service) SearchOrganizations(ctx context.Context, q search.Query) search.Response {
	if s.directory == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.directory.Search(ctx, q)
}

func (s *Service) ListInvitations(ctx context.Context, identity auth.Identity) ([]store.Invitation, error) {
	return s.store.ListPendingInvitationsForEmail(ctx, identity.Email)
}

type InvitationResult struct {
	Invitation store.Invitation `json:"invitation"`
	Flow       FlowView         `json:"flow"`
}

// DecideInvitation accepts or rejects an invitation addressed to identity.
func (s *Service) DecideInvitation(ctx context.Context, identity auth.Identity, id int64, accept bool) (InvitationResult, error) {
	status := store.InvitationRejected
	if accept {
		status = store.InvitationAccepted
	}
	var inv store.Invitation
	view, err := s.mutate(ctx, identity, func(ctx context.Context) error {
		var err error
		inv, err = s.store.SetInvitationStatus(ctx, id, identity.Email, status)
		return err
	})
	if err != nil {
		return InvitationResult{}, err
	}
	s.logger.Info("invitation decided", zap.String("uid", identity.UID), zap.Int64("invitation_id", id), zap.String("status", string(status)))
	return InvitationResult{Invitation: inv, Flow: view}, nil
}

type JoinRequestResult struct {
	Request store.JoinRequest `json:"request"`
	Flow    FlowView          `json:"flow"`
}

func (s *Service) CreateJoinRequest(ctx context.Context, identity auth.Identity, organizationID int64, message string) (JoinRequestResult, error) {
	if len(message) > 1000 {
		return JoinRequestResult{}, validationError("message must be at most 1000 characters")
	}
	var req store.JoinRequest
	view, err := s.mutate(ctx, identity, func(ctx context.Context) error {
		var err error
		req, err = s.store.CreateJoinRequest(ctx, identity.UID, organizationID, message)
		return err
	})
	if err != nil {
		return JoinRequestResult{}, err
	}
	return JoinRequestResult{Request: req, Flow: view}, nil
}

// Member is the caller's resolved membership, never the token claims.
type Member struct {
	Identity     auth.Identity
	Organization store.Organization
	Role         rbac.Role
}

func memberOf(identity auth.Identity, snap flow.Snapshot) (Member, bool) {
	if snap.Status == nil || snap.Status.Organization == nil {
		return Member{}, false
	}
	return Member{
		Identity:     identity,
		Organization: *snap.Status.Organization,
		Role:         rbac.Normalize(snap.Status.Role()),
	}, true
}

func (m Member) require(action rbac.Action) error {
	if !rbac.Can(m.Role, action) {
		return errForbidden
	}
	return nil
}

type InviteInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type InviteResult struct {
	Invitation store.Invitation `json:"invitation"`
	EmailSent  bool             `json:"emailSent"`
}

func (s *Service) Invite(ctx context.Context, m Member, input InviteInput) (InviteResult, error) {
	if err := m.require(rbac.ActionInvite); err != nil {
		return InviteResult{}, err
	}
	email := auth.NormalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return InviteResult{}, validationError("a valid email is required")
	}
	if email == auth.NormalizeEmail(m.Identity.Email) {
		return InviteResult{}, validationError("you cannot invite yourself")
	}
	role := rbac.Normalize(input.Role)
	if input.Role != "" && !rbac.Valid(input.Role) {
		return InviteResult{}, validationError("role must be admin, manager or member")
	}
	if !rbac.CanAssign(m.Role, role) {
		return InviteResult{}, errForbidden
	}

	token, err := util.NewToken()
	if err != nil {
		return InviteResult{}, err
	}
	inv, err := s.store.CreateInvitation(ctx, store.NewInvitation{
		OrganizationID: m.Organization.ID,
		InvitedEmail:   email,
		InviterUID:     m.Identity.UID,
		InviterEmail:   m.Identity.Email,
		Role:           string(role),
		Token:          token,
		ExpiresAt:      s.now().Add(s.cfg.InvitationTTL),
	})
	if err != nil {
		return InviteResult{}, err
	}

	result := InviteResult{Invitation: inv}
	if s.mailer != nil && s.mailer.IsConfigured() {
		err := s.mailer.SendInvitationEmail(email, m.Organization.Name, m.Identity.Email, string(role), s.cfg.AppBaseURL+flow.PathInvitations)
		if err != nil {
			s.logger.Warn("invitation email not sent", zap.Int64("invitation_id", inv.ID), zap.Error(err))
		} else {
			result.EmailSent = true
		}
	}
	s.logger.Info("invitation created", zap.Int64("organization_id", m.Organization.ID), zap.Int64("invitation_id", inv.ID), zap.String("role", string(role)))
	return result, nil
}

func (s *Service) ListJoinRequests(ctx context.Context, m Member) ([]store.JoinRequest, error) {
	if err := m.require(rbac.ActionDecideRequests); err != nil {
		return nil, err
	}
	return s.store.ListPendingJoinRequestsForOrganization(ctx, m.Organization.ID)
}

// DecideJoinRequest approves or rejects a request to m's organization. The
// requester's controller, if live, is forced to re-resolve so its next read
// cannot be answered by a fetch issued before the decision.
func (s *Service) DecideJoinRequest(ctx context.Context, m Member, id int64, approve bool) (store.JoinRequest, error) {
	if err := m.require(rbac.ActionDecideRequests); err != nil {
		return store.JoinRequest{}, err
	}
	req, err := s.store.DecideJoinRequest(ctx, id, m.Organization.ID, m.Identity.UID, approve)
	if err != nil {
		return store.JoinRequest{}, err
	}
	if c, ok := s.registry.Lookup(req.RequestedBy); ok {
		if _, err := c.ForceDispatch(); err != nil {
			s.logger.Debug("requester refresh skipped", zap.String("uid", req.RequestedBy), zap.Error(err))
		}
	}
	s.logger.Info("join request decided", zap.Int64("request_id", id), zap.Bool("approved", approve))
	return req, nil
}

func (s *Service) ListMembers(ctx context.Context, m Member) ([]store.User, error) {
	return s.store.ListMembers(ctx, m.Organization.ID)
}

type MeView struct {
	Identity     auth.Identity      `json:"identity"`
	Organization store.Organization `json:"organization"`
	Role         rbac.Role          `json:"role"`
	Permissions  []rbac.Action      `json:"permissions"`
}

func (s *Service) Me(m Member) MeView {
	perms := make([]rbac.Action, 0, 5)
	for _, a := range []rbac.Action{rbac.ActionRead, rbac.ActionWriteOrders, rbac.ActionManageCatalog, rbac.ActionInvite, rbac.ActionDecideRequests} {
		if rbac.Can(m.Role, a) {
			perms = append(perms, a)
		}
	}
	return MeView{Identity: m.Identity, Organization: m.Organization, Role: m.Role, Permissions: perms}
}
