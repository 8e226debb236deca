package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/authpw"
	"orderdesk/api/internal/store"
)

type EventKind string

const (
	SignedIn  EventKind = "signed-in"
	SignedOut EventKind = "signed-out"
)

// Event is an identity change. Remaining counts the other live sessions of
// UID: those left after a sign-out, or those already open at a sign-in.
type Event struct {
	Kind      EventKind
	UID       string
	Remaining int
}

// Store is the Redis side of sessions.
type Store interface {
	SaveSession(ctx context.Context, uid, jti string, expiresAt time.Time) error
	RemoveSession(ctx context.Context, uid, jti string) (int, error)
	ActiveSessions(ctx context.Context, uid string) (int, error)
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUser(ctx context.Context, uid string) (store.User, error)
}

type Mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type Config struct {
	// AppBaseURL prefixes the links sent by email.
	AppBaseURL string
}

type Manager struct {
	accounts *authpw.Service
	users    UserStore
	sessions Store
	issuer   *auth.Issuer
	verifier *auth.Verifier
	mailer   Mailer
	baseURL  string
	logger   *zap.Logger

	mu        sync.RWMutex
	listeners []func(Event)
}

func NewManager(accounts *authpw.Service, users UserStore, sessions Store, issuer *auth.Issuer, mailer Mailer, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		accounts: accounts,
		users:    users,
		sessions: sessions,
		issuer:   issuer,
		verifier: auth.NewVerifier(issuer, sessions),
		mailer:   mailer,
		baseURL:  strings.TrimRight(cfg.AppBaseURL, "/"),
		logger:   logger.Named("session"),
	}
}

// Verifier is the identity provider used to authenticate requests.
func (m *Manager) Verifier() *auth.Verifier {
	return m.verifier
}

// Subscribe registers fn for identity changes. Listeners run synchronously
// on the goroutine that changed the identity.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) emit(ev Event) {
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

type SignUpResult struct {
	User      store.User `json:"user"`
	EmailSent bool       `json:"emailSent"`
	// VerificationToken is returned only when no mail could be sent.
	VerificationToken string `json:"verificationToken,omitempty"`
}

// SignUp creates the provider account and the application user record,
// then mails the verification link.
func (m *Manager) SignUp(ctx context.Context, email, password, displayName string) (SignUpResult, error) {
	created, err := m.accounts.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return SignUpResult{}, err
	}
	account := created.Account

	user, err := m.users.CreateUser(ctx, store.User{
		UID:         account.UID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	})
	if err != nil {
		return SignUpResult{}, fmt.Errorf("create user record: %w", err)
	}

	result := SignUpResult{User: user}
	link := m.link("/verify-email", created.VerificationToken)
	if m.mailer != nil && m.mailer.IsConfigured() {
		if err := m.mailer.SendVerificationEmail(account.Email, account.DisplayName, link); err != nil {
			m.logger.Warn("verification email not sent", zap.String("uid", account.UID), zap.Error(err))
		} else {
			result.EmailSent = true
		}
	}
	if !result.EmailSent {
		result.VerificationToken = created.VerificationToken
	}
	m.logger.Info("account created", zap.String("uid", account.UID), zap.Bool("email_sent", result.EmailSent))
	return result, nil
}

type SignInResult struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Identity  auth.Identity `json:"identity"`
}

// SignIn checks credentials, issues an identity token carrying the current
// membership claims and registers the session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	account, err := m.accounts.SignIn(ctx, email, password)
	if err != nil {
		return SignInResult{}, err
	}
	result, err := m.issue(ctx, account)
	if err != nil {
		return SignInResult{}, err
	}
	others := 0
	if n, err := m.sessions.ActiveSessions(ctx, account.UID); err != nil {
		m.logger.Warn("live sessions not counted", zap.String("uid", account.UID), zap.Error(err))
	} else if n > 1 {
		others = n - 1
	}
	m.logger.Info("signed in", zap.String("uid", account.UID), zap.Int("other_sessions", others))
	m.emit(Event{Kind: SignedIn, UID: account.UID, Remaining: others})
	return result, nil
}

func (m *Manager) issue(ctx context.Context, account store.Account) (SignInResult, error) {
	identity, err := m.identityFor(ctx, account)
	if err != nil {
		return SignInResult{}, err
	}
	token, claims, err := m.issuer.Issue(identity)
	if err != nil {
		return SignInResult{}, err
	}
	expiresAt := claims.ExpiresAt.Time
	if err := m.sessions.SaveSession(ctx, identity.UID, claims.ID, expiresAt); err != nil {
		return SignInResult{}, err
	}
	return SignInResult{Token: token, ExpiresAt: expiresAt, Identity: identity}, nil
}

// identityFor copies claims from the user record. A missing record is not
// fatal here; status resolution reports it.
func (m *Manager) identityFor(ctx context.Context, account store.Account) (auth.Identity, error) {
	name := account.DisplayName
	identity := auth.Identity{
		UID:           account.UID,
		Email:         account.Email,
		DisplayName:   &name,
		EmailVerified: account.EmailVerified,
	}
	user, err := m.users.GetUser(ctx, account.UID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Error("account has no user record", zap.String("uid", account.UID))
		return identity, nil
	}
	if err != nil {
		return auth.Identity{}, fmt.Errorf("load user record: %w", err)
	}
	identity.OrganizationID = user.OrganizationID
	identity.Role = user.Role
	if user.DisplayName != "" {
		identity.DisplayName = &user.DisplayName
	}
	return identity, nil
}

// SignOut revokes token and returns the sessions the identity still has.
func (m *Manager) SignOut(ctx context.Context, token string) (int, error) {
	claims, err := m.verifier.Claims(ctx, token)
	if err != nil {
		return 0, err
	}
	remaining, err := m.end(ctx, claims)
	if err != nil {
		return 0, err
	}
	m.logger.Info("signed out", zap.String("uid", claims.Subject), zap.Int("remaining_sessions", remaining))
	m.emit(Event{Kind: SignedOut, UID: claims.Subject, Remaining: remaining})
	return remaining, nil
}

func (m *Manager) end(ctx context.Context, claims auth.Claims) (int, error) {
	if err := m.sessions.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return 0, err
	}
	return m.sessions.RemoveSession(ctx, claims.Subject, claims.ID)
}

// Refresh reissues token with current claims and revokes the old one.
func (m *Manager) Refresh(ctx context.Context, token string) (SignInResult, error) {
	claims, err := m.verifier.Claims(ctx, token)
	if err != nil {
		return SignInResult{}, err
	}
	account, err := m.accounts.Account(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return SignInResult{}, auth.ErrInvalidToken
	}
	if err != nil {
		return SignInResult{}, fmt.Errorf("load account: %w", err)
	}
	result, err := m.issue(ctx, account)
	if err != nil {
		return SignInResult{}, err
	}
	if _, err := m.end(ctx, claims); err != nil {
		return SignInResult{}, err
	}
	return result, nil
}

// Current is the identity provider's VerifyToken.
func (m *Manager) Current(ctx context.Context, token string) (auth.Identity, error) {
	return m.verifier.VerifyToken(ctx, token)
}

func (m *Manager) VerifyEmail(ctx context.Context, token string) (string, error) {
	return m.accounts.VerifyEmail(ctx, token)
}

// RequestPasswordReset mails a reset link. The token is returned only when
// mail is not configured; an unknown email yields no error and no token.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, account, err := m.accounts.RequestPasswordReset(ctx, email)
	if err != nil || token == "" {
		return "", err
	}
	if m.mailer != nil && m.mailer.IsConfigured() {
		if err := m.mailer.SendPasswordResetEmail(account.Email, account.DisplayName, m.link("/reset-password", token)); err != nil {
			m.logger.Warn("password reset email not sent", zap.String("uid", account.UID), zap.Error(err))
			return token, nil
		}
		return "", nil
	}
	return token, nil
}

func (m *Manager) ResetPassword(ctx context.Context, token, password string) error {
	uid, err := m.accounts.ResetPassword(ctx, token, password)
	if err != nil {
		return err
	}
	m.logger.Info("password reset", zap.String("uid", uid))
	return nil
}

func (m *Manager) link(path, token string) string {
	return m.baseURL + path + "?token=" + url.QueryEscape(token)
}
