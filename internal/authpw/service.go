// Package authpw is the email/password identity provider: credentials,
// email verification and password resets.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"orderdesk/api/internal/store"
	"orderdesk/api/internal/util"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const (
	minPasswordLength = 8
	verificationTTL   = 24 * time.Hour
	resetTTL          = time.Hour
)

type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (store.Account, error)
	GetAccount(ctx context.Context, uid string) (store.Account, error)
	CreateAccount(ctx context.Context, account store.Account) error
	VerifyAccountEmail(ctx context.Context, token string) (string, error)
	UpdateAccountPassword(ctx context.Context, uid, passwordHash string) error
	CreatePasswordReset(ctx context.Context, uid, token string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, token string) (string, error)
}

type Service struct {
	store AccountStore
	cost  int
	now   func() time.Time
}

func NewService(store AccountStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost, now: time.Now}
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

type SignUpResponse struct {
	Account           store.Account
	VerificationToken string
}

// SignUp creates an unverified account.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (SignUpResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return SignUpResponse{}, fmt.Errorf("%w: email, password and display name are required", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return SignUpResponse{}, fmt.Errorf("%w: email address is malformed", ErrValidation)
	}
	if err := validatePassword(req.Password); err != nil {
		return SignUpResponse{}, err
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return SignUpResponse{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return SignUpResponse{}, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return SignUpResponse{}, fmt.Errorf("hash password: %w", err)
	}
	token, err := util.NewToken()
	if err != nil {
		return SignUpResponse{}, fmt.Errorf("generate verification token: %w", err)
	}
	expiresAt := s.now().Add(verificationTTL)

	account := store.Account{
		UID:                   util.NewID("usr"),
		Email:                 email,
		DisplayName:           name,
		PasswordHash:          string(hash),
		VerificationToken:     token,
		VerificationExpiresAt: &expiresAt,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return SignUpResponse{}, ErrEmailTaken
		}
		return SignUpResponse{}, fmt.Errorf("create account: %w", err)
	}
	return SignUpResponse{Account: account, VerificationToken: token}, nil
}

// SignIn checks credentials. A correct password on an unverified account
// yields ErrEmailNotVerified.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Account, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.Account{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	account, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	if !account.EmailVerified {
		return store.Account{}, ErrEmailNotVerified
	}
	return account, nil
}

func (s *Service) Account(ctx context.Context, uid string) (store.Account, error) {
	return s.store.GetAccount(ctx, uid)
}

// VerifyEmail consumes a verification token and returns the verified uid.
func (s *Service) VerifyEmail(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: verification token required", ErrValidation)
	}
	uid, err := s.store.VerifyAccountEmail(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("verify email: %w", err)
	}
	return uid, nil
}

// RequestPasswordReset returns a reset token, or an empty token when no
// account uses email so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.Account, error) {
	account, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", store.Account{}, nil
	}
	if err != nil {
		return "", store.Account{}, fmt.Errorf("lookup account: %w", err)
	}

	token, err := util.NewToken()
	if err != nil {
		return "", store.Account{}, fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.CreatePasswordReset(ctx, account.UID, token, s.now().Add(resetTTL)); err != nil {
		return "", store.Account{}, err
	}
	return token, account, nil
}

// ResetPassword consumes a reset token and stores the new password. It
// returns the uid whose password changed.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: reset token required", ErrValidation)
	}
	if err := validatePassword(newPassword); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	uid, err := s.store.ConsumePasswordReset(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	if err := s.store.UpdateAccountPassword(ctx, uid, string(hash)); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	return uid, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	return nil
}
