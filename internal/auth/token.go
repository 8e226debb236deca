package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of an identity token. Role and OrganizationID are
// copied from the user record at issue time and may be stale.
type Claims struct {
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	EmailVerified  bool   `json:"email_verified"`
	Role           string `json:"role,omitempty"`
	OrganizationID *int64 `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("expired token")
	ErrRevokedToken   = errors.New("revoked token")
)

// IsUnauthenticated reports whether err means the caller must be treated as
// signed out.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrRevokedToken)
}

type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a new token for identity with a fresh token id.
func (i *Issuer) Issue(identity Identity) (string, Claims, error) {
	now := i.now()
	claims := Claims{
		Email:          identity.Email,
		EmailVerified:  identity.EmailVerified,
		OrganizationID: identity.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UID,
			Issuer:    i.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	if identity.DisplayName != nil {
		claims.Name = *identity.DisplayName
	}
	if identity.Role != nil {
		claims.Role = *identity.Role
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return token, claims, nil
}

// Parse validates signature, issuer and expiry and returns the claims.
func (i *Issuer) Parse(token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, ErrMalformedToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Claims{}, ErrMalformedToken
		default:
			return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}
	if !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
