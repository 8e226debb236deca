package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyMember       = errors.New("user already belongs to an organization")
	ErrSlugTaken           = errors.New("organization slug already taken")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvitationExpired   = errors.New("invitation expired")
	ErrDuplicateInvitation = errors.New("a pending invitation already exists for this email")
	ErrDuplicateRequest    = errors.New("a pending join request already exists for this organization")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrSKUTaken            = errors.New("product sku already exists")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidTransition   = errors.New("invalid order status transition")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// isConstraintViolation reports whether err is a Postgres error with the
// given SQLSTATE code and, when constraint is non-empty, constraint name.
func isConstraintViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
