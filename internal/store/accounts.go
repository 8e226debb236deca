package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const accountColumns = `uid, email, display_name, password_hash, email_verified,
	COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var (
		account   Account
		expiresAt sql.NullTime
	)
	err := row.Scan(&account.UID, &account.Email, &account.DisplayName, &account.PasswordHash,
		&account.EmailVerified, &account.VerificationToken, &expiresAt, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		account.VerificationExpiresAt = &t
	}
	return account, nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = $1`, normalizeEmail(email))
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account by email: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, uid string) (Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE uid = $1`, uid)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	var token any
	if account.VerificationToken != "" {
		token = account.VerificationToken
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (uid, email, display_name, password_hash, email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.UID, normalizeEmail(account.Email), account.DisplayName, account.PasswordHash,
		account.EmailVerified, token, account.VerificationExpiresAt)
	if isConstraintViolation(err, pgUniqueViolation, "accounts_email_key") {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// VerifyAccountEmail marks the account holding an unexpired token as
// verified and returns its uid.
func (s *PostgresStore) VerifyAccountEmail(ctx context.Context, token string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
		RETURNING uid
	`, token).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("verify account email: %w", err)
	}
	return uid, nil
}

func (s *PostgresStore) UpdateAccountPassword(ctx context.Context, uid, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE uid = $1`, uid, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, uid, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, uid, expires_at) VALUES ($1, $2, $3)
	`, token, uid, expiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset marks an unused, unexpired reset token as used and
// returns the uid it was issued for.
func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, token string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets SET used_at = NOW()
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING uid
	`, token).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume password reset: %w", err)
	}
	return uid, nil
}
