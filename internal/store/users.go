package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (uid, email, display_name)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, user.UID, normalizeEmail(user.Email), user.DisplayName).Scan(&user.CreatedAt, &user.UpdatedAt)
	if isConstraintViolation(err, pgUniqueViolation, "") {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	user.Email = normalizeEmail(user.Email)
	user.OrganizationID = nil
	user.Role = nil
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, uid string) (User, error) {
	var (
		user  User
		orgID sql.NullInt64
		role  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, email, display_name, organization_id, role, created_at, updated_at
		FROM users WHERE uid = $1
	`, uid).Scan(&user.UID, &user.Email, &user.DisplayName, &orgID, &role, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	user.OrganizationID = nullableInt64(orgID)
	user.Role = nullableString(role)
	return user, nil
}

// GetMembership returns ErrNotFound when the user has no organization or no
// user record.
func (s *PostgresStore) GetMembership(ctx context.Context, uid string) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, role FROM users
		WHERE uid = $1 AND organization_id IS NOT NULL
	`, uid).Scan(&m.OrganizationID, &m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, ErrNotFound
	}
	if err != nil {
		return Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, organizationID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, email, display_name, organization_id, role, created_at, updated_at
		FROM users WHERE organization_id = $1
		ORDER BY created_at
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]User, 0)
	for rows.Next() {
		var (
			user  User
			orgID sql.NullInt64
			role  sql.NullString
		)
		if err := rows.Scan(&user.UID, &user.Email, &user.DisplayName, &orgID, &role, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		user.OrganizationID = nullableInt64(orgID)
		user.Role = nullableString(role)
		members = append(members, user)
	}
	return members, rows.Err()
}
