package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func (s *PostgresStore) GetOrganization(ctx context.Context, id int64) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, created_by, created_at FROM organizations WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedBy, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Organization{}, ErrNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

// CreateOrganization inserts the organization and makes its creator the sole
// admin in a single transaction. The creator's user row is locked first so a
// concurrent membership change cannot interleave.
func (s *PostgresStore) CreateOrganization(ctx context.Context, creatorUID string, input NewOrganization) (Organization, error) {
	name := strings.TrimSpace(input.Name)
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = Slugify(name)
	}

	var org Organization
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT organization_id FROM users WHERE uid = $1 FOR UPDATE`, creatorUID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock creator: %w", err)
		}
		if current.Valid {
			return ErrAlreadyMember
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO organizations (name, slug, description, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING id, name, slug, description, created_by, created_at
		`, name, slug, strings.TrimSpace(input.Description), creatorUID).
			Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedBy, &org.CreatedAt)
		if isConstraintViolation(err, pgUniqueViolation, "organizations_slug_key") {
			return ErrSlugTaken
		}
		if err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET organization_id = $1, role = 'admin', updated_at = NOW() WHERE uid = $2
		`, org.ID, creatorUID); err != nil {
			return fmt.Errorf("assign admin membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

// ListOrganizations returns every organization, used to seed the search
// index.
func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, description, created_by, created_at FROM organizations ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]Organization, 0)
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedBy, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
