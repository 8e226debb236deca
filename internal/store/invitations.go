package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const invitationColumns = `i.id, i.organization_id, o.name, i.invited_email, i.inviter_email, i.role,
	i.token, i.status, i.expires_at, i.created_at`

func scanInvitation(row interface{ Scan(...any) error }) (Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.OrganizationName, &inv.InvitedEmail, &inv.InviterEmail,
		&inv.Role, &inv.Token, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt)
	return inv, err
}

func (s *PostgresStore) CreateInvitation(ctx context.Context, input NewInvitation) (Invitation, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (organization_id, invited_email, inviter_uid, inviter_email, role, token, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, input.OrganizationID, normalizeEmail(input.InvitedEmail), input.InviterUID, normalizeEmail(input.InviterEmail),
		input.Role, input.Token, input.ExpiresAt).Scan(&id)
	if isConstraintViolation(err, pgUniqueViolation, "invitations_pending_email_key") {
		return Invitation{}, ErrDuplicateInvitation
	}
	if isConstraintViolation(err, pgForeignKeyViolation, "") {
		return Invitation{}, ErrNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("insert invitation: %w", err)
	}
	return s.GetInvitation(ctx, id)
}

func (s *PostgresStore) GetInvitation(ctx context.Context, id int64) (Invitation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations i JOIN organizations o ON o.id = i.organization_id
		WHERE i.id = $1
	`, id)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Invitation{}, ErrNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

// ListPendingInvitationsForEmail matches the invited email case-insensitively.
func (s *PostgresStore) ListPendingInvitationsForEmail(ctx context.Context, email string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations i JOIN organizations o ON o.id = i.organization_id
		WHERE LOWER(i.invited_email) = $1 AND i.status = 'pending'
		ORDER BY i.created_at, i.id
	`, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: %w", err)
	}
	defer rows.Close()

	invitations := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// SetInvitationStatus moves a pending invitation addressed to requesterEmail
// into a terminal state. Accepting assigns the invitee's membership in the
// same transaction.
func (s *PostgresStore) SetInvitationStatus(ctx context.Context, id int64, requesterEmail string, status InvitationStatus) (Invitation, error) {
	if status != InvitationAccepted && status != InvitationRejected {
		return Invitation{}, ErrInvalidStatus
	}

	var inv Invitation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+invitationColumns+`
			FROM invitations i JOIN organizations o ON o.id = i.organization_id
			WHERE i.id = $1
			FOR UPDATE OF i
		`, id)
		var err error
		inv, err = scanInvitation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock invitation: %w", err)
		}
		if normalizeEmail(inv.InvitedEmail) != normalizeEmail(requesterEmail) || inv.Status != InvitationPending {
			return ErrForbidden
		}

		if status == InvitationAccepted {
			if !inv.ExpiresAt.After(time.Now()) {
				return ErrInvitationExpired
			}
			var (
				uid     string
				current sql.NullInt64
			)
			err := tx.QueryRowContext(ctx, `
				SELECT uid, organization_id FROM users WHERE LOWER(email) = $1 FOR UPDATE
			`, normalizeEmail(requesterEmail)).Scan(&uid, &current)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("lock invitee: %w", err)
			}
			if current.Valid {
				return ErrAlreadyMember
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE users SET organization_id = $1, role = $2, updated_at = NOW() WHERE uid = $3
			`, inv.OrganizationID, inv.Role, uid); err != nil {
				return fmt.Errorf("assign membership: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE invitations SET status = $1, decided_at = NOW() WHERE id = $2
		`, status, id); err != nil {
			return fmt.Errorf("update invitation status: %w", err)
		}
		inv.Status = status
		return nil
	})
	if err != nil {
		return Invitation{}, err
	}
	return inv, nil
}
