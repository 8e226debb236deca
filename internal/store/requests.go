package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const joinRequestColumns = `r.id, r.organization_id, o.name, r.requested_by, r.message, r.status,
	r.created_at, r.decided_by, r.decided_at`

func scanJoinRequest(row interface{ Scan(...any) error }) (JoinRequest, error) {
	var (
		req       JoinRequest
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.OrganizationID, &req.OrganizationName, &req.RequestedBy, &req.Message,
		&req.Status, &req.CreatedAt, &decidedBy, &decidedAt)
	if err != nil {
		return JoinRequest{}, err
	}
	req.DecidedBy = nullableString(decidedBy)
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	return req, nil
}

func (s *PostgresStore) queryJoinRequests(ctx context.Context, where string, args ...any) ([]JoinRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+joinRequestColumns+`
		FROM join_requests r JOIN organizations o ON o.id = r.organization_id
		WHERE `+where+`
		ORDER BY r.created_at, r.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	defer rows.Close()

	requests := make([]JoinRequest, 0)
	for rows.Next() {
		req, err := scanJoinRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan join request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (s *PostgresStore) ListPendingJoinRequestsForUser(ctx context.Context, uid string) ([]JoinRequest, error) {
	return s.queryJoinRequests(ctx, `r.requested_by = $1 AND r.status = 'pending'`, uid)
}

func (s *PostgresStore) ListPendingJoinRequestsForOrganization(ctx context.Context, organizationID int64) ([]JoinRequest, error) {
	return s.queryJoinRequests(ctx, `r.organization_id = $1 AND r.status = 'pending'`, organizationID)
}

// CreateJoinRequest records a pending request from a user without an
// organization.
func (s *PostgresStore) CreateJoinRequest(ctx context.Context, uid string, organizationID int64, message string) (JoinRequest, error) {
	var req JoinRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT organization_id FROM users WHERE uid = $1 FOR UPDATE`, uid).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock requester: %w", err)
		}
		if current.Valid {
			return ErrAlreadyMember
		}

		if err := tx.QueryRowContext(ctx, `SELECT name FROM organizations WHERE id = $1`, organizationID).Scan(&req.OrganizationName); errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		} else if err != nil {
			return fmt.Errorf("lookup organization: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO join_requests (organization_id, requested_by, message)
			VALUES ($1, $2, $3)
			RETURNING id, organization_id, requested_by, message, status, created_at
		`, organizationID, uid, strings.TrimSpace(message)).
			Scan(&req.ID, &req.OrganizationID, &req.RequestedBy, &req.Message, &req.Status, &req.CreatedAt)
		if isConstraintViolation(err, pgUniqueViolation, "join_requests_pending_key") {
			return ErrDuplicateRequest
		}
		if err != nil {
			return fmt.Errorf("insert join request: %w", err)
		}
		return nil
	})
	if err != nil {
		return JoinRequest{}, err
	}
	return req, nil
}

// DecideJoinRequest approves or rejects a pending request addressed to
// organizationID. Approval assigns the requester as a member in the same
// transaction.
func (s *PostgresStore) DecideJoinRequest(ctx context.Context, id, organizationID int64, deciderUID string, approve bool) (JoinRequest, error) {
	var req JoinRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+joinRequestColumns+`
			FROM join_requests r JOIN organizations o ON o.id = r.organization_id
			WHERE r.id = $1
			FOR UPDATE OF r
		`, id)
		var err error
		req, err = scanJoinRequest(row)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && req.OrganizationID != organizationID) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock join request: %w", err)
		}
		if req.Status != JoinRequestPending {
			return ErrForbidden
		}

		status := JoinRequestRejected
		if approve {
			status = JoinRequestApproved
			var current sql.NullInt64
			err := tx.QueryRowContext(ctx, `SELECT organization_id FROM users WHERE uid = $1 FOR UPDATE`, req.RequestedBy).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("lock requester: %w", err)
			}
			if current.Valid {
				return ErrAlreadyMember
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE users SET organization_id = $1, role = 'member', updated_at = NOW() WHERE uid = $2
			`, organizationID, req.RequestedBy); err != nil {
				return fmt.Errorf("assign membership: %w", err)
			}
		}

		if err := tx.QueryRowContext(ctx, `
			UPDATE join_requests SET status = $1, decided_by = $2, decided_at = NOW()
			WHERE id = $3
			RETURNING decided_at
		`, status, deciderUID, id).Scan(&req.DecidedAt); err != nil {
			return fmt.Errorf("update join request: %w", err)
		}
		req.Status = status
		decider := deciderUID
		req.DecidedBy = &decider
		return nil
	})
	if err != nil {
		return JoinRequest{}, err
	}
	return req, nil
}
