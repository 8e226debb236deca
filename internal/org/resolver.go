package org

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderdesk/api/internal/auth"
	"orderdesk/api/internal/metrics"
	"orderdesk/api/internal/store"
)

// ErrUserNotFound means the identity has no application user record. It is
// not an onboarding state.
var ErrUserNotFound = errors.New("user record not found")

// ResolutionError wraps any lookup failure other than a missing user.
type ResolutionError struct {
	Op  string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not determine organization status (%s): %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Repository is the read side the resolver needs from storage.
type Repository interface {
	GetUser(ctx context.Context, uid string) (store.User, error)
	GetOrganization(ctx context.Context, id int64) (store.Organization, error)
	ListPendingInvitationsForEmail(ctx context.Context, email string) ([]store.Invitation, error)
	ListPendingJoinRequestsForUser(ctx context.Context, uid string) ([]store.JoinRequest, error)
}

type Resolver struct {
	repo    Repository
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewResolver(repo Repository, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		repo:    repo,
		logger:  logger.Named("org"),
		metrics: m,
		tracer:  otel.Tracer("orderdesk/api/internal/org"),
		now:     time.Now,
	}
}

// Resolve reads the authoritative membership of identity. Claims embedded in
// the token are ignored; the user record decides.
func (r *Resolver) Resolve(ctx context.Context, identity auth.Identity) (Status, error) {
	ctx, span := r.tracer.Start(ctx, "org.Resolve", trace.WithAttributes(attribute.String("user.uid", identity.UID)))
	defer span.End()

	started := r.now()
	status, err := r.resolve(ctx, identity)
	outcome := outcomeLabel(status, err)
	r.metrics.ObserveResolution(outcome, r.now().Sub(started).Seconds())
	span.SetAttributes(attribute.String("org.status", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrUserNotFound) {
			r.logger.Error("authenticated identity has no user record",
				zap.String("uid", identity.UID), zap.String("email", identity.Email), zap.Error(err))
		} else {
			r.logger.Warn("organization status resolution failed", zap.String("uid", identity.UID), zap.Error(err))
		}
		return Status{}, err
	}
	return status, nil
}

func (r *Resolver) resolve(ctx context.Context, identity auth.Identity) (Status, error) {
	user, err := r.repo.GetUser(ctx, identity.UID)
	if errors.Is(err, store.ErrNotFound) {
		return Status{}, ErrUserNotFound
	}
	if err != nil {
		return Status{}, &ResolutionError{Op: "load user", Err: err}
	}

	if user.OrganizationID != nil {
		org, err := r.repo.GetOrganization(ctx, *user.OrganizationID)
		if errors.Is(err, store.ErrNotFound) {
			return Status{}, &ResolutionError{
				Op:  "load organization",
				Err: fmt.Errorf("user references missing organization %d", *user.OrganizationID),
			}
		}
		if err != nil {
			return Status{}, &ResolutionError{Op: "load organization", Err: err}
		}
		return WithOrganization(user, org), nil
	}

	email := identity.Email
	if email == "" {
		email = user.Email
	}

	var (
		invitations []store.Invitation
		requests    []store.JoinRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := r.repo.ListPendingInvitationsForEmail(gctx, auth.NormalizeEmail(email))
		if err != nil {
			return &ResolutionError{Op: "list invitations", Err: err}
		}
		invitations = list
		return nil
	})
	g.Go(func() error {
		list, err := r.repo.ListPendingJoinRequestsForUser(gctx, identity.UID)
		if err != nil {
			return &ResolutionError{Op: "list join requests", Err: err}
		}
		requests = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return Status{}, err
	}

	return Classify(user, nil, invitations, requests), nil
}

func outcomeLabel(status Status, err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case err != nil:
		return "error"
	}
	switch status.Kind {
	case HasOrganization:
		return "has_organization"
	case PendingInvitation:
		return "pending_invitation"
	case PendingRequest:
		return "pending_request"
	default:
		return "no_organization"
	}
}
