package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testMigrationsDir = filepath.Join("..", "..", "db", "migrations")

// openTestStore returns a store over a freshly migrated schema, or skips when
// no test database is configured.
func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ORDERDESK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("ORDERDESK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, testMigrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	downs, err := ListMigrations(migrationsDir, "down")
	if err != nil {
		return err
	}
	for _, file := range downs {
		sqlBytes, err := os.ReadFile(file.Path)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("%s: %w", file.Path, err)
		}
	}
	return nil
}

func mustCreateUser(t *testing.T, ctx context.Context, s *PostgresStore, uid, email string) User {
	t.Helper()
	user, err := s.CreateUser(ctx, User{UID: uid, Email: email, DisplayName: uid})
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", uid, err)
	}
	return user
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	s, ctx := openTestStore(t)

	if err := applyDownMigrations(ctx, s.DB(), testMigrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	applied, err := ApplyMigrations(ctx, s.DB(), testMigrationsDir)
	if err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("expected all 3 migrations re-applied, got %v", applied)
	}
	again, err := ApplyMigrations(ctx, s.DB(), testMigrationsDir)
	if err != nil {
		t.Fatalf("apply up migrations (pass 3): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no-op on migrated schema, got %v", again)
	}
}

func TestCreateOrganizationMakesCreatorSoleAdmin(t *testing.T) {
	s, ctx := openTestStore(t)
	mustCreateUser(t, ctx, s, "u-founder", "founder@example.com")

	org, err := s.CreateOrganization(ctx, "u-founder", NewOrganization{Name: "Acme Logística"})
	if err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	if org.Slug != "acme-logistica" {
		t.Fatalf("expected generated slug acme-logistica, got %q", org.Slug)
	}

	m, err := s.GetMembership(ctx, "u-founder")
	if err != nil {
		t.Fatalf("GetMembership() error = %v", err)
	}
	if m.OrganizationID != org.ID || m.Role != "admin" {
		t.Fatalf("unexpected membership: %+v", m)
	}
	members, err := s.ListMembers(ctx, org.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected a sole member, got %d", len(members))
	}

	if _, err := s.CreateOrganization(ctx, "u-founder", NewOrganization{Name: "Second"}); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}

	mustCreateUser(t, ctx, s, "u-other", "other@example.com")
	if _, err := s.CreateOrganization(ctx, "u-other", NewOrganization{Name: "Acme", Slug: "acme-logistica"}); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
	if _, err := s.GetMembership(ctx, "u-other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed create must not leave a membership, got %v", err)
	}
}

func TestAcceptInvitationAssignsMembership(t *testing.T) {
	s, ctx := openTestStore(t)
	mustCreateUser(t, ctx, s, "u-admin", "admin@example.com")
	mustCreateUser(t, ctx, s, "u-invitee", "Invitee@Example.com")
	org, err := s.CreateOrganization(ctx, "u-admin", NewOrganization{Name: "Org 42"})
	if err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}

	inv, err := s.CreateInvitation(ctx, NewInvitation{
		OrganizationID: org.ID,
		InvitedEmail:   "invitee@example.com",
		InviterUID:     "u-admin",
		InviterEmail:   "admin@example.com",
		Role:           "manager",
		Token:          "tok-1",
		ExpiresAt:      time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}
	if inv.OrganizationName != "Org 42" || inv.Status != InvitationPending {
		t.Fatalf("unexpected invitation: %+v", inv)
	}

	pending, err := s.ListPendingInvitationsForEmail(ctx, "INVITEE@example.com")
	if err != nil {
		t.Fatalf("ListPendingInvitationsForEmail() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != inv.ID {
		t.Fatalf("unexpected pending invitations: %+v", pending)
	}

	if _, err := s.SetInvitationStatus(ctx, inv.ID, "intruder@example.com", InvitationAccepted); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign email, got %v", err)
	}
	if _, err := s.SetInvitationStatus(ctx, inv.ID+1000, "invitee@example.com", InvitationAccepted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	accepted, err := s.SetInvitationStatus(ctx, inv.ID, "invitee@example.com", InvitationAccepted)
	if err != nil {
		t.Fatalf("SetInvitationStatus() error = %v", err)
	}
	if accepted.Status != InvitationAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	m, err := s.GetMembership(ctx, "u-invitee")
	if err != nil {
		t.Fatalf("GetMembership() error = %v", err)
	}
	if m.OrganizationID != org.ID || m.Role != "manager" {
		t.Fatalf("unexpected membership: %+v", m)
	}

	if _, err := s.SetInvitationStatus(ctx, inv.ID, "invitee@example.com", InvitationRejected); !errors.Is(err, ErrForbidden) {
		t.Fatalf("terminal invitation must be forbidden, got %v", err)
	}
}

func TestCreateOrganizationLeavesStaleInvitationPending(t *testing.T) {
	s, ctx := openTestStore(t)
	mustCreateUser(t, ctx, s, "u-admin", "admin@example.com")
	mustCreateUser(t, ctx, s, "u-user", "user@example.com")
	other, err := s.CreateOrganization(ctx, "u-admin", NewOrganization{Name: "Other"})
	if err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	if _, err := s.CreateInvitation(ctx, NewInvitation{
		OrganizationID: other.ID, InvitedEmail: "user@example.com", InviterUID: "u-admin",
		InviterEmail: "admin@example.com", Role: "member", Token: "tok-stale", ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}

	acme, err := s.CreateOrganization(ctx, "u-user", NewOrganization{Name: "Acme"})
	if err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	user, err := s.GetUser(ctx, "u-user")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.OrganizationID == nil || *user.OrganizationID != acme.ID {
		t.Fatalf("expected membership in acme, got %v", user.OrganizationID)
	}
	pending, err := s.ListPendingInvitationsForEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("ListPendingInvitationsForEmail() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("stale invitation must stay pending, got %d", len(pending))
	}
}

func TestJoinRequestLifecycle(t *testing.T) {
	s, ctx := openTestStore(t)
	mustCreateUser(t, ctx, s, "u-admin", "admin@example.com")
	mustCreateUser(t, ctx, s, "u-joiner", "joiner@example.com")
	org, err := s.CreateOrganization(ctx, "u-admin", NewOrganization{Name: "Couriers Inc"})
	if err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}

	if _, err := s.CreateJoinRequest(ctx, "u-admin", org.ID, "self"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember for a member, got %v", err)
	}

	req, err := s.CreateJoinRequest(ctx, "u-joiner", org.ID, "  let me in ")
	if err != nil {
		t.Fatalf("CreateJoinRequest() error = %v", err)
	}
	if req.OrganizationName != "Couriers Inc" || req.Message != "let me in" {
		t.Fatalf("unexpected join request: %+v", req)
	}
	if _, err := s.CreateJoinRequest(ctx, "u-joiner", org.ID, "again"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	pending, err := s.ListPendingJoinRequestsForUser(ctx, "u-joiner")
	if err != nil {
		t.Fatalf("ListPendingJoinRequestsForUser() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending))
	}

	if _, err := s.DecideJoinRequest(ctx, req.ID, org.ID+1, "u-admin", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("request of another org must be not found, got %v", err)
	}
	decided, err := s.DecideJoinRequest(ctx, req.ID, org.ID, "u-admin", true)
	if err != nil {
		t.Fatalf("DecideJoinRequest() error = %v", err)
	}
	if decided.Status != JoinRequestApproved || decided.DecidedBy == nil || decided.DecidedAt == nil {
		t.Fatalf("unexpected decided request: %+v", decided)
	}
	m, err := s.GetMembership(ctx, "u-joiner")
	if err != nil {
		t.Fatalf("GetMembership() error = %v", err)
	}
	if m.OrganizationID != org.ID || m.Role != "member" {
		t.Fatalf("unexpected membership: %+v", m)
	}
}

func TestCreateOrderReservesStock(t *testing.T) {
	s, ctx := openTestStore(t)
	mustCreateUser(t, ctx, s, "u-admin", "admin@example.com")
	org, err := s.CreateOrganization(ctx, "u-admin", NewOrganization{Name: "Shop"})
	if err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	client, err := s.CreateClient(ctx, Client{OrganizationID: org.ID, Name: "Bea"})
	if err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	product, err := s.CreateProduct(ctx, Product{OrganizationID: org.ID, Name: "Box", SKU: "BOX-1", PriceCents: 250, Stock: 5})
	if err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}

	order, err := s.CreateOrder(ctx, org.ID, NewOrder{
		ClientID:  client.ID,
		CreatedBy: "u-admin",
		Items:     []OrderItem{{ProductID: product.ID, Quantity: 2}, {ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if order.TotalCents != 750 || len(order.Items) != 1 || order.Items[0].Quantity != 3 {
		t.Fatalf("unexpected order: %+v", order)
	}

	if _, err := s.CreateOrder(ctx, org.ID, NewOrder{
		ClientID: client.ID, CreatedBy: "u-admin", Items: []OrderItem{{ProductID: product.ID, Quantity: 3}},
	}); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if _, err := s.UpdateOrderStatus(ctx, org.ID, order.ID, OrderDelivered); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.UpdateOrderStatus(ctx, org.ID, order.ID, OrderCancelled); err != nil {
		t.Fatalf("UpdateOrderStatus() error = %v", err)
	}
	restocked, err := s.GetProduct(ctx, org.ID, product.ID)
	if err != nil {
		t.Fatalf("GetProduct() error = %v", err)
	}
	if restocked.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", restocked.Stock)
	}
}
