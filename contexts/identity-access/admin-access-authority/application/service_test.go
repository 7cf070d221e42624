package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"circulate/contexts/identity-access/admin-access-authority/adapters/memory"
	domainerrors "circulate/contexts/identity-access/admin-access-authority/domain/errors"
	"circulate/contexts/identity-access/admin-access-authority/ports"
	"circulate/internal/shared/identity"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestService() (Service, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return Service{
		Grants: memory.NewStore(),
		Clock:  clock,
	}, clock
}

func bootstrapRoot(t *testing.T, service Service) identity.Principal {
	t.Helper()
	grant, err := service.Bootstrap(context.Background(), "root@example.com")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if grant.GrantedBy != SystemGrantor {
		t.Fatalf("expected SYSTEM grantor, got %s", grant.GrantedBy)
	}
	return identity.Principal{ID: "root", Email: "root@example.com", Role: identity.RoleAdmin}
}

func TestBootstrapOnlyOnce(t *testing.T) {
	service, _ := newTestService()
	bootstrapRoot(t, service)

	if _, err := service.Bootstrap(context.Background(), "other@example.com"); !errors.Is(err, domainerrors.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation for a second bootstrap, got %v", err)
	}
}

func TestPromoteActivateDeactivateLifecycle(t *testing.T) {
	service, _ := newTestService()
	root := bootstrapRoot(t, service)

	grant, err := service.Promote(context.Background(), root, "new-admin@example.com")
	if err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	if grant.Status != ports.GrantStatusPending {
		t.Fatalf("expected pending status after promote, got %s", grant.Status)
	}

	// A pending grant confers no capability.
	pending := identity.Principal{ID: "u2", Email: "new-admin@example.com", Role: identity.RoleAdmin}
	ok, err := service.CheckCapability(context.Background(), pending, time.Time{})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if ok {
		t.Fatalf("pending grant must not confer capability")
	}

	if _, err := service.Promote(context.Background(), root, "new-admin@example.com"); !errors.Is(err, domainerrors.ErrAlreadyGranted) {
		t.Fatalf("expected ErrAlreadyGranted on a repeated promote, got %v", err)
	}

	grant, err = service.Activate(context.Background(), root, "new-admin@example.com", nil)
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if grant.Status != ports.GrantStatusActive {
		t.Fatalf("expected active status, got %s", grant.Status)
	}
	ok, _ = service.CheckCapability(context.Background(), pending, time.Time{})
	if !ok {
		t.Fatalf("active grant must confer capability")
	}

	if _, err := service.Activate(context.Background(), root, "new-admin@example.com", nil); !errors.Is(err, domainerrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition activating an active grant, got %v", err)
	}

	grant, err = service.Deactivate(context.Background(), root, "new-admin@example.com")
	if err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if grant.Status != ports.GrantStatusDeactivated {
		t.Fatalf("expected deactivated status, got %s", grant.Status)
	}
	ok, _ = service.CheckCapability(context.Background(), pending, time.Time{})
	if ok {
		t.Fatalf("deactivated grant must not confer capability")
	}

	if _, err := service.Deactivate(context.Background(), root, "new-admin@example.com"); !errors.Is(err, domainerrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition deactivating a non-active grant, got %v", err)
	}

	// Re-activation from deactivated is a legal edge.
	if _, err := service.Activate(context.Background(), root, "new-admin@example.com", nil); err != nil {
		t.Fatalf("re-activate failed: %v", err)
	}
}

func TestTransitionsRequireActiveCaller(t *testing.T) {
	service, _ := newTestService()
	bootstrapRoot(t, service)

	patron := identity.Principal{ID: "p1", Email: "patron@example.com", Role: identity.RolePatron}
	if _, err := service.Promote(context.Background(), patron, "x@example.com"); !errors.Is(err, domainerrors.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for a patron caller, got %v", err)
	}

	stranger := identity.Principal{ID: "s1", Email: "stranger@example.com", Role: identity.RoleAdmin}
	if _, err := service.Activate(context.Background(), stranger, "x@example.com", nil); !errors.Is(err, domainerrors.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for an ungranted admin, got %v", err)
	}
}

func TestGrantExpiry(t *testing.T) {
	service, clock := newTestService()
	root := bootstrapRoot(t, service)

	if _, err := service.Promote(context.Background(), root, "temp@example.com"); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	expires := clock.now.Add(24 * time.Hour)
	if _, err := service.Activate(context.Background(), root, "temp@example.com", &expires); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	temp := identity.Principal{ID: "t1", Email: "temp@example.com", Role: identity.RoleAdmin}
	ok, _ := service.CheckCapability(context.Background(), temp, time.Time{})
	if !ok {
		t.Fatalf("grant must be usable before expiry")
	}

	clock.now = clock.now.Add(25 * time.Hour)
	ok, _ = service.CheckCapability(context.Background(), temp, time.Time{})
	if ok {
		t.Fatalf("grant must lapse after expiry")
	}

	// An expiry in the past is rejected up front.
	stale := clock.now.Add(-time.Hour)
	if _, err := service.Promote(context.Background(), root, "other@example.com"); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	if _, err := service.Activate(context.Background(), root, "other@example.com", &stale); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a past expiry, got %v", err)
	}
}

func TestCheckCapabilityEdgeCases(t *testing.T) {
	service, _ := newTestService()

	// No grants at all: plain false, not an error.
	nobody := identity.Principal{ID: "n1", Email: "nobody@example.com", Role: identity.RoleAdmin}
	ok, err := service.CheckCapability(context.Background(), nobody, time.Time{})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if ok {
		t.Fatalf("missing grant must not confer capability")
	}

	bootstrapRoot(t, service)

	// The PATRON role never passes, even with an active grant on record.
	patron := identity.Principal{ID: "p1", Email: "root@example.com", Role: identity.RolePatron}
	ok, _ = service.CheckCapability(context.Background(), patron, time.Time{})
	if ok {
		t.Fatalf("patron role must not confer capability")
	}
}

func TestListAdmins(t *testing.T) {
	service, _ := newTestService()
	root := bootstrapRoot(t, service)

	if _, err := service.Promote(context.Background(), root, "b@example.com"); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	grants, err := service.ListAdmins(context.Background(), root)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}

	patron := identity.Principal{ID: "p1", Email: "p@example.com", Role: identity.RolePatron}
	if _, err := service.ListAdmins(context.Background(), patron); !errors.Is(err, domainerrors.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}
