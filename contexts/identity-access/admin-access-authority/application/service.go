package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainerrors "circulate/contexts/identity-access/admin-access-authority/domain/errors"
	"circulate/contexts/identity-access/admin-access-authority/ports"
	"circulate/internal/shared/identity"
)

// SystemGrantor marks grants issued by the bootstrap path rather than a
// named administrator.
const SystemGrantor = "SYSTEM"

// Service owns the admin access grant lifecycle. Each principal has at most
// one grant record; Promote creates it pending, Activate and Deactivate move
// it between active and deactivated, and CheckCapability is the read side the
// other circulation modules gate on.
type Service struct {
	Grants ports.GrantStore
	Clock  ports.Clock
	Logger *slog.Logger
}

// Promote creates a pending grant for the given email. The caller must hold
// active capability. A principal that already has a grant in any status is
// not promoted again.
func (s Service) Promote(ctx context.Context, by identity.Principal, email string) (ports.Grant, error) {
	if err := s.ensureActive(ctx, by); err != nil {
		return ports.Grant{}, err
	}
	email = normalizeEmail(email)
	if email == "" {
		return ports.Grant{}, domainerrors.ErrInvalidInput
	}

	grant := ports.Grant{
		AdminEmail: email,
		Status:     ports.GrantStatusPending,
		GrantedBy:  normalizeEmail(by.Email),
		GrantedAt:  s.now(),
	}
	if err := s.Grants.CreateGrant(ctx, grant); err != nil {
		return ports.Grant{}, err
	}

	s.logTransition("admin_promoted", grant)
	return grant, nil
}

// Activate moves a pending or deactivated grant to active, optionally with an
// expiry. Activating an already-active grant is refused.
func (s Service) Activate(
	ctx context.Context,
	by identity.Principal,
	email string,
	expiresAt *time.Time,
) (ports.Grant, error) {
	if err := s.ensureActive(ctx, by); err != nil {
		return ports.Grant{}, err
	}
	email = normalizeEmail(email)
	if email == "" {
		return ports.Grant{}, domainerrors.ErrInvalidInput
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return ports.Grant{}, domainerrors.ErrInvalidInput
	}

	grant := ports.Grant{
		AdminEmail: email,
		Status:     ports.GrantStatusActive,
		GrantedBy:  normalizeEmail(by.Email),
		GrantedAt:  s.now(),
		ExpiresAt:  expiresAt,
	}
	// The store applies the transition only from a permitted source status,
	// so concurrent activations get exactly one winner.
	err := s.Grants.TransitionGrant(ctx, grant, ports.GrantStatusPending, ports.GrantStatusDeactivated)
	if err != nil {
		return ports.Grant{}, err
	}

	s.logTransition("admin_activated", grant)
	return grant, nil
}

// Deactivate moves an active grant to deactivated. Any other starting status
// is refused.
func (s Service) Deactivate(ctx context.Context, by identity.Principal, email string) (ports.Grant, error) {
	if err := s.ensureActive(ctx, by); err != nil {
		return ports.Grant{}, err
	}
	email = normalizeEmail(email)
	if email == "" {
		return ports.Grant{}, domainerrors.ErrInvalidInput
	}

	grant := ports.Grant{
		AdminEmail: email,
		Status:     ports.GrantStatusDeactivated,
		GrantedBy:  normalizeEmail(by.Email),
		GrantedAt:  s.now(),
	}
	if err := s.Grants.TransitionGrant(ctx, grant, ports.GrantStatusActive); err != nil {
		return ports.Grant{}, err
	}

	s.logTransition("admin_deactivated", grant)
	return grant, nil
}

// Bootstrap creates the first active grant with GrantedBy SYSTEM. Refused
// once any grant exists, in any status.
func (s Service) Bootstrap(ctx context.Context, email string) (ports.Grant, error) {
	email = normalizeEmail(email)
	if email == "" {
		return ports.Grant{}, domainerrors.ErrInvalidInput
	}

	grant := ports.Grant{
		AdminEmail: email,
		Status:     ports.GrantStatusActive,
		GrantedBy:  SystemGrantor,
		GrantedAt:  s.now(),
	}
	if err := s.Grants.BootstrapGrant(ctx, grant); err != nil {
		return ports.Grant{}, err
	}

	s.logTransition("admin_bootstrapped", grant)
	return grant, nil
}

// CheckCapability reports whether the principal holds active administrative
// capability at the given instant. A missing grant is a plain false, not an
// error.
func (s Service) CheckCapability(
	ctx context.Context,
	principal identity.Principal,
	now time.Time,
) (bool, error) {
	if principal.Role != identity.RoleAdmin {
		return false, nil
	}
	email := normalizeEmail(principal.Email)
	if email == "" {
		return false, nil
	}

	grant, err := s.Grants.GetGrant(ctx, email)
	if err != nil {
		if errors.Is(err, domainerrors.ErrAdminNotFound) {
			return false, nil
		}
		return false, err
	}
	if now.IsZero() {
		now = s.now()
	}
	return grant.Active(now), nil
}

// ListAdmins returns every grant record. Admin-gated.
func (s Service) ListAdmins(ctx context.Context, by identity.Principal) ([]ports.Grant, error) {
	if err := s.ensureActive(ctx, by); err != nil {
		return nil, err
	}
	return s.Grants.ListGrants(ctx)
}

func (s Service) ensureActive(ctx context.Context, principal identity.Principal) error {
	ok, err := s.CheckCapability(ctx, principal, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return domainerrors.ErrAccessDenied
	}
	return nil
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s Service) logTransition(event string, grant ports.Grant) {
	resolveLogger(s.Logger).Info("admin access grant updated",
		"event", event,
		"module", "identity-access/admin-access-authority",
		"layer", "application",
		"admin_email", grant.AdminEmail,
		"status", string(grant.Status),
		"granted_by", grant.GrantedBy,
	)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
