package ports

import (
	"context"
	"time"

	"circulate/internal/shared/identity"
)

type GrantStatus string

const (
	GrantStatusPending     GrantStatus = "pending"
	GrantStatusActive      GrantStatus = "active"
	GrantStatusDeactivated GrantStatus = "deactivated"
)

// Grant is the single administrative access record for one principal, keyed
// by email. Transitions overwrite the record in place; grants are never
// deleted.
type Grant struct {
	AdminEmail string
	Status     GrantStatus
	GrantedBy  string
	GrantedAt  time.Time
	ExpiresAt  *time.Time
}

// Active reports whether the grant confers capability at the given instant.
func (g Grant) Active(now time.Time) bool {
	if g.Status != GrantStatusActive {
		return false
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return false
	}
	return true
}

// GrantStore persists admin access grants. Every write is a single atomic
// operation: CreateGrant inserts and fails on a duplicate email,
// BootstrapGrant inserts only while no grant exists at all, and
// TransitionGrant overwrites the record only when its current status is one
// of the permitted source states. Concurrent callers of the same operation
// see exactly one winner.
type GrantStore interface {
	GetGrant(ctx context.Context, adminEmail string) (Grant, error)
	CreateGrant(ctx context.Context, grant Grant) error
	BootstrapGrant(ctx context.Context, grant Grant) error
	TransitionGrant(ctx context.Context, grant Grant, from ...GrantStatus) error
	ListGrants(ctx context.Context) ([]Grant, error)
}

type Clock interface {
	Now() time.Time
}

// CapabilityChecker is the shape the circulation modules consume; the
// authority's application service satisfies it structurally.
type CapabilityChecker interface {
	CheckCapability(ctx context.Context, principal identity.Principal, now time.Time) (bool, error)
}
