package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domainerrors "circulate/contexts/identity-access/admin-access-authority/domain/errors"
	"circulate/contexts/identity-access/admin-access-authority/ports"
)

// Store is the in-memory grant store used by tests and local development.
type Store struct {
	mu     sync.RWMutex
	grants map[string]ports.Grant
}

func NewStore() *Store {
	return &Store{
		grants: make(map[string]ports.Grant),
	}
}

func (s *Store) GetGrant(_ context.Context, adminEmail string) (ports.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[normalizeEmail(adminEmail)]
	if !ok {
		return ports.Grant{}, domainerrors.ErrAdminNotFound
	}
	return grant, nil
}

func (s *Store) CreateGrant(_ context.Context, grant ports.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(grant.AdminEmail)
	if email == "" {
		return domainerrors.ErrInvalidInput
	}
	if _, exists := s.grants[email]; exists {
		return domainerrors.ErrAlreadyGranted
	}
	grant.AdminEmail = email
	s.grants[email] = grant
	return nil
}

// BootstrapGrant inserts the very first grant. The emptiness check and the
// insert run under one lock, so only one of any set of concurrent callers
// succeeds.
func (s *Store) BootstrapGrant(_ context.Context, grant ports.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(grant.AdminEmail)
	if email == "" {
		return domainerrors.ErrInvalidInput
	}
	if len(s.grants) > 0 {
		return domainerrors.ErrInvalidOperation
	}
	grant.AdminEmail = email
	s.grants[email] = grant
	return nil
}

// TransitionGrant overwrites the record only when its current status is one
// of the permitted source states.
func (s *Store) TransitionGrant(_ context.Context, grant ports.Grant, from ...ports.GrantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(grant.AdminEmail)
	existing, ok := s.grants[email]
	if !ok {
		return domainerrors.ErrAdminNotFound
	}
	allowed := false
	for _, status := range from {
		if existing.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domainerrors.ErrInvalidTransition
	}
	grant.AdminEmail = email
	s.grants[email] = grant
	return nil
}

func (s *Store) ListGrants(_ context.Context) ([]ports.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]ports.Grant, 0, len(s.grants))
	for _, grant := range s.grants {
		items = append(items, grant)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].AdminEmail < items[j].AdminEmail
	})
	return items, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	_ ports.GrantStore = (*Store)(nil)
	_ ports.Clock      = (*Store)(nil)
)
