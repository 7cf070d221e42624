package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domainerrors "circulate/contexts/identity-access/admin-access-authority/domain/errors"
	"circulate/contexts/identity-access/admin-access-authority/ports"
)

func TestConcurrentBootstrapSingleWinner(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- store.BootstrapGrant(context.Background(), ports.Grant{
				AdminEmail: fmt.Sprintf("root-%d@example.com", i),
				Status:     ports.GrantStatusActive,
				GrantedBy:  "SYSTEM",
				GrantedAt:  now,
			})
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, domainerrors.ErrInvalidOperation) {
			t.Fatalf("unexpected bootstrap error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one bootstrap to win, got %d", succeeded)
	}

	grants, err := store.ListGrants(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected a single grant on record, got %d", len(grants))
	}
}

func TestConcurrentActivateSingleWinner(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := store.CreateGrant(context.Background(), ports.Grant{
		AdminEmail: "new-admin@example.com",
		Status:     ports.GrantStatusPending,
		GrantedBy:  "root@example.com",
		GrantedAt:  now,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.TransitionGrant(context.Background(), ports.Grant{
				AdminEmail: "new-admin@example.com",
				Status:     ports.GrantStatusActive,
				GrantedBy:  "root@example.com",
				GrantedAt:  now,
			}, ports.GrantStatusPending, ports.GrantStatusDeactivated)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, domainerrors.ErrInvalidTransition) {
			t.Fatalf("unexpected transition error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one activation to win, got %d", succeeded)
	}

	grant, err := store.GetGrant(context.Background(), "new-admin@example.com")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if grant.Status != ports.GrantStatusActive {
		t.Fatalf("expected active grant, got %s", grant.Status)
	}
}

func TestConcurrentPromoteSingleWinner(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	const attempts = 4
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.CreateGrant(context.Background(), ports.Grant{
				AdminEmail: "new-admin@example.com",
				Status:     ports.GrantStatusPending,
				GrantedBy:  "root@example.com",
				GrantedAt:  now,
			})
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, domainerrors.ErrAlreadyGranted) {
			t.Fatalf("unexpected create error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one create to win, got %d", succeeded)
	}
}

func TestTransitionMissingGrant(t *testing.T) {
	store := NewStore()

	err := store.TransitionGrant(context.Background(), ports.Grant{
		AdminEmail: "ghost@example.com",
		Status:     ports.GrantStatusActive,
	}, ports.GrantStatusPending)
	if !errors.Is(err, domainerrors.ErrAdminNotFound) {
		t.Fatalf("expected ErrAdminNotFound, got %v", err)
	}
}
