package ports

import (
	"context"
	"time"

	"circulate/internal/shared/identity"
)

// Book is a catalog title and its lendable copies. AvailableCopies always
// equals TotalCopies minus the number of open borrowings; the lending ledger
// is the only other writer of AvailableCopies.
type Book struct {
	BookID          string
	Title           string
	Author          string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateBookInput struct {
	Title       string
	Author      string
	ISBN        string
	TotalCopies int
}

// BookStore owns book records. AdjustCopies must refuse, atomically, any
// decrease that would push AvailableCopies below zero; RemoveBook must refuse
// while open borrowings reference the book (AvailableCopies < TotalCopies).
type BookStore interface {
	CreateBook(ctx context.Context, book Book) error
	GetBook(ctx context.Context, bookID string) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	AdjustCopies(ctx context.Context, bookID string, delta int, updatedAt time.Time) (Book, error)
	RemoveBook(ctx context.Context, bookID string) error
}

// CapabilityChecker gates catalog mutation entry points. Implemented by the
// admin-access-authority module.
type CapabilityChecker interface {
	CheckCapability(ctx context.Context, principal identity.Principal, now time.Time) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
