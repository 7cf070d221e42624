package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	domainerrors "circulate/contexts/circulation/catalog-service/domain/errors"
	"circulate/contexts/circulation/catalog-service/ports"
	"circulate/internal/shared/identity"
)

// Service implements catalog management: book creation, reads, and
// copy-count adjustments. Every mutation is gated by the administrative
// capability check; AvailableCopies is otherwise only written by the ledger.
type Service struct {
	Books  ports.BookStore
	Access ports.CapabilityChecker
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func (s Service) CreateBook(
	ctx context.Context,
	admin identity.Principal,
	input ports.CreateBookInput,
) (ports.Book, error) {
	if err := s.ensureCapability(ctx, admin); err != nil {
		return ports.Book{}, err
	}
	if !isValidCreateInput(input) {
		return ports.Book{}, domainerrors.ErrInvalidInput
	}

	bookID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return ports.Book{}, err
	}
	now := s.now()
	book := ports.Book{
		BookID:          strings.TrimSpace(bookID),
		Title:           strings.TrimSpace(input.Title),
		Author:          strings.TrimSpace(input.Author),
		ISBN:            strings.TrimSpace(input.ISBN),
		TotalCopies:     input.TotalCopies,
		AvailableCopies: input.TotalCopies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Books.CreateBook(ctx, book); err != nil {
		return ports.Book{}, err
	}

	resolveLogger(s.Logger).Info("book added to catalog",
		"event", "catalog_book_created",
		"module", "circulation/catalog-service",
		"layer", "application",
		"book_id", book.BookID,
		"isbn", book.ISBN,
		"total_copies", book.TotalCopies,
	)
	return book, nil
}

func (s Service) GetBook(ctx context.Context, bookID string) (ports.Book, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return ports.Book{}, domainerrors.ErrInvalidInput
	}
	return s.Books.GetBook(ctx, bookID)
}

func (s Service) ListBooks(ctx context.Context) ([]ports.Book, error) {
	return s.Books.ListBooks(ctx)
}

// AdjustTotalCopies grows or shrinks the inventory for a book. Increases move
// TotalCopies and AvailableCopies together; decreases are refused when they
// would shrink inventory below the number of copies currently on loan.
func (s Service) AdjustTotalCopies(
	ctx context.Context,
	admin identity.Principal,
	bookID string,
	delta int,
) (ports.Book, error) {
	if err := s.ensureCapability(ctx, admin); err != nil {
		return ports.Book{}, err
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" || delta == 0 {
		return ports.Book{}, domainerrors.ErrInvalidInput
	}

	book, err := s.Books.AdjustCopies(ctx, bookID, delta, s.now())
	if err != nil {
		return ports.Book{}, err
	}

	resolveLogger(s.Logger).Info("catalog inventory adjusted",
		"event", "catalog_copies_adjusted",
		"module", "circulation/catalog-service",
		"layer", "application",
		"book_id", book.BookID,
		"delta", delta,
		"total_copies", book.TotalCopies,
		"available_copies", book.AvailableCopies,
	)
	return book, nil
}

// RemoveBook deletes a title. Refused while any copy is out on loan.
func (s Service) RemoveBook(ctx context.Context, admin identity.Principal, bookID string) error {
	if err := s.ensureCapability(ctx, admin); err != nil {
		return err
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domainerrors.ErrInvalidInput
	}
	if err := s.Books.RemoveBook(ctx, bookID); err != nil {
		return err
	}

	resolveLogger(s.Logger).Info("book removed from catalog",
		"event", "catalog_book_removed",
		"module", "circulation/catalog-service",
		"layer", "application",
		"book_id", bookID,
	)
	return nil
}

func (s Service) ensureCapability(ctx context.Context, principal identity.Principal) error {
	ok, err := s.Access.CheckCapability(ctx, principal, s.now())
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

func isValidCreateInput(input ports.CreateBookInput) bool {
	return strings.TrimSpace(input.Title) != "" &&
		strings.TrimSpace(input.Author) != "" &&
		strings.TrimSpace(input.ISBN) != "" &&
		input.TotalCopies >= 0
}
