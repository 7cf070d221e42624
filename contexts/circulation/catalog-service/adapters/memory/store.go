package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domainerrors "circulate/contexts/circulation/catalog-service/domain/errors"
	"circulate/contexts/circulation/catalog-service/ports"

	"github.com/google/uuid"
)

// Store is the in-memory book store used by tests and local development.
type Store struct {
	mu sync.RWMutex

	books  map[string]ports.Book
	byISBN map[string]string
}

func NewStore() *Store {
	return &Store{
		books:  make(map[string]ports.Book),
		byISBN: make(map[string]string),
	}
}

func (s *Store) CreateBook(_ context.Context, book ports.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(book.BookID)
	isbn := strings.TrimSpace(book.ISBN)
	if id == "" || isbn == "" {
		return domainerrors.ErrInvalidInput
	}
	if _, exists := s.books[id]; exists {
		return domainerrors.ErrInvalidOperation
	}
	if _, exists := s.byISBN[isbn]; exists {
		return domainerrors.ErrDuplicateISBN
	}
	s.books[id] = book
	s.byISBN[isbn] = id
	return nil
}

func (s *Store) GetBook(_ context.Context, bookID string) (ports.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[strings.TrimSpace(bookID)]
	if !ok {
		return ports.Book{}, domainerrors.ErrBookNotFound
	}
	return book, nil
}

func (s *Store) ListBooks(_ context.Context) ([]ports.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]ports.Book, 0, len(s.books))
	for _, book := range s.books {
		items = append(items, book)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Title < items[j].Title
	})
	return items, nil
}

func (s *Store) AdjustCopies(_ context.Context, bookID string, delta int, updatedAt time.Time) (ports.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[strings.TrimSpace(bookID)]
	if !ok {
		return ports.Book{}, domainerrors.ErrBookNotFound
	}
	if book.TotalCopies+delta < 0 || book.AvailableCopies+delta < 0 {
		return ports.Book{}, domainerrors.ErrInvalidOperation
	}
	book.TotalCopies += delta
	book.AvailableCopies += delta
	book.UpdatedAt = updatedAt.UTC()
	s.books[book.BookID] = book
	return book, nil
}

func (s *Store) RemoveBook(_ context.Context, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[strings.TrimSpace(bookID)]
	if !ok {
		return domainerrors.ErrBookNotFound
	}
	// AvailableCopies < TotalCopies means open borrowings still reference
	// the book.
	if book.AvailableCopies < book.TotalCopies {
		return domainerrors.ErrInvalidOperation
	}
	delete(s.books, book.BookID)
	delete(s.byISBN, book.ISBN)
	return nil
}

// SetAvailable overrides the available count; test setup only, standing in
// for the ledger's decrement.
func (s *Store) SetAvailable(bookID string, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[strings.TrimSpace(bookID)]
	if !ok {
		return
	}
	book.AvailableCopies = available
	s.books[book.BookID] = book
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.BookStore = (*Store)(nil)
