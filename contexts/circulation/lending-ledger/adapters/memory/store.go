package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	domainerrors "circulate/contexts/circulation/lending-ledger/domain/errors"
	"circulate/contexts/circulation/lending-ledger/ports"

	"github.com/google/uuid"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Store is the in-memory loan store used by tests and local development.
// A single mutex is the atomic unit of work: every mutation holds it for the
// whole read-check-write sequence, so concurrent borrows against the last
// copy serialize exactly like the database transaction does.
type Store struct {
	mu sync.RWMutex

	books      map[string]ports.BookProjection
	borrowings map[string]ports.Borrowing
	outbox     map[string]outboxRecord
	eventDedup map[string]dedupRecord
}

type outboxRecord struct {
	Message     ports.OutboxMessage
	Status      string
	PublishedAt *time.Time
}

type dedupRecord struct {
	PayloadHash string
	ExpiresAt   time.Time
}

func NewStore() *Store {
	return &Store{
		books:      make(map[string]ports.BookProjection),
		borrowings: make(map[string]ports.Borrowing),
		outbox:     make(map[string]outboxRecord),
		eventDedup: make(map[string]dedupRecord),
	}
}

// SeedBook installs or replaces a catalog projection row. Test setup only.
func (s *Store) SeedBook(book ports.BookProjection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[strings.TrimSpace(book.BookID)] = book
}

// Book returns the current projection row, for invariant assertions in tests.
func (s *Store) Book(bookID string) (ports.BookProjection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[strings.TrimSpace(bookID)]
	return book, ok
}

func (s *Store) BorrowBook(_ context.Context, request ports.BorrowRequest) (ports.Borrowing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(request.BorrowingID)
	if id == "" {
		return ports.Borrowing{}, domainerrors.ErrInvalidInput
	}
	book, ok := s.books[strings.TrimSpace(request.BookID)]
	if !ok {
		return ports.Borrowing{}, domainerrors.ErrBookNotFound
	}
	if request.SingleLoanPerBook {
		for _, item := range s.borrowings {
			if item.BookID == request.BookID && item.PatronID == request.PatronID && item.Open() {
				return ports.Borrowing{}, domainerrors.ErrAlreadyBorrowed
			}
		}
	}
	if book.AvailableCopies < 1 {
		return ports.Borrowing{}, domainerrors.ErrBookUnavailable
	}

	book.AvailableCopies--
	s.books[book.BookID] = book

	borrowing := ports.Borrowing{
		BorrowingID: id,
		BookID:      strings.TrimSpace(request.BookID),
		PatronID:    strings.TrimSpace(request.PatronID),
		BorrowedAt:  request.BorrowedAt.UTC(),
		DueAt:       request.DueAt.UTC(),
	}
	s.borrowings[id] = borrowing
	return borrowing, nil
}

func (s *Store) ReturnBook(_ context.Context, borrowingID string, returnedAt time.Time) (ports.Borrowing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	borrowing, ok := s.borrowings[strings.TrimSpace(borrowingID)]
	if !ok {
		return ports.Borrowing{}, domainerrors.ErrBorrowingNotFound
	}
	if borrowing.ReturnedAt != nil {
		return ports.Borrowing{}, domainerrors.ErrAlreadyReturned
	}

	ts := returnedAt.UTC()
	borrowing.ReturnedAt = &ts
	s.borrowings[borrowing.BorrowingID] = borrowing

	if book, ok := s.books[borrowing.BookID]; ok && book.AvailableCopies < book.TotalCopies {
		book.AvailableCopies++
		s.books[book.BookID] = book
	}
	return borrowing, nil
}

func (s *Store) GetBorrowing(_ context.Context, borrowingID string) (ports.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	borrowing, ok := s.borrowings[strings.TrimSpace(borrowingID)]
	if !ok {
		return ports.Borrowing{}, domainerrors.ErrBorrowingNotFound
	}
	return borrowing, nil
}

func (s *Store) GetBook(_ context.Context, bookID string) (ports.BookProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[strings.TrimSpace(bookID)]
	if !ok {
		return ports.BookProjection{}, domainerrors.ErrBookNotFound
	}
	return book, nil
}

func (s *Store) ListOpenByPatron(_ context.Context, patronID string) ([]ports.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]ports.Borrowing, 0)
	for _, item := range s.borrowings {
		if item.PatronID == strings.TrimSpace(patronID) && item.Open() {
			items = append(items, item)
		}
	}
	sortByBorrowedAt(items)
	return items, nil
}

func (s *Store) ListBorrowings(_ context.Context, filter ports.ListFilter) ([]ports.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]ports.Borrowing, 0)
	for _, item := range s.borrowings {
		if filter.BookID != "" && item.BookID != strings.TrimSpace(filter.BookID) {
			continue
		}
		if filter.PatronID != "" && item.PatronID != strings.TrimSpace(filter.PatronID) {
			continue
		}
		if filter.OpenOnly && !item.Open() {
			continue
		}
		if filter.DueBefore != nil && !item.DueAt.Before(filter.DueBefore.UTC()) {
			continue
		}
		items = append(items, item)
	}
	sortByBorrowedAt(items)
	return items, nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		return domainerrors.ErrInvalidInput
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.Message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	s.outbox[outboxID] = outboxRecord{
		Message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAt.UTC(),
		},
		Status: outboxStatusPending,
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0)
	for _, row := range s.outbox {
		if row.Status == outboxStatusPending {
			items = append(items, row.Message)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrBorrowingNotFound
	}
	ts := publishedAt.UTC()
	row.Status = outboxStatusPublished
	row.PublishedAt = &ts
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(_ context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	if key == "" {
		return false, domainerrors.ErrInvalidInput
	}
	if existing, ok := s.eventDedup[key]; ok {
		if existing.PayloadHash != payloadHash {
			return false, domainerrors.ErrConflict
		}
		return true, nil
	}
	s.eventDedup[key] = dedupRecord{
		PayloadHash: payloadHash,
		ExpiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func sortByBorrowedAt(items []ports.Borrowing) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].BorrowedAt.Equal(items[j].BorrowedAt) {
			return items[i].BorrowingID < items[j].BorrowingID
		}
		return items[i].BorrowedAt.After(items[j].BorrowedAt)
	})
}

var _ ports.LoanStore = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.EventDedupStore = (*Store)(nil)
