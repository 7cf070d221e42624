package ports

import (
	"context"
	"time"

	contractsv1 "circulate/contracts/gen/events/v1"
	"circulate/internal/shared/identity"
)

// Borrowing is one loan of one book copy to one patron. Records are
// append-only: the single permitted mutation sets ReturnedAt exactly once.
type Borrowing struct {
	BorrowingID string
	BookID      string
	PatronID    string
	BorrowedAt  time.Time
	DueAt       time.Time
	ReturnedAt  *time.Time
}

// Open reports whether the copy is still out on loan.
func (b Borrowing) Open() bool {
	return b.ReturnedAt == nil
}

// LoanStatus is derived from a Borrowing and a point in time; it is never
// stored. Once the loan is returned the fine is frozen at ReturnedAt.
type LoanStatus struct {
	BorrowingID string
	IsOverdue   bool
	DaysOverdue int
	FineAmount  float64
}

// BookProjection is the ledger's read view of a catalog book. The catalog
// service owns book records; the ledger only adjusts available_copies inside
// its atomic borrow/return units.
type BookProjection struct {
	BookID          string
	Title           string
	TotalCopies     int
	AvailableCopies int
}

// BorrowRequest carries everything the store needs to execute the atomic
// decrement-and-insert. SingleLoanPerBook enforces the duplicate-loan policy
// inside the same unit of work as the availability check.
type BorrowRequest struct {
	BorrowingID       string
	BookID            string
	PatronID          string
	BorrowedAt        time.Time
	DueAt             time.Time
	SingleLoanPerBook bool
}

type ListFilter struct {
	BookID    string
	PatronID  string
	OpenOnly  bool
	DueBefore *time.Time
}

// LoanStore is the ledger's atomic unit of work. BorrowBook and ReturnBook
// must make their copy-count adjustment and the borrowing write visible
// together or not at all, and must serialize concurrent attempts against the
// same book or borrowing.
type LoanStore interface {
	BorrowBook(ctx context.Context, request BorrowRequest) (Borrowing, error)
	ReturnBook(ctx context.Context, borrowingID string, returnedAt time.Time) (Borrowing, error)
	GetBorrowing(ctx context.Context, borrowingID string) (Borrowing, error)
	GetBook(ctx context.Context, bookID string) (BookProjection, error)
	ListOpenByPatron(ctx context.Context, patronID string) ([]Borrowing, error)
	ListBorrowings(ctx context.Context, filter ListFilter) ([]Borrowing, error)
}

// CapabilityChecker gates administrative entry points. Implemented by the
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

type EventEnvelope = contractsv1.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

// EventDedupStore keeps derived events (overdue notices) exactly-once across
// repeated worker scans.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}
