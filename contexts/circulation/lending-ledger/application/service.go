package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	domainerrors "circulate/contexts/circulation/lending-ledger/domain/errors"
	"circulate/contexts/circulation/lending-ledger/ports"
	"circulate/internal/shared/identity"
)

const sourceService = "lending-ledger"

// Service implements the lending ledger use cases: the borrow/return
// lifecycle, time-derived overdue/fine status, and the loan queries.
// All mutations go through the LoanStore's atomic unit of work; the service
// never touches copy counts directly.
type Service struct {
	Loans  ports.LoanStore
	Access ports.CapabilityChecker
	Outbox ports.OutboxWriter
	Clock  ports.Clock
	IDGen  ports.IDGenerator

	LoanPeriod               time.Duration
	DailyFine                float64
	SingleLoanPerBook        bool
	DisableLoanEventEmission bool
	Logger                   *slog.Logger
}

// Borrow lends one copy of the book to the calling patron. The decrement of
// available copies and the borrowing insert commit together or not at all.
func (s Service) Borrow(ctx context.Context, patron identity.Principal, bookID string) (ports.Borrowing, error) {
	return s.borrow(ctx, strings.TrimSpace(patron.ID), bookID)
}

// BorrowFor lends a copy on behalf of a patron. Requires active
// administrative capability.
func (s Service) BorrowFor(
	ctx context.Context,
	admin identity.Principal,
	patronID string,
	bookID string,
) (ports.Borrowing, error) {
	if err := s.ensureCapability(ctx, admin); err != nil {
		return ports.Borrowing{}, err
	}
	return s.borrow(ctx, strings.TrimSpace(patronID), bookID)
}

func (s Service) borrow(ctx context.Context, patronID string, bookID string) (ports.Borrowing, error) {
	bookID = strings.TrimSpace(bookID)
	if patronID == "" || bookID == "" {
		return ports.Borrowing{}, domainerrors.ErrInvalidInput
	}

	borrowingID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return ports.Borrowing{}, err
	}

	now := s.now()
	borrowing, err := s.Loans.BorrowBook(ctx, ports.BorrowRequest{
		BorrowingID:       strings.TrimSpace(borrowingID),
		BookID:            bookID,
		PatronID:          patronID,
		BorrowedAt:        now,
		DueAt:             now.Add(s.loanPeriod()),
		SingleLoanPerBook: s.SingleLoanPerBook,
	})
	if err != nil {
		return ports.Borrowing{}, err
	}

	// The loan is committed at this point; a failed event append is logged,
	// not surfaced to the caller.
	if err := s.appendLoanEvent(ctx, "loan.borrowed", borrowing); err != nil {
		s.logEventAppendFailure("loan.borrowed", borrowing, err)
	}

	ResolveLogger(s.Logger).Info("book copy borrowed",
		"event", "loan_borrowed",
		"module", "circulation/lending-ledger",
		"layer", "application",
		"borrowing_id", borrowing.BorrowingID,
		"book_id", borrowing.BookID,
		"patron_id", borrowing.PatronID,
		"due_at", borrowing.DueAt.UTC().Format(time.RFC3339),
	)
	return borrowing, nil
}

// Return closes an open borrowing and releases the copy back to the catalog.
// Patrons may only return their own loans; active administrators may return
// any loan. The returned LoanStatus carries the frozen fine.
func (s Service) Return(
	ctx context.Context,
	caller identity.Principal,
	borrowingID string,
) (ports.Borrowing, ports.LoanStatus, error) {
	borrowingID = strings.TrimSpace(borrowingID)
	if borrowingID == "" {
		return ports.Borrowing{}, ports.LoanStatus{}, domainerrors.ErrInvalidInput
	}

	existing, err := s.Loans.GetBorrowing(ctx, borrowingID)
	if err != nil {
		return ports.Borrowing{}, ports.LoanStatus{}, err
	}
	if existing.PatronID != strings.TrimSpace(caller.ID) {
		if err := s.ensureCapability(ctx, caller); err != nil {
			return ports.Borrowing{}, ports.LoanStatus{}, err
		}
	}

	borrowing, err := s.Loans.ReturnBook(ctx, borrowingID, s.now())
	if err != nil {
		return ports.Borrowing{}, ports.LoanStatus{}, err
	}
	status := s.statusOf(borrowing, s.now())

	if err := s.appendLoanEvent(ctx, "loan.returned", borrowing); err != nil {
		s.logEventAppendFailure("loan.returned", borrowing, err)
	}

	ResolveLogger(s.Logger).Info("book copy returned",
		"event", "loan_returned",
		"module", "circulation/lending-ledger",
		"layer", "application",
		"borrowing_id", borrowing.BorrowingID,
		"book_id", borrowing.BookID,
		"patron_id", borrowing.PatronID,
		"fine_amount", status.FineAmount,
	)
	return borrowing, status, nil
}

// Status derives overdue/fine state for a borrowing at the given instant.
// Pure over stored fields and `at`; a zero `at` means the current clock time.
// Once the loan is returned, ReturnedAt is the fixed point and the result no
// longer depends on `at`.
func (s Service) Status(ctx context.Context, borrowingID string, at time.Time) (ports.LoanStatus, error) {
	borrowingID = strings.TrimSpace(borrowingID)
	if borrowingID == "" {
		return ports.LoanStatus{}, domainerrors.ErrInvalidInput
	}
	borrowing, err := s.Loans.GetBorrowing(ctx, borrowingID)
	if err != nil {
		return ports.LoanStatus{}, err
	}
	if at.IsZero() {
		at = s.now()
	}
	return s.statusOf(borrowing, at), nil
}

func (s Service) ListOpenForPatron(ctx context.Context, patronID string) ([]ports.Borrowing, error) {
	patronID = strings.TrimSpace(patronID)
	if patronID == "" {
		return nil, domainerrors.ErrInvalidInput
	}
	return s.Loans.ListOpenByPatron(ctx, patronID)
}

// ListAll is the administrative ledger view; gated by the capability check.
func (s Service) ListAll(
	ctx context.Context,
	admin identity.Principal,
	filter ports.ListFilter,
) ([]ports.Borrowing, error) {
	if err := s.ensureCapability(ctx, admin); err != nil {
		return nil, err
	}
	return s.Loans.ListBorrowings(ctx, filter)
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

func (s Service) statusOf(borrowing ports.Borrowing, at time.Time) ports.LoanStatus {
	point := at.UTC()
	if borrowing.ReturnedAt != nil {
		point = borrowing.ReturnedAt.UTC()
	}
	days := daysPastDue(borrowing.DueAt, point)
	return ports.LoanStatus{
		BorrowingID: borrowing.BorrowingID,
		IsOverdue:   borrowing.ReturnedAt == nil && days > 0,
		DaysOverdue: days,
		FineAmount:  float64(days) * s.dailyFine(),
	}
}

// daysPastDue counts whole calendar days strictly past the due instant,
// rounding a partial day up: a copy one hour late owes one day.
func daysPastDue(dueAt time.Time, point time.Time) int {
	if !point.After(dueAt) {
		return 0
	}
	return int(math.Ceil(point.Sub(dueAt).Hours() / 24))
}

func (s Service) appendLoanEvent(ctx context.Context, eventType string, borrowing ports.Borrowing) error {
	if s.Outbox == nil || s.DisableLoanEventEmission {
		return nil
	}
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"borrowing_id": borrowing.BorrowingID,
		"book_id":      borrowing.BookID,
		"patron_id":    borrowing.PatronID,
		"borrowed_at":  borrowing.BorrowedAt.UTC().Format(time.RFC3339),
		"due_at":       borrowing.DueAt.UTC().Format(time.RFC3339),
	}
	if borrowing.ReturnedAt != nil {
		payload["returned_at"] = borrowing.ReturnedAt.UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.Outbox.AppendOutbox(ctx, ports.EventEnvelope{
		EventID:          strings.TrimSpace(eventID),
		EventType:        eventType,
		OccurredAt:       s.now(),
		SourceService:    sourceService,
		TraceID:          strings.TrimSpace(eventID),
		SchemaVersion:    1,
		PartitionKeyPath: "book_id",
		PartitionKey:     borrowing.BookID,
		Data:             data,
	})
}

func (s Service) logEventAppendFailure(eventType string, borrowing ports.Borrowing, err error) {
	ResolveLogger(s.Logger).Error("loan event append failed",
		"event", "loan_event_append_failed",
		"module", "circulation/lending-ledger",
		"layer", "application",
		"event_type", eventType,
		"borrowing_id", borrowing.BorrowingID,
		"book_id", borrowing.BookID,
		"error", err.Error(),
	)
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s Service) loanPeriod() time.Duration {
	if s.LoanPeriod <= 0 {
		return 14 * 24 * time.Hour
	}
	return s.LoanPeriod
}

// dailyFine clamps negatives; a configured zero means a fine-free library.
// The $1/day default lives at the config layer, not here.
func (s Service) dailyFine() float64 {
	if s.DailyFine < 0 {
		return 0
	}
	return s.DailyFine
}
