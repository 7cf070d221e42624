package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"circulate/contexts/circulation/lending-ledger/adapters/memory"
	domainerrors "circulate/contexts/circulation/lending-ledger/domain/errors"
	"circulate/contexts/circulation/lending-ledger/ports"
	"circulate/internal/shared/identity"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type capabilityStub struct {
	allow bool
}

func (c capabilityStub) CheckCapability(context.Context, identity.Principal, time.Time) (bool, error) {
	return c.allow, nil
}

type seqIDGen struct {
	next int
}

func (g *seqIDGen) NewID(context.Context) (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

func newTestService(store *memory.Store, clock *fakeClock, allowAdmin bool) Service {
	return Service{
		Loans:             store,
		Access:            capabilityStub{allow: allowAdmin},
		Outbox:            store,
		Clock:             clock,
		IDGen:             &seqIDGen{},
		LoanPeriod:        14 * 24 * time.Hour,
		DailyFine:         1,
		SingleLoanPerBook: true,
	}
}

func seedBook(store *memory.Store, bookID string, copies int) {
	store.SeedBook(ports.BookProjection{
		BookID:          bookID,
		Title:           "The Go Programming Language",
		TotalCopies:     copies,
		AvailableCopies: copies,
	})
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	seedBook(store, "book-1", 2)

	patron := identity.Principal{ID: "patron-1", Role: identity.RolePatron}
	borrowing, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if got := borrowing.DueAt.Sub(borrowing.BorrowedAt); got != 14*24*time.Hour {
		t.Fatalf("expected 14 day loan period, got %s", got)
	}

	book, _ := store.Book("book-1")
	if book.AvailableCopies != 1 {
		t.Fatalf("expected 1 available copy after borrow, got %d", book.AvailableCopies)
	}

	clock.Advance(48 * time.Hour)
	returned, status, err := service.Return(context.Background(), patron, borrowing.BorrowingID)
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if returned.ReturnedAt == nil {
		t.Fatalf("expected returned_at to be set")
	}
	if status.IsOverdue || status.FineAmount != 0 {
		t.Fatalf("expected no fine for an on-time return, got %+v", status)
	}

	book, _ = store.Book("book-1")
	if book.AvailableCopies != 2 {
		t.Fatalf("expected availability restored to 2, got %d", book.AvailableCopies)
	}
}

func TestBorrowUnavailableBook(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	seedBook(store, "book-1", 1)

	if _, err := service.Borrow(context.Background(), identity.Principal{ID: "patron-1"}, "book-1"); err != nil {
		t.Fatalf("first borrow failed: %v", err)
	}
	_, err := service.Borrow(context.Background(), identity.Principal{ID: "patron-2"}, "book-1")
	if !errors.Is(err, domainerrors.ErrBookUnavailable) {
		t.Fatalf("expected ErrBookUnavailable, got %v", err)
	}

	_, err = service.Borrow(context.Background(), identity.Principal{ID: "patron-1"}, "missing-book")
	if !errors.Is(err, domainerrors.ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}

func TestDuplicateLoanGuard(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	seedBook(store, "book-1", 5)

	patron := identity.Principal{ID: "patron-1"}
	first, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, err := service.Borrow(context.Background(), patron, "book-1"); !errors.Is(err, domainerrors.ErrAlreadyBorrowed) {
		t.Fatalf("expected ErrAlreadyBorrowed for a second open loan, got %v", err)
	}

	// After returning, the same patron may borrow the book again.
	if _, _, err := service.Return(context.Background(), patron, first.BorrowingID); err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if _, err := service.Borrow(context.Background(), patron, "book-1"); err != nil {
		t.Fatalf("re-borrow after return failed: %v", err)
	}

	// Guard off: parallel open loans for the same title are allowed.
	service.SingleLoanPerBook = false
	if _, err := service.Borrow(context.Background(), patron, "book-1"); err != nil {
		t.Fatalf("borrow with guard disabled failed: %v", err)
	}
}

func TestDoubleReturnSingleIncrement(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	seedBook(store, "book-1", 1)

	patron := identity.Principal{ID: "patron-1"}
	borrowing, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, _, err := service.Return(context.Background(), patron, borrowing.BorrowingID); err != nil {
		t.Fatalf("first return failed: %v", err)
	}
	if _, _, err := service.Return(context.Background(), patron, borrowing.BorrowingID); !errors.Is(err, domainerrors.ErrAlreadyReturned) {
		t.Fatalf("expected ErrAlreadyReturned, got %v", err)
	}

	book, _ := store.Book("book-1")
	if book.AvailableCopies != 1 {
		t.Fatalf("expected exactly one increment, got %d available", book.AvailableCopies)
	}
}

func TestOverdueFineCalculation(t *testing.T) {
	store := memory.NewStore()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	service := newTestService(store, clock, false)
	seedBook(store, "book-1", 1)

	patron := identity.Principal{ID: "patron-1"}
	borrowing, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	// Due at day 14; six days past due at day 20.
	clock.Advance(20 * 24 * time.Hour)
	status, err := service.Status(context.Background(), borrowing.BorrowingID, time.Time{})
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.IsOverdue || status.DaysOverdue != 6 {
		t.Fatalf("expected 6 days overdue, got %+v", status)
	}
	if status.FineAmount != 6 {
		t.Fatalf("expected $6 fine, got %f", status.FineAmount)
	}

	// A partial day past due rounds up to a full day.
	partial, err := service.Status(context.Background(), borrowing.BorrowingID, start.Add(14*24*time.Hour+time.Hour))
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if partial.DaysOverdue != 1 || partial.FineAmount != 1 {
		t.Fatalf("expected one day fine for a one hour late copy, got %+v", partial)
	}

	// Exactly at the due instant there is no fine.
	atDue, err := service.Status(context.Background(), borrowing.BorrowingID, start.Add(14*24*time.Hour))
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if atDue.IsOverdue || atDue.FineAmount != 0 {
		t.Fatalf("expected no fine exactly at the due instant, got %+v", atDue)
	}
}

func TestFineFrozenAfterReturn(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	seedBook(store, "book-1", 1)

	patron := identity.Principal{ID: "patron-1"}
	borrowing, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	clock.Advance(20 * 24 * time.Hour)
	_, atReturn, err := service.Return(context.Background(), patron, borrowing.BorrowingID)
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if atReturn.DaysOverdue != 6 || atReturn.FineAmount != 6 {
		t.Fatalf("expected frozen fine of $6, got %+v", atReturn)
	}

	// Status no longer moves with the query instant once returned.
	clock.Advance(30 * 24 * time.Hour)
	later, err := service.Status(context.Background(), borrowing.BorrowingID, clock.Now())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if later.DaysOverdue != 6 || later.FineAmount != 6 {
		t.Fatalf("expected fine frozen at return time, got %+v", later)
	}
	if later.IsOverdue {
		t.Fatalf("a returned loan is not overdue")
	}
}

func TestBorrowForRequiresCapability(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	seedBook(store, "book-1", 1)

	admin := identity.Principal{ID: "admin-1", Email: "admin@example.com", Role: identity.RoleAdmin}

	denied := newTestService(store, clock, false)
	if _, err := denied.BorrowFor(context.Background(), admin, "patron-1", "book-1"); !errors.Is(err, domainerrors.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied without capability, got %v", err)
	}

	allowed := newTestService(store, clock, true)
	borrowing, err := allowed.BorrowFor(context.Background(), admin, "patron-1", "book-1")
	if err != nil {
		t.Fatalf("admin borrow failed: %v", err)
	}
	if borrowing.PatronID != "patron-1" {
		t.Fatalf("expected loan recorded for the patron, got %s", borrowing.PatronID)
	}
}

func TestAdminReturnsAnotherPatronsLoan(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, true)
	seedBook(store, "book-1", 1)

	patron := identity.Principal{ID: "patron-1"}
	borrowing, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	admin := identity.Principal{ID: "admin-1", Role: identity.RoleAdmin}
	if _, _, err := service.Return(context.Background(), admin, borrowing.BorrowingID); err != nil {
		t.Fatalf("admin return failed: %v", err)
	}
}

func TestPatronCannotReturnForeignLoan(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	seedBook(store, "book-1", 1)

	borrowing, err := service.Borrow(context.Background(), identity.Principal{ID: "patron-1"}, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	_, _, err = service.Return(context.Background(), identity.Principal{ID: "patron-2"}, borrowing.BorrowingID)
	if !errors.Is(err, domainerrors.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for a foreign return, got %v", err)
	}
}

func TestListOperations(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	seedBook(store, "book-1", 3)
	seedBook(store, "book-2", 3)

	patron := identity.Principal{ID: "patron-1"}
	first, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := service.Borrow(context.Background(), patron, "book-2"); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, err := service.Borrow(context.Background(), identity.Principal{ID: "patron-2"}, "book-1"); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	open, err := service.ListOpenForPatron(context.Background(), "patron-1")
	if err != nil {
		t.Fatalf("list open failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open loans for patron-1, got %d", len(open))
	}

	if _, _, err := service.Return(context.Background(), patron, first.BorrowingID); err != nil {
		t.Fatalf("return failed: %v", err)
	}
	open, err = service.ListOpenForPatron(context.Background(), "patron-1")
	if err != nil {
		t.Fatalf("list open failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open loan after return, got %d", len(open))
	}

	// The full ledger view is admin-gated.
	admin := identity.Principal{ID: "admin-1", Role: identity.RoleAdmin}
	all, err := service.ListAll(context.Background(), admin, ports.ListFilter{})
	if err == nil {
		t.Fatalf("expected denial without capability, got %d rows", len(all))
	}

	gated := newTestService(store, clock, true)
	all, err = gated.ListAll(context.Background(), admin, ports.ListFilter{BookID: "book-1"})
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 loans for book-1, got %d", len(all))
	}
	openOnly, err := gated.ListAll(context.Background(), admin, ports.ListFilter{BookID: "book-1", OpenOnly: true})
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(openOnly) != 1 {
		t.Fatalf("expected 1 open loan for book-1, got %d", len(openOnly))
	}
}

func TestZeroDailyFineChargesNothing(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	service.DailyFine = 0
	seedBook(store, "book-1", 1)

	patron := identity.Principal{ID: "patron-1"}
	borrowing, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	clock.Advance(20 * 24 * time.Hour)
	status, err := service.Status(context.Background(), borrowing.BorrowingID, time.Time{})
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.IsOverdue || status.DaysOverdue != 6 {
		t.Fatalf("expected 6 days overdue, got %+v", status)
	}
	if status.FineAmount != 0 {
		t.Fatalf("a fine-free library must charge nothing, got %f", status.FineAmount)
	}
}

type failingOutbox struct{}

func (failingOutbox) AppendOutbox(context.Context, ports.EventEnvelope) error {
	return errors.New("outbox unavailable")
}

func TestBorrowReturnSucceedWhenOutboxAppendFails(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)
	service.Outbox = failingOutbox{}
	seedBook(store, "book-1", 1)

	patron := identity.Principal{ID: "patron-1"}
	borrowing, err := service.Borrow(context.Background(), patron, "book-1")
	if err != nil {
		t.Fatalf("borrow must succeed despite the failed event append: %v", err)
	}

	book, _ := store.Book("book-1")
	if book.AvailableCopies != 0 {
		t.Fatalf("expected the committed decrement to stand, got %d available", book.AvailableCopies)
	}

	returned, _, err := service.Return(context.Background(), patron, borrowing.BorrowingID)
	if err != nil {
		t.Fatalf("return must succeed despite the failed event append: %v", err)
	}
	if returned.ReturnedAt == nil {
		t.Fatalf("expected returned_at to be set")
	}
	book, _ = store.Book("book-1")
	if book.AvailableCopies != 1 {
		t.Fatalf("expected availability restored, got %d", book.AvailableCopies)
	}
}

func TestStatusMissingBorrowing(t *testing.T) {
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service := newTestService(store, clock, false)

	if _, err := service.Status(context.Background(), "missing", time.Time{}); !errors.Is(err, domainerrors.ErrBorrowingNotFound) {
		t.Fatalf("expected ErrBorrowingNotFound, got %v", err)
	}
	if _, err := service.Status(context.Background(), "  ", time.Time{}); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a blank id, got %v", err)
	}
}

func TestDaysPastDueRounding(t *testing.T) {
	due := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		point time.Time
		want  int
	}{
		{due.Add(-time.Hour), 0},
		{due, 0},
		{due.Add(time.Minute), 1},
		{due.Add(24 * time.Hour), 1},
		{due.Add(24*time.Hour + time.Second), 2},
		{due.Add(6 * 24 * time.Hour), 6},
	}
	for _, tc := range cases {
		if got := daysPastDue(due, tc.point); got != tc.want {
			t.Fatalf("daysPastDue(%s) = %d, want %d", tc.point.Sub(due), got, tc.want)
		}
	}
}
