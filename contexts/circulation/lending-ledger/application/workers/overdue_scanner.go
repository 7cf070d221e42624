package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"circulate/contexts/circulation/lending-ledger/application"
	"circulate/contexts/circulation/lending-ledger/ports"
)

// OverdueScanner periodically sweeps open borrowings past their due date and
// appends a `loan.overdue` notice to the outbox. The dedup store keys the
// notice by borrowing id, so repeated sweeps of the same overdue loan emit
// exactly one event.
type OverdueScanner struct {
	Loans    ports.LoanStore
	Outbox   ports.OutboxWriter
	Dedup    ports.EventDedupStore
	Clock    ports.Clock
	DedupTTL time.Duration
	Logger   *slog.Logger
}

func (s OverdueScanner) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	overdue, err := s.Loans.ListBorrowings(ctx, ports.ListFilter{
		OpenOnly:  true,
		DueBefore: &now,
	})
	if err != nil {
		logger.Error("overdue scan failed",
			"event", "overdue_scan_failed",
			"module", "circulation/lending-ledger",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	for _, borrowing := range overdue {
		eventID := "overdue:" + strings.TrimSpace(borrowing.BorrowingID)
		payloadHash := hashOverduePayload(borrowing)

		if s.Dedup != nil {
			alreadyEmitted, err := s.Dedup.ReserveEvent(ctx, eventID, payloadHash, now.Add(s.dedupTTL()))
			if err != nil {
				return err
			}
			if alreadyEmitted {
				continue
			}
		}

		data, err := json.Marshal(map[string]any{
			"borrowing_id": borrowing.BorrowingID,
			"book_id":      borrowing.BookID,
			"patron_id":    borrowing.PatronID,
			"due_at":       borrowing.DueAt.UTC().Format(time.RFC3339),
			"detected_at":  now.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := s.Outbox.AppendOutbox(ctx, ports.EventEnvelope{
			EventID:          eventID,
			EventType:        "loan.overdue",
			OccurredAt:       now,
			SourceService:    "lending-ledger",
			TraceID:          eventID,
			SchemaVersion:    1,
			PartitionKeyPath: "book_id",
			PartitionKey:     borrowing.BookID,
			Data:             data,
		}); err != nil {
			return err
		}

		logger.Info("overdue loan detected",
			"event", "loan_overdue_detected",
			"module", "circulation/lending-ledger",
			"layer", "worker",
			"borrowing_id", borrowing.BorrowingID,
			"book_id", borrowing.BookID,
			"patron_id", borrowing.PatronID,
		)
	}
	return nil
}

func (s OverdueScanner) dedupTTL() time.Duration {
	if s.DedupTTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.DedupTTL
}

func hashOverduePayload(borrowing ports.Borrowing) string {
	raw, _ := json.Marshal(map[string]any{
		"borrowing_id": strings.TrimSpace(borrowing.BorrowingID),
		"book_id":      strings.TrimSpace(borrowing.BookID),
		"patron_id":    strings.TrimSpace(borrowing.PatronID),
		"due_at":       borrowing.DueAt.UTC().Format(time.RFC3339Nano),
	})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
