package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainerrors "circulate/contexts/circulation/lending-ledger/domain/errors"
	"circulate/contexts/circulation/lending-ledger/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"

	// Retry budget for the whole borrow/return unit of work on transaction
	// contention. Exhaustion surfaces domainerrors.ErrConflict to the caller.
	conflictRetryAttempts = 3
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// BorrowBook executes the atomic borrow unit: a conditional decrement of
// available_copies guarded by `available_copies >= 1`, then the borrowing
// insert. The conditional UPDATE is the serialization point; two concurrent
// borrows of the last copy leave exactly one row updated.
func (r *Repository) BorrowBook(ctx context.Context, request ports.BorrowRequest) (ports.Borrowing, error) {
	var row borrowingModel
	err := r.withConflictRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var book bookModel
			if err := tx.Where("id = ?", strings.TrimSpace(request.BookID)).First(&book).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domainerrors.ErrBookNotFound
				}
				return err
			}

			if request.SingleLoanPerBook {
				var open int64
				err := tx.Model(&borrowingModel{}).
					Where("book_id = ?", strings.TrimSpace(request.BookID)).
					Where("patron_id = ?", strings.TrimSpace(request.PatronID)).
					Where("returned_at IS NULL").
					Count(&open).Error
				if err != nil {
					return err
				}
				if open > 0 {
					return domainerrors.ErrAlreadyBorrowed
				}
			}

			decrement := tx.Model(&bookModel{}).
				Where("id = ? AND available_copies >= 1", strings.TrimSpace(request.BookID)).
				UpdateColumn("available_copies", gorm.Expr("available_copies - 1"))
			if decrement.Error != nil {
				return decrement.Error
			}
			if decrement.RowsAffected == 0 {
				return domainerrors.ErrBookUnavailable
			}

			row = borrowingModelFromRequest(request)
			if err := tx.Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					// Partial unique index on (book_id, patron_id) where
					// returned_at IS NULL backs the duplicate-loan policy.
					return domainerrors.ErrAlreadyBorrowed
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		return ports.Borrowing{}, r.classify("ledger_repo_borrow_failed", err,
			"book_id", strings.TrimSpace(request.BookID),
			"patron_id", strings.TrimSpace(request.PatronID),
		)
	}
	return row.toEntity(), nil
}

// ReturnBook closes the borrowing and releases the copy. The conditional
// UPDATE on `returned_at IS NULL` is the idempotency guard: a second return
// of the same borrowing affects zero rows and never double-increments.
func (r *Repository) ReturnBook(ctx context.Context, borrowingID string, returnedAt time.Time) (ports.Borrowing, error) {
	var row borrowingModel
	err := r.withConflictRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("id = ?", strings.TrimSpace(borrowingID)).First(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domainerrors.ErrBorrowingNotFound
				}
				return err
			}

			settle := tx.Model(&borrowingModel{}).
				Where("id = ? AND returned_at IS NULL", strings.TrimSpace(borrowingID)).
				UpdateColumn("returned_at", returnedAt.UTC())
			if settle.Error != nil {
				return settle.Error
			}
			if settle.RowsAffected == 0 {
				return domainerrors.ErrAlreadyReturned
			}

			release := tx.Model(&bookModel{}).
				Where("id = ?", row.BookID).
				UpdateColumn("available_copies", gorm.Expr("LEAST(available_copies + 1, total_copies)"))
			if release.Error != nil {
				return release.Error
			}

			ts := returnedAt.UTC()
			row.ReturnedAt = &ts
			return nil
		})
	})
	if err != nil {
		return ports.Borrowing{}, r.classify("ledger_repo_return_failed", err,
			"borrowing_id", strings.TrimSpace(borrowingID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) GetBorrowing(ctx context.Context, borrowingID string) (ports.Borrowing, error) {
	var row borrowingModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(borrowingID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Borrowing{}, domainerrors.ErrBorrowingNotFound
		}
		return ports.Borrowing{}, r.logError("ledger_repo_get_borrowing_failed", err,
			"borrowing_id", strings.TrimSpace(borrowingID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) GetBook(ctx context.Context, bookID string) (ports.BookProjection, error) {
	var row bookModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(bookID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.BookProjection{}, domainerrors.ErrBookNotFound
		}
		return ports.BookProjection{}, r.logError("ledger_repo_get_book_failed", err,
			"book_id", strings.TrimSpace(bookID),
		)
	}
	return ports.BookProjection{
		BookID:          row.ID,
		Title:           row.Title,
		TotalCopies:     row.TotalCopies,
		AvailableCopies: row.AvailableCopies,
	}, nil
}

func (r *Repository) ListOpenByPatron(ctx context.Context, patronID string) ([]ports.Borrowing, error) {
	var rows []borrowingModel
	err := r.db.WithContext(ctx).
		Where("patron_id = ?", strings.TrimSpace(patronID)).
		Where("returned_at IS NULL").
		Order("borrowed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("ledger_repo_list_open_by_patron_failed", err,
			"patron_id", strings.TrimSpace(patronID),
		)
	}
	return toBorrowingEntities(rows), nil
}

func (r *Repository) ListBorrowings(ctx context.Context, filter ports.ListFilter) ([]ports.Borrowing, error) {
	tx := r.db.WithContext(ctx).Model(&borrowingModel{})
	if strings.TrimSpace(filter.BookID) != "" {
		tx = tx.Where("book_id = ?", strings.TrimSpace(filter.BookID))
	}
	if strings.TrimSpace(filter.PatronID) != "" {
		tx = tx.Where("patron_id = ?", strings.TrimSpace(filter.PatronID))
	}
	if filter.OpenOnly {
		tx = tx.Where("returned_at IS NULL")
	}
	if filter.DueBefore != nil {
		tx = tx.Where("due_at < ?", filter.DueBefore.UTC())
	}

	var rows []borrowingModel
	if err := tx.Order("borrowed_at DESC").Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_borrowings_failed", err,
			"book_id", strings.TrimSpace(filter.BookID),
			"patron_id", strings.TrimSpace(filter.PatronID),
		)
	}
	return toBorrowingEntities(rows), nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("ledger_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("ledger_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("ledger_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("ledger_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("ledger_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("ledger_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

// withConflictRetry re-runs the whole unit of work on serialization failures
// and deadlocks. Domain errors pass through untouched on the first occurrence.
func (r *Repository) withConflictRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < conflictRetryAttempts; attempt++ {
		err = op()
		if err == nil || !isRetryableConflict(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return domainerrors.ErrConflict
}

func (r *Repository) classify(event string, err error, attrs ...any) error {
	switch {
	case errors.Is(err, domainerrors.ErrBookNotFound),
		errors.Is(err, domainerrors.ErrBorrowingNotFound),
		errors.Is(err, domainerrors.ErrBookUnavailable),
		errors.Is(err, domainerrors.ErrAlreadyBorrowed),
		errors.Is(err, domainerrors.ErrAlreadyReturned),
		errors.Is(err, domainerrors.ErrConflict):
		return err
	default:
		return r.logError(event, err, attrs...)
	}
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "circulation/lending-ledger",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("lending repository operation failed", fields...)
	return err
}

type borrowingModel struct {
	ID         string     `gorm:"column:id;primaryKey"`
	BookID     string     `gorm:"column:book_id"`
	PatronID   string     `gorm:"column:patron_id"`
	BorrowedAt time.Time  `gorm:"column:borrowed_at"`
	DueAt      time.Time  `gorm:"column:due_at"`
	ReturnedAt *time.Time `gorm:"column:returned_at"`
}

func (borrowingModel) TableName() string {
	return "borrowings"
}

func borrowingModelFromRequest(request ports.BorrowRequest) borrowingModel {
	return borrowingModel{
		ID:         strings.TrimSpace(request.BorrowingID),
		BookID:     strings.TrimSpace(request.BookID),
		PatronID:   strings.TrimSpace(request.PatronID),
		BorrowedAt: request.BorrowedAt.UTC(),
		DueAt:      request.DueAt.UTC(),
	}
}

func (m borrowingModel) toEntity() ports.Borrowing {
	return ports.Borrowing{
		BorrowingID: m.ID,
		BookID:      m.BookID,
		PatronID:    m.PatronID,
		BorrowedAt:  m.BorrowedAt.UTC(),
		DueAt:       m.DueAt.UTC(),
		ReturnedAt:  normalizeOptionalTime(m.ReturnedAt),
	}
}

type bookModel struct {
	ID              string `gorm:"column:id;primaryKey"`
	Title           string `gorm:"column:title"`
	TotalCopies     int    `gorm:"column:total_copies"`
	AvailableCopies int    `gorm:"column:available_copies"`
}

func (bookModel) TableName() string {
	return "books"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "circulation_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "circulation_event_dedup"
}

func toBorrowingEntities(rows []borrowingModel) []ports.Borrowing {
	items := make([]ports.Borrowing, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// 40001 serialization_failure, 40P01 deadlock_detected.
func isRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

var _ ports.LoanStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
