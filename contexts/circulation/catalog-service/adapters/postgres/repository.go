package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainerrors "circulate/contexts/circulation/catalog-service/domain/errors"
	"circulate/contexts/circulation/catalog-service/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
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

func (r *Repository) CreateBook(ctx context.Context, book ports.Book) error {
	row := bookModelFromEntity(book)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateISBN
		}
		return r.logError("catalog_repo_create_book_failed", err,
			"book_id", strings.TrimSpace(book.BookID),
			"isbn", strings.TrimSpace(book.ISBN),
		)
	}
	return nil
}

func (r *Repository) GetBook(ctx context.Context, bookID string) (ports.Book, error) {
	var row bookModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(bookID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Book{}, domainerrors.ErrBookNotFound
		}
		return ports.Book{}, r.logError("catalog_repo_get_book_failed", err,
			"book_id", strings.TrimSpace(bookID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListBooks(ctx context.Context) ([]ports.Book, error) {
	var rows []bookModel
	if err := r.db.WithContext(ctx).
		Order("title ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("catalog_repo_list_books_failed", err)
	}
	items := make([]ports.Book, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// AdjustCopies moves total_copies and available_copies together. The WHERE
// guard makes the shrink-below-loaned refusal atomic with the update itself.
func (r *Repository) AdjustCopies(
	ctx context.Context,
	bookID string,
	delta int,
	updatedAt time.Time,
) (ports.Book, error) {
	result := r.db.WithContext(ctx).
		Model(&bookModel{}).
		Where("id = ?", strings.TrimSpace(bookID)).
		Where("total_copies + ? >= 0 AND available_copies + ? >= 0", delta, delta).
		Updates(map[string]any{
			"total_copies":     gorm.Expr("total_copies + ?", delta),
			"available_copies": gorm.Expr("available_copies + ?", delta),
			"updated_at":       updatedAt.UTC(),
		})
	if result.Error != nil {
		return ports.Book{}, r.logError("catalog_repo_adjust_copies_failed", result.Error,
			"book_id", strings.TrimSpace(bookID),
			"delta", delta,
		)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetBook(ctx, bookID); err != nil {
			return ports.Book{}, err
		}
		return ports.Book{}, domainerrors.ErrInvalidOperation
	}
	return r.GetBook(ctx, bookID)
}

// RemoveBook deletes a title only when no copy is on loan; the
// available = total guard expresses that without reading the ledger's
// borrowings.
func (r *Repository) RemoveBook(ctx context.Context, bookID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(bookID)).
		Where("available_copies = total_copies").
		Delete(&bookModel{})
	if result.Error != nil {
		return r.logError("catalog_repo_remove_book_failed", result.Error,
			"book_id", strings.TrimSpace(bookID),
		)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetBook(ctx, bookID); err != nil {
			return err
		}
		return domainerrors.ErrInvalidOperation
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "circulation/catalog-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("catalog repository operation failed", fields...)
	return err
}

type bookModel struct {
	ID              string    `gorm:"column:id;primaryKey"`
	Title           string    `gorm:"column:title"`
	Author          string    `gorm:"column:author"`
	ISBN            string    `gorm:"column:isbn"`
	TotalCopies     int       `gorm:"column:total_copies"`
	AvailableCopies int       `gorm:"column:available_copies"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (bookModel) TableName() string {
	return "books"
}

func bookModelFromEntity(book ports.Book) bookModel {
	row := bookModel{
		ID:              strings.TrimSpace(book.BookID),
		Title:           strings.TrimSpace(book.Title),
		Author:          strings.TrimSpace(book.Author),
		ISBN:            strings.TrimSpace(book.ISBN),
		TotalCopies:     book.TotalCopies,
		AvailableCopies: book.AvailableCopies,
		CreatedAt:       book.CreatedAt.UTC(),
		UpdatedAt:       book.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m bookModel) toEntity() ports.Book {
	return ports.Book{
		BookID:          m.ID,
		Title:           m.Title,
		Author:          m.Author,
		ISBN:            m.ISBN,
		TotalCopies:     m.TotalCopies,
		AvailableCopies: m.AvailableCopies,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.BookStore = (*Repository)(nil)
