package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainerrors "circulate/contexts/identity-access/admin-access-authority/domain/errors"
	"circulate/contexts/identity-access/admin-access-authority/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// bootstrapLockID is the advisory-lock key serializing first-grant creation.
const bootstrapLockID int64 = 840217

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

func (r *Repository) GetGrant(ctx context.Context, adminEmail string) (ports.Grant, error) {
	var row grantModel
	err := r.db.WithContext(ctx).
		Where("admin_email = ?", normalizeEmail(adminEmail)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Grant{}, domainerrors.ErrAdminNotFound
		}
		return ports.Grant{}, r.logError("authority_repo_get_grant_failed", err,
			"admin_email", normalizeEmail(adminEmail),
		)
	}
	return row.toEntity(), nil
}

// CreateGrant inserts a fresh grant record. A duplicate email maps to
// ErrAlreadyGranted via the primary-key violation.
func (r *Repository) CreateGrant(ctx context.Context, grant ports.Grant) error {
	row := grantModelFromEntity(grant)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrAlreadyGranted
		}
		return r.logError("authority_repo_create_grant_failed", err,
			"admin_email", row.AdminEmail,
			"status", row.Status,
		)
	}
	return nil
}

// BootstrapGrant inserts the very first grant. The transaction takes an
// advisory lock before the emptiness check, so concurrent bootstraps
// serialize and exactly one insert lands.
func (r *Repository) BootstrapGrant(ctx context.Context, grant ports.Grant) error {
	row := grantModelFromEntity(grant)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", bootstrapLockID).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&grantModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domainerrors.ErrInvalidOperation
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrInvalidOperation) {
			return err
		}
		return r.logError("authority_repo_bootstrap_grant_failed", err,
			"admin_email", row.AdminEmail,
		)
	}
	return nil
}

// TransitionGrant overwrites the record with a single conditional UPDATE
// keyed on the permitted source statuses; zero affected rows means either a
// missing grant or a lost race on the state machine.
func (r *Repository) TransitionGrant(ctx context.Context, grant ports.Grant, from ...ports.GrantStatus) error {
	statuses := make([]string, 0, len(from))
	for _, status := range from {
		statuses = append(statuses, string(status))
	}

	row := grantModelFromEntity(grant)
	result := r.db.WithContext(ctx).
		Model(&grantModel{}).
		Where("admin_email = ?", row.AdminEmail).
		Where("status IN ?", statuses).
		Updates(map[string]any{
			"status":     row.Status,
			"granted_by": row.GrantedBy,
			"granted_at": row.GrantedAt,
			"expires_at": row.ExpiresAt,
		})
	if result.Error != nil {
		return r.logError("authority_repo_transition_grant_failed", result.Error,
			"admin_email", row.AdminEmail,
			"status", row.Status,
		)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetGrant(ctx, row.AdminEmail); err != nil {
			return err
		}
		return domainerrors.ErrInvalidTransition
	}
	return nil
}

func (r *Repository) ListGrants(ctx context.Context) ([]ports.Grant, error) {
	var rows []grantModel
	if err := r.db.WithContext(ctx).
		Order("admin_email ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("authority_repo_list_grants_failed", err)
	}
	items := make([]ports.Grant, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "identity-access/admin-access-authority",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("authority repository operation failed", fields...)
	return err
}

type grantModel struct {
	AdminEmail string     `gorm:"column:admin_email;primaryKey"`
	Status     string     `gorm:"column:status"`
	GrantedBy  string     `gorm:"column:granted_by"`
	GrantedAt  time.Time  `gorm:"column:granted_at"`
	ExpiresAt  *time.Time `gorm:"column:expires_at"`
}

func (grantModel) TableName() string {
	return "admin_access_grants"
}

func grantModelFromEntity(grant ports.Grant) grantModel {
	row := grantModel{
		AdminEmail: normalizeEmail(grant.AdminEmail),
		Status:     string(grant.Status),
		GrantedBy:  strings.TrimSpace(grant.GrantedBy),
		GrantedAt:  grant.GrantedAt.UTC(),
	}
	if grant.ExpiresAt != nil {
		expires := grant.ExpiresAt.UTC()
		row.ExpiresAt = &expires
	}
	return row
}

func (m grantModel) toEntity() ports.Grant {
	grant := ports.Grant{
		AdminEmail: m.AdminEmail,
		Status:     ports.GrantStatus(m.Status),
		GrantedBy:  m.GrantedBy,
		GrantedAt:  m.GrantedAt.UTC(),
	}
	if m.ExpiresAt != nil {
		expires := m.ExpiresAt.UTC()
		grant.ExpiresAt = &expires
	}
	return grant
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.GrantStore = (*Repository)(nil)
