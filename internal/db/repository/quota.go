package repository

import (
	"context"
	"database/sql"

	"geotables/internal/domain"
)

// QuotaRepo implements domain.QuotaChecker by counting an owner's tables.
type QuotaRepo struct {
	db *sql.DB
}

// NewQuotaRepo creates a new QuotaRepo.
func NewQuotaRepo(db *sql.DB) *QuotaRepo {
	return &QuotaRepo{db: db}
}

var _ domain.QuotaChecker = (*QuotaRepo)(nil)

// OverTableQuota reports whether owner already holds as many tables as its
// quota allows. Owners without a quota are never over it.
func (r *QuotaRepo) OverTableQuota(ctx context.Context, owner *domain.Owner) (bool, error) {
	if owner.TableQuota == nil {
		return false, nil
	}
	var n int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_tables WHERE owner_id = ?`, owner.ID).Scan(&n); err != nil {
		return false, err
	}
	return n >= int64(*owner.TableQuota), nil
}
