package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"geotables/internal/domain"
)

// OwnerRepo implements domain.OwnerRepository using SQLite.
type OwnerRepo struct {
	db *sql.DB
}

// NewOwnerRepo creates a new OwnerRepo.
func NewOwnerRepo(db *sql.DB) *OwnerRepo {
	return &OwnerRepo{db: db}
}

var _ domain.OwnerRepository = (*OwnerRepo)(nil)

const ownerColumns = `id, username, schema_name, database_role, organization_id, plan, table_quota, created_at`

// Create inserts an owner. An empty ID is assigned.
func (r *OwnerRepo) Create(ctx context.Context, o *domain.Owner) (*domain.Owner, error) {
	if o.ID == "" {
		o.ID = domain.NewID()
	}
	if o.Plan == "" {
		o.Plan = "free"
	}
	var quota sql.NullInt64
	if o.TableQuota != nil {
		quota = sql.NullInt64{Int64: int64(*o.TableQuota), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO owners (id, username, schema_name, database_role, organization_id, plan, table_quota, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Username, o.Schema, o.DatabaseRole, nullString(o.OrganizationID), o.Plan, quota, formatTime(time.Now()))
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.Get(ctx, o.ID)
}

// Get returns an owner by id.
func (r *OwnerRepo) Get(ctx context.Context, id string) (*domain.Owner, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ownerColumns+` FROM owners WHERE id = ?`, id)
	o, err := scanOwner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("owner %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetByUsername returns an owner by username.
func (r *OwnerRepo) GetByUsername(ctx context.Context, username string) (*domain.Owner, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ownerColumns+` FROM owners WHERE username = ?`, username)
	o, err := scanOwner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("owner %q not found", username)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func scanOwner(row rowScanner) (*domain.Owner, error) {
	var (
		o         domain.Owner
		orgID     sql.NullString
		quota     sql.NullInt64
		createdAt string
	)
	if err := row.Scan(&o.ID, &o.Username, &o.Schema, &o.DatabaseRole, &orgID, &o.Plan, &quota, &createdAt); err != nil {
		return nil, err
	}
	o.OrganizationID = stringPtr(orgID)
	if quota.Valid {
		q := int(quota.Int64)
		o.TableQuota = &q
	}
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}
