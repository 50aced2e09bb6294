package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"geotables/internal/domain"
)

// TableRepo implements domain.TableRepository using SQLite.
type TableRepo struct {
	db *sql.DB
}

// NewTableRepo creates a new TableRepo.
func NewTableRepo(db *sql.DB) *TableRepo {
	return &TableRepo{db: db}
}

var _ domain.TableRepository = (*TableRepo)(nil)

const tableColumns = `id, owner_id, name, geometry_kind, privacy, state, pending_rename,
	row_count_estimate, size_estimate, estimates_updated_at, created_at, updated_at`

// Create inserts a table identity. An empty ID is assigned and an empty
// state defaults to creating.
func (r *TableRepo) Create(ctx context.Context, t *domain.TableIdentity) (*domain.TableIdentity, error) {
	if t.ID == "" {
		t.ID = domain.NewID()
	}
	if t.State == "" {
		t.State = domain.TableStateCreating
	}
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_tables (id, owner_id, name, geometry_kind, privacy, state, pending_rename, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Name, nullKind(t.GeometryKind), nullPrivacy(t.Privacy), string(t.State),
		nullString(t.PendingRename), now, now)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(mapDBError(err), &conflict) {
			return nil, domain.ErrConflict("table %q already exists", t.Name)
		}
		return nil, err
	}
	return r.Get(ctx, t.ID)
}

// Get returns a table identity by id.
func (r *TableRepo) Get(ctx context.Context, id string) (*domain.TableIdentity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tableColumns+` FROM user_tables WHERE id = ?`, id)
	t, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("table %q not found", id)
	}
	return t, err
}

// GetByName returns the owner's table with the given name.
func (r *TableRepo) GetByName(ctx context.Context, ownerID, name string) (*domain.TableIdentity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tableColumns+` FROM user_tables WHERE owner_id = ? AND name = ?`, ownerID, name)
	t, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("table %q not found", name)
	}
	return t, err
}

// ListNames returns the owner's table names in alphabetical order.
func (r *TableRepo) ListNames(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM user_tables WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// CountForOwner returns how many tables the owner has.
func (r *TableRepo) CountForOwner(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_tables WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}

// Update persists every mutable field of t and refreshes UpdatedAt.
func (r *TableRepo) Update(ctx context.Context, t *domain.TableIdentity) error {
	var estimatesAt sql.NullString
	if t.EstimatesUpdatedAt != nil {
		estimatesAt = sql.NullString{String: formatTime(*t.EstimatesUpdatedAt), Valid: true}
	}
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_tables SET name = ?, geometry_kind = ?, privacy = ?, state = ?, pending_rename = ?,
		 row_count_estimate = ?, size_estimate = ?, estimates_updated_at = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, nullKind(t.GeometryKind), nullPrivacy(t.Privacy), string(t.State), nullString(t.PendingRename),
		nullInt64(t.RowCountEstimate), nullInt64(t.SizeEstimate), estimatesAt, formatTime(now), t.ID)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(mapDBError(err), &conflict) {
			return domain.ErrConflict("table %q already exists", t.Name)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("table %q not found", t.ID)
	}
	t.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	return nil
}

// Delete removes the identity and, by cascade, its shares and overviews.
func (r *TableRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_tables WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("table %q not found", id)
	}
	return nil
}

// ListShares returns the table's ACL ordered by entity.
func (r *TableRepo) ListShares(ctx context.Context, tableID string) ([]domain.ACLEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_type, entity_id, access FROM table_shares WHERE table_id = ? ORDER BY entity_type, entity_id`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.ACLEntry
	for rows.Next() {
		var e domain.ACLEntry
		var typ, access string
		if err := rows.Scan(&typ, &e.EntityID, &access); err != nil {
			return nil, err
		}
		e.EntityType = domain.ShareEntityType(typ)
		e.Access = domain.ShareAccess(access)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceShares swaps the table's ACL for entries in one transaction.
func (r *TableRepo) ReplaceShares(ctx context.Context, tableID string, entries []domain.ACLEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM table_shares WHERE table_id = ?`, tableID); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO table_shares (table_id, entity_type, entity_id, access) VALUES (?, ?, ?, ?)`,
			tableID, string(e.EntityType), e.EntityID, string(e.Access)); err != nil {
			return mapDBError(err)
		}
	}
	return tx.Commit()
}

func scanTable(row rowScanner) (*domain.TableIdentity, error) {
	var (
		t                    domain.TableIdentity
		kind, privacy        sql.NullString
		state                string
		pending              sql.NullString
		rowCount, size       sql.NullInt64
		estimatesAt          sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &kind, &privacy, &state, &pending,
		&rowCount, &size, &estimatesAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if kind.Valid {
		k := domain.GeometryKind(kind.String)
		t.GeometryKind = &k
	}
	t.Privacy = domain.Privacy(privacy.String)
	t.State = domain.TableState(state)
	t.PendingRename = stringPtr(pending)
	t.RowCountEstimate = int64Ptr(rowCount)
	t.SizeEstimate = int64Ptr(size)
	if estimatesAt.Valid {
		ts := parseTime(estimatesAt.String)
		t.EstimatesUpdatedAt = &ts
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func nullKind(k *domain.GeometryKind) sql.NullString {
	if k == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*k), Valid: true}
}

func nullPrivacy(p domain.Privacy) sql.NullString {
	if p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}
