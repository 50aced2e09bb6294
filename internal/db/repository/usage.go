package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"geotables/internal/domain"
)

// Usage counter scopes.
const (
	ScopeOwner = "owner"
	ScopePlan  = "plan"
	ScopeHost  = "host"
)

const metricTables = "tables"

// UsageCounterRepo implements domain.UsageCounters. Every change is applied
// to the owner, its plan and the host serving the request.
type UsageCounterRepo struct {
	db   *sql.DB
	host string
}

// NewUsageCounterRepo creates a new UsageCounterRepo counting under host.
func NewUsageCounterRepo(db *sql.DB, host string) *UsageCounterRepo {
	return &UsageCounterRepo{db: db, host: host}
}

var _ domain.UsageCounters = (*UsageCounterRepo)(nil)

// IncrementTables adds one table to every scope of owner.
func (r *UsageCounterRepo) IncrementTables(ctx context.Context, owner *domain.Owner) error {
	return r.add(ctx, owner, metricTables, 1)
}

// DecrementTables removes one table from every scope of owner, never going
// below zero.
func (r *UsageCounterRepo) DecrementTables(ctx context.Context, owner *domain.Owner) error {
	return r.add(ctx, owner, metricTables, -1)
}

// Value returns the current counter for scope/key/metric, zero when unset.
func (r *UsageCounterRepo) Value(ctx context.Context, scope, key, metric string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM usage_counters WHERE scope = ? AND key = ? AND metric = ?`, scope, key, metric).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (r *UsageCounterRepo) add(ctx context.Context, owner *domain.Owner, metric string, delta int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	keys := [][2]string{{ScopeOwner, owner.ID}, {ScopePlan, owner.Plan}}
	if r.host != "" {
		keys = append(keys, [2]string{ScopeHost, r.host})
	}
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO usage_counters (scope, key, metric, value) VALUES (?, ?, ?, MAX(?, 0))
			 ON CONFLICT (scope, key, metric) DO UPDATE SET value = MAX(usage_counters.value + ?, 0)`,
			k[0], k[1], metric, delta, delta); err != nil {
			return fmt.Errorf("update %s counter: %w", k[0], err)
		}
	}
	return tx.Commit()
}
