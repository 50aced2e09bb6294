// Package postgis implements the physical store and permission gateway on
// PostgreSQL with PostGIS, one schema and role per owner.
package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"geotables/internal/ddl"
	"geotables/internal/domain"
)

// DefaultStatementTimeout bounds every statement when no timeout is configured.
const DefaultStatementTimeout = 5 * time.Minute

// RunOptions control how a unit of work is executed.
type RunOptions struct {
	// StatementTimeout overrides the store default for this unit of work.
	StatementTimeout time.Duration
	// Privileged runs on the administrative pool without assuming the
	// owner's role.
	Privileged bool
}

// Store executes statements inside per-call transactions on behalf of owners.
type Store struct {
	user    *sql.DB
	admin   *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ domain.PhysicalStore     = (*Store)(nil)
	_ domain.PermissionGateway = (*Store)(nil)
)

// New creates a Store over an owner-facing pool and an administrative pool.
// admin may equal user.
func New(user, admin *sql.DB, timeout time.Duration, logger *slog.Logger) *Store {
	if timeout <= 0 {
		timeout = DefaultStatementTimeout
	}
	if admin == nil {
		admin = user
	}
	return &Store{user: user, admin: admin, timeout: timeout, logger: logger}
}

// OpenDB opens a database/sql pool over pgx using the simple query protocol,
// so parameters are sent as text and parsed by the server.
func OpenDB(dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Ping verifies both pools.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.user.PingContext(ctx); err != nil {
		return fmt.Errorf("ping user pool: %w", err)
	}
	if s.admin != s.user {
		if err := s.admin.PingContext(ctx); err != nil {
			return fmt.Errorf("ping admin pool: %w", err)
		}
	}
	return nil
}

// Close closes both pools.
func (s *Store) Close() error {
	err := s.user.Close()
	if s.admin != s.user {
		if aerr := s.admin.Close(); err == nil {
			err = aerr
		}
	}
	return err
}

// Run executes fn in a transaction bounded by a statement timeout. Unless
// opts.Privileged is set, the transaction assumes the namespace role.
func (s *Store) Run(ctx context.Context, ns domain.Namespace, opts RunOptions, fn func(tx *sql.Tx) error) error {
	db := s.user
	if opts.Privileged {
		db = s.admin
	}
	timeout := opts.StatementTimeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, ddl.SetStatementTimeout(timeout)); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}
	if !opts.Privileged && ns.Role != "" {
		stmt, err := ddl.SetRole(ns.Role)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("assume role %s: %w", ns.Role, err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) exec(ctx context.Context, ns domain.Namespace, opts RunOptions, stmts ...string) error {
	return s.Run(ctx, ns, opts, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
