package postgis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"geotables/internal/ddl"
	"geotables/internal/domain"
)

const columnsQuery = `
SELECT a.attname,
       format_type(a.atttypid, NULL),
       format_type(a.atttypid, a.atttypmod),
       CASE WHEN t.typname = 'geometry' THEN postgis_typmod_type(a.atttypmod) ELSE '' END
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_type t ON t.oid = a.atttypid
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

const relationExistsQuery = `
SELECT EXISTS (
  SELECT 1 FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
  WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
)`

const listRelationsQuery = `
SELECT c.relname FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
ORDER BY c.relname`

const estimatesQuery = `
SELECT GREATEST(c.reltuples, 0)::bigint, pg_total_relation_size(c.oid)
FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2`

// TableExists reports whether the relation exists in the namespace.
func (s *Store) TableExists(ctx context.Context, ns domain.Namespace, table string) (bool, error) {
	var exists bool
	err := s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		var err error
		exists, err = relationExists(ctx, tx, ns.Schema, table)
		return err
	})
	return exists, err
}

// ListRelations returns the tables of the namespace in alphabetical order.
func (s *Store) ListRelations(ctx context.Context, ns domain.Namespace) ([]string, error) {
	var names []string
	err := s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, listRelationsQuery, ns.Schema)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return err
			}
			names = append(names, n)
		}
		return rows.Err()
	})
	return names, err
}

// Columns returns the live columns of a relation in attribute order.
func (s *Store) Columns(ctx context.Context, ns domain.Namespace, table string) ([]domain.RawColumn, error) {
	var cols []domain.RawColumn
	err := s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, columnsQuery, ns.Schema, table)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck
		for rows.Next() {
			var c domain.RawColumn
			if err := rows.Scan(&c.Name, &c.StorageType, &c.NativeType, &c.GeometrySubtype); err != nil {
				return err
			}
			cols = append(cols, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(cols) > 0 {
			return nil
		}
		exists, err := relationExists(ctx, tx, ns.Schema, table)
		if err != nil {
			return err
		}
		if !exists {
			return &domain.SchemaNotFoundError{Schema: ns.Schema, Table: table}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}

// SampleGeometryTypes returns the geometry type names of up to limit non-null rows.
func (s *Store) SampleGeometryTypes(ctx context.Context, ns domain.Namespace, table string, limit int) ([]string, error) {
	var types []string
	err := s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, ddl.SampleGeometryTypes(ns.Schema, table, limit))
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck
		for rows.Next() {
			var t sql.NullString
			if err := rows.Scan(&t); err != nil {
				return err
			}
			if t.Valid {
				types = append(types, t.String)
			}
		}
		return rows.Err()
	})
	return types, err
}

// Estimates returns the planner's row estimate and the total relation size in bytes.
func (s *Store) Estimates(ctx context.Context, ns domain.Namespace, table string) (rows, bytes int64, err error) {
	err = s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, estimatesQuery, ns.Schema, table).Scan(&rows, &bytes)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.SchemaNotFoundError{Schema: ns.Schema, Table: table}
		}
		return err
	})
	return rows, bytes, err
}

func relationExists(ctx context.Context, tx *sql.Tx, schema, table string) (bool, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, relationExistsQuery, schema, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("check relation %s.%s: %w", schema, table, err)
	}
	return exists, nil
}
