package postgis

import (
	"context"
	"database/sql"
	"fmt"

	"geotables/internal/ddl"
	"geotables/internal/domain"
)

// metadataChannel receives the qualified name of every relation whose
// metadata changed.
const metadataChannel = "cdb_tablemetadata"

// CreateTable creates an empty cartodbified relation.
func (s *Store) CreateTable(ctx context.Context, ns domain.Namespace, table string) error {
	stmt, err := ddl.CreateTable(ns.Schema, table)
	if err != nil {
		return &domain.InvalidTableNameError{Name: table, Reason: err.Error()}
	}
	return s.exec(ctx, ns, RunOptions{}, stmt)
}

// Cartodbify adds the id and geometry columns to an existing relation.
func (s *Store) Cartodbify(ctx context.Context, ns domain.Namespace, table string) error {
	stmts, err := ddl.Cartodbify(ns.Schema, table)
	if err != nil {
		return &domain.InvalidTableNameError{Name: table, Reason: err.Error()}
	}
	return s.exec(ctx, ns, RunOptions{}, stmts...)
}

// ConvertGeometryColumn rewrites the_geom into a column typed for kind in
// one transaction.
func (s *Store) ConvertGeometryColumn(ctx context.Context, ns domain.Namespace, table string, kind domain.GeometryKind) error {
	stmts, err := ddl.ConvertGeometryColumn(ns.Schema, table, kind)
	if err != nil {
		return err
	}
	if err := s.exec(ctx, ns, RunOptions{}, stmts...); err != nil {
		return fmt.Errorf("convert geometry of %s to %s: %w", table, kind, err)
	}
	return nil
}

// AlterColumnType changes a column's storage type, casting existing values.
func (s *Store) AlterColumnType(ctx context.Context, ns domain.Namespace, table, column, storageType string) error {
	stmt, err := ddl.AlterColumnType(ns.Schema, table, column, storageType)
	if err != nil {
		return err
	}
	return s.exec(ctx, ns, RunOptions{}, stmt)
}

// AddColumn adds a user column.
func (s *Store) AddColumn(ctx context.Context, ns domain.Namespace, table, column, storageType string) error {
	stmt, err := ddl.AddColumn(ns.Schema, table, column, storageType)
	if err != nil {
		return err
	}
	return s.exec(ctx, ns, RunOptions{}, stmt)
}

// DropColumn drops a user column.
func (s *Store) DropColumn(ctx context.Context, ns domain.Namespace, table, column string) error {
	stmt, err := ddl.DropColumn(ns.Schema, table, column)
	if err != nil {
		return err
	}
	return s.exec(ctx, ns, RunOptions{}, stmt)
}

// RenameColumn renames a user column.
func (s *Store) RenameColumn(ctx context.Context, ns domain.Namespace, table, from, to string) error {
	stmt, err := ddl.RenameColumn(ns.Schema, table, from, to)
	if err != nil {
		return err
	}
	return s.exec(ctx, ns, RunOptions{}, stmt)
}

// RenameTable renames a relation within its schema.
func (s *Store) RenameTable(ctx context.Context, ns domain.Namespace, from, to string) error {
	stmt, err := ddl.RenameTable(ns.Schema, from, to)
	if err != nil {
		return &domain.InvalidTableNameError{Name: to, Reason: err.Error()}
	}
	return s.exec(ctx, ns, RunOptions{}, stmt)
}

// DropTable drops a relation and its leftover id sequence.
func (s *Store) DropTable(ctx context.Context, ns domain.Namespace, table string) error {
	stmts, err := ddl.DropTable(ns.Schema, table)
	if err != nil {
		return &domain.InvalidTableNameError{Name: table, Reason: err.Error()}
	}
	return s.exec(ctx, ns, RunOptions{}, stmts...)
}

// TouchMetadata notifies listeners on the metadata channel that the
// relation changed.
func (s *Store) TouchMetadata(ctx context.Context, ns domain.Namespace, table string) error {
	return s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", metadataChannel, ddl.QualifiedName(ns.Schema, table))
		return err
	})
}
