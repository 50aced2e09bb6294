package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"geotables/internal/ddl"
	"geotables/internal/domain"
)

// InsertRow inserts one row and returns its cartodb_id.
func (s *Store) InsertRow(ctx context.Context, ns domain.Namespace, table string, values map[string]any) (int64, error) {
	cols, args, err := bindValues(values)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, ddl.Insert(ns.Schema, table, cols), args...).Scan(&id); err != nil {
			return err
		}
		return syncMercator(ctx, tx, ns, table, id, values)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateRow updates one row and returns the number of rows affected.
func (s *Store) UpdateRow(ctx context.Context, ns domain.Namespace, table string, id int64, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	cols, args, err := bindValues(values)
	if err != nil {
		return 0, err
	}
	args = append(args, id)
	var affected int64
	err = s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, ddl.Update(ns.Schema, table, cols), args...)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil {
			return err
		}
		return syncMercator(ctx, tx, ns, table, id, values)
	})
	return affected, err
}

// SetGeometry writes a GeoJSON geometry into one row, shaped for kind, and
// keeps the web mercator column in step.
func (s *Store) SetGeometry(ctx context.Context, ns domain.Namespace, table string, id int64, geojson string, kind *domain.GeometryKind) (int64, error) {
	var affected int64
	err := s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, ddl.SetGeometry(ns.Schema, table, kind), geojson, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func syncMercator(ctx context.Context, tx *sql.Tx, ns domain.Namespace, table string, id int64, values map[string]any) error {
	if _, ok := values[domain.ColumnGeometry]; !ok {
		return nil
	}
	_, err := tx.ExecContext(ctx, ddl.SyncMercator(ns.Schema, table), id)
	return err
}

// bindValues orders values by column name and renders each as text.
func bindValues(values map[string]any) ([]string, []any, error) {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		v, err := domain.TextValue(values[c])
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", c, err)
		}
		args[i] = v
	}
	return cols, args, nil
}
