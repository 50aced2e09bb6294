// Package write inserts and updates rows of user tables, widening column
// types when values do not fit.
package write

import (
	"context"
	"log/slog"
	"sort"

	"geotables/internal/domain"
	"geotables/internal/service/geometry"
	"geotables/internal/service/schema"
	"geotables/internal/service/widening"
)

// DefaultUpdateWideningCap bounds how many columns one update may widen.
const DefaultUpdateWideningCap = 3

// SchemaReader is the part of schema.Reader the writer needs.
type SchemaReader interface {
	Read(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, opts schema.ReadOptions) ([]domain.Column, error)
	Invalidate(tableID string)
}

// KindEstablisher commits a table's geometry kind after its first geometry.
type KindEstablisher interface {
	Establish(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, requested *domain.GeometryKind) (*domain.GeometryKind, error)
}

// Writer writes rows, retrying type violations after widening the offending
// column.
type Writer struct {
	store     domain.PhysicalStore
	reader    SchemaReader
	kinds     KindEstablisher
	kindCache domain.GeometryKindCache
	resolver  *widening.Resolver
	updateCap int
	logger    *slog.Logger
}

// Deps holds dependencies for Writer.
type Deps struct {
	Store     domain.PhysicalStore
	Reader    SchemaReader
	Kinds     KindEstablisher
	KindCache domain.GeometryKindCache
	Resolver  *widening.Resolver
	UpdateCap int
	Logger    *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(deps Deps) *Writer {
	if deps.Resolver == nil {
		deps.Resolver = widening.NewResolver(nil)
	}
	if deps.UpdateCap <= 0 {
		deps.UpdateCap = DefaultUpdateWideningCap
	}
	return &Writer{
		store:     deps.Store,
		reader:    deps.Reader,
		kinds:     deps.Kinds,
		kindCache: deps.KindCache,
		resolver:  deps.Resolver,
		updateCap: deps.UpdateCap,
		logger:    deps.Logger,
	}
}

// InsertRow inserts raw and returns the new row id. It may widen up to one
// column per semantic type.
func (w *Writer) InsertRow(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, raw map[string]any) (int64, error) {
	cols, err := w.reader.Read(ctx, ns, t, schema.ReadOptions{})
	if err != nil {
		return 0, err
	}
	attrs, geom, err := split(raw, cols)
	if err != nil {
		return 0, err
	}

	var id int64
	err = w.withWidening(ctx, ns, t, attrs, cols, domain.SemanticTypeCount, func() error {
		var err error
		id, err = w.store.InsertRow(ctx, ns, t.Name, attrs)
		return err
	})
	if err != nil {
		return 0, err
	}
	if _, err := w.writeGeometry(ctx, ns, t, id, attrs, geom); err != nil {
		return id, err
	}
	return id, nil
}

// UpdateRow updates one row and returns the number of rows affected.
func (w *Writer) UpdateRow(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, rowID int64, raw map[string]any) (int64, error) {
	cols, err := w.reader.Read(ctx, ns, t, schema.ReadOptions{})
	if err != nil {
		return 0, err
	}
	attrs, geom, err := split(raw, cols)
	if err != nil {
		return 0, err
	}

	var affected int64
	if len(attrs) > 0 {
		err = w.withWidening(ctx, ns, t, attrs, cols, w.updateCap, func() error {
			var err error
			affected, err = w.store.UpdateRow(ctx, ns, t.Name, rowID, attrs)
			return err
		})
		if err != nil {
			return 0, err
		}
	}
	n, err := w.writeGeometry(ctx, ns, t, rowID, attrs, geom)
	if err != nil {
		return affected, err
	}
	if n > affected {
		affected = n
	}
	return affected, nil
}

// withWidening runs write until it succeeds, widening one column per type
// violation. Widenings are durable even when the write ultimately fails.
func (w *Writer) withWidening(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, attrs map[string]any, cols []domain.Column, maxWidenings int, write func() error) error {
	widened := 0
	for {
		err := write()
		if err == nil {
			return nil
		}
		wd, rerr := w.resolver.Resolve(err, attrs, cols)
		if rerr != nil {
			return rerr
		}
		if widened >= maxWidenings {
			w.logger.Error("widening limit reached", "table", t.Name, "owner", t.OwnerID, "widenings", widened, "column", wd.Column, "error", err)
			return &domain.WideningExhaustedError{Attempts: widened, Cause: err}
		}

		w.logger.Info("widening column", "table", t.Name, "column", wd.Column, "from", wd.From, "to", wd.To)
		if err := w.store.AlterColumnType(ctx, ns, t.Name, wd.Column, wd.To); err != nil {
			return err
		}
		widened++
		w.reader.Invalidate(t.ID)
		if cols, err = w.reader.Read(ctx, ns, t, schema.ReadOptions{Reload: true}); err != nil {
			return err
		}
	}
}

// writeGeometry writes a GeoJSON payload into the row after its attributes,
// then commits the table's geometry kind if this is its first geometry.
func (w *Writer) writeGeometry(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, rowID int64, attrs map[string]any, geom any) (int64, error) {
	_, literal := attrs[domain.ColumnGeometry]
	var affected int64
	if geom != nil {
		payload, _, err := geometry.ParseGeoJSON(geom)
		if err != nil {
			return 0, err
		}
		if affected, err = w.store.SetGeometry(ctx, ns, t.Name, rowID, payload, t.GeometryKind); err != nil {
			return 0, err
		}
	}
	if (geom != nil || literal) && t.GeometryKind == nil {
		if w.kindCache != nil {
			w.kindCache.Expire(t.ID)
		}
		if _, err := w.kinds.Establish(ctx, ns, t, nil); err != nil {
			return affected, err
		}
		w.reader.Invalidate(t.ID)
	}
	return affected, nil
}

// split separates writable attributes from a GeoJSON geometry payload and
// rejects keys the table does not have. cartodb_id is dropped silently when
// the table lacks it.
func split(raw map[string]any, cols []domain.Column) (map[string]any, any, error) {
	attrs := make(map[string]any, len(raw))
	var (
		geom    any
		unknown []string
	)
	for k, v := range raw {
		if _, ok := domain.FindColumn(cols, k); !ok {
			if k == domain.ColumnID {
				continue
			}
			unknown = append(unknown, k)
			continue
		}
		if k == domain.ColumnGeometry {
			switch v.(type) {
			case nil, domain.GeometryLiteral:
			default:
				geom = v
				continue
			}
		}
		attrs[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, nil, &domain.InvalidAttributesError{Keys: unknown}
	}
	return attrs, geom, nil
}
