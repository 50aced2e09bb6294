// Package schema reads the live column list of user tables.
package schema

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"geotables/internal/cache"
	"geotables/internal/domain"
)

// ReadOptions control a schema read.
type ReadOptions struct {
	// Reload bypasses the cached view and reads the physical catalog.
	Reload bool
	// IncludeNativeTypes fills Column.NativeType.
	IncludeNativeTypes bool
}

// KindEstablisher commits the geometry kind of a table on first read.
type KindEstablisher interface {
	Establish(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, requested *domain.GeometryKind) (*domain.GeometryKind, error)
}

// Reader produces the ordered, semantically typed columns of a table.
type Reader struct {
	store  domain.PhysicalStore
	kinds  KindEstablisher
	cache  *cache.Schemas
	logger *slog.Logger
}

// NewReader creates a Reader. A ttl of zero disables the cached view.
func NewReader(store domain.PhysicalStore, kinds KindEstablisher, ttl time.Duration, logger *slog.Logger) *Reader {
	return &Reader{
		store:  store,
		kinds:  kinds,
		cache:  cache.NewSchemas(ttl),
		logger: logger,
	}
}

// Read returns t's columns: cartodb_id, the_geom, the remaining columns in
// alphabetical order, then created_at and updated_at. the_geom_webmercator is
// never listed. When t has a geometry column but no committed kind, the kind
// is established first.
func (r *Reader) Read(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, opts ReadOptions) ([]domain.Column, error) {
	if !opts.Reload {
		if cols, ok := r.cache.Get(t.ID); ok {
			return present(cols, opts), nil
		}
	}

	raw, err := r.store.Columns(ctx, ns, t.Name)
	if err != nil {
		return nil, err
	}

	if t.GeometryKind == nil && hasGeometry(raw) && r.kinds != nil {
		kind, err := r.kinds.Establish(ctx, ns, t, nil)
		if err != nil {
			return nil, err
		}
		if kind != nil && *kind != domain.GeometryGeneric {
			r.logger.Debug("geometry kind established on read", "table", t.Name, "kind", *kind)
			if raw, err = r.store.Columns(ctx, ns, t.Name); err != nil {
				return nil, err
			}
		}
	}

	cols := Order(raw)
	r.cache.Set(t.ID, cols)
	return present(cols, opts), nil
}

// Invalidate drops the cached view of a table.
func (r *Reader) Invalidate(tableID string) {
	r.cache.Delete(tableID)
}

// Order maps raw catalog columns to semantic columns in display order.
func Order(raw []domain.RawColumn) []domain.Column {
	cols := make([]domain.Column, 0, len(raw))
	for _, c := range raw {
		if c.Name == domain.ColumnGeometryMercator {
			continue
		}
		col := domain.Column{
			Name:        c.Name,
			StorageType: c.StorageType,
			NativeType:  c.NativeType,
			Type:        domain.SemanticTypeFor(c.StorageType),
		}
		if col.Type == domain.TypeGeometry {
			col.GeometrySubtype = c.GeometrySubtype
		}
		cols = append(cols, col)
	}
	sort.SliceStable(cols, func(i, j int) bool {
		ri, rj := rank(cols[i].Name), rank(cols[j].Name)
		if ri != rj {
			return ri < rj
		}
		return cols[i].Name < cols[j].Name
	})
	return cols
}

func rank(name string) int {
	switch name {
	case domain.ColumnID:
		return 0
	case domain.ColumnGeometry:
		return 1
	case domain.ColumnCreatedAt:
		return 3
	case domain.ColumnUpdatedAt:
		return 4
	default:
		return 2
	}
}

func present(cols []domain.Column, opts ReadOptions) []domain.Column {
	out := make([]domain.Column, len(cols))
	copy(out, cols)
	if !opts.IncludeNativeTypes {
		for i := range out {
			out[i].NativeType = ""
		}
	}
	return out
}

func hasGeometry(raw []domain.RawColumn) bool {
	for _, c := range raw {
		if c.Name == domain.ColumnGeometry {
			return true
		}
	}
	return false
}
