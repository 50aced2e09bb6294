// Package geometry decides and enforces the geometry kind of user tables.
package geometry

import (
	"context"
	"fmt"
	"log/slog"

	"geotables/internal/domain"
)

// Normalizer establishes a table's geometry kind and rewrites its geometry
// column into the canonical shape for that kind.
type Normalizer struct {
	store  domain.PhysicalStore
	tables domain.TableRepository
	kinds  domain.GeometryKindCache
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(store domain.PhysicalStore, tables domain.TableRepository, kinds domain.GeometryKindCache, logger *slog.Logger) *Normalizer {
	return &Normalizer{store: store, tables: tables, kinds: kinds, logger: logger}
}

// CanonicalKind maps any accepted kind onto the canonical set: polygons and
// linestrings become their multi forms, multipoints become points.
func CanonicalKind(kind domain.GeometryKind) (domain.GeometryKind, error) {
	switch kind {
	case domain.GeometryGeneric, domain.GeometryPoint, domain.GeometryMultiLineString, domain.GeometryMultiPolygon:
		return kind, nil
	case domain.GeometryPolygon:
		return domain.GeometryMultiPolygon, nil
	case domain.GeometryLineString:
		return domain.GeometryMultiLineString, nil
	case domain.GeometryMultiPoint:
		return domain.GeometryPoint, nil
	default:
		return "", &domain.UnsupportedGeometryKindError{Kind: string(kind)}
	}
}

// Establish determines the kind of t's geometry column and commits it.
//
// A requested kind wins; otherwise a typed column's declared kind is used;
// otherwise up to GeometrySampleSize rows are sampled and the first specific
// type found wins. The result is normalized and, unless nothing could be
// detected, persisted on t. A table without a geometry column yields nil.
func (n *Normalizer) Establish(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, requested *domain.GeometryKind) (*domain.GeometryKind, error) {
	col, ok, err := n.geometryColumn(ctx, ns, t.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var kind domain.GeometryKind
	detected := true
	switch declared := domain.ParseGeometryKind(col.GeometrySubtype); {
	case requested != nil:
		kind = *requested
	case declared != "" && declared != domain.GeometryGeneric:
		kind = declared
	default:
		kind, err = n.kinds.Resolve(t.ID, func() (domain.GeometryKind, bool, error) {
			return n.detect(ctx, ns, t.Name)
		})
		if err != nil {
			return nil, err
		}
		detected = kind != domain.GeometryGeneric
	}

	canonical, err := n.normalize(ctx, ns, t, col, kind)
	if err != nil {
		return nil, err
	}
	if !detected {
		return &canonical, nil
	}

	t.GeometryKind = &canonical
	if err := n.tables.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist geometry kind: %w", err)
	}
	n.logger.Info("geometry kind established", "table", t.Name, "owner", t.OwnerID, "kind", canonical)
	return &canonical, nil
}

// Forget drops the cached geometry kind of a table.
func (n *Normalizer) Forget(tableID string) {
	n.kinds.Expire(tableID)
}

// Normalize converts t's geometry column to the canonical form of kind and
// returns that canonical kind. A column already in that form is left alone.
func (n *Normalizer) Normalize(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, kind domain.GeometryKind) (domain.GeometryKind, error) {
	col, ok, err := n.geometryColumn(ctx, ns, t.Name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNotFound("table %q has no geometry column", t.Name)
	}
	return n.normalize(ctx, ns, t, col, kind)
}

func (n *Normalizer) normalize(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, col domain.RawColumn, kind domain.GeometryKind) (domain.GeometryKind, error) {
	target, err := CanonicalKind(kind)
	if err != nil {
		return "", err
	}
	if target == domain.GeometryGeneric {
		n.kinds.Remember(t.ID, target, false)
		return target, nil
	}
	if domain.ParseGeometryKind(col.GeometrySubtype) != target {
		n.logger.Info("converting geometry column", "table", t.Name, "from", col.GeometrySubtype, "to", target)
		if err := n.store.ConvertGeometryColumn(ctx, ns, t.Name, target); err != nil {
			return "", err
		}
	}
	n.kinds.Remember(t.ID, target, true)
	return target, nil
}

// detect samples non-null geometries; the first specific type wins.
func (n *Normalizer) detect(ctx context.Context, ns domain.Namespace, table string) (domain.GeometryKind, bool, error) {
	types, err := n.store.SampleGeometryTypes(ctx, ns, table, domain.GeometrySampleSize)
	if err != nil {
		return "", false, fmt.Errorf("sample geometry of %s: %w", table, err)
	}
	for _, typ := range types {
		if kind := domain.ParseGeometryKind(typ); kind != "" && kind != domain.GeometryGeneric {
			return kind, true, nil
		}
	}
	return domain.GeometryGeneric, false, nil
}

func (n *Normalizer) geometryColumn(ctx context.Context, ns domain.Namespace, table string) (domain.RawColumn, bool, error) {
	cols, err := n.store.Columns(ctx, ns, table)
	if err != nil {
		return domain.RawColumn{}, false, err
	}
	for _, c := range cols {
		if c.Name == domain.ColumnGeometry {
			return c, true, nil
		}
	}
	return domain.RawColumn{}, false, nil
}
