package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"geotables/internal/domain"
)

// maxGeometryKinds bounds each of the two kind caches.
const maxGeometryKinds = 10000

// GeometryKinds caches the detected geometry kind of each table. A table whose
// sample had no geometry is remembered for the short TTL so new rows are
// picked up quickly; a detected kind is kept for the long TTL.
type GeometryKinds struct {
	empty    *expirable.LRU[string, domain.GeometryKind]
	detected *expirable.LRU[string, domain.GeometryKind]
	group    singleflight.Group
}

// NewGeometryKinds creates a GeometryKinds cache. A non-positive TTL turns
// off caching for that class of entry.
func NewGeometryKinds(emptyTTL, kindTTL time.Duration) *GeometryKinds {
	return &GeometryKinds{
		empty:    newKindLRU(emptyTTL),
		detected: newKindLRU(kindTTL),
	}
}

func newKindLRU(ttl time.Duration) *expirable.LRU[string, domain.GeometryKind] {
	if ttl <= 0 {
		return nil
	}
	return expirable.NewLRU[string, domain.GeometryKind](maxGeometryKinds, nil, ttl)
}

var _ domain.GeometryKindCache = (*GeometryKinds)(nil)

// Get returns the cached kind for tableID.
func (g *GeometryKinds) Get(tableID string) (domain.GeometryKind, bool) {
	for _, lru := range []*expirable.LRU[string, domain.GeometryKind]{g.detected, g.empty} {
		if lru == nil {
			continue
		}
		if kind, ok := lru.Get(tableID); ok {
			return kind, true
		}
	}
	return "", false
}

// Remember caches kind. detected is false when the sample held no geometry.
func (g *GeometryKinds) Remember(tableID string, kind domain.GeometryKind, detected bool) {
	g.Expire(tableID)
	target := g.empty
	if detected {
		target = g.detected
	}
	if target != nil {
		target.Add(tableID, kind)
	}
}

// Expire forgets tableID.
func (g *GeometryKinds) Expire(tableID string) {
	if g.empty != nil {
		g.empty.Remove(tableID)
	}
	if g.detected != nil {
		g.detected.Remove(tableID)
	}
}

// Resolve returns the cached kind or runs detect once for all concurrent
// callers asking about the same table, caching its result.
func (g *GeometryKinds) Resolve(tableID string, detect func() (domain.GeometryKind, bool, error)) (domain.GeometryKind, error) {
	if kind, ok := g.Get(tableID); ok {
		return kind, nil
	}
	v, err, _ := g.group.Do(tableID, func() (any, error) {
		kind, detected, err := detect()
		if err != nil {
			return domain.GeometryKind(""), err
		}
		g.Remember(tableID, kind, detected)
		return kind, nil
	})
	if err != nil {
		return "", err
	}
	return v.(domain.GeometryKind), nil
}
