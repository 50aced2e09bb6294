// Package cache provides in-process expiring caches for schema reads and
// detected geometry kinds.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"geotables/internal/domain"
)

// maxSchemas bounds the number of cached column lists.
const maxSchemas = 1024

// Schemas caches the ordered column list of each table for a fixed TTL.
// A nil *Schemas caches nothing.
type Schemas struct {
	lru *expirable.LRU[string, []domain.Column]
}

// NewSchemas creates a Schemas cache. A non-positive ttl returns nil, which
// disables caching.
func NewSchemas(ttl time.Duration) *Schemas {
	if ttl <= 0 {
		return nil
	}
	return &Schemas{lru: expirable.NewLRU[string, []domain.Column](maxSchemas, nil, ttl)}
}

// Get returns the cached columns of tableID.
func (s *Schemas) Get(tableID string) ([]domain.Column, bool) {
	if s == nil {
		return nil, false
	}
	return s.lru.Get(tableID)
}

// Set caches cols for tableID.
func (s *Schemas) Set(tableID string, cols []domain.Column) {
	if s == nil {
		return
	}
	s.lru.Add(tableID, cols)
}

// Delete forgets tableID.
func (s *Schemas) Delete(tableID string) {
	if s == nil {
		return
	}
	s.lru.Remove(tableID)
}
