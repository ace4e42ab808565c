// Package cache holds the prepared statement cache shared by a DB handle.
package cache

import (
	"database/sql"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// StmtCache is an LRU of prepared statements keyed by SQL text. Evicted
// statements are closed. It is safe for concurrent use.
type StmtCache struct {
	lru      *lru.Cache[string, *sql.Stmt]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	// Evictions counts statements closed by capacity pressure or Clear.
	Evictions uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New returns a cache holding at most capacity statements.
func New(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &StmtCache{capacity: capacity}
	// NewWithEvict only fails for a non-positive size.
	c.lru, _ = lru.NewWithEvict(capacity, func(_ string, stmt *sql.Stmt) {
		c.evictions.Add(1)
		_ = stmt.Close()
	})
	return c
}

// Get returns the statement prepared for query.
func (c *StmtCache) Get(query string) (*sql.Stmt, bool) {
	stmt, ok := c.lru.Get(query)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return stmt, ok
}

// Set stores stmt for query, closing any statement it replaces.
func (c *StmtCache) Set(query string, stmt *sql.Stmt) {
	if old, ok := c.lru.Peek(query); ok && old != stmt {
		_ = old.Close()
	}
	c.lru.Add(query, stmt)
}

// Len returns the number of cached statements.
func (c *StmtCache) Len() int {
	return c.lru.Len()
}

// Clear closes and drops every cached statement.
func (c *StmtCache) Clear() {
	c.lru.Purge()
}

// Stats returns current counters.
func (c *StmtCache) Stats() Stats {
	return Stats{
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
