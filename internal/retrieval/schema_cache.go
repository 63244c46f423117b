package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/alfassa/alfaai-gateway/internal/config"
)

// SchemaCache remembers the tables and text columns of each profile for a
// while, so a turn does not rediscover the schema of every database.
type SchemaCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*schemaEntry
}

type schemaEntry struct {
	tables  []string
	columns map[string][]string
	expires time.Time
}

func NewSchemaCache(ttl time.Duration) *SchemaCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SchemaCache{ttl: ttl, now: time.Now, entries: make(map[string]*schemaEntry)}
}

// Introspect is an IntrospectFunc backed by the cache.
func (c *SchemaCache) Introspect(conn Conn, p config.Profile) Introspector {
	return &cachedSchema{cache: c, key: p.Label(), live: conn}
}

// entry returns the live entry for key, creating one when missing or expired.
// The caller holds c.mu.
func (c *SchemaCache) entry(key string) *schemaEntry {
	now := c.now()
	e, ok := c.entries[key]
	if !ok || now.After(e.expires) {
		e = &schemaEntry{columns: make(map[string][]string), expires: now.Add(c.ttl)}
		c.entries[key] = e
	}
	return e
}

type cachedSchema struct {
	cache *SchemaCache
	key   string
	live  Introspector
}

func (s *cachedSchema) Tables(ctx context.Context) ([]string, error) {
	s.cache.mu.Lock()
	tables := s.cache.entry(s.key).tables
	s.cache.mu.Unlock()
	if tables != nil {
		return tables, nil
	}

	tables, err := s.live.Tables(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.mu.Lock()
	s.cache.entry(s.key).tables = tables
	s.cache.mu.Unlock()
	return tables, nil
}

func (s *cachedSchema) TextColumns(ctx context.Context, table string) ([]string, error) {
	s.cache.mu.Lock()
	cols, ok := s.cache.entry(s.key).columns[table]
	s.cache.mu.Unlock()
	if ok {
		return cols, nil
	}

	cols, err := s.live.TextColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	s.cache.mu.Lock()
	s.cache.entry(s.key).columns[table] = cols
	s.cache.mu.Unlock()
	return cols, nil
}
