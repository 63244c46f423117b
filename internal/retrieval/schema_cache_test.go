package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/config"
)

type countingSchema struct {
	tables      []string
	columns     map[string][]string
	tableCalls  int
	columnCalls int
}

func (c *countingSchema) Tables(context.Context) ([]string, error) {
	c.tableCalls++
	return c.tables, nil
}

func (c *countingSchema) TextColumns(_ context.Context, table string) ([]string, error) {
	c.columnCalls++
	return c.columns[table], nil
}

func TestWithIntrospectorReplacesDiscovery(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{
		tables: []string{"hidden"},
		rows:   map[string][]map[string]any{"team": {{"name": "Anna"}}},
	}
	schema := &countingSchema{tables: []string{"team"}, columns: map[string][]string{"team": {"name"}}}
	var seen []string
	a := NewAdapter(&fakeDialer{conns: map[string]*fakeConn{"blog": conn}},
		[]config.Profile{{Name: "blog", Host: "h", Database: "d"}}, nil, zap.NewNop(),
		WithIntrospector(func(_ Conn, p config.Profile) Introspector {
			seen = append(seen, p.Label())
			return schema
		}))

	hits := a.Search(context.Background(), "Anna")
	require.Len(t, hits, 1)
	assert.Equal(t, "team", hits[0].Table)
	assert.Equal(t, []string{"blog"}, seen)
	assert.Equal(t, []string{"team"}, conn.searched)
}

func TestSchemaCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	live := &countingSchema{tables: []string{"team"}, columns: map[string][]string{"team": {"name"}}}
	conn := &fakeConn{}
	p := config.Profile{Name: "blog"}

	cache := NewSchemaCache(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		schema := cache.Introspect(conn, p).(*cachedSchema)
		schema.live = live
		tables, err := schema.Tables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"team"}, tables)
		cols, err := schema.TextColumns(ctx, "team")
		require.NoError(t, err)
		assert.Equal(t, []string{"name"}, cols)
	}
	assert.Equal(t, 1, live.tableCalls)
	assert.Equal(t, 1, live.columnCalls)

	now = now.Add(2 * time.Minute)
	schema := cache.Introspect(conn, p).(*cachedSchema)
	schema.live = live
	_, err := schema.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, live.tableCalls)
}

func TestSchemaCacheThroughAdapter(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{
		tables:  []string{"team"},
		columns: map[string][]string{"team": {"name"}},
		rows:    map[string][]map[string]any{"team": {{"name": "Anna"}}},
	}
	cache := NewSchemaCache(time.Minute)
	a := NewAdapter(&fakeDialer{conns: map[string]*fakeConn{"blog": conn}},
		[]config.Profile{{Name: "blog", Host: "h", Database: "d"}}, nil, zap.NewNop(),
		WithIntrospector(cache.Introspect))

	require.Len(t, a.Search(context.Background(), "Anna"), 1)
	conn.tables = nil
	// The second turn reuses the cached table list.
	require.Len(t, a.Search(context.Background(), "Anna"), 1)
}
