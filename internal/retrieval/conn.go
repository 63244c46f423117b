package retrieval

import (
	"context"

	"github.com/alfassa/alfaai-gateway/internal/config"
)

// Introspector discovers the searchable shape of a database at query time.
type Introspector interface {
	Tables(ctx context.Context) ([]string, error)
	TextColumns(ctx context.Context, table string) ([]string, error)
}

// PostRow is one scored row of a WordPress-style posts table.
type PostRow struct {
	ID      int64
	Title   string
	Date    string
	Content string
	Name    string
	Score   int
}

// Conn is one open connection to an external database.
type Conn interface {
	Introspector
	// SearchRows returns rows of table where any of columns contains pattern.
	SearchRows(ctx context.Context, table string, columns []string, pattern string, limit int) ([]map[string]any, error)
	// PostsTable returns the first table named like *_posts, or "".
	PostsTable(ctx context.Context) (string, error)
	// SiteURL reads siteurl (preferred) or home from an options table.
	SiteURL(ctx context.Context, optionsTable string) (string, error)
	// ScoredPosts runs the relevance query over a posts table.
	ScoredPosts(ctx context.Context, table string, tokens []string, limit int) ([]PostRow, error)
	Close() error
}

// Dialer opens a fresh connection for a profile. Connections are never pooled
// across retrieval calls.
type Dialer interface {
	Dial(ctx context.Context, p config.Profile) (Conn, error)
}
