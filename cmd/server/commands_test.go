package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/store"
)

type fakeScanner struct {
	hits  []retrieval.Hit
	calls int
}

func (f *fakeScanner) Scan(context.Context) []retrieval.Hit {
	f.calls++
	return f.hits
}

func TestCleanupCommandFlags(t *testing.T) {
	cmd := newCleanupCmd()
	assert.Equal(t, "cleanup", cmd.Use)

	flag := cmd.Flags().Lookup("days")
	require.NotNil(t, flag)
	assert.Equal(t, "30", flag.DefValue)

	require.NoError(t, cmd.Flags().Parse([]string{"--days", "7"}))
	days, err := cmd.Flags().GetInt("days")
	require.NoError(t, err)
	assert.Equal(t, 7, days)
}

func TestCleanupCommandRejectsNonPositiveDays(t *testing.T) {
	for _, arg := range []string{"0", "-3"} {
		cmd := newCleanupCmd()
		cmd.SetArgs([]string{"--days", arg})
		cmd.SetOut(&strings.Builder{})
		cmd.SetErr(&strings.Builder{})

		// Validation fails before any configuration or database is touched.
		err := cmd.ExecuteContext(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--days must be positive")
	}
}

func TestSyncArticlesCommandTakesNoArgs(t *testing.T) {
	cmd := newSyncArticlesCmd()
	assert.Equal(t, "sync-articles", cmd.Use)
	assert.NoError(t, cmd.Args(cmd, nil))
	assert.Error(t, cmd.Args(cmd, []string{"extra"}))
}

func TestRunCleanup(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.SaveTurn(ctx, store.Turn{UserID: "u1", UserMessage: "ciao", Reply: "Ciao!"})
	require.NoError(t, err)
	require.NoError(t, db.SaveMessage(ctx, &store.Message{ConversationID: 999, Role: store.RoleUser, Content: "orfano"}))

	res, err := runCleanup(ctx, db, defaultCleanupDays, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Messages)

	st, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Messages)

	_, err = runCleanup(ctx, db, 0, zap.NewNop())
	assert.Error(t, err)
}

func TestSyncArticles(t *testing.T) {
	src := &fakeScanner{hits: []retrieval.Hit{
		{Table: "wp_posts", Source: "alfassa.org", Data: map[string]any{"post_title": "Roadmap", "guid": "https://www.alfassa.org/?p=1"}},
		{Table: "misc", Source: "other", Data: map[string]any{"title": "Nessun link"}},
	}}
	path := filepath.Join(t.TempDir(), "cache", "nested", "articles.json")

	n, err := syncArticles(context.Background(), src, map[string]string{"alfassa.org": "https://www.alfassa.org"}, path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, src.calls)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  {")
	var articles []retrieval.ExportedArticle
	require.NoError(t, json.Unmarshal(raw, &articles))
	require.Len(t, articles, 1)
	assert.Equal(t, "Roadmap", articles[0].Title)
	assert.Equal(t, "https://www.alfassa.org/?p=1", articles[0].URL)
}

func TestSyncArticlesWritesEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "articles.json")

	n, err := syncArticles(context.Background(), &fakeScanner{}, nil, path, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}
