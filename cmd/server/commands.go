package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/store"
)

const defaultCleanupDays = 30

type scanner interface {
	Scan(ctx context.Context) []retrieval.Hit
}

type cleaner interface {
	Cleanup(ctx context.Context, days int) (store.CleanupResult, error)
}

func newSyncArticlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-articles",
		Short: "Export articles from the external databases to the article cache file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = syncArticles(cmd.Context(), a.retriever, a.cfg.SiteURLs, a.cfg.ArticlesCachePath, a.logger)
			return err
		},
	}
}

// syncArticles writes the article cache file and returns how many articles it holds.
func syncArticles(ctx context.Context, src scanner, siteURLs map[string]string, path string, logger *zap.Logger) (int, error) {
	articles := retrieval.ExportArticles(src.Scan(ctx), siteURLs)
	if articles == nil {
		articles = []retrieval.ExportedArticle{}
	}
	if err := writeJSONFile(path, articles); err != nil {
		return 0, err
	}
	logger.Info("Article cache written",
		zap.String("path", path),
		zap.Int("articles", len(articles)))
	return len(articles), nil
}

func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func newCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old search history, finished video jobs and orphaned messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateDays(days); err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = runCleanup(cmd.Context(), a.store, days, a.logger)
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", defaultCleanupDays, "delete records older than this many days")
	return cmd
}

func validateDays(days int) error {
	if days <= 0 {
		return fmt.Errorf("--days must be positive, got %d", days)
	}
	return nil
}

func runCleanup(ctx context.Context, st cleaner, days int, logger *zap.Logger) (store.CleanupResult, error) {
	if err := validateDays(days); err != nil {
		return store.CleanupResult{}, err
	}
	res, err := st.Cleanup(ctx, days)
	if err != nil {
		return res, fmt.Errorf("cleanup failed: %w", err)
	}
	logger.Info("Cleanup complete",
		zap.Int("days", days),
		zap.Int64("searches", res.Searches),
		zap.Int64("videos", res.Videos),
		zap.Int64("messages", res.Messages))
	return res, nil
}
