package images

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alfassa/alfaai-gateway/internal/intent"
	"github.com/alfassa/alfaai-gateway/internal/search"
)

const (
	MaxImages     = 3
	maxCollected  = 6
	maxMetaPages  = 6
	metaFetchConc = 3
)

// Source is the set of lookups the resolver chains together.
type Source interface {
	LinkedIn(ctx context.Context, query string) (search.WebResult, bool)
	FetchMetaImage(ctx context.Context, pageURL string) string
	KnowledgeGraphImages(ctx context.Context, query string) []string
	Images(ctx context.Context, q search.ImageQuery) []string
	WikipediaThumb(ctx context.Context, query string) string
}

// Resolver picks up to three images for a turn, preferring verified pictures
// of a named person over generic image search.
type Resolver struct {
	source     Source
	classifier *intent.Classifier
	logger     *zap.Logger
}

func NewResolver(source Source, classifier *intent.Classifier, logger *zap.Logger) *Resolver {
	if classifier == nil {
		classifier = intent.Default
	}
	return &Resolver{source: source, classifier: classifier, logger: logger}
}

// Resolve runs the fallback chain: LinkedIn and knowledge graph for people,
// image search, meta images of the web results, then Wikipedia.
func (r *Resolver) Resolve(ctx context.Context, query string, web []search.WebResult) []string {
	var out []string
	person := r.classifier.IsPersonQuery(query)

	if person {
		if li, ok := r.source.LinkedIn(ctx, query); ok && li.URL != "" {
			if img := r.source.FetchMetaImage(ctx, li.URL); img != "" {
				out = append(out, img)
			}
		}
		if len(out) < MaxImages {
			out = append(out, r.source.KnowledgeGraphImages(ctx, query)...)
		}
	}

	if len(out) < MaxImages {
		q := search.ImageQuery{Query: query, Person: person}
		if person {
			q.NameTokens = r.classifier.PersonNameTokens(query)
		}
		for _, img := range r.source.Images(ctx, q) {
			out = append(out, img)
			if len(out) >= maxCollected {
				break
			}
		}
	}

	if len(out) < MaxImages && len(web) > 0 {
		out = append(out, r.metaImages(ctx, web)...)
	}

	if len(out) < MaxImages {
		if thumb := r.source.WikipediaThumb(ctx, query); thumb != "" {
			out = append(out, thumb)
		}
	}

	out = dedupe(out)
	if len(out) > MaxImages {
		out = out[:MaxImages]
	}
	r.logger.Debug("images resolved", zap.String("query", query), zap.Bool("person", person), zap.Int("count", len(out)))
	return out
}

// metaImages scrapes the pages of up to six web results concurrently,
// keeping the order of the results.
func (r *Resolver) metaImages(ctx context.Context, web []search.WebResult) []string {
	if len(web) > maxMetaPages {
		web = web[:maxMetaPages]
	}
	found := make([]string, len(web))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metaFetchConc)
	for i, res := range web {
		if res.URL == "" {
			continue
		}
		g.Go(func() error {
			found[i] = r.source.FetchMetaImage(gctx, res.URL)
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for _, img := range found {
		if img != "" {
			out = append(out, img)
		}
	}
	return out
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, s := range list {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
