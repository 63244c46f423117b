package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/auth"
	"github.com/alfassa/alfaai-gateway/internal/cache"
	"github.com/alfassa/alfaai-gateway/internal/config"
	"github.com/alfassa/alfaai-gateway/internal/core"
	"github.com/alfassa/alfaai-gateway/internal/images"
	"github.com/alfassa/alfaai-gateway/internal/intent"
	"github.com/alfassa/alfaai-gateway/internal/knowledge"
	"github.com/alfassa/alfaai-gateway/internal/media"
	"github.com/alfassa/alfaai-gateway/internal/provider"
	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/search"
	"github.com/alfassa/alfaai-gateway/internal/store"
)

// app holds the services shared by every command.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *store.SQLiteStore
	retriever *retrieval.Adapter
	gemini    *provider.GeminiBackend
	chat      *core.ChatService
	media     *media.Service
	closers   []func()
}

func newApp(ctx context.Context) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	config.LoadConfig()
	cfg := config.AppConfig

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { logger.Sync() })

	a.store, err = store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() { a.store.Close() })

	searchCache := cache.New(ctx, cfg.RedisURL, logger)
	if c, ok := searchCache.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { c.Close() })
	}

	web, err := search.NewClient(ctx, search.Options{
		APIKey:   cfg.GoogleAPIKey,
		CX:       cfg.GoogleCX,
		Cache:    searchCache,
		CacheTTL: cfg.CacheTTL,
	}, logger.Named("search"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.retriever = retrieval.NewAdapter(retrieval.MySQLDialer{}, cfg.Profiles, cfg.SiteURLs, logger.Named("retrieval"),
		retrieval.WithIntrospector(retrieval.NewSchemaCache(cfg.CacheTTL).Introspect))

	a.gemini, err = provider.NewGemini(ctx, cfg.GeminiAPIKey, logger.Named("gemini"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.gemini.Close)

	gateway := provider.NewGateway(cfg.ModelMode, logger.Named("provider"),
		provider.NewOpenAI(cfg.OpenAIAPIKey, "", logger.Named("openai")),
		a.gemini,
		provider.NewDeepSeek(cfg.DeepSeekAPIKey, "", logger.Named("deepseek")),
	)

	a.chat = core.NewChatService(core.Deps{
		Classifier: intent.Default,
		Retriever:  a.retriever,
		Knowledge:  knowledge.New(cfg.KnowledgePath, logger.Named("knowledge")),
		Web:        web,
		Images:     images.NewResolver(web, intent.Default, logger.Named("images")),
		Gateway:    gateway,
		Store:      a.store,
		VerifyNonce: func(token string) (string, error) {
			return auth.ValidateNonce(cfg.NonceSecret, token)
		},
		Logger: logger.Named("chat"),
	})

	a.media, err = media.NewService(ctx, media.Options{
		OpenAIKey: cfg.OpenAIAPIKey,
		GoogleKey: cfg.GoogleServicesKey,
	}, a.store, logger.Named("media"))
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("Services initialized",
		zap.Int("database_profiles", len(cfg.Profiles)),
		zap.Bool("web_search", web.Configured()),
		zap.String("model_mode", cfg.ModelMode))
	return a, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
