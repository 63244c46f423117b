package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler, limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	if limiter != nil {
		r.Use(limiter.Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(ParseParams)

		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/branding", apiHandler.BrandingHandler)
		r.Get("/nonce", apiHandler.NonceHandler)

		// The chat turn checks its own nonce so it can answer with an error event.
		r.Post("/chat", apiHandler.ChatHandler)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.RequireNonce)

			r.Post("/chat/vision", apiHandler.ChatVisionHandler)

			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Get("/conversations/{conversationID}/messages", apiHandler.MessagesHandler)
			r.Post("/conversations/{conversationID}/export", apiHandler.ExportHandler)
			r.Get("/history", apiHandler.HistoryHandler)

			r.Post("/images", apiHandler.ImageHandler)
			r.Post("/videos", apiHandler.VideoHandler)
			r.Get("/videos/{jobID}", apiHandler.VideoStatusHandler)

			r.Post("/ocr", apiHandler.OCRHandler)
			r.Post("/stt", apiHandler.STTHandler)
			r.Post("/tts", apiHandler.TTSHandler)
			r.Post("/translate", apiHandler.TranslateHandler)
		})
	})

	return r
}
