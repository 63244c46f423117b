package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/auth"
	"github.com/alfassa/alfaai-gateway/internal/core"
	"github.com/alfassa/alfaai-gateway/internal/media"
	"github.com/alfassa/alfaai-gateway/internal/store"
)

const (
	listLimit      = 50
	historyLimit   = 100
	maxUploadBytes = 10 << 20
)

type Branding struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Theme string `json:"theme"`
}

type Options struct {
	NonceSecret string
	NonceTTL    time.Duration
	Branding    Branding

	// SiteSecret verifies the user assertions the WordPress site sends with
	// nonce requests. Empty means every nonce is anonymous.
	SiteSecret string
}

type APIHandler struct {
	chat   *core.ChatService
	store  *store.SQLiteStore
	media  *media.Service
	opts   Options
	logger *zap.Logger
}

func NewAPIHandler(chat *core.ChatService, st *store.SQLiteStore, md *media.Service, opts Options, logger *zap.Logger) *APIHandler {
	return &APIHandler{chat: chat, store: st, media: md, opts: opts, logger: logger}
}

// envelope is the body of every non-streaming response.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Data: map[string]string{"message": message}})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("Error reading stats", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Database non disponibile")
		return
	}
	writeSuccess(w, map[string]any{"status": "ok", "stats": stats})
}

func (h *APIHandler) BrandingHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.opts.Branding)
}

// NonceHandler issues an anti-forgery token. The token is bound to a user only
// when the request carries a site assertion in X-Alfaai-User-Token; without
// one the nonce is anonymous and a bad one is refused.
func (h *APIHandler) NonceHandler(w http.ResponseWriter, r *http.Request) {
	var subject string
	if assertion := r.Header.Get(userTokenHeader); assertion != "" {
		userID, err := auth.ValidateSiteAssertion(h.opts.SiteSecret, assertion)
		if err != nil {
			h.logger.Warn("Rejected site user assertion", zap.String("ip", clientIP(r)), zap.Error(err))
			writeError(w, http.StatusForbidden, auth.ErrInvalidAssertion.Error())
			return
		}
		subject = userID
	}

	token, err := auth.IssueNonce(h.opts.NonceSecret, subject, h.opts.NonceTTL)
	if err != nil {
		h.logger.Error("Error issuing nonce", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Impossibile generare il nonce")
		return
	}
	writeSuccess(w, map[string]any{"nonce": token, "expires_in": int(h.opts.NonceTTL.Seconds())})
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	p := paramsFrom(r)
	req := core.ChatRequest{
		Message:        p.get("message"),
		Nonce:          nonceOf(r),
		ConversationID: p.int64("conversation_id"),
		Mode:           p.get("mode"),
		Provider:       p.get("provider"),
	}

	if p.bool("stream") {
		sse, err := newSSEWriter(w)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Errors were already sent as an error event.
		h.chat.Run(r.Context(), req, sse)
		return
	}

	reply, err := h.chat.Run(r.Context(), req, nil)
	switch {
	case errors.Is(err, auth.ErrInvalidNonce):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("Error running chat turn", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Errore interno")
	default:
		writeSuccess(w, reply)
	}
}

// ChatVisionHandler returns the standard and analyst answers for one prompt.
// An uploaded image is run through OCR first when Google is configured.
func (h *APIHandler) ChatVisionHandler(w http.ResponseWriter, r *http.Request) {
	p := paramsFrom(r)
	prompt := p.get("message")
	if prompt == "" {
		prompt = p.get("prompt")
	}
	if prompt == "" {
		writeError(w, http.StatusBadRequest, core.ErrEmptyMessage.Error())
		return
	}

	ocr := p.get("ocr")
	if image, _, err := readUpload(r, "image"); err == nil && h.media.GoogleConfigured() {
		res, err := h.media.AnalyzeImage(r.Context(), image)
		if err != nil {
			h.logger.Warn("OCR failed for vision chat", zap.Error(err))
		} else if res.Text != "" {
			ocr = res.Text
		}
	}

	writeSuccess(w, h.chat.Gateway().Dual(r.Context(), prompt, ocr, p.bool("deep")))
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations(r.Context(), userFrom(r), listLimit)
	if err != nil {
		h.logger.Error("Error listing conversations", zap.String("user", userFrom(r)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Impossibile caricare le conversazioni")
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeSuccess(w, convs)
}

// ownConversation loads the conversation in the URL and checks it belongs to
// the caller. It writes the error response itself.
func (h *APIHandler) ownConversation(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "ID conversazione non valido")
		return 0, false
	}
	conv, err := h.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.UserID != userFrom(r)) {
		writeError(w, http.StatusNotFound, "Conversazione non trovata")
		return 0, false
	}
	if err != nil {
		h.logger.Error("Error loading conversation", zap.Int64("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Impossibile caricare la conversazione")
		return 0, false
	}
	return id, true
}

func (h *APIHandler) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownConversation(w, r)
	if !ok {
		return
	}
	messages, err := h.store.GetMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("Error loading messages", zap.Int64("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Impossibile caricare i messaggi")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeSuccess(w, messages)
}

func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownConversation(w, r)
	if !ok {
		return
	}
	export, err := h.store.ExportConversation(r.Context(), id, paramsFrom(r).get("format"))
	if err != nil {
		h.logger.Error("Error exporting conversation", zap.Int64("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Esportazione non riuscita")
		return
	}
	writeSuccess(w, export)
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListSearches(r.Context(), userFrom(r), historyLimit)
	if err != nil {
		h.logger.Error("Error listing search history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Impossibile caricare la cronologia")
		return
	}
	if records == nil {
		records = []store.SearchRecord{}
	}
	writeSuccess(w, records)
}

func (h *APIHandler) ImageHandler(w http.ResponseWriter, r *http.Request) {
	img, err := h.media.GenerateImage(r.Context(), paramsFrom(r).get("prompt"))
	switch {
	case errors.Is(err, media.ErrMissingKey):
		writeError(w, http.StatusBadRequest, "Chiave API OpenAI non configurata")
	case err != nil:
		h.logger.Warn("Image generation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, media.ErrImageGeneration.Error())
	default:
		writeSuccess(w, img)
	}
}

func (h *APIHandler) VideoHandler(w http.ResponseWriter, r *http.Request) {
	p := paramsFrom(r)
	status, err := h.media.StartVideo(r.Context(), media.VideoRequest{
		UserID:     userFrom(r),
		Prompt:     p.get("prompt"),
		Duration:   int(p.int64("duration")),
		Resolution: p.get("resolution"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, status)
}

func (h *APIHandler) VideoStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.media.CheckVideo(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.logger.Error("Error checking video job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Impossibile verificare lo stato del video")
		return
	}
	writeSuccess(w, status)
}

func (h *APIHandler) OCRHandler(w http.ResponseWriter, r *http.Request) {
	image, _, err := readUpload(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Immagine mancante")
		return
	}
	res, err := h.media.AnalyzeImage(r.Context(), image)
	switch {
	case errors.Is(err, media.ErrMissingKey):
		writeError(w, http.StatusBadRequest, "Chiave API Google non configurata")
	case err != nil:
		h.logger.Warn("OCR failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Analisi immagine non riuscita")
	default:
		writeSuccess(w, res)
	}
}

func (h *APIHandler) STTHandler(w http.ResponseWriter, r *http.Request) {
	audio, header, err := readUpload(r, "audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Audio mancante")
		return
	}
	text, err := h.media.Transcribe(r.Context(), audio, header.Filename, header.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, media.ErrUnsupportedAudio):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeSuccess(w, map[string]string{"text": text})
	}
}

func (h *APIHandler) TTSHandler(w http.ResponseWriter, r *http.Request) {
	p := paramsFrom(r)
	audio, err := h.media.Speak(r.Context(), p.get("text"), p.get("language"), p.get("voice"))
	if err != nil {
		h.logger.Warn("Speech synthesis failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Sintesi vocale non riuscita")
		return
	}
	writeSuccess(w, map[string]string{
		"audio":     base64.StdEncoding.EncodeToString(audio),
		"mime_type": "audio/mpeg",
	})
}

func (h *APIHandler) TranslateHandler(w http.ResponseWriter, r *http.Request) {
	p := paramsFrom(r)
	text, err := h.media.Translate(r.Context(), p.get("text"), p.get("target"))
	if err != nil {
		h.logger.Warn("Translation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Traduzione non riuscita")
		return
	}
	writeSuccess(w, map[string]string{"text": text})
}

type uploadHeader struct {
	Filename string
	Header   http.Header
}

func readUpload(r *http.Request, field string) ([]byte, *uploadHeader, error) {
	if r.MultipartForm == nil {
		return nil, nil, http.ErrMissingFile
	}
	file, fh, err := r.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, nil, err
	}
	return data, &uploadHeader{Filename: fh.Filename, Header: http.Header(fh.Header)}, nil
}
