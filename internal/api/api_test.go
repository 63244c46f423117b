package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/auth"
	"github.com/alfassa/alfaai-gateway/internal/core"
	"github.com/alfassa/alfaai-gateway/internal/images"
	"github.com/alfassa/alfaai-gateway/internal/knowledge"
	"github.com/alfassa/alfaai-gateway/internal/media"
	"github.com/alfassa/alfaai-gateway/internal/provider"
	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/search"
	"github.com/alfassa/alfaai-gateway/internal/store"
)

const (
	testSecret     = "test-secret"
	testSiteSecret = "site-secret"
)

type testServer struct {
	handler http.Handler
	store   *store.SQLiteStore
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	logger := zap.NewNop()

	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Risposta ", "di prova"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(llm.Close)

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	web, err := search.NewClient(context.Background(), search.Options{}, logger)
	require.NoError(t, err)
	chat := core.NewChatService(core.Deps{
		Retriever: retrieval.NewAdapter(retrieval.MySQLDialer{}, nil, nil, logger),
		Knowledge: knowledge.New("testdata/missing.json", logger),
		Web:       web,
		Images:    images.NewResolver(web, nil, logger),
		Gateway:   provider.NewGateway("auto", logger, provider.NewOpenAI("sk-test", llm.URL, logger)),
		Store:     db,
		VerifyNonce: func(token string) (string, error) {
			return auth.ValidateNonce(testSecret, token)
		},
		Logger: logger,
	})
	md, err := media.NewService(context.Background(), media.Options{}, db, logger)
	require.NoError(t, err)

	h := NewAPIHandler(chat, db, md, Options{
		NonceSecret: testSecret,
		SiteSecret:  testSiteSecret,
		NonceTTL:    time.Hour,
		Branding:    Branding{Name: "AlfaAI Professional", Color: "#2563eb", Theme: "auto"},
	}, logger)
	return &testServer{handler: NewRouter(h, limiter), store: db}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func nonceFor(t *testing.T, user string) string {
	t.Helper()
	token, err := auth.IssueNonce(testSecret, user, time.Hour)
	require.NoError(t, err)
	return token
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (bool, map[string]any) {
	t.Helper()
	var env struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Success, env.Data
}

func TestNonceRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)
	assertion, err := auth.IssueSiteAssertion(testSiteSecret, "42", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/nonce", nil)
	req.Header.Set(userTokenHeader, assertion)
	rec := srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	ok, data := decode(t, rec)
	require.True(t, ok)
	user, err := auth.ValidateNonce(testSecret, data["nonce"].(string))
	require.NoError(t, err)
	assert.Equal(t, "42", user)
	assert.EqualValues(t, 3600, data["expires_in"])
}

func TestNonceIgnoresUnsignedIdentity(t *testing.T) {
	srv := newTestServer(t, nil)
	_, err := srv.store.SaveTurn(context.Background(), store.Turn{UserID: "victim", UserMessage: "progetto riservato", Reply: "ok"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/nonce", nil)
	req.Header.Set("X-Alfaai-User", "victim")
	rec := srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decode(t, rec)
	nonce := data["nonce"].(string)

	user, err := auth.ValidateNonce(testSecret, nonce)
	require.NoError(t, err)
	assert.Equal(t, "", user)

	list := httptest.NewRequest(http.MethodGet, "/api/conversations?nonce="+url.QueryEscape(nonce), nil)
	rec = srv.do(list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "progetto riservato")
}

func TestNonceRejectsForgedAssertion(t *testing.T) {
	srv := newTestServer(t, nil)
	forged, err := auth.IssueSiteAssertion("guessed-secret", "victim", time.Minute)
	require.NoError(t, err)

	for _, token := range []string{forged, "victim"} {
		req := httptest.NewRequest(http.MethodGet, "/api/nonce", nil)
		req.Header.Set(userTokenHeader, token)
		rec := srv.do(req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		ok, data := decode(t, rec)
		assert.False(t, ok)
		assert.NotContains(t, data, "nonce")
	}
}

func TestBranding(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/branding", nil))

	ok, data := decode(t, rec)
	assert.True(t, ok)
	assert.Equal(t, "AlfaAI Professional", data["name"])
	assert.Equal(t, "#2563eb", data["color"])
}

func TestChatStream(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(postForm("/api/chat?stream=1", url.Values{"message": {"ciao"}, "nonce": {nonceFor(t, "u1")}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream; charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: meta\ndata: {\"format\":\"plain\"}\n\n"), body)
	assert.Contains(t, body, "event: response_chunk\n")
	assert.Contains(t, body, "event: response\n")
	assert.True(t, strings.HasSuffix(body, "\"message\":\"Stream completed successfully\"}\n\n"), body)
	assert.Equal(t, 1, strings.Count(body, "event: done\n"))
}

func TestChatStreamRejectsBadNonce(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(postForm("/api/chat?stream=1", url.Values{"message": {"ciao"}, "nonce": {"forged"}}))
	assert.Equal(t, "event: error\ndata: {\"message\":\"Nonce verification failed\"}\n\n", rec.Body.String())

	st, err := srv.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Conversations)
}

func TestChatJSON(t *testing.T) {
	srv := newTestServer(t, nil)

	body := fmt.Sprintf(`{"message":"Spiegami la storia dell'impero romano","nonce":%q,"conversation_id":0}`, nonceFor(t, "u1"))
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	ok, data := decode(t, rec)
	require.True(t, ok)
	assert.Equal(t, "Risposta di prova", data["content"])
	assert.Equal(t, "openai", data["provider"])
	assert.Equal(t, "markdown", data["format"])
	assert.NotZero(t, data["conversation_id"])
	assert.Equal(t, map[string]any{"web_sources": []any{}, "images": []any{}}, data["attachments"])
}

func TestChatErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(postForm("/api/chat", url.Values{"message": {"ciao"}}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	ok, data := decode(t, rec)
	assert.False(t, ok)
	assert.Equal(t, "Nonce verification failed", data["message"])

	req := postForm("/api/chat", url.Values{"message": {"   "}})
	req.Header.Set(nonceHeader, nonceFor(t, ""))
	rec = srv.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, data = decode(t, rec)
	assert.Equal(t, "Messaggio vuoto", data["message"])
}

func TestConversationsAreScopedToCaller(t *testing.T) {
	srv := newTestServer(t, nil)
	owner := nonceFor(t, "u1")

	rec := srv.do(postForm("/api/chat", url.Values{"message": {"ciao"}, "nonce": {owner}}))
	_, data := decode(t, rec)
	convID := int64(data["conversation_id"].(float64))

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set(nonceHeader, owner)
	rec = srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []store.Conversation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, convID, list.Data[0].ID)

	path := fmt.Sprintf("/api/conversations/%d/messages?nonce=%s", convID, owner)
	rec = srv.do(httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs struct {
		Data []store.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs.Data, 2)
	assert.Equal(t, store.RoleUser, msgs.Data[0].Role)

	path = fmt.Sprintf("/api/conversations/%d/messages?nonce=%s", convID, nonceFor(t, "intruder"))
	rec = srv.do(httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(postForm(fmt.Sprintf("/api/conversations/%d/export", convID), url.Values{"nonce": {owner}, "format": {"json"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	_, data = decode(t, rec)
	assert.Equal(t, fmt.Sprintf("conversation_%d.json", convID), data["filename"])
	assert.Equal(t, "application/json", data["mime_type"])
}

func TestVideoJobLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	nonce := nonceFor(t, "u1")

	rec := srv.do(postForm("/api/videos", url.Values{"nonce": {nonce}, "prompt": {"alba in montagna"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decode(t, rec)
	jobID := data["job_id"].(string)
	assert.True(t, strings.HasPrefix(jobID, media.MockJobPrefix))
	assert.Equal(t, media.StatusQueued, data["status"])

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+jobID, nil)
	req.Header.Set(nonceHeader, nonce)
	rec = srv.do(req)
	_, data = decode(t, rec)
	assert.Equal(t, media.StatusCompleted, data["status"])
	assert.Equal(t, "https://example.com/mock-video.mp4", data["result_url"])
}

func TestImageWithoutKey(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := srv.do(postForm("/api/images", url.Values{"nonce": {nonceFor(t, "")}, "prompt": {"un gatto"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ok, _ := decode(t, rec)
	assert.False(t, ok)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, NewRateLimiter(2, time.Minute))

	for i := 0; i < 2; i++ {
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/branding", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/branding", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/api/branding", nil)
	other.RemoteAddr = "203.0.113.9:4444"
	assert.Equal(t, http.StatusOK, srv.do(other).Code)
}

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := newSSEWriter(rec)
	require.NoError(t, err)

	var sink core.Sink = sse
	require.NoError(t, sink.Send(core.EventStep, core.MessagePayload{Message: "Cerco sul web..."}))
	assert.Equal(t, "event: step\ndata: {\"message\":\"Cerco sul web...\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
