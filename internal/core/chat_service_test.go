package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/auth"
	"github.com/alfassa/alfaai-gateway/internal/knowledge"
	"github.com/alfassa/alfaai-gateway/internal/provider"
	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/search"
	"github.com/alfassa/alfaai-gateway/internal/store"
)

type event struct {
	name    string
	payload any
}

type recorder struct{ events []event }

func (r *recorder) Send(name string, payload any) error {
	r.events = append(r.events, event{name, payload})
	return nil
}

func (r *recorder) names() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

func (r *recorder) steps() []string {
	var out []string
	for _, e := range r.events {
		if e.name == EventStep {
			out = append(out, e.payload.(MessagePayload).Message)
		}
	}
	return out
}

type fakeRetriever struct {
	searches, articleSearches int
	hits                      []retrieval.Hit
	articles                  []retrieval.Article
}

func (f *fakeRetriever) Search(context.Context, string) []retrieval.Hit {
	f.searches++
	return f.hits
}

func (f *fakeRetriever) SearchArticles(context.Context, string, int) []retrieval.Article {
	f.articleSearches++
	return f.articles
}

type fakeKnowledge struct{ calls int }

func (f *fakeKnowledge) Search(string, int) []knowledge.Hit {
	f.calls++
	return nil
}

type fakeWeb struct {
	calls    []string
	results  []search.WebResult
	linkedIn search.WebResult
}

func (f *fakeWeb) Web(context.Context, string) []search.WebResult {
	f.calls = append(f.calls, "web")
	return f.results
}

func (f *fakeWeb) LinkedIn(context.Context, string) (search.WebResult, bool) {
	f.calls = append(f.calls, "linkedin")
	return f.linkedIn, f.linkedIn.URL != ""
}

type fakeImages struct {
	calls int
	got   []search.WebResult
}

func (f *fakeImages) Resolve(_ context.Context, _ string, web []search.WebResult) []string {
	f.calls++
	f.got = web
	return []string{"https://img.example/1.jpg"}
}

type streamBackend struct {
	name   string
	chunks []string
	err    error
	prompt string
}

func (b *streamBackend) Name() string     { return b.name }
func (b *streamBackend) Model() string    { return "test-model" }
func (b *streamBackend) Configured() bool { return true }

func (b *streamBackend) Complete(context.Context, provider.Request) (provider.Result, error) {
	return provider.Result{}, errors.New("not used")
}

func (b *streamBackend) Stream(_ context.Context, req provider.Request, onChunk func(string)) (string, error) {
	b.prompt = req.Prompt
	full := ""
	for _, c := range b.chunks {
		full += c
		onChunk(c)
	}
	return full, b.err
}

type failingStore struct{}

func (failingStore) SaveTurn(context.Context, store.Turn) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingStore) SaveSearch(context.Context, string, string, any, string) error { return nil }

type fixture struct {
	svc       *ChatService
	retriever *fakeRetriever
	knowledge *fakeKnowledge
	web       *fakeWeb
	images    *fakeImages
	backend   *streamBackend
	store     *store.SQLiteStore
}

func newFixture(t *testing.T, backends ...provider.Backend) *fixture {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		retriever: &fakeRetriever{},
		knowledge: &fakeKnowledge{},
		web:       &fakeWeb{},
		images:    &fakeImages{},
		store:     db,
	}
	if backends == nil {
		f.backend = &streamBackend{name: provider.OpenAI, chunks: []string{"Ecco ", "la risposta."}}
		backends = []provider.Backend{f.backend}
	}
	f.svc = NewChatService(Deps{
		Retriever: f.retriever,
		Knowledge: f.knowledge,
		Web:       f.web,
		Images:    f.images,
		Gateway:   provider.NewGateway("auto", zap.NewNop(), backends...),
		Store:     db,
		VerifyNonce: func(token string) (string, error) {
			if token != "ok" {
				return "", auth.ErrInvalidNonce
			}
			return "u1", nil
		},
		Logger: zap.NewNop(),
	})
	return f
}

func TestGreetingSkipsRetrieval(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "ciao", Nonce: "ok"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []State{StateInit, StateClassify, StateSmallTalk, StateProviding, StateSaving, StateDone}, reply.States)
	assert.Contains(t, greetings, reply.Content)
	assert.Equal(t, "assistant", reply.Provider)
	assert.Equal(t, "dialog", reply.Model)
	assert.Equal(t, "plain", reply.Format)
	assert.Zero(t, f.retriever.searches+f.retriever.articleSearches+f.knowledge.calls)
	assert.Empty(t, f.web.calls)
	assert.Empty(t, f.backend.prompt)

	assert.Equal(t, []string{EventMeta, EventResponseChunk, EventResponse, EventDone}, rec.names())
	assert.Equal(t, MetaPayload{Format: "plain"}, rec.events[0].payload)

	msgs, err := f.store.GetMessages(context.Background(), reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ciao", msgs[0].Content)
	assert.Equal(t, reply.Content, msgs[1].Content)
}

func TestSmalltalkGoesToModelWithoutRetrieval(t *testing.T) {
	f := newFixture(t)
	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "come stai?", Nonce: "ok"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Ecco la risposta.", reply.Content)
	assert.Equal(t, "come stai?", f.backend.prompt)
	assert.Zero(t, f.retriever.searches)
	assert.Zero(t, f.knowledge.calls)
}

func TestPersonQueryLooksUpLinkedInFirst(t *testing.T) {
	f := newFixture(t)
	f.web.results = []search.WebResult{
		{Title: "Mario Rossi - Wikipedia", URL: "https://it.wikipedia.org/wiki/Mario_Rossi", Description: "Voce"},
		{Title: "Doppione", URL: "https://it.wikipedia.org/wiki/Mario_Rossi", Description: "Altro"},
	}
	f.web.linkedIn = search.WebResult{Title: "Mario Rossi | LinkedIn", URL: "https://it.linkedin.com/in/mario-rossi"}
	rec := &recorder{}

	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "Mario Rossi", Nonce: "ok", Mode: "web"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"web", "linkedin"}, f.web.calls)
	assert.Equal(t, []string{
		"Analizzo dati interni...", "Cerco sul web...", "Cerco profilo LinkedIn...", "Cerco immagini pertinenti...",
	}, rec.steps())

	require.Len(t, f.images.got, 2)
	assert.Equal(t, "https://it.linkedin.com/in/mario-rossi", f.images.got[0].URL)
	assert.Equal(t, "Profilo LinkedIn (fonte prioritaria)", f.images.got[0].Description)

	require.Len(t, reply.Attachments.WebSources, 2)
	assert.Equal(t, []string{"https://img.example/1.jpg"}, reply.Attachments.Images)
	assert.Contains(t, f.backend.prompt, "[1] Mario Rossi | LinkedIn — https://it.linkedin.com/in/mario-rossi")

	history, err := f.store.ListSearches(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestArticleRequestBypassesWebSearch(t *testing.T) {
	f := newFixture(t)
	f.retriever.articles = []retrieval.Article{{Title: "AI in azienda", URL: "https://www.alfassa.org/?p=7", Date: "2024-02-02"}}
	rec := &recorder{}

	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "dammi il link dell'articolo su AI", Nonce: "ok", Mode: "chat"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []State{StateInit, StateClassify, StateArticle, StateProviding, StateSaving, StateDone}, reply.States)
	assert.Equal(t, 1, f.retriever.articleSearches)
	assert.Empty(t, f.web.calls)
	assert.Empty(t, f.backend.prompt)
	assert.Equal(t, "alfassa_db", reply.Provider)
	assert.Equal(t, "retrieval", reply.Model)
	assert.Contains(t, reply.Content, "[Apri l’articolo →](https://www.alfassa.org/?p=7)")
	assert.Equal(t, []string{"Cerco articoli Alfassa..."}, rec.steps())
}

func TestMissingKeysStillCompleteTheTurn(t *testing.T) {
	openai := provider.NewOpenAI("", "", zap.NewNop())
	deepseek := provider.NewDeepSeek("", "", zap.NewNop())
	gemini, err := provider.NewGemini(context.Background(), "", zap.NewNop())
	require.NoError(t, err)
	f := newFixture(t, openai, gemini, deepseek)
	rec := &recorder{}

	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "Spiegami la storia dell'impero romano", Nonce: "ok"}, rec)
	require.NoError(t, err)

	assert.Equal(t, provider.SystemError, reply.Provider)
	assert.Equal(t, "none", reply.Model)
	assert.Equal(t, "Errore: La chiave API per OpenAI non è configurata nel pannello di amministrazione.", reply.Content)
	assert.Equal(t, []State{StateInit, StateClassify, StateAugmentedChat, StateProviding, StateSaving, StateDone}, reply.States)
	assert.Equal(t, EventDone, rec.names()[len(rec.events)-1])

	msgs, err := f.store.GetMessages(context.Background(), reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system_error", msgs[1].Provider)
}

func TestEventOrder(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	_, err := f.svc.Run(context.Background(), ChatRequest{Message: "Quali sono le ultime notizie sul cloud?", Nonce: "ok"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		EventMeta,
		EventStep, EventStep, EventStep,
		EventResponseChunk, EventResponseChunk,
		EventResponse, EventDone,
	}, rec.names())
	assert.Equal(t, []string{"Analizzo dati interni...", "Cerco sul web...", "Nessun risultato web; procedo senza fonti."}, rec.steps())

	done := rec.events[len(rec.events)-1].payload.(DonePayload)
	assert.Equal(t, "Stream completed successfully", done.Message)
	assert.Equal(t, "markdown", done.Format)
}

func TestInternalNotesReachThePrompt(t *testing.T) {
	f := newFixture(t)
	f.retriever.hits = []retrieval.Hit{
		{Table: "team", Data: map[string]any{"nome": "Anna Verdi", "ruolo": "CFO"}},
		{Table: "wp_options", Data: map[string]any{"name": "siteurl"}},
	}

	_, err := f.svc.Run(context.Background(), ChatRequest{Message: "Chi guida la finanza in azienda?", Nonce: "ok"}, nil)
	require.NoError(t, err)

	assert.Contains(t, f.backend.prompt, "[CONTESTO INTERNO (NON RIVELARE):]")
	assert.Contains(t, f.backend.prompt, "• Anna Verdi — CFO")
	assert.NotContains(t, f.backend.prompt, "siteurl")
}

func TestProviderFailureFallsBackToText(t *testing.T) {
	broken := &streamBackend{name: provider.OpenAI, err: errors.New("connection reset")}
	f := newFixture(t, broken)
	rec := &recorder{}

	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "Raccontami la storia di Alfassa", Nonce: "ok"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Errore generazione risposta: connection reset", reply.Content)
	assert.Equal(t, ContentPayload{Content: reply.Content}, rec.events[len(rec.events)-2].payload)

	empty := &streamBackend{name: provider.OpenAI}
	f = newFixture(t, empty)
	reply, err = f.svc.Run(context.Background(), ChatRequest{Message: "Raccontami la storia di Alfassa", Nonce: "ok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Non sono riuscito a generare una risposta in questo momento.", reply.Content)
}

func TestInvalidNonceStopsBeforeAnyWork(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}

	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "ciao", Nonce: "bad"}, rec)
	assert.ErrorIs(t, err, auth.ErrInvalidNonce)
	assert.Nil(t, reply)
	require.Len(t, rec.events, 1)
	assert.Equal(t, event{EventError, MessagePayload{Message: "Nonce verification failed"}}, rec.events[0])

	st, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Messages)
}

func TestPersistenceFailureIsNotSurfaced(t *testing.T) {
	f := newFixture(t)
	f.svc.store = failingStore{}
	rec := &recorder{}

	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "ciao", Nonce: "ok", ConversationID: 9}, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(9), reply.ConversationID)
	assert.Equal(t, EventDone, rec.names()[len(rec.events)-1])
}

// hangupSink cancels the request and fails like a closed socket on the first
// streamed chunk.
type hangupSink struct {
	cancel context.CancelFunc
	sent   []string
}

func (h *hangupSink) Send(name string, _ any) error {
	if name == EventResponseChunk {
		h.cancel()
		return errors.New("broken pipe")
	}
	h.sent = append(h.sent, name)
	return nil
}

func TestClientDisconnectStillSavesTurn(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &hangupSink{cancel: cancel}

	reply, err := f.svc.Run(ctx, ChatRequest{Message: "come stai?", Nonce: "ok"}, sink)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Equal(t, []string{EventMeta}, sink.sent)
	assert.Equal(t, "Ecco la risposta.", reply.Content)
	require.NotZero(t, reply.ConversationID)

	conv, err := f.store.GetConversation(context.Background(), reply.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "u1", conv.UserID)
	msgs, err := f.store.GetMessages(context.Background(), reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Ecco la risposta.", msgs[1].Content)
}

func TestUnknownConversationStartsANewOne(t *testing.T) {
	f := newFixture(t)

	reply, err := f.svc.Run(context.Background(), ChatRequest{Message: "ciao", Nonce: "ok", ConversationID: 4242}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, int64(4242), reply.ConversationID)

	_, err = f.store.GetConversation(context.Background(), reply.ConversationID)
	require.NoError(t, err)
	orphans, err := f.store.GetMessages(context.Background(), 4242)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
