package core

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/assembler"
	"github.com/alfassa/alfaai-gateway/internal/auth"
	"github.com/alfassa/alfaai-gateway/internal/intent"
	"github.com/alfassa/alfaai-gateway/internal/knowledge"
	"github.com/alfassa/alfaai-gateway/internal/provider"
	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/search"
	"github.com/alfassa/alfaai-gateway/internal/store"
)

const (
	articleLimit = 8

	greetingProvider = "assistant"
	greetingModel    = "dialog"
	doneMessage      = "Stream completed successfully"

	linkedInDescription = "Profilo LinkedIn (fonte prioritaria)"
	errorReplyPrefix    = "Errore generazione risposta: "
	emptyReply          = "Non sono riuscito a generare una risposta in questo momento."

	stepInternal  = "Analizzo dati interni..."
	stepArticles  = "Cerco articoli Alfassa..."
	stepWeb       = "Cerco sul web..."
	stepLinkedIn  = "Cerco profilo LinkedIn..."
	stepImages    = "Cerco immagini pertinenti..."
	stepNoResults = "Nessun risultato web; procedo senza fonti."
)

var (
	ErrEmptyMessage = errors.New("Messaggio vuoto")

	greetings = []string{
		"Ciao! Come posso aiutarti?",
		"Ciao 👋 Dimmi pure!",
		"Ciao! In cosa posso esserti utile oggi?",
	}
)

// Retriever searches the external relational databases.
type Retriever interface {
	Search(ctx context.Context, query string) []retrieval.Hit
	SearchArticles(ctx context.Context, query string, limit int) []retrieval.Article
}

type KnowledgeSearcher interface {
	Search(query string, limit int) []knowledge.Hit
}

type WebSearcher interface {
	Web(ctx context.Context, query string) []search.WebResult
	LinkedIn(ctx context.Context, query string) (search.WebResult, bool)
}

type ImageResolver interface {
	Resolve(ctx context.Context, query string, web []search.WebResult) []string
}

// TurnStore persists finished turns and the searches they ran.
type TurnStore interface {
	SaveTurn(ctx context.Context, turn store.Turn) (int64, error)
	SaveSearch(ctx context.Context, userID, query string, results any, source string) error
}

// ChatRequest is one inbound chat call.
type ChatRequest struct {
	Message        string
	Nonce          string
	ConversationID int64
	Mode           string // chat, web, image or video
	Provider       string // auto or a backend name
}

// Reply is the outcome of a completed turn.
type Reply struct {
	Content        string            `json:"content"`
	Attachments    store.Attachments `json:"attachments"`
	Format         string            `json:"format"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	ConversationID int64             `json:"conversation_id"`
	States         []State           `json:"-"`
}

type DonePayload struct {
	Attachments store.Attachments `json:"attachments"`
	Format      string            `json:"format"`
	Message     string            `json:"message"`
}

type Deps struct {
	Classifier  *intent.Classifier
	Retriever   Retriever
	Knowledge   KnowledgeSearcher
	Web         WebSearcher
	Images      ImageResolver
	Gateway     *provider.Gateway
	Store       TurnStore
	VerifyNonce func(token string) (userID string, err error)
	Logger      *zap.Logger
}

// ChatService runs chat turns from nonce check to persistence.
type ChatService struct {
	classifier  *intent.Classifier
	retriever   Retriever
	knowledge   KnowledgeSearcher
	web         WebSearcher
	images      ImageResolver
	gateway     *provider.Gateway
	store       TurnStore
	verifyNonce func(string) (string, error)
	logger      *zap.Logger
	pick        func(n int) int
}

func NewChatService(d Deps) *ChatService {
	if d.Classifier == nil {
		d.Classifier = intent.Default
	}
	return &ChatService{
		classifier:  d.Classifier,
		retriever:   d.Retriever,
		knowledge:   d.Knowledge,
		web:         d.Web,
		images:      d.Images,
		gateway:     d.Gateway,
		store:       d.Store,
		verifyNonce: d.VerifyNonce,
		logger:      d.Logger,
		pick:        rand.IntN,
	}
}

// Gateway exposes the provider gateway for the dual response endpoint.
func (s *ChatService) Gateway() *provider.Gateway { return s.gateway }

// turn carries the per-request state of one Run.
type turn struct {
	svc    *ChatService
	sink   Sink
	req    ChatRequest
	userID string
	states []State
	sinkOK bool
}

func (t *turn) enter(s State) { t.states = append(t.states, s) }

func (t *turn) emit(event string, payload any) {
	if t.sink == nil || !t.sinkOK {
		return
	}
	if err := t.sink.Send(event, payload); err != nil {
		// The client went away. The rest of the turn runs silently and save
		// detaches from the request context.
		t.sinkOK = false
		t.svc.logger.Debug("Stopped streaming to client", zap.String("event", event), zap.Error(err))
	}
}

func (t *turn) step(message string) { t.emit(EventStep, MessagePayload{Message: message}) }

// Run executes one turn. Events go to sink as they happen; the returned Reply
// holds the final content either way. Only a failed nonce check or an empty
// message returns an error.
func (s *ChatService) Run(ctx context.Context, req ChatRequest, sink Sink) (*Reply, error) {
	t := &turn{svc: s, sink: sink, req: req, sinkOK: true}
	t.enter(StateInit)

	userID, err := s.verifyNonce(req.Nonce)
	if err != nil {
		t.enter(StateError)
		s.logger.Warn("Rejected chat request", zap.Error(err))
		t.emit(EventError, MessagePayload{Message: auth.ErrInvalidNonce.Error()})
		return nil, auth.ErrInvalidNonce
	}
	t.userID = userID

	message := strings.TrimSpace(req.Message)
	if message == "" {
		t.enter(StateError)
		t.emit(EventError, MessagePayload{Message: ErrEmptyMessage.Error()})
		return nil, ErrEmptyMessage
	}

	t.enter(StateClassify)
	var reply *Reply
	switch {
	case s.classifier.IsGreeting(message):
		t.enter(StateSmallTalk)
		t.emit(EventMeta, MetaPayload{Format: assembler.FormatPlain})
		t.enter(StateProviding)
		reply = &Reply{
			Content:  greetings[s.pick(len(greetings))],
			Format:   assembler.FormatPlain,
			Provider: greetingProvider,
			Model:    greetingModel,
		}
		t.emit(EventResponseChunk, ContentPayload{Content: reply.Content})
		t.emit(EventResponse, ContentPayload{Content: reply.Content})

	case s.classifier.IsSmalltalk(message):
		// Short chit-chat goes straight to the model without retrieval.
		t.enter(StateSmallTalk)
		t.emit(EventMeta, MetaPayload{Format: assembler.FormatMarkdown})
		t.enter(StateProviding)
		reply = t.provide(ctx, message, message, store.Attachments{})

	case s.classifier.IsArticleRequest(message):
		t.enter(StateArticle)
		t.emit(EventMeta, MetaPayload{Format: assembler.FormatMarkdown})
		t.step(stepArticles)
		articles := s.retriever.SearchArticles(ctx, message, articleLimit)
		t.enter(StateProviding)
		reply = &Reply{
			Content:  assembler.ArticleResponse(message, articles),
			Format:   assembler.FormatMarkdown,
			Provider: assembler.ArticleProvider,
			Model:    assembler.ArticleModel,
		}
		t.emit(EventResponseChunk, ContentPayload{Content: reply.Content})
		t.emit(EventResponse, ContentPayload{Content: reply.Content})

	default:
		t.enter(StateAugmentedChat)
		t.emit(EventMeta, MetaPayload{Format: assembler.FormatMarkdown})
		prompt, attachments := t.augment(ctx, message)
		t.enter(StateProviding)
		reply = t.provide(ctx, message, prompt, attachments)
	}

	t.enter(StateSaving)
	reply.ConversationID = t.save(ctx, message, reply)

	t.enter(StateDone)
	t.emit(EventDone, DonePayload{Attachments: reply.Attachments, Format: reply.Format, Message: doneMessage})
	reply.States = t.states
	return reply, nil
}

// augment adds internal notes and, when needed, web sources and images.
func (t *turn) augment(ctx context.Context, message string) (string, store.Attachments) {
	s := t.svc
	attachments := store.Attachments{WebSources: []store.WebSource{}, Images: []string{}}

	t.step(stepInternal)
	notes := assembler.BuildDBContext(s.retriever.Search(ctx, message)) +
		assembler.BuildKnowledgeContext(s.knowledge.Search(message, knowledge.DefaultLimit))
	prompt := assembler.AppendInternalNotes(message, notes)

	if t.req.Mode != "web" && !s.classifier.NeedsWebSearch(message) {
		return prompt, attachments
	}

	t.step(stepWeb)
	results := s.web.Web(ctx, message)
	if s.classifier.IsPersonQuery(message) {
		t.step(stepLinkedIn)
		if li, ok := s.web.LinkedIn(ctx, message); ok && li.URL != "" && !hasURL(results, li.URL) {
			li.Description = linkedInDescription
			results = append([]search.WebResult{li}, results...)
		}
	}
	results = assembler.DedupeWebSources(results)

	if len(results) == 0 {
		t.step(stepNoResults)
		return prompt, attachments
	}

	prompt, attachments.WebSources = assembler.AppendWebSources(prompt, results)
	if err := s.store.SaveSearch(ctx, t.userID, message, results, "web"); err != nil {
		s.logger.Warn("Failed to save search history", zap.Error(err))
	}

	t.step(stepImages)
	if imgs := s.images.Resolve(ctx, message, results); len(imgs) > 0 {
		attachments.Images = imgs
	}
	return prompt, attachments
}

func hasURL(results []search.WebResult, u string) bool {
	for _, r := range results {
		if r.URL == u {
			return true
		}
	}
	return false
}

// provide streams the answer of the routed backend. A missing key or a
// failed call still produces a textual reply.
func (t *turn) provide(ctx context.Context, message, prompt string, attachments store.Attachments) *Reply {
	s := t.svc
	reply := &Reply{Attachments: attachments, Format: assembler.FormatMarkdown}

	backend, routed, err := s.gateway.Pick(message, t.req.Provider)
	if err != nil {
		s.logger.Warn("No provider configured", zap.String("provider", routed), zap.Error(err))
		reply.Content = provider.MissingKeyMessage(routed)
		reply.Provider = provider.SystemError
		reply.Model = provider.NoModel
		t.emit(EventResponseChunk, ContentPayload{Content: reply.Content})
		t.emit(EventResponse, ContentPayload{Content: reply.Content})
		return reply
	}

	reply.Provider = backend.Name()
	reply.Model = backend.Model()
	full, err := backend.Stream(ctx, provider.ChatRequest(backend.Name(), prompt), func(piece string) {
		t.emit(EventResponseChunk, ContentPayload{Content: piece})
	})
	if err != nil {
		s.logger.Warn("Provider call failed", zap.String("provider", backend.Name()), zap.Error(err))
	}

	switch {
	case full != "":
		reply.Content = full
	case err != nil:
		reply.Content = errorReplyPrefix + err.Error()
	default:
		reply.Content = emptyReply
	}
	t.emit(EventResponse, ContentPayload{Content: reply.Content})
	return reply
}

// save persists the turn. It ignores cancellation of ctx so a disconnected
// client still gets its turn recorded. Failures are logged and never reach
// the client.
func (t *turn) save(ctx context.Context, message string, reply *Reply) int64 {
	s := t.svc
	ctx = context.WithoutCancel(ctx)
	convID, err := s.store.SaveTurn(ctx, store.Turn{
		ConversationID: t.req.ConversationID,
		UserID:         t.userID,
		UserMessage:    message,
		Reply:          reply.Content,
		Attachments:    reply.Attachments,
		Provider:       reply.Provider,
		Model:          reply.Model,
	})
	if err != nil {
		s.logger.Error("failed to persist turn",
			zap.Int64("conversation_id", t.req.ConversationID),
			zap.String("provider", reply.Provider),
			zap.Error(err))
		return t.req.ConversationID
	}
	return convID
}
