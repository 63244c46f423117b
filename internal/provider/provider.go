// Package provider talks to the LLM backends and decides which one answers a turn.
package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const (
	OpenAI      = "openai"
	Gemini      = "gemini"
	DeepSeek    = "deepseek"
	SystemError = "system_error"

	// NoModel is reported for turns answered without a backend.
	NoModel = "none"

	longMessageBytes = 1000
)

var (
	ErrMissingKey = errors.New("api key not configured")

	fallbackOrder = []string{OpenAI, Gemini, DeepSeek}
	displayNames  = map[string]string{OpenAI: "OpenAI", Gemini: "Gemini", DeepSeek: "DeepSeek"}

	codeRe = regexp.MustCompile(`\b(code|coding|debug|programming|function|class|error|bug|fix)\b`)
	longRe = regexp.MustCompile(`\b(analyze|document|image|vision|long|detailed)\b`)
)

// Request is one prompt for a backend.
type Request struct {
	Prompt      string
	System      string
	Temperature float32
	MaxTokens   int // 0 lets the backend decide
}

// Result is a fully buffered answer. Badges describe where it came from.
type Result struct {
	Text   string
	Badges []string
}

// Backend is one LLM service. Backends without a streaming API emit their
// buffered answer as a single chunk.
type Backend interface {
	Name() string
	Model() string
	Configured() bool
	Complete(ctx context.Context, req Request) (Result, error)
	Stream(ctx context.Context, req Request, onChunk func(string)) (string, error)
}

// DisplayName is the human name of a backend.
func DisplayName(name string) string {
	if d, ok := displayNames[name]; ok {
		return d
	}
	return name
}

func missingKeyResult(name string) (Result, error) {
	return Result{Badges: []string{DisplayName(name) + ": missing key"}}, fmt.Errorf("%s: %w", name, ErrMissingKey)
}

// MissingKeyMessage is the reply of a turn no backend can answer.
func MissingKeyMessage(name string) string {
	return fmt.Sprintf("Errore: La chiave API per %s non è configurata nel pannello di amministrazione.", DisplayName(name))
}

// Gateway routes turns to the configured backends.
type Gateway struct {
	backends  map[string]Backend
	modelMode string
	logger    *zap.Logger
}

func NewGateway(modelMode string, logger *zap.Logger, backends ...Backend) *Gateway {
	g := &Gateway{
		backends:  make(map[string]Backend, len(backends)),
		modelMode: strings.ToLower(strings.TrimSpace(modelMode)),
		logger:    logger,
	}
	for _, b := range backends {
		g.backends[b.Name()] = b
	}
	return g
}

// Route picks a backend name for the message without looking at keys.
// An explicit preference wins, then a fixed model mode, then keyword routing.
func (g *Gateway) Route(message, preference string) string {
	preference = strings.ToLower(strings.TrimSpace(preference))
	if preference != "" && preference != "auto" {
		return preference
	}
	if g.modelMode != "" && g.modelMode != "auto" && g.modelMode != "auto_web" {
		return g.modelMode
	}

	lower := strings.ToLower(message)
	if codeRe.MatchString(lower) {
		return DeepSeek
	}
	if len(message) > longMessageBytes || longRe.MatchString(lower) {
		return Gemini
	}
	return OpenAI
}

// Pick returns the backend for the message. When the routed backend has no
// key the first configured one in fallback order answers instead. The
// returned name is the routed one, used for the missing-key message.
func (g *Gateway) Pick(message, preference string) (Backend, string, error) {
	routed := g.Route(message, preference)
	if b, ok := g.backends[routed]; ok && b.Configured() {
		return b, routed, nil
	}
	for _, name := range fallbackOrder {
		if b, ok := g.backends[name]; ok && b.Configured() {
			g.logger.Debug("Routed provider unavailable, falling back",
				zap.String("routed", routed), zap.String("provider", name))
			return b, routed, nil
		}
	}
	return nil, routed, fmt.Errorf("%s: %w", routed, ErrMissingKey)
}

// Backend returns a backend by name.
func (g *Gateway) Backend(name string) (Backend, bool) {
	b, ok := g.backends[name]
	return b, ok
}

// ChatRequest is the request used for a chat turn on the named backend.
func ChatRequest(name, prompt string) Request {
	switch name {
	case OpenAI:
		return Request{Prompt: prompt, System: chatSystemPrompt, Temperature: 0.6}
	case DeepSeek:
		return Request{Prompt: prompt, System: deepSeekSystemPrompt, Temperature: 0.7, MaxTokens: 2000}
	default:
		return Request{Prompt: prompt, System: chatSystemPrompt, Temperature: 0.7}
	}
}

var chatSystemPrompt = strings.Join([]string{
	"Sei **AlfaAI**, assistente professionale del Team IT di ALFASSA.",
	"Rispondi **in italiano** e in **Markdown pulito**: usa titoli (##), elenchi numerati (1., 2., …), paragrafi brevi e link in formato [testo](url).",
	"Evita assolutamente emoji o icone.",
	"Non menzionare database o note interne; scrivi in prosa naturale e professionale.",
}, "\n")

const deepSeekSystemPrompt = "Sei AlfaAI, un assistente AI professionale creato dal Team IT di Alfassa. " +
	"Rispondi in modo cortese, professionale e dettagliato in lingua italiana. " +
	"Non dire mai che sei un modello linguistico di OpenAI."
