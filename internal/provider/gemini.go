package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const geminiChatModel = "gemini-1.5-flash"

// GeminiBackend wraps the Gemini SDK client. Without a key it is an
// unconfigured backend that reports ErrMissingKey.
type GeminiBackend struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGemini(ctx context.Context, apiKey string, logger *zap.Logger, opts ...option.ClientOption) (*GeminiBackend, error) {
	g := &GeminiBackend{model: geminiChatModel, logger: logger}
	if apiKey == "" {
		return g, nil
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *GeminiBackend) Close() {
	if g.client == nil {
		return
	}
	if err := g.client.Close(); err != nil {
		g.logger.Warn("Error closing GenAI client", zap.Error(err))
	}
}

func (g *GeminiBackend) Name() string     { return Gemini }
func (g *GeminiBackend) Model() string    { return g.model }
func (g *GeminiBackend) Configured() bool { return g.client != nil }

func (g *GeminiBackend) generativeModel(req Request) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	temp := req.Temperature
	cfg := genai.GenerationConfig{Temperature: &temp}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		cfg.MaxOutputTokens = &maxTokens
	}
	model.GenerationConfig = cfg
	return model
}

func (g *GeminiBackend) Complete(ctx context.Context, req Request) (Result, error) {
	if !g.Configured() {
		return missingKeyResult(Gemini)
	}
	resp, err := g.generativeModel(req).GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		err = fmt.Errorf("gemini GenerateContent failed: %w", err)
		return Result{Badges: []string{"Gemini error: " + err.Error()}}, err
	}
	return Result{Text: responseText(resp), Badges: []string{DisplayName(Gemini)}}, nil
}

func (g *GeminiBackend) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	if !g.Configured() {
		_, err := missingKeyResult(Gemini)
		return "", err
	}
	iter := g.generativeModel(req).GenerateContentStream(ctx, genai.Text(req.Prompt))
	var full strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("gemini stream failed: %w", err)
		}
		piece := responseText(resp)
		if piece == "" {
			continue
		}
		full.WriteString(piece)
		if onChunk != nil {
			onChunk(piece)
		}
	}
	return full.String(), nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}
