package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultOpenAIBase   = "https://api.openai.com"
	defaultDeepSeekBase = "https://api.deepseek.com"
	openAIChatModel     = "gpt-3.5-turbo"
	deepSeekChatModel   = "deepseek-chat"

	requestTimeout = 60 * time.Second
	maxErrorBody   = 4096
)

// ChatCompletions is a backend speaking the OpenAI chat-completions protocol.
// OpenAI streams; DeepSeek answers in one JSON document.
type ChatCompletions struct {
	name       string
	model      string
	endpoint   string
	apiKey     string
	streaming  bool
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAI builds the streaming OpenAI backend. An empty baseURL uses the public API.
func NewOpenAI(apiKey, baseURL string, logger *zap.Logger) *ChatCompletions {
	if baseURL == "" {
		baseURL = defaultOpenAIBase
	}
	return &ChatCompletions{
		name:       OpenAI,
		model:      openAIChatModel,
		endpoint:   strings.TrimRight(baseURL, "/") + "/v1/chat/completions",
		apiKey:     apiKey,
		streaming:  true,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

func NewDeepSeek(apiKey, baseURL string, logger *zap.Logger) *ChatCompletions {
	if baseURL == "" {
		baseURL = defaultDeepSeekBase
	}
	return &ChatCompletions{
		name:       DeepSeek,
		model:      deepSeekChatModel,
		endpoint:   strings.TrimRight(baseURL, "/") + "/chat/completions",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

func (c *ChatCompletions) Name() string     { return c.name }
func (c *ChatCompletions) Model() string    { return c.model }
func (c *ChatCompletions) Configured() bool { return c.apiKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *ChatCompletions) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s: HTTP %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (c *ChatCompletions) Complete(ctx context.Context, req Request) (Result, error) {
	if !c.Configured() {
		return missingKeyResult(c.name)
	}
	badge := DisplayName(c.name)

	resp, err := c.post(ctx, req, false)
	if err != nil {
		return Result{Badges: []string{badge + " error: " + err.Error()}}, err
	}
	defer resp.Body.Close()

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{Badges: []string{badge}}, fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	if len(decoded.Choices) == 0 {
		return Result{Badges: []string{badge}}, nil
	}
	return Result{Text: decoded.Choices[0].Message.Content, Badges: []string{badge}}, nil
}

// Stream reads server-sent "data:" lines until [DONE], passing every content
// delta to onChunk. The text accumulated so far is returned even on error.
func (c *ChatCompletions) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	if !c.Configured() {
		_, err := missingKeyResult(c.name)
		return "", err
	}
	if !c.streaming {
		res, err := c.Complete(ctx, req)
		if res.Text != "" && onChunk != nil {
			onChunk(res.Text)
		}
		return res.Text, err
	}

	resp, err := c.post(ctx, req, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("Skipping malformed stream chunk", zap.String("provider", c.name), zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		piece := chunk.Choices[0].Delta.Content
		full.WriteString(piece)
		if onChunk != nil {
			onChunk(piece)
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("failed to read %s stream: %w", c.name, err)
	}
	return full.String(), nil
}
