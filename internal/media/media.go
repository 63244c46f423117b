// Package media wraps the image, video, vision, speech and translation APIs
// exposed next to the chat.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"
	texttospeech "google.golang.org/api/texttospeech/v1"
	translate "google.golang.org/api/translate/v2"
	vision "google.golang.org/api/vision/v1"

	"github.com/alfassa/alfaai-gateway/internal/store"
)

const (
	defaultOpenAIBase = "https://api.openai.com"

	mediaTimeout = 60 * time.Second
	maxErrorBody = 4096
)

var ErrMissingKey = errors.New("api key not configured")

// VideoStore persists video jobs.
type VideoStore interface {
	CreateVideoJob(ctx context.Context, job *store.VideoJob) error
	GetVideoJob(ctx context.Context, id string) (*store.VideoJob, error)
	UpdateVideoJob(ctx context.Context, id, status, videoURL, errMsg string) error
}

type Options struct {
	OpenAIKey string
	GoogleKey string

	// OpenAIBase and GoogleEndpoint override the API base URLs. GoogleEndpoint
	// applies to the Vision, Speech, Text-to-Speech and Translation clients.
	OpenAIBase     string
	GoogleEndpoint string

	// HTTPClient carries the OpenAI calls.
	HTTPClient *http.Client
}

type Service struct {
	opts   Options
	jobs   VideoStore
	logger *zap.Logger

	// Google clients, nil without a key.
	vision     *vision.Service
	speech     *speech.Service
	tts        *texttospeech.Service
	translator *translate.Service
}

func NewService(ctx context.Context, opts Options, jobs VideoStore, logger *zap.Logger) (*Service, error) {
	if opts.OpenAIBase == "" {
		opts.OpenAIBase = defaultOpenAIBase
	}
	opts.OpenAIBase = strings.TrimRight(opts.OpenAIBase, "/")
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: mediaTimeout}
	}
	s := &Service{opts: opts, jobs: jobs, logger: logger}
	if opts.GoogleKey == "" {
		return s, nil
	}

	gopts := []option.ClientOption{option.WithAPIKey(opts.GoogleKey)}
	if opts.GoogleEndpoint != "" {
		gopts = append(gopts, option.WithEndpoint(opts.GoogleEndpoint))
	}
	var err error
	if s.vision, err = vision.NewService(ctx, gopts...); err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	if s.speech, err = speech.NewService(ctx, gopts...); err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	if s.tts, err = texttospeech.NewService(ctx, gopts...); err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}
	if s.translator, err = translate.NewService(ctx, gopts...); err != nil {
		return nil, fmt.Errorf("failed to create translation client: %w", err)
	}
	return s, nil
}

func (s *Service) GoogleConfigured() bool { return s.vision != nil }

// do sends req and decodes a 200 JSON answer into dst.
func (s *Service) do(req *http.Request, dst any) error {
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
