package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	imageModel = "dall-e-3"
	imageSize  = "1024x1024"
)

var ErrImageGeneration = errors.New("Errore nella generazione dell'immagine")

type GeneratedImage struct {
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`
}

// GenerateImage creates one image for prompt.
func (s *Service) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	prompt = strings.TrimSpace(prompt)
	if s.opts.OpenAIKey == "" {
		return nil, ErrMissingKey
	}
	if prompt == "" {
		return nil, fmt.Errorf("empty prompt: %w", ErrImageGeneration)
	}

	payload, err := json.Marshal(map[string]any{
		"model":  imageModel,
		"prompt": prompt,
		"n":      1,
		"size":   imageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.OpenAIBase+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.opts.OpenAIKey)

	var resp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := s.do(req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageGeneration, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, ErrImageGeneration
	}
	return &GeneratedImage{ImageURL: resp.Data[0].URL, Prompt: prompt}, nil
}
