package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"
	speech "google.golang.org/api/speech/v1"
	texttospeech "google.golang.org/api/texttospeech/v1"
	translate "google.golang.org/api/translate/v2"
	vision "google.golang.org/api/vision/v1"
)

const (
	defaultLanguage = "it-IT"
	defaultVoice    = "it-IT-Wavenet-D"
	whisperModel    = "whisper-1"
	whisperLanguage = "it"
	sampleRateHertz = 48000
)

var (
	ErrUnsupportedAudio = errors.New("Formato audio non supportato")
	ErrSpeechDisabled   = errors.New("Speech-to-text non configurato. Configura le chiavi API nelle impostazioni.")

	allowedAudioTypes = map[string]bool{
		"audio/webm": true, "audio/ogg": true, "audio/mp3": true, "audio/mpeg": true, "audio/wav": true,
	}
)

// AllowedAudioType reports whether an upload can be transcribed.
func AllowedAudioType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return allowedAudioTypes[ct]
}

type VisionResult struct {
	Text       string            `json:"text"`
	Labels     []string          `json:"labels"`
	SafeSearch map[string]string `json:"safe_search,omitempty"`
}

// AnalyzeImage runs text, label and safe-search detection on an image.
func (s *Service) AnalyzeImage(ctx context.Context, image []byte) (*VisionResult, error) {
	if s.vision == nil {
		return nil, fmt.Errorf("vision request failed: %w", ErrMissingKey)
	}
	ctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image: &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{
				{Type: "TEXT_DETECTION", MaxResults: 10},
				{Type: "LABEL_DETECTION", MaxResults: 10},
				{Type: "SAFE_SEARCH_DETECTION", MaxResults: 10},
			},
		}},
	}
	resp, err := s.vision.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	if len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return &VisionResult{Labels: []string{}}, nil
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("vision request failed: %s", r.Error.Message)
	}

	out := &VisionResult{Labels: []string{}, SafeSearch: safeSearchLikelihoods(r.SafeSearchAnnotation)}
	if r.FullTextAnnotation != nil {
		out.Text = r.FullTextAnnotation.Text
	}
	if out.Text == "" && len(r.TextAnnotations) > 0 {
		out.Text = r.TextAnnotations[0].Description
	}
	for _, l := range r.LabelAnnotations {
		out.Labels = append(out.Labels, l.Description)
	}
	out.Text = strings.TrimSpace(out.Text)
	return out, nil
}

func safeSearchLikelihoods(a *vision.SafeSearchAnnotation) map[string]string {
	if a == nil {
		return nil
	}
	out := make(map[string]string)
	for k, v := range map[string]string{
		"adult": a.Adult, "medical": a.Medical, "racy": a.Racy, "spoof": a.Spoof, "violence": a.Violence,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Transcribe turns recorded audio into text, preferring Whisper and falling
// back to Google Speech.
func (s *Service) Transcribe(ctx context.Context, audio []byte, filename, contentType string) (string, error) {
	if !AllowedAudioType(contentType) {
		return "", ErrUnsupportedAudio
	}
	if s.opts.OpenAIKey != "" {
		text, err := s.whisper(ctx, audio, filename)
		if err == nil && text != "" {
			return text, nil
		}
		s.logger.Warn("Whisper transcription failed", zap.Error(err))
	}
	if s.speech != nil {
		text, err := s.googleSpeech(ctx, audio, defaultLanguage)
		if err == nil && text != "" {
			return text, nil
		}
		s.logger.Warn("Google speech transcription failed", zap.Error(err))
	}
	return "", ErrSpeechDisabled
}

func (s *Service) whisper(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	_ = w.WriteField("model", whisperModel)
	_ = w.WriteField("language", whisperLanguage)
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.OpenAIBase+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.opts.OpenAIKey)

	var resp struct {
		Text string `json:"text"`
	}
	if err := s.do(req, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (s *Service) googleSpeech(ctx context.Context, audio []byte, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()

	resp, err := s.speech.Speech.Recognize(&speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:                   "WEBM_OPUS",
			SampleRateHertz:            sampleRateHertz,
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speech.RecognitionAudio{Content: base64.StdEncoding.EncodeToString(audio)},
	}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	var parts []string
	for _, r := range resp.Results {
		if len(r.Alternatives) > 0 {
			parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		}
	}
	return strings.Join(parts, " "), nil
}

// Speak synthesizes MP3 audio for text.
func (s *Service) Speak(ctx context.Context, text, language, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is required")
	}
	if s.tts == nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", ErrMissingKey)
	}
	if language == "" {
		language = defaultLanguage
	}
	if voice == "" {
		voice = defaultVoice
	}
	ctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()

	resp, err := s.tts.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input:       &texttospeech.SynthesisInput{Text: text},
		Voice:       &texttospeech.VoiceSelectionParams{LanguageCode: language, Name: voice},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	return audio, nil
}

// Translate translates text into the target language (default "en").
func (s *Service) Translate(ctx context.Context, text, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text is required")
	}
	if s.translator == nil {
		return "", fmt.Errorf("translation failed: %w", ErrMissingKey)
	}
	if target == "" {
		target = "en"
	}
	ctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()

	resp, err := s.translator.Translations.Translate(&translate.TranslateTextRequest{
		Q:      []string{text},
		Target: target,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}
	if len(resp.Translations) == 0 {
		return "", errors.New("translation failed: empty response")
	}
	return resp.Translations[0].TranslatedText, nil
}
