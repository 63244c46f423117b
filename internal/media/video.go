package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"github.com/alfassa/alfaai-gateway/internal/store"
)

const (
	MockJobPrefix   = "mock_"
	GoogleJobPrefix = "google_"

	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	mockVideoURL      = "https://example.com/mock-video.mp4"
	defaultDuration   = 5
	defaultResolution = "720p"
)

// VideoStatus is the answer to a video submission or status poll.
type VideoStatus struct {
	JobID     string `json:"job_id,omitempty"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Message   string `json:"message"`
}

type VideoRequest struct {
	UserID     string
	Prompt     string
	Duration   int
	Resolution string
}

// StartVideo registers a video job. Without a Google key the job is a mock
// that completes on the first poll.
func (s *Service) StartVideo(ctx context.Context, r VideoRequest) (*VideoStatus, error) {
	prompt := strings.TrimSpace(r.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}
	if r.Duration <= 0 {
		r.Duration = defaultDuration
	}
	if r.Resolution == "" {
		r.Resolution = defaultResolution
	}

	job := &store.VideoJob{
		UserID:     r.UserID,
		Prompt:     prompt,
		Duration:   r.Duration,
		Resolution: r.Resolution,
	}
	var status VideoStatus
	if s.GoogleConfigured() {
		job.ID = GoogleJobPrefix + uuid.NewString()
		job.Provider = "google"
		job.Status = StatusProcessing
		status = VideoStatus{JobID: job.ID, Status: job.Status, Message: "Video job avviato con Google Video AI"}
	} else {
		job.ID = MockJobPrefix + shortuuid.New()
		job.Provider = "mock"
		job.Status = StatusQueued
		status = VideoStatus{JobID: job.ID, Status: job.Status, Message: "Video job creato (mock). Abilita Google API per funzionalità reale."}
	}

	if s.jobs != nil {
		if err := s.jobs.CreateVideoJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to save video job: %w", err)
		}
	}
	s.logger.Info("Video job created", zap.String("job_id", job.ID), zap.String("provider", job.Provider))
	return &status, nil
}

// CheckVideo reports the state of a job. Mock jobs are completed here.
func (s *Service) CheckVideo(ctx context.Context, jobID string) (*VideoStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("job_id is required")
	}

	if strings.HasPrefix(jobID, MockJobPrefix) {
		if s.jobs != nil {
			err := s.jobs.UpdateVideoJob(ctx, jobID, StatusCompleted, mockVideoURL, "")
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("Failed to update mock video job", zap.String("job_id", jobID), zap.Error(err))
			}
		}
		return &VideoStatus{Status: StatusCompleted, ResultURL: mockVideoURL, Message: "Video completato (mock)"}, nil
	}

	if s.jobs != nil {
		job, err := s.jobs.GetVideoJob(ctx, jobID)
		switch {
		case err == nil && job.Status == StatusCompleted:
			return &VideoStatus{Status: StatusCompleted, ResultURL: job.VideoURL, Message: "Video completato"}, nil
		case err == nil && job.Status == StatusFailed:
			return &VideoStatus{Status: StatusFailed, Message: job.Error}, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("failed to load video job: %w", err)
		}
	}
	return &VideoStatus{Status: StatusProcessing, Message: "Video in elaborazione..."}, nil
}
