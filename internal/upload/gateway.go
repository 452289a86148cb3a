package upload

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smart-meal-manager/internal/capture"
	"smart-meal-manager/internal/mealapi"
)

// ErrNoImages is returned when Submit is called with nothing to upload.
var ErrNoImages = errors.New("no images to upload")

// UploadError means the images did not reach the backend.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload images: %v", e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// AnalyzeStartError means the upload succeeded but analysis did not start.
type AnalyzeStartError struct {
	Err error
}

func (e *AnalyzeStartError) Error() string {
	return fmt.Sprintf("uploaded, but analysis failed to start: %v", e.Err)
}

func (e *AnalyzeStartError) Unwrap() error {
	return e.Err
}

// Backend is the part of the API the gateway talks to.
type Backend interface {
	UploadImages(ctx context.Context, sessionID string, files []mealapi.File) error
	Analyze(ctx context.Context, sessionID string) error
}

// Gateway uploads captured images and starts analysis.
type Gateway struct {
	backend Backend
	logger  *zap.Logger
}

// NewGateway creates a new Gateway.
func NewGateway(backend Backend, logger *zap.Logger) *Gateway {
	return &Gateway{backend: backend, logger: logger}
}

// Submit uploads all images in one request, then triggers analysis once.
// Calling it twice uploads twice; there is no deduplication.
//
// The upload is synchronous. The analysis trigger runs in the background
// because the backend may keep that request open until the run finishes;
// the returned channel yields its outcome once (nil or *AnalyzeStartError)
// and is then closed. Callers that do not care may drop it.
func (g *Gateway) Submit(ctx context.Context, sessionID string, images []string) (<-chan error, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	files := make([]mealapi.File, 0, len(images))
	for i, img := range images {
		contentType, data, err := capture.DecodeDataURL(img)
		if err != nil {
			return nil, &UploadError{Err: fmt.Errorf("image %d: %w", i, err)}
		}
		files = append(files, mealapi.File{
			Name:        fmt.Sprintf("image_%d.jpg", i),
			ContentType: contentType,
			Data:        data,
		})
	}

	if err := g.backend.UploadImages(ctx, sessionID, files); err != nil {
		g.logger.Error("upload failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, &UploadError{Err: err}
	}
	g.logger.Info("images uploaded", zap.String("session_id", sessionID), zap.Int("count", len(files)))

	started := make(chan error, 1)
	go func() {
		defer close(started)
		if err := g.backend.Analyze(ctx, sessionID); err != nil {
			g.logger.Error("analysis trigger failed", zap.String("session_id", sessionID), zap.Error(err))
			started <- &AnalyzeStartError{Err: err}
			return
		}
		g.logger.Info("analysis finished its request", zap.String("session_id", sessionID))
		started <- nil
	}()
	return started, nil
}
