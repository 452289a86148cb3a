package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/mealapi"
)

// ResultFetcher fetches the final result of a session.
type ResultFetcher interface {
	Result(ctx context.Context, sessionID string) (*mealapi.ResultResponse, error)
}

// Loader replays past sessions from the backend.
type Loader struct {
	fetcher ResultFetcher
	logger  *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(fetcher ResultFetcher, logger *zap.Logger) *Loader {
	return &Loader{fetcher: fetcher, logger: logger}
}

// Load fetches the result of sessionID. setStatus sees "loading" first, then
// "done" on success or "waiting" on failure.
func (l *Loader) Load(ctx context.Context, sessionID string, setStatus func(analysis.Status)) (analysis.Result, error) {
	if setStatus == nil {
		setStatus = func(analysis.Status) {}
	}
	setStatus(analysis.StatusLoading)

	resp, err := l.fetcher.Result(ctx, sessionID)
	if err != nil {
		l.logger.Warn("failed to load history entry", zap.String("session_id", sessionID), zap.Error(err))
		setStatus(analysis.StatusWaiting)
		return analysis.Result{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	setStatus(analysis.StatusDone)
	return resp.Result(), nil
}
