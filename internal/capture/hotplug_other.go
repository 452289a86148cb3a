//go:build !linux

package capture

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// WaitForCamera is only supported on Linux.
func WaitForCamera(ctx context.Context, logger *zap.Logger) (string, error) {
	return "", errors.New("camera hot-plug detection requires Linux")
}
