package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Mode is the active acquisition path.
type Mode string

const (
	ModeNone       Mode = "none"
	ModeCamera     Mode = "camera"
	ModeFilePicker Mode = "file"
)

// ErrNoCamera is returned by Shutter when the camera is not streaming.
var ErrNoCamera = errors.New("camera is not active")

// ErrNotImage is returned by AddBytes for data that does not sniff as an image.
var ErrNotImage = errors.New("not an image")

const jpegQuality = 92

// Camera is a live frame source. Open acquires the device, Close must
// release it.
type Camera interface {
	Open(ctx context.Context) error
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// Collector accumulates captured images as data URLs, in capture order.
type Collector struct {
	camera Camera
	logger *zap.Logger

	mu     sync.Mutex
	mode   Mode
	images []string
}

// NewCollector creates a collector. camera may be nil for file-only use.
func NewCollector(camera Camera, logger *zap.Logger) *Collector {
	return &Collector{
		camera: camera,
		logger: logger,
		mode:   ModeNone,
	}
}

// Start opens the camera. Any failure degrades to file picker mode.
func (c *Collector) Start(ctx context.Context) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeCamera {
		return c.mode
	}
	if c.camera == nil {
		c.mode = ModeFilePicker
		return c.mode
	}
	if err := c.camera.Open(ctx); err != nil {
		c.logger.Warn("camera unavailable, falling back to file picker", zap.Error(err))
		c.mode = ModeFilePicker
		return c.mode
	}
	c.mode = ModeCamera
	return c.mode
}

// Mode returns the current acquisition path.
func (c *Collector) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Shutter grabs the current camera frame and appends it as a JPEG data URL.
func (c *Collector) Shutter(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeCamera {
		return 0, ErrNoCamera
	}
	frame, err := c.camera.Frame(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to grab frame: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return 0, fmt.Errorf("failed to decode frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return 0, fmt.Errorf("failed to encode frame: %w", err)
	}
	c.images = append(c.images, EncodeDataURL("image/jpeg", buf.Bytes()))
	return len(c.images), nil
}

// AddFile reads a user-selected file and appends it as a data URL.
func (c *Collector) AddFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return c.AddBytes(data)
}

// AddBytes appends raw image bytes as a data URL, sniffing the content type.
// Anything that is not image/* is rejected with ErrNotImage.
func (c *Collector) AddBytes(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty image")
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return 0, fmt.Errorf("%w (%s)", ErrNotImage, contentType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, EncodeDataURL(contentType, data))
	return len(c.images), nil
}

// Restore puts back images that were taken out for an upload which failed,
// ahead of anything captured since.
func (c *Collector) Restore(images []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(append(make([]string, 0, len(images)+len(c.images)), images...), c.images...)
	return len(c.images)
}

// Images returns a copy of the captured images in capture order.
func (c *Collector) Images() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.images))
	copy(out, c.images)
	return out
}

// Len returns the number of captured images.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// Close releases the camera stream. It is safe to call more than once.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeCamera {
		return nil
	}
	c.mode = ModeNone
	if err := c.camera.Close(); err != nil {
		return fmt.Errorf("failed to release camera: %w", err)
	}
	return nil
}
