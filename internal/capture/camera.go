package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const deviceToken = "{device}"

var ffmpegArgs = []string{
	"-loglevel", "error",
	"-f", "v4l2", "-i", deviceToken,
	"-f", "mjpeg", "-q:v", "3", "-",
}

// CommandCamera streams frames from an external capture process that writes
// an MJPEG stream to stdout. The process runs between Open and Close.
type CommandCamera struct {
	argv         []string
	device       string
	startTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	latest  []byte
	cancel  context.CancelFunc
	done    chan struct{}
	waitErr error
}

// NewCommandCamera builds a camera from a command line. A bare "ffmpeg"
// gets default V4L2 arguments; "{device}" in the command is replaced by device.
func NewCommandCamera(command, device string, logger *zap.Logger) *CommandCamera {
	argv := strings.Fields(command)
	if len(argv) == 1 && filepath.Base(argv[0]) == "ffmpeg" {
		argv = append(argv, ffmpegArgs...)
	}
	for i, a := range argv {
		argv[i] = strings.ReplaceAll(a, deviceToken, device)
	}
	return &CommandCamera{
		argv:         argv,
		device:       device,
		startTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// Open starts the capture process and waits for the first frame.
func (c *CommandCamera) Open(ctx context.Context) error {
	if len(c.argv) == 0 {
		return fmt.Errorf("no capture command configured")
	}
	if c.device != "" && strings.HasPrefix(c.device, "/dev/") {
		if err := checkDevice(c.device); err != nil {
			return fmt.Errorf("camera device: %w", err)
		}
	}
	bin, err := exec.LookPath(c.argv[0])
	if err != nil {
		return fmt.Errorf("capture command: %w", err)
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("camera already open")
	}
	c.mu.Unlock()

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, bin, c.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to attach capture output: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start capture command: %w", err)
	}

	first := make(chan struct{})
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.latest = nil
	c.mu.Unlock()

	go func() {
		defer close(done)
		var once sync.Once
		readErr := SplitMJPEG(stdout, func(frame []byte) {
			c.mu.Lock()
			c.latest = frame
			c.mu.Unlock()
			once.Do(func() { close(first) })
		})
		waitErr := cmd.Wait()
		if readErr == nil {
			readErr = waitErr
		}
		if readErr != nil && procCtx.Err() == nil {
			c.logger.Warn("camera stream ended", zap.Error(readErr), zap.String("stderr", strings.TrimSpace(stderr.String())))
		}
		c.mu.Lock()
		c.waitErr = readErr
		c.mu.Unlock()
	}()

	timer := time.NewTimer(c.startTimeout)
	defer timer.Stop()
	select {
	case <-first:
		c.logger.Info("camera stream started", zap.String("device", c.device))
		return nil
	case <-done:
		c.release()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "capture process exited before the first frame"
		}
		return errors.New(msg)
	case <-timer.C:
		c.release()
		return fmt.Errorf("no frame within %s", c.startTimeout)
	case <-ctx.Done():
		c.release()
		return ctx.Err()
	}
}

// Frame returns the most recent frame.
func (c *CommandCamera) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil, ErrNoCamera
	}
	if c.latest == nil {
		if c.waitErr != nil {
			return nil, c.waitErr
		}
		return nil, fmt.Errorf("no frame available yet")
	}
	out := make([]byte, len(c.latest))
	copy(out, c.latest)
	return out, nil
}

// Close stops the capture process and waits for it to exit.
func (c *CommandCamera) Close() error {
	c.release()
	return nil
}

func (c *CommandCamera) release() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SplitMJPEG reads a concatenated JPEG stream and calls emit for every
// complete frame (SOI through EOI).
func SplitMJPEG(r io.Reader, emit func(frame []byte)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		frame   []byte
		inFrame bool
		prev    byte
		havePrv bool
	)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if !inFrame {
			if havePrv && prev == 0xFF && b == 0xD8 {
				inFrame = true
				frame = append(frame[:0], 0xFF, 0xD8)
				havePrv = false
				continue
			}
			prev, havePrv = b, true
			continue
		}

		frame = append(frame, b)
		if havePrv && prev == 0xFF && b == 0xD9 {
			out := make([]byte, len(frame))
			copy(out, frame)
			emit(out)
			inFrame = false
			havePrv = false
			continue
		}
		prev, havePrv = b, true
	}
}
