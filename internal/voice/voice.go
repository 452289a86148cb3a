package voice

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/presenter"
)

const (
	WelcomeMessage = "スマート献立マネージャーへようこそ。冷蔵庫の写真を撮るか、スマートフォンでQRコードを読み取ってください。"
	QRMessage      = "QRコードを表示します。スマートフォンで読み取ってください。"
)

// Narrator speaks a line of text.
type Narrator interface {
	Speak(ctx context.Context, text string) error
}

// CommandNarrator pipes text to an external text-to-speech command on stdin.
type CommandNarrator struct {
	argv []string
}

// NewCommandNarrator splits command on whitespace, e.g. "espeak-ng -v ja".
func NewCommandNarrator(command string) *CommandNarrator {
	return &CommandNarrator{argv: strings.Fields(command)}
}

func (n *CommandNarrator) Speak(ctx context.Context, text string) error {
	if len(n.argv) == 0 {
		return fmt.Errorf("no speech command configured")
	}
	cmd := exec.CommandContext(ctx, n.argv[0], n.argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("speech command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// LogNarrator writes narration to the log, for hosts without speech output.
type LogNarrator struct {
	Logger *zap.Logger
}

func (n LogNarrator) Speak(ctx context.Context, text string) error {
	n.Logger.Info("narration", zap.String("text", text))
	return nil
}

// FuncNarrator adapts a function, such as sending a chat message.
type FuncNarrator func(ctx context.Context, text string) error

func (f FuncNarrator) Speak(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Guide narrates progress when voice is enabled. Failures are logged and
// never returned.
type Guide struct {
	narrator Narrator
	logger   *zap.Logger

	mu      sync.Mutex
	enabled bool
	last    analysis.Status
}

// NewGuide creates a Guide.
func NewGuide(narrator Narrator, enabled bool, logger *zap.Logger) *Guide {
	return &Guide{narrator: narrator, enabled: enabled, logger: logger}
}

// SetEnabled switches narration on or off.
func (g *Guide) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	g.mu.Unlock()
}

// Say speaks text if narration is enabled.
func (g *Guide) Say(ctx context.Context, text string) {
	g.mu.Lock()
	enabled := g.enabled
	g.mu.Unlock()
	if !enabled || g.narrator == nil || text == "" {
		return
	}
	if err := g.narrator.Speak(ctx, text); err != nil {
		g.logger.Warn("narration failed", zap.Error(err))
	}
}

// Welcome greets the user at start-up.
func (g *Guide) Welcome(ctx context.Context) {
	g.Say(ctx, WelcomeMessage)
}

// QRShown announces the hand-off QR code.
func (g *Guide) QRShown(ctx context.Context) {
	g.Say(ctx, QRMessage)
}

// Announce narrates status once per change.
func (g *Guide) Announce(ctx context.Context, status analysis.Status, result analysis.Result) {
	g.mu.Lock()
	if status == g.last {
		g.mu.Unlock()
		return
	}
	g.last = status
	g.mu.Unlock()

	if text, ok := presenter.Announcement(status, result); ok {
		g.Say(ctx, text)
	}
}
