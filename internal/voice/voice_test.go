package voice

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"smart-meal-manager/internal/analysis"
)

type recordingNarrator struct {
	spoken []string
	err    error
}

func (r *recordingNarrator) Speak(ctx context.Context, text string) error {
	r.spoken = append(r.spoken, text)
	return r.err
}

func TestGuideAnnounce(t *testing.T) {
	n := &recordingNarrator{}
	g := NewGuide(n, true, zap.NewNop())
	ctx := context.Background()
	result := analysis.Result{Ingredients: analysis.NormalizeNames([]string{"卵", "牛乳", "豆腐"})}

	g.Announce(ctx, analysis.StatusUploaded, result)
	g.Announce(ctx, analysis.StatusAnalyzing, result)
	g.Announce(ctx, analysis.StatusAnalyzing, result)
	g.Announce(ctx, analysis.StatusIngredientsReady, result)
	g.Announce(ctx, analysis.StatusDone, result)

	want := []string{
		"画像を解析しています。少々お待ちください。",
		"食材を3個、見つけました。献立を考えています。",
		"献立と買い物リストができました。画面をご覧ください。",
	}
	if len(n.spoken) != len(want) {
		t.Fatalf("Expected %d lines, got %v", len(want), n.spoken)
	}
	for i := range want {
		if n.spoken[i] != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], n.spoken[i])
		}
	}
}

func TestGuideDisabled(t *testing.T) {
	n := &recordingNarrator{}
	g := NewGuide(n, false, zap.NewNop())
	g.Welcome(context.Background())
	if len(n.spoken) != 0 {
		t.Errorf("Expected silence when voice is disabled, got %v", n.spoken)
	}

	g.SetEnabled(true)
	g.QRShown(context.Background())
	if len(n.spoken) != 1 || n.spoken[0] != QRMessage {
		t.Errorf("Expected the QR greeting, got %v", n.spoken)
	}
}

func TestGuideFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := &recordingNarrator{err: errors.New("no audio device")}
	g := NewGuide(n, true, zap.New(core))

	g.Welcome(context.Background())
	if logs.FilterMessage("narration failed").Len() != 1 {
		t.Error("Expected the narration failure to be logged")
	}
}

func TestCommandNarratorMissingCommand(t *testing.T) {
	if err := NewCommandNarrator("").Speak(context.Background(), "test"); err == nil {
		t.Error("Expected an error without a command")
	}
	if err := NewCommandNarrator("definitely-not-a-tts-binary").Speak(context.Background(), "test"); err == nil {
		t.Error("Expected an error for a missing binary")
	}
}
