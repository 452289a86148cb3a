package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/config"
	"smart-meal-manager/internal/settings"
)

type fakeBackend struct {
	mu          sync.Mutex
	uploads     int
	parts       int
	analyzes    int
	statusCalls int

	// walk makes the first /analyze hold its request while it steps the
	// session through each stage; /status then reports the current stage.
	walk    bool
	walking bool
	stage   string
}

func (f *fakeBackend) setStage(s string) {
	f.mu.Lock()
	f.stage = s
	f.mu.Unlock()
}

func (f *fakeBackend) walkStages(r *http.Request) {
	for i, s := range []string{"analyzing", "ingredients_ready", "done"} {
		if i > 0 {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}
		f.setStage(s)
	}
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/{id}/images", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse upload: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.uploads++
		f.parts += len(r.MultipartForm.File["files"])
		f.stage = "uploaded"
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"status": "uploaded"})
	})
	mux.HandleFunc("POST /api/session/{id}/analyze", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.analyzes++
		first := f.walk && !f.walking
		f.walking = f.walking || first
		f.mu.Unlock()
		if first {
			f.walkStages(r)
			json.NewEncoder(w).Encode(map[string]any{"status": "done"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "analyzing"})
	})
	mux.HandleFunc("GET /api/session/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		n := f.statusCalls
		f.statusCalls++
		walk, stage := f.walk, f.stage
		f.mu.Unlock()

		if walk {
			n = map[string]int{"uploaded": 0, "ingredients_ready": 1, "done": 2}[stage]
			if stage == "analyzing" {
				n = -1
			}
		}

		body := map[string]any{"status": "analyzing"}
		switch {
		case n == 0:
			body = map[string]any{"status": "uploaded", "image_count": 2}
		case n == 1:
			body = map[string]any{"status": "ingredients_ready", "ingredients": []string{"卵", "牛乳"}}
		case n >= 2:
			body = map[string]any{
				"status":        "done",
				"meal_plan":     []map[string]any{{"day": "月曜日", "meals": map[string]string{"dinner": "親子丼"}}},
				"shopping_list": []map[string]any{{"item": "鶏肉", "reason": "bargain"}},
			}
		}
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /api/session/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "gone" {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "done",
			"ingredients":  []map[string]string{{"name": "豆腐", "category": "大豆製品"}},
			"mealPlan":     []map[string]any{{"day": "火曜日", "meals": map[string]string{"dinner": "麻婆豆腐"}}},
			"shoppingList": []string{"ひき肉"},
		})
	})
	mux.HandleFunc("POST /api/recipes/suggest", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ingredient string `json:"ingredient"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{"recipes": []string{req.Ingredient + "のオムレツ"}})
	})
	mux.HandleFunc("GET /api/network-info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"ip": "192.168.0.10"})
	})
	return mux
}

func newTestApp(t *testing.T, input string) (*App, *fakeBackend, *bytes.Buffer) {
	t.Helper()
	backend := &fakeBackend{}
	server := httptest.NewServer(backend.handler(t))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		APIBaseURL:   server.URL,
		FrontendPort: "3000",
		MobileRoute:  config.MobileRouteScan,
		HTTPTimeout:  5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		AutoAnalyze:  true,
		StopOnError:  true,
		SessionMode:  config.SessionModeLocal,
		DataDir:      dir,
		DatabasePath: filepath.Join(dir, "test.db"),
	}
	svc, err := NewServices(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create services: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	var out bytes.Buffer
	return New(svc, &out, strings.NewReader(input)), backend, &out
}

func writeJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2)), nil); err != nil {
		t.Fatalf("Failed to encode image: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	return path
}

func TestScanFlow(t *testing.T) {
	a, backend, out := newTestApp(t, "")
	dir := t.TempDir()
	files := []string{writeJPEG(t, dir, "a.jpg"), writeJPEG(t, dir, "b.jpg")}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	final, err := a.Scan(ctx, ScanOptions{Files: files})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if final.Status != analysis.StatusDone {
		t.Fatalf("Expected done, got %s", final.Status)
	}
	if len(final.Result.Ingredients) != 2 || len(final.Result.MealPlan) != 1 {
		t.Errorf("Expected ingredients kept and meal plan added, got %+v", final.Result)
	}

	backend.mu.Lock()
	if backend.uploads != 1 || backend.parts != 2 {
		t.Errorf("Expected one upload with 2 parts, got %d uploads, %d parts", backend.uploads, backend.parts)
	}
	// One from the gateway, and usually one from the poller seeing
	// "uploaded" unless the run finished before that request went out.
	if backend.analyzes < 1 || backend.analyzes > 2 {
		t.Errorf("Expected 1 or 2 analyze calls, got %d", backend.analyzes)
	}
	if backend.statusCalls != 3 {
		t.Errorf("Expected polling to stop at done after 3 calls, got %d", backend.statusCalls)
	}
	backend.mu.Unlock()

	for _, want := range []string{"Status: uploaded", "Status: done", "親子丼", "SALE"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in output", want)
		}
	}

	sessionID, _ := a.sessions.SessionID()
	entries, err := a.svc.History.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != sessionID {
		t.Errorf("Expected the finished session in history, got %+v", entries)
	}

	usage, err := a.svc.Metrics.GetEndpointUsage(1)
	if err != nil {
		t.Fatalf("GetEndpointUsage failed: %v", err)
	}
	if len(usage) == 0 {
		t.Error("Expected backend calls to be recorded")
	}
}

func TestScanFollowsLongRunningAnalyze(t *testing.T) {
	a, backend, out := newTestApp(t, "")
	backend.mu.Lock()
	backend.walk = true
	backend.mu.Unlock()

	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	final, err := a.Scan(ctx, ScanOptions{Files: []string{writeJPEG(t, dir, "a.jpg")}})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if final.Status != analysis.StatusDone {
		t.Fatalf("Expected done, got %s", final.Status)
	}

	text := out.String()
	order := []string{"Status: analyzing", "Status: ingredients_ready", "Status: done"}
	last := -1
	for _, want := range order {
		i := strings.Index(text, want)
		if i < 0 {
			t.Fatalf("Expected %q while /analyze was still open, got:\n%s", want, text)
		}
		if i < last {
			t.Errorf("Expected %q after the previous stage", want)
		}
		last = i
	}
	if strings.Contains(text, "analysis failed to start") {
		t.Error("Expected the held analyze request to count as started")
	}
}

func TestScanWithoutImages(t *testing.T) {
	a, backend, _ := newTestApp(t, "")
	if _, err := a.Scan(context.Background(), ScanOptions{}); err == nil {
		t.Fatal("Expected an error without images")
	}
	if backend.uploads != 0 {
		t.Error("Expected no upload")
	}
}

func TestReplay(t *testing.T) {
	a, _, out := newTestApp(t, "")
	ctx := context.Background()

	result, err := a.Replay(ctx, "past")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(result.Ingredients) != 1 || result.Ingredients[0].Category != "大豆製品" {
		t.Errorf("Unexpected result %+v", result)
	}
	if !strings.Contains(out.String(), "麻婆豆腐") {
		t.Error("Expected the replayed plan to be rendered")
	}

	if _, err := a.Replay(ctx, "gone"); err == nil {
		t.Error("Expected an error for a missing session")
	}
}

func TestInteract(t *testing.T) {
	a, _, out := newTestApp(t, "stock 鶏肉\nneed\nsuggest 卵\nbogus\nquit\n")
	result := analysis.Result{ShoppingList: []analysis.ShoppingItem{{Item: "鶏肉"}, {Item: "玉ねぎ"}}}

	if err := a.Interact(context.Background(), result); err != nil {
		t.Fatalf("Interact failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"鶏肉 marked as in stock", "- 玉ねぎ", "1. 卵のオムレツ", `unknown command "bogus"`} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output:\n%s", want, text)
		}
	}
	if strings.Contains(text, "- 鶏肉") {
		t.Error("Expected the stocked item to be filtered from the need list")
	}
}

func TestSettingsAndSession(t *testing.T) {
	a, _, out := newTestApp(t, "")
	ctx := context.Background()

	if err := a.SetSetting("fontSize", "normal"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	loaded, err := settings.Load(a.svc.LocalStore)
	if err != nil || loaded.FontSize != settings.FontNormal {
		t.Errorf("Expected the setting to be saved, got %+v, %v", loaded, err)
	}
	if err := a.SetSetting("fontSize", "huge"); err == nil {
		t.Error("Expected an error for an invalid value")
	}

	first, err := a.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	again, _ := a.Session(ctx)
	if again != first {
		t.Error("Expected the session id to be stable")
	}
	if err := a.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	second, _ := a.Session(ctx)
	if second == first {
		t.Error("Expected a new session id after reset")
	}

	if err := a.QR(ctx, ""); err != nil {
		t.Fatalf("QR failed: %v", err)
	}
	if !strings.Contains(out.String(), "http://192.168.0.10:3000/mobile/scan/"+second) {
		t.Errorf("Expected the discovered phone URL, got:\n%s", out.String())
	}
}

func TestMetricsReport(t *testing.T) {
	a, _, out := newTestApp(t, "")
	if _, err := a.Replay(context.Background(), "past"); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if err := a.Metrics(7); err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	for _, want := range []string{"Backend calls", "result", "Schema version: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected %q in report:\n%s", want, out.String())
		}
	}

	if err := a.CleanupMetrics(0); err != nil {
		t.Fatalf("CleanupMetrics failed: %v", err)
	}
}
