package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewStore(filepath.Join(tempDir, "local"))
	if err != nil {
		t.Fatalf("Failed to create Store: %v", err)
	}

	t.Run("Get-Missing", func(t *testing.T) {
		_, ok, err := store.Get("sessionId")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if ok {
			t.Error("Expected missing key to report ok=false")
		}
		if store.Exists("sessionId") {
			t.Error("Expected sessionId to not exist")
		}
	})

	t.Run("Set-Get", func(t *testing.T) {
		if err := store.Set("sessionId", "abc-123"); err != nil {
			t.Fatalf("Failed to set: %v", err)
		}
		value, ok, err := store.Get("sessionId")
		if err != nil || !ok {
			t.Fatalf("Expected stored value, got ok=%v err=%v", ok, err)
		}
		if value != "abc-123" {
			t.Errorf("Expected 'abc-123', got '%s'", value)
		}
		if _, err := os.Stat(filepath.Join(tempDir, "local", "sessionId.json")); err != nil {
			t.Errorf("Expected backing file to exist: %v", err)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		type prefs struct {
			FontSize string `json:"fontSize"`
		}
		if err := store.SetJSON("app-settings", prefs{FontSize: "large"}); err != nil {
			t.Fatalf("Failed to set JSON: %v", err)
		}
		var got prefs
		ok, err := store.GetJSON("app-settings", &got)
		if err != nil || !ok {
			t.Fatalf("Expected stored JSON, got ok=%v err=%v", ok, err)
		}
		if got.FontSize != "large" {
			t.Errorf("Expected 'large', got '%s'", got.FontSize)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Delete("sessionId"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if store.Exists("sessionId") {
			t.Error("Expected sessionId to be gone")
		}
		if err := store.Delete("sessionId"); err != nil {
			t.Errorf("Expected deleting a missing key to succeed, got %v", err)
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		if err := store.Set("../escape", "x"); err == nil {
			t.Fatal("Expected an error for a path-like key, got nil")
		}
	})
}
