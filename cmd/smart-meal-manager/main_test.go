package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	path := filepath.Join(base, "smart-meal-manager.toml")
	content := "data_dir = \"" + filepath.Join(base, "data") + "\"\n" +
		"meal_api_url = \"http://127.0.0.1:1\"\n" +
		"log_level = \"error\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args []string, configPath string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestCLISettings(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	configPath := writeTestConfig(t)

	if _, err := runCLI(t, []string{"settings", "set", "fontSize", "normal"}, configPath); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	out, err := runCLI(t, []string{"settings", "show"}, configPath)
	if err != nil {
		t.Fatalf("settings show: %v", err)
	}
	if !strings.Contains(out, "normal") {
		t.Errorf("Expected the saved font size, got:\n%s", out)
	}

	if _, err := runCLI(t, []string{"settings", "set", "fontSize", "huge"}, configPath); err == nil {
		t.Error("Expected an invalid value to fail")
	}
}

func TestCLISession(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	configPath := writeTestConfig(t)

	first, err := runCLI(t, []string{"session"}, configPath)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	again, _ := runCLI(t, []string{"session"}, configPath)
	if strings.TrimSpace(first) == "" || first != again {
		t.Errorf("Expected a stable session id, got %q and %q", first, again)
	}

	if _, err := runCLI(t, []string{"reset"}, configPath); err != nil {
		t.Fatalf("reset: %v", err)
	}
	second, _ := runCLI(t, []string{"session"}, configPath)
	if second == first {
		t.Error("Expected a new session after reset")
	}

	out, err := runCLI(t, []string{"history"}, configPath)
	if err != nil || !strings.Contains(out, "No history yet.") {
		t.Errorf("Expected an empty history, got %q (%v)", out, err)
	}
}

func TestCLIArgs(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	configPath := writeTestConfig(t)

	if _, err := runCLI(t, []string{"replay"}, configPath); err == nil {
		t.Error("Expected replay without an id to fail")
	}
	if _, err := runCLI(t, []string{"scan"}, configPath); err == nil {
		t.Error("Expected scan without images to fail")
	}
}
