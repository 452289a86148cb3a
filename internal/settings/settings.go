package settings

import (
	"encoding/json"
	"fmt"
)

// StorageKey is the local storage key holding the settings.
const StorageKey = "app-settings"

// FontSize is the text scale used by the renderers.
type FontSize string

const (
	FontNormal     FontSize = "normal"
	FontLarge      FontSize = "large"
	FontExtraLarge FontSize = "extra-large"
)

// ParseFontSize validates a font size name.
func ParseFontSize(s string) (FontSize, error) {
	switch f := FontSize(s); f {
	case FontNormal, FontLarge, FontExtraLarge:
		return f, nil
	default:
		return "", fmt.Errorf("invalid font size %q (want normal, large or extra-large)", s)
	}
}

// Padding is the number of blank columns the renderers put around cells.
func (f FontSize) Padding() int {
	switch f {
	case FontExtraLarge:
		return 3
	case FontLarge:
		return 2
	default:
		return 1
	}
}

// Settings are the accessibility options.
type Settings struct {
	FontSize     FontSize `json:"fontSize"`
	HighContrast bool     `json:"highContrast"`
	VoiceEnabled bool     `json:"voiceEnabled"`
}

// Default returns the settings used before anything is saved.
func Default() Settings {
	return Settings{FontSize: FontLarge, HighContrast: false, VoiceEnabled: true}
}

// Validate checks every field.
func (s Settings) Validate() error {
	_, err := ParseFontSize(string(s.FontSize))
	return err
}

// UnmarshalJSON fills missing or invalid fields from Default.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw struct {
		FontSize     *string `json:"fontSize"`
		HighContrast *bool   `json:"highContrast"`
		VoiceEnabled *bool   `json:"voiceEnabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Default()
	if raw.FontSize != nil {
		if f, err := ParseFontSize(*raw.FontSize); err == nil {
			out.FontSize = f
		}
	}
	if raw.HighContrast != nil {
		out.HighContrast = *raw.HighContrast
	}
	if raw.VoiceEnabled != nil {
		out.VoiceEnabled = *raw.VoiceEnabled
	}
	*s = out
	return nil
}

// Store is the JSON key-value store the settings live in.
type Store interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
}

// Load reads the saved settings, or Default when none are saved.
func Load(store Store) (Settings, error) {
	s := Default()
	found, err := store.GetJSON(StorageKey, &s)
	if err != nil {
		return Default(), fmt.Errorf("failed to load settings: %w", err)
	}
	if !found {
		return Default(), nil
	}
	return s, nil
}

// Save validates and persists s.
func Save(store Store, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := store.SetJSON(StorageKey, s); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Set updates one field by name, as used by the settings command.
func (s *Settings) Set(name, value string) error {
	switch name {
	case "fontSize", "font-size":
		f, err := ParseFontSize(value)
		if err != nil {
			return err
		}
		s.FontSize = f
	case "highContrast", "high-contrast":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		s.HighContrast = b
	case "voiceEnabled", "voice-enabled", "voice":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		s.VoiceEnabled = b
	default:
		return fmt.Errorf("unknown setting %q", name)
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch v {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}
