package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFile is read when CONFIG_FILE is unset and the file exists.
const DefaultConfigFile = "smart-meal-manager.toml"

// Session modes.
const (
	SessionModeLocal   = "local"
	SessionModeBackend = "backend"
)

// Mobile route styles.
const (
	MobileRouteScan   = "scan"
	MobileRouteLegacy = "legacy"
)

// Config holds the configuration for the application.
type Config struct {
	APIBaseURL   string
	PublicOrigin string
	FrontendPort string
	MobileRoute  string
	HTTPTimeout  time.Duration

	PollInterval time.Duration
	AutoAnalyze  bool
	StopOnError  bool
	SessionMode  string

	DataDir      string
	DatabasePath string

	CameraCommand string
	CameraDevice  string
	TTSCommand    string

	LogLevel  string
	LogFormat string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	// TelegramAllowAll admits every user. Without it an empty allow list
	// admits nobody.
	TelegramAllowAll bool
	AdminTelegramID  int64
	Port             string
}

// NewFromEnv creates a new Config object from environment variables.
// A .env file in the working directory is loaded first when present. Keys
// missing from the environment are then looked up in the TOML config file,
// whose keys are the lower-case variable names.
func NewFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	getEnv := file.getEnv
	getDuration := file.getDuration
	getBool := file.getBool

	apiURL := strings.TrimRight(getEnv("MEAL_API_URL", "http://localhost:8000"), "/")
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return nil, fmt.Errorf("MEAL_API_URL is not a valid URL: %w", err)
	}

	pollInterval, err := getDuration("POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}

	httpTimeout, err := getDuration("HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	autoAnalyze, err := getBool("AUTO_ANALYZE", true)
	if err != nil {
		return nil, err
	}
	stopOnError, err := getBool("STOP_ON_ERROR", true)
	if err != nil {
		return nil, err
	}

	sessionMode := getEnv("SESSION_MODE", SessionModeLocal)
	if sessionMode != SessionModeLocal && sessionMode != SessionModeBackend {
		return nil, fmt.Errorf("SESSION_MODE must be %q or %q, got %q", SessionModeLocal, SessionModeBackend, sessionMode)
	}

	mobileRoute := getEnv("MOBILE_ROUTE", MobileRouteScan)
	if mobileRoute != MobileRouteScan && mobileRoute != MobileRouteLegacy {
		return nil, fmt.Errorf("MOBILE_ROUTE must be %q or %q, got %q", MobileRouteScan, MobileRouteLegacy, mobileRoute)
	}

	dataDir := getEnv("DATA_DIR", "data")

	allowed, err := parseIDList(getEnv("TELEGRAM_ALLOWED_USER_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS: %w", err)
	}
	allowAll, err := getBool("TELEGRAM_ALLOW_ALL", false)
	if err != nil {
		return nil, err
	}
	var adminID int64
	if raw := getEnv("TELEGRAM_ADMIN_ID", ""); raw != "" {
		adminID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ADMIN_ID: %w", err)
		}
	}

	return &Config{
		APIBaseURL:             apiURL,
		PublicOrigin:           strings.TrimRight(getEnv("PUBLIC_ORIGIN", ""), "/"),
		FrontendPort:           getEnv("FRONTEND_PORT", "3000"),
		MobileRoute:            mobileRoute,
		HTTPTimeout:            httpTimeout,
		PollInterval:           pollInterval,
		AutoAnalyze:            autoAnalyze,
		StopOnError:            stopOnError,
		SessionMode:            sessionMode,
		DataDir:                dataDir,
		DatabasePath:           getEnv("DATABASE_PATH", filepath.Join(dataDir, "smart-meal-manager.db")),
		CameraCommand:          getEnv("CAMERA_COMMAND", "ffmpeg"),
		CameraDevice:           getEnv("CAMERA_DEVICE", "/dev/video0"),
		TTSCommand:             getEnv("TTS_COMMAND", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "console"),
		TelegramBotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookURL:     getEnv("TELEGRAM_WEBHOOK_URL", ""),
		TelegramAllowedUserIDs: allowed,
		TelegramAllowAll:       allowAll,
		AdminTelegramID:        adminID,
		Port:                   getEnv("PORT", "8080"),
	}, nil
}

// ValidateTelegram checks the settings the bot cannot run without.
func (c *Config) ValidateTelegram() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}
	if c.TelegramWebhookURL == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_URL environment variable not set")
	}
	if len(c.TelegramAllowedUserIDs) == 0 && !c.TelegramAllowAll {
		return fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS is empty; set TELEGRAM_ALLOW_ALL=true to admit every user")
	}
	return nil
}

// SessionStorePath is the directory holding per-visit state (the active session id).
func (c *Config) SessionStorePath() string {
	return filepath.Join(c.DataDir, "session")
}

// LocalStorePath is the directory holding persistent client state (settings).
func (c *Config) LocalStorePath() string {
	return filepath.Join(c.DataDir, "local")
}

// fileValues holds the config file, keyed by upper-case variable name.
type fileValues map[string]string

func loadFile(path string) (fileValues, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return fileValues{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	values := make(fileValues, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(k)] = tomlString(v)
	}
	return values, nil
}

func tomlString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = tomlString(p)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

func (f fileValues) getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value := f[key]; value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("1500ms", "2s"). A bare integer,
// such as poll_interval = 1500 in the config file, is read as milliseconds.
func (f fileValues) getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := f.getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func (f fileValues) getBool(key string, defaultValue bool) (bool, error) {
	value := f.getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func parseIDList(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
