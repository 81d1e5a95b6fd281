// Package config handles application configuration from environment variables
// and the tenant file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	TenantsFile  string
	HTTPAddr     string

	Workers      int
	QueueSize    int
	PollInterval time.Duration
	StuckAfter   time.Duration
	MaxRetries   int

	ExtractReaderURL string
	ExtractTimeout   time.Duration

	LLMEndpoint    string
	LLMAPIKey      string
	LLMModel       string
	RewriteTimeout time.Duration

	PublishTimeout time.Duration

	MinContentLength int
	ForbiddenPhrases []string

	TelegramBotToken string
	AdminChatID      int64
	AllowedUsers     []int64
}

// Load reads configuration from environment variables. A .env file in the
// working directory, if present, is loaded first without overriding
// variables that are already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	cfg := &Config{
		DatabasePath:     getEnv("DATABASE_PATH", "./data/relay.db"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		TenantsFile:      getEnv("TENANTS_FILE", "./tenants.yaml"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		ExtractReaderURL: os.Getenv("EXTRACT_READER_URL"),
		LLMEndpoint:      strings.TrimRight(getEnv("LLM_ENDPOINT", "https://api.openai.com/v1"), "/"),
		LLMAPIKey:        apiKey,
		LLMModel:         getEnv("LLM_MODEL", "gpt-4o-mini"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		ForbiddenPhrases: splitList(os.Getenv("FORBIDDEN_PHRASES")),
	}

	var err error
	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"WORKERS", 4, &cfg.Workers},
		{"QUEUE_SIZE", 256, &cfg.QueueSize},
		{"MAX_RETRIES", 3, &cfg.MaxRetries},
		{"MIN_CONTENT_LENGTH", 500, &cfg.MinContentLength},
	}
	for _, v := range ints {
		if *v.dst, err = getInt(v.key, v.fallback); err != nil {
			return nil, err
		}
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be at least 1, got %d", cfg.Workers)
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"POLL_INTERVAL", 15 * time.Minute, &cfg.PollInterval},
		{"STUCK_AFTER", 30 * time.Minute, &cfg.StuckAfter},
		{"EXTRACT_TIMEOUT", 30 * time.Second, &cfg.ExtractTimeout},
		{"REWRITE_TIMEOUT", 90 * time.Second, &cfg.RewriteTimeout},
		{"PUBLISH_TIMEOUT", 30 * time.Second, &cfg.PublishTimeout},
	}
	for _, v := range durations {
		if *v.dst, err = getDuration(v.key, v.fallback); err != nil {
			return nil, err
		}
	}

	if raw := os.Getenv("ADMIN_CHAT_ID"); raw != "" {
		cfg.AdminChatID, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_CHAT_ID %q: %w", raw, err)
		}
	}

	for _, s := range splitList(os.Getenv("ALLOWED_USERS")) {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
