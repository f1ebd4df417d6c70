// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultVAPIDPublicKey is the application server key of the production backend.
const DefaultVAPIDPublicKey = "BLcaMptBg8239UIkJ6CSoRWhNdAXpR_UA1ZF5DP2PZgKmOKlIYuFuVvIAbCs9inWK7KVaNZ-jKb-n7DKB6t3DyE"

// Config holds the application configuration.
type Config struct {
	APIBaseURL string
	WSBaseURL  string
	AppURL     string

	DatabasePath string
	LogLevel     string
	ListenAddr   string

	PushEndpoint   string
	VAPIDPublicKey string

	ReconnectDelay       time.Duration
	ReconnectJitter      time.Duration
	ReconnectMaxAttempts int

	SettingsSyncDebounce time.Duration

	CacheVersion       string
	AssetManifest      string
	NeverCachePrefixes []string

	TelegramBotToken string
	TelegramChatID   int64
	AllowedUsers     []int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:         strings.TrimRight(envOrDefault("CNSNIPER_API_URL", "https://api.cnsniper.pl"), "/"),
		AppURL:             strings.TrimRight(envOrDefault("CNSNIPER_APP_URL", "https://cnsniper.pl"), "/"),
		DatabasePath:       envOrDefault("DATABASE_PATH", "./data/cnsniper.db"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		ListenAddr:         envOrDefault("LISTEN_ADDR", "127.0.0.1:8787"),
		VAPIDPublicKey:     envOrDefault("VAPID_PUBLIC_KEY", DefaultVAPIDPublicKey),
		CacheVersion:       envOrDefault("CACHE_VERSION", "v1"),
		AssetManifest:      os.Getenv("ASSET_MANIFEST"),
		NeverCachePrefixes: splitList(envOrDefault("NEVER_CACHE_PREFIXES", "/api/,/auth/,/push/,/ws/")),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid CNSNIPER_API_URL %q: %w", cfg.APIBaseURL, err)
	}
	if _, err := url.ParseRequestURI(cfg.AppURL); err != nil {
		return nil, fmt.Errorf("invalid CNSNIPER_APP_URL %q: %w", cfg.AppURL, err)
	}

	cfg.WSBaseURL = strings.TrimRight(os.Getenv("CNSNIPER_WS_URL"), "/")
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = websocketURL(cfg.APIBaseURL)
	}

	cfg.PushEndpoint = os.Getenv("PUSH_ENDPOINT")
	if cfg.PushEndpoint == "" {
		cfg.PushEndpoint = "http://" + cfg.ListenAddr + "/_sw/push"
	}

	var err error
	if cfg.ReconnectDelay, err = durationEnv("RECONNECT_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectJitter, err = durationEnv("RECONNECT_JITTER", 0); err != nil {
		return nil, err
	}
	if cfg.SettingsSyncDebounce, err = durationEnv("SETTINGS_SYNC_DEBOUNCE", time.Second); err != nil {
		return nil, err
	}
	if raw := os.Getenv("RECONNECT_MAX_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RECONNECT_MAX_ATTEMPTS %q", raw)
		}
		cfg.ReconnectMaxAttempts = n
	}

	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err)
		}
		cfg.TelegramChatID = id
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	return cfg, nil
}

// IsUserAllowed checks whether a Telegram user ID is in the allow list.
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

// TelegramEnabled reports whether notifications are relayed to Telegram.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// WSURL joins a channel path onto the WebSocket base URL.
func (c *Config) WSURL(path string) string {
	return c.WSBaseURL + path
}

func websocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
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

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
