package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"CNSNIPER_API_URL", "CNSNIPER_WS_URL", "CNSNIPER_APP_URL", "DATABASE_PATH", "LOG_LEVEL",
	"LISTEN_ADDR", "PUSH_ENDPOINT", "VAPID_PUBLIC_KEY", "RECONNECT_DELAY", "RECONNECT_JITTER",
	"RECONNECT_MAX_ATTEMPTS", "SETTINGS_SYNC_DEBOUNCE", "CACHE_VERSION", "ASSET_MANIFEST",
	"NEVER_CACHE_PREFIXES", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "ALLOWED_USERS",
}

func defaults() *Config {
	return &Config{
		APIBaseURL:           "https://api.cnsniper.pl",
		WSBaseURL:            "wss://api.cnsniper.pl",
		AppURL:               "https://cnsniper.pl",
		DatabasePath:         "./data/cnsniper.db",
		LogLevel:             "info",
		ListenAddr:           "127.0.0.1:8787",
		PushEndpoint:         "http://127.0.0.1:8787/_sw/push",
		VAPIDPublicKey:       DefaultVAPIDPublicKey,
		ReconnectDelay:       time.Second,
		SettingsSyncDebounce: time.Second,
		CacheVersion:         "v1",
		NeverCachePrefixes:   []string{"/api/", "/auth/", "/push/", "/ws/"},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name: "defaults applied",
			env:  map[string]string{},
			want: defaults,
		},
		{
			name: "all values set",
			env: map[string]string{
				"CNSNIPER_API_URL":       "http://localhost:8010/",
				"CNSNIPER_APP_URL":       "http://localhost:3000",
				"DATABASE_PATH":          "/tmp/c.db",
				"LOG_LEVEL":              "debug",
				"LISTEN_ADDR":            ":9000",
				"RECONNECT_DELAY":        "250ms",
				"RECONNECT_JITTER":       "100ms",
				"RECONNECT_MAX_ATTEMPTS": "5",
				"SETTINGS_SYNC_DEBOUNCE": "2s",
				"CACHE_VERSION":          "2026-10-19",
				"ASSET_MANIFEST":         "./assets.json",
				"NEVER_CACHE_PREFIXES":   " /api/ , /ws/ ,",
				"TELEGRAM_BOT_TOKEN":     "tok",
				"TELEGRAM_CHAT_ID":       "-100",
				"ALLOWED_USERS":          " 10 , 20 , ",
			},
			want: func() *Config {
				return &Config{
					APIBaseURL:           "http://localhost:8010",
					WSBaseURL:            "ws://localhost:8010",
					AppURL:               "http://localhost:3000",
					DatabasePath:         "/tmp/c.db",
					LogLevel:             "debug",
					ListenAddr:           ":9000",
					PushEndpoint:         "http://:9000/_sw/push",
					VAPIDPublicKey:       DefaultVAPIDPublicKey,
					ReconnectDelay:       250 * time.Millisecond,
					ReconnectJitter:      100 * time.Millisecond,
					ReconnectMaxAttempts: 5,
					SettingsSyncDebounce: 2 * time.Second,
					CacheVersion:         "2026-10-19",
					AssetManifest:        "./assets.json",
					NeverCachePrefixes:   []string{"/api/", "/ws/"},
					TelegramBotToken:     "tok",
					TelegramChatID:       -100,
					AllowedUsers:         []int64{10, 20},
				}
			},
		},
		{
			name: "explicit websocket url wins",
			env:  map[string]string{"CNSNIPER_WS_URL": "wss://ws.example.com/"},
			want: func() *Config {
				c := defaults()
				c.WSBaseURL = "wss://ws.example.com"
				return c
			},
		},
		{
			name:    "invalid delay",
			env:     map[string]string{"RECONNECT_DELAY": "soon"},
			wantErr: true,
		},
		{
			name:    "negative attempts",
			env:     map[string]string{"RECONNECT_MAX_ATTEMPTS": "-1"},
			wantErr: true,
		},
		{
			name:    "telegram token without chat",
			env:     map[string]string{"TELEGRAM_BOT_TOKEN": "tok"},
			wantErr: true,
		},
		{
			name:    "invalid user id",
			env:     map[string]string{"ALLOWED_USERS": "123,abc"},
			wantErr: true,
		},
		{
			name:    "relative api url",
			env:     map[string]string{"CNSNIPER_API_URL": "api.cnsniper.pl"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{name: "empty list allows everyone", allowedUsers: nil, userID: 42, want: true},
		{name: "user in list", allowedUsers: []int64{10, 20, 30}, userID: 20, want: true},
		{name: "user not in list", allowedUsers: []int64{10, 20, 30}, userID: 99, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			if diff := cmp.Diff(tt.want, cfg.IsUserAllowed(tt.userID)); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
