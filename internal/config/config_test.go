package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBackendEnv(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://demo.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
}

func TestLoad_Defaults(t *testing.T) {
	setBackendEnv(t)
	t.Setenv("CHAT_CONFIG", "")
	t.Setenv("APP_PLATFORM", "")
	t.Setenv("BACKEND_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeREST, cfg.Backend.Mode)
	assert.Equal(t, PlatformNative, cfg.Auth.Platform)
	assert.Equal(t, "mychatapp", cfg.Auth.Scheme)
	assert.Equal(t, "google", cfg.Auth.Provider)
	assert.Equal(t, 30*time.Second, cfg.Realtime.Heartbeat)
	assert.Equal(t, time.Minute, cfg.Auth.RefreshMargin)
	assert.False(t, cfg.Callback.MetricsEnabled)
	assert.Equal(t, "mychatapp://auth-callback", cfg.RedirectURL())
}

func TestLoad_FromEnv(t *testing.T) {
	setBackendEnv(t)
	t.Setenv("APP_PLATFORM", "web")
	t.Setenv("CALLBACK_ADDR", "127.0.0.1:9999")
	t.Setenv("REALTIME_HEARTBEAT", "10s")
	t.Setenv("METRICS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, PlatformWeb, cfg.Auth.Platform)
	assert.Equal(t, 10*time.Second, cfg.Realtime.Heartbeat)
	assert.True(t, cfg.Callback.MetricsEnabled)
	assert.Equal(t, "http://127.0.0.1:9999/auth-callback", cfg.RedirectURL())
}

func TestLoad_YAMLOverlayLosesToEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("SUPABASE_URL: https://file.supabase.co\nSUPABASE_ANON_KEY: file-key\nAPP_SCHEME: filescheme\n"), 0o600))

	t.Setenv("CHAT_CONFIG", path)
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	t.Setenv("APP_SCHEME", "envscheme")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://file.supabase.co", cfg.Backend.URL)
	assert.Equal(t, "file-key", cfg.Backend.AnonKey)
	assert.Equal(t, "envscheme", cfg.Auth.Scheme)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad duration", "HTTP_TIMEOUT", "soon"},
		{"bad bool", "METRICS_ENABLED", "maybe"},
		{"bad mode", "BACKEND_MODE", "carrier-pigeon"},
		{"bad platform", "APP_PLATFORM", "watch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBackendEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_MemoryModeNeedsNoBackend(t *testing.T) {
	cfg := &Config{
		Backend: BackendConfig{Mode: ModeMemory},
		Auth:    AuthConfig{Platform: PlatformNative, Scheme: "mychatapp"},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Backend.Mode = ModeREST
	assert.Error(t, cfg.Validate())
}
