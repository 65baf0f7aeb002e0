package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FAMILYCAL_CONFIG", "")
	t.Setenv("POLL_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("Expected %v, got %v", DefaultPollInterval, cfg.PollInterval)
	}
	if cfg.NotifyChannel != ChannelBoth {
		t.Errorf("Expected both, got %s", cfg.NotifyChannel)
	}
	if cfg.Timezone == nil {
		t.Error("Expected timezone to be resolved")
	}
}

func TestPollIntervalIsClamped(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"500ms", MinPollInterval},
		{"5m", MaxPollInterval},
		{"30s", 30 * time.Second},
	}

	for _, tt := range tests {
		t.Setenv("POLL_INTERVAL", tt.in)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", tt.in, err)
		}
		if cfg.PollInterval != tt.want {
			t.Errorf("POLL_INTERVAL=%s: expected %v, got %v", tt.in, tt.want, cfg.PollInterval)
		}
	}
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "familycal.yaml")
	data := []byte("share_code: \" abcd1234 \"\nnotify_channel: In-App\npoll_interval: 20s\nagenda_time: \"07:45\"\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("FAMILYCAL_CONFIG", path)
	t.Setenv("POLL_INTERVAL", "15s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ShareCode != "ABCD1234" {
		t.Errorf("Expected normalized share code, got %q", cfg.ShareCode)
	}
	if cfg.NotifyChannel != ChannelInApp {
		t.Errorf("Expected in-app, got %s", cfg.NotifyChannel)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("Expected env to win with 15s, got %v", cfg.PollInterval)
	}
	if cfg.AgendaTime != "07:45" {
		t.Errorf("Expected agenda 07:45, got %q", cfg.AgendaTime)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := map[string]string{
		"NOTIFY_CHANNEL":   "pager",
		"TIMEZONE":         "Mars/Olympus",
		"TELEGRAM_CHAT_ID": "abc",
		"AGENDA_TIME":      "late",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", key, value)
			}
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("FAMILYCAL_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("Expected error for missing config file")
	}
}
