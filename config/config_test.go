package config

import (
	"testing"
)

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("TWITCH_APP_ID", "")
	t.Setenv("TWITCH_APP_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want missing credential error")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TWITCH_APP_ID", "app-id")
	t.Setenv("TWITCH_APP_SECRET", "app-secret")
	t.Setenv("AGE_THRESHOLD", "")
	t.Setenv("IS_ARMED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BotUsername != "streamer_shield" {
		t.Errorf("BotUsername = %q, want streamer_shield", cfg.BotUsername)
	}
	if cfg.AgeThresholdMonths != 6 {
		t.Errorf("AgeThresholdMonths = %d, want 6", cfg.AgeThresholdMonths)
	}
	if !cfg.Armed {
		t.Error("Armed = false, want true by default")
	}
	if !cfg.CollectData {
		t.Error("CollectData = false, want true by default")
	}
	if cfg.ShieldURL == "" || cfg.EventSubURL == "" || cfg.RedirectURI == "" {
		t.Error("expected endpoint defaults to be populated")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TWITCH_APP_ID", "app-id")
	t.Setenv("TWITCH_APP_SECRET", "app-secret")
	t.Setenv("ADMIN_USER", "CaesarLP")
	t.Setenv("AGE_THRESHOLD", "12")
	t.Setenv("IS_ARMED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Admin != "caesarlp" {
		t.Errorf("Admin = %q, want lowercased caesarlp", cfg.Admin)
	}
	if cfg.AgeThresholdMonths != 12 {
		t.Errorf("AgeThresholdMonths = %d, want 12", cfg.AgeThresholdMonths)
	}
	if cfg.Armed {
		t.Error("Armed = true, want false")
	}
}

func TestLoadBadThreshold(t *testing.T) {
	t.Setenv("TWITCH_APP_ID", "app-id")
	t.Setenv("TWITCH_APP_SECRET", "app-secret")
	t.Setenv("AGE_THRESHOLD", "six")
	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want invalid AGE_THRESHOLD error")
	}
}
