package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Addr)
	}
}

func TestLoadServerConfigExplicitAddr(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("expected passthrough addr, got %s", cfg.Addr)
	}
}

func TestLoadServerConfigRejectsGarbage(t *testing.T) {
	t.Setenv("PORT", "80 80")

	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoadConversationConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"CONVO_FIRST_NUDGE_MS", "CONVO_SECOND_NUDGE_MS", "CONVO_SOFT_END_MS",
		"CONVO_BARGE_IN_DEBOUNCE_MS", "CONVO_HISTORY_LIMIT", "CONVO_PHRASES_FILE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := loadConversationConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.FirstNudgeAfter != 12*time.Second {
		t.Fatalf("first nudge default = %v", cfg.FirstNudgeAfter)
	}
	if cfg.SecondNudgeAfter != 25*time.Second {
		t.Fatalf("second nudge default = %v", cfg.SecondNudgeAfter)
	}
	if cfg.SoftEndAfter != 45*time.Second {
		t.Fatalf("soft end default = %v", cfg.SoftEndAfter)
	}
	if cfg.BargeInDebounce != 150*time.Millisecond {
		t.Fatalf("debounce default = %v", cfg.BargeInDebounce)
	}
	if cfg.MinFlushBytes != 4800 {
		t.Fatalf("flush bytes default = %d", cfg.MinFlushBytes)
	}
	if len(cfg.Phrases.FirstNudge) == 0 || len(cfg.Phrases.SoftEnd) == 0 {
		t.Fatal("default phrases missing")
	}
}

func TestLoadConversationConfigOverrides(t *testing.T) {
	t.Setenv("CONVO_FIRST_NUDGE_MS", "500")
	t.Setenv("CONVO_HISTORY_LIMIT", "3")

	cfg, err := loadConversationConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FirstNudgeAfter != 500*time.Millisecond {
		t.Fatalf("override not applied: %v", cfg.FirstNudgeAfter)
	}
	if cfg.HistoryLimit != 3 {
		t.Fatalf("history override not applied: %d", cfg.HistoryLimit)
	}
}

func TestLoadPhrasesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.yaml")
	content := "firstNudge:\n  - \"hello?\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	phrases, err := LoadPhrases(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(phrases.FirstNudge) != 1 || phrases.FirstNudge[0] != "hello?" {
		t.Fatalf("first nudge not overridden: %v", phrases.FirstNudge)
	}
	if len(phrases.SoftEnd) == 0 {
		t.Fatal("soft end should fall back to defaults")
	}
}
