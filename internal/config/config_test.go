package config

import (
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("ICE_SERVERS_JSON", "")
	t.Setenv("ROOM_NAME", "")
	t.Setenv("SUPABASE_BUCKET", "")
	t.Setenv("BATCH_INTERVAL", "")
	t.Setenv("CUE_KEYWORDS_MEMORIES", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.ICEServersJSON == "" {
		t.Fatalf("expected default ice servers json")
	}
	if cfg.RoomName != "dementia-care-room" {
		t.Fatalf("unexpected room %q", cfg.RoomName)
	}
	if cfg.SupabaseBucket != "audio_bucket" {
		t.Fatalf("unexpected bucket %q", cfg.SupabaseBucket)
	}
	if cfg.BatchInterval != 30*time.Second || cfg.SyncInterval != 5*time.Minute || cfg.SettleDelay != 3*time.Second {
		t.Fatalf("unexpected intervals %v %v %v", cfg.BatchInterval, cfg.SyncInterval, cfg.SettleDelay)
	}
	if len(cfg.MemoriesKeywords) != 1 || cfg.MemoriesKeywords[0] != "i don't know" {
		t.Fatalf("unexpected keywords %v", cfg.MemoriesKeywords)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SYNC_LOOKBACK", "25")
	t.Setenv("BATCH_INTERVAL", "10s")
	t.Setenv("CUE_KEYWORDS_EXERCISES", "let's begin | ready, set, go")
	t.Setenv("STORAGE_BACKEND", "S3")
	cfg := Load()
	if cfg.SyncLookback != 25 {
		t.Fatalf("expected lookback 25, got %d", cfg.SyncLookback)
	}
	if cfg.BatchInterval != 10*time.Second {
		t.Fatalf("expected 10s, got %v", cfg.BatchInterval)
	}
	if len(cfg.ExercisesKeywords) != 2 || cfg.ExercisesKeywords[1] != "ready, set, go" {
		t.Fatalf("unexpected keywords %v", cfg.ExercisesKeywords)
	}
	if cfg.StorageBackend != "s3" {
		t.Fatalf("expected lowercased backend, got %q", cfg.StorageBackend)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SYNC_LOOKBACK", "-3")
	t.Setenv("SETTLE_DELAY", "soon")
	cfg := Load()
	if cfg.SyncLookback != 100 {
		t.Fatalf("expected default lookback, got %d", cfg.SyncLookback)
	}
	if cfg.SettleDelay != 3*time.Second {
		t.Fatalf("expected default settle delay, got %v", cfg.SettleDelay)
	}
}
