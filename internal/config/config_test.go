package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Text.ChunkMaxChars != 1000 {
		t.Fatalf("expected default chunk max, got %d", cfg.Text.ChunkMaxChars)
	}
	if cfg.Verification.Threshold != 0.85 {
		t.Fatalf("expected default verification threshold, got %f", cfg.Verification.Threshold)
	}
	if cfg.Pipeline.CoverageThreshold != 0.95 {
		t.Fatalf("expected default coverage threshold, got %f", cfg.Pipeline.CoverageThreshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VERSO_TEXT_CHUNK_MAX_CHARS", "500")
	t.Setenv("VERSO_TTS_MODE", "exec")
	t.Setenv("VERSO_TTS_COMMAND", "orpheus-cli --stream")
	t.Setenv("VERSO_TTS_VOICE", "leah")
	t.Setenv("VERSO_TTS_TEMPERATURE", "0.4")
	t.Setenv("VERSO_VERIFICATION_ENABLED", "false")
	t.Setenv("VERSO_VERIFICATION_THRESHOLD", "0.9")
	t.Setenv("VERSO_STORE_PATH", "./tmp.db")
	t.Setenv("VERSO_PIPELINE_OUTPUT_DIR", "./out")
	t.Setenv("VERSO_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Text.ChunkMaxChars != 500 {
		t.Fatalf("expected chunk max override, got %d", cfg.Text.ChunkMaxChars)
	}
	if cfg.TTS.Mode != "exec" || cfg.TTS.Command != "orpheus-cli --stream" {
		t.Fatalf("expected tts exec override, got %q %q", cfg.TTS.Mode, cfg.TTS.Command)
	}
	if cfg.TTS.Voice != "leah" || cfg.TTS.Temperature != 0.4 {
		t.Fatalf("expected voice override")
	}
	if cfg.Verification.Enabled {
		t.Fatal("expected verification disabled override")
	}
	if cfg.Verification.Threshold != 0.9 {
		t.Fatalf("expected threshold override, got %f", cfg.Verification.Threshold)
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.Pipeline.OutputDir != "./out" {
		t.Fatalf("expected output dir override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("VERSO_TTS_MODE", "http")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for http mode without endpoint")
	}
}
