package config_test

import (
	"strings"
	"testing"

	"github.com/seclyn/callwarden/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
classifier:
  base_url: "https://classify.example.com/v1"
  api_key: "sk-test"
  user_id: "device-7"
signals:
  bridge_url: "ws://127.0.0.1:9400/events"
storage:
  postgres_dsn: "postgres://localhost/callwarden"
toggles:
  call_protection: true
  meeting_protection: true
`

func TestLoadFromReader_ValidConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if !cfg.Toggles.CallProtection || !cfg.Toggles.MeetingProtection {
		t.Error("protection toggles should both be true")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := validYAML + "\nunknown_section:\n  foo: bar\n"
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestValidate_MissingClassifierURL(t *testing.T) {
	t.Parallel()
	yaml := `
signals:
  bridge_url: "ws://127.0.0.1:9400/events"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing classifier.base_url, got nil")
	}
	if !strings.Contains(err.Error(), "classifier.base_url") {
		t.Errorf("error should mention classifier.base_url, got: %v", err)
	}
}

func TestValidate_BadBridgeURLScheme(t *testing.T) {
	t.Parallel()
	yaml := `
classifier:
  base_url: "https://classify.example.com/v1"
signals:
  bridge_url: "http://127.0.0.1:9400/events"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-websocket bridge URL, got nil")
	}
	if !strings.Contains(err.Error(), "signals.bridge_url") {
		t.Errorf("error should mention signals.bridge_url, got: %v", err)
	}
}

func TestValidate_ExternalDirRequiresBridgeCommand(t *testing.T) {
	t.Parallel()
	yaml := `
classifier:
  base_url: "https://classify.example.com/v1"
signals:
  bridge_url: "ws://127.0.0.1:9400/events"
snapshot:
  external_dir: "/data/recorder"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for external_dir without bridge_command, got nil")
	}
	if !strings.Contains(err.Error(), "bridge_command") {
		t.Errorf("error should mention bridge_command, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
capture:
  channels: 7
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "server.log_level") {
		t.Errorf("error should mention server.log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "capture.channels") {
		t.Errorf("error should mention capture.channels, got: %v", err)
	}
	if !strings.Contains(errStr, "classifier.base_url") {
		t.Errorf("error should mention classifier.base_url, got: %v", err)
	}
}

func TestValidate_EnrichmentModelRequired(t *testing.T) {
	t.Parallel()
	yaml := `
classifier:
  base_url: "https://classify.example.com/v1"
signals:
  bridge_url: "ws://127.0.0.1:9400/events"
enrichment:
  provider: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for enrichment provider without model, got nil")
	}
	if !strings.Contains(err.Error(), "enrichment.model") {
		t.Errorf("error should mention enrichment.model, got: %v", err)
	}
}

func TestCaptureDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Capture.SegmentDuration().Seconds(); got != 20 {
		t.Errorf("default segment duration = %vs, want 20s", got)
	}
	if got := cfg.Snapshot.PollInterval().Seconds(); got != 10 {
		t.Errorf("default poll interval = %vs, want 10s", got)
	}
	if got := cfg.Snapshot.RecencyWindow().Seconds(); got != 60 {
		t.Errorf("default recency window = %vs, want 60s", got)
	}
}
