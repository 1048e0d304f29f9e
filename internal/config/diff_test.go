package config_test

import (
	"testing"

	"github.com/seclyn/callwarden/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Toggles: config.TogglesConfig{CallProtection: true},
	}
	new := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Toggles: config.TogglesConfig{CallProtection: true},
	}

	d := config.Diff(old, new)
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should be false")
	}
	if d.TogglesChanged {
		t.Error("TogglesChanged should be false")
	}
}

func TestDiff_LogLevelChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, config.LogDebug)
	}
}

func TestDiff_ToggleChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Toggles: config.TogglesConfig{CallProtection: true, MeetingProtection: true},
	}
	new := &config.Config{
		Toggles: config.TogglesConfig{CallProtection: true, MeetingProtection: false},
	}

	d := config.Diff(old, new)
	if !d.TogglesChanged {
		t.Fatal("TogglesChanged should be true")
	}
	if d.NewToggles.MeetingProtection {
		t.Error("NewToggles.MeetingProtection should be false")
	}
	if !d.NewToggles.CallProtection {
		t.Error("NewToggles.CallProtection should still be true")
	}
}

func TestDiff_NonReloadableFieldsIgnored(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
	}
	new := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":9090", LogLevel: config.LogInfo},
	}

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.TogglesChanged {
		t.Error("listen_addr change should not produce a hot-reload diff")
	}
}
