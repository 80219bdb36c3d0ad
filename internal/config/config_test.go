package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Voice.StopPhrase != "thank you" {
		t.Errorf("unexpected default stop phrase %q", cfg.Voice.StopPhrase)
	}
	if cfg.Monitor.CaptureLines != 50 {
		t.Errorf("unexpected default capture lines %d", cfg.Monitor.CaptureLines)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.SettleDelaySec != 5 {
		t.Errorf("defaults not applied: %+v", cfg.Dispatch)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
remote = "build-box"

[voice]
stop_phrase = "over and out"
hands_free = true

[monitor]
capture_lines = 120
intervals_ms = [500, 1000]
default_interval_ms = 500
quiet_period_ms = 2500
keepalive_sec = 30
missed_keepalives = 2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote != "build-box" {
		t.Errorf("remote = %q", cfg.Remote)
	}
	if cfg.Voice.StopPhrase != "over and out" || !cfg.Voice.HandsFree {
		t.Errorf("voice = %+v", cfg.Voice)
	}
	if cfg.Monitor.CaptureLines != 120 {
		t.Errorf("capture lines = %d", cfg.Monitor.CaptureLines)
	}
	// File did not touch dispatch; defaults survive.
	if cfg.Dispatch.SettleDelaySec != 5 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[voice]\nstop_phrase = \"from file\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VTM_STOP_PHRASE", "from env")
	t.Setenv("DEEPGRAM_API_KEY", "dg-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Voice.StopPhrase != "from env" {
		t.Errorf("env override lost: %q", cfg.Voice.StopPhrase)
	}
	if cfg.Deepgram.APIKey != "dg-secret" {
		t.Errorf("deepgram key not applied")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Monitor.CaptureLines = 0 },
		func(c *Config) { c.Monitor.IntervalsMS = nil },
		func(c *Config) { c.Monitor.IntervalsMS = []int{50} },
		func(c *Config) { c.Monitor.MissedKeepalives = 0 },
		func(c *Config) { c.Voice.StopPhrase = "  " },
		func(c *Config) { c.Voice.DebounceMS = -1 },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	if cfg.QuietPeriod() != 2500*time.Millisecond {
		t.Errorf("quiet period = %s", cfg.QuietPeriod())
	}
	if cfg.Debounce() != 500*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Debounce())
	}
	if cfg.SettleDelay() != 5*time.Second {
		t.Errorf("settle = %s", cfg.SettleDelay())
	}
	if got := cfg.Intervals(); len(got) != 3 || got[0] != 500*time.Millisecond {
		t.Errorf("intervals = %v", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.Voice.StopPhrase = "roger roger"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Voice.StopPhrase != "roger roger" {
		t.Errorf("round trip lost stop phrase: %q", loaded.Voice.StopPhrase)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[voice]\nstop_phrase = \"first\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got atomic.Value
	reloaded := make(chan struct{}, 4)
	w, err := Watch(ctx, path, func(cfg *Config) {
		got.Store(cfg.Voice.StopPhrase)
		reloaded <- struct{}{}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[voice]\nstop_phrase = \"second\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		if phrase, _ := got.Load().(string); phrase != "second" {
			t.Errorf("reloaded stop phrase = %q", phrase)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
