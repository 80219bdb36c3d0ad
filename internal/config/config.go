// Package config loads vtm configuration from TOML with environment
// overrides. Precedence: env > file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level vtm configuration.
type Config struct {
	// Remote is an optional SSH host; when set, tmux commands run
	// through ssh instead of the local socket.
	Remote string `toml:"remote"`
	// LayoutFile declares role names per team; see registry layouts.
	LayoutFile string `toml:"layout_file"`

	Monitor  MonitorConfig  `toml:"monitor"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Voice    VoiceConfig    `toml:"voice"`
	Deepgram DeepgramConfig `toml:"deepgram"`
	Audio    AudioConfig    `toml:"audio"`
	TTS      TTSConfig      `toml:"tts"`
	Serve    ServeConfig    `toml:"serve"`
}

// MonitorConfig tunes pane capture and the stream hub.
type MonitorConfig struct {
	CaptureLines      int   `toml:"capture_lines"`      // lines kept per snapshot (tail)
	IntervalsMS       []int `toml:"intervals_ms"`       // supported polling intervals
	DefaultIntervalMS int   `toml:"default_interval_ms"`
	QuietPeriodMS     int   `toml:"quiet_period_ms"` // active -> idle after this much silence
	KeepaliveSec      int   `toml:"keepalive_sec"`
	MissedKeepalives  int   `toml:"missed_keepalives"`
	BufferSize        int   `toml:"buffer_size"` // per-subscriber channel buffer
}

// DispatchConfig tunes command injection.
type DispatchConfig struct {
	SettleDelaySec int `toml:"settle_delay_sec"`
}

// VoiceConfig tunes the voice command pipeline.
type VoiceConfig struct {
	StopPhrase        string `toml:"stop_phrase"`
	DebounceMS        int    `toml:"debounce_ms"`
	HandsFree         bool   `toml:"hands_free"`
	ConnectTimeoutSec int    `toml:"connect_timeout_sec"`
	CorrectTimeoutSec int    `toml:"correct_timeout_sec"`
	CorrectionURL     string `toml:"correction_url"` // empty disables correction
}

// DeepgramConfig holds transcription credentials and model options.
type DeepgramConfig struct {
	APIKey      string `toml:"api_key"`
	BaseURL     string `toml:"base_url"`
	Model       string `toml:"model"`
	Language    string `toml:"language"`
	SmartFormat bool   `toml:"smart_format"`
}

// AudioConfig describes microphone capture.
type AudioConfig struct {
	SampleRate  int    `toml:"sample_rate"`
	Channels    int    `toml:"channels"`
	InputFormat string `toml:"input_format"`
	InputDevice string `toml:"input_device"`
	ChunkSize   int    `toml:"chunk_size"`
	FFmpeg      string `toml:"ffmpeg"` // capture binary override
}

// TTSConfig selects the speech provider and voice.
type TTSConfig struct {
	Provider   string           `toml:"provider"` // say, espeak, elevenlabs; empty = platform default
	Voice      string           `toml:"voice"`
	ElevenLabs ElevenLabsConfig `toml:"elevenlabs"`
}

// ElevenLabsConfig holds hosted TTS credentials.
type ElevenLabsConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	ModelID string `toml:"model_id"`
}

// ServeConfig tunes the HTTP/websocket server.
type ServeConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			CaptureLines:      50,
			IntervalsMS:       []int{500, 1000, 2000},
			DefaultIntervalMS: 1000,
			QuietPeriodMS:     2500,
			KeepaliveSec:      30,
			MissedKeepalives:  2,
			BufferSize:        8,
		},
		Dispatch: DispatchConfig{SettleDelaySec: 5},
		Voice: VoiceConfig{
			StopPhrase:        "thank you",
			DebounceMS:        500,
			ConnectTimeoutSec: 10,
			CorrectTimeoutSec: 5,
		},
		Deepgram: DeepgramConfig{
			Model:       "nova-2",
			SmartFormat: true,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			ChunkSize:  4096,
		},
		Serve: ServeConfig{Addr: "127.0.0.1:7600"},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	if env := os.Getenv("VTM_CONFIG"); env != "" {
		return ExpandHome(env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vtm", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "vtm", "config.toml")
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Load reads the config file at path (DefaultPath when empty), applies
// it over defaults, then applies environment overrides. A missing file
// is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if remote := os.Getenv("VTM_REMOTE"); remote != "" {
		cfg.Remote = remote
	}
	if layout := os.Getenv("VTM_LAYOUT_FILE"); layout != "" {
		cfg.LayoutFile = ExpandHome(layout)
	}
	if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
		cfg.Deepgram.APIKey = key
	}
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		cfg.TTS.ElevenLabs.APIKey = key
	}
	if phrase := os.Getenv("VTM_STOP_PHRASE"); phrase != "" {
		cfg.Voice.StopPhrase = phrase
	}
	if handsFree := os.Getenv("VTM_HANDS_FREE"); handsFree != "" {
		cfg.Voice.HandsFree = handsFree == "1" || handsFree == "true"
	}
	if provider := os.Getenv("VTM_TTS_PROVIDER"); provider != "" {
		cfg.TTS.Provider = provider
	}
	if url := os.Getenv("VTM_CORRECTION_URL"); url != "" {
		cfg.Voice.CorrectionURL = url
	}
	if addr := os.Getenv("VTM_SERVE_ADDR"); addr != "" {
		cfg.Serve.Addr = addr
	}
	if lines := os.Getenv("VTM_CAPTURE_LINES"); lines != "" {
		if n, err := strconv.Atoi(lines); err == nil && n > 0 {
			cfg.Monitor.CaptureLines = n
		}
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Monitor.CaptureLines <= 0 {
		return fmt.Errorf("monitor.capture_lines must be positive, got %d", c.Monitor.CaptureLines)
	}
	if len(c.Monitor.IntervalsMS) == 0 {
		return fmt.Errorf("monitor.intervals_ms must list at least one interval")
	}
	for _, ms := range c.Monitor.IntervalsMS {
		if ms < 100 {
			return fmt.Errorf("monitor interval %dms is below the 100ms floor", ms)
		}
	}
	if c.Monitor.MissedKeepalives < 1 {
		return fmt.Errorf("monitor.missed_keepalives must be at least 1")
	}
	if strings.TrimSpace(c.Voice.StopPhrase) == "" {
		return fmt.Errorf("voice.stop_phrase must not be empty")
	}
	if c.Voice.DebounceMS < 0 {
		return fmt.Errorf("voice.debounce_ms must not be negative")
	}
	return nil
}

// Duration accessors keep callers out of the millisecond arithmetic.

func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.Monitor.QuietPeriodMS) * time.Millisecond
}

func (c *Config) Intervals() []time.Duration {
	out := make([]time.Duration, 0, len(c.Monitor.IntervalsMS))
	for _, ms := range c.Monitor.IntervalsMS {
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out
}

func (c *Config) DefaultInterval() time.Duration {
	return time.Duration(c.Monitor.DefaultIntervalMS) * time.Millisecond
}

func (c *Config) Keepalive() time.Duration {
	return time.Duration(c.Monitor.KeepaliveSec) * time.Second
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Dispatch.SettleDelaySec) * time.Second
}

func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Voice.DebounceMS) * time.Millisecond
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Voice.ConnectTimeoutSec) * time.Second
}

func (c *Config) CorrectTimeout() time.Duration {
	return time.Duration(c.Voice.CorrectTimeoutSec) * time.Second
}

// Save writes the config as TOML, creating parent directories.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
