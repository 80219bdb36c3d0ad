package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ElevenLabsConfig configures the hosted ElevenLabs backend.
type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	ModelID string
	// Voices maps friendly voice names to ElevenLabs voice ids. The
	// first entry of VoiceOrder is the default.
	Voices     map[string]string
	VoiceOrder []string
}

// ElevenLabsProvider synthesizes via the ElevenLabs HTTP API. Native
// output is MP3, converted to canonical WAV before returning.
type ElevenLabsProvider struct {
	cfg       ElevenLabsConfig
	client    *http.Client
	Transcode Transcoder
}

// NewElevenLabsProvider builds a factory bound to the given config.
func NewElevenLabsProvider(cfg ElevenLabsConfig) Factory {
	return func() (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("elevenlabs: api key not configured")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.elevenlabs.io/v1"
		}
		if cfg.ModelID == "" {
			cfg.ModelID = "eleven_turbo_v2"
		}
		if len(cfg.Voices) == 0 {
			cfg.Voices = map[string]string{"rachel": "21m00Tcm4TlvDq8ikWAM"}
			cfg.VoiceOrder = []string{"rachel"}
		}
		return &ElevenLabsProvider{
			cfg:       cfg,
			client:    &http.Client{Timeout: 30 * time.Second},
			Transcode: FFmpegTranscode,
		}, nil
	}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

func (p *ElevenLabsProvider) DefaultVoice() string {
	if len(p.cfg.VoiceOrder) > 0 {
		return p.cfg.VoiceOrder[0]
	}
	for name := range p.cfg.Voices {
		return name
	}
	return ""
}

func (p *ElevenLabsProvider) AvailableVoices() []string {
	if len(p.cfg.VoiceOrder) > 0 {
		return append([]string(nil), p.cfg.VoiceOrder...)
	}
	voices := make([]string, 0, len(p.cfg.Voices))
	for name := range p.cfg.Voices {
		voices = append(voices, name)
	}
	return voices
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	voice, err := validVoice(p.Name(), voice, p.DefaultVoice(), p.AvailableVoices())
	if err != nil {
		return nil, err
	}
	voiceID := p.cfg.Voices[voice]

	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": p.cfg.ModelID,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", p.cfg.BaseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.cfg.APIKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, string(body))
	}

	native, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return p.Transcode(ctx, native)
}
