package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// runCommand executes a synthesis command and returns its stdout.
// Overridable for tests.
type runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// SayProvider drives the macOS `say` command. Native output is AIFF,
// converted to canonical WAV before returning.
type SayProvider struct {
	Run       runCommand
	Transcode Transcoder
}

// NewSayProvider creates the macOS say provider.
func NewSayProvider() (Provider, error) {
	return &SayProvider{Run: execCommand, Transcode: FFmpegTranscode}, nil
}

func (p *SayProvider) Name() string         { return "say" }
func (p *SayProvider) DefaultVoice() string { return "Samantha" }
func (p *SayProvider) AvailableVoices() []string {
	return []string{"Samantha", "Alex", "Daniel", "Karen", "Moira"}
}

func (p *SayProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	voice, err := validVoice(p.Name(), voice, p.DefaultVoice(), p.AvailableVoices())
	if err != nil {
		return nil, err
	}

	// say has no stdout mode; render to a temp file and read it back.
	dir, err := os.MkdirTemp("", "vtm_say_")
	if err != nil {
		return nil, fmt.Errorf("say: %w", err)
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "speech.aiff")

	if _, err := p.Run(ctx, "say", "-v", voice, "-o", out, "--", text); err != nil {
		return nil, err
	}
	native, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("say: read output: %w", err)
	}
	return p.Transcode(ctx, native)
}

// EspeakProvider drives espeak (or espeak-ng). Native output is 22 kHz
// WAV on stdout, converted to canonical WAV before returning.
type EspeakProvider struct {
	Run       runCommand
	Transcode Transcoder
}

// NewEspeakProvider creates the espeak provider.
func NewEspeakProvider() (Provider, error) {
	return &EspeakProvider{Run: execCommand, Transcode: FFmpegTranscode}, nil
}

func (p *EspeakProvider) Name() string         { return "espeak" }
func (p *EspeakProvider) DefaultVoice() string { return "en" }
func (p *EspeakProvider) AvailableVoices() []string {
	return []string{"en", "en-us", "en-gb", "de", "fr", "es"}
}

func (p *EspeakProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	voice, err := validVoice(p.Name(), voice, p.DefaultVoice(), p.AvailableVoices())
	if err != nil {
		return nil, err
	}

	native, err := p.Run(ctx, "espeak", "-v", voice, "--stdout", "--", text)
	if err != nil {
		return nil, err
	}
	if isCanonicalWAV(native) {
		return native, nil
	}
	return p.Transcode(ctx, native)
}
