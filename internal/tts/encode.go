package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Canonical audio encoding: every provider returns this regardless of
// what its backend natively emits.
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
)

// Transcoder converts provider-native audio bytes to canonical WAV.
// Overridable for tests; the default shells out to ffmpeg.
type Transcoder func(ctx context.Context, native []byte) ([]byte, error)

// FFmpegTranscode converts any ffmpeg-readable audio to 16 kHz mono
// s16le WAV via pipes.
func FFmpegTranscode(ctx context.Context, native []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-ar", fmt.Sprintf("%d", CanonicalSampleRate),
		"-ac", fmt.Sprintf("%d", CanonicalChannels),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(native)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg transcode: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// isCanonicalWAV checks the RIFF header for the canonical format so
// already-conforming audio skips the transcode round trip.
func isCanonicalWAV(data []byte) bool {
	if len(data) < 36 {
		return false
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return false
	}
	channels := int(data[22]) | int(data[23])<<8
	rate := int(data[24]) | int(data[25])<<8 | int(data[26])<<16 | int(data[27])<<24
	return channels == CanonicalChannels && rate == CanonicalSampleRate
}
