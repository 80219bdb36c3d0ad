package voice

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Player renders synthesized audio to the local output device.
type Player interface {
	Play(ctx context.Context, wav []byte) error
}

// CommandPlayer pipes canonical WAV into a system playback command:
// afplay cannot read stdin, so darwin uses ffplay; elsewhere aplay
// handles WAV natively.
type CommandPlayer struct {
	Run func(ctx context.Context, stdin []byte, name string, args ...string) error
}

// NewCommandPlayer creates a player using the platform default command.
func NewCommandPlayer() *CommandPlayer {
	return &CommandPlayer{Run: runPlayback}
}

func (p *CommandPlayer) Play(ctx context.Context, wav []byte) error {
	if len(wav) == 0 {
		return nil
	}
	name, args := playbackCommand()
	return p.Run(ctx, wav, name, args...)
}

func playbackCommand() (string, []string) {
	if runtime.GOOS == "darwin" {
		return "ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0"}
	}
	return "aplay", []string{"-q", "-"}
}

func runPlayback(ctx context.Context, stdin []byte, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
