// Package transcribe defines the streaming speech-to-text contract the
// voice pipeline consumes. Concrete backends live in subpackages.
package transcribe

import "context"

// Kind distinguishes provisional hypotheses from settled transcript
// fragments.
type Kind int

const (
	// KindPartial fragments may still be revised by the provider.
	KindPartial Kind = iota
	// KindFinal fragments are settled and will not change.
	KindFinal
)

func (k Kind) String() string {
	if k == KindFinal {
		return "final"
	}
	return "partial"
}

// Event is one transcript fragment from the provider.
type Event struct {
	Kind Kind
	Text string
	// SpeechFinal marks the end of an utterance: the speaker paused
	// long enough that the provider considers the phrase complete.
	SpeechFinal bool
}

// StreamConfig describes the audio the session will receive.
type StreamConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// Session is a live bidirectional transcription stream. Audio goes in
// through SendAudio, transcript fragments come out through Events.
// CloseSend signals end of audio; Wait blocks until the provider has
// drained; Close tears the session down immediately.
type Session interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan Event
	Wait() error
	Close() error
}

// Provider opens transcription sessions.
type Provider interface {
	StartStreaming(ctx context.Context, cfg StreamConfig) (Session, error)
}
