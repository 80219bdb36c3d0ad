// Package voice drives the hands-free command pipeline: microphone
// capture feeds a streaming transcription session, the accumulated
// transcript is finalized by a trailing stop phrase, corrected, and
// dispatched to the bound pane like a typed command.
package voice

import "errors"

// State is the voice session status.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateProcessing
	StateCorrecting
	StateSent
	StateSpeaking
	StateError
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateListening:  "listening",
	StateProcessing: "processing",
	StateCorrecting: "correcting",
	StateSent:       "sent",
	StateSpeaking:   "speaking",
	StateError:      "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrConnectionLost reports a transcription connection that dropped and
// could not be re-established with the single automatic reconnect.
var ErrConnectionLost = errors.New("transcription connection lost")

// ErrSessionActive reports a Start while a session is already running.
var ErrSessionActive = errors.New("voice session already active")
