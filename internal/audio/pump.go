package audio

import (
	"errors"
	"fmt"
	"io"
)

// Sink receives captured PCM chunks, typically a streaming
// transcription connection.
type Sink interface {
	SendAudio(chunk []byte) error
}

// Pump copies PCM from a capture session into a sink in fixed-size
// chunks until the session ends or the sink rejects a write. It closes
// done on exit so the owner can join the goroutine.
func Pump(session Session, sink Sink, chunkSize int, done chan struct{}) error {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := session.Read(buf)
		if n > 0 {
			if sendErr := sink.SendAudio(buf[:n]); sendErr != nil {
				return fmt.Errorf("stream audio: %w", sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("audio capture: %w", err)
		}
	}
}
