package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/vtm/internal/events"
)

// Request is one completion-feedback synthesis job. Created per
// completion event, consumed exactly once, never retried.
type Request struct {
	ID             string    `json:"id"`
	Team           string    `json:"team"`
	Role           string    `json:"role"`
	SessionID      string    `json:"session_id"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewRequest builds a Request from a completion event.
func NewRequest(team, role, sessionID, transcriptPath string) Request {
	return Request{
		ID:             uuid.NewString(),
		Team:           team,
		Role:           role,
		SessionID:      sessionID,
		TranscriptPath: transcriptPath,
		CreatedAt:      time.Now().UTC(),
	}
}

// Speaker turns completion requests into spoken feedback using the
// configured provider and voice.
type Speaker struct {
	registry *Registry
	provider string
	voice    string
	emitter  *events.EventEmitter
}

// NewSpeaker creates a speaker. Empty provider/voice fall through to
// registry and provider defaults.
func NewSpeaker(registry *Registry, provider, voice string, emitter *events.EventEmitter) *Speaker {
	if emitter == nil {
		emitter = events.DefaultEmitter()
	}
	return &Speaker{registry: registry, provider: provider, voice: voice, emitter: emitter}
}

// Announcement renders the spoken phrase for a completion.
func Announcement(req Request) string {
	return fmt.Sprintf("%s on team %s finished a task", req.Role, req.Team)
}

// Speak synthesizes the completion announcement and emits the
// task.completed event. Provider/voice errors surface immediately;
// there is no retry.
func (s *Speaker) Speak(ctx context.Context, req Request) ([]byte, error) {
	provider, err := s.registry.Create(s.provider)
	if err != nil {
		return nil, err
	}

	audio, err := provider.Synthesize(ctx, Announcement(req), s.voice)
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(events.NewRoleEvent(events.TaskCompleted, req.Team, req.Role, Announcement(req), map[string]string{
		"request_id": req.ID,
		"session_id": req.SessionID,
	}))
	return audio, nil
}
