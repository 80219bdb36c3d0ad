package voice

import (
	"strings"
	"sync"

	"github.com/Dicklesworthstone/vtm/internal/transcribe"
)

// aggregator accumulates transcript fragments in arrival order. Settled
// fragments are retained for submission; the newest provisional
// fragment is tracked so a stop phrase split across a settled and a
// provisional piece is still caught.
type aggregator struct {
	mu         sync.Mutex
	settled    []string
	lastSpoken string
}

func (a *aggregator) Add(event transcribe.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if event.Kind == transcribe.KindFinal {
		a.settled = append(a.settled, text)
	}
}

// Text joins the accumulated transcript. The last provisional fragment
// is appended when the settled fragments do not already cover it.
func (a *aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.settled, " "))
	if joined == "" {
		return a.lastSpoken
	}
	if a.lastSpoken == "" || strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}
	return strings.TrimSpace(joined + " " + a.lastSpoken)
}

func (a *aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = nil
	a.lastSpoken = ""
}

// endsWithStopPhrase reports whether text, normalized, ends with the
// stop phrase. Matching is case-insensitive and ignores trailing
// punctuation inserted by transcription formatting.
func endsWithStopPhrase(text, phrase string) bool {
	text = normalizeTail(text)
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" || text == "" {
		return false
	}
	if !strings.HasSuffix(text, phrase) {
		return false
	}
	// Phrase must start at a word boundary.
	prefix := strings.TrimSuffix(text, phrase)
	return prefix == "" || strings.HasSuffix(prefix, " ")
}

// stripStopPhrase removes the trailing stop phrase and surrounding
// whitespace from text, preserving the original casing of what remains.
func stripStopPhrase(text, phrase string) string {
	normalized := normalizeTail(text)
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" || !strings.HasSuffix(normalized, phrase) {
		return strings.TrimSpace(text)
	}

	// Work out how much of the original tail the normalized suffix
	// covers: trailing punctuation plus the phrase itself.
	trimmed := strings.TrimRight(strings.TrimSpace(text), ".,!?")
	if len(trimmed) >= len(phrase) && strings.EqualFold(trimmed[len(trimmed)-len(phrase):], phrase) {
		trimmed = trimmed[:len(trimmed)-len(phrase)]
	}
	return strings.TrimSpace(trimmed)
}

func normalizeTail(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRight(text, ".,!?")
}
