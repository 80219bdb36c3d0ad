package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrCorrectionUnavailable reports a correction backend that could not
// serve the request. Callers fall back to the raw transcript.
var ErrCorrectionUnavailable = errors.New("correction unavailable")

// Corrector normalizes a raw transcript into command text.
type Corrector interface {
	Correct(ctx context.Context, raw string) (string, error)
}

// NopCorrector returns the transcript unchanged.
type NopCorrector struct{}

func (NopCorrector) Correct(_ context.Context, raw string) (string, error) {
	return raw, nil
}

// HTTPCorrector posts the raw transcript to an external normalization
// service and returns its corrected text. Any transport or decode
// failure maps to ErrCorrectionUnavailable.
type HTTPCorrector struct {
	URL    string
	Client *http.Client
}

// NewHTTPCorrector creates a corrector against the given endpoint.
func NewHTTPCorrector(url string) *HTTPCorrector {
	return &HTTPCorrector{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPCorrector) Correct(ctx context.Context, raw string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": raw})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrectionUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrectionUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrectionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrCorrectionUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCorrectionUnavailable, err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("%w: empty corrected text", ErrCorrectionUnavailable)
	}
	return out.Text, nil
}
