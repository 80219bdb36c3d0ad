// Package tts provides pluggable text-to-speech behind a uniform
// capability contract. Providers register at startup; lookups go through
// the registry's Create, and every provider returns audio in the one
// canonical encoding (16 kHz mono s16le WAV) no matter what its backend
// natively produces.
package tts

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// Provider is one text-to-speech backend.
type Provider interface {
	// Name returns the registry key the provider was created under.
	Name() string

	// Synthesize renders text to canonical WAV audio. An empty voice
	// means DefaultVoice. Unknown voices fail with *UnknownVoiceError.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)

	// DefaultVoice returns the voice used when none is requested.
	DefaultVoice() string

	// AvailableVoices returns the voices the provider accepts.
	AvailableVoices() []string
}

// Factory produces a provider instance. Providers are instantiated per
// request so no synthesize call shares mutable state with another.
type Factory func() (Provider, error)

// UnknownProviderError reports a Create against an unregistered name.
type UnknownProviderError struct {
	Requested string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown tts provider %q (available: %v)", e.Requested, e.Available)
}

// UnknownVoiceError reports a synthesize call with a voice the provider
// does not offer.
type UnknownVoiceError struct {
	Provider string
	Voice    string
}

func (e *UnknownVoiceError) Error() string {
	return fmt.Sprintf("unknown voice %q for tts provider %q", e.Voice, e.Provider)
}

// FallbackProvider is the documented default used when no provider is
// requested and none is configured.
func FallbackProvider() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak"
}

// Registry is the process-wide provider table. Populated during startup,
// sealed on first use; registration after that is rejected.
type Registry struct {
	mu          sync.Mutex
	factories   map[string]Factory
	defaultName string
	sealed      bool
}

// NewRegistry creates a registry. defaultName may be empty, in which
// case Create falls back to FallbackProvider().
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		factories:   make(map[string]Factory),
		defaultName: defaultName,
	}
}

// Register adds a provider factory under a unique name. It fails once
// the registry has been used: the table is immutable after startup.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("tts registry sealed, cannot register %q after first use", name)
	}
	if name == "" || factory == nil {
		return fmt.Errorf("tts registration requires a name and a factory")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("tts provider %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create resolves name to a fresh provider instance. An empty name uses
// the configured default, then the documented fallback. Unregistered
// names fail with *UnknownProviderError listing what is registered.
func (r *Registry) Create(name string) (Provider, error) {
	r.mu.Lock()
	r.sealed = true
	if name == "" {
		name = r.defaultName
	}
	if name == "" {
		name = FallbackProvider()
	}
	factory, ok := r.factories[name]
	available := r.namesLocked()
	r.mu.Unlock()

	if !ok {
		return nil, &UnknownProviderError{Requested: name, Available: available}
	}
	return factory()
}

// validVoice resolves a requested voice against a provider's voice set.
func validVoice(providerName, requested, defaultVoice string, available []string) (string, error) {
	if requested == "" {
		return defaultVoice, nil
	}
	for _, v := range available {
		if v == requested {
			return requested, nil
		}
	}
	return "", &UnknownVoiceError{Provider: providerName, Voice: requested}
}
