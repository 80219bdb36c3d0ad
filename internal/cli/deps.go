package cli

import (
	"fmt"

	"github.com/Dicklesworthstone/vtm/internal/config"
	"github.com/Dicklesworthstone/vtm/internal/dispatch"
	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/monitor"
	"github.com/Dicklesworthstone/vtm/internal/registry"
	"github.com/Dicklesworthstone/vtm/internal/tmux"
	"github.com/Dicklesworthstone/vtm/internal/tts"
)

// components holds the wired core services shared by commands.
type components struct {
	client     *tmux.Client
	registry   *registry.Registry
	reader     *monitor.Reader
	bus        *events.EventBus
	emitter    *events.EventEmitter
	hub        *monitor.Hub
	dispatcher *dispatch.Dispatcher
	ttsReg     *tts.Registry
	speaker    *tts.Speaker
}

// buildComponents wires the core services from config. Every command
// that touches tmux goes through this so remote mode and layouts apply
// uniformly.
func buildComponents(cfg *config.Config) (*components, error) {
	client := tmux.DefaultClient
	if cfg.Remote != "" {
		client = tmux.NewClient(cfg.Remote)
	}

	var layout *registry.Layout
	if cfg.LayoutFile != "" {
		var err error
		layout, err = registry.LoadLayout(config.ExpandHome(cfg.LayoutFile))
		if err != nil {
			return nil, fmt.Errorf("loading layout file: %w", err)
		}
	}

	reg := registry.New(client, layout)
	reader := monitor.NewReader(client, cfg.Monitor.CaptureLines)

	bus := events.NewEventBus(256)
	emitter := events.NewEventEmitter(bus, 256)
	emitter.Start()

	hub := monitor.NewHub(reg, reader, emitter, monitor.HubConfig{
		Intervals:        cfg.Intervals(),
		DefaultInterval:  cfg.DefaultInterval(),
		Keepalive:        cfg.Keepalive(),
		MissedKeepalives: cfg.Monitor.MissedKeepalives,
		QuietPeriod:      cfg.QuietPeriod(),
		Buffer:           cfg.Monitor.BufferSize,
	})

	ttsReg := tts.NewRegistry(cfg.TTS.Provider)
	if err := registerProviders(ttsReg, cfg); err != nil {
		return nil, err
	}

	return &components{
		client:     client,
		registry:   reg,
		reader:     reader,
		bus:        bus,
		emitter:    emitter,
		hub:        hub,
		dispatcher: dispatch.New(reg, emitter, cfg.SettleDelay()),
		ttsReg:     ttsReg,
		speaker:    tts.NewSpeaker(ttsReg, cfg.TTS.Provider, cfg.TTS.Voice, emitter),
	}, nil
}

func registerProviders(reg *tts.Registry, cfg *config.Config) error {
	if err := reg.Register("say", tts.NewSayProvider); err != nil {
		return err
	}
	if err := reg.Register("espeak", tts.NewEspeakProvider); err != nil {
		return err
	}
	if cfg.TTS.ElevenLabs.APIKey != "" {
		factory := tts.NewElevenLabsProvider(tts.ElevenLabsConfig{
			APIKey:  cfg.TTS.ElevenLabs.APIKey,
			BaseURL: cfg.TTS.ElevenLabs.BaseURL,
			ModelID: cfg.TTS.ElevenLabs.ModelID,
		})
		if err := reg.Register("elevenlabs", factory); err != nil {
			return err
		}
	}
	return nil
}
