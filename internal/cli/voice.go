package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/vtm/internal/audio"
	"github.com/Dicklesworthstone/vtm/internal/events"
	"github.com/Dicklesworthstone/vtm/internal/transcribe"
	"github.com/Dicklesworthstone/vtm/internal/transcribe/deepgram"
	"github.com/Dicklesworthstone/vtm/internal/voice"
)

var voiceHandsFree bool

var voiceCmd = &cobra.Command{
	Use:   "voice <team> <role>",
	Short: "Dictate commands into a role's pane",
	Long: `Voice streams the microphone to the transcription service and types
the finalized transcript into the bound pane. End a command by saying
the stop phrase. With --hands-free the session keeps listening after
each dispatch.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Deepgram.APIKey == "" {
			return errors.New("deepgram api key not configured (set DEEPGRAM_API_KEY)")
		}

		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runVoice(ctx, c, args[0], args[1])
	},
}

func runVoice(ctx context.Context, c *components, team, role string) error {
	capture := audio.NewFFmpegCapture(cfg.Audio.FFmpeg)
	provider := deepgram.NewProvider(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.BaseURL,
		Model:       cfg.Deepgram.Model,
		Language:    cfg.Deepgram.Language,
		SmartFormat: cfg.Deepgram.SmartFormat,
	})

	var corrector voice.Corrector
	if cfg.Voice.CorrectionURL != "" {
		corrector = voice.NewHTTPCorrector(cfg.Voice.CorrectionURL)
	}

	handsFree := cfg.Voice.HandsFree || voiceHandsFree
	session := voice.NewSession(capture, provider, corrector, c.dispatcher, nil, c.emitter, voice.Config{
		StopPhrase:     cfg.Voice.StopPhrase,
		Debounce:       cfg.Debounce(),
		HandsFree:      handsFree,
		ConnectTimeout: cfg.ConnectTimeout(),
		CorrectTimeout: cfg.CorrectTimeout(),
		ChunkSize:      cfg.Audio.ChunkSize,
		Audio: audio.Config{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
			ChunkSize:   cfg.Audio.ChunkSize,
		},
		Stream: transcribe.StreamConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			InterimResults: true,
		},
	})

	states := make(chan string, 16)
	unsubscribe := c.bus.Subscribe(events.VoiceStateChanged, func(e events.BusEvent) {
		re, ok := e.(events.RoleEvent)
		if !ok {
			return
		}
		select {
		case states <- re.Details["state"]:
		default:
		}
	})
	defer unsubscribe()

	// Completion feedback: when a role on this team finishes a task,
	// speak the announcement through the session so it interleaves with
	// listening instead of talking over the microphone.
	unsubDone := c.bus.Subscribe(events.TaskCompleted, func(e events.BusEvent) {
		re, ok := e.(events.RoleEvent)
		if !ok || re.Team != team || re.Message == "" {
			return
		}
		go func() {
			provider, err := c.ttsReg.Create(cfg.TTS.Provider)
			if err != nil {
				return
			}
			wav, err := provider.Synthesize(ctx, re.Message, cfg.TTS.Voice)
			if err != nil {
				return
			}
			_ = session.Speak(ctx, wav)
		}()
	})
	defer unsubDone()

	if err := session.Start(ctx, team, role); err != nil {
		return err
	}

	f := formatter()
	for {
		select {
		case <-ctx.Done():
			session.Stop()
			return nil

		case st := <-states:
			switch st {
			case "listening":
				f.Info("listening... say %q to send", cfg.Voice.StopPhrase)
			case "processing":
				f.Info("finalizing transcript")
			case "sent":
				f.Success("command sent to %s/%s", team, role)
			case "idle":
				if !handsFree {
					return nil
				}
			case "error":
				err := session.Err()
				session.Acknowledge()
				if err != nil {
					return fmt.Errorf("voice session: %w", err)
				}
				return errors.New("voice session failed")
			}
		}
	}
}

func init() {
	voiceCmd.Flags().BoolVar(&voiceHandsFree, "hands-free", false, "keep listening after each dispatch")
	rootCmd.AddCommand(voiceCmd)
}
