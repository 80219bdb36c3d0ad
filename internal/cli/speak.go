package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/vtm/internal/tts"
	"github.com/Dicklesworthstone/vtm/internal/voice"
)

var (
	speakSessionID  string
	speakTranscript string
	speakNoPlay     bool
)

var speakCmd = &cobra.Command{
	Use:   "speak <team> <role>",
	Short: "Announce a task completion out loud",
	Long: `Speak synthesizes the completion announcement for (team, role) and
plays it on the local output device. Intended as a hook target for
agents that signal when they finish.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		req := tts.NewRequest(args[0], args[1], speakSessionID, speakTranscript)
		wav, err := c.speaker.Speak(ctx, req)
		if err != nil {
			return err
		}

		if !speakNoPlay {
			if err := voice.NewCommandPlayer().Play(ctx, wav); err != nil {
				return err
			}
		}

		f := formatter()
		if f.JSONMode() {
			return f.JSON(map[string]any{"request_id": req.ID, "announcement": tts.Announcement(req)})
		}
		f.Success("announced: %s", tts.Announcement(req))
		return nil
	},
}

func init() {
	speakCmd.Flags().StringVar(&speakSessionID, "session-id", "", "originating agent session id")
	speakCmd.Flags().StringVar(&speakTranscript, "transcript", "", "path to the agent transcript")
	speakCmd.Flags().BoolVar(&speakNoPlay, "no-play", false, "synthesize without playing audio")
	rootCmd.AddCommand(speakCmd)
}
