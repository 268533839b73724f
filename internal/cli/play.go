package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/voicenote/internal/output"
)

func NewPlayCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "play <message-id>",
		Short: "Play a voice message on the speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			formatter := output.NewFormatter(os.Stdout)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			payload, err := deps.App.LoadMessage(ctx, id)
			if err != nil {
				return err
			}
			if err := deps.App.Playback.Play(id, payload, formatter.ProgressBar()); err != nil {
				return err
			}
			defer deps.App.Playback.Close()

			tick := time.NewTicker(100 * time.Millisecond)
			defer tick.Stop()
			for deps.App.Playback.IsPlaying(id) {
				select {
				case <-ctx.Done():
					deps.App.Playback.Stop()
					fmt.Println()
					formatter.Info("playback stopped")
					return nil
				case <-tick.C:
				}
			}
			return nil
		},
	}
}
