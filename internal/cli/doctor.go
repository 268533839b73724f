package cli

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/voicenote/internal/config"
	"github.com/satindergrewal/voicenote/internal/output"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(os.Stdout)
			ok := true

			if _, err := exec.LookPath("ffmpeg"); err != nil {
				f.SetupCheck("ffmpeg", false, "not found. Install ffmpeg for microphone capture and M4A output")
				ok = false
			} else {
				f.SetupCheck("ffmpeg", true, "installed")
			}

			f.SetupCheck("Microphone", true, deps.Config.InputFormat+" "+deps.Config.Input)

			if path := config.FilePath(); path != "" {
				f.SetupCheck("Config file", true, path)
			} else {
				f.SetupCheck("Config file", true, "none, using defaults and VOICENOTE_* variables")
			}

			f.SetupCheck("Outbox", true, deps.App.Outbox.Dir())

			if deps.App.Client != nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
				err := deps.App.Client.WaitForHealthy(ctx, 500*time.Millisecond)
				cancel()
				if err != nil {
					f.SetupCheck("Chat server", false, deps.Config.ChatURL+" unreachable")
					ok = false
				} else {
					f.SetupCheck("Chat server", true, deps.Config.ChatURL)
				}
			} else {
				f.SetupCheck("Chat server", true, "not configured, messages stay in the outbox")
			}

			if ok {
				f.Success("\nAll prerequisites met. Ready to record!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}
