package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/voicenote/internal/output"
	"github.com/satindergrewal/voicenote/internal/stream"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var to string
	var limit time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice message and send it",
		Long:  "Record from the microphone until Ctrl+C (or --duration), then encode and send the message.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() {
				if cerr := deps.App.Close(); err == nil {
					err = cerr
				}
			}()
			formatter := output.NewFormatter(os.Stdout)

			events := deps.App.Events.Subscribe()
			defer deps.App.Events.Unsubscribe(events)
			go showEvents(formatter, events)

			if err := deps.App.Recorder.Start(to); err != nil {
				return err
			}
			started := time.Now()
			formatter.RecordingStarted(to)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if limit > 0 {
				var limitCancel context.CancelFunc
				ctx, limitCancel = context.WithTimeout(ctx, limit)
				defer limitCancel()
			}
			<-ctx.Done()

			formatter.RecordingStopped(time.Since(started))
			if err := <-deps.App.StopRecording(); err != nil {
				return err
			}
			formatter.Sent(to, deps.App.Mode())
			return nil
		},
	}

	cmd.Flags().StringVarP(&to, "to", "t", "", "Recipient")
	cmd.Flags().DurationVarP(&limit, "duration", "d", 0, "Stop after this long")
	cmd.MarkFlagRequired("to")
	return cmd
}

// showEvents prints notices and the microphone level until l is dropped.
func showEvents(f *output.Formatter, l *stream.Listener) {
	for {
		select {
		case <-l.Done():
			return
		case e := <-l.C:
			switch e.Type {
			case stream.EventNotice:
				f.Notice(e.Text)
			case stream.EventVolume:
				f.Level(e.Value)
			}
		}
	}
}
