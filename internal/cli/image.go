package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/voicenote/internal/capture"
	"github.com/satindergrewal/voicenote/internal/output"
)

func NewImageCmd(deps *Dependencies) *cobra.Command {
	var to string
	var camera bool
	var orientation int

	cmd := &cobra.Command{
		Use:   "image <file>",
		Short: "Compress an image and send it",
		Long:  "Downscale and JPEG-compress an image, then send it. With --camera the file is treated\nas a fresh camera shot and rotated for --orientation and the configured camera mount.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)
			ctx := cmd.Context()

			sess := deps.App.NewCaptureSession()
			sess.SetOrientation(orientation)

			var res capture.Result
			if camera {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				res = <-sess.Shutter(ctx, data)
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open image: %w", err)
				}
				res = <-sess.SelectExisting(ctx, f)
				f.Close()
			}
			if res.Err != nil {
				sess.Cancel()
				return res.Err
			}

			path, err := sess.Accept()
			if err != nil {
				return err
			}
			if err := deps.App.SendImage(ctx, to, path); err != nil {
				return err
			}
			formatter.Sent(to, deps.App.Mode())
			return nil
		},
	}

	cmd.Flags().StringVarP(&to, "to", "t", "", "Recipient")
	cmd.Flags().BoolVar(&camera, "camera", false, "Treat the file as a camera shot")
	cmd.Flags().IntVarP(&orientation, "orientation", "o", 0, "Device orientation in degrees")
	cmd.MarkFlagRequired("to")
	return cmd
}
