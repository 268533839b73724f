package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/voicenote/internal/output"
)

func NewListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List messages in the outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)

			msgs, err := deps.App.Outbox.List()
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				formatter.Info("No messages found")
				return nil
			}

			formatter.MessageListHeader()
			for i := len(msgs) - 1; i >= 0; i-- {
				m := msgs[i]
				formatter.MessageListItem(m.ID, m.To, m.MimeType, m.Size, m.CreatedAt)
			}
			return nil
		},
	}
}
