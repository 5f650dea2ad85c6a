package daemon

import "github.com/spf13/cobra"

// Actions defines the daemon entrypoint.
type Actions interface {
	Serve(cmd *cobra.Command, args []string) error
}

// Command builds the "daemon" command.
func Command(h Actions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the hatchery daemon (HTTP API + console websocket)",
		RunE:  h.Serve,
	}
}
