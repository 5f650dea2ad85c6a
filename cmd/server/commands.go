package server

import "github.com/spf13/cobra"

// Actions defines server lifecycle operations.
type Actions interface {
	List(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
	Start(cmd *cobra.Command, args []string) error
	Stop(cmd *cobra.Command, args []string) error
	Restart(cmd *cobra.Command, args []string) error
	Install(cmd *cobra.Command, args []string) error
	Console(cmd *cobra.Command, args []string) error
	RM(cmd *cobra.Command, args []string) error
}

// Command builds the "server" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Manage game servers",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List servers with state",
		RunE:    h.List,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect SERVER",
		Short: "Show detailed server info (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Inspect,
	}

	startCmd := &cobra.Command{
		Use:   "start SERVER [SERVER...]",
		Short: "Start installed/stopped server(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Start,
	}

	stopCmd := &cobra.Command{
		Use:   "stop SERVER [SERVER...]",
		Short: "Stop running server(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Stop,
	}

	restartCmd := &cobra.Command{
		Use:   "restart SERVER [SERVER...]",
		Short: "Restart server(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.Restart,
	}

	installCmd := &cobra.Command{
		Use:   "install SERVER",
		Short: "Run the install pipeline for a server",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Install,
	}
	installCmd.Flags().Bool("reinstall", false, "reinstall over an existing installation")
	installCmd.Flags().Duration("timeout", 0, "abort the install after this duration (0 = no limit)")

	consoleCmd := &cobra.Command{
		Use:   "console SERVER",
		Short: "Attach an interactive console over the daemon websocket",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Console,
	}
	consoleCmd.Flags().String("daemon", "", "daemon address (default: configured listen address on localhost)")
	consoleCmd.Flags().String("token", "", "console session token")
	consoleCmd.Flags().String("escape-char", "^]", "escape character (single char or ^X caret notation)")

	rmCmd := &cobra.Command{
		Use:   "rm [flags] SERVER [SERVER...]",
		Short: "Delete server(s) (--force to remove running servers)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.RM,
	}
	rmCmd.Flags().Bool("force", false, "force delete running servers")

	serverCmd.AddCommand(
		listCmd,
		inspectCmd,
		startCmd,
		stopCmd,
		restartCmd,
		installCmd,
		consoleCmd,
		rmCmd,
	)
	return serverCmd
}
