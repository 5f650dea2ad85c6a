package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	cmddaemon "github.com/projecteru2/hatchery/cmd/daemon"
	cmdothers "github.com/projecteru2/hatchery/cmd/others"
	cmdserver "github.com/projecteru2/hatchery/cmd/server"
	"github.com/projecteru2/hatchery/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hatchery",
		Short: "Hatchery - game server daemon",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(commandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root-dir", "", "root data directory")
	cmd.PersistentFlags().String("listen", "", "daemon listen address")
	cmd.PersistentFlags().String("panel", "", "control plane base URL")
	cmd.PersistentFlags().String("panel-token", "", "control plane API token")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("listen", cmd.PersistentFlags().Lookup("listen"))
	_ = viper.BindPFlag("panel", cmd.PersistentFlags().Lookup("panel"))
	_ = viper.BindPFlag("panel_token", cmd.PersistentFlags().Lookup("panel-token"))

	viper.SetEnvPrefix("HATCHERY")
	viper.AutomaticEnv()

	confProvider := func() *config.Config { return conf }

	base := cmdcore.BaseHandler{ConfProvider: confProvider}
	cmd.AddCommand(cmddaemon.Command(cmddaemon.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdserver.Command(cmdserver.Handler{BaseHandler: base}))
	for _, c := range cmdothers.Commands(cmdothers.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}

	return cmd
}()

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := conf.Normalize(); err != nil {
		return err
	}

	return log.SetupLog(ctx, &conf.Log, "")
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func newCommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
