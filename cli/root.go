// Package cli wires the relay, phone and watch processes behind one cobra
// command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mbocsi/wearlink/config"
)

// version is set via build-time ldflags
var version = "dev"

// rootOptions is shared by every subcommand. Config and viper are filled in
// by the root command's PersistentPreRunE.
type rootOptions struct {
	configPath string
	logOutput  io.Writer

	cfg   *config.Config
	viper *viper.Viper
}

// NewRootCommand returns the wearlink command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{logOutput: os.Stderr}

	cmd := &cobra.Command{
		Use:   "wearlink",
		Short: "Keep a watch face in sync with the weather on a paired phone",
		Long: `wearlink runs the three processes of a phone/watch weather link:

  relay  routes messages and replicates records between nodes
  phone  answers weather requests from its forecast store
  watch  renders the watch face and requests fresh weather on connect

Settings come from defaults, an optional YAML file (--config), a .env file
and WEARLINK_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")

	cmd.AddCommand(
		newRelayCommand(opts),
		newPhoneCommand(opts),
		newWatchCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, v, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log, o.logOutput)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	o.cfg = cfg
	o.viper = v
	return nil
}

// Execute runs the command tree until SIGINT or SIGTERM.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
