// Package cli implements the can-simulator command tree.
package cli

import (
	"fmt"
	"log/slog"

	"can-bus-simulator/internal/config"
	"can-bus-simulator/internal/logging"

	"github.com/spf13/cobra"
)

// state is shared by every subcommand once the configuration is loaded
type state struct {
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	st := &state{}

	root := &cobra.Command{
		Use:   "can-simulator",
		Short: "CAN bus simulator",
		Long: `can-simulator generates synthetic CAN traffic, filters and analyzes it,
calibrates user actions against frames and replays recorded sequences.

Configuration is read from a .env file; environment variables override it.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(st.envFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			st.cfg = cfg
			st.logger = logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			slog.SetDefault(st.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&st.envFile, "env", ".env", "Path to .env configuration file")

	root.AddCommand(
		newServeCommand(st),
		newGenerateCommand(st),
		newSequenceCommand(st),
	)
	return root
}

// Execute runs the command tree against os.Args
func Execute() error {
	return NewRootCommand().Execute()
}
