// Package cli implements the rolesched command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/rolesched/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default daemon URL, checking ROLESCHED_SERVER first.
func defaultServer() string {
	if s := os.Getenv("ROLESCHED_SERVER"); s != "" {
		return s
	}
	return "http://127.0.0.1:8090"
}

// NewRootCmd creates the root cobra command for the rolesched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rolesched",
		Short: "Adaptive multi-role worker scheduler",
		Long:  "rolesched runs background worker roles, starting and stopping them as host resources allow.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "rolesched daemon URL (or ROLESCHED_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newLocksCmd(),
		newConfigCmd(),
	)

	return root
}
