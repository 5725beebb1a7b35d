// Package commands provides the CLI commands for the nexus daemon.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-nexus/nexus/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	prettyLogs bool
	logLevel   string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus - supervisor and connection manager for OpenCode servers",
	Long: `Nexus manages a local OpenCode server process, maintains the
connection to it (or to a remote server), consumes its event stream and
exposes everything to UI clients over a local HTTP bridge.

Run 'nexus serve' to start the daemon.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env next to the binary is a convenience for development.
		godotenv.Load()

		logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: prettyLogs,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable log output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG config dir)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("nexus %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
