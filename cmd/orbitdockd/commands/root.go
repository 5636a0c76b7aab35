// Package commands implements orbitdockd's cobra command tree.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/robdel12/orbitdock/internal/config"
	"github.com/robdel12/orbitdock/internal/logging"
)

// Version and BuildTime are overridden at build time via -ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	logLevel string
	logFile  bool
)

var rootCmd = &cobra.Command{
	Use:     "orbitdockd",
	Short:   "OrbitDock daemon: multiplexes collaborator CLI sessions behind a WebSocket gateway",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logLevel
		if !cmd.Flags().Changed("log-level") {
			if env := os.Getenv(config.EnvLogLevel); env != "" {
				level = env
			}
		}
		cfg := logging.DefaultConfig()
		cfg.Level = logging.ParseLevel(level)
		cfg.LogToFile = logFile
		cfg.LogDir = config.GetPaths(config.ResolveHome()).Root
		logging.Init(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "also write logs to a timestamped file under ~/.orbitdock")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}
