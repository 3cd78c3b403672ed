package main

import (
	"os"

	"github.com/spf13/cobra"

	"txspout/internal/logging"
)

var (
	LogLevel string
	LogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:           "txspout",
	Short:         "transactional partitioned-pull spout over a partitioned log",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitFromEnv()
		if cmd.Flags().Changed("log-level") || cmd.Flags().Changed("log-json") {
			logging.Configure(logging.Options{Level: LogLevel, JSON: LogJSON})
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", "info", "debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&LogJSON, "log-json", false, "emit JSON logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
