// Package cmd implements the daemon's CLI surface.
//
// Grounded on cuemby-warren's cmd/warren/main.go root command (persistent
// log-level/log-json flags configured via cobra.OnInitialize, subcommands
// attached in init()), replacing the teacher's CNI skel.PluginMainFuncs
// dispatch (dropped — see DESIGN.md).
package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "netcored",
	Short:   "Container network provisioning and traffic-control engine",
	Version: Version,
}

// Execute runs the CLI. Called from main after the __containerkit_init__
// re-exec dispatch has already been ruled out.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit structured JSON logs instead of console output")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	levelStr, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
