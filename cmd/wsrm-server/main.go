// Package main provides the wsrm gateway executable: an HTTP API over the reliability
// engine, the JSON message gateway peers post to, and maintenance commands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/coregx/wsrm"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wsrm-server",
		Short: "Reliable messaging gateway",
		Long: `wsrm-server runs the reliable messaging engine behind an HTTP API.

Configuration is read from the environment (SERVER_*, DB_*, WSRM_*, TRANSPORT_*).
The reliability policy can be supplied as a YAML document via WSRM_POLICY_FILE.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newScheduleCommand(),
		newReportCommand(),
	)
	return root
}

// newLogger builds the engine logger on a slog text handler.
func newLogger(level string) wsrm.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return wsrm.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
