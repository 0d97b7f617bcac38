package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shellmux",
	Short: "🖥️  shellmux - multiplexed PTY session server",
	Long: `shellmux hosts multiple shell processes behind pseudoterminals and
exposes each one as an independently addressable session. Remote clients
create sessions, attach to them over a websocket event channel, feed input,
and receive output — with strict isolation between sessions.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
