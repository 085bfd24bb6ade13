// Command sandbox-agent runs coding-agent CLIs behind one HTTP protocol.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sandbox-agent",
	Short: "Run coding agents behind a uniform session API",
	Long: `sandbox-agent hosts claude, codex and gemini CLI sessions and exposes
them through one HTTP protocol: create a session, post messages, poll or
stream a normalized event log, and answer permission and question requests
the agent raises mid-turn.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
