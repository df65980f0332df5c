package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aidaemon",
	Short: "Local AI orchestration daemon for the editor",
	Long: `aidaemon routes editor conversations to locally installed AI command-line tools
and HTTP APIs over a WebSocket, with an HTTP side channel for health and vault sync.

Running without a subcommand is the same as "aidaemon serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, providersCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
