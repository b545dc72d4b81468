// Package cmd implements the humanloop CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X humanloop/cmd.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "humanloop",
	Short: "Ask a human over Telegram from any MCP client",
	Long:  "humanloop is an MCP tool server that sends messages to Telegram chats and waits for the people in them to reply.",

	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
}
