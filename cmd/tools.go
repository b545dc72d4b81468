package cmd

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"humanloop/pkg/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool catalog as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printCatalog(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func printCatalog(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(map[string]any{"tools": tools.Catalog()})
}
