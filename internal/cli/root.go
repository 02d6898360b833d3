package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rocket-import",
	Short: "Bulk-import rows into metadata-defined entities",
	Long: `rocket-import runs import jobs against the entities defined in the
rocket catalog: each row is created or updated in its own transaction,
outcomes are logged per row, and a finished job can be restored.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: app.yaml in . or ./config)")
}
