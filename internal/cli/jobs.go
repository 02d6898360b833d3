package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show an import job with its row outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
		detail, err := app.Runner.Describe(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, detail)
	}),
}

var restoreCmd = &cobra.Command{
	Use:   "restore <job-id>",
	Short: "Revert the changes made by a finished import job",
	Long: `Replays the job's restore log in reverse: records the job created are
deleted and updated records get their previous values back. A job can be
restored once.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
		report, err := app.Runner.Restore(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	}),
}

func init() {
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(restoreCmd)
}
