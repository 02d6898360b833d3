package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rocket-import/internal/importer"
)

var (
	runJobPath  string
	runRowsPath string
	runJobID    string
	runAction   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an import job",
	Long: `Runs the import job described by a YAML job file against the rows of a
JSON file. Rows are either arrays of cells (columns referenced by index) or
objects (columns referenced by name). Prints the job summary as JSON.`,
	Example: `  rocket-import run --job products.yaml --rows products.json
  rocket-import run --job products.yaml --rows fix.json --action update --job-id fix-2`,
	Args: cobra.NoArgs,
	RunE: withApp(runImport),
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runJobPath, "job", "", "Job specification file (YAML)")
	runCmd.Flags().StringVar(&runRowsPath, "rows", "", "Rows file (JSON array)")
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Override the job id from the job file")
	runCmd.Flags().StringVar(&runAction, "action", "", "Override the action: create, update or create_update")
	_ = runCmd.MarkFlagRequired("job")
	_ = runCmd.MarkFlagRequired("rows")
}

func runImport(ctx context.Context, app *App, cmd *cobra.Command, _ []string) error {
	spec, err := readJobSpec(runJobPath)
	if err != nil {
		return err
	}
	if runJobID != "" {
		spec.JobID = runJobID
	}
	if runAction != "" {
		spec.Action = importer.Action(runAction)
	}

	data, err := os.ReadFile(runRowsPath)
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	rows, err := importer.ParseRows(data)
	if err != nil {
		return fmt.Errorf("parse rows %s: %w", runRowsPath, err)
	}

	res, err := app.Runner.Run(ctx, rows, spec)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func readJobSpec(path string) (importer.ImportJobSpec, error) {
	var spec importer.ImportJobSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read job file: %w", err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse job file %s: %w", path, err)
	}
	return spec, nil
}
