package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mcphub/internal/config"
	"mcphub/internal/formatting"
	"mcphub/pkg/logging"
)

var checkConfigPath string

// checkCmd validates the configuration without starting anything. It is
// meant for CI and for editing sessions: exit code zero means serve would
// accept the directory.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the hub configuration",
	Long: `Loads every configuration document, validates it, and reports all
problems at once. Exits non-zero when the configuration has errors.

Reference problems that the hub tolerates at runtime (a group naming an
unconfigured server, an API tool referencing an unset environment
variable) are not errors here; they surface as warnings when the hub
runs.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(logging.LevelWarn, os.Stderr)

	snapshot, err := loadSnapshotForInspection(checkConfigPath)
	if err != nil {
		return err
	}

	errs := config.Validate(snapshot)
	if !errs.HasErrors() {
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration in %s is valid: %d server(s), %d group(s), %d API tool(s)\n",
			snapshot.Path, len(snapshot.Servers), len(snapshot.Groups), len(snapshot.APITools.Tools))
		return nil
	}

	rows := make([][]string, 0, len(errs))
	for _, ve := range errs {
		value := ""
		if ve.Value != nil {
			value = fmt.Sprintf("%v", ve.Value)
		}
		rows = append(rows, []string{ve.Field, ve.Message, value})
	}
	listing := formatting.Listing{
		Header: []string{"FIELD", "PROBLEM", "VALUE"},
		Rows:   rows,
		Items:  errs,
	}
	if err := formatting.NewRenderer(formatting.FormatTable).Render(cmd.OutOrStdout(), listing); err != nil {
		return err
	}

	return fmt.Errorf("configuration has %d problem(s)", len(errs))
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkConfigPath, "config-path", "", "Configuration directory (default: ~/.config/mcphub)")
}
