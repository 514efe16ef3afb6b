package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"wb_scraper/export"
)

var exportFormat *string

func init() {
	exportFormat = exportCmd.Flags().String("format", "json", "Export format: json or csv.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [--format json|csv]",
	Short: "Writes the stored snapshot to the export directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := export.Format(*exportFormat)
		if f != export.FormatJSON && f != export.FormatCSV {
			return fmt.Errorf("unknown format %q", *exportFormat)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		exporter, err := a.exporter(cmd.Context())
		if err != nil {
			return err
		}

		path, err := exporter.Save(cmd.Context(), f)
		if path != "" {
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}
		return err
	},
}
