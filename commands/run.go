package commands

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wb_scraper/scraper"
)

var runVisible *bool

func init() {
	runVisible = runCmd.Flags().Bool("visible", false, "Open a visible browser and wait for a manual sign-in instead of running headless.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--visible]",
	Short: "Scrapes every subscription in the subscription file once and exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		headless := a.cfg.Browser.Headless && !*runVisible
		summary, err := a.scheduler().RunNow(ctx, scraper.RunOptions{Headless: headless})
		if summary != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(summary); encErr != nil {
				a.log.WithError(encErr).Warn("Printing summary")
			}
		}
		return err
	},
}
