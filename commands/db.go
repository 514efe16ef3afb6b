package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var clearYes *bool

func init() {
	clearYes = clearCmd.Flags().Bool("yes", false, "Confirm deleting every stored session, subscription and result.")
	rootCmd.AddCommand(statsCmd, clearCmd, dedupeCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints row counts and the latest session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		sessions, err := a.store.Sessions(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"stats": stats, "sessions": sessions})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear --yes",
	Short: "Deletes all stored data.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !*clearYes {
			return errors.New("refusing to clear the database without --yes")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.ClearAll(cmd.Context()); err != nil {
			return err
		}
		a.log.Info("All data cleared")
		return nil
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Keeps the most recent subscription row per search term.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		groups, err := a.store.Duplicates(cmd.Context())
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No duplicates found")
			return nil
		}
		for _, g := range groups {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows\n", g.Search, g.Count)
		}

		result, err := a.store.RemoveDuplicates(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d subscriptions and %d results across %d search terms\n",
			result.SubscriptionsRemoved, result.ResultsRemoved, result.Groups)
		return nil
	},
}
