package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var vacuumInto string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the SQLite integrity check",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openApp(true)
		if err != nil {
			return err
		}
		defer rt.Close()

		results, err := rt.store.IntegrityCheck(cmd.Context())
		if err != nil {
			return err
		}
		if len(results) == 1 && results[0] == "ok" {
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		}
		for _, line := range results {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return errors.New("integrity check failed")
	},
}

var dbVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Rebuild the database file, optionally into a new file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openApp(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.store.Vacuum(cmd.Context(), vacuumInto); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "vacuum done")
		return nil
	},
}

var dbAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Refresh query planner statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openApp(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.store.Analyze(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "analyze done")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts per table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openApp(true)
		if err != nil {
			return err
		}
		defer rt.Close()

		stats, err := rt.store.TableStats(cmd.Context())
		if err != nil {
			return err
		}
		names := make([]string, 0, len(stats))
		width := 0
		for name := range stats {
			names = append(names, name)
			width = max(width, len(name))
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s %d\n", name, strings.Repeat(" ", width-len(name)), stats[name])
		}
		return nil
	},
}

func init() {
	dbVacuumCmd.Flags().StringVar(&vacuumInto, "into", "", "write the compacted copy to this path instead of rewriting in place")
	dbCmd.AddCommand(dbCheckCmd, dbVacuumCmd, dbAnalyzeCmd, dbStatsCmd)
	rootCmd.AddCommand(dbCmd)
}
