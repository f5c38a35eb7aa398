package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lzcstory/lzcstory/internal/library"
	"github.com/lzcstory/lzcstory/internal/model"
)

var scanMode string

var scanCmd = &cobra.Command{
	Use:   "scan <album-id>",
	Short: "Scan an album directory and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid album id %q", args[0])
		}
		if scanMode != model.ScanModeFull && scanMode != model.ScanModeSync {
			return fmt.Errorf("invalid mode %q, want %s or %s", scanMode, model.ScanModeFull, model.ScanModeSync)
		}

		rt, err := openApp(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		catalog := library.NewCatalog(rt.store, newScanner(rt), rt.cfg.MaxAlbums, rt.log)
		defer catalog.Close()

		result, err := catalog.ScanNow(cmd.Context(), id, scanMode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "found %d, added %d, updated %d, moved %d, removed %d\n",
			result.Found, result.Added, result.Updated, result.Moved, result.Removed)
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanMode, "mode", model.ScanModeSync, "scan mode: full or sync")
	rootCmd.AddCommand(scanCmd)
}
