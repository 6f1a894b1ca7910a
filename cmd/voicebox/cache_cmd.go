package main

import (
	"fmt"

	"github.com/dgnsrekt/voicebox/internal/cache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:       "cache [clear]",
	Short:     "Inspect or clear the synthesized audio cache",
	Example:   paragraph("voicebox cache\nvoicebox cache clear"),
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"clear"},
	RunE: func(_ *cobra.Command, args []string) error {
		dir := cacheDir()
		c, err := cache.Open(cache.Config{Dir: dir})
		if err != nil {
			return fmt.Errorf("unable to open cache: %w", err)
		}
		defer c.Close() //nolint:errcheck

		stats := c.Stats()
		if len(args) == 1 {
			if args[0] != "clear" {
				return fmt.Errorf("unknown cache command %q", args[0])
			}
			if err := c.Clear(); err != nil {
				return fmt.Errorf("unable to clear cache: %w", err)
			}
			fmt.Printf("Cleared %s in %s entries from %s\n",
				humanize.IBytes(uint64(stats.DiskBytes)), humanize.Comma(int64(stats.DiskItems)), dir)
			return nil
		}

		fmt.Println("Directory:", dir)
		fmt.Println("Entries:  ", humanize.Comma(int64(stats.DiskItems)))
		fmt.Println("Size:     ", humanize.IBytes(uint64(stats.DiskBytes)))
		return nil
	},
}
