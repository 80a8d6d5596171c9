package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geoenrich/internal/cache"
)

// maintainedCache is implemented by persistent cache backends that support
// inspection and cleanup.
type maintainedCache interface {
	Purge(ctx context.Context, absentOnly bool) (int64, error)
	Count(ctx context.Context) (found, absent int64, err error)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clean the persistent lookup cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count cached lookups and confirmed absences",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		c, closeFn, err := openMaintainedCache(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		found, absent, err := c.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		fmt.Fprintf(os.Stdout, "found: %d\nabsent: %d\ntotal: %d\n", found, absent, found+absent)
		return nil
	},
}

var cachePurgeAbsent bool

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached lookups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		c, closeFn, err := openMaintainedCache(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := c.Purge(ctx, cachePurgeAbsent)
		if err != nil {
			return eris.Wrap(err, "cache purge")
		}
		fmt.Fprintf(os.Stdout, "deleted %d entries\n", n)
		return nil
	},
}

// openMaintainedCache opens the configured cache and checks that it
// supports maintenance.
func openMaintainedCache(ctx context.Context) (maintainedCache, func(), error) {
	if err := cfg.Validate("cache"); err != nil {
		return nil, nil, err
	}
	s, err := cache.Open(ctx, cacheOptions(cfg.Cache, 0))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { s.Close() } //nolint:errcheck
	m, ok := s.(maintainedCache)
	if !ok {
		closeFn()
		return nil, nil, eris.Errorf("cache driver %q does not support maintenance", cfg.Cache.Driver)
	}
	return m, closeFn, nil
}

func init() {
	cachePurgeCmd.Flags().BoolVar(&cachePurgeAbsent, "absent-only", false, "delete only confirmed absences")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
