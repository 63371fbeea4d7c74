package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/shared/metrics"
	"servicesift-backend/internal/shared/storage/db"
	"servicesift-backend/internal/shared/telemetry"
)

func recoverStaleCmd() *cobra.Command {
	var (
		olderThan   time.Duration
		limit       int
		concurrency int
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "recover-stale",
		Short: "Reset analyses stuck in flight back to pending",
		Long: `Reset analyses that have sat in extracting, analyzing or saving for longer
than the stale threshold. Reset analyses are picked up again by the next
confirm-payment or trigger-analysis call.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if olderThan <= 0 {
				olderThan = cfg.StaleAfter
			}
			sqlDB, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.ProfileCLI)
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			n, err := recoverStale(cmd.Context(), cmd.OutOrStdout(), &analyses.PGRepo{DB: sqlDB}, recoverOptions{
				Cutoff:      time.Now().UTC().Add(-olderThan),
				Limit:       limit,
				Concurrency: concurrency,
				DryRun:      dryRun,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d analyses\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "stale threshold (defaults to STALE_AFTER)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum analyses to reset")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel resets")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list stale analyses without resetting them")
	return cmd
}

type recoverOptions struct {
	Cutoff      time.Time
	Limit       int
	Concurrency int
	DryRun      bool
}

// recoverStale resets every stale analysis that is still stale at reset time.
func recoverStale(ctx context.Context, out io.Writer, repo analyses.Repo, opts recoverOptions) (int, error) {
	stale, err := repo.ListStale(ctx, opts.Cutoff, opts.Limit)
	if err != nil {
		return 0, err
	}
	if opts.DryRun {
		for _, a := range stale {
			fmt.Fprintf(out, "%s  %s since %s\n", a.ID, a.Status, a.StatusChangedAt.Format(time.RFC3339))
		}
		return 0, nil
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	var reset atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, a := range stale {
		a := a
		g.Go(func() error {
			err := repo.ResetStale(gctx, a.ID, opts.Cutoff)
			if errors.Is(err, analyses.ErrConflict) {
				return nil
			}
			if err != nil {
				return err
			}
			reset.Add(1)
			metrics.IncStaleRecovery()
			telemetry.Info("siftctl.stale_reset", map[string]any{
				"analysis_id":       a.ID,
				"status_transition": analyses.StatusTransition(a.Status, analyses.StatusPending),
			})
			return nil
		})
	}
	err = g.Wait()
	return int(reset.Load()), err
}
