package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/poller"
	"servicesift-backend/internal/reports"
)

func watchCmd() *cobra.Command {
	var (
		apiURL      string
		token       string
		interval    time.Duration
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "watch <analysisId>",
		Short: "Poll report status until the analysis completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("SIFT_TOKEN")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			p := &poller.Poller{
				Fetcher:     &poller.HTTPFetcher{BaseURL: apiURL, Token: token},
				Interval:    interval,
				MaxAttempts: maxAttempts,
			}
			return watch(ctx, cmd.OutOrStdout(), p, args[0])
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", envOr("SIFT_API_URL", "http://localhost:8080"), "API base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (defaults to $SIFT_TOKEN)")
	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "poll interval")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", poller.DefaultMaxAttempts, "maximum number of polls")
	return cmd
}

func watch(ctx context.Context, out io.Writer, p *poller.Poller, analysisID string) error {
	var lastStatus reports.Status
	p.OnUpdate = func(v reports.StatusView) {
		if v.ReportStatus == lastStatus {
			return
		}
		lastStatus = v.ReportStatus
		fmt.Fprintf(out, "%s  %s (%s)\n", time.Now().Format(time.TimeOnly), v.ReportStatus, v.Status)
	}

	view, err := p.Wait(ctx, analysisID)
	if errors.Is(err, poller.ErrTimeout) {
		return fmt.Errorf("%s: analysis %s still %s", poller.CodeTimeout, analysisID, view.Status)
	}
	if err != nil {
		return err
	}
	if view.Status == analyses.StatusFailed {
		return fmt.Errorf("%s: %s", view.ErrorCode, view.ErrorMessage)
	}
	fmt.Fprintf(out, "completed: %d reviews, average rating %.2f\n", view.ReviewCount, view.AverageRating)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
