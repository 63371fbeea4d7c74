package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"servicesift-backend/internal/deadletter"
	"servicesift-backend/internal/shared/storage/db"
)

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Inspect pipeline jobs that exhausted their deliveries",
	}

	var (
		limit  int
		asJSON bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List the newest dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			sqlDB, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.ProfileCLI)
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			return listDeadLetters(cmd.Context(), cmd.OutOrStdout(), &deadletter.PGRepo{DB: sqlDB}, limit, asJSON)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries")
	list.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	cmd.AddCommand(list)
	return cmd
}

func listDeadLetters(ctx context.Context, out io.Writer, repo deadletter.Repo, limit int, asJSON bool) error {
	entries, err := repo.List(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no dead letters")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tANALYSIS\tRECEIVES\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.CreatedAt.Format(time.RFC3339), e.AnalysisID, e.ReceiveCount, truncate(e.Error, 80))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
