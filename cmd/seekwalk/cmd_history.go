package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nvandessel/seekwalk/internal/store"
	"github.com/nvandessel/seekwalk/internal/summary"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded batches",
		Long: `List, inspect and delete batches recorded in ~/.seekwalk/history.db.

Batch IDs may be abbreviated to any unique prefix.

Examples:
  seekwalk history                      # Newest 20 batches
  seekwalk history --status time_limit  # Only batches that ran out of time
  seekwalk history show 1a2b            # Details of one batch
  seekwalk history delete 1a2b`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			status, _ := cmd.Flags().GetString("status")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer hs.Close()

			batches, err := hs.ListBatches(cmd.Context(), store.ListOptions{Limit: limit, Status: status})
			if err != nil {
				return fmt.Errorf("failed to list batches: %w", err)
			}

			if jsonOut {
				if batches == nil {
					batches = []store.Batch{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"batches": batches, "count": len(batches)})
			}
			if len(batches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No batches recorded yet. Run 'seekwalk run' to create one.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tPHASE\tRUNS\tATTEMPTS\tTARGET\tLABEL")
			for _, b := range batches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%d\t%s\n",
					shortID(b.ID), humanize.Time(b.CreatedAt), b.Status, b.Phase,
					b.SuccessfulAttempts, b.DesiredCount, humanize.Comma(int64(b.TotalAttempts)),
					b.Params.TargetValue, b.Label)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum batches to list (0 for all)")
	cmd.Flags().String("status", "", "Only batches with this status (complete, incomplete, stopped, time_limit, aborted)")

	cmd.AddCommand(newHistoryShowCmd(), newHistoryDeleteCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [batch-id]",
		Short: "Show one batch (newest when no ID is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer hs.Close()

			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			b, err := loadBatch(cmd.Context(), hs, id)
			if err != nil {
				return err
			}
			sum := summary.Summarize(b.Result())

			if jsonOut {
				shown := *b
				shown.Runs = nil
				return printJSON(cmd.OutOrStdout(), map[string]any{"batch": shown, "summary": sum})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Batch %s\n", b.ID)
			if b.Label != "" {
				fmt.Fprintf(w, "  label:     %s\n", b.Label)
			}
			fmt.Fprintf(w, "  created:   %s (%s)\n", b.CreatedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(b.CreatedAt))
			fmt.Fprintf(w, "  walk:      target %d, initial_prob %g, decay %g, seed %d\n",
				b.Params.TargetValue, b.Params.InitialProb, b.Params.DecayFactor, b.Seed)
			fmt.Fprintf(w, "  status:    %s in the %s phase after %v\n", b.Status, b.Phase, b.Elapsed)
			fmt.Fprintf(w, "  runs:      %d / %d\n", b.SuccessfulAttempts, b.DesiredCount)
			fmt.Fprintf(w, "  attempts:  %s (%.1f%% reached the target)\n", humanize.Comma(int64(b.TotalAttempts)), 100*sum.CompletionRate)
			printPathStats(w, sum.PathLength)
			return nil
		},
	}
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <batch-id>",
		Short: "Delete a recorded batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer hs.Close()

			b, err := loadBatch(cmd.Context(), hs, args[0])
			if err != nil {
				return err
			}
			if err := hs.DeleteBatch(cmd.Context(), b.ID); err != nil {
				return fmt.Errorf("failed to delete batch: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "id": b.ID})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted batch %s\n", shortID(b.ID))
			return nil
		},
	}
}

// loadBatch resolves id, or the newest batch when id is empty.
func loadBatch(ctx context.Context, hs store.HistoryStore, id string) (*store.Batch, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		latest, err := hs.ListBatches(ctx, store.ListOptions{Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("failed to list batches: %w", err)
		}
		if len(latest) == 0 {
			return nil, fmt.Errorf("no batches recorded yet; run 'seekwalk run' first")
		}
		id = latest[0].ID
	}

	b, err := hs.GetBatch(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("batch not found: %s", id)
	case errors.Is(err, store.ErrAmbiguousID):
		return nil, fmt.Errorf("batch ID prefix %q matches more than one batch", id)
	case err != nil:
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return b, nil
}
