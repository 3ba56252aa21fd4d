package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/seekwalk/internal/summary"
	"github.com/nvandessel/seekwalk/internal/visualization"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [batch-id]",
		Short: "Show path-length statistics of a recorded batch",
		Long: `Summarize how many steps the completed runs of a batch took.

Examples:
  seekwalk stats                          # Newest batch
  seekwalk stats 1a2b --buckets 30        # Finer histogram
  seekwalk stats --png lengths.png        # Histogram as a PNG chart
  seekwalk stats --traces traces.png      # Run traces as a PNG chart`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			buckets, _ := cmd.Flags().GetInt("buckets")
			pngPath, _ := cmd.Flags().GetString("png")
			tracesPath, _ := cmd.Flags().GetString("traces")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if buckets <= 0 {
				buckets = cfg.Visualization.HistogramBuckets
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
			hist := summary.Histogram(b.Runs, buckets)

			if pngPath != "" {
				if err := writeFile(pngPath, func(f *os.File) error {
					return visualization.RenderHistogramPNG(f, hist, batchLabel(b.ID, b.Label)+" path lengths")
				}); err != nil {
					return fmt.Errorf("render histogram: %w", err)
				}
			}
			if tracesPath != "" {
				view := visualization.Prepare(b.Runs, b.Params, visualization.Options{
					Mode:  visualization.ModeLines,
					Title: batchLabel(b.ID, b.Label),
				})
				if err := writeFile(tracesPath, func(f *os.File) error {
					return visualization.RenderTracesPNG(f, view)
				}); err != nil {
					return fmt.Errorf("render traces: %w", err)
				}
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"batch_id":  b.ID,
					"summary":   sum,
					"histogram": hist,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Batch %s: %d completed runs to %d\n", shortID(b.ID), sum.PathLength.Count, b.Params.TargetValue)
			printPathStats(w, sum.PathLength)
			if len(hist) == 0 {
				return nil
			}
			fmt.Fprintln(w)
			printHistogram(w, hist)
			return nil
		},
	}
	cmd.Flags().Int("buckets", 0, "Histogram buckets (default from config)")
	cmd.Flags().String("png", "", "Write the histogram as a PNG chart")
	cmd.Flags().String("traces", "", "Write run traces as a PNG chart")
	return cmd
}

// histogramWidth is the longest bar printed by printHistogram.
const histogramWidth = 50

func printHistogram(w io.Writer, hist []summary.Bucket) {
	peak, labelWidth := 0, 0
	for _, b := range hist {
		if b.Count > peak {
			peak = b.Count
		}
		if n := len(b.Label()); n > labelWidth {
			labelWidth = n
		}
	}
	for _, b := range hist {
		bar := 0
		if peak > 0 {
			bar = b.Count * histogramWidth / peak
		}
		if b.Count > 0 && bar == 0 {
			bar = 1
		}
		fmt.Fprintf(w, "  %*s | %s %d\n", labelWidth, b.Label(), strings.Repeat("#", bar), b.Count)
	}
}

// writeFile creates path and hands it to write, closing it afterwards.
func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
