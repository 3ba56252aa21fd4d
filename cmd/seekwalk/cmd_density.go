package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/seekwalk/internal/archive"
	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/scaling"
	"github.com/nvandessel/seekwalk/internal/store"
	"github.com/nvandessel/seekwalk/internal/summary"
	"github.com/nvandessel/seekwalk/internal/visualization"
	"github.com/nvandessel/seekwalk/internal/walk"
)

func newDensityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "density [batch-id]",
		Short: "Render the density of a recorded batch",
		Long: `Render where the runs of a recorded batch spent their time.

The vertical channel counts runs present in a cell; the horizontal channel
counts every visit. Without a batch ID the newest batch is used.

Examples:
  seekwalk density                        # ASCII chart of the newest batch
  seekwalk density 1a2b --mode peak       # Peak trajectories of one batch
  seekwalk density --scaling log --html out.html
  seekwalk density --cell 4,120           # Raw counts of one cell
  seekwalk density --from sweep.swk.gz    # Render an exported archive
  seekwalk density --serve --open         # Interactive page in the browser`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cellSpec, _ := cmd.Flags().GetString("cell")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, events := newLoggers(cfg, cmd.ErrOrStderr())
			defer events.Close()

			b, err := densityBatch(cmd, cfg, args)
			if err != nil {
				return err
			}
			if len(b.Runs) == 0 {
				return fmt.Errorf("batch %s has no completed runs to render", shortID(b.ID))
			}

			if cellSpec != "" {
				opts, err := viewOptions(cmd, cfg)
				if err != nil {
					return err
				}
				y, x, err := parseCell(cellSpec)
				if err != nil {
					return err
				}
				cell, err := visualization.Prepare(b.Runs, b.Params, opts).Grid().Cell(y, x)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(cmd.OutOrStdout(), cell)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "value %d, bin %d (iterations %d-%d): %d runs, %d visits\n",
					cell.Value, cell.Bin, cell.FirstIteration, cell.LastIteration, cell.Vertical, cell.Horizontal)
				return nil
			}

			sum := summary.Summarize(b.Result())
			return renderView(cmd, cfg, logger, b.Runs, b.Params, sum, batchLabel(b.ID, b.Label), true)
		},
	}
	cmd.Flags().String("cell", "", "Print the raw counts of one cell as value,bin")
	cmd.Flags().String("from", "", "Render an archive file instead of a recorded batch")
	addViewFlags(cmd)
	return cmd
}

// densityBatch loads the batch named by args, or the archive given by --from.
func densityBatch(cmd *cobra.Command, cfg *config.SeekwalkConfig, args []string) (*store.Batch, error) {
	if from, _ := cmd.Flags().GetString("from"); from != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--from cannot be combined with a batch ID")
		}
		b, err := archive.Read(from)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		return b, nil
	}

	hs, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer hs.Close()

	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	return loadBatch(cmd.Context(), hs, id)
}

// addViewFlags registers the rendering flags shared by run and density.
func addViewFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "", "Presentation: full, peak, lines or combined (default from config)")
	cmd.Flags().String("scaling", "", "Color scaling: linear, sqrt, log or percentile (default from config)")
	cmd.Flags().Int("cols", 0, "ASCII chart width in columns")
	cmd.Flags().String("html", "", "Write a standalone HTML page to this file")
	cmd.Flags().Bool("serve", false, "Serve the interactive page on localhost until Ctrl-C")
	cmd.Flags().Bool("open", false, "Open the served page in the default browser")
}

// viewOptions resolves --mode and --scaling against the config defaults.
func viewOptions(cmd *cobra.Command, cfg *config.SeekwalkConfig) (visualization.Options, error) {
	mode, _ := cmd.Flags().GetString("mode")
	kind, _ := cmd.Flags().GetString("scaling")
	if mode == "" {
		mode = cfg.Visualization.Mode
	}
	if kind == "" {
		kind = cfg.Visualization.ColorScaling
	}
	m, err := visualization.ParseMode(mode)
	if err != nil {
		return visualization.Options{}, err
	}
	k, err := scaling.ParseKind(kind)
	if err != nil {
		return visualization.Options{}, err
	}
	return visualization.Options{Mode: m, Scaling: k}, nil
}

// renderView draws runs as requested by the view flags: an ASCII chart on
// stdout, an HTML file, and a local server.
func renderView(cmd *cobra.Command, cfg *config.SeekwalkConfig, logger *slog.Logger, runs []walk.Path, params walk.Params, sum summary.Summary, title string, ascii bool) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	htmlPath, _ := cmd.Flags().GetString("html")
	serve, _ := cmd.Flags().GetBool("serve")
	cols, _ := cmd.Flags().GetInt("cols")

	opts, err := viewOptions(cmd, cfg)
	if err != nil {
		return err
	}
	opts.Title = title
	view := visualization.Prepare(runs, params, opts)

	if jsonOut && !serve && htmlPath == "" {
		return printJSON(cmd.OutOrStdout(), view)
	}
	if ascii && !jsonOut {
		fmt.Fprintln(cmd.OutOrStdout())
		if err := visualization.RenderASCII(cmd.OutOrStdout(), view, cols); err != nil {
			return fmt.Errorf("render chart: %w", err)
		}
	}

	if htmlPath != "" {
		page, err := visualization.RenderHTML(view, "")
		if err != nil {
			return fmt.Errorf("render HTML: %w", err)
		}
		if err := os.WriteFile(htmlPath, page, 0644); err != nil {
			return fmt.Errorf("write HTML: %w", err)
		}
		logger.Info("wrote density page", "path", htmlPath)
	}

	if serve {
		open, _ := cmd.Flags().GetBool("open")
		return serveView(cmd.Context(), view, runs, sum, open || cfg.Visualization.OpenBrowser, cmd, logger)
	}
	return nil
}

// serveView blocks serving view until the user interrupts.
func serveView(ctx context.Context, view *visualization.View, runs []walk.Path, sum summary.Summary, open bool, cmd *cobra.Command, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	srv := visualization.NewServer(view, runs, sum)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	addr, err := waitForAddr(ctx, srv, errCh)
	if err != nil {
		return err
	}
	url := "http://" + addr
	fmt.Fprintf(cmd.ErrOrStderr(), "Serving density at %s (Ctrl-C to stop)\n", url)
	if open {
		if err := visualization.OpenBrowser(url); err != nil {
			logger.Warn("could not open browser", "error", err)
		}
	}
	return <-errCh
}

// waitForAddr returns the server address once it is listening.
func waitForAddr(ctx context.Context, srv *visualization.Server, errCh <-chan error) (string, error) {
	for {
		if addr := srv.Addr(); addr != "" {
			return addr, nil
		}
		select {
		case err := <-errCh:
			if err == nil {
				err = fmt.Errorf("server stopped before listening")
			}
			return "", err
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// parseCell parses "value,bin".
func parseCell(s string) (value, bin int, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid cell %q (want value,bin)", s)
	}
	value, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cell value %q", parts[0])
	}
	bin, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cell bin %q", parts[1])
	}
	return value, bin, nil
}
