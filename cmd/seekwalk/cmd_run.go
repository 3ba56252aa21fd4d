package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/scheduler"
	"github.com/nvandessel/seekwalk/internal/session"
	"github.com/nvandessel/seekwalk/internal/summary"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of walks until enough reach the target",
		Long: `Run attempts until the desired number of walks reach the target value,
within the time budget of the current phase.

A batch that runs out of time can be continued into the next, longer phase.
Ctrl-C stops the batch after the current attempt; press it twice to abort.
Stopped and time-limited batches are saved to ~/.seekwalk and picked up by
--resume (same phase) or --continue (next phase).

Examples:
  seekwalk run                                  # Use config defaults
  seekwalk run --target 20 --decay 0.97 -n 500  # Override the walk
  seekwalk run --auto-continue                  # Escalate through every phase
  seekwalk run --continue                       # Next phase of the saved batch
  seekwalk run --serve --open                   # Browse the density afterwards`,
		RunE: runBatch,
	}

	cmd.Flags().IntP("desired", "n", 0, "Completed runs to collect (default from config)")
	cmd.Flags().Int("target", 0, "Target value that completes a run")
	cmd.Flags().Float64("initial-prob", 0, "Up-probability at zero, in (0, 1]")
	cmd.Flags().Float64("decay", 0, "Decay factor applied per unit of progress, in (0, 2]")
	cmd.Flags().Int64("seed", 0, "Random seed (0 draws a fresh one)")
	cmd.Flags().String("label", "", "Label stored with the batch")
	cmd.Flags().Bool("auto-continue", false, "Escalate through every phase without stopping")
	cmd.Flags().Bool("interactive", false, "Ask before continuing into the next phase")
	cmd.Flags().Bool("continue", false, "Continue the saved batch in its next phase")
	cmd.Flags().Bool("resume", false, "Resume the saved batch in its current phase")
	cmd.Flags().Bool("progress", true, "Print progress to stderr")
	cmd.Flags().Bool("no-chart", false, "Skip the ASCII density chart")
	addViewFlags(cmd)
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	cont, _ := cmd.Flags().GetBool("continue")
	resume, _ := cmd.Flags().GetBool("resume")
	interactive, _ := cmd.Flags().GetBool("interactive")
	progress, _ := cmd.Flags().GetBool("progress")
	if cont && resume {
		return fmt.Errorf("--continue and --resume are mutually exclusive")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, events := newLoggers(cfg, cmd.ErrOrStderr())
	defer events.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	defer setupTelemetry(ctx, cfg, logger)()

	hs, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer hs.Close()

	opts := []session.Option{session.WithStore(hs), session.WithLogger(logger, events)}
	if progress && !jsonOut {
		opts = append(opts, session.WithSchedulerOptions(scheduler.WithObserver(progressPrinter(cmd.ErrOrStderr()))))
	}

	home := config.HomeDir()
	var sess *session.Session
	if cont || resume {
		snap, err := session.LoadState(home)
		if errors.Is(err, session.ErrNoState) {
			return fmt.Errorf("no saved batch to resume; start one with 'seekwalk run'")
		}
		if err != nil {
			return err
		}
		if sess, err = session.Resume(cfg, snap, opts...); err != nil {
			return err
		}
	} else {
		req, err := requestFromFlags(cmd, cfg)
		if err != nil {
			return err
		}
		if sess, err = session.New(cfg, req, opts...); err != nil {
			return err
		}
	}

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		logger.Info("stopping after the current attempt; press Ctrl-C again to abort")
		sess.Stop()
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	step := sess.Seek
	if cont {
		step = sess.Continue
	}
	out, err := step(ctx)
	for err == nil && interactive && !jsonOut && out.Summary.CanContinue {
		if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Time limit reached with %d of %d runs. Continue into the %s phase?",
			out.Summary.SuccessfulAttempts, out.Summary.DesiredCount, out.Result.Phase.Next())) {
			break
		}
		out, err = sess.Continue(ctx)
	}
	signal.Stop(sigChan)
	if progress && !jsonOut {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	saved, err := persistSession(sess, out, home)
	if err != nil {
		logger.Warn("could not save batch state", "error", err)
	}

	if jsonOut {
		return printJSON(cmd.OutOrStdout(), struct {
			*session.Outcome
			Saved bool `json:"saved_state"`
		}{out, saved})
	}

	w := cmd.OutOrStdout()
	printOutcome(w, out)
	if saved {
		if out.Summary.CanContinue {
			fmt.Fprintf(w, "\nBatch saved. Run 'seekwalk run --continue' to move on to the %s phase.\n", out.Result.Phase.Next())
		} else {
			fmt.Fprintln(w, "\nBatch saved. Run 'seekwalk run --resume' to pick it up again.")
		}
	}

	runs := out.Result.CompletedRuns
	if len(runs) == 0 {
		return nil
	}
	noChart, _ := cmd.Flags().GetBool("no-chart")
	return renderView(cmd, cfg, logger, runs, out.Params, out.Summary, batchLabel(out.BatchID, sess.Request().Label), !noChart)
}

// requestFromFlags overlays command-line overrides on the config defaults.
func requestFromFlags(cmd *cobra.Command, cfg *config.SeekwalkConfig) (session.Request, error) {
	req := session.RequestFromConfig(cfg)
	flags := cmd.Flags()
	if flags.Changed("desired") {
		req.Desired, _ = flags.GetInt("desired")
	}
	if flags.Changed("target") {
		req.Params.TargetValue, _ = flags.GetInt("target")
	}
	if flags.Changed("initial-prob") {
		req.Params.InitialProb, _ = flags.GetFloat64("initial-prob")
	}
	if flags.Changed("decay") {
		req.Params.DecayFactor, _ = flags.GetFloat64("decay")
	}
	if flags.Changed("seed") {
		req.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("auto-continue") {
		req.AutoContinue, _ = flags.GetBool("auto-continue")
	}
	req.Label, _ = flags.GetString("label")

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// persistSession saves a stopped or time-limited batch for a later
// process and clears any stale state otherwise.
func persistSession(sess *session.Session, out *session.Outcome, home string) (bool, error) {
	if out.Summary.CanContinue || out.Result.WasStopped {
		return true, session.SaveState(sess, home)
	}
	return false, session.ClearState(home)
}

func printOutcome(w io.Writer, out *session.Outcome) {
	s := out.Summary
	id := "(not recorded)"
	if out.BatchID != "" {
		id = shortID(out.BatchID)
	}
	fmt.Fprintf(w, "Batch %s: %s in the %s phase\n", id, s.Status, s.Phase)
	fmt.Fprintf(w, "  runs:      %s / %s\n", humanize.Comma(int64(s.SuccessfulAttempts)), humanize.Comma(int64(s.DesiredCount)))
	fmt.Fprintf(w, "  attempts:  %s (%.1f%% reached %d)\n", humanize.Comma(int64(s.TotalAttempts)), 100*s.CompletionRate, out.Params.TargetValue)
	fmt.Fprintf(w, "  elapsed:   %v\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  seed:      %d\n", out.Seed)
	printPathStats(w, s.PathLength)
	if s.SafetyWarning {
		fmt.Fprintln(w, "  warning:   the batch ran past the soft time threshold")
	}
	if out.Diagnosis.Unreachable {
		fmt.Fprintf(w, "  diagnosis: %s\n", out.Diagnosis.Suggestion)
	}
}

func printPathStats(w io.Writer, p summary.PathStats) {
	if p.Count == 0 {
		return
	}
	fmt.Fprintf(w, "  steps:     mean %.1f, median %.1f, min %d, max %d, sd %.1f\n",
		p.Mean, p.Median, p.Min, p.Max, p.StdDev)
}

// progressPrinter rewrites one status line on w at each batch checkpoint.
func progressPrinter(w io.Writer) scheduler.Observer {
	return scheduler.ObserverFunc(func(p scheduler.Progress) error {
		if p.AttemptIterations > 0 {
			return nil
		}
		_, err := fmt.Fprintf(w, "\r  %s/%s runs  %s attempts  %v  %s phase   ",
			humanize.Comma(int64(p.SuccessfulAttempts)), humanize.Comma(int64(p.DesiredCount)),
			humanize.Comma(int64(p.TotalAttempts)), p.Elapsed.Round(10*time.Millisecond), p.Phase)
		return err
	})
}

// confirm asks a yes/no question on w and reads the answer from r.
func confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "\n%s [y/N] ", question)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func batchLabel(id, label string) string {
	title := "seekwalk"
	if id != "" {
		title += " batch " + shortID(id)
	}
	if label != "" {
		title += " " + label
	}
	return title
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
