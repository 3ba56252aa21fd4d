package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/seekwalk/internal/archive"
	"github.com/nvandessel/seekwalk/internal/pathutil"
	"github.com/nvandessel/seekwalk/internal/ratelimit"
	"github.com/nvandessel/seekwalk/internal/scaling"
	"github.com/nvandessel/seekwalk/internal/session"
	"github.com/nvandessel/seekwalk/internal/store"
	"github.com/nvandessel/seekwalk/internal/visualization"
)

// defaultHistoryLimit caps seekwalk_history when no limit is given.
const defaultHistoryLimit = 20

// registerTools registers all seekwalk MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "seekwalk_simulate",
		Description: "Run a batch of state-dependent random walks until the desired number of runs reach the target, within the phase time budget",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "seekwalk_density",
		Description: "Render the dual-channel density of a stored batch as an ASCII chart or an HTML page",
	}, s.handleDensity)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "seekwalk_cell",
		Description: "Report the raw vertical and horizontal counts of one density cell and the iterations its bin covers",
	}, s.handleCell)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "seekwalk_history",
		Description: "List stored batches, newest first",
	}, s.handleHistory)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "seekwalk_export",
		Description: "Export a stored batch to a checksummed archive file under ~/.seekwalk/archives",
	}, s.handleExport)
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         "seekwalk://batches/recent",
		Name:        "seekwalk-recent-batches",
		Description: "The most recent seekwalk batches with their status and completion counts.",
		MIMEType:    "text/markdown",
	}, s.handleRecentResource)
}

func (s *Server) handleRecentResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	batches, err := s.store.ListBatches(ctx, store.ListOptions{Limit: 10})
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Recent seekwalk batches\n\n")
	if len(batches) == 0 {
		sb.WriteString("No batches yet. Run one with `seekwalk_simulate`.\n")
	}
	for _, b := range batches {
		label := ""
		if b.Label != "" {
			label = " " + b.Label
		}
		fmt.Fprintf(&sb, "- `%s`%s: %s, %d/%d runs to %d in %d attempts, %s\n",
			shortID(b.ID), label, b.Status, b.SuccessfulAttempts, b.DesiredCount,
			b.Params.TargetValue, b.TotalAttempts, humanize.Time(b.CreatedAt))
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      "seekwalk://batches/recent",
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleSimulate runs one batch through the phased scheduler and stores it.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, out SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("seekwalk_simulate", start, retErr, out.BatchID, sanitizeToolParams(map[string]any{
			"initial_prob": args.InitialProb, "decay_factor": args.DecayFactor,
			"target_value": args.TargetValue, "desired_successes": args.DesiredSuccesses,
			"seed": args.Seed, "label": args.Label, "auto_continue": args.AutoContinue,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "seekwalk_simulate"); err != nil {
		return nil, SimulateOutput{}, err
	}

	r := session.RequestFromConfig(s.settings)
	if args.InitialProb != 0 {
		r.Params.InitialProb = args.InitialProb
	}
	if args.DecayFactor != 0 {
		r.Params.DecayFactor = args.DecayFactor
	}
	if args.TargetValue != 0 {
		r.Params.TargetValue = args.TargetValue
	}
	if args.DesiredSuccesses != 0 {
		r.Desired = args.DesiredSuccesses
	}
	if args.Seed != 0 {
		r.Seed = args.Seed
	}
	r.Label = args.Label
	r.AutoContinue = r.AutoContinue || args.AutoContinue
	if err := r.Validate(); err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("invalid simulation request: %w", err)
	}

	sess, err := session.New(s.settings, r, session.WithStore(s.store), session.WithLogger(s.logger, nil))
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("invalid simulation request: %w", err)
	}
	res, err := sess.Seek(ctx)
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", err)
	}

	out = SimulateOutput{
		BatchID:   res.BatchID,
		Seed:      res.Seed,
		Params:    res.Params,
		Summary:   res.Summary,
		Diagnosis: res.Diagnosis,
	}
	out.Message = fmt.Sprintf("collected %d of %d runs in %d attempts (%s, phase %s)",
		res.Summary.SuccessfulAttempts, res.Summary.DesiredCount, res.Summary.TotalAttempts,
		res.Summary.Status, res.Summary.Phase)
	if res.Summary.CanContinue {
		out.Message += "; call again with auto_continue to escalate to longer phases"
	}
	if res.Diagnosis.Suggestion != "" {
		out.Message += "; " + res.Diagnosis.Suggestion
	}
	return nil, out, nil
}

// handleDensity renders a stored batch.
func (s *Server) handleDensity(ctx context.Context, req *sdk.CallToolRequest, args DensityInput) (_ *sdk.CallToolResult, out DensityOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("seekwalk_density", start, retErr, out.BatchID, sanitizeToolParams(map[string]any{
			"batch_id": args.BatchID, "mode": args.Mode, "scaling": args.Scaling,
			"format": args.Format, "cols": args.Cols,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "seekwalk_density"); err != nil {
		return nil, DensityOutput{}, err
	}

	opts, err := s.viewOptions(args.Mode, args.Scaling)
	if err != nil {
		return nil, DensityOutput{}, err
	}
	format := strings.ToLower(strings.TrimSpace(args.Format))
	if format == "" {
		format = "ascii"
	}
	if format != "ascii" && format != "html" {
		return nil, DensityOutput{}, fmt.Errorf("unknown format %q (valid: ascii, html)", args.Format)
	}

	b, err := s.loadBatch(ctx, args.BatchID)
	if err != nil {
		return nil, DensityOutput{}, err
	}
	opts.Title = batchTitle(b)
	view := visualization.Prepare(b.Runs, b.Params, opts)
	g := view.Grid()

	var rendering string
	switch format {
	case "html":
		page, err := visualization.RenderHTML(view, "")
		if err != nil {
			return nil, DensityOutput{}, fmt.Errorf("render HTML: %w", err)
		}
		rendering = string(page)
	default:
		var buf bytes.Buffer
		if err := visualization.RenderASCII(&buf, view, args.Cols); err != nil {
			return nil, DensityOutput{}, fmt.Errorf("render ASCII: %w", err)
		}
		rendering = buf.String()
	}

	return nil, DensityOutput{
		BatchID:       b.ID,
		Mode:          string(view.Mode),
		Scaling:       string(view.Layers.Kind),
		Height:        g.Height,
		Width:         g.Width,
		Runs:          g.Runs,
		MaxPathLength: g.MaxPathLength,
		MaxVertical:   g.Vertical.Max(),
		MaxHorizontal: g.Horizontal.Max(),
		Format:        format,
		Rendering:     rendering,
	}, nil
}

// handleCell reports one cell of a stored batch's density grid.
func (s *Server) handleCell(ctx context.Context, req *sdk.CallToolRequest, args CellInput) (_ *sdk.CallToolResult, out CellOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("seekwalk_cell", start, retErr, out.BatchID, sanitizeToolParams(map[string]any{
			"batch_id": args.BatchID, "mode": args.Mode, "value": args.Value, "bin": args.Bin,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "seekwalk_cell"); err != nil {
		return nil, CellOutput{}, err
	}

	opts, err := s.viewOptions(args.Mode, "")
	if err != nil {
		return nil, CellOutput{}, err
	}
	b, err := s.loadBatch(ctx, args.BatchID)
	if err != nil {
		return nil, CellOutput{}, err
	}
	view := visualization.Prepare(b.Runs, b.Params, opts)
	cell, err := view.Grid().Cell(args.Value, args.Bin)
	if err != nil {
		return nil, CellOutput{}, err
	}

	return nil, CellOutput{
		BatchID:        b.ID,
		Value:          cell.Value,
		Bin:            cell.Bin,
		Vertical:       cell.Vertical,
		Horizontal:     cell.Horizontal,
		FirstIteration: cell.FirstIteration,
		LastIteration:  cell.LastIteration,
	}, nil
}

// handleHistory lists stored batches.
func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("seekwalk_history", start, retErr, "", sanitizeToolParams(map[string]any{
			"limit": args.Limit, "status": args.Status,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "seekwalk_history"); err != nil {
		return nil, HistoryOutput{}, err
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	batches, err := s.store.ListBatches(ctx, store.ListOptions{Limit: limit, Status: args.Status})
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to list batches: %w", err)
	}

	items := make([]BatchListItem, 0, len(batches))
	for _, b := range batches {
		items = append(items, BatchListItem{
			ID:                 b.ID,
			Label:              b.Label,
			CreatedAt:          b.CreatedAt,
			Status:             b.Status,
			Phase:              b.Phase.String(),
			TargetValue:        b.Params.TargetValue,
			SuccessfulAttempts: b.SuccessfulAttempts,
			DesiredCount:       b.DesiredCount,
			TotalAttempts:      b.TotalAttempts,
			Elapsed:            b.Elapsed,
		})
	}
	return nil, HistoryOutput{Batches: items, Count: len(items)}, nil
}

// handleExport writes a stored batch to an archive inside the allowed
// output directories.
func (s *Server) handleExport(ctx context.Context, req *sdk.CallToolRequest, args ExportInput) (_ *sdk.CallToolResult, out ExportOutput, retErr error) {
	start := time.Now()
	compressed := args.Compressed == nil || *args.Compressed
	defer func() {
		s.auditTool("seekwalk_export", start, retErr, out.BatchID, sanitizeToolParams(map[string]any{
			"batch_id": args.BatchID, "output_path": args.OutputPath, "compressed": compressed,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "seekwalk_export"); err != nil {
		return nil, ExportOutput{}, err
	}
	if strings.TrimSpace(args.BatchID) == "" {
		return nil, ExportOutput{}, fmt.Errorf("'batch_id' parameter is required")
	}

	b, err := s.loadBatch(ctx, args.BatchID)
	if err != nil {
		return nil, ExportOutput{}, err
	}

	path := args.OutputPath
	if path == "" {
		path = archive.GeneratePath(archive.DefaultDir(s.home), b.ID, time.Now())
		if !compressed {
			path = strings.TrimSuffix(path, archive.Extension) + ".json"
		}
	}
	if err := pathutil.ValidateOutput(path, pathutil.OutputDirs(s.home), archive.Extension, ".json"); err != nil {
		return nil, ExportOutput{}, err
	}

	if _, err := archive.Export(ctx, s.store, b.ID, path, compressed); err != nil {
		return nil, ExportOutput{}, err
	}

	size := "unknown"
	if info, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	out = ExportOutput{
		BatchID: b.ID,
		Path:    path,
		Runs:    len(b.Runs),
		Size:    size,
		Message: fmt.Sprintf("exported %d runs of batch %s (%s)", len(b.Runs), shortID(b.ID), size),
	}
	return nil, out, nil
}

// loadBatch resolves id (or the newest batch when empty) with its runs.
func (s *Server) loadBatch(ctx context.Context, id string) (*store.Batch, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		latest, err := s.store.ListBatches(ctx, store.ListOptions{Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("failed to list batches: %w", err)
		}
		if len(latest) == 0 {
			return nil, fmt.Errorf("no batches stored yet; run seekwalk_simulate first")
		}
		id = latest[0].ID
	}

	b, err := s.store.GetBatch(ctx, id)
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

// viewOptions resolves mode and scaling names against the configured defaults.
func (s *Server) viewOptions(mode, kind string) (visualization.Options, error) {
	if mode == "" {
		mode = s.settings.Visualization.Mode
	}
	if kind == "" {
		kind = s.settings.Visualization.ColorScaling
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

func batchTitle(b *store.Batch) string {
	title := fmt.Sprintf("batch %s", shortID(b.ID))
	if b.Label != "" {
		title += " " + b.Label
	}
	return title
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
