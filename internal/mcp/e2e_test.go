package mcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/seekwalk/internal/archive"
	"github.com/nvandessel/seekwalk/internal/store"
)

// TestE2E_FullPipeline runs the agent workflow end to end against a SQLite
// history: simulate → history → density → cell → export → import.
func TestE2E_FullPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}

	home := t.TempDir()
	settings := testSettings()
	settings.Store.Path = filepath.Join(home, "history.db")

	server, err := NewServer(&Config{Name: "e2e", Version: "v0", Settings: settings, Home: home})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	ctx := context.Background()
	var batchID, archivePath string

	t.Run("Stage1_Simulate", func(t *testing.T) {
		_, out, err := server.handleSimulate(ctx, nil, SimulateInput{TargetValue: 5, DesiredSuccesses: 3, Seed: 42, Label: "e2e"})
		if err != nil {
			t.Fatalf("simulate failed: %v", err)
		}
		if out.Summary.Status != "complete" {
			t.Fatalf("status = %q, want complete", out.Summary.Status)
		}
		batchID = out.BatchID
	})

	t.Run("Stage2_History", func(t *testing.T) {
		_, out, err := server.handleHistory(ctx, nil, HistoryInput{})
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if out.Count != 1 || out.Batches[0].ID != batchID {
			t.Fatalf("history = %+v, want the simulated batch", out)
		}
		if out.Batches[0].Label != "e2e" || out.Batches[0].SuccessfulAttempts != 3 {
			t.Errorf("item = %+v", out.Batches[0])
		}
	})

	t.Run("Stage3_Density", func(t *testing.T) {
		_, out, err := server.handleDensity(ctx, nil, DensityInput{BatchID: batchID, Mode: "peak", Scaling: "sqrt"})
		if err != nil {
			t.Fatalf("density failed: %v", err)
		}
		if out.Height != 6 || out.Width != 6 || out.Runs != 3 {
			t.Errorf("grid = %dx%d with %d runs, want 6x6 with 3", out.Height, out.Width, out.Runs)
		}
		if !strings.Contains(out.Rendering, "mode=peak") {
			t.Errorf("rendering header missing mode: %q", out.Rendering)
		}
	})

	t.Run("Stage4_Cell", func(t *testing.T) {
		_, out, err := server.handleCell(ctx, nil, CellInput{BatchID: batchID, Value: 5, Bin: 5})
		if err != nil {
			t.Fatalf("cell failed: %v", err)
		}
		if out.Vertical != 3 {
			t.Errorf("vertical = %d, want 3 runs at the target", out.Vertical)
		}
	})

	t.Run("Stage5_Export", func(t *testing.T) {
		_, out, err := server.handleExport(ctx, nil, ExportInput{BatchID: batchID})
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		if out.Runs != 3 {
			t.Errorf("runs = %d, want 3", out.Runs)
		}
		archivePath = out.Path
	})

	t.Run("Stage6_Import", func(t *testing.T) {
		if archivePath == "" {
			t.Skip("no archive from export stage")
		}
		other := store.NewInMemoryStore()
		imported, err := archive.Import(ctx, other, archivePath)
		if err != nil {
			t.Fatalf("import failed: %v", err)
		}
		if imported.ID == batchID {
			t.Error("import should assign a fresh ID")
		}
		if len(imported.Runs) != 3 || imported.Params.TargetValue != 5 {
			t.Errorf("imported batch = %d runs to %d", len(imported.Runs), imported.Params.TargetValue)
		}
	})
}
