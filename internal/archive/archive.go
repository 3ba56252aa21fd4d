package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/seekwalk/internal/store"
)

// Extension is appended to generated archive names.
const Extension = ".swk.gz"

// DefaultDir returns the archive directory under a seekwalk home directory.
func DefaultDir(home string) string {
	return filepath.Join(home, "archives")
}

// GeneratePath creates a timestamped archive filename for batchID in dir.
func GeneratePath(dir, batchID string, now time.Time) string {
	short := batchID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(dir, fmt.Sprintf("seekwalk-%s-%s%s", now.UTC().Format("20060102-150405"), short, Extension))
}

// Export loads batch id from hs and writes it to path.
func Export(ctx context.Context, hs store.HistoryStore, id, path string, compressed bool) (*store.Batch, error) {
	b, err := hs.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading batch: %w", err)
	}
	if err := Write(path, b, compressed); err != nil {
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	return b, nil
}

// Import reads an archive and stores it under a fresh ID, so the same file
// can be imported more than once.
func Import(ctx context.Context, hs store.HistoryStore, path string) (*store.Batch, error) {
	b, err := Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	if b.Label == "" {
		b.Label = "imported " + filepath.Base(path)
	}
	b.ID = ""
	if _, err := hs.SaveBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("saving batch: %w", err)
	}
	return b, nil
}
