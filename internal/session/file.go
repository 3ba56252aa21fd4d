package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/scheduler"
)

// stateFile is the default session state filename.
const stateFile = "session-state.json"

// ErrNoState is returned by LoadState when no session was saved.
var ErrNoState = errors.New("no saved session")

// Snapshot is the on-disk form of a paused session. It holds everything
// needed to resume the batch in another process.
type Snapshot struct {
	Request Request               `json:"request"`
	BatchID string                `json:"batch_id,omitempty"`
	State   *scheduler.BatchState `json:"state"`
}

// Snapshot captures the session for SaveState.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := *s.state
	return Snapshot{Request: s.req, BatchID: s.batchID, State: &st}
}

// Resume rebuilds a session from a snapshot. The time between the snapshot
// and the next Seek counts as a pause.
func Resume(cfg *config.SeekwalkConfig, snap Snapshot, opts ...Option) (*Session, error) {
	if snap.State == nil {
		return nil, fmt.Errorf("snapshot has no batch state")
	}
	opts = append(opts, withState(snap.State, snap.BatchID))
	return New(cfg, snap.Request, opts...)
}

// SaveState persists the session snapshot to a JSON file in dir, creating
// dir if needed.
func SaveState(s *Session, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating session state directory: %w", err)
	}

	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	path := filepath.Join(dir, stateFile)

	// Write atomically via temp file + rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing session state temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming session state file: %w", err)
	}
	return nil
}

// LoadState reads a snapshot saved by SaveState. It returns ErrNoState when
// dir holds none.
func LoadState(dir string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ErrNoState
		}
		return Snapshot{}, fmt.Errorf("reading session state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parsing session state: %w", err)
	}
	if snap.State == nil {
		return Snapshot{}, fmt.Errorf("parsing session state: missing batch state")
	}
	return snap, nil
}

// ClearState removes a saved snapshot. A missing file is not an error.
func ClearState(dir string) error {
	err := os.Remove(filepath.Join(dir, stateFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session state: %w", err)
	}
	return nil
}
