package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/seekwalk/internal/walk"
)

// InMemoryStore implements HistoryStore for testing and for runs with
// history disabled.
type InMemoryStore struct {
	mu      sync.RWMutex
	batches map[string]Batch
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{batches: make(map[string]Batch)}
}

// SaveBatch stores a copy of b.
func (s *InMemoryStore) SaveBatch(ctx context.Context, b *Batch) (string, error) {
	if b == nil {
		return "", fmt.Errorf("batch is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.batches[b.ID]; exists {
		return "", fmt.Errorf("batch %s already exists", b.ID)
	}

	stored := *b
	stored.Runs = copyRuns(b.Runs)
	s.batches[b.ID] = stored
	return b.ID, nil
}

// ReplaceBatch stores b under its exact ID, overwriting any existing copy.
func (s *InMemoryStore) ReplaceBatch(ctx context.Context, b *Batch) (string, error) {
	if b == nil || b.ID == "" {
		return "", fmt.Errorf("batch with an ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	stored := *b
	stored.Runs = copyRuns(b.Runs)
	s.batches[b.ID] = stored
	return b.ID, nil
}

// GetBatch retrieves a batch by ID or unique ID prefix.
func (s *InMemoryStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fullID, err := s.resolveIDUnlocked(id)
	if err != nil {
		return nil, err
	}
	b := s.batches[fullID]
	b.Runs = copyRuns(b.Runs)
	return &b, nil
}

func (s *InMemoryStore) resolveIDUnlocked(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if _, ok := s.batches[id]; ok {
		return id, nil
	}

	var matches []string
	for k := range s.batches {
		if strings.HasPrefix(k, id) {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}
}

// ListBatches returns batches newest first, without runs.
func (s *InMemoryStore) ListBatches(ctx context.Context, opts ListOptions) ([]Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Batch, 0, len(s.batches))
	for _, b := range s.batches {
		if opts.Status != "" && b.Status != opts.Status {
			continue
		}
		b.Runs = nil
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// DeleteBatch removes a batch.
func (s *InMemoryStore) DeleteBatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fullID, err := s.resolveIDUnlocked(id)
	if err != nil {
		return err
	}
	delete(s.batches, fullID)
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func copyRuns(runs []walk.Path) []walk.Path {
	if runs == nil {
		return nil
	}
	out := make([]walk.Path, len(runs))
	for i, r := range runs {
		out[i] = append(walk.Path(nil), r...)
	}
	return out
}
