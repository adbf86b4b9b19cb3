package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const indexFileName = "index.json"

// Local stores each recommendation as <id>.json under a directory, plus an
// index.json projection map for cheap listing. The authoritative index lives
// in memory under the mutex; the file is an atomically replaced snapshot
// flushed on every mutation.
type Local struct {
	mu    sync.RWMutex
	dir   string
	index map[model.RecommendationID]*model.IndexEntry
}

var _ RecommendationRepository = (*Local)(nil)

// NewLocal opens (or initializes) a local store at dir
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory",
			goerr.T(model.TagPersistence), goerr.V("dir", dir))
	}

	s := &Local{
		dir:   dir,
		index: make(map[model.RecommendationID]*model.IndexEntry),
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Local) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *Local) recordPath(id model.RecommendationID) string {
	return filepath.Join(s.dir, string(id)+".json")
}

func (s *Local) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return goerr.Wrap(err, "failed to read index file",
			goerr.T(model.TagPersistence), goerr.V("path", s.indexPath()))
	}

	if err := json.Unmarshal(data, &s.index); err != nil {
		return goerr.Wrap(err, "failed to parse index file",
			goerr.T(model.TagPersistence), goerr.V("path", s.indexPath()))
	}

	return nil
}

// flushIndex writes the in-memory index snapshot. Caller holds the write lock.
func (s *Local) flushIndex() error {
	return writeJSONAtomic(s.indexPath(), s.index)
}

// writeRecord persists the full record. Caller holds the write lock.
func (s *Local) writeRecord(rec *model.Recommendation) error {
	return writeJSONAtomic(s.recordPath(rec.ID), rec)
}

func (s *Local) readRecord(id model.RecommendationID) (*model.Recommendation, error) {
	if _, err := os.Stat(s.recordPath(id)); os.IsNotExist(err) {
		return nil, goerr.Wrap(model.ErrRecommendationNotFound, "no record file", goerr.V("id", id))
	}
	return readRecordFile(s.dir, id)
}

func (s *Local) Create(ctx context.Context, rec *model.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[rec.ID]; exists {
		return goerr.Wrap(model.ErrStateConflict, "recommendation already exists", goerr.V("id", rec.ID))
	}

	// Full record first: an index entry must never point at a missing record
	if err := s.writeRecord(rec); err != nil {
		return err
	}

	s.index[rec.ID] = model.NewIndexEntry(rec)
	if err := s.flushIndex(); err != nil {
		delete(s.index, rec.ID)
		return err
	}

	return nil
}

func (s *Local) Get(ctx context.Context, id model.RecommendationID) (*model.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readRecord(id)
}

func (s *Local) UpdateStatus(ctx context.Context, id model.RecommendationID, status model.Status) (*model.Recommendation, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(id, func(rec *model.Recommendation) error {
		if !rec.Status.CanTransit(status) {
			return goerr.Wrap(model.ErrStateConflict, "transition rejected",
				goerr.V("id", id),
				goerr.V("from", rec.Status),
				goerr.V("to", status))
		}
		rec.Status = status
		return nil
	})
}

func (s *Local) Complete(ctx context.Context, id model.RecommendationID, result *model.ExperimentResult) (*model.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(id, func(rec *model.Recommendation) error {
		if !rec.Status.CanTransit(model.StatusCompleted) {
			return goerr.Wrap(model.ErrStateConflict, "cannot complete",
				goerr.V("id", id),
				goerr.V("from", rec.Status))
		}
		rec.Status = model.StatusCompleted
		rec.ExperimentResult = result
		return nil
	})
}

// mutate applies fn to the current record, then rewrites record and index
// projection together. Caller holds the write lock. If the index flush fails
// the previous projection stays in memory, keeping index and record readable
// in their prior committed state.
func (s *Local) mutate(id model.RecommendationID, fn func(*model.Recommendation) error) (*model.Recommendation, error) {
	rec, err := s.readRecord(id)
	if err != nil {
		return nil, err
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now()

	if err := s.writeRecord(rec); err != nil {
		return nil, err
	}

	prev := s.index[id]
	s.index[id] = model.NewIndexEntry(rec)
	if err := s.flushIndex(); err != nil {
		s.index[id] = prev
		return nil, err
	}

	return rec, nil
}

func (s *Local) Count(ctx context.Context, opts ListOptions) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.index {
		if opts.Status != "" && entry.Status != opts.Status {
			continue
		}
		if opts.TargetMaterial != "" && entry.TargetMaterial != opts.TargetMaterial {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Local) List(ctx context.Context, opts ListOptions) ([]*model.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*model.IndexEntry, 0, len(s.index))
	for _, entry := range s.index {
		if opts.Status != "" && entry.Status != opts.Status {
			continue
		}
		if opts.TargetMaterial != "" && entry.TargetMaterial != opts.TargetMaterial {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	return entries, nil
}
