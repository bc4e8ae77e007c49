package registry

import (
	"context"
	"time"

	logx "predictbot/pkg/logx"
)

// Store is the persistence boundary of the registry. Load and Save never fail
// toward the caller: errors are logged and the in-memory state keeps working.
type Store struct {
	backend Backend
	log     logx.Logger
	timeout time.Duration
}

func NewStore(backend Backend, log logx.Logger) *Store {
	return &Store{backend: backend, log: log.With(logx.String("comp", "registry")), timeout: 10 * time.Second}
}

// Load returns the persisted registry, or an empty one when it is absent or unreadable.
func (s *Store) Load(ctx context.Context) Registry {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	r, err := s.backend.Read(ctx)
	if err != nil {
		s.log.Error("registry load failed; using empty registry", logx.Err(err))
		return Registry{}
	}
	if r == nil {
		r = Registry{}
	}
	return r
}

// Save replaces the persisted registry with r. It reports whether the write succeeded.
func (s *Store) Save(ctx context.Context, r Registry) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.backend.Write(ctx, r); err != nil {
		s.log.Error("registry save failed", logx.Int("users", len(r)), logx.Err(err))
		return false
	}
	s.log.Debug("registry saved", logx.Int("users", len(r)))
	return true
}

// RecordRun appends a dispatch audit record. Failures are logged only.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.backend.AppendRun(ctx, rec); err != nil {
		s.log.Warn("dispatch audit write failed", logx.String("run_id", rec.RunID), logx.Err(err))
	}
}

func (s *Store) Close() error { return s.backend.Close() }
