package registry

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownDriver = errors.New("unknown registry driver")

// UserProfile is a known channel member. Optional fields are nil when Telegram did not provide them.
type UserProfile struct {
	ID        int64   `json:"id"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Username  *string `json:"username"`
}

// SameAs reports whether p and o carry the same identity fields.
// nil and "" are different values.
func (p UserProfile) SameAs(o UserProfile) bool {
	return p.ID == o.ID &&
		eqPtr(p.FirstName, o.FirstName) &&
		eqPtr(p.LastName, o.LastName) &&
		eqPtr(p.Username, o.Username)
}

func eqPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Str returns a pointer to s (nil for the empty string).
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Registry maps user id to profile.
type Registry map[int64]UserProfile

func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RunRecord is the audit trail of one dispatch run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Candidates int       `json:"candidates"`
	Sent       int       `json:"sent"`
	Pruned     int       `json:"pruned"`
	Failed     int       `json:"failed"`
	SentIDs    []int64   `json:"sent_ids"`
}

// Backend is a registry persistence driver.
//
// Read returns an empty registry (no error) when nothing was persisted yet.
// Write replaces the whole persisted document atomically.
type Backend interface {
	Read(ctx context.Context) (Registry, error)
	Write(ctx context.Context, r Registry) error
	AppendRun(ctx context.Context, rec RunRecord) error
	Close() error
}

// Config configures the registry backend.
//
// Driver values:
//   - "file": JSON document replaced via temp file + rename
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
