package registry

import (
	"context"
	"sort"
	"sync"
)

// Users is the in-memory registry shared by the tracker, the dispatch engine and
// the command router. Every mutation persists the full snapshot through Store
// while holding the lock, so saves land in mutation order.
type Users struct {
	store *Store

	mu  sync.Mutex
	reg Registry
}

func NewUsers(store *Store) *Users {
	return &Users{store: store, reg: Registry{}}
}

// Reload replaces the in-memory registry with the persisted one and returns a copy.
func (u *Users) Reload(ctx context.Context) Registry {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reg = u.store.Load(ctx)
	return u.reg.Clone()
}

func (u *Users) Snapshot() Registry {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reg.Clone()
}

// Sorted returns the profiles ordered by id.
func (u *Users) Sorted() []UserProfile {
	snap := u.Snapshot()
	out := make([]UserProfile, 0, len(snap))
	for _, p := range snap {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (u *Users) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.reg)
}

// Upsert stores p when it is new or any profile field differs, and persists the
// registry. It reports whether anything changed.
func (u *Users) Upsert(ctx context.Context, p UserProfile) bool {
	u.mu.Lock()
	if cur, ok := u.reg[p.ID]; ok && cur.SameAs(p) {
		u.mu.Unlock()
		return false
	}
	u.reg[p.ID] = p
	u.store.Save(ctx, u.reg)
	u.mu.Unlock()
	return true
}

// Remove deletes id and persists the registry. It reports whether id was present.
func (u *Users) Remove(ctx context.Context, id int64) bool {
	u.mu.Lock()
	if _, ok := u.reg[id]; !ok {
		u.mu.Unlock()
		return false
	}
	delete(u.reg, id)
	u.store.Save(ctx, u.reg)
	u.mu.Unlock()
	return true
}
