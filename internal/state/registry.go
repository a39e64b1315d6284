package state

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Registry is the single owner of all UserState. Callers never hold a
// reference to the live state: reads return copies and writes go through
// Update or MarkSeen, followed by Persist.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	users   map[UserID]*UserState
	version uint64

	saveMu sync.Mutex
	saved  uint64

	locks sync.Map // UserID -> *sync.Mutex
}

// NewRegistry loads the snapshot from store. Unreadable state is logged,
// moved aside when the store supports it, and replaced by an empty snapshot.
func NewRegistry(ctx context.Context, store Store, logger *slog.Logger) *Registry {
	r := &Registry{
		store:  store,
		logger: logger,
		users:  make(map[UserID]*UserState),
	}

	snap, err := store.Load(ctx)
	if err != nil {
		logger.Error("failed to load state, starting empty", "error", err)
		if q, ok := store.(quarantiner); ok {
			if moved, qerr := q.Quarantine(); qerr != nil {
				logger.Error("failed to quarantine state", "error", qerr)
			} else if moved != "" {
				logger.Warn("unreadable state moved aside", "path", moved)
			}
		}
		return r
	}

	for id, u := range snap {
		r.users[id] = u.Clone()
	}
	logger.Info("loaded state", "users", len(r.users))
	return r
}

// EnsureUser returns a copy of the user's state, registering an empty one for
// unknown IDs. It does not persist.
func (r *Registry) EnsureUser(id UserID) *UserState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(id).Clone()
}

func (r *Registry) ensureLocked(id UserID) *UserState {
	u, ok := r.users[id]
	if !ok {
		u = NewUserState()
		r.users[id] = u
	}
	return u
}

// Get returns a copy of the user's state.
func (r *Registry) Get(id UserID) (*UserState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// Users returns every known user ID in ascending order.
func (r *Registry) Users() []UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]UserID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Emails returns a copy of the user's tracked addresses.
func (r *Registry) Emails(id UserID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return []string{}
	}
	return slices.Clone(u.Emails)
}

// Update runs fn on the user's live state and persists the result. fn must
// not block. If fn returns an error nothing is persisted and the error is
// returned; changes fn already made stay in memory.
func (r *Registry) Update(ctx context.Context, id UserID, fn func(u *UserState) error) error {
	r.mu.Lock()
	u := r.ensureLocked(id)
	if err := fn(u); err != nil {
		r.mu.Unlock()
		return err
	}
	r.version++
	r.mu.Unlock()

	r.Persist(ctx)
	return nil
}

// EnsureSeen creates the seen-set for addr if the user tracks it. It returns
// false when addr is not tracked.
func (r *Registry) EnsureSeen(id UserID, addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.ensureLocked(id)
	if !u.HasEmail(addr) {
		return false
	}
	if _, ok := u.Seen[addr]; !ok {
		u.Seen[addr] = make(map[string]struct{})
	}
	return true
}

// IsSeen reports whether msgID was already notified for (id, addr).
func (r *Registry) IsSeen(id UserID, addr, msgID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false
	}
	_, seen := u.Seen[addr][msgID]
	return seen
}

// MarkSeen records msgID for (id, addr) and reports whether the caller won the
// right to notify it. It returns false when the ID was already seen or when the
// address's seen-set is gone (address removed or state cleared meanwhile).
func (r *Registry) MarkSeen(id UserID, addr, msgID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false
	}
	set, ok := u.Seen[addr]
	if !ok {
		return false
	}
	if _, seen := set[msgID]; seen {
		return false
	}
	set[msgID] = struct{}{}
	r.version++
	return true
}

// Snapshot returns a deep copy of all state.
func (r *Registry) Snapshot() Snapshot {
	snap, _ := r.snapshot()
	return snap
}

func (r *Registry) snapshot() (Snapshot, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(Snapshot, len(r.users))
	for id, u := range r.users {
		snap[id] = u.Clone()
	}
	return snap, r.version
}

// Persist writes the current snapshot. Failures are logged and returned; the
// in-memory state stays authoritative and the next Persist retries. A snapshot
// older than the last successful save is never written.
func (r *Registry) Persist(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	snap, version := r.snapshot()
	if version != 0 && version <= r.saved {
		return nil
	}
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Error("failed to save state", "users", len(snap), "error", err)
		return err
	}
	r.saved = version
	return nil
}

// LockUser serializes poll sweeps of one user. It returns the unlock func.
func (r *Registry) LockUser(id UserID) func() {
	v, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Close releases the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
