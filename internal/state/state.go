// Package state owns every user's tracked addresses and seen message IDs and
// persists them as full snapshots.
package state

import (
	"context"
	"fmt"
	"slices"
	"strconv"
)

// UserID identifies a chat.
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses the stringified chat ID used as the snapshot key.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user id %q: %w", s, err)
	}
	return UserID(n), nil
}

// UserState is one user's tracked addresses, in insertion order, and the
// message IDs already notified for each address.
type UserState struct {
	Emails []string
	Seen   map[string]map[string]struct{}
}

// NewUserState returns an empty state.
func NewUserState() *UserState {
	return &UserState{
		Emails: []string{},
		Seen:   make(map[string]map[string]struct{}),
	}
}

// HasEmail reports whether addr is tracked.
func (u *UserState) HasEmail(addr string) bool {
	return slices.Contains(u.Emails, addr)
}

// AddEmail appends addr unless it is already tracked.
func (u *UserState) AddEmail(addr string) bool {
	if u.HasEmail(addr) {
		return false
	}
	u.Emails = append(u.Emails, addr)
	return true
}

// RemoveEmail drops addr and forgets its seen-set.
func (u *UserState) RemoveEmail(addr string) bool {
	i := slices.Index(u.Emails, addr)
	if i < 0 {
		return false
	}
	u.Emails = slices.Delete(u.Emails, i, i+1)
	delete(u.Seen, addr)
	return true
}

// Reset forgets everything.
func (u *UserState) Reset() {
	u.Emails = []string{}
	u.Seen = make(map[string]map[string]struct{})
}

// SeenCount returns the number of seen IDs recorded for addr.
func (u *UserState) SeenCount(addr string) int {
	return len(u.Seen[addr])
}

// Clone returns a deep copy.
func (u *UserState) Clone() *UserState {
	cp := &UserState{
		Emails: slices.Clone(u.Emails),
		Seen:   make(map[string]map[string]struct{}, len(u.Seen)),
	}
	if cp.Emails == nil {
		cp.Emails = []string{}
	}
	for addr, ids := range u.Seen {
		set := make(map[string]struct{}, len(ids))
		for id := range ids {
			set[id] = struct{}{}
		}
		cp.Seen[addr] = set
	}
	return cp
}

// Snapshot is a complete copy of all user state.
type Snapshot map[UserID]*UserState

// Store persists full snapshots. Load returns an empty snapshot when nothing
// has been saved yet.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// quarantiner is implemented by stores that can move unreadable data aside so
// the next save does not destroy it.
type quarantiner interface {
	Quarantine() (string, error)
}
