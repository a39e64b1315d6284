package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// FileStore keeps the snapshot in a single JSON document:
//
//	{"<chatId>": {"emails": [...], "seenEmails": {"<addr>": {"<msgId>": true}}}}
type FileStore struct {
	path string
}

type fileUser struct {
	Emails     []string                   `json:"emails"`
	SeenEmails map[string]map[string]bool `json:"seenEmails"`
}

// NewFileStore returns a store backed by path. The file is created on the
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var raw map[string]fileUser
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}

	snap := make(Snapshot, len(raw))
	for key, fu := range raw {
		id, err := ParseUserID(key)
		if err != nil {
			return nil, fmt.Errorf("parse state file: %w", err)
		}
		u := NewUserState()
		for _, addr := range fu.Emails {
			u.AddEmail(addr)
		}
		for addr, ids := range fu.SeenEmails {
			set := make(map[string]struct{}, len(ids))
			for msgID, ok := range ids {
				if ok {
					set[msgID] = struct{}{}
				}
			}
			u.Seen[addr] = set
		}
		snap[id] = u
	}
	return snap, nil
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	raw := make(map[string]fileUser, len(snap))
	for id, u := range snap {
		fu := fileUser{
			Emails:     u.Emails,
			SeenEmails: make(map[string]map[string]bool, len(u.Seen)),
		}
		if fu.Emails == nil {
			fu.Emails = []string{}
		}
		for addr, ids := range u.Seen {
			m := make(map[string]bool, len(ids))
			for msgID := range ids {
				m[msgID] = true
			}
			fu.SeenEmails[addr] = m
		}
		raw[id.String()] = fu
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Quarantine renames an unreadable state file to <path>.corrupt-<unix>.
func (s *FileStore) Quarantine() (string, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	dst := s.path + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.Rename(s.path, dst); err != nil {
		return "", fmt.Errorf("quarantine state file: %w", err)
	}
	return dst, nil
}

func (s *FileStore) Close() error {
	return nil
}
