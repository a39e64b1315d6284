package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	chat_id INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS addresses (
	chat_id  INTEGER NOT NULL REFERENCES users(chat_id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	address  TEXT NOT NULL,
	PRIMARY KEY (chat_id, address)
);

CREATE TABLE IF NOT EXISTS seen_messages (
	chat_id    INTEGER NOT NULL REFERENCES users(chat_id) ON DELETE CASCADE,
	address    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	PRIMARY KEY (chat_id, address, message_id)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// SQLiteStore keeps the snapshot in three tables. Every save replaces all
// rows inside one transaction.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	currentVersion := 0

	var tableCount int
	err := s.db.GetContext(ctx, &tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		err = s.db.GetContext(ctx, &currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type addressRow struct {
	ChatID  int64  `db:"chat_id"`
	Address string `db:"address"`
}

type seenRow struct {
	ChatID    int64  `db:"chat_id"`
	Address   string `db:"address"`
	MessageID string `db:"message_id"`
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, "SELECT chat_id FROM users"); err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}

	snap := make(Snapshot, len(ids))
	for _, id := range ids {
		snap[UserID(id)] = NewUserState()
	}

	var addrs []addressRow
	err := s.db.SelectContext(ctx, &addrs,
		"SELECT chat_id, address FROM addresses ORDER BY chat_id, position")
	if err != nil {
		return nil, fmt.Errorf("querying addresses: %w", err)
	}
	for _, row := range addrs {
		if u, ok := snap[UserID(row.ChatID)]; ok {
			u.AddEmail(row.Address)
		}
	}

	var seen []seenRow
	err = s.db.SelectContext(ctx, &seen, "SELECT chat_id, address, message_id FROM seen_messages")
	if err != nil {
		return nil, fmt.Errorf("querying seen messages: %w", err)
	}
	for _, row := range seen {
		u, ok := snap[UserID(row.ChatID)]
		if !ok {
			continue
		}
		set, ok := u.Seen[row.Address]
		if !ok {
			set = make(map[string]struct{})
			u.Seen[row.Address] = set
		}
		set[row.MessageID] = struct{}{}
	}
	return snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM seen_messages",
		"DELETE FROM addresses",
		"DELETE FROM users",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clearing snapshot: %w", err)
		}
	}

	insertUser, err := tx.PreparexContext(ctx, "INSERT INTO users (chat_id) VALUES (?)")
	if err != nil {
		return fmt.Errorf("preparing user insert: %w", err)
	}
	defer insertUser.Close()

	insertAddr, err := tx.PreparexContext(ctx,
		"INSERT INTO addresses (chat_id, position, address) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing address insert: %w", err)
	}
	defer insertAddr.Close()

	insertSeen, err := tx.PreparexContext(ctx,
		"INSERT INTO seen_messages (chat_id, address, message_id) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing seen insert: %w", err)
	}
	defer insertSeen.Close()

	for id, u := range snap {
		if _, err := insertUser.ExecContext(ctx, int64(id)); err != nil {
			return fmt.Errorf("inserting user %s: %w", id, err)
		}
		for pos, addr := range u.Emails {
			if _, err := insertAddr.ExecContext(ctx, int64(id), pos, addr); err != nil {
				return fmt.Errorf("inserting address %s for user %s: %w", addr, id, err)
			}
		}
		for addr, set := range u.Seen {
			for msgID := range set {
				if _, err := insertSeen.ExecContext(ctx, int64(id), addr, msgID); err != nil {
					return fmt.Errorf("inserting seen %s for user %s: %w", msgID, id, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
