// Package datastore provides SQLite-backed persistence for the room message
// log and the banned-nickname list.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/chatrelay/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Store is the SQLite DataStore. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id    TEXT    NOT NULL,
		nickname   TEXT    NOT NULL,
		body       TEXT    NOT NULL,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS bans (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		nickname   TEXT    NOT NULL UNIQUE,
		reason     TEXT    NOT NULL DEFAULT '',
		banned_by  TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_id, id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Messages ----

// CreateMessage validates and inserts a message, filling in ID and CreatedAt.
func (s *Store) CreateMessage(ctx context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("datastore: message failed validation: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (room_id, nickname, body) VALUES (?, ?, ?)",
		message.RoomID, message.Nickname, message.Body)
	if err != nil {
		return fmt.Errorf("datastore: create message: %w", err)
	}
	message.ID, _ = res.LastInsertId()
	message.CreatedAt = time.Now().UTC()
	return nil
}

// SaveMessage records one chat line.
func (s *Store) SaveMessage(ctx context.Context, roomID, nickname, text string) error {
	return saveMessage(ctx, s, roomID, nickname, text)
}

// ListMessages returns matching messages, newest first.
func (s *Store) ListMessages(ctx context.Context, filters model.MessageFilters) ([]model.Message, error) {
	const query = `
		SELECT id, room_id, nickname, body, created_at
		FROM messages
		WHERE (? IS NULL OR room_id = ?)
		AND (? IS NULL OR nickname = ?)
		ORDER BY id DESC
		LIMIT COALESCE(?, 100)
		OFFSET COALESCE(?, 0)
	`

	rows, err := s.db.QueryContext(ctx, query,
		filters.LimitToRoomID, filters.LimitToRoomID,
		filters.LimitToNickname, filters.LimitToNickname,
		filters.PageSize,
		filters.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Nickname, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.CreatedAt = parsed
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LoadHistory renders the newest limit messages of a room, oldest first.
func (s *Store) LoadHistory(ctx context.Context, roomID string, limit int) (string, error) {
	return loadHistory(ctx, s, roomID, limit)
}

// ---- Bans ----

// AddBan records a ban. Banning an already banned nickname is a no-op.
func (s *Store) AddBan(ctx context.Context, nickname, reason, bannedBy string) error {
	if nickname == "" {
		return fmt.Errorf("datastore: add ban: %w", model.ErrNicknameEmpty)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO bans (nickname, reason, banned_by) VALUES (?, ?, ?) ON CONFLICT(nickname) DO NOTHING",
		nickname, reason, bannedBy)
	if err != nil {
		return fmt.Errorf("datastore: add ban: %w", err)
	}
	return nil
}

// IsBanned checks if a nickname is on the ban list. Matching is byte exact.
func (s *Store) IsBanned(ctx context.Context, nickname string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bans WHERE nickname = ?", nickname).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check ban: %w", err)
	}
	return count > 0, nil
}

// ListBans returns every ban in insertion order.
func (s *Store) ListBans(ctx context.Context) ([]model.Ban, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, nickname, reason, banned_by, created_at FROM bans ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bans []model.Ban
	for rows.Next() {
		var b model.Ban
		var createdAt string
		if err := rows.Scan(&b.ID, &b.Nickname, &b.Reason, &b.BannedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		b.CreatedAt = parsed
		bans = append(bans, b)
	}
	return bans, rows.Err()
}
