// Package history persists conversation turns so the next voice session can
// be seeded with them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var ErrEmptyTurn = errors.New("turn has no text")

const schema = `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		audioUrl TEXT,
		createdAt INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS turnsByCreatedAt ON turns(createdAt);
`

// Store keeps conversation turns in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pooled connection to :memory: would see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append records turn. A zero At is stamped with the current time.
func (s *Store) Append(ctx context.Context, turn realtime.ConversationTurn) error {
	if strings.TrimSpace(turn.Text) == "" {
		return ErrEmptyTurn
	}
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	var audioURL sql.NullString
	if turn.AudioURL != "" {
		audioURL = sql.NullString{String: turn.AudioURL, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, role, text, audioUrl, createdAt)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), string(turn.Role), turn.Text, audioURL, turn.At.UnixNano())
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Recent returns up to limit of the latest turns, oldest first. A limit of
// zero or less returns every turn.
func (s *Store) Recent(ctx context.Context, limit int) ([]realtime.ConversationTurn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, text, audioUrl, createdAt FROM (
			SELECT rowid, role, text, audioUrl, createdAt
			FROM turns
			ORDER BY createdAt DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY createdAt ASC, rowid ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []realtime.ConversationTurn
	for rows.Next() {
		var (
			t         realtime.ConversationTurn
			role      string
			audioURL  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&role, &t.Text, &audioURL, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = realtime.Role(role)
		t.AudioURL = audioURL.String
		t.At = time.Unix(0, createdAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Clear deletes every stored turn.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}
