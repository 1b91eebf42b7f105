package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store is the persistence gateway over the single local SQLite file. It
// relies on SQLite's own per-statement locking for write atomicity; there is
// no cross-request lock above it.
type Store struct {
	db *sql.DB

	// nowMillis assigns writer-side timestamps; overridable in tests.
	nowMillis func() int64
}

func NewStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:        db,
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS chat_history (
        id TEXT PRIMARY KEY, -- UUID
        role TEXT NOT NULL CHECK (role IN ('user', 'model')),
        content TEXT,
        image_path TEXT,     -- media store filename, never inline bytes
        usage TEXT,          -- JSON token accounting, model rows only
        created_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS vocabularies (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        original TEXT UNIQUE NOT NULL,
        reading TEXT,
        meaning TEXT,
        example TEXT,
        type TEXT,
        verb_category TEXT,
        conjugations TEXT,   -- JSON map of form label -> text
        starred INTEGER NOT NULL DEFAULT 0,
        learned INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS grammars (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        grammar TEXT UNIQUE NOT NULL,
        explanation TEXT,
        structure TEXT,
        level TEXT,
        example TEXT,
        starred INTEGER NOT NULL DEFAULT 0,
        learned INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS login_logs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT NOT NULL,
        ip TEXT NOT NULL,
        status TEXT NOT NULL CHECK (status IN ('success', 'failure')),
        created_at INTEGER NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Chat history

// InsertUserMessage records the user's side of an exchange. It is called
// before the model is contacted so the input survives a failed exchange.
func (s *Store) InsertUserMessage(content string, imagePath *string) (*ChatMessage, error) {
	msg := &ChatMessage{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		ImagePath: imagePath,
		CreatedAt: s.nowMillis(),
	}
	_, err := s.db.Exec(
		"INSERT INTO chat_history (id, role, content, image_path, usage, created_at) VALUES (?, ?, ?, ?, NULL, ?)",
		msg.ID, msg.Role, msg.Content, msg.ImagePath, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user message: %w", err)
	}
	return msg, nil
}

// InsertModelMessage records the model's final reply, with token accounting
// when the capability reported it.
func (s *Store) InsertModelMessage(content string, usage *UsageStats) (*ChatMessage, error) {
	msg := &ChatMessage{
		ID:        uuid.NewString(),
		Role:      RoleModel,
		Content:   content,
		Usage:     usage,
		CreatedAt: s.nowMillis(),
	}

	var usageJSON sql.NullString
	if usage != nil {
		raw, err := json.Marshal(usage)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal usage: %w", err)
		}
		usageJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.Exec(
		"INSERT INTO chat_history (id, role, content, image_path, usage, created_at) VALUES (?, ?, ?, NULL, ?, ?)",
		msg.ID, msg.Role, msg.Content, usageJSON, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert model message: %w", err)
	}
	return msg, nil
}

func (s *Store) GetChatMessage(id string) (*ChatMessage, error) {
	row := s.db.QueryRow(
		"SELECT id, role, content, image_path, usage, created_at FROM chat_history WHERE id = ?", id)
	msg, err := scanChatMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// ListChatHistory pages through history newest-first, then reverses each page
// so callers receive it oldest-first for display. offset < 0 derives the
// offset from page and limit.
func (s *Store) ListChatHistory(page, limit, offset int) ([]ChatMessage, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = (page - 1) * limit
	}

	// rowid tiebreak: a user/model pair written within the same millisecond
	// must keep insertion order, and the UUID id column carries none.
	rows, err := s.db.Query(
		"SELECT id, role, content, image_path, usage, created_at FROM chat_history ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		msg, err := scanChatMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan chat row: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Oldest-first within the page.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chat_history").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count chat history: %w", err)
	}
	return messages, total, nil
}

// DeleteChatMessage removes a message by id. Deleting an id that does not
// exist is not an error; the bool reports whether a row went away.
func (s *Store) DeleteChatMessage(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM chat_history WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete chat message: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// UsageBetween returns the parsed usage records of model messages created in
// [start, end]. Rows with malformed or absent usage JSON are skipped; the int
// reports how many rows were considered.
func (s *Store) UsageBetween(start, end int64) ([]UsageStats, int, error) {
	rows, err := s.db.Query(
		"SELECT usage FROM chat_history WHERE created_at BETWEEN ? AND ?", start, end)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var stats []UsageStats
	count := 0
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, fmt.Errorf("failed to scan usage row: %w", err)
		}
		count++
		if !raw.Valid || raw.String == "" {
			continue
		}
		var u UsageStats
		if err := json.Unmarshal([]byte(raw.String), &u); err != nil {
			continue // legacy or malformed rows don't break the report
		}
		stats = append(stats, u)
	}
	return stats, count, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatMessage(row rowScanner) (*ChatMessage, error) {
	var msg ChatMessage
	var imagePath, usageJSON sql.NullString
	if err := row.Scan(&msg.ID, &msg.Role, &msg.Content, &imagePath, &usageJSON, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if imagePath.Valid && imagePath.String != "" {
		msg.ImagePath = &imagePath.String
	}
	if usageJSON.Valid && usageJSON.String != "" {
		var u UsageStats
		if err := json.Unmarshal([]byte(usageJSON.String), &u); err == nil {
			msg.Usage = &u
		}
	}
	return &msg, nil
}
