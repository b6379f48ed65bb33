// Package archive mirrors committed conversation messages into a
// SQLite database so history survives edits to the live state and can
// be searched without loading everything into memory.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/minetta-labs/palmchat/pkg/store"
)

// Entry is one archived message row.
type Entry struct {
	MessageID   string
	CharacterID string
	Role        string
	Content     string
	Starred     bool
	CreatedAtMS int64
}

// Archive is the append-only message mirror. Rows are keyed by message
// id, so re-recording an edited message updates in place.
type Archive struct {
	db *sql.DB
}

// Open creates/opens the archive database at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	// Single-process archive. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Archive{db: db}
	if err := a.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			starred INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_char_idx ON messages(character_id, created_at_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("init archive schema: %w", err)
		}
	}
	return nil
}

// Record mirrors a committed message. Upsert semantics: recording the
// same message id again (after an edit or a star toggle) replaces the
// stored row.
func (a *Archive) Record(characterID string, msg store.Message) error {
	if strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("record message: empty id")
	}
	starred := 0
	if msg.Starred {
		starred = 1
	}
	_, err := a.db.Exec(`
INSERT INTO messages(id, character_id, role, content, starred, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	content = excluded.content,
	starred = excluded.starred`,
		msg.ID, characterID, msg.Role, msg.Content, starred, msg.TimeMS)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// Search returns up to limit messages containing term, newest first.
// An empty term returns nothing.
func (a *Archive) Search(term string, limit int) ([]Entry, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`
SELECT id, character_id, role, content, starred, created_at_ms
FROM messages
WHERE content LIKE ? ESCAPE '\'
ORDER BY created_at_ms DESC
LIMIT ?`, "%"+escapeLike(term)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Starred returns the character's starred messages, oldest first.
func (a *Archive) Starred(characterID string) ([]Entry, error) {
	rows, err := a.db.Query(`
SELECT id, character_id, role, content, starred, created_at_ms
FROM messages
WHERE character_id = ? AND starred = 1
ORDER BY created_at_ms ASC`, characterID)
	if err != nil {
		return nil, fmt.Errorf("list starred: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// History returns up to limit of the character's newest messages,
// oldest first.
func (a *Archive) History(characterID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(`
SELECT id, character_id, role, content, starred, created_at_ms
FROM messages
WHERE character_id = ?
ORDER BY created_at_ms DESC
LIMIT ?`, characterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	out := []Entry{}
	for rows.Next() {
		var e Entry
		var starred int
		if err := rows.Scan(&e.MessageID, &e.CharacterID, &e.Role, &e.Content, &starred, &e.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		e.Starred = starred != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return out, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
