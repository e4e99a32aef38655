package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("db: note not found")

const DefaultCategory = "work"

type Database struct {
	db  *sql.DB
	log *slog.Logger
}

type Note struct {
	ID         int64     `json:"id"`
	Owner      string    `json:"owner"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	ShareToken string    `json:"share_token,omitempty"`
	IsShared   bool      `json:"is_shared"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NoteUpdate carries the fields a PUT may change; nil leaves a field alone
type NoteUpdate struct {
	Title    *string
	Content  *string
	Category *string
}

func New(dbPath string, log *slog.Logger) (*Database, error) {
	if log == nil {
		log = slog.Default()
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("db: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: wal: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: schema: %w", err)
	}

	log.Info("database initialized", "path", dbPath)
	return &Database{db: db, log: log}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'work',
		share_token TEXT UNIQUE,
		is_shared BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(owner, updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

const noteColumns = "id, owner, title, content, category, share_token, is_shared, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*Note, error) {
	var n Note
	var token sql.NullString
	err := row.Scan(&n.ID, &n.Owner, &n.Title, &n.Content, &n.Category, &token, &n.IsShared, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.ShareToken = token.String
	return &n, nil
}

// Note operations

func (d *Database) CreateNote(ctx context.Context, owner, title, content, category string) (*Note, error) {
	if category == "" {
		category = DefaultCategory
	}
	result, err := d.db.ExecContext(ctx,
		"INSERT INTO notes (owner, title, content, category) VALUES (?, ?, ?, ?)",
		owner, title, content, category,
	)
	if err != nil {
		return nil, fmt.Errorf("db: create note: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetNote(ctx, id, owner)
}

// GetNote returns the note only if owner owns it
func (d *Database) GetNote(ctx context.Context, id int64, owner string) (*Note, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE id = ? AND owner = ?",
		id, owner,
	)
	return scanNote(row)
}

func (d *Database) ListNotes(ctx context.Context, owner string, limit, offset int) ([]Note, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE owner = ? ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?",
		owner, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("db: list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]Note, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

func (d *Database) UpdateNote(ctx context.Context, id int64, owner string, u NoteUpdate) (*Note, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE notes SET
			title = COALESCE(?, title),
			content = COALESCE(?, content),
			category = COALESCE(?, category),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner = ?
	`, nullable(u.Title), nullable(u.Content), nullable(u.Category), id, owner)
	if err != nil {
		return nil, fmt.Errorf("db: update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return d.GetNote(ctx, id, owner)
}

func (d *Database) DeleteNote(ctx context.Context, id int64, owner string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ? AND owner = ?", id, owner)
	if err != nil {
		return fmt.Errorf("db: delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Sharing

// ShareNote marks the note shared and assigns a token on first share
func (d *Database) ShareNote(ctx context.Context, id int64, owner string) (*Note, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE notes SET
			is_shared = TRUE,
			share_token = COALESCE(share_token, ?),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner = ?
	`, uuid.NewString(), id, owner)
	if err != nil {
		return nil, fmt.Errorf("db: share note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return d.GetNote(ctx, id, owner)
}

// GetSharedNote looks a note up by share token; unshared notes are not found
func (d *Database) GetSharedNote(ctx context.Context, token string) (*Note, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE share_token = ? AND is_shared = TRUE",
		token,
	)
	return scanNote(row)
}

func (d *Database) UpdateSharedNote(ctx context.Context, token string, u NoteUpdate) (*Note, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE notes SET
			title = COALESCE(?, title),
			content = COALESCE(?, content),
			category = COALESCE(?, category),
			updated_at = CURRENT_TIMESTAMP
		WHERE share_token = ? AND is_shared = TRUE
	`, nullable(u.Title), nullable(u.Content), nullable(u.Category), token)
	if err != nil {
		return nil, fmt.Errorf("db: update shared note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return d.GetSharedNote(ctx, token)
}

// NoteExists reports whether id names a stored note. Non-numeric ids never do.
func (d *Database) NoteExists(ctx context.Context, id string) (bool, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, nil
	}
	var one int
	err = d.db.QueryRowContext(ctx, "SELECT 1 FROM notes WHERE id = ?", n).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("db: note exists: %w", err)
	}
	return true, nil
}

// Stats

func (d *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var noteCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&noteCount); err != nil {
		return nil, err
	}
	stats["note_count"] = noteCount

	var sharedCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes WHERE is_shared = TRUE").Scan(&sharedCount); err != nil {
		return nil, err
	}
	stats["shared_count"] = sharedCount

	return stats, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
