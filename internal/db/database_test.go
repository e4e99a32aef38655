package db

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strp(s string) *string { return &s }

func TestDatabaseCreation(t *testing.T) {
	db := setupTestDB(t)
	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestNoteOperations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	note, err := db.CreateNote(ctx, "owner-1", "Groceries", "<p>milk</p>", "")
	if err != nil {
		t.Fatalf("Failed to create note: %v", err)
	}
	if note.ID == 0 {
		t.Fatal("Note should have an id")
	}
	if note.Category != DefaultCategory {
		t.Errorf("Expected default category %q, got %q", DefaultCategory, note.Category)
	}

	got, err := db.GetNote(ctx, note.ID, "owner-1")
	if err != nil {
		t.Fatalf("Failed to get note: %v", err)
	}
	if got.Title != "Groceries" || got.Content != "<p>milk</p>" {
		t.Errorf("Unexpected note: %+v", got)
	}

	// Other owners cannot see it
	if _, err := db.GetNote(ctx, note.ID, "owner-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for other owner, got %v", err)
	}

	updated, err := db.UpdateNote(ctx, note.ID, "owner-1", NoteUpdate{Content: strp("<p>eggs</p>")})
	if err != nil {
		t.Fatalf("Failed to update note: %v", err)
	}
	if updated.Content != "<p>eggs</p>" {
		t.Errorf("Expected updated content, got %q", updated.Content)
	}
	if updated.Title != "Groceries" {
		t.Errorf("Title should be untouched, got %q", updated.Title)
	}

	if _, err := db.UpdateNote(ctx, note.ID, "owner-2", NoteUpdate{Title: strp("x")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating someone else's note, got %v", err)
	}

	if err := db.DeleteNote(ctx, note.ID, "owner-1"); err != nil {
		t.Fatalf("Failed to delete note: %v", err)
	}
	if err := db.DeleteNote(ctx, note.ID, "owner-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Second delete should report ErrNotFound, got %v", err)
	}
}

func TestListNotes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := db.CreateNote(ctx, "owner-1", "Note "+string(rune('A'+i)), "", "work"); err != nil {
			t.Fatalf("Failed to create note: %v", err)
		}
	}
	if _, err := db.CreateNote(ctx, "owner-2", "Theirs", "", "home"); err != nil {
		t.Fatalf("Failed to create note: %v", err)
	}

	notes, err := db.ListNotes(ctx, "owner-1", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list notes: %v", err)
	}
	if len(notes) != 5 {
		t.Errorf("Expected 5 notes, got %d", len(notes))
	}

	notes, err = db.ListNotes(ctx, "owner-1", 2, 0)
	if err != nil {
		t.Fatalf("Failed to list notes: %v", err)
	}
	if len(notes) != 2 {
		t.Errorf("Expected 2 notes with limit, got %d", len(notes))
	}

	notes, err = db.ListNotes(ctx, "owner-1", 10, 4)
	if err != nil {
		t.Fatalf("Failed to list notes: %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("Expected 1 note with offset, got %d", len(notes))
	}

	notes, err = db.ListNotes(ctx, "nobody", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list notes: %v", err)
	}
	if notes == nil || len(notes) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", notes)
	}
}

func TestShareNote(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	note, _ := db.CreateNote(ctx, "owner-1", "Shared", "body", "")
	if note.IsShared || note.ShareToken != "" {
		t.Fatal("New notes should not be shared")
	}

	shared, err := db.ShareNote(ctx, note.ID, "owner-1")
	if err != nil {
		t.Fatalf("Failed to share note: %v", err)
	}
	if !shared.IsShared || shared.ShareToken == "" {
		t.Fatalf("Expected shared note with token, got %+v", shared)
	}

	again, err := db.ShareNote(ctx, note.ID, "owner-1")
	if err != nil {
		t.Fatalf("Failed to re-share note: %v", err)
	}
	if again.ShareToken != shared.ShareToken {
		t.Error("Share token should be stable across shares")
	}

	byToken, err := db.GetSharedNote(ctx, shared.ShareToken)
	if err != nil {
		t.Fatalf("Failed to get shared note: %v", err)
	}
	if byToken.ID != note.ID {
		t.Errorf("Expected note %d, got %d", note.ID, byToken.ID)
	}

	edited, err := db.UpdateSharedNote(ctx, shared.ShareToken, NoteUpdate{Content: strp("edited")})
	if err != nil {
		t.Fatalf("Failed to update shared note: %v", err)
	}
	if edited.Content != "edited" {
		t.Errorf("Expected edited content, got %q", edited.Content)
	}

	if _, err := db.GetSharedNote(ctx, "unknown-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := db.ShareNote(ctx, note.ID, "owner-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Only the owner can share, got %v", err)
	}
}

func TestNoteExists(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	note, _ := db.CreateNote(ctx, "owner-1", "Exists", "", "")

	tests := []struct {
		id   string
		want bool
	}{
		{id: strconv.FormatInt(note.ID, 10), want: true},
		{id: "999", want: false},
		{id: "abc", want: false},
		{id: "", want: false},
	}

	for _, tt := range tests {
		got, err := db.NoteExists(ctx, tt.id)
		if err != nil {
			t.Fatalf("NoteExists(%q): %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("NoteExists(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestGetStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a, _ := db.CreateNote(ctx, "o", "A", "", "")
	_, _ = db.CreateNote(ctx, "o", "B", "", "")
	_, _ = db.ShareNote(ctx, a.ID, "o")

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats["note_count"] != 2 {
		t.Errorf("Expected 2 notes, got %v", stats["note_count"])
	}
	if stats["shared_count"] != 1 {
		t.Errorf("Expected 1 shared note, got %v", stats["shared_count"])
	}
}
