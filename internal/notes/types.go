package notes

import "github.com/jacobjmc/lightpad/internal/db"

// Note is the note as returned to clients.
type Note = db.Note

// CreateNoteParams holds the fields of a new note.
type CreateNoteParams struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateNoteParams replaces a note's title and content.
type UpdateNoteParams struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// DeleteNoteParams names the note to delete.
type DeleteNoteParams struct {
	ID string `json:"id"`
}
