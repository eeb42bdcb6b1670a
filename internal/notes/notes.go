// Package notes is the note CRUD service. Content is sanitized on the way
// in and every note is mirrored into the vector index for retrieval.
package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/embedding"
	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/obs"
	"github.com/jacobjmc/lightpad/internal/vectorindex"
)

// snippetLines bounds the note text stored in vector metadata.
const snippetLines = 20

// Service handles note CRUD for authenticated users.
type Service struct {
	store    db.NoteStore
	index    vectorindex.Index
	embedder embedding.Embedder
	now      func() time.Time
}

// NewService creates a notes service. index and embedder may be nil, in
// which case notes are not embedded.
func NewService(store db.NoteStore, index vectorindex.Index, embedder embedding.Embedder) *Service {
	return &Service{
		store:    store,
		index:    index,
		embedder: embedder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return errs.Wrap(errs.NotFound, "Note not found", err)
	}
	return err
}

// Create stores a new note owned by userID.
func (s *Service) Create(ctx context.Context, userID string, params CreateNoteParams) (Note, error) {
	title, err := validate(params.Title, params.Content)
	if err != nil {
		return Note{}, err
	}

	now := s.now()
	note := Note{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Content:   SanitizeHTML(params.Content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateNote(ctx, note); err != nil {
		return Note{}, fmt.Errorf("failed to create note: %w", err)
	}

	s.syncEmbedding(ctx, note)
	obs.From(ctx).Info("note_created", "note_id", note.ID)
	return note, nil
}

// Get returns one of the user's notes.
func (s *Service) Get(ctx context.Context, userID, id string) (Note, error) {
	if id == "" {
		return Note{}, errs.New(errs.InvalidArgument, "Note id is required")
	}
	note, err := s.store.GetNote(ctx, userID, id)
	if err != nil {
		return Note{}, notFound(err)
	}
	return note, nil
}

// List returns the user's notes, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]Note, error) {
	notes, err := s.store.ListNotes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return notes, nil
}

// Update replaces title and content of one of the user's notes. Saving the
// same title and content again stores the same values.
func (s *Service) Update(ctx context.Context, userID string, params UpdateNoteParams) (Note, error) {
	if params.ID == "" {
		return Note{}, errs.New(errs.InvalidArgument, "Note id is required")
	}
	title, err := validate(params.Title, params.Content)
	if err != nil {
		return Note{}, err
	}

	existing, err := s.store.GetNote(ctx, userID, params.ID)
	if err != nil {
		return Note{}, notFound(err)
	}

	note := existing
	note.Title = title
	note.Content = SanitizeHTML(params.Content)
	note.UpdatedAt = s.now()
	if err := s.store.UpdateNote(ctx, note); err != nil {
		return Note{}, notFound(err)
	}

	if RevisionHash(existing.Title, existing.Content) != RevisionHash(note.Title, note.Content) {
		s.syncEmbedding(ctx, note)
	}
	obs.From(ctx).Info("note_updated", "note_id", note.ID)
	return note, nil
}

// Delete removes one of the user's notes and its vector.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if id == "" {
		return errs.New(errs.InvalidArgument, "Note id is required")
	}
	if err := s.store.DeleteNote(ctx, userID, id); err != nil {
		return notFound(err)
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			obs.From(ctx).Warn("note_vector_delete_failed", "note_id", id, "error", err)
		}
	}
	obs.From(ctx).Info("note_deleted", "note_id", id)
	return nil
}

// syncEmbedding upserts the note's vector. Failures are logged and do not
// fail the save; the note stays retrievable by id.
func (s *Service) syncEmbedding(ctx context.Context, note Note) {
	if s.index == nil || s.embedder == nil {
		return
	}
	log := obs.From(ctx).With("note_id", note.ID)

	text := embeddingText(note.Title, PlainText(note.Content))
	values, err := s.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn("note_embed_failed", "error", err)
		return
	}
	err = s.index.Upsert(ctx, vectorindex.Record{
		ID:     note.ID,
		Values: values,
		Metadata: vectorindex.Metadata{
			UserID: note.UserID,
			Text:   ContentPreview(text, snippetLines),
			Kind:   vectorindex.KindNote,
		},
	})
	if err != nil {
		log.Warn("note_vector_upsert_failed", "error", err)
	}
}
