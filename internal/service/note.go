package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notely/notely/internal/metrics"
	"github.com/notely/notely/internal/model"
	"github.com/notely/notely/internal/repository"
)

// NoteStore persists notes.
type NoteStore interface {
	CreateNote(ctx context.Context, note *model.Note) error
	GetNoteByID(ctx context.Context, id string) (*model.Note, error)
	ListNotesByOwner(ctx context.Context, ownerID string) ([]*model.Note, error)
	DeleteNote(ctx context.Context, id, ownerID string) error
}

// NoteService handles per-owner note operations.
type NoteService struct {
	notes   NoteStore
	metrics metrics.Recorder
	now     func() time.Time
}

// NewNoteService creates a new NoteService.
func NewNoteService(notes NoteStore, recorder metrics.Recorder) *NoteService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &NoteService{
		notes:   notes,
		metrics: recorder,
		now:     time.Now,
	}
}

// List returns the owner's notes, newest first.
func (s *NoteService) List(ctx context.Context, ownerID string) ([]*model.Note, error) {
	notes, err := s.notes.ListNotesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

// Create stores a new note for ownerID.
func (s *NoteService) Create(ctx context.Context, ownerID, title, content string) (*model.Note, error) {
	if err := validateNote(title, content); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	note := &model.Note{
		ID:        newID(),
		OwnerID:   ownerID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.notes.CreateNote(ctx, note); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}

	s.metrics.IncNoteCreated()
	return note, nil
}

// Delete removes noteID if ownerID owns it. A note owned by someone else is
// left untouched and ErrUnauthorized is returned.
func (s *NoteService) Delete(ctx context.Context, ownerID, noteID string) error {
	note, err := s.notes.GetNoteByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, repository.ErrNoteNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get note: %w", err)
	}

	if !note.IsOwnedBy(ownerID) {
		return ErrUnauthorized
	}

	if err := s.notes.DeleteNote(ctx, noteID, ownerID); err != nil {
		if errors.Is(err, repository.ErrNoteNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete note: %w", err)
	}

	s.metrics.IncNoteDeleted()
	return nil
}
