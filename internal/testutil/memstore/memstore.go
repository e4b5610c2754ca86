// Package memstore is an in-memory stand-in for the PostgreSQL repository,
// used by unit tests that need real store semantics without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notely/notely/internal/model"
	"github.com/notely/notely/internal/repository"
)

// Store mirrors the user and note methods of repository.Repository.
type Store struct {
	mu    sync.Mutex
	users map[string]*model.User
	notes map[string]*model.Note
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users: make(map[string]*model.User),
		notes: make(map[string]*model.Note),
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	if u.OTPExpiresAt != nil {
		t := *u.OTPExpiresAt
		c.OTPExpiresAt = &t
	}
	return &c
}

func cloneNote(n *model.Note) *model.Note {
	c := *n
	return &c
}

// CreateUser inserts a user, enforcing unique email and Google ID.
func (s *Store) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
		if user.GoogleID != "" && u.GoogleID == user.GoogleID {
			return repository.ErrGoogleIDConflict
		}
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

// GetUserByID returns a copy of the user.
func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// GetUserByEmail looks a user up by normalized email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = model.NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

// GetUserByGoogleID looks a user up by linked Google ID.
func (s *Store) GetUserByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if googleID != "" && u.GoogleID == googleID {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

// SetOTP replaces the stored OTP digest.
func (s *Store) SetOTP(_ context.Context, userID, otpHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.OTPHash = otpHash
	u.OTPExpiresAt = &expiresAt
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// ConsumeOTP clears a matching, unexpired OTP.
func (s *Store) ConsumeOTP(_ context.Context, userID, otpHash string, now time.Time, verify bool) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.OTPHash == "" || u.OTPHash != otpHash {
		return nil, repository.ErrOTPMismatch
	}
	if u.OTPExpiresAt != nil && !now.Before(*u.OTPExpiresAt) {
		return nil, repository.ErrOTPMismatch
	}

	u.OTPHash = ""
	u.OTPExpiresAt = nil
	u.Verified = u.Verified || verify
	u.UpdatedAt = now
	return cloneUser(u), nil
}

// LinkGoogleID attaches a Google ID to a user that has none.
func (s *Store) LinkGoogleID(_ context.Context, userID, googleID string, emailVerified bool) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if u.GoogleID == googleID {
		return cloneUser(u), nil
	}
	if u.GoogleID != "" {
		return nil, repository.ErrGoogleIDConflict
	}
	for _, other := range s.users {
		if other.GoogleID == googleID {
			return nil, repository.ErrGoogleIDConflict
		}
	}

	u.GoogleID = googleID
	u.Verified = u.Verified || emailVerified
	return cloneUser(u), nil
}

// CreateNote inserts a note.
func (s *Store) CreateNote(_ context.Context, note *model.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes[note.ID] = cloneNote(note)
	return nil
}

// GetNoteByID returns a copy of the note.
func (s *Store) GetNoteByID(_ context.Context, id string) (*model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[id]
	if !ok {
		return nil, repository.ErrNoteNotFound
	}
	return cloneNote(n), nil
}

// ListNotesByOwner returns the owner's notes ordered by created_at DESC, id DESC.
func (s *Store) ListNotesByOwner(_ context.Context, ownerID string) ([]*model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes := make([]*model.Note, 0)
	for _, n := range s.notes {
		if n.OwnerID == ownerID {
			notes = append(notes, cloneNote(n))
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID > notes[j].ID
	})
	return notes, nil
}

// DeleteNote removes a note owned by ownerID.
func (s *Store) DeleteNote(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[id]
	if !ok || n.OwnerID != ownerID {
		return repository.ErrNoteNotFound
	}
	delete(s.notes, id)
	return nil
}

// NoteCount returns the number of stored notes.
func (s *Store) NoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

// Mailer records enqueued codes instead of sending them.
type Mailer struct {
	mu   sync.Mutex
	sent []SentOTP
	Err  error
}

// SentOTP is one recorded EnqueueOTP call.
type SentOTP struct {
	Email   string
	Name    string
	Code    string
	Purpose string
}

// EnqueueOTP records the code.
func (m *Mailer) EnqueueOTP(_ context.Context, email, name, code, purpose string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentOTP{Email: email, Name: name, Code: code, Purpose: purpose})
	return nil
}

// Last returns the most recent code sent to email.
func (m *Mailer) Last(email string) (SentOTP, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Email == email {
			return m.sent[i], true
		}
	}
	return SentOTP{}, false
}

// Count returns the number of recorded codes.
func (m *Mailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// States is a single-use OAuth state store.
type States struct {
	mu     sync.Mutex
	states map[string]time.Duration
}

// SaveOAuthState records state.
func (s *States) SaveOAuthState(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string]time.Duration)
	}
	s.states[state] = ttl
	return nil
}

// ConsumeOAuthState removes state and reports whether it was present.
func (s *States) ConsumeOAuthState(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[state]
	delete(s.states, state)
	return ok, nil
}

// TTL returns the lifetime state was saved with.
func (s *States) TTL(state string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ttl, ok := s.states[state]
	return ttl, ok
}
