package model

import "time"

// Note is a Markdown note with exactly one owner.
type Note struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOwnedBy reports whether userID owns the note.
func (n *Note) IsOwnedBy(userID string) bool {
	return n.OwnerID == userID
}
