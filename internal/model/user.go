// Package model defines domain entities for the application.
package model

import (
	"strings"
	"time"
)

// User is an account that owns notes.
// A user authenticates with a password, a Google identity, or both.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	GoogleID     string     `json:"-"`
	OTPHash      string     `json:"-"`
	OTPExpiresAt *time.Time `json:"-"`
	Verified     bool       `json:"verified"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasPassword reports whether the user can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsFederated reports whether a Google identity is linked.
func (u *User) IsFederated() bool {
	return u.GoogleID != ""
}

// HasPendingOTP reports whether an unexpired OTP is stored for the user.
func (u *User) HasPendingOTP(now time.Time) bool {
	if u.OTPHash == "" {
		return false
	}
	if u.OTPExpiresAt != nil && !now.Before(*u.OTPExpiresAt) {
		return false
	}
	return true
}

// Profile returns the minimal public view of the user.
func (u *User) Profile() Profile {
	return Profile{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}

// Profile is the minimal user view handed to clients with a session token.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NormalizeEmail lower-cases and trims an email address.
// Emails are unique under this normalization.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
