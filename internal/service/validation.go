package service

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/notely/notely/internal/auth"
	"github.com/notely/notely/internal/model"
)

// Input limits.
const (
	MaxNameLength     = 100
	MaxEmailLength    = 320
	MinPasswordLength = 6
	MaxPasswordLength = 128
	MaxTitleLength    = 200
	MaxContentBytes   = 100 * 1024
)

// normalizeName trims a display name and checks its length.
func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", "Name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", invalid("name", "Name must be at most 100 characters")
	}
	return name, nil
}

// normalizeEmail returns the canonical form of a syntactically valid address.
// Display-name forms such as "Ada <ada@example.com>" are rejected.
func normalizeEmail(email string) (string, error) {
	email = model.NormalizeEmail(email)
	if email == "" || len(email) > MaxEmailLength {
		return "", invalid("email", "Please provide a valid email")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", invalid("email", "Please provide a valid email")
	}

	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "", invalid("email", "Please provide a valid email")
	}
	return email, nil
}

func validateNewPassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return invalid("password", "Password must be at least 6 characters long")
	}
	if n > MaxPasswordLength {
		return invalid("password", "Password must be at most 128 characters long")
	}
	return nil
}

func validateOTPInput(otp string) (string, error) {
	otp = strings.TrimSpace(otp)
	if !auth.ValidOTPFormat(otp) {
		return "", invalid("otp", "OTP must be a 6-digit number")
	}
	return otp, nil
}

// validateNote rejects blank or oversized notes. Title and content are
// stored as sent, so only the checks look at the trimmed text.
func validateNote(title, content string) error {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return invalid("title", "Please provide a title and content")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return invalid("title", "Title must be at most 200 characters")
	}
	if len(content) > MaxContentBytes {
		return invalid("content", "Content must be at most 100 KB")
	}
	return nil
}
