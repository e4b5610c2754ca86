// Package mail delivers one-time codes out of band through a Redis stream
// outbox drained by a background worker.
package mail

import (
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"
)

// Purposes of a one-time code.
const (
	PurposeSignup = "signup"
	PurposeLogin  = "login"
)

// OTPPayload is the stream message format for a pending OTP email.
type OTPPayload struct {
	To          string `json:"to"`
	Name        string `json:"name,omitempty"`
	Code        string `json:"code"`
	Purpose     string `json:"purpose"`
	RequestedAt int64  `json:"t"`   // Unix milliseconds
	ExpiresAt   int64  `json:"exp"` // Unix milliseconds
}

// Validate checks that a decoded payload can be delivered.
func (p OTPPayload) Validate() error {
	if _, err := netmail.ParseAddress(p.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	if p.Code == "" {
		return errors.New("code is required")
	}
	switch p.Purpose {
	case PurposeSignup, PurposeLogin:
	default:
		return fmt.Errorf("unknown purpose %q", p.Purpose)
	}
	if p.ExpiresAt <= p.RequestedAt {
		return errors.New("expiry must be after request time")
	}
	return nil
}

// Expired reports whether the code has lapsed at now, in which case sending
// it is pointless.
func (p OTPPayload) Expired(now time.Time) bool {
	return !now.Before(time.UnixMilli(p.ExpiresAt))
}

// Message is a rendered plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Render builds the email for a payload.
func (p OTPPayload) Render() Message {
	subject := "Verify your email"
	intro := "Thanks for signing up. Use this code to verify your email address:"
	if p.Purpose == PurposeLogin {
		subject = "Your login code"
		intro = "Use this code to sign in:"
	}

	minutes := int(time.Duration(p.ExpiresAt-p.RequestedAt) * time.Millisecond / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	greeting := "Hello,"
	if name := strings.TrimSpace(p.Name); name != "" {
		greeting = fmt.Sprintf("Hello %s,", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n\n    %s\n\n", greeting, intro, p.Code)
	fmt.Fprintf(&b, "This code expires in %d minutes. If you did not request it, you can ignore this email.\n", minutes)

	return Message{
		To:      p.To,
		Subject: subject,
		Body:    b.String(),
	}
}
