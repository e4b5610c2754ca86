// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import "github.com/notely/notely/internal/model"

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyOTPRequest is the body of both OTP verification endpoints.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SendLoginOTPRequest is the body of POST /api/auth/send-login-otp.
type SendLoginOTPRequest struct {
	Email string `json:"email"`
}

// UserResponse is the public profile returned to the client.
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TokenResponse is returned by every endpoint that opens a session.
type TokenResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    UserResponse `json:"user"`
}

// MessageResponse is a plain acknowledgment.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the single error shape of the API. Clients show Message
// verbatim.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToUserResponse converts a profile to its API form.
func ToUserResponse(p model.Profile) UserResponse {
	return UserResponse{ID: p.ID, Name: p.Name, Email: p.Email}
}

// ToTokenResponse builds a session response.
func ToTokenResponse(message, token string, p model.Profile) TokenResponse {
	return TokenResponse{
		Message: message,
		Token:   token,
		User:    ToUserResponse(p),
	}
}
