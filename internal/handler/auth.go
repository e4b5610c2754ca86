package handler

import (
	"log/slog"
	"net/http"

	"github.com/notely/notely/internal/auth"
	"github.com/notely/notely/internal/handler/dto"
	"github.com/notely/notely/internal/service"
)

const (
	msgRegistered   = "User successfully registered. An OTP has been sent."
	msgVerified     = "Account verified successfully."
	msgLoggedIn     = "Login successful."
	msgLoginOTPSent = "If an account exists for this email, an OTP has been sent."
	msgOTPLoggedIn  = "OTP verified. Login successful."
)

// AuthHandler handles HTTP requests for account and session operations.
type AuthHandler struct {
	svc    *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger.With("component", "handler.auth"),
	}
}

// Signup handles POST /api/auth/signup.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req dto.SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.Register(r.Context(), req.Name, req.Email, req.Password); err != nil {
		handleServiceError(w, r, h.logger, err, msgUserNotFound)
		return
	}

	writeJSON(w, http.StatusCreated, dto.MessageResponse{Message: msgRegistered})
}

// VerifyOTP handles POST /api/auth/verify-otp.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.VerifySignupOtp(r.Context(), req.Email, req.OTP)
	if err != nil {
		handleServiceError(w, r, h.logger, err, msgUserNotFound)
		return
	}

	h.logger.Info("account_verified", slog.String("user_id", session.User.ID))
	writeJSON(w, http.StatusOK, dto.ToTokenResponse(msgVerified, session.Token, session.User))
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, h.logger, err, msgUserNotFound)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToTokenResponse(msgLoggedIn, session.Token, session.User))
}

// SendLoginOTP handles POST /api/auth/send-login-otp.
func (h *AuthHandler) SendLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.SendLoginOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.RequestLoginOtp(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, h.logger, err, msgUserNotFound)
		return
	}

	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: msgLoginOTPSent})
}

// VerifyLoginOTP handles POST /api/auth/verify-login-otp.
func (h *AuthHandler) VerifyLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.VerifyLoginOtp(r.Context(), req.Email, req.OTP)
	if err != nil {
		handleServiceError(w, r, h.logger, err, msgUserNotFound)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToTokenResponse(msgOTPLoggedIn, session.Token, session.User))
}

// Me handles GET /api/auth/me. Requires the auth middleware.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.MustUserFromContext(r.Context())

	profile, err := h.svc.Me(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, r, h.logger, err, msgUserNotFound)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserResponse(profile))
}
