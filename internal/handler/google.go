package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/notely/notely/internal/middleware"
	"github.com/notely/notely/internal/service"
)

// googleFailureReason is the only failure detail exposed to the browser.
const googleFailureReason = "google_auth_failed"

// GoogleHandler drives the browser side of the Google sign-in redirect flow.
type GoogleHandler struct {
	svc         *service.FederatedService
	frontendURL string
	logger      *slog.Logger
}

// NewGoogleHandler creates a new GoogleHandler. A nil svc means Google
// sign-in is not configured and both routes answer 503.
func NewGoogleHandler(svc *service.FederatedService, frontendURL string, logger *slog.Logger) *GoogleHandler {
	return &GoogleHandler{
		svc:         svc,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
		logger:      logger.With("component", "handler.google"),
	}
}

// Start handles GET /api/auth/google.
func (h *GoogleHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		h.writeDisabled(w)
		return
	}

	consentURL, err := h.svc.Begin(r.Context())
	if err != nil {
		h.logger.Error("google sign-in start failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		h.redirectFailure(w, r)
		return
	}

	http.Redirect(w, r, consentURL, http.StatusFound)
}

// Callback handles GET /api/auth/google/callback.
func (h *GoogleHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		h.writeDisabled(w)
		return
	}

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Warn("google sign-in rejected by provider",
			slog.String("provider_error", providerErr),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		h.redirectFailure(w, r)
		return
	}

	session, err := h.svc.Complete(r.Context(), query.Get("state"), query.Get("code"))
	if err != nil {
		level := slog.LevelError
		if m := mapServiceError(err, ""); m.status != http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		h.logger.Log(r.Context(), level, "google sign-in failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		h.redirectFailure(w, r)
		return
	}

	params := url.Values{}
	params.Set("token", session.Token)
	params.Set("name", session.User.Name)
	params.Set("email", session.User.Email)

	h.logger.Info("google sign-in succeeded", slog.String("user_id", session.User.ID))
	http.Redirect(w, r, h.frontendURL+"/auth/google/callback?"+params.Encode(), http.StatusFound)
}

func (h *GoogleHandler) redirectFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.frontendURL+"/signin?error="+googleFailureReason, http.StatusFound)
}

func (h *GoogleHandler) writeDisabled(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "GOOGLE_DISABLED", "Google sign-in is not configured")
}
