package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/notely/notely/internal/auth"
	"github.com/notely/notely/internal/metrics"
	"github.com/notely/notely/internal/model"
	"github.com/notely/notely/internal/repository"
)

// TokenParser validates a bearer token and returns the subject user ID.
type TokenParser interface {
	Parse(token string) (string, error)
}

// UserCache is the read-through profile cache consulted before the database.
type UserCache interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	SetUser(ctx context.Context, user *model.User) error
}

// UserLookup loads a user by ID from the system of record.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger   *slog.Logger
	Tokens   TokenParser
	Users    UserLookup
	Cache    UserCache
	Recorder metrics.Recorder
}

// Auth returns a middleware that authenticates requests with a bearer
// session token and injects the resolved user into the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				logAuthFailure(cfg.Logger, r, "missing_token")
				writeAuthError(w, "Not authorized, no token")
				return
			}

			userID, err := cfg.Tokens.Parse(token)
			if err != nil {
				reason := "invalid_token"
				if errors.Is(err, auth.ErrTokenExpired) {
					reason = "expired_token"
				}
				logAuthFailure(cfg.Logger, r, reason)
				writeAuthError(w, "Not authorized, token failed")
				return
			}

			user, cacheHit, err := resolveUser(r.Context(), cfg, recorder, userID)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					logAuthFailure(cfg.Logger, r, "unknown_user")
				} else {
					cfg.Logger.Error("user lookup failed during auth",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				writeAuthError(w, "Not authorized, token failed")
				return
			}

			cfg.Logger.Debug("authentication successful",
				slog.String("user_id", user.ID),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.Bool("cache_hit", cacheHit),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveUser reads the profile cache first and falls back to the database,
// repopulating the cache on a miss. Cache errors never fail the request.
func resolveUser(ctx context.Context, cfg AuthConfig, recorder metrics.Recorder, userID string) (*model.User, bool, error) {
	if cfg.Cache != nil {
		cached, err := cfg.Cache.GetUser(ctx, userID)
		if err != nil {
			cfg.Logger.Warn("profile cache read failed",
				slog.String("error", err.Error()),
				slog.String("user_id", userID),
			)
		}
		if cached != nil {
			recorder.IncUserCacheHit()
			return cached, true, nil
		}
		recorder.IncUserCacheMiss()
	}

	user, err := cfg.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	if cfg.Cache != nil {
		if err := cfg.Cache.SetUser(ctx, user); err != nil {
			cfg.Logger.Warn("profile cache write failed",
				slog.String("error", err.Error()),
				slog.String("user_id", userID),
			)
		}
	}
	return user, false, nil
}

// extractBearerToken returns the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// writeAuthError writes a 401 Unauthorized response.
func writeAuthError(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}
