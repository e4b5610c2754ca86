package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/notely/notely/internal/metrics"
	"github.com/notely/notely/internal/model"
	"github.com/notely/notely/internal/oauth"
	"github.com/notely/notely/internal/repository"
)

// OAuthStateTTL is how long a login started with Begin can be completed.
const OAuthStateTTL = 10 * time.Minute

// ProfileFetcher runs the provider side of the code flow.
type ProfileFetcher interface {
	AuthCodeURL(state string) string
	FetchProfile(ctx context.Context, code string) (*oauth.Profile, error)
}

// StateStore keeps pending OAuth state values.
type StateStore interface {
	SaveOAuthState(ctx context.Context, state string, ttl time.Duration) error
	ConsumeOAuthState(ctx context.Context, state string) (bool, error)
}

// FederatedService maps Google identities onto local accounts.
type FederatedService struct {
	users    UserStore
	provider ProfileFetcher
	states   StateStore
	tokens   TokenIssuer
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

// NewFederatedService creates a new FederatedService.
func NewFederatedService(users UserStore, provider ProfileFetcher, states StateStore, tokens TokenIssuer, logger *slog.Logger, recorder metrics.Recorder) *FederatedService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &FederatedService{
		users:    users,
		provider: provider,
		states:   states,
		tokens:   tokens,
		logger:   logger.With("component", "service.federated"),
		metrics:  recorder,
		now:      time.Now,
	}
}

// Begin records a fresh state value and returns the provider consent URL.
func (s *FederatedService) Begin(ctx context.Context) (string, error) {
	state, err := newState()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	if err := s.states.SaveOAuthState(ctx, state, OAuthStateTTL); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}
	return s.provider.AuthCodeURL(state), nil
}

// Complete validates the returned state, fetches the provider profile, and
// signs the user in.
func (s *FederatedService) Complete(ctx context.Context, state, code string) (*Session, error) {
	ok, err := s.states.ConsumeOAuthState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("consume state: %w", err)
	}
	if !ok {
		s.metrics.IncLogin(metrics.MethodGoogle, metrics.StatusFailure)
		return nil, ErrInvalidState
	}
	if code == "" {
		s.metrics.IncLogin(metrics.MethodGoogle, metrics.StatusFailure)
		return nil, invalid("code", "Authorization code is required")
	}

	profile, err := s.provider.FetchProfile(ctx, code)
	if err != nil {
		s.metrics.IncLogin(metrics.MethodGoogle, metrics.StatusFailure)
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	session, err := s.CompleteFederatedLogin(ctx, profile)
	if err != nil {
		s.metrics.IncLogin(metrics.MethodGoogle, metrics.StatusFailure)
		return nil, err
	}

	s.metrics.IncLogin(metrics.MethodGoogle, metrics.StatusSuccess)
	return session, nil
}

// CompleteFederatedLogin finds the account for profile by Google ID, then by
// email (linking the Google ID when Google has verified that email), and
// otherwise creates a verified account without a password.
func (s *FederatedService) CompleteFederatedLogin(ctx context.Context, profile *oauth.Profile) (*Session, error) {
	if profile == nil || profile.ID == "" {
		return nil, invalid("profile", "Provider profile is missing an id")
	}
	email, err := normalizeEmail(profile.Email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByGoogleID(ctx, profile.ID)
	if err == nil {
		return issueSession(s.tokens, user)
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup by google id: %w", err)
	}

	user, err = s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return s.link(ctx, user, profile)
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, fmt.Errorf("lookup by email: %w", err)
	}

	now := s.now().UTC()
	user = &model.User{
		ID:        newID(),
		Name:      displayName(profile.Name, email),
		Email:     email,
		GoogleID:  profile.ID,
		Verified:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrGoogleIDConflict) || errors.Is(err, repository.ErrEmailExists) {
			// Lost a race with a concurrent callback for the same identity.
			existing, getErr := s.users.GetUserByGoogleID(ctx, profile.ID)
			if getErr == nil {
				return issueSession(s.tokens, existing)
			}
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create federated user: %w", err)
	}

	s.logger.Info("federated user created", "user_id", user.ID)
	return issueSession(s.tokens, user)
}

func (s *FederatedService) link(ctx context.Context, user *model.User, profile *oauth.Profile) (*Session, error) {
	if user.IsFederated() && user.GoogleID != profile.ID {
		return nil, ErrConflict
	}
	// Matching by email is only sound when the provider vouches for it.
	if !profile.EmailVerified {
		s.logger.Warn("refusing to link unverified google email", "user_id", user.ID)
		return nil, ErrNotVerified
	}

	linked, err := s.users.LinkGoogleID(ctx, user.ID, profile.ID, profile.EmailVerified)
	if err != nil {
		if errors.Is(err, repository.ErrGoogleIDConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("link google id: %w", err)
	}

	s.logger.Info("google account linked", "user_id", linked.ID)
	return issueSession(s.tokens, linked)
}

// displayName picks a stored name for a new federated user.
func displayName(name, email string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	return name
}

func newState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
