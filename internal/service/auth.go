package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/notely/notely/internal/auth"
	"github.com/notely/notely/internal/mail"
	"github.com/notely/notely/internal/metrics"
	"github.com/notely/notely/internal/model"
	"github.com/notely/notely/internal/repository"
)

// DefaultOTPTTL is how long a one-time code stays valid.
const DefaultOTPTTL = 10 * time.Minute

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	SetOTP(ctx context.Context, userID, otpHash string, expiresAt time.Time) error
	ConsumeOTP(ctx context.Context, userID, otpHash string, now time.Time, verify bool) (*model.User, error)
	LinkGoogleID(ctx context.Context, userID, googleID string, emailVerified bool) (*model.User, error)
}

// OTPMailer delivers one-time codes out of band.
type OTPMailer interface {
	EnqueueOTP(ctx context.Context, email, name, code, purpose string, ttl time.Duration) error
}

// TokenIssuer mints session tokens.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// Session is a freshly issued token and the profile it belongs to.
type Session struct {
	Token string
	User  model.Profile
}

// AuthConfig holds AuthService tunables.
type AuthConfig struct {
	OTPTTL time.Duration
	// RevealUnverified makes RequestLoginOtp return ErrNotVerified for
	// accounts that exist but are unverified.
	RevealUnverified bool
}

// AuthService handles signup, verification, and login.
type AuthService struct {
	users            UserStore
	mailer           OTPMailer
	tokens           TokenIssuer
	logger           *slog.Logger
	metrics          metrics.Recorder
	otpTTL           time.Duration
	revealUnverified bool

	now         func() time.Time
	generateOTP func() (string, error)
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, mailer OTPMailer, tokens TokenIssuer, cfg AuthConfig, logger *slog.Logger, recorder metrics.Recorder) *AuthService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = DefaultOTPTTL
	}
	return &AuthService{
		users:            users,
		mailer:           mailer,
		tokens:           tokens,
		logger:           logger.With("component", "service.auth"),
		metrics:          recorder,
		otpTTL:           cfg.OTPTTL,
		revealUnverified: cfg.RevealUnverified,
		now:              time.Now,
		generateOTP:      auth.GenerateOTP,
	}
}

// Register creates an unverified account and sends it a signup code.
// Registering again on an unverified account with the same password sends
// a fresh code instead, so a lapsed or undelivered code never strands it.
func (s *AuthService) Register(ctx context.Context, name, email, password string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := validateNewPassword(password); err != nil {
		return err
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return s.reissueSignupOTP(ctx, existing, password)
	case !errors.Is(err, repository.ErrUserNotFound):
		return fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	code, err := s.generateOTP()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.otpTTL)
	user := &model.User{
		ID:           newID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		OTPHash:      auth.HashOTP(code),
		OTPExpiresAt: &expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}

	if err := s.mailer.EnqueueOTP(ctx, email, name, code, mail.PurposeSignup, s.otpTTL); err != nil {
		return fmt.Errorf("enqueue signup otp: %w", err)
	}

	s.metrics.IncSignup()
	s.metrics.IncOTPIssued(mail.PurposeSignup)
	s.logger.Info("user registered", "user_id", user.ID)
	return nil
}

// reissueSignupOTP replaces the pending signup code of an unverified account
// whose owner proves the password chosen at signup. Anything else is a
// conflict.
func (s *AuthService) reissueSignupOTP(ctx context.Context, user *model.User, password string) error {
	if user.Verified || !user.HasPassword() {
		return ErrConflict
	}
	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrConflict
	}

	if err := s.issueOTP(ctx, user, mail.PurposeSignup); err != nil {
		return err
	}
	s.logger.Info("signup otp reissued", "user_id", user.ID)
	return nil
}

// issueOTP stores a fresh code for user, replacing any earlier one, and
// queues it for delivery.
func (s *AuthService) issueOTP(ctx context.Context, user *model.User, purpose string) error {
	code, err := s.generateOTP()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	if err := s.users.SetOTP(ctx, user.ID, auth.HashOTP(code), s.now().UTC().Add(s.otpTTL)); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	if err := s.mailer.EnqueueOTP(ctx, user.Email, user.Name, code, purpose, s.otpTTL); err != nil {
		return fmt.Errorf("enqueue %s otp: %w", purpose, err)
	}

	s.metrics.IncOTPIssued(purpose)
	return nil
}

// VerifySignupOtp consumes the signup code, marks the account verified, and
// opens a session.
func (s *AuthService) VerifySignupOtp(ctx context.Context, email, otp string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	otp, err = validateOTPInput(otp)
	if err != nil {
		return nil, err
	}

	user, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.Verified {
		return nil, ErrAlreadyVerified
	}

	verified, err := s.consumeOTP(ctx, user, otp, true)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user verified", "user_id", verified.ID)
	return s.issueSession(verified)
}

// Login checks a password and opens a session. Unverified accounts are
// refused before the password is looked at.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, invalid("password", "Password is required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			burnPasswordCheck(password)
			s.metrics.IncLogin(metrics.MethodPassword, metrics.StatusFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.Verified {
		s.metrics.IncLogin(metrics.MethodPassword, metrics.StatusFailure)
		return nil, ErrNotVerified
	}

	if !user.HasPassword() {
		burnPasswordCheck(password)
		s.metrics.IncLogin(metrics.MethodPassword, metrics.StatusFailure)
		return nil, ErrInvalidCredentials
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.metrics.IncLogin(metrics.MethodPassword, metrics.StatusFailure)
		return nil, ErrInvalidCredentials
	}

	s.metrics.IncLogin(metrics.MethodPassword, metrics.StatusSuccess)
	return s.issueSession(user)
}

// RequestLoginOtp sends a fresh login code to a verified account, replacing
// any earlier one. Unknown emails get the same silent success.
func (s *AuthService) RequestLoginOtp(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Debug("login otp requested for unknown email")
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	if !user.Verified {
		if s.revealUnverified {
			return ErrNotVerified
		}
		return nil
	}

	return s.issueOTP(ctx, user, mail.PurposeLogin)
}

// VerifyLoginOtp consumes a login code and opens a session.
func (s *AuthService) VerifyLoginOtp(ctx context.Context, email, otp string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	otp, err = validateOTPInput(otp)
	if err != nil {
		return nil, err
	}

	user, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !user.Verified {
		return nil, ErrNotVerified
	}

	consumed, err := s.consumeOTP(ctx, user, otp, false)
	if err != nil {
		s.metrics.IncLogin(metrics.MethodOTP, metrics.StatusFailure)
		return nil, err
	}

	s.metrics.IncLogin(metrics.MethodOTP, metrics.StatusSuccess)
	return s.issueSession(consumed)
}

// Me returns the current profile of userID.
func (s *AuthService) Me(ctx context.Context, userID string) (model.Profile, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.Profile{}, ErrNotFound
		}
		return model.Profile{}, fmt.Errorf("lookup user: %w", err)
	}
	return user.Profile(), nil
}

func (s *AuthService) lookupByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// consumeOTP checks otp against the stored digest and clears it. The
// conditional update in the store makes a code single use under races.
func (s *AuthService) consumeOTP(ctx context.Context, user *model.User, otp string, verify bool) (*model.User, error) {
	now := s.now().UTC()
	if !user.HasPendingOTP(now) || !auth.VerifyOTP(otp, user.OTPHash) {
		return nil, ErrInvalidOTP
	}

	consumed, err := s.users.ConsumeOTP(ctx, user.ID, user.OTPHash, now, verify)
	if err != nil {
		if errors.Is(err, repository.ErrOTPMismatch) {
			return nil, ErrInvalidOTP
		}
		return nil, fmt.Errorf("consume otp: %w", err)
	}
	return consumed, nil
}

func (s *AuthService) issueSession(user *model.User) (*Session, error) {
	return issueSession(s.tokens, user)
}

func issueSession(tokens TokenIssuer, user *model.User) (*Session, error) {
	token, err := tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, User: user.Profile()}, nil
}

func newID() string {
	return ulid.Make().String()
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCheck spends the same work as a real password check so that
// unknown accounts answer no faster than known ones.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = auth.HashPassword("notely-dummy-password")
	})
	if dummyHash != "" {
		_, _ = auth.VerifyPassword(password, dummyHash)
	}
}
