package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/notely/notely/internal/auth"
	"github.com/notely/notely/internal/mail"
	"github.com/notely/notely/internal/metrics"
	"github.com/notely/notely/internal/model"
	"github.com/notely/notely/internal/repository"
	"github.com/notely/notely/internal/testutil/memstore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type authFixture struct {
	svc      *AuthService
	store    *memstore.Store
	mailer   *memstore.Mailer
	tokens   *auth.TokenIssuer
	recorder *metrics.InMemoryRecorder
}

func newAuthFixture(t *testing.T, cfg AuthConfig) *authFixture {
	t.Helper()
	f := &authFixture{
		store:    memstore.New(),
		mailer:   &memstore.Mailer{},
		tokens:   auth.NewTokenIssuer([]byte(testSecret), time.Hour),
		recorder: metrics.NewInMemory(),
	}
	f.svc = NewAuthService(f.store, f.mailer, f.tokens, cfg, discardLogger(), f.recorder)
	return f
}

func (f *authFixture) register(t *testing.T, email string) string {
	t.Helper()
	require.NoError(t, f.svc.Register(context.Background(), "Ada", email, "Secret123!"))
	sent, ok := f.mailer.Last(model.NormalizeEmail(email))
	require.True(t, ok, "expected a signup code for %s", email)
	return sent.Code
}

func (f *authFixture) registerVerified(t *testing.T, email string) *Session {
	t.Helper()
	code := f.register(t, email)
	session, err := f.svc.VerifySignupOtp(context.Background(), email, code)
	require.NoError(t, err)
	return session
}

func TestAuthService_RegisterValidation(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	tests := []struct {
		name     string
		userName string
		email    string
		password string
		field    string
	}{
		{"empty name", "  ", "a@example.com", "Secret123!", "name"},
		{"long name", strings.Repeat("x", 101), "a@example.com", "Secret123!", "name"},
		{"bad email", "Ada", "not-an-email", "Secret123!", "email"},
		{"display name email", "Ada", "Ada <a@example.com>", "Secret123!", "email"},
		{"short password", "Ada", "a@example.com", "12345", "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.Register(ctx, tt.userName, tt.email, tt.password)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.Zero(t, f.mailer.Count(), "no code should be sent for invalid input")
}

func TestAuthService_RegisterCreatesUnverifiedUser(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	code := f.register(t, "  Ada@Example.COM ")
	assert.True(t, auth.ValidOTPFormat(code))

	user, err := f.store.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.False(t, user.Verified)
	assert.True(t, user.HasPassword())
	assert.True(t, user.HasPendingOTP(time.Now()))
	assert.NotEqual(t, code, user.OTPHash, "code must be stored hashed")

	sent, _ := f.mailer.Last("ada@example.com")
	assert.Equal(t, mail.PurposeSignup, sent.Purpose)
	assert.Equal(t, uint64(1), f.recorder.Snapshot().Signups)
}

func TestAuthService_RegisterConflict(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})

	f.register(t, "ada@example.com")
	err := f.svc.Register(context.Background(), "Other", "ADA@example.com", "different-password")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.mailer.Count())

	f.registerVerified(t, "bob@example.com")
	err = f.svc.Register(context.Background(), "Ada", "bob@example.com", "Secret123!")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAuthService_RegisterAgainReissuesExpiredCode(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{OTPTTL: 10 * time.Minute})
	ctx := context.Background()

	stale := f.register(t, "ada@example.com")
	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err := f.svc.VerifySignupOtp(ctx, "ada@example.com", stale)
	require.ErrorIs(t, err, ErrInvalidOTP)

	require.NoError(t, f.svc.Register(ctx, "Ada", "ada@example.com", "Secret123!"))
	sent, ok := f.mailer.Last("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, mail.PurposeSignup, sent.Purpose)
	assert.Equal(t, 2, f.mailer.Count())

	session, err := f.svc.VerifySignupOtp(ctx, "ada@example.com", sent.Code)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", session.User.Email)

	snap := f.recorder.Snapshot()
	assert.Equal(t, uint64(1), snap.Signups, "a reissue is not a new signup")
	assert.Equal(t, uint64(2), snap.OTPIssued[mail.PurposeSignup])
}

func TestAuthService_RegisterRecoversAfterMailOutage(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	outage := errors.New("redis down")
	f.mailer.Err = outage
	err := f.svc.Register(ctx, "Ada", "ada@example.com", "Secret123!")
	require.ErrorIs(t, err, outage)
	assert.Zero(t, f.mailer.Count())

	f.mailer.Err = nil
	code := f.register(t, "ada@example.com")

	_, err = f.svc.VerifySignupOtp(ctx, "ada@example.com", code)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "ada@example.com", "Secret123!")
	assert.NoError(t, err)
}

func TestAuthService_VerifySignupOtpSingleUse(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	code := f.register(t, "ada@example.com")

	session, err := f.svc.VerifySignupOtp(ctx, "ada@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", session.User.Email)
	assert.Equal(t, "Ada", session.User.Name)

	userID, err := f.tokens.Parse(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, userID)

	_, err = f.svc.VerifySignupOtp(ctx, "ada@example.com", code)
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	user, err := f.store.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, user.Verified)
	assert.Empty(t, user.OTPHash)
}

func TestAuthService_VerifySignupOtpErrors(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	code := f.register(t, "ada@example.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err := f.svc.VerifySignupOtp(ctx, "nobody@example.com", code)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.VerifySignupOtp(ctx, "ada@example.com", wrong)
	assert.ErrorIs(t, err, ErrInvalidOTP)

	_, err = f.svc.VerifySignupOtp(ctx, "ada@example.com", "12ab")
	assert.ErrorIs(t, err, ErrValidation)

	// The correct code still works after failed attempts.
	_, err = f.svc.VerifySignupOtp(ctx, "ada@example.com", code)
	assert.NoError(t, err)
}

func TestAuthService_VerifySignupOtpExpired(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{OTPTTL: time.Minute})
	ctx := context.Background()

	code := f.register(t, "ada@example.com")
	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := f.svc.VerifySignupOtp(ctx, "ada@example.com", code)
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestAuthService_LoginUnverifiedRegardlessOfPassword(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	f.register(t, "ada@example.com")

	for _, password := range []string{"Secret123!", "wrong-password"} {
		_, err := f.svc.Login(ctx, "ada@example.com", password)
		assert.ErrorIs(t, err, ErrNotVerified, "password %q", password)
	}
}

func TestAuthService_Login(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	registered := f.registerVerified(t, "ada@example.com")

	session, err := f.svc.Login(ctx, "ADA@example.com", "Secret123!")
	require.NoError(t, err)
	assert.Equal(t, registered.User, session.User)

	_, err = f.svc.Login(ctx, "ada@example.com", "Secret124!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody@example.com", "Secret123!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "ada@example.com", "")
	assert.ErrorIs(t, err, ErrValidation)

	snap := f.recorder.Snapshot()
	assert.Equal(t, uint64(1), snap.Logins[metrics.LoginKey{Method: metrics.MethodPassword, Status: metrics.StatusSuccess}])
	assert.Equal(t, uint64(2), snap.Logins[metrics.LoginKey{Method: metrics.MethodPassword, Status: metrics.StatusFailure}])
}

func TestAuthService_LoginFederatedOnly(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	require.NoError(t, f.store.CreateUser(ctx, &model.User{
		ID: newID(), Name: "G", Email: "g@example.com", GoogleID: "g-1", Verified: true,
	}))

	_, err := f.svc.Login(ctx, "g@example.com", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_RequestLoginOtp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown email is acknowledged silently", func(t *testing.T) {
		f := newAuthFixture(t, AuthConfig{RevealUnverified: true})
		require.NoError(t, f.svc.RequestLoginOtp(ctx, "nobody@example.com"))
		assert.Zero(t, f.mailer.Count())
	})

	t.Run("unverified is revealed by default config", func(t *testing.T) {
		f := newAuthFixture(t, AuthConfig{RevealUnverified: true})
		f.register(t, "ada@example.com")
		assert.ErrorIs(t, f.svc.RequestLoginOtp(ctx, "ada@example.com"), ErrNotVerified)
		assert.Equal(t, 1, f.mailer.Count(), "only the signup code is sent")
	})

	t.Run("unverified is hidden when configured", func(t *testing.T) {
		f := newAuthFixture(t, AuthConfig{RevealUnverified: false})
		f.register(t, "ada@example.com")
		require.NoError(t, f.svc.RequestLoginOtp(ctx, "ada@example.com"))
		assert.Equal(t, 1, f.mailer.Count(), "no login code for an unverified account")
	})

	t.Run("invalid email", func(t *testing.T) {
		f := newAuthFixture(t, AuthConfig{})
		assert.ErrorIs(t, f.svc.RequestLoginOtp(ctx, "nope"), ErrValidation)
	})
}

func TestAuthService_SecondLoginOtpInvalidatesFirst(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{RevealUnverified: true})
	ctx := context.Background()

	f.registerVerified(t, "ada@example.com")

	codes := []string{"111111", "222222"}
	f.svc.generateOTP = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	require.NoError(t, f.svc.RequestLoginOtp(ctx, "ada@example.com"))
	require.NoError(t, f.svc.RequestLoginOtp(ctx, "ada@example.com"))

	sent, _ := f.mailer.Last("ada@example.com")
	assert.Equal(t, "222222", sent.Code)
	assert.Equal(t, mail.PurposeLogin, sent.Purpose)

	_, err := f.svc.VerifyLoginOtp(ctx, "ada@example.com", "111111")
	assert.ErrorIs(t, err, ErrInvalidOTP)

	session, err := f.svc.VerifyLoginOtp(ctx, "ada@example.com", "222222")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", session.User.Email)

	_, err = f.svc.VerifyLoginOtp(ctx, "ada@example.com", "222222")
	assert.ErrorIs(t, err, ErrInvalidOTP, "login code is single use")
}

func TestAuthService_VerifyLoginOtpErrors(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	_, err := f.svc.VerifyLoginOtp(ctx, "nobody@example.com", "123456")
	assert.ErrorIs(t, err, ErrNotFound)

	code := f.register(t, "ada@example.com")
	_, err = f.svc.VerifyLoginOtp(ctx, "ada@example.com", code)
	assert.ErrorIs(t, err, ErrNotVerified)
}

func TestAuthService_Me(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, AuthConfig{})
	ctx := context.Background()

	session := f.registerVerified(t, "ada@example.com")

	profile, err := f.svc.Me(ctx, session.User.ID)
	require.NoError(t, err)
	assert.Equal(t, session.User, profile)

	_, err = f.svc.Me(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// Failure paths with mocked collaborators
// ============================================================================

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) CreateUser(ctx context.Context, user *model.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*model.User)
	return user, args.Error(1)
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*model.User)
	return user, args.Error(1)
}

func (m *mockUserStore) GetUserByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	args := m.Called(ctx, googleID)
	user, _ := args.Get(0).(*model.User)
	return user, args.Error(1)
}

func (m *mockUserStore) SetOTP(ctx context.Context, userID, otpHash string, expiresAt time.Time) error {
	return m.Called(ctx, userID, otpHash, expiresAt).Error(0)
}

func (m *mockUserStore) ConsumeOTP(ctx context.Context, userID, otpHash string, now time.Time, verify bool) (*model.User, error) {
	args := m.Called(ctx, userID, otpHash, now, verify)
	user, _ := args.Get(0).(*model.User)
	return user, args.Error(1)
}

func (m *mockUserStore) LinkGoogleID(ctx context.Context, userID, googleID string, emailVerified bool) (*model.User, error) {
	args := m.Called(ctx, userID, googleID, emailVerified)
	user, _ := args.Get(0).(*model.User)
	return user, args.Error(1)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) EnqueueOTP(ctx context.Context, email, name, code, purpose string, ttl time.Duration) error {
	return m.Called(ctx, email, name, code, purpose, ttl).Error(0)
}

func TestAuthService_RegisterStoreFailure(t *testing.T) {
	t.Parallel()

	dbErr := errors.New("connection reset")
	users := &mockUserStore{}
	users.On("GetUserByEmail", mock.Anything, "ada@example.com").Return(nil, dbErr)
	mailer := &mockMailer{}

	svc := NewAuthService(users, mailer, auth.NewTokenIssuer([]byte(testSecret), 0), AuthConfig{}, discardLogger(), nil)

	err := svc.Register(context.Background(), "Ada", "ada@example.com", "Secret123!")
	require.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrConflict)
	mailer.AssertNotCalled(t, "EnqueueOTP", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthService_RegisterRaceMapsToConflict(t *testing.T) {
	t.Parallel()

	users := &mockUserStore{}
	users.On("GetUserByEmail", mock.Anything, "ada@example.com").Return(nil, repository.ErrUserNotFound)
	users.On("CreateUser", mock.Anything, mock.AnythingOfType("*model.User")).Return(repository.ErrEmailExists)

	svc := NewAuthService(users, &mockMailer{}, auth.NewTokenIssuer([]byte(testSecret), 0), AuthConfig{}, discardLogger(), nil)

	err := svc.Register(context.Background(), "Ada", "ada@example.com", "Secret123!")
	assert.ErrorIs(t, err, ErrConflict)
	users.AssertExpectations(t)
}

func TestAuthService_RegisterMailFailure(t *testing.T) {
	t.Parallel()

	users := &mockUserStore{}
	users.On("GetUserByEmail", mock.Anything, "ada@example.com").Return(nil, repository.ErrUserNotFound)
	users.On("CreateUser", mock.Anything, mock.AnythingOfType("*model.User")).Return(nil)

	mailErr := errors.New("redis down")
	mailer := &mockMailer{}
	mailer.On("EnqueueOTP", mock.Anything, "ada@example.com", "Ada", mock.AnythingOfType("string"), mail.PurposeSignup, DefaultOTPTTL).Return(mailErr)

	svc := NewAuthService(users, mailer, auth.NewTokenIssuer([]byte(testSecret), 0), AuthConfig{}, discardLogger(), nil)

	err := svc.Register(context.Background(), "Ada", "ada@example.com", "Secret123!")
	assert.ErrorIs(t, err, mailErr)
	mailer.AssertExpectations(t)
}

func TestAuthService_ConsumeRaceMapsToInvalidOTP(t *testing.T) {
	t.Parallel()

	expires := time.Now().Add(time.Minute)
	user := &model.User{
		ID:           newID(),
		Email:        "ada@example.com",
		PasswordHash: "x",
		OTPHash:      auth.HashOTP("123456"),
		OTPExpiresAt: &expires,
	}

	users := &mockUserStore{}
	users.On("GetUserByEmail", mock.Anything, "ada@example.com").Return(user, nil)
	users.On("ConsumeOTP", mock.Anything, user.ID, user.OTPHash, mock.AnythingOfType("time.Time"), true).
		Return(nil, repository.ErrOTPMismatch)

	svc := NewAuthService(users, &mockMailer{}, auth.NewTokenIssuer([]byte(testSecret), 0), AuthConfig{}, discardLogger(), nil)

	_, err := svc.VerifySignupOtp(context.Background(), "ada@example.com", "123456")
	assert.ErrorIs(t, err, ErrInvalidOTP)
	users.AssertExpectations(t)
}
