package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notely/notely/internal/model"
	"github.com/notely/notely/internal/oauth"
)

const failureRedirect = testFrontend + "/signin?error=google_auth_failed"

// startGoogle begins the flow and returns the state the provider would echo.
func startGoogle(t *testing.T, app *testApp) string {
	t.Helper()
	rec := app.do(t, http.MethodGet, "/api/auth/google", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", loc.Host)

	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestGoogle_Disabled(t *testing.T) {
	app := newTestApp(t, appOptions{googleDisabled: true})

	for _, path := range []string{"/api/auth/google", "/api/auth/google/callback?code=x&state=y"} {
		rec := app.do(t, http.MethodGet, path, "", nil)
		assertError(t, rec, http.StatusServiceUnavailable, "GOOGLE_DISABLED", "")
	}
}

func TestGoogle_CallbackSuccess(t *testing.T) {
	app := newTestApp(t)
	app.provider.profile = &oauth.Profile{ID: "g-42", Email: "Grace@Example.com", Name: "Grace Hopper", EmailVerified: true}

	state := startGoogle(t, app)

	rec := app.do(t, http.MethodGet, "/api/auth/google/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:5173", loc.Host)
	assert.Equal(t, "/auth/google/callback", loc.Path)
	assert.Equal(t, "Grace Hopper", loc.Query().Get("name"))
	assert.Equal(t, "grace@example.com", loc.Query().Get("email"))

	token := loc.Query().Get("token")
	require.NotEmpty(t, token)

	me := app.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, me.Code)

	// The state was consumed.
	rec = app.do(t, http.MethodGet, "/api/auth/google/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, failureRedirect, rec.Header().Get("Location"))
}

func TestGoogle_CallbackFailures(t *testing.T) {
	tests := []struct {
		name  string
		query func(state string) string
		setup func(app *testApp)
	}{
		{
			name:  "provider error",
			query: func(state string) string { return "error=access_denied&state=" + url.QueryEscape(state) },
		},
		{
			name:  "unknown state",
			query: func(string) string { return "code=abc&state=forged" },
		},
		{
			name:  "missing code",
			query: func(state string) string { return "state=" + url.QueryEscape(state) },
		},
		{
			name:  "exchange failure",
			query: func(state string) string { return "code=abc&state=" + url.QueryEscape(state) },
			setup: func(app *testApp) { app.provider.err = errors.New("oauth2: invalid_grant") },
		},
		{
			name:  "unverified email matches existing account",
			query: func(state string) string { return "code=abc&state=" + url.QueryEscape(state) },
			setup: func(app *testApp) {
				_ = app.store.CreateUser(context.Background(), &model.User{ID: "01HZUSER00000000000000000X", Name: "X", Email: "x@example.com", PasswordHash: "hash", Verified: true})
				app.provider.profile.EmailVerified = false
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			app.provider.profile = &oauth.Profile{ID: "g-1", Email: "x@example.com", Name: "X", EmailVerified: true}
			if tt.setup != nil {
				tt.setup(app)
			}

			state := startGoogle(t, app)
			rec := app.do(t, http.MethodGet, "/api/auth/google/callback?"+tt.query(state), "", nil)

			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, failureRedirect, rec.Header().Get("Location"))
		})
	}
}
