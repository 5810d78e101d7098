package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// newTokenServer fakes the provider token endpoint. Each response string is
// served in order; a leading "ERR:" prefix turns it into that HTTP status.
func newTokenServer(t *testing.T, calls *atomic.Int64, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		handler(w, r)
	}))
}

func newTestManager(tokenURL string) *Manager {
	m := NewManager(ManagerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokenURL,
	})
	m.now = fixedNow
	return m
}

func TestEnsureValidFreshUnchanged(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		t.Error("fresh credential must not trigger a network call")
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	cred := Credential{
		AccessToken:  "A",
		RefreshToken: "R",
		ExpiresAt:    fixedNow().Add(time.Hour),
		GrantedScope: "openid email",
	}

	got := m.EnsureValid(context.Background(), "sess1", cred)

	assert.Equal(t, cred, got)
	assert.Equal(t, int64(0), calls.Load())
}

func TestEnsureValidErroredUnchanged(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		t.Error("errored credential must not trigger a network call")
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	cred := Credential{
		RefreshToken: "R",
		LastError:    RefreshAccessTokenError,
	}

	got := m.EnsureValid(context.Background(), "sess1", cred)

	assert.Equal(t, cred, got)
	assert.Equal(t, int64(0), calls.Load())
}

func TestEnsureValidNoRefreshToken(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		t.Error("missing refresh token must not trigger a network call")
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	cred := Credential{
		AccessToken:  "expired",
		ExpiresAt:    fixedNow().Add(-time.Minute),
		GrantedScope: "openid email",
	}

	// The outcome is deterministic across retries.
	for i := 0; i < 3; i++ {
		got := m.EnsureValid(context.Background(), fmt.Sprintf("sess%d", i), cred)
		assert.Empty(t, got.AccessToken)
		assert.Equal(t, RefreshTokenNotAvailable, got.LastError)
		assert.Equal(t, StateErrored, got.State(fixedNow()))
		// Scope metadata survives for the permission-grant flow.
		assert.Equal(t, "openid email", got.GrantedScope)
	}
	assert.Equal(t, int64(0), calls.Load())
}

func TestEnsureValidRefreshSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client-id", r.Form.Get("client_id"))
		assert.Equal(t, "client-secret", r.Form.Get("client_secret"))
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "R", r.Form.Get("refresh_token"))
		fmt.Fprint(w, `{"access_token":"new-access","expires_in":3600}`)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	cred := Credential{
		AccessToken:  "old-access",
		RefreshToken: "R",
		ExpiresAt:    fixedNow().Add(-time.Minute),
		GrantedScope: "openid email",
	}

	got := m.EnsureValid(context.Background(), "sess1", cred)

	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, fixedNow().Add(time.Hour), got.ExpiresAt)
	// No rotated refresh token in the response keeps the old one.
	assert.Equal(t, "R", got.RefreshToken)
	assert.Equal(t, RefreshErrorNone, got.LastError)
	assert.Equal(t, "openid email", got.GrantedScope)
	assert.Equal(t, int64(1), calls.Load())
}

func TestEnsureValidRefreshRotation(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"new-access","expires_in":3600,"refresh_token":"R2"}`)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	cred := Credential{
		RefreshToken: "R1",
		ExpiresAt:    fixedNow().Add(-time.Minute),
	}

	got := m.EnsureValid(context.Background(), "sess1", cred)

	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "R2", got.RefreshToken)
}

func TestEnsureValidRefreshRejected(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	cred := Credential{
		AccessToken:  "old-access",
		RefreshToken: "R",
		ExpiresAt:    fixedNow().Add(-time.Minute),
		GrantedScope: "openid email",
	}

	got := m.EnsureValid(context.Background(), "sess1", cred)

	// Both tokens are cleared; a half-valid credential must not survive.
	assert.Empty(t, got.AccessToken)
	assert.Empty(t, got.RefreshToken)
	assert.Equal(t, RefreshAccessTokenError, got.LastError)
	assert.Equal(t, StateErrored, got.State(fixedNow()))
	assert.Equal(t, "openid email", got.GrantedScope)
}

func TestEnsureValidTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	m := newTestManager(srv.URL)
	cred := Credential{
		RefreshToken: "R",
		ExpiresAt:    fixedNow().Add(-time.Minute),
	}

	got := m.EnsureValid(context.Background(), "sess1", cred)

	assert.Empty(t, got.AccessToken)
	assert.Empty(t, got.RefreshToken)
	assert.Equal(t, RefreshAccessTokenError, got.LastError)
}

func TestEnsureValidTimeout(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"access_token":"late","expires_in":3600}`)
	})
	defer srv.Close()

	m := NewManager(ManagerConfig{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		TokenURL:       srv.URL,
		RefreshTimeout: 20 * time.Millisecond,
	})
	m.now = fixedNow

	cred := Credential{
		RefreshToken: "R",
		ExpiresAt:    fixedNow().Add(-time.Minute),
	}

	got := m.EnsureValid(context.Background(), "sess1", cred)

	assert.Empty(t, got.AccessToken)
	assert.Equal(t, RefreshAccessTokenError, got.LastError)
}

func TestEnsureValidSerializesPerSession(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"access_token":"shared","expires_in":3600}`)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	cred := Credential{
		RefreshToken: "R",
		ExpiresAt:    fixedNow().Add(-time.Minute),
	}

	const workers = 8
	results := make([]Credential, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.EnsureValid(context.Background(), "sess1", cred)
		}(i)
	}

	// Give the workers time to pile up behind the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent calls for one session must share a single refresh")
	for _, got := range results {
		assert.Equal(t, "shared", got.AccessToken)
		assert.Equal(t, RefreshErrorNone, got.LastError)
	}
}

func TestEnsureValidDistinctSessionsDoNotShare(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"fresh","expires_in":3600}`)
	})
	defer srv.Close()

	m := newTestManager(srv.URL)
	cred := Credential{
		RefreshToken: "R",
		ExpiresAt:    fixedNow().Add(-time.Minute),
	}

	m.EnsureValid(context.Background(), "sess1", cred)
	m.EnsureValid(context.Background(), "sess2", cred)

	assert.Equal(t, int64(2), calls.Load())
}
