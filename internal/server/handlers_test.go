package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notably/notably/internal/auth"
	"github.com/notably/notably/internal/calendar"
	"github.com/notably/notably/internal/gmail"
	"github.com/notably/notably/internal/google"
	"github.com/notably/notably/internal/notes"
)

type fakeMailService struct {
	result  *gmail.FetchResult
	err     error
	calls   int
	lastMax int64
}

func (f *fakeMailService) ListAndFetch(ctx context.Context, maxResults int64) (*gmail.FetchResult, error) {
	f.calls++
	f.lastMax = maxResults
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeCalendarService struct {
	result *calendar.EventResult
	err    error
	note   notes.Note
}

func (f *fakeCalendarService) CreateReminderEvent(ctx context.Context, note notes.Note) (*calendar.EventResult, error) {
	f.note = note
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testEnv struct {
	app      *App
	sessions *SessionStore
	notes    *notes.MemoryStore
	mail     *fakeMailService
	calendar *fakeCalendarService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sessions := NewSessionStore(SessionStoreConfig{TTL: time.Hour})
	t.Cleanup(sessions.Close)
	store := notes.NewMemoryStore()
	mail := &fakeMailService{result: &gmail.FetchResult{Messages: []gmail.EmailMessage{}}}
	cal := &fakeCalendarService{result: &calendar.EventResult{EventID: "evt1", EventLink: "https://calendar.google.com/evt1"}}

	// The token endpoint is never reached: test credentials are either
	// fresh or already errored.
	manager := auth.NewManager(auth.ManagerConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     "http://127.0.0.1:1/token",
	})

	app := NewApp(AppConfig{
		Manager:   manager,
		Sessions:  sessions,
		Notes:     store,
		OAuthConf: google.OAuthConfig("id", "secret", "http://localhost/auth/callback"),
		NewMailClient: func(ctx context.Context, accessToken string) (mailService, error) {
			return mail, nil
		},
		NewCalendarClient: func(ctx context.Context, accessToken string) (calendarService, error) {
			return cal, nil
		},
	})

	return &testEnv{app: app, sessions: sessions, notes: store, mail: mail, calendar: cal}
}

func (e *testEnv) signIn(t *testing.T, cred auth.Credential) *http.Cookie {
	t.Helper()
	id, err := e.sessions.Create(cred)
	require.NoError(t, err)
	return &http.Cookie{Name: SessionCookieName, Value: id}
}

func freshCredential() auth.Credential {
	return auth.Credential{
		AccessToken:  "A",
		RefreshToken: "R",
		ExpiresAt:    time.Now().Add(time.Hour),
		GrantedScope: "openid email " + google.CalendarScope + " " + google.GmailReadonlyScope,
	}
}

func doRequest(handler http.HandlerFunc, method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleSession(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no session", func(t *testing.T) {
		w := doRequest(env.app.handleSession, http.MethodGet, "/api/session", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, ActionSignin, decodeError(t, w).Action)
	})

	t.Run("fresh session", func(t *testing.T) {
		cookie := env.signIn(t, freshCredential())
		w := doRequest(env.app.handleSession, http.MethodGet, "/api/session", "", cookie)
		require.Equal(t, http.StatusOK, w.Code)

		var view auth.SessionView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, "A", view.AccessToken)
		assert.True(t, view.HasGmailAccess)
		assert.Empty(t, view.Error)
	})

	t.Run("errored session surfaces the error", func(t *testing.T) {
		cookie := env.signIn(t, auth.Credential{
			GrantedScope: "openid email",
			LastError:    auth.RefreshAccessTokenError,
		})
		w := doRequest(env.app.handleSession, http.MethodGet, "/api/session", "", cookie)
		require.Equal(t, http.StatusOK, w.Code)

		var view auth.SessionView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, "RefreshAccessTokenError", view.Error)
		assert.False(t, view.HasGmailAccess)
	})
}

func TestHandleMail(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		env := newTestEnv(t)
		w := doRequest(env.app.handleMail, http.MethodGet, "/api/mail", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, ActionSignin, decodeError(t, w).Action)
		assert.Zero(t, env.mail.calls)
	})

	t.Run("errored credential forces reauthentication", func(t *testing.T) {
		env := newTestEnv(t)
		cookie := env.signIn(t, auth.Credential{
			GrantedScope: "openid email " + google.GmailReadonlyScope,
			LastError:    auth.RefreshTokenNotAvailable,
		})
		w := doRequest(env.app.handleMail, http.MethodGet, "/api/mail", "", cookie)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "RefreshTokenNotAvailable", resp.Error)
		assert.Equal(t, ActionReauthenticate, resp.Action)
		assert.Zero(t, env.mail.calls)
	})

	t.Run("missing gmail scope", func(t *testing.T) {
		env := newTestEnv(t)
		cred := freshCredential()
		cred.GrantedScope = "openid email " + google.CalendarScope
		cookie := env.signIn(t, cred)

		w := doRequest(env.app.handleMail, http.MethodGet, "/api/mail", "", cookie)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, ActionGmailPermission, decodeError(t, w).Action)
		assert.Zero(t, env.mail.calls)
	})

	t.Run("success with partial failures", func(t *testing.T) {
		env := newTestEnv(t)
		env.mail.result = &gmail.FetchResult{
			Messages: []gmail.EmailMessage{{ID: "m1", Subject: "hello"}},
			Failed:   2,
		}
		cookie := env.signIn(t, freshCredential())

		w := doRequest(env.app.handleMail, http.MethodGet, "/api/mail", "", cookie)
		require.Equal(t, http.StatusOK, w.Code)

		var result gmail.FetchResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Len(t, result.Messages, 1)
		assert.Equal(t, 2, result.Failed)
	})

	t.Run("max query parameter", func(t *testing.T) {
		env := newTestEnv(t)
		env.mail.result = &gmail.FetchResult{Messages: []gmail.EmailMessage{}}
		cookie := env.signIn(t, freshCredential())

		w := doRequest(env.app.handleMail, http.MethodGet, "/api/mail?max=3", "", cookie)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(3), env.mail.lastMax)

		// Values at or above the configured default are capped.
		w = doRequest(env.app.handleMail, http.MethodGet, "/api/mail?max=9999", "", cookie)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, env.app.maxMailResults, env.mail.lastMax)

		// Garbage falls back to the default.
		w = doRequest(env.app.handleMail, http.MethodGet, "/api/mail?max=-1", "", cookie)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, env.app.maxMailResults, env.mail.lastMax)
	})

	t.Run("provider 401", func(t *testing.T) {
		env := newTestEnv(t)
		env.mail.err = &gmail.AuthError{}
		cookie := env.signIn(t, freshCredential())

		w := doRequest(env.app.handleMail, http.MethodGet, "/api/mail", "", cookie)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, ActionReauthenticate, decodeError(t, w).Action)
	})

	t.Run("provider 403", func(t *testing.T) {
		env := newTestEnv(t)
		env.mail.err = &gmail.PermissionError{}
		cookie := env.signIn(t, freshCredential())

		w := doRequest(env.app.handleMail, http.MethodGet, "/api/mail", "", cookie)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, ActionGmailPermission, decodeError(t, w).Action)
	})

	t.Run("provider outage", func(t *testing.T) {
		env := newTestEnv(t)
		env.mail.err = &gmail.ProtocolError{Status: 503}
		cookie := env.signIn(t, freshCredential())

		w := doRequest(env.app.handleMail, http.MethodGet, "/api/mail", "", cookie)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandleCalendar(t *testing.T) {
	createNote := func(t *testing.T, env *testEnv, cookie *http.Cookie, note notes.Note) notes.Note {
		t.Helper()
		created, err := env.notes.Create(cookie.Value, note)
		require.NoError(t, err)
		return created
	}

	t.Run("creates reminder from note", func(t *testing.T) {
		env := newTestEnv(t)
		cookie := env.signIn(t, freshCredential())
		note := createNote(t, env, cookie, notes.Note{
			Title:        "dentist",
			ReminderDate: "2025-07-01",
			ReminderTime: "09:30",
		})

		w := doRequest(env.app.handleCalendar, http.MethodPost, "/api/calendar",
			`{"noteId":"`+note.ID+`"}`, cookie)
		require.Equal(t, http.StatusOK, w.Code)

		var result calendar.EventResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "evt1", result.EventID)
		assert.NotEmpty(t, result.EventLink)
		assert.Equal(t, "dentist", env.calendar.note.Title)
	})

	t.Run("unknown note", func(t *testing.T) {
		env := newTestEnv(t)
		cookie := env.signIn(t, freshCredential())

		w := doRequest(env.app.handleCalendar, http.MethodPost, "/api/calendar",
			`{"noteId":"nope"}`, cookie)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing note id", func(t *testing.T) {
		env := newTestEnv(t)
		cookie := env.signIn(t, freshCredential())

		w := doRequest(env.app.handleCalendar, http.MethodPost, "/api/calendar", `{}`, cookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("note without reminder", func(t *testing.T) {
		env := newTestEnv(t)
		env.calendar.err = &calendar.ValidationError{Field: "reminderDate"}
		cookie := env.signIn(t, freshCredential())
		note := createNote(t, env, cookie, notes.Note{Title: "no reminder"})

		w := doRequest(env.app.handleCalendar, http.MethodPost, "/api/calendar",
			`{"noteId":"`+note.ID+`"}`, cookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid reminder instant", func(t *testing.T) {
		env := newTestEnv(t)
		env.calendar.err = &calendar.InvalidDateTimeError{Value: "2024-02-30T10:00:00"}
		cookie := env.signIn(t, freshCredential())
		note := createNote(t, env, cookie, notes.Note{
			Title: "bad date", ReminderDate: "2024-02-30", ReminderTime: "10:00",
		})

		w := doRequest(env.app.handleCalendar, http.MethodPost, "/api/calendar",
			`{"noteId":"`+note.ID+`"}`, cookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("provider denies access", func(t *testing.T) {
		env := newTestEnv(t)
		env.calendar.err = &calendar.PermissionDeniedError{NeedsReauth: true}
		cookie := env.signIn(t, freshCredential())
		note := createNote(t, env, cookie, notes.Note{
			Title: "denied", ReminderDate: "2025-07-01", ReminderTime: "09:30",
		})

		w := doRequest(env.app.handleCalendar, http.MethodPost, "/api/calendar",
			`{"noteId":"`+note.ID+`"}`, cookie)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.True(t, decodeError(t, w).NeedsReauth)
	})

	t.Run("provider outage", func(t *testing.T) {
		env := newTestEnv(t)
		env.calendar.err = &calendar.UpstreamError{Status: 500}
		cookie := env.signIn(t, freshCredential())
		note := createNote(t, env, cookie, notes.Note{
			Title: "outage", ReminderDate: "2025-07-01", ReminderTime: "09:30",
		})

		w := doRequest(env.app.handleCalendar, http.MethodPost, "/api/calendar",
			`{"noteId":"`+note.ID+`"}`, cookie)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandleNotesCRUD(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, freshCredential())

	// Create
	w := doRequest(env.app.handleNotes, http.MethodPost, "/api/notes",
		`{"title":"groceries","content":"milk","reminderDate":"2025-07-01","reminderTime":"18:00"}`, cookie)
	require.Equal(t, http.StatusCreated, w.Code)
	var created notes.Note
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	// List
	w = doRequest(env.app.handleNotes, http.MethodGet, "/api/notes", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var list []notes.Note
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	// Get by ID
	w = doRequest(env.app.handleNoteByID, http.MethodGet, "/api/notes/"+created.ID, "", cookie)
	require.Equal(t, http.StatusOK, w.Code)

	// Update
	w = doRequest(env.app.handleNoteByID, http.MethodPut, "/api/notes/"+created.ID,
		`{"title":"groceries","content":"milk and eggs"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var updated notes.Note
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "milk and eggs", updated.Content)

	// Delete
	w = doRequest(env.app.handleNoteByID, http.MethodDelete, "/api/notes/"+created.ID, "", cookie)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(env.app.handleNoteByID, http.MethodGet, "/api/notes/"+created.ID, "", cookie)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleNotesRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	w := doRequest(env.app.handleNotes, http.MethodGet, "/api/notes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGateMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("mail page without session redirects to signin", func(t *testing.T) {
		env := newTestEnv(t)
		handler := env.app.withGate(next)

		req := httptest.NewRequest(http.MethodGet, "/mail/inbox", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/auth/signin?callbackUrl=%2Fmail%2Finbox", w.Header().Get("Location"))
	})

	t.Run("mail page with fresh credential is admitted", func(t *testing.T) {
		env := newTestEnv(t)
		handler := env.app.withGate(next)
		cookie := env.signIn(t, freshCredential())

		req := httptest.NewRequest(http.MethodGet, "/mail/inbox", nil)
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("mail page without gmail scope redirects to permission grant", func(t *testing.T) {
		env := newTestEnv(t)
		handler := env.app.withGate(next)
		cred := freshCredential()
		cred.GrantedScope = "openid email"
		cookie := env.signIn(t, cred)

		req := httptest.NewRequest(http.MethodGet, "/mail/inbox", nil)
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, GmailPermissionPath, w.Header().Get("Location"))
	})

	t.Run("api routes bypass the gate", func(t *testing.T) {
		env := newTestEnv(t)
		handler := env.app.withGate(next)

		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandleSignin(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(env.app.handleSignin, http.MethodGet, "/auth/signin?callbackUrl=/mail/inbox", "", nil)
	require.Equal(t, http.StatusFound, w.Code)

	location := w.Header().Get("Location")
	assert.Contains(t, location, "accounts.google.com")
	assert.Contains(t, location, "access_type=offline")
	assert.Contains(t, location, "prompt=consent")

	cookies := w.Result().Cookies()
	var state, callback string
	for _, c := range cookies {
		switch c.Name {
		case stateCookieName:
			state = c.Value
		case callbackCookieName:
			callback = c.Value
		}
	}
	assert.NotEmpty(t, state)
	assert.Contains(t, location, "state="+state)
	assert.Equal(t, "/mail/inbox", callback)
}

func TestHandleSigninRejectsExternalCallback(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(env.app.handleSignin, http.MethodGet,
		"/auth/signin?callbackUrl=https://evil.example.com/", "", nil)
	require.Equal(t, http.StatusFound, w.Code)

	for _, c := range w.Result().Cookies() {
		if c.Name == callbackCookieName {
			assert.Equal(t, "/", c.Value)
		}
	}
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "expected"})
	w := httptest.NewRecorder()
	env.app.handleCallback(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSignout(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, freshCredential())
	require.Equal(t, 1, env.sessions.Count())

	w := doRequest(env.app.handleSignout, http.MethodPost, "/auth/signout", "", cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, 0, env.sessions.Count())
}
