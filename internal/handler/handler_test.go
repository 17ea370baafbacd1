package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeremySu0818/GeminiAPIChat/internal/middleware"
	"github.com/JeremySu0818/GeminiAPIChat/internal/model"
	"github.com/JeremySu0818/GeminiAPIChat/internal/modelscan"
	"github.com/JeremySu0818/GeminiAPIChat/internal/store"
	"github.com/JeremySu0818/GeminiAPIChat/internal/web"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
)

type testEnv struct {
	store    *store.Store
	sessions *middleware.SessionManager
	renderer *web.Renderer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "chat_data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	renderer, err := web.NewRenderer(logger.NewNop())
	require.NoError(t, err)

	return &testEnv{
		store:    st,
		sessions: middleware.NewSessionManager("test-secret", time.Hour),
		renderer: renderer,
	}
}

// signIn issues a session cookie for the user and returns it.
func (e *testEnv) signIn(t *testing.T, session *middleware.Session) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	require.NoError(t, e.sessions.Issue(rec, session))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestModelStatusDefaultsToIdle(t *testing.T) {
	scanner := modelscan.New(t.TempDir(), nil, "gemini-2.5-flash", time.Second, logger.NewNop())
	h := NewModelHandler(scanner)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/models/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var status modelscan.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, modelscan.StateIdle, status.State)
	assert.False(t, status.HasCache)
}

func TestRequireUserContracts(t *testing.T) {
	env := newTestEnv(t)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(env.sessions.RequireUser)
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Post("/chat", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginIssuesSessionAndRedirects(t *testing.T) {
	env := newTestEnv(t)
	h := NewAuthHandler(env.store, env.sessions, env.renderer, logger.NewNop())

	form := url.Values{"username": {"alice"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h.LoginSubmit(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	verify := httptest.NewRequest(http.MethodGet, "/", nil)
	verify.AddCookie(cookies[0])
	session := env.sessions.Decode(verify)
	require.NotNil(t, session)
	assert.Equal(t, "alice", session.Username)
	assert.NotZero(t, session.UserID)
}

func TestLoginRejectsBlankUsername(t *testing.T) {
	env := newTestEnv(t)
	h := NewAuthHandler(env.store, env.sessions, env.renderer, logger.NewNop())

	form := url.Values{"username": {"   "}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h.LoginSubmit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestConversationOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)
	h := NewConversationHandler(env.store, env.sessions, env.renderer, logger.NewNop())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(env.sessions.RequireUser)
		r.Get("/conversation/{id}", h.Show)
		r.Delete("/conversation/{id}", h.Delete)
	})

	aliceID, err := env.store.GetOrCreateUser("alice")
	require.NoError(t, err)
	bobID, err := env.store.GetOrCreateUser("bob")
	require.NoError(t, err)

	convID, err := env.store.CreateConversation(bobID, model.DefaultTitle)
	require.NoError(t, err)
	target := "/conversation/" + strconv.FormatInt(convID, 10)

	// Alice cannot see or delete Bob's conversation.
	aliceCookie := env.signIn(t, &middleware.Session{Username: "alice", UserID: aliceID})
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req := httptest.NewRequest(method, target, nil)
		req.AddCookie(aliceCookie)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, method)
	}

	// Bob can delete it.
	bobCookie := env.signIn(t, &middleware.Session{Username: "bob", UserID: bobID})
	req := httptest.NewRequest(http.MethodDelete, target, nil)
	req.AddCookie(bobCookie)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	conv, err := env.store.GetConversation(convID)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestDeleteActiveConversationRedirectsHome(t *testing.T) {
	env := newTestEnv(t)
	h := NewConversationHandler(env.store, env.sessions, env.renderer, logger.NewNop())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(env.sessions.RequireUser)
		r.Delete("/conversation/{id}", h.Delete)
	})

	userID, err := env.store.GetOrCreateUser("alice")
	require.NoError(t, err)
	convID, err := env.store.CreateConversation(userID, model.DefaultTitle)
	require.NoError(t, err)

	cookie := env.signIn(t, &middleware.Session{Username: "alice", UserID: userID, ConversationID: convID})
	req := httptest.NewRequest(http.MethodDelete, "/conversation/"+strconv.FormatInt(convID, 10), nil)
	req.AddCookie(cookie)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestShowRejectsBadCursor(t *testing.T) {
	env := newTestEnv(t)
	h := NewConversationHandler(env.store, env.sessions, env.renderer, logger.NewNop())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(env.sessions.RequireUser)
		r.Get("/conversation/{id}", h.Show)
	})

	userID, err := env.store.GetOrCreateUser("alice")
	require.NoError(t, err)
	convID, err := env.store.CreateConversation(userID, model.DefaultTitle)
	require.NoError(t, err)

	cookie := env.signIn(t, &middleware.Session{Username: "alice", UserID: userID})
	req := httptest.NewRequest(http.MethodGet, "/conversation/"+strconv.FormatInt(convID, 10)+"?before=yesterday", nil)
	req.AddCookie(cookie)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
