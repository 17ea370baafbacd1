// Package middleware provides HTTP middleware for the web server.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const sessionKey ContextKey = "session"

// SessionCookie is the name of the session cookie.
const SessionCookie = "chat_session"

// Session is the identity carried by the session cookie.
type Session struct {
	Username       string
	UserID         int64
	ConversationID int64
}

// sessionClaims is the JWT payload backing a session.
type sessionClaims struct {
	jwt.RegisteredClaims
	Username       string `json:"username"`
	UserID         int64  `json:"user_id"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

// SessionManager signs and verifies session cookies.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionManager creates a session manager.
func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	return &SessionManager{secret: []byte(secret), ttl: ttl}
}

// Issue writes a signed session cookie for s.
func (m *SessionManager) Issue(w http.ResponseWriter, s *Session) error {
	now := time.Now()
	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Username:       s.Username,
		UserID:         s.UserID,
		ConversationID: s.ConversationID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Decode parses the session cookie on r, returning nil when absent or
// invalid.
func (m *SessionManager) Decode(r *http.Request) *Session {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}

	return &Session{
		Username:       claims.Username,
		UserID:         claims.UserID,
		ConversationID: claims.ConversationID,
	}
}

// RequireUser decodes the session cookie and rejects requests without a
// valid one: browser page loads are redirected to the login form, other
// requests get an unauthorized status.
func (m *SessionManager) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := m.Decode(r)
		if session == nil {
			if r.Method == http.MethodGet {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			http.Error(w, `{"error":"not signed in"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession returns the session stored in ctx, or nil.
func GetSession(ctx context.Context) *Session {
	if v := ctx.Value(sessionKey); v != nil {
		return v.(*Session)
	}
	return nil
}
