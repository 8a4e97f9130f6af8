package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hanno-ai/hanno/internal/metrics"
	"github.com/hanno-ai/hanno/internal/session"
)

// SessionSource verifies session cookies and refreshes stale subscription
// snapshots. Satisfied by *session.Issuer.
type SessionSource interface {
	Verify(token string) (*session.Session, error)
	Refresh(ctx context.Context, sess *session.Session) (string, *session.Session, bool)
}

// Middleware enforces route protection ahead of the mux. It classifies the
// path, resolves the session (refreshing the subscription snapshot when
// stale), and applies the access decision before next ever sees the request.
func Middleware(sessions SessionSource, secureCookies bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := Classify(r.URL.Path)

		sess := resolveSession(w, r, sessions, secureCookies)
		decision := Decide(class, r.URL.Path, sess)
		metrics.AccessDecisionsTotal.WithLabelValues(string(class), string(decision.Kind)).Inc()

		switch decision.Kind {
		case DecisionReject:
			writeUnauthorized(w)
			return
		case DecisionRedirectLogin, DecisionRedirectUpgrade, DecisionRedirectHome:
			log.Debug().
				Str("path", r.URL.Path).
				Str("class", string(class)).
				Str("decision", string(decision.Kind)).
				Msg("Redirecting request")
			http.Redirect(w, r, decision.Target, http.StatusFound)
			return
		}

		if sess != nil {
			r = r.WithContext(session.WithSession(r.Context(), sess))
		}
		next.ServeHTTP(w, r)
	})
}

// resolveSession verifies the session cookie and refreshes the embedded
// subscription snapshot when it has gone stale. Invalid or missing cookies
// yield nil (anonymous). A refreshed token is re-set on the response so the
// browser carries the newer snapshot forward.
func resolveSession(w http.ResponseWriter, r *http.Request, sessions SessionSource, secure bool) *session.Session {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	sess, err := sessions.Verify(cookie.Value)
	if err != nil {
		return nil
	}

	token, refreshed, changed := sessions.Refresh(r.Context(), sess)
	if changed {
		SetSessionCookie(w, token, refreshed.ExpiresAt, secure)
		return refreshed
	}
	return sess
}

// SetSessionCookie writes the session cookie with the attributes every
// issuance path shares.
func SetSessionCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
