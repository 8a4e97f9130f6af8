package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hanno-ai/hanno/internal/email"
	"github.com/hanno-ai/hanno/internal/gate"
	"github.com/hanno-ai/hanno/internal/session"
	"github.com/hanno-ai/hanno/internal/store"
)

// Handlers implements the magic-link login flow: request a link, verify it,
// establish a session, log out.
type Handlers struct {
	Tokens        *TokenStore
	Issuer        *session.Issuer
	Users         *store.Store
	Sender        email.Sender
	BaseURL       string
	SecureCookies bool
}

type loginRequest struct {
	Email string `json:"email"`
	Next  string `json:"next"`
}

// HandleLoginRequest accepts an email address and sends a sign-in link. The
// response is identical whether or not the address is known, so the endpoint
// cannot be used to enumerate accounts.
func (h *Handlers) HandleLoginRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	addr := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(addr); err != nil || addr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "A valid email address is required"})
		return
	}
	normalized := store.NormalizeEmail(addr)

	token, err := h.Tokens.Generate(normalized, gate.SafeNext(req.Next))
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate magic link token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Unable to send sign-in link"})
		return
	}

	link := fmt.Sprintf("%s/api/auth/verify?token=%s", strings.TrimRight(h.BaseURL, "/"), url.QueryEscape(token))

	// Send asynchronously so a slow provider cannot reveal, via response
	// latency, whether an email was actually dispatched.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := h.Sender.SendMagicLink(ctx, normalized, link); err != nil {
			log.Error().Err(err).Msg("Failed to send magic link email")
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If that address exists, a sign-in link is on its way",
	})
}

// HandleVerify consumes a magic link token, establishes the session and
// redirects into the app. Failures bounce back to the login page with a
// generic error marker.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tokenStr := strings.TrimSpace(r.URL.Query().Get("token"))
	if tokenStr == "" {
		http.Redirect(w, r, "/login?error=invalid_link", http.StatusFound)
		return
	}

	rec, err := h.Tokens.Consume(tokenStr, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("Magic link verification failed")
		http.Redirect(w, r, "/login?error=invalid_link", http.StatusFound)
		return
	}

	token, sess, err := h.Issuer.Issue(r.Context(), rec.Email)
	if err != nil {
		log.Error().Err(err).Str("email", rec.Email).Msg("Failed to issue session after magic link")
		http.Redirect(w, r, "/login?error=invalid_link", http.StatusFound)
		return
	}
	if err := h.Users.TouchLogin(r.Context(), rec.Email); err != nil {
		log.Warn().Err(err).Msg("Failed to record login time")
	}

	gate.SetSessionCookie(w, token, sess.ExpiresAt, h.SecureCookies)
	log.Info().Str("email", rec.Email).Msg("User signed in via magic link")
	http.Redirect(w, r, gate.SafeNext(rec.Next), http.StatusFound)
}

// HandleLogout clears the session cookie.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	gate.ClearSessionCookie(w, h.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out"})
}

// HandleSession reports the current session state for the frontend. It sits
// under /api/auth so it answers without a session too.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	sess, err := h.Issuer.Verify(cookie.Value)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"email":         sess.Email,
		"plan":          sess.Subscription.Plan,
		"status":        sess.Subscription.Status,
		"entitled":      sess.Subscription.Entitled(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
