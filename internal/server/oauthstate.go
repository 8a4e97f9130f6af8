package server

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

const oauthStateTTL = 10 * time.Minute

type oauthState struct {
	email     string
	shop      string
	expiresAt time.Time
}

// OAuthStateStore holds short-lived, single-use OAuth state values in memory.
// States are small and expire quickly, so they don't need to survive restarts.
type OAuthStateStore struct {
	mu     sync.Mutex
	states map[string]oauthState
}

// NewOAuthStateStore creates an empty state store.
func NewOAuthStateStore() *OAuthStateStore {
	return &OAuthStateStore{states: make(map[string]oauthState)}
}

// Issue mints a state value binding the flow to a user and shop.
func (s *OAuthStateStore) Issue(email, shop string) string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	state := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	s.states[state] = oauthState{
		email:     email,
		shop:      shop,
		expiresAt: time.Now().Add(oauthStateTTL),
	}
	return state
}

// Consume validates a state value and removes it. Returns the bound email
// and shop; ok is false for unknown, reused or expired states.
func (s *OAuthStateStore) Consume(state string) (email, shop string, ok bool) {
	if state == "" {
		return "", "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, found := s.states[state]
	if !found {
		return "", "", false
	}
	delete(s.states, state)
	if time.Now().After(st.expiresAt) {
		return "", "", false
	}
	return st.email, st.shop, true
}

func (s *OAuthStateStore) prune() {
	now := time.Now()
	for k, st := range s.states {
		if now.After(st.expiresAt) {
			delete(s.states, k)
		}
	}
}
