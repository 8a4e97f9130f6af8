package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/hanno-ai/hanno/internal/metrics"
	"github.com/hanno-ai/hanno/internal/store"
)

// CookieName is the session cookie the browser carries.
const CookieName = "hanno_session"

const (
	// DefaultTTL is how long an issued session token is valid.
	DefaultTTL = 30 * 24 * time.Hour
	// defaultSnapshotMaxAge bounds how stale the embedded subscription
	// snapshot may be before a request triggers a store re-read.
	defaultSnapshotMaxAge = 60 * time.Second
	// defaultStoreTimeout bounds the store read during a refresh so a slow
	// database cannot hang the request path.
	defaultStoreTimeout = 3 * time.Second
)

// ErrTokenInvalid covers every parse/verify failure: expired, malformed,
// wrong signature. Callers treat it the same as "no session".
var ErrTokenInvalid = errors.New("session token is invalid")

// Snapshot is the subscription state embedded in a session token. It is a
// copy taken at refresh time, eventually consistent with the user store.
type Snapshot struct {
	Plan             store.Plan               `json:"plan"`
	Status           store.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time               `json:"current_period_end,omitempty"`
	RefreshedAt      time.Time                `json:"refreshed_at"`
}

// Entitled reports whether the snapshot grants access to paid features.
// Only an active paid plan qualifies; pending does not.
func (s Snapshot) Entitled() bool {
	return s.Plan != store.PlanLite && s.Status == store.StatusActive
}

// Session is a decoded, verified session token.
type Session struct {
	UserID       string
	Email        string
	Subscription Snapshot
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

type claims struct {
	jwt.RegisteredClaims
	UserID       string   `json:"uid"`
	Subscription Snapshot `json:"subscription"`
}

// UserSource is the slice of the user store the issuer needs.
type UserSource interface {
	EnsureUser(ctx context.Context, email string) (*store.User, error)
	GetByEmail(ctx context.Context, email string) (*store.User, error)
}

// Issuer creates and refreshes signed session tokens.
type Issuer struct {
	secret         []byte
	users          UserSource
	ttl            time.Duration
	snapshotMaxAge time.Duration
	storeTimeout   time.Duration
	now            func() time.Time
}

// NewIssuer creates an issuer signing with secret and reading subscription
// state from users.
func NewIssuer(secret []byte, users UserSource) *Issuer {
	return &Issuer{
		secret:         secret,
		users:          users,
		ttl:            DefaultTTL,
		snapshotMaxAge: defaultSnapshotMaxAge,
		storeTimeout:   defaultStoreTimeout,
		now:            time.Now,
	}
}

// Issue creates a session token for email at login time. The user record is
// created with the lite default on first login. A store failure embeds the
// lite default rather than failing the login outright.
func (i *Issuer) Issue(ctx context.Context, email string) (string, *Session, error) {
	email = store.NormalizeEmail(email)
	if email == "" {
		return "", nil, fmt.Errorf("email is required")
	}

	now := i.now().UTC()
	snapshot := Snapshot{Plan: store.PlanLite, Status: store.StatusActive, RefreshedAt: now}
	userID := ""

	readCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()
	user, err := i.users.EnsureUser(readCtx, email)
	if err != nil {
		metrics.SnapshotRefreshFailures.Inc()
		log.Warn().Err(err).Str("email", email).
			Msg("Subscription store unreachable at login, issuing lite snapshot")
	} else if user != nil {
		userID = user.ID
		snapshot = snapshotFromUser(user, now)
	}

	sess := &Session{
		UserID:       userID,
		Email:        email,
		Subscription: snapshot,
		IssuedAt:     now,
		ExpiresAt:    now.Add(i.ttl),
	}
	token, err := i.sign(sess)
	if err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Verify parses and validates a token string. Any failure, including expiry,
// returns ErrTokenInvalid so callers can treat the request as anonymous.
func (i *Issuer) Verify(tokenStr string) (*Session, error) {
	if tokenStr == "" {
		return nil, ErrTokenInvalid
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if c.Subject == "" || c.ExpiresAt == nil || c.IssuedAt == nil {
		return nil, ErrTokenInvalid
	}

	// Normalize at the deserialization boundary; a tampered or legacy
	// payload degrades to lite/canceled, never to an unknown state.
	return &Session{
		UserID: c.UserID,
		Email:  store.NormalizeEmail(c.Subject),
		Subscription: Snapshot{
			Plan:             store.NormalizePlan(string(c.Subscription.Plan)),
			Status:           store.NormalizeStatus(string(c.Subscription.Status)),
			CurrentPeriodEnd: c.Subscription.CurrentPeriodEnd,
			RefreshedAt:      c.Subscription.RefreshedAt,
		},
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Refresh re-reads the subscription snapshot when it has aged past the
// refresh window, returning a re-signed token. If the store is unreachable
// the last-known snapshot is kept (fail closed: degradation can never grant
// an entitlement the store did not confirm). The boolean reports whether a
// new token was produced.
func (i *Issuer) Refresh(ctx context.Context, sess *Session) (string, *Session, bool) {
	if sess == nil {
		return "", nil, false
	}
	now := i.now().UTC()
	if now.Sub(sess.Subscription.RefreshedAt) < i.snapshotMaxAge {
		return "", sess, false
	}

	readCtx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()
	user, err := i.users.GetByEmail(readCtx, sess.Email)
	if err != nil {
		metrics.SnapshotRefreshFailures.Inc()
		log.Warn().Err(err).Str("email", sess.Email).
			Msg("Subscription store unreachable during refresh, keeping last-known snapshot")
		return "", sess, false
	}

	snapshot := Snapshot{Plan: store.PlanLite, Status: store.StatusActive, RefreshedAt: now}
	userID := sess.UserID
	if user == nil {
		// Record vanished out from under the session; recreate the default.
		created, err := i.users.EnsureUser(readCtx, sess.Email)
		if err != nil {
			metrics.SnapshotRefreshFailures.Inc()
			return "", sess, false
		}
		if created != nil {
			userID = created.ID
		}
	} else {
		userID = user.ID
		snapshot = snapshotFromUser(user, now)
	}

	refreshed := &Session{
		UserID:       userID,
		Email:        sess.Email,
		Subscription: snapshot,
		IssuedAt:     sess.IssuedAt,
		ExpiresAt:    sess.ExpiresAt,
	}
	token, err := i.sign(refreshed)
	if err != nil {
		log.Error().Err(err).Msg("Failed to re-sign session token after refresh")
		return "", sess, false
	}
	return token, refreshed, true
}

func (i *Issuer) sign(sess *Session) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.Email,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
		UserID:       sess.UserID,
		Subscription: sess.Subscription,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

func snapshotFromUser(u *store.User, now time.Time) Snapshot {
	return Snapshot{
		Plan:             u.Plan,
		Status:           u.Status,
		CurrentPeriodEnd: u.CurrentPeriodEnd,
		RefreshedAt:      now,
	}
}

type ctxKey struct{}

// WithSession attaches a verified session to the request context.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// FromContext returns the verified session for the request, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(ctxKey{}).(*Session)
	return sess
}
