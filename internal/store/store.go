package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hanno-ai/hanno/internal/crypto"
)

// ErrStaleEvent is returned by ApplyEntitlement when the incoming event is
// older than the one already applied to the record.
var ErrStaleEvent = errors.New("entitlement event is older than current record")

// Store provides CRUD operations for users, analysis history, settings and
// storefront connections, backed by a single SQLite database.
type Store struct {
	db     *sql.DB
	crypto *crypto.Manager
}

// New opens (or creates) the application database in dir.
func New(dir string, cm *crypto.Manager) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "hanno.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, crypto: cm}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		email                  TEXT PRIMARY KEY,
		id                     TEXT NOT NULL,
		display_name           TEXT NOT NULL DEFAULT '',
		avatar_url             TEXT NOT NULL DEFAULT '',
		plan                   TEXT NOT NULL DEFAULT 'lite',
		subscription_status    TEXT NOT NULL DEFAULT 'active',
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		current_period_end     INTEGER,
		entitlement_event_at   INTEGER,
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL,
		last_login_at          INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_users_stripe_customer_id ON users(stripe_customer_id);

	CREATE TABLE IF NOT EXISTS analysis_history (
		id             TEXT PRIMARY KEY,
		email          TEXT NOT NULL,
		url            TEXT NOT NULL,
		analyzed_at    INTEGER NOT NULL,
		product_count  INTEGER NOT NULL DEFAULT 0,
		category_count INTEGER NOT NULL DEFAULT 0,
		price_count    INTEGER NOT NULL DEFAULT 0,
		has_advice     INTEGER NOT NULL DEFAULT 0,
		advice_summary TEXT NOT NULL DEFAULT '',
		tags           TEXT NOT NULL DEFAULT '[]',
		scores         TEXT NOT NULL DEFAULT '{}',
		summary_json   TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_history_email ON analysis_history(email, analyzed_at DESC);

	CREATE TABLE IF NOT EXISTS user_settings (
		email              TEXT PRIMARY KEY,
		openai_key         TEXT NOT NULL DEFAULT '',
		notion_token       TEXT NOT NULL DEFAULT '',
		notion_database_id TEXT NOT NULL DEFAULT '',
		slack_webhook      TEXT NOT NULL DEFAULT '',
		updated_at         INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shopify_connections (
		email        TEXT NOT NULL,
		store_domain TEXT NOT NULL,
		access_token TEXT NOT NULL DEFAULT '',
		connected_at INTEGER NOT NULL,
		PRIMARY KEY (email, store_domain)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const userColumns = `email, id, display_name, avatar_url, plan, subscription_status,
	stripe_customer_id, stripe_subscription_id, current_period_end,
	entitlement_event_at, created_at, updated_at, last_login_at`

// GetByEmail retrieves a user by email. Returns (nil, nil) when absent.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email))
	return scanUser(row)
}

// GetByStripeCustomerID retrieves a user by Stripe customer reference.
func (s *Store) GetByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE stripe_customer_id = ?`, customerID)
	return scanUser(row)
}

// EnsureUser returns the user for email, creating the default record
// (plan=lite, status=active) on first sight.
func (s *Store) EnsureUser(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	u, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}

	now := time.Now().UTC()
	u = &User{
		ID:        uuid.NewString(),
		Email:     email,
		Plan:      PlanLite,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (email, id, plan, subscription_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING`,
		u.Email, u.ID, string(u.Plan), string(u.Status), now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	// Re-read in case a concurrent request won the insert.
	return s.GetByEmail(ctx, email)
}

// TouchLogin records a successful login.
func (s *Store) TouchLogin(ctx context.Context, email string) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, updated_at = ? WHERE email = ?`,
		now, now, NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

// SetStripeCustomer records the Stripe customer reference created ahead of
// checkout and marks the subscription pending until the webhook confirms it.
// Only called for users without an existing customer reference.
func (s *Store) SetStripeCustomer(ctx context.Context, email, customerID string) error {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET stripe_customer_id = ?, subscription_status = ?, updated_at = ?
		WHERE email = ? AND stripe_customer_id = ''`,
		customerID, string(StatusPending), now, NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("set stripe customer: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user %q not found or already has a customer reference", email)
	}
	return nil
}

// ApplyEntitlement upserts the subscription state for email. Writes are
// idempotent and last-write-wins keyed by the event's own timestamp, so a
// redelivered or out-of-order event can never overwrite a newer state.
func (s *Store) ApplyEntitlement(ctx context.Context, email string, ent Entitlement) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	now := time.Now().UTC()
	eventUnix := ent.EventTime.UTC().Unix()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			plan = ?, subscription_status = ?,
			stripe_customer_id = ?, stripe_subscription_id = ?,
			current_period_end = ?, entitlement_event_at = ?, updated_at = ?
		WHERE email = ?
		  AND (entitlement_event_at IS NULL OR entitlement_event_at <= ?)`,
		string(ent.Plan), string(ent.Status),
		ent.StripeCustomerID, ent.StripeSubscriptionID,
		nullableTimeUnix(ent.CurrentPeriodEnd), eventUnix, now.Unix(),
		email, eventUnix)
	if err != nil {
		return fmt.Errorf("apply entitlement: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}

	// Either the user does not exist yet or the event is stale.
	existing, err := s.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrStaleEvent
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (email, id, plan, subscription_status,
			stripe_customer_id, stripe_subscription_id,
			current_period_end, entitlement_event_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email, uuid.NewString(), string(ent.Plan), string(ent.Status),
		ent.StripeCustomerID, ent.StripeSubscriptionID,
		nullableTimeUnix(ent.CurrentPeriodEnd), eventUnix, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("apply entitlement (insert): %w", err)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*User, error) {
	var u User
	var plan, status string
	var periodEnd, eventAt, lastLogin sql.NullInt64
	var createdAt, updatedAt int64

	err := sc.Scan(
		&u.Email, &u.ID, &u.DisplayName, &u.AvatarURL, &plan, &status,
		&u.StripeCustomerID, &u.StripeSubscriptionID, &periodEnd,
		&eventAt, &createdAt, &updatedAt, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Plan = NormalizePlan(plan)
	u.Status = NormalizeStatus(status)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if periodEnd.Valid {
		ts := time.Unix(periodEnd.Int64, 0).UTC()
		u.CurrentPeriodEnd = &ts
	}
	if eventAt.Valid {
		ts := time.Unix(eventAt.Int64, 0).UTC()
		u.EntitlementEventAt = &ts
	}
	if lastLogin.Valid {
		ts := time.Unix(lastLogin.Int64, 0).UTC()
		u.LastLoginAt = &ts
	}
	return &u, nil
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}
