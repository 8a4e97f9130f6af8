package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	ErrTokenInvalid = errors.New("magic link token is invalid")
	ErrTokenExpired = errors.New("magic link token is expired")
	ErrTokenUsed    = errors.New("magic link token already used")
)

const (
	// TokenTTL is how long a login link stays valid.
	TokenTTL = 15 * time.Minute

	storeCleanupInterval = 5 * time.Minute
	privateDirPerm       = 0o700
)

// TokenRecord holds the data associated with a stored magic link token.
type TokenRecord struct {
	Email     string
	Next      string
	ExpiresAt time.Time
	Used      bool
}

// TokenStore persists magic link tokens in SQLite.
// Tokens are identified by SHA-256(rawToken) stored as hex; the raw token
// only ever exists in the emailed link.
type TokenStore struct {
	db          *sql.DB
	stopCleanup chan struct{}
	mu          sync.Mutex
}

// NewTokenStore opens (or creates) the magic link token database in dir.
func NewTokenStore(dir string) (*TokenStore, error) {
	dir = filepath.Clean(dir)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if err := os.MkdirAll(dir, privateDirPerm); err != nil {
		return nil, fmt.Errorf("create magic link store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "magic_links.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open magic link db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &TokenStore{
		db:          db,
		stopCleanup: make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	go s.cleanupLoop()
	return s, nil
}

func (s *TokenStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS magic_link_tokens (
		token_hash TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		next TEXT NOT NULL DEFAULT '',
		expires_at INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_ml_expires_at ON magic_link_tokens(expires_at);
	CREATE INDEX IF NOT EXISTS idx_ml_email ON magic_link_tokens(email);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init magic link schema: %w", err)
	}
	return nil
}

func (s *TokenStore) cleanupLoop() {
	ticker := time.NewTicker(storeCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.DeleteExpired(time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("Failed to delete expired magic link tokens")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// Generate mints a new single-use login token for email and stores its hash.
// The raw token is returned for embedding in the emailed link.
func (s *TokenStore) Generate(email, next string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate magic link token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	rec := &TokenRecord{
		Email:     email,
		Next:      next,
		ExpiresAt: time.Now().UTC().Add(TokenTTL),
	}
	if err := s.put(hashToken(token), rec); err != nil {
		return "", err
	}
	return token, nil
}

func (s *TokenStore) put(tokenHash []byte, rec *TokenRecord) error {
	key := hex.EncodeToString(tokenHash)
	now := time.Now().UTC().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("store not configured")
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO magic_link_tokens (token_hash, email, next, expires_at, used, created_at, used_at)
		 VALUES (?, ?, ?, ?, 0, ?, NULL)`,
		key, rec.Email, rec.Next, rec.ExpiresAt.UTC().Unix(), now,
	)
	if err != nil {
		return fmt.Errorf("put magic link token: %w", err)
	}
	return nil
}

// Consume atomically validates and marks a raw token as used. Returns the
// token record on success; a second consume of the same token fails.
func (s *TokenStore) Consume(rawToken string, now time.Time) (*TokenRecord, error) {
	if s == nil || rawToken == "" {
		return nil, ErrTokenInvalid
	}

	key := hex.EncodeToString(hashToken(rawToken))
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrTokenInvalid
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin consume tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Warn().Err(rollbackErr).Msg("Failed to rollback magic link consume transaction")
		}
	}()

	var email, next string
	var expiresAtUnix int64
	var usedInt int

	row := tx.QueryRow(`SELECT email, next, expires_at, used FROM magic_link_tokens WHERE token_hash = ?`, key)
	if scanErr := row.Scan(&email, &next, &expiresAtUnix, &usedInt); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("load magic link token: %w", scanErr)
	}

	expiresAt := time.Unix(expiresAtUnix, 0).UTC()
	if now.After(expiresAt) {
		return nil, ErrTokenExpired
	}
	if usedInt != 0 {
		return nil, ErrTokenUsed
	}

	res, err := tx.Exec(`UPDATE magic_link_tokens SET used = 1, used_at = ? WHERE token_hash = ? AND used = 0`, now.Unix(), key)
	if err != nil {
		return nil, fmt.Errorf("mark magic link token used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get consume update rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrTokenUsed
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume tx: %w", err)
	}

	return &TokenRecord{
		Email:     email,
		Next:      next,
		ExpiresAt: expiresAt,
		Used:      true,
	}, nil
}

// DeleteExpired removes tokens that have passed their expiry time.
func (s *TokenStore) DeleteExpired(now time.Time) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM magic_link_tokens WHERE expires_at < ?`, now.UTC().Unix()); err != nil {
		return fmt.Errorf("delete expired magic link tokens: %w", err)
	}
	return nil
}

// Close stops the background cleanup goroutine and closes the database.
func (s *TokenStore) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close magic link store database")
		}
		s.db = nil
	}
}

func hashToken(raw string) []byte {
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}
