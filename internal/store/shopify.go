package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertShopifyConnection saves a storefront connection, replacing any
// existing token for the same store. The access token is encrypted at rest.
func (s *Store) UpsertShopifyConnection(ctx context.Context, conn *ShopifyConnection) error {
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	email := NormalizeEmail(conn.Email)
	if email == "" || conn.StoreDomain == "" {
		return fmt.Errorf("email and store domain are required")
	}

	token, err := s.crypto.EncryptString(conn.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shopify_connections (email, store_domain, access_token, connected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email, store_domain) DO UPDATE SET
			access_token = excluded.access_token,
			connected_at = excluded.connected_at`,
		email, conn.StoreDomain, token, conn.ConnectedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("upsert shopify connection: %w", err)
	}
	return nil
}

// GetShopifyConnection returns the connection for a user's store with the
// token decrypted. Returns (nil, nil) when absent.
func (s *Store) GetShopifyConnection(ctx context.Context, email, storeDomain string) (*ShopifyConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email, store_domain, access_token, connected_at
		FROM shopify_connections WHERE email = ? AND store_domain = ?`,
		NormalizeEmail(email), storeDomain)

	var conn ShopifyConnection
	var connectedAt int64
	err := row.Scan(&conn.Email, &conn.StoreDomain, &conn.AccessToken, &connectedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get shopify connection: %w", err)
	}

	conn.ConnectedAt = time.Unix(connectedAt, 0).UTC()
	token, err := s.crypto.DecryptString(conn.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	conn.AccessToken = token
	return &conn, nil
}

// ListShopifyConnections returns all stores a user has connected.
func (s *Store) ListShopifyConnections(ctx context.Context, email string) ([]*ShopifyConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, store_domain, connected_at
		FROM shopify_connections WHERE email = ? ORDER BY connected_at DESC`,
		NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("list shopify connections: %w", err)
	}
	defer rows.Close()

	var conns []*ShopifyConnection
	for rows.Next() {
		var conn ShopifyConnection
		var connectedAt int64
		if err := rows.Scan(&conn.Email, &conn.StoreDomain, &connectedAt); err != nil {
			return nil, fmt.Errorf("scan shopify connection: %w", err)
		}
		conn.ConnectedAt = time.Unix(connectedAt, 0).UTC()
		conns = append(conns, &conn)
	}
	return conns, rows.Err()
}

// DeleteShopifyConnection removes a storefront connection.
func (s *Store) DeleteShopifyConnection(ctx context.Context, email, storeDomain string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM shopify_connections WHERE email = ? AND store_domain = ?`,
		NormalizeEmail(email), storeDomain)
	if err != nil {
		return fmt.Errorf("delete shopify connection: %w", err)
	}
	return nil
}
