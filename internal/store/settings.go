package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSettings returns a user's integration settings with secret fields
// decrypted. A user without saved settings gets the zero value.
func (s *Store) GetSettings(ctx context.Context, email string) (*UserSettings, error) {
	email = NormalizeEmail(email)
	row := s.db.QueryRowContext(ctx, `
		SELECT openai_key, notion_token, notion_database_id, slack_webhook, updated_at
		FROM user_settings WHERE email = ?`, email)

	var settings UserSettings
	var updatedAt int64
	err := row.Scan(&settings.OpenAIKey, &settings.NotionToken,
		&settings.NotionDatabaseID, &settings.SlackWebhook, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &UserSettings{Email: email}, nil
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}

	settings.Email = email
	settings.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	for _, field := range []*string{
		&settings.OpenAIKey, &settings.NotionToken, &settings.SlackWebhook,
	} {
		decrypted, err := s.crypto.DecryptString(*field)
		if err != nil {
			return nil, fmt.Errorf("decrypt settings field: %w", err)
		}
		*field = decrypted
	}
	return &settings, nil
}

// SaveSettings upserts a user's integration settings, encrypting secret
// fields before they touch disk.
func (s *Store) SaveSettings(ctx context.Context, settings *UserSettings) error {
	if settings == nil {
		return fmt.Errorf("settings are nil")
	}
	email := NormalizeEmail(settings.Email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	openAIKey, err := s.crypto.EncryptString(settings.OpenAIKey)
	if err != nil {
		return fmt.Errorf("encrypt openai key: %w", err)
	}
	notionToken, err := s.crypto.EncryptString(settings.NotionToken)
	if err != nil {
		return fmt.Errorf("encrypt notion token: %w", err)
	}
	slackWebhook, err := s.crypto.EncryptString(settings.SlackWebhook)
	if err != nil {
		return fmt.Errorf("encrypt slack webhook: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings (email, openai_key, notion_token, notion_database_id, slack_webhook, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			openai_key = excluded.openai_key,
			notion_token = excluded.notion_token,
			notion_database_id = excluded.notion_database_id,
			slack_webhook = excluded.slack_webhook,
			updated_at = excluded.updated_at`,
		email, openAIKey, notionToken, settings.NotionDatabaseID,
		slackWebhook, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
