package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultHistoryLimit = 50

// SaveHistory persists one analysis run for a user. The ID and timestamp are
// filled in when absent.
func (s *Store) SaveHistory(ctx context.Context, item *HistoryItem) error {
	if item == nil {
		return fmt.Errorf("history item is nil")
	}
	if item.URL == "" {
		return fmt.Errorf("url is required")
	}
	email := NormalizeEmail(item.Email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.AnalyzedAt.IsZero() {
		item.AnalyzedAt = time.Now().UTC()
	}

	tags, err := json.Marshal(emptyIfNil(item.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	scores, err := json.Marshal(item.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	summary, err := json.Marshal(item.SummaryJSON)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_history (
			id, email, url, analyzed_at,
			product_count, category_count, price_count,
			has_advice, advice_summary, tags, scores, summary_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, email, item.URL, item.AnalyzedAt.UTC().Unix(),
		item.ProductCount, item.CategoryCount, item.PriceCount,
		boolToInt(item.HasAdvice), item.AdviceSummary,
		string(tags), string(scores), string(summary),
	)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// ListHistory returns a user's saved analyses, newest first.
func (s *Store) ListHistory(ctx context.Context, email string, limit int) ([]*HistoryItem, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, url, analyzed_at,
			product_count, category_count, price_count,
			has_advice, advice_summary, tags, scores, summary_json
		FROM analysis_history WHERE email = ?
		ORDER BY analyzed_at DESC LIMIT ?`,
		NormalizeEmail(email), limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var items []*HistoryItem
	for rows.Next() {
		var item HistoryItem
		var analyzedAt int64
		var hasAdvice int
		var tags, scores, summary string

		if err := rows.Scan(
			&item.ID, &item.Email, &item.URL, &analyzedAt,
			&item.ProductCount, &item.CategoryCount, &item.PriceCount,
			&hasAdvice, &item.AdviceSummary, &tags, &scores, &summary,
		); err != nil {
			return nil, fmt.Errorf("scan history item: %w", err)
		}

		item.AnalyzedAt = time.Unix(analyzedAt, 0).UTC()
		item.HasAdvice = hasAdvice != 0
		if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
			item.Tags = nil
		}
		if err := json.Unmarshal([]byte(scores), &item.Scores); err != nil {
			item.Scores = nil
		}
		if err := json.Unmarshal([]byte(summary), &item.SummaryJSON); err != nil {
			item.SummaryJSON = nil
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func emptyIfNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
