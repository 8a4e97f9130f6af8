package store

import (
	"strings"
	"time"
)

// Plan is the subscription tier a user is on.
type Plan string

const (
	PlanLite     Plan = "lite"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// NormalizePlan maps arbitrary input to a known plan. Unknown values fall
// back to lite so a corrupted record can never grant paid access.
func NormalizePlan(s string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanStandard:
		return PlanStandard
	case PlanPremium:
		return PlanPremium
	default:
		return PlanLite
	}
}

// SubscriptionStatus is the billing state of a user's subscription.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusPending  SubscriptionStatus = "pending"
	StatusCanceled SubscriptionStatus = "canceled"
)

// NormalizeStatus maps arbitrary input to a known status. Unknown values
// fall back to canceled (fail closed).
func NormalizeStatus(s string) SubscriptionStatus {
	switch SubscriptionStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive
	case StatusPending:
		return StatusPending
	default:
		return StatusCanceled
	}
}

// User is an identity plus its one subscription record.
type User struct {
	ID                   string             `json:"id"`
	Email                string             `json:"email"`
	DisplayName          string             `json:"display_name,omitempty"`
	AvatarURL            string             `json:"avatar_url,omitempty"`
	Plan                 Plan               `json:"plan"`
	Status               SubscriptionStatus `json:"subscription_status"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	EntitlementEventAt   *time.Time         `json:"-"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
	LastLoginAt          *time.Time         `json:"last_login_at,omitempty"`
}

// Entitlement is the subscription state derived from one payment-provider
// event, applied to a user record as an upsert.
type Entitlement struct {
	Plan                 Plan
	Status               SubscriptionStatus
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodEnd     *time.Time
	// EventTime is the payment provider's own timestamp for the event.
	// Writes are last-write-wins on this value, not on arrival order.
	EventTime time.Time
}

// HistoryItem is one saved analysis run.
type HistoryItem struct {
	ID            string         `json:"id"`
	Email         string         `json:"-"`
	URL           string         `json:"url"`
	AnalyzedAt    time.Time      `json:"analyzed_at"`
	ProductCount  int            `json:"product_count"`
	CategoryCount int            `json:"category_count"`
	PriceCount    int            `json:"price_count"`
	HasAdvice     bool           `json:"has_advice"`
	AdviceSummary string         `json:"advice_summary,omitempty"`
	Tags          []string       `json:"tags"`
	Scores        map[string]int `json:"diagnostic_scores,omitempty"`
	SummaryJSON   map[string]any `json:"summary_json,omitempty"`
}

// UserSettings holds per-user integration credentials. Secret fields are
// encrypted at rest and returned decrypted.
type UserSettings struct {
	Email            string    `json:"-"`
	OpenAIKey        string    `json:"openai_key"`
	NotionToken      string    `json:"notion_token"`
	NotionDatabaseID string    `json:"notion_database_id"`
	SlackWebhook     string    `json:"slack_webhook"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ShopifyConnection links a user to a connected storefront.
type ShopifyConnection struct {
	Email       string    `json:"-"`
	StoreDomain string    `json:"store_domain"`
	AccessToken string    `json:"-"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NormalizeEmail lowercases and trims an email for use as a store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
