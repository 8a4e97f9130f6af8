package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanno-ai/hanno/internal/crypto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cm, err := crypto.NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := New(dir, cm)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureUserCreatesLiteDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "New@Example.com")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.Email != "new@example.com" {
		t.Fatalf("email = %q, want normalized", u.Email)
	}
	if u.Plan != PlanLite || u.Status != StatusActive {
		t.Fatalf("defaults = %q/%q, want lite/active", u.Plan, u.Status)
	}
	if u.ID == "" {
		t.Fatal("expected a generated user ID")
	}

	// Second call returns the same record.
	again, err := s.EnsureUser(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("EnsureUser created a second record: %q != %q", again.ID, u.ID)
	}
}

func TestGetByEmailAbsent(t *testing.T) {
	s := newTestStore(t)
	u, err := s.GetByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil for absent user, got %+v", u)
	}
}

func TestApplyEntitlementUpsertsAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	ent := Entitlement{
		Plan:                 PlanPremium,
		Status:               StatusActive,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		CurrentPeriodEnd:     &periodEnd,
		EventTime:            time.Now().UTC(),
	}

	// First write creates the user record.
	if err := s.ApplyEntitlement(ctx, "buyer@example.com", ent); err != nil {
		t.Fatalf("ApplyEntitlement: %v", err)
	}
	// Redelivery lands on the same state.
	if err := s.ApplyEntitlement(ctx, "buyer@example.com", ent); err != nil {
		t.Fatalf("ApplyEntitlement redelivery: %v", err)
	}

	u, err := s.GetByEmail(ctx, "buyer@example.com")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail: %v, %v", u, err)
	}
	if u.Plan != PlanPremium || u.Status != StatusActive {
		t.Fatalf("user = %q/%q, want premium/active", u.Plan, u.Status)
	}
	if u.StripeCustomerID != "cus_1" || u.StripeSubscriptionID != "sub_1" {
		t.Fatalf("stripe refs = %q/%q", u.StripeCustomerID, u.StripeSubscriptionID)
	}
	if u.CurrentPeriodEnd == nil || !u.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("period end = %v, want %v", u.CurrentPeriodEnd, periodEnd)
	}
}

func TestApplyEntitlementDemotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	up := Entitlement{Plan: PlanStandard, Status: StatusActive, EventTime: now}
	if err := s.ApplyEntitlement(ctx, "churn@example.com", up); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	down := Entitlement{Plan: PlanLite, Status: StatusCanceled, EventTime: now.Add(time.Hour)}
	if err := s.ApplyEntitlement(ctx, "churn@example.com", down); err != nil {
		t.Fatalf("demote: %v", err)
	}

	u, _ := s.GetByEmail(ctx, "churn@example.com")
	if u.Plan != PlanLite || u.Status != StatusCanceled {
		t.Fatalf("user = %q/%q, want lite/canceled", u.Plan, u.Status)
	}
}

func TestApplyEntitlementRejectsStaleEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	newer := Entitlement{Plan: PlanLite, Status: StatusCanceled, EventTime: now}
	if err := s.ApplyEntitlement(ctx, "order@example.com", newer); err != nil {
		t.Fatalf("newer event: %v", err)
	}

	stale := Entitlement{Plan: PlanPremium, Status: StatusActive, EventTime: now.Add(-time.Hour)}
	err := s.ApplyEntitlement(ctx, "order@example.com", stale)
	if !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("stale event: err = %v, want ErrStaleEvent", err)
	}

	u, _ := s.GetByEmail(ctx, "order@example.com")
	if u.Plan != PlanLite || u.Status != StatusCanceled {
		t.Fatalf("stale event overwrote state: %q/%q", u.Plan, u.Status)
	}
}

func TestSetStripeCustomer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureUser(ctx, "pending@example.com"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := s.SetStripeCustomer(ctx, "pending@example.com", "cus_new"); err != nil {
		t.Fatalf("SetStripeCustomer: %v", err)
	}

	u, _ := s.GetByEmail(ctx, "pending@example.com")
	if u.StripeCustomerID != "cus_new" || u.Status != StatusPending {
		t.Fatalf("user = customer %q status %q, want cus_new/pending", u.StripeCustomerID, u.Status)
	}

	// A second attempt must not clobber the existing reference.
	if err := s.SetStripeCustomer(ctx, "pending@example.com", "cus_other"); err == nil {
		t.Fatal("expected error when customer reference already set")
	}

	lookup, err := s.GetByStripeCustomerID(ctx, "cus_new")
	if err != nil || lookup == nil || lookup.Email != "pending@example.com" {
		t.Fatalf("GetByStripeCustomerID: %v, %v", lookup, err)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &HistoryItem{
		Email:         "user@example.com",
		URL:           "https://shop-a.example.com",
		AnalyzedAt:    time.Now().Add(-time.Hour).UTC(),
		ProductCount:  8,
		CategoryCount: 3,
		HasAdvice:     true,
		AdviceSummary: "Improve category depth",
		Tags:          []string{"EC分析", "商品あり"},
	}
	second := &HistoryItem{
		Email:      "user@example.com",
		URL:        "https://shop-b.example.com",
		AnalyzedAt: time.Now().UTC(),
	}
	if err := s.SaveHistory(ctx, first); err != nil {
		t.Fatalf("SaveHistory first: %v", err)
	}
	if err := s.SaveHistory(ctx, second); err != nil {
		t.Fatalf("SaveHistory second: %v", err)
	}

	items, err := s.ListHistory(ctx, "user@example.com", 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	// Newest first.
	if items[0].URL != "https://shop-b.example.com" {
		t.Fatalf("order wrong: first item is %q", items[0].URL)
	}
	if items[1].ProductCount != 8 || !items[1].HasAdvice {
		t.Fatalf("round trip lost fields: %+v", items[1])
	}
	if len(items[1].Tags) != 2 || items[1].Tags[0] != "EC分析" {
		t.Fatalf("tags = %v", items[1].Tags)
	}

	// Other users see nothing.
	other, err := s.ListHistory(ctx, "other@example.com", 0)
	if err != nil {
		t.Fatalf("ListHistory other: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("history leaked across users: %d items", len(other))
	}
}

func TestSettingsEncryptedAtRest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &UserSettings{
		Email:            "user@example.com",
		OpenAIKey:        "sk-secret-key",
		NotionToken:      "ntn-secret-token",
		NotionDatabaseID: "db-123",
		SlackWebhook:     "https://hooks.slack.com/services/T/B/x",
	}
	if err := s.SaveSettings(ctx, in); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	out, err := s.GetSettings(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if out.OpenAIKey != in.OpenAIKey || out.NotionToken != in.NotionToken || out.SlackWebhook != in.SlackWebhook {
		t.Fatalf("secrets did not round trip: %+v", out)
	}
	if out.NotionDatabaseID != "db-123" {
		t.Fatalf("database id = %q", out.NotionDatabaseID)
	}

	// The raw row must not contain the plaintext secrets.
	var rawKey string
	row := s.db.QueryRowContext(ctx, `SELECT openai_key FROM user_settings WHERE email = ?`, "user@example.com")
	if err := row.Scan(&rawKey); err != nil {
		t.Fatalf("read raw settings row: %v", err)
	}
	if rawKey == in.OpenAIKey {
		t.Fatal("OpenAI key stored in plaintext")
	}
}

func TestGetSettingsAbsentReturnsZeroValue(t *testing.T) {
	s := newTestStore(t)
	out, err := s.GetSettings(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if out.OpenAIKey != "" || out.Email != "nobody@example.com" {
		t.Fatalf("zero value wrong: %+v", out)
	}
}

func TestShopifyConnectionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn := &ShopifyConnection{
		Email:       "user@example.com",
		StoreDomain: "my-shop.myshopify.com",
		AccessToken: "shpat_secret",
	}
	if err := s.UpsertShopifyConnection(ctx, conn); err != nil {
		t.Fatalf("UpsertShopifyConnection: %v", err)
	}

	got, err := s.GetShopifyConnection(ctx, "user@example.com", "my-shop.myshopify.com")
	if err != nil || got == nil {
		t.Fatalf("GetShopifyConnection: %v, %v", got, err)
	}
	if got.AccessToken != "shpat_secret" {
		t.Fatalf("token = %q", got.AccessToken)
	}

	list, err := s.ListShopifyConnections(ctx, "user@example.com")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListShopifyConnections: %v, %v", list, err)
	}
	if list[0].AccessToken != "" {
		t.Fatal("list must not include tokens")
	}

	if err := s.DeleteShopifyConnection(ctx, "user@example.com", "my-shop.myshopify.com"); err != nil {
		t.Fatalf("DeleteShopifyConnection: %v", err)
	}
	got, err = s.GetShopifyConnection(ctx, "user@example.com", "my-shop.myshopify.com")
	if err != nil || got != nil {
		t.Fatalf("connection survived delete: %v, %v", got, err)
	}
}

func TestNormalizeFallbacks(t *testing.T) {
	if NormalizePlan("enterprise") != PlanLite {
		t.Fatal("unknown plan must degrade to lite")
	}
	if NormalizeStatus("trialing") != StatusCanceled {
		t.Fatal("unknown status must degrade to canceled")
	}
	if NormalizeEmail("  User@EXAMPLE.com ") != "user@example.com" {
		t.Fatal("email normalization failed")
	}
}
