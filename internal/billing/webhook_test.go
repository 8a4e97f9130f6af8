package billing

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/hanno-ai/hanno/internal/crypto"
	"github.com/hanno-ai/hanno/internal/store"
)

const testSecret = "whsec_test_secret"

var testPrices = PriceTable{
	StandardPriceID: "price_standard",
	PremiumPriceID:  "price_premium",
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	cm, err := crypto.NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := store.New(dir, cm)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func subscriptionEventJSON(eventID string, created int64, status, priceID, email string) string {
	return fmt.Sprintf(`{
		"id": %q, "object": "event", "type": "customer.subscription.updated", "created": %d,
		"data": {"object": {
			"id": "sub_1", "customer": "cus_1", "status": %q,
			"current_period_end": %d,
			"items": {"data": [{"price": {"id": %q}}]},
			"metadata": {"userEmail": %q}
		}}
	}`, eventID, created, status, created+30*24*3600, priceID, email)
}

func TestWebhookRejectsBadSignatureWithoutMutation(t *testing.T) {
	users := newTestStore(t)
	handler := NewWebhookHandler(testSecret, NewSync(users, testPrices, nil))

	payload := subscriptionEventJSON("evt_1", time.Now().Unix(), "active", "price_premium", "user@example.com")
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	u, err := users.GetByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u != nil {
		t.Fatal("rejected webhook must not create users")
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	handler := NewWebhookHandler(testSecret, NewSync(newTestStore(t), testPrices, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookUpgradesUser(t *testing.T) {
	users := newTestStore(t)
	handler := NewWebhookHandler(testSecret, NewSync(users, testPrices, nil))

	payload := subscriptionEventJSON("evt_up", time.Now().Unix(), "active", "price_premium", "user@example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	u, err := users.GetByEmail(context.Background(), "user@example.com")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail: %v, %v", u, err)
	}
	if u.Plan != store.PlanPremium || u.Status != store.StatusActive {
		t.Fatalf("user = plan %q status %q, want premium/active", u.Plan, u.Status)
	}
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	users := newTestStore(t)
	handler := NewWebhookHandler(testSecret, NewSync(users, testPrices, nil))

	payload := subscriptionEventJSON("evt_dup", time.Now().Unix(), "active", "price_standard", "user@example.com")
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, body = %s", i+1, rec.Code, rec.Body.String())
		}
	}

	u, err := users.GetByEmail(context.Background(), "user@example.com")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail: %v, %v", u, err)
	}
	if u.Plan != store.PlanStandard || u.Status != store.StatusActive {
		t.Fatalf("user = plan %q status %q, want standard/active", u.Plan, u.Status)
	}
}

func TestWebhookOutOfOrderEventsKeepNewestState(t *testing.T) {
	users := newTestStore(t)
	handler := NewWebhookHandler(testSecret, NewSync(users, testPrices, nil))

	now := time.Now().Unix()
	newer := subscriptionEventJSON("evt_new", now, "canceled", "price_premium", "user@example.com")
	older := subscriptionEventJSON("evt_old", now-3600, "active", "price_premium", "user@example.com")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, newer))
	if rec.Code != http.StatusOK {
		t.Fatalf("newer delivery: status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, older))
	if rec.Code != http.StatusOK {
		t.Fatalf("older delivery: status = %d", rec.Code)
	}

	u, err := users.GetByEmail(context.Background(), "user@example.com")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail: %v, %v", u, err)
	}
	if u.Plan != store.PlanLite || u.Status != store.StatusCanceled {
		t.Fatalf("stale event overwrote newer state: plan %q status %q", u.Plan, u.Status)
	}
}

func TestWebhookCancellationDemotesToLite(t *testing.T) {
	users := newTestStore(t)
	handler := NewWebhookHandler(testSecret, NewSync(users, testPrices, nil))

	now := time.Now().Unix()
	up := subscriptionEventJSON("evt_up", now, "active", "price_premium", "user@example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, up))
	if rec.Code != http.StatusOK {
		t.Fatalf("upgrade delivery: status = %d", rec.Code)
	}

	deleted := fmt.Sprintf(`{
		"id": "evt_del", "object": "event", "type": "customer.subscription.deleted", "created": %d,
		"data": {"object": {"id": "sub_1", "customer": "cus_1", "status": "canceled",
			"metadata": {"userEmail": "user@example.com"}}}
	}`, now+60)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, deleted))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete delivery: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	u, err := users.GetByEmail(context.Background(), "user@example.com")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail: %v, %v", u, err)
	}
	if u.Plan != store.PlanLite || u.Status != store.StatusCanceled {
		t.Fatalf("user = plan %q status %q, want lite/canceled", u.Plan, u.Status)
	}
}

func TestWebhookDropsUnresolvableEvent(t *testing.T) {
	users := newTestStore(t)
	handler := NewWebhookHandler(testSecret, NewSync(users, testPrices, nil))

	payload := fmt.Sprintf(`{
		"id": "evt_noemail", "object": "event", "type": "customer.subscription.updated", "created": %d,
		"data": {"object": {"id": "sub_x", "customer": "cus_unknown", "status": "active",
			"items": {"data": [{"price": {"id": "price_premium"}}]}}}
	}`, time.Now().Unix())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	// Dropped, not failed: Stripe must not keep retrying an event that can
	// never be resolved.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	handler := NewWebhookHandler(testSecret, NewSync(newTestStore(t), testPrices, nil))

	payload := `{"id": "evt_x", "object": "event", "type": "invoice.paid", "created": 1700000000, "data": {"object": {}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
