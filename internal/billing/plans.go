package billing

import (
	"strings"

	"github.com/hanno-ai/hanno/internal/store"
)

// PriceTable maps Stripe price IDs to plans. Price IDs come from config so
// test and live mode can use different products.
type PriceTable struct {
	StandardPriceID string
	PremiumPriceID  string
}

// PlanForPrice resolves a Stripe price ID to a plan. Unknown prices map to
// the free tier so a misconfigured price can never grant paid access.
func (t PriceTable) PlanForPrice(priceID string) store.Plan {
	switch strings.TrimSpace(priceID) {
	case "":
		return store.PlanLite
	case t.StandardPriceID:
		return store.PlanStandard
	case t.PremiumPriceID:
		return store.PlanPremium
	default:
		return store.PlanLite
	}
}

// PriceForPlan is the inverse mapping, used when building checkout sessions.
func (t PriceTable) PriceForPlan(plan store.Plan) string {
	switch plan {
	case store.PlanStandard:
		return t.StandardPriceID
	case store.PlanPremium:
		return t.PremiumPriceID
	default:
		return ""
	}
}

// MapSubscriptionStatus collapses Stripe's subscription lifecycle into the
// app's two webhook-driven states. Only active and trialing grant access;
// past_due, unpaid, incomplete and canceled all revoke it.
func MapSubscriptionStatus(stripeStatus string) store.SubscriptionStatus {
	switch strings.TrimSpace(stripeStatus) {
	case "active", "trialing":
		return store.StatusActive
	default:
		return store.StatusCanceled
	}
}
