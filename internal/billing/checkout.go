package billing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"

	"github.com/hanno-ai/hanno/internal/session"
	"github.com/hanno-ai/hanno/internal/store"
)

const trialDays = 7

// CheckoutHandlers creates Stripe checkout and billing portal sessions for
// the signed-in user. The Stripe calls are function fields so tests can run
// without the network.
type CheckoutHandlers struct {
	Users   *store.Store
	Prices  PriceTable
	BaseURL string

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	createPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	createCustomer        func(params *stripe.CustomerParams) (*stripe.Customer, error)
}

// NewCheckoutHandlers wires the live Stripe SDK calls.
func NewCheckoutHandlers(users *store.Store, prices PriceTable, baseURL string) *CheckoutHandlers {
	return &CheckoutHandlers{
		Users:                 users,
		Prices:                prices,
		BaseURL:               strings.TrimRight(baseURL, "/"),
		createCheckoutSession: stripesession.New,
		createPortalSession:   portalsession.New,
		createCustomer:        customer.New,
	}
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

type urlResponse struct {
	URL string `json:"url"`
}

// HandleCreateCheckout starts a subscription checkout for the requested
// plan. A customer record is created (and marked pending locally) before
// redirecting to Stripe; entitlement is granted only by the webhook.
func (h *CheckoutHandlers) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := session.FromContext(r.Context())
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, webhookErrorResponse{Error: "Unauthorized"})
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "Invalid JSON body"})
		return
	}
	plan := store.NormalizePlan(req.Plan)
	priceID := h.Prices.PriceForPlan(plan)
	if priceID == "" {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "Unknown plan"})
		return
	}

	customerID, err := h.ensureCustomer(r, sess.Email)
	if err != nil {
		log.Error().Err(err).Str("email", sess.Email).Msg("Failed to ensure Stripe customer")
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "Unable to start checkout"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(h.BaseURL + "/dashboard?checkout=success"),
		CancelURL:  stripe.String(h.BaseURL + "/pricing?checkout=canceled"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(trialDays),
			Metadata: map[string]string{
				"userEmail": sess.Email,
			},
		},
		Metadata: map[string]string{
			"userEmail": sess.Email,
			"priceId":   priceID,
		},
	}

	checkout, err := h.createCheckoutSession(params)
	if err != nil {
		log.Error().Err(err).Str("email", sess.Email).Msg("Failed to create checkout session")
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "Unable to start checkout"})
		return
	}

	writeJSON(w, http.StatusOK, urlResponse{URL: checkout.URL})
}

// HandleCreatePortal opens the Stripe billing portal for subscription
// management. Users without a customer record have nothing to manage.
func (h *CheckoutHandlers) HandleCreatePortal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := session.FromContext(r.Context())
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, webhookErrorResponse{Error: "Unauthorized"})
		return
	}

	user, err := h.Users.GetByEmail(r.Context(), sess.Email)
	if err != nil {
		log.Error().Err(err).Str("email", sess.Email).Msg("Failed to load user for portal")
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "Unable to open billing portal"})
		return
	}
	if user == nil || user.StripeCustomerID == "" {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "No billing account on file"})
		return
	}

	portal, err := h.createPortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(h.BaseURL + "/settings"),
	})
	if err != nil {
		log.Error().Err(err).Str("email", sess.Email).Msg("Failed to create billing portal session")
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "Unable to open billing portal"})
		return
	}

	writeJSON(w, http.StatusOK, urlResponse{URL: portal.URL})
}

// ensureCustomer returns the user's Stripe customer ID, creating the
// customer on first checkout.
func (h *CheckoutHandlers) ensureCustomer(r *http.Request, email string) (string, error) {
	user, err := h.Users.GetByEmail(r.Context(), email)
	if err != nil {
		return "", err
	}
	if user != nil && user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	cust, err := h.createCustomer(&stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"userEmail": email,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := h.Users.SetStripeCustomer(r.Context(), email, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}
