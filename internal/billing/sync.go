package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hanno-ai/hanno/internal/store"
)

// UserWriter is the slice of the user store entitlement sync needs.
type UserWriter interface {
	GetByStripeCustomerID(ctx context.Context, customerID string) (*store.User, error)
	ApplyEntitlement(ctx context.Context, email string, ent store.Entitlement) error
}

// Sync translates Stripe subscription events into entitlement writes.
type Sync struct {
	users  UserWriter
	prices PriceTable

	// lookupEmail asks Stripe for the email behind a customer ID when the
	// event itself carries none. Optional; injectable for tests.
	lookupEmail func(ctx context.Context, customerID string) (string, error)
}

// NewSync creates an entitlement sync writing through users.
func NewSync(users UserWriter, prices PriceTable, lookupEmail func(ctx context.Context, customerID string) (string, error)) *Sync {
	return &Sync{users: users, prices: prices, lookupEmail: lookupEmail}
}

// SubscriptionEvent is the normalized payload the sync operates on,
// extracted from checkout.session and customer.subscription webhook events.
type SubscriptionEvent struct {
	Email            string
	CustomerID       string
	SubscriptionID   string
	PriceID          string
	StripeStatus     string
	CurrentPeriodEnd *time.Time
	// EventTime is Stripe's event creation timestamp, used for
	// last-write-wins ordering across redelivered events.
	EventTime time.Time
	// Deleted marks customer.subscription.deleted, which always cancels.
	Deleted bool
}

// Apply resolves the event to a user and upserts the entitlement. The write
// is idempotent; a redelivered event lands on the same state. An event whose
// email cannot be resolved is logged and dropped without error so Stripe
// stops retrying it.
func (s *Sync) Apply(ctx context.Context, ev SubscriptionEvent) error {
	email, err := s.resolveEmail(ctx, ev)
	if err != nil {
		return err
	}
	if email == "" {
		log.Warn().
			Str("customer", ev.CustomerID).
			Str("subscription", ev.SubscriptionID).
			Msg("Dropping subscription event with no resolvable email")
		return nil
	}

	status := MapSubscriptionStatus(ev.StripeStatus)
	plan := s.prices.PlanForPrice(ev.PriceID)
	ent := store.Entitlement{
		Plan:                 plan,
		Status:               status,
		StripeCustomerID:     ev.CustomerID,
		StripeSubscriptionID: ev.SubscriptionID,
		CurrentPeriodEnd:     ev.CurrentPeriodEnd,
		EventTime:            ev.EventTime,
	}
	if ev.Deleted || status == store.StatusCanceled {
		// A lapsed subscription lands back on the free tier with its
		// subscription reference cleared.
		ent.Plan = store.PlanLite
		ent.Status = store.StatusCanceled
		ent.StripeSubscriptionID = ""
		ent.CurrentPeriodEnd = nil
	}

	err = s.users.ApplyEntitlement(ctx, email, ent)
	if errors.Is(err, store.ErrStaleEvent) {
		log.Info().
			Str("email", email).
			Time("event_time", ev.EventTime).
			Msg("Ignoring out-of-order subscription event")
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply entitlement for %s: %w", email, err)
	}

	log.Info().
		Str("email", email).
		Str("plan", string(ent.Plan)).
		Str("status", string(ent.Status)).
		Msg("Entitlement updated from Stripe event")
	return nil
}

// resolveEmail works through the fallback chain: event email, metadata, a
// local customer-ID lookup, then the Stripe API.
func (s *Sync) resolveEmail(ctx context.Context, ev SubscriptionEvent) (string, error) {
	if email := store.NormalizeEmail(ev.Email); email != "" {
		return email, nil
	}

	customerID := strings.TrimSpace(ev.CustomerID)
	if customerID == "" {
		return "", nil
	}

	user, err := s.users.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("lookup user by customer %s: %w", customerID, err)
	}
	if user != nil {
		return user.Email, nil
	}

	if s.lookupEmail != nil {
		email, err := s.lookupEmail(ctx, customerID)
		if err != nil {
			log.Warn().Err(err).Str("customer", customerID).
				Msg("Stripe customer lookup failed while resolving event email")
			return "", nil
		}
		return store.NormalizeEmail(email), nil
	}
	return "", nil
}
