package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"

	"github.com/hanno-ai/hanno/internal/analysis"
	"github.com/hanno-ai/hanno/internal/auth"
	"github.com/hanno-ai/hanno/internal/billing"
	"github.com/hanno-ai/hanno/internal/crypto"
	"github.com/hanno-ai/hanno/internal/email"
	"github.com/hanno-ai/hanno/internal/report"
	"github.com/hanno-ai/hanno/internal/session"
	"github.com/hanno-ai/hanno/internal/shopify"
	"github.com/hanno-ai/hanno/internal/store"
)

const shutdownTimeout = 15 * time.Second

// Run wires up all dependencies and serves until interrupted.
func Run(cfg *Config) error {
	if cfg.StripeAPIKey != "" {
		stripelib.Key = cfg.StripeAPIKey
	}

	cm, err := crypto.NewManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("init crypto manager: %w", err)
	}

	st, err := store.New(cfg.DataDir, cm)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	tokens, err := auth.NewTokenStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open magic link store: %w", err)
	}
	defer tokens.Close()

	var sender email.Sender
	if cfg.PostmarkToken != "" {
		sender = email.NewPostmarkSender(cfg.PostmarkToken, cfg.EmailFrom)
	} else {
		log.Warn().Msg("POSTMARK_SERVER_TOKEN not set, magic links will be logged instead of emailed")
		sender = email.NewLogSender(nil)
	}

	issuer := session.NewIssuer([]byte(cfg.SessionSecret), st)
	prices := billing.PriceTable{
		StandardPriceID: cfg.StandardPriceID,
		PremiumPriceID:  cfg.PremiumPriceID,
	}

	lookupEmail := func(ctx context.Context, customerID string) (string, error) {
		cust, err := customer.Get(customerID, nil)
		if err != nil {
			return "", err
		}
		return cust.Email, nil
	}

	deps := &Deps{
		Config:   cfg,
		Store:    st,
		Sessions: issuer,
		Auth: &auth.Handlers{
			Tokens:        tokens,
			Issuer:        issuer,
			Users:         st,
			Sender:        sender,
			BaseURL:       cfg.BaseURL,
			SecureCookies: cfg.SecureCookies(),
		},
		Webhook:     billing.NewWebhookHandler(cfg.StripeWebhookSecret, billing.NewSync(st, prices, lookupEmail)),
		Checkout:    billing.NewCheckoutHandlers(st, prices, cfg.BaseURL),
		Analysis:    analysis.NewClient(cfg.AnalysisEngineURL),
		Reports:     report.NewGenerator(),
		Shopify:     shopify.NewService(cfg.ShopifyClientID, cfg.ShopifyClientSecret, cfg.BaseURL+"/api/shopify/oauth/callback"),
		OAuthStates: NewOAuthStateStore(),
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler:           deps.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_url", cfg.BaseURL).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
