package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hanno-ai/hanno/internal/analysis"
	"github.com/hanno-ai/hanno/internal/auth"
	"github.com/hanno-ai/hanno/internal/billing"
	"github.com/hanno-ai/hanno/internal/gate"
	"github.com/hanno-ai/hanno/internal/logging"
	"github.com/hanno-ai/hanno/internal/metrics"
	"github.com/hanno-ai/hanno/internal/report"
	"github.com/hanno-ai/hanno/internal/session"
	"github.com/hanno-ai/hanno/internal/shopify"
	"github.com/hanno-ai/hanno/internal/store"
)

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Config      *Config
	Store       *store.Store
	Sessions    *session.Issuer
	Auth        *auth.Handlers
	Webhook     *billing.WebhookHandler
	Checkout    *billing.CheckoutHandlers
	Analysis    *analysis.Client
	Reports     *report.Generator
	Shopify     *shopify.Service
	OAuthStates *OAuthStateStore
}

// Handler assembles the full middleware chain and route table. Order
// matters: security headers go on every response, the gate classifies and
// filters before any handler runs, and request logging wraps the mux so it
// sees the final status code.
func (d *Deps) Handler() http.Handler {
	mux := http.NewServeMux()
	d.registerRoutes(mux)

	var h http.Handler = d.requestLog(mux)
	h = gate.Middleware(d.Sessions, d.Config.SecureCookies(), h)
	h = SecurityHeaders(h)
	return h
}

func (d *Deps) registerRoutes(mux *http.ServeMux) {
	loginLimiter := NewRateLimiter("login", 10, time.Minute)
	webhookLimiter := NewRateLimiter("stripe_webhook", 300, time.Minute)

	// Auth flow (public by design; the gate exempts /api/auth/*).
	mux.Handle("/api/auth/login", loginLimiter.Middleware(http.HandlerFunc(d.Auth.HandleLoginRequest)))
	mux.HandleFunc("/api/auth/verify", d.Auth.HandleVerify)
	mux.HandleFunc("/api/auth/logout", d.Auth.HandleLogout)
	mux.HandleFunc("/api/auth/session", d.Auth.HandleSession)

	// Stripe webhook lives outside /api: it authenticates with its
	// signature, not a session.
	mux.Handle("/webhooks/stripe", webhookLimiter.Middleware(d.Webhook))

	// Session-protected API (the gate guarantees a session here).
	mux.HandleFunc("/api/analyze", d.handleAnalyze)
	mux.HandleFunc("/api/history", d.handleHistory)
	mux.HandleFunc("/api/save-history", d.handleSaveHistory)
	mux.HandleFunc("/api/user-settings", d.handleSettings)
	mux.HandleFunc("/api/generate-pdf", d.handleGeneratePDF)
	mux.HandleFunc("/api/create-checkout-session", d.Checkout.HandleCreateCheckout)
	mux.HandleFunc("/api/create-portal-session", d.Checkout.HandleCreatePortal)
	mux.HandleFunc("/api/shopify/oauth/start", d.handleShopifyOAuthStart)
	// The callback is a top-level browser redirect from Shopify, so the
	// Lax session cookie rides along; the state parameter ties the code
	// to the user who started the flow.
	mux.HandleFunc("/api/shopify/oauth/callback", d.handleShopifyOAuthCallback)
	mux.HandleFunc("/api/shopify/stores", d.handleShopifyStores)
	mux.HandleFunc("/api/shopify/disconnect", d.handleShopifyDisconnect)
	mux.HandleFunc("/api/shopify/revenue-data", d.handleShopifyRevenue)

	// Pages.
	mux.HandleFunc("/", d.handleIndex)
	mux.HandleFunc("/login", d.handleLoginPage)
	mux.HandleFunc("/pricing", d.handlePricingPage)
	mux.HandleFunc("/dashboard", d.handleAppPage("Dashboard"))
	mux.HandleFunc("/analyze", d.handleAppPage("Analyze"))
	mux.HandleFunc("/settings", d.handleAppPage("Settings"))

	// Operational endpoints.
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.HandleFunc("/readyz", d.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

func (d *Deps) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, reqID := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", reqID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Str("request_id", reqID).
					Msg("Panic in HTTP handler")
				if !rw.written {
					writeJSON(rw, http.StatusInternalServerError, errorBody("Internal server error"))
				}
			}
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))

		class := gate.Classify(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(string(class), r.Method, strconv.Itoa(rw.statusCode)).Inc()
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start)).
			Str("request_id", reqID).
			Msg("HTTP request")
	})
}

func (d *Deps) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Deps) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ping(); err != nil {
		log.Warn().Err(err).Msg("Readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
