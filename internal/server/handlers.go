package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hanno-ai/hanno/internal/analysis"
	"github.com/hanno-ai/hanno/internal/metrics"
	"github.com/hanno-ai/hanno/internal/session"
	"github.com/hanno-ai/hanno/internal/shopify"
	"github.com/hanno-ai/hanno/internal/store"
)

const requestBodyLimit = 256 * 1024

type analyzeRequest struct {
	URL string `json:"url"`
}

// handleAnalyze runs a storefront analysis for the signed-in user.
func (d *Deps) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := mustSession(w, r)
	if sess == nil {
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyLimit)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid JSON body"))
		return
	}
	if err := analysis.ValidateURL(req.URL); err != nil {
		metrics.AnalysisRequestsTotal.WithLabelValues("invalid_url").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	result, err := d.Analysis.Analyze(r.Context(), req.URL)
	if err != nil {
		metrics.AnalysisRequestsTotal.WithLabelValues("engine_error").Inc()
		log.Error().Err(err).Str("url", req.URL).Msg("Analysis failed")
		writeJSON(w, http.StatusBadGateway, errorBody("Analysis failed, please try again"))
		return
	}

	metrics.AnalysisRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

// handleHistory lists the signed-in user's saved analyses, newest first.
func (d *Deps) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := mustSession(w, r)
	if sess == nil {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be between 1 and 200"))
			return
		}
		limit = n
	}

	items, err := d.Store.ListHistory(r.Context(), sess.Email, limit)
	if err != nil {
		log.Error().Err(err).Str("email", sess.Email).Msg("Failed to list history")
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to load history"))
		return
	}
	if items == nil {
		items = []*store.HistoryItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

type saveHistoryRequest struct {
	URL           string         `json:"url"`
	ProductCount  int            `json:"product_count"`
	CategoryCount int            `json:"category_count"`
	PriceCount    int            `json:"price_count"`
	HasAdvice     bool           `json:"has_advice"`
	AdviceSummary string         `json:"advice_summary"`
	Tags          []string       `json:"tags"`
	Scores        map[string]int `json:"scores"`
	Summary       map[string]any `json:"summary"`
}

// handleSaveHistory persists one analysis run to the user's history.
func (d *Deps) handleSaveHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := mustSession(w, r)
	if sess == nil {
		return
	}

	var req saveHistoryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyLimit)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid JSON body"))
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("url is required"))
		return
	}

	item := &store.HistoryItem{
		ID:            uuid.NewString(),
		Email:         sess.Email,
		URL:           req.URL,
		AnalyzedAt:    time.Now().UTC(),
		ProductCount:  req.ProductCount,
		CategoryCount: req.CategoryCount,
		PriceCount:    req.PriceCount,
		HasAdvice:     req.HasAdvice,
		AdviceSummary: req.AdviceSummary,
		Tags:          req.Tags,
		Scores:        req.Scores,
		SummaryJSON:   req.Summary,
	}
	if err := d.Store.SaveHistory(r.Context(), item); err != nil {
		log.Error().Err(err).Str("email", sess.Email).Msg("Failed to save history")
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to save history"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": item.ID})
}

type settingsPayload struct {
	OpenAIKey        string `json:"openai_key"`
	NotionToken      string `json:"notion_token"`
	NotionDatabaseID string `json:"notion_database_id"`
	SlackWebhook     string `json:"slack_webhook"`
}

// handleSettings reads or writes the user's integration settings. Secret
// values are returned masked; a save failure is reported as retryable.
func (d *Deps) handleSettings(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(w, r)
	if sess == nil {
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := d.Store.GetSettings(r.Context(), sess.Email)
		if err != nil {
			log.Error().Err(err).Str("email", sess.Email).Msg("Failed to load settings")
			writeJSON(w, http.StatusInternalServerError, errorBody("Unable to load settings"))
			return
		}
		writeJSON(w, http.StatusOK, settingsPayload{
			OpenAIKey:        maskSecret(settings.OpenAIKey),
			NotionToken:      maskSecret(settings.NotionToken),
			NotionDatabaseID: settings.NotionDatabaseID,
			SlackWebhook:     maskSecret(settings.SlackWebhook),
		})

	case http.MethodPost, http.MethodPut:
		var req settingsPayload
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyLimit)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("Invalid JSON body"))
			return
		}
		err := d.Store.SaveSettings(r.Context(), &store.UserSettings{
			Email:            sess.Email,
			OpenAIKey:        req.OpenAIKey,
			NotionToken:      req.NotionToken,
			NotionDatabaseID: req.NotionDatabaseID,
			SlackWebhook:     req.SlackWebhook,
		})
		if err != nil {
			log.Error().Err(err).Str("email", sess.Email).Msg("Failed to save settings")
			// 503 tells the client the write may succeed on retry.
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":     "Unable to save settings",
				"retryable": true,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Settings saved"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGeneratePDF renders an analysis result as a downloadable PDF.
func (d *Deps) handleGeneratePDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if mustSession(w, r) == nil {
		return
	}

	var result analysis.Result
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyLimit)).Decode(&result); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid JSON body"))
		return
	}

	pdf, err := d.Reports.Generate(&result)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate PDF report")
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to generate report"))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "hanno-report-"+time.Now().UTC().Format("20060102-150405")+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// handleShopifyOAuthStart starts the OAuth flow for a shop and returns the
// authorization URL. The state ties the callback to this user.
func (d *Deps) handleShopifyOAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := mustSession(w, r)
	if sess == nil {
		return
	}

	shopDomain, err := shopify.NormalizeShopDomain(r.URL.Query().Get("shop"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	state := d.OAuthStates.Issue(sess.Email, shopDomain)
	writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": d.Shopify.AuthorizationURL(shopDomain, state),
	})
}

// handleShopifyOAuthCallback finishes the OAuth flow: verify state,
// exchange the code, persist the encrypted token, bounce back to settings.
func (d *Deps) handleShopifyOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	email, shopDomain, ok := d.OAuthStates.Consume(q.Get("state"))
	if !ok || q.Get("shop") != shopDomain {
		http.Redirect(w, r, "/settings?shopify=error", http.StatusFound)
		return
	}

	token, err := d.Shopify.Exchange(r.Context(), shopDomain, q.Get("code"))
	if err != nil {
		log.Error().Err(err).Str("shop", shopDomain).Msg("Shopify token exchange failed")
		http.Redirect(w, r, "/settings?shopify=error", http.StatusFound)
		return
	}

	err = d.Store.UpsertShopifyConnection(r.Context(), &store.ShopifyConnection{
		Email:       email,
		StoreDomain: shopDomain,
		AccessToken: token,
	})
	if err != nil {
		log.Error().Err(err).Str("shop", shopDomain).Msg("Failed to save Shopify connection")
		http.Redirect(w, r, "/settings?shopify=error", http.StatusFound)
		return
	}

	log.Info().Str("email", email).Str("shop", shopDomain).Msg("Shopify store connected")
	http.Redirect(w, r, "/settings?shopify=connected", http.StatusFound)
}

// handleShopifyStores lists the user's connected stores (no tokens).
func (d *Deps) handleShopifyStores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := mustSession(w, r)
	if sess == nil {
		return
	}

	conns, err := d.Store.ListShopifyConnections(r.Context(), sess.Email)
	if err != nil {
		log.Error().Err(err).Str("email", sess.Email).Msg("Failed to list Shopify connections")
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to list stores"))
		return
	}

	type storeInfo struct {
		StoreName   string    `json:"store_name"`
		ConnectedAt time.Time `json:"connected_at"`
	}
	stores := make([]storeInfo, 0, len(conns))
	for _, c := range conns {
		stores = append(stores, storeInfo{StoreName: c.StoreDomain, ConnectedAt: c.ConnectedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": stores})
}

// handleShopifyDisconnect removes a connected store.
func (d *Deps) handleShopifyDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := mustSession(w, r)
	if sess == nil {
		return
	}

	var req struct {
		StoreDomain string `json:"store_domain"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid JSON body"))
		return
	}
	if err := d.Store.DeleteShopifyConnection(r.Context(), sess.Email, req.StoreDomain); err != nil {
		log.Error().Err(err).Str("email", sess.Email).Msg("Failed to disconnect Shopify store")
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to disconnect store"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Store disconnected"})
}

// handleShopifyRevenue aggregates order data for one connected store.
func (d *Deps) handleShopifyRevenue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := mustSession(w, r)
	if sess == nil {
		return
	}

	shopDomain, err := shopify.NormalizeShopDomain(r.URL.Query().Get("store_name"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	conn, err := d.Store.GetShopifyConnection(r.Context(), sess.Email, shopDomain)
	if err != nil {
		log.Error().Err(err).Str("shop", shopDomain).Msg("Failed to load Shopify connection")
		writeJSON(w, http.StatusInternalServerError, errorBody("Unable to load store connection"))
		return
	}
	if conn == nil {
		writeJSON(w, http.StatusNotFound, errorBody("Store is not connected"))
		return
	}

	summary, err := d.Shopify.FetchRevenue(r.Context(), shopDomain, conn.AccessToken)
	if err != nil {
		log.Error().Err(err).Str("shop", shopDomain).Msg("Failed to fetch Shopify revenue")
		writeJSON(w, http.StatusBadGateway, errorBody("Unable to fetch revenue data"))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// mustSession returns the request session or writes a 401. The gate rejects
// anonymous API requests already; this guards direct handler use in tests
// and any future unclassified route.
func mustSession(w http.ResponseWriter, r *http.Request) *session.Session {
	sess := session.FromContext(r.Context())
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("Unauthorized"))
		return nil
	}
	return sess
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Int("status", status).Msg("Failed to encode response")
	}
}
