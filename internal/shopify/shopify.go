package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	apiVersion  = "2024-01"
	ordersLimit = 250
	httpTimeout = 30 * time.Second
)

// Service handles the Shopify OAuth flow and the Admin API calls behind the
// revenue dashboard.
type Service struct {
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       []string
	httpClient   *http.Client
}

// NewService creates a Shopify service with the app credentials.
func NewService(clientID, clientSecret, redirectURL string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		scopes:       []string{"read_orders", "read_products"},
		httpClient:   &http.Client{Timeout: httpTimeout},
	}
}

// oauthConfig builds the per-shop OAuth2 config; Shopify's endpoints live on
// the shop's own domain.
func (s *Service) oauthConfig(shopDomain string) *oauth2.Config {
	base := "https://" + shopDomain
	return &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		RedirectURL:  s.redirectURL,
		Scopes:       s.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NormalizeShopDomain validates a shop identifier and returns the full
// myshopify.com domain.
func NormalizeShopDomain(shop string) (string, error) {
	shop = strings.TrimSpace(strings.ToLower(shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.TrimSuffix(shop, "/")
	if shop == "" {
		return "", fmt.Errorf("shop is required")
	}
	if !strings.Contains(shop, ".") {
		shop += ".myshopify.com"
	}
	if !strings.HasSuffix(shop, ".myshopify.com") {
		return "", fmt.Errorf("shop must be a myshopify.com domain")
	}
	name := strings.TrimSuffix(shop, ".myshopify.com")
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return "", fmt.Errorf("invalid shop name %q", name)
		}
	}
	return shop, nil
}

// AuthorizationURL starts the OAuth flow for a shop. state must be an
// unguessable value the callback can verify.
func (s *Service) AuthorizationURL(shopDomain, state string) string {
	return s.oauthConfig(shopDomain).AuthCodeURL(state)
}

// Exchange trades the callback code for a permanent Admin API token.
func (s *Service) Exchange(ctx context.Context, shopDomain, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.oauthConfig(shopDomain).Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange shopify code: %w", err)
	}
	return token.AccessToken, nil
}

// RevenueSummary aggregates order data into the dashboard metrics.
type RevenueSummary struct {
	TotalOrders        int            `json:"total_orders"`
	TotalRevenue       float64        `json:"total_revenue"`
	UniqueCustomers    int            `json:"unique_customers"`
	RepeatCustomers    int            `json:"repeat_customers"`
	RepeatPurchaseRate float64        `json:"repeat_purchase_rate"`
	AOV                float64        `json:"aov"`
	TimePeriod         string         `json:"time_period"`
	MonthlyTrends      []MonthlyTrend `json:"monthly_trends"`
}

// MonthlyTrend is one month's order volume and revenue.
type MonthlyTrend struct {
	Month   string  `json:"month"`
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

type order struct {
	TotalPrice string    `json:"total_price"`
	CreatedAt  time.Time `json:"created_at"`
	Customer   struct {
		ID int64 `json:"id"`
	} `json:"customer"`
}

type ordersResponse struct {
	Orders []order `json:"orders"`
}

// FetchRevenue pulls the shop's recent orders and aggregates them. The
// window covers the last twelve months.
func (s *Service) FetchRevenue(ctx context.Context, shopDomain, accessToken string) (*RevenueSummary, error) {
	since := time.Now().UTC().AddDate(-1, 0, 0)

	endpoint := fmt.Sprintf("https://%s/admin/api/%s/orders.json", shopDomain, apiVersion)
	q := url.Values{
		"status":         []string{"any"},
		"limit":          []string{strconv.Itoa(ordersLimit)},
		"created_at_min": []string{since.Format(time.RFC3339)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create orders request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch shopify orders: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("shopify orders error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload ordersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode shopify orders: %w", err)
	}

	return aggregateOrders(payload.Orders, since), nil
}

func aggregateOrders(orders []order, since time.Time) *RevenueSummary {
	summary := &RevenueSummary{
		TimePeriod:    fmt.Sprintf("%s - %s", since.Format("2006-01"), time.Now().UTC().Format("2006-01")),
		MonthlyTrends: []MonthlyTrend{},
	}

	customerOrders := map[int64]int{}
	monthly := map[string]*MonthlyTrend{}

	for _, o := range orders {
		amount, err := strconv.ParseFloat(o.TotalPrice, 64)
		if err != nil {
			continue
		}
		summary.TotalOrders++
		summary.TotalRevenue += amount

		if o.Customer.ID != 0 {
			customerOrders[o.Customer.ID]++
		}

		month := o.CreatedAt.UTC().Format("2006-01")
		trend := monthly[month]
		if trend == nil {
			trend = &MonthlyTrend{Month: month}
			monthly[month] = trend
		}
		trend.Orders++
		trend.Revenue += amount
	}

	summary.UniqueCustomers = len(customerOrders)
	for _, n := range customerOrders {
		if n > 1 {
			summary.RepeatCustomers++
		}
	}
	if summary.UniqueCustomers > 0 {
		summary.RepeatPurchaseRate = float64(summary.RepeatCustomers) / float64(summary.UniqueCustomers)
	}
	if summary.TotalOrders > 0 {
		summary.AOV = summary.TotalRevenue / float64(summary.TotalOrders)
	}

	for _, trend := range monthly {
		summary.MonthlyTrends = append(summary.MonthlyTrends, *trend)
	}
	sort.Slice(summary.MonthlyTrends, func(i, j int) bool {
		return summary.MonthlyTrends[i].Month < summary.MonthlyTrends[j].Month
	})

	return summary
}
