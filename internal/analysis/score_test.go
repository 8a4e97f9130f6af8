package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateScoresEmpty(t *testing.T) {
	assert.Equal(t, Scores{}, CalculateScores(nil))
	assert.Equal(t, Scores{}, CalculateScores(&Result{}))
}

func TestCalculateScoresSNS(t *testing.T) {
	r := &Result{SocialLinks: &SocialLinks{
		Instagram: "https://instagram.com/shop",
		Twitter:   "https://twitter.com/shop",
		Activity: &SocialActivity{
			Hashtags:         []string{"a", "b", "c", "d", "e", "f"},
			InstagramPosts:   12,
			TwitterFollowers: 800,
		},
	}}
	// 30 + 20 + capped 20 + 15 + 15 = 100
	assert.Equal(t, 100, CalculateScores(r).SNS)

	r = &Result{SocialLinks: &SocialLinks{
		Instagram: "https://instagram.com/shop",
		Activity:  &SocialActivity{Hashtags: []string{"a", "b"}},
	}}
	// 30 + 2*5
	assert.Equal(t, 40, CalculateScores(r).SNS)
}

func TestCalculateScoresStructure(t *testing.T) {
	r := &Result{CompetitorSummary: &CompetitorSummary{
		ProductCount:  5,
		CategoryCount: 3,
		Collections:   []string{"new", "sale"},
	}}
	// 15 + 15 + 12
	assert.Equal(t, 42, CalculateScores(r).Structure)

	r = &Result{CompetitorSummary: &CompetitorSummary{
		ProductCount:  50,
		CategoryCount: 20,
		Collections:   []string{"a", "b", "c", "d", "e", "f"},
	}}
	// capped 30 + 40 + 30
	assert.Equal(t, 100, CalculateScores(r).Structure)
}

func TestCalculateScoresUX(t *testing.T) {
	r := &Result{CompetitorSummary: &CompetitorSummary{
		DOMElements: &DOMElements{
			AddToCart:          true,
			BuyNow:             true,
			ProductVariants:    true,
			ProductDescription: true,
			ProductImages:      true,
		},
		Features: &Features{Search: true, Cart: true, Reviews: true, Wishlist: true},
	}}
	// 20+15+15+15+15 + 4*5 = 100
	assert.Equal(t, 100, CalculateScores(r).UX)

	r = &Result{CompetitorSummary: &CompetitorSummary{
		DOMElements: &DOMElements{AddToCart: true},
		Features:    &Features{Search: true},
	}}
	assert.Equal(t, 25, CalculateScores(r).UX)

	// Features alone score nothing without DOM elements detected.
	r = &Result{CompetitorSummary: &CompetitorSummary{
		Features: &Features{Search: true},
	}}
	assert.Equal(t, 0, CalculateScores(r).UX)
}

func TestCalculateScoresAppsAndTheme(t *testing.T) {
	r := &Result{CompetitorSummary: &CompetitorSummary{
		Apps:  []string{"Klaviyo", "Yotpo", "ReCharge"},
		Theme: "Dawn",
	}}
	s := CalculateScores(r)
	assert.Equal(t, 60, s.App)
	assert.Equal(t, 100, s.Theme)

	r = &Result{CompetitorSummary: &CompetitorSummary{Theme: "Unknown"}}
	assert.Equal(t, 70, CalculateScores(r).Theme)

	r = &Result{CompetitorSummary: &CompetitorSummary{Theme: "Custom"}}
	assert.Equal(t, 90, CalculateScores(r).Theme)

	r = &Result{CompetitorSummary: &CompetitorSummary{
		Apps: []string{"a", "b", "c", "d", "e", "f", "g"},
	}}
	assert.Equal(t, 100, CalculateScores(r).App)
}

func TestGenerateTags(t *testing.T) {
	r := &Result{
		CompetitorSummary: &CompetitorSummary{
			PageType:      "商品",
			ProductCount:  10,
			CategoryCount: 4,
			Features:      &Features{Search: true, Reviews: true, Cart: true},
			Theme:         "Dawn",
			Apps:          []string{"Klaviyo", "SomethingElse"},
		},
		SocialLinks: &SocialLinks{Instagram: "https://instagram.com/shop"},
	}

	tags := GenerateTags(r)
	assert.Equal(t, []string{
		"EC分析", "商品ページ", "商品あり", "カテゴリー構造",
		"検索機能", "レビュー機能", "カート機能",
		"テーマ:Dawn", "アプリあり", "App:Klaviyo", "Instagram",
	}, tags)
}

func TestGenerateTagsSkipsUnknownTheme(t *testing.T) {
	r := &Result{CompetitorSummary: &CompetitorSummary{Theme: "Unknown"}}
	assert.Equal(t, []string{"EC分析"}, GenerateTags(r))
}

func TestClientAnalyze(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/analyze", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "https://shop.example.com", req["url"])

		_ = json.NewEncoder(w).Encode(Result{
			CompetitorSummary: &CompetitorSummary{ProductCount: 4, Theme: "Dawn"},
		})
	}))
	defer engine.Close()

	client := NewClient(engine.URL)
	result, err := client.Analyze(context.Background(), "https://shop.example.com")
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com", result.URL)
	require.NotNil(t, result.Scores)
	assert.Equal(t, 12, result.Scores.Structure)
	assert.Equal(t, 100, result.Scores.Theme)
	assert.Contains(t, result.Tags, "テーマ:Dawn")
}

func TestClientAnalyzeEngineError(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "crawl timed out"})
	}))
	defer engine.Close()

	client := NewClient(engine.URL)
	_, err := client.Analyze(context.Background(), "https://shop.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl timed out")
}

func TestClientAnalyzeRejectsBadURLs(t *testing.T) {
	client := NewClient("http://localhost:0")
	for _, target := range []string{"", "ftp://example.com", "not a url", "https://"} {
		if _, err := client.Analyze(context.Background(), target); err == nil {
			t.Errorf("Analyze(%q) should fail", target)
		}
	}
}
