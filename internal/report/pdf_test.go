package report

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hanno-ai/hanno/internal/analysis"
)

func TestGenerateRendersReport(t *testing.T) {
	result := &analysis.Result{
		URL: "https://shop.example.com",
		CompetitorSummary: &analysis.CompetitorSummary{
			ProductCount:  3,
			CategoryCount: 2,
			PriceCount:    3,
			Products:      []string{"Tea Set", "Matcha Bowl", "Teapot"},
			Prices:        []string{"¥3,000", "¥1,500", "¥4,200"},
			Categories:    []string{"Teaware", "Gifts"},
			Theme:         "dawn",
		},
		Scores: &analysis.Scores{SNS: 50, Structure: 70, UX: 65, App: 40, Theme: 90},
		Advice: "Add customer reviews to product pages.",
	}

	pdf, err := NewGenerator().Generate(result)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("output does not start with a PDF header: %q", pdf[:min(len(pdf), 8)])
	}
}

func TestGenerateRequiresResult(t *testing.T) {
	if _, err := NewGenerator().Generate(nil); err == nil {
		t.Fatal("expected error for nil result")
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	long := strings.Repeat("抹茶セット", 20)
	got := truncate(long, 70)

	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated string missing ellipsis: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 70 {
		t.Fatalf("rune count = %d, want 70", n)
	}

	short := "抹茶セット"
	if truncate(short, 70) != short {
		t.Fatal("short string was modified")
	}
}
