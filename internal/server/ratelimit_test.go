package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	rl := NewRateLimiter("test", 2, time.Minute)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if ok, _ := rl.Allow("10.0.0.1", t0); !ok {
		t.Fatal("first request denied")
	}
	if ok, _ := rl.Allow("10.0.0.1", t0.Add(time.Second)); !ok {
		t.Fatal("second request denied")
	}
	ok, retryAfter := rl.Allow("10.0.0.1", t0.Add(2*time.Second))
	if ok {
		t.Fatal("third request allowed over the limit")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter = %v", retryAfter)
	}

	// Another client is not affected.
	if ok, _ := rl.Allow("10.0.0.2", t0.Add(2*time.Second)); !ok {
		t.Fatal("independent client denied")
	}

	// The window rolls over and the client is admitted again.
	if ok, _ := rl.Allow("10.0.0.1", t0.Add(time.Minute+time.Second)); !ok {
		t.Fatal("request after window rollover denied")
	}
}

func TestRateLimitMiddlewareAnswersJSON429(t *testing.T) {
	rl := NewRateLimiter("test", 1, time.Minute)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("body = %v, want JSON error envelope", body)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 192.0.2.9")
	if ip := clientIP(req); ip != "203.0.113.7" {
		t.Fatalf("clientIP = %q", ip)
	}

	req.Header.Del("X-Forwarded-For")
	if ip := clientIP(req); ip != "192.0.2.9" {
		t.Fatalf("clientIP = %q", ip)
	}
}
