package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostmarkSenderDeliversLink(t *testing.T) {
	var gotToken string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewPostmarkSender("pm-token", "noreply@app.test")
	s.endpoint = srv.URL

	link := "https://app.test/api/auth/verify?token=abc123"
	if err := s.SendMagicLink(context.Background(), "user@example.com", link); err != nil {
		t.Fatalf("SendMagicLink: %v", err)
	}

	if gotToken != "pm-token" {
		t.Fatalf("server token = %q", gotToken)
	}
	if gotPayload["From"] != "noreply@app.test" || gotPayload["To"] != "user@example.com" {
		t.Fatalf("payload addressing = %v", gotPayload)
	}
	if !strings.Contains(gotPayload["TextBody"], link) || !strings.Contains(gotPayload["HtmlBody"], link) {
		t.Fatalf("payload bodies missing link: %v", gotPayload)
	}
	if !strings.Contains(gotPayload["TextBody"], "15 minutes") {
		t.Fatalf("text body missing expiry note: %q", gotPayload["TextBody"])
	}
}

func TestPostmarkSenderSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer srv.Close()

	s := NewPostmarkSender("pm-token", "noreply@app.test")
	s.endpoint = srv.URL

	err := s.SendMagicLink(context.Background(), "user@example.com", "https://app.test/link")
	if err == nil {
		t.Fatal("expected error from Postmark failure")
	}
	if !strings.Contains(err.Error(), "code=300") {
		t.Fatalf("error = %v, want Postmark error code", err)
	}
}

func TestLogSenderCapturesLink(t *testing.T) {
	var gotTo, gotLink string
	s := NewLogSender(func(to, link string) {
		gotTo, gotLink = to, link
	})

	if err := s.SendMagicLink(context.Background(), "user@example.com", "https://app.test/link"); err != nil {
		t.Fatalf("SendMagicLink: %v", err)
	}
	if gotTo != "user@example.com" || gotLink != "https://app.test/link" {
		t.Fatalf("captured %q %q", gotTo, gotLink)
	}
}
