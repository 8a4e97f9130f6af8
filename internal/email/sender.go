package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const postmarkEndpoint = "https://api.postmarkapp.com/email"

// Sender delivers sign-in links. The magic link is the only email the
// product sends, so the interface is shaped around it rather than a
// generic message envelope.
type Sender interface {
	SendMagicLink(ctx context.Context, to, link string) error
}

const (
	magicLinkSubject = "Your HAN-NO sign-in link"
	magicLinkNote    = "This link expires in 15 minutes and can be used once. If you did not request it, you can ignore this email."
)

func magicLinkText(link string) string {
	return fmt.Sprintf("Sign in to HAN-NO:\n\n%s\n\n%s", link, magicLinkNote)
}

func magicLinkHTML(link string) string {
	return fmt.Sprintf(`<p>Sign in to HAN-NO:</p><p><a href="%s">Sign in</a></p><p>%s</p>`, link, magicLinkNote)
}

// PostmarkSender delivers magic links through the Postmark HTTP API.
type PostmarkSender struct {
	serverToken string
	from        string
	endpoint    string
	httpClient  *http.Client
}

// NewPostmarkSender creates a Postmark-backed sender. from is the sender
// address shown to the user.
func NewPostmarkSender(serverToken, from string) *PostmarkSender {
	return &PostmarkSender{
		serverToken: serverToken,
		from:        from,
		endpoint:    postmarkEndpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendMagicLink posts the sign-in email to Postmark.
func (p *PostmarkSender) SendMagicLink(ctx context.Context, to, link string) error {
	payload := struct {
		From     string `json:"From"`
		To       string `json:"To"`
		Subject  string `json:"Subject"`
		HtmlBody string `json:"HtmlBody"`
		TextBody string `json:"TextBody"`
	}{
		From:     p.from,
		To:       to,
		Subject:  magicLinkSubject,
		HtmlBody: magicLinkHTML(link),
		TextBody: magicLinkText(link),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal postmark request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create postmark request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.serverToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("postmark request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var pmErr struct {
			ErrorCode int    `json:"ErrorCode"`
			Message   string `json:"Message"`
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(respBody, &pmErr)
		return fmt.Errorf("postmark error (HTTP %d): code=%d message=%s", resp.StatusCode, pmErr.ErrorCode, pmErr.Message)
	}
	return nil
}

// LogSender logs the sign-in link instead of delivering it, so local
// development works without an email provider.
type LogSender struct {
	logFn func(to, link string)
}

// NewLogSender creates a log-only sender. A nil logFn logs through zerolog.
func NewLogSender(logFn func(to, link string)) *LogSender {
	return &LogSender{logFn: logFn}
}

// SendMagicLink records the link without sending anything.
func (l *LogSender) SendMagicLink(_ context.Context, to, link string) error {
	if l.logFn != nil {
		l.logFn(to, link)
		return nil
	}
	log.Info().Str("to", to).Str("link", link).Msg("Magic link (log sender)")
	return nil
}
