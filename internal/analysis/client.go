package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const analyzeTimeout = 120 * time.Second

// Client calls the analysis engine that crawls and summarizes a storefront.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an analysis client for the engine at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: analyzeTimeout,
		},
	}
}

type analyzeRequest struct {
	URL string `json:"url"`
}

type engineError struct {
	Detail string `json:"detail"`
}

// ValidateURL checks that target looks like a crawlable http(s) URL.
func ValidateURL(target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// Analyze runs a full storefront analysis. The scores and tags are computed
// locally so the engine only has to crawl.
func (c *Client) Analyze(ctx context.Context, target string) (*Result, error) {
	if err := ValidateURL(target); err != nil {
		return nil, err
	}

	body, err := json.Marshal(analyzeRequest{URL: target})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var engErr engineError
		if json.Unmarshal(respBody, &engErr) == nil && engErr.Detail != "" {
			return nil, fmt.Errorf("analysis engine error (HTTP %d): %s", resp.StatusCode, engErr.Detail)
		}
		return nil, fmt.Errorf("analysis engine error (HTTP %d)", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}
	result.URL = target

	scores := CalculateScores(&result)
	result.Scores = &scores
	result.Tags = GenerateTags(&result)
	return &result, nil
}
