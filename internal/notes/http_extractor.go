package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPExtractor calls a remote extraction service:
//
//	POST {url} {"text": "...", "taxonomy": ["vendor", ...]}
//	-> {"facts": [{"category": "...", "content": "...", "excerpt": "..."}]}
type HTTPExtractor struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPExtractor(url, apiKey string, client *http.Client) *HTTPExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExtractor{url: url, apiKey: apiKey, client: client}
}

func (e *HTTPExtractor) Extract(ctx context.Context, text string, taxonomy []Category) ([]Candidate, error) {
	payload, err := json.Marshal(map[string]any{"text": text, "taxonomy": taxonomy})
	if err != nil {
		return nil, fmt.Errorf("marshal extraction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded struct {
		Facts []Candidate `json:"facts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	return decoded.Facts, nil
}
