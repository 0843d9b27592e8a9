package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPAnswerer calls the remote assistant:
//
//	POST {url} {"question": "...", "context": ["..."]}
//	-> {"answer": "...", "confidence": 0..100}
type HTTPAnswerer struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPAnswerer(url, apiKey string, client *http.Client) *HTTPAnswerer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAnswerer{url: url, apiKey: apiKey, client: client}
}

func (a *HTTPAnswerer) AnswerWithConfidence(ctx context.Context, question string, passages []string) (Answer, error) {
	payload, err := json.Marshal(map[string]any{"question": question, "context": passages})
	if err != nil {
		return Answer{}, fmt.Errorf("marshal answer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Answer{}, fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Answer{}, fmt.Errorf("call assistant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Answer{}, fmt.Errorf("assistant returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded struct {
		Answer     string `json:"answer"`
		Confidence *int   `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Answer{}, fmt.Errorf("decode answer response: %w", err)
	}
	if decoded.Confidence == nil {
		return Answer{}, errors.New("assistant response has no confidence")
	}
	return Answer{Text: decoded.Answer, Confidence: *decoded.Confidence}, nil
}
