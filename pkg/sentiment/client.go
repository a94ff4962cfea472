// Package sentiment provides a client for the sentiment analysis service.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"answer-desk/internal/config"
	"answer-desk/pkg/apierr"
)

// Client defines the interface for a sentiment client.
type Client interface {
	Analyze(ctx context.Context, sentence string) (float64, error)
}

type httpClient struct {
	cfg    config.ServiceConfig
	client *http.Client
}

// NewClient creates a new sentiment client.
func NewClient(cfg config.ServiceConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type analyzeRequest struct {
	Sentence string `json:"sentence"`
}

type analyzeResponse struct {
	Sentence  string `json:"sentence"`
	Sentiment struct {
		Compound float64 `json:"compound"`
	} `json:"sentiment"`
}

// Analyze returns the compound polarity score of the sentence, in [-1, 1].
func (c *httpClient) Analyze(ctx context.Context, sentence string) (float64, error) {
	reqBytes, err := json.Marshal(analyzeRequest{Sentence: sentence})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal sentiment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/analyze", bytes.NewReader(reqBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to create sentiment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call sentiment api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, &apierr.Error{Service: "sentiment", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode sentiment response: %w", err)
	}
	return out.Sentiment.Compound, nil
}
