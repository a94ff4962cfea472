// Package nlp provides a client for the stemming service.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"answer-desk/internal/config"
	"answer-desk/pkg/apierr"
	"answer-desk/pkg/log"
)

// Client defines the interface for a stemmer client.
type Client interface {
	Stem(ctx context.Context, sentence string) (string, error)
}

type httpClient struct {
	cfg    config.ServiceConfig
	client *http.Client
}

// NewClient creates a new stemmer client.
func NewClient(cfg config.ServiceConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type stemRequest struct {
	Sentence string `json:"sentence"`
}

type stemResponse struct {
	Sentence        string `json:"sentence"`
	StemmedSentence string `json:"stemmed_sentence"`
}

// Stem 将句子去除停用词并做词干化，返回空格分隔的词干串。
func (c *httpClient) Stem(ctx context.Context, sentence string) (string, error) {
	reqBytes, err := json.Marshal(stemRequest{Sentence: sentence})
	if err != nil {
		return "", fmt.Errorf("failed to marshal stem request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/stem", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create stem request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[NLPClient] 调用词干化服务失败, error: %v", err)
		return "", fmt.Errorf("failed to call stem api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &apierr.Error{Service: "nlp", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var stemResp stemResponse
	if err := json.NewDecoder(resp.Body).Decode(&stemResp); err != nil {
		return "", fmt.Errorf("failed to decode stem response: %w", err)
	}
	return stemResp.StemmedSentence, nil
}
