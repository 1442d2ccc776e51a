// Package assistant calls the external classification assistant. Its answers
// are advisory only and never feed the deterministic validators.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fiscalaudit/fiscalaudit-backend/internal/audit/rules"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/config"
	"github.com/fiscalaudit/fiscalaudit-backend/pkg/logger"
)

// Client talks to the assistant service over JSON HTTP. It implements
// rules.Advisor.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates an assistant client from configuration. Returns nil when
// the assistant is disabled, which turns the advisory layer off.
func NewClient(cfg *config.AssistantConfig, log *logger.Logger) *Client {
	if !cfg.Enabled {
		return nil
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout, // model inference can take several seconds
		},
		logger: log.WithComponent("assistant-client"),
	}
}

type suggestRequest struct {
	Description string `json:"description"`
	CurrentCode string `json:"current_code,omitempty"`
}

type suggestResponse struct {
	SuggestedCode string  `json:"suggested_code"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

// SuggestClassification asks the assistant for an NCM suggestion for the
// given product description.
func (c *Client) SuggestClassification(ctx context.Context, description, currentCode string) (*rules.ClassificationSuggestion, error) {
	payload, err := json.Marshal(suggestRequest{
		Description: description,
		CurrentCode: currentCode,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: encode request: %w", err)
	}

	url := c.baseURL + "/api/v1/classify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("assistant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("assistant: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assistant: service returned %d: %s", resp.StatusCode, string(body))
	}

	var out suggestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("assistant: parse response: %w", err)
	}

	c.logger.Debug().
		Str("suggested_code", out.SuggestedCode).
		Float64("confidence", out.Confidence).
		Msg("classification suggestion received")

	return &rules.ClassificationSuggestion{
		SuggestedCode: out.SuggestedCode,
		Confidence:    out.Confidence,
		Rationale:     out.Rationale,
	}, nil
}
