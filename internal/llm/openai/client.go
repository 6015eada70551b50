// Package openai implements the structured-extraction service against an
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// DefaultEndpoint is the public chat completions URL.
const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

// ErrEmptyResponse is returned when the service answers without content.
var ErrEmptyResponse = errors.New("extraction service returned no content")

// Config configures the client.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client calls the chat completions API in JSON mode.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

var _ crawler.StructuredExtractor = (*Client)(nil)

// New builds a client. APIKey and Model are required.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, fmt.Errorf("openai client misconfigured: api key and model are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  httpClient,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ExtractJSON sends the instruction and prompt and returns the raw JSON content of the first choice.
func (c *Client) ExtractJSON(ctx context.Context, systemInstruction, userPrompt string) ([]byte, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("extraction service error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("extraction service error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}
	return []byte(decoded.Choices[0].Message.Content), nil
}
