package generation

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

	"github.com/swhoho/fortune-sub003/pkg/config"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.openai.com/v1"
	defaultModel               = "gpt-4o-mini"
	errorBodyReadLimit   int64 = 1024
	analysisSystemPrompt       = "You are a seasoned fortune-telling analyst. Answer with a single JSON object containing the keys summary, sections and advice. Sections is an array of {title, body} objects."
	followUpSystemPrompt       = "You are a seasoned fortune-telling analyst answering a follow-up question about a reading you already produced. Answer in plain prose."
)

var errAPIKeyRequired = errors.New("generation api key is required")

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured completions base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the generation client from config.
func NewClient(cfg config.GenerationConfig, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(cfg.APIKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: timeout},
	}
	if trimmed := strings.TrimSpace(cfg.BaseURL); trimmed != "" {
		client.baseURL = trimmed
	}
	if trimmed := strings.TrimSpace(cfg.Model); trimmed != "" {
		client.model = trimmed
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateAnalysis produces the full reading payload for one job.
func (c *Client) GenerateAnalysis(ctx context.Context, req AnalysisRequest) (json.RawMessage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "generation client not configured")
	}
	if req.Profile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile is required")
	}
	if !req.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid analysis kind %q", req.Kind))
	}

	content, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: analysisPrompt(req)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(content)
	if !json.Valid(raw) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "model returned malformed analysis payload")
	}
	return raw, nil
}

// GenerateFollowUp answers one question against a completed reading.
func (c *Client) GenerateFollowUp(ctx context.Context, req FollowUpRequest) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "generation client not configured")
	}
	if strings.TrimSpace(req.Question) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "question is required")
	}

	content, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: followUpSystemPrompt},
			{Role: "user", Content: followUpPrompt(req)},
		},
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(content)
	if answer == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "model returned an empty answer")
	}
	return answer, nil
}

func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal completion request")
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.baseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build completion request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute completion request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "completion request failed")
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode completion response")
	}
	if len(apiResp.Choices) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "completion response has no choices")
	}

	return apiResp.Choices[0].Message.Content, nil
}

func analysisPrompt(req AnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce a %s reading for the period %s.\n", req.Kind, req.Period)
	fmt.Fprintf(&b, "Subject: %s, born %s", req.Profile.Name, req.Profile.BirthDate.Format("2006-01-02"))
	if req.Profile.BirthTime != nil {
		fmt.Fprintf(&b, " at %s", *req.Profile.BirthTime)
	}
	if req.Profile.BirthPlace != nil {
		fmt.Fprintf(&b, " in %s", *req.Profile.BirthPlace)
	}
	if req.Profile.Gender != nil {
		fmt.Fprintf(&b, ", gender %s", *req.Profile.Gender)
	}
	b.WriteString(".")
	return b.String()
}

func followUpPrompt(req FollowUpRequest) string {
	var b strings.Builder
	if req.Profile != nil {
		fmt.Fprintf(&b, "Subject: %s, born %s.\n", req.Profile.Name, req.Profile.BirthDate.Format("2006-01-02"))
	}
	if len(req.Analysis) > 0 {
		fmt.Fprintf(&b, "Existing reading:\n%s\n\n", string(req.Analysis))
	}
	fmt.Fprintf(&b, "Question: %s", req.Question)
	return b.String()
}

var _ Generator = (*Client)(nil)
