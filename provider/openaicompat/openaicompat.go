// Package openaicompat implements an adapter for OpenAI-style chat
// completion APIs. It serves OpenAI and Groq.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ineyio/metergate"
)

const (
	// Prompts longer than truncateAbove are cut to truncateTo characters
	// when sent alongside an image.
	truncateAbove   = 50000
	truncateTo      = 1000
	truncatedMarker = "... [TRUNCATED]"
	defaultPrompt   = "Describe this image"
)

// Provider is an OpenAI-compatible chat completions adapter.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

var _ metergate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(opts ...Option) *Provider {
	return New(string(metergate.ProviderOpenAI), "https://api.openai.com/v1", opts...)
}

// NewGroq creates a provider for Groq.
func NewGroq(opts ...Option) *Provider {
	return New(string(metergate.ProviderGroq), "https://api.groq.com/openai/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

type apiRequest struct {
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
}

// apiMessage.Content is a string or a []contentPart.
type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) Generate(ctx context.Context, req metergate.ProviderRequest) (metergate.ProviderResponse, error) {
	httpResp, err := p.doRequest(ctx, req.Auth, buildRequest(req))
	if err != nil {
		return metergate.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return metergate.ProviderResponse{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: decode response: %v", metergate.ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: empty choices in response", metergate.ErrProviderUnavailable)
	}

	return metergate.ProviderResponse{
		ID:           resp.ID,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        resp.Model,
		Usage: metergate.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func buildRequest(req metergate.ProviderRequest) apiRequest {
	if len(req.Messages) > 0 {
		msgs := make([]apiMessage, len(req.Messages))
		for i, m := range req.Messages {
			msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
		}
		return apiRequest{Model: req.Model, Messages: msgs}
	}

	if req.Image == "" {
		return apiRequest{
			Model:    req.Model,
			Messages: []apiMessage{{Role: "user", Content: req.Prompt}},
		}
	}

	return apiRequest{
		Model: req.Model,
		Messages: []apiMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: imagePrompt(req.Prompt)},
				{Type: "image_url", ImageURL: &imageURL{
					URL:    "data:" + req.ImageMimeType() + ";base64," + req.Image,
					Detail: "low",
				}},
			},
		}},
	}
}

func imagePrompt(prompt string) string {
	switch {
	case prompt == "":
		return defaultPrompt
	case len(prompt) > truncateAbove:
		return prompt[:truncateTo] + truncatedMarker
	default:
		return prompt
	}
}

func (p *Provider) doRequest(ctx context.Context, auth metergate.Auth, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", metergate.ErrInvalidRequest, err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", metergate.ErrInvalidRequest, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+auth.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", metergate.ErrProviderUnavailable, err)
	}
	return resp, nil
}

// mapHTTPError classifies a non-2xx response. 429 and 5xx are retryable;
// other client errors abort the chain.
func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := errorMessage(body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: [%d] %s", metergate.ErrRateLimited, resp.StatusCode, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: [%d] %s", metergate.ErrProviderUnavailable, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: [%d] %s", metergate.ErrAuthFailed, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: [%d] %s", metergate.ErrInvalidRequest, resp.StatusCode, msg)
	}
}

func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}
