// Package gemini implements an adapter for the Gemini API (AI Studio,
// API-key authenticated generateContent).
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ineyio/metergate"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultPrompt  = "Describe this image"
)

// Provider is the Gemini API adapter.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

var _ metergate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return string(metergate.ProviderGemini) }

// NormalizeModel maps catalog names onto the identifiers the API serves.
func NormalizeModel(model string) string {
	switch model {
	case "gemini-2.0-flash-lite":
		return "gemini-2.0-flash-lite-preview-02-05"
	case "gemini-flash":
		return "gemini-1.5-flash"
	default:
		return model
	}
}

// IsSafetyFinish reports whether a finish reason means the output was
// withheld by safety filters.
func IsSafetyFinish(reason string) bool {
	switch strings.ToUpper(reason) {
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return true
	default:
		return false
	}
}

// PromptText returns the text part for a request: the prompt, the user
// messages, or a default instruction for image-only requests.
func PromptText(req metergate.ProviderRequest) string {
	if text := req.PromptText(); text != "" {
		return text
	}
	return defaultPrompt
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *Provider) Generate(ctx context.Context, req metergate.ProviderRequest) (metergate.ProviderResponse, error) {
	model := NormalizeModel(req.Model)
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(model), url.QueryEscape(req.Auth.APIKey))

	httpResp, err := p.doRequest(ctx, endpoint, buildRequest(req))
	if err != nil {
		return metergate.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return metergate.ProviderResponse{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: decode gemini response: %v", metergate.ErrProviderUnavailable, err)
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return metergate.ProviderResponse{}, fmt.Errorf("%w: %s", metergate.ErrContentBlocked, resp.PromptFeedback.BlockReason)
		}
		return metergate.ProviderResponse{}, fmt.Errorf("%w: empty candidates in gemini response", metergate.ErrProviderUnavailable)
	}

	cand := resp.Candidates[0]
	if IsSafetyFinish(cand.FinishReason) {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: %s", metergate.ErrContentBlocked, cand.FinishReason)
	}

	var content strings.Builder
	for _, part := range cand.Content.Parts {
		content.WriteString(part.Text)
	}
	if content.Len() == 0 {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: empty response (finish reason %s)",
			metergate.ErrProviderUnavailable, cand.FinishReason)
	}

	var usage metergate.Usage
	if resp.UsageMetadata != nil {
		usage = metergate.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return metergate.ProviderResponse{
		Content:      content.String(),
		FinishReason: strings.ToLower(cand.FinishReason),
		Model:        req.Model,
		Usage:        usage,
	}, nil
}

func buildRequest(req metergate.ProviderRequest) geminiRequest {
	if len(req.Messages) > 0 && req.Image == "" {
		contents := make([]geminiContent, 0, len(req.Messages))
		for _, m := range req.Messages {
			role := m.Role
			if role == "assistant" {
				role = "model"
			}
			contents = append(contents, geminiContent{
				Role:  role,
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
		return geminiRequest{Contents: contents}
	}

	parts := []geminiPart{{Text: PromptText(req)}}
	if req.Image != "" {
		parts = append(parts, geminiPart{InlineData: &inlineData{
			MimeType: req.ImageMimeType(),
			Data:     req.Image,
		}})
	}
	return geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}}
}

func (p *Provider) doRequest(ctx context.Context, endpoint string, body geminiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal gemini request: %v", metergate.ErrInvalidRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini request: %v", metergate.ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", metergate.ErrProviderUnavailable, err)
	}
	return resp, nil
}

// MapStatus classifies a Gemini/Vertex HTTP status and error message.
func MapStatus(status int, msg string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: [%d] %s", metergate.ErrRateLimited, status, msg)
	case status >= 500:
		return fmt.Errorf("%w: [%d] %s", metergate.ErrProviderUnavailable, status, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: [%d] %s", metergate.ErrAuthFailed, status, msg)
	default:
		return fmt.Errorf("%w: [%d] %s", metergate.ErrInvalidRequest, status, msg)
	}
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		msg = e.Error.Message
	}
	return MapStatus(resp.StatusCode, msg)
}
