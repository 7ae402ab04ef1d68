// Package anthropic implements a Claude adapter on the official
// anthropic-sdk-go client.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ineyio/metergate"
)

const (
	defaultMaxTokens = 1024
	defaultPrompt    = "Describe this image"
)

// Provider is the Anthropic Messages API adapter.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	maxTokens  int64
}

var _ metergate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// New creates a new Anthropic provider.
func New(opts ...Option) *Provider {
	p := &Provider{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return string(metergate.ProviderAnthropic) }

// client builds a per-request client so each call uses the key from its
// ProviderRequest.
func (p *Provider) client(auth metergate.Auth) sdk.MessageService {
	opts := []option.RequestOption{
		option.WithAPIKey(auth.APIKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	}
	c := sdk.NewClient(opts...)
	return c.Messages
}

func (p *Provider) Generate(ctx context.Context, req metergate.ProviderRequest) (metergate.ProviderResponse, error) {
	messages, system := buildMessages(req)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	svc := p.client(req.Auth)
	resp, err := svc.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return metergate.ProviderResponse{}, ctx.Err()
		}
		return metergate.ProviderResponse{}, mapError(err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: empty response (stop reason %s)",
			metergate.ErrProviderUnavailable, resp.StopReason)
	}

	return metergate.ProviderResponse{
		ID:           resp.ID,
		Content:      content.String(),
		FinishReason: string(resp.StopReason),
		Model:        string(resp.Model),
		Usage: metergate.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// buildMessages converts the request into Messages API turns. System
// messages are lifted into the system prompt.
func buildMessages(req metergate.ProviderRequest) ([]sdk.MessageParam, string) {
	if len(req.Messages) > 0 && req.Image == "" {
		var (
			out    []sdk.MessageParam
			system []string
		)
		for _, m := range req.Messages {
			switch m.Role {
			case "system":
				system = append(system, m.Content)
			case "assistant":
				out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
			default:
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		}
		return out, strings.Join(system, "\n\n")
	}

	prompt := req.PromptText()
	if req.Image == "" {
		return []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))}, ""
	}
	if prompt == "" {
		prompt = defaultPrompt
	}
	return []sdk.MessageParam{sdk.NewUserMessage(
		sdk.NewImageBlockBase64(req.ImageMimeType(), req.Image),
		sdk.NewTextBlock(prompt),
	)}, ""
}

func mapError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", metergate.ErrProviderUnavailable, err)
	}

	status := apiErr.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: [%d] %v", metergate.ErrRateLimited, status, err)
	case status >= 500:
		return fmt.Errorf("%w: [%d] %v", metergate.ErrProviderUnavailable, status, err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: [%d] %v", metergate.ErrAuthFailed, status, err)
	default:
		return fmt.Errorf("%w: [%d] %v", metergate.ErrInvalidRequest, status, err)
	}
}
