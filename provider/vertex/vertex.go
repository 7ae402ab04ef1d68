// Package vertex implements a Gemini adapter backed by Vertex AI through
// google.golang.org/genai. When Vertex does not serve a model the request
// is retried once against the AI Studio API.
package vertex

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ineyio/metergate"
	"github.com/ineyio/metergate/provider/gemini"
)

// ContentGenerator is the subset of the genai client the adapter calls.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider is the Vertex AI Gemini adapter.
type Provider struct {
	models   ContentGenerator
	fallback metergate.Provider
	logger   *slog.Logger
}

var _ metergate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithFallback sets the provider used when Vertex does not serve a model.
// Defaults to the AI Studio adapter.
func WithFallback(p metergate.Provider) Option {
	return func(v *Provider) { v.fallback = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Provider) { v.logger = l }
}

// New creates a Vertex provider for project and location using
// application default credentials.
func New(ctx context.Context, project, location string, opts ...Option) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("metergate/vertex: create client: %w", err)
	}
	return NewWithGenerator(client.Models, opts...), nil
}

// NewWithGenerator creates a provider around an existing generator.
func NewWithGenerator(models ContentGenerator, opts ...Option) *Provider {
	p := &Provider{models: models}
	for _, opt := range opts {
		opt(p)
	}
	if p.fallback == nil {
		p.fallback = gemini.New()
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "vertex")
	}
	return p
}

func (p *Provider) Name() string { return string(metergate.ProviderGemini) }

func (p *Provider) Generate(ctx context.Context, req metergate.ProviderRequest) (metergate.ProviderResponse, error) {
	contents, err := buildContents(req)
	if err != nil {
		return metergate.ProviderResponse{}, err
	}

	model := gemini.NormalizeModel(req.Model)
	resp, err := p.models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		if ctx.Err() != nil {
			return metergate.ProviderResponse{}, ctx.Err()
		}
		code, msg, ok := apiError(err)
		if ok && unservedModel(code, msg) {
			p.logger.Info("model not served by vertex, using ai studio", "model", model, "status", code)
			return p.fallback.Generate(ctx, req)
		}
		if ok {
			return metergate.ProviderResponse{}, gemini.MapStatus(code, msg)
		}
		return metergate.ProviderResponse{}, fmt.Errorf("%w: %v", metergate.ErrProviderUnavailable, err)
	}
	return toResponse(req.Model, resp)
}

func buildContents(req metergate.ProviderRequest) ([]*genai.Content, error) {
	if len(req.Messages) > 0 && req.Image == "" {
		contents := make([]*genai.Content, 0, len(req.Messages))
		for _, m := range req.Messages {
			role := genai.Role(genai.RoleUser)
			if m.Role == "assistant" {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromText(m.Content, role))
		}
		return contents, nil
	}

	parts := []*genai.Part{genai.NewPartFromText(gemini.PromptText(req))}
	if req.Image != "" {
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return nil, fmt.Errorf("%w: image is not valid base64: %v", metergate.ErrInvalidRequest, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, req.ImageMimeType()))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

func toResponse(model string, resp *genai.GenerateContentResponse) (metergate.ProviderResponse, error) {
	if resp == nil {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: nil vertex response", metergate.ErrProviderUnavailable)
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return metergate.ProviderResponse{}, fmt.Errorf("%w: %s", metergate.ErrContentBlocked, resp.PromptFeedback.BlockReason)
		}
		return metergate.ProviderResponse{}, fmt.Errorf("%w: empty candidates in vertex response", metergate.ErrProviderUnavailable)
	}

	cand := resp.Candidates[0]
	finish := string(cand.FinishReason)
	if gemini.IsSafetyFinish(finish) {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: %s", metergate.ErrContentBlocked, finish)
	}

	var content strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part != nil {
				content.WriteString(part.Text)
			}
		}
	}
	if content.Len() == 0 {
		return metergate.ProviderResponse{}, fmt.Errorf("%w: empty response (finish reason %s)",
			metergate.ErrProviderUnavailable, finish)
	}

	var usage metergate.Usage
	if u := resp.UsageMetadata; u != nil {
		usage = metergate.Usage{
			PromptTokens:     int64(u.PromptTokenCount),
			CompletionTokens: int64(u.CandidatesTokenCount),
			TotalTokens:      int64(u.TotalTokenCount),
		}
	}

	return metergate.ProviderResponse{
		Content:      content.String(),
		FinishReason: strings.ToLower(finish),
		Model:        model,
		Usage:        usage,
	}, nil
}

// unservedModel reports whether Vertex rejected the model itself rather
// than the request.
func unservedModel(code int, msg string) bool {
	return code == 404 || (code == 400 && strings.Contains(msg, "Publisher Model"))
}

func apiError(err error) (int, string, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, v.Message, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, p.Message, true
	}
	return 0, "", false
}
