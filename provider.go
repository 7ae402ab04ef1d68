package metergate

import "context"

// Provider is the interface that inference provider adapters must implement.
//
// Adapters classify their failures: errors wrapping ErrInvalidRequest,
// ErrAuthFailed or ErrContentBlocked abort the candidate chain; anything
// else (ErrRateLimited, ErrProviderUnavailable, transport errors) lets the
// dispatcher advance to the next candidate.
type Provider interface {
	// Name returns the provider key the adapter serves (e.g. "gemini", "openai").
	Name() string

	// Generate performs one synchronous generation call.
	Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// Auth holds authentication credentials for a provider account.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// ProviderRequest is the normalized request sent to a provider adapter.
type ProviderRequest struct {
	Auth     Auth
	Model    string
	Prompt   string
	Messages []Message
	Image    string // base64
	MimeType string
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	ID           string
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}

// PromptText returns the prompt, or the concatenated user message content
// when the request was sent in message form.
func (r ProviderRequest) PromptText() string {
	if r.Prompt != "" || len(r.Messages) == 0 {
		return r.Prompt
	}
	var text string
	for _, m := range r.Messages {
		if m.Role != "user" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += m.Content
	}
	return text
}

// ImageMimeType returns MimeType or the image/jpeg default.
func (r ProviderRequest) ImageMimeType() string {
	if r.MimeType == "" {
		return "image/jpeg"
	}
	return r.MimeType
}
