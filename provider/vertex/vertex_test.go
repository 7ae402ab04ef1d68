package vertex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/ineyio/metergate"
	"github.com/ineyio/metergate/provider/mock"
)

type fakeGenerator struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	return f.resp, f.err
}

func textResponse(text string, finish genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: finish,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     7,
			CandidatesTokenCount: 3,
			TotalTokenCount:      10,
		},
	}
}

func TestGenerate_Success(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("Bonjour", genai.FinishReasonStop)}
	p := NewWithGenerator(gen, WithFallback(mock.New(mock.WithName("gemini"))))

	resp, err := p.Generate(context.Background(), metergate.ProviderRequest{
		Model:    "gemini-flash",
		Prompt:   "Say hello in French",
		Image:    "aGVsbG8=",
		MimeType: "image/png",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bonjour", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gemini-flash", resp.Model)
	assert.Equal(t, metergate.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, resp.Usage)

	assert.Equal(t, "gemini-1.5-flash", gen.model)
	require.Len(t, gen.contents, 1)
	parts := gen.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "Say hello in French", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, []byte("hello"), parts[1].InlineData.Data)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
}

func TestGenerate_UnservedModelFallsBack(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", genai.APIError{Code: 404, Message: "model not found"}},
		{"publisher model", genai.APIError{Code: 400, Message: "Publisher Model `x` is not servable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := mock.New(mock.WithName("gemini"), mock.WithContent("from studio"))
			p := NewWithGenerator(&fakeGenerator{err: tt.err}, WithFallback(fallback))

			resp, err := p.Generate(context.Background(), metergate.ProviderRequest{
				Model: "gemini-3.0-pro-preview", Prompt: "hi",
			})
			require.NoError(t, err)
			assert.Equal(t, "from studio", resp.Content)
			assert.Equal(t, int64(1), fallback.CallCount())
		})
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", genai.APIError{Code: 429, Message: "quota"}, metergate.ErrRateLimited},
		{"unavailable", genai.APIError{Code: 503, Message: "overloaded"}, metergate.ErrProviderUnavailable},
		{"bad request", genai.APIError{Code: 400, Message: "invalid argument"}, metergate.ErrInvalidRequest},
		{"transport", errors.New("connection reset"), metergate.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := mock.New(mock.WithName("gemini"))
			p := NewWithGenerator(&fakeGenerator{err: tt.err}, WithFallback(fallback))

			_, err := p.Generate(context.Background(), metergate.ProviderRequest{Model: "gemini-2.0-flash", Prompt: "hi"})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(0), fallback.CallCount())
		})
	}
}

func TestGenerate_Safety(t *testing.T) {
	t.Run("finish reason", func(t *testing.T) {
		p := NewWithGenerator(&fakeGenerator{resp: textResponse("", genai.FinishReasonSafety)})
		_, err := p.Generate(context.Background(), metergate.ProviderRequest{Model: "gemini-2.0-flash", Prompt: "hi"})
		assert.ErrorIs(t, err, metergate.ErrContentBlocked)
	})
	t.Run("prompt feedback", func(t *testing.T) {
		p := NewWithGenerator(&fakeGenerator{resp: &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		}})
		_, err := p.Generate(context.Background(), metergate.ProviderRequest{Model: "gemini-2.0-flash", Prompt: "hi"})
		assert.ErrorIs(t, err, metergate.ErrContentBlocked)
	})
}

func TestGenerate_BadImage(t *testing.T) {
	gen := &fakeGenerator{}
	p := NewWithGenerator(gen)
	_, err := p.Generate(context.Background(), metergate.ProviderRequest{Model: "gemini-2.0-flash", Image: "%%%"})
	assert.ErrorIs(t, err, metergate.ErrInvalidRequest)
	assert.Empty(t, gen.model, "nothing sent")
}
