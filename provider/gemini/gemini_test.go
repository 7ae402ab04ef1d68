package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/metergate"
)

func serve(t *testing.T, status int, body string, check func(r *http.Request, req geminiRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			raw, _ := io.ReadAll(r.Body)
			var req geminiRequest
			require.NoError(t, json.Unmarshal(raw, &req))
			check(r, req)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate_Success(t *testing.T) {
	srv := serve(t, http.StatusOK, `{
		"candidates": [{"content": {"parts": [{"text": "Hello"}, {"text": " world"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
	}`, func(r *http.Request, req geminiRequest) {
		assert.Equal(t, "/models/gemini-2.0-flash-lite-preview-02-05:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.URL.Query().Get("key"))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Equal(t, "hi", req.Contents[0].Parts[0].Text)
	})

	resp, err := New(WithBaseURL(srv.URL)).Generate(context.Background(), metergate.ProviderRequest{
		Auth:   metergate.Auth{APIKey: "g-key"},
		Model:  "gemini-2.0-flash-lite",
		Prompt: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gemini-2.0-flash-lite", resp.Model)
	assert.Equal(t, int64(6), resp.Usage.TotalTokens)
}

func TestGenerate_Blocked(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"prompt blocked", `{"candidates": [], "promptFeedback": {"blockReason": "SAFETY"}}`, metergate.ErrContentBlocked},
		{"safety finish", `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`, metergate.ErrContentBlocked},
		{"prohibited", `{"candidates": [{"content": {"parts": [{"text": "x"}]}, "finishReason": "PROHIBITED_CONTENT"}]}`, metergate.ErrContentBlocked},
		{"no candidates", `{"candidates": []}`, metergate.ErrProviderUnavailable},
		{"empty text", `{"candidates": [{"content": {"parts": []}, "finishReason": "MAX_TOKENS"}]}`, metergate.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, http.StatusOK, tt.body, nil)
			_, err := New(WithBaseURL(srv.URL)).Generate(context.Background(), metergate.ProviderRequest{
				Model: "gemini-2.0-flash", Prompt: "hi",
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerate_HTTPError(t *testing.T) {
	srv := serve(t, http.StatusTooManyRequests, `{"error": {"message": "Resource has been exhausted"}}`, nil)
	_, err := New(WithBaseURL(srv.URL)).Generate(context.Background(), metergate.ProviderRequest{
		Model: "gemini-2.0-flash", Prompt: "hi",
	})
	assert.ErrorIs(t, err, metergate.ErrRateLimited)
	assert.Contains(t, err.Error(), "Resource has been exhausted")
}

func TestBuildRequest(t *testing.T) {
	t.Run("image", func(t *testing.T) {
		req := buildRequest(metergate.ProviderRequest{Image: "aGVsbG8="})
		parts := req.Contents[0].Parts
		require.Len(t, parts, 2)
		assert.Equal(t, defaultPrompt, parts[0].Text)
		assert.Equal(t, "image/jpeg", parts[1].InlineData.MimeType)
		assert.Equal(t, "aGVsbG8=", parts[1].InlineData.Data)
	})
	t.Run("messages", func(t *testing.T) {
		req := buildRequest(metergate.ProviderRequest{Messages: []metergate.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		}})
		require.Len(t, req.Contents, 2)
		assert.Equal(t, "model", req.Contents[1].Role)
	})
}

func TestMapStatus(t *testing.T) {
	assert.ErrorIs(t, MapStatus(503, "x"), metergate.ErrProviderUnavailable)
	assert.ErrorIs(t, MapStatus(403, "x"), metergate.ErrAuthFailed)
	assert.ErrorIs(t, MapStatus(404, "x"), metergate.ErrInvalidRequest)
}
