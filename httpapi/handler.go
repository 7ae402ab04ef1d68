// Package httpapi exposes a Gateway over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ineyio/metergate"
)

// maxBodyBytes bounds a generate request, base64 image included.
const maxBodyBytes = 20 << 20

// Generator runs one billed generation.
type Generator interface {
	Generate(ctx context.Context, userID string, req metergate.GenerateRequest) (metergate.GenerateResponse, error)
}

// IdentityFunc resolves the authenticated caller of r. ok is false when
// the request carries no identity.
type IdentityFunc func(r *http.Request) (userID string, ok bool)

// HeaderIdentity reads the caller from a header set by the fronting auth
// layer.
func HeaderIdentity(header string) IdentityFunc {
	return func(r *http.Request) (string, bool) {
		id := strings.TrimSpace(r.Header.Get(header))
		return id, id != ""
	}
}

// Handler serves the gateway routes.
type Handler struct {
	gen      Generator
	identity IdentityFunc
	metrics  http.Handler
	validate *validator.Validate
	logger   *slog.Logger
	mux      *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithIdentity sets how callers are identified. Defaults to the
// X-User-ID header.
func WithIdentity(fn IdentityFunc) Option {
	return func(h *Handler) { h.identity = fn }
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a Handler around gen.
func NewHandler(gen Generator, opts ...Option) *Handler {
	h := &Handler{
		gen:      gen,
		identity: HeaderIdentity("X-User-ID"),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default().With("component", "httpapi")
	}

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST /ai/generate", h.handleGenerate)
	h.mux.HandleFunc("GET /healthz", handleHealth)
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type generateBody struct {
	Model    string              `json:"model" validate:"omitempty,max=128"`
	Prompt   string              `json:"prompt" validate:"required_without=Messages"`
	Messages []metergate.Message `json:"messages" validate:"omitempty,dive"`
	Image    string              `json:"image" validate:"omitempty,base64"`
	MimeType string              `json:"mimeType" validate:"omitempty,startswith=image/"`
}

type messageRule struct {
	Role    string `validate:"oneof=system user assistant"`
	Content string `validate:"required"`
}

func (b generateBody) validateWith(v *validator.Validate) error {
	if err := v.Struct(b); err != nil {
		return err
	}
	for _, m := range b.Messages {
		if err := v.Struct(messageRule{Role: m.Role, Content: m.Content}); err != nil {
			return err
		}
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

type insufficientBody struct {
	Error          string `json:"error"`
	RequiredTokens int64  `json:"required_tokens"`
	UserBalance    int64  `json:"user_balance"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return
	}

	var body generateBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if err := body.validateWith(h.validate); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	resp, err := h.gen.Generate(r.Context(), userID, metergate.GenerateRequest{
		Model:    body.Model,
		Prompt:   body.Prompt,
		Messages: body.Messages,
		Image:    body.Image,
		MimeType: body.MimeType,
	})
	if err != nil {
		h.writeError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, userID string, err error) {
	var ib *metergate.InsufficientBalanceError
	if errors.As(err, &ib) {
		writeJSON(w, http.StatusPaymentRequired, insufficientBody{
			Error:          "Insufficient balance",
			RequiredTokens: ib.Required,
			UserBalance:    ib.Balance,
		})
		return
	}

	status := StatusFor(err)
	if status >= 500 {
		h.logger.Error("generate failed", "user", userID, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// StatusFor maps a Generate error onto an HTTP status.
func StatusFor(err error) int {
	var de *metergate.DispatchError
	switch {
	case errors.Is(err, metergate.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, metergate.ErrAdmissionRejected):
		return http.StatusTooManyRequests
	case errors.Is(err, metergate.ErrUserBusy):
		return http.StatusConflict
	case errors.Is(err, metergate.ErrDailyLimitReached):
		return http.StatusForbidden
	case errors.As(err, &de):
		return http.StatusBadGateway
	case errors.Is(err, metergate.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, metergate.ErrQueueTimeout):
		return http.StatusBadGateway
	case errors.Is(err, metergate.ErrSchedulerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
