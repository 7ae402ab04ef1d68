package meter_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/metergate"
	"github.com/ineyio/metergate/meter"
)

func TestPromMeter_Results(t *testing.T) {
	m := meter.NewPromMeter(nil)

	m.OnResult(metergate.ResultEvent{
		Provider: metergate.ProviderGemini,
		Model:    "gemini-2.0-flash",
		Success:  true,
		Duration: 120 * time.Millisecond,
		Usage:    metergate.Usage{PromptTokens: 10, CompletionTokens: 25},
	})
	m.OnResult(metergate.ResultEvent{
		Provider: metergate.ProviderGemini,
		Model:    "gemini-2.0-flash",
		Duration: time.Second,
		Error:    metergate.ErrRateLimited,
	})
	m.OnResult(metergate.ResultEvent{
		Provider: metergate.ProviderOpenAI,
		Model:    "gpt-4o",
		Skipped:  true,
	})

	expected := `
# HELP metergate_provider_requests_total Provider calls by outcome (success, error, skipped).
# TYPE metergate_provider_requests_total counter
metergate_provider_requests_total{model="gemini-2.0-flash",outcome="error",provider="gemini"} 1
metergate_provider_requests_total{model="gemini-2.0-flash",outcome="success",provider="gemini"} 1
metergate_provider_requests_total{model="gpt-4o",outcome="skipped",provider="openai"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"metergate_provider_requests_total"))

	expected = `
# HELP metergate_tokens_total Tokens reported by providers.
# TYPE metergate_tokens_total counter
metergate_tokens_total{direction="input",provider="gemini"} 10
metergate_tokens_total{direction="output",provider="gemini"} 25
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"metergate_tokens_total"))
}

func TestPromMeter_Charges(t *testing.T) {
	m := meter.NewPromMeter(nil)

	m.OnCharge(metergate.ChargeEvent{CostUSD: 0.002, Units: 34})
	m.OnCharge(metergate.ChargeEvent{CostUSD: 0.25, Units: 4250, Clamped: true})
	m.OnCharge(metergate.ChargeEvent{Units: 5, Error: &metergate.InsufficientBalanceError{Required: 5}})
	m.OnCharge(metergate.ChargeEvent{Units: 5, Error: errors.New("db down")})

	expected := `
# HELP metergate_charges_total Debit attempts by outcome (charged, clamped, refused, error).
# TYPE metergate_charges_total counter
metergate_charges_total{outcome="charged"} 1
metergate_charges_total{outcome="clamped"} 1
metergate_charges_total{outcome="error"} 1
metergate_charges_total{outcome="refused"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"metergate_charges_total"))

	expected = `
# HELP metergate_charged_units_total Balance units debited.
# TYPE metergate_charged_units_total counter
metergate_charged_units_total 4284
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"metergate_charged_units_total"))
}

func TestPromMeter_Queue(t *testing.T) {
	m := meter.NewPromMeter(nil)

	m.OnQueue(metergate.QueueEvent{Waited: 5 * time.Millisecond, Active: 3, Queued: 2})
	m.OnQueue(metergate.QueueEvent{Waited: time.Second, Active: 3, Queued: 1, TimedOut: true})

	expected := `
# HELP metergate_queue_timeouts_total Submissions that timed out waiting for a slot.
# TYPE metergate_queue_timeouts_total counter
metergate_queue_timeouts_total 1
# HELP metergate_scheduler_queued Jobs waiting for a scheduler slot.
# TYPE metergate_scheduler_queued gauge
metergate_scheduler_queued 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"metergate_queue_timeouts_total", "metergate_scheduler_queued"))
}

func TestPromMeter_Handler(t *testing.T) {
	m := meter.NewPromMeter(nil)
	m.OnCharge(metergate.ChargeEvent{CostUSD: 0.01, Units: 170})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "metergate_charged_units_total 170")
}

func TestLogMeter(t *testing.T) {
	var buf bytes.Buffer
	m := meter.NewLogMeter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	m.OnRoute(metergate.RouteEvent{Provider: metergate.ProviderGroq, Model: "llama-3.1-8b-instant", AttemptNum: 1})
	m.OnResult(metergate.ResultEvent{Provider: metergate.ProviderGroq, Skipped: true})
	m.OnCharge(metergate.ChargeEvent{UserID: "alice", Units: 4, Error: metergate.ErrInsufficientBalance})
	m.OnQueue(metergate.QueueEvent{TimedOut: true})

	out := buf.String()
	for _, msg := range []string{`"msg":"route"`, `"msg":"result_skipped"`, `"msg":"charge_refused"`, `"msg":"queue_timeout"`} {
		assert.Contains(t, out, msg)
	}
}

type countingMeter struct{ routes, results, charges, queues int }

func (c *countingMeter) OnRoute(metergate.RouteEvent)   { c.routes++ }
func (c *countingMeter) OnResult(metergate.ResultEvent) { c.results++ }
func (c *countingMeter) OnCharge(metergate.ChargeEvent) { c.charges++ }
func (c *countingMeter) OnQueue(metergate.QueueEvent)   { c.queues++ }

func TestMulti_FansOut(t *testing.T) {
	a, b := &countingMeter{}, &countingMeter{}
	m := meter.Multi{a, &meter.NoopMeter{}, b}

	m.OnRoute(metergate.RouteEvent{})
	m.OnResult(metergate.ResultEvent{})
	m.OnCharge(metergate.ChargeEvent{})
	m.OnQueue(metergate.QueueEvent{})

	for _, c := range []*countingMeter{a, b} {
		assert.Equal(t, countingMeter{1, 1, 1, 1}, *c)
	}
}
