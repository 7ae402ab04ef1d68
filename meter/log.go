package meter

import (
	"log/slog"

	"github.com/ineyio/metergate"
)

// LogMeter logs gateway events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ metergate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRoute(e metergate.RouteEvent) {
	m.Logger.Info("route",
		"provider", e.Provider,
		"model", e.Model,
		"attempt", e.AttemptNum,
		"estimated_tokens", e.EstimatedIn,
	)
}

func (m *LogMeter) OnResult(e metergate.ResultEvent) {
	switch {
	case e.Skipped:
		m.Logger.Info("result_skipped",
			"provider", e.Provider,
			"model", e.Model,
			"error", e.Error,
		)
	case e.Success:
		m.Logger.Info("result",
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
		)
	default:
		m.Logger.Warn("result_error",
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnCharge(e metergate.ChargeEvent) {
	if e.Error != nil {
		m.Logger.Warn("charge_refused",
			"user", e.UserID,
			"model", e.Model,
			"cost_usd", e.CostUSD,
			"units", e.Units,
			"error", e.Error,
		)
		return
	}
	m.Logger.Info("charge",
		"user", e.UserID,
		"model", e.Model,
		"cost_usd", e.CostUSD,
		"units", e.Units,
		"balance_after", e.BalanceAfter,
		"clamped", e.Clamped,
	)
}

func (m *LogMeter) OnQueue(e metergate.QueueEvent) {
	if e.TimedOut {
		m.Logger.Warn("queue_timeout", "waited_ms", e.Waited.Milliseconds(), "queued", e.Queued)
		return
	}
	m.Logger.Debug("queue",
		"waited_ms", e.Waited.Milliseconds(),
		"active", e.Active,
		"queued", e.Queued,
	)
}
