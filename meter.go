package metergate

import "time"

// Meter observes gateway events for monitoring/logging.
type Meter interface {
	// OnRoute is called before a candidate is attempted.
	OnRoute(event RouteEvent)

	// OnResult is called when a provider call returns.
	OnResult(event ResultEvent)

	// OnCharge is called after a debit attempt.
	OnCharge(event ChargeEvent)

	// OnQueue is called when a scheduler submission leaves the queue.
	OnQueue(event QueueEvent)
}

// RouteEvent describes a routing decision.
type RouteEvent struct {
	Provider    ProviderKey
	Model       string
	AttemptNum  int
	EstimatedIn int64
}

// ResultEvent describes the outcome of a provider call.
type ResultEvent struct {
	Provider ProviderKey
	Model    string
	Success  bool
	Skipped  bool // provider was unhealthy; no call was made
	Duration time.Duration
	Usage    Usage
	Error    error
}

// ChargeEvent describes a balance debit.
type ChargeEvent struct {
	UserID       string
	Model        string
	CostUSD      float64
	Units        int64
	BalanceAfter int64
	Clamped      bool
	Error        error
}

// QueueEvent describes how long a job waited for a scheduler slot.
type QueueEvent struct {
	Waited   time.Duration
	Active   int
	Queued   int
	TimedOut bool
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnRoute(RouteEvent)   {}
func (m *noopMeter) OnResult(ResultEvent) {}
func (m *noopMeter) OnCharge(ChargeEvent) {}
func (m *noopMeter) OnQueue(QueueEvent)   {}
