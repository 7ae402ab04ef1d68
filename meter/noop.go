package meter

import "github.com/ineyio/metergate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ metergate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRoute(metergate.RouteEvent)   {}
func (m *NoopMeter) OnResult(metergate.ResultEvent) {}
func (m *NoopMeter) OnCharge(metergate.ChargeEvent) {}
func (m *NoopMeter) OnQueue(metergate.QueueEvent)   {}
