package meter

import "github.com/ineyio/metergate"

// Multi fans every event out to each meter in order.
type Multi []metergate.Meter

var _ metergate.Meter = Multi(nil)

func (m Multi) OnRoute(e metergate.RouteEvent) {
	for _, mm := range m {
		mm.OnRoute(e)
	}
}

func (m Multi) OnResult(e metergate.ResultEvent) {
	for _, mm := range m {
		mm.OnResult(e)
	}
}

func (m Multi) OnCharge(e metergate.ChargeEvent) {
	for _, mm := range m {
		mm.OnCharge(e)
	}
}

func (m Multi) OnQueue(e metergate.QueueEvent) {
	for _, mm := range m {
		mm.OnQueue(e)
	}
}
