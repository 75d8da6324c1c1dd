package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	OrdersPlaced   Counter
	OrdersFailed   Counter
	OrdersFilled   Counter
	OrdersReverted Counter
	Reconnects     Counter
	TickErrors     Counter
	Gain           Gauge
	CrossRate      Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersPlaced:   n,
		OrdersFailed:   n,
		OrdersFilled:   n,
		OrdersReverted: n,
		Reconnects:     n,
		TickErrors:     n,
		Gain:           g,
		CrossRate:      g,
	}
}
