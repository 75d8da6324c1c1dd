package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const promNamespace = "kraken_hop_bot"

type Prometheus struct {
	Metrics *Metrics

	registry       *prometheus.Registry
	ordersPlaced   prometheus.Counter
	ordersFailed   prometheus.Counter
	ordersFilled   prometheus.Counter
	ordersReverted prometheus.Counter
	reconnects     prometheus.Counter
	tickErrors     prometheus.Counter
	gain           prometheus.Gauge
	crossRate      prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:       registry,
		ordersPlaced:   newCounter("orders_placed_total", "Total number of hop orders placed."),
		ordersFailed:   newCounter("orders_failed_total", "Total number of hop order placement failures."),
		ordersFilled:   newCounter("orders_filled_total", "Total number of hop orders observed filled."),
		ordersReverted: newCounter("orders_reverted_total", "Total number of pending orders reverted by an operator."),
		reconnects:     newCounter("stream_reconnects_total", "Total number of book stream reconnects."),
		tickErrors:     newCounter("tick_errors_total", "Total number of skipped ticks."),
		gain:           newGauge("gain_ratio", "Signed gain against the last completed order."),
		crossRate:      newGauge("cross_rate", "Mid price of the cross pair."),
	}
	registry.MustRegister(
		p.ordersPlaced, p.ordersFailed, p.ordersFilled, p.ordersReverted,
		p.reconnects, p.tickErrors, p.gain, p.crossRate,
	)
	p.Metrics = &Metrics{
		OrdersPlaced:   p.ordersPlaced,
		OrdersFailed:   p.ordersFailed,
		OrdersFilled:   p.ordersFilled,
		OrdersReverted: p.ordersReverted,
		Reconnects:     p.reconnects,
		TickErrors:     p.tickErrors,
		Gain:           p.gain,
		CrossRate:      p.crossRate,
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes the registry on addr at path until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, addr, path string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	if log != nil {
		log.Info("metrics server listening", zap.String("address", addr), zap.String("path", path))
	}
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
