package ctrl

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/ni660x/counter"
)

// Metrics are the prometheus collectors of one controller
type Metrics struct {
	SamplesRead       *prometheus.CounterVec
	TransformFailures *prometheus.CounterVec
	RemoteErrors      *prometheus.CounterVec
	Starts            prometheus.Counter
	NewIndexReady     prometheus.GaugeFunc
}

// newMetrics creates the collectors, labeled with the controller name
func newMetrics(name string, indexReady func() float64) *Metrics {
	labels := prometheus.Labels{"controller": name}
	return &Metrics{
		SamplesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ni660x",
			Name:        "samples_read_total",
			Help:        "Samples delivered to the acquisition framework.",
			ConstLabels: labels,
		}, []string{"channel"}),
		TransformFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ni660x",
			Name:        "position_formula_failures_total",
			Help:        "Reads where the position formula failed and the displacement was returned.",
			ConstLabels: labels,
		}, []string{"channel"}),
		RemoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ni660x",
			Name:        "remote_errors_total",
			Help:        "Failed calls to the counter service.",
			ConstLabels: labels,
		}, []string{"op"}),
		Starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ni660x",
			Name:        "starts_total",
			Help:        "Successful StartAll calls.",
			ConstLabels: labels,
		}),
		NewIndexReady: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "ni660x",
			Name:        "new_index_ready",
			Help:        "Highest sample index ready on every armed channel.",
			ConstLabels: labels,
		}, indexReady),
	}
}

// Register adds every collector to reg
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.SamplesRead, m.TransformFailures, m.RemoteErrors, m.Starts, m.NewIndexReady,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// observe counts err if it came from the counter service
func (m *Metrics) observe(err error) {
	var rerr *counter.RemoteError
	if errors.As(err, &rerr) {
		m.RemoteErrors.WithLabelValues(rerr.Op).Inc()
	}
}
