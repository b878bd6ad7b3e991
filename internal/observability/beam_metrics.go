package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BeamCollector exposes gateway beam scheduler metrics.
type BeamCollector struct {
	TbtpBuildDuration prometheus.Histogram
	TbtpsSent         *prometheus.CounterVec
	SlotsAllocated    *prometheus.CounterVec
	SlotUtilization   *prometheus.GaugeVec
	PendingEvents     prometheus.Gauge
}

// NewBeamCollector registers beam scheduler metrics against the provided registerer.
func NewBeamCollector(reg prometheus.Registerer) (*BeamCollector, error) {
	reg, _ = registererAndGatherer(reg)

	build, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beam_tbtp_build_duration_seconds",
		Help:    "Wall-clock time spent building one TBTP.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "beam_tbtp_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	sent, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beam_tbtps_sent_total",
		Help: "TBTPs broadcast by the beam scheduler.",
	}, []string{"beam"}), "beam_tbtps_sent_total")
	if err != nil {
		return nil, err
	}

	allocated, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beam_slots_allocated_total",
		Help: "Timeslots granted to terminals.",
	}, []string{"beam"}), "beam_slots_allocated_total")
	if err != nil {
		return nil, err
	}

	utilization, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "beam_slot_utilization_ratio",
		Help: "Share of the superframe's timeslots granted in the latest TBTP.",
	}, []string{"beam"}), "beam_slot_utilization_ratio")
	if err != nil {
		return nil, err
	}

	pending, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_pending_events",
		Help: "Events waiting in the discrete-event scheduler.",
	}), "sim_pending_events")
	if err != nil {
		return nil, err
	}

	return &BeamCollector{
		TbtpBuildDuration: build,
		TbtpsSent:         sent,
		SlotsAllocated:    allocated,
		SlotUtilization:   utilization,
		PendingEvents:     pending,
	}, nil
}

// ObserveTbtp records one broadcast TBTP.
func (c *BeamCollector) ObserveTbtp(beam string, allocated, total int, took time.Duration) {
	if c == nil {
		return
	}
	c.TbtpBuildDuration.Observe(took.Seconds())
	c.TbtpsSent.WithLabelValues(beam).Inc()
	c.SlotsAllocated.WithLabelValues(beam).Add(float64(allocated))

	ratio := 0.0
	if total > 0 {
		ratio = float64(allocated) / float64(total)
	}
	if ratio > 1 {
		ratio = 1
	}
	c.SlotUtilization.WithLabelValues(beam).Set(ratio)
}

// SetPendingEvents updates the scheduler queue depth gauge.
func (c *BeamCollector) SetPendingEvents(n int) {
	if c == nil {
		return
	}
	c.PendingEvents.Set(float64(n))
}
