package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MacCollector bundles the Prometheus metrics of the terminal MAC layer.
// Every metric is labeled by the terminal address.
type MacCollector struct {
	gatherer prometheus.Gatherer

	TbtpsReceived   *prometheus.CounterVec
	SlotsScheduled  *prometheus.CounterVec
	Transmissions   *prometheus.CounterVec
	IdleSlots       *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec
	ControlMessages *prometheus.CounterVec
}

// NewMacCollector registers MAC metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewMacCollector(reg prometheus.Registerer) (*MacCollector, error) {
	reg, gatherer := registererAndGatherer(reg)

	vec := func(name, help string, labels ...string) (*prometheus.CounterVec, error) {
		return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels), name)
	}

	tbtps, err := vec("mac_tbtps_received_total", "TBTPs carrying at least one grant for the terminal.", "ut")
	if err != nil {
		return nil, err
	}
	slots, err := vec("mac_slots_scheduled_total", "Timeslot transmissions scheduled from TBTP grants.", "ut")
	if err != nil {
		return nil, err
	}
	tx, err := vec("mac_transmissions_total", "Packets handed to the physical layer.", "ut")
	if err != nil {
		return nil, err
	}
	idle, err := vec("mac_idle_slots_total", "Granted timeslots left unused because the LLC had nothing to send.", "ut")
	if err != nil {
		return nil, err
	}
	bytes, err := vec("mac_bytes_sent_total", "Payload bytes handed to the physical layer.", "ut")
	if err != nil {
		return nil, err
	}
	ctrl, err := vec("mac_control_messages_total", "Control messages received, labeled by type.", "ut", "type")
	if err != nil {
		return nil, err
	}

	return &MacCollector{
		gatherer:        gatherer,
		TbtpsReceived:   tbtps,
		SlotsScheduled:  slots,
		Transmissions:   tx,
		IdleSlots:       idle,
		BytesSent:       bytes,
		ControlMessages: ctrl,
	}, nil
}

// ObserveControlMessage counts a received control message.
func (c *MacCollector) ObserveControlMessage(ut, msgType string) {
	if c == nil {
		return
	}
	c.ControlMessages.WithLabelValues(ut, msgType).Inc()
}

// ObserveTbtp records a TBTP with grants for ut.
func (c *MacCollector) ObserveTbtp(ut string, grants int) {
	if c == nil {
		return
	}
	c.TbtpsReceived.WithLabelValues(ut).Inc()
	c.SlotsScheduled.WithLabelValues(ut).Add(float64(grants))
}

// ObserveTransmission records a packet sent in a granted slot.
func (c *MacCollector) ObserveTransmission(ut string, bytes int) {
	if c == nil {
		return
	}
	c.Transmissions.WithLabelValues(ut).Inc()
	c.BytesSent.WithLabelValues(ut).Add(float64(bytes))
}

// ObserveIdleSlot records a granted slot with nothing to send.
func (c *MacCollector) ObserveIdleSlot(ut string) {
	if c == nil {
		return
	}
	c.IdleSlots.WithLabelValues(ut).Inc()
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *MacCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
