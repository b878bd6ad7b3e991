package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PhyCollector exposes receiver and channel state metrics.
type PhyCollector struct {
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	ChannelState    *prometheus.GaugeVec
	Elevation       *prometheus.GaugeVec
}

// NewPhyCollector registers PHY metrics against the provided registerer.
func NewPhyCollector(reg prometheus.Registerer) (*PhyCollector, error) {
	reg, _ = registererAndGatherer(reg)

	received, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phy_packets_received_total",
		Help: "Packets accepted by a receiver, labeled by receiver address.",
	}, []string{"rx"}), "phy_packets_received_total")
	if err != nil {
		return nil, err
	}

	dropped, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phy_packets_dropped_total",
		Help: "Packets discarded by a receiver, labeled by reason.",
	}, []string{"rx", "reason"}), "phy_packets_dropped_total")
	if err != nil {
		return nil, err
	}

	state, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phy_markov_channel_state",
		Help: "Current Markov channel state of a terminal.",
	}, []string{"ut"}), "phy_markov_channel_state")
	if err != nil {
		return nil, err
	}

	elevation, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phy_satellite_elevation_degrees",
		Help: "Satellite elevation seen from a terminal.",
	}, []string{"ut"}), "phy_satellite_elevation_degrees")
	if err != nil {
		return nil, err
	}

	return &PhyCollector{
		PacketsReceived: received,
		PacketsDropped:  dropped,
		ChannelState:    state,
		Elevation:       elevation,
	}, nil
}

// ObserveReceived counts an accepted packet.
func (c *PhyCollector) ObserveReceived(rx string) {
	if c == nil {
		return
	}
	c.PacketsReceived.WithLabelValues(rx).Inc()
}

// ObserveDropped counts a discarded packet.
func (c *PhyCollector) ObserveDropped(rx, reason string) {
	if c == nil {
		return
	}
	c.PacketsDropped.WithLabelValues(rx, reason).Inc()
}

// SetChannelState records a terminal's Markov state and elevation.
func (c *PhyCollector) SetChannelState(ut string, state uint32, elevationDeg float64) {
	if c == nil {
		return
	}
	c.ChannelState.WithLabelValues(ut).Set(float64(state))
	c.Elevation.WithLabelValues(ut).Set(elevationDeg)
}
