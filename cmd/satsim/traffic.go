package main

import (
	"context"
	"time"

	"github.com/signalsfoundry/satcom-simulator/internal/config"
	"github.com/signalsfoundry/satcom-simulator/internal/event"
	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/model"
	"github.com/signalsfoundry/satcom-simulator/timectrl"
)

// cbrSource feeds a terminal queue with fixed size packets at a constant
// rate, cycling through the terminal's users.
type cbrSource struct {
	sim      event.Scheduler
	node     *terminalNode
	size     int
	interval time.Duration
	nextUser int
	log      logging.Logger
}

func newCBRSource(sim event.Scheduler, node *terminalNode, spec config.TrafficSpec, log logging.Logger) *cbrSource {
	interval := timectrl.Seconds(float64(spec.PacketBytes*8) / (spec.RateKbps * 1000))
	if interval < timectrl.Resolution {
		interval = timectrl.Resolution
	}
	return &cbrSource{
		sim:      sim,
		node:     node,
		size:     spec.PacketBytes,
		interval: interval,
		log:      log,
	}
}

func (c *cbrSource) start(end time.Time) { c.schedule(c.sim.Now(), end) }

func (c *cbrSource) schedule(at, end time.Time) {
	if !at.Before(end) {
		return
	}
	c.sim.Schedule(at, func() {
		c.emit(at)
		c.schedule(at.Add(c.interval), end)
	})
}

func (c *cbrSource) emit(at time.Time) {
	pkt := &model.Packet{Payload: make([]byte, c.size), Created: at}
	if users := c.node.users; len(users) > 0 {
		pkt.User = users[c.nextUser%len(users)]
		c.nextUser++
	}
	if err := c.node.queue.Enqueue(pkt); err != nil {
		c.node.dropped++
		c.log.Debug(context.Background(), "traffic dropped",
			logging.Uint32("ut_id", c.node.spec.ID),
			logging.Err(err),
		)
	}
}
