package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/satcom-simulator/core"
	"github.com/signalsfoundry/satcom-simulator/internal/beam"
	"github.com/signalsfoundry/satcom-simulator/internal/config"
	"github.com/signalsfoundry/satcom-simulator/internal/event"
	"github.com/signalsfoundry/satcom-simulator/internal/llc"
	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/internal/mac"
	"github.com/signalsfoundry/satcom-simulator/internal/observability"
	"github.com/signalsfoundry/satcom-simulator/internal/phy"
	"github.com/signalsfoundry/satcom-simulator/internal/stats"
	"github.com/signalsfoundry/satcom-simulator/model"
	"github.com/signalsfoundry/satcom-simulator/timectrl"
)

// channelUpdatePeriod is how often terminal channel states are refreshed.
const channelUpdatePeriod = time.Second

type terminalNode struct {
	spec    config.TerminalSpec
	mac     *mac.UtMac
	queue   *llc.Queue
	users   []model.Address
	tracker core.ElevationTracker
	fader   *core.MarkovFader
	dropped int
}

type gatewayNode struct {
	spec       config.GatewaySpec
	schedulers []*beam.Scheduler
	received   int
}

// simulation is one scenario wired onto a discrete-event simulator.
type simulation struct {
	scenario *config.Scenario
	sim      *event.Simulator
	end      time.Time

	terminals []*terminalNode
	gateways  []*gatewayNode

	markov *core.MarkovConfig
	rng    *rand.Rand
	stats  *stats.Container

	macMetrics  *observability.MacCollector
	beamMetrics *observability.BeamCollector
	phyMetrics  *observability.PhyCollector

	log logging.Logger
}

// newSimulation builds every layer described by sc. Metrics are registered
// against reg.
func newSimulation(sc *config.Scenario, reg prometheus.Registerer, log logging.Logger) (*simulation, error) {
	if log == nil {
		log = logging.Noop()
	}
	seq, err := sc.SuperframeSequence()
	if err != nil {
		return nil, err
	}
	markov, err := sc.MarkovConfig()
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}
	satellite, err := core.NewPositionSource(sc.Platform())
	if err != nil {
		return nil, fmt.Errorf("satellite: %w", err)
	}

	macMetrics, err := observability.NewMacCollector(reg)
	if err != nil {
		return nil, err
	}
	beamMetrics, err := observability.NewBeamCollector(reg)
	if err != nil {
		return nil, err
	}
	phyMetrics, err := observability.NewPhyCollector(reg)
	if err != nil {
		return nil, err
	}

	sim := event.NewSimulator(sc.Epoch)
	log = logging.WithSimClock(log, sim.Now)
	s := &simulation{
		scenario:    sc,
		sim:         sim,
		end:         sc.Epoch.Add(sc.Duration.D()),
		markov:      markov,
		rng:         rand.New(rand.NewPCG(sc.Seed, sc.Seed^0x9e3779b97f4a7c15)),
		macMetrics:  macMetrics,
		beamMetrics: beamMetrics,
		phyMetrics:  phyMetrics,
		log:         log,
	}

	fwdCarriers := sc.Forward.CarrierCount
	if fwdCarriers == 0 {
		fwdCarriers = 1
	}
	fwdConf, err := sc.Forward.RxCarrierConfig(model.ForwardUserChannel, core.FixedCarrierConverter(sc.Forward.Carrier), fwdCarriers)
	if err != nil {
		return nil, fmt.Errorf("forward link: %w", err)
	}
	rtnConf, err := sc.Return.RxCarrierConfig(model.ReturnUserChannel, seq.CarrierBandwidthHz, seq.CarrierCount())
	if err != nil {
		return nil, fmt.Errorf("return link: %w", err)
	}

	ids := stats.NewIDMapper()
	s.stats = stats.NewContainer(ids, reg, log)
	if sc.Name != "" {
		s.stats.SetName(sc.Name)
	}

	type beamLinks struct {
		gateway *gatewayNode
		sched   *beam.Scheduler
		fwd     *phy.Channel
		rtn     *phy.Channel
	}
	beams := make(map[uint32]*beamLinks)

	for _, gs := range sc.Gateways {
		gw := &gatewayNode{spec: gs}
		s.gateways = append(s.gateways, gw)
		gwID := ids.AttachGw(gs.Address)

		for _, bs := range gs.Beams {
			ids.AttachBeamToGw(bs.ID, gwID)
			fwd := phy.NewChannel(model.ForwardUserChannel, s.sim, sc.Forward.Delay.D(), log)
			rtn := phy.NewChannel(model.ReturnUserChannel, s.sim, sc.Return.Delay.D(), log)

			sched, err := beam.New(beam.Config{
				BeamID:           bs.ID,
				Address:          gs.Address,
				Superframes:      seq,
				SuperframeID:     bs.SuperframeID,
				Scheduler:        s.sim,
				Epoch:            sc.Epoch,
				Forward:          fwd,
				ControlCarrierID: bs.ControlCarrierID,
				ControlDuration:  bs.ControlDuration.D(),
				Lead:             bs.TbtpLead.D(),
				Pending:          s.sim.Pending,
				Logger:           log,
				Metrics:          beamMetrics,
			})
			if err != nil {
				return nil, err
			}
			gw.schedulers = append(gw.schedulers, sched)

			rx, err := phy.NewReceiver(gs.Address, rtnConf, s.rng, s.gatewayDeliver(gw),
				phy.WithMetrics(phyMetrics),
				phy.WithLogger(log),
			)
			if err != nil {
				return nil, err
			}
			rtn.Attach(rx)
			beams[bs.ID] = &beamLinks{gateway: gw, sched: sched, fwd: fwd, rtn: rtn}
		}
	}

	for _, ts := range sc.Terminals {
		links := beams[ts.BeamID]
		node := &terminalNode{
			spec: ts,
			tracker: core.ElevationTracker{
				Terminal:  core.GeodeticToECEF(ts.LatitudeDeg, ts.LongitudeDeg, ts.AltitudeM),
				Satellite: satellite,
			},
		}
		ids.AttachUt(ts.Address)
		ids.AttachUtToBeam(ts.Address, ts.BeamID)
		for u := 1; u <= ts.Users; u++ {
			user := userAddress(ts.ID, u)
			ids.AttachUtUser(user, ts.Address)
			node.users = append(node.users, user)
		}

		node.queue = llc.New(ts.Address, links.gateway.spec.Address, ts.QueueBytes, nil, log)
		node.mac, err = mac.New(mac.Config{
			Address:       ts.Address,
			Superframes:   seq,
			Scheduler:     s.sim,
			Epoch:         sc.Epoch,
			CraKbps:       ts.CraKbps,
			TxOpportunity: node.queue.PullPayload,
			Receive:       node.queue.PushPayload,
			Transmitter:   links.rtn,
			Logger:        log,
			Metrics:       macMetrics,
		})
		if err != nil {
			return nil, err
		}
		node.mac.SetRxTrace(func(pkt *model.Packet, _ model.Address) {
			s.stats.RecordUt(stats.FwdDevThroughput, ts.Address, float64(pkt.Size()))
		})
		if err := links.sched.AddTerminal(ts.Address, node.mac.CraKbps()); err != nil {
			return nil, err
		}

		rx, err := phy.NewReceiver(ts.Address, fwdConf, s.rng, node.mac.Receive,
			phy.WithMetrics(phyMetrics),
			phy.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		links.fwd.Attach(rx)
		s.terminals = append(s.terminals, node)
	}

	reqs, err := sc.StatRequests()
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if _, err := s.stats.Add(req.Metric, req.Scope, req.Output); err != nil {
			return nil, fmt.Errorf("statistic %s %s: %w", req.Metric, req.Scope, err)
		}
	}
	return s, nil
}

// userAddress derives the address of the n-th user behind terminal utID.
func userAddress(utID uint32, n int) model.Address {
	a := model.AddressFromID(utID<<8 | uint32(n))
	a[1] = 0x01
	return a
}

// gatewayDeliver records return link statistics for packets reaching gw.
func (s *simulation) gatewayDeliver(gw *gatewayNode) phy.DeliverFunc {
	return func(ctx context.Context, pkt *model.Packet) error {
		if pkt.Mac == nil {
			return fmt.Errorf("gateway %d: %w", gw.spec.ID, mac.ErrProtocolViolation)
		}
		gw.received += pkt.Size()
		bytes := float64(pkt.Size())
		s.stats.RecordUt(stats.RtnDevThroughput, pkt.Mac.Source, bytes)
		if !pkt.User.IsZero() {
			s.stats.RecordUtUser(stats.RtnAppThroughput, pkt.User, bytes)
			s.stats.RecordDelay(stats.RtnAppDelay, pkt.User, s.sim.Now().Sub(pkt.Created))
		}
		return nil
	}
}

// start schedules the beam schedulers, the traffic sources and the channel
// state updates.
func (s *simulation) start() error {
	for _, gw := range s.gateways {
		for _, sched := range gw.schedulers {
			sched.Start()
		}
	}
	for _, t := range s.terminals {
		if t.spec.Traffic != nil {
			newCBRSource(s.sim, t, *t.spec.Traffic, s.log).start(s.end)
		}
		if err := s.initChannel(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulation) initChannel(t *terminalNode) error {
	now := s.sim.Now()
	visible, err := t.tracker.VisibleAt(now)
	if err != nil {
		return fmt.Errorf("terminal %d visibility: %w", t.spec.ID, err)
	}
	if !visible {
		s.log.Warn(context.Background(), "satellite hidden by the Earth, channel state not modelled",
			logging.Uint32("ut_id", t.spec.ID),
		)
		return nil
	}
	elev, err := t.tracker.ElevationAt(now)
	if err != nil {
		return fmt.Errorf("terminal %d elevation: %w", t.spec.ID, err)
	}
	fader, err := core.NewMarkovFader(s.markov, s.rng, now, elev, t.tracker.Terminal.Motion())
	if errors.Is(err, core.ErrOutOfRange) {
		s.log.Warn(context.Background(), "satellite below the lowest elevation set, channel state not modelled",
			logging.Uint32("ut_id", t.spec.ID),
			logging.Float64("elevation_deg", elev),
		)
		return nil
	}
	if err != nil {
		return err
	}
	t.fader = fader
	s.phyMetrics.SetChannelState(t.spec.Address.String(), fader.State(), elev)
	s.scheduleChannelUpdate(t, now.Add(channelUpdatePeriod))
	return nil
}

func (s *simulation) scheduleChannelUpdate(t *terminalNode, at time.Time) {
	if at.After(s.end) {
		return
	}
	s.sim.Schedule(at, func() {
		elev, err := t.tracker.ElevationAt(at)
		if err == nil {
			_, err = t.fader.Update(at, elev, t.tracker.Terminal.Motion())
		}
		if err != nil {
			s.log.Debug(context.Background(), "channel state not updated",
				logging.Uint32("ut_id", t.spec.ID),
				logging.Err(err),
			)
		} else {
			s.phyMetrics.SetChannelState(t.spec.Address.String(), t.fader.State(), elev)
		}
		s.scheduleChannelUpdate(t, at.Add(channelUpdatePeriod))
	})
}

// runAccelerated runs the scenario as fast as possible, checking ctx between
// steps of simulated time.
func (s *simulation) runAccelerated(ctx context.Context, step time.Duration) error {
	for now := s.sim.Now(); now.Before(s.end); now = s.sim.Now() {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := now.Add(step)
		if next.After(s.end) {
			next = s.end
		}
		s.sim.RunUntil(next)
		s.beamMetrics.SetPendingEvents(s.sim.Pending())
	}
	return nil
}

// runRealtime paces the simulator with a real-time controller.
func (s *simulation) runRealtime(ctx context.Context, tick time.Duration) error {
	remaining := s.end.Sub(s.sim.Now())
	if remaining <= 0 {
		return nil
	}
	tc := timectrl.NewTimeController(s.sim.Now(), tick, timectrl.RealTime)
	tc.AddListener(func(t time.Time) {
		s.sim.RunUntil(t)
		s.beamMetrics.SetPendingEvents(s.sim.Pending())
	})
	return tc.Run(ctx, remaining)
}

// summarize logs per-node totals.
func (s *simulation) summarize(ctx context.Context) {
	for _, t := range s.terminals {
		fields := []logging.Field{
			logging.Uint32("ut_id", t.spec.ID),
			logging.String("ut", t.spec.Address.String()),
			logging.Int("sent_bytes", t.queue.SentBytes()),
			logging.Int("queued_bytes", t.queue.Bytes()),
			logging.Int("dropped_packets", t.dropped),
		}
		if t.fader != nil {
			fields = append(fields, logging.Uint32("channel_state", t.fader.State()))
		}
		if r, err := t.tracker.SlantRangeAt(s.sim.Now()); err == nil {
			fields = append(fields, logging.Float64("slant_range_km", r/1000))
		}
		s.log.Info(ctx, "terminal summary", fields...)
	}
	for _, gw := range s.gateways {
		beams := make([]string, 0, len(gw.schedulers))
		for _, b := range gw.spec.Beams {
			beams = append(beams, strconv.FormatUint(uint64(b.ID), 10))
		}
		s.log.Info(ctx, "gateway summary",
			logging.Uint32("gw_id", gw.spec.ID),
			logging.Any("beams", beams),
			logging.Int("received_bytes", gw.received),
		)
	}
	s.log.Info(ctx, "simulation finished",
		logging.Time("sim_time", s.sim.Now()),
		logging.Any("events_executed", s.sim.Executed()),
	)
}
