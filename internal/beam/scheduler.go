// Package beam implements the gateway side of a beam: it plans every
// superframe instance, grants timeslots to the terminals in proportion to
// their constant rate assignment and broadcasts the resulting TBTP on the
// forward link.
package beam

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/signalsfoundry/satcom-simulator/core"
	"github.com/signalsfoundry/satcom-simulator/internal/event"
	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/internal/mac"
	"github.com/signalsfoundry/satcom-simulator/model"
)

// Metrics receives beam scheduler measurements. *observability.BeamCollector
// implements it.
type Metrics interface {
	ObserveTbtp(beam string, allocated, total int, took time.Duration)
	SetPendingEvents(n int)
}

// Config wires a Scheduler to the superframe layout and the forward link.
type Config struct {
	BeamID uint32
	// Address is the gateway address used as the TBTP source.
	Address     model.Address
	Superframes *core.SuperframeSequence
	// SuperframeID selects the superframe layout this beam runs.
	SuperframeID uint32
	Scheduler    event.Scheduler
	Epoch        time.Time

	// Forward carries the TBTP broadcast.
	Forward          mac.Transmitter
	ControlCarrierID uint32
	// ControlDuration is the burst length of one TBTP on the forward link.
	ControlDuration time.Duration
	// Lead is how long before a superframe starts its TBTP is broadcast.
	// Defaults to one superframe.
	Lead time.Duration
	// TxBytes is the payload a terminal sends per slot, used to turn a rate
	// into a slot count. Defaults to mac.DefaultTxBytes.
	TxBytes int

	// Pending reports the scheduler queue depth for metrics. Optional.
	Pending func() int

	Logger  logging.Logger
	Metrics Metrics
	Fatal   mac.FatalHandler
}

type terminal struct {
	addr    model.Address
	craKbps float64
}

type slotRef struct {
	frameID uint32
	slotID  uint32
}

// Scheduler is the beam's return link scheduler. It runs on the
// single-threaded event scheduler and is not safe for concurrent use.
type Scheduler struct {
	cfg       Config
	beam      string
	slots     []slotRef
	duration  time.Duration
	terminals []terminal

	counter uint32
	nextID  string
	running bool

	log     logging.Logger
	metrics Metrics
	fatal   mac.FatalHandler
}

// New validates cfg and enumerates the superframe's timeslots.
func New(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Superframes == nil:
		return nil, fmt.Errorf("beam %d: superframe sequence is required: %w", cfg.BeamID, core.ErrInvalidConfig)
	case cfg.Scheduler == nil:
		return nil, fmt.Errorf("beam %d: scheduler is required: %w", cfg.BeamID, core.ErrInvalidConfig)
	case cfg.Forward == nil:
		return nil, fmt.Errorf("beam %d: forward transmitter is required: %w", cfg.BeamID, core.ErrInvalidConfig)
	case cfg.Lead < 0 || cfg.ControlDuration < 0 || cfg.TxBytes < 0:
		return nil, fmt.Errorf("beam %d: negative lead, control duration or tx size: %w", cfg.BeamID, core.ErrInvalidConfig)
	}

	sf, err := cfg.Superframes.SuperframeConfig(cfg.SuperframeID)
	if err != nil {
		return nil, fmt.Errorf("beam %d: %w", cfg.BeamID, err)
	}
	var slots []slotRef
	for f := uint32(0); f < sf.FrameCount(); f++ {
		frame, err := sf.FrameConfig(f)
		if err != nil {
			return nil, fmt.Errorf("beam %d: %w", cfg.BeamID, err)
		}
		for s := uint32(0); s < frame.TimeSlotCount(); s++ {
			slots = append(slots, slotRef{frameID: f, slotID: s})
		}
	}

	if cfg.TxBytes == 0 {
		cfg.TxBytes = mac.DefaultTxBytes
	}
	if cfg.Lead == 0 {
		cfg.Lead = sf.Duration()
	}

	s := &Scheduler{
		cfg:      cfg,
		beam:     strconv.FormatUint(uint64(cfg.BeamID), 10),
		slots:    slots,
		duration: sf.Duration(),
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		fatal:    cfg.Fatal,
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	s.log = s.log.With(logging.Uint32("beam", cfg.BeamID))
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.fatal == nil {
		s.fatal = func(err error) {
			s.log.Error(context.Background(), "fatal beam scheduler error", logging.Err(err))
			panic(err)
		}
	}
	return s, nil
}

// AddTerminal registers a terminal served by the beam.
func (s *Scheduler) AddTerminal(addr model.Address, craKbps float64) error {
	if craKbps <= 0 {
		return fmt.Errorf("terminal %s: cra %v kbps: %w", addr, craKbps, core.ErrInvalidConfig)
	}
	if slices.ContainsFunc(s.terminals, func(t terminal) bool { return t.addr == addr }) {
		return fmt.Errorf("terminal %s already attached to beam %d: %w", addr, s.cfg.BeamID, core.ErrInvalidConfig)
	}
	s.terminals = append(s.terminals, terminal{addr: addr, craKbps: craKbps})
	return nil
}

// SlotCount returns the number of timeslots in one superframe instance.
func (s *Scheduler) SlotCount() int { return len(s.slots) }

// SuperframeStart returns the start time of superframe instance counter.
func (s *Scheduler) SuperframeStart(counter uint32) time.Time {
	return s.cfg.Epoch.Add(s.duration * time.Duration(counter))
}

// Allocation returns how many slots each terminal gets per superframe, in
// registration order. A terminal asks for enough slots to carry its CRA;
// when the beam is oversubscribed the slots are shared in proportion to CRA
// using largest remainders.
func (s *Scheduler) Allocation() []int {
	out := make([]int, len(s.terminals))
	if len(s.terminals) == 0 || len(s.slots) == 0 {
		return out
	}

	bitsPerSlot := float64(8 * s.cfg.TxBytes)
	requested := 0
	for i, t := range s.terminals {
		out[i] = int(math.Ceil(t.craKbps * 1000 * s.duration.Seconds() / bitsPerSlot))
		requested += out[i]
	}
	if requested <= len(s.slots) {
		return out
	}

	total := 0.0
	for _, t := range s.terminals {
		total += t.craKbps
	}
	remainders := make([]float64, len(s.terminals))
	assigned := 0
	for i, t := range s.terminals {
		share := float64(len(s.slots)) * t.craKbps / total
		out[i] = int(math.Floor(share))
		remainders[i] = share - float64(out[i])
		assigned += out[i]
	}
	order := make([]int, len(s.terminals))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(remainders[b], remainders[a])
	})
	for _, i := range order[:len(s.slots)-assigned] {
		out[i]++
	}
	return out
}

// BuildTbtp plans superframe instance counter. Slots are handed out round
// robin so that each terminal's grants spread across the superframe.
func (s *Scheduler) BuildTbtp(counter uint32) *mac.Tbtp {
	tbtp := &mac.Tbtp{SuperframeID: s.cfg.SuperframeID, SuperframeCounter: counter}
	remaining := s.Allocation()

	next := 0
	for _, slot := range s.slots {
		granted := false
		for range s.terminals {
			i := next
			next = (next + 1) % len(s.terminals)
			if remaining[i] > 0 {
				remaining[i]--
				tbtp.Add(s.terminals[i].addr, slot.frameID, slot.slotID)
				granted = true
				break
			}
		}
		if !granted {
			break
		}
	}
	return tbtp
}

// Start schedules the broadcast of the first superframe whose TBTP can still
// be sent a full lead time ahead.
func (s *Scheduler) Start() {
	if s.running {
		return
	}
	s.running = true
	now := s.cfg.Scheduler.Now()
	for s.SuperframeStart(s.counter).Add(-s.cfg.Lead).Before(now) {
		s.counter++
	}
	s.scheduleBroadcast(s.counter)
}

// Counter returns the superframe counter of the next TBTP.
func (s *Scheduler) Counter() uint32 { return s.counter }

// Stop cancels the pending broadcast.
func (s *Scheduler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	s.cfg.Scheduler.Cancel(s.nextID)
	s.nextID = ""
}

// Broadcast builds the TBTP for counter and sends it on the forward link.
func (s *Scheduler) Broadcast(ctx context.Context, counter uint32) error {
	started := time.Now()
	tbtp := s.BuildTbtp(counter)
	payload, err := tbtp.MarshalBinary()
	if err != nil {
		return fmt.Errorf("beam %d: encode tbtp %d: %w", s.cfg.BeamID, counter, err)
	}
	took := time.Since(started)

	pkt := &model.Packet{
		Payload: payload,
		Mac:     &model.MacTag{Source: s.cfg.Address, Dest: model.Broadcast},
		Ctrl:    &model.ControlMsgTag{Type: model.TbtpCtrlMsg},
		Created: s.cfg.Scheduler.Now(),
	}
	if err := s.cfg.Forward.Send(pkt, s.cfg.ControlDuration, s.cfg.ControlCarrierID); err != nil {
		return fmt.Errorf("beam %d: send tbtp %d: %w", s.cfg.BeamID, counter, err)
	}

	s.metrics.ObserveTbtp(s.beam, len(tbtp.Entries), len(s.slots), took)
	if s.cfg.Pending != nil {
		s.metrics.SetPendingEvents(s.cfg.Pending())
	}
	s.log.Debug(ctx, "broadcast tbtp",
		logging.Uint32("superframe_counter", counter),
		logging.Int("grants", len(tbtp.Entries)),
		logging.Time("superframe_start", s.SuperframeStart(counter)),
	)
	return nil
}

func (s *Scheduler) scheduleBroadcast(counter uint32) {
	at := s.SuperframeStart(counter).Add(-s.cfg.Lead)
	if now := s.cfg.Scheduler.Now(); at.Before(now) {
		at = now
	}
	s.nextID = s.cfg.Scheduler.Schedule(at, func() {
		if !s.running {
			return
		}
		if err := s.Broadcast(context.Background(), counter); err != nil {
			s.fatal(err)
			return
		}
		s.counter = counter + 1
		s.scheduleBroadcast(s.counter)
	})
}

type noopMetrics struct{}

func (noopMetrics) ObserveTbtp(string, int, int, time.Duration) {}
func (noopMetrics) SetPendingEvents(int)                        {}
