package beam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/satcom-simulator/core"
	"github.com/signalsfoundry/satcom-simulator/internal/event"
	"github.com/signalsfoundry/satcom-simulator/internal/mac"
	"github.com/signalsfoundry/satcom-simulator/internal/observability"
	"github.com/signalsfoundry/satcom-simulator/model"
)

var (
	epoch   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	gateway = model.AddressFromID(1000)
	ut1     = model.AddressFromID(1)
	ut2     = model.AddressFromID(2)
	ut3     = model.AddressFromID(3)
)

type sent struct {
	at        time.Time
	pkt       *model.Packet
	carrierID uint32
}

// recorder is a forward or return link that records bursts and optionally
// hands them to a handler straight away.
type recorder struct {
	clock   event.Scheduler
	sent    []sent
	err     error
	deliver func(*model.Packet)
}

func (r *recorder) Send(pkt *model.Packet, _ time.Duration, carrierID uint32) error {
	r.sent = append(r.sent, sent{at: r.clock.Now(), pkt: pkt, carrierID: carrierID})
	if r.err != nil {
		return r.err
	}
	if r.deliver != nil {
		r.deliver(pkt.Clone())
	}
	return nil
}

// testSequence is one 100ms frame of two carriers with two slots per
// carrier.
func testSequence(t *testing.T) *core.SuperframeSequence {
	t.Helper()
	slot := func(start time.Duration, carrier uint32) core.TimeSlotConfig {
		return core.TimeSlotConfig{StartTime: start, Duration: 25 * time.Millisecond, CarrierID: carrier}
	}
	frame, err := core.NewFrameConfig(core.FrameParams{
		AllocatedBandwidthHz: 2e6,
		Carrier:              core.CarrierBandwidthConfig{AllocatedHz: 1e6},
		Duration:             100 * time.Millisecond,
		TimeSlots:            []core.TimeSlotConfig{slot(0, 0), slot(0, 1), slot(50*time.Millisecond, 0), slot(50*time.Millisecond, 1)},
	})
	if err != nil {
		t.Fatalf("NewFrameConfig: %v", err)
	}
	sf, err := core.NewSuperframeConfig(0, frame)
	if err != nil {
		t.Fatalf("NewSuperframeConfig: %v", err)
	}
	seq, err := core.NewSuperframeSequence(sf)
	if err != nil {
		t.Fatalf("NewSuperframeSequence: %v", err)
	}
	return seq
}

func newScheduler(t *testing.T, sim *event.Simulator, fwd mac.Transmitter, mutate func(*Config)) *Scheduler {
	t.Helper()
	cfg := Config{
		BeamID:      7,
		Address:     gateway,
		Superframes: testSequence(t),
		Scheduler:   sim,
		Epoch:       epoch,
		Forward:     fwd,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAllocation(t *testing.T) {
	tests := []struct {
		name    string
		txBytes int
		cras    []float64
		want    []int
	}{
		{"oversubscribed proportional", 0, []float64{100, 300}, []int{1, 3}},
		{"largest remainder", 0, []float64{100, 100, 100}, []int{2, 1, 1}},
		{"undersubscribed gets demand", 1250, []float64{50, 50}, []int{1, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sim := event.NewSimulator(epoch)
			s := newScheduler(t, sim, &recorder{clock: sim}, func(c *Config) { c.TxBytes = tc.txBytes })
			for i, cra := range tc.cras {
				if err := s.AddTerminal(model.AddressFromID(uint32(i+1)), cra); err != nil {
					t.Fatalf("AddTerminal: %v", err)
				}
			}
			got := s.Allocation()
			if len(got) != len(tc.want) {
				t.Fatalf("Allocation = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("Allocation = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestBuildTbtpInterleavesGrants(t *testing.T) {
	sim := event.NewSimulator(epoch)
	s := newScheduler(t, sim, &recorder{clock: sim}, nil)
	if err := s.AddTerminal(ut1, 100); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTerminal(ut2, 300); err != nil {
		t.Fatal(err)
	}

	tbtp := s.BuildTbtp(5)
	if tbtp.SuperframeCounter != 5 || tbtp.SuperframeID != 0 {
		t.Fatalf("tbtp header = %d/%d", tbtp.SuperframeID, tbtp.SuperframeCounter)
	}
	want := []mac.TbtpEntry{
		{FrameID: 0, TimeSlotID: 0, Address: ut1},
		{FrameID: 0, TimeSlotID: 1, Address: ut2},
		{FrameID: 0, TimeSlotID: 2, Address: ut2},
		{FrameID: 0, TimeSlotID: 3, Address: ut2},
	}
	if len(tbtp.Entries) != len(want) {
		t.Fatalf("entries = %+v", tbtp.Entries)
	}
	for i := range want {
		if tbtp.Entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, tbtp.Entries[i], want[i])
		}
	}
}

func TestBuildTbtpWithoutTerminals(t *testing.T) {
	sim := event.NewSimulator(epoch)
	s := newScheduler(t, sim, &recorder{clock: sim}, nil)
	if got := s.BuildTbtp(0); len(got.Entries) != 0 {
		t.Fatalf("entries = %+v, want none", got.Entries)
	}
}

func TestAddTerminalRejects(t *testing.T) {
	sim := event.NewSimulator(epoch)
	s := newScheduler(t, sim, &recorder{clock: sim}, nil)
	if err := s.AddTerminal(ut1, 0); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("zero cra: %v", err)
	}
	if err := s.AddTerminal(ut1, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTerminal(ut1, 10); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("duplicate: %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	sim := event.NewSimulator(epoch)
	seq := testSequence(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no superframes", Config{Scheduler: sim, Forward: &recorder{}}},
		{"no scheduler", Config{Superframes: seq, Forward: &recorder{}}},
		{"no forward", Config{Superframes: seq, Scheduler: sim}},
		{"unknown superframe", Config{Superframes: seq, Scheduler: sim, Forward: &recorder{}, SuperframeID: 3}},
		{"negative lead", Config{Superframes: seq, Scheduler: sim, Forward: &recorder{}, Lead: -time.Second}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestStartBroadcastsEverySuperframe(t *testing.T) {
	sim := event.NewSimulator(epoch)
	fwd := &recorder{clock: sim}
	s := newScheduler(t, sim, fwd, func(c *Config) { c.ControlCarrierID = 2 })
	if err := s.AddTerminal(ut1, 100); err != nil {
		t.Fatal(err)
	}

	s.Start()
	sim.RunUntil(epoch.Add(250 * time.Millisecond))

	if len(fwd.sent) != 3 {
		t.Fatalf("broadcasts = %d, want 3", len(fwd.sent))
	}
	for i, b := range fwd.sent {
		wantAt := epoch.Add(time.Duration(i) * 100 * time.Millisecond)
		if !b.at.Equal(wantAt) {
			t.Fatalf("broadcast %d at %v, want %v", i, b.at, wantAt)
		}
		if b.carrierID != 2 {
			t.Fatalf("carrier = %d, want 2", b.carrierID)
		}
		if b.pkt.Mac == nil || b.pkt.Mac.Dest != model.Broadcast || b.pkt.Mac.Source != gateway {
			t.Fatalf("mac tag = %+v", b.pkt.Mac)
		}
		if b.pkt.Ctrl == nil || b.pkt.Ctrl.Type != model.TbtpCtrlMsg {
			t.Fatalf("ctrl tag = %+v", b.pkt.Ctrl)
		}
		tbtp, err := mac.UnmarshalTbtp(b.pkt.Payload)
		if err != nil {
			t.Fatalf("UnmarshalTbtp: %v", err)
		}
		// The first superframe cannot be announced a full lead ahead.
		if tbtp.SuperframeCounter != uint32(i+1) {
			t.Fatalf("counter = %d, want %d", tbtp.SuperframeCounter, i+1)
		}
	}
	if s.Counter() != 4 {
		t.Fatalf("Counter = %d, want 4", s.Counter())
	}
}

func TestStopCancelsBroadcasts(t *testing.T) {
	sim := event.NewSimulator(epoch)
	fwd := &recorder{clock: sim}
	s := newScheduler(t, sim, fwd, nil)

	s.Start()
	sim.RunUntil(epoch.Add(50 * time.Millisecond))
	s.Stop()
	sim.RunUntil(epoch.Add(time.Second))

	if len(fwd.sent) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(fwd.sent))
	}
	if sim.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", sim.Pending())
	}
}

func TestSendFailureIsFatal(t *testing.T) {
	sim := event.NewSimulator(epoch)
	boom := errors.New("boom")
	var fatal error
	s := newScheduler(t, sim, &recorder{clock: sim, err: boom}, func(c *Config) {
		c.Fatal = func(err error) { fatal = err }
	})

	s.Start()
	sim.RunUntil(epoch.Add(time.Second))

	if !errors.Is(fatal, boom) {
		t.Fatalf("fatal = %v, want boom", fatal)
	}
}

func TestBroadcastRecordsMetrics(t *testing.T) {
	sim := event.NewSimulator(epoch)
	reg := prometheus.NewRegistry()
	collector, err := observability.NewBeamCollector(reg)
	if err != nil {
		t.Fatalf("NewBeamCollector: %v", err)
	}
	s := newScheduler(t, sim, &recorder{clock: sim}, func(c *Config) {
		c.Metrics = collector
		c.Pending = sim.Pending
	})
	if err := s.AddTerminal(ut1, 100); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTerminal(ut2, 300); err != nil {
		t.Fatal(err)
	}

	if err := s.Broadcast(context.Background(), 0); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if got := testutil.ToFloat64(collector.SlotsAllocated.WithLabelValues("7")); got != 4 {
		t.Fatalf("slots allocated = %v, want 4", got)
	}
	if got := testutil.ToFloat64(collector.SlotUtilization.WithLabelValues("7")); got != 1 {
		t.Fatalf("utilization = %v, want 1", got)
	}
}

// Terminals scheduled by the TBTPs of this beam transmit in the granted
// slots of the announced superframe.
func TestTerminalsFollowBroadcastPlan(t *testing.T) {
	sim := event.NewSimulator(epoch)
	ret := &recorder{clock: sim}
	fwd := &recorder{clock: sim}
	s := newScheduler(t, sim, fwd, nil)

	var macs []*mac.UtMac
	for _, addr := range []model.Address{ut1, ut2, ut3} {
		m, err := mac.New(mac.Config{
			Address:     addr,
			Superframes: testSequence(t),
			Scheduler:   sim,
			Epoch:       epoch,
			TxOpportunity: func(maxBytes int, a model.Address) *model.Packet {
				return &model.Packet{Payload: make([]byte, maxBytes)}
			},
			Receive:     func(*model.Packet, model.Address) {},
			Transmitter: ret,
			Fatal:       func(err error) { t.Errorf("fatal: %v", err) },
		})
		if err != nil {
			t.Fatalf("mac.New: %v", err)
		}
		macs = append(macs, m)
	}
	fwd.deliver = func(pkt *model.Packet) {
		for _, m := range macs {
			if err := m.Receive(context.Background(), pkt.Clone()); err != nil {
				t.Errorf("Receive: %v", err)
			}
		}
	}
	if err := s.AddTerminal(ut1, 100); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTerminal(ut2, 300); err != nil {
		t.Fatal(err)
	}

	s.Start()
	sim.RunUntil(epoch.Add(199 * time.Millisecond))

	want := []struct {
		at      time.Duration
		carrier uint32
		src     model.Address
	}{
		{100 * time.Millisecond, 0, ut1},
		{100 * time.Millisecond, 1, ut2},
		{150 * time.Millisecond, 0, ut2},
		{150 * time.Millisecond, 1, ut2},
	}
	if len(ret.sent) != len(want) {
		t.Fatalf("return bursts = %d, want %d", len(ret.sent), len(want))
	}
	for i, w := range want {
		got := ret.sent[i]
		if !got.at.Equal(epoch.Add(w.at)) || got.carrierID != w.carrier || got.pkt.Mac.Source != w.src {
			t.Fatalf("burst %d = %v carrier %d from %s, want %v carrier %d from %s",
				i, got.at.Sub(epoch), got.carrierID, got.pkt.Mac.Source, w.at, w.carrier, w.src)
		}
	}
}
