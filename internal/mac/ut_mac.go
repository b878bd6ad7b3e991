// Package mac implements the user terminal MAC layer: it turns TBTP grants
// into timed transmissions and demultiplexes traffic received from the PHY.
package mac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/satcom-simulator/core"
	"github.com/signalsfoundry/satcom-simulator/internal/event"
	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/model"
	"github.com/signalsfoundry/satcom-simulator/timectrl"
)

var (
	// ErrProtocolViolation marks traffic that breaks a layer contract, such
	// as a packet without a MAC tag or one addressed to another terminal.
	ErrProtocolViolation = errors.New("mac protocol violation")
	// ErrUnsupportedControlMessage is returned for control messages a
	// terminal never expects to receive.
	ErrUnsupportedControlMessage = errors.New("unsupported control message")
	// ErrGuardInterval is returned when a timeslot is too short to leave a
	// guard interval.
	ErrGuardInterval = errors.New("timeslot shorter than guard interval")
)

const (
	// DefaultTxBytes is the payload capacity requested per timeslot. It
	// matches the most robust waveform.
	DefaultTxBytes = 123
	// DefaultCraKbps is the constant rate assignment used when none is set.
	DefaultCraKbps = 128.0
)

const tracerName = "github.com/signalsfoundry/satcom-simulator/internal/mac"

// TxOpportunityFunc pulls at most maxBytes from the upper layer. A nil result
// means there is nothing to send.
type TxOpportunityFunc func(maxBytes int, addr model.Address) *model.Packet

// ReceiveFunc pushes a received payload to the upper layer.
type ReceiveFunc func(pkt *model.Packet, dest model.Address)

// TimingAdvanceFunc returns the timing advance for the terminal.
type TimingAdvanceFunc func(addr model.Address) time.Duration

// FatalHandler is called with errors raised inside scheduled callbacks,
// where there is no caller to return them to. It must not return normally
// for the run to be considered valid.
type FatalHandler func(err error)

// TxTraceFunc observes every packet handed to the PHY.
type TxTraceFunc func(pkt *model.Packet, carrierID uint32, duration time.Duration)

// RxTraceFunc observes every packet accepted from the PHY.
type RxTraceFunc func(pkt *model.Packet, from model.Address)

// Transmitter is the lower layer the MAC sends packets through.
type Transmitter interface {
	Send(pkt *model.Packet, duration time.Duration, carrierID uint32) error
}

// Metrics receives MAC counters. *observability.MacCollector implements it.
type Metrics interface {
	ObserveControlMessage(ut, msgType string)
	ObserveTbtp(ut string, grants int)
	ObserveTransmission(ut string, bytes int)
	ObserveIdleSlot(ut string)
}

// Config wires a UtMac to its collaborators.
type Config struct {
	Address     model.Address
	Superframes *core.SuperframeSequence
	Scheduler   event.Scheduler

	// Epoch is the simulation time origin superframe counters count from.
	Epoch time.Time

	// CraKbps defaults to DefaultCraKbps.
	CraKbps float64
	// TxBytes defaults to DefaultTxBytes.
	TxBytes int

	TxOpportunity TxOpportunityFunc
	Receive       ReceiveFunc
	Transmitter   Transmitter

	Logger  logging.Logger
	Metrics Metrics
	Fatal   FatalHandler
}

// UtMac is the MAC of one user terminal. It is driven by a single-threaded
// event scheduler and is not safe for concurrent use.
type UtMac struct {
	addr        model.Address
	superframes *core.SuperframeSequence
	scheduler   event.Scheduler
	epoch       time.Time
	craKbps     float64
	txBytes     int

	txOpportunity TxOpportunityFunc
	receive       ReceiveFunc
	transmitter   Transmitter
	timingAdvance TimingAdvanceFunc

	txTrace TxTraceFunc
	rxTrace RxTraceFunc

	log     logging.Logger
	metrics Metrics
	fatal   FatalHandler
	tracer  trace.Tracer
}

// New validates cfg and returns a terminal MAC.
func New(cfg Config) (*UtMac, error) {
	switch {
	case cfg.Superframes == nil:
		return nil, fmt.Errorf("ut mac %s: superframe sequence is required: %w", cfg.Address, core.ErrInvalidConfig)
	case cfg.Scheduler == nil:
		return nil, fmt.Errorf("ut mac %s: scheduler is required: %w", cfg.Address, core.ErrInvalidConfig)
	case cfg.TxOpportunity == nil || cfg.Receive == nil:
		return nil, fmt.Errorf("ut mac %s: upper layer callbacks are required: %w", cfg.Address, core.ErrInvalidConfig)
	case cfg.Transmitter == nil:
		return nil, fmt.Errorf("ut mac %s: transmitter is required: %w", cfg.Address, core.ErrInvalidConfig)
	case cfg.CraKbps < 0 || cfg.TxBytes < 0:
		return nil, fmt.Errorf("ut mac %s: negative cra or tx size: %w", cfg.Address, core.ErrInvalidConfig)
	}

	m := &UtMac{
		addr:          cfg.Address,
		superframes:   cfg.Superframes,
		scheduler:     cfg.Scheduler,
		epoch:         cfg.Epoch,
		craKbps:       cfg.CraKbps,
		txBytes:       cfg.TxBytes,
		txOpportunity: cfg.TxOpportunity,
		receive:       cfg.Receive,
		transmitter:   cfg.Transmitter,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		fatal:         cfg.Fatal,
		tracer:        otel.Tracer(tracerName),
	}
	if m.craKbps == 0 {
		m.craKbps = DefaultCraKbps
	}
	if m.txBytes == 0 {
		m.txBytes = DefaultTxBytes
	}
	if m.log == nil {
		m.log = logging.Noop()
	}
	m.log = m.log.With(logging.String("ut", m.addr.String()))
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	if m.fatal == nil {
		m.fatal = m.logAndPanic
	}
	return m, nil
}

// Address returns the terminal's link address.
func (m *UtMac) Address() model.Address { return m.addr }

// CraKbps returns the constant rate assignment.
func (m *UtMac) CraKbps() float64 { return m.craKbps }

// SetTimingAdvanceCallback stores the timing advance source. Grants are
// currently scheduled without applying it.
func (m *UtMac) SetTimingAdvanceCallback(cb TimingAdvanceFunc) { m.timingAdvance = cb }

// SetTxTrace installs a transmit observer.
func (m *UtMac) SetTxTrace(fn TxTraceFunc) { m.txTrace = fn }

// SetRxTrace installs a receive observer.
func (m *UtMac) SetRxTrace(fn RxTraceFunc) { m.rxTrace = fn }

// HandleControlMessage processes a control message addressed to the
// terminal. Only TBTPs are accepted.
func (m *UtMac) HandleControlMessage(ctx context.Context, msgType model.ControlMsgType, payload []byte) error {
	m.metrics.ObserveControlMessage(m.addr.String(), msgType.String())

	switch msgType {
	case model.TbtpCtrlMsg:
		tbtp, err := UnmarshalTbtp(payload)
		if err != nil {
			return err
		}
		_, err = m.ScheduleTimeSlots(ctx, tbtp)
		return err
	case model.NonCtrlMsg:
		return fmt.Errorf("%w: control handler called for a data packet", ErrProtocolViolation)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedControlMessage, msgType)
	}
}

// ScheduleTimeSlots schedules one transmission per grant addressed to the
// terminal and returns how many were scheduled. Start times are
// epoch + superframe duration * counter + slot offset, in grant order.
func (m *UtMac) ScheduleTimeSlots(ctx context.Context, tbtp *Tbtp) (int, error) {
	ctx, span := m.tracer.Start(ctx, "mac.ScheduleTimeSlots", trace.WithAttributes(
		attribute.String("ut", m.addr.String()),
		attribute.Int64("superframe.id", int64(tbtp.SuperframeID)),
		attribute.Int64("superframe.counter", int64(tbtp.SuperframeCounter)),
	))
	defer span.End()

	grants := tbtp.Timeslots(m.addr)
	span.SetAttributes(attribute.Int("grants", len(grants)))
	if len(grants) == 0 {
		m.log.Debug(ctx, "tbtp carries no grants for terminal", logging.Uint32("superframe_counter", tbtp.SuperframeCounter))
		return 0, nil
	}

	sfDuration, err := m.superframes.Duration(tbtp.SuperframeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown superframe")
		return 0, err
	}
	sfStart := m.epoch.Add(sfDuration * time.Duration(tbtp.SuperframeCounter))

	type pending struct {
		at        time.Time
		carrierID uint32
		slot      core.TimeSlotConfig
	}
	// Resolve every grant before scheduling so a bad grant schedules nothing.
	resolved := make([]pending, 0, len(grants))
	for _, g := range grants {
		slot, err := m.superframes.TimeSlotConfig(tbtp.SuperframeID, g.FrameID, g.TimeSlotID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid grant")
			return 0, fmt.Errorf("grant frame %d slot %d: %w", g.FrameID, g.TimeSlotID, err)
		}
		carrierID, err := m.superframes.CarrierID(tbtp.SuperframeID, g.FrameID, slot.CarrierID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid grant")
			return 0, fmt.Errorf("grant frame %d slot %d: %w", g.FrameID, g.TimeSlotID, err)
		}
		resolved = append(resolved, pending{at: sfStart.Add(slot.StartTime), carrierID: carrierID, slot: slot})
	}

	now := m.scheduler.Now()
	for _, p := range resolved {
		if p.at.Before(now) {
			m.log.Warn(ctx, "tbtp grant starts in the past",
				logging.Time("start", p.at),
				logging.Time("now", now),
			)
		}
		m.scheduler.Schedule(p.at, func() {
			if err := m.TransmitTime(p.carrierID, p.slot); err != nil {
				m.fatal(err)
			}
		})
	}

	m.metrics.ObserveTbtp(m.addr.String(), len(resolved))
	m.log.Debug(ctx, "scheduled tbtp grants",
		logging.Int("grants", len(resolved)),
		logging.Uint32("superframe_id", tbtp.SuperframeID),
		logging.Uint32("superframe_counter", tbtp.SuperframeCounter),
		logging.Time("superframe_start", sfStart),
	)
	return len(resolved), nil
}

// TransmitTime runs at the start of a granted timeslot. It pulls a payload
// from the upper layer and sends it for the slot duration minus one
// timectrl.Resolution. An empty upper layer leaves the slot idle.
func (m *UtMac) TransmitTime(carrierID uint32, slot core.TimeSlotConfig) error {
	if slot.Duration <= timectrl.Resolution {
		return fmt.Errorf("%w: slot duration %s on carrier %d", ErrGuardInterval, slot.Duration, carrierID)
	}
	duration := slot.Duration - timectrl.Resolution

	pkt := m.txOpportunity(m.txBytes, m.addr)
	if pkt == nil {
		m.metrics.ObserveIdleSlot(m.addr.String())
		return nil
	}

	if pkt.Mac == nil {
		pkt.Mac = &model.MacTag{Source: m.addr}
	}
	if m.txTrace != nil {
		m.txTrace(pkt, carrierID, duration)
	}
	if err := m.transmitter.Send(pkt, duration, carrierID); err != nil {
		return fmt.Errorf("send on carrier %d: %w", carrierID, err)
	}
	m.metrics.ObserveTransmission(m.addr.String(), pkt.Size())
	return nil
}

// Receive accepts a packet from the PHY. Control messages go to
// HandleControlMessage, data goes to the upper layer.
func (m *UtMac) Receive(ctx context.Context, pkt *model.Packet) error {
	if pkt == nil || pkt.Mac == nil {
		return fmt.Errorf("%w: packet without mac tag", ErrProtocolViolation)
	}
	dest := pkt.Mac.Dest
	if dest != m.addr && !dest.IsBroadcast() {
		return fmt.Errorf("%w: packet for %s delivered to %s", ErrProtocolViolation, dest, m.addr)
	}

	if m.rxTrace != nil {
		m.rxTrace(pkt, pkt.Mac.Source)
	}

	if tag, ok := pkt.RemoveControlTag(); ok {
		if tag.Type == model.NonCtrlMsg {
			return fmt.Errorf("%w: control tag without a control message", ErrProtocolViolation)
		}
		return m.HandleControlMessage(ctx, tag.Type, pkt.Payload)
	}

	m.receive(pkt, dest)
	return nil
}

func (m *UtMac) logAndPanic(err error) {
	m.log.Error(context.Background(), "fatal mac error", logging.Err(err))
	panic(err)
}

type noopMetrics struct{}

func (noopMetrics) ObserveControlMessage(string, string) {}
func (noopMetrics) ObserveTbtp(string, int)              {}
func (noopMetrics) ObserveTransmission(string, int)      {}
func (noopMetrics) ObserveIdleSlot(string)               {}
