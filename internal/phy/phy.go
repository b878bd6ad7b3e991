// Package phy is a minimal physical layer: a shared channel that delivers
// bursts after a propagation delay and receivers that apply the receiver
// carrier configuration.
package phy

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/satcom-simulator/core"
	"github.com/signalsfoundry/satcom-simulator/internal/event"
	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/model"
)

// BoltzmannConstant in J/K.
const BoltzmannConstant = 1.380649e-23

// Drop reasons reported to Metrics.
const (
	DropCarrier    = "carrier"
	DropAddress    = "address"
	DropErrorModel = "error_model"
)

// Metrics receives receiver counters. *observability.PhyCollector
// implements it.
type Metrics interface {
	ObserveReceived(rx string)
	ObserveDropped(rx, reason string)
}

// DeliverFunc hands an accepted packet to the MAC.
type DeliverFunc func(ctx context.Context, pkt *model.Packet) error

// Channel broadcasts every burst to all attached receivers. A burst arrives
// once it has been fully transmitted and propagated.
type Channel struct {
	chType    model.ChannelType
	scheduler event.Scheduler
	delay     time.Duration
	receivers []*Receiver
	log       logging.Logger
}

// NewChannel returns a channel with a fixed propagation delay.
func NewChannel(chType model.ChannelType, scheduler event.Scheduler, delay time.Duration, log logging.Logger) *Channel {
	if log == nil {
		log = logging.Noop()
	}
	return &Channel{
		chType:    chType,
		scheduler: scheduler,
		delay:     delay,
		log:       log.With(logging.String("channel", chType.String())),
	}
}

// Attach adds a receiver.
func (c *Channel) Attach(r *Receiver) { c.receivers = append(c.receivers, r) }

// Send schedules delivery of pkt on carrierID to every receiver.
func (c *Channel) Send(pkt *model.Packet, duration time.Duration, carrierID uint32) error {
	if pkt == nil {
		return fmt.Errorf("send nil packet on %s", c.chType)
	}
	if duration < 0 {
		return fmt.Errorf("send on %s: negative burst duration %s", c.chType, duration)
	}
	at := c.scheduler.Now().Add(duration + c.delay)
	for _, r := range c.receivers {
		copyPkt := pkt.Clone()
		c.scheduler.Schedule(at, func() { r.Receive(copyPkt, carrierID) })
	}
	return nil
}

// Receiver is one receiving end of a channel.
type Receiver struct {
	addr    model.Address
	conf    *core.RxCarrierConfig
	rng     *rand.Rand
	deliver DeliverFunc
	fatal   func(error)
	metrics Metrics
	log     logging.Logger
}

// ReceiverOption customises a Receiver.
type ReceiverOption func(*Receiver)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) ReceiverOption { return func(r *Receiver) { r.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) ReceiverOption { return func(r *Receiver) { r.log = l } }

// WithFatalHandler sets the handler for delivery errors. The default panics.
func WithFatalHandler(fn func(error)) ReceiverOption { return func(r *Receiver) { r.fatal = fn } }

// NewReceiver returns a receiver for addr.
func NewReceiver(addr model.Address, conf *core.RxCarrierConfig, rng *rand.Rand, deliver DeliverFunc, opts ...ReceiverOption) (*Receiver, error) {
	if conf == nil || rng == nil || deliver == nil {
		return nil, fmt.Errorf("receiver %s needs a carrier config, random source and delivery callback: %w", addr, core.ErrInvalidConfig)
	}
	r := &Receiver{
		addr:    addr,
		conf:    conf,
		rng:     rng,
		deliver: deliver,
		metrics: noopMetrics{},
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logging.String("rx", addr.String()))
	if r.fatal == nil {
		r.fatal = func(err error) {
			r.log.Error(context.Background(), "fatal receive error", logging.Err(err))
			panic(err)
		}
	}
	return r, nil
}

// Receive applies the carrier configuration to a burst and delivers it.
func (r *Receiver) Receive(pkt *model.Packet, carrierID uint32) {
	ctx := context.Background()
	rx := r.addr.String()

	if carrierID >= r.conf.CarrierCount() {
		r.log.Debug(ctx, "burst on unknown carrier", logging.Uint32("carrier_id", carrierID))
		r.metrics.ObserveDropped(rx, DropCarrier)
		return
	}
	if r.conf.RxMode() == core.RxModeNormal && pkt.Mac != nil &&
		pkt.Mac.Dest != r.addr && !pkt.Mac.Dest.IsBroadcast() {
		r.metrics.ObserveDropped(rx, DropAddress)
		return
	}
	if r.conf.ErrorModel() == core.ErrorModelConstant && r.rng.Float64() < r.conf.ConstantErrorRate() {
		r.log.Debug(ctx, "burst lost to error model", logging.Uint32("carrier_id", carrierID))
		r.metrics.ObserveDropped(rx, DropErrorModel)
		return
	}

	r.metrics.ObserveReceived(rx)
	if err := r.deliver(ctx, pkt); err != nil {
		r.fatal(err)
	}
}

// NoisePowerW returns the thermal plus external noise power over the
// effective bandwidth of a carrier.
func (r *Receiver) NoisePowerW(carrierID uint32) (float64, error) {
	bw, err := r.conf.CarrierBandwidthHz(carrierID, model.EffectiveBandwidth)
	if err != nil {
		return 0, err
	}
	density := BoltzmannConstant*r.conf.RxTemperatureK() + r.conf.ExtPowerDensityWhz()
	return density * bw, nil
}

// SinrDb turns a received power into the SINR the receiver would estimate,
// including adjacent channel interference and the channel estimation error.
func (r *Receiver) SinrDb(carrierID uint32, rxPowerW, interferenceW float64) (float64, error) {
	noise, err := r.NoisePowerW(carrierID)
	if err != nil {
		return 0, err
	}
	noise *= 1 + r.conf.RxAciInterferenceWrtNoiseFactor()
	sinr := rxPowerW / (noise + interferenceW)
	if calc := r.conf.SinrCalculator(); calc != nil {
		sinr = calc(sinr)
	}
	sinrDb := 10 * math.Log10(sinr)
	return r.conf.ChannelEstimatorErrorContainer().AddError(sinrDb, r.rng), nil
}

type noopMetrics struct{}

func (noopMetrics) ObserveReceived(string)        {}
func (noopMetrics) ObserveDropped(string, string) {}
