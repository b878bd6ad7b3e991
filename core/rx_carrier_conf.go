package core

import (
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/satcom-simulator/model"
)

// RxMode selects how receiver carriers filter incoming bursts.
type RxMode int

const (
	// RxModeTransparent only checks the beam id.
	RxModeTransparent RxMode = iota
	// RxModeNormal also requires the destination to be the own or broadcast address.
	RxModeNormal
)

// ErrorModel selects how packet errors are decided.
type ErrorModel int

const (
	ErrorModelNone ErrorModel = iota
	ErrorModelConstant
	// ErrorModelAVI uses link results tables (actual value interface).
	ErrorModelAVI
)

// InterferenceModel selects how interference is computed for a carrier.
type InterferenceModel int

const (
	InterferencePerPacket InterferenceModel = iota
	InterferenceTrace
	InterferenceConstant
)

// RandomAccessCollisionModel selects how colliding random access bursts are handled.
type RandomAccessCollisionModel int

const (
	RaCollisionNotDefined RandomAccessCollisionModel = iota
	RaCollisionAlwaysDropAll
	RaCollisionCheckAgainstSinr
)

// CarrierBandwidthConverter returns the bandwidth of a carrier on a channel.
type CarrierBandwidthConverter func(ch model.ChannelType, carrierID uint32, t model.CarrierBandwidthType) (float64, error)

// SinrCalculator turns a C/NI value into the final SINR, both linear.
type SinrCalculator func(cni float64) float64

// ChannelEstimationError models the receiver's SINR estimation inaccuracy as a
// Gaussian offset in dB.
type ChannelEstimationError struct {
	MeanDb   float64
	StdDevDb float64
}

// AddError returns sinrDb perturbed by the estimation error.
func (c *ChannelEstimationError) AddError(sinrDb float64, rng *rand.Rand) float64 {
	if c == nil || rng == nil {
		return sinrDb
	}
	return sinrDb + c.MeanDb + c.StdDevDb*rng.NormFloat64()
}

// RxCarrierParams carries every value a receiver carrier configuration needs.
type RxCarrierParams struct {
	RxTemperatureK      float64
	ExtNoiseDensityWhz  float64
	AciIfWrtNoiseFactor float64
	ErrorModel          ErrorModel
	ConstantErrorRate   float64
	DaIfModel           InterferenceModel
	RaIfModel           InterferenceModel
	RxMode              RxMode
	ChannelType         model.ChannelType
	Converter           CarrierBandwidthConverter
	CarrierCount        uint32
	Cec                 *ChannelEstimationError
	RaCollisionModel    RandomAccessCollisionModel
	RandomAccessEnabled bool

	EnableIntfOutputTrace bool
	// RaOfferedLoadWindow is the measurement window, in frames, of the random
	// access average normalized offered load.
	RaOfferedLoadWindow uint32
}

// RxCarrierConfig is the read-only configuration shared by every receiver
// carrier of one channel.
type RxCarrierConfig struct {
	p    RxCarrierParams
	sinr SinrCalculator
}

// NewRxCarrierConfig validates p.
func NewRxCarrierConfig(p RxCarrierParams) (*RxCarrierConfig, error) {
	if p.CarrierCount < 1 {
		return nil, fmt.Errorf("rx carrier count %d: %w", p.CarrierCount, ErrInvalidConfig)
	}
	if p.Converter == nil {
		return nil, fmt.Errorf("rx carrier bandwidth converter missing: %w", ErrInvalidConfig)
	}
	if p.ConstantErrorRate < 0 || p.ConstantErrorRate > 1 {
		return nil, fmt.Errorf("constant error rate %v: %w", p.ConstantErrorRate, ErrInvalidConfig)
	}
	return &RxCarrierConfig{p: p}, nil
}

func (c *RxCarrierConfig) CarrierCount() uint32           { return c.p.CarrierCount }
func (c *RxCarrierConfig) ErrorModel() ErrorModel         { return c.p.ErrorModel }
func (c *RxCarrierConfig) ConstantErrorRate() float64     { return c.p.ConstantErrorRate }
func (c *RxCarrierConfig) RxTemperatureK() float64        { return c.p.RxTemperatureK }
func (c *RxCarrierConfig) ExtPowerDensityWhz() float64    { return c.p.ExtNoiseDensityWhz }
func (c *RxCarrierConfig) RxMode() RxMode                 { return c.p.RxMode }
func (c *RxCarrierConfig) ChannelType() model.ChannelType { return c.p.ChannelType }
func (c *RxCarrierConfig) IsIntfOutputTraceEnabled() bool { return c.p.EnableIntfOutputTrace }
func (c *RxCarrierConfig) RandomAccessEnabled() bool      { return c.p.RandomAccessEnabled }

// RxAciInterferenceWrtNoiseFactor returns the adjacent channel interference
// relative to noise.
func (c *RxCarrierConfig) RxAciInterferenceWrtNoiseFactor() float64 {
	return c.p.AciIfWrtNoiseFactor
}

// InterferenceModel returns the random access or dedicated access model.
func (c *RxCarrierConfig) InterferenceModel(isRandomAccessCarrier bool) InterferenceModel {
	if isRandomAccessCarrier {
		return c.p.RaIfModel
	}
	return c.p.DaIfModel
}

// ChannelEstimatorErrorContainer returns the channel estimation error model, possibly nil.
func (c *RxCarrierConfig) ChannelEstimatorErrorContainer() *ChannelEstimationError {
	return c.p.Cec
}

// RandomAccessCollisionModel returns the configured collision policy.
func (c *RxCarrierConfig) RandomAccessCollisionModel() RandomAccessCollisionModel {
	return c.p.RaCollisionModel
}

// RandomAccessAverageNormalizedOfferedLoadMeasurementWindowSize returns the
// window size in frames.
func (c *RxCarrierConfig) RandomAccessAverageNormalizedOfferedLoadMeasurementWindowSize() uint32 {
	return c.p.RaOfferedLoadWindow
}

// CarrierBandwidthHz asks the converter for the carrier's bandwidth on this
// configuration's channel.
func (c *RxCarrierConfig) CarrierBandwidthHz(carrierID uint32, t model.CarrierBandwidthType) (float64, error) {
	return c.p.Converter(c.p.ChannelType, carrierID, t)
}

// SinrCalculator returns the SINR callback, nil until set.
func (c *RxCarrierConfig) SinrCalculator() SinrCalculator { return c.sinr }

// SetSinrCalculator installs the final SINR callback. It is set once while
// wiring the topology, before the configuration is shared.
func (c *RxCarrierConfig) SetSinrCalculator(fn SinrCalculator) { c.sinr = fn }

// FixedCarrierConverter serves channels whose carriers all share one
// bandwidth configuration, such as the forward link.
func FixedCarrierConverter(bw CarrierBandwidthConfig) CarrierBandwidthConverter {
	return func(_ model.ChannelType, _ uint32, t model.CarrierBandwidthType) (float64, error) {
		return bw.BandwidthHz(t)
	}
}
