package core

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/signalsfoundry/satcom-simulator/model"
)

func TestRxCarrierConfigRejectsZeroCarriers(t *testing.T) {
	_, err := NewRxCarrierConfig(RxCarrierParams{
		CarrierCount: 0,
		Converter:    FixedCarrierConverter(CarrierBandwidthConfig{AllocatedHz: 1e6}),
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}

	if _, err := NewRxCarrierConfig(RxCarrierParams{CarrierCount: 1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("missing converter error = %v, want ErrInvalidConfig", err)
	}
}

func TestRxCarrierConfigBandwidthUsesFixedChannelType(t *testing.T) {
	var gotCh model.ChannelType
	var gotCarrier uint32
	var gotType model.CarrierBandwidthType
	conv := func(ch model.ChannelType, id uint32, bt model.CarrierBandwidthType) (float64, error) {
		gotCh, gotCarrier, gotType = ch, id, bt
		return 42, nil
	}

	cfg, err := NewRxCarrierConfig(RxCarrierParams{
		ChannelType:  model.ReturnUserChannel,
		Converter:    conv,
		CarrierCount: 4,
	})
	if err != nil {
		t.Fatalf("NewRxCarrierConfig: %v", err)
	}

	bw, err := cfg.CarrierBandwidthHz(3, model.OccupiedBandwidth)
	if err != nil || bw != 42 {
		t.Fatalf("CarrierBandwidthHz = %v, %v, want 42", bw, err)
	}
	if gotCh != model.ReturnUserChannel || gotCarrier != 3 || gotType != model.OccupiedBandwidth {
		t.Fatalf("converter called with (%v, %d, %d)", gotCh, gotCarrier, gotType)
	}
}

func TestRxCarrierConfigGetters(t *testing.T) {
	cec := &ChannelEstimationError{MeanDb: 0.5}
	cfg, err := NewRxCarrierConfig(RxCarrierParams{
		RxTemperatureK:      290,
		ExtNoiseDensityWhz:  1e-21,
		AciIfWrtNoiseFactor: 0.1,
		ErrorModel:          ErrorModelConstant,
		ConstantErrorRate:   0.01,
		DaIfModel:           InterferencePerPacket,
		RaIfModel:           InterferenceConstant,
		RxMode:              RxModeNormal,
		ChannelType:         model.ForwardUserChannel,
		Converter:           FixedCarrierConverter(CarrierBandwidthConfig{AllocatedHz: 1e6}),
		CarrierCount:        2,
		Cec:                 cec,
		RaCollisionModel:    RaCollisionCheckAgainstSinr,
		RandomAccessEnabled: true,
		RaOfferedLoadWindow: 10,
	})
	if err != nil {
		t.Fatalf("NewRxCarrierConfig: %v", err)
	}

	if cfg.RxTemperatureK() != 290 || cfg.ExtPowerDensityWhz() != 1e-21 || cfg.RxAciInterferenceWrtNoiseFactor() != 0.1 {
		t.Fatalf("noise getters wrong")
	}
	if cfg.ErrorModel() != ErrorModelConstant || cfg.ConstantErrorRate() != 0.01 {
		t.Fatalf("error model getters wrong")
	}
	if cfg.InterferenceModel(false) != InterferencePerPacket || cfg.InterferenceModel(true) != InterferenceConstant {
		t.Fatalf("InterferenceModel mixes up DA and RA")
	}
	if cfg.RxMode() != RxModeNormal || cfg.ChannelType() != model.ForwardUserChannel || cfg.CarrierCount() != 2 {
		t.Fatalf("mode/channel/count getters wrong")
	}
	if cfg.ChannelEstimatorErrorContainer() != cec || cfg.RandomAccessCollisionModel() != RaCollisionCheckAgainstSinr {
		t.Fatalf("cec/collision getters wrong")
	}
	if !cfg.RandomAccessEnabled() || cfg.RandomAccessAverageNormalizedOfferedLoadMeasurementWindowSize() != 10 {
		t.Fatalf("random access getters wrong")
	}

	if cfg.SinrCalculator() != nil {
		t.Fatalf("SinrCalculator set before SetSinrCalculator")
	}
	cfg.SetSinrCalculator(func(cni float64) float64 { return cni / 2 })
	if got := cfg.SinrCalculator()(4); got != 2 {
		t.Fatalf("SinrCalculator()(4) = %v, want 2", got)
	}
}

func TestChannelEstimationError(t *testing.T) {
	var nilCec *ChannelEstimationError
	if got := nilCec.AddError(10, nil); got != 10 {
		t.Fatalf("nil estimator changed SINR to %v", got)
	}

	cec := &ChannelEstimationError{MeanDb: -1}
	rng := rand.New(rand.NewPCG(1, 2))
	if got := cec.AddError(10, rng); got != 9 {
		t.Fatalf("AddError with zero std dev = %v, want 9", got)
	}
}
