package core

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/satcom-simulator/model"
)

// TimeSlotConfig describes one transmission opportunity within a frame.
type TimeSlotConfig struct {
	// StartTime is the offset from the frame start.
	StartTime time.Duration `json:"start_time" yaml:"start_time"`
	// Duration is the full slot length including the guard interval.
	Duration time.Duration `json:"duration" yaml:"duration"`
	// CarrierID is the carrier index within the owning frame.
	CarrierID uint32 `json:"carrier_id" yaml:"carrier_id"`
}

// CarrierBandwidthConfig describes the bandwidth of one carrier of a frame.
type CarrierBandwidthConfig struct {
	AllocatedHz float64 `json:"allocated_hz" yaml:"allocated_hz"`
	RollOff     float64 `json:"roll_off" yaml:"roll_off"`
	Spacing     float64 `json:"spacing" yaml:"spacing"`
}

// BandwidthHz returns the carrier bandwidth of the requested type.
// Occupied bandwidth excludes the guard spacing, effective bandwidth further
// excludes the roll-off and equals the symbol rate.
func (c CarrierBandwidthConfig) BandwidthHz(t model.CarrierBandwidthType) (float64, error) {
	switch t {
	case model.AllocatedBandwidth:
		return c.AllocatedHz, nil
	case model.OccupiedBandwidth:
		return c.AllocatedHz / (1 + c.Spacing), nil
	case model.EffectiveBandwidth:
		return c.AllocatedHz / ((1 + c.Spacing) * (1 + c.RollOff)), nil
	default:
		return 0, fmt.Errorf("bandwidth type %d: %w", t, ErrInvalidConfig)
	}
}

// FrameParams is the construction input of a FrameConfig.
type FrameParams struct {
	AllocatedBandwidthHz float64                `json:"allocated_bandwidth_hz" yaml:"allocated_bandwidth_hz"`
	Carrier              CarrierBandwidthConfig `json:"carrier" yaml:"carrier"`
	// Duration is precomputed from the waveform and symbol rate.
	Duration  time.Duration    `json:"duration" yaml:"duration"`
	TimeSlots []TimeSlotConfig `json:"time_slots" yaml:"time_slots"`
}

// FrameConfig is an immutable frame: a bandwidth allocation split into
// equally sized carriers, plus the timeslots scheduled on those carriers.
type FrameConfig struct {
	params       FrameParams
	carrierCount uint32
}

// NewFrameConfig validates p and builds a frame.
func NewFrameConfig(p FrameParams) (*FrameConfig, error) {
	if p.AllocatedBandwidthHz <= 0 || p.Carrier.AllocatedHz <= 0 {
		return nil, fmt.Errorf("frame bandwidth %v Hz / carrier %v Hz: %w",
			p.AllocatedBandwidthHz, p.Carrier.AllocatedHz, ErrInvalidConfig)
	}
	if p.Carrier.RollOff < 0 || p.Carrier.Spacing < 0 {
		return nil, fmt.Errorf("negative roll-off or spacing: %w", ErrInvalidConfig)
	}
	if p.Duration <= 0 {
		return nil, fmt.Errorf("frame duration %v: %w", p.Duration, ErrInvalidConfig)
	}

	// Small epsilon so that e.g. 5e6/1.25e6 does not floor to 3.
	count := math.Floor(p.AllocatedBandwidthHz/p.Carrier.AllocatedHz + 1e-9)
	if count < 1 {
		return nil, fmt.Errorf("frame of %v Hz holds no %v Hz carrier: %w",
			p.AllocatedBandwidthHz, p.Carrier.AllocatedHz, ErrInvalidConfig)
	}

	for i, ts := range p.TimeSlots {
		if ts.StartTime < 0 || ts.Duration <= 0 {
			return nil, fmt.Errorf("timeslot %d: start %v duration %v: %w", i, ts.StartTime, ts.Duration, ErrInvalidConfig)
		}
		if ts.CarrierID >= uint32(count) {
			return nil, fmt.Errorf("timeslot %d: carrier %d of %d: %w", i, ts.CarrierID, uint32(count), ErrInvalidConfig)
		}
	}

	p.TimeSlots = append([]TimeSlotConfig(nil), p.TimeSlots...)
	return &FrameConfig{params: p, carrierCount: uint32(count)}, nil
}

// AllocatedBandwidthHz returns the total bandwidth of the frame.
func (f *FrameConfig) AllocatedBandwidthHz() float64 { return f.params.AllocatedBandwidthHz }

// CarrierCount returns the number of carriers in the frame.
func (f *FrameConfig) CarrierCount() uint32 { return f.carrierCount }

// Duration returns the frame duration.
func (f *FrameConfig) Duration() time.Duration { return f.params.Duration }

// TimeSlotCount returns the number of configured timeslots.
func (f *FrameConfig) TimeSlotCount() uint32 { return uint32(len(f.params.TimeSlots)) }

// TimeSlotConfig returns the timeslot with the given id.
func (f *FrameConfig) TimeSlotConfig(slotID uint32) (TimeSlotConfig, error) {
	if slotID >= uint32(len(f.params.TimeSlots)) {
		return TimeSlotConfig{}, fmt.Errorf("timeslot %d of %d: %w", slotID, len(f.params.TimeSlots), ErrOutOfRange)
	}
	return f.params.TimeSlots[slotID], nil
}

// CarrierBandwidthHz returns the bandwidth of any carrier of this frame.
func (f *FrameConfig) CarrierBandwidthHz(t model.CarrierBandwidthType) (float64, error) {
	return f.params.Carrier.BandwidthHz(t)
}

// SuperframeConfig owns an ordered set of frames.
type SuperframeConfig struct {
	id           uint32
	frames       []*FrameConfig
	carrierCount uint32
	duration     time.Duration
}

// NewSuperframeConfig builds superframe id from frames.
func NewSuperframeConfig(id uint32, frames ...*FrameConfig) (*SuperframeConfig, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("superframe %d has no frames: %w", id, ErrInvalidConfig)
	}
	sf := &SuperframeConfig{id: id, frames: make([]*FrameConfig, 0, len(frames))}
	for i, f := range frames {
		if f == nil {
			return nil, fmt.Errorf("superframe %d frame %d is nil: %w", id, i, ErrInvalidConfig)
		}
		sf.frames = append(sf.frames, f)
		sf.carrierCount += f.CarrierCount()
		sf.duration += f.Duration()
	}
	return sf, nil
}

// ID returns the superframe id.
func (s *SuperframeConfig) ID() uint32 { return s.id }

// FrameCount returns the number of frames.
func (s *SuperframeConfig) FrameCount() uint32 { return uint32(len(s.frames)) }

// CarrierCount returns the carriers summed over all frames.
func (s *SuperframeConfig) CarrierCount() uint32 { return s.carrierCount }

// Duration returns the sum of the frame durations.
func (s *SuperframeConfig) Duration() time.Duration { return s.duration }

// FrameConfig returns the frame with the given id.
func (s *SuperframeConfig) FrameConfig(frameID uint32) (*FrameConfig, error) {
	if frameID >= uint32(len(s.frames)) {
		return nil, fmt.Errorf("superframe %d frame %d of %d: %w", s.id, frameID, len(s.frames), ErrOutOfRange)
	}
	return s.frames[frameID], nil
}

// CarrierID maps an in-frame carrier to an id unique within the superframe.
func (s *SuperframeConfig) CarrierID(frameID, frameCarrierID uint32) (uint32, error) {
	f, err := s.FrameConfig(frameID)
	if err != nil {
		return 0, err
	}
	if frameCarrierID >= f.CarrierCount() {
		return 0, fmt.Errorf("superframe %d frame %d carrier %d of %d: %w",
			s.id, frameID, frameCarrierID, f.CarrierCount(), ErrOutOfRange)
	}
	var base uint32
	for _, prev := range s.frames[:frameID] {
		base += prev.CarrierCount()
	}
	return base + frameCarrierID, nil
}

// SuperframeSequence is the read-only set of superframes shared by every
// terminal in a beam. Superframe ids equal their position in the sequence.
type SuperframeSequence struct {
	superframes []*SuperframeConfig
	// offsets[i] is the first global carrier id of superframe i.
	offsets []uint32
	total   uint32
}

// NewSuperframeSequence validates and builds a sequence.
func NewSuperframeSequence(superframes ...*SuperframeConfig) (*SuperframeSequence, error) {
	if len(superframes) == 0 {
		return nil, fmt.Errorf("empty superframe sequence: %w", ErrInvalidConfig)
	}
	seq := &SuperframeSequence{
		superframes: make([]*SuperframeConfig, 0, len(superframes)),
		offsets:     make([]uint32, 0, len(superframes)),
	}
	for i, sf := range superframes {
		if sf == nil {
			return nil, fmt.Errorf("superframe %d is nil: %w", i, ErrInvalidConfig)
		}
		if sf.ID() != uint32(i) {
			return nil, fmt.Errorf("superframe at position %d has id %d: %w", i, sf.ID(), ErrInvalidConfig)
		}
		seq.superframes = append(seq.superframes, sf)
		seq.offsets = append(seq.offsets, seq.total)
		seq.total += sf.CarrierCount()
	}
	return seq, nil
}

// SuperframeCount returns the number of superframes.
func (q *SuperframeSequence) SuperframeCount() uint32 { return uint32(len(q.superframes)) }

// CarrierCount returns the number of carriers in the whole sequence.
func (q *SuperframeSequence) CarrierCount() uint32 { return q.total }

// SuperframeConfig returns the superframe with the given id.
func (q *SuperframeSequence) SuperframeConfig(superframeID uint32) (*SuperframeConfig, error) {
	if superframeID >= uint32(len(q.superframes)) {
		return nil, fmt.Errorf("superframe %d of %d: %w", superframeID, len(q.superframes), ErrOutOfRange)
	}
	return q.superframes[superframeID], nil
}

// Duration returns the duration of the given superframe.
func (q *SuperframeSequence) Duration(superframeID uint32) (time.Duration, error) {
	sf, err := q.SuperframeConfig(superframeID)
	if err != nil {
		return 0, err
	}
	return sf.Duration(), nil
}

// TimeSlotConfig resolves a (superframe, frame, timeslot) triple.
func (q *SuperframeSequence) TimeSlotConfig(superframeID, frameID, slotID uint32) (TimeSlotConfig, error) {
	sf, err := q.SuperframeConfig(superframeID)
	if err != nil {
		return TimeSlotConfig{}, err
	}
	f, err := sf.FrameConfig(frameID)
	if err != nil {
		return TimeSlotConfig{}, err
	}
	return f.TimeSlotConfig(slotID)
}

// CarrierID resolves an in-frame carrier to the global carrier id. The
// mapping is a bijection between valid triples and [0, CarrierCount()).
func (q *SuperframeSequence) CarrierID(superframeID, frameID, frameCarrierID uint32) (uint32, error) {
	sf, err := q.SuperframeConfig(superframeID)
	if err != nil {
		return 0, err
	}
	id, err := sf.CarrierID(frameID, frameCarrierID)
	if err != nil {
		return 0, err
	}
	return q.offsets[superframeID] + id, nil
}

// CarrierInfo is the inverse of CarrierID.
func (q *SuperframeSequence) CarrierInfo(carrierID uint32) (superframeID, frameID, frameCarrierID uint32, err error) {
	if carrierID >= q.total {
		return 0, 0, 0, fmt.Errorf("carrier %d of %d: %w", carrierID, q.total, ErrOutOfRange)
	}
	for i := len(q.offsets) - 1; i >= 0; i-- {
		if carrierID < q.offsets[i] {
			continue
		}
		rest := carrierID - q.offsets[i]
		for j, f := range q.superframes[i].frames {
			if rest < f.CarrierCount() {
				return uint32(i), uint32(j), rest, nil
			}
			rest -= f.CarrierCount()
		}
		break
	}
	return 0, 0, 0, fmt.Errorf("carrier %d: %w", carrierID, ErrOutOfRange)
}

// CarrierBandwidthHz looks up the bandwidth of a global carrier. Its signature
// matches CarrierBandwidthConverter so the sequence can feed return link
// receiver configurations directly.
func (q *SuperframeSequence) CarrierBandwidthHz(_ model.ChannelType, carrierID uint32, t model.CarrierBandwidthType) (float64, error) {
	sfID, frameID, _, err := q.CarrierInfo(carrierID)
	if err != nil {
		return 0, err
	}
	return q.superframes[sfID].frames[frameID].CarrierBandwidthHz(t)
}
