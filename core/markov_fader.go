package core

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/satcom-simulator/model"
)

// MarkovFader tracks the channel state of one terminal. The probability set
// follows the satellite elevation; a state transition is drawn at most once
// per cooldown period and only after the terminal moved far enough.
type MarkovFader struct {
	conf *MarkovConfig
	rng  *rand.Rand

	setID        uint32
	state        uint32
	lastChange   time.Time
	lastPosition model.Motion
}

// NewMarkovFader starts in state 0 with the set matching elevationDeg.
func NewMarkovFader(conf *MarkovConfig, rng *rand.Rand, now time.Time, elevationDeg float64, pos model.Motion) (*MarkovFader, error) {
	if conf == nil || rng == nil {
		return nil, fmt.Errorf("markov fader needs a config and a random source: %w", ErrInvalidConfig)
	}
	setID, err := conf.ProbabilitySetID(elevationDeg)
	if err != nil {
		return nil, err
	}
	return &MarkovFader{
		conf:         conf,
		rng:          rng,
		setID:        setID,
		lastChange:   now,
		lastPosition: pos,
	}, nil
}

// State returns the current channel state.
func (f *MarkovFader) State() uint32 { return f.state }

// SetID returns the probability set in use.
func (f *MarkovFader) SetID() uint32 { return f.setID }

// LooParameters returns the Loo parameters of the current state.
func (f *MarkovFader) LooParameters() []float64 {
	return append([]float64(nil), f.conf.p.LooParameters[f.setID][f.state]...)
}

// Update re-selects the probability set for elevationDeg and possibly draws a
// new state. It reports whether a transition was drawn.
func (f *MarkovFader) Update(now time.Time, elevationDeg float64, pos model.Motion) (bool, error) {
	setID, err := f.conf.ProbabilitySetID(elevationDeg)
	if err != nil {
		return false, err
	}
	f.setID = setID

	if now.Sub(f.lastChange) < f.conf.CooldownPeriod() {
		return false, nil
	}
	if distanceMetres(pos, f.lastPosition) < f.conf.MinimumPositionChange() {
		return false, nil
	}

	row := f.conf.p.Probabilities[f.setID][f.state]
	draw := f.rng.Float64()
	cumulative := 0.0
	next := f.state
	for to, p := range row {
		cumulative += p
		if draw < cumulative {
			next = uint32(to)
			break
		}
	}

	f.state = next
	f.lastChange = now
	f.lastPosition = pos
	return true, nil
}

func distanceMetres(a, b model.Motion) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
