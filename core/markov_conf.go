package core

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// DefaultElevationCount is the number of probability sets in DefaultMarkovConfig.
	DefaultElevationCount = 4
	// DefaultStateCount is the number of channel states (line of sight,
	// shadowed, blocked).
	DefaultStateCount = 3
	// LooParameterCount is the number of Loo model parameters per state:
	// direct signal mean (dB), direct signal std dev (dB), multipath power
	// (dB), direct and multipath correlation lengths (m).
	LooParameterCount = 5

	// MaxElevationDegrees closes the last elevation bucket.
	MaxElevationDegrees = 90.0

	rowSumTolerance = 1e-6
)

// ElevationBucket maps elevations from Threshold (inclusive) up to the next
// bucket's threshold (exclusive) onto probability set SetID.
type ElevationBucket struct {
	Threshold float64 `json:"threshold_deg" yaml:"threshold_deg"`
	SetID     uint32  `json:"set_id" yaml:"set_id"`
}

// MarkovParams is the construction input of a MarkovConfig.
type MarkovParams struct {
	StateCount uint32
	Elevations []ElevationBucket
	// Probabilities[set][from][to]
	Probabilities [][][]float64
	// LooParameters[set][state][param]
	LooParameters [][][]float64

	CooldownPeriod        time.Duration
	MinimumPositionChange float64 // metres
	NumOfOscillators      uint32
	DopplerFrequencyHz    float64
}

// MarkovConfig holds the elevation dependent state transition probabilities
// and Loo fading parameters of the land mobile satellite channel model.
type MarkovConfig struct {
	p MarkovParams
}

// NewMarkovConfig validates p. Every probability row must sum to one.
func NewMarkovConfig(p MarkovParams) (*MarkovConfig, error) {
	if p.StateCount == 0 {
		return nil, fmt.Errorf("markov state count 0: %w", ErrInvalidConfig)
	}
	sets := len(p.Probabilities)
	if sets == 0 || len(p.LooParameters) != sets {
		return nil, fmt.Errorf("markov sets: %d probability, %d loo: %w", sets, len(p.LooParameters), ErrInvalidConfig)
	}
	if len(p.Elevations) == 0 {
		return nil, fmt.Errorf("markov elevation buckets missing: %w", ErrInvalidConfig)
	}

	n := int(p.StateCount)
	for s := 0; s < sets; s++ {
		if len(p.Probabilities[s]) != n || len(p.LooParameters[s]) != n {
			return nil, fmt.Errorf("markov set %d: want %d states: %w", s, n, ErrInvalidConfig)
		}
		for from, row := range p.Probabilities[s] {
			if len(row) != n {
				return nil, fmt.Errorf("markov set %d row %d has %d entries: %w", s, from, len(row), ErrInvalidConfig)
			}
			sum := 0.0
			for _, v := range row {
				if v < 0 {
					return nil, fmt.Errorf("markov set %d row %d: negative probability: %w", s, from, ErrInvalidConfig)
				}
				sum += v
			}
			if math.Abs(sum-1) > rowSumTolerance {
				return nil, fmt.Errorf("markov set %d row %d sums to %v: %w", s, from, sum, ErrInvalidConfig)
			}
		}
		for state, row := range p.LooParameters[s] {
			if len(row) != LooParameterCount {
				return nil, fmt.Errorf("markov set %d state %d has %d loo parameters: %w", s, state, len(row), ErrInvalidConfig)
			}
		}
	}

	buckets := append([]ElevationBucket(nil), p.Elevations...)
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Threshold < buckets[j].Threshold })
	for i, b := range buckets {
		if b.Threshold < 0 || b.Threshold >= MaxElevationDegrees {
			return nil, fmt.Errorf("elevation threshold %v: %w", b.Threshold, ErrInvalidConfig)
		}
		if i > 0 && buckets[i-1].Threshold == b.Threshold {
			return nil, fmt.Errorf("duplicate elevation threshold %v: %w", b.Threshold, ErrInvalidConfig)
		}
		if int(b.SetID) >= sets {
			return nil, fmt.Errorf("elevation %v maps to set %d of %d: %w", b.Threshold, b.SetID, sets, ErrInvalidConfig)
		}
	}
	p.Elevations = buckets
	p.Probabilities = copyTable3(p.Probabilities)
	p.LooParameters = copyTable3(p.LooParameters)

	return &MarkovConfig{p: p}, nil
}

// DefaultMarkovConfig returns the built-in three state, four set configuration.
func DefaultMarkovConfig() *MarkovConfig {
	cfg, err := NewMarkovConfig(MarkovParams{
		StateCount: DefaultStateCount,
		Elevations: []ElevationBucket{
			{Threshold: 0, SetID: 0},
			{Threshold: 30, SetID: 1},
			{Threshold: 45, SetID: 2},
			{Threshold: 60, SetID: 3},
		},
		Probabilities: [][][]float64{
			{{0.9530, 0.0431, 0.0039}, {0.0515, 0.9347, 0.0138}, {0.0334, 0.0238, 0.9428}},
			{{0.9643, 0.0255, 0.0102}, {0.0628, 0.9171, 0.0201}, {0.0447, 0.0146, 0.9407}},
			{{0.9750, 0.0180, 0.0070}, {0.0740, 0.9100, 0.0160}, {0.0550, 0.0110, 0.9340}},
			{{0.9850, 0.0100, 0.0050}, {0.0880, 0.9000, 0.0120}, {0.0700, 0.0080, 0.9220}},
		},
		LooParameters: [][][]float64{
			{{-0.1, 0.5, -28.0, 1.5, 0.5}, {-4.9, 2.9, -18.0, 1.5, 0.5}, {-15.0, 5.0, -15.0, 1.5, 0.5}},
			{{0.0, 0.4, -27.0, 1.5, 0.5}, {-4.0, 2.5, -17.0, 1.5, 0.5}, {-13.0, 4.5, -16.0, 1.5, 0.5}},
			{{0.1, 0.3, -26.0, 1.5, 0.5}, {-3.4, 2.2, -16.5, 1.5, 0.5}, {-12.0, 4.0, -17.0, 1.5, 0.5}},
			{{0.2, 0.2, -25.0, 1.5, 0.5}, {-2.8, 2.0, -16.0, 1.5, 0.5}, {-11.0, 3.5, -18.0, 1.5, 0.5}},
		},
		CooldownPeriod:        100 * time.Millisecond,
		MinimumPositionChange: 20,
		NumOfOscillators:      100,
		DopplerFrequencyHz:    150,
	})
	if err != nil {
		panic(fmt.Sprintf("default markov config is invalid: %v", err))
	}
	return cfg
}

// ProbabilitySetID returns the set whose bucket contains elevationDeg: the
// bucket with the largest threshold not above the elevation. Elevations below
// the first threshold or above MaxElevationDegrees are out of range.
func (m *MarkovConfig) ProbabilitySetID(elevationDeg float64) (uint32, error) {
	b := m.p.Elevations
	if math.IsNaN(elevationDeg) || elevationDeg < b[0].Threshold || elevationDeg > MaxElevationDegrees {
		return 0, fmt.Errorf("elevation %v deg outside [%v, %v]: %w", elevationDeg, b[0].Threshold, MaxElevationDegrees, ErrOutOfRange)
	}
	i := sort.Search(len(b), func(i int) bool { return b[i].Threshold > elevationDeg })
	return b[i-1].SetID, nil
}

// ElevationProbabilities returns a copy of the transition matrix of setID.
func (m *MarkovConfig) ElevationProbabilities(setID uint32) ([][]float64, error) {
	if int(setID) >= len(m.p.Probabilities) {
		return nil, fmt.Errorf("probability set %d of %d: %w", setID, len(m.p.Probabilities), ErrOutOfRange)
	}
	return copyTable2(m.p.Probabilities[setID]), nil
}

// LooParameters returns a copy of the per-state Loo parameters of setID.
func (m *MarkovConfig) LooParameters(setID uint32) ([][]float64, error) {
	if int(setID) >= len(m.p.LooParameters) {
		return nil, fmt.Errorf("loo parameter set %d of %d: %w", setID, len(m.p.LooParameters), ErrOutOfRange)
	}
	return copyTable2(m.p.LooParameters[setID]), nil
}

func (m *MarkovConfig) StateCount() uint32             { return m.p.StateCount }
func (m *MarkovConfig) CooldownPeriod() time.Duration  { return m.p.CooldownPeriod }
func (m *MarkovConfig) MinimumPositionChange() float64 { return m.p.MinimumPositionChange }
func (m *MarkovConfig) NumOfOscillators() uint32       { return m.p.NumOfOscillators }
func (m *MarkovConfig) DopplerFrequencyHz() float64    { return m.p.DopplerFrequencyHz }
func (m *MarkovConfig) NumOfSets() uint32              { return uint32(len(m.p.Probabilities)) }

// ElevationBuckets returns the buckets sorted by threshold.
func (m *MarkovConfig) ElevationBuckets() []ElevationBucket {
	return append([]ElevationBucket(nil), m.p.Elevations...)
}

func copyTable2(t [][]float64) [][]float64 {
	out := make([][]float64, len(t))
	for i, row := range t {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func copyTable3(t [][][]float64) [][][]float64 {
	out := make([][][]float64, len(t))
	for i, m := range t {
		out[i] = copyTable2(m)
	}
	return out
}
