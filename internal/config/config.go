// Package config loads simulation scenarios from YAML or JSON files and turns
// them into the validated core configuration objects.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/satcom-simulator/core"
	"github.com/signalsfoundry/satcom-simulator/internal/stats"
	"github.com/signalsfoundry/satcom-simulator/model"
)

// Format is the serialization of a scenario file.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// Duration is a time.Duration written as a Go duration string ("150ms").
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Scenario is the root of a scenario file.
type Scenario struct {
	Name string `json:"name" yaml:"name"`
	// Epoch is the simulation time origin. Defaults to the Unix epoch.
	Epoch time.Time `json:"epoch" yaml:"epoch"`
	// Duration is the simulated time span.
	Duration Duration `json:"duration" yaml:"duration"`
	Seed     uint64   `json:"seed" yaml:"seed"`

	Superframes []SuperframeSpec `json:"superframes" yaml:"superframes"`
	Satellite   SatelliteSpec    `json:"satellite" yaml:"satellite"`
	Forward     LinkSpec         `json:"forward" yaml:"forward"`
	Return      LinkSpec         `json:"return" yaml:"return"`
	Markov      *MarkovSpec      `json:"markov,omitempty" yaml:"markov,omitempty"`

	Gateways  []GatewaySpec  `json:"gateways" yaml:"gateways"`
	Terminals []TerminalSpec `json:"terminals" yaml:"terminals"`
	Stats     []StatSpec     `json:"stats" yaml:"stats"`
}

// SlotSpec is one timeslot of a frame.
type SlotSpec struct {
	Start     Duration `json:"start" yaml:"start"`
	Duration  Duration `json:"duration" yaml:"duration"`
	CarrierID uint32   `json:"carrier_id" yaml:"carrier_id"`
}

// FrameSpec describes one frame of a superframe.
type FrameSpec struct {
	AllocatedBandwidthHz float64                     `json:"allocated_bandwidth_hz" yaml:"allocated_bandwidth_hz"`
	Carrier              core.CarrierBandwidthConfig `json:"carrier" yaml:"carrier"`
	Duration             Duration                    `json:"duration" yaml:"duration"`
	Slots                []SlotSpec                  `json:"slots" yaml:"slots"`
}

// SuperframeSpec is one superframe layout. Ids are positions in the list.
type SuperframeSpec struct {
	Frames []FrameSpec `json:"frames" yaml:"frames"`
}

// SatelliteSpec places the satellite either on a TLE or at a fixed ECEF
// position in metres.
type SatelliteSpec struct {
	Name     string       `json:"name" yaml:"name"`
	TLE1     string       `json:"tle1" yaml:"tle1"`
	TLE2     string       `json:"tle2" yaml:"tle2"`
	Position *model.Motion `json:"position,omitempty" yaml:"position,omitempty"`
}

// LinkSpec configures the receivers and propagation of one link direction.
type LinkSpec struct {
	Delay Duration `json:"delay" yaml:"delay"`
	// Carrier is the carrier bandwidth of the link. The return link takes
	// carrier bandwidths from the superframes and ignores it.
	Carrier      core.CarrierBandwidthConfig `json:"carrier" yaml:"carrier"`
	CarrierCount uint32                      `json:"carrier_count" yaml:"carrier_count"`

	RxTemperatureK      float64 `json:"rx_temperature_k" yaml:"rx_temperature_k"`
	ExtNoiseDensityWhz  float64 `json:"ext_noise_density_whz" yaml:"ext_noise_density_whz"`
	AciIfWrtNoiseFactor float64 `json:"aci_if_wrt_noise_factor" yaml:"aci_if_wrt_noise_factor"`
	ErrorModel          string  `json:"error_model" yaml:"error_model"`
	ConstantErrorRate   float64 `json:"constant_error_rate" yaml:"constant_error_rate"`
	RxMode              string  `json:"rx_mode" yaml:"rx_mode"`
	CecMeanDb           float64 `json:"cec_mean_db" yaml:"cec_mean_db"`
	CecStdDevDb         float64 `json:"cec_std_dev_db" yaml:"cec_std_dev_db"`
}

// MarkovSpec overrides the default Markov channel configuration.
type MarkovSpec struct {
	StateCount            uint32                 `json:"state_count" yaml:"state_count"`
	Elevations            []core.ElevationBucket `json:"elevations" yaml:"elevations"`
	Probabilities         [][][]float64          `json:"probabilities" yaml:"probabilities"`
	LooParameters         [][][]float64          `json:"loo_parameters" yaml:"loo_parameters"`
	Cooldown              Duration               `json:"cooldown" yaml:"cooldown"`
	MinimumPositionChange float64                `json:"minimum_position_change_m" yaml:"minimum_position_change_m"`
	Oscillators           uint32                 `json:"oscillators" yaml:"oscillators"`
	DopplerHz             float64                `json:"doppler_hz" yaml:"doppler_hz"`
}

// BeamSpec is one beam served by a gateway.
type BeamSpec struct {
	ID           uint32 `json:"id" yaml:"id"`
	SuperframeID uint32 `json:"superframe_id" yaml:"superframe_id"`
	// ControlCarrierID is the forward carrier TBTPs are sent on.
	ControlCarrierID uint32   `json:"control_carrier_id" yaml:"control_carrier_id"`
	ControlDuration  Duration `json:"control_duration" yaml:"control_duration"`
	// TbtpLead is how far ahead of a superframe its TBTP is broadcast.
	TbtpLead Duration `json:"tbtp_lead" yaml:"tbtp_lead"`
}

// GatewaySpec is a gateway and its beams.
type GatewaySpec struct {
	ID      uint32        `json:"id" yaml:"id"`
	Address model.Address `json:"address" yaml:"address"`
	Beams   []BeamSpec    `json:"beams" yaml:"beams"`
}

// TrafficSpec is a constant bit rate source behind a terminal.
type TrafficSpec struct {
	RateKbps    float64 `json:"rate_kbps" yaml:"rate_kbps"`
	PacketBytes int     `json:"packet_bytes" yaml:"packet_bytes"`
}

// TerminalSpec is one user terminal.
type TerminalSpec struct {
	ID           uint32        `json:"id" yaml:"id"`
	Address      model.Address `json:"address" yaml:"address"`
	BeamID       uint32        `json:"beam_id" yaml:"beam_id"`
	CraKbps      float64       `json:"cra_kbps" yaml:"cra_kbps"`
	LatitudeDeg  float64       `json:"latitude_deg" yaml:"latitude_deg"`
	LongitudeDeg float64       `json:"longitude_deg" yaml:"longitude_deg"`
	AltitudeM    float64       `json:"altitude_m" yaml:"altitude_m"`
	Users        int           `json:"users" yaml:"users"`
	QueueBytes   int           `json:"queue_bytes" yaml:"queue_bytes"`
	Traffic      *TrafficSpec  `json:"traffic,omitempty" yaml:"traffic,omitempty"`
}

// StatSpec requests one statistic, e.g. {rtn-app-delay, per-ut, scatter-file}.
type StatSpec struct {
	Metric string `json:"metric" yaml:"metric"`
	Scope  string `json:"scope" yaml:"scope"`
	Output string `json:"output" yaml:"output"`
}

// Stat is a parsed StatSpec.
type Stat struct {
	Metric stats.Metric
	Scope  stats.Scope
	Output stats.OutputType
}

// FormatFromPath picks the format by file extension. Anything that is not
// .json is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadScenario reads and validates the scenario at path.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	s, err := DecodeScenario(f, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// DecodeScenario reads a scenario in the given format and validates it.
// Unknown fields are rejected.
func DecodeScenario(r io.Reader, format Format) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}

	if s.Epoch.IsZero() {
		s.Epoch = time.Unix(0, 0).UTC()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cross references that the core constructors cannot see.
// Layout errors are reported by SuperframeSequence and the Rx builders.
func (s *Scenario) Validate() error {
	if s.Duration <= 0 {
		return fmt.Errorf("scenario duration %s: %w", s.Duration.D(), core.ErrInvalidConfig)
	}
	if len(s.Superframes) == 0 {
		return fmt.Errorf("scenario has no superframes: %w", core.ErrInvalidConfig)
	}
	if s.Satellite.Position == nil && (s.Satellite.TLE1 == "" || s.Satellite.TLE2 == "") {
		return fmt.Errorf("satellite needs a position or both TLE lines: %w", core.ErrInvalidConfig)
	}

	addrs := make(map[model.Address]string)
	claim := func(addr model.Address, owner string) error {
		if addr.IsZero() || addr.IsBroadcast() {
			return fmt.Errorf("%s: address %s is reserved: %w", owner, addr, core.ErrInvalidConfig)
		}
		if prev, ok := addrs[addr]; ok {
			return fmt.Errorf("%s: address %s already used by %s: %w", owner, addr, prev, core.ErrInvalidConfig)
		}
		addrs[addr] = owner
		return nil
	}

	beams := make(map[uint32]bool)
	for _, gw := range s.Gateways {
		if err := claim(gw.Address, fmt.Sprintf("gateway %d", gw.ID)); err != nil {
			return err
		}
		for _, b := range gw.Beams {
			if beams[b.ID] {
				return fmt.Errorf("beam %d served twice: %w", b.ID, core.ErrInvalidConfig)
			}
			if int(b.SuperframeID) >= len(s.Superframes) {
				return fmt.Errorf("beam %d: superframe %d of %d: %w", b.ID, b.SuperframeID, len(s.Superframes), core.ErrInvalidConfig)
			}
			beams[b.ID] = true
		}
	}
	for _, t := range s.Terminals {
		owner := fmt.Sprintf("terminal %d", t.ID)
		if err := claim(t.Address, owner); err != nil {
			return err
		}
		if !beams[t.BeamID] {
			return fmt.Errorf("%s: beam %d has no gateway: %w", owner, t.BeamID, core.ErrInvalidConfig)
		}
		if t.CraKbps < 0 || t.Users < 0 || t.QueueBytes < 0 {
			return fmt.Errorf("%s: negative cra, users or queue size: %w", owner, core.ErrInvalidConfig)
		}
		if t.Traffic != nil && (t.Traffic.RateKbps <= 0 || t.Traffic.PacketBytes <= 0) {
			return fmt.Errorf("%s: traffic needs a positive rate and packet size: %w", owner, core.ErrInvalidConfig)
		}
	}
	if _, err := s.StatRequests(); err != nil {
		return err
	}
	return nil
}

// SuperframeSequence builds the validated superframe layout.
func (s *Scenario) SuperframeSequence() (*core.SuperframeSequence, error) {
	sfs := make([]*core.SuperframeConfig, 0, len(s.Superframes))
	for id, spec := range s.Superframes {
		frames := make([]*core.FrameConfig, 0, len(spec.Frames))
		for fid, fs := range spec.Frames {
			slots := make([]core.TimeSlotConfig, 0, len(fs.Slots))
			for _, ts := range fs.Slots {
				slots = append(slots, core.TimeSlotConfig{
					StartTime: ts.Start.D(),
					Duration:  ts.Duration.D(),
					CarrierID: ts.CarrierID,
				})
			}
			frame, err := core.NewFrameConfig(core.FrameParams{
				AllocatedBandwidthHz: fs.AllocatedBandwidthHz,
				Carrier:              fs.Carrier,
				Duration:             fs.Duration.D(),
				TimeSlots:            slots,
			})
			if err != nil {
				return nil, fmt.Errorf("superframe %d frame %d: %w", id, fid, err)
			}
			frames = append(frames, frame)
		}
		sf, err := core.NewSuperframeConfig(uint32(id), frames...)
		if err != nil {
			return nil, fmt.Errorf("superframe %d: %w", id, err)
		}
		sfs = append(sfs, sf)
	}
	return core.NewSuperframeSequence(sfs...)
}

// MarkovConfig returns the configured Markov model, or the default one when
// the scenario does not override it.
func (s *Scenario) MarkovConfig() (*core.MarkovConfig, error) {
	if s.Markov == nil {
		return core.DefaultMarkovConfig(), nil
	}
	m := s.Markov
	return core.NewMarkovConfig(core.MarkovParams{
		StateCount:            m.StateCount,
		Elevations:            m.Elevations,
		Probabilities:         m.Probabilities,
		LooParameters:         m.LooParameters,
		CooldownPeriod:        m.Cooldown.D(),
		MinimumPositionChange: m.MinimumPositionChange,
		NumOfOscillators:      m.Oscillators,
		DopplerFrequencyHz:    m.DopplerHz,
	})
}

// Platform returns the satellite as a platform definition.
func (s *Scenario) Platform() *model.PlatformDefinition {
	p := &model.PlatformDefinition{ID: s.Satellite.Name, Name: s.Satellite.Name}
	if s.Satellite.Position != nil {
		p.Coordinates = *s.Satellite.Position
		return p
	}
	p.MotionSource = model.MotionSourceSpacetrack
	p.TLE1 = s.Satellite.TLE1
	p.TLE2 = s.Satellite.TLE2
	return p
}

// RxCarrierConfig builds the receiver configuration of a link. conv supplies
// carrier bandwidths and carriers is the number of carriers on the link.
func (l LinkSpec) RxCarrierConfig(ch model.ChannelType, conv core.CarrierBandwidthConverter, carriers uint32) (*core.RxCarrierConfig, error) {
	errModel, err := ParseErrorModel(l.ErrorModel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ch, err)
	}
	mode, err := ParseRxMode(l.RxMode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ch, err)
	}
	params := core.RxCarrierParams{
		RxTemperatureK:      l.RxTemperatureK,
		ExtNoiseDensityWhz:  l.ExtNoiseDensityWhz,
		AciIfWrtNoiseFactor: l.AciIfWrtNoiseFactor,
		ErrorModel:          errModel,
		ConstantErrorRate:   l.ConstantErrorRate,
		RxMode:              mode,
		ChannelType:         ch,
		Converter:           conv,
		CarrierCount:        carriers,
	}
	if l.CecMeanDb != 0 || l.CecStdDevDb != 0 {
		params.Cec = &core.ChannelEstimationError{MeanDb: l.CecMeanDb, StdDevDb: l.CecStdDevDb}
	}
	return core.NewRxCarrierConfig(params)
}

// StatRequests parses the requested statistics.
func (s *Scenario) StatRequests() ([]Stat, error) {
	out := make([]Stat, 0, len(s.Stats))
	for i, spec := range s.Stats {
		metric, err := stats.ParseMetric(spec.Metric)
		if err != nil {
			return nil, fmt.Errorf("stats[%d]: %w", i, err)
		}
		scope, err := stats.ParseScope(spec.Scope)
		if err != nil {
			return nil, fmt.Errorf("stats[%d]: %w", i, err)
		}
		output := stats.OutputScatterFile
		if spec.Output != "" {
			if output, err = stats.ParseOutputType(spec.Output); err != nil {
				return nil, fmt.Errorf("stats[%d]: %w", i, err)
			}
		}
		out = append(out, Stat{Metric: metric, Scope: scope, Output: output})
	}
	return out, nil
}

// ParseErrorModel accepts none, constant and avi. Empty means none.
func ParseErrorModel(s string) (core.ErrorModel, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return core.ErrorModelNone, nil
	case "constant":
		return core.ErrorModelConstant, nil
	case "avi":
		return core.ErrorModelAVI, nil
	default:
		return 0, fmt.Errorf("error model %q: %w", s, core.ErrInvalidConfig)
	}
}

// ParseRxMode accepts transparent and normal. Empty means transparent.
func ParseRxMode(s string) (core.RxMode, error) {
	switch strings.ToLower(s) {
	case "", "transparent":
		return core.RxModeTransparent, nil
	case "normal":
		return core.RxModeNormal, nil
	default:
		return 0, fmt.Errorf("rx mode %q: %w", s, core.ErrInvalidConfig)
	}
}
