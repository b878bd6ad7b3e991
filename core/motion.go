package core

import (
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/satcom-simulator/model"
)

// PositionSource yields a platform position for a simulation time.
type PositionSource interface {
	PositionAt(simTime time.Time) (Vec3, error)
}

// StaticPosition never moves.
type StaticPosition Vec3

// PositionAt returns the fixed position.
func (s StaticPosition) PositionAt(time.Time) (Vec3, error) { return Vec3(s), nil }

// SatelliteTracker propagates a TLE with SGP4.
type SatelliteTracker struct {
	sat satellite.Satellite
}

// NewSatelliteTracker parses the TLE lines.
func NewSatelliteTracker(line1, line2 string) (*SatelliteTracker, error) {
	if line1 == "" || line2 == "" {
		return nil, fmt.Errorf("satellite tracker needs both TLE lines: %w", ErrInvalidConfig)
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &SatelliteTracker{sat: sat}, nil
}

// PositionAt propagates to simTime and returns ECEF metres.
// go-satellite works in kilometres.
func (s *SatelliteTracker) PositionAt(simTime time.Time) (Vec3, error) {
	simTime = simTime.UTC()
	year, month, day := simTime.Date()
	hour, min, sec := simTime.Clock()

	posECI, _ := satellite.Propagate(s.sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(posECI.X) || math.IsNaN(posECI.Y) || math.IsNaN(posECI.Z) {
		return Vec3{}, fmt.Errorf("sgp4 propagation diverged at %s: %w", simTime.Format(time.RFC3339), ErrOutOfRange)
	}
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	const kmToM = 1000.0
	return Vec3{X: posECEF.X * kmToM, Y: posECEF.Y * kmToM, Z: posECEF.Z * kmToM}, nil
}

// NewPositionSource picks SGP4 for TLE-driven platforms and a static
// position otherwise.
func NewPositionSource(p *model.PlatformDefinition) (PositionSource, error) {
	if p.MotionSource == model.MotionSourceSpacetrack {
		return NewSatelliteTracker(p.TLE1, p.TLE2)
	}
	return StaticPosition(VecFromMotion(p.Coordinates)), nil
}

// ElevationTracker computes the elevation of a satellite seen from a fixed
// terminal.
type ElevationTracker struct {
	Terminal  Vec3
	Satellite PositionSource
}

// ElevationAt returns the elevation in degrees at simTime.
func (e ElevationTracker) ElevationAt(simTime time.Time) (float64, error) {
	sat, err := e.Satellite.PositionAt(simTime)
	if err != nil {
		return 0, err
	}
	return ElevationDegrees(e.Terminal, sat), nil
}

// SlantRangeAt returns the terminal to satellite distance in metres.
func (e ElevationTracker) SlantRangeAt(simTime time.Time) (float64, error) {
	sat, err := e.Satellite.PositionAt(simTime)
	if err != nil {
		return 0, err
	}
	return e.Terminal.DistanceTo(sat), nil
}

// VisibleAt reports whether the Earth leaves the terminal to satellite path
// clear.
func (e ElevationTracker) VisibleAt(simTime time.Time) (bool, error) {
	sat, err := e.Satellite.PositionAt(simTime)
	if err != nil {
		return false, err
	}
	return HasLineOfSight(e.Terminal, sat), nil
}
