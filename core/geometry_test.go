package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/satcom-simulator/model"
)

const issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
const issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"

func TestHasLineOfSight(t *testing.T) {
	if !HasLineOfSight(Vec3{X: 8e6}, Vec3{X: 8e6, Y: 1e6}) {
		t.Errorf("expected LoS between two points high above the same side of Earth")
	}
	if HasLineOfSight(Vec3{X: 7e6}, Vec3{X: -7e6}) {
		t.Errorf("expected LoS to be blocked by Earth")
	}
}

func TestGeodeticToECEF(t *testing.T) {
	eq := GeodeticToECEF(0, 0, 0)
	if math.Abs(eq.X-6378137) > 1e-6 || math.Abs(eq.Y) > 1e-6 || math.Abs(eq.Z) > 1e-6 {
		t.Fatalf("GeodeticToECEF(0,0,0) = %+v", eq)
	}
	pole := GeodeticToECEF(90, 0, 0)
	if math.Abs(pole.Z-6356752.314) > 0.01 {
		t.Fatalf("polar Z = %v, want ~6356752.314", pole.Z)
	}
	raised := GeodeticToECEF(0, 90, 1000)
	if math.Abs(raised.Y-6379137) > 1e-6 {
		t.Fatalf("GeodeticToECEF(0,90,1000).Y = %v", raised.Y)
	}
}

func TestElevationDegrees(t *testing.T) {
	ground := GeodeticToECEF(0, 0, 0)

	overhead := ElevationDegrees(ground, GeodeticToECEF(0, 0, 500e3))
	if math.Abs(overhead-90) > 1e-6 {
		t.Fatalf("overhead elevation = %v, want 90", overhead)
	}

	low := ElevationDegrees(ground, GeodeticToECEF(0, 30, 500e3))
	if low >= 0 {
		t.Fatalf("distant satellite elevation = %v, want below horizon", low)
	}

	mid := ElevationDegrees(ground, GeodeticToECEF(0, 2, 500e3))
	if mid <= 0 || mid >= 90 {
		t.Fatalf("nearby satellite elevation = %v, want in (0, 90)", mid)
	}
}

func TestSatelliteTrackerMoves(t *testing.T) {
	tracker, err := NewSatelliteTracker(issLine1, issLine2)
	if err != nil {
		t.Fatalf("NewSatelliteTracker: %v", err)
	}

	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	p1, err := tracker.PositionAt(t1)
	if err != nil {
		t.Fatalf("PositionAt: %v", err)
	}
	p2, err := tracker.PositionAt(t1.Add(5 * time.Minute))
	if err != nil {
		t.Fatalf("PositionAt: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected orbital position to change over time, got %+v at both times", p1)
	}

	// LEO altitude, in metres.
	if r := p1.Norm(); r < 6.6e6 || r > 6.9e6 {
		t.Fatalf("orbit radius = %v m, want roughly 6.7e6", r)
	}

	et := ElevationTracker{Terminal: GeodeticToECEF(48.85, 2.35, 35), Satellite: tracker}
	elev, err := et.ElevationAt(t1)
	if err != nil {
		t.Fatalf("ElevationAt: %v", err)
	}
	if elev < -90 || elev > 90 {
		t.Fatalf("elevation = %v out of range", elev)
	}
}

func TestNewPositionSource(t *testing.T) {
	static, err := NewPositionSource(&model.PlatformDefinition{Coordinates: model.Motion{X: 1, Y: 2, Z: 3}})
	if err != nil {
		t.Fatalf("NewPositionSource static: %v", err)
	}
	pos, _ := static.PositionAt(time.Now())
	if pos != (Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static position = %+v", pos)
	}

	if _, err := NewPositionSource(&model.PlatformDefinition{MotionSource: model.MotionSourceSpacetrack}); err == nil {
		t.Fatalf("expected error for TLE platform without TLE lines")
	}
}

func TestElevationTrackerSlantRangeAndVisibility(t *testing.T) {
	geo := StaticPosition(GeodeticToECEF(0, 0, 35786000))
	now := time.Unix(0, 0)

	sub := ElevationTracker{Terminal: GeodeticToECEF(0, 0, 0), Satellite: geo}
	r, err := sub.SlantRangeAt(now)
	if err != nil {
		t.Fatalf("SlantRangeAt: %v", err)
	}
	if math.Abs(r-35786000) > 1 {
		t.Fatalf("sub-satellite slant range = %v, want 35786000", r)
	}
	if ok, err := sub.VisibleAt(now); err != nil || !ok {
		t.Fatalf("VisibleAt = %v, %v, want true", ok, err)
	}

	antipode := ElevationTracker{Terminal: GeodeticToECEF(0, 180, 0), Satellite: geo}
	if ok, err := antipode.VisibleAt(now); err != nil || ok {
		t.Fatalf("antipode VisibleAt = %v, %v, want false", ok, err)
	}
}
