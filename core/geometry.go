package core

import (
	"math"

	"github.com/signalsfoundry/satcom-simulator/model"
)

// WGS84 ellipsoid.
const (
	wgs84SemiMajorM     = 6378137.0
	wgs84Flattening     = 1 / 298.257223563
	wgs84EccentricitySq = wgs84Flattening * (2 - wgs84Flattening)
)

// EarthRadiusM is the mean Earth radius used for line-of-sight checks.
const EarthRadiusM = 6371000.0

// Vec3 is an ECEF vector in metres.
type Vec3 struct {
	X, Y, Z float64
}

// VecFromMotion converts a platform position.
func VecFromMotion(m model.Motion) Vec3 { return Vec3{X: m.X, Y: m.Y, Z: m.Z} }

// Motion converts back to the model representation.
func (v Vec3) Motion() model.Motion { return model.Motion{X: v.X, Y: v.Y, Z: v.Z} }

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// GeodeticToECEF converts WGS84 latitude/longitude (degrees) and altitude
// (metres) to ECEF metres.
func GeodeticToECEF(latDeg, lonDeg, altM float64) Vec3 {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n := wgs84SemiMajorM / math.Sqrt(1-wgs84EccentricitySq*sinLat*sinLat)
	return Vec3{
		X: (n + altM) * cosLat * math.Cos(lon),
		Y: (n + altM) * cosLat * math.Sin(lon),
		Z: (n*(1-wgs84EccentricitySq) + altM) * sinLat,
	}
}

// HasLineOfSight reports whether the segment between p1 and p2 clears the
// Earth sphere.
func HasLineOfSight(p1, p2 Vec3) bool {
	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		return p1.Dot(p1) > EarthRadiusM*EarthRadiusM
	}

	// Closest point on the segment to the Earth's centre.
	t := -p1.Dot(v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := Vec3{
		X: p1.X + v.X*t,
		Y: p1.Y + v.Y*t,
		Z: p1.Z + v.Z*t,
	}
	return closest.Dot(closest) > EarthRadiusM*EarthRadiusM
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target Vec3) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}

	// Local zenith at observer is its normalised position vector.
	r := observer.Norm()
	if r == 0 {
		return 90
	}
	zenith := Vec3{
		X: observer.X / r,
		Y: observer.Y / r,
		Z: observer.Z / r,
	}

	cosGamma := v.Dot(zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	gammaDeg := math.Acos(cosGamma) * 180.0 / math.Pi

	return 90.0 - gammaDeg
}
