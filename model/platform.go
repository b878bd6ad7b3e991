package model

// MotionSource indicates how a platform's motion is determined.
type MotionSource int

const (
	MotionSourceUnknown    MotionSource = iota
	MotionSourceSpacetrack              // TLE-based orbit propagation
)

// Motion represents a position in ECEF metres.
type Motion struct {
	X float64
	Y float64
	Z float64
}

// PlatformDefinition represents the satellite carrying the beams.
type PlatformDefinition struct {
	ID   string
	Name string

	Coordinates  Motion
	MotionSource MotionSource

	// TLE lines, used when MotionSource is MotionSourceSpacetrack.
	TLE1 string
	TLE2 string
}

// Terminal describes a user terminal (UT) attached to a beam.
type Terminal struct {
	ID      uint32
	Address Address
	BeamID  uint32

	// CRAKbps is the constant rate assignment for the terminal.
	CRAKbps float64

	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64

	// Users is the number of end users behind the terminal.
	Users int
}

// Gateway serves one or more beams.
type Gateway struct {
	ID      uint32
	Address Address
	Beams   []uint32
}
