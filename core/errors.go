package core

import "errors"

var (
	// ErrOutOfRange is returned when an identifier does not address an
	// existing superframe, frame, carrier, timeslot or probability set.
	ErrOutOfRange = errors.New("out of range")

	// ErrInvalidConfig is returned by constructors when the supplied
	// configuration cannot describe a valid system.
	ErrInvalidConfig = errors.New("invalid configuration")
)
