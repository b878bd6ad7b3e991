package model

import (
	"fmt"
	"net"
)

// Address is a 48-bit link layer address used by terminals and gateways.
type Address [6]byte

// Broadcast is the all-ones link address.
var Broadcast = Address{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseAddress parses a colon separated MAC-48 address.
func ParseAddress(s string) (Address, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return Address{}, fmt.Errorf("parse address %q: not a 48-bit address", s)
	}
	var a Address
	copy(a[:], hw)
	return a, nil
}

// AddressFromID builds a locally administered address from a numeric id.
func AddressFromID(id uint32) Address {
	return Address{0x02, 0x00, byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}

// IsBroadcast reports whether a is the broadcast address.
func (a Address) IsBroadcast() bool { return a == Broadcast }

// IsZero reports whether a was never assigned.
func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string {
	return net.HardwareAddr(a[:]).String()
}

// MarshalText implements encoding.TextMarshaler so addresses read naturally in
// YAML and JSON scenario files.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
