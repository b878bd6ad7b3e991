package mac

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/signalsfoundry/satcom-simulator/model"
)

// ErrMalformedTbtp is returned when a TBTP payload cannot be decoded.
var ErrMalformedTbtp = errors.New("malformed tbtp")

// TbtpEntry grants one timeslot of one frame to a terminal.
type TbtpEntry struct {
	FrameID    uint32
	TimeSlotID uint32
	Address    model.Address
}

// Tbtp is a terminal burst time plan for one superframe instance.
type Tbtp struct {
	SuperframeID      uint32
	SuperframeCounter uint32
	Entries           []TbtpEntry
}

// Grant is a (frame, timeslot) pair extracted for one terminal.
type Grant struct {
	FrameID    uint32
	TimeSlotID uint32
}

// Add appends a grant for addr.
func (t *Tbtp) Add(addr model.Address, frameID, slotID uint32) {
	t.Entries = append(t.Entries, TbtpEntry{FrameID: frameID, TimeSlotID: slotID, Address: addr})
}

// Timeslots returns the grants addressed to addr in plan order.
func (t *Tbtp) Timeslots(addr model.Address) []Grant {
	var out []Grant
	for _, e := range t.Entries {
		if e.Address == addr {
			out = append(out, Grant{FrameID: e.FrameID, TimeSlotID: e.TimeSlotID})
		}
	}
	return out
}

// Wire field numbers.
const (
	fieldSuperframeID      protowire.Number = 1
	fieldSuperframeCounter protowire.Number = 2
	fieldEntry             protowire.Number = 3

	fieldEntryFrame   protowire.Number = 1
	fieldEntrySlot    protowire.Number = 2
	fieldEntryAddress protowire.Number = 3
)

// MarshalBinary encodes the plan in protobuf wire format.
func (t *Tbtp) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldSuperframeID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.SuperframeID))
	b = protowire.AppendTag(b, fieldSuperframeCounter, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.SuperframeCounter))

	for _, e := range t.Entries {
		var eb []byte
		eb = protowire.AppendTag(eb, fieldEntryFrame, protowire.VarintType)
		eb = protowire.AppendVarint(eb, uint64(e.FrameID))
		eb = protowire.AppendTag(eb, fieldEntrySlot, protowire.VarintType)
		eb = protowire.AppendVarint(eb, uint64(e.TimeSlotID))
		eb = protowire.AppendTag(eb, fieldEntryAddress, protowire.BytesType)
		eb = protowire.AppendBytes(eb, e.Address[:])

		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	return b, nil
}

// UnmarshalTbtp decodes a plan produced by MarshalBinary. Unknown fields are
// skipped.
func UnmarshalTbtp(b []byte) (*Tbtp, error) {
	t := &Tbtp{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTbtp, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSuperframeID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: superframe id: %v", ErrMalformedTbtp, protowire.ParseError(n))
			}
			t.SuperframeID = uint32(v)
			b = b[n:]
		case num == fieldSuperframeCounter && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: superframe counter: %v", ErrMalformedTbtp, protowire.ParseError(n))
			}
			t.SuperframeCounter = uint32(v)
			b = b[n:]
		case num == fieldEntry && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: entry: %v", ErrMalformedTbtp, protowire.ParseError(n))
			}
			e, err := unmarshalEntry(v)
			if err != nil {
				return nil, err
			}
			t.Entries = append(t.Entries, e)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedTbtp, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return t, nil
}

func unmarshalEntry(b []byte) (TbtpEntry, error) {
	var e TbtpEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, fmt.Errorf("%w: entry tag: %v", ErrMalformedTbtp, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case (num == fieldEntryFrame || num == fieldEntrySlot) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, fmt.Errorf("%w: entry field %d: %v", ErrMalformedTbtp, num, protowire.ParseError(n))
			}
			if num == fieldEntryFrame {
				e.FrameID = uint32(v)
			} else {
				e.TimeSlotID = uint32(v)
			}
			b = b[n:]
		case num == fieldEntryAddress && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, fmt.Errorf("%w: entry address: %v", ErrMalformedTbtp, protowire.ParseError(n))
			}
			if len(v) != len(e.Address) {
				return e, fmt.Errorf("%w: address has %d bytes", ErrMalformedTbtp, len(v))
			}
			copy(e.Address[:], v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, fmt.Errorf("%w: entry field %d: %v", ErrMalformedTbtp, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}
