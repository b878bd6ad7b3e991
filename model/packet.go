package model

import "time"

// ControlMsgType identifies the kind of control message carried by a packet.
type ControlMsgType int

const (
	// NonCtrlMsg marks a packet that carries user data.
	NonCtrlMsg ControlMsgType = iota
	// TbtpCtrlMsg is a terminal burst time plan.
	TbtpCtrlMsg
	// RaCtrlMsg is a random access control message.
	RaCtrlMsg
	// CrCtrlMsg is a capacity request.
	CrCtrlMsg
)

func (t ControlMsgType) String() string {
	switch t {
	case NonCtrlMsg:
		return "NON_CTRL"
	case TbtpCtrlMsg:
		return "TBTP"
	case RaCtrlMsg:
		return "RA"
	case CrCtrlMsg:
		return "CR"
	default:
		return "UNKNOWN"
	}
}

// MacTag carries link addressing. Every packet handed to a MAC must have one.
type MacTag struct {
	Source Address
	Dest   Address
}

// ControlMsgTag marks a packet as a control message of the given type.
type ControlMsgTag struct {
	Type ControlMsgType
}

// Packet is the unit exchanged between the LLC, MAC and PHY layers.
type Packet struct {
	Payload []byte

	Mac  *MacTag
	Ctrl *ControlMsgTag

	// User is the end user behind the terminal that originated the payload.
	User Address

	// Created is the simulation time the payload entered the system. It is
	// used for delay statistics.
	Created time.Time
}

// Clone returns a copy whose tags and payload can be changed independently.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Payload = append([]byte(nil), p.Payload...)
	if p.Mac != nil {
		tag := *p.Mac
		c.Mac = &tag
	}
	if p.Ctrl != nil {
		tag := *p.Ctrl
		c.Ctrl = &tag
	}
	return &c
}

// Size returns the payload length in bytes.
func (p *Packet) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Payload)
}

// RemoveControlTag detaches and returns the control tag, if any.
func (p *Packet) RemoveControlTag() (*ControlMsgTag, bool) {
	if p.Ctrl == nil {
		return nil, false
	}
	tag := p.Ctrl
	p.Ctrl = nil
	return tag, true
}
