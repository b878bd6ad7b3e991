package model

import (
	"encoding/json"
	"testing"
)

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("02:00:00:00:00:2a")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a != AddressFromID(42) {
		t.Fatalf("ParseAddress = %s, want %s", a, AddressFromID(42))
	}
	if _, err := ParseAddress("00:00:5e:00:53:01:02:03"); err == nil {
		t.Fatalf("expected error for a 64-bit address")
	}
	if _, err := ParseAddress("nope"); err == nil {
		t.Fatalf("expected error for garbage")
	}
}

func TestAddressPredicates(t *testing.T) {
	if !Broadcast.IsBroadcast() || AddressFromID(1).IsBroadcast() {
		t.Fatalf("IsBroadcast wrong")
	}
	var zero Address
	if !zero.IsZero() || AddressFromID(0).IsZero() {
		t.Fatalf("IsZero wrong")
	}
}

func TestAddressJSONText(t *testing.T) {
	in := struct {
		Addr Address `json:"addr"`
	}{Addr: AddressFromID(7)}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"addr":"02:00:00:00:00:07"}` {
		t.Fatalf("Marshal = %s", b)
	}

	var out struct {
		Addr Address `json:"addr"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Addr != in.Addr {
		t.Fatalf("Unmarshal = %s, want %s", out.Addr, in.Addr)
	}
}

func TestPacketCloneIsIndependent(t *testing.T) {
	p := &Packet{
		Payload: []byte("abc"),
		Mac:     &MacTag{Source: AddressFromID(1), Dest: Broadcast},
		Ctrl:    &ControlMsgTag{Type: TbtpCtrlMsg},
	}
	c := p.Clone()
	c.Payload[0] = 'x'
	c.Mac.Dest = AddressFromID(2)
	if _, ok := c.RemoveControlTag(); !ok {
		t.Fatalf("clone lost its control tag")
	}

	if string(p.Payload) != "abc" || p.Mac.Dest != Broadcast || p.Ctrl == nil {
		t.Fatalf("original changed through clone: %+v", p)
	}
	if p.Size() != 3 || (*Packet)(nil).Size() != 0 {
		t.Fatalf("Size wrong")
	}
}

func TestEnumStrings(t *testing.T) {
	if TbtpCtrlMsg.String() != "TBTP" || ControlMsgType(99).String() != "UNKNOWN" {
		t.Fatalf("ControlMsgType strings wrong")
	}
	if ReturnUserChannel.String() == "" {
		t.Fatalf("ChannelType string empty")
	}
}
