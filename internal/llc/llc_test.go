package llc

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/satcom-simulator/model"
)

func TestPullEmptyQueueReturnsNil(t *testing.T) {
	q := New(model.AddressFromID(1), model.AddressFromID(100), 0, nil, nil)
	if p := q.PullPayload(123, model.AddressFromID(1)); p != nil {
		t.Fatalf("PullPayload on empty queue = %+v, want nil", p)
	}
}

func TestPullFragmentsLargePayloads(t *testing.T) {
	ut := model.AddressFromID(1)
	gw := model.AddressFromID(100)
	q := New(ut, gw, 0, nil, nil)

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := q.Enqueue(&model.Packet{Payload: payload, User: model.AddressFromID(7)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var sizes []int
	for p := q.PullPayload(123, ut); p != nil; p = q.PullPayload(123, ut) {
		sizes = append(sizes, p.Size())
		if p.Mac == nil || p.Mac.Source != ut || p.Mac.Dest != gw {
			t.Fatalf("fragment mac tag = %+v", p.Mac)
		}
		if p.User != model.AddressFromID(7) {
			t.Fatalf("fragment lost its user")
		}
	}

	want := []int{123, 123, 54}
	if len(sizes) != len(want) {
		t.Fatalf("fragment sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("fragment sizes = %v, want %v", sizes, want)
		}
	}
	if q.Bytes() != 0 || q.Len() != 0 || q.SentBytes() != 300 {
		t.Fatalf("queue after drain: %d bytes, %d entries, %d sent", q.Bytes(), q.Len(), q.SentBytes())
	}
}

func TestEnqueueRespectsCapacity(t *testing.T) {
	q := New(model.AddressFromID(1), model.AddressFromID(100), 100, nil, nil)
	if err := q.Enqueue(&model.Packet{Payload: make([]byte, 80)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(&model.Packet{Payload: make([]byte, 30)}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue error = %v, want ErrQueueFull", err)
	}
	if err := q.Enqueue(&model.Packet{}); err != nil {
		t.Fatalf("empty payload should be ignored, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}

func TestPullForOtherTerminal(t *testing.T) {
	q := New(model.AddressFromID(1), model.AddressFromID(100), 0, nil, nil)
	_ = q.Enqueue(&model.Packet{Payload: []byte("x")})
	if p := q.PullPayload(10, model.AddressFromID(2)); p != nil {
		t.Fatalf("pulled payload for another terminal")
	}
}

func TestPushPayloadDelivers(t *testing.T) {
	var got []model.Address
	q := New(model.AddressFromID(1), model.AddressFromID(100), 0, func(p *model.Packet, dest model.Address) {
		got = append(got, dest)
	}, nil)

	q.PushPayload(&model.Packet{Payload: []byte("hello")}, model.Broadcast)
	if len(got) != 1 || got[0] != model.Broadcast || q.DeliveredBytes() != 5 {
		t.Fatalf("delivered %v, %d bytes", got, q.DeliveredBytes())
	}
}
