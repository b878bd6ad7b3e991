// Package llc is the per-terminal link layer queue sitting above the MAC.
package llc

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/satcom-simulator/internal/logging"
	"github.com/signalsfoundry/satcom-simulator/model"
)

// ErrQueueFull is returned by Enqueue when the byte capacity is exceeded.
var ErrQueueFull = errors.New("llc queue full")

// DeliverFunc receives payloads pushed up from the MAC.
type DeliverFunc func(pkt *model.Packet, dest model.Address)

// Queue buffers outgoing payloads of one terminal and hands them to the MAC
// one transmission opportunity at a time.
type Queue struct {
	addr     model.Address
	dest     model.Address
	capacity int

	pending []*model.Packet
	bytes   int

	deliver DeliverFunc
	log     logging.Logger

	sentBytes      int
	deliveredBytes int
}

// New returns a queue for addr sending towards dest. A capacity of 0 means
// unbounded.
func New(addr, dest model.Address, capacity int, deliver DeliverFunc, log logging.Logger) *Queue {
	if log == nil {
		log = logging.Noop()
	}
	return &Queue{
		addr:     addr,
		dest:     dest,
		capacity: capacity,
		deliver:  deliver,
		log:      log.With(logging.String("ut", addr.String())),
	}
}

// Enqueue appends a payload.
func (q *Queue) Enqueue(pkt *model.Packet) error {
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil
	}
	if q.capacity > 0 && q.bytes+len(pkt.Payload) > q.capacity {
		return fmt.Errorf("%w: %d of %d bytes used", ErrQueueFull, q.bytes, q.capacity)
	}
	q.pending = append(q.pending, pkt)
	q.bytes += len(pkt.Payload)
	return nil
}

// Len returns the number of queued payloads.
func (q *Queue) Len() int { return len(q.pending) }

// Bytes returns the number of queued payload bytes.
func (q *Queue) Bytes() int { return q.bytes }

// SentBytes returns the bytes pulled by the MAC so far.
func (q *Queue) SentBytes() int { return q.sentBytes }

// DeliveredBytes returns the bytes pushed up by the MAC so far.
func (q *Queue) DeliveredBytes() int { return q.deliveredBytes }

// PullPayload returns at most maxBytes of the head payload, addressed from
// this terminal to the queue destination. Larger payloads are fragmented and
// the remainder stays at the head. It returns nil when there is nothing to
// send.
func (q *Queue) PullPayload(maxBytes int, addr model.Address) *model.Packet {
	if len(q.pending) == 0 || maxBytes <= 0 {
		return nil
	}
	if addr != q.addr {
		q.log.Warn(context.Background(), "tx opportunity for another terminal", logging.String("addr", addr.String()))
		return nil
	}

	head := q.pending[0]
	out := head
	if len(head.Payload) > maxBytes {
		out = head.Clone()
		out.Payload = out.Payload[:maxBytes]
		head.Payload = head.Payload[maxBytes:]
	} else {
		q.pending[0] = nil
		q.pending = q.pending[1:]
	}

	q.bytes -= len(out.Payload)
	q.sentBytes += len(out.Payload)
	out.Mac = &model.MacTag{Source: q.addr, Dest: q.dest}
	return out
}

// PushPayload hands a received payload to the upper layer.
func (q *Queue) PushPayload(pkt *model.Packet, dest model.Address) {
	q.deliveredBytes += pkt.Size()
	q.log.Debug(context.Background(), "payload received",
		logging.Int("bytes", pkt.Size()),
		logging.String("dest", dest.String()),
	)
	if q.deliver != nil {
		q.deliver(pkt, dest)
	}
}
