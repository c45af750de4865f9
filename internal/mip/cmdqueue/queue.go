package cmdqueue

import (
	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
)

// Queue holds outstanding commands in submission order.
type Queue struct {
	entries     []*PendingCmd
	baseTimeout mip.Timeout
}

func NewQueue(baseTimeout mip.Timeout) *Queue {
	return &Queue{baseTimeout: baseTimeout}
}

func (q *Queue) BaseTimeout() mip.Timeout     { return q.baseTimeout }
func (q *Queue) SetBaseTimeout(t mip.Timeout) { q.baseTimeout = t }
func (q *Queue) Len() int                     { return len(q.entries) }

// Enqueue appends cmd and starts its deadline at now.
func (q *Queue) Enqueue(cmd *PendingCmd, now mip.Timestamp) error {
	if cmd.state != StateAwaitingStart {
		return ErrAlreadyQueued
	}
	cmd.start(now, q.baseTimeout)
	q.entries = append(q.entries, cmd)
	return nil
}

// Dequeue removes cmd from the queue. It reports false when cmd was not queued.
// The entry keeps whatever state it had.
func (q *Queue) Dequeue(cmd *PendingCmd) bool {
	for i, e := range q.entries {
		if e == cmd {
			copy(q.entries[i:], q.entries[i+1:])
			q.entries[len(q.entries)-1] = nil
			q.entries = q.entries[:len(q.entries)-1]
			return true
		}
	}
	return false
}

// ProcessPacket completes the waiting commands answered by pkt. Each ack/nack
// field goes to the oldest waiting entry with the same descriptor set and
// command descriptor. A reply that arrives at or after an entry's deadline
// expires that entry instead and the search continues with the next one.
func (q *Queue) ProcessPacket(pkt packet.Packet, ts mip.Timestamp) {
	if len(q.entries) == 0 || !pkt.IsValid() || !mip.IsCommandSet(pkt.DescriptorSet()) {
		return
	}
	descSet := pkt.DescriptorSet()

	it := pkt.Fields()
	for it.Next() {
		f := it.Field()
		if f.Descriptor() != mip.FieldDescriptorAckNack || f.PayloadLength() < 2 {
			continue
		}
		echoed, code := f.Payload()[0], Ack(f.Payload()[1])

		cmd := q.match(descSet, echoed, ts)
		if cmd == nil {
			continue
		}

		var response []byte
		if code == AckOK && cmd.responseDesc != 0 {
			rest := *it
			for rest.Next() {
				if rest.Field().Descriptor() == cmd.responseDesc {
					response = rest.Field().Payload()
					break
				}
			}
		}
		cmd.complete(code, response, ts)
	}
}

func (q *Queue) match(descSet, fieldDesc uint8, ts mip.Timestamp) *PendingCmd {
	for _, e := range q.entries {
		if e.state != StateWaiting || e.descSet != descSet || e.fieldDesc != fieldDesc {
			continue
		}
		if e.expired(ts) {
			e.expire()
			continue
		}
		return e
	}
	return nil
}

// Update expires every waiting entry whose deadline is at or before now and
// returns how many timed out in this call.
func (q *Queue) Update(now mip.Timestamp) int {
	n := 0
	for _, e := range q.entries {
		if e.expired(now) {
			e.expire()
			n++
		}
	}
	return n
}
