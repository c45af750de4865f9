// Package cmdqueue tracks commands waiting for a reply from the device.
//
// A PendingCmd is owned by the caller. The Queue only keeps handles to the
// entries in submission order and moves them through their states as replies
// arrive or deadlines pass:
//
//	AwaitingStart --Enqueue--> Waiting --reply--> Completed
//	                                   \--Update(now >= deadline)--> TimedOut
//
// Completed and TimedOut are terminal. None of these types lock; the owner of
// the queue is the only writer.
package cmdqueue

import (
	"errors"
	"fmt"

	"github.com/shaunagostinho/goimu/internal/mip"
)

// State of a pending command.
type State int

const (
	StateAwaitingStart State = iota
	StateWaiting
	StateCompleted
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting-start"
	case StateWaiting:
		return "waiting"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Ack is the result code carried by an ack/nack reply field.
type Ack uint8

const (
	AckOK               Ack = 0
	NackUnknownCommand  Ack = 1
	NackInvalidChecksum Ack = 2
	NackInvalidParam    Ack = 3
	NackCommandFailed   Ack = 4
	NackCommandTimeout  Ack = 5
)

func (a Ack) String() string {
	switch a {
	case AckOK:
		return "ACK_OK"
	case NackUnknownCommand:
		return "NACK_COMMAND_UNKNOWN"
	case NackInvalidChecksum:
		return "NACK_INVALID_CHECKSUM"
	case NackInvalidParam:
		return "NACK_INVALID_PARAM"
	case NackCommandFailed:
		return "NACK_COMMAND_FAILED"
	case NackCommandTimeout:
		return "NACK_COMMAND_TIMEOUT"
	default:
		return fmt.Sprintf("NACK(0x%02X)", uint8(a))
	}
}

var (
	ErrCommandNacked    = errors.New("cmdqueue: command nacked")
	ErrCommandTimedOut  = errors.New("cmdqueue: command timed out")
	ErrResponseTooLarge = errors.New("cmdqueue: response larger than buffer")
	ErrCommandPending   = errors.New("cmdqueue: command has not finished")
	ErrAlreadyQueued    = errors.New("cmdqueue: command already started")
)

// NackError is returned when the device rejected a command.
type NackError struct {
	Code Ack
}

func (e *NackError) Error() string {
	return fmt.Sprintf("cmdqueue: command nacked: %s (%d)", e.Code, uint8(e.Code))
}

func (e *NackError) Unwrap() error { return ErrCommandNacked }

// timing holds the one time value that is meaningful in the current state.
type timing interface{ isTiming() }

type startTiming struct{ extra mip.Timeout }
type waitTiming struct{ deadline mip.Timestamp }
type replyTiming struct{ at mip.Timestamp }
type expiredTiming struct{ deadline mip.Timestamp }

func (startTiming) isTiming()   {}
func (waitTiming) isTiming()    {}
func (replyTiming) isTiming()   {}
func (expiredTiming) isTiming() {}

// PendingCmd is one command awaiting its reply.
type PendingCmd struct {
	descSet      uint8
	fieldDesc    uint8
	responseDesc uint8
	response     []byte
	responseLen  int

	state  State
	timing timing
	ack    Ack
	err    error
}

// NewPendingCmd tracks a command that expects only an ack/nack.
func NewPendingCmd(descSet, fieldDesc uint8) *PendingCmd {
	return NewPendingCmdFull(descSet, fieldDesc, 0, nil, 0)
}

// NewPendingCmdWithTimeout adds extra to the queue's base timeout.
func NewPendingCmdWithTimeout(descSet, fieldDesc uint8, extra mip.Timeout) *PendingCmd {
	return NewPendingCmdFull(descSet, fieldDesc, 0, nil, extra)
}

// NewPendingCmdWithResponse captures the reply field responseDesc into buf.
func NewPendingCmdWithResponse(descSet, fieldDesc, responseDesc uint8, buf []byte) *PendingCmd {
	return NewPendingCmdFull(descSet, fieldDesc, responseDesc, buf, 0)
}

// NewPendingCmdFull sets every option. responseDesc 0 means no response field
// is expected. The capacity of the response is len(buf).
func NewPendingCmdFull(descSet, fieldDesc, responseDesc uint8, buf []byte, extra mip.Timeout) *PendingCmd {
	return &PendingCmd{
		descSet:      descSet,
		fieldDesc:    fieldDesc,
		responseDesc: responseDesc,
		response:     buf,
		state:        StateAwaitingStart,
		timing:       startTiming{extra: extra},
	}
}

func (c *PendingCmd) DescriptorSet() uint8      { return c.descSet }
func (c *PendingCmd) FieldDescriptor() uint8    { return c.fieldDesc }
func (c *PendingCmd) ResponseDescriptor() uint8 { return c.responseDesc }
func (c *PendingCmd) State() State              { return c.state }

// Ack is the device's result code. Only meaningful once Completed.
func (c *PendingCmd) Ack() Ack { return c.ack }

func (c *PendingCmd) IsTerminal() bool {
	return c.state == StateCompleted || c.state == StateTimedOut
}

// Response returns the captured response payload.
func (c *PendingCmd) Response() []byte {
	if c.state != StateCompleted {
		return nil
	}
	return c.response[:c.responseLen]
}

func (c *PendingCmd) ResponseLength() int {
	if c.state != StateCompleted {
		return 0
	}
	return c.responseLen
}

// ExtraTimeout is available until the command is enqueued.
func (c *PendingCmd) ExtraTimeout() (mip.Timeout, bool) {
	t, ok := c.timing.(startTiming)
	return t.extra, ok
}

// Deadline is available while the command is waiting, and after it timed out.
func (c *PendingCmd) Deadline() (mip.Timestamp, bool) {
	switch t := c.timing.(type) {
	case waitTiming:
		return t.deadline, true
	case expiredTiming:
		return t.deadline, true
	}
	return 0, false
}

// ReplyTime is the arrival time of the packet that completed the command.
func (c *PendingCmd) ReplyTime() (mip.Timestamp, bool) {
	t, ok := c.timing.(replyTiming)
	return t.at, ok
}

// Err summarises the outcome: nil for ACK_OK, *NackError, ErrCommandTimedOut,
// ErrResponseTooLarge, or ErrCommandPending before a terminal state.
func (c *PendingCmd) Err() error {
	switch c.state {
	case StateCompleted:
		if c.err != nil {
			return c.err
		}
		if c.ack != AckOK {
			return &NackError{Code: c.ack}
		}
		return nil
	case StateTimedOut:
		return ErrCommandTimedOut
	default:
		return ErrCommandPending
	}
}

func (c *PendingCmd) start(now mip.Timestamp, base mip.Timeout) {
	extra, _ := c.ExtraTimeout()
	c.state = StateWaiting
	c.timing = waitTiming{deadline: now.Add(base).Add(extra)}
}

func (c *PendingCmd) expired(now mip.Timestamp) bool {
	t, ok := c.timing.(waitTiming)
	return ok && c.state == StateWaiting && now >= t.deadline
}

func (c *PendingCmd) expire() {
	deadline, _ := c.Deadline()
	c.state = StateTimedOut
	c.timing = expiredTiming{deadline: deadline}
}

func (c *PendingCmd) complete(ack Ack, response []byte, at mip.Timestamp) {
	c.ack = ack
	c.responseLen = 0
	if len(response) > len(c.response) {
		c.err = fmt.Errorf("%w: %d bytes, buffer holds %d", ErrResponseTooLarge, len(response), len(c.response))
	} else {
		c.responseLen = copy(c.response, response)
	}
	c.state = StateCompleted
	c.timing = replyTiming{at: at}
}
