// Package device ties a byte transport to the frame parser, the command queue
// and the dispatch registry.
//
// A Device has a single owner. Update, Poll, IngestBytes, RunCommand and Run
// must all be called from the same goroutine, and handlers run synchronously
// on it. Packets and fields handed to handlers alias the parse buffer and are
// only valid during the call.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/cmdqueue"
	"github.com/shaunagostinho/goimu/internal/mip/dispatch"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
)

const (
	DefaultParseBufferSize = 1024
	DefaultBaseTimeout     = mip.Timeout(200)
	DefaultPollInterval    = 2 * time.Millisecond
)

var ErrSendFailed = errors.New("device: send failed")

// Transport moves raw bytes. Receive must not block for long: it returns
// whatever is available, possibly nothing.
type Transport interface {
	Receive(buf []byte) (int, error)
	Send(data []byte) error
}

// Clock supplies timestamps for deadlines and received packets.
type Clock interface {
	Now() mip.Timestamp
}

// SystemClock counts milliseconds on the monotonic clock since it was created.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock { return &SystemClock{start: time.Now()} }

func (c *SystemClock) Now() mip.Timestamp {
	return mip.Timestamp(time.Since(c.start) / time.Millisecond)
}

type Config struct {
	BaseTimeout     mip.Timeout
	ParseBufferSize int
	PollInterval    time.Duration
	Clock           Clock
	Logger          *zerolog.Logger
}

// Stats are cumulative counters since the device was created.
type Stats struct {
	Packets          uint64 `json:"packets"`
	BytesReceived    uint64 `json:"bytesReceived"`
	BytesDropped     uint64 `json:"bytesDropped"`
	MalformedFrames  uint64 `json:"malformedFrames"`
	CommandsSent     uint64 `json:"commandsSent"`
	CommandsTimedOut uint64 `json:"commandsTimedOut"`
	HandlerFailures  uint64 `json:"handlerFailures"`
}

type Device struct {
	transport Transport
	clock     Clock
	queue     *cmdqueue.Queue
	registry  *dispatch.Registry
	log       zerolog.Logger

	buf          []byte
	used         int
	pollInterval time.Duration
	stats        Stats
}

func New(t Transport, cfg Config) *Device {
	if cfg.ParseBufferSize < packet.MaxPacketLength {
		cfg.ParseBufferSize = DefaultParseBufferSize
	}
	if cfg.BaseTimeout == 0 {
		cfg.BaseTimeout = DefaultBaseTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	l = l.With().Str("component", "device").Logger()

	return &Device{
		transport:    t,
		clock:        cfg.Clock,
		queue:        cmdqueue.NewQueue(cfg.BaseTimeout),
		registry:     dispatch.NewRegistry(&l),
		log:          l,
		buf:          make([]byte, cfg.ParseBufferSize),
		pollInterval: cfg.PollInterval,
	}
}

func (d *Device) Queue() *cmdqueue.Queue       { return d.queue }
func (d *Device) Registry() *dispatch.Registry { return d.registry }
func (d *Device) Clock() Clock                 { return d.clock }

func (d *Device) Stats() Stats {
	s := d.stats
	s.HandlerFailures = d.registry.Failures()
	return s
}

func (d *Device) RegisterPacketCallback(descSet uint8, h dispatch.PacketHandler) dispatch.Handle {
	return d.registry.RegisterPacket(descSet, h)
}

func (d *Device) RegisterFieldCallback(descSet, fieldDesc uint8, h dispatch.FieldHandler) dispatch.Handle {
	return d.registry.RegisterField(descSet, fieldDesc, h)
}

// Poll runs one Update at the clock's current time.
func (d *Device) Poll() error {
	return d.Update(d.clock.Now())
}

// Update receives what the transport has, handles every complete frame, then
// expires overdue commands. A transport error ends the cycle early.
func (d *Device) Update(now mip.Timestamp) error {
	if d.used < len(d.buf) {
		n, err := d.transport.Receive(d.buf[d.used:])
		if err != nil {
			return fmt.Errorf("device: receive: %w", err)
		}
		d.used += n
		d.stats.BytesReceived += uint64(n)
	}
	d.parse(now)
	d.stats.CommandsTimedOut += uint64(d.queue.Update(now))
	return nil
}

// IngestBytes feeds raw bytes as if they had been received at now. The queue
// is not expired; call Update for that.
func (d *Device) IngestBytes(data []byte, now mip.Timestamp) {
	for len(data) > 0 {
		n := copy(d.buf[d.used:], data)
		d.used += n
		d.stats.BytesReceived += uint64(n)
		data = data[n:]
		d.parse(now)
	}
}

func (d *Device) parse(now mip.Timestamp) {
	start := 0
	for {
		i := indexSync(d.buf[start:d.used])
		if i < 0 {
			// Keep a trailing first sync byte, its partner may be next.
			keep := 0
			if d.used > start && d.buf[d.used-1] == packet.SyncByte1 {
				keep = 1
			}
			d.stats.BytesDropped += uint64(d.used - start - keep)
			start = d.used - keep
			break
		}
		d.stats.BytesDropped += uint64(i)
		start += i

		total := packet.PacketLength(d.buf[start:d.used])
		if total == 0 || d.used-start < total {
			// A false header must not hold back good frames already behind it.
			if !d.completeFrameAfter(start) {
				break
			}
			d.stats.MalformedFrames++
			d.stats.BytesDropped += 2
			d.log.Debug().Int("announced", total).Msg("dropping incomplete frame")
			start += 2
			continue
		}
		pkt, err := packet.Parse(d.buf[start : start+total])
		if err != nil {
			d.stats.MalformedFrames++
			d.stats.BytesDropped += 2
			d.log.Debug().Err(err).Msg("dropping malformed frame")
			start += 2
			continue
		}
		d.stats.Packets++
		d.queue.ProcessPacket(pkt, now)
		d.registry.Dispatch(pkt, now)
		start += total
	}
	if start > 0 {
		d.used = copy(d.buf, d.buf[start:d.used])
	}
}

// completeFrameAfter reports whether a valid frame starts after the sync
// bytes at start and is already fully buffered.
func (d *Device) completeFrameAfter(start int) bool {
	for i := start + 2; i < d.used; {
		j := indexSync(d.buf[i:d.used])
		if j < 0 {
			return false
		}
		i += j
		total := packet.PacketLength(d.buf[i:d.used])
		if total > 0 && d.used-i >= total {
			if _, err := packet.Parse(d.buf[i : i+total]); err == nil {
				return true
			}
		}
		i++
	}
	return false
}

func indexSync(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == packet.SyncByte1 && b[i+1] == packet.SyncByte2 {
			return i
		}
	}
	return -1
}

// Command is one request frame and what to expect back. Response, when set,
// caps the reply payload at len(Response) and receives it; a longer reply
// fails with cmdqueue.ErrResponseTooLarge. Left nil, any field payload fits.
type Command struct {
	DescriptorSet      uint8
	FieldDescriptor    uint8
	Payload            []byte
	ResponseDescriptor uint8
	Response           []byte
	ExtraTimeout       mip.Timeout
}

// Reply is the outcome of a finished command. Response is a copy and stays
// valid after RunCommand returns.
type Reply struct {
	Ack       cmdqueue.Ack
	Response  []byte
	ReplyTime mip.Timestamp
}

// RunCommand sends cmd and polls until the device answers, the command times
// out or ctx is done. A nack returns the Reply along with a *cmdqueue.NackError.
func (d *Device) RunCommand(ctx context.Context, cmd Command) (Reply, error) {
	frame, err := packet.Build(cmd.DescriptorSet, cmd.FieldDescriptor, cmd.Payload)
	if err != nil {
		return Reply{}, fmt.Errorf("device: build command 0x%02X:0x%02X: %w", cmd.DescriptorSet, cmd.FieldDescriptor, err)
	}

	buf := cmd.Response
	if buf == nil && cmd.ResponseDescriptor != 0 {
		buf = make([]byte, packet.MaxFieldPayloadLength)
	}
	pending := cmdqueue.NewPendingCmdFull(cmd.DescriptorSet, cmd.FieldDescriptor, cmd.ResponseDescriptor, buf, cmd.ExtraTimeout)
	if err := d.queue.Enqueue(pending, d.clock.Now()); err != nil {
		return Reply{}, err
	}
	defer d.queue.Dequeue(pending)

	if err := d.transport.Send(frame); err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	d.stats.CommandsSent++

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		if err := d.Poll(); err != nil {
			return Reply{}, err
		}
		if pending.IsTerminal() {
			break
		}
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-ticker.C:
		}
	}

	if pending.State() == cmdqueue.StateTimedOut {
		d.log.Warn().
			Uint8("set", cmd.DescriptorSet).
			Uint8("cmd", cmd.FieldDescriptor).
			Msg("command timed out")
		return Reply{}, fmt.Errorf("device: command 0x%02X:0x%02X: %w", cmd.DescriptorSet, cmd.FieldDescriptor, cmdqueue.ErrCommandTimedOut)
	}
	at, _ := pending.ReplyTime()
	reply := Reply{
		Ack:       pending.Ack(),
		Response:  append([]byte(nil), pending.Response()...),
		ReplyTime: at,
	}
	if err := pending.Err(); err != nil {
		return reply, fmt.Errorf("device: command 0x%02X:0x%02X: %w", cmd.DescriptorSet, cmd.FieldDescriptor, err)
	}
	return reply, nil
}

// Run polls the transport until ctx is done. It returns nil on cancellation
// and the transport error otherwise.
func (d *Device) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		if err := d.Poll(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
