// Package dispatch fans received packets and fields out to registered
// handlers.
package dispatch

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
)

// Wildcards accepted by the Register functions. Descriptor 0x00 is never used
// on the wire, so it is free to mean "any".
const (
	// DescriptorSetAny matches every packet.
	DescriptorSetAny uint8 = 0x00
	// DescriptorSetData matches every data descriptor set (0x80-0xFF).
	DescriptorSetData uint8 = 0xFF
	// FieldAny matches every field of a matching packet.
	FieldAny uint8 = 0x00
)

type PacketHandler interface {
	HandlePacket(pkt packet.Packet, ts mip.Timestamp) error
}

type FieldHandler interface {
	HandleField(f packet.Field, ts mip.Timestamp) error
}

type PacketHandlerFunc func(pkt packet.Packet, ts mip.Timestamp) error

func (fn PacketHandlerFunc) HandlePacket(pkt packet.Packet, ts mip.Timestamp) error {
	return fn(pkt, ts)
}

type FieldHandlerFunc func(f packet.Field, ts mip.Timestamp) error

func (fn FieldHandlerFunc) HandleField(f packet.Field, ts mip.Timestamp) error {
	return fn(f, ts)
}

// Handle identifies one registration for Remove.
type Handle uint64

type kind int

const (
	kindPacket kind = iota
	kindField
)

type registration struct {
	handle    Handle
	kind      kind
	descSet   uint8
	fieldDesc uint8
	packet    PacketHandler
	field     FieldHandler
}

// Registry is an ordered list of handlers. Like the rest of the engine it is
// not safe for concurrent use.
type Registry struct {
	regs     []registration
	next     Handle
	failures uint64
	log      zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Registry{log: l.With().Str("component", "dispatch").Logger()}
}

// RegisterPacket calls h for every packet in descSet. descSet may be
// DescriptorSetAny or DescriptorSetData.
func (r *Registry) RegisterPacket(descSet uint8, h PacketHandler) Handle {
	return r.add(registration{kind: kindPacket, descSet: descSet, packet: h})
}

// RegisterField calls h for every field fieldDesc of packets in descSet.
// fieldDesc may be FieldAny.
func (r *Registry) RegisterField(descSet, fieldDesc uint8, h FieldHandler) Handle {
	return r.add(registration{kind: kindField, descSet: descSet, fieldDesc: fieldDesc, field: h})
}

func (r *Registry) add(reg registration) Handle {
	r.next++
	reg.handle = r.next
	r.regs = append(r.regs, reg)
	return reg.handle
}

// Remove drops the registration. It reports false for unknown handles.
func (r *Registry) Remove(h Handle) bool {
	for i := range r.regs {
		if r.regs[i].handle == h {
			r.regs = append(r.regs[:i:i], r.regs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Len() int { return len(r.regs) }

// Failures counts handler errors and panics since the registry was created.
func (r *Registry) Failures() uint64 { return r.failures }

// Dispatch delivers pkt to packet handlers first, then walks the fields in
// order and delivers each to its field handlers. Handlers run in registration
// order. A failing handler is logged and skipped.
func (r *Registry) Dispatch(pkt packet.Packet, ts mip.Timestamp) {
	if len(r.regs) == 0 || !pkt.IsValid() {
		return
	}
	descSet := pkt.DescriptorSet()

	// Snapshot so handlers may register or remove while being called.
	regs := r.regs
	for i := range regs {
		reg := &regs[i]
		if reg.kind == kindPacket && matchSet(reg.descSet, descSet) {
			r.call(reg, func() error { return reg.packet.HandlePacket(pkt, ts) })
		}
	}

	it := pkt.Fields()
	for it.Next() {
		f := it.Field()
		for i := range regs {
			reg := &regs[i]
			if reg.kind != kindField || !matchSet(reg.descSet, descSet) {
				continue
			}
			if reg.fieldDesc != FieldAny && reg.fieldDesc != f.Descriptor() {
				continue
			}
			r.call(reg, func() error { return reg.field.HandleField(f, ts) })
		}
	}
}

func (r *Registry) call(reg *registration, fn func() error) {
	defer func() {
		if v := recover(); v != nil {
			r.failures++
			r.log.Error().
				Uint64("handle", uint64(reg.handle)).
				Str("panic", fmt.Sprint(v)).
				Msg("handler panicked")
		}
	}()
	if err := fn(); err != nil {
		r.failures++
		r.log.Warn().
			Uint64("handle", uint64(reg.handle)).
			Err(err).
			Msg("handler failed")
	}
}

func matchSet(want, got uint8) bool {
	switch want {
	case DescriptorSetAny:
		return true
	case DescriptorSetData:
		return mip.IsDataSet(got)
	default:
		return want == got
	}
}

// RegisterData decodes each matching field with decode and passes the value
// to fn. Decode errors count as handler failures.
func RegisterData[T any](r *Registry, descSet, fieldDesc uint8, decode func(packet.Field) (T, error), fn func(T, mip.Timestamp)) Handle {
	return r.RegisterField(descSet, fieldDesc, FieldHandlerFunc(func(f packet.Field, ts mip.Timestamp) error {
		v, err := decode(f)
		if err != nil {
			return fmt.Errorf("dispatch: decode field 0x%02X:0x%02X: %w", f.DescriptorSet(), f.Descriptor(), err)
		}
		fn(v, ts)
		return nil
	}))
}
