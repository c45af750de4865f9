// Package commands builds and decodes the base and 3DM command set payloads
// and runs them through a device.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/device"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
	"github.com/shaunagostinho/goimu/internal/mip/serializer"
)

// Runner executes one command and waits for its reply. *device.Device
// satisfies it.
type Runner interface {
	RunCommand(ctx context.Context, cmd device.Command) (device.Reply, error)
}

// Function selects the action of a settings command.
type Function uint8

const (
	FunctionWrite   Function = 0x01
	FunctionRead    Function = 0x02
	FunctionSave    Function = 0x03
	FunctionLoad    Function = 0x04
	FunctionDefault Function = 0x05
)

func (f Function) String() string {
	switch f {
	case FunctionWrite:
		return "write"
	case FunctionRead:
		return "read"
	case FunctionSave:
		return "save"
	case FunctionLoad:
		return "load"
	case FunctionDefault:
		return "default"
	default:
		return fmt.Sprintf("function(%d)", uint8(f))
	}
}

var ErrShortResponse = errors.New("commands: response too short")

func run(ctx context.Context, r Runner, descSet, desc uint8, payload []byte, respDesc uint8) ([]byte, error) {
	reply, err := r.RunCommand(ctx, device.Command{
		DescriptorSet:      descSet,
		FieldDescriptor:    desc,
		Payload:            payload,
		ResponseDescriptor: respDesc,
	})
	if err != nil {
		return nil, err
	}
	if respDesc != 0 && len(reply.Response) == 0 {
		return nil, fmt.Errorf("%w: no field 0x%02X in reply to 0x%02X:0x%02X", ErrShortResponse, respDesc, descSet, desc)
	}
	return reply.Response, nil
}

// encode runs fill over a scratch serializer and returns the written bytes.
func encode(fill func(s *serializer.Serializer) error) ([]byte, error) {
	buf := make([]byte, packet.MaxFieldPayloadLength)
	s := serializer.New(buf)
	if err := fill(s); err != nil {
		return nil, fmt.Errorf("commands: encode: %w", err)
	}
	return s.Written(), nil
}

// decoded wraps an extraction error so callers can tell a short reply apart.
func decoded(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrShortResponse, err)
}

// Base set identifiers.
const (
	DescriptorSetBase = mip.DescriptorSetBase

	CmdPing          uint8 = 0x01
	CmdSetIdle       uint8 = 0x02
	CmdGetDeviceInfo uint8 = 0x03
	CmdResume        uint8 = 0x06

	ReplyDeviceInfo uint8 = 0x81
)

// 3DM set identifiers.
const (
	DescriptorSet3DM = mip.DescriptorSet3DM

	CmdGetBaseRate       uint8 = 0x0E
	CmdMessageFormat     uint8 = 0x0F
	CmdDatastreamControl uint8 = 0x11
	CmdMagHardIronOffset uint8 = 0x3A
	CmdMagSoftIronMatrix uint8 = 0x3B

	ReplyMessageFormat     uint8 = 0x80
	ReplyDatastreamControl uint8 = 0x85
	ReplyBaseRate          uint8 = 0x8E
	ReplyMagHardIronOffset uint8 = 0x9A
	ReplyMagSoftIronMatrix uint8 = 0x9B
)
