package commands

import (
	"context"
	"fmt"

	"github.com/shaunagostinho/goimu/internal/mip/packet"
	"github.com/shaunagostinho/goimu/internal/mip/serializer"
)

// DescriptorRate is one entry of a message format: a data field and its
// decimation from the base rate.
type DescriptorRate struct {
	Descriptor uint8  `json:"descriptor" yaml:"descriptor" toml:"descriptor"`
	Decimation uint16 `json:"decimation" yaml:"decimation" toml:"decimation"`
}

// MaxDescriptorRates fits a format command in one field payload.
const MaxDescriptorRates = (packet.MaxFieldPayloadLength - 3) / 3

func GetBaseRate(ctx context.Context, r Runner, descSet uint8) (uint16, error) {
	resp, err := run(ctx, r, DescriptorSet3DM, CmdGetBaseRate, []byte{descSet}, ReplyBaseRate)
	if err != nil {
		return 0, err
	}
	s := serializer.New(resp)
	if _, err := s.Uint8(); err != nil {
		return 0, decoded(err)
	}
	rate, err := s.Uint16()
	return rate, decoded(err)
}

// EncodeBaseRate is the 0x8E reply payload.
func EncodeBaseRate(descSet uint8, rate uint16) []byte {
	return []byte{descSet, byte(rate >> 8), byte(rate)}
}

func WriteMessageFormat(ctx context.Context, r Runner, descSet uint8, rates []DescriptorRate) error {
	if len(rates) > MaxDescriptorRates {
		return fmt.Errorf("commands: %d descriptors, at most %d fit", len(rates), MaxDescriptorRates)
	}
	payload, err := encode(func(s *serializer.Serializer) error {
		if err := s.PutUint8(uint8(FunctionWrite)); err != nil {
			return err
		}
		return putDescriptorRates(s, descSet, rates)
	})
	if err != nil {
		return err
	}
	_, err = run(ctx, r, DescriptorSet3DM, CmdMessageFormat, payload, 0)
	return err
}

func ReadMessageFormat(ctx context.Context, r Runner, descSet uint8) ([]DescriptorRate, error) {
	resp, err := run(ctx, r, DescriptorSet3DM, CmdMessageFormat, []byte{byte(FunctionRead), descSet}, ReplyMessageFormat)
	if err != nil {
		return nil, err
	}
	_, rates, err := DecodeDescriptorRates(serializer.New(resp))
	return rates, decoded(err)
}

func putDescriptorRates(s *serializer.Serializer, descSet uint8, rates []DescriptorRate) error {
	if err := s.PutUint8(descSet); err != nil {
		return err
	}
	if err := s.PutUint8(uint8(len(rates))); err != nil {
		return err
	}
	for _, r := range rates {
		if err := s.PutUint8(r.Descriptor); err != nil {
			return err
		}
		if err := s.PutUint16(r.Decimation); err != nil {
			return err
		}
	}
	return nil
}

// EncodeDescriptorRates is the [set][count]{[desc][decimation]} layout shared
// by the format command and its reply.
func EncodeDescriptorRates(descSet uint8, rates []DescriptorRate) ([]byte, error) {
	return encode(func(s *serializer.Serializer) error {
		return putDescriptorRates(s, descSet, rates)
	})
}

func DecodeDescriptorRates(s *serializer.Serializer) (uint8, []DescriptorRate, error) {
	descSet, err := s.Uint8()
	if err != nil {
		return 0, nil, err
	}
	n, err := s.Uint8()
	if err != nil {
		return 0, nil, err
	}
	rates := make([]DescriptorRate, n)
	for i := range rates {
		if rates[i].Descriptor, err = s.Uint8(); err != nil {
			return 0, nil, err
		}
		if rates[i].Decimation, err = s.Uint16(); err != nil {
			return 0, nil, err
		}
	}
	return descSet, rates, nil
}

func WriteDatastreamControl(ctx context.Context, r Runner, descSet uint8, enable bool) error {
	var on byte
	if enable {
		on = 1
	}
	_, err := run(ctx, r, DescriptorSet3DM, CmdDatastreamControl, []byte{byte(FunctionWrite), descSet, on}, 0)
	return err
}

func ReadDatastreamControl(ctx context.Context, r Runner, descSet uint8) (bool, error) {
	resp, err := run(ctx, r, DescriptorSet3DM, CmdDatastreamControl, []byte{byte(FunctionRead), descSet}, ReplyDatastreamControl)
	if err != nil {
		return false, err
	}
	s := serializer.New(resp)
	if _, err := s.Uint8(); err != nil {
		return false, decoded(err)
	}
	on, err := s.Bool()
	return on, decoded(err)
}

// Magnetometer calibration. Each setting supports every Function.

func WriteMagHardIronOffset(ctx context.Context, r Runner, offset [3]float32) error {
	return writeFloats(ctx, r, CmdMagHardIronOffset, offset[:])
}

func ReadMagHardIronOffset(ctx context.Context, r Runner) ([3]float32, error) {
	var out [3]float32
	err := readFloats(ctx, r, CmdMagHardIronOffset, ReplyMagHardIronOffset, out[:])
	return out, err
}

func SaveMagHardIronOffset(ctx context.Context, r Runner) error {
	return runFunction(ctx, r, CmdMagHardIronOffset, FunctionSave)
}

func LoadMagHardIronOffset(ctx context.Context, r Runner) error {
	return runFunction(ctx, r, CmdMagHardIronOffset, FunctionLoad)
}

func DefaultMagHardIronOffset(ctx context.Context, r Runner) error {
	return runFunction(ctx, r, CmdMagHardIronOffset, FunctionDefault)
}

// WriteMagSoftIronMatrix takes the 3x3 matrix in row-major order.
func WriteMagSoftIronMatrix(ctx context.Context, r Runner, m [9]float32) error {
	return writeFloats(ctx, r, CmdMagSoftIronMatrix, m[:])
}

func ReadMagSoftIronMatrix(ctx context.Context, r Runner) ([9]float32, error) {
	var out [9]float32
	err := readFloats(ctx, r, CmdMagSoftIronMatrix, ReplyMagSoftIronMatrix, out[:])
	return out, err
}

func SaveMagSoftIronMatrix(ctx context.Context, r Runner) error {
	return runFunction(ctx, r, CmdMagSoftIronMatrix, FunctionSave)
}

func LoadMagSoftIronMatrix(ctx context.Context, r Runner) error {
	return runFunction(ctx, r, CmdMagSoftIronMatrix, FunctionLoad)
}

func DefaultMagSoftIronMatrix(ctx context.Context, r Runner) error {
	return runFunction(ctx, r, CmdMagSoftIronMatrix, FunctionDefault)
}

func writeFloats(ctx context.Context, r Runner, desc uint8, vs []float32) error {
	payload, err := encode(func(s *serializer.Serializer) error {
		if err := s.PutUint8(uint8(FunctionWrite)); err != nil {
			return err
		}
		return s.PutFloat32s(vs)
	})
	if err != nil {
		return err
	}
	_, err = run(ctx, r, DescriptorSet3DM, desc, payload, 0)
	return err
}

func readFloats(ctx context.Context, r Runner, desc, respDesc uint8, dst []float32) error {
	resp, err := run(ctx, r, DescriptorSet3DM, desc, []byte{byte(FunctionRead)}, respDesc)
	if err != nil {
		return err
	}
	return decoded(serializer.New(resp).Float32s(dst))
}

func runFunction(ctx context.Context, r Runner, desc uint8, fn Function) error {
	_, err := run(ctx, r, DescriptorSet3DM, desc, []byte{byte(fn)}, 0)
	return err
}

// EncodeFloats is the reply layout of the calibration settings.
func EncodeFloats(vs []float32) ([]byte, error) {
	return encode(func(s *serializer.Serializer) error { return s.PutFloat32s(vs) })
}
