package sensordata

import (
	"fmt"

	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/dispatch"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
)

// Sample gathers the fields of one sensor data packet. Fields absent from the
// packet stay nil.
type Sample struct {
	Time          mip.Timestamp   `json:"time"`
	Accel         *Vector3        `json:"accel,omitempty"`
	Gyro          *Vector3        `json:"gyro,omitempty"`
	Mag           *Vector3        `json:"mag,omitempty"`
	DeltaTheta    *Vector3        `json:"deltaTheta,omitempty"`
	DeltaVelocity *Vector3        `json:"deltaVelocity,omitempty"`
	Quaternion    *Quaternion     `json:"quaternion,omitempty"`
	Euler         *EulerAngles    `json:"euler,omitempty"`
	Temperature   *TemperatureAbs `json:"temperature,omitempty"`
	Pressure      *float32        `json:"pressure,omitempty"`
	GPSTime       *GPSTimestamp   `json:"gpsTime,omitempty"`
	Overrange     *uint16         `json:"overrange,omitempty"`
	InternalTicks *uint32         `json:"internalTicks,omitempty"`
	UnknownFields []uint8         `json:"unknownFields,omitempty"`
}

// ParseSample decodes every known field of a sensor data packet.
func ParseSample(pkt packet.Packet, ts mip.Timestamp) (Sample, error) {
	s := Sample{Time: ts}
	if pkt.DescriptorSet() != DescriptorSet {
		return s, fmt.Errorf("sensordata: packet set 0x%02X is not sensor data", pkt.DescriptorSet())
	}
	it := pkt.Fields()
	for it.Next() {
		if err := s.apply(it.Field()); err != nil {
			return s, fmt.Errorf("sensordata: %s: %w", Name(it.Field().Descriptor()), err)
		}
	}
	return s, it.Err()
}

func (s *Sample) apply(f packet.Field) error {
	switch f.Descriptor() {
	case DataAccelScaled, DataGyroScaled, DataMagScaled, DataDeltaTheta, DataDeltaVelocity:
		v, err := DecodeVector3(f)
		if err != nil {
			return err
		}
		switch f.Descriptor() {
		case DataAccelScaled:
			s.Accel = &v
		case DataGyroScaled:
			s.Gyro = &v
		case DataMagScaled:
			s.Mag = &v
		case DataDeltaTheta:
			s.DeltaTheta = &v
		case DataDeltaVelocity:
			s.DeltaVelocity = &v
		}
	case DataCompQuaternion:
		q, err := DecodeQuaternion(f)
		if err != nil {
			return err
		}
		s.Quaternion = &q
	case DataCompEulerAngles:
		e, err := DecodeEulerAngles(f)
		if err != nil {
			return err
		}
		s.Euler = &e
	case DataTemperatureAbs:
		t, err := DecodeTemperatureAbs(f)
		if err != nil {
			return err
		}
		s.Temperature = &t
	case DataPressureScaled:
		p, err := DecodeScalar(f)
		if err != nil {
			return err
		}
		s.Pressure = &p
	case DataTimeStampGPS:
		g, err := DecodeGPSTimestamp(f)
		if err != nil {
			return err
		}
		s.GPSTime = &g
	case DataOverrangeStatus:
		o, err := DecodeOverrangeStatus(f)
		if err != nil {
			return err
		}
		s.Overrange = &o
	case DataTimeStampInternal:
		c, err := DecodeInternalTimestamp(f)
		if err != nil {
			return err
		}
		s.InternalTicks = &c
	default:
		s.UnknownFields = append(s.UnknownFields, f.Descriptor())
	}
	return nil
}

// Subscribe registers a packet handler that turns every sensor data packet
// into a Sample for fn.
func Subscribe(r *dispatch.Registry, fn func(Sample)) dispatch.Handle {
	return r.RegisterPacket(DescriptorSet, dispatch.PacketHandlerFunc(func(pkt packet.Packet, ts mip.Timestamp) error {
		s, err := ParseSample(pkt, ts)
		if err != nil {
			return err
		}
		fn(s)
		return nil
	}))
}
