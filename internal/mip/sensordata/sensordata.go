// Package sensordata decodes the fields of the sensor data descriptor set
// (0x80).
package sensordata

import (
	"fmt"

	"github.com/shaunagostinho/goimu/internal/mip/packet"
	"github.com/shaunagostinho/goimu/internal/mip/serializer"
)

const DescriptorSet uint8 = 0x80

const (
	DataAccelRaw                    uint8 = 0x01
	DataGyroRaw                     uint8 = 0x02
	DataMagRaw                      uint8 = 0x03
	DataAccelScaled                 uint8 = 0x04
	DataGyroScaled                  uint8 = 0x05
	DataMagScaled                   uint8 = 0x06
	DataDeltaTheta                  uint8 = 0x07
	DataDeltaVelocity               uint8 = 0x08
	DataCompOrientationMatrix       uint8 = 0x09
	DataCompQuaternion              uint8 = 0x0A
	DataCompOrientationUpdateMatrix uint8 = 0x0B
	DataCompEulerAngles             uint8 = 0x0C
	DataTemperatureRaw              uint8 = 0x0D
	DataTimeStampInternal           uint8 = 0x0E
	DataTimeStampPPS                uint8 = 0x0F
	DataStabMag                     uint8 = 0x10
	DataStabAccel                   uint8 = 0x11
	DataTimeStampGPS                uint8 = 0x12
	DataTemperatureAbs              uint8 = 0x14
	DataRawClipData                 uint8 = 0x15
	DataPressureRaw                 uint8 = 0x16
	DataPressureScaled              uint8 = 0x17
	DataOverrangeStatus             uint8 = 0x18
	DataOdometer                    uint8 = 0x40
	DataASPP                        uint8 = 0x81
	DataGXSB                        uint8 = 0x82
)

var names = map[uint8]string{
	DataAccelRaw:                    "accel_raw",
	DataGyroRaw:                     "gyro_raw",
	DataMagRaw:                      "mag_raw",
	DataAccelScaled:                 "accel_scaled",
	DataGyroScaled:                  "gyro_scaled",
	DataMagScaled:                   "mag_scaled",
	DataDeltaTheta:                  "delta_theta",
	DataDeltaVelocity:               "delta_velocity",
	DataCompOrientationMatrix:       "orientation_matrix",
	DataCompQuaternion:              "quaternion",
	DataCompOrientationUpdateMatrix: "orientation_update_matrix",
	DataCompEulerAngles:             "euler_angles",
	DataTemperatureRaw:              "temperature_raw",
	DataTimeStampInternal:           "timestamp_internal",
	DataTimeStampPPS:                "timestamp_pps",
	DataStabMag:                     "north_vector",
	DataStabAccel:                   "up_vector",
	DataTimeStampGPS:                "timestamp_gps",
	DataTemperatureAbs:              "temperature_abs",
	DataRawClipData:                 "raw_clip_data",
	DataPressureRaw:                 "pressure_raw",
	DataPressureScaled:              "pressure_scaled",
	DataOverrangeStatus:             "overrange_status",
	DataOdometer:                    "odometer",
	DataASPP:                        "aspp",
	DataGXSB:                        "gxsb",
}

// Name returns a short label for a sensor data descriptor.
func Name(desc uint8) string {
	if n, ok := names[desc]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", desc)
}

// Vector3 is an (x, y, z) triple in the unit of its field.
type Vector3 [3]float32

// Quaternion is (w, x, y, z).
type Quaternion [4]float32

// Matrix3 is row-major.
type Matrix3 [9]float32

type EulerAngles struct {
	Roll  float32 `json:"roll"`
	Pitch float32 `json:"pitch"`
	Yaw   float32 `json:"yaw"`
}

type TemperatureAbs struct {
	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
	Mean float32 `json:"mean"`
}

// GPS timestamp valid flags.
const (
	GPSValidPPS             uint16 = 0x0001
	GPSValidTimeRefresh     uint16 = 0x0002
	GPSValidTimeInitialized uint16 = 0x0004
	GPSValidTOW             uint16 = 0x0008
	GPSValidWeekNumber      uint16 = 0x0010
)

type GPSTimestamp struct {
	TOW        float64 `json:"tow"`
	WeekNumber uint16  `json:"weekNumber"`
	ValidFlags uint16  `json:"validFlags"`
}

type PPSTimestamp struct {
	Seconds  uint32 `json:"seconds"`
	USeconds uint32 `json:"useconds"`
}

// Overrange status bits.
const (
	OverrangeAccelX uint16 = 0x0001
	OverrangeAccelY uint16 = 0x0002
	OverrangeAccelZ uint16 = 0x0004
	OverrangeGyroX  uint16 = 0x0010
	OverrangeGyroY  uint16 = 0x0020
	OverrangeGyroZ  uint16 = 0x0040
	OverrangeMagX   uint16 = 0x0100
	OverrangeMagY   uint16 = 0x0200
	OverrangeMagZ   uint16 = 0x0400
	OverrangePress  uint16 = 0x1000
)

type Odometer struct {
	Speed       float32 `json:"speed"`
	Uncertainty float32 `json:"uncertainty"`
	ValidFlags  uint16  `json:"validFlags"`
}

func checkField(f packet.Field, want uint8) error {
	if f.DescriptorSet() != DescriptorSet || f.Descriptor() != want {
		return fmt.Errorf("sensordata: field 0x%02X:0x%02X is not 0x%02X:0x%02X",
			f.DescriptorSet(), f.Descriptor(), DescriptorSet, want)
	}
	return nil
}

// DecodeVector3 reads any of the three-float fields: raw and scaled
// accel/gyro/mag, delta theta, delta velocity, up and north vectors.
func DecodeVector3(f packet.Field) (Vector3, error) {
	var v Vector3
	return v, f.Serializer().Float32s(v[:])
}

func DecodeQuaternion(f packet.Field) (Quaternion, error) {
	var q Quaternion
	if err := checkField(f, DataCompQuaternion); err != nil {
		return q, err
	}
	return q, f.Serializer().Float32s(q[:])
}

func DecodeMatrix3(f packet.Field) (Matrix3, error) {
	var m Matrix3
	return m, f.Serializer().Float32s(m[:])
}

func DecodeEulerAngles(f packet.Field) (EulerAngles, error) {
	var e EulerAngles
	if err := checkField(f, DataCompEulerAngles); err != nil {
		return e, err
	}
	s := f.Serializer()
	var err error
	for _, dst := range []*float32{&e.Roll, &e.Pitch, &e.Yaw} {
		if *dst, err = s.Float32(); err != nil {
			return e, err
		}
	}
	return e, nil
}

func DecodeTemperatureAbs(f packet.Field) (TemperatureAbs, error) {
	var t TemperatureAbs
	if err := checkField(f, DataTemperatureAbs); err != nil {
		return t, err
	}
	s := f.Serializer()
	var err error
	for _, dst := range []*float32{&t.Min, &t.Max, &t.Mean} {
		if *dst, err = s.Float32(); err != nil {
			return t, err
		}
	}
	return t, nil
}

// DecodeScalar reads the single-float fields: raw and scaled pressure.
func DecodeScalar(f packet.Field) (float32, error) {
	return f.Serializer().Float32()
}

func DecodeInternalTimestamp(f packet.Field) (uint32, error) {
	if err := checkField(f, DataTimeStampInternal); err != nil {
		return 0, err
	}
	return f.Serializer().Uint32()
}

func DecodePPSTimestamp(f packet.Field) (PPSTimestamp, error) {
	var p PPSTimestamp
	if err := checkField(f, DataTimeStampPPS); err != nil {
		return p, err
	}
	s := f.Serializer()
	var err error
	if p.Seconds, err = s.Uint32(); err != nil {
		return p, err
	}
	p.USeconds, err = s.Uint32()
	return p, err
}

func DecodeGPSTimestamp(f packet.Field) (GPSTimestamp, error) {
	var g GPSTimestamp
	if err := checkField(f, DataTimeStampGPS); err != nil {
		return g, err
	}
	s := f.Serializer()
	var err error
	if g.TOW, err = s.Float64(); err != nil {
		return g, err
	}
	if g.WeekNumber, err = s.Uint16(); err != nil {
		return g, err
	}
	g.ValidFlags, err = s.Uint16()
	return g, err
}

func DecodeOverrangeStatus(f packet.Field) (uint16, error) {
	if err := checkField(f, DataOverrangeStatus); err != nil {
		return 0, err
	}
	return f.Serializer().Uint16()
}

func DecodeOdometer(f packet.Field) (Odometer, error) {
	var o Odometer
	if err := checkField(f, DataOdometer); err != nil {
		return o, err
	}
	s := f.Serializer()
	var err error
	if o.Speed, err = s.Float32(); err != nil {
		return o, err
	}
	if o.Uncertainty, err = s.Float32(); err != nil {
		return o, err
	}
	o.ValidFlags, err = s.Uint16()
	return o, err
}

// EncodeVector3 writes v as a field payload.
func EncodeVector3(v Vector3) []byte {
	buf := make([]byte, 12)
	_ = serializer.New(buf).PutFloat32s(v[:])
	return buf
}

// Lookup is the inverse of Name for known descriptors.
func Lookup(name string) (uint8, bool) {
	for d, n := range names {
		if n == name {
			return d, true
		}
	}
	return 0, false
}
