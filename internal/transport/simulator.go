package transport

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/cmdqueue"
	"github.com/shaunagostinho/goimu/internal/mip/commands"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
	"github.com/shaunagostinho/goimu/internal/mip/serializer"
)

// SimulatorConfig tunes the simulated IMU.
type SimulatorConfig struct {
	BaseRate       uint16              `yaml:"base_rate" json:"baseRate" toml:"base_rate"`
	NoMagnetometer bool                `yaml:"no_magnetometer" json:"noMagnetometer" toml:"no_magnetometer"`
	Info           commands.DeviceInfo `yaml:"-" json:"-" toml:"-"`
	Seed           int64               `yaml:"seed" json:"seed" toml:"seed"`
	Now            func() time.Time    `yaml:"-" json:"-" toml:"-"`
}

var demoInfo = commands.DeviceInfo{
	FirmwareVersion: 1105,
	ModelName:       "3DM-SIM-AHRS",
	ModelNumber:     "6272-0000",
	SerialNumber:    "0000.00001",
	LotNumber:       "SIM01",
	DeviceOptions:   "8g,300dps",
}

var supportedData = map[uint8]bool{
	sensordata.DataAccelScaled:     true,
	sensordata.DataGyroScaled:      true,
	sensordata.DataMagScaled:       true,
	sensordata.DataCompEulerAngles: true,
	sensordata.DataCompQuaternion:  true,
	sensordata.DataTemperatureAbs:  true,
	sensordata.DataPressureScaled:  true,
}

// Simulator is an in-memory IMU speaking the command protocol. It answers
// the base and 3DM commands and streams synthetic sensor data at the
// configured message format while not idle.
type Simulator struct {
	mu  sync.Mutex
	cfg SimulatorConfig
	rnd *rand.Rand

	in     []byte
	out    []byte
	closed bool

	idle      bool
	streaming bool
	format    []commands.DescriptorRate

	hardIron      [3]float32
	softIron      [9]float32
	savedHardIron [3]float32
	savedSoftIron [9]float32

	start    time.Time
	lastTick uint64
}

// maxCatchUpSeconds bounds the data generated after a long gap between reads.
const maxCatchUpSeconds = 1

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.BaseRate == 0 {
		cfg.BaseRate = 1000
	}
	if cfg.Info == (commands.DeviceInfo{}) {
		cfg.Info = demoInfo
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	identity := [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}
	return &Simulator{
		cfg:           cfg,
		rnd:           rand.New(rand.NewSource(cfg.Seed)),
		streaming:     true,
		softIron:      identity,
		savedSoftIron: identity,
		start:         cfg.Now(),
	}
}

func (s *Simulator) Name() string { return "Demo (Simulated)" }

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Idle reports whether the simulated device is in idle mode.
func (s *Simulator) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

func (s *Simulator) Receive(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.generate()
	n := copy(buf, s.out)
	s.out = s.out[:copy(s.out, s.out[n:])]
	return n, nil
}

func (s *Simulator) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.in = append(s.in, data...)
	for {
		i := 0
		for i+1 < len(s.in) && !(s.in[i] == packet.SyncByte1 && s.in[i+1] == packet.SyncByte2) {
			i++
		}
		s.in = s.in[i:]
		total := packet.PacketLength(s.in)
		if total == 0 || len(s.in) < total {
			return nil
		}
		pkt, err := packet.Parse(s.in[:total])
		if err != nil {
			s.in = s.in[2:]
			continue
		}
		if mip.IsCommandSet(pkt.DescriptorSet()) {
			s.answer(pkt)
		}
		s.in = s.in[total:]
	}
}

// answer builds one reply packet carrying an ack/nack, and any response
// field, for every command field of pkt.
func (s *Simulator) answer(pkt packet.Packet) {
	b := packet.NewBuilder(pkt.DescriptorSet())
	it := pkt.Fields()
	for it.Next() {
		f := it.Field()
		code, respDesc, resp := s.handle(pkt.DescriptorSet(), f)
		if err := b.AddField(mip.FieldDescriptorAckNack, []byte{f.Descriptor(), byte(code)}); err != nil {
			break
		}
		if code == cmdqueue.AckOK && respDesc != 0 {
			if err := b.AddField(respDesc, resp); err != nil {
				break
			}
		}
	}
	s.out = append(s.out, b.Finalize()...)
}

func (s *Simulator) handle(descSet uint8, f packet.Field) (cmdqueue.Ack, uint8, []byte) {
	switch descSet {
	case commands.DescriptorSetBase:
		return s.handleBase(f)
	case commands.DescriptorSet3DM:
		return s.handle3DM(f)
	}
	return cmdqueue.NackUnknownCommand, 0, nil
}

func (s *Simulator) handleBase(f packet.Field) (cmdqueue.Ack, uint8, []byte) {
	switch f.Descriptor() {
	case commands.CmdPing:
		return cmdqueue.AckOK, 0, nil
	case commands.CmdSetIdle:
		s.idle = true
		return cmdqueue.AckOK, 0, nil
	case commands.CmdResume:
		s.idle = false
		s.lastTick = s.tickNow()
		return cmdqueue.AckOK, 0, nil
	case commands.CmdGetDeviceInfo:
		buf := make([]byte, commands.DeviceInfoLength)
		if err := s.cfg.Info.Encode(serializer.New(buf)); err != nil {
			return cmdqueue.NackCommandFailed, 0, nil
		}
		return cmdqueue.AckOK, commands.ReplyDeviceInfo, buf
	}
	return cmdqueue.NackUnknownCommand, 0, nil
}

func (s *Simulator) handle3DM(f packet.Field) (cmdqueue.Ack, uint8, []byte) {
	r := f.Serializer()
	if f.Descriptor() == commands.CmdGetBaseRate {
		set, err := r.Uint8()
		if err != nil || set != sensordata.DescriptorSet {
			return cmdqueue.NackInvalidParam, 0, nil
		}
		return cmdqueue.AckOK, commands.ReplyBaseRate, commands.EncodeBaseRate(set, s.cfg.BaseRate)
	}

	fn, err := r.Uint8()
	if err != nil {
		return cmdqueue.NackInvalidParam, 0, nil
	}
	switch f.Descriptor() {
	case commands.CmdMessageFormat:
		return s.messageFormat(commands.Function(fn), r)
	case commands.CmdDatastreamControl:
		return s.datastream(commands.Function(fn), r)
	case commands.CmdMagHardIronOffset:
		return floatSetting(commands.Function(fn), r, s.hardIron[:], s.savedHardIron[:], nil, commands.ReplyMagHardIronOffset)
	case commands.CmdMagSoftIronMatrix:
		identity := []float32{1, 0, 0, 0, 1, 0, 0, 0, 1}
		return floatSetting(commands.Function(fn), r, s.softIron[:], s.savedSoftIron[:], identity, commands.ReplyMagSoftIronMatrix)
	}
	return cmdqueue.NackUnknownCommand, 0, nil
}

func (s *Simulator) messageFormat(fn commands.Function, r *serializer.Serializer) (cmdqueue.Ack, uint8, []byte) {
	switch fn {
	case commands.FunctionWrite:
		set, rates, err := commands.DecodeDescriptorRates(r)
		if err != nil || set != sensordata.DescriptorSet {
			return cmdqueue.NackInvalidParam, 0, nil
		}
		for _, rate := range rates {
			if rate.Descriptor == sensordata.DataMagScaled && s.cfg.NoMagnetometer {
				return cmdqueue.NackCommandFailed, 0, nil
			}
			if !supportedData[rate.Descriptor] || rate.Decimation == 0 {
				return cmdqueue.NackInvalidParam, 0, nil
			}
		}
		s.format = rates
		return cmdqueue.AckOK, 0, nil
	case commands.FunctionRead:
		resp, err := commands.EncodeDescriptorRates(sensordata.DescriptorSet, s.format)
		if err != nil {
			return cmdqueue.NackCommandFailed, 0, nil
		}
		return cmdqueue.AckOK, commands.ReplyMessageFormat, resp
	case commands.FunctionSave, commands.FunctionLoad:
		return cmdqueue.AckOK, 0, nil
	case commands.FunctionDefault:
		s.format = nil
		return cmdqueue.AckOK, 0, nil
	}
	return cmdqueue.NackInvalidParam, 0, nil
}

func (s *Simulator) datastream(fn commands.Function, r *serializer.Serializer) (cmdqueue.Ack, uint8, []byte) {
	set, err := r.Uint8()
	if err != nil || (set != 0 && set != sensordata.DescriptorSet) {
		return cmdqueue.NackInvalidParam, 0, nil
	}
	switch fn {
	case commands.FunctionWrite:
		on, err := r.Bool()
		if err != nil {
			return cmdqueue.NackInvalidParam, 0, nil
		}
		s.streaming = on
		return cmdqueue.AckOK, 0, nil
	case commands.FunctionRead:
		var on byte
		if s.streaming {
			on = 1
		}
		return cmdqueue.AckOK, commands.ReplyDatastreamControl, []byte{set, on}
	case commands.FunctionSave, commands.FunctionLoad, commands.FunctionDefault:
		return cmdqueue.AckOK, 0, nil
	}
	return cmdqueue.NackInvalidParam, 0, nil
}

// floatSetting implements every Function for a setting stored as floats.
func floatSetting(fn commands.Function, r *serializer.Serializer, cur, saved, def []float32, respDesc uint8) (cmdqueue.Ack, uint8, []byte) {
	switch fn {
	case commands.FunctionWrite:
		tmp := make([]float32, len(cur))
		if err := r.Float32s(tmp); err != nil {
			return cmdqueue.NackInvalidParam, 0, nil
		}
		copy(cur, tmp)
	case commands.FunctionRead:
		resp, err := commands.EncodeFloats(cur)
		if err != nil {
			return cmdqueue.NackCommandFailed, 0, nil
		}
		return cmdqueue.AckOK, respDesc, resp
	case commands.FunctionSave:
		copy(saved, cur)
	case commands.FunctionLoad:
		copy(cur, saved)
	case commands.FunctionDefault:
		clear(cur)
		copy(cur, def)
	default:
		return cmdqueue.NackInvalidParam, 0, nil
	}
	return cmdqueue.AckOK, 0, nil
}

func (s *Simulator) tickNow() uint64 {
	elapsed := s.cfg.Now().Sub(s.start)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed) * uint64(s.cfg.BaseRate) / uint64(time.Second)
}

// generate appends the data packets due since the last call.
func (s *Simulator) generate() {
	now := s.tickNow()
	if s.idle || !s.streaming || len(s.format) == 0 {
		s.lastTick = now
		return
	}
	if limit := uint64(s.cfg.BaseRate) * maxCatchUpSeconds; now-s.lastTick > limit {
		s.lastTick = now - limit
	}
	for k := s.lastTick + 1; k <= now; k++ {
		b := packet.NewBuilder(sensordata.DescriptorSet)
		filled := false
		for _, rate := range s.format {
			if k%uint64(rate.Decimation) != 0 {
				continue
			}
			if s.addField(b, rate.Descriptor, float64(k)/float64(s.cfg.BaseRate)) {
				filled = true
			}
		}
		if filled {
			s.out = append(s.out, b.Finalize()...)
		}
	}
	s.lastTick = now
}

func (s *Simulator) noise(scale float64) float64 {
	return (s.rnd.Float64()*2 - 1) * scale
}

func (s *Simulator) attitude(t float64) sensordata.EulerAngles {
	yaw := math.Mod(0.2*t+math.Pi, 2*math.Pi) - math.Pi
	return sensordata.EulerAngles{
		Roll:  float32(0.05 * math.Sin(0.9*t)),
		Pitch: float32(0.04 * math.Cos(0.7*t)),
		Yaw:   float32(yaw),
	}
}

func (s *Simulator) addField(b *packet.Builder, desc uint8, t float64) bool {
	var payload []byte
	att := s.attitude(t)
	switch desc {
	case sensordata.DataAccelScaled:
		payload = sensordata.EncodeVector3(sensordata.Vector3{
			float32(-math.Sin(float64(att.Pitch)) + s.noise(0.002)),
			float32(math.Sin(float64(att.Roll)) + s.noise(0.002)),
			float32(-math.Cos(float64(att.Pitch))*math.Cos(float64(att.Roll)) + s.noise(0.002)),
		})
	case sensordata.DataGyroScaled:
		payload = sensordata.EncodeVector3(sensordata.Vector3{
			float32(0.045*math.Cos(0.9*t) + s.noise(0.001)),
			float32(-0.028*math.Sin(0.7*t) + s.noise(0.001)),
			float32(0.2 + s.noise(0.001)),
		})
	case sensordata.DataMagScaled:
		yaw := float64(att.Yaw)
		payload = sensordata.EncodeVector3(sensordata.Vector3{
			float32(0.22*math.Cos(yaw)) + s.hardIron[0],
			float32(-0.22*math.Sin(yaw)) + s.hardIron[1],
			float32(0.42) + s.hardIron[2],
		})
	case sensordata.DataCompEulerAngles:
		payload, _ = commands.EncodeFloats([]float32{att.Roll, att.Pitch, att.Yaw})
	case sensordata.DataCompQuaternion:
		q := quaternion(att)
		payload, _ = commands.EncodeFloats(q[:])
	case sensordata.DataTemperatureAbs:
		mean := float32(31.5 + s.noise(0.2))
		payload, _ = commands.EncodeFloats([]float32{mean - 0.4, mean + 0.4, mean})
	case sensordata.DataPressureScaled:
		payload, _ = commands.EncodeFloats([]float32{float32(1013.25 + s.noise(0.5))})
	default:
		return false
	}
	return b.AddField(desc, payload) == nil
}

func quaternion(e sensordata.EulerAngles) sensordata.Quaternion {
	cr, sr := math.Cos(float64(e.Roll)/2), math.Sin(float64(e.Roll)/2)
	cp, sp := math.Cos(float64(e.Pitch)/2), math.Sin(float64(e.Pitch)/2)
	cy, sy := math.Cos(float64(e.Yaw)/2), math.Sin(float64(e.Yaw)/2)
	return sensordata.Quaternion{
		float32(cr*cp*cy + sr*sp*sy),
		float32(sr*cp*cy - cr*sp*sy),
		float32(cr*sp*cy + sr*cp*sy),
		float32(cr*cp*sy - sr*sp*cy),
	}
}
