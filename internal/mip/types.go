package mip

import "time"

// Timestamp is a monotonic time in milliseconds.
type Timestamp uint64

// Timeout is a duration in milliseconds.
type Timeout uint64

// TimeoutFromDuration converts d to a Timeout, rounding down to the millisecond.
// Negative durations become zero.
func TimeoutFromDuration(d time.Duration) Timeout {
	if d <= 0 {
		return 0
	}
	return Timeout(d / time.Millisecond)
}

// Duration converts t back to a time.Duration.
func (t Timeout) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}

// Add returns the timestamp t+d.
func (t Timestamp) Add(d Timeout) Timestamp {
	return t + Timestamp(d)
}

// Descriptor set ranges.
const (
	// DescriptorSetBase is the base command set (ping, idle, device info).
	DescriptorSetBase uint8 = 0x01
	// DescriptorSet3DM is the 3DM configuration command set.
	DescriptorSet3DM uint8 = 0x0C

	// Data descriptor sets occupy the upper half of the range.
	DataDescriptorSetMin uint8 = 0x80
)

// Reserved field descriptors shared by every command set.
const (
	// FieldDescriptorAckNack is the reply field echoing a command's result.
	// Its payload is [command descriptor][ack code].
	FieldDescriptorAckNack uint8 = 0xF1
)

// IsDataSet reports whether descSet carries streamed data rather than commands.
func IsDataSet(descSet uint8) bool {
	return descSet >= DataDescriptorSetMin
}

// IsCommandSet reports whether descSet is a command/reply set.
func IsCommandSet(descSet uint8) bool {
	return descSet != 0 && descSet < DataDescriptorSetMin
}
