package commands

import (
	"context"
	"fmt"

	"github.com/shaunagostinho/goimu/internal/mip/serializer"
)

const deviceInfoStringLength = 16

// DeviceInfoLength is the encoded size of a DeviceInfo reply.
const DeviceInfoLength = 2 + 5*deviceInfoStringLength

// DeviceInfo is the reply to GetDeviceInfo.
type DeviceInfo struct {
	FirmwareVersion uint16 `json:"firmwareVersion"`
	ModelName       string `json:"modelName"`
	ModelNumber     string `json:"modelNumber"`
	SerialNumber    string `json:"serialNumber"`
	LotNumber       string `json:"lotNumber"`
	DeviceOptions   string `json:"deviceOptions"`
}

// FirmwareVersionString renders the packed version, e.g. 1105 as "1.1.05".
func (d DeviceInfo) FirmwareVersionString() string {
	v := d.FirmwareVersion
	return fmt.Sprintf("%d.%d.%02d", v/1000, (v/100)%10, v%100)
}

func (d DeviceInfo) Encode(s *serializer.Serializer) error {
	if err := s.PutUint16(d.FirmwareVersion); err != nil {
		return err
	}
	for _, str := range []string{d.ModelName, d.ModelNumber, d.SerialNumber, d.LotNumber, d.DeviceOptions} {
		if err := s.PutFixedString(str, deviceInfoStringLength); err != nil {
			return err
		}
	}
	return nil
}

func DecodeDeviceInfo(s *serializer.Serializer) (DeviceInfo, error) {
	var d DeviceInfo
	var err error
	if d.FirmwareVersion, err = s.Uint16(); err != nil {
		return d, err
	}
	for _, dst := range []*string{&d.ModelName, &d.ModelNumber, &d.SerialNumber, &d.LotNumber, &d.DeviceOptions} {
		if *dst, err = s.FixedString(deviceInfoStringLength); err != nil {
			return d, err
		}
	}
	return d, nil
}

func Ping(ctx context.Context, r Runner) error {
	_, err := run(ctx, r, DescriptorSetBase, CmdPing, nil, 0)
	return err
}

// SetIdle stops streaming so the device answers commands promptly.
func SetIdle(ctx context.Context, r Runner) error {
	_, err := run(ctx, r, DescriptorSetBase, CmdSetIdle, nil, 0)
	return err
}

// Resume returns the device to the mode it was in before SetIdle.
func Resume(ctx context.Context, r Runner) error {
	_, err := run(ctx, r, DescriptorSetBase, CmdResume, nil, 0)
	return err
}

func GetDeviceInfo(ctx context.Context, r Runner) (DeviceInfo, error) {
	resp, err := run(ctx, r, DescriptorSetBase, CmdGetDeviceInfo, nil, ReplyDeviceInfo)
	if err != nil {
		return DeviceInfo{}, err
	}
	info, err := DecodeDeviceInfo(serializer.New(resp))
	return info, decoded(err)
}
