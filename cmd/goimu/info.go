package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/goimu/internal/logging"
	"github.com/shaunagostinho/goimu/internal/mip/commands"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
)

var (
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Idle the device and print its identity and calibration",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg.Device)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := readInfo(s)
			if err != nil {
				return err
			}
			if infoJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printInfo(cmd.OutOrStdout(), report)
			return nil
		},
	}

	infoJSON bool
)

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "print as JSON")
}

// infoReport collects what info prints. Calibration fields stay nil on
// devices that reject the command.
type infoReport struct {
	Port       string              `json:"port"`
	Info       commands.DeviceInfo `json:"info"`
	Firmware   string              `json:"firmware"`
	BaseRate   uint16              `json:"baseRate"`
	HardIron   *[3]float32         `json:"hardIron,omitempty"`
	SoftIron   *[9]float32         `json:"softIron,omitempty"`
	Streaming  *bool               `json:"streaming,omitempty"`
	MessageFmt []string            `json:"messageFormat,omitempty"`
}

func readInfo(s *session) (infoReport, error) {
	logger := logging.Component("info")
	r := infoReport{Port: s.port.Name()}
	ctx, cancel := commandContext()
	defer cancel()
	d := s.dev

	// Idle first so streamed data does not crowd the replies.
	if err := commands.SetIdle(ctx, d); err != nil {
		return r, fmt.Errorf("set idle: %w", err)
	}

	info, err := commands.GetDeviceInfo(ctx, d)
	if err != nil {
		return r, fmt.Errorf("get device info: %w", err)
	}
	r.Info = info
	r.Firmware = info.FirmwareVersionString()

	if r.BaseRate, err = commands.GetBaseRate(ctx, d, sensordata.DescriptorSet); err != nil {
		return r, fmt.Errorf("get base rate: %w", err)
	}

	if hi, err := commands.ReadMagHardIronOffset(ctx, d); err == nil {
		r.HardIron = &hi
	} else {
		logger.Warn().Err(err).Msg("read mag hard iron offset")
	}
	if si, err := commands.ReadMagSoftIronMatrix(ctx, d); err == nil {
		r.SoftIron = &si
	} else {
		logger.Warn().Err(err).Msg("read mag soft iron matrix")
	}
	if on, err := commands.ReadDatastreamControl(ctx, d, sensordata.DescriptorSet); err == nil {
		r.Streaming = &on
	}
	if rates, err := commands.ReadMessageFormat(ctx, d, sensordata.DescriptorSet); err == nil {
		for _, rt := range rates {
			r.MessageFmt = append(r.MessageFmt, fmt.Sprintf("%s/%d", sensordata.Name(rt.Descriptor), rt.Decimation))
		}
	}
	return r, nil
}

func printInfo(w io.Writer, r infoReport) {
	fmt.Fprintf(w, "Port:            %s\n", r.Port)
	fmt.Fprintf(w, "Model name:      %s\n", r.Info.ModelName)
	fmt.Fprintf(w, "Model number:    %s\n", r.Info.ModelNumber)
	fmt.Fprintf(w, "Serial number:   %s\n", r.Info.SerialNumber)
	fmt.Fprintf(w, "Lot number:      %s\n", r.Info.LotNumber)
	fmt.Fprintf(w, "Options:         %s\n", r.Info.DeviceOptions)
	fmt.Fprintf(w, "Firmware:        %s\n", r.Firmware)
	fmt.Fprintf(w, "Sensor rate:     %d Hz\n", r.BaseRate)
	if r.HardIron != nil {
		fmt.Fprintf(w, "Mag hard iron:   % f\n", r.HardIron[:])
	}
	if r.SoftIron != nil {
		for i := 0; i < 3; i++ {
			label := ""
			if i == 0 {
				label = "Mag soft iron:"
			}
			fmt.Fprintf(w, "%-16s % f\n", label, r.SoftIron[i*3:i*3+3])
		}
	}
	if r.Streaming != nil {
		fmt.Fprintf(w, "Datastream:      %t\n", *r.Streaming)
	}
	if len(r.MessageFmt) > 0 {
		fmt.Fprintf(w, "Message format:  %v\n", r.MessageFmt)
	}
}
