package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/shaunagostinho/goimu/internal/config"
	"github.com/shaunagostinho/goimu/internal/mip/cmdqueue"
	"github.com/shaunagostinho/goimu/internal/mip/commands"
	"github.com/shaunagostinho/goimu/internal/mip/device"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
)

// streamSetup is what configureStream negotiated with the device.
type streamSetup struct {
	BaseRate   uint16
	Rates      []commands.DescriptorRate
	MagDropped bool
}

// configureStream idles the device, reads the sensor base rate and writes the
// message format. A device without a magnetometer fails the command, so it
// is retried once without the mag descriptors.
func configureStream(d *device.Device, sc config.StreamConfig) (streamSetup, error) {
	var setup streamSetup
	ctx, cancel := commandContext()
	defer cancel()

	if err := commands.SetIdle(ctx, d); err != nil {
		return setup, fmt.Errorf("set idle: %w", err)
	}

	base, err := commands.GetBaseRate(ctx, d, sensordata.DescriptorSet)
	if err != nil {
		return setup, fmt.Errorf("get base rate: %w", err)
	}
	setup.BaseRate = base

	rates, err := sc.DescriptorRates(base)
	if err != nil {
		return setup, err
	}

	err = commands.WriteMessageFormat(ctx, d, sensordata.DescriptorSet, rates)
	var nack *cmdqueue.NackError
	if errors.As(err, &nack) && nack.Code == cmdqueue.NackCommandFailed {
		if trimmed := withoutMag(rates); len(trimmed) > 0 && len(trimmed) < len(rates) {
			log.Warn().Str("component", "stream").Msg("message format rejected, retrying without magnetometer")
			err = commands.WriteMessageFormat(ctx, d, sensordata.DescriptorSet, trimmed)
			rates = trimmed
			setup.MagDropped = true
		}
	}
	if err != nil {
		return setup, fmt.Errorf("set message format: %w", err)
	}
	setup.Rates = rates
	return setup, nil
}

func withoutMag(rates []commands.DescriptorRate) []commands.DescriptorRate {
	out := make([]commands.DescriptorRate, 0, len(rates))
	for _, r := range rates {
		if r.Descriptor == sensordata.DataMagScaled || r.Descriptor == sensordata.DataMagRaw {
			continue
		}
		out = append(out, r)
	}
	return out
}

// startStream enables the sensor datastream and resumes the device.
func startStream(d *device.Device) error {
	ctx, cancel := commandContext()
	defer cancel()
	if err := commands.WriteDatastreamControl(ctx, d, sensordata.DescriptorSet, true); err != nil {
		return fmt.Errorf("enable datastream: %w", err)
	}
	if err := commands.Resume(ctx, d); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

func stopStream(d *device.Device) error {
	ctx, cancel := commandContext()
	defer cancel()
	if err := commands.SetIdle(ctx, d); err != nil {
		return fmt.Errorf("set idle: %w", err)
	}
	return nil
}
