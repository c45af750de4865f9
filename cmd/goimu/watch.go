package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/goimu/internal/logging"
	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/dispatch"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
)

var (
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream scaled accel, gyro and mag for a while and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watchRate > 0 {
				cfg.Stream.SampleHz = watchRate
			}
			s, err := openSession(cfg.Device)
			if err != nil {
				return err
			}
			defer s.Close()
			return runWatch(cmd.Context(), s, cmd.OutOrStdout())
		},
	}

	watchDuration time.Duration
	watchRate     int
	watchPackets  bool
)

func init() {
	f := watchCmd.Flags()
	f.DurationVar(&watchDuration, "duration", 3*time.Second, "how long to stream")
	f.IntVar(&watchRate, "rate", 0, "sample rate in Hz (overrides stream.sample_hz)")
	f.BoolVar(&watchPackets, "packets", false, "also print every data packet's field descriptors")
}

func runWatch(ctx context.Context, s *session, w io.Writer) error {
	logger := logging.Component("watch")
	d := s.dev
	setup, err := configureStream(d, cfg.Stream)
	if err != nil {
		return err
	}
	logger.Info().
		Uint16("base_rate", setup.BaseRate).
		Int("descriptors", len(setup.Rates)).
		Bool("mag_dropped", setup.MagDropped).
		Msg("message format set")

	if watchPackets {
		d.RegisterPacketCallback(dispatch.DescriptorSetData, dispatch.PacketHandlerFunc(func(pkt packet.Packet, _ mip.Timestamp) error {
			var b strings.Builder
			fmt.Fprintf(&b, "Got packet with descriptor set 0x%02X:", pkt.DescriptorSet())
			it := pkt.Fields()
			for it.Next() {
				fmt.Fprintf(&b, " %02X", it.Field().Descriptor())
			}
			fmt.Fprintln(w, b.String())
			return it.Err()
		}))
	}
	printVec := func(label string) func(sensordata.Vector3, mip.Timestamp) {
		return func(v sensordata.Vector3, ts mip.Timestamp) {
			fmt.Fprintf(w, "%8d %-6s %+f, %+f, %+f\n", ts, label, v[0], v[1], v[2])
		}
	}
	reg := d.Registry()
	dispatch.RegisterData(reg, sensordata.DescriptorSet, sensordata.DataAccelScaled, sensordata.DecodeVector3, printVec("accel"))
	dispatch.RegisterData(reg, sensordata.DescriptorSet, sensordata.DataGyroScaled, sensordata.DecodeVector3, printVec("gyro"))
	dispatch.RegisterData(reg, sensordata.DescriptorSet, sensordata.DataMagScaled, sensordata.DecodeVector3, printVec("mag"))
	dispatch.RegisterData(reg, sensordata.DescriptorSet, sensordata.DataCompEulerAngles, sensordata.DecodeEulerAngles,
		func(e sensordata.EulerAngles, ts mip.Timestamp) {
			fmt.Fprintf(w, "%8d %-6s %+f, %+f, %+f\n", ts, "euler", e.Roll, e.Pitch, e.Yaw)
		})

	if err := startStream(d); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, watchDuration)
	defer cancel()
	runErr := d.Run(runCtx)

	// Leave the device idle even when interrupted.
	if err := stopStream(d); err != nil && runErr == nil {
		runErr = err
	}

	st := d.Stats()
	logger.Info().
		Uint64("packets", st.Packets).
		Uint64("malformed", st.MalformedFrames).
		Uint64("dropped_bytes", st.BytesDropped).
		Uint64("handler_failures", st.HandlerFailures).
		Msg("done")
	return runErr
}
