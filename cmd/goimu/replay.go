package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/goimu/internal/logging"
	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/dispatch"
	"github.com/shaunagostinho/goimu/internal/mip/packet"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
	"github.com/shaunagostinho/goimu/internal/transport"
)

var (
	replayCmd = &cobra.Command{
		Use:   "replay <capture>",
		Short: "Decode a raw byte capture and print its packets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc := cfg.Snapshot().Device
			dc.Type = transport.TypeReplay
			dc.ReplayFile = args[0]
			dc.CaptureFile = ""
			s, err := openSession(dc)
			if err != nil {
				return err
			}
			defer s.Close()
			return runReplay(s, cmd.OutOrStdout())
		},
	}

	replayJSON bool
)

func init() {
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print sensor packets as decoded JSON samples")
}

func runReplay(s *session, w io.Writer) error {
	logger := logging.Component("replay")
	d := s.dev
	enc := json.NewEncoder(w)

	d.RegisterPacketCallback(dispatch.DescriptorSetAny, dispatch.PacketHandlerFunc(func(pkt packet.Packet, ts mip.Timestamp) error {
		if replayJSON && pkt.DescriptorSet() == sensordata.DescriptorSet {
			sample, err := sensordata.ParseSample(pkt, ts)
			if err != nil {
				return err
			}
			return enc.Encode(sample)
		}
		_, err := fmt.Fprintln(w, pkt.String())
		return err
	}))

	for {
		if err := d.Poll(); err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			break
		}
	}

	st := d.Stats()
	logger.Info().
		Uint64("bytes", st.BytesReceived).
		Uint64("packets", st.Packets).
		Uint64("malformed", st.MalformedFrames).
		Uint64("dropped_bytes", st.BytesDropped).
		Msg("done")
	return nil
}
