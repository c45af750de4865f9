package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shaunagostinho/goimu/internal/mip/commands"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
	"github.com/shaunagostinho/goimu/internal/server"
	"github.com/shaunagostinho/goimu/internal/transport"
	"github.com/shaunagostinho/goimu/web"
)

const statsInterval = 500 * time.Millisecond

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Stream the device to the web dashboard and the CSV recorder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			if record {
				cfg.Recording.Enabled = true
			}
			ctx := cmd.Context()
			srv := server.New(cfg, web.FS, nil)

			// Dashboard starts regardless; the device connects in the background.
			go deviceLoop(ctx, srv)

			return srv.Run(ctx)
		},
	}

	listenAddr string
	record     bool
)

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "override listen address (e.g. :8080)")
	serveCmd.Flags().BoolVar(&record, "record", false, "enable CSV recording")
}

// deviceLoop owns the device. It connects with backoff, configures the
// stream and pumps it until the link fails, then starts over.
func deviceLoop(ctx context.Context, srv *server.Server) {
	dc := cfg.Snapshot().Device
	for {
		s, err := connectWithRetry(ctx, dc, 10)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Str("component", "main").Err(err).Msg("device unavailable")
			}
			return
		}

		err = streamTo(ctx, s, srv)
		s.Close()

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			log.Info().Str("component", "main").Msg("replay finished")
			return
		default:
			log.Warn().Str("component", "main").Err(err).Msg("device link lost, reconnecting")
		}
	}
}

// streamTo configures the session and forwards samples until an error.
func streamTo(ctx context.Context, s *session, srv *server.Server) error {
	d := s.dev
	snap := cfg.Snapshot()
	replay := snap.Device.Type == transport.TypeReplay

	state := server.DeviceState{Port: s.port.Name()}
	// A capture cannot answer commands; just decode what it holds.
	if !replay {
		setup, err := configureStream(d, snap.Stream)
		if err != nil {
			return err
		}
		cctx, cancel := commandContext()
		info, err := commands.GetDeviceInfo(cctx, d)
		cancel()
		if err != nil {
			return err
		}
		state.Info = info
		state.BaseRate = setup.BaseRate
		for _, r := range setup.Rates {
			state.Format = append(state.Format, server.DescriptorRateData{Name: sensordata.Name(r.Descriptor), Decimation: r.Decimation})
		}
	}
	srv.SetDevice(state)

	h := sensordata.Subscribe(d.Registry(), srv.Publish)
	defer d.Registry().Remove(h)

	if !replay {
		if err := startStream(d); err != nil {
			return err
		}
		defer func() {
			if err := stopStream(d); err != nil {
				log.Warn().Str("component", "main").Err(err).Msg("idle on exit")
			}
		}()
	}

	poll := time.NewTicker(snap.Device.PollInterval())
	defer poll.Stop()
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()
	for {
		if err := d.Poll(); err != nil {
			srv.SetStats(d.Stats())
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-stats.C:
			srv.SetStats(d.Stats())
		case <-poll.C:
		}
	}
}
