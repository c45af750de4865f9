// Package server broadcasts live IMU samples to WebSocket clients and serves
// the dashboard and its JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shaunagostinho/goimu/internal/config"
	"github.com/shaunagostinho/goimu/internal/mip/commands"
	"github.com/shaunagostinho/goimu/internal/mip/device"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
	"github.com/shaunagostinho/goimu/internal/recorder"
)

const (
	sampleBacklog  = 256
	broadcastHz    = 20
	clientSendSize = 64
)

// Server fans decoded samples out to WebSocket clients and the recorder.
//
// The device itself is never touched from here. Its owner pushes samples with
// Publish and snapshots with SetStats and SetDevice.
type Server struct {
	cfg      *config.Config
	webFS    fs.FS
	recorder *recorder.Recorder
	logger   zerolog.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	samples chan sensordata.Sample
	dropped atomic.Uint64

	stateMu sync.RWMutex
	latest  *sensordata.Sample
	fresh   bool
	stats   device.Stats
	info    *DeviceState
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Sample *sensordata.Sample `json:"sample,omitempty"`
	Stats  *StatsData         `json:"stats,omitempty"`
	Device *DeviceState       `json:"device,omitempty"`
	Stamp  int64              `json:"stamp"` // Unix ms
}

// DeviceState describes the connected device.
type DeviceState struct {
	Port     string               `json:"port"`
	Info     commands.DeviceInfo  `json:"info"`
	Firmware string               `json:"firmware"`
	BaseRate uint16               `json:"baseRate,omitempty"`
	Format   []DescriptorRateData `json:"format,omitempty"`
}

type DescriptorRateData struct {
	Name       string `json:"name"`
	Decimation uint16 `json:"decimation"`
}

// StatsData is what /api/stats returns.
type StatsData struct {
	Device    device.Stats `json:"device"`
	Dropped   uint64       `json:"dropped"` // samples lost to a full backlog
	Clients   int          `json:"clients"`
	Recording bool         `json:"recording"`
	File      string       `json:"file,omitempty"`
	Rows      uint64       `json:"rows"`
}

// New creates a new Server. A nil logger uses the global one.
func New(cfg *config.Config, webFS fs.FS, logger *zerolog.Logger) *Server {
	base := log.Logger
	if logger != nil {
		base = *logger
	}

	snap := cfg.Snapshot()
	return &Server{
		cfg:   cfg,
		webFS: webFS,
		recorder: recorder.New(recorder.Config{
			Enabled:    snap.Recording.Enabled,
			Path:       snap.Recording.Path,
			IntervalMs: snap.Recording.IntervalMs,
			Logger:     &base,
		}),
		logger:  base.With().Str("component", "server").Logger(),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		samples: make(chan sensordata.Sample, sampleBacklog),
	}
}

func (s *Server) Recorder() *recorder.Recorder { return s.recorder }

// Publish hands a sample to the server without blocking. It is safe to call
// from a dispatch callback.
func (s *Server) Publish(sample sensordata.Sample) {
	select {
	case s.samples <- sample:
	default:
		s.dropped.Add(1)
	}
}

// SetStats stores the latest device counters.
func (s *Server) SetStats(st device.Stats) {
	s.stateMu.Lock()
	s.stats = st
	s.stateMu.Unlock()
}

// SetDevice stores the identity of the connected device and tells clients.
func (s *Server) SetDevice(state DeviceState) {
	state.Firmware = state.Info.FirmwareVersionString()
	s.stateMu.Lock()
	s.info = &state
	s.stateMu.Unlock()
	s.broadcast(Frame{Device: &state, Stamp: time.Now().UnixMilli()})
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/device", s.handleDevice)
	return mux
}

// Start launches the sample pump. It stops, closing the recorder, when ctx
// is done.
func (s *Server) Start(ctx context.Context) {
	go s.pump(ctx)
}

// Run starts the pump and the HTTP server, and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

	addr := s.cfg.Snapshot().Server.ListenAddr
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.logger.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pump records every sample and broadcasts the newest one at a fixed rate.
func (s *Server) pump(ctx context.Context) {
	ticker := time.NewTicker(time.Second / broadcastHz)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.recorder.Close()
			return
		case sample := <-s.samples:
			s.recorder.Record(sample)
			s.stateMu.Lock()
			s.latest = &sample
			s.fresh = true
			s.stateMu.Unlock()
		case <-ticker.C:
			s.stateMu.Lock()
			latest, fresh := s.latest, s.fresh
			s.fresh = false
			s.stateMu.Unlock()
			// Only broadcast when something new arrived
			if fresh {
				s.broadcast(Frame{Sample: latest, Stats: s.statsData(), Stamp: time.Now().UnixMilli()})
			}
		}
	}
}

func (s *Server) statsData() *StatsData {
	s.stateMu.RLock()
	st := s.stats
	s.stateMu.RUnlock()

	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()

	return &StatsData{
		Device:    st,
		Dropped:   s.dropped.Load(),
		Clients:   n,
		Recording: s.recorder.IsEnabled(),
		File:      s.recorder.File(),
		Rows:      s.recorder.Rows(),
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info().Int("clients", total).Msg("ws client connected")

	// Send device identity first
	s.stateMu.RLock()
	info := s.info
	s.stateMu.RUnlock()
	if data, err := json.Marshal(Frame{Device: info, Stats: s.statsData(), Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects close)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.logger.Info().Int("clients", total).Msg("ws client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.logger.Warn().Err(err).Msg("config save failed")
		}
		// Recording can be toggled live; device settings apply on restart.
		s.recorder.SetEnabled(s.cfg.Snapshot().Recording.Enabled)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.statsData())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.stateMu.RLock()
	info := s.info
	s.stateMu.RUnlock()
	if info == nil {
		http.Error(w, "device not connected", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, info)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
