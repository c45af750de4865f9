package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/goimu/internal/config"
	"github.com/shaunagostinho/goimu/internal/mip/commands"
	"github.com/shaunagostinho/goimu/internal/mip/device"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Load(filepath.Join(dir, "goimu.yaml"))
	cfg.Recording.Path = filepath.Join(dir, "rec")
	cfg.Recording.IntervalMs = 10

	l := zerolog.Nop()
	web := fstest.MapFS{"index.html": {Data: []byte("<html>goimu</html>")}}
	s := New(cfg, web, &l)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return s, ts, cfg
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServesDashboard(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "goimu")
}

func TestConfigAPI(t *testing.T) {
	s, ts, cfg := newTestServer(t)

	var got map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/config", &got))
	require.Contains(t, got, "device")

	resp, err := http.Post(ts.URL+"/api/config", "application/json",
		strings.NewReader(`{"recording":{"enabled":true},"stream":{"sampleHz":50}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 50, cfg.Snapshot().Stream.SampleHz)
	require.True(t, s.Recorder().IsEnabled())

	resp, err = http.Post(ts.URL+"/api/config", "application/json", strings.NewReader(`{bad`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/config", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDeviceAndStatsAPI(t *testing.T) {
	s, ts, _ := newTestServer(t)

	var state DeviceState
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/device", &state))

	s.SetDevice(DeviceState{
		Port:     "Demo (Simulated)",
		Info:     commands.DeviceInfo{FirmwareVersion: 1105, ModelName: "3DM-SIM-AHRS"},
		BaseRate: 1000,
	})
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/device", &state))
	require.Equal(t, "1.1.05", state.Firmware)
	require.Equal(t, "3DM-SIM-AHRS", state.Info.ModelName)

	s.SetStats(device.Stats{Packets: 12, MalformedFrames: 1})
	var stats StatsData
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/stats", &stats))
	require.EqualValues(t, 12, stats.Device.Packets)
	require.EqualValues(t, 1, stats.Device.MalformedFrames)
	require.False(t, stats.Recording)
}

func TestWebSocketBroadcastsSamples(t *testing.T) {
	s, ts, _ := newTestServer(t)
	s.Recorder().SetEnabled(true)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	require.Nil(t, hello.Sample)
	require.NotNil(t, hello.Stats)

	accel := sensordata.Vector3{0, 0, -1}
	s.Publish(sensordata.Sample{Time: 5000, Accel: &accel})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	for f.Sample == nil {
		require.NoError(t, conn.ReadJSON(&f))
	}
	require.EqualValues(t, 5000, f.Sample.Time)
	require.Equal(t, accel, *f.Sample.Accel)
	require.Equal(t, 1, f.Stats.Clients)
	require.EqualValues(t, 1, s.Recorder().Rows())
}

func TestPublishNeverBlocks(t *testing.T) {
	cfg := config.DefaultConfig()
	l := zerolog.Nop()
	s := New(cfg, nil, &l) // pump not started
	for i := 0; i < sampleBacklog+10; i++ {
		s.Publish(sensordata.Sample{})
	}
	require.EqualValues(t, 10, s.dropped.Load())
}
