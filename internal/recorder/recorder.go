// Package recorder writes decoded sensor samples to rotating CSV files.
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shaunagostinho/goimu/internal/mip"
	"github.com/shaunagostinho/goimu/internal/mip/sensordata"
)

// Recorder records sensor samples to CSV files with automatic rotation.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	interval mip.Timeout
	enabled  bool
	maxRows  int
	now      func() time.Time
	logger   zerolog.Logger

	file     *os.File
	writer   *csv.Writer
	path     string
	lastTs   mip.Timestamp
	haveLast bool
	rows     int
	total    uint64
}

// Config holds recorder configuration.
type Config struct {
	Enabled    bool
	Path       string
	IntervalMs int
	MaxRows    int              // rows per file before rotating; 0 means the default
	Now        func() time.Time // file naming clock; nil means time.Now
	Logger     *zerolog.Logger
}

const (
	maxRowsPerFile = 100_000 // ~16 min at 100 Hz
	minInterval    = 5       // ms
)

var csvHeader = []string{
	"device_ms",
	"accel_x", "accel_y", "accel_z",
	"gyro_x", "gyro_y", "gyro_z",
	"mag_x", "mag_y", "mag_z",
	"roll", "pitch", "yaw",
	"q_w", "q_x", "q_y", "q_z",
	"temp_mean_c", "pressure_mbar",
	"gps_tow", "gps_week", "overrange",
}

// New creates a new Recorder. IntervalMs below 5 falls back to 10 ms (100 Hz).
func New(cfg Config) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/goimu"
	}
	interval := cfg.IntervalMs
	if interval < minInterval {
		interval = 10
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = maxRowsPerFile
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Recorder{
		dir:      cfg.Path,
		interval: mip.Timeout(interval),
		enabled:  cfg.Enabled,
		maxRows:  cfg.MaxRows,
		now:      cfg.Now,
		logger:   logger.With().Str("component", "recorder").Logger(),
	}
}

// SetEnabled allows toggling recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on && r.file != nil {
		r.closeFile()
	}
}

func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// File returns the path of the file currently being written, if any.
func (r *Recorder) File() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Rows returns the number of rows written since creation.
func (r *Recorder) Rows() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Record writes a sample if at least the interval has passed in device time
// since the previous row.
func (r *Recorder) Record(s sensordata.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	if r.haveLast && s.Time < r.lastTs.Add(r.interval) {
		return
	}
	r.lastTs = s.Time
	r.haveLast = true

	if r.writer == nil || r.rows >= r.maxRows {
		if err := r.rotateFile(); err != nil {
			r.logger.Error().Err(err).Msg("rotate failed")
			return
		}
	}

	if err := r.writer.Write(buildRow(s)); err != nil {
		r.logger.Error().Err(err).Msg("write failed")
		return
	}
	r.writer.Flush()
	r.rows++
	r.total++
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile() error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	base := "goimu_" + r.now().Format("2006-01-02_150405")
	path := filepath.Join(r.dir, base+".csv")
	// Rotation within the same second gets a suffix.
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(r.dir, fmt.Sprintf("%s_%d.csv", base, i))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.path = path
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	r.logger.Info().Str("path", path).Msg("opened")
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	r.path = ""
}

func buildRow(s sensordata.Sample) []string {
	row := make([]string, len(csvHeader))

	row[0] = strconv.FormatUint(uint64(s.Time), 10)
	putVec := func(at int, v *sensordata.Vector3) {
		if v == nil {
			return
		}
		for i := range v {
			row[at+i] = f32(v[i], 6)
		}
	}
	putVec(1, s.Accel)
	putVec(4, s.Gyro)
	putVec(7, s.Mag)

	if e := s.Euler; e != nil {
		row[10] = f32(e.Roll, 5)
		row[11] = f32(e.Pitch, 5)
		row[12] = f32(e.Yaw, 5)
	}
	if q := s.Quaternion; q != nil {
		for i := range q {
			row[13+i] = f32(q[i], 6)
		}
	}
	if t := s.Temperature; t != nil {
		row[17] = f32(t.Mean, 2)
	}
	if p := s.Pressure; p != nil {
		row[18] = f32(*p, 2)
	}
	if g := s.GPSTime; g != nil {
		row[19] = strconv.FormatFloat(g.TOW, 'f', 3, 64)
		row[20] = strconv.Itoa(int(g.WeekNumber))
	}
	if o := s.Overrange; o != nil {
		row[21] = fmt.Sprintf("0x%04X", *o)
	}

	return row
}

func f32(v float32, prec int) string {
	return strconv.FormatFloat(float64(v), 'f', prec, 32)
}
