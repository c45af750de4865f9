package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"trace":   zerolog.TraceLevel,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}
	_, ok := ParseLevel("")
	require.False(t, ok)
	_, ok = ParseLevel("loud")
	require.False(t, ok)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "1")

	cfg := DefaultConfig(ProfileRuntime)
	require.Equal(t, zerolog.InfoLevel, cfg.Level)
	ApplyEnvOverrides(&cfg)
	require.Equal(t, zerolog.ErrorLevel, cfg.Level)
	require.False(t, cfg.Timestamp)
	require.True(t, cfg.NoColor)
}

func TestInstallWritesComponentField(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	cfg := DefaultConfig(ProfileTest)
	cfg.Out = &buf
	Install(cfg)

	l := Component("device")
	l.Info().Msg("hello")
	require.Contains(t, buf.String(), "hello")
	require.Contains(t, buf.String(), "component=device")
}
