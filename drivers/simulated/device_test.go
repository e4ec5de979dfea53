package simulated

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDeviceWriteResetDownload(t *testing.T) {
	dev, err := New(Settings{
		Parameters: map[string]float64{"BRD_BOOT_DELAY": 0, "GPS_TYPE": 1},
		Hidden:     map[string]float64{"GPS_AUTO_CONFIG": 1},
		Defaults:   map[string]float64{"GPS_TYPE": 1},
		FailWrites: []string{"LOG_BITMASK"},
	}, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, dev.IsConnected())

	ctx := context.Background()
	require.NoError(t, dev.SetParameter(ctx, "BRD_BOOT_DELAY", 3000))
	require.Error(t, dev.SetParameter(ctx, "LOG_BITMASK", 1))
	require.Equal(t, 2, dev.Writes())
	require.Equal(t, 3000.0, dev.CachedParameters()["BRD_BOOT_DELAY"])

	require.NoError(t, dev.SetParameter(ctx, "GPS_AUTO_CONFIG", 0))
	_, visible := dev.CachedParameters()["GPS_AUTO_CONFIG"]
	require.False(t, visible)

	var ticks []int
	require.NoError(t, dev.ResetAndReconnect(ctx, func(current, total int) {
		ticks = append(ticks, current)
		require.Equal(t, 3, total)
	}, 3))
	require.Equal(t, []int{1, 2, 3}, ticks)
	require.Equal(t, 1, dev.Resets())
	require.Empty(t, dev.CachedParameters())

	values, defaults, err := dev.DownloadParameters(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, values["GPS_AUTO_CONFIG"])
	require.Equal(t, 3000.0, values["BRD_BOOT_DELAY"])
	require.Equal(t, map[string]float64{"GPS_TYPE": 1}, defaults)
	require.Equal(t, values, dev.CachedParameters())
}

func TestDeviceDisconnectedAndFailingReset(t *testing.T) {
	dev, err := New(Settings{Disconnected: true}, zerolog.Nop())
	require.NoError(t, err)
	require.False(t, dev.IsConnected())
	require.Nil(t, dev.CachedParameters())
	require.ErrorIs(t, dev.SetParameter(context.Background(), "A", 1), ErrNotConnected)

	dev, err = New(Settings{FailReset: true}, zerolog.Nop())
	require.NoError(t, err)
	require.Error(t, dev.ResetAndReconnect(context.Background(), nil, 1))
	require.Zero(t, dev.Resets())
}

func TestDeviceResetHonoursContext(t *testing.T) {
	dev, err := New(Settings{SecondsPerSettle: 1 << 40}, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, dev.ResetAndReconnect(ctx, nil, 5), context.Canceled)
}

func TestLoadSettingsSeedsFromParamsFile(t *testing.T) {
	dir := t.TempDir()
	paramsFile := filepath.Join(dir, "fc.param")
	require.NoError(t, os.WriteFile(paramsFile, []byte("GPS_TYPE,2\nBRD_BOOT_DELAY,500\n"), 0o644))
	settingsFile := filepath.Join(dir, "device.yaml")
	require.NoError(t, os.WriteFile(settingsFile, []byte("params_file: "+paramsFile+"\nparameters:\n  GPS_TYPE: 5\n"), 0o644))

	settings, err := LoadSettings(settingsFile)
	require.NoError(t, err)
	dev, err := New(settings, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"GPS_TYPE": 5, "BRD_BOOT_DELAY": 500}, dev.CachedParameters())
}
