package simulated

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/paramflow/runtime/device"
)

// ErrNotConnected is returned by operations on a disconnected device.
var ErrNotConnected = errors.New("simulated flight controller not connected")

// Device is an in-memory flight controller implementing device.Client.
type Device struct {
	mu sync.Mutex

	settings   Settings
	logger     zerolog.Logger
	connected  bool
	values     map[string]float64
	hidden     map[string]float64
	defaults   map[string]float64
	cache      map[string]float64
	failWrites map[string]struct{}

	resets int
	writes int
}

var _ device.Client = (*Device)(nil)

// New creates a simulated device.
func New(settings Settings, logger zerolog.Logger) (*Device, error) {
	values, err := settings.initialValues()
	if err != nil {
		return nil, err
	}
	d := &Device{
		settings:   settings,
		logger:     logger.With().Str("component", "simulated_device").Logger(),
		connected:  !settings.Disconnected,
		values:     values,
		hidden:     copyMap(settings.Hidden),
		defaults:   copyMap(settings.Defaults),
		cache:      copyMap(values),
		failWrites: make(map[string]struct{}, len(settings.FailWrites)),
	}
	for _, name := range settings.FailWrites {
		d.failWrites[name] = struct{}{}
	}
	return d, nil
}

// IsConnected reports whether the device is connected.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// CachedParameters returns a copy of the client-side cache.
func (d *Device) CachedParameters() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	return copyMap(d.cache)
}

// SetParameter writes a parameter.
func (d *Device) SetParameter(ctx context.Context, name string, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ErrNotConnected
	}
	d.writes++
	if _, fail := d.failWrites[name]; fail {
		return fmt.Errorf("parameter %s rejected by flight controller", name)
	}
	if _, known := d.values[name]; !known {
		if _, hidden := d.hidden[name]; hidden {
			d.hidden[name] = value
			d.logger.Debug().Str("parameter", name).Msg("write to parameter hidden until reset")
			return nil
		}
	}
	d.values[name] = value
	d.cache[name] = value
	return nil
}

// ResetAndReconnect reboots the simulated device. Hidden parameters become
// visible and the cache is cleared until the next download.
func (d *Device) ResetAndReconnect(ctx context.Context, progress device.ProgressFunc, settleSeconds int) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return ErrNotConnected
	}
	if d.settings.FailReset {
		d.mu.Unlock()
		return errors.New("flight controller did not come back after reset")
	}
	d.resets++
	for name, v := range d.hidden {
		d.values[name] = v
	}
	d.hidden = make(map[string]float64)
	d.cache = make(map[string]float64)
	wait := d.settings.SecondsPerSettle
	d.mu.Unlock()

	d.logger.Info().Int("settle_seconds", settleSeconds).Msg("flight controller reset")
	for i := 1; i <= settleSeconds; i++ {
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if progress != nil {
			progress(i, settleSeconds)
		}
	}
	return ctx.Err()
}

// DownloadParameters refreshes the cache from the device.
func (d *Device) DownloadParameters(ctx context.Context, progress device.ProgressFunc) (map[string]float64, map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil, nil, ErrNotConnected
	}
	d.cache = copyMap(d.values)
	values := copyMap(d.values)
	defaults := copyMap(d.defaults)
	d.mu.Unlock()

	if progress != nil {
		progress(len(values), len(values))
	}
	return values, defaults, nil
}

// Connect toggles the connection state.
func (d *Device) Connect(connected bool) {
	d.mu.Lock()
	d.connected = connected
	d.mu.Unlock()
}

// Resets returns the number of successful resets.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Writes returns the number of write attempts.
func (d *Device) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func copyMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
