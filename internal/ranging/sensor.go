// Package ranging measures distance with a trigger/echo ultrasonic sensor.
package ranging

import (
	"time"

	"codeberg.org/wrenware/roverd/internal/errors"
	"codeberg.org/wrenware/roverd/internal/logger"
	"periph.io/x/conn/v3/gpio"
)

const (
	// Speed of sound is ~34300 cm/s; the echo covers the distance twice.
	cmPerSecond = 17150

	triggerPulse = 10 * time.Microsecond
	settleDelay  = 100 * time.Millisecond

	defaultEchoTimeout = time.Second
	defaultMinDistance = 2
	defaultMaxDistance = 400
)

// TriggerPin is the output line that fires the ultrasonic burst.
// periph.io gpio.PinOut satisfies it.
type TriggerPin interface {
	Out(l gpio.Level) error
}

// EchoPin is the input line whose pulse width encodes the distance.
// periph.io gpio.PinIn satisfies it.
type EchoPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
}

type Config struct {
	// EchoTimeout bounds each edge wait so a stuck line cannot hang a poll.
	EchoTimeout time.Duration
	// MinDistance/MaxDistance delimit the plausible range in cm; readings
	// outside it are discarded as noise.
	MinDistance int
	MaxDistance int
}

func DefaultConfig() Config {
	return Config{
		EchoTimeout: defaultEchoTimeout,
		MinDistance: defaultMinDistance,
		MaxDistance: defaultMaxDistance,
	}
}

type Sensor struct {
	trig TriggerPin
	echo EchoPin
	cfg  Config
}

// New configures the sensor lines. A nil pin or a failed line setup is
// reported so the caller can run without ranging.
func New(trig TriggerPin, echo EchoPin, cfg Config) (*Sensor, error) {
	errFactory := errors.New()

	if trig == nil || echo == nil {
		return nil, errFactory.WithMessage(errors.ErrDeviceUnavailable, "ultrasonic sensor pins not available")
	}

	if cfg.EchoTimeout <= 0 {
		cfg.EchoTimeout = defaultEchoTimeout
	}
	if cfg.MaxDistance <= cfg.MinDistance {
		cfg.MinDistance = defaultMinDistance
		cfg.MaxDistance = defaultMaxDistance
	}

	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}
	if err := trig.Out(gpio.Low); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}
	time.Sleep(settleDelay)

	return &Sensor{trig: trig, echo: echo, cfg: cfg}, nil
}

// Measure fires a trigger pulse and times the echo. It returns the distance
// in whole centimeters, or false when the echo timed out, the line failed,
// or the reading fell outside the plausible range. Failures are absorbed:
// a bad measurement never propagates beyond a missing reading.
func (s *Sensor) Measure() (int, bool) {
	if err := s.trig.Out(gpio.High); err != nil {
		logger.Debug().Err(err).Msg("trigger raise failed")
		return 0, false
	}
	time.Sleep(triggerPulse)
	if err := s.trig.Out(gpio.Low); err != nil {
		logger.Debug().Err(err).Msg("trigger drop failed")
		return 0, false
	}

	// Rising edge marks the start of the echo pulse, falling edge the end.
	if !s.echo.WaitForEdge(s.cfg.EchoTimeout) {
		return 0, false
	}
	start := time.Now()
	if !s.echo.WaitForEdge(s.cfg.EchoTimeout) {
		return 0, false
	}

	distance := int(time.Since(start).Seconds() * cmPerSecond)
	if distance < s.cfg.MinDistance || distance > s.cfg.MaxDistance {
		return 0, false
	}

	return distance, true
}

// Detect reports whether an object sits within threshold cm. The third
// result is false when no valid measurement was obtained.
func (s *Sensor) Detect(threshold int) (bool, int, bool) {
	distance, ok := s.Measure()
	if !ok {
		return false, 0, false
	}

	return distance <= threshold, distance, true
}

// Close parks the trigger line. Safe to call more than once.
func (s *Sensor) Close() {
	if s == nil || s.trig == nil {
		return
	}
	if err := s.trig.Out(gpio.Low); err != nil {
		logger.Debug().Err(err).Msg("trigger park failed")
	}
}
