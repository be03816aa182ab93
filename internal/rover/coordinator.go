// Package rover ties ranging, vision, indication and the event log
// together. The coordinator owns the polling loops and serves consistent
// snapshots of the rover's perception state.
package rover

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"codeberg.org/wrenware/roverd/internal/errors"
	"codeberg.org/wrenware/roverd/internal/eventlog"
	"codeberg.org/wrenware/roverd/internal/indicator"
	"codeberg.org/wrenware/roverd/internal/logger"
	"codeberg.org/wrenware/roverd/internal/vision"
)

const (
	defaultSensorInterval = time.Second
	defaultStopTimeout    = 5 * time.Second

	celebrationBlink    = 100 * time.Millisecond
	celebrationDuration = 2 * time.Second

	jpegQuality = 85
)

// RangeSensor is the distance-measuring subset the coordinator needs.
// Measure reports false when no plausible echo came back.
type RangeSensor interface {
	Measure() (int, bool)
	Close()
}

// FrameSource is the vision subset the coordinator needs.
type FrameSource interface {
	Run(ctx context.Context)
	OnResult(fn func(vision.Detection))
	LatestFrame() (image.Image, bool)
	Close()
}

// MiningStatus is the verdict of one mining decision.
type MiningStatus string

const (
	MiningNoTarget MiningStatus = "no_target"
	MiningTooFar   MiningStatus = "too_far"
	MiningSuccess  MiningStatus = "success"
)

// Outcome is the full result of a mining decision, echoing the perception
// snapshot it was decided from.
type Outcome struct {
	Status     MiningStatus `json:"status"`
	Successful bool         `json:"successful"`
	Distance   *int         `json:"distance,omitempty"`
	Color      string       `json:"color,omitempty"`
	Material   string       `json:"material,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
}

// Status is a point-in-time view of the rover's perception state.
type Status struct {
	Distance          *int             `json:"distance,omitempty"`
	ObjectWithinRange bool             `json:"object_within_range"`
	Detection         vision.Detection `json:"detection"`
	Phase             indicator.Phase  `json:"phase"`
}

type Config struct {
	// MaxRange is the actionable distance in centimeters; targets at or
	// under it are minable.
	MaxRange int
	// SensorInterval is the range-sweep period.
	SensorInterval time.Duration
	// StopTimeout bounds how long Stop waits for the loops to drain.
	StopTimeout time.Duration
}

// snapshot is the shared perception state. It is replaced whole under the
// write lock so readers never observe a half-updated pairing of distance
// and detection.
type snapshot struct {
	distance    int
	hasDistance bool
	detection   vision.Detection
}

// Coordinator runs the sensor and vision loops and arbitrates everything
// that needs a consistent view of both.
type Coordinator struct {
	cfg    Config
	sensor RangeSensor
	source FrameSource
	leds   *indicator.Controller
	events *eventlog.Log

	mu    sync.RWMutex
	snap  snapshot
	phase indicator.Phase
	// lastLogged mirrors the detection state most recently journaled, so
	// steady frames do not flood the log.
	lastLogged vision.Detection

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	stopOnce sync.Once
}

// New builds a coordinator. Sensor and source may be nil when the hardware
// is absent; the corresponding loop simply does not run.
func New(cfg Config, sensor RangeSensor, source FrameSource, leds *indicator.Controller, events *eventlog.Log) (*Coordinator, error) {
	errFactory := errors.New()

	if leds == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "indicator controller is required")
	}
	if events == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "event log is required")
	}
	if cfg.MaxRange <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, cfg.MaxRange)
	}
	if cfg.SensorInterval <= 0 {
		cfg.SensorInterval = defaultSensorInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	return &Coordinator{
		cfg:    cfg,
		sensor: sensor,
		source: source,
		leds:   leds,
		events: events,
		phase:  indicator.PhaseReady,
	}, nil
}

// Start launches the polling loops. Calling Start twice is an error.
func (c *Coordinator) Start(ctx context.Context) error {
	errFactory := errors.New()

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errFactory.WithMessage(errors.ErrInternal, "coordinator already started")
	}
	if c.stopped {
		c.mu.Unlock()
		return errFactory.WithMessage(errors.ErrInternal, "coordinator already stopped")
	}
	c.started = true
	// cancel is published before the lock is released so a concurrent
	// Stop always observes it.
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.appendEvent(eventlog.NewSystemEntry("ok", "startup", "perception loops starting"))
	if err := c.leds.SetSystemStatus(indicator.PhaseReady); err != nil {
		logger.Warn().Err(err).Msg("failed to set ready status")
	}

	if c.sensor != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.sensorLoop(ctx)
		}()
	}

	if c.source != nil {
		c.source.OnResult(c.handleResult)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.source.Run(ctx)
		}()
	}

	return nil
}

// sensorLoop sweeps the range sensor on a fixed cadence. Every sweep is
// journaled, echo or not, so the sensor log doubles as a liveness trace.
func (c *Coordinator) sensorLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SensorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		distance, ok := c.sensor.Measure()

		c.mu.Lock()
		snap := c.snap
		snap.distance = distance
		snap.hasDistance = ok
		c.snap = snap
		c.mu.Unlock()

		within := ok && distance <= c.cfg.MaxRange
		var dptr *int
		if ok {
			d := distance
			dptr = &d
		}
		c.appendEvent(eventlog.NewSensorEntry(dptr, within))

		c.updatePhase()
	}
}

// handleResult ingests every classification result, positive or not, so a
// lost target clears the stale detection instead of lingering.
func (c *Coordinator) handleResult(d vision.Detection) {
	c.mu.Lock()
	snap := c.snap
	snap.detection = d
	c.snap = snap
	changed := d.Detected != c.lastLogged.Detected || d.Color != c.lastLogged.Color
	if changed {
		c.lastLogged = d
	}
	c.mu.Unlock()

	if changed {
		c.appendEvent(eventlog.NewDetectionEntry(d.Detected, d.Color, d.Material, d.Confidence))
	}

	color := d.Color
	if !d.Detected {
		color = ""
	}
	if err := c.leds.HandleDetection(color, d.Confidence); err != nil {
		logger.Warn().Err(err).Str("color", color).Msg("failed to update color channels")
	}

	c.updatePhase()
}

// updatePhase derives the status phase from the current snapshot and drives
// the status channel only on transitions, so blink workers are not re-armed
// every frame.
func (c *Coordinator) updatePhase() {
	c.mu.Lock()
	want := indicator.PhaseReady
	switch {
	case c.snap.detection.Detected:
		want = indicator.PhaseDetecting
	case c.snap.hasDistance && c.snap.distance <= c.cfg.MaxRange:
		want = indicator.PhaseScanning
	}
	changed := want != c.phase
	if changed {
		c.phase = want
	}
	c.mu.Unlock()

	if !changed {
		return
	}

	if err := c.leds.SetSystemStatus(want); err != nil {
		logger.Warn().Err(err).Str("phase", string(want)).Msg("failed to set status phase")
	}
}

// Status returns the current perception snapshot.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		ObjectWithinRange: c.snap.hasDistance && c.snap.distance <= c.cfg.MaxRange,
		Detection:         c.snap.detection,
		Phase:             c.phase,
	}
	if c.snap.hasDistance {
		d := c.snap.distance
		st.Distance = &d
	}

	return st
}

// Detection returns the current classification result.
func (c *Coordinator) Detection() vision.Detection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snap.detection
}

// DecideMining arbitrates one mining attempt from a single consistent
// snapshot: no detection means no target, a detection without a plausible
// in-range distance is too far, otherwise the attempt succeeds. Every
// attempt is journaled.
func (c *Coordinator) DecideMining() Outcome {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	out := Outcome{
		Color:      snap.detection.Color,
		Material:   snap.detection.Material,
		Confidence: snap.detection.Confidence,
	}
	if snap.hasDistance {
		d := snap.distance
		out.Distance = &d
	}

	switch {
	case !snap.detection.Detected:
		out.Status = MiningNoTarget
	case !snap.hasDistance || snap.distance > c.cfg.MaxRange:
		out.Status = MiningTooFar
	default:
		out.Status = MiningSuccess
		out.Successful = true
	}

	entryStatus := "mining_failed"
	if out.Successful {
		entryStatus = "mining_success"
	}
	c.appendEvent(eventlog.NewMiningEntry(entryStatus, out.Successful, out.Distance, out.Color, out.Material, out.Confidence))

	if out.Successful {
		if err := c.leds.Blink(indicator.ChannelStatus, celebrationBlink, celebrationDuration); err != nil {
			logger.Warn().Err(err).Msg("celebration blink failed")
		}
		logger.Info().
			Str("material", out.Material).
			Int("distance", snap.distance).
			Msg("mining target acquired")
	}

	return out
}

// ControlIndicator performs a manual LED action and journals it. Interval
// is only meaningful for blink; duration zero blinks until superseded.
func (c *Coordinator) ControlIndicator(channel, action string, interval, duration time.Duration) error {
	var err error
	switch action {
	case "on":
		err = c.leds.Set(channel, true)
	case "off":
		err = c.leds.Set(channel, false)
	case "toggle":
		err = c.leds.Toggle(channel)
	case "blink":
		err = c.leds.Blink(channel, interval, duration)
	default:
		return errors.New().WithData(errors.ErrUnknownAction, action)
	}
	if err != nil {
		return err
	}

	c.appendEvent(eventlog.NewLEDEntry(channel, action, interval, duration))

	return nil
}

// Logs returns up to limit journal entries of the given kind in
// chronological order.
func (c *Coordinator) Logs(kind eventlog.Kind, limit int) ([]eventlog.Entry, error) {
	return c.events.Query(kind, limit)
}

// RecentLogs returns the journal entries from the past window.
func (c *Coordinator) RecentLogs(window time.Duration) ([]eventlog.Entry, error) {
	return c.events.Recent(window)
}

// Snapshot encodes the latest camera frame as JPEG.
func (c *Coordinator) Snapshot() ([]byte, error) {
	errFactory := errors.New()

	if c.source == nil {
		return nil, errFactory.WithMessage(errors.ErrDeviceUnavailable, "no imaging source")
	}

	frame, ok := c.source.LatestFrame()
	if !ok {
		return nil, errFactory.WithMessage(errors.ErrNoFrame, "no frame captured yet")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
	}

	return buf.Bytes(), nil
}

// Stop cancels the loops, waits for them to drain up to the configured
// timeout, and parks the indicators. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(c.cfg.StopTimeout):
			logger.Warn().Msg("perception loops did not drain before timeout")
		}

		if c.source != nil {
			c.source.Close()
		}
		if c.sensor != nil {
			c.sensor.Close()
		}
		c.leds.Shutdown()

		c.appendEvent(eventlog.NewSystemEntry("ok", "shutdown", "perception loops stopped"))
	})
}

func (c *Coordinator) appendEvent(e eventlog.Entry) {
	err := c.events.Append(e)
	if err == nil {
		return
	}

	var coded errors.Error
	if errors.As(err, &coded) {
		logger.ErrorWithCode(coded).Str("kind", string(e.Kind)).Msg("failed to journal event")
		return
	}
	logger.Warn().Err(err).Str("kind", string(e.Kind)).Msg("failed to journal event")
}
