// Package indicator drives the rover's LED channels: one per detectable
// color plus a status channel reflecting the system phase. Blinking runs on
// per-channel workers so callers never block on a blink cycle.
package indicator

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"codeberg.org/wrenware/roverd/internal/errors"
	"codeberg.org/wrenware/roverd/internal/logger"
)

// Channel names. Brown has no LED of its own and maps onto blue.
const (
	ChannelRed    = "red"
	ChannelGreen  = "green"
	ChannelBlue   = "blue"
	ChannelStatus = "status"
)

// System phases shown on the status channel.
type Phase string

const (
	PhaseReady     Phase = "ready"
	PhaseScanning  Phase = "scanning"
	PhaseDetecting Phase = "detecting"
	PhaseError     Phase = "error"
)

const (
	scanningBlink   = time.Second
	detectingBlink  = 200 * time.Millisecond
	errorBlink      = 100 * time.Millisecond
	errorDuration   = 3 * time.Second
	lowConfidence   = 300 * time.Millisecond
	defaultHighConf = 50.0
)

// Pin is the writable subset of a GPIO line the controller needs.
type Pin interface {
	Out(l gpio.Level) error
}

type blinkTask struct {
	stop chan struct{}
	done chan struct{}
}

// Controller multiplexes LED channels over GPIO pins. All methods are safe
// for concurrent use.
type Controller struct {
	mu             sync.Mutex
	pins           map[string]Pin
	states         map[string]bool
	blinks         map[string]*blinkTask
	highConfidence float64
	shutdown       bool

	// last applied detection display, so steady streams of identical
	// classifications do not re-arm the blink worker every frame.
	lastChannel string
	lastSteady  bool
	lastApplied bool
}

type Config struct {
	// HighConfidence is the percentage above which a detection holds its
	// channel steady instead of blinking.
	HighConfidence float64
}

// New builds a controller over the given channel pins. Missing channels are
// allowed; operations on them fail with a coded error.
func New(pins map[string]Pin, cfg Config) *Controller {
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = defaultHighConf
	}

	c := &Controller{
		pins:           make(map[string]Pin, len(pins)),
		states:         make(map[string]bool, len(pins)),
		blinks:         make(map[string]*blinkTask),
		highConfidence: cfg.HighConfidence,
	}
	for name, pin := range pins {
		c.pins[name] = pin
		c.states[name] = false
	}

	return c
}

// Set drives a channel steady on or off, cancelling any blink on it.
func (c *Controller) Set(channel string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setLocked(channel, on)
}

func (c *Controller) setLocked(channel string, on bool) error {
	errFactory := errors.New()

	pin, ok := c.pins[channel]
	if !ok {
		return errFactory.WithData(errors.ErrUnknownChannel, channel)
	}

	c.cancelBlinkLocked(channel)

	if err := pin.Out(gpio.Level(on)); err != nil {
		return errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	c.states[channel] = on

	return nil
}

// Toggle flips a channel's steady state. A blinking channel lands on the
// opposite of its last committed state.
func (c *Controller) Toggle(channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setLocked(channel, !c.states[channel])
}

// Blink starts a blink worker on the channel, replacing any previous blink.
// A zero duration blinks until superseded; otherwise the worker turns the
// channel off when duration expires.
func (c *Controller) Blink(channel string, interval, duration time.Duration) error {
	errFactory := errors.New()

	if interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidArgument, interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pin, ok := c.pins[channel]
	if !ok {
		return errFactory.WithData(errors.ErrUnknownChannel, channel)
	}
	if c.shutdown {
		return errFactory.WithMessage(errors.ErrShutdownFailed, "controller is shut down")
	}

	c.cancelBlinkLocked(channel)

	t := &blinkTask{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.blinks[channel] = t
	go c.runBlink(channel, pin, t, interval, duration)

	return nil
}

// cancelBlinkLocked signals the channel's worker to stop without waiting
// for it. The worker checks task identity before touching shared state, so
// a superseded worker can never clobber its replacement.
func (c *Controller) cancelBlinkLocked(channel string) {
	if t, ok := c.blinks[channel]; ok {
		close(t.stop)
		delete(c.blinks, channel)
	}
}

func (c *Controller) runBlink(channel string, pin Pin, t *blinkTask, interval, duration time.Duration) {
	defer close(t.done)

	var expire <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		expire = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	on := true
	for {
		if !c.commitBlink(channel, pin, t, on) {
			return
		}
		on = !on

		select {
		case <-t.stop:
			return
		case <-expire:
			c.finishBlink(channel, pin, t)
			return
		case <-ticker.C:
		}
	}
}

// commitBlink writes one blink edge if the task still owns its channel.
func (c *Controller) commitBlink(channel string, pin Pin, t *blinkTask, on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.blinks[channel] != t {
		return false
	}

	if err := pin.Out(gpio.Level(on)); err != nil {
		logger.Warn().Err(err).Str("channel", channel).Msg("blink write failed")
	}
	c.states[channel] = on

	return true
}

// finishBlink parks the channel off when a bounded blink runs its course.
func (c *Controller) finishBlink(channel string, pin Pin, t *blinkTask) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.blinks[channel] != t {
		return
	}
	delete(c.blinks, channel)

	if err := pin.Out(gpio.Low); err != nil {
		logger.Warn().Err(err).Str("channel", channel).Msg("blink off failed")
	}
	c.states[channel] = false
}

// HandleDetection reflects a classification on the color channels. Exactly
// one color channel is active after a positive detection; an empty color
// clears them all. High confidence holds the channel steady, low confidence
// blinks it fast.
func (c *Controller) HandleDetection(color string, confidence float64) error {
	channel := color
	if color == "brown" {
		channel = ChannelBlue
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	errFactory := errors.New()
	if color != "" {
		if _, ok := c.pins[channel]; !ok {
			return errFactory.WithData(errors.ErrUnknownChannel, channel)
		}
	}

	if c.shutdown {
		return errFactory.WithMessage(errors.ErrShutdownFailed, "controller is shut down")
	}

	steady := confidence > c.highConfidence
	if c.lastApplied && channel == c.lastChannel && (color == "" || steady == c.lastSteady) &&
		c.displayIntactLocked(channel, steady) {
		return nil
	}
	c.lastChannel = channel
	c.lastSteady = steady
	c.lastApplied = true

	for _, name := range []string{ChannelRed, ChannelGreen, ChannelBlue} {
		if name == channel {
			continue
		}
		if _, ok := c.pins[name]; ok {
			if err := c.setLocked(name, false); err != nil {
				return err
			}
		}
	}

	if color == "" {
		return nil
	}

	if steady {
		return c.setLocked(channel, true)
	}

	return c.blinkLocked(channel, lowConfidence, 0)
}

// displayIntactLocked checks that the color channels still show the last
// applied detection: the active channel steady on or blinking as recorded,
// every other channel dark. Manual Set/Toggle/Blink calls perturb that
// state, so the next classification reasserts it instead of latching out.
// An empty channel means all color channels must be dark.
func (c *Controller) displayIntactLocked(channel string, steady bool) bool {
	for _, name := range []string{ChannelRed, ChannelGreen, ChannelBlue} {
		_, blinking := c.blinks[name]
		if name != channel {
			if c.states[name] || blinking {
				return false
			}
			continue
		}
		if steady && (!c.states[name] || blinking) {
			return false
		}
		if !steady && !blinking {
			return false
		}
	}

	return true
}

func (c *Controller) blinkLocked(channel string, interval, duration time.Duration) error {
	c.mu.Unlock()
	defer c.mu.Lock()

	return c.Blink(channel, interval, duration)
}

// SetSystemStatus drives the status channel for the phase: ready holds it
// on, scanning blinks slow, detecting blinks fast, error blinks urgently
// for a bounded window then parks off.
func (c *Controller) SetSystemStatus(phase Phase) error {
	switch phase {
	case PhaseReady:
		return c.Set(ChannelStatus, true)
	case PhaseScanning:
		return c.Blink(ChannelStatus, scanningBlink, 0)
	case PhaseDetecting:
		return c.Blink(ChannelStatus, detectingBlink, 0)
	case PhaseError:
		return c.Blink(ChannelStatus, errorBlink, errorDuration)
	default:
		return c.Set(ChannelStatus, false)
	}
}

// TestAll walks every channel on then off, holding each for the given
// period. Used at startup to prove the wiring.
func (c *Controller) TestAll(hold time.Duration) error {
	c.mu.Lock()
	channels := make([]string, 0, len(c.pins))
	for name := range c.pins {
		channels = append(channels, name)
	}
	c.mu.Unlock()

	for _, name := range channels {
		if err := c.Set(name, true); err != nil {
			return err
		}
		time.Sleep(hold)
		if err := c.Set(name, false); err != nil {
			return err
		}
	}

	return nil
}

// ChannelState reports one channel. On is the last committed pin level,
// which alternates while Blinking.
type ChannelState struct {
	On       bool `json:"on"`
	Blinking bool `json:"blinking"`
}

// Status returns the state of every channel.
func (c *Controller) Status() map[string]ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]ChannelState, len(c.states))
	for name, on := range c.states {
		_, blinking := c.blinks[name]
		out[name] = ChannelState{On: on, Blinking: blinking}
	}

	return out
}

// Shutdown cancels all blinks and parks every channel off. Safe to call
// more than once.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return
	}
	c.shutdown = true
	c.lastApplied = false

	for name := range c.blinks {
		c.cancelBlinkLocked(name)
	}
	for name, pin := range c.pins {
		if err := pin.Out(gpio.Low); err != nil {
			logger.Warn().Err(err).Str("channel", name).Msg("failed to park channel")
		}
		c.states[name] = false
	}
}
