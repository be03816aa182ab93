package rover

import (
	"context"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"codeberg.org/wrenware/roverd/internal/errors"
	"codeberg.org/wrenware/roverd/internal/eventlog"
	"codeberg.org/wrenware/roverd/internal/indicator"
	"codeberg.org/wrenware/roverd/internal/vision"
)

type fakeSensor struct {
	mu       sync.Mutex
	distance int
	present  bool
	closed   bool
}

func (s *fakeSensor) Measure() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distance, s.present
}

func (s *fakeSensor) set(distance int, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distance = distance
	s.present = present
}

func (s *fakeSensor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type fakeSource struct {
	mu       sync.Mutex
	onResult func(vision.Detection)
	frame    image.Image
	closed   bool
}

func (s *fakeSource) Run(ctx context.Context) {
	<-ctx.Done()
}

func (s *fakeSource) OnResult(fn func(vision.Detection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

func (s *fakeSource) emit(d vision.Detection) {
	s.mu.Lock()
	fn := s.onResult
	s.mu.Unlock()
	if fn != nil {
		fn(d)
	}
}

func (s *fakeSource) LatestFrame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, false
	}
	return s.frame, true
}

func (s *fakeSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type nullPin struct{}

func (nullPin) Out(gpio.Level) error { return nil }

func testController() *indicator.Controller {
	return indicator.New(map[string]indicator.Pin{
		indicator.ChannelRed:    nullPin{},
		indicator.ChannelGreen:  nullPin{},
		indicator.ChannelBlue:   nullPin{},
		indicator.ChannelStatus: nullPin{},
	}, indicator.Config{HighConfidence: 50})
}

func testLog(t *testing.T) *eventlog.Log {
	t.Helper()
	l := eventlog.New(eventlog.Config{
		Path:       filepath.Join(t.TempDir(), "events.db"),
		MaxEntries: 500,
	})
	t.Cleanup(func() { l.Close() })
	return l
}

type fixture struct {
	coord  *Coordinator
	sensor *fakeSensor
	source *fakeSource
	events *eventlog.Log
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	sensor := &fakeSensor{}
	source := &fakeSource{}
	events := testLog(t)

	if cfg.MaxRange == 0 {
		cfg.MaxRange = 50
	}
	if cfg.SensorInterval == 0 {
		cfg.SensorInterval = 5 * time.Millisecond
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = time.Second
	}

	coord, err := New(cfg, sensor, source, testController(), events)
	require.NoError(t, err)

	return &fixture{coord: coord, sensor: sensor, source: source, events: events}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.coord.Start(context.Background()))
	t.Cleanup(f.coord.Stop)
}

func sensorCount(t *testing.T, events *eventlog.Log) int {
	t.Helper()
	entries, err := events.Query(eventlog.KindSensor, 0)
	require.NoError(t, err)
	return len(entries)
}

func TestNewValidation(t *testing.T) {
	events := testLog(t)

	_, err := New(Config{MaxRange: 50}, nil, nil, nil, events)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	_, err = New(Config{MaxRange: 0}, nil, nil, testController(), events)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	err := f.coord.Start(context.Background())
	assert.Error(t, err)
}

func TestStartAfterStopRefused(t *testing.T) {
	f := newFixture(t, Config{})

	f.coord.Stop()

	// A stopped coordinator must refuse to launch loops that nothing
	// would ever cancel.
	err := f.coord.Start(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrInternal))
}

func TestStopRacingStart(t *testing.T) {
	f := newFixture(t, Config{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = f.coord.Start(context.Background())
	}()
	go func() {
		defer wg.Done()
		f.coord.Stop()
	}()
	wg.Wait()

	// Whichever order won, a second Stop leaves everything released.
	f.coord.Stop()
}

func TestSensorSweepUpdatesStatus(t *testing.T) {
	f := newFixture(t, Config{MaxRange: 50})
	f.sensor.set(30, true)
	f.start(t)

	assert.Eventually(t, func() bool {
		st := f.coord.Status()
		return st.Distance != nil && *st.Distance == 30 && st.ObjectWithinRange
	}, 2*time.Second, 5*time.Millisecond)

	f.sensor.set(120, true)
	assert.Eventually(t, func() bool {
		st := f.coord.Status()
		return st.Distance != nil && *st.Distance == 120 && !st.ObjectWithinRange
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSensorFailuresKeepLoopAlive(t *testing.T) {
	f := newFixture(t, Config{})
	f.sensor.set(0, false)
	f.start(t)

	// Every sweep is journaled, echo or not, so a growing sensor count
	// proves the loop survives consecutive failed measurements.
	assert.Eventually(t, func() bool {
		return sensorCount(t, f.events) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	st := f.coord.Status()
	assert.Nil(t, st.Distance)
	assert.False(t, st.ObjectWithinRange)

	before := sensorCount(t, f.events)
	assert.Eventually(t, func() bool {
		return sensorCount(t, f.events) > before
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDetectionStateChangesJournaledOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	hit := vision.Detection{Detected: true, Color: "red", Material: "palladium", Confidence: 80}
	for i := 0; i < 4; i++ {
		f.source.emit(hit)
	}
	assert.Equal(t, hit, f.coord.Detection())
	f.source.emit(vision.Detection{})
	assert.False(t, f.coord.Detection().Detected)

	entries, err := f.events.Query(eventlog.KindDetection, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "red_detected", entries[0].Status)
	assert.Equal(t, "no_target", entries[1].Status)
}

func TestMiningNoTarget(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	out := f.coord.DecideMining()
	assert.Equal(t, MiningNoTarget, out.Status)
	assert.False(t, out.Successful)

	entries, err := f.events.Query(eventlog.KindMining, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mining_failed", entries[0].Status)
	require.NotNil(t, entries[0].ActionSuccessful)
	assert.False(t, *entries[0].ActionSuccessful)
}

func TestMiningDetectedButNoEcho(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	f.source.emit(vision.Detection{Detected: true, Color: "green", Material: "copper", Confidence: 60})

	out := f.coord.DecideMining()
	assert.Equal(t, MiningTooFar, out.Status)
	assert.False(t, out.Successful)
	assert.Nil(t, out.Distance)
}

func TestMiningTooFar(t *testing.T) {
	f := newFixture(t, Config{MaxRange: 50})
	f.sensor.set(80, true)
	f.start(t)

	assert.Eventually(t, func() bool {
		return f.coord.Status().Distance != nil
	}, 2*time.Second, 5*time.Millisecond)

	f.source.emit(vision.Detection{Detected: true, Color: "red", Material: "palladium", Confidence: 90})

	out := f.coord.DecideMining()
	assert.Equal(t, MiningTooFar, out.Status)
}

func TestMiningSuccess(t *testing.T) {
	f := newFixture(t, Config{MaxRange: 50})
	f.sensor.set(30, true)
	f.start(t)

	assert.Eventually(t, func() bool {
		return f.coord.Status().ObjectWithinRange
	}, 2*time.Second, 5*time.Millisecond)

	f.source.emit(vision.Detection{Detected: true, Color: "red", Material: "palladium", Confidence: 80})

	out := f.coord.DecideMining()
	assert.Equal(t, MiningSuccess, out.Status)
	assert.True(t, out.Successful)
	require.NotNil(t, out.Distance)
	assert.Equal(t, 30, *out.Distance)
	assert.Equal(t, "palladium", out.Material)

	entries, err := f.events.Query(eventlog.KindMining, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mining_success", entries[0].Status)
}

func TestMiningBoundaryDistance(t *testing.T) {
	f := newFixture(t, Config{MaxRange: 50})
	f.sensor.set(50, true)
	f.start(t)

	assert.Eventually(t, func() bool {
		return f.coord.Status().ObjectWithinRange
	}, 2*time.Second, 5*time.Millisecond)

	f.source.emit(vision.Detection{Detected: true, Color: "green", Material: "copper", Confidence: 70})

	out := f.coord.DecideMining()
	assert.Equal(t, MiningSuccess, out.Status)
}

func TestControlIndicator(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	require.NoError(t, f.coord.ControlIndicator(indicator.ChannelRed, "on", 0, 0))
	require.NoError(t, f.coord.ControlIndicator(indicator.ChannelRed, "blink", 10*time.Millisecond, 50*time.Millisecond))

	err := f.coord.ControlIndicator(indicator.ChannelRed, "shimmer", 0, 0)
	assert.True(t, errors.HasCode(err, errors.ErrUnknownAction))

	entries, qerr := f.events.Query(eventlog.KindLED, 0)
	require.NoError(t, qerr)
	require.Len(t, entries, 2)
	assert.Equal(t, "led_on", entries[0].Status)
	assert.Equal(t, "led_blink", entries[1].Status)
	assert.InDelta(t, 0.01, entries[1].Interval, 0.0001)
}

func TestJournalFailureAbsorbed(t *testing.T) {
	f := newFixture(t, Config{})

	// A rejected entry logs with its code and never reaches the store.
	f.coord.appendEvent(eventlog.Entry{Kind: eventlog.Kind("gossip"), Status: "x"})

	entries, err := f.events.Query("", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	_, err := f.coord.Snapshot()
	assert.True(t, errors.HasCode(err, errors.ErrNoFrame))

	f.source.mu.Lock()
	f.source.frame = image.NewRGBA(image.Rect(0, 0, 32, 32))
	f.source.mu.Unlock()

	data, err := f.coord.Snapshot()
	require.NoError(t, err)
	// JPEG SOI marker.
	require.GreaterOrEqual(t, len(data), 2)
	assert.Equal(t, byte(0xff), data[0])
	assert.Equal(t, byte(0xd8), data[1])
}

func TestStopIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	f.coord.Stop()
	f.coord.Stop()

	f.sensor.mu.Lock()
	assert.True(t, f.sensor.closed)
	f.sensor.mu.Unlock()

	f.source.mu.Lock()
	assert.True(t, f.source.closed)
	f.source.mu.Unlock()

	entries, err := f.events.Query(eventlog.KindSystem, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "shutdown", entries[len(entries)-1].Event)
}
