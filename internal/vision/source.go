package vision

import (
	"context"
	"image"
	"image/draw"
	"sync"
	"time"

	"codeberg.org/wrenware/roverd/internal/errors"
	"codeberg.org/wrenware/roverd/internal/logger"
)

const (
	defaultFrameInterval = 33 * time.Millisecond // ~30 Hz
	defaultGrabBackoff   = 250 * time.Millisecond
)

// Device is an imaging device handle. ReadFrame blocks until a frame is
// available or the grab fails; Close releases the device and must be
// idempotent.
type Device interface {
	ReadFrame() (image.Image, error)
	Close() error
}

type SourceConfig struct {
	// Interval is the steady-state delay between grabs.
	Interval time.Duration
	// Backoff is the delay after a failed grab before retrying.
	Backoff time.Duration
}

// Source continuously acquires frames, classifies each one, and keeps the
// latest frame and detection available as copied snapshots. Grab failures
// are logged and retried; they never terminate the loop.
type Source struct {
	dev        Device
	classifier *Classifier
	cfg        SourceConfig

	mu        sync.RWMutex
	frame     *image.RGBA
	detection Detection

	onFrame     func(image.Image)
	onDetection func(Detection)
	onResult    func(Detection)

	closeOnce sync.Once
}

func NewSource(dev Device, classifier *Classifier, cfg SourceConfig) (*Source, error) {
	errFactory := errors.New()

	if dev == nil {
		return nil, errFactory.WithMessage(errors.ErrDeviceUnavailable, "imaging device not available")
	}
	if classifier == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "classifier is required")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = defaultFrameInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultGrabBackoff
	}

	return &Source{dev: dev, classifier: classifier, cfg: cfg}, nil
}

// OnFrame registers a fire-and-forget observer invoked with every captured
// frame. Register observers before Run.
func (s *Source) OnFrame(fn func(image.Image)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = fn
}

// OnDetection registers an observer invoked only for positive detections.
func (s *Source) OnDetection(fn func(Detection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDetection = fn
}

// OnResult registers an observer invoked with every classification result,
// positive or not. The coordinator uses it to clear stale detections.
func (s *Source) OnResult(fn func(Detection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

// Run captures frames until ctx is cancelled. Each iteration grabs one
// frame, classifies it, replaces the shared snapshot whole, and notifies
// observers. A failed grab logs, backs off, and retries.
func (s *Source) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := s.dev.ReadFrame()
		if err != nil {
			logger.Warn().Err(err).Msg("frame grab failed")
			if !sleepCtx(ctx, s.cfg.Backoff) {
				return
			}
			continue
		}

		snap := cloneRGBA(raw)
		detection := s.classifier.Classify(snap)

		s.mu.Lock()
		s.frame = snap
		s.detection = detection
		onFrame, onDetection, onResult := s.onFrame, s.onDetection, s.onResult
		s.mu.Unlock()

		if onFrame != nil {
			onFrame(snap)
		}
		if detection.Detected && onDetection != nil {
			onDetection(detection)
		}
		if onResult != nil {
			onResult(detection)
		}

		if !sleepCtx(ctx, s.cfg.Interval) {
			return
		}
	}
}

// LatestFrame returns a copy of the most recent frame, or false when no
// frame has been captured yet. Callers own the returned image.
func (s *Source) LatestFrame() (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.frame == nil {
		return nil, false
	}

	return cloneRGBA(s.frame), true
}

// LatestDetection returns the most recent classification result.
func (s *Source) LatestDetection() Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.detection
}

// Close releases the imaging device. Safe to call more than once.
func (s *Source) Close() {
	s.closeOnce.Do(func() {
		if err := s.dev.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to release imaging device")
		}
	})
}

func cloneRGBA(img image.Image) *image.RGBA {
	if src, ok := img.(*image.RGBA); ok {
		dst := &image.RGBA{
			Pix:    make([]uint8, len(src.Pix)),
			Stride: src.Stride,
			Rect:   src.Rect,
		}
		copy(dst.Pix, src.Pix)
		return dst
	}

	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Rect, img, img.Bounds().Min, draw.Src)
	return dst
}

// sleepCtx waits for d, returning false when ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
