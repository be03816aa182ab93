// Package camera wraps a V4L2 camera behind the vision.Device contract.
// Frames are decoded to image.Image at the boundary so the rest of the
// pipeline stays free of OpenCV types.
package camera

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"codeberg.org/wrenware/roverd/internal/errors"
	"codeberg.org/wrenware/roverd/internal/logger"
)

type Config struct {
	// Index is the V4L2 device index, e.g. 0 for /dev/video0.
	Index int
	// Width and Height request a capture resolution; zero keeps the
	// device default.
	Width  int
	Height int
	// FPS requests a capture rate; zero keeps the device default.
	FPS int
}

// Camera owns a capture handle and a reusable frame buffer. ReadFrame and
// Close are safe for concurrent use.
type Camera struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

// Open acquires the capture device. Resolution and rate requests are best
// effort; drivers clamp to the nearest supported mode.
func Open(cfg Config) (*Camera, error) {
	errFactory := errors.New()

	cap, err := gocv.OpenVideoCapture(cfg.Index)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrDeviceUnavailable, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, errFactory.WithData(errors.ErrDeviceUnavailable, cfg.Index)
	}

	if cfg.Width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	logger.Debug().
		Int("index", cfg.Index).
		Float64("width", cap.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", cap.Get(gocv.VideoCaptureFrameHeight)).
		Msg("camera opened")

	return &Camera{cap: cap, mat: gocv.NewMat()}, nil
}

// ReadFrame grabs the next frame and decodes it. The returned image does
// not alias the internal buffer.
func (c *Camera) ReadFrame() (image.Image, error) {
	errFactory := errors.New()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errFactory.WithMessage(errors.ErrDeviceUnavailable, "camera is closed")
	}

	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, errFactory.WithMessage(errors.ErrCaptureFailed, "failed to grab frame")
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrCaptureFailed, err)
	}

	return img, nil
}

// Close releases the device and frame buffer. Safe to call more than once.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.mat.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to release frame buffer")
	}

	return c.cap.Close()
}
