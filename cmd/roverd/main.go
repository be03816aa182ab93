package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"codeberg.org/wrenware/roverd/internal/camera"
	"codeberg.org/wrenware/roverd/internal/config"
	"codeberg.org/wrenware/roverd/internal/eventlog"
	"codeberg.org/wrenware/roverd/internal/indicator"
	"codeberg.org/wrenware/roverd/internal/logger"
	"codeberg.org/wrenware/roverd/internal/ranging"
	"codeberg.org/wrenware/roverd/internal/rover"
	"codeberg.org/wrenware/roverd/internal/vision"
)

const startupTestHold = 200 * time.Millisecond

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	events := eventlog.New(eventlog.Config{
		Path:       cfg.Log.Path,
		MaxEntries: cfg.Log.MaxEntries,
	})
	defer events.Close()

	gpioReady := true
	if _, err := host.Init(); err != nil {
		logger.Warn().Err(err).Msg("GPIO host unavailable, indicators and ranging disabled")
		gpioReady = false
	}

	leds := indicator.New(resolvePins(gpioReady), indicator.Config{
		HighConfidence: cfg.Indicator.HighConfidence,
	})

	sensor := openSensor(gpioReady)
	source := openVision()

	coord, err := rover.New(rover.Config{
		MaxRange:       cfg.Sensor.DetectionDistance,
		SensorInterval: cfg.SensorInterval(),
	}, sensor, source, leds, events)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize coordinator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := leds.TestAll(startupTestHold); err != nil {
		logger.Warn().Err(err).Msg("indicator self-test failed")
	}

	if err := coord.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start perception loops")
	}
	logger.Info().Msg("roverd running")

	<-ctx.Done()
	coord.Stop()
	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// resolvePins maps configured channel names to GPIO lines. Channels whose
// pin cannot be resolved are left out; operations on them fail with a coded
// error instead of panicking.
func resolvePins(gpioReady bool) map[string]indicator.Pin {
	pins := make(map[string]indicator.Pin, len(cfg.Indicator.Pins))
	if !gpioReady {
		return pins
	}

	for channel, name := range cfg.Indicator.Pins {
		pin := gpioreg.ByName(name)
		if pin == nil {
			logger.Warn().Str("channel", channel).Str("pin", name).Msg("indicator pin not found")
			continue
		}
		pins[channel] = pin
	}

	return pins
}

// openSensor initializes the range sensor, returning nil when the hardware
// is absent so the rest of the daemon keeps running.
func openSensor(gpioReady bool) rover.RangeSensor {
	if !gpioReady {
		return nil
	}

	trig := gpioreg.ByName(cfg.Sensor.TrigPin)
	echo := gpioreg.ByName(cfg.Sensor.EchoPin)
	if trig == nil || echo == nil {
		logger.Warn().
			Str("trig", cfg.Sensor.TrigPin).
			Str("echo", cfg.Sensor.EchoPin).
			Msg("range sensor pins not found, ranging disabled")
		return nil
	}

	sensor, err := ranging.New(trig, echo, ranging.Config{
		EchoTimeout: cfg.Sensor.EchoTimeout(),
		MinDistance: cfg.Sensor.MinDistance,
		MaxDistance: cfg.Sensor.MaxDistance,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("range sensor unavailable, ranging disabled")
		return nil
	}

	return sensor
}

// openVision builds the camera-backed frame source, returning nil when the
// camera or profile is unavailable.
func openVision() rover.FrameSource {
	profile := vision.DefaultProfile()
	if cfg.Detection.ProfilePath != "" {
		loaded, err := vision.LoadProfile(cfg.Detection.ProfilePath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.Detection.ProfilePath).
				Msg("failed to load color profile, using built-in defaults")
		} else {
			profile = loaded
		}
	}

	classifier, err := vision.NewClassifier(profile, cfg.Detection.ConfidenceThreshold, cfg.Detection.SquareSize)
	if err != nil {
		logger.Warn().Err(err).Msg("classifier unavailable, vision disabled")
		return nil
	}

	cam, err := camera.Open(camera.Config{
		Index:  cfg.Camera.Index,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("camera unavailable, vision disabled")
		return nil
	}

	source, err := vision.NewSource(cam, classifier, vision.SourceConfig{
		Interval: cfg.Camera.Interval(),
		Backoff:  cfg.Camera.Backoff(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("frame source unavailable, vision disabled")
		cam.Close()
		return nil
	}

	return source
}
