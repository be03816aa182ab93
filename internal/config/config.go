package config

import (
	"os"
	"time"

	"codeberg.org/wrenware/roverd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultInterval       = 2 // seconds between distance polls
	defaultMaxEntries     = 1000
	defaultSquareSize     = 100
	defaultMinConfidence  = 5.0
	defaultHighConfidence = 50.0
)

// SensorConfig configures the ultrasonic range sensor.
type SensorConfig struct {
	TrigPin           string `mapstructure:"trig_pin"`
	EchoPin           string `mapstructure:"echo_pin"`
	DetectionDistance int    `mapstructure:"detection_distance"`
	EchoTimeoutMS     int    `mapstructure:"echo_timeout_ms"`
	MinDistance       int    `mapstructure:"min_distance"`
	MaxDistance       int    `mapstructure:"max_distance"`
}

// EchoTimeout returns the per-edge echo wait timeout.
func (c SensorConfig) EchoTimeout() time.Duration {
	return time.Duration(c.EchoTimeoutMS) * time.Millisecond
}

// CameraConfig configures frame acquisition.
type CameraConfig struct {
	Index      int `mapstructure:"index"`
	Width      int `mapstructure:"width"`
	Height     int `mapstructure:"height"`
	FPS        int `mapstructure:"fps"`
	IntervalMS int `mapstructure:"interval_ms"`
	BackoffMS  int `mapstructure:"backoff_ms"`
}

// Interval returns the steady-state delay between frame grabs.
func (c CameraConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Backoff returns the retry delay after a failed frame grab.
func (c CameraConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

// DetectionConfig configures color classification.
type DetectionConfig struct {
	SquareSize          int     `mapstructure:"square_size"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ProfilePath         string  `mapstructure:"profile_path"`
}

// IndicatorConfig configures the LED channels.
type IndicatorConfig struct {
	HighConfidence float64           `mapstructure:"high_confidence"`
	Pins           map[string]string `mapstructure:"pins"`
}

// LogConfig configures the persisted event log.
type LogConfig struct {
	Path       string `mapstructure:"path"`
	MaxEntries int    `mapstructure:"max_entries"`
}

type Config struct {
	Interval  int  `mapstructure:"interval"`
	Debug     bool `mapstructure:"debug"`
	Verbose   bool `mapstructure:"verbose"`
	Sensor    SensorConfig
	Camera    CameraConfig
	Detection DetectionConfig
	Indicator IndicatorConfig
	Log       LogConfig
}

// SensorInterval returns the delay between distance measurements.
func (c *Config) SensorInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Load reads configuration from flags, the ROVERD_CONFIG file (or the
// default search path) and built-in defaults, in that order of precedence.
func Load() (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("roverd", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Int("interval", defaultInterval, "Seconds between distance measurements")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	configFlag := fs.String("config", "", "Path to config file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	for _, name := range []string{"interval", "debug", "verbose"} {
		if err := v.BindPFlag(name, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	configFile := *configFlag
	if configFile == "" {
		configFile = os.Getenv("ROVERD_CONFIG")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName("roverd")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/roverd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", defaultInterval)

	v.SetDefault("sensor.trig_pin", "GPIO18")
	v.SetDefault("sensor.echo_pin", "GPIO24")
	v.SetDefault("sensor.detection_distance", 50)
	v.SetDefault("sensor.echo_timeout_ms", 1000)
	v.SetDefault("sensor.min_distance", 2)
	v.SetDefault("sensor.max_distance", 400)

	v.SetDefault("camera.index", 0)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.interval_ms", 33)
	v.SetDefault("camera.backoff_ms", 250)

	v.SetDefault("detection.square_size", defaultSquareSize)
	v.SetDefault("detection.confidence_threshold", defaultMinConfidence)
	v.SetDefault("detection.profile_path", "")

	v.SetDefault("indicator.high_confidence", defaultHighConfidence)
	v.SetDefault("indicator.pins", map[string]string{
		"red":    "GPIO12",
		"green":  "GPIO16",
		"blue":   "GPIO20",
		"status": "GPIO21",
	})

	v.SetDefault("log.path", "/var/lib/roverd/events.db")
	v.SetDefault("log.max_entries", defaultMaxEntries)
}

// Validate checks that the loaded configuration is usable.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.Sensor.DetectionDistance <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "sensor.detection_distance must be positive")
	}
	if c.Sensor.MinDistance < 0 || c.Sensor.MaxDistance <= c.Sensor.MinDistance {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "sensor plausible range is empty")
	}
	if c.Sensor.EchoTimeoutMS <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "sensor.echo_timeout_ms must be positive")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "camera resolution must be positive")
	}
	if c.Camera.IntervalMS <= 0 || c.Camera.BackoffMS <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "camera intervals must be positive")
	}
	if c.Detection.SquareSize <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "detection.square_size must be positive")
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 100 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "detection.confidence_threshold must be within [0,100]")
	}
	if c.Indicator.HighConfidence < 0 || c.Indicator.HighConfidence > 100 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "indicator.high_confidence must be within [0,100]")
	}
	if c.Log.MaxEntries <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "log.max_entries must be positive")
	}

	return nil
}
