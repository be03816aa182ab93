// Package eventlog records the rover's operational history: sensor sweeps,
// color detections, mining attempts, LED actions and system lifecycle
// events. Entries persist in SQLite with a bounded in-memory fallback when
// storage is unavailable.
package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// Kind partitions entries by subsystem.
type Kind string

const (
	KindSensor    Kind = "sensor"
	KindDetection Kind = "color_detection"
	KindMining    Kind = "mining"
	KindSystem    Kind = "system"
	KindLED       Kind = "led"
)

func (k Kind) valid() bool {
	switch k {
	case KindSensor, KindDetection, KindMining, KindSystem, KindLED:
		return true
	}
	return false
}

// Entry is one logged event. Fields beyond Kind and Status are populated
// per kind; pointers distinguish absent from zero.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Status    string    `json:"status"`

	// Sensor and mining fields. Distance is nil when no echo returned.
	Distance *int `json:"distance,omitempty"`

	// Detection fields.
	Detected   *bool   `json:"detected,omitempty"`
	Color      string  `json:"color,omitempty"`
	Material   string  `json:"material,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Mining fields.
	ActionSuccessful *bool `json:"action_successful,omitempty"`

	// System fields.
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`

	// LED fields.
	Channel  string  `json:"channel,omitempty"`
	Action   string  `json:"action,omitempty"`
	Interval float64 `json:"interval,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func newEntry(kind Kind, status string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Status:    status,
	}
}

// NewSensorEntry records one range sweep. A nil distance means the sweep
// produced no plausible echo.
func NewSensorEntry(distance *int, withinRange bool) Entry {
	status := "clear_path"
	if withinRange {
		status = "object_detected"
	}

	e := newEntry(KindSensor, status)
	e.Distance = distance
	return e
}

// NewDetectionEntry records a classification result. Negative results carry
// status no_target.
func NewDetectionEntry(detected bool, color, material string, confidence float64) Entry {
	status := "no_target"
	if detected {
		status = color + "_detected"
	}

	e := newEntry(KindDetection, status)
	e.Detected = &detected
	e.Color = color
	e.Material = material
	e.Confidence = confidence
	return e
}

// NewMiningEntry records a mining attempt, successful or not.
func NewMiningEntry(status string, successful bool, distance *int, color, material string, confidence float64) Entry {
	e := newEntry(KindMining, status)
	e.ActionSuccessful = &successful
	e.Distance = distance
	e.Color = color
	e.Material = material
	e.Confidence = confidence
	return e
}

// NewSystemEntry records a lifecycle or fault event.
func NewSystemEntry(status, event, message string) Entry {
	e := newEntry(KindSystem, status)
	e.Event = event
	e.Message = message
	return e
}

// NewLEDEntry records a manual indicator action. Interval and duration are
// in seconds; zero means not applicable.
func NewLEDEntry(channel, action string, interval, duration time.Duration) Entry {
	e := newEntry(KindLED, "led_"+action)
	e.Channel = channel
	e.Action = action
	e.Interval = interval.Seconds()
	e.Duration = duration.Seconds()
	return e
}
