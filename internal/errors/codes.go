package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidProfile  ErrorCode = "invalid_color_profile"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Device errors
	ErrDeviceUnavailable ErrorCode = "device_unavailable"
	ErrCaptureFailed     ErrorCode = "capture_failed"
	ErrNoFrame           ErrorCode = "no_frame_available"

	// Indicator errors
	ErrUnknownChannel ErrorCode = "unknown_channel"
	ErrUnknownAction  ErrorCode = "unknown_action"

	// Event log errors
	ErrUnknownKind ErrorCode = "unknown_log_kind"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrUnavailable:       "Service unavailable",
	ErrInvalidConfig:     "Invalid configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read configuration",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidProfile:    "Invalid color profile",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrDeviceUnavailable: "Device unavailable",
	ErrCaptureFailed:     "Frame capture failed",
	ErrNoFrame:           "No frame available",
	ErrUnknownChannel:    "Unknown indicator channel",
	ErrUnknownAction:     "Unknown indicator action",
	ErrUnknownKind:       "Unknown log entry kind",
	ErrOperationFailed:   "Operation failed",
	ErrTimeout:           "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
