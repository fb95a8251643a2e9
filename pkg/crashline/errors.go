// errors.go defines the error classes used on the reporting path and the
// reasons an event can be dropped before delivery.

package crashline

import (
	"fmt"

	"github.com/zeebo/errs"
)

var (
	// Error is the general error class for crashline.
	Error = errs.Class("crashline")

	// ConfigError is returned when a configuration value is rejected.
	ConfigError = errs.Class("crashline config")

	// DeliveryError wraps transport failures. These are logged, never returned
	// to the instrumented application.
	DeliveryError = errs.Class("crashline delivery")

	// PayloadError wraps failures to encode an event or session payload.
	PayloadError = errs.Class("crashline payload")
)

// DropReason explains why an event was not handed to the Delivery.
type DropReason string

const (
	// DropReleaseStage indicates the release stage is not in notify_release_stages.
	DropReleaseStage DropReason = "release_stage"

	// DropIgnoredClass indicates the error class is listed in ignore_classes.
	DropIgnoredClass DropReason = "ignored_class"

	// DropMiddlewareCancelled indicates a before-notify callback cancelled the event.
	DropMiddlewareCancelled DropReason = "middleware_cancelled"

	// DropMissingAPIKey indicates no API key was configured.
	DropMissingAPIKey DropReason = "missing_api_key"

	// DropEncodingError indicates the payload could not be encoded.
	DropEncodingError DropReason = "encoding_error"
)

// PanicError wraps a recovered panic value that was not itself an error.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return formatRecovered(e.Value)
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return safeSprint(recovered)
}

// safeSprint stringifies v, returning the bad-encoding marker if a String or
// Error method panics.
func safeSprint(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = badEncoding
		}
	}()
	return fmt.Sprint(v)
}

// coerceError turns an arbitrary recovered or supplied value into an error.
// The second return value reports whether coercion was necessary.
func coerceError(v any) (error, bool) {
	switch val := v.(type) {
	case nil:
		return &PanicError{Value: nil}, true
	case error:
		return val, false
	default:
		return &PanicError{Value: val}, true
	}
}
