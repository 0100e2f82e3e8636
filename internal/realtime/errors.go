package realtime

import "errors"

var (
	// ErrUnknownEventType indicates a publish request with a type this
	// service does not relay.
	ErrUnknownEventType = errors.New("unknown event type")
)
