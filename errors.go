package actionscache

import (
	"errors"
	"fmt"
)

// ErrMalformedEntry is wrapped by a ProtocolError when the service reports a
// hit but the entry is missing its archive location.
var ErrMalformedEntry = errors.New("cache entry missing archiveLocation")

// ConfigurationError indicates that required configuration is missing or
// invalid. It is raised before any request is issued.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// ProtocolError indicates that the cache service answered with an unexpected
// status or a structurally invalid body.
type ProtocolError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: cache service responded with %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: cache service responded with %d", e.Op, e.StatusCode)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError indicates a network or stream failure while moving bytes.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
