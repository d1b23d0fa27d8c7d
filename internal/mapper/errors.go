package mapper

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedTriggerEvent  = errors.New("unsupported trigger event")
	ErrMissingPatientIdentifier = errors.New("missing patient identifier")
	ErrMissingMergeIdentifier   = errors.New("missing merge identifier")

	ErrMissingURI   = errors.New("missing URI")
	ErrMalformedURI = errors.New("malformed URI")
	ErrInvalidValue = errors.New("invalid value")
)

// MappingError is returned by Map for messages that cannot be converted.
// Retrying the same message yields the same error.
type MappingError struct {
	Err    error
	Detail string
}

func (e *MappingError) Error() string {
	if e.Detail == "" {
		return "mapping: " + e.Err.Error()
	}
	return fmt.Sprintf("mapping: %s: %s", e.Err, e.Detail)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

func mappingErr(err error, format string, args ...any) *MappingError {
	return &MappingError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// ConfigError reports an unusable configuration value.
type ConfigError struct {
	Key    string
	Value  string
	Reason error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Key, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Reason
}
