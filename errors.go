package statesync

import "errors"

// Sentinel errors for state and event operations.
//
// Errors returned by this package wrap one of these, so callers can branch
// with errors.Is (or the Is* helpers below) regardless of the detail text.
var (
	// ErrSerialization reports a value the serialiser has no rule for.
	ErrSerialization = errors.New("statesync: value cannot be serialised")

	// ErrValidation reports a malformed event payload, an option outside
	// the allowed set, or an expression that does not target a container.
	ErrValidation = errors.New("statesync: validation failed")

	// ErrConfiguration reports a setup mistake: reserved field names,
	// invalid nested state typing, bad handler registrations. These are
	// fatal and surface immediately.
	ErrConfiguration = errors.New("statesync: invalid configuration")

	// ErrDispatch reports a handler that is missing, not callable, or that
	// failed while running.
	ErrDispatch = errors.New("statesync: event dispatch failed")

	// ErrSessionRejected reports a session request refused by ID
	// validation or by a verifier.
	ErrSessionRejected = errors.New("statesync: session rejected")

	// ErrUncloneable reports state holding values that cannot be deep
	// copied, such as functions or channels.
	ErrUncloneable = errors.New("statesync: value cannot be cloned")
)

// IsSerialization checks if err is a serialisation error.
func IsSerialization(err error) bool {
	return errors.Is(err, ErrSerialization)
}

// IsValidation checks if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConfiguration checks if err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsDispatch checks if err is a dispatch error.
func IsDispatch(err error) bool {
	return errors.Is(err, ErrDispatch)
}

// IsSessionRejected checks if err is a session rejection.
func IsSessionRejected(err error) bool {
	return errors.Is(err, ErrSessionRejected)
}

// IsUncloneable checks if err is a clone failure.
func IsUncloneable(err error) bool {
	return errors.Is(err, ErrUncloneable)
}
