package mqtt

import "errors"

// Domain-specific errors for the tmpo transport.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned when publishing while disconnected.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed is returned when a block publish fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when binding an inbound flow fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrAlreadyBound is returned by a second Bind on the same client.
	ErrAlreadyBound = errors.New("mqtt: inbound flows already bound")
)
