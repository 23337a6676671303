// Package errors defines the distinguished error kinds the coordination
// spine surfaces, per spec §7. Each is its own type rather than a
// sentinel so callers can switch on kind without string matching, the
// same shape the teacher uses for SendError/RecvError/ProtoError in its
// enclave client.
package errors

import "fmt"

// DeviceConnectionError signals a transport-level connect or discovery
// failure. The device never entered the registry.
type DeviceConnectionError struct{ error }

func NewDeviceConnectionError(err error) *DeviceConnectionError {
	return &DeviceConnectionError{err}
}
func (e *DeviceConnectionError) Error() string {
	return "device connection error: " + e.error.Error()
}
func (e *DeviceConnectionError) Unwrap() error { return e.error }

// DeviceSpecificError wraps a transport error returned mid-session. The
// device stays in the registry unless a subsequent disconnect evicts it.
type DeviceSpecificError struct{ error }

func NewDeviceSpecificError(err error) *DeviceSpecificError {
	return &DeviceSpecificError{err}
}
func (e *DeviceSpecificError) Error() string {
	return "device error: " + e.error.Error()
}
func (e *DeviceSpecificError) Unwrap() error { return e.error }

// InvalidEndpointError means the caller addressed an endpoint not bound
// on this driver. Programmer error.
type InvalidEndpointError struct{ Endpoint string }

func (e *InvalidEndpointError) Error() string {
	return fmt.Sprintf("invalid endpoint %q", e.Endpoint)
}

// DeviceError means a command addressed an absent or already-removed
// device index.
type DeviceError struct{ Message string }

func NewDeviceError(index uint32) *DeviceError {
	return &DeviceError{Message: fmt.Sprintf("No device with index %d available", index)}
}
func (e *DeviceError) Error() string { return e.Message }

// UnknownError signals a failed administrative precondition, e.g. no
// communication managers registered for scanning.
type UnknownError struct{ Message string }

func (e *UnknownError) Error() string { return e.Message }

// MessageError means the incoming client message is not routable to
// either device-command or device-manager-command dispatch.
type MessageError struct{ Message string }

func (e *MessageError) Error() string { return e.Message }
