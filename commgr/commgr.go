// Package commgr defines the Communication Manager contract (spec
// §4.2) and the handful of types the Device Manager Event Loop needs to
// talk to them: DeviceCreator, Device, and the DeviceCommunicationEvent
// tagged union.
package commgr

import (
	"context"

	"github.com/kryptco/buttplug/protocol"
)

// DeviceCreator is an opaque handle a CommunicationManager produces for
// one discovered peripheral. It carries only what identification needs
// (an address and enough to attempt a protocol match); the concrete
// shape is transport-specific.
type DeviceCreator interface {
	Address() string
}

// Device is a Hardware Driver paired with an identified protocol driver
// — the unit the Device Manager indexes (spec GLOSSARY). The protocol-
// translation half is out of scope here (spec §1); Device is the seam
// a real protocol driver would implement.
type Device interface {
	Name() string
	SupportedMessages() protocol.MessageAttributes
	HandleCommand(ctx context.Context, cmd protocol.DeviceCommand) error
	// Events surfaces DeviceInternalEvent values for this device —
	// at minimum a Removed event on disconnect.
	Events() <-chan DeviceInternalEvent
	Disconnect() error
}

// DeviceInternalEvent is channel (b) from spec §4.3: events a connected
// Device forwards up to the Device Manager loop, already known to
// belong to one index (the loop tags it on receipt).
type DeviceInternalEvent struct {
	Removed bool
}

// Identifier attempts to match a DeviceCreator against a known
// protocol. Some (non-nil Device) means a protocol matched; nil, nil
// means no protocol matched — non-fatal per spec §6.
type Identifier interface {
	TryCreateDevice(ctx context.Context, creator DeviceCreator) (Device, error)
}

// DeviceCommunicationEvent is the tagged union CommunicationManagers
// emit, plus the DeviceConnected variant the Device Manager loop
// reinjects into its own inbox once identification completes (spec §3,
// §9 "Reinjection of DeviceConnected").
type DeviceCommunicationEvent struct {
	DeviceFound      *DeviceFoundEvent
	DeviceConnected  *DeviceConnectedEvent
	ScanningFinished bool
}

type DeviceFoundEvent struct {
	Creator DeviceCreator
}

type DeviceConnectedEvent struct {
	Index  protocol.DeviceIndex
	Device Device
}

// CommunicationManager enumerates peripherals on one transport (spec
// §4.2). StartScanning/StopScanning are idempotent and return once
// scanning has been commanded, not once it completes; ScanningFinished
// is emitted on the Device Manager's behalf when the manager reaches
// its own intrinsic endpoint.
type CommunicationManager interface {
	StartScanning(ctx context.Context) error
	StopScanning(ctx context.Context) error
}
