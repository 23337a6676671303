// Package protocol holds the data model shared across the coordination
// spine: device indices, endpoints, message attributes, and the
// hardware/communication event variants from spec §3. It deliberately
// stops short of the JSON wire schema and version negotiation — spec
// §1 names both as external collaborators — so the types here are the
// in-process shapes the loops pass around, not serialized bytes.
package protocol

import "fmt"

// DeviceIndex is a server-scoped, monotonically allocated identifier.
// Never reused within one server's lifetime (spec §3).
type DeviceIndex uint32

// Endpoint is a logical peripheral role, independent of transport. Each
// driver maps Endpoint to a transport-specific identifier at
// specialization time.
type Endpoint string

const (
	EndpointTx       Endpoint = "tx"
	EndpointRx       Endpoint = "rx"
	EndpointCommand  Endpoint = "command"
	EndpointFirmware Endpoint = "firmware"
)

// EndpointGeneric names the nth generic endpoint, for protocols that
// expose an open-ended number of equivalent characteristics.
func EndpointGeneric(n int) Endpoint {
	return Endpoint(fmt.Sprintf("generic%d", n))
}

// GenericAttributes describes one message type's addressable feature
// count, e.g. the number of independently controllable vibration
// motors.
type GenericAttributes struct {
	FeatureCount uint32 `json:"FeatureCount"`
}

// MessageAttributes is the set of command kinds a device supports and
// the feature count for each. Immutable once attached to a
// DeviceMessageInfo.
type MessageAttributes struct {
	VibrateCmd    *GenericAttributes `json:"VibrateCmd,omitempty"`
	RotateCmd     *GenericAttributes `json:"RotateCmd,omitempty"`
	LinearCmd     *GenericAttributes `json:"LinearCmd,omitempty"`
	StopDeviceCmd bool               `json:"StopDeviceCmd,omitempty"`
}

// DeviceMessageInfo is the immutable snapshot created when a device is
// identified (spec §3). It is copied, never mutated, into DeviceAdded
// and DeviceList.
type DeviceMessageInfo struct {
	Index             DeviceIndex       `json:"DeviceIndex"`
	Name              string            `json:"DeviceName"`
	SupportedMessages MessageAttributes `json:"DeviceMessages"`
}

// RawReading is the result of a Hardware Driver read (spec §6).
// DeviceIndex is always 0 at the driver layer, per spec §4.1's table;
// no code in this module sets it to a device's index.
type RawReading struct {
	DeviceIndex DeviceIndex
	Endpoint    Endpoint
	Data        []byte
}

// HardwareWriteCmd is the input to Driver.Write.
type HardwareWriteCmd struct {
	Endpoint          Endpoint
	Data              []byte
	WriteWithResponse bool
}

// HardwareReadCmd is the input to Driver.Read.
type HardwareReadCmd struct {
	Endpoint Endpoint
	Length   int
	TimeoutMS int
}

// HardwareEvent is the tagged variant a Hardware Driver's broadcast
// stream carries (spec §3). Exactly one of Notification or Disconnected
// is meaningful on any given value; Disconnected is true for a
// disconnect event and false (with Notification set) otherwise.
type HardwareEvent struct {
	DeviceAddress string
	Notification  *HardwareNotification
	Disconnected  bool
}

// HardwareNotification is the payload of a HardwareEvent carrying a
// characteristic/endpoint notification.
type HardwareNotification struct {
	Endpoint Endpoint
	Payload  []byte
}
