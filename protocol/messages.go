package protocol

// DeviceCommand is the tagged union of commands addressable to a single
// identified device (spec §4.3, "device-addressed command"). Exactly
// one field is non-nil.
type DeviceCommand struct {
	DeviceIndex   DeviceIndex
	VibrateCmd    *VibrateCmd
	RotateCmd     *RotateCmd
	LinearCmd     *LinearCmd
	StopDeviceCmd *StopDeviceCmd
}

// VibrateCmd sets per-motor speeds in [0, 1].
type VibrateCmd struct {
	Speeds []VibrateSubcommand
}

type VibrateSubcommand struct {
	Index DeviceIndex
	Speed float64
}

// RotateCmd sets per-motor rotation speed and direction.
type RotateCmd struct {
	Rotations []RotateSubcommand
}

type RotateSubcommand struct {
	Index      DeviceIndex
	Speed      float64
	Clockwise  bool
}

// LinearCmd drives a linear actuator to Position over Duration.
type LinearCmd struct {
	Vectors []LinearSubcommand
}

type LinearSubcommand struct {
	Index    DeviceIndex
	Duration uint32
	Position float64
}

// StopDeviceCmd halts all actuators on a device immediately.
type StopDeviceCmd struct{}

// ManagerCommand is the tagged union of commands addressed to the
// Device Manager itself rather than to one device (spec §4.3).
type ManagerCommand struct {
	RequestDeviceList *RequestDeviceList
	StopAllDevices    *StopAllDevices
	StartScanning     *StartScanning
	StopScanning      *StopScanning
}

type RequestDeviceList struct{}
type StopAllDevices struct{}
type StartScanning struct{}
type StopScanning struct{}

// ServerMessage is the tagged union of messages flowing server/device-
// manager -> client (spec §6 "Outward messages").
type ServerMessage struct {
	ID               uint32
	DeviceAdded      *DeviceAdded
	DeviceList       *DeviceList
	DeviceRemoved    *DeviceRemoved
	ScanningFinished *ScanningFinished
	Ok               *Ok
	Error            *ErrorMessage
}

type DeviceAdded struct {
	Index             DeviceIndex
	Name              string
	SupportedMessages MessageAttributes
}

type DeviceList struct {
	Devices []DeviceMessageInfo
}

type DeviceRemoved struct {
	Index DeviceIndex
}

type ScanningFinished struct{}

type Ok struct{}

// ErrorMessage carries the string form of one of the errors package's
// kinds across the Connector boundary. The Connector (spec §6) is
// responsible for transport; this is the payload it carries back.
type ErrorMessage struct {
	Kind    string
	Message string
}

// ClientMessage is the tagged union of requests flowing application ->
// Client Event Loop (spec §4.4). ID is stamped by the Client Event Loop
// before the message reaches the Connector and is echoed back on the
// matching ServerMessage; per spec §6 "the connector is assumed to
// correlate by message id."
type ClientMessage struct {
	ID                uint32
	Disconnect        bool
	RequestDeviceList bool
	DeviceCommand     *DeviceCommand
	ManagerCommand    *ManagerCommand
}
