// Package hwdriver implements the Hardware Driver (spec §4.1): a
// uniform endpoint-addressed I/O surface for one connected peripheral,
// built by a two-phase factory and bridging asynchronous transport
// notifications into a broadcast HardwareEvent stream.
//
// The package is transport-agnostic. A concrete transport implements
// Peripheral; commgr/ble, commgr/serial and commgr/netemu each ship one,
// with BLE grounded in spec §4.1's "illustrated by a BLE peripheral."
package hwdriver

import (
	"context"
	"sync"

	"github.com/kryptco/buttplug/errors"
	"github.com/kryptco/buttplug/internal/broadcast"
	"github.com/kryptco/buttplug/protocol"
	"github.com/op/go-logging"
)

// Specifier structurally describes a peripheral so a protocol driver
// can recognize it: advertised name, service UUIDs, manufacturer data.
// Left loose (plain string fields) since the concrete shape is a
// protocol-driver concern, out of scope here (spec §1).
type Specifier struct {
	Name            string
	ServiceUUIDs    []string
	ManufacturerKey string
}

// RawNotification is one native notification off the wire, before
// endpoint resolution: (native characteristic/pipe id, payload).
type RawNotification struct {
	NativeID string
	Payload  []byte
}

// CentralEvent reports a connect/disconnect for any peripheral known to
// a transport's central, not just this Driver's — the Driver filters by
// address itself (spec §4.1 step 3).
type CentralEvent struct {
	Address      string
	Disconnected bool
}

// Peripheral is the low-level handle a transport hands to hwdriver once
// connected. Endpoint resolution (Endpoint -> NativeID) happens above
// this interface, in Specializer.
type Peripheral interface {
	Address() string
	WriteCharacteristic(nativeID string, data []byte, withResponse bool) error
	ReadCharacteristic(nativeID string) ([]byte, error)
	SetNotify(nativeID string, enable bool) error
	Notifications() <-chan RawNotification
	CentralEvents() <-chan CentralEvent
	Disconnect() error
}

// Connector is phase one of the factory: a Specifier plus a blocking
// Connect that yields a Specializer once the transport has a live
// Peripheral handle.
type Connector interface {
	Specifier() Specifier
	Connect(ctx context.Context) (Specializer, error)
}

// Specializer is phase two: given the protocol driver's required
// endpoints, it resolves each to a transport-native id and yields the
// finished Driver.
type Specializer interface {
	Address() string
	Specialize(ctx context.Context, required []protocol.Endpoint) (*Driver, error)
}

const defaultBroadcastBufLen = 256

// Driver is the runtime handle on one connected peripheral.
type Driver struct {
	address   string
	peripheral Peripheral
	endpoints  map[protocol.Endpoint]string
	hub        *broadcast.Hub
	log        *logging.Logger

	warnedMu sync.Mutex
	warned   bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Driver over an already-specialized peripheral and starts
// the bridging task (spec §4.1 "Bridging algorithm"). bufLen is the
// broadcast channel's bound; 0 uses the recommended default of 256.
func New(peripheral Peripheral, endpoints map[protocol.Endpoint]string, bufLen int, log *logging.Logger) *Driver {
	if bufLen <= 0 {
		bufLen = defaultBroadcastBufLen
	}
	d := &Driver{
		address:    peripheral.Address(),
		peripheral: peripheral,
		endpoints:  endpoints,
		hub:        broadcast.NewHub(bufLen),
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go d.bridge()
	return d
}

// nativeID maps a logical Endpoint to d's peripheral-native identifier.
func (d *Driver) nativeID(ep protocol.Endpoint) (string, error) {
	id, ok := d.endpoints[ep]
	if !ok {
		return "", &errors.InvalidEndpointError{Endpoint: string(ep)}
	}
	return id, nil
}

// bridge races the peripheral's notification stream against the
// transport's central-event stream, per spec §4.1's algorithm.
func (d *Driver) bridge() {
	defer close(d.done)
	notifications := d.peripheral.Notifications()
	centralEvents := d.peripheral.CentralEvents()
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			d.handleNotification(n)
		case ev, ok := <-centralEvents:
			if !ok {
				centralEvents = nil
				continue
			}
			if ev.Disconnected && ev.Address == d.address {
				d.hub.Publish(protocol.HardwareEvent{DeviceAddress: d.address, Disconnected: true})
				return
			}
		case <-d.stop:
			return
		}
	}
}

func (d *Driver) handleNotification(n RawNotification) {
	ep, ok := d.resolveEndpoint(n.NativeID)
	if !ok {
		d.warnUnknownEndpointOnce(n.NativeID)
		return
	}
	if !d.hub.HasSubscribers() {
		return
	}
	d.hub.Publish(protocol.HardwareEvent{
		DeviceAddress: d.address,
		Notification:  &protocol.HardwareNotification{Endpoint: ep, Payload: n.Payload},
	})
}

func (d *Driver) resolveEndpoint(nativeID string) (protocol.Endpoint, bool) {
	for ep, id := range d.endpoints {
		if id == nativeID {
			return ep, true
		}
	}
	return "", false
}

// warnUnknownEndpointOnce logs a miss exactly once per driver lifetime;
// spec §4.1 treats subsequent misses as "device likely disconnected,
// keep trying" and stays silent about them.
func (d *Driver) warnUnknownEndpointOnce(nativeID string) {
	d.warnedMu.Lock()
	defer d.warnedMu.Unlock()
	if d.warned {
		return
	}
	d.warned = true
	if d.log != nil {
		d.log.Warningf("unknown endpoint notification from %s: %s", d.address, nativeID)
	}
}

// EventStream returns a new subscriber to the broadcast HardwareEvent
// stream.
func (d *Driver) EventStream() *broadcast.Subscription {
	return d.hub.Subscribe()
}

// Write sends data to endpoint, optionally waiting for acknowledgement.
func (d *Driver) Write(cmd protocol.HardwareWriteCmd) error {
	nativeID, err := d.nativeID(cmd.Endpoint)
	if err != nil {
		return err
	}
	if err := d.peripheral.WriteCharacteristic(nativeID, cmd.Data, cmd.WriteWithResponse); err != nil {
		return errors.NewDeviceSpecificError(err)
	}
	return nil
}

// Read performs a one-shot read on endpoint.
func (d *Driver) Read(cmd protocol.HardwareReadCmd) (protocol.RawReading, error) {
	nativeID, err := d.nativeID(cmd.Endpoint)
	if err != nil {
		return protocol.RawReading{}, err
	}
	data, err := d.peripheral.ReadCharacteristic(nativeID)
	if err != nil {
		return protocol.RawReading{}, errors.NewDeviceSpecificError(err)
	}
	return protocol.RawReading{Endpoint: cmd.Endpoint, Data: data}, nil
}

// Subscribe enables native notifications on endpoint.
func (d *Driver) Subscribe(ep protocol.Endpoint) error {
	return d.setNotify(ep, true)
}

// Unsubscribe disables native notifications on endpoint.
func (d *Driver) Unsubscribe(ep protocol.Endpoint) error {
	return d.setNotify(ep, false)
}

func (d *Driver) setNotify(ep protocol.Endpoint, enable bool) error {
	nativeID, err := d.nativeID(ep)
	if err != nil {
		return err
	}
	if err := d.peripheral.SetNotify(nativeID, enable); err != nil {
		return errors.NewDeviceSpecificError(err)
	}
	return nil
}

// Disconnect tears down the peripheral connection. Idempotent; errors
// are swallowed per spec §4.1's table. Guarded by sync.Once (matching
// commgr/serial's peripheralAdapter.Disconnect) since a non-atomic
// check-then-close would let two concurrent callers both reach the
// close and panic.
func (d *Driver) Disconnect() {
	d.stopOnce.Do(func() { close(d.stop) })
	if err := d.peripheral.Disconnect(); err != nil && d.log != nil {
		d.log.Debug("disconnect error (ignored):", err)
	}
	d.hub.Close()
}
