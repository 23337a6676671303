// Package fake is an in-memory CommunicationManager + Identifier pair
// for deterministic tests, in the style of the teacher's
// transport_mock_pair.go / transport_mock_response.go: a mutex-guarded
// struct that a test drives by hand rather than a real transport.
package fake

import (
	"context"
	"sync"

	"github.com/kryptco/buttplug/commgr"
	"github.com/kryptco/buttplug/protocol"
)

// Creator is a scripted DeviceCreator: it always resolves to Protocol
// (or to no protocol at all, if Protocol is empty), for scenario 2 in
// spec §8.
type Creator struct {
	Addr     string
	Protocol string
	Name     string
	Attrs    protocol.MessageAttributes
}

func (c *Creator) Address() string { return c.Addr }

// Device is a scripted commgr.Device: it records every command it
// receives and can be driven to emit a Removed event on demand.
type Device struct {
	mu       sync.Mutex
	name     string
	attrs    protocol.MessageAttributes
	Writes   []protocol.DeviceCommand
	events   chan commgr.DeviceInternalEvent
}

func NewDevice(name string, attrs protocol.MessageAttributes) *Device {
	return &Device{name: name, attrs: attrs, events: make(chan commgr.DeviceInternalEvent, 4)}
}

func (d *Device) Name() string                                { return d.name }
func (d *Device) SupportedMessages() protocol.MessageAttributes { return d.attrs }

func (d *Device) HandleCommand(ctx context.Context, cmd protocol.DeviceCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Writes = append(d.Writes, cmd)
	return nil
}

func (d *Device) Events() <-chan commgr.DeviceInternalEvent { return d.events }

func (d *Device) Disconnect() error { return nil }

// Remove drives a scenario-5-style disconnect: the test driver's event
// stream emits Removed.
func (d *Device) Remove() {
	d.events <- commgr.DeviceInternalEvent{Removed: true}
}

// RecordedWrites returns a snapshot of every command handled so far.
func (d *Device) RecordedWrites() []protocol.DeviceCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.DeviceCommand, len(d.Writes))
	copy(out, d.Writes)
	return out
}

// Manager is a scripted CommunicationManager: a test queues Creators
// with Enqueue, calls StartScanning, and Manager emits one DeviceFound
// per pending creator followed by ScanningFinished.
type Manager struct {
	Out     chan<- commgr.DeviceCommunicationEvent
	mu      sync.Mutex
	pending []commgr.DeviceCreator
}

func NewManager(out chan<- commgr.DeviceCommunicationEvent) *Manager {
	return &Manager{Out: out}
}

// Enqueue schedules creator to be emitted as DeviceFound on the next
// StartScanning call.
func (m *Manager) Enqueue(creator commgr.DeviceCreator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, creator)
}

func (m *Manager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	go func() {
		for _, c := range pending {
			select {
			case m.Out <- commgr.DeviceCommunicationEvent{DeviceFound: &commgr.DeviceFoundEvent{Creator: c}}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case m.Out <- commgr.DeviceCommunicationEvent{ScanningFinished: true}:
		case <-ctx.Done():
		}
	}()
	return nil
}

func (m *Manager) StopScanning(ctx context.Context) error { return nil }

// Identifier matches fake.Creator values against their scripted
// Protocol field, backing scenarios 1-2 in spec §8.
type Identifier struct {
	mu      sync.Mutex
	devices map[string]*Device
}

func NewIdentifier() *Identifier {
	return &Identifier{devices: map[string]*Device{}}
}

// Bind pre-registers the Device that should be returned for addr, so a
// test can later reach into it (e.g. to call Remove or inspect Writes).
func (id *Identifier) Bind(addr string, d *Device) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.devices[addr] = d
}

func (id *Identifier) TryCreateDevice(ctx context.Context, creator commgr.DeviceCreator) (commgr.Device, error) {
	c, ok := creator.(*Creator)
	if !ok || c.Protocol == "" {
		return nil, nil
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	if d, ok := id.devices[c.Addr]; ok {
		return d, nil
	}
	d := NewDevice(c.Name, c.Attrs)
	id.devices[c.Addr] = d
	return d, nil
}
