// Package client implements the Client Event Loop (spec §4.4): the
// client-side hub that mirrors the server's device roster, fans server
// events out to per-device handles through broadcast channels, and
// correlates outbound messages with the connector via reply.Registry.
// Grounded in the same single-goroutine-select shape as devicemgr, and
// in the teacher's enclave client's request/reply bookkeeping.
package client

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kryptco/buttplug/internal/bplog"
	"github.com/kryptco/buttplug/internal/broadcast"
	"github.com/kryptco/buttplug/protocol"
	"github.com/kryptco/buttplug/reply"
	"github.com/op/go-logging"
)

// maxPendingRequests bounds the outbound request Registry the same way
// the teacher bounds requestCallbacksByRequestID: an overzealous
// application that never gets a reply cannot leak Slots forever.
const maxPendingRequests = 256

// Connector is the client↔server transport contract (spec §6). Out of
// core scope to implement concretely; connector/ ships default
// implementations.
type Connector interface {
	Send(ctx context.Context, msg protocol.ClientMessage) (protocol.ServerMessage, error)
	Disconnect(ctx context.Context) error
	Events() <-chan protocol.ServerMessage
}

// DeviceEvent describes a per-device event for a ClientDevice handle:
// a removal or a raw hardware notification. The Client Event Loop does
// not publish DeviceEvent values on handle channels; on DeviceRemoved
// it closes the handle's channel without sending an event.
type DeviceEvent struct {
	Removed      bool
	Notification *protocol.HardwareNotification
}

// ClientDevice is one application-facing handle on a server-side
// device. Multiple handles may share the same underlying index; each
// gets its own broadcast subscription (spec §4.4 "every handle receives
// every device-targeted event").
type ClientDevice struct {
	Info protocol.DeviceMessageInfo

	client *Client
	sub    *broadcast.Subscription
}

// Events returns this handle's event channel. It closes when the
// device is removed or the Client shuts down.
func (d *ClientDevice) Events() <-chan interface{} { return d.sub.C() }

// Vibrate issues a VibrateCmd to this handle's device.
func (d *ClientDevice) Vibrate(ctx context.Context, speeds []protocol.VibrateSubcommand) (protocol.ServerMessage, error) {
	return d.client.sendDeviceCommand(ctx, protocol.DeviceCommand{
		DeviceIndex: d.Info.Index,
		VibrateCmd:  &protocol.VibrateCmd{Speeds: speeds},
	})
}

// Stop issues a StopDeviceCmd to this handle's device.
func (d *ClientDevice) Stop(ctx context.Context) (protocol.ServerMessage, error) {
	return d.client.sendDeviceCommand(ctx, protocol.DeviceCommand{
		DeviceIndex:   d.Info.Index,
		StopDeviceCmd: &protocol.StopDeviceCmd{},
	})
}

// Release drops this handle's subscription without affecting the
// underlying server-side device (spec §3 lifecycle: "handle destruction
// does not disconnect the underlying device").
func (d *ClientDevice) Release() { d.sub.Unsubscribe() }

// outboundRequest is input (c) from spec §4.4: an application-issued
// message paired with the slot its reply should fulfil. id is the
// correlation key it's registered under in the Client's reply.Registry.
type outboundRequest struct {
	msg  protocol.ClientMessage
	slot *reply.Slot
	id   uint32
}

// Client is the Client Event Loop's runtime handle.
type Client struct {
	log       *logging.Logger
	connector Connector

	requestCh  chan outboundRequest
	disconnect chan *reply.Slot
	done       chan struct{}

	nextID  uint32 // atomic, stamped onto each outbound ClientMessage
	replies *reply.Registry

	rosterMu sync.RWMutex
	roster   map[protocol.DeviceIndex]protocol.DeviceMessageInfo
	sinks    map[protocol.DeviceIndex]*broadcast.Hub

	onDeviceAdded   func(*ClientDevice)
	onDeviceRemoved func(protocol.DeviceMessageInfo)
}

// Option configures a Client at construction.
type Option func(*Client)

// OnDeviceAdded registers a callback invoked for every ClientDevice
// handle created on DeviceAdded/DeviceList (spec §4.4 "emit DeviceAdded
// outward").
func OnDeviceAdded(f func(*ClientDevice)) Option { return func(c *Client) { c.onDeviceAdded = f } }

// OnDeviceRemoved registers a callback invoked once per DeviceRemoved.
func OnDeviceRemoved(f func(protocol.DeviceMessageInfo)) Option {
	return func(c *Client) { c.onDeviceRemoved = f }
}

// New builds a Client bound to connector. Call Run in its own goroutine
// to start the loop.
func New(connector Connector, log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		log:        log,
		connector:  connector,
		requestCh:  make(chan outboundRequest, 32),
		disconnect: make(chan *reply.Slot, 1),
		done:       make(chan struct{}),
		replies:    reply.NewRegistry(maxPendingRequests),
		roster:     map[protocol.DeviceIndex]protocol.DeviceMessageInfo{},
		sinks:      map[protocol.DeviceIndex]*broadcast.Hub{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Done closes once the loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// RequestDeviceList asks the server for its device list and blocks
// until the reply (or ctx cancellation) arrives.
func (c *Client) RequestDeviceList(ctx context.Context) (protocol.ServerMessage, error) {
	return c.send(ctx, protocol.ClientMessage{RequestDeviceList: true})
}

// ManagerCommand issues a device-manager-addressed command (start/stop
// scanning, stop-all).
func (c *Client) ManagerCommand(ctx context.Context, cmd protocol.ManagerCommand) (protocol.ServerMessage, error) {
	return c.send(ctx, protocol.ClientMessage{ManagerCommand: &cmd})
}

func (c *Client) sendDeviceCommand(ctx context.Context, cmd protocol.DeviceCommand) (protocol.ServerMessage, error) {
	return c.send(ctx, protocol.ClientMessage{DeviceCommand: &cmd})
}

// send stamps msg with a fresh correlation id, queues it onto the loop,
// and awaits its reply slot (spec §4.4 "Outbound message correlation";
// spec §6 "the connector is assumed to correlate by message id").
func (c *Client) send(ctx context.Context, msg protocol.ClientMessage) (protocol.ServerMessage, error) {
	id := atomic.AddUint32(&c.nextID, 1)
	msg.ID = id
	slot := reply.NewSlot()
	select {
	case c.requestCh <- outboundRequest{msg: msg, slot: slot, id: id}:
	case <-c.done:
		return protocol.ServerMessage{}, reply.ErrCancelled
	case <-ctx.Done():
		return protocol.ServerMessage{}, ctx.Err()
	}
	v, err := slot.Wait(ctx)
	if err != nil {
		return protocol.ServerMessage{}, err
	}
	if sm, ok := v.(protocol.ServerMessage); ok {
		return sm, nil
	}
	if cancelErr, ok := v.(error); ok {
		return protocol.ServerMessage{}, cancelErr
	}
	return protocol.ServerMessage{}, reply.ErrCancelled
}

// Disconnect asks the connector to disconnect and waits for the
// connector's result; the loop exits right after delivering it, and
// Done() closes once it has (spec §4.4 "Disconnection").
func (c *Client) Disconnect(ctx context.Context) error {
	slot := reply.NewSlot()
	select {
	case c.disconnect <- slot:
	case <-c.done:
		return nil
	}
	v, err := slot.Wait(ctx)
	if err != nil {
		return err
	}
	if err, ok := v.(error); ok && err != nil {
		return err
	}
	return nil
}

// Run is the Client Event Loop. It returns when the application closes
// its request channel's owner (the Client itself, via Disconnect), or
// when the connector's event channel closes.
func (c *Client) Run() {
	defer close(c.done)
	defer c.replies.CancelAll()
	defer func() {
		c.rosterMu.Lock()
		for index, hub := range c.sinks {
			delete(c.sinks, index)
			hub.Close()
		}
		c.rosterMu.Unlock()
	}()
	serverEvents := c.connector.Events()
	for {
		select {
		case req := <-c.requestCh:
			c.handleOutbound(req)
		case slot := <-c.disconnect:
			err := c.connector.Disconnect(context.Background())
			slot.Fulfill(err)
			return
		case msg, ok := <-serverEvents:
			if !ok {
				return
			}
			c.handleServerMessage(msg)
		}
	}
}

// handleOutbound registers req's Slot in the reply Registry under req.id
// and dispatches req.msg through the connector off-loop. The reply,
// however it eventually arrives, is fulfilled by resolving that id
// against the Registry (reply.Registry.Resolve) rather than by closing
// directly over req.slot — the same id-keyed lookup shape as the
// teacher's requestCallbacksByRequestID, and the seam a future
// asynchronous Connector (one whose Send returns before the matching
// ServerMessage arrives on Events()) would resolve into instead of this
// synchronous one.
func (c *Client) handleOutbound(req outboundRequest) {
	idKey := strconv.FormatUint(uint64(req.id), 10)
	c.replies.Register(idKey, req.slot)
	go bplog.RecoverToLog(func() {
		resp, err := c.connector.Send(context.Background(), req.msg)
		if err != nil {
			c.replies.Resolve(idKey, protocol.ServerMessage{Error: &protocol.ErrorMessage{
				Kind: "ConnectorError", Message: err.Error(),
			}})
			return
		}
		if resp.DeviceList != nil {
			c.handleServerMessage(resp)
		}
		c.replies.Resolve(idKey, resp)
	}, c.log)
}

// handleServerMessage implements spec §4.4's "Server-event handling"
// table.
func (c *Client) handleServerMessage(msg protocol.ServerMessage) {
	switch {
	case msg.DeviceAdded != nil:
		info := protocol.DeviceMessageInfo{
			Index:             msg.DeviceAdded.Index,
			Name:              msg.DeviceAdded.Name,
			SupportedMessages: msg.DeviceAdded.SupportedMessages,
		}
		c.addToRoster(info)
	case msg.DeviceList != nil:
		for _, info := range msg.DeviceList.Devices {
			c.addToRoster(info)
		}
	case msg.DeviceRemoved != nil:
		c.removeFromRoster(msg.DeviceRemoved.Index)
	case msg.ScanningFinished != nil, msg.Ok != nil, msg.Error != nil:
		// Ok/Error replies are correlated via the outbound request path,
		// and ScanningFinished changes no roster entry; nothing to mirror.
	default:
		if c.log != nil {
			c.log.Error("client event loop: unroutable server message", fmt.Sprintf("%+v", msg))
		}
	}
}

// addToRoster implements "Device-handle creation" (spec §4.4): allocate
// the per-index broadcast hub if this is the first sighting, insert
// into the roster, and hand the application a fresh handle.
func (c *Client) addToRoster(info protocol.DeviceMessageInfo) {
	c.rosterMu.Lock()
	c.roster[info.Index] = info
	hub, ok := c.sinks[info.Index]
	if !ok {
		hub = broadcast.NewHub(32)
		c.sinks[info.Index] = hub
	}
	c.rosterMu.Unlock()

	handle := &ClientDevice{Info: info, client: c, sub: hub.Subscribe()}
	if c.onDeviceAdded != nil {
		c.onDeviceAdded(handle)
	}
}

func (c *Client) removeFromRoster(index protocol.DeviceIndex) {
	c.rosterMu.Lock()
	info, had := c.roster[index]
	delete(c.roster, index)
	hub, ok := c.sinks[index]
	delete(c.sinks, index)
	c.rosterMu.Unlock()

	if ok {
		hub.Close()
	}
	if had && c.onDeviceRemoved != nil {
		c.onDeviceRemoved(info)
	}
}

// Roster returns a snapshot of the client-side device roster.
func (c *Client) Roster() map[protocol.DeviceIndex]protocol.DeviceMessageInfo {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()
	out := make(map[protocol.DeviceIndex]protocol.DeviceMessageInfo, len(c.roster))
	for k, v := range c.roster {
		out[k] = v
	}
	return out
}
