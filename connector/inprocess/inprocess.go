// Package inprocess is the default Connector (spec §6) for same-process
// client/server pairs — tests and the demo harness. It translates
// ClientMessage into direct calls against a devicemgr.Manager and
// forwards the manager's outward ServerMessage stream straight through,
// with no wire encoding, matching spec.md's explicit exclusion of the
// JSON wire schema from this core.
package inprocess

import (
	"context"

	"github.com/kryptco/buttplug/connector"
	"github.com/kryptco/buttplug/devicemgr"
	"github.com/kryptco/buttplug/protocol"
)

// Connector implements connector.Connector directly against an
// in-process devicemgr.Manager.
type Connector struct {
	mgr    *devicemgr.Manager
	events chan protocol.ServerMessage
	stop   chan struct{}
}

// New wraps mgr. Call Run in its own goroutine to start forwarding
// mgr's outward messages into Events().
func New(mgr *devicemgr.Manager) *Connector {
	return &Connector{
		mgr:    mgr,
		events: make(chan protocol.ServerMessage, 64),
		stop:   make(chan struct{}),
	}
}

// Run forwards every message from mgr.Out() into Events() until mgr's
// loop exits or Disconnect is called.
func (c *Connector) Run() {
	defer close(c.events)
	out := c.mgr.Out()
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return
			}
			select {
			case c.events <- msg:
			case <-c.stop:
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Connector) Events() <-chan protocol.ServerMessage { return c.events }

// Send dispatches msg against the wrapped Manager synchronously (spec
// §6's "send(msg) -> async Result<reply>").
func (c *Connector) Send(ctx context.Context, msg protocol.ClientMessage) (protocol.ServerMessage, error) {
	resp := connector.Dispatch(ctx, c.mgr, msg)
	resp.ID = msg.ID
	return resp, nil
}

// Disconnect stops the forwarding started by Run: Run returns and
// Events() closes. There is no transport session to tear down, and the
// wrapped Manager's loop keeps running; the server side owns it.
func (c *Connector) Disconnect(ctx context.Context) error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	return nil
}
