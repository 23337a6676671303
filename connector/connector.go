// Package connector holds what the Connector implementations in this
// tree share: the contract itself (mirroring client.Connector so either
// side can depend on just this package) and the request-dispatch
// helper that turns one ClientMessage into a devicemgr.Manager call,
// used by the in-process connector (connector/inprocess), the only
// Connector implementation in this tree.
package connector

import (
	"context"

	"github.com/kryptco/buttplug/devicemgr"
	"github.com/kryptco/buttplug/errors"
	"github.com/kryptco/buttplug/protocol"
)

// Connector is the client<->server transport contract (spec §6).
type Connector interface {
	Send(ctx context.Context, msg protocol.ClientMessage) (protocol.ServerMessage, error)
	Disconnect(ctx context.Context) error
	Events() <-chan protocol.ServerMessage
}

// Dispatch translates one ClientMessage into the corresponding call
// against mgr, per spec §4.3's "Command dispatch (outside the loop)".
// Shared by every server-side Connector so the translation itself is
// written once.
func Dispatch(ctx context.Context, mgr *devicemgr.Manager, msg protocol.ClientMessage) protocol.ServerMessage {
	switch {
	case msg.RequestDeviceList:
		list := mgr.RequestDeviceList()
		return protocol.ServerMessage{DeviceList: &list}

	case msg.DeviceCommand != nil:
		if err := mgr.Dispatch(ctx, *msg.DeviceCommand); err != nil {
			return ErrMessage(err)
		}
		return protocol.ServerMessage{Ok: &protocol.Ok{}}

	case msg.ManagerCommand != nil:
		return dispatchManagerCommand(ctx, mgr, *msg.ManagerCommand)

	default:
		return ErrMessage(&errors.MessageError{Message: "unroutable client message"})
	}
}

func dispatchManagerCommand(ctx context.Context, mgr *devicemgr.Manager, cmd protocol.ManagerCommand) protocol.ServerMessage {
	switch {
	case cmd.RequestDeviceList != nil:
		list := mgr.RequestDeviceList()
		return protocol.ServerMessage{DeviceList: &list}
	case cmd.StopAllDevices != nil:
		if err := mgr.StopAllDevices(ctx); err != nil {
			return ErrMessage(err)
		}
		return protocol.ServerMessage{Ok: &protocol.Ok{}}
	case cmd.StartScanning != nil:
		if err := mgr.StartScanning(ctx); err != nil {
			return ErrMessage(err)
		}
		return protocol.ServerMessage{Ok: &protocol.Ok{}}
	case cmd.StopScanning != nil:
		if err := mgr.StopScanning(ctx); err != nil {
			return ErrMessage(err)
		}
		return protocol.ServerMessage{Ok: &protocol.Ok{}}
	default:
		return ErrMessage(&errors.MessageError{Message: "empty manager command"})
	}
}

// ErrMessage renders one of the errors package's kinds into the
// ErrorMessage payload a Connector carries back across the boundary
// (spec §6: "outward messages ... plus per-command replies").
func ErrMessage(err error) protocol.ServerMessage {
	kind := "UnknownError"
	switch err.(type) {
	case *errors.DeviceError:
		kind = "DeviceError"
	case *errors.UnknownError:
		kind = "UnknownError"
	case *errors.MessageError:
		kind = "MessageError"
	case *errors.DeviceConnectionError:
		kind = "DeviceConnectionError"
	case *errors.DeviceSpecificError:
		kind = "DeviceSpecificError"
	case *errors.InvalidEndpointError:
		kind = "InvalidEndpointError"
	}
	return protocol.ServerMessage{Error: &protocol.ErrorMessage{Kind: kind, Message: err.Error()}}
}
