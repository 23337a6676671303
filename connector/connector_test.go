package connector

import (
	"context"
	"testing"

	"github.com/kryptco/buttplug/commgr/fake"
	"github.com/kryptco/buttplug/devicemgr"
	"github.com/kryptco/buttplug/errors"
	"github.com/kryptco/buttplug/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *devicemgr.Manager {
	t.Helper()
	mgr := devicemgr.New(fake.NewIdentifier(), 8, nil)
	go mgr.Run(nil)
	return mgr
}

func TestDispatchRequestDeviceListReturnsDeviceList(t *testing.T) {
	mgr := newTestManager(t)
	resp := Dispatch(context.Background(), mgr, protocol.ClientMessage{RequestDeviceList: true})
	require.NotNil(t, resp.DeviceList)
	assert.Empty(t, resp.DeviceList.Devices)
}

func TestDispatchDeviceCommandToUnknownIndexReturnsErrorMessage(t *testing.T) {
	mgr := newTestManager(t)
	resp := Dispatch(context.Background(), mgr, protocol.ClientMessage{
		DeviceCommand: &protocol.DeviceCommand{DeviceIndex: 42, StopDeviceCmd: &protocol.StopDeviceCmd{}},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "DeviceError", resp.Error.Kind)
}

func TestDispatchManagerCommandStartScanningWithNoManagersReturnsUnknownError(t *testing.T) {
	mgr := newTestManager(t)
	resp := Dispatch(context.Background(), mgr, protocol.ClientMessage{
		ManagerCommand: &protocol.ManagerCommand{StartScanning: &protocol.StartScanning{}},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UnknownError", resp.Error.Kind)
}

func TestDispatchManagerCommandRequestDeviceList(t *testing.T) {
	mgr := newTestManager(t)
	resp := Dispatch(context.Background(), mgr, protocol.ClientMessage{
		ManagerCommand: &protocol.ManagerCommand{RequestDeviceList: &protocol.RequestDeviceList{}},
	})
	require.NotNil(t, resp.DeviceList)
}

func TestDispatchUnroutableMessageReturnsMessageError(t *testing.T) {
	mgr := newTestManager(t)
	resp := Dispatch(context.Background(), mgr, protocol.ClientMessage{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MessageError", resp.Error.Kind)
}

func TestDispatchStopAllDevicesOnEmptyRegistrySucceeds(t *testing.T) {
	mgr := newTestManager(t)
	resp := Dispatch(context.Background(), mgr, protocol.ClientMessage{
		ManagerCommand: &protocol.ManagerCommand{StopAllDevices: &protocol.StopAllDevices{}},
	})
	require.NotNil(t, resp.Ok)
}

func TestErrMessageMapsEveryDistinguishedErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{errors.NewDeviceError(1), "DeviceError"},
		{&errors.UnknownError{Message: "x"}, "UnknownError"},
		{&errors.MessageError{Message: "x"}, "MessageError"},
		{errors.NewDeviceConnectionError(assertErr), "DeviceConnectionError"},
		{errors.NewDeviceSpecificError(assertErr), "DeviceSpecificError"},
		{&errors.InvalidEndpointError{Endpoint: "tx"}, "InvalidEndpointError"},
	}
	for _, c := range cases {
		resp := ErrMessage(c.err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, c.kind, resp.Error.Kind)
	}
}

var assertErr = context.DeadlineExceeded

func TestDispatchManagerCommandStopScanningWithNoManagersSucceeds(t *testing.T) {
	mgr := newTestManager(t)
	resp := Dispatch(context.Background(), mgr, protocol.ClientMessage{
		ManagerCommand: &protocol.ManagerCommand{StopScanning: &protocol.StopScanning{}},
	})
	require.NotNil(t, resp.Ok)
}
