package hwdriver

import (
	"testing"
	"time"

	bperrors "github.com/kryptco/buttplug/errors"
	"github.com/kryptco/buttplug/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeripheral is a scripted Peripheral double, in the teacher's
// hand-rolled test-double style (no mocking library).
type fakePeripheral struct {
	address string

	writes []fakeWrite
	reads  map[string][]byte
	readErr error

	notifyCalls map[string]bool

	notifications chan RawNotification
	centralEvents chan CentralEvent

	disconnected bool
}

type fakeWrite struct {
	nativeID string
	data     []byte
}

func newFakePeripheral(addr string) *fakePeripheral {
	return &fakePeripheral{
		address:       addr,
		reads:         map[string][]byte{},
		notifyCalls:   map[string]bool{},
		notifications: make(chan RawNotification, 8),
		centralEvents: make(chan CentralEvent, 8),
	}
}

func (f *fakePeripheral) Address() string { return f.address }

func (f *fakePeripheral) WriteCharacteristic(nativeID string, data []byte, withResponse bool) error {
	f.writes = append(f.writes, fakeWrite{nativeID: nativeID, data: data})
	return nil
}

func (f *fakePeripheral) ReadCharacteristic(nativeID string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.reads[nativeID], nil
}

func (f *fakePeripheral) SetNotify(nativeID string, enable bool) error {
	f.notifyCalls[nativeID] = enable
	return nil
}

func (f *fakePeripheral) Notifications() <-chan RawNotification { return f.notifications }
func (f *fakePeripheral) CentralEvents() <-chan CentralEvent    { return f.centralEvents }

func (f *fakePeripheral) Disconnect() error {
	f.disconnected = true
	return nil
}

func endpoints() map[protocol.Endpoint]string {
	return map[protocol.Endpoint]string{
		protocol.EndpointTx: "native-tx",
		protocol.EndpointRx: "native-rx",
	}
}

func TestWriteResolvesEndpointToNativeID(t *testing.T) {
	p := newFakePeripheral("dev-1")
	d := New(p, endpoints(), 0, nil)
	defer d.Disconnect()

	require.NoError(t, d.Write(protocol.HardwareWriteCmd{Endpoint: protocol.EndpointTx, Data: []byte{1, 2, 3}}))
	require.Len(t, p.writes, 1)
	assert.Equal(t, "native-tx", p.writes[0].nativeID)
	assert.Equal(t, []byte{1, 2, 3}, p.writes[0].data)
}

func TestWriteToUnknownEndpointReturnsInvalidEndpointError(t *testing.T) {
	p := newFakePeripheral("dev-1")
	d := New(p, endpoints(), 0, nil)
	defer d.Disconnect()

	err := d.Write(protocol.HardwareWriteCmd{Endpoint: protocol.EndpointFirmware, Data: []byte{1}})
	require.Error(t, err)
	_, ok := err.(*bperrors.InvalidEndpointError)
	assert.True(t, ok, "expected an *errors.InvalidEndpointError, got %T", err)
}

func TestReadReturnsRawReadingOnSuccess(t *testing.T) {
	p := newFakePeripheral("dev-1")
	p.reads["native-rx"] = []byte{9, 9}
	d := New(p, endpoints(), 0, nil)
	defer d.Disconnect()

	reading, err := d.Read(protocol.HardwareReadCmd{Endpoint: protocol.EndpointRx})
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, reading.Data)
	assert.Equal(t, protocol.EndpointRx, reading.Endpoint)
}

func TestSubscribeAndUnsubscribeForwardToSetNotify(t *testing.T) {
	p := newFakePeripheral("dev-1")
	d := New(p, endpoints(), 0, nil)
	defer d.Disconnect()

	require.NoError(t, d.Subscribe(protocol.EndpointTx))
	assert.True(t, p.notifyCalls["native-tx"])

	require.NoError(t, d.Unsubscribe(protocol.EndpointTx))
	assert.False(t, p.notifyCalls["native-tx"])
}

func TestNotificationOnKnownEndpointIsPublished(t *testing.T) {
	p := newFakePeripheral("dev-1")
	d := New(p, endpoints(), 4, nil)
	defer d.Disconnect()

	sub := d.EventStream()
	p.notifications <- RawNotification{NativeID: "native-rx", Payload: []byte{7}}

	select {
	case v := <-sub.C():
		ev := v.(protocol.HardwareEvent)
		require.NotNil(t, ev.Notification)
		assert.Equal(t, protocol.EndpointRx, ev.Notification.Endpoint)
		assert.Equal(t, []byte{7}, ev.Notification.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected a HardwareEvent notification to be published")
	}
}

func TestDisconnectedCentralEventForThisDevicePublishesAndStopsBridge(t *testing.T) {
	p := newFakePeripheral("dev-1")
	d := New(p, endpoints(), 4, nil)

	sub := d.EventStream()
	p.centralEvents <- CentralEvent{Address: "dev-1", Disconnected: true}

	select {
	case v := <-sub.C():
		ev := v.(protocol.HardwareEvent)
		assert.True(t, ev.Disconnected)
	case <-time.After(time.Second):
		t.Fatal("expected a disconnect HardwareEvent")
	}

	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop after the disconnect event")
	}
}

func TestDisconnectClosesEventStreamAndCallsPeripheralDisconnect(t *testing.T) {
	p := newFakePeripheral("dev-1")
	d := New(p, endpoints(), 4, nil)
	sub := d.EventStream()

	d.Disconnect()

	assert.True(t, p.disconnected)
	_, ok := <-sub.C()
	assert.False(t, ok)
}
