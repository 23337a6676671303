package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kryptco/buttplug/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConnector is a scripted Connector: Send returns whatever response
// the test enqueues for the message it receives, and Events lets the
// test push unsolicited server messages (DeviceAdded, DeviceRemoved).
type fakeConnector struct {
	mu          sync.Mutex
	sendReplies map[string]protocol.ServerMessage
	events      chan protocol.ServerMessage
	disconnects int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		sendReplies: map[string]protocol.ServerMessage{},
		events:      make(chan protocol.ServerMessage, 16),
	}
}

func (f *fakeConnector) Send(ctx context.Context, msg protocol.ClientMessage) (protocol.ServerMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case msg.RequestDeviceList:
		return f.sendReplies["RequestDeviceList"], nil
	case msg.DeviceCommand != nil:
		return protocol.ServerMessage{Ok: &protocol.Ok{}}, nil
	case msg.ManagerCommand != nil:
		return protocol.ServerMessage{Ok: &protocol.Ok{}}, nil
	}
	return protocol.ServerMessage{}, nil
}

func (f *fakeConnector) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeConnector) Events() <-chan protocol.ServerMessage { return f.events }

func TestDeviceAddedCreatesHandleAndRosterEntry(t *testing.T) {
	conn := newFakeConnector()
	var added []*ClientDevice
	var mu sync.Mutex
	c := New(conn, nil, OnDeviceAdded(func(d *ClientDevice) {
		mu.Lock()
		added = append(added, d)
		mu.Unlock()
	}))
	go c.Run()

	conn.events <- protocol.ServerMessage{DeviceAdded: &protocol.DeviceAdded{
		Index: 0, Name: "Dev", SupportedMessages: protocol.MessageAttributes{},
	}}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(added) == 1
	}, time.Second, 10*time.Millisecond)

	roster := c.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "Dev", roster[0].Name)
}

// Round-trip property (spec §8): a DeviceList pushed to the client loop
// produces one DeviceAdded-equivalent handle per entry.
func TestDeviceListProducesOneHandlePerEntry(t *testing.T) {
	conn := newFakeConnector()
	var count int
	var mu sync.Mutex
	c := New(conn, nil, OnDeviceAdded(func(d *ClientDevice) {
		mu.Lock()
		count++
		mu.Unlock()
	}))
	go c.Run()

	conn.events <- protocol.ServerMessage{DeviceList: &protocol.DeviceList{Devices: []protocol.DeviceMessageInfo{
		{Index: 0, Name: "A"},
		{Index: 1, Name: "B"},
	}}}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, 10*time.Millisecond)
}

func TestDeviceRemovedClosesHandleChannelAndDropsRoster(t *testing.T) {
	conn := newFakeConnector()
	handleCh := make(chan *ClientDevice, 1)
	c := New(conn, nil, OnDeviceAdded(func(d *ClientDevice) { handleCh <- d }))
	go c.Run()

	conn.events <- protocol.ServerMessage{DeviceAdded: &protocol.DeviceAdded{Index: 0, Name: "Dev"}}
	handle := <-handleCh

	conn.events <- protocol.ServerMessage{DeviceRemoved: &protocol.DeviceRemoved{Index: 0}}

	select {
	case _, ok := <-handle.Events():
		assert.False(t, ok, "handle channel should close on removal")
	case <-time.After(time.Second):
		t.Fatal("handle channel never closed")
	}

	require.Eventually(t, func() bool { return len(c.Roster()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRequestDeviceListPopulatesRosterFromReply(t *testing.T) {
	conn := newFakeConnector()
	conn.sendReplies["RequestDeviceList"] = protocol.ServerMessage{
		DeviceList: &protocol.DeviceList{Devices: []protocol.DeviceMessageInfo{{Index: 5, Name: "Five"}}},
	}
	c := New(conn, nil)
	go c.Run()

	resp, err := c.RequestDeviceList(context.Background())
	require.NoError(t, err)
	require.NotNil(t, resp.DeviceList)

	require.Eventually(t, func() bool {
		_, ok := c.Roster()[5]
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectTerminatesLoopAndCallsConnector(t *testing.T) {
	conn := newFakeConnector()
	c := New(conn, nil)
	go c.Run()

	require.NoError(t, c.Disconnect(context.Background()))

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not terminate on disconnect")
	}
	assert.Equal(t, 1, conn.disconnects)
}

func TestConnectorEventChannelCloseTerminatesLoop(t *testing.T) {
	conn := newFakeConnector()
	c := New(conn, nil)
	go c.Run()

	close(conn.events)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not terminate on connector channel close")
	}
}
