package inprocess

import (
	"context"
	"testing"
	"time"

	"github.com/kryptco/buttplug/client"
	"github.com/kryptco/buttplug/commgr/fake"
	"github.com/kryptco/buttplug/devicemgr"
	"github.com/kryptco/buttplug/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientThroughInProcessConnectorSeesDeviceAdded exercises the full
// stack this package exists to glue together: Device Manager ->
// in-process Connector -> Client Event Loop, reproducing spec §8
// scenario 1 across the transport boundary instead of directly against
// the Manager.
func TestClientThroughInProcessConnectorSeesDeviceAdded(t *testing.T) {
	identifier := fake.NewIdentifier()
	mgr := devicemgr.New(identifier, 16, nil)
	commMgr := fake.NewManager(mgr.CommEventChan())
	mgr.AddCommunicationManager(commMgr)
	go mgr.Run(nil)

	conn := New(mgr)
	go conn.Run()

	var added []*client.ClientDevice
	addedCh := make(chan struct{}, 1)
	cl := client.New(conn, nil, client.OnDeviceAdded(func(d *client.ClientDevice) {
		added = append(added, d)
		addedCh <- struct{}{}
	}))
	go cl.Run()

	dev := fake.NewDevice("Test Vibrator", protocol.MessageAttributes{})
	identifier.Bind("AA:BB:CC", dev)
	commMgr.Enqueue(&fake.Creator{Addr: "AA:BB:CC", Protocol: "testproto", Name: "Test Vibrator"})

	_, err := cl.ManagerCommand(context.Background(), protocol.ManagerCommand{StartScanning: &protocol.StartScanning{}})
	require.NoError(t, err)

	select {
	case <-addedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed DeviceAdded through the in-process connector")
	}
	require.Len(t, added, 1)
	assert.Equal(t, "Test Vibrator", added[0].Info.Name)

	require.NoError(t, cl.Disconnect(context.Background()))
}
