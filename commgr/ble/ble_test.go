package ble

import (
	"testing"

	"github.com/kryptco/buttplug/protocol"
	"github.com/stretchr/testify/assert"
)

// EndpointUUIDs is the one piece of this package testable without a live
// gatt.Device/Peripheral (those come from the paypal/gatt central and
// have no in-repo fake, matching the teacher's own untested
// bluetooth_linux.go/bluetooth_darwin.go).
func TestEndpointUUIDsCoversEveryDeclaredEndpoint(t *testing.T) {
	for _, ep := range []protocol.Endpoint{
		protocol.EndpointTx,
		protocol.EndpointRx,
		protocol.EndpointCommand,
		protocol.EndpointFirmware,
	} {
		_, ok := EndpointUUIDs[ep]
		assert.True(t, ok, "missing characteristic UUID binding for endpoint %s", ep)
	}
}

func TestEndpointUUIDsAreAllDistinct(t *testing.T) {
	seen := map[string]protocol.Endpoint{}
	for ep, id := range EndpointUUIDs {
		if other, dup := seen[id.String()]; dup {
			t.Fatalf("endpoints %s and %s share the same characteristic UUID %s", ep, other, id)
		}
		seen[id.String()] = ep
	}
}
