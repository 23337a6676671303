package netemu

import (
	"encoding/json"
	"testing"

	"github.com/kryptco/buttplug/commgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueAnnouncementJSONRoundTrip(t *testing.T) {
	ann := QueueAnnouncement{Address: "sim-1", Name: "Simulated Toy", Protocol: "demo", Endpoint: "reply-queue"}

	body, err := json.Marshal(ann)
	require.NoError(t, err)

	var decoded QueueAnnouncement
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, ann, decoded)
}

func TestHandleBodySkipsUnparseableAndBlankAddress(t *testing.T) {
	out := make(chan commgr.DeviceCommunicationEvent, 4)
	m := &Manager{out: out, seen: map[string]bool{}}

	m.handleBody("not json")
	m.handleBody(`{"address":""}`)

	select {
	case ev := <-out:
		t.Fatalf("expected no event to be emitted, got %+v", ev)
	default:
	}
}

func TestHandleBodyEmitsDeviceFoundOncePerAddress(t *testing.T) {
	out := make(chan commgr.DeviceCommunicationEvent, 4)
	m := &Manager{out: out, seen: map[string]bool{}}

	body, err := json.Marshal(QueueAnnouncement{Address: "sim-1", Name: "Simulated Toy"})
	require.NoError(t, err)

	m.handleBody(string(body))
	m.handleBody(string(body)) // duplicate announcement: must not be re-emitted

	ev := <-out
	require.NotNil(t, ev.DeviceFound)
	assert.Equal(t, "sim-1", ev.DeviceFound.Creator.Address())

	select {
	case second := <-out:
		t.Fatalf("expected the duplicate announcement to be suppressed, got %+v", second)
	default:
	}
}

func TestQueueURLJoinsBaseAndName(t *testing.T) {
	m := &Manager{cfg: Config{BaseQueueURL: "https://sqs.us-east-1.amazonaws.com/", QueueName: "toys"}}
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/toys", m.queueURL())
}

func TestCreatorSpecifierUsesAnnouncedName(t *testing.T) {
	c := &Creator{ann: QueueAnnouncement{Address: "sim-1", Name: "Simulated Toy"}}
	assert.Equal(t, "sim-1", c.Address())
	assert.Equal(t, "Simulated Toy", c.Specifier().Name)
}
