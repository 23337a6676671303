package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish("hello")

	select {
	case v := <-a.C():
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("subscriber a never received the published value")
	}
	select {
	case v := <-b.C():
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("subscriber b never received the published value")
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	done := make(chan struct{})
	go func() {
		h.Publish("dropped")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with zero subscribers")
	}
	assert.False(t, h.HasSubscribers())
}

func TestFullSubscriberChannelLagDropsRatherThanBlocking(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe()
	h.Publish(1)
	h.Publish(2) // subscriber hasn't read the first value yet: this one drops

	select {
	case v := <-sub.C():
		assert.Equal(t, 1, v)
	case <-time.After(time.Second):
		t.Fatal("expected the first published value to be buffered")
	}
	select {
	case v := <-sub.C():
		t.Fatalf("expected the second publish to have been dropped, got %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestCloseClosesEveryLiveSubscriptionAndFutureOnes(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe()
	h.Close()

	_, ok := <-sub.C()
	assert.False(t, ok, "pre-existing subscription should observe closure")

	late := h.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing after Close should return an already-closed channel")
}

func TestHasSubscribersReflectsLiveCount(t *testing.T) {
	h := NewHub(1)
	require.False(t, h.HasSubscribers())
	sub := h.Subscribe()
	require.True(t, h.HasSubscribers())
	sub.Unsubscribe()
	require.False(t, h.HasSubscribers())
}
