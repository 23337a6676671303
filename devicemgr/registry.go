package devicemgr

import (
	"sync/atomic"

	"github.com/kryptco/buttplug/commgr"
	"github.com/kryptco/buttplug/protocol"
)

// registry is the concurrent-readable device map from spec §3: one
// writer (the Device Manager loop), many readers. Readers never block
// writers. Modeled as spec §9 instructs — an RCU-style immutable
// snapshot behind atomic.Value — rather than a mutex around the map,
// since a coarse lock would serialize command dispatch against
// identification. insert and evict each store a new snapshot at once —
// the "refresh" point spec §3 calls out — so a write is visible to
// every read that loads after it.
//
// This is the one place in the module that reaches for sync/atomic
// instead of a library from the example pack: none of the pack's
// dependencies provide an unbounded concurrent map with this
// single-writer/many-reader/snapshot-read shape (golang-lru is a
// bounded, evicting cache — the wrong tool for an authoritative
// registry), and spec §9 names this exact construction by name
// ("epoch/arc-swap / lock-free hash / RCU-style snapshot").
type registry struct {
	snapshot atomic.Value // map[protocol.DeviceIndex]commgr.Device
}

func newRegistry() *registry {
	r := &registry{}
	r.snapshot.Store(map[protocol.DeviceIndex]commgr.Device{})
	return r
}

// load returns the current published snapshot. Safe to call from any
// goroutine without synchronization.
func (r *registry) load() map[protocol.DeviceIndex]commgr.Device {
	return r.snapshot.Load().(map[protocol.DeviceIndex]commgr.Device)
}

// insert stages index -> device and publishes immediately. Only called
// from the Device Manager loop.
func (r *registry) insert(index protocol.DeviceIndex, device commgr.Device) {
	cur := r.load()
	next := make(map[protocol.DeviceIndex]commgr.Device, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[index] = device
	r.snapshot.Store(next)
}

// evict removes index and publishes immediately. Only called from the
// Device Manager loop.
func (r *registry) evict(index protocol.DeviceIndex) {
	cur := r.load()
	if _, ok := cur[index]; !ok {
		return
	}
	next := make(map[protocol.DeviceIndex]commgr.Device, len(cur))
	for k, v := range cur {
		if k != index {
			next[k] = v
		}
	}
	r.snapshot.Store(next)
}

// get reads a single device by index.
func (r *registry) get(index protocol.DeviceIndex) (commgr.Device, bool) {
	d, ok := r.load()[index]
	return d, ok
}

// snapshotList returns a DeviceMessageInfo for every registered device,
// derived from each Device's own Name/SupportedMessages, for
// RequestDeviceList.
func (r *registry) snapshotList() []protocol.DeviceMessageInfo {
	cur := r.load()
	out := make([]protocol.DeviceMessageInfo, 0, len(cur))
	for idx, dev := range cur {
		out = append(out, protocol.DeviceMessageInfo{
			Index:             idx,
			Name:              dev.Name(),
			SupportedMessages: dev.SupportedMessages(),
		})
	}
	return out
}

// all returns every currently registered (index, device) pair, used by
// the ping-timeout stop-all and by StopAllDevices.
func (r *registry) all() map[protocol.DeviceIndex]commgr.Device {
	return r.load()
}
