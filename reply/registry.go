package reply

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// Registry correlates outbound request IDs to the Slot awaiting their
// reply, exactly the role requestCallbacksByRequestID plays in the
// teacher's enclave client. Bounded by an LRU so a connector that never
// replies to some request cannot leak Slots forever; an evicted Slot is
// fulfilled with ErrCancelled so its waiter doesn't hang.
type Registry struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewRegistry creates a Registry capped at maxPending outstanding
// requests.
func NewRegistry(maxPending int) *Registry {
	r := &Registry{cache: lru.New(maxPending)}
	r.cache.OnEvicted = func(_ lru.Key, value interface{}) {
		if slot, ok := value.(*Slot); ok {
			slot.Fulfill(ErrCancelled)
		}
	}
	return r
}

// Register installs slot under id, replacing (and cancelling) whatever
// was registered there before.
func (r *Registry) Register(id string, slot *Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.cache.Get(id); ok {
		if oldSlot, ok := old.(*Slot); ok && oldSlot != slot {
			oldSlot.Fulfill(ErrCancelled)
		}
	}
	r.cache.Add(id, slot)
}

// Resolve looks up and removes the Slot registered under id, then
// fulfils it with v. Returns false if no Slot was registered — a reply
// to a request this process never sent or already resolved.
func (r *Registry) Resolve(id string, v interface{}) bool {
	r.mu.Lock()
	slotI, ok := r.cache.Get(id)
	if ok {
		// Remove would run OnEvicted and fulfil the Slot with ErrCancelled
		// before v; detach the callback for this removal only.
		onEvicted := r.cache.OnEvicted
		r.cache.OnEvicted = nil
		r.cache.Remove(id)
		r.cache.OnEvicted = onEvicted
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	slotI.(*Slot).Fulfill(v)
	return true
}

// CancelAll fulfils every pending Slot with ErrCancelled and empties
// the registry. Called when the owning loop exits (spec §4.4:
// "Channel closure ... causes the loop to exit ... pending outbound
// messages fail").
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.cache.Len() > 0 {
		r.cache.RemoveOldest()
	}
}
