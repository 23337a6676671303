// Package devicemgr implements the Device Manager Event Loop (spec
// §4.3): index allocation, the concurrent device registry, per-device
// protocol identification, fan-in of driver events, and the
// ping-timeout safety watchdog. Grounded in the teacher's own daemon
// loop shape (krd's control-server-over-a-single-goroutine pattern) and
// its enclave client's single-threaded request bookkeeping.
package devicemgr

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/kryptco/buttplug/commgr"
	"github.com/kryptco/buttplug/errors"
	"github.com/kryptco/buttplug/internal/bplog"
	"github.com/kryptco/buttplug/protocol"
	"github.com/op/go-logging"
)

// identificationWarnCacheSize bounds the "already logged an
// identification failure for this address" de-dup set (spec §4.1's
// per-driver once-only logging rule, generalized here to the Device
// Manager's own repeated-rescan case: a BLE peripheral that never
// matches any protocol is rediscovered every scan window). A bounded
// LRU, not an unbounded map, since addresses come from untrusted
// transports and should not grow the manager's memory without limit.
const identificationWarnCacheSize = 256

// taggedDeviceEvent is channel (b) from spec §4.3: a DeviceInternalEvent
// already known to belong to one index.
type taggedDeviceEvent struct {
	index protocol.DeviceIndex
	event commgr.DeviceInternalEvent
}

// Manager owns device indexing, the registry, and the loop. Construct
// with New, register CommunicationManagers with AddCommunicationManager
// before calling Run.
type Manager struct {
	log        *logging.Logger
	identifier commgr.Identifier

	nextIndex uint32 // atomic, fetch-and-increment

	reg *registry

	commEventCh   chan commgr.DeviceCommunicationEvent
	deviceEventCh chan taggedDeviceEvent
	outCh         chan protocol.ServerMessage

	managersMu sync.Mutex
	managers   []commgr.CommunicationManager

	warnedIdentificationFailures *lru.Cache

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a Manager. identifier performs protocol matching for newly
// discovered creators (spec §6 "To Protocol Drivers"); outBufLen sizes
// the outbound ServerMessage channel.
func New(identifier commgr.Identifier, outBufLen int, log *logging.Logger) *Manager {
	if outBufLen <= 0 {
		outBufLen = 64
	}
	warnCache, _ := lru.New(identificationWarnCacheSize)
	return &Manager{
		log:                          log,
		identifier:                   identifier,
		reg:                          newRegistry(),
		commEventCh:                  make(chan commgr.DeviceCommunicationEvent, 64),
		deviceEventCh:                make(chan taggedDeviceEvent, 64),
		outCh:                        make(chan protocol.ServerMessage, outBufLen),
		warnedIdentificationFailures: warnCache,
		done:                         make(chan struct{}),
	}
}

// CommEventChan is the single merged inbox every CommunicationManager
// this Manager owns should be constructed to publish into (spec §4.3
// input (a)).
func (m *Manager) CommEventChan() chan<- commgr.DeviceCommunicationEvent {
	return m.commEventCh
}

// AddCommunicationManager registers mgr as one of the Device Manager's
// discovery sources (spec §4.2: "The Device Manager holds zero or
// more").
func (m *Manager) AddCommunicationManager(mgr commgr.CommunicationManager) {
	m.managersMu.Lock()
	defer m.managersMu.Unlock()
	m.managers = append(m.managers, mgr)
}

// Out is the outbound ServerMessage channel the server/connector layer
// reads from.
func (m *Manager) Out() <-chan protocol.ServerMessage {
	return m.outCh
}

// Done closes once the loop has exited, for any reason (spec §4.3
// "Loop termination").
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Run is the Device Manager Event Loop. It returns when the
// communication-event channel closes, the device-event channel closes,
// or pingTimeout fires — whichever comes first (spec §4.3, §5).
func (m *Manager) Run(pingTimeout <-chan struct{}) {
	defer m.closeOnce.Do(func() { close(m.done) })
	defer close(m.outCh)
	for {
		select {
		case ev, ok := <-m.commEventCh:
			if !ok {
				return
			}
			m.handleCommEvent(ev)
		case tev, ok := <-m.deviceEventCh:
			if !ok {
				return
			}
			m.handleDeviceEvent(tev)
		case <-pingTimeout:
			m.handlePingTimeout()
			return
		}
	}
}

func (m *Manager) handleCommEvent(ev commgr.DeviceCommunicationEvent) {
	switch {
	case ev.DeviceFound != nil:
		m.spawnIdentification(ev.DeviceFound.Creator)
	case ev.DeviceConnected != nil:
		idx, dev := ev.DeviceConnected.Index, ev.DeviceConnected.Device
		m.reg.insert(idx, dev)
		go bplog.RecoverToLog(func() { m.forwardDeviceEvents(idx, dev) }, m.log)
	case ev.ScanningFinished:
		// Decision recorded in SPEC_FULL.md: forwarded per-manager, not
		// aggregated across all registered managers.
		m.outCh <- protocol.ServerMessage{ScanningFinished: &protocol.ScanningFinished{}}
	}
}

// spawnIdentification allocates an index up front (so it is never
// reused even on identification failure, per spec §9) and runs
// try_create_device off-loop, reinjecting DeviceConnected once it
// succeeds so the registry write stays on the loop goroutine (spec §9
// "Reinjection of DeviceConnected").
func (m *Manager) spawnIdentification(creator commgr.DeviceCreator) {
	idx := protocol.DeviceIndex(atomic.AddUint32(&m.nextIndex, 1) - 1)
	go bplog.RecoverToLog(func() {
		ctx := context.Background()
		dev, err := m.identifier.TryCreateDevice(ctx, creator)
		if err != nil {
			m.logIdentificationFailureOnce(creator.Address(), err)
			return
		}
		if dev == nil {
			m.logIdentificationFailureOnce(creator.Address(), nil)
			return
		}
		m.outCh <- protocol.ServerMessage{DeviceAdded: &protocol.DeviceAdded{
			Index:             idx,
			Name:              dev.Name(),
			SupportedMessages: dev.SupportedMessages(),
		}}
		m.commEventCh <- commgr.DeviceCommunicationEvent{
			DeviceConnected: &commgr.DeviceConnectedEvent{Index: idx, Device: dev},
		}
	}, m.log)
}

// logIdentificationFailureOnce logs the first identification miss for
// addr and stays silent on every subsequent one, the same "log once per
// lifetime" shape spec §4.1 specifies for a driver's unknown-endpoint
// notifications — generalized here across repeated discoveries of one
// persistently unidentifiable address.
func (m *Manager) logIdentificationFailureOnce(addr string, err error) {
	if m.warnedIdentificationFailures == nil || m.log == nil {
		return
	}
	if m.warnedIdentificationFailures.Contains(addr) {
		return
	}
	m.warnedIdentificationFailures.Add(addr, struct{}{})
	if err != nil {
		m.log.Debugf("identification failed for %s: %v", addr, err)
		return
	}
	m.log.Debugf("no protocol matched %s", addr)
}

// forwardDeviceEvents subscribes to dev's internal event stream and
// tags each with idx before handing it to the loop (spec §4.3 input
// (b)).
func (m *Manager) forwardDeviceEvents(idx protocol.DeviceIndex, dev commgr.Device) {
	for ev := range dev.Events() {
		m.deviceEventCh <- taggedDeviceEvent{index: idx, event: ev}
	}
}

func (m *Manager) handleDeviceEvent(tev taggedDeviceEvent) {
	if tev.event.Removed {
		m.reg.evict(tev.index)
		m.outCh <- protocol.ServerMessage{DeviceRemoved: &protocol.DeviceRemoved{Index: tev.index}}
	}
}

// handlePingTimeout issues StopDeviceCmd to every device currently in
// the registry, logging (never failing on) per-device errors, per spec
// §4.3/§7.
func (m *Manager) handlePingTimeout() {
	ctx := context.Background()
	for idx, dev := range m.reg.all() {
		if err := dev.HandleCommand(ctx, protocol.DeviceCommand{
			DeviceIndex:   idx,
			StopDeviceCmd: &protocol.StopDeviceCmd{},
		}); err != nil && m.log != nil {
			m.log.Error("ping timeout stop error for device", idx, ":", err)
		}
	}
}

// RequestDeviceList snapshots the registry (spec §4.3 "parse_message").
func (m *Manager) RequestDeviceList() protocol.DeviceList {
	return protocol.DeviceList{Devices: m.reg.snapshotList()}
}

// StopAllDevices issues StopDeviceCmd(1) to every registered device.
// Individual errors are logged, not failed; the batch itself always
// returns nil once dispatch to every device has been attempted (spec
// §7 "the batch itself returns Ok if at least the dispatch succeeded").
func (m *Manager) StopAllDevices(ctx context.Context) error {
	for idx, dev := range m.reg.all() {
		if err := dev.HandleCommand(ctx, protocol.DeviceCommand{
			DeviceIndex:   idx,
			StopDeviceCmd: &protocol.StopDeviceCmd{},
		}); err != nil && m.log != nil {
			m.log.Error("stop-all error for device", idx, ":", err)
		}
	}
	return nil
}

// StartScanning fans out to every registered CommunicationManager.
// Fails with UnknownError if none are registered (spec §4.3, §7).
func (m *Manager) StartScanning(ctx context.Context) error {
	return m.fanOutScan(ctx, func(mgr commgr.CommunicationManager) error {
		return mgr.StartScanning(ctx)
	})
}

// StopScanning fans out to every registered CommunicationManager.
func (m *Manager) StopScanning(ctx context.Context) error {
	return m.fanOutScan(ctx, func(mgr commgr.CommunicationManager) error {
		return mgr.StopScanning(ctx)
	})
}

func (m *Manager) fanOutScan(ctx context.Context, f func(commgr.CommunicationManager) error) error {
	m.managersMu.Lock()
	managers := make([]commgr.CommunicationManager, len(m.managers))
	copy(managers, m.managers)
	m.managersMu.Unlock()

	if len(managers) == 0 {
		return &errors.UnknownError{Message: "no communication managers registered"}
	}

	var wg sync.WaitGroup
	for _, mgr := range managers {
		wg.Add(1)
		go func(mgr commgr.CommunicationManager) {
			defer wg.Done()
			if err := f(mgr); err != nil && m.log != nil {
				m.log.Error("communication manager scan error:", err)
			}
		}(mgr)
	}
	wg.Wait()
	return nil
}

// Dispatch hands a device-addressed command to the device at
// cmd.DeviceIndex, translating an absent/removed index into DeviceError
// per spec §4.3/§7.
func (m *Manager) Dispatch(ctx context.Context, cmd protocol.DeviceCommand) error {
	dev, ok := m.reg.get(cmd.DeviceIndex)
	if !ok {
		return errors.NewDeviceError(uint32(cmd.DeviceIndex))
	}
	return dev.HandleCommand(ctx, cmd)
}
