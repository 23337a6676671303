// Package serial is the serial-port Communication Manager named in
// spec.md §1's transport list but, like netemu, left for this
// expansion to flesh out. It grounds the "serial" transport in
// golang.org/x/sys/unix termios control, the one pack dependency with
// no higher-level Go wrapper among the example repos' own third-party
// stack — the teacher's own tree only reaches x/sys transitively
// (kr_windows.go's golang.org/x/sys/windows), so this package is this
// core's first direct, POSIX-side use of it.
package serial

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kryptco/buttplug/commgr"
	"github.com/kryptco/buttplug/errors"
	"github.com/kryptco/buttplug/hwdriver"
	"github.com/kryptco/buttplug/protocol"
	"github.com/op/go-logging"
	"golang.org/x/sys/unix"
)

// Config names the device-file glob to enumerate (e.g. "/dev/ttyACM*"
// or "/dev/ttyUSB*") and the line discipline to apply.
type Config struct {
	Glob     string
	BaudRate uint32
}

// Manager enumerates device files matching cfg.Glob as discovered
// peripherals (spec §4.2). Unlike BLE/netemu there is no asynchronous
// discovery protocol to wait on: a scan is one pass over the
// filesystem, so ScanningFinished follows immediately.
type Manager struct {
	cfg Config
	out chan<- commgr.DeviceCommunicationEvent
	log *logging.Logger

	mu   sync.Mutex
	seen map[string]bool
}

func NewManager(cfg Config, out chan<- commgr.DeviceCommunicationEvent, log *logging.Logger) *Manager {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = unix.B115200
	}
	return &Manager{cfg: cfg, out: out, log: log, seen: map[string]bool{}}
}

func (m *Manager) StartScanning(ctx context.Context) error {
	matches, err := filepath.Glob(m.cfg.Glob)
	if err != nil {
		return errors.NewDeviceConnectionError(err)
	}
	m.mu.Lock()
	for _, path := range matches {
		if m.seen[path] {
			continue
		}
		m.seen[path] = true
		creator := &Creator{path: path, baud: m.cfg.BaudRate}
		select {
		case m.out <- commgr.DeviceCommunicationEvent{DeviceFound: &commgr.DeviceFoundEvent{Creator: creator}}:
		default:
			if m.log != nil {
				m.log.Warning("serial: device manager inbox full, dropping", path)
			}
		}
	}
	m.mu.Unlock()

	select {
	case m.out <- commgr.DeviceCommunicationEvent{ScanningFinished: true}:
	case <-time.After(time.Second):
	}
	return nil
}

func (m *Manager) StopScanning(ctx context.Context) error { return nil }

var _ commgr.CommunicationManager = (*Manager)(nil)

// Creator is the commgr.DeviceCreator for one serial device file.
type Creator struct {
	path string
	baud uint32
}

func (c *Creator) Address() string { return c.path }

func (c *Creator) Specifier() hwdriver.Specifier { return hwdriver.Specifier{Name: c.path} }

// Connect opens the device file and puts it into raw mode via
// termios, the x/sys/unix ioctl sequence standing in for the
// teacher's cgo CoreBluetooth bridge on the BLE side.
func (c *Creator) Connect(ctx context.Context) (hwdriver.Specializer, error) {
	f, err := os.OpenFile(c.path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, errors.NewDeviceConnectionError(err)
	}
	if err := setRawMode(f, c.baud); err != nil {
		f.Close()
		return nil, errors.NewDeviceConnectionError(err)
	}
	return &specializer{path: c.path, file: f}, nil
}

func setRawMode(f *os.File, baud uint32) error {
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("serial: get termios: %w", err)
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | baud
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("serial: set termios: %w", err)
	}
	return nil
}

type specializer struct {
	path string
	file *os.File
}

func (s *specializer) Address() string { return s.path }

// Specialize maps every required Endpoint onto the same underlying
// file descriptor: a serial link is a single duplex pipe, so all
// logical endpoints share one nativeID.
func (s *specializer) Specialize(ctx context.Context, required []protocol.Endpoint) (*hwdriver.Driver, error) {
	const nativeID = "serial"
	endpoints := make(map[protocol.Endpoint]string, len(required))
	for _, ep := range required {
		endpoints[ep] = nativeID
	}
	adapter := &peripheralAdapter{
		path:          s.path,
		file:          s.file,
		notifications: make(chan hwdriver.RawNotification, 32),
		centralOut:    make(chan hwdriver.CentralEvent, 2),
		stop:          make(chan struct{}),
	}
	go adapter.readLoop()
	return hwdriver.New(adapter, endpoints, 0, nil), nil
}

// peripheralAdapter implements hwdriver.Peripheral over a raw-mode
// serial file descriptor. Because serial links have no native
// subscribe/unsubscribe, SetNotify just gates whether readLoop's bytes
// are surfaced as notifications.
type peripheralAdapter struct {
	path string
	file *os.File

	notifyMu sync.Mutex
	notify   bool

	notifications chan hwdriver.RawNotification
	centralOut    chan hwdriver.CentralEvent
	stop          chan struct{}
	stopOnce      sync.Once
}

func (a *peripheralAdapter) Address() string { return a.path }

func (a *peripheralAdapter) WriteCharacteristic(nativeID string, data []byte, withResponse bool) error {
	_, err := a.file.Write(data)
	if err != nil {
		return errors.NewDeviceSpecificError(err)
	}
	return nil
}

func (a *peripheralAdapter) ReadCharacteristic(nativeID string) ([]byte, error) {
	buf := make([]byte, 256)
	n, err := a.file.Read(buf)
	if err != nil {
		return nil, errors.NewDeviceSpecificError(err)
	}
	return buf[:n], nil
}

func (a *peripheralAdapter) SetNotify(nativeID string, enable bool) error {
	a.notifyMu.Lock()
	a.notify = enable
	a.notifyMu.Unlock()
	return nil
}

// readLoop continuously reads from the file descriptor and, while
// notifications are enabled, forwards bytes as RawNotification — the
// serial equivalent of a GATT characteristic's notify callback.
func (a *peripheralAdapter) readLoop() {
	buf := make([]byte, 256)
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		n, err := a.file.Read(buf)
		if err != nil {
			a.centralOut <- hwdriver.CentralEvent{Address: a.path, Disconnected: true}
			return
		}
		if n == 0 {
			continue
		}
		a.notifyMu.Lock()
		notify := a.notify
		a.notifyMu.Unlock()
		if !notify {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case a.notifications <- hwdriver.RawNotification{NativeID: "serial", Payload: payload}:
		default:
		}
	}
}

func (a *peripheralAdapter) Notifications() <-chan hwdriver.RawNotification { return a.notifications }

func (a *peripheralAdapter) CentralEvents() <-chan hwdriver.CentralEvent { return a.centralOut }

func (a *peripheralAdapter) Disconnect() error {
	a.stopOnce.Do(func() { close(a.stop) })
	return a.file.Close()
}

var _ hwdriver.Peripheral = (*peripheralAdapter)(nil)
var _ hwdriver.Connector = (*Creator)(nil)
var _ hwdriver.Specializer = (*specializer)(nil)
