// Package netemu is the "networked emulators" Communication Manager
// spec.md §1 names as a transport but leaves undetailed. It is grounded
// directly in the teacher's dual-medium enclave client (krd's
// BLUETOOTH/SQS split in enclave_client.go) and its aws.go SQS helpers
// (ReceiveAndDeleteFromQueue, SendToQueue, CreateQueue): here, a queue
// stands in for a simulated or remote device rather than a paired
// phone, and each distinct message-producing queue entry becomes one
// discovered peripheral.
package netemu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/kryptco/buttplug/commgr"
	"github.com/kryptco/buttplug/errors"
	"github.com/kryptco/buttplug/hwdriver"
	"github.com/kryptco/buttplug/internal/broadcast"
	"github.com/kryptco/buttplug/protocol"
	"github.com/op/go-logging"
)

// QueueAnnouncement is the JSON body a simulated/remote device publishes
// to announce itself, analogous to the teacher's ciphertext-bearing SQS
// message bodies but carrying a device identity instead of a paired
// phone's ciphertext.
type QueueAnnouncement struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Endpoint string `json:"reply_queue,omitempty"`
}

// Config names the queue to poll and the AWS credentials/region to use,
// mirroring the teacher's hardcoded restricted SQS/SNS credentials in
// getAWSSession.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	QueueName       string
	BaseQueueURL    string
	PollInterval    time.Duration
}

func session_(cfg Config) (client.ConfigProvider, error) {
	creds := credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	awsCfg := aws.NewConfig().WithRegion(cfg.Region).WithCredentials(creds)
	return session.NewSession(awsCfg)
}

// Manager polls one SQS queue for QueueAnnouncement messages and emits
// DeviceFound for each distinct address seen, per spec §4.2.
type Manager struct {
	cfg Config
	sqs *sqs.SQS
	out chan<- commgr.DeviceCommunicationEvent
	log *logging.Logger

	centralEvts *broadcast.Hub

	mu       sync.Mutex
	scanning bool
	cancel   context.CancelFunc
	seen     map[string]bool
}

// NewManager builds a Manager against cfg. The SQS session is created
// eagerly, matching the teacher's getSQSService()/getAWSSession() shape.
func NewManager(cfg Config, out chan<- commgr.DeviceCommunicationEvent, log *logging.Logger) (*Manager, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.BaseQueueURL == "" {
		cfg.BaseQueueURL = "https://sqs." + cfg.Region + ".amazonaws.com/"
	}
	sess, err := session_(cfg)
	if err != nil {
		return nil, errors.NewDeviceConnectionError(err)
	}
	return &Manager{
		cfg:         cfg,
		sqs:         sqs.New(sess),
		out:         out,
		log:         log,
		centralEvts: broadcast.NewHub(64),
		seen:        map[string]bool{},
	}, nil
}

func (m *Manager) queueURL() string { return m.cfg.BaseQueueURL + m.cfg.QueueName }

// StartScanning launches a polling loop that runs until StopScanning or
// a fixed scan window elapses, whichever comes first — the "intrinsic
// endpoint" spec §4.2 requires of every Communication Manager.
func (m *Manager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return nil
	}
	m.scanning = true
	pollCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go m.pollLoop(pollCtx)
	return nil
}

func (m *Manager) pollLoop(ctx context.Context) {
	window := time.After(30 * time.Second)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	defer m.finishScan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-window:
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Manager) finishScan() {
	m.mu.Lock()
	m.scanning = false
	m.mu.Unlock()
	select {
	case m.out <- commgr.DeviceCommunicationEvent{ScanningFinished: true}:
	case <-time.After(time.Second):
	}
}

// pollOnce implements the teacher's ReceiveAndDeleteFromQueue: receive a
// batch, parse each body as a QueueAnnouncement, emit DeviceFound for
// addresses this Manager has not announced before (the set is kept
// across scans), then delete the batch so it is not
// redelivered.
func (m *Manager) pollOnce(ctx context.Context) {
	resp, err := m.sqs.ReceiveMessage(&sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(m.queueURL()),
		MaxNumberOfMessages: aws.Int64(10),
		WaitTimeSeconds:     aws.Int64(1),
	})
	if err != nil {
		if strings.Contains(err.Error(), "AWS.SimpleQueueService.NonExistentQueue") {
			m.createQueue(ctx)
		}
		if m.log != nil {
			m.log.Debug("netemu: receive error:", err)
		}
		return
	}

	var toDelete []*sqs.DeleteMessageBatchRequestEntry
	for i, msg := range resp.Messages {
		toDelete = append(toDelete, &sqs.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: msg.ReceiptHandle,
		})
		m.handleBody(*msg.Body)
	}
	if len(toDelete) > 0 {
		m.sqs.DeleteMessageBatch(&sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(m.queueURL()),
			Entries:  toDelete,
		})
	}
}

func (m *Manager) createQueue(ctx context.Context) {
	_, err := m.sqs.CreateQueue(&sqs.CreateQueueInput{
		QueueName: aws.String(m.cfg.QueueName),
		Attributes: map[string]*string{
			sqs.QueueAttributeNameMessageRetentionPeriod: aws.String("3600"),
			sqs.QueueAttributeNameVisibilityTimeout:      aws.String("1"),
		},
	})
	if err != nil && m.log != nil {
		m.log.Warning("netemu: create queue failed:", err)
	}
}

func (m *Manager) handleBody(body string) {
	var ann QueueAnnouncement
	if err := json.Unmarshal([]byte(body), &ann); err != nil {
		if m.log != nil {
			m.log.Debug("netemu: unparseable queue body, skipping:", err)
		}
		return
	}
	if ann.Address == "" {
		return
	}

	m.mu.Lock()
	if m.seen[ann.Address] {
		m.mu.Unlock()
		return
	}
	m.seen[ann.Address] = true
	m.mu.Unlock()

	creator := &Creator{ann: ann, sqs: m.sqs, queueURL: m.queueURL(), centralEvts: m.centralEvts}
	select {
	case m.out <- commgr.DeviceCommunicationEvent{DeviceFound: &commgr.DeviceFoundEvent{Creator: creator}}:
	default:
		if m.log != nil {
			m.log.Warning("netemu: device manager inbox full, dropping", ann.Address)
		}
	}
}

// StopScanning cancels the poll loop; idempotent.
func (m *Manager) StopScanning(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

var _ commgr.CommunicationManager = (*Manager)(nil)

// Creator is the commgr.DeviceCreator for one announced networked
// emulator. It also implements hwdriver.Connector/Specializer directly
// — a networked emulator has no separate "specialize" phase: unlike
// BLE's service discovery, Specialize maps endpoints without contacting
// any queue.
type Creator struct {
	ann      QueueAnnouncement
	sqs      *sqs.SQS
	queueURL string

	centralEvts *broadcast.Hub
}

func (c *Creator) Address() string { return c.ann.Address }

func (c *Creator) Specifier() hwdriver.Specifier {
	return hwdriver.Specifier{Name: c.ann.Name}
}

// Connect for a networked emulator is trivial: the announcement itself
// is proof of liveness, so Connect always succeeds immediately and
// returns a Specializer over the same Creator.
func (c *Creator) Connect(ctx context.Context) (hwdriver.Specializer, error) {
	return c, nil
}

// Specialize resolves every required Endpoint to a synthetic nativeID
// of "<endpoint>" — a networked emulator has no native characteristic
// space, so the identity mapping is exact.
func (c *Creator) Specialize(ctx context.Context, required []protocol.Endpoint) (*hwdriver.Driver, error) {
	endpoints := make(map[protocol.Endpoint]string, len(required))
	for _, ep := range required {
		endpoints[ep] = string(ep)
	}
	adapter := &peripheralAdapter{
		creator:       c,
		notifications: make(chan hwdriver.RawNotification, 16),
		centralSub:    c.centralEvts.Subscribe(),
		centralOut:    make(chan hwdriver.CentralEvent, 2),
	}
	go adapter.forwardCentralEvents()
	return hwdriver.New(adapter, endpoints, 0, nil), nil
}

// peripheralAdapter implements hwdriver.Peripheral by publishing
// commands to the emulator's reply queue as JSON envelopes, the
// networked equivalent of writing a GATT characteristic.
type peripheralAdapter struct {
	creator *Creator

	notifications chan hwdriver.RawNotification
	centralSub    *broadcast.Subscription
	centralOut    chan hwdriver.CentralEvent
}

type wireEnvelope struct {
	Endpoint string `json:"endpoint"`
	Data     []byte `json:"data"`
}

func (a *peripheralAdapter) Address() string { return a.creator.Address() }

func (a *peripheralAdapter) send(ep, replyQueue string, data []byte) error {
	body, err := json.Marshal(wireEnvelope{Endpoint: ep, Data: data})
	if err != nil {
		return err
	}
	target := a.creator.ann.Endpoint
	if target == "" {
		target = a.creator.queueURL
	} else if !strings.HasPrefix(target, "http") {
		target = strings.TrimSuffix(a.creator.queueURL, "") + "-" + target
	}
	_, err = a.creator.sqs.SendMessage(&sqs.SendMessageInput{
		QueueUrl:    aws.String(target),
		MessageBody: aws.String(string(body)),
	})
	return err
}

func (a *peripheralAdapter) WriteCharacteristic(nativeID string, data []byte, withResponse bool) error {
	return a.send(nativeID, a.creator.ann.Endpoint, data)
}

func (a *peripheralAdapter) ReadCharacteristic(nativeID string) ([]byte, error) {
	return nil, fmt.Errorf("netemu: synchronous read is not supported over a queue transport for endpoint %s", nativeID)
}

func (a *peripheralAdapter) SetNotify(nativeID string, enable bool) error { return nil }

func (a *peripheralAdapter) Notifications() <-chan hwdriver.RawNotification { return a.notifications }

func (a *peripheralAdapter) CentralEvents() <-chan hwdriver.CentralEvent { return a.centralOut }

func (a *peripheralAdapter) forwardCentralEvents() {
	defer close(a.centralOut)
	for v := range a.centralSub.C() {
		ev, ok := v.(hwdriver.CentralEvent)
		if !ok || ev.Address != a.Address() {
			continue
		}
		a.centralOut <- ev
		if ev.Disconnected {
			return
		}
	}
}

func (a *peripheralAdapter) Disconnect() error {
	a.centralSub.Unsubscribe()
	a.creator.centralEvts.Publish(hwdriver.CentralEvent{Address: a.Address(), Disconnected: true})
	return nil
}

var _ hwdriver.Peripheral = (*peripheralAdapter)(nil)
var _ hwdriver.Connector = (*Creator)(nil)
var _ hwdriver.Specializer = (*Creator)(nil)
var _ commgr.DeviceCreator = (*Creator)(nil)
