// Package session owns the single messaging client of the process: it
// guards initialization, exposes the READY client and re-arms the session
// after a disconnection.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"shopbot/pkg/bus"
	"shopbot/pkg/errkind"
	"shopbot/pkg/logger"
	"shopbot/pkg/messaging"
)

// ErrPending is returned by Acquire while another caller is initializing the
// session or the live client is resyncing. Callers should retry later.
var ErrPending = errors.New("session not ready yet")

type Options struct {
	Connector      messaging.Connector
	Bus            *bus.MessageBus
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	// QRWriter receives a terminal rendering of pairing codes when set.
	QRWriter io.Writer
}

type Snapshot struct {
	State        messaging.State `json:"state"`
	Initializing bool            `json:"initializing"`
	Since        time.Time       `json:"since"`
	Reconnects   int             `json:"reconnects"`
	Pairing      bool            `json:"pairing"`
}

type Manager struct {
	connector      messaging.Connector
	bus            *bus.MessageBus
	reconnectDelay time.Duration
	connectTimeout time.Duration
	qrWriter       io.Writer

	// after schedules f once after d and returns a stop func; replaced in tests
	after func(d time.Duration, f func()) func() bool

	mu               sync.Mutex
	client           messaging.Client
	state            messaging.State
	since            time.Time
	initializing     bool
	lostDuringInit   bool
	generation       uint64
	reconnectPending bool
	stopReconnect    func() bool
	reconnects       int
	pairingCode      string
	observers        []func(messaging.State)
	stopped          bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		connector:      opts.Connector,
		bus:            opts.Bus,
		reconnectDelay: opts.ReconnectDelay,
		connectTimeout: opts.ConnectTimeout,
		qrWriter:       opts.QRWriter,
		after: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		state:  messaging.StateDisconnected,
		since:  time.Now(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start performs the initial acquisition.
func (m *Manager) Start(ctx context.Context) error {
	_, err := m.Acquire(ctx)
	return err
}

// Acquire returns the READY client, creating it when none exists. While an
// initialization is in flight every other caller gets ErrPending. A failed
// initialization is reported as a SessionInit error and is not retried.
func (m *Manager) Acquire(ctx context.Context) (messaging.Client, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, errkind.Errorf(errkind.SessionInit, "session.acquire", "manager stopped")
	}
	if m.client != nil && m.state == messaging.StateReady {
		c := m.client
		m.mu.Unlock()
		return c, nil
	}
	// a live client that is not READY is resyncing; only DISCONNECTED clears it
	if m.initializing || m.client != nil {
		m.mu.Unlock()
		return nil, ErrPending
	}
	m.initializing = true
	m.lostDuringInit = false
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	m.setState(gen, messaging.StateConnecting)
	logger.InfoC("session", "Initializing messaging client")

	client, err := m.connect(ctx, gen)

	m.mu.Lock()
	m.initializing = false
	var discard messaging.Client
	switch {
	case err != nil:
	case m.stopped:
		err, discard = errors.New("manager stopped during initialization"), client
	case m.lostDuringInit:
		err, discard = errors.New("connection lost during initialization"), client
	default:
		m.client = client
		m.pairingCode = ""
	}
	m.mu.Unlock()

	if discard != nil {
		discard.Close()
	}
	if err != nil {
		logger.ErrorCF("session", "Messaging client initialization failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		m.publish(bus.EventInitFailed, err.Error())
		m.setState(gen, messaging.StateDisconnected)
		return nil, errkind.New(errkind.SessionInit, "session.acquire", err)
	}

	m.setState(gen, messaging.StateReady)
	m.publish(bus.EventReady, "")
	logger.InfoC("session", "Messaging client ready")
	return client, nil
}

func (m *Manager) connect(ctx context.Context, gen uint64) (messaging.Client, error) {
	// in-flight connections are abandoned when the manager stops
	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()
	if m.connectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		connectCtx, cancelTimeout = context.WithTimeout(connectCtx, m.connectTimeout)
		defer cancelTimeout()
	}

	return m.connector.Connect(connectCtx, messaging.Handlers{
		OnMessage:     m.onMessage,
		OnState:       func(s messaging.State) { m.onTransportState(gen, s) },
		OnPairingCode: func(code string) { m.onPairingCode(gen, code) },
	})
}

func (m *Manager) onMessage(msg bus.InboundMessage) {
	if m.bus != nil {
		m.bus.PublishInbound(msg)
	}
}

func (m *Manager) onPairingCode(gen uint64, code string) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.pairingCode = code
	m.mu.Unlock()

	logger.InfoC("session", "Pairing code received, scan it with WhatsApp")
	if m.qrWriter != nil {
		messaging.PrintQR(m.qrWriter, code)
	}
	data, err := messaging.QRDataURL(code)
	if err != nil {
		logger.WarnCF("session", "Failed to encode pairing QR", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return
	}
	m.publish(bus.EventQRCode, data)
}

// onTransportState handles state reports from the transport of generation gen.
// Reports from replaced clients are ignored.
func (m *Manager) onTransportState(gen uint64, s messaging.State) {
	m.mu.Lock()
	if gen != m.generation || m.stopped {
		m.mu.Unlock()
		return
	}
	if s == messaging.StateDisconnected && m.initializing {
		m.lostDuringInit = true
	}
	if m.initializing || m.client == nil {
		m.mu.Unlock()
		// READY during initialization is reported by Acquire once the client is stored
		if s == messaging.StateConnecting {
			m.setState(gen, s)
		}
		return
	}
	if s != messaging.StateDisconnected {
		m.mu.Unlock()
		m.setState(gen, s)
		return
	}

	old := m.client
	m.client = nil
	schedule := !m.reconnectPending
	if schedule {
		m.reconnectPending = true
		m.wg.Add(1)
		m.stopReconnect = m.after(m.reconnectDelay, m.reconnect)
	}
	m.wg.Add(1)
	m.mu.Unlock()

	// Close may wait on the transport goroutine that delivered this event.
	go func() {
		defer m.wg.Done()
		if err := old.Close(); err != nil {
			logger.WarnCF("session", "Error closing messaging client", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
	}()

	m.setState(gen, messaging.StateDisconnected)
	m.publish(bus.EventDisconnected, "")
	if schedule {
		logger.WarnCF("session", "Messaging client disconnected, reconnect scheduled", map[string]interface{}{
			logger.FieldDelayMS: m.reconnectDelay.Milliseconds(),
		})
	}
}

func (m *Manager) reconnect() {
	defer m.wg.Done()

	m.mu.Lock()
	m.reconnectPending = false
	m.stopReconnect = nil
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.reconnects++
	m.mu.Unlock()

	if _, err := m.Acquire(m.ctx); err != nil && !errors.Is(err, ErrPending) {
		logger.ErrorCF("session", "Reconnection failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
}

func (m *Manager) setState(gen uint64, s messaging.State) {
	m.mu.Lock()
	if gen != m.generation || m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.since = time.Now()
	observers := append([]func(messaging.State){}, m.observers...)
	m.mu.Unlock()

	logger.InfoCF("session", "Session state changed", map[string]interface{}{
		logger.FieldState: string(s),
	})
	m.publish(bus.EventStatus, string(s))
	for _, fn := range observers {
		fn(s)
	}
}

func (m *Manager) publish(t bus.EventType, data string) {
	if m.bus != nil {
		m.bus.PublishEvent(bus.Event{Type: t, Data: data})
	}
}

// OnStateChange registers fn to be called on every state transition.
func (m *Manager) OnStateChange(fn func(messaging.State)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *Manager) State() messaging.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:        m.state,
		Initializing: m.initializing,
		Since:        m.since,
		Reconnects:   m.reconnects,
		Pairing:      m.pairingCode != "",
	}
}

// PairingCode returns the pending pairing code, empty once paired.
func (m *Manager) PairingCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairingCode
}

func (m *Manager) current(op string) (messaging.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || m.state != messaging.StateReady {
		return nil, errkind.Errorf(errkind.SessionLost, op, "no ready session (state %s)", m.state)
	}
	return m.client, nil
}

func (m *Manager) SendText(ctx context.Context, to, body string) error {
	c, err := m.current("session.send_text")
	if err != nil {
		return err
	}
	return c.SendText(ctx, to, body)
}

func (m *Manager) SendImage(ctx context.Context, to, imageURL, filename, caption string) error {
	c, err := m.current("session.send_image")
	if err != nil {
		return err
	}
	return c.SendImage(ctx, to, imageURL, filename, caption)
}

// Stop closes the client, cancels pending reconnection and in-flight
// initialization, and waits for background work to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	client := m.client
	m.client = nil
	if m.reconnectPending && m.stopReconnect != nil && m.stopReconnect() {
		m.reconnectPending = false
		m.wg.Done()
	}
	m.mu.Unlock()

	m.cancel()
	if client != nil {
		if err := client.Close(); err != nil {
			logger.WarnCF("session", "Error closing messaging client", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
	}
	m.wg.Wait()
	logger.InfoC("session", "Session manager stopped")
}
