package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"secure-room/common"
)

type ConnState int

const writeWait = 10 * time.Second

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Conn is the subset of *websocket.Conn the manager uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens the room transport.
type Dialer func(ctx context.Context) (Conn, error)

// WebSocketDialer dials the relay, sending the session cookies from jar.
func WebSocketDialer(url string, jar http.CookieJar, handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context) (Conn, error) {
		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Jar:              jar,
		}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
		}
		return conn, nil
	}
}

// ConnectionHandlers receive events from the read loop, one at a time.
type ConnectionHandlers struct {
	// OnFrame gets every decoded frame the manager does not consume itself.
	OnFrame func(common.Frame)
	// OnStatus is called with true once the transport opens and false once it closes.
	OnStatus func(online bool)
	// OnThrottle is called when the rate-limit window starts and again when it ends.
	OnThrottle func(throttled bool, message string)
}

// ConnectionManager owns the room transport: Connecting -> Open -> Closed, a single-slot
// outbound buffer while not open, keepalive replies and the rate-limit lockout.
type ConnectionManager struct {
	dial           Dialer
	handlers       ConnectionHandlers
	throttleWindow time.Duration
	now            func() time.Time
	logger         logrus.FieldLogger

	mu             sync.Mutex
	state          ConnState
	conn           Conn
	pending        []byte
	throttledUntil time.Time
	throttleTimer  *time.Timer
	throttleGen    uint64
	cancelDial     context.CancelFunc

	wg sync.WaitGroup
}

func NewConnectionManager(dial Dialer, handlers ConnectionHandlers, throttleWindow time.Duration, now func() time.Time, logger logrus.FieldLogger) *ConnectionManager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConnectionManager{
		dial:           dial,
		handlers:       handlers,
		throttleWindow: throttleWindow,
		now:            now,
		logger:         logger,
		state:          StateConnecting,
	}
}

func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open dials in the background. It returns immediately; sends made before the
// handshake completes are buffered.
func (m *ConnectionManager) Open(ctx context.Context) {
	dialCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancelDial = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.recoverPanic("dial")

		conn, err := m.dial(dialCtx)
		if err != nil {
			m.logger.WithError(err).Error("Error connecting to relay")
			m.markClosed()
			return
		}
		if !m.markOpen(conn) {
			conn.Close()
			return
		}
		m.listen(conn)
	}()
}

func (m *ConnectionManager) markOpen(conn Conn) bool {
	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return false
	}
	m.state = StateOpen
	m.conn = conn

	if m.pending != nil {
		if err := m.writeRawLocked(m.pending); err != nil {
			m.logger.WithError(err).Error("Error flushing buffered message")
		}
		m.pending = nil
	}
	if err := m.writeLocked(common.GetPresenceFrame{}); err != nil {
		m.logger.WithError(err).Error("Error requesting presence")
	}
	m.mu.Unlock()

	m.logger.Info("Connected to relay")
	m.notifyStatus(true)
	return true
}

func (m *ConnectionManager) markClosed() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	conn := m.conn
	m.conn = nil
	if m.cancelDial != nil {
		m.cancelDial()
	}
	if m.throttleTimer != nil {
		m.throttleTimer.Stop()
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.notifyStatus(false)
}

// Close tears the transport down. Closed is terminal.
func (m *ConnectionManager) Close() {
	m.markClosed()
}

// Wait blocks until the dial and read loop have exited.
func (m *ConnectionManager) Wait() {
	m.wg.Wait()
}

// Send transmits f when open. Otherwise f replaces whatever is buffered; a closed
// manager also reports ErrClosed.
func (m *ConnectionManager) Send(f common.Frame) error {
	data, err := common.EncodeFrame(f)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateOpen:
		if err := m.writeRawLocked(data); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	case StateClosed:
		m.pending = data
		return ErrClosed
	default:
		m.pending = data
		return nil
	}
}

func (m *ConnectionManager) writeLocked(f common.Frame) error {
	data, err := common.EncodeFrame(f)
	if err != nil {
		return err
	}
	return m.writeRawLocked(data)
}

// writeRawLocked writes with a deadline. m.mu must be held.
func (m *ConnectionManager) writeRawLocked(data []byte) error {
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// Throttled reports whether the rate-limit window is still running.
func (m *ConnectionManager) Throttled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Before(m.throttledUntil)
}

func (m *ConnectionManager) listen(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.State() != StateClosed {
				m.logger.WithError(err).Warn("Relay connection closed")
			}
			m.markClosed()
			return
		}

		frame, err := common.DecodeFrame(data)
		if err != nil {
			m.logger.WithError(err).Warn("Error decoding frame")
			continue
		}
		m.handleFrame(frame)
	}
}

func (m *ConnectionManager) handleFrame(frame common.Frame) {
	defer m.recoverPanic("frame handler")

	switch f := frame.(type) {
	case common.PingFrame:
		m.mu.Lock()
		if m.state == StateOpen {
			if err := m.writeLocked(common.PongFrame{Timestamp: m.now().UnixMilli()}); err != nil {
				m.logger.WithError(err).Error("Error sending pong")
			}
		}
		m.mu.Unlock()
	case common.RateLimitWarningFrame:
		m.startThrottle(f.Message)
	default:
		if m.handlers.OnFrame != nil {
			m.handlers.OnFrame(frame)
		}
	}
}

func (m *ConnectionManager) startThrottle(message string) {
	m.mu.Lock()
	m.throttledUntil = m.now().Add(m.throttleWindow)
	m.throttleGen++
	gen := m.throttleGen
	if m.throttleTimer != nil {
		m.throttleTimer.Stop()
	}
	m.throttleTimer = time.AfterFunc(m.throttleWindow, func() {
		m.mu.Lock()
		current := gen == m.throttleGen && m.state != StateClosed
		m.mu.Unlock()
		if current && m.handlers.OnThrottle != nil {
			defer m.recoverPanic("throttle handler")
			m.handlers.OnThrottle(false, "")
		}
	})
	m.mu.Unlock()

	m.logger.WithField("message", message).Warn("Rate limited by relay")
	if m.handlers.OnThrottle != nil {
		m.handlers.OnThrottle(true, message)
	}
}

func (m *ConnectionManager) notifyStatus(online bool) {
	if m.handlers.OnStatus == nil {
		return
	}
	defer m.recoverPanic("status handler")
	m.handlers.OnStatus(online)
}

func (m *ConnectionManager) recoverPanic(task string) {
	if r := recover(); r != nil {
		m.logger.WithField("task", task).Errorf("Recovered from panic: %v", r)
	}
}
