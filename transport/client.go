// Package transport owns the single long-lived websocket connection to
// the messaging backend. It reconnects on its own with exponential
// backoff, buffers outbound frames while the link is down and fans
// inbound events out to per-room subscribers.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arkonsol/ark-app/contract"
	"github.com/arkonsol/ark-app/domain"
	apperrors "github.com/arkonsol/ark-app/errors"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectInterval    = 5 * time.Second
	defaultHeartbeatInterval    = 30 * time.Second
	defaultBufferLimit          = 256
	writeTimeout                = 10 * time.Second
)

type Config struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
	HeartbeatInterval    time.Duration
	BufferLimit          int
}

func (c *Config) withDefaults() error {
	if c.URL == "" {
		return fmt.Errorf("%w: transport URL", apperrors.ErrMissingConfig)
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.BufferLimit <= 0 {
		c.BufferLimit = defaultBufferLimit
	}
	return nil
}

// statusChange pairs a transition with the listeners registered when
// it happened, so notifications never need the client lock.
type statusChange struct {
	status    contract.ConnectionStatus
	listeners []func(contract.ConnectionStatus)
}

// Client implements contract.Transport over gorilla/websocket.
type Client struct {
	log *slog.Logger
	cfg Config

	mu               sync.Mutex
	notifyCh         chan statusChange
	conn             *websocket.Conn
	done             chan struct{}
	status           contract.ConnectionStatus
	reconnectCount   int
	reconnectTimer   *time.Timer
	intentionalClose bool
	pending          []domain.Event
	roomListeners    map[string]map[int]func(domain.Event)
	statusListeners  map[int]func(contract.ConnectionStatus)
	nextListenerID   int
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}
	c := &Client{
		log:             log,
		cfg:             cfg,
		notifyCh:        make(chan statusChange, 64),
		status:          contract.StatusDisconnected,
		roomListeners:   make(map[string]map[int]func(domain.Event)),
		statusListeners: make(map[int]func(contract.ConnectionStatus)),
	}
	go c.notifyLoop(c.notifyCh)
	return c, nil
}

// notifyLoop delivers status transitions to listeners in the order
// they happened, until Disconnect closes the channel.
func (c *Client) notifyLoop(ch <-chan statusChange) {
	for change := range ch {
		for _, fn := range change.listeners {
			fn(change.status)
		}
	}
}

// Connect dials the backend. Already connected or connecting is a
// no-op. A successful dial resets the reconnect budget and flushes
// frames buffered while the link was down, oldest first.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == contract.StatusConnected || c.status == contract.StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.intentionalClose = false
	if c.notifyCh == nil {
		// Disconnect shut the notify loop down; a manual reconnect
		// starts a fresh one.
		c.notifyCh = make(chan statusChange, 64)
		go c.notifyLoop(c.notifyCh)
	}
	c.setStatusLocked(contract.StatusConnecting)
	url := c.cfg.URL
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)

	c.mu.Lock()
	if err != nil {
		c.log.Warn("Dial failed", "url", url, "error", err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn
	c.done = make(chan struct{})
	c.reconnectCount = 0
	c.setStatusLocked(contract.StatusConnected)
	pending := c.pending
	c.pending = nil
	done := c.done
	c.mu.Unlock()

	c.log.Info("Connected", "url", url)
	go c.readLoop(conn, done)
	go c.heartbeat(conn, done)

	for _, event := range pending {
		if err := c.Send(event); err != nil {
			c.log.Warn("Dropping buffered frame", "type", string(event.Type), "error", err)
		}
	}
	return nil
}

// Disconnect closes the link deliberately. No reconnection is
// attempted, the outbound buffer is discarded and every listener is
// detached after the final disconnected notification; only a manual
// Connect brings the client back.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.pending = nil
	c.reconnectCount = 0
	c.setStatusLocked(contract.StatusDisconnected)
	c.roomListeners = make(map[string]map[int]func(domain.Event))
	c.statusListeners = make(map[int]func(contract.ConnectionStatus))
	if c.notifyCh != nil {
		close(c.notifyCh)
		c.notifyCh = nil
	}
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(writeTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		return conn.Close()
	}
	return nil
}

func (c *Client) Status() contract.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send writes an event on the wire when connected. While the link is
// down the event is buffered and replayed on reconnect; a full buffer
// is reported with ErrBufferFull. A write failure triggers the
// reconnect cycle and re-buffers the frame instead of failing the
// caller.
func (c *Client) Send(event domain.Event) error {
	c.mu.Lock()
	if c.status != contract.StatusConnected {
		err := c.bufferLocked(event)
		// After an intentional close the frame just waits in the buffer;
		// redialing would silently undo the Disconnect.
		needsDial := !c.intentionalClose &&
			(c.status == contract.StatusDisconnected || c.status == contract.StatusUnavailable)
		c.mu.Unlock()
		if needsDial {
			go func() {
				_ = c.Connect(context.Background())
			}()
		}
		return err
	}
	conn := c.conn
	c.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(event); err != nil {
		c.log.Warn("Write failed, rebuffering frame", "type", string(event.Type), "error", err)
		c.mu.Lock()
		bufferErr := c.bufferLocked(event)
		c.mu.Unlock()
		c.dropConnection(conn)
		return bufferErr
	}
	return nil
}

func (c *Client) bufferLocked(event domain.Event) error {
	if len(c.pending) >= c.cfg.BufferLimit {
		return fmt.Errorf("%w: %d frames waiting", apperrors.ErrBufferFull, len(c.pending))
	}
	c.pending = append(c.pending, event)
	return nil
}

// Subscribe registers a listener for one room. An empty roomID
// receives events from every room.
func (c *Client) Subscribe(roomID string, fn func(domain.Event)) contract.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomListeners[roomID] == nil {
		c.roomListeners[roomID] = make(map[int]func(domain.Event))
	}
	id := c.nextListenerID
	c.nextListenerID++
	c.roomListeners[roomID][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.roomListeners[roomID], id)
	}
}

func (c *Client) SubscribeToStatus(fn func(contract.ConnectionStatus)) contract.Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.statusListeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusListeners, id)
	}
}

// setStatusLocked records the new status and hands the transition to
// the notify loop, so a slow listener cannot hold the transport lock
// and listeners always observe transitions in order.
func (c *Client) setStatusLocked(status contract.ConnectionStatus) {
	if c.status == status {
		return
	}
	c.status = status
	if c.notifyCh == nil {
		return
	}
	listeners := make([]func(contract.ConnectionStatus), 0, len(c.statusListeners))
	for _, fn := range c.statusListeners {
		listeners = append(listeners, fn)
	}
	select {
	case c.notifyCh <- statusChange{status: status, listeners: listeners}:
	default:
		c.log.Warn("Status notification dropped, listeners too slow", "status", string(status))
	}
}

// scheduleReconnectLocked arms the next reconnection attempt. The delay
// doubles with each consecutive failure; once the budget is spent the
// client gives up and reports StatusUnavailable until a manual Connect.
func (c *Client) scheduleReconnectLocked() {
	if c.intentionalClose {
		c.setStatusLocked(contract.StatusDisconnected)
		return
	}
	if c.reconnectCount >= c.cfg.MaxReconnectAttempts {
		c.log.Error("Reconnect attempts exhausted", "attempts", c.reconnectCount)
		c.setStatusLocked(contract.StatusUnavailable)
		return
	}
	delay := time.Duration(float64(c.cfg.ReconnectInterval) * math.Pow(2, float64(c.reconnectCount)))
	c.reconnectCount++
	c.setStatusLocked(contract.StatusReconnecting)
	c.log.Info("Reconnecting", "attempt", c.reconnectCount, "delay", delay)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		// Connect refuses to run while status is connecting, so rewind
		// it before redialing.
		if c.status == contract.StatusReconnecting {
			c.status = contract.StatusDisconnected
		}
		c.mu.Unlock()
		_ = c.Connect(context.Background())
	})
}

// dropConnection tears down one broken connection and starts the
// reconnect cycle, unless a newer connection already replaced it.
func (c *Client) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.setStatusLocked(contract.StatusDisconnected)
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var event domain.Event
		if err := conn.ReadJSON(&event); err != nil {
			select {
			case <-done:
			default:
				c.log.Warn("Read failed", "error", err)
				c.dropConnection(conn)
			}
			return
		}
		c.dispatch(event)
	}
}

func (c *Client) dispatch(event domain.Event) {
	c.mu.Lock()
	listeners := make([]func(domain.Event), 0)
	for _, fn := range c.roomListeners[event.RoomID] {
		listeners = append(listeners, fn)
	}
	if event.RoomID != "" {
		for _, fn := range c.roomListeners[""] {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// heartbeat pings the server on a fixed interval so half-open
// connections are detected before the next real write.
func (c *Client) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Warn("Heartbeat failed", "error", err)
				c.dropConnection(conn)
				return
			}
		}
	}
}
