package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle of one connection inside its hub. It is read
// and written only by the hub goroutine.
type State int

const (
	StateConnecting State = iota
	StateSyncing
	StateSynced
	StateClosing
	StateClosed
)

// Options bound the per-connection transport behaviour.
type Options struct {
	GracePeriod    time.Duration
	SendBufferSize int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func DefaultOptions() Options {
	return Options{
		GracePeriod:    30 * time.Second,
		SendBufferSize: 256,
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

type closeNote struct {
	code   int
	reason string
}

// Client is one live connection bound to one participant of one
// session. Outbound frames go through a bounded buffer so a stalled
// reader cannot block the hub; on overflow the connection is dropped.
type Client struct {
	ID   string
	conn *websocket.Conn
	opts Options

	send    chan []byte
	closeCh chan closeNote

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	hook        func([]byte)

	// hub goroutine only
	state       State
	awareness   []byte
	awarenessID string
}

func NewClient(conn *websocket.Conn, opts Options) *Client {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = DefaultOptions().SendBufferSize
	}
	return &Client{
		ID:      uuid.NewString(),
		conn:    conn,
		opts:    opts,
		send:    make(chan []byte, opts.SendBufferSize),
		closeCh: make(chan closeNote, 1),
		state:   StateConnecting,
	}
}

// SetSendHook replaces the websocket sender (used in tests).
func (c *Client) SetSendHook(fn func([]byte)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// trySend queues a frame for delivery. It reports false when the
// outbound buffer is full, which the hub treats as a dead connection.
func (c *Client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if c.hook != nil {
		c.hook(frame)
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeWith records the close condition and hands it to the write pump.
// Safe to call more than once; only the first close wins.
func (c *Client) closeWith(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	hooked := c.hook != nil
	c.mu.Unlock()
	if hooked || c.conn == nil {
		return
	}
	select {
	case c.closeCh <- closeNote{code: code, reason: reason}:
	default:
	}
}

// CloseStatus reports the recorded close condition, if any.
func (c *Client) CloseStatus() (code int, reason string, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.closed
}

// Run drives the connection: the write pump in its own goroutine, the
// read pump on the calling goroutine until the peer goes away. The
// client is detached from its hub before Run returns.
func (c *Client) Run(h *Hub) {
	go c.writePump()
	c.readPump(h)
	h.Detach(c)
}

func (c *Client) readPump(h *Hub) {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !h.Deliver(c, data) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case note := <-c.closeCh:
			// Flush whatever was queued before announcing the close.
			for {
				select {
				case frame := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
					if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(note.code, note.reason))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
