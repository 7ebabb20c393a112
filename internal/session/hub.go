package session

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andrei-shtanakov/collab-editor/internal/crdt"
	"github.com/andrei-shtanakov/collab-editor/internal/protocol"
	"github.com/andrei-shtanakov/collab-editor/internal/utils"
)

type inboundFrame struct {
	from *Client
	data []byte
}

// Hub owns one session: its document handle, its connections and the
// broadcast order. All document mutation and fan-out happens on the run
// goroutine, so a session is a single serialized execution path while
// unrelated sessions proceed in parallel.
type Hub struct {
	SessionID string

	doc  *crdt.Doc
	opts Options
	log  *utils.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	shutdown   chan closeNote
	done       chan struct{}

	clients      map[string]*Client
	lastActivity time.Time
	count        atomic.Int64

	// onDispose runs on the hub goroutine right before the hub exits on
	// idle grace expiry. The registry uses it to deregister the hub and
	// mark the session idle.
	onDispose func()
}

func newHub(sessionID string, doc *crdt.Doc, opts Options, log *utils.Logger, onDispose func()) *Hub {
	return &Hub{
		SessionID:  sessionID,
		doc:        doc,
		opts:       opts,
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 64),
		shutdown:   make(chan closeNote, 1),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		onDispose:  onDispose,
	}
}

// errHubClosed is returned by Attach when the hub raced against
// disposal; callers treat it the same as an unknown session.
var errHubClosed = &hubClosedError{}

type hubClosedError struct{}

func (*hubClosedError) Error() string { return "session hub already disposed" }

// Attach registers a connection with the hub. The handshake frames are
// queued before Attach returns.
func (h *Hub) Attach(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return errHubClosed
	}
}

// Detach removes a connection. Safe after the hub is gone.
func (h *Hub) Detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Deliver hands an inbound frame to the hub, preserving per-sender
// order. It reports false once the hub is disposed.
func (h *Hub) Deliver(c *Client, data []byte) bool {
	select {
	case h.inbound <- inboundFrame{from: c, data: data}:
		return true
	case <-h.done:
		return false
	}
}

// Shutdown closes every connection with the given reason and stops the
// hub. It blocks until the hub goroutine has exited.
func (h *Hub) Shutdown(code int, reason string) {
	select {
	case h.shutdown <- closeNote{code: code, reason: reason}:
	case <-h.done:
	}
	<-h.done
}

// ClientCount is the number of live connections.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) run() {
	var graceC <-chan time.Time
	var grace *time.Timer
	stopGrace := func() {
		if grace != nil {
			grace.Stop()
			grace = nil
			graceC = nil
		}
	}
	defer stopGrace()

	for {
		// The grace timer runs whenever the hub has no connections,
		// including a freshly created hub whose first connection never
		// arrived.
		if len(h.clients) == 0 {
			if graceC == nil {
				grace = time.NewTimer(h.opts.GracePeriod)
				graceC = grace.C
			}
		} else {
			stopGrace()
		}

		select {
		case c := <-h.register:
			h.clients[c.ID] = c
			h.count.Store(int64(len(h.clients)))
			h.lastActivity = time.Now()
			c.state = StateSyncing
			h.greet(c)

		case c := <-h.unregister:
			h.removeClient(c, websocket.CloseNormalClosure, "")

		case f := <-h.inbound:
			h.lastActivity = time.Now()
			h.handleFrame(f)

		case <-graceC:
			if len(h.clients) > 0 {
				continue
			}
			if h.onDispose != nil {
				h.onDispose()
			}
			close(h.done)
			return

		case note := <-h.shutdown:
			for _, c := range h.clients {
				c.state = StateClosed
				c.closeWith(note.code, note.reason)
			}
			h.clients = map[string]*Client{}
			h.count.Store(0)
			close(h.done)
			return
		}
	}
}

// greet runs the server half of the handshake: our state vector as
// sync-step-1 plus the full document as sync-step-2, then the awareness
// states already known for the session.
func (h *Hub) greet(c *Client) {
	h.sendTo(c, protocol.EncodeSyncStep1(h.doc.StateVector()))
	full, err := h.doc.DiffUpdate(nil)
	if err != nil {
		h.log.Error("encode full state", "session", h.SessionID, "error", err.Error())
		return
	}
	h.sendTo(c, protocol.EncodeSyncStep2(full))
	for _, peer := range h.clients {
		if peer != c && peer.awareness != nil {
			h.sendTo(c, protocol.EncodeAwareness(peer.awareness))
		}
	}
}

func (h *Hub) handleFrame(f inboundFrame) {
	c := f.from
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	frame, err := protocol.Decode(f.data)
	if err != nil {
		h.log.Warn("dropping malformed frame", "session", h.SessionID, "client", c.ID)
		return
	}
	switch frame.Type {
	case protocol.MessageSync:
		h.handleSync(c, frame, f.data)
	case protocol.MessageAwareness:
		a, err := protocol.DecodeAwareness(frame.Payload)
		if err != nil {
			h.log.Warn("dropping malformed awareness", "session", h.SessionID, "client", c.ID)
			return
		}
		// Participants self-identify in their awareness blobs; the
		// removal broadcast on disconnect must carry the same id or
		// peers cannot correlate it. The connection id is the fallback.
		c.awarenessID = a.ClientID
		if c.awarenessID == "" {
			c.awarenessID = c.ID
		}
		if len(a.State) == 0 || string(a.State) == "null" {
			c.awareness = nil
		} else {
			c.awareness = frame.Payload
		}
		h.broadcast(c, f.data)
	}
}

func (h *Hub) handleSync(c *Client, frame protocol.Frame, raw []byte) {
	switch frame.SyncType {
	case protocol.SyncStep1:
		// The client announced its state vector: answer with what it is
		// missing. Also used for re-entrant resync at any time.
		diff, err := h.doc.DiffUpdate(frame.Payload)
		if err != nil {
			h.removeClient(c, websocket.CloseInvalidFramePayloadData, "bad state vector")
			return
		}
		h.sendTo(c, protocol.EncodeSyncStep2(diff))
		if c.state == StateSyncing {
			c.state = StateSynced
		}
	case protocol.SyncStep2, protocol.SyncUpdate:
		if len(frame.Payload) == 0 {
			return
		}
		if err := h.doc.ApplyUpdate(frame.Payload); err != nil {
			h.log.Warn("rejecting delta", "session", h.SessionID, "client", c.ID, "error", err.Error())
			h.removeClient(c, websocket.CloseInvalidFramePayloadData, "malformed update")
			return
		}
		if c.state == StateSynced {
			// Raw bytes go out verbatim; peers apply the exact delta the
			// sender produced.
			h.broadcast(c, raw)
		}
	}
}

// broadcast fans a frame out to every synced connection except the
// sender. A connection that cannot keep up is dropped, not waited on.
func (h *Hub) broadcast(sender *Client, frame []byte) {
	for _, c := range h.clients {
		if c == sender || c.state != StateSynced {
			continue
		}
		if !c.trySend(frame) {
			h.log.Warn("dropping slow consumer", "session", h.SessionID, "client", c.ID)
			h.removeClient(c, websocket.ClosePolicyViolation, "outbound buffer overflow")
		}
	}
}

func (h *Hub) sendTo(c *Client, frame []byte) {
	if !c.trySend(frame) {
		h.removeClient(c, websocket.ClosePolicyViolation, "outbound buffer overflow")
	}
}

func (h *Hub) removeClient(c *Client, code int, reason string) {
	if _, ok := h.clients[c.ID]; !ok {
		c.closeWith(code, reason)
		return
	}
	delete(h.clients, c.ID)
	h.count.Store(int64(len(h.clients)))
	c.state = StateClosing
	c.closeWith(code, reason)
	c.state = StateClosed
	if c.awareness != nil {
		removal := protocol.EncodeAwarenessState(c.awarenessID, nil)
		for _, peer := range h.clients {
			if peer.state == StateSynced && !peer.trySend(removal) {
				h.removeClient(peer, websocket.ClosePolicyViolation, "outbound buffer overflow")
			}
		}
	}
}
