package http

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"horoquiz/internal/app"
)

const (
	// outboundQueueCap bounds the per-connection outbound queue.
	outboundQueueCap = 64
	// writeTimeout bounds a single socket write.
	writeTimeout = 10 * time.Second
)

// WSConfig bundles the adapter's tunables. Zero values are replaced by the
// defaults from DefaultWSConfig.
type WSConfig struct {
	// HeartbeatInterval is how often the server pings.
	HeartbeatInterval time.Duration
	// PongTimeout is how long after a ping a pong may take.
	PongTimeout time.Duration
	// EndDrain is how long a kicked connection may flush its queue.
	EndDrain time.Duration
}

// DefaultWSConfig returns the production tunables.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HeartbeatInterval: 20 * time.Second,
		PongTimeout:       15 * time.Second,
		EndDrain:          2 * time.Second,
	}
}

func (c WSConfig) withDefaults() WSConfig {
	def := DefaultWSConfig()
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.EndDrain == 0 {
		c.EndDrain = def.EndDrain
	}
	return c
}

// wsConn adapts one websocket to the room actor's Conn interface: a bounded
// outbound queue written by the actor and drained by the writer task.
// Overflow drops the oldest non-critical frame; a queue full of critical
// frames closes the connection.
type wsConn struct {
	sock *websocket.Conn
	log  *slog.Logger
	cfg  WSConfig
	now  func() time.Time

	mu     sync.Mutex
	queue  []app.Frame
	closed bool
	kicked bool
	reason string

	wake chan struct{}
	dead chan struct{}
}

func newWSConn(sock *websocket.Conn, cfg WSConfig, log *slog.Logger) *wsConn {
	return &wsConn{
		sock: sock,
		log:  log,
		cfg:  cfg,
		now:  time.Now,
		wake: make(chan struct{}, 1),
		dead: make(chan struct{}),
	}
}

// Send enqueues a frame without blocking the actor. Implements app.Conn.
func (c *wsConn) Send(f app.Frame) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if len(c.queue) >= outboundQueueCap {
		dropped := false
		for i, queued := range c.queue {
			if !queued.Critical {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			// Only critical frames left and no room for this one: the
			// client cannot keep up with frames it must not lose.
			c.closed = true
			c.reason = "backpressure_fatal"
			c.mu.Unlock()
			c.signal()
			return false
		}
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()
	c.signal()
	return true
}

// Kick asks the writer to drain what is queued and close. Implements app.Conn.
func (c *wsConn) Kick(reason string) {
	c.mu.Lock()
	if c.kicked || c.closed {
		c.mu.Unlock()
		return
	}
	c.kicked = true
	c.reason = reason
	c.mu.Unlock()
	c.signal()
}

func (c *wsConn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pop returns the next frame to write, whether the connection should close
// once the queue is empty, and the close reason.
func (c *wsConn) pop() (app.Frame, bool, bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		f := c.queue[0]
		c.queue = c.queue[1:]
		return f, true, false, ""
	}
	if c.kicked || c.closed {
		return app.Frame{}, false, true, c.reason
	}
	return app.Frame{}, false, false, ""
}

func (c *wsConn) draining() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kicked || c.closed, c.reason
}

// writeLoop drains the queue, emits pings, and closes the socket when the
// connection is kicked or overflows. Single consumer of the queue. A kicked
// connection gets the configured drain window to flush before the hard
// close.
func (c *wsConn) writeLoop() {
	defer close(c.dead)
	pingTicker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer pingTicker.Stop()

	var drainDeadline time.Time
	for {
		if kicked, reason := c.draining(); kicked {
			if drainDeadline.IsZero() {
				drainDeadline = time.Now().Add(c.cfg.EndDrain)
			}
			if time.Now().After(drainDeadline) {
				c.forceClose(reason)
				return
			}
		}

		frame, ok, closing, reason := c.pop()
		if ok {
			data, err := encodeFrame(frame, app.WireTime(c.now()))
			if err != nil {
				c.log.Error("encode frame", "event", frame.Event, "err", err)
				continue
			}
			deadline := time.Now().Add(writeTimeout)
			if !drainDeadline.IsZero() && drainDeadline.Before(deadline) {
				deadline = drainDeadline
			}
			_ = c.sock.SetWriteDeadline(deadline)
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.forceClose("")
				return
			}
			continue
		}
		if closing {
			c.forceClose(reason)
			return
		}

		select {
		case <-c.wake:
		case <-pingTicker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.forceClose("")
				return
			}
		}
	}
}

func (c *wsConn) forceClose(reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if reason != "" {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = c.sock.WriteMessage(websocket.CloseMessage, msg)
	}
	_ = c.sock.Close()
}
