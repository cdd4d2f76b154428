package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"mensageria_assinada/internal/identity"
	"mensageria_assinada/internal/lobby"
	"mensageria_assinada/internal/protocol"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("outbound buffer full")
	ErrShutdown         = errors.New("server shutting down")
)

// Config tunes a single connection.
type Config struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Client is one websocket connection. Its ReadPump is the only goroutine that
// reads, its WritePump the only one that writes data frames; everything else
// talks to it through the buffered send channel.
type Client struct {
	id        string
	ctx       context.Context
	cfg       Config
	conn      *websocket.Conn
	send      chan []byte // nil entry: flush and close
	done      chan struct{}
	doneOnce  sync.Once
	connOnce  sync.Once
	closeOnce sync.Once
	closedBy  atomic.Pointer[error]
	state     connState
	hooks     Hooks
}

// Hooks are the hub callbacks of one client.
type Hooks struct {
	// Frame handles one inbound frame on the read goroutine.
	Frame func(*Client, []byte) error
	// Closed runs on its own goroutine as soon as Close is called.
	Closed func(*Client)
	// Disconnected runs once, after the read loop ends.
	Disconnected func(*Client)
}

func NewClient(ctx context.Context, conn *websocket.Conn, cfg Config, hooks Hooks) *Client {
	return &Client{
		id:    uuid.NewString(),
		ctx:   ctx,
		cfg:   cfg,
		conn:  conn,
		send:  make(chan []byte, cfg.SendBuffer),
		done:  make(chan struct{}),
		hooks: hooks,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) State() State {
	return c.state.Load()
}

// Authenticated returns the session key while the connection is Authenticated.
func (c *Client) Authenticated() (identity.PublicKey, bool) {
	if c.State() != StateAuthenticated {
		return identity.PublicKey{}, false
	}
	return c.state.identity()
}

func (c *Client) ReadPump() {
	stop := context.AfterFunc(c.ctx, func() {
		c.Close(ErrShutdown)
	})
	defer func() {
		stop()
		c.state.close()
		if c.hooks.Disconnected != nil {
			c.hooks.Disconnected(c)
		}
		c.drain()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			// If the loop is ending because we closed the connection, don't log it as an error.
			if c.isDone() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "client_id", c.id, "error", err)
			}
			return
		}

		if c.hooks.Frame == nil {
			continue
		}
		if err := c.hooks.Frame(c, message); err != nil && c.State() == StateFailed {
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if message == nil {
				_ = c.conn.WriteMessage(websocket.CloseMessage, c.closeMessage())
				c.shutdown()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("websocket write failed", "client_id", c.id, "error", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// Send queues frame without blocking. A full buffer closes the connection.
func (c *Client) Send(frame []byte) bool {
	if frame == nil || c.isDone() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		slog.Warn("closing slow connection", "client_id", c.id, "buffered", len(c.send))
		c.Close(ErrSlowConsumer)
		return false
	}
}

func (c *Client) SendFrame(f protocol.Frame) bool {
	frame, err := protocol.Encode(f)
	if err != nil {
		slog.Error("failed to encode frame", "client_id", c.id, "type", f.FrameType(), "error", err)
		return false
	}
	return c.Send(frame)
}

// Deliver, Snapshot, Changed and Close make Client a lobby.Session.

func (c *Client) Deliver(frame []byte) bool {
	return c.Send(frame)
}

func (c *Client) Snapshot(users []identity.PublicKey) {
	c.SendFrame(protocol.LobbyFrame{Users: toUsers(users)})
}

func (c *Client) Changed(d lobby.Delta) {
	c.SendFrame(protocol.LobbyUpdateFrame{Joined: toUsers(d.Joined), Left: toUsers(d.Left)})
}

// Close terminates the connection; queued frames are discarded. It never
// blocks: the close frame is written from its own goroutine.
func (c *Client) Close(reason error) {
	c.closeOnce.Do(func() {
		c.closedBy.Store(&reason)
		c.state.close()
		c.markDone()
		// Close may run under the registry lock.
		if c.hooks.Closed != nil {
			go c.hooks.Closed(c)
		}

		code := websocket.CloseNormalClosure
		if errors.Is(reason, lobby.ErrSuperseded) || errors.Is(reason, ErrShutdown) {
			code = websocket.CloseGoingAway
		} else if reason != nil {
			code = websocket.ClosePolicyViolation
		}
		msg := ""
		if reason != nil {
			msg = reason.Error()
		}
		go func() {
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, msg), time.Now().Add(time.Second))
			c.shutdown()
		}()
	})
}

// CloseReason is the error passed to the first Close call, if any.
func (c *Client) CloseReason() error {
	if r := c.closedBy.Load(); r != nil {
		return *r
	}
	return nil
}

// drain asks the writer to flush what is queued and then close.
func (c *Client) drain() {
	select {
	case c.send <- nil:
	default:
		c.shutdown()
	}
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) shutdown() {
	c.markDone()
	c.connOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			slog.Debug("failed to close websocket connection", "client_id", c.id, "error", err)
		}
	})
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) closeMessage() []byte {
	if c.State() == StateFailed {
		return websocket.FormatCloseMessage(websocket.ClosePolicyViolation, c.state.failure())
	}
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}

func toUsers(keys []identity.PublicKey) []protocol.User {
	return lo.Map(keys, func(pk identity.PublicKey, _ int) protocol.User {
		return protocol.User{PublicKey: pk.String()}
	})
}
