package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"mensageria_assinada/internal/identity"
	"mensageria_assinada/internal/protocol"
)

var (
	ErrAuthFailed = errors.New("authentication rejected")
	ErrClosed     = errors.New("client closed")
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	eventBuffer      = 64
)

// Event is one of Message, LobbyChange, Rejection or RecipientOffline.
type Event interface {
	event()
}

type LobbyChange struct {
	Joined []identity.PublicKey
	Left   []identity.PublicKey
}

// Rejection is an error frame the server sent for one of our frames.
type Rejection struct {
	Reason  protocol.Reason
	Details string
}

type RecipientOffline struct {
	Recipient string
}

func (Message) event()          {}
func (LobbyChange) event()      {}
func (Rejection) event()        {}
func (RecipientOffline) event() {}

// Client is an authenticated connection to a server.
type Client struct {
	key     *identity.KeyPair
	conn    *websocket.Conn
	mirror  *Mirror
	writeMu sync.Mutex
	events  chan Event
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	mu    sync.RWMutex
	lobby map[identity.PublicKey]struct{}
}

// WebsocketURL turns an http(s) server base into its websocket endpoint.
func WebsocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Dial connects to wsURL and authenticates with key. It returns once the
// server has sent the lobby snapshot, or fails with ErrAuthFailed.
func Dial(ctx context.Context, wsURL string, key *identity.KeyPair) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Client{
		key:     key,
		conn:    conn,
		mirror:  NewMirror(key.PublicKey()),
		events:  make(chan Event, eventBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		lobby:   make(map[identity.PublicKey]struct{}),
	}
	if err := c.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	sig, err := identity.Sign(identity.AuthLiteral, c.key)
	if err != nil {
		return fmt.Errorf("sign auth proof: %w", err)
	}
	if err := c.write(protocol.AuthFrame{
		PublicKey: c.key.PublicKey().String(),
		Signature: sig.String(),
	}); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await lobby snapshot: %w", err)
	}
	frame, err := protocol.Decode(raw)
	if err != nil {
		return fmt.Errorf("await lobby snapshot: %w", err)
	}

	switch f := frame.(type) {
	case protocol.LobbyFrame:
		c.applySnapshot(f.Users)
		return nil
	case protocol.ErrorFrame:
		return fmt.Errorf("%w: %s: %s", ErrAuthFailed, f.Reason, f.Details)
	default:
		return fmt.Errorf("await lobby snapshot: unexpected %q frame", f.FrameType())
	}
}

func (c *Client) PublicKey() identity.PublicKey {
	return c.key.PublicKey()
}

// Events delivers everything the server pushes after authentication. Messages
// that fail verification are never delivered. The channel closes when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send signs content for recipient and sends it with a fresh timestamp.
func (c *Client) Send(recipient identity.PublicKey, content string) error {
	sig, err := identity.Sign(content, c.key)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}
	return c.write(protocol.MessageFrame{
		Message:            content,
		SenderPublicKey:    c.key.PublicKey().String(),
		RecipientPublicKey: recipient.String(),
		Signature:          sig.String(),
		Timestamp:          time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Lobby is the client's view of who is online, kept current from lobby updates.
func (c *Client) Lobby() []identity.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortKeys(lo.Keys(c.lobby))
}

func (c *Client) Online(pk identity.PublicKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.lobby[pk]
	return ok
}

// Dropped counts pushed messages discarded by verification.
func (c *Client) Dropped() uint64 {
	return c.mirror.Dropped()
}

// Close sends a close frame and waits for the read loop to end.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	})

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		_ = c.conn.Close()
		<-c.done
	}
	return nil
}

func (c *Client) write(f protocol.Frame) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	raw, err := protocol.Encode(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.FrameType(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s frame: %w", f.FrameType(), err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		_ = c.conn.Close()
		close(c.events)
		close(c.done)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("connection lost", "error", err)
			}
			return
		}

		frame, err := protocol.Decode(raw)
		if err != nil {
			slog.Warn("ignoring undecodable frame", "error", err)
			continue
		}
		ev, ok := c.handle(frame)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.closing:
			return
		}
	}
}

func (c *Client) handle(frame protocol.Frame) (Event, bool) {
	switch f := frame.(type) {
	case protocol.MessageFrame:
		msg, err := c.mirror.Check(f)
		if err != nil {
			return nil, false
		}
		return msg, true
	case protocol.LobbyUpdateFrame:
		return c.applyDelta(f), true
	case protocol.LobbyFrame:
		c.applySnapshot(f.Users)
		return nil, false
	case protocol.ErrorFrame:
		return Rejection{Reason: f.Reason, Details: f.Details}, true
	case protocol.NotificationFrame:
		if f.Event == protocol.EventRecipientOffline {
			return RecipientOffline{Recipient: f.Recipient}, true
		}
	}
	return nil, false
}

func (c *Client) applySnapshot(users []protocol.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lobby = make(map[identity.PublicKey]struct{}, len(users))
	for _, pk := range parseUsers(users) {
		c.lobby[pk] = struct{}{}
	}
}

// applyDelta removes before it adds, so a replaced key stays online.
func (c *Client) applyDelta(f protocol.LobbyUpdateFrame) LobbyChange {
	change := LobbyChange{Joined: parseUsers(f.Joined), Left: parseUsers(f.Left)}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pk := range change.Left {
		delete(c.lobby, pk)
	}
	for _, pk := range change.Joined {
		c.lobby[pk] = struct{}{}
	}
	return change
}

func parseUsers(users []protocol.User) []identity.PublicKey {
	return lo.FilterMap(users, func(u protocol.User, _ int) (identity.PublicKey, bool) {
		pk, err := identity.ParsePublicKey(u.PublicKey)
		if err != nil {
			slog.Warn("ignoring malformed lobby entry", "error", err)
			return identity.PublicKey{}, false
		}
		return pk, true
	})
}
