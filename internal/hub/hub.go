package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"

	"mensageria_assinada/internal/database"
	"mensageria_assinada/internal/identity"
	"mensageria_assinada/internal/lobby"
	"mensageria_assinada/internal/protocol"
)

// Hub wires connections to the authenticator, the router and the lobby.
type Hub struct {
	ctx      context.Context
	cfg      Config
	registry *lobby.Registry
	auth     *Authenticator
	router   *Router
	audit    *database.Recorder
	metrics  *Metrics
}

// NewHub builds a hub around registry. audit and metrics may be nil.
func NewHub(ctx context.Context, cfg Config, registry *lobby.Registry, audit *database.Recorder, metrics *Metrics) *Hub {
	return &Hub{
		ctx:      ctx,
		cfg:      cfg,
		registry: registry,
		auth:     NewAuthenticator(registry, audit, metrics),
		router:   NewRouter(registry, metrics),
		audit:    audit,
		metrics:  metrics,
	}
}

// Connect adopts an upgraded websocket connection and starts its pumps.
func (h *Hub) Connect(conn *websocket.Conn) *Client {
	client := NewClient(h.ctx, conn, h.cfg, Hooks{
		Frame:        h.HandleFrame,
		Closed:       h.Release,
		Disconnected: h.Disconnect,
	})
	h.metrics.connected()
	slog.Debug("client connected", "client_id", client.ID(), "remote", conn.RemoteAddr().String())

	go client.WritePump()
	go client.ReadPump()
	return client
}

// HandleFrame dispatches one inbound frame according to the connection state
// and reports any rejection back to the sender.
func (h *Hub) HandleFrame(c *Client, raw []byte) error {
	var err error
	switch c.State() {
	case StateConnecting:
		if protocol.PeekType(raw) == protocol.TypeAuth {
			err = h.auth.Authenticate(c, raw)
		} else {
			err = protocol.AuthRequired()
		}
	case StateAuthenticated:
		if protocol.PeekType(raw) == protocol.TypeAuth {
			err = protocol.AuthFailed("session is already authenticated")
		} else {
			err = h.router.Route(c, raw)
		}
	default:
		return ErrConnectionClosed
	}

	if err != nil {
		h.reply(c, err)
	}
	return err
}

// Release removes a closed client from the lobby without waiting for its read
// loop to notice. Releasing twice is harmless.
func (h *Hub) Release(c *Client) {
	if pk, ok := c.state.identity(); ok {
		h.registry.Release(pk, c)
	}
}

// Disconnect removes the client from the lobby synchronously. It runs when the
// read loop ends, whatever the cause.
func (h *Hub) Disconnect(c *Client) {
	h.metrics.disconnected()

	pk, ok := c.state.identity()
	if !ok {
		return
	}
	h.registry.Release(pk, c)

	outcome := database.OutcomeDisconnected
	if errors.Is(c.CloseReason(), lobby.ErrSuperseded) {
		outcome = database.OutcomeSuperseded
	}
	h.audit.Record(database.AuthEvent{
		PublicKey:    pk.String(),
		ConnectionID: c.ID(),
		Outcome:      outcome,
	})
	slog.Debug("client disconnected", "client_id", c.ID(), "public_key", pk, "outcome", outcome)
}

// Lobby returns the current online keys.
func (h *Hub) Lobby() []identity.PublicKey {
	return h.registry.List()
}

func (h *Hub) reply(c *Client, err error) {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		if !errors.Is(err, ErrConnectionClosed) {
			slog.Error("failed to handle frame", "client_id", c.ID(), "error", err)
		}
		return
	}

	c.SendFrame(perr.Frame())
	if perr.Reason == protocol.ReasonOffline {
		c.SendFrame(protocol.NotificationFrame{
			Event:     protocol.EventRecipientOffline,
			Recipient: perr.Recipient,
		})
	}
}
