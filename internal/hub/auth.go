package hub

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"mensageria_assinada/internal/database"
	"mensageria_assinada/internal/identity"
	"mensageria_assinada/internal/lobby"
	"mensageria_assinada/internal/protocol"
)

// Authenticator promotes a Connecting client to Authenticated once it proves
// ownership of its key by signing identity.AuthLiteral.
type Authenticator struct {
	registry *lobby.Registry
	audit    *database.Recorder
	metrics  *Metrics
}

func NewAuthenticator(registry *lobby.Registry, audit *database.Recorder, metrics *Metrics) *Authenticator {
	return &Authenticator{
		registry: registry,
		audit:    audit,
		metrics:  metrics,
	}
}

// Authenticate validates an auth frame. On failure the client moves to Failed
// and the returned *protocol.Error carries auth_failed; the caller closes the connection.
func (a *Authenticator) Authenticate(c *Client, raw []byte) error {
	frame, err := protocol.Decode(raw)
	if err != nil {
		return a.reject(c, "", "malformed auth frame")
	}
	auth, ok := frame.(protocol.AuthFrame)
	if !ok {
		return a.reject(c, "", fmt.Sprintf("expected auth frame, got %q", frame.FrameType()))
	}

	pk, err := identity.ParsePublicKey(auth.PublicKey)
	if err != nil {
		return a.reject(c, auth.PublicKey, "invalid public key")
	}
	signature, err := hex.DecodeString(auth.Signature)
	if err != nil || !identity.Verify(identity.AuthLiteral, signature, pk) {
		return a.reject(c, auth.PublicKey, "signature does not prove key ownership")
	}

	if !c.state.authenticate(pk) {
		return ErrConnectionClosed
	}

	if err := a.registry.Add(pk, c); err != nil {
		// Invariant violations abort this connection only.
		slog.Error("lobby rejected authenticated session", "client_id", c.ID(), "public_key", pk, "error", err)
		c.Close(err)
		return fmt.Errorf("register session: %w", err)
	}

	slog.Info("client authenticated", "client_id", c.ID(), "public_key", pk)
	a.metrics.authResult("authenticated")
	a.audit.Record(database.AuthEvent{
		PublicKey:    pk.String(),
		ConnectionID: c.ID(),
		Outcome:      database.OutcomeAuthenticated,
	})

	if c.isDone() {
		// Closed while registering; the Closed hook may have run before Add.
		a.registry.Release(pk, c)
	}
	return nil
}

func (a *Authenticator) reject(c *Client, claimedKey, details string) error {
	perr := protocol.AuthFailed(details)
	if !c.state.fail(string(perr.Reason)) {
		return errors.Join(perr, ErrConnectionClosed)
	}

	slog.Warn("authentication failed", "client_id", c.ID(), "details", details)
	a.metrics.authResult("failed")
	a.audit.Record(database.AuthEvent{
		PublicKey:    claimedKey,
		ConnectionID: c.ID(),
		Outcome:      database.OutcomeAuthFailed,
		Reason:       details,
	})
	return perr
}
