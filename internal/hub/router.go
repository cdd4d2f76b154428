package hub

import (
	"fmt"
	"time"

	"mensageria_assinada/internal/identity"
	"mensageria_assinada/internal/lobby"
	"mensageria_assinada/internal/protocol"
)

// Sender is the routing view of the connection a frame arrived on.
type Sender interface {
	ID() string
	Authenticated() (identity.PublicKey, bool)
}

// Router validates message frames and forwards them, byte for byte, to the
// recipient's connection. Checks run in a fixed order and stop at the first
// failure; nothing is retried or queued.
type Router struct {
	registry *lobby.Registry
	metrics  *Metrics
}

func NewRouter(registry *lobby.Registry, metrics *Metrics) *Router {
	return &Router{
		registry: registry,
		metrics:  metrics,
	}
}

func (r *Router) Route(sender Sender, raw []byte) (err error) {
	start := time.Now()
	defer func() {
		r.metrics.routed(err, time.Since(start))
	}()

	senderKey, ok := sender.Authenticated()
	if !ok {
		return protocol.AuthRequired()
	}

	frame, err := protocol.Decode(raw)
	if err != nil {
		return err
	}
	msg, ok := frame.(protocol.MessageFrame)
	if !ok {
		return protocol.Malformed(fmt.Sprintf("expected message frame, got %q", frame.FrameType()))
	}
	claimed, err := identity.ParsePublicKey(msg.SenderPublicKey)
	if err != nil {
		return protocol.Malformed("senderPublicKey: " + err.Error())
	}
	recipient, err := identity.ParsePublicKey(msg.RecipientPublicKey)
	if err != nil {
		return protocol.Malformed("recipientPublicKey: " + err.Error())
	}

	if !identity.VerifyHex(msg.Message, msg.Signature, msg.SenderPublicKey) {
		return protocol.SignatureInvalid("signature does not match content and sender key")
	}
	if claimed != senderKey {
		return protocol.SignatureInvalid("sender key does not match the authenticated identity")
	}

	target, ok := r.registry.Get(recipient)
	if !ok || !target.Deliver(raw) {
		return protocol.Offline(msg.RecipientPublicKey)
	}
	return nil
}
