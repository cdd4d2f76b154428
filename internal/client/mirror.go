package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"mensageria_assinada/internal/identity"
	"mensageria_assinada/internal/protocol"
)

var ErrUnverified = errors.New("message failed verification")

// Message is a pushed message whose signature has been checked against its
// sender key.
type Message struct {
	From      identity.PublicKey
	To        identity.PublicKey
	Content   string
	Signature string
	SentAt    time.Time
}

// Mirror re-verifies every message the server pushes. The server already
// checked the signature; the receiver does not take its word for it.
type Mirror struct {
	self    identity.PublicKey
	dropped atomic.Uint64
}

func NewMirror(self identity.PublicKey) *Mirror {
	return &Mirror{self: self}
}

// Check validates f and returns the verified message. Failures are counted,
// logged and must be discarded by the caller.
func (m *Mirror) Check(f protocol.MessageFrame) (Message, error) {
	msg, err := m.check(f)
	if err != nil {
		m.dropped.Add(1)
		slog.Warn("discarding unverified message", "error", err)
		return Message{}, err
	}
	return msg, nil
}

func (m *Mirror) check(f protocol.MessageFrame) (Message, error) {
	from, err := identity.ParsePublicKey(f.SenderPublicKey)
	if err != nil {
		return Message{}, fmt.Errorf("%w: sender: %v", ErrUnverified, err)
	}
	to, err := identity.ParsePublicKey(f.RecipientPublicKey)
	if err != nil {
		return Message{}, fmt.Errorf("%w: recipient: %v", ErrUnverified, err)
	}
	if to != m.self {
		return Message{}, fmt.Errorf("%w: addressed to %s", ErrUnverified, to.Fingerprint())
	}
	if !identity.VerifyHex(f.Message, f.Signature, f.SenderPublicKey) {
		return Message{}, fmt.Errorf("%w: bad signature", ErrUnverified)
	}
	sentAt, err := f.SentAt()
	if err != nil {
		return Message{}, fmt.Errorf("%w: timestamp: %v", ErrUnverified, err)
	}

	return Message{
		From:      from,
		To:        to,
		Content:   f.Message,
		Signature: f.Signature,
		SentAt:    sentAt,
	}, nil
}

func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}
