package protocol

import (
	"errors"
	"fmt"
)

// Error kinds. Each is terminal for the operation it affects.
var (
	ErrAuthentication = errors.New("authentication error")
	ErrSignature      = errors.New("signature error")
	ErrFormat         = errors.New("format error")
	ErrRouting        = errors.New("routing error")
)

// Reason is the machine-readable code carried by error frames.
type Reason string

const (
	ReasonAuthFailed       Reason = "auth_failed"
	ReasonAuthRequired     Reason = "auth_required"
	ReasonSignatureInvalid Reason = "signature_invalid"
	ReasonMalformedJSON    Reason = "malformed_json"
	ReasonOffline          Reason = "offline"
)

// Error is a rejection reported back to the peer that caused it.
type Error struct {
	Kind    error
	Reason  Reason
	Details string

	// Recipient is set for offline rejections.
	Recipient string
}

func (e *Error) Error() string {
	if e.Details == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func (e *Error) Frame() ErrorFrame {
	return ErrorFrame{Type: TypeError, Reason: e.Reason, Details: e.Details}
}

func AuthFailed(details string) *Error {
	return &Error{Kind: ErrAuthentication, Reason: ReasonAuthFailed, Details: details}
}

func AuthRequired() *Error {
	return &Error{Kind: ErrAuthentication, Reason: ReasonAuthRequired, Details: "connection is not authenticated"}
}

func SignatureInvalid(details string) *Error {
	return &Error{Kind: ErrSignature, Reason: ReasonSignatureInvalid, Details: details}
}

func Malformed(details string) *Error {
	return &Error{Kind: ErrFormat, Reason: ReasonMalformedJSON, Details: details}
}

func Offline(recipient string) *Error {
	return &Error{
		Kind:      ErrRouting,
		Reason:    ReasonOffline,
		Details:   "recipient " + recipient + " is not online",
		Recipient: recipient,
	}
}
