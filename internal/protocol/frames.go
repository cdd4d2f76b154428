package protocol

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

type Type string

const (
	TypeAuth         Type = "auth"
	TypeMessage      Type = "message"
	TypeLobby        Type = "lobby"
	TypeLobbyUpdate  Type = "lobby_update"
	TypeError        Type = "error"
	TypeNotification Type = "notification"
)

const EventRecipientOffline = "recipient_offline"

var validate = validator.New()

// Frame is one of the wire variants below; the set is closed.
type Frame interface {
	FrameType() Type
}

type AuthFrame struct {
	Type      Type   `json:"type"`
	PublicKey string `json:"publicKey" validate:"required,hexadecimal,len=64"`
	Signature string `json:"signature" validate:"required,hexadecimal"`
}

type MessageFrame struct {
	Type               Type   `json:"type"`
	Message            string `json:"message"`
	SenderPublicKey    string `json:"senderPublicKey" validate:"required,hexadecimal,len=64"`
	RecipientPublicKey string `json:"recipientPublicKey" validate:"required,hexadecimal,len=64"`
	Signature          string `json:"signature" validate:"required,hexadecimal"`
	Timestamp          string `json:"timestamp" validate:"required"`
}

type User struct {
	PublicKey string `json:"publicKey"`
}

type LobbyFrame struct {
	Type  Type   `json:"type"`
	Users []User `json:"users"`
}

type LobbyUpdateFrame struct {
	Type   Type   `json:"type"`
	Joined []User `json:"joined"`
	Left   []User `json:"left"`
}

type ErrorFrame struct {
	Type    Type   `json:"type"`
	Reason  Reason `json:"reason"`
	Details string `json:"details"`
}

type NotificationFrame struct {
	Type      Type   `json:"type"`
	Event     string `json:"event"`
	Recipient string `json:"recipient"`
}

func (AuthFrame) FrameType() Type         { return TypeAuth }
func (MessageFrame) FrameType() Type      { return TypeMessage }
func (LobbyFrame) FrameType() Type        { return TypeLobby }
func (LobbyUpdateFrame) FrameType() Type  { return TypeLobbyUpdate }
func (ErrorFrame) FrameType() Type        { return TypeError }
func (NotificationFrame) FrameType() Type { return TypeNotification }

// SentAt parses the client timestamp. An explicit zone is mandatory.
func (m MessageFrame) SentAt() (time.Time, error) {
	return time.Parse(time.RFC3339, m.Timestamp)
}

// PeekType returns the "type" discriminator of raw, or "" when raw is not a JSON object with one.
func PeekType(raw []byte) Type {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	return envelope.Type
}

// Decode parses raw into its typed variant. Anything that is not valid UTF-8,
// not JSON, of unknown type or missing required fields is a format error.
func Decode(raw []byte) (Frame, error) {
	if !utf8.Valid(raw) {
		return nil, Malformed("frame is not valid UTF-8")
	}

	typ := PeekType(raw)
	switch typ {
	case TypeAuth:
		var f AuthFrame
		return decodeInto(raw, &f)
	case TypeMessage:
		return decodeMessage(raw)
	case TypeLobby:
		var f LobbyFrame
		return decodeInto(raw, &f)
	case TypeLobbyUpdate:
		var f LobbyUpdateFrame
		return decodeInto(raw, &f)
	case TypeError:
		var f ErrorFrame
		return decodeInto(raw, &f)
	case TypeNotification:
		var f NotificationFrame
		return decodeInto(raw, &f)
	case "":
		return nil, Malformed("frame is not a typed JSON object")
	default:
		return nil, Malformed(fmt.Sprintf("unknown frame type %q", typ))
	}
}

func decodeInto[T Frame](raw []byte, f *T) (Frame, error) {
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, Malformed(err.Error())
	}
	if err := validate.Struct(f); err != nil {
		return nil, Malformed(err.Error())
	}
	return *f, nil
}

func decodeMessage(raw []byte) (Frame, error) {
	// "message" may legitimately be empty, so presence is checked through a pointer.
	var w struct {
		MessageFrame
		Content *string `json:"message" validate:"required"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, Malformed(err.Error())
	}
	if err := validate.Struct(&w); err != nil {
		return nil, Malformed(err.Error())
	}
	if _, err := w.SentAt(); err != nil {
		return nil, Malformed(fmt.Sprintf("timestamp is not ISO 8601 with zone: %v", err))
	}
	f := w.MessageFrame
	f.Message = *w.Content
	return f, nil
}

// Encode marshals f with its type discriminator set.
func Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case AuthFrame:
		v.Type = TypeAuth
		return json.Marshal(v)
	case MessageFrame:
		v.Type = TypeMessage
		return json.Marshal(v)
	case LobbyFrame:
		v.Type = TypeLobby
		if v.Users == nil {
			v.Users = []User{}
		}
		return json.Marshal(v)
	case LobbyUpdateFrame:
		v.Type = TypeLobbyUpdate
		if v.Joined == nil {
			v.Joined = []User{}
		}
		if v.Left == nil {
			v.Left = []User{}
		}
		return json.Marshal(v)
	case ErrorFrame:
		v.Type = TypeError
		return json.Marshal(v)
	case NotificationFrame:
		v.Type = TypeNotification
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("encode frame: unsupported variant %T", f)
	}
}
