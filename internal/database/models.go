package database

import (
	"time"
)

type Outcome string

const (
	OutcomeAuthenticated Outcome = "authenticated"
	OutcomeAuthFailed    Outcome = "auth_failed"
	OutcomeSuperseded    Outcome = "superseded"
	OutcomeDisconnected  Outcome = "disconnected"
)

// AuthEvent is one line of the connection audit trail. It never holds
// message content and is never used to rebuild the lobby.
type AuthEvent struct {
	ID           uint    `gorm:"primaryKey"`
	PublicKey    string  `gorm:"index;size:64"`
	ConnectionID string  `gorm:"index;size:36;not null"`
	Outcome      Outcome `gorm:"size:16;not null"`
	Reason       string
	CreatedAt    time.Time
}
