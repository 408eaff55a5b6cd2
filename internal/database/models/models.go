// Package models defines the database row types shared across repositories.
package models

import (
	"fmt"
	"time"
)

// LineStatus is the registration status surfaced for a SIP line.
type LineStatus string

const (
	LineStatusDisconnected LineStatus = "disconnected"
	LineStatusConnecting   LineStatus = "connecting"
	LineStatusConnected    LineStatus = "connected"
	LineStatusError        LineStatus = "error"
	LineStatusDisabled     LineStatus = "disabled"
)

// SipLine is one registrable phone line. Created and edited by the external
// administration layer; the signaling engine only writes back Status.
type SipLine struct {
	ID            int64
	Name          string
	Extension     string
	Username      string
	Password      string
	RegistrarHost string
	RegistrarPort int
	Enabled       bool
	Status        LineStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RegistrarAddr returns the "host:port" address of the line's registrar.
func (l SipLine) RegistrarAddr() string {
	return fmt.Sprintf("%s:%d", l.RegistrarHost, l.RegistrarPort)
}

// Caller is a known remote party, keyed by normalized phone number.
type Caller struct {
	ID        int64
	Phone     string
	CreatedAt time.Time
}

// CallSession is the persisted record of one phone call, correlating the
// in-memory call with the transcript accumulated during it.
type CallSession struct {
	ID         string
	CallerID   int64
	Phone      string
	LineID     int64
	Transcript string
	StartedAt  time.Time
	EndedAt    *time.Time
}
