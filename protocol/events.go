package protocol

import (
	"fmt"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEED EVENTS - Typed view of inbound table messages
// ═══════════════════════════════════════════════════════════════════════════════

// Kind identifies a decoded event
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindHeartbeatAck
	KindRoundOpened
	KindRoundClosingSoon
	KindRoundClosed
	KindRoundResult
	KindCommandAck
	KindSessionInvalid
	KindServerRedirect
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeatAck:
		return "heartbeat_ack"
	case KindRoundOpened:
		return "round_opened"
	case KindRoundClosingSoon:
		return "round_closing_soon"
	case KindRoundClosed:
		return "round_closed"
	case KindRoundResult:
		return "round_result"
	case KindCommandAck:
		return "command_ack"
	case KindSessionInvalid:
		return "session_invalid"
	case KindServerRedirect:
		return "server_redirect"
	}
	return "unrecognized"
}

// Event is anything Decode can produce
type Event interface {
	Kind() Kind
}

// HeartbeatAck answers a ping
type HeartbeatAck struct {
	SentAt time.Time
	Seq    uint64
}

// RoundOpened - bets are accepted for RoundID
type RoundOpened struct {
	RoundID string
	TableID string
	Seq     uint64
}

// RoundClosingSoon - last call for bets
type RoundClosingSoon struct {
	RoundID string
}

// RoundClosed - no more bets for RoundID
type RoundClosed struct {
	RoundID string
}

// RoundResult carries the drawn number
type RoundResult struct {
	RoundID string
	Value   int
	Seq     uint64
}

// AckStatus of a command acknowledgement
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckRejected AckStatus = "rejected"
	AckOther    AckStatus = "other" // informational, neither accepted nor refused
)

// CommandAck is the table's answer to a wager command
type CommandAck struct {
	Status AckStatus
	Raw    string // status token as sent by the table
	Code   string // validation error code, if any
}

// Rejected reports whether the command was refused
func (a CommandAck) Rejected() bool { return a.Status == AckRejected }

// Accepted reports whether the table took the command
func (a CommandAck) Accepted() bool { return a.Status == AckAccepted }

// SessionInvalid - credentials are no longer accepted
type SessionInvalid struct {
	Reason string
}

// ServerRedirect asks the client to move to another game server
type ServerRedirect struct {
	Endpoint string
	TableID  string
	Server   string
}

// Unrecognized wraps anything that could not be decoded
type Unrecognized struct {
	Raw string
	Err error
}

func (HeartbeatAck) Kind() Kind     { return KindHeartbeatAck }
func (RoundOpened) Kind() Kind      { return KindRoundOpened }
func (RoundClosingSoon) Kind() Kind { return KindRoundClosingSoon }
func (RoundClosed) Kind() Kind      { return KindRoundClosed }
func (RoundResult) Kind() Kind      { return KindRoundResult }
func (CommandAck) Kind() Kind       { return KindCommandAck }
func (SessionInvalid) Kind() Kind   { return KindSessionInvalid }
func (ServerRedirect) Kind() Kind   { return KindServerRedirect }
func (Unrecognized) Kind() Kind     { return KindUnrecognized }

// ProtocolError describes a message that could not be decoded
type ProtocolError struct {
	Reason string
	Raw    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Reason)
}

// Truncate shortens raw payloads for logs
func Truncate(raw string, n int) string {
	if len(raw) <= n {
		return raw
	}
	return raw[:n] + "..."
}
