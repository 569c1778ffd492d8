package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Color is the wager category of a drawn number
type Color uint8

const (
	Green Color = iota
	Red
	Black
)

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// ColorOf maps a drawn value (0-36) to its color
func ColorOf(value int) Color {
	if value == 0 {
		return Green
	}
	if redNumbers[value] {
		return Red
	}
	return Black
}

// Invert swaps red and black. Green has no opposite and is returned unchanged.
func (c Color) Invert() Color {
	switch c {
	case Red:
		return Black
	case Black:
		return Red
	}
	return c
}

// String returns the single-letter code used in logs ("R", "B", "G")
func (c Color) String() string {
	switch c {
	case Red:
		return "R"
	case Black:
		return "B"
	}
	return "G"
}

// Name returns the long form
func (c Color) Name() string {
	switch c {
	case Red:
		return "red"
	case Black:
		return "black"
	}
	return "green"
}

// FormatColors renders a color run like "RBRBR"
func FormatColors(colors []Color) string {
	b := make([]byte, 0, len(colors))
	for _, c := range colors {
		b = append(b, c.String()[0])
	}
	return string(b)
}

// Outcome is one completed round. Never mutated after creation.
type Outcome struct {
	RoundID    string
	Value      int
	Color      Color
	Sequence   uint64
	ObservedAt time.Time
}

// NewOutcome derives the color from the drawn value
func NewOutcome(roundID string, value int, seq uint64, at time.Time) Outcome {
	return Outcome{
		RoundID:    roundID,
		Value:      value,
		Color:      ColorOf(value),
		Sequence:   seq,
		ObservedAt: at,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ROUNDS
// ═══════════════════════════════════════════════════════════════════════════════

// Phase of a round. Only moves forward.
type Phase uint8

const (
	PhaseOpen Phase = iota + 1
	PhaseClosingSoon
	PhaseClosed
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseClosingSoon:
		return "closing_soon"
	case PhaseClosed:
		return "closed"
	case PhaseResolved:
		return "resolved"
	}
	return "unknown"
}

// Round is the transient state of the round currently on the table
type Round struct {
	ID       string
	TableID  string
	Phase    Phase
	OpenedAt time.Time
}

// Advance moves the round forward. Returns false when next is not ahead of the current phase.
func (r *Round) Advance(next Phase) bool {
	if next <= r.Phase {
		return false
	}
	r.Phase = next
	return true
}

// ═══════════════════════════════════════════════════════════════════════════════
// WAGERS
// ═══════════════════════════════════════════════════════════════════════════════

// Settlement kinds
const (
	ResultWin       = "WIN"
	ResultLoss      = "LOSS"
	ResultGreenLoss = "GREEN_LOSS"
	ResultMaxStage  = "MAX_STAGE"
)

// WagerRecord is the append-only log entry for one settled wager
type WagerRecord struct {
	ID          string
	Account     string
	RoundID     string
	StageIndex  int
	LevelIndex  int
	Predicted   Color
	Actual      Color
	ActualValue int
	IsWin       bool
	Result      string
	Amount      decimal.Decimal
	Simulated   bool
	SettledAt   time.Time
}

// Stake rounds an amount to minor units (cents)
func Stake(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ═══════════════════════════════════════════════════════════════════════════════

// ConnectionStatus of the feed connection
type ConnectionStatus uint8

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	Degraded
)

func (s ConnectionStatus) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Degraded:
		return "DEGRADED"
	}
	return "DISCONNECTED"
}

// ConnectionState is a read-only snapshot owned by the connection manager
type ConnectionState struct {
	Status            ConnectionStatus
	Endpoint          string
	TableID           string
	ReconnectAttempts int
	LastHeartbeatAck  time.Time
	Terminal          bool
}
