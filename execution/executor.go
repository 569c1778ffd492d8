package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/roulettebot/protocol"
	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION LAYER - Wager State Machine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Responsibilities:
// 1. One outbound wager command per open round
// 2. At most one pending wager at a time
// 3. Ack handling (accepted / rejected)
// 4. Reconciling the pending wager with the round result
//
// Wager Flow:
//   Strategy → Gate → Executor → Table feed
//                        ↓
//                  State Machine
//                  ↓     ↓      ↓
//                SENT ACCEPTED REJECTED
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrNotOpen        = errors.New("round not open for wagers")
	ErrAlreadyPending = errors.New("a wager is already pending")
	ErrNoPending      = errors.New("no pending wager")
)

// StateError describes a wager that cannot be attributed safely
type StateError struct {
	Op        string
	RoundID   string
	Stage     int
	Predicted types.Color
	Err       error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s round %s (stage %d, %s): %v", e.Op, e.RoundID, e.Stage+1, e.Predicted.Name(), e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// WagerState represents the lifecycle state of a wager
type WagerState string

const (
	WagerStateSent     WagerState = "SENT"     // Written to the table, awaiting ack
	WagerStateAccepted WagerState = "ACCEPTED" // Acknowledged by the table
	WagerStateRejected WagerState = "REJECTED" // Refused by the table
)

// Wager is the single outstanding command
type Wager struct {
	RoundID        string
	TableID        string
	IdempotencyKey string
	Color          types.Color
	Amount         decimal.Decimal
	Stage          int
	Simulated      bool
	State          WagerState
	PlacedAt       time.Time
	AckAt          time.Time
	AckCode        string
}

// Sender writes commands to the table
type Sender interface {
	Send(ctx context.Context, cmd protocol.Command) error
	TableID() string
}

// Executor manages wager placement and round state
type Executor struct {
	mu sync.RWMutex

	sender     Sender
	accountRef func() string
	keys       *protocol.KeySource
	logger     zerolog.Logger

	// State
	round     types.Round
	hasRound  bool
	pending   *Wager
	lastRound string // round of the last placement, even if since cleared

	// Metrics
	totalWagers     int64
	simulatedWagers int64
	acceptedWagers  int64
	rejectedWagers  int64
	totalVolume     decimal.Decimal
}

// NewExecutor creates a new execution manager
func NewExecutor(sender Sender, accountRef func() string, logger zerolog.Logger) *Executor {
	return &Executor{
		sender:      sender,
		accountRef:  accountRef,
		keys:        protocol.NewKeySource(),
		logger:      logger.With().Str("component", "executor").Logger(),
		totalVolume: decimal.Zero,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ROUND TRACKING
// ═══════════════════════════════════════════════════════════════════════════════

// OnRoundOpened starts tracking a fresh round. A repeated open for the
// current round never moves its phase backwards.
func (e *Executor) OnRoundOpened(roundID, tableID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasRound && e.round.ID == roundID {
		e.round.Advance(types.PhaseOpen)
		return
	}
	e.round = types.Round{ID: roundID, TableID: tableID, Phase: types.PhaseOpen, OpenedAt: time.Now()}
	e.hasRound = true
}

// OnRoundClosingSoon marks last call. An empty id means the current round.
func (e *Executor) OnRoundClosingSoon(roundID string) { e.advance(roundID, types.PhaseClosingSoon) }

// OnRoundClosed stops accepting wagers for the round
func (e *Executor) OnRoundClosed(roundID string) { e.advance(roundID, types.PhaseClosed) }

// OnRoundResolved marks the round as settled
func (e *Executor) OnRoundResolved(roundID string) { e.advance(roundID, types.PhaseResolved) }

func (e *Executor) advance(roundID string, phase types.Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if roundID == "" && e.hasRound {
		roundID = e.round.ID
	}
	if !e.hasRound || e.round.ID != roundID {
		e.round = types.Round{ID: roundID, Phase: phase}
		e.hasRound = true
		return
	}
	e.round.Advance(phase)
}

// Round returns the round currently on the table
func (e *Executor) Round() (types.Round, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.round, e.hasRound
}

// ═══════════════════════════════════════════════════════════════════════════════
// WAGER SUBMISSION
// ═══════════════════════════════════════════════════════════════════════════════

// Place backs color on roundID. Simulated wagers are tracked but never sent.
func (e *Executor) Place(ctx context.Context, roundID string, color types.Color, amount decimal.Decimal, stage int, simulated bool) (Wager, error) {
	code, err := protocol.WagerCode(color)
	if err != nil {
		return Wager{}, err
	}

	e.mu.Lock()
	if !e.hasRound || e.round.ID != roundID ||
		(e.round.Phase != types.PhaseOpen && e.round.Phase != types.PhaseClosingSoon) {
		phase := "unknown"
		if e.hasRound && e.round.ID == roundID {
			phase = e.round.Phase.String()
		}
		e.mu.Unlock()
		return Wager{}, &StateError{Op: "place", RoundID: roundID, Stage: stage, Predicted: color,
			Err: fmt.Errorf("%w (phase %s)", ErrNotOpen, phase)}
	}
	if e.pending != nil || e.lastRound == roundID {
		e.mu.Unlock()
		return Wager{}, &StateError{Op: "place", RoundID: roundID, Stage: stage, Predicted: color, Err: ErrAlreadyPending}
	}

	w := &Wager{
		RoundID:        roundID,
		TableID:        e.sender.TableID(),
		IdempotencyKey: e.keys.Next(),
		Color:          color,
		Amount:         types.Stake(amount),
		Stage:          stage,
		Simulated:      simulated,
		State:          WagerStateSent,
		PlacedAt:       time.Now(),
	}
	if simulated {
		w.State = WagerStateAccepted
		w.AckAt = w.PlacedAt
	}
	e.pending = w
	e.lastRound = roundID
	e.mu.Unlock()

	if !simulated {
		cmd := protocol.PlaceWager{
			TableID:        w.TableID,
			RoundID:        roundID,
			AccountRef:     e.accountRef(),
			Amount:         w.Amount,
			WagerTypeCode:  code,
			IdempotencyKey: w.IdempotencyKey,
		}
		if err := e.sender.Send(ctx, cmd); err != nil {
			e.mu.Lock()
			if e.pending == w {
				e.pending = nil
			}
			e.mu.Unlock()

			e.logger.Error().Err(err).Str("round", roundID).Int("stage", stage+1).Msg("❌ Wager send failed")
			return Wager{}, fmt.Errorf("send wager: %w", err)
		}
	}

	e.mu.Lock()
	e.totalWagers++
	if simulated {
		e.simulatedWagers++
	}
	e.totalVolume = e.totalVolume.Add(w.Amount)
	placed := *w
	e.mu.Unlock()

	mode := "LIVE"
	if simulated {
		mode = "SIMULATED"
	}
	e.logger.Info().
		Str("round", roundID).
		Str("table", placed.TableID).
		Str("color", color.Name()).
		Str("amount", placed.Amount.StringFixed(2)).
		Int("stage", stage+1).
		Str("mode", mode).
		Msg("📤 Wager placed")

	return placed, nil
}

// OnAck applies a command ack to the pending wager. A rejection clears the
// pending wager and returns it so the caller can treat it as indeterminate.
func (e *Executor) OnAck(ack protocol.CommandAck) (Wager, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil || e.pending.Simulated || e.pending.State != WagerStateSent {
		e.logger.Debug().Str("status", ack.Raw).Msg("Ack without a wager awaiting it")
		return Wager{}, false
	}
	if !ack.Rejected() && !ack.Accepted() {
		e.logger.Debug().Str("status", ack.Raw).Str("round", e.pending.RoundID).Msg("Ignoring informational ack")
		return Wager{}, false
	}

	e.pending.AckAt = time.Now()
	e.pending.AckCode = ack.Code

	if ack.Rejected() {
		e.pending.State = WagerStateRejected
		e.rejectedWagers++
		w := *e.pending
		e.pending = nil
		e.logger.Warn().
			Str("round", w.RoundID).
			Str("status", ack.Raw).
			Str("code", ack.Code).
			Int("stage", w.Stage+1).
			Str("predicted", w.Color.Name()).
			Msg("⛔ Wager rejected")
		return w, true
	}

	e.pending.State = WagerStateAccepted
	e.acceptedWagers++
	return *e.pending, true
}

// Settle releases the pending wager for the result of roundID. A different
// round id yields a StateError and the wager is dropped as indeterminate.
func (e *Executor) Settle(roundID string) (Wager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil {
		return Wager{}, ErrNoPending
	}
	w := *e.pending
	e.pending = nil

	if w.RoundID != roundID {
		return w, &StateError{
			Op:        "settle",
			RoundID:   roundID,
			Stage:     w.Stage,
			Predicted: w.Color,
			Err:       fmt.Errorf("pending wager is for round %s", w.RoundID),
		}
	}
	return w, nil
}

// Drop clears the pending wager without settling it
func (e *Executor) Drop() (Wager, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Wager{}, false
	}
	w := *e.pending
	e.pending = nil
	return w, true
}

// Pending returns the outstanding wager
func (e *Executor) Pending() (Wager, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pending == nil {
		return Wager{}, false
	}
	return *e.pending, true
}

// GetMetrics returns execution metrics
func (e *Executor) GetMetrics() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	acceptRate := float64(0)
	live := e.totalWagers - e.simulatedWagers
	if live > 0 {
		acceptRate = float64(e.acceptedWagers) / float64(live) * 100
	}

	return map[string]interface{}{
		"total_wagers":     e.totalWagers,
		"simulated_wagers": e.simulatedWagers,
		"accepted_wagers":  e.acceptedWagers,
		"rejected_wagers":  e.rejectedWagers,
		"accept_rate":      acceptRate,
		"total_volume":     e.totalVolume.StringFixed(2),
	}
}
