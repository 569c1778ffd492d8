package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARTINGALE - Staged wager sequence over a detected pattern
// ═══════════════════════════════════════════════════════════════════════════════
//
// Start:   level=2 (third slot), stage=0, cycle=1
// Win:     sequence ends, detector resumes
// Green:   stage+1, level unchanged (same slot retried)
// Loss:    stage+1, level+1
// Stage 10 without a win: max-stage loss, sequence ends
//
// Target color is base[level % 5]; cycle = level/5 + 1.
//
// ═══════════════════════════════════════════════════════════════════════════════

const StartLevel = 2

var (
	ErrAlreadyActive = errors.New("sequence already active")
	ErrNotActive     = errors.New("no active sequence")
	ErrPending       = errors.New("wager already pending")
	ErrNoPending     = errors.New("no pending wager")
	ErrRoundMismatch = errors.New("result round does not match pending wager")
)

// Sequence is the active martingale run
type Sequence struct {
	Base       [PatternSize]types.Color
	Window     []types.Color
	LevelIndex int
	StageIndex int
	StartedAt  time.Time
}

// Cycle is the pass through the base pattern (1-3)
func (s Sequence) Cycle() int { return s.LevelIndex/PatternSize + 1 }

// Target is the color to back at the current level
func (s Sequence) Target() types.Color { return s.Base[s.LevelIndex%PatternSize] }

// Wager is what the engine should place next
type Wager struct {
	Color      types.Color
	Amount     decimal.Decimal
	StageIndex int
	LevelIndex int
}

// Pending is the single outstanding wager
type Pending struct {
	Wager
	RoundID   string
	Simulated bool
	PlacedAt  time.Time
}

// Settlement is the outcome of settling the pending wager
type Settlement struct {
	Record     types.WagerRecord
	Terminated bool
}

// Stats are per-run counters
type Stats struct {
	Total          int
	Wins           int
	Losses         int
	GreenLosses    int
	MaxStageLosses int
	Indeterminate  int
	Simulated      int
	Profit         decimal.Decimal
	WinCounters    [MaxStages]int
	LossCounters   [MaxStages]int
	StartedAt      time.Time
}

// WinRate as a percentage
func (s Stats) WinRate() decimal.Decimal {
	if s.Total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(s.Total))).Round(1)
}

// Summary is a read-only view for snapshots
type Summary struct {
	Active     bool
	Frozen     bool
	Base       string
	Cycle      int
	LevelIndex int
	StageIndex int
	Next       *Wager
	Pending    *Pending
	Stats      Stats
}

// Martingale is the strategy state machine. Not safe for concurrent use.
type Martingale struct {
	stakes  StakeTable
	active  *Sequence
	pending *Pending
	frozen  bool
	stats   Stats
	now     func() time.Time
}

// NewMartingale creates an idle state machine
func NewMartingale(stakes StakeTable) *Martingale {
	m := &Martingale{stakes: stakes, now: time.Now}
	m.stats = Stats{Profit: decimal.Zero, StartedAt: m.now()}
	return m
}

// Stakes returns the configured ladder
func (m *Martingale) Stakes() StakeTable { return m.stakes }

// SetStakes swaps the ladder. Takes effect from the next wager.
func (m *Martingale) SetStakes(stakes StakeTable) { m.stakes = stakes }

// Active reports whether a sequence is running
func (m *Martingale) Active() bool { return m.active != nil }

// Frozen reports whether placement is paused until the next round opens
func (m *Martingale) Frozen() bool { return m.frozen }

// Sequence returns a copy of the active sequence
func (m *Martingale) Sequence() (Sequence, bool) {
	if m.active == nil {
		return Sequence{}, false
	}
	return *m.active, true
}

// Activate starts a sequence from a detection
func (m *Martingale) Activate(d Detection) error {
	if m.active != nil {
		return ErrAlreadyActive
	}
	m.active = &Sequence{
		Base:       d.Base,
		Window:     append([]types.Color(nil), d.Window...),
		LevelIndex: StartLevel,
		StageIndex: 0,
		StartedAt:  m.now(),
	}
	return nil
}

// NextWager returns the wager for the coming round, if one should be placed
func (m *Martingale) NextWager() (Wager, bool) {
	if m.active == nil || m.pending != nil || m.frozen {
		return Wager{}, false
	}
	return Wager{
		Color:      m.active.Target(),
		Amount:     m.stakes[m.active.StageIndex],
		StageIndex: m.active.StageIndex,
		LevelIndex: m.active.LevelIndex,
	}, true
}

// MarkPending records that w was placed (or simulated) on roundID
func (m *Martingale) MarkPending(roundID string, w Wager, simulated bool) error {
	if m.active == nil {
		return ErrNotActive
	}
	if m.pending != nil {
		return fmt.Errorf("%w for round %s", ErrPending, m.pending.RoundID)
	}
	m.pending = &Pending{Wager: w, RoundID: roundID, Simulated: simulated, PlacedAt: m.now()}
	return nil
}

// Pending returns the outstanding wager
func (m *Martingale) Pending() (Pending, bool) {
	if m.pending == nil {
		return Pending{}, false
	}
	return *m.pending, true
}

// Settle applies the drawn value to the pending wager
func (m *Martingale) Settle(roundID string, value int) (Settlement, error) {
	if m.pending == nil {
		return Settlement{}, ErrNoPending
	}
	p := *m.pending
	if p.RoundID != roundID {
		return Settlement{}, fmt.Errorf("%w: pending %s, result %s", ErrRoundMismatch, p.RoundID, roundID)
	}

	actual := types.ColorOf(value)
	rec := types.WagerRecord{
		ID:          uuid.NewString(),
		RoundID:     roundID,
		StageIndex:  p.StageIndex,
		LevelIndex:  p.LevelIndex,
		Predicted:   p.Color,
		Actual:      actual,
		ActualValue: value,
		Amount:      p.Amount,
		Simulated:   p.Simulated,
		SettledAt:   m.now(),
	}

	m.pending = nil
	m.stats.Total++
	if p.Simulated {
		m.stats.Simulated++
	}

	seq := m.active
	terminated := false

	switch {
	case actual == p.Color:
		rec.IsWin = true
		rec.Result = types.ResultWin
		m.stats.Wins++
		m.stats.WinCounters[p.StageIndex]++
		m.stats.Profit = m.stats.Profit.Add(p.Amount)
		terminated = true

	case actual == types.Green:
		rec.Result = types.ResultGreenLoss
		m.recordLoss(p)
		m.stats.GreenLosses++
		seq.StageIndex++

	default:
		rec.Result = types.ResultLoss
		m.recordLoss(p)
		seq.StageIndex++
		seq.LevelIndex++
	}

	if !terminated && seq.StageIndex >= MaxStages {
		rec.Result = types.ResultMaxStage
		m.stats.MaxStageLosses++
		terminated = true
	}

	if terminated {
		m.active = nil
	}
	return Settlement{Record: rec, Terminated: terminated}, nil
}

func (m *Martingale) recordLoss(p Pending) {
	m.stats.Losses++
	m.stats.LossCounters[p.StageIndex]++
	m.stats.Profit = m.stats.Profit.Sub(p.Amount)
}

// Indeterminate drops the pending wager without counting it and freezes
// placement until Resume. Returns the dropped wager.
func (m *Martingale) Indeterminate() (Pending, bool) {
	m.frozen = m.active != nil
	if m.pending == nil {
		return Pending{}, false
	}
	p := *m.pending
	m.pending = nil
	m.stats.Indeterminate++
	return p, true
}

// Resume lifts a freeze; called when a fresh round opens
func (m *Martingale) Resume() { m.frozen = false }

// Deactivate abandons the active sequence without recording a result
func (m *Martingale) Deactivate() {
	m.active = nil
	m.pending = nil
	m.frozen = false
}

// Stats returns a copy of the run counters
func (m *Martingale) Stats() Stats { return m.stats }

// Reset clears counters and any active sequence
func (m *Martingale) Reset() {
	m.Deactivate()
	m.stats = Stats{Profit: decimal.Zero, StartedAt: m.now()}
}

// Summary builds a snapshot view
func (m *Martingale) Summary() Summary {
	s := Summary{Frozen: m.frozen, Stats: m.stats}
	if m.active != nil {
		s.Active = true
		s.Base = types.FormatColors(m.active.Base[:])
		s.Cycle = m.active.Cycle()
		s.LevelIndex = m.active.LevelIndex
		s.StageIndex = m.active.StageIndex
	}
	if w, ok := m.NextWager(); ok {
		s.Next = &w
	}
	if p, ok := m.Pending(); ok {
		s.Pending = &p
	}
	return s
}
