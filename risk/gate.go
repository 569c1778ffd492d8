package risk

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WAGER GATE - Decides whether the next wager is real or simulated
// ═══════════════════════════════════════════════════════════════════════════════
//
//   live    every wager is sent
//   shadow  every wager is simulated, nothing reaches the table
//   gated   simulate until the simulated ladder has lost at GateStage
//           Threshold times, then go live for the rest of that sequence
//
// ═══════════════════════════════════════════════════════════════════════════════

// Mode of wager placement
type Mode string

const (
	ModeLive   Mode = "live"
	ModeShadow Mode = "shadow"
	ModeGated  Mode = "gated"
)

// ParseMode accepts live, shadow or gated
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeLive, ModeShadow, ModeGated:
		return m, nil
	case "":
		return ModeLive, nil
	}
	return "", fmt.Errorf("unknown wager mode %q", s)
}

// Gate tracks the live/simulated decision for one account
type Gate struct {
	mu sync.RWMutex

	mode      Mode
	stage     int
	threshold int
	logger    zerolog.Logger

	losses         int  // simulated losses at stage while closed
	open           bool // gated: live for the current sequence
	liveInSequence bool
	openings       int
}

// NewGate creates a wager gate
func NewGate(mode Mode, stage, threshold int, logger zerolog.Logger) *Gate {
	if threshold <= 0 {
		threshold = 1
	}
	return &Gate{
		mode:      mode,
		stage:     stage,
		threshold: threshold,
		logger:    logger.With().Str("component", "gate").Logger(),
	}
}

// Mode returns the configured mode
func (g *Gate) Mode() Mode { return g.mode }

// Live reports whether the next wager goes to the table
func (g *Gate) Live() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch g.mode {
	case ModeShadow:
		return false
	case ModeGated:
		return g.open
	}
	return true
}

// Observe feeds a settled wager back into the gate
func (g *Gate) Observe(rec types.WagerRecord, terminated bool) {
	if g.mode != ModeGated {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open {
		if !rec.Simulated {
			g.liveInSequence = true
		}
		if terminated && g.liveInSequence {
			g.open = false
			g.liveInSequence = false
			g.logger.Info().Str("result", rec.Result).Msg("🔒 Gate closed, back to simulation")
		}
		return
	}

	if rec.Simulated && !rec.IsWin && rec.StageIndex == g.stage {
		g.losses++
		g.logger.Debug().Int("losses", g.losses).Int("threshold", g.threshold).Msg("Simulated loss at gate stage")
		if g.losses >= g.threshold {
			g.open = true
			g.losses = 0
			g.openings++
			g.logger.Info().Int("stage", g.stage+1).Msg("🚪 Gate opened, next wagers are live")
		}
	}
}

// Status returns the gate counters
func (g *Gate) Status() (open bool, losses, threshold, openings int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.open, g.losses, g.threshold, g.openings
}

// Reset closes the gate and clears its counters
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = false
	g.losses = 0
	g.liveInSequence = false
	g.openings = 0
}
