package strategy

import (
	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PATTERN DETECTOR
// ═══════════════════════════════════════════════════════════════════════════════
//
// Window [p1..p7] of non-zero colors, oldest first.
// Valid when p6 == p1 and p7 == p2 and the run is not a single color.
// The base wager sequence is invert(p1..p5): bet against the seed.
//
// ═══════════════════════════════════════════════════════════════════════════════

const PatternSize = 5

// IsValidPattern checks a 7-color window
func IsValidPattern(window []types.Color) bool {
	if len(window) != WindowSize {
		return false
	}
	for _, c := range window {
		if c == types.Green {
			return false
		}
	}
	if window[5] != window[0] || window[6] != window[1] {
		return false
	}

	for _, c := range window[1:] {
		if c != window[0] {
			return true
		}
	}
	return false // monochrome
}

// BasePattern inverts the first five colors of the window
func BasePattern(window []types.Color) [PatternSize]types.Color {
	var base [PatternSize]types.Color
	for i := 0; i < PatternSize && i < len(window); i++ {
		base[i] = window[i].Invert()
	}
	return base
}

// Detection is a qualifying window and the sequence derived from it
type Detection struct {
	Window []types.Color
	Base   [PatternSize]types.Color
}

// Detect evaluates the ledger's current window
func Detect(l *Ledger) (Detection, bool) {
	window, full := l.Window()
	if !full || !IsValidPattern(window) {
		return Detection{Window: window}, false
	}
	return Detection{Window: window, Base: BasePattern(window)}, true
}
