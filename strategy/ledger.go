package strategy

import (
	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OUTCOME LEDGER - Bounded rolling history of settled rounds
// ═══════════════════════════════════════════════════════════════════════════════

const (
	WindowSize      = 7
	DefaultCapacity = 500
)

// Counts per color over everything the ledger has seen
type Counts struct {
	Red   int
	Black int
	Green int
	Total int
}

// Ledger keeps the most recent outcomes in a ring buffer plus the last
// WindowSize non-zero colors for pattern detection.
// Not safe for concurrent use; the engine owns it.
type Ledger struct {
	buf    []types.Outcome
	next   int
	size   int
	window []types.Color
	counts Counts
}

// NewLedger creates a ledger holding up to capacity outcomes
func NewLedger(capacity int) *Ledger {
	if capacity < WindowSize {
		capacity = DefaultCapacity
	}
	return &Ledger{
		buf:    make([]types.Outcome, capacity),
		window: make([]types.Color, 0, WindowSize),
	}
}

// Append records one outcome
func (l *Ledger) Append(o types.Outcome) {
	l.buf[l.next] = o
	l.next = (l.next + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}

	l.counts.Total++
	switch o.Color {
	case types.Red:
		l.counts.Red++
	case types.Black:
		l.counts.Black++
	default:
		l.counts.Green++
		return // zeros never enter the pattern window
	}

	if len(l.window) == WindowSize {
		copy(l.window, l.window[1:])
		l.window = l.window[:WindowSize-1]
	}
	l.window = append(l.window, o.Color)
}

// Window returns the last WindowSize non-zero colors, oldest first.
// ok is false until enough colored outcomes were seen.
func (l *Ledger) Window() ([]types.Color, bool) {
	out := make([]types.Color, len(l.window))
	copy(out, l.window)
	return out, len(out) == WindowSize
}

// Recent returns up to n outcomes, oldest first
func (l *Ledger) Recent(n int) []types.Outcome {
	if n > l.size {
		n = l.size
	}
	out := make([]types.Outcome, 0, n)
	start := (l.next - n + len(l.buf)) % len(l.buf)
	for i := 0; i < n; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

// Last returns the newest outcome
func (l *Ledger) Last() (types.Outcome, bool) {
	if l.size == 0 {
		return types.Outcome{}, false
	}
	return l.buf[(l.next-1+len(l.buf))%len(l.buf)], true
}

// Len is the number of retained outcomes
func (l *Ledger) Len() int { return l.size }

// Counts returns the per-color counters
func (l *Ledger) Counts() Counts { return l.counts }
