package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Consecutive rejected wager commands
// ═══════════════════════════════════════════════════════════════════════════════
//
// Three rejected acks in a row usually mean the table stopped honoring our
// credentials. Tripping hands control to reactive renewal; any accepted ack
// closes the breaker again.
//
// ═══════════════════════════════════════════════════════════════════════════════

const DefaultMaxRejections = 3

type CircuitBreaker struct {
	mu sync.RWMutex

	maxConsecutiveRejections int
	logger                   zerolog.Logger

	consecutiveRejections int
	totalRejections       int
	tripped               bool
	trippedAt             time.Time
	lastCode              string
}

// NewCircuitBreaker creates a breaker that trips after maxRejections
func NewCircuitBreaker(maxRejections int, logger zerolog.Logger) *CircuitBreaker {
	if maxRejections <= 0 {
		maxRejections = DefaultMaxRejections
	}
	return &CircuitBreaker{
		maxConsecutiveRejections: maxRejections,
		logger:                   logger.With().Str("component", "breaker").Logger(),
	}
}

// RecordRejection counts a rejected ack. Returns true when this rejection trips the breaker.
func (cb *CircuitBreaker) RecordRejection(code string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveRejections++
	cb.totalRejections++
	cb.lastCode = code

	if cb.tripped || cb.consecutiveRejections < cb.maxConsecutiveRejections {
		return false
	}
	cb.trip()
	return true
}

// RecordAccepted clears the consecutive count and closes the breaker
func (cb *CircuitBreaker) RecordAccepted() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped {
		cb.logger.Info().Msg("✅ Circuit breaker closed after accepted command")
	}
	cb.reset()
}

// trip activates the circuit breaker
func (cb *CircuitBreaker) trip() {
	cb.tripped = true
	cb.trippedAt = time.Now()
	cb.logger.Warn().
		Int("consecutive_rejections", cb.consecutiveRejections).
		Str("last_code", cb.lastCode).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")
}

// reset clears the circuit breaker state
func (cb *CircuitBreaker) reset() {
	cb.consecutiveRejections = 0
	cb.tripped = false
}

// IsTripped returns current trip state
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.tripped
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (consecutive, total int, tripped bool, trippedAt time.Time) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveRejections, cb.totalRejections, cb.tripped, cb.trippedAt
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
	cb.totalRejections = 0
	cb.logger.Info().Msg("Circuit breaker manually reset")
}
