package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CREDENTIAL LIFECYCLE MANAGER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Issue -> proactive timer (TTL - lead) -> renew in place -> reschedule
//                 ^                             |
//                 |        SessionInvalid / rejected acks
//                 +------- RenewReactive (cancels timer, renews if stale)
//
// One issue/renew runs at a time. A reconnect calling EnsureUsable while a
// renewal is in flight waits for it and then reads the fresh credentials.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds renewal timing
type Config struct {
	TTL                time.Duration // how long a credential pair is accepted
	Lead               time.Duration // renew this long before TTL elapses
	MaxRenewalAttempts int           // consecutive failures before giving up
	RetryDelay         time.Duration // pause between failed attempts
}

// DefaultConfig returns the timings observed on the live feed
func DefaultConfig() Config {
	return Config{
		TTL:                20 * time.Minute,
		Lead:               2 * time.Minute,
		MaxRenewalAttempts: 3,
		RetryDelay:         5 * time.Second,
	}
}

// Manager owns the Session of one account
type Manager struct {
	cfg       Config
	authority Authority
	logger    zerolog.Logger
	now       func() time.Time

	renewMu sync.Mutex

	mu          sync.Mutex
	session     *Session
	timer       *time.Timer
	gen         uint64
	stopped     bool
	onExhausted func(error)
	onRenewed   func(Snapshot)
}

// NewManager creates a credential manager
func NewManager(authority Authority, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.MaxRenewalAttempts <= 0 {
		cfg.MaxRenewalAttempts = 1
	}
	if cfg.Lead >= cfg.TTL {
		cfg.Lead = cfg.TTL / 10
	}
	return &Manager{
		cfg:       cfg,
		authority: authority,
		logger:    logger.With().Str("component", "session").Logger(),
		now:       time.Now,
	}
}

// OnExhausted is called once renewal gives up. Must not block.
func (m *Manager) OnExhausted(fn func(error)) {
	m.mu.Lock()
	m.onExhausted = fn
	m.mu.Unlock()
}

// OnRenewed is called after every successful renewal. Must not block.
func (m *Manager) OnRenewed(fn func(Snapshot)) {
	m.mu.Lock()
	m.onRenewed = fn
	m.mu.Unlock()
}

// Session returns the shared session, nil before Issue
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Snapshot returns a copy of the current session
func (m *Manager) Snapshot() (Snapshot, error) {
	s := m.Session()
	if s == nil {
		return Snapshot{}, ErrNoSession
	}
	return s.Snapshot(), nil
}

// ExpiresAt is when the current credentials stop being accepted
func (m *Manager) ExpiresAt() time.Time {
	s := m.Session()
	if s == nil {
		return time.Time{}
	}
	return s.Snapshot().LastRenewalAt.Add(m.cfg.TTL)
}

// Usable reports whether wagers may be placed with the current session
func (m *Manager) Usable() bool {
	s := m.Session()
	if s == nil {
		return false
	}
	snap := s.Snapshot()
	return !snap.Exhausted
}

// Issue obtains a fresh credential pair and arms proactive renewal.
// It also re-arms a stopped manager.
func (m *Manager) Issue(ctx context.Context, identityToken string) (*Session, error) {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	creds, err := m.authority.Issue(ctx, identityToken)
	if err != nil {
		return nil, asAuthError("issue", err)
	}

	s := newSession(identityToken, creds, m.cfg.MaxRenewalAttempts, m.now())

	m.mu.Lock()
	m.session = s
	m.stopped = false
	m.mu.Unlock()

	m.logger.Info().
		Str("account_ref", creds.AccountRef).
		Dur("ttl", m.cfg.TTL).
		Msg("🔑 Credentials issued")

	m.schedule()
	return s, nil
}

// ScheduleProactiveRenewal re-arms the timer with a new lead time
func (m *Manager) ScheduleProactiveRenewal(lead time.Duration) {
	m.mu.Lock()
	if lead > 0 && lead < m.cfg.TTL {
		m.cfg.Lead = lead
	}
	m.mu.Unlock()
	m.schedule()
}

// Renew replaces the credentials now, retrying up to the attempt budget
func (m *Manager) Renew(ctx context.Context) error {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	m.cancelTimer()
	return m.renewLocked(ctx, "manual")
}

// RenewReactive renews after the feed rejected the session. It takes
// priority over the proactive timer and is a no-op when the session was
// already refreshed by someone else while waiting.
func (m *Manager) RenewReactive(ctx context.Context, reason string) error {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	s := m.Session()
	if s == nil {
		return ErrNoSession
	}
	if !s.Snapshot().Stale {
		m.logger.Debug().Str("reason", reason).Msg("Session already fresh, skipping reactive renewal")
		return nil
	}

	m.cancelTimer()
	return m.renewLocked(ctx, reason)
}

// Invalidate marks the current credentials as rejected
func (m *Manager) Invalidate() {
	if s := m.Session(); s != nil {
		s.markStale()
	}
}

// EnsureUsable returns credentials fit for a new connection, renewing first
// when they are stale or expired. Waits for any renewal already in flight.
func (m *Manager) EnsureUsable(ctx context.Context) (Snapshot, error) {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	s := m.Session()
	if s == nil {
		return Snapshot{}, ErrNoSession
	}

	snap := s.Snapshot()
	if snap.Exhausted {
		return snap, &AuthError{Op: "ensure", Err: ErrRenewalExhausted}
	}

	expired := !m.now().Before(snap.LastRenewalAt.Add(m.cfg.TTL))
	if snap.Stale || expired {
		m.logger.Info().Bool("stale", snap.Stale).Bool("expired", expired).Msg("🔄 Credentials need renewal before connect")
		m.cancelTimer()
		if err := m.renewLocked(ctx, "connect"); err != nil {
			return s.Snapshot(), err
		}
	}
	return s.Snapshot(), nil
}

// Stop cancels the renewal timer. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// INTERNALS
// ═══════════════════════════════════════════════════════════════════════════════

// renewLocked must be called with renewMu held
func (m *Manager) renewLocked(ctx context.Context, reason string) error {
	s := m.Session()
	if s == nil {
		return ErrNoSession
	}
	if m.isStopped() {
		return ErrStopped
	}
	if s.Snapshot().Exhausted {
		return &AuthError{Op: "renew", Err: ErrRenewalExhausted}
	}

	token := s.Snapshot().IdentityToken
	var lastErr error

	for {
		attempt, ok := s.beginAttempt()
		if !ok {
			break
		}

		creds, err := m.authority.Renew(ctx, token)
		if err == nil {
			s.replace(creds, m.now())
			m.logger.Info().Str("reason", reason).Int("attempt", attempt).Msg("✅ Credentials renewed")
			m.schedule()
			m.notifyRenewed(s.Snapshot())
			return nil
		}

		lastErr = err
		m.logger.Warn().Err(err).
			Str("reason", reason).
			Int("attempt", attempt).
			Int("max", m.cfg.MaxRenewalAttempts).
			Msg("⚠️ Credential renewal failed")

		if ctx.Err() != nil {
			return asAuthError("renew", ctx.Err())
		}
		if attempt < m.cfg.MaxRenewalAttempts && m.cfg.RetryDelay > 0 {
			select {
			case <-time.After(m.cfg.RetryDelay):
			case <-ctx.Done():
				return asAuthError("renew", ctx.Err())
			}
		}
	}

	s.markExhausted()
	m.cancelTimer()

	err := &AuthError{Op: "renew", Err: fmt.Errorf("%w: %v", ErrRenewalExhausted, lastErr)}
	m.logger.Error().Err(err).Str("reason", reason).Msg("❌ Credential renewal exhausted")
	m.notifyExhausted(err)
	return err
}

// schedule arms the proactive timer for (lastRenewal + TTL - lead)
func (m *Manager) schedule() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.session == nil {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen

	due := m.session.Snapshot().LastRenewalAt.Add(m.cfg.TTL - m.cfg.Lead)
	delay := due.Sub(m.now())
	if delay < 0 {
		delay = 0
	}

	m.timer = time.AfterFunc(delay, func() { m.proactive(gen) })
	m.logger.Debug().Dur("in", delay).Msg("Proactive renewal scheduled")
}

func (m *Manager) proactive(gen uint64) {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	m.mu.Lock()
	current := gen == m.gen && !m.stopped
	m.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Lead)
	defer cancel()

	m.logger.Info().Msg("⏰ Proactive credential renewal")
	_ = m.renewLocked(ctx, "proactive")
}

func (m *Manager) cancelTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *Manager) notifyRenewed(snap Snapshot) {
	m.mu.Lock()
	fn := m.onRenewed
	m.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (m *Manager) notifyExhausted(err error) {
	m.mu.Lock()
	fn := m.onExhausted
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func asAuthError(op string, err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &AuthError{Op: op, Err: err}
}
