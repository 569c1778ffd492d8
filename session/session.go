package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SESSION - The short-lived credential pair for one account
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrRenewalExhausted = errors.New("credential renewal attempts exhausted")
	ErrNoSession        = errors.New("no session issued")
	ErrStopped          = errors.New("credential manager stopped")
)

// AuthError wraps a failed issue/renew call
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Credentials as returned by the authority
type Credentials struct {
	CredentialA string // game token
	CredentialB string // feed session id
	AccountRef  string // user reference echoed in wager commands
}

// Session is shared by reference. Renewal replaces the credentials in place.
type Session struct {
	mu sync.RWMutex

	identityToken      string
	credentialA        string
	credentialB        string
	accountRef         string
	createdAt          time.Time
	lastRenewalAt      time.Time
	renewalAttempts    int
	maxRenewalAttempts int
	stale              bool
	exhausted          bool
}

// Snapshot is a read-only copy handed to readers
type Snapshot struct {
	IdentityToken      string
	CredentialA        string
	CredentialB        string
	AccountRef         string
	CreatedAt          time.Time
	LastRenewalAt      time.Time
	RenewalAttempts    int
	MaxRenewalAttempts int
	Stale              bool
	Exhausted          bool
}

func newSession(identityToken string, creds Credentials, maxAttempts int, now time.Time) *Session {
	return &Session{
		identityToken:      identityToken,
		credentialA:        creds.CredentialA,
		credentialB:        creds.CredentialB,
		accountRef:         creds.AccountRef,
		createdAt:          now,
		lastRenewalAt:      now,
		maxRenewalAttempts: maxAttempts,
	}
}

// Snapshot copies the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		IdentityToken:      s.identityToken,
		CredentialA:        s.credentialA,
		CredentialB:        s.credentialB,
		AccountRef:         s.accountRef,
		CreatedAt:          s.createdAt,
		LastRenewalAt:      s.lastRenewalAt,
		RenewalAttempts:    s.renewalAttempts,
		MaxRenewalAttempts: s.maxRenewalAttempts,
		Stale:              s.stale,
		Exhausted:          s.exhausted,
	}
}

func (s *Session) replace(creds Credentials, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentialA = creds.CredentialA
	s.credentialB = creds.CredentialB
	if creds.AccountRef != "" {
		s.accountRef = creds.AccountRef
	}
	s.lastRenewalAt = now
	s.renewalAttempts = 0
	s.stale = false
}

// beginAttempt bumps the attempt counter. Returns false once the budget is spent.
func (s *Session) beginAttempt() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renewalAttempts >= s.maxRenewalAttempts {
		return s.renewalAttempts, false
	}
	s.renewalAttempts++
	return s.renewalAttempts, true
}

func (s *Session) markStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func (s *Session) markExhausted() {
	s.mu.Lock()
	s.exhausted = true
	s.stale = true
	s.mu.Unlock()
}
