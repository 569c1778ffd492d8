package core

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/roulettebot/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REGISTRY - Engines keyed by account
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrAlreadyRunning = errors.New("account already running")
)

// TokenSource resolves the identity token of an account
type TokenSource func(account string) (string, error)

// Registry owns one Engine per account. Engines share no mutable state.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	base   Config
	deps   Deps
	tokens TokenSource
}

// NewRegistry creates a registry. base supplies every per-account setting
// except the account, its token and the stake table.
func NewRegistry(base Config, deps Deps, tokens TokenSource) *Registry {
	return &Registry{
		engines: make(map[string]*Engine),
		base:    base,
		deps:    deps,
		tokens:  tokens,
	}
}

// Start runs the engine of account with the given stakes. A stopped engine is
// restarted with its statistics intact.
func (r *Registry) Start(ctx context.Context, account string, stakes strategy.StakeTable) error {
	r.mu.Lock()
	e, ok := r.engines[account]
	if ok && e.Running() {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !ok {
		token, err := r.tokens(account)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		cfg := r.base
		cfg.Account = account
		cfg.IdentityToken = token
		cfg.Stakes = stakes
		e = NewEngine(cfg, r.deps)
		r.engines[account] = e
	} else {
		e.SetStakes(stakes)
	}
	r.mu.Unlock()

	if err := e.Start(ctx); err != nil {
		if errors.Is(err, ErrEngineRunning) {
			return ErrAlreadyRunning
		}
		return err
	}
	return nil
}

// Stop halts the engine of account. Stopping a stopped engine is a no-op.
func (r *Registry) Stop(account string) error {
	e, err := r.get(account)
	if err != nil {
		return err
	}
	e.Stop()
	return nil
}

// Snapshot returns the state of account
func (r *Registry) Snapshot(account string) (Snapshot, error) {
	e, err := r.get(account)
	if err != nil {
		return Snapshot{}, err
	}
	return e.Snapshot(), nil
}

// Reset clears the statistics of account
func (r *Registry) Reset(account string) error {
	e, err := r.get(account)
	if err != nil {
		return err
	}
	e.Reset()
	return nil
}

// Remove stops the engine and forgets it
func (r *Registry) Remove(account string) error {
	r.mu.Lock()
	e, ok := r.engines[account]
	delete(r.engines, account)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownAccount
	}
	e.Stop()
	return nil
}

// Accounts lists known accounts in order
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for a := range r.engines {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// StopAll stops every engine concurrently
func (r *Registry) StopAll() {
	r.mu.RLock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			e.Stop()
		}(e)
	}
	wg.Wait()

	if len(engines) > 0 {
		log.Info().Int("engines", len(engines)).Msg("All engines stopped")
	}
}

func (r *Registry) get(account string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[account]
	if !ok {
		return nil, ErrUnknownAccount
	}
	return e, nil
}
