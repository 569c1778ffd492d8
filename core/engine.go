package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/roulettebot/execution"
	"github.com/web3guy0/roulettebot/feeds"
	"github.com/web3guy0/roulettebot/protocol"
	"github.com/web3guy0/roulettebot/risk"
	"github.com/web3guy0/roulettebot/session"
	"github.com/web3guy0/roulettebot/strategy"
	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - One account's decision loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Feed → ordered queue → Ledger → Detector → Martingale → Gate → Executor → Feed
//                                      ↓
//                               Storage / Notifier
//
// The feed's read loop and heartbeat are the only async sources. Everything
// below the queue runs on the engine goroutine in arrival order.
//
// ═══════════════════════════════════════════════════════════════════════════════

const recentWagerCapacity = 50

var ErrEngineRunning = errors.New("engine already running")

// Feed is the connection manager as seen by the engine
type Feed interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan feeds.Inbound
	Done() <-chan struct{}
	Err() error
	State() types.ConnectionState
	Send(ctx context.Context, cmd protocol.Command) error
	TableID() string
}

// FeedFactory builds the feed for an account
type FeedFactory func(cfg feeds.Config, creds feeds.CredentialSource, logger zerolog.Logger) Feed

// Store persists the outcome and wager streams
type Store interface {
	SaveOutcome(account, tableID string, o types.Outcome) error
	SaveWager(rec types.WagerRecord) error
}

// Notifier receives settlement and alert notifications (Telegram)
type Notifier interface {
	NotifyWager(account string, rec types.WagerRecord, terminated bool, stats strategy.Stats)
	NotifyAlert(account, message string)
}

// Config for one engine
type Config struct {
	Account        string
	IdentityToken  string
	Stakes         strategy.StakeTable
	Mode           risk.Mode
	GateStage      int
	GateThreshold  int
	MaxRejections  int
	LedgerCapacity int
	Feed           feeds.Config
	Session        session.Config
}

// Deps are the collaborators shared by every engine
type Deps struct {
	Authority session.Authority
	Store     Store
	Notifier  Notifier
	NewFeed   FeedFactory
}

func defaultFeedFactory(cfg feeds.Config, creds feeds.CredentialSource, logger zerolog.Logger) Feed {
	return feeds.NewTableConn(cfg, creds, logger)
}

type Engine struct {
	cfg    Config
	logger zerolog.Logger
	store  Store
	notify Notifier

	// Components
	creds    *session.Manager
	feed     Feed
	executor *execution.Executor
	breaker  *risk.CircuitBreaker
	gate     *risk.Gate

	// Lifecycle
	lifeMu    sync.Mutex
	running   bool
	stopCh    chan struct{}
	loopDone  chan struct{}
	runID     string
	startedAt time.Time

	// Decision state, guarded by mu
	mu           sync.RWMutex
	lastErr      error
	ledger       *strategy.Ledger
	martingale   *strategy.Martingale
	recent       []types.WagerRecord
	pausedLogged bool
}

// NewEngine wires the components of one account
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.MaxRejections <= 0 {
		cfg.MaxRejections = risk.DefaultMaxRejections
	}
	if cfg.Mode == "" {
		cfg.Mode = risk.ModeLive
	}
	newFeed := deps.NewFeed
	if newFeed == nil {
		newFeed = defaultFeedFactory
	}

	logger := log.Logger.With().Str("account", cfg.Account).Logger()

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		store:      deps.Store,
		notify:     deps.Notifier,
		ledger:     strategy.NewLedger(cfg.LedgerCapacity),
		martingale: strategy.NewMartingale(cfg.Stakes),
	}

	e.creds = session.NewManager(deps.Authority, cfg.Session, logger)
	e.feed = newFeed(cfg.Feed, e.creds, logger)
	e.executor = execution.NewExecutor(e.feed, e.accountRef, logger)
	e.breaker = risk.NewCircuitBreaker(cfg.MaxRejections, logger)
	e.gate = risk.NewGate(cfg.Mode, cfg.GateStage, cfg.GateThreshold, logger)

	e.creds.OnRenewed(func(session.Snapshot) {
		e.breaker.ForceReset()
		e.mu.Lock()
		e.pausedLogged = false
		e.mu.Unlock()
	})
	e.creds.OnExhausted(func(err error) {
		e.logger.Error().Err(err).Msg("🚫 Credential renewal exhausted, wagering paused")
		e.alert("Credential renewal exhausted, live wagering paused")
	})

	return e
}

func (e *Engine) accountRef() string {
	snap, err := e.creds.Snapshot()
	if err != nil {
		return ""
	}
	return snap.AccountRef
}

// Account returns the account this engine serves
func (e *Engine) Account() string { return e.cfg.Account }

// Running reports whether the loop is active
func (e *Engine) Running() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.running
}

// SetStakes replaces the stake ladder used from the next wager
func (e *Engine) SetStakes(stakes strategy.StakeTable) {
	e.mu.Lock()
	e.martingale.SetStakes(stakes)
	e.cfg.Stakes = stakes
	e.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════

// Start issues credentials, connects to the table and runs the event loop
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.running {
		return ErrEngineRunning
	}

	if _, err := e.creds.Issue(ctx, e.cfg.IdentityToken); err != nil {
		return fmt.Errorf("issue credentials: %w", err)
	}
	if err := e.feed.Start(ctx); err != nil {
		e.creds.Stop()
		return fmt.Errorf("connect feed: %w", err)
	}

	e.running = true
	e.stopCh = make(chan struct{})
	e.loopDone = make(chan struct{})
	e.runID = uuid.NewString()
	e.startedAt = time.Now()

	e.mu.Lock()
	e.lastErr = nil
	e.mu.Unlock()

	go e.loop(e.stopCh, e.loopDone, e.feed.Done())

	e.logger.Info().
		Str("run", e.runID).
		Str("mode", string(e.cfg.Mode)).
		Str("stakes", e.cfg.Stakes.String()).
		Msg("⚡ Engine started")
	return nil
}

// Stop cancels timers, closes the feed and ends the loop. Strategy state and
// the session are kept for inspection. Safe to call more than once.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if !e.running {
		return
	}
	e.running = false

	e.creds.Stop()
	e.feed.Stop()
	close(e.stopCh)
	<-e.loopDone

	e.logger.Info().Str("run", e.runID).Msg("Engine stopped")
}

// Reset clears statistics, history and any active sequence
func (e *Engine) Reset() {
	e.mu.Lock()
	e.martingale.Reset()
	e.ledger = strategy.NewLedger(e.cfg.LedgerCapacity)
	e.recent = nil
	e.mu.Unlock()

	e.executor.Drop()
	e.breaker.ForceReset()
	e.gate.Reset()

	e.logger.Info().Msg("🔄 Engine state reset")
}

func (e *Engine) loop(stopCh <-chan struct{}, loopDone chan<- struct{}, feedDone <-chan struct{}) {
	defer close(loopDone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	events := e.feed.Events()
	for {
		select {
		case <-stopCh:
			return
		case in := <-events:
			e.handle(ctx, in)
		case <-feedDone:
			if err := e.feed.Err(); err != nil {
				e.fail(err)
			}
			feedDone = nil
		}
	}
}

// fail records a terminal feed error. The engine stays stopped until restarted.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()

	e.logger.Error().Err(err).Msg("❌ Feed terminated, engine halted")
	e.alert(fmt.Sprintf("Feed terminated: %v", err))

	go e.Stop()
}

// ═══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) handle(ctx context.Context, in feeds.Inbound) {
	switch ev := in.Event.(type) {
	case protocol.RoundOpened:
		e.onRoundOpened(ctx, ev)

	case protocol.RoundClosingSoon:
		e.executor.OnRoundClosingSoon(ev.RoundID)

	case protocol.RoundClosed:
		e.executor.OnRoundClosed(ev.RoundID)

	case protocol.RoundResult:
		e.onRoundResult(ev, in.ReceivedAt)

	case protocol.CommandAck:
		e.onAck(ctx, ev)

	case protocol.SessionInvalid:
		go func() {
			if err := e.creds.RenewReactive(ctx, "session invalid"); err != nil {
				e.logger.Error().Err(err).Msg("❌ Reactive renewal failed")
			}
		}()

	case protocol.ServerRedirect:
		e.logger.Info().Str("endpoint", ev.Endpoint).Str("table", ev.TableID).Msg("🔀 Following table redirect")

	case protocol.HeartbeatAck:
		// liveness is tracked by the feed
	}
}

func (e *Engine) onRoundOpened(ctx context.Context, ev protocol.RoundOpened) {
	e.executor.OnRoundOpened(ev.RoundID, ev.TableID)

	e.mu.Lock()
	// a pending wager whose result never arrived cannot be attributed
	if p, ok := e.martingale.Pending(); ok && p.RoundID != ev.RoundID {
		e.martingale.Indeterminate()
		e.executor.Drop()
		e.logIndeterminate(p, "no result before next round")
	}
	e.martingale.Resume()

	w, ok := e.martingale.NextWager()
	e.mu.Unlock()
	if !ok {
		return
	}

	live := e.gate.Live()
	if live && !e.creds.Usable() {
		e.mu.Lock()
		logged := e.pausedLogged
		e.pausedLogged = true
		e.mu.Unlock()
		if !logged {
			e.logger.Warn().Str("round", ev.RoundID).Msg("⏸️ Session unusable, skipping live wagers")
		}
		return
	}

	placed, err := e.executor.Place(ctx, ev.RoundID, w.Color, w.Amount, w.StageIndex, !live)
	if err != nil {
		var se *execution.StateError
		if errors.As(err, &se) {
			e.logger.Warn().Err(err).
				Str("round", ev.RoundID).
				Int("stage", w.StageIndex+1).
				Str("predicted", w.Color.Name()).
				Msg("⚠️ Wager not placed")
		}
		return
	}

	e.mu.Lock()
	err = e.martingale.MarkPending(ev.RoundID, w, placed.Simulated)
	e.mu.Unlock()
	if err != nil {
		// sequence was reset while the command was in flight
		e.executor.Drop()
		e.logger.Warn().Err(err).Str("round", ev.RoundID).Msg("⚠️ Placed wager no longer tracked")
	}
}

func (e *Engine) onRoundResult(ev protocol.RoundResult, at time.Time) {
	e.executor.OnRoundResolved(ev.RoundID)
	outcome := types.NewOutcome(ev.RoundID, ev.Value, ev.Seq, at)

	e.mu.Lock()
	e.ledger.Append(outcome)

	var (
		settlement strategy.Settlement
		settled    bool
	)
	if p, ok := e.martingale.Pending(); ok {
		if _, err := e.executor.Settle(ev.RoundID); err != nil && !errors.Is(err, execution.ErrNoPending) {
			e.martingale.Indeterminate()
			e.logIndeterminate(p, err.Error())
		} else if s, err := e.martingale.Settle(ev.RoundID, ev.Value); err != nil {
			e.martingale.Indeterminate()
			e.logIndeterminate(p, err.Error())
		} else {
			settlement = s
			settlement.Record.Account = e.cfg.Account
			settled = true
			e.pushRecent(settlement.Record)
		}
	}

	var detection strategy.Detection
	activated := false
	if !e.martingale.Active() {
		if d, ok := strategy.Detect(e.ledger); ok {
			if err := e.martingale.Activate(d); err == nil {
				detection = d
				activated = true
			}
		}
	}
	stats := e.martingale.Stats()
	e.mu.Unlock()

	e.logger.Debug().Str("round", ev.RoundID).Int("value", ev.Value).Str("color", outcome.Color.String()).Msg("🎲 Result")

	if e.store != nil {
		if err := e.store.SaveOutcome(e.cfg.Account, e.feed.TableID(), outcome); err != nil {
			e.logger.Error().Err(err).Msg("Failed to save outcome")
		}
	}

	if settled {
		e.onSettled(settlement, stats)
	}

	if activated {
		e.logger.Info().
			Str("window", types.FormatColors(detection.Window)).
			Str("base", types.FormatColors(detection.Base[:])).
			Str("first", detection.Base[strategy.StartLevel].Name()).
			Msg("🎯 Pattern detected, sequence armed")
	}
}

func (e *Engine) onSettled(s strategy.Settlement, stats strategy.Stats) {
	rec := s.Record
	e.gate.Observe(rec, s.Terminated)

	ev := e.logger.Info()
	if !rec.IsWin {
		ev = e.logger.Warn()
	}
	ev.Str("round", rec.RoundID).
		Int("stage", rec.StageIndex+1).
		Int("level", rec.LevelIndex).
		Str("predicted", rec.Predicted.Name()).
		Str("actual", rec.Actual.Name()).
		Int("value", rec.ActualValue).
		Str("amount", rec.Amount.StringFixed(2)).
		Str("result", rec.Result).
		Bool("simulated", rec.Simulated).
		Str("profit", stats.Profit.StringFixed(2)).
		Msg(resultIcon(rec.Result) + " Wager settled")

	if e.store != nil {
		if err := e.store.SaveWager(rec); err != nil {
			e.logger.Error().Err(err).Msg("Failed to save wager")
		}
	}
	if e.notify != nil {
		e.notify.NotifyWager(e.cfg.Account, rec, s.Terminated, stats)
	}
}

func (e *Engine) onAck(ctx context.Context, ack protocol.CommandAck) {
	w, ok := e.executor.OnAck(ack)
	if !ok {
		return
	}

	if !ack.Rejected() {
		e.breaker.RecordAccepted()
		return
	}

	e.mu.Lock()
	if p, ok := e.martingale.Pending(); ok && p.RoundID == w.RoundID {
		e.martingale.Indeterminate()
		e.logIndeterminate(p, "wager rejected")
	}
	e.mu.Unlock()

	if e.breaker.RecordRejection(ack.Code) {
		e.alert(fmt.Sprintf("%d consecutive wager rejections, renewing session", e.cfg.MaxRejections))
		e.creds.Invalidate()
		go func() {
			if err := e.creds.RenewReactive(ctx, "consecutive rejections"); err != nil {
				e.logger.Error().Err(err).Msg("❌ Reactive renewal failed")
			}
		}()
	}
}

func (e *Engine) logIndeterminate(p strategy.Pending, reason string) {
	e.logger.Warn().
		Str("round", p.RoundID).
		Int("stage", p.StageIndex+1).
		Int("level", p.LevelIndex).
		Str("predicted", p.Color.Name()).
		Str("amount", p.Amount.StringFixed(2)).
		Str("reason", reason).
		Msg("❓ Indeterminate wager, sequence frozen until next round")
}

func (e *Engine) pushRecent(rec types.WagerRecord) {
	e.recent = append(e.recent, rec)
	if len(e.recent) > recentWagerCapacity {
		e.recent = e.recent[len(e.recent)-recentWagerCapacity:]
	}
}

func (e *Engine) alert(msg string) {
	if e.notify != nil {
		e.notify.NotifyAlert(e.cfg.Account, msg)
	}
}

func resultIcon(result string) string {
	switch result {
	case types.ResultWin:
		return "✅"
	case types.ResultGreenLoss:
		return "🟢"
	case types.ResultMaxStage:
		return "💀"
	}
	return "❌"
}

// ═══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ═══════════════════════════════════════════════════════════════════════════════

// SessionInfo is the credential state without the credentials
type SessionInfo struct {
	Issued          bool
	Usable          bool
	LastRenewalAt   time.Time
	ExpiresAt       time.Time
	RenewalAttempts int
	Exhausted       bool
}

// GateInfo reports the wager mode
type GateInfo struct {
	Mode      risk.Mode
	Live      bool
	Losses    int
	Threshold int
	Openings  int
}

// Snapshot is the read-only state of one engine
type Snapshot struct {
	Account        string
	RunID          string
	Running        bool
	StartedAt      time.Time
	Err            string
	Connection     types.ConnectionState
	Session        SessionInfo
	Gate           GateInfo
	Strategy       strategy.Summary
	Stakes         strategy.StakeTable
	Round          types.Round
	Counts         strategy.Counts
	RecentOutcomes []types.Outcome
	RecentWagers   []types.WagerRecord
	Execution      map[string]interface{}
	Rejections     int
}

// Snapshot returns the engine state. Safe from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	e.lifeMu.Lock()
	snap := Snapshot{
		Account:   e.cfg.Account,
		RunID:     e.runID,
		Running:   e.running,
		StartedAt: e.startedAt,
	}
	e.lifeMu.Unlock()

	snap.Connection = e.feed.State()
	if s, err := e.creds.Snapshot(); err == nil {
		snap.Session = SessionInfo{
			Issued:          true,
			Usable:          e.creds.Usable(),
			LastRenewalAt:   s.LastRenewalAt,
			ExpiresAt:       e.creds.ExpiresAt(),
			RenewalAttempts: s.RenewalAttempts,
			Exhausted:       s.Exhausted,
		}
	}

	_, losses, threshold, openings := e.gate.Status()
	snap.Gate = GateInfo{
		Mode:      e.gate.Mode(),
		Live:      e.gate.Live(),
		Losses:    losses,
		Threshold: threshold,
		Openings:  openings,
	}

	snap.Round, _ = e.executor.Round()
	snap.Execution = e.executor.GetMetrics()
	snap.Rejections, _, _, _ = e.breaker.GetStats()

	e.mu.RLock()
	if e.lastErr != nil {
		snap.Err = e.lastErr.Error()
	}
	snap.Strategy = e.martingale.Summary()
	snap.Stakes = e.martingale.Stakes()
	snap.Counts = e.ledger.Counts()
	snap.RecentOutcomes = e.ledger.Recent(20)
	snap.RecentWagers = append([]types.WagerRecord(nil), e.recent...)
	e.mu.RUnlock()

	return snap
}
