package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/web3guy0/roulettebot/protocol"
	"github.com/web3guy0/roulettebot/session"
	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TABLE FEED - One live duplex connection to a game table
// ═══════════════════════════════════════════════════════════════════════════════
//
//   Disconnected -> Connecting -> Connected <-> Degraded -> Disconnected
//
// - ping 1s after connect, then every HeartbeatInterval
// - no pong for DegradedAfter -> Degraded, for DeadAfter -> forced close
// - non-graceful close -> backoff reconnect (credentials checked first)
// - server redirect -> graceful close, immediate reconnect, no backoff
// - every decoded event goes out through one ordered channel
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultFeedURL = "wss://gs9.pragmaticplaylive.net/game"
	DefaultTableID = "mrbras531mrbr532"
	DefaultOrigin  = "https://client.pragmaticplaylive.net"

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	eventBuffer      = 1024
)

var (
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrNotConnected       = errors.New("feed not connected")
	ErrAlreadyRunning     = errors.New("feed already running")
)

// TransportError is a dial, read or write failure on the feed
type TransportError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CredentialSource hands out credentials fit for a new connection
type CredentialSource interface {
	EnsureUsable(ctx context.Context) (session.Snapshot, error)
	Invalidate()
}

// Config for a table connection
type Config struct {
	Endpoint          string
	TableID           string
	Origin            string
	UserAgent         string
	HeartbeatInterval time.Duration
	InitialPingDelay  time.Duration
	DegradedAfter     time.Duration
	DeadAfter         time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

// DefaultConfig returns production timings
func DefaultConfig() Config {
	return Config{
		Endpoint:          DefaultFeedURL,
		TableID:           DefaultTableID,
		Origin:            DefaultOrigin,
		UserAgent:         defaultUserAgent,
		HeartbeatInterval: 30 * time.Second,
		InitialPingDelay:  time.Second,
		DegradedAfter:     60 * time.Second,
		DeadAfter:         120 * time.Second,
		ReconnectBase:     5 * time.Second,
		ReconnectMax:      30 * time.Second,
		ReconnectAttempts: 5,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Inbound is one decoded event in arrival order
type Inbound struct {
	Event      protocol.Event
	ReceivedAt time.Time
	ConnID     uint64
}

// link is one physical websocket connection
type link struct {
	id        uint64
	conn      *websocket.Conn
	endpoint  string
	closeOnce sync.Once
	closed    atomic.Bool
}

// TableConn manages the feed connection of one account
type TableConn struct {
	cfg    Config
	creds  CredentialSource
	logger zerolog.Logger
	dialer *websocket.Dialer

	mu         sync.RWMutex
	state      types.ConnectionState
	link       *link
	gen        uint64
	lastAlive  time.Time
	collecting bool
	redirect   *protocol.ServerRedirect
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	onState    func(types.ConnectionState)

	writeMu sync.Mutex
	events  chan Inbound
	wg      sync.WaitGroup
}

// NewTableConn creates an idle connection manager
func NewTableConn(cfg Config, creds CredentialSource, logger zerolog.Logger) *TableConn {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultFeedURL
	}
	if cfg.TableID == "" {
		cfg.TableID = DefaultTableID
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	closed := make(chan struct{})
	close(closed)

	return &TableConn{
		cfg:    cfg,
		creds:  creds,
		logger: logger.With().Str("component", "feed").Logger(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state: types.ConnectionState{
			Status:   types.Disconnected,
			Endpoint: cfg.Endpoint,
			TableID:  cfg.TableID,
		},
		done:   closed,
		events: make(chan Inbound, eventBuffer),
	}
}

// Events is the ordered stream of decoded events
func (c *TableConn) Events() <-chan Inbound {
	return c.events
}

// Done is closed when the connection loop exits (stop or terminal failure)
func (c *TableConn) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Err returns the terminal error, if any
func (c *TableConn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// State returns a snapshot of the connection state
func (c *TableConn) State() types.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TableID is the table currently connected to (changes on redirect)
func (c *TableConn) TableID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TableID
}

// OnStateChange registers a callback for status transitions. Must not block.
func (c *TableConn) OnStateChange(fn func(types.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Start dials the table and runs the connection loop in the background
func (c *TableConn) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.err = nil
	c.state.Terminal = false
	c.state.ReconnectAttempts = 0
	done := c.done
	c.mu.Unlock()

	if n := c.drainEvents(); n > 0 {
		c.logger.Debug().Int("dropped", n).Msg("Dropped events left over from the previous run")
	}

	dialCtx, stopDial := context.WithCancel(runCtx)
	go func() {
		select {
		case <-ctx.Done():
			stopDial()
		case <-dialCtx.Done():
		}
	}()
	l, err := c.dial(dialCtx)
	stopDial()

	if err != nil {
		cancel()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
		c.setStatus(types.Disconnected)
		return err
	}

	c.wg.Add(1)
	go c.run(runCtx, l, done)

	c.logger.Info().Str("table", c.TableID()).Msg("📡 Table feed started")
	return nil
}

// drainEvents discards events nobody consumed before the last Stop
func (c *TableConn) drainEvents() int {
	n := 0
	for {
		select {
		case <-c.events:
			n++
		default:
			return n
		}
	}
}

// Stop closes the connection gracefully and waits for background work.
// Safe to call more than once.
func (c *TableConn) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	l := c.link
	c.mu.Unlock()

	cancel()
	if l != nil {
		c.closeLink(l, true)
	}
	c.wg.Wait()

	c.mu.Lock()
	c.link = nil
	c.mu.Unlock()
	c.setStatus(types.Disconnected)

	c.logger.Info().Msg("Table feed stopped")
}

// Send writes one command. Writes are serialized across callers.
func (c *TableConn) Send(ctx context.Context, cmd protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	l := c.link
	status := c.state.Status
	c.mu.RUnlock()

	if l == nil || (status != types.Connected && status != types.Degraded) {
		return &TransportError{Op: "write", Endpoint: c.State().Endpoint, Err: ErrNotConnected}
	}

	if err := c.write(l, cmd); err != nil {
		c.closeLink(l, false)
		return err
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONNECTION LOOP
// ═══════════════════════════════════════════════════════════════════════════════

func (c *TableConn) run(ctx context.Context, l *link, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	for {
		c.serve(ctx, l)
		if ctx.Err() != nil {
			return
		}

		var err error
		if r := c.takeRedirect(); r != nil {
			c.applyRedirect(*r)
			l, err = c.dial(ctx)
			if err == nil {
				if c.stoppedDuringDial(ctx, l) {
					return
				}
				continue
			}
			c.logger.Warn().Err(err).Msg("⚠️ Redirect reconnect failed, falling back to backoff")
		}

		l, err = c.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.terminate(err)
			return
		}
		if c.stoppedDuringDial(ctx, l) {
			return
		}
	}
}

// stoppedDuringDial closes a link whose handshake finished after Stop
// already collected the previous one
func (c *TableConn) stoppedDuringDial(ctx context.Context, l *link) bool {
	if ctx.Err() == nil {
		return false
	}
	c.closeLink(l, true)
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	return true
}

// serve runs the read loop and heartbeat of one link until it closes
func (c *TableConn) serve(ctx context.Context, l *link) {
	linkDone := make(chan struct{})

	c.wg.Add(1)
	go c.heartbeat(ctx, l, linkDone)

	c.readLoop(ctx, l)
	close(linkDone)
	c.closeLink(l, false)

	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	c.setStatus(types.Disconnected)
}

func (c *TableConn) reconnect(ctx context.Context) (*link, error) {
	b := c.newBackOff()
	attempts := 0

	for {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return nil, fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempts)
		}
		attempts++

		c.mu.Lock()
		c.state.ReconnectAttempts = attempts
		c.mu.Unlock()
		c.setStatus(types.Connecting)

		c.logger.Info().
			Int("attempt", attempts).
			Int("max", c.cfg.ReconnectAttempts).
			Dur("delay", delay).
			Msg("🔄 Reconnecting to table feed")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		l, err := c.dial(ctx)
		if err == nil {
			return l, nil
		}
		if errors.Is(err, session.ErrRenewalExhausted) {
			return nil, err
		}
		c.logger.Warn().Err(err).Int("attempt", attempts).Msg("⚠️ Reconnect attempt failed")
	}
}

func (c *TableConn) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.cfg.ReconnectAttempts))
}

// dial checks credentials and opens a new link
func (c *TableConn) dial(ctx context.Context) (*link, error) {
	c.setStatus(types.Connecting)

	snap, err := c.creds.EnsureUsable(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	endpoint, table := c.state.Endpoint, c.state.TableID
	c.mu.RUnlock()

	wsURL, err := BuildURL(endpoint, snap.CredentialB, table)
	if err != nil {
		return nil, &TransportError{Op: "dial", Endpoint: endpoint, Err: err}
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, c.header())
	if err != nil {
		return nil, &TransportError{Op: "dial", Endpoint: endpoint, Err: err}
	}

	now := time.Now()
	c.mu.Lock()
	c.gen++
	l := &link{id: c.gen, conn: conn, endpoint: endpoint}
	c.link = l
	c.lastAlive = now
	c.collecting = false
	c.state.ReconnectAttempts = 0
	c.mu.Unlock()
	c.setStatus(types.Connected)

	c.logger.Info().Str("endpoint", endpoint).Str("table", table).Uint64("conn", l.id).Msg("🔌 Table feed connected")
	return l, nil
}

func (c *TableConn) header() http.Header {
	h := http.Header{}
	if c.cfg.Origin != "" {
		h.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.UserAgent != "" {
		h.Set("User-Agent", c.cfg.UserAgent)
	}
	return h
}

func (c *TableConn) terminate(err error) {
	c.mu.Lock()
	c.err = err
	c.state.Terminal = true
	c.mu.Unlock()
	c.setStatus(types.Disconnected)

	c.logger.Error().Err(err).Msg("❌ Table feed gave up")
}

// ═══════════════════════════════════════════════════════════════════════════════
// READ LOOP
// ═══════════════════════════════════════════════════════════════════════════════

func (c *TableConn) readLoop(ctx context.Context, l *link) {
	for {
		_, msg, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !l.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(&TransportError{Op: "read", Endpoint: l.endpoint, Err: err}).Msg("⚠️ Table feed dropped")
			}
			return
		}

		if !c.handle(ctx, l, protocol.Decode(msg)) {
			return
		}
	}
}

// handle applies connection-level effects and forwards the event.
// Returns false once the link should stop reading.
func (c *TableConn) handle(ctx context.Context, l *link, ev protocol.Event) bool {
	switch e := ev.(type) {
	case protocol.Unrecognized:
		c.logger.Debug().Err(e.Err).Str("raw", protocol.Truncate(e.Raw, 160)).Msg("Unrecognized frame")
		return true

	case protocol.HeartbeatAck:
		now := time.Now()
		c.mu.Lock()
		c.lastAlive = now
		c.state.LastHeartbeatAck = now
		degraded := c.state.Status == types.Degraded
		c.mu.Unlock()
		if degraded {
			c.setStatus(types.Connected)
			c.logger.Info().Msg("💓 Heartbeat restored")
		}

	case protocol.RoundClosed:
		c.mu.Lock()
		c.collecting = true
		c.mu.Unlock()

	case protocol.RoundResult:
		c.mu.RLock()
		collecting := c.collecting
		c.mu.RUnlock()
		if !collecting {
			c.logger.Debug().Str("round", e.RoundID).Int("value", e.Value).Msg("Result before first close marker, ignored")
			return true
		}

	case protocol.SessionInvalid:
		c.logger.Warn().Str("reason", e.Reason).Msg("🔒 Session rejected by table")
		c.creds.Invalidate()
		c.emit(ctx, l, ev)
		c.closeLink(l, false)
		return false

	case protocol.ServerRedirect:
		c.logger.Info().Str("server", e.Server).Str("endpoint", e.Endpoint).Str("table", e.TableID).Msg("🔀 Server redirect")
		c.mu.Lock()
		r := e
		c.redirect = &r
		c.mu.Unlock()
		c.emit(ctx, l, ev)
		c.closeLink(l, true)
		return false
	}

	return c.emit(ctx, l, ev)
}

func (c *TableConn) emit(ctx context.Context, l *link, ev protocol.Event) bool {
	select {
	case c.events <- Inbound{Event: ev, ReceivedAt: time.Now(), ConnID: l.id}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *TableConn) takeRedirect() *protocol.ServerRedirect {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.redirect
	c.redirect = nil
	return r
}

func (c *TableConn) applyRedirect(r protocol.ServerRedirect) {
	c.mu.Lock()
	c.state.Endpoint = normalizeEndpoint(r.Endpoint)
	if r.TableID != "" {
		c.state.TableID = r.TableID
	}
	c.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════════
// HEARTBEAT
// ═══════════════════════════════════════════════════════════════════════════════

func (c *TableConn) heartbeat(ctx context.Context, l *link, linkDone <-chan struct{}) {
	defer c.wg.Done()

	first := time.NewTimer(c.cfg.InitialPingDelay)
	defer first.Stop()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// unblocks the read loop of a link Stop never saw
			c.closeLink(l, true)
			return
		case <-linkDone:
			return
		case <-first.C:
			c.ping(l)
		case <-ticker.C:
			if !c.checkLiveness(l) {
				return
			}
			c.ping(l)
		}
	}
}

func (c *TableConn) ping(l *link) {
	if err := c.write(l, protocol.Ping{At: time.Now()}); err != nil {
		c.logger.Warn().Err(err).Msg("⚠️ Ping failed")
		c.closeLink(l, false)
	}
}

// checkLiveness degrades or kills a link that stopped answering pings
func (c *TableConn) checkLiveness(l *link) bool {
	c.mu.RLock()
	silent := time.Since(c.lastAlive)
	status := c.state.Status
	c.mu.RUnlock()

	switch {
	case silent >= c.cfg.DeadAfter:
		c.logger.Error().Dur("silent", silent).Msg("💀 No heartbeat ack, forcing close")
		c.closeLink(l, false)
		return false
	case silent >= c.cfg.DegradedAfter && status == types.Connected:
		c.setStatus(types.Degraded)
		c.logger.Warn().Dur("silent", silent).Msg("⚠️ Heartbeat late, connection degraded")
	}
	return true
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *TableConn) write(l *link, cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write", Endpoint: l.endpoint, Err: err}
	}
	return nil
}

func (c *TableConn) closeLink(l *link, graceful bool) {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		if graceful {
			c.writeMu.Lock()
			_ = l.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
		}
		_ = l.conn.Close()
	})
}

func (c *TableConn) setStatus(status types.ConnectionStatus) {
	c.mu.Lock()
	changed := c.state.Status != status
	c.state.Status = status
	state := c.state
	fn := c.onState
	c.mu.Unlock()

	if changed && fn != nil {
		fn(state)
	}
}

// BuildURL appends the session id and table to a feed endpoint
func BuildURL(endpoint, sessionID, tableID string) (string, error) {
	u, err := url.Parse(normalizeEndpoint(endpoint))
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("JSESSIONID", sessionID)
	q.Set("tableId", tableID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// normalizeEndpoint accepts bare hosts from redirect frames
func normalizeEndpoint(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "wss://" + strings.TrimSuffix(endpoint, "/") + "/game"
}
