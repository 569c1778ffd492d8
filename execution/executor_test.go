package execution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/roulettebot/protocol"
	"github.com/web3guy0/roulettebot/types"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Command
	err  error
}

func (f *fakeSender) Send(_ context.Context, cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) TableID() string { return "mrbras531mrbr532" }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newExecutor() (*Executor, *fakeSender) {
	s := &fakeSender{}
	return NewExecutor(s, func() string { return "ref-1" }, zerolog.Nop()), s
}

var stake = decimal.RequireFromString("1.5")

func TestPlaceRequiresOpenRound(t *testing.T) {
	e, s := newExecutor()

	_, err := e.Place(context.Background(), "100", types.Red, stake, 0, false)
	assert.ErrorIs(t, err, ErrNotOpen)

	e.OnRoundOpened("100", "t")
	e.OnRoundClosed("100")
	_, err = e.Place(context.Background(), "100", types.Red, stake, 0, false)
	assert.ErrorIs(t, err, ErrNotOpen)

	var serr *StateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "100", serr.RoundID)
	assert.Equal(t, types.Red, serr.Predicted)

	// wrong round id
	e.OnRoundOpened("101", "t")
	_, err = e.Place(context.Background(), "100", types.Red, stake, 0, false)
	assert.ErrorIs(t, err, ErrNotOpen)

	assert.Equal(t, 0, s.count())
}

func TestPlaceDuringClosingSoon(t *testing.T) {
	e, s := newExecutor()
	e.OnRoundOpened("100", "t")
	e.OnRoundClosingSoon("")

	r, _ := e.Round()
	assert.Equal(t, types.PhaseClosingSoon, r.Phase)

	_, err := e.Place(context.Background(), "100", types.Black, stake, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, s.count())
}

func TestPlaceEncodesCommand(t *testing.T) {
	e, s := newExecutor()
	e.OnRoundOpened("100", "t")

	w, err := e.Place(context.Background(), "100", types.Black, stake, 3, false)
	require.NoError(t, err)
	assert.Equal(t, WagerStateSent, w.State)
	assert.Equal(t, "mrbras531mrbr532", w.TableID)
	assert.NotEmpty(t, w.IdempotencyKey)

	require.Equal(t, 1, s.count())
	cmd, ok := s.sent[0].(protocol.PlaceWager)
	require.True(t, ok)
	assert.Equal(t, "100", cmd.RoundID)
	assert.Equal(t, "ref-1", cmd.AccountRef)
	assert.Equal(t, protocol.CodeBlack, cmd.WagerTypeCode)
	assert.Equal(t, w.IdempotencyKey, cmd.IdempotencyKey)
	assert.Equal(t, "1.50", cmd.Amount.StringFixed(2))
}

func TestAtMostOnePendingWager(t *testing.T) {
	e, _ := newExecutor()
	e.OnRoundOpened("100", "t")

	_, err := e.Place(context.Background(), "100", types.Red, stake, 0, false)
	require.NoError(t, err)

	_, err = e.Place(context.Background(), "100", types.Red, stake, 0, false)
	assert.ErrorIs(t, err, ErrAlreadyPending)

	// still pending when the next round opens
	e.OnRoundOpened("101", "t")
	_, err = e.Place(context.Background(), "101", types.Red, stake, 0, false)
	assert.ErrorIs(t, err, ErrAlreadyPending)
}

func TestRejectedAckClearsPendingButNotTheRound(t *testing.T) {
	e, _ := newExecutor()
	e.OnRoundOpened("100", "t")
	_, err := e.Place(context.Background(), "100", types.Red, stake, 2, false)
	require.NoError(t, err)

	w, ok := e.OnAck(protocol.CommandAck{Status: protocol.AckRejected, Raw: "error", Code: "2001"})
	require.True(t, ok)
	assert.Equal(t, WagerStateRejected, w.State)
	assert.Equal(t, "2001", w.AckCode)

	_, pending := e.Pending()
	assert.False(t, pending)

	// the same round is skipped
	_, err = e.Place(context.Background(), "100", types.Red, stake, 2, false)
	assert.ErrorIs(t, err, ErrAlreadyPending)

	e.OnRoundOpened("101", "t")
	_, err = e.Place(context.Background(), "101", types.Red, stake, 2, false)
	assert.NoError(t, err)
}

func TestAcceptedAck(t *testing.T) {
	e, _ := newExecutor()
	e.OnRoundOpened("100", "t")
	_, err := e.Place(context.Background(), "100", types.Red, stake, 0, false)
	require.NoError(t, err)

	w, ok := e.OnAck(protocol.CommandAck{Status: protocol.AckAccepted, Raw: "success"})
	require.True(t, ok)
	assert.Equal(t, WagerStateAccepted, w.State)

	// duplicate ack is ignored
	_, ok = e.OnAck(protocol.CommandAck{Status: protocol.AckAccepted})
	assert.False(t, ok)

	metrics := e.GetMetrics()
	assert.Equal(t, int64(1), metrics["accepted_wagers"])
}

func TestSimulatedWagerIsNeverSent(t *testing.T) {
	e, s := newExecutor()
	e.OnRoundOpened("100", "t")

	w, err := e.Place(context.Background(), "100", types.Red, stake, 0, true)
	require.NoError(t, err)
	assert.True(t, w.Simulated)
	assert.Equal(t, WagerStateAccepted, w.State)
	assert.Equal(t, 0, s.count())

	_, ok := e.OnAck(protocol.CommandAck{Status: protocol.AckRejected})
	assert.False(t, ok, "acks never apply to simulated wagers")

	settled, err := e.Settle("100")
	require.NoError(t, err)
	assert.True(t, settled.Simulated)
}

func TestSettleMismatchIsStateError(t *testing.T) {
	e, _ := newExecutor()
	e.OnRoundOpened("100", "t")
	_, err := e.Place(context.Background(), "100", types.Black, stake, 4, false)
	require.NoError(t, err)

	w, err := e.Settle("250")
	var serr *StateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "250", serr.RoundID)
	assert.Equal(t, 4, serr.Stage)
	assert.Equal(t, "100", w.RoundID)
	assert.True(t, strings.Contains(err.Error(), "round 100"))

	_, pending := e.Pending()
	assert.False(t, pending)

	_, err = e.Settle("100")
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestSendFailureReleasesPending(t *testing.T) {
	e, s := newExecutor()
	s.err = errors.New("socket closed")
	e.OnRoundOpened("100", "t")

	_, err := e.Place(context.Background(), "100", types.Red, stake, 0, false)
	require.Error(t, err)

	_, pending := e.Pending()
	assert.False(t, pending)
	assert.Equal(t, int64(0), e.GetMetrics()["total_wagers"])
}

func TestPlaceRejectsGreen(t *testing.T) {
	e, _ := newExecutor()
	e.OnRoundOpened("100", "t")
	_, err := e.Place(context.Background(), "100", types.Green, stake, 0, false)
	assert.Error(t, err)
}

func TestRoundPhasesAreMonotonic(t *testing.T) {
	e, _ := newExecutor()
	e.OnRoundOpened("100", "t")
	e.OnRoundClosed("100")
	e.OnRoundClosingSoon("100")

	r, ok := e.Round()
	require.True(t, ok)
	assert.Equal(t, types.PhaseClosed, r.Phase)

	e.OnRoundResolved("100")
	r, _ = e.Round()
	assert.Equal(t, types.PhaseResolved, r.Phase)

	// a marker for an unseen round starts a fresh one
	e.OnRoundClosed("101")
	r, _ = e.Round()
	assert.Equal(t, "101", r.ID)
	assert.Equal(t, types.PhaseClosed, r.Phase)
}

func TestInformationalAckLeavesWagerPending(t *testing.T) {
	e, _ := newExecutor()
	e.OnRoundOpened("100", "t")
	_, err := e.Place(context.Background(), "100", types.Black, stake, 0, false)
	require.NoError(t, err)

	_, ok := e.OnAck(protocol.CommandAck{Status: protocol.AckOther, Raw: "pending"})
	assert.False(t, ok)

	w, pending := e.Pending()
	require.True(t, pending)
	assert.Equal(t, WagerStateSent, w.State)
	assert.Equal(t, int64(0), e.GetMetrics()["rejected_wagers"])

	settled, err := e.Settle("100")
	require.NoError(t, err)
	assert.Equal(t, "100", settled.RoundID)
}

func TestRepeatedOpenDoesNotReopenRound(t *testing.T) {
	e, s := newExecutor()
	e.OnRoundOpened("100", "t")
	e.OnRoundClosed("100")
	e.OnRoundResolved("100")

	e.OnRoundOpened("100", "t")

	r, ok := e.Round()
	require.True(t, ok)
	assert.Equal(t, types.PhaseResolved, r.Phase)

	_, err := e.Place(context.Background(), "100", types.Red, stake, 0, false)
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Equal(t, 0, s.count())

	// a new id still opens normally
	e.OnRoundOpened("101", "t")
	r, _ = e.Round()
	assert.Equal(t, types.PhaseOpen, r.Phase)
}
