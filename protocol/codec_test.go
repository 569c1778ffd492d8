package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/roulettebot/types"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{"pong", `<pong time="1700000000000" seq="7"></pong>`,
			HeartbeatAck{SentAt: time.UnixMilli(1700000000000), Seq: 7}},
		{"bets open", `<betsopen game="8123" table="mrbras531mrbr532" seq="40"></betsopen>`,
			RoundOpened{RoundID: "8123", TableID: "mrbras531mrbr532", Seq: 40}},
		{"closing soon", `<betsclosingsoon game="8123"/>`, RoundClosingSoon{RoundID: "8123"}},
		{"bets closed", `<betsclosed game="8123"></betsclosed>`, RoundClosed{RoundID: "8123"}},
		{"bets close alias", `<betsclose game="8124"/>`, RoundClosed{RoundID: "8124"}},
		{"game result", `<gameresult game="8123" score="17" seq="41"></gameresult>`,
			RoundResult{RoundID: "8123", Value: 17, Seq: 41}},
		{"zero result", `<result game="9" score="0"/>`, RoundResult{RoundID: "9", Value: 0}},
		{"command success", `<command channel="table-x" status="success"/>`,
			CommandAck{Status: AckAccepted, Raw: "success"}},
		{"command denied", `<command status="denied"/>`,
			CommandAck{Status: AckRejected, Raw: "denied"}},
		{"command refused", `<command status="refused"/>`,
			CommandAck{Status: AckRejected, Raw: "refused"}},
		{"command error", `<command status="error"/>`,
			CommandAck{Status: AckRejected, Raw: "error"}},
		{"command pending", `<command status="pending"/>`,
			CommandAck{Status: AckOther, Raw: "pending"}},
		{"command informational", `<command status="processing"/>`,
			CommandAck{Status: AckOther, Raw: "processing"}},
		{"session offline", `<session>offline</session>`, SessionInvalid{Reason: "session offline"}},
		{"validation session code", `<betValidationError code="1039"/>`,
			SessionInvalid{Reason: "validation code 1039"}},
		{"validation other code", `<betValidationError code="2001"/>`,
			CommandAck{Status: AckRejected, Raw: "validation_error", Code: "2001"}},
		{"switch", `<switch gameServer="gs5" wsAddress="wss://gs5.example/game" tableId="t2"/>`,
			ServerRedirect{Endpoint: "wss://gs5.example/game", TableID: "t2", Server: "gs5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode([]byte(tt.raw)))
		})
	}
}

func TestDecodeUnrecognized(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"hello world",
		`<betsopen table="x"/>`,
		`<gameresult game="1" score="37"/>`,
		`<gameresult game="1" score="abc"/>`,
		`<gameresult game="1"/>`,
		`<lobby players="12"/>`,
		`<switch gameServer="gs5"/>`,
		`<session>online</session>`,
		`<<<`,
	}

	for _, in := range inputs {
		ev := Decode([]byte(in))
		u, ok := ev.(Unrecognized)
		require.True(t, ok, "input %q decoded to %#v", in, ev)
		assert.Equal(t, KindUnrecognized, u.Kind())

		var perr *ProtocolError
		assert.ErrorAs(t, u.Err, &perr)
	}
}

func TestEncodePing(t *testing.T) {
	out, err := Encode(Ping{At: time.UnixMilli(1700000000123)})
	require.NoError(t, err)
	assert.Equal(t, "<ping time='1700000000123'></ping>", string(out))
}

func TestEncodePlaceWager(t *testing.T) {
	cmd := PlaceWager{
		TableID:        "mrbras531mrbr532",
		RoundID:        "8123",
		AccountRef:     "u-77",
		Amount:         decimal.RequireFromString("1.5"),
		WagerTypeCode:  CodeBlack,
		IdempotencyKey: "1700000000000",
	}

	out, err := Encode(cmd)
	require.NoError(t, err)

	want := `<command channel="table-mrbras531mrbr532">` +
		`<lpbet gm="roulette_desktop" gId="8123" uId="u-77" ck="1700000000000">` +
		`<bet amt="1.50" bc="49" ck="1700000000000" />` +
		`</lpbet></command>`
	assert.Equal(t, want, string(out))
}

func TestEncodePlaceWagerEscapesAttributes(t *testing.T) {
	out, err := Encode(PlaceWager{
		TableID: "t", RoundID: "1", AccountRef: `a"b<c`,
		Amount: decimal.NewFromInt(3), WagerTypeCode: CodeRed, IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.NotContains(t, string(out), `a"b<c`)
	assert.True(t, strings.Contains(string(out), `uId="a&#34;b&lt;c"`))
}

func TestEncodePlaceWagerValidation(t *testing.T) {
	base := PlaceWager{
		TableID: "t", RoundID: "1", Amount: decimal.NewFromInt(3),
		WagerTypeCode: CodeRed, IdempotencyKey: "k",
	}

	noRound := base
	noRound.RoundID = ""
	_, err := Encode(noRound)
	assert.Error(t, err)

	noKey := base
	noKey.IdempotencyKey = ""
	_, err = Encode(noKey)
	assert.Error(t, err)

	zero := base
	zero.Amount = decimal.Zero
	_, err = Encode(zero)
	assert.Error(t, err)
}

func TestWagerCode(t *testing.T) {
	code, err := WagerCode(types.Red)
	require.NoError(t, err)
	assert.Equal(t, "48", code)

	code, err = WagerCode(types.Black)
	require.NoError(t, err)
	assert.Equal(t, "49", code)

	_, err = WagerCode(types.Green)
	assert.Error(t, err)
}

func TestKeySourceStrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	ks := &KeySource{now: func() time.Time { return fixed }}

	assert.Equal(t, "1700000000000", ks.Next())
	assert.Equal(t, "1700000000001", ks.Next())
	assert.Equal(t, "1700000000002", ks.Next())

	fixed = fixed.Add(time.Second)
	assert.Equal(t, "1700000001000", ks.Next())
}
