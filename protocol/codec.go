package protocol

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/roulettebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CODEC - Tag/attribute text frames <-> typed events and commands
// ═══════════════════════════════════════════════════════════════════════════════
//
// Inbound:
//   <pong time="1700000000000" seq="12"></pong>
//   <betsopen game="8123" table="mrbras531mrbr532" seq="40"></betsopen>
//   <betsclosingsoon game="8123"/>   <betsclosed game="8123"/>
//   <gameresult game="8123" score="17" seq="41"/>
//   <command channel="table-x" status="success"/>
//   <betValidationError code="1039"/>
//   <session>offline</session>
//   <switch gameServer="gs5" wsAddress="wss://gs5.example/game" tableId="x"/>
//
// Outbound:
//   <ping time='1700000000000'></ping>
//   <command channel="table-x"><lpbet ...><bet amt="1.50" bc="48" ck="..."/></lpbet></command>
//
// Decode never fails: anything it cannot read becomes Unrecognized.
//
// ═══════════════════════════════════════════════════════════════════════════════

const maxRouletteValue = 36

// Validation error codes the table uses for dead sessions
var sessionErrorCodes = map[string]bool{
	"1001": true, "1002": true, "1003": true, "1039": true, "1040": true,
}

// Decode turns a raw frame into a typed event
func Decode(raw []byte) Event {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return unrecognized(text, "empty frame")
	}

	dec := xml.NewDecoder(bytes.NewReader([]byte(text)))
	dec.Strict = false

	var start xml.StartElement
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return unrecognized(text, "no element")
			}
			return unrecognized(text, err.Error())
		}
		if se, ok := tok.(xml.StartElement); ok {
			start = se
			break
		}
	}

	switch strings.ToLower(start.Name.Local) {
	case "pong":
		return decodePong(start)

	case "betsopen":
		game := attr(start, "game")
		if game == "" {
			return unrecognized(text, "betsopen without game")
		}
		return RoundOpened{
			RoundID: game,
			TableID: attr(start, "table"),
			Seq:     parseUint(attr(start, "seq")),
		}

	case "betsclosingsoon", "betsclosing":
		return RoundClosingSoon{RoundID: attr(start, "game")}

	case "betsclosed", "betsclose":
		return RoundClosed{RoundID: attr(start, "game")}

	case "gameresult", "result":
		return decodeResult(text, start)

	case "command":
		status := attr(start, "status")
		if status == "" {
			return unrecognized(text, "command without status")
		}
		return CommandAck{Status: ackStatus(status), Raw: status}

	case "betvalidationerror":
		code := attr(start, "code")
		if sessionErrorCodes[code] {
			return SessionInvalid{Reason: "validation code " + code}
		}
		return CommandAck{Status: AckRejected, Raw: "validation_error", Code: code}

	case "session":
		body := readText(dec)
		if strings.EqualFold(body, "offline") {
			return SessionInvalid{Reason: "session offline"}
		}
		return unrecognized(text, "session state "+body)

	case "switch":
		addr := attr(start, "wsAddress")
		if addr == "" {
			return unrecognized(text, "switch without wsAddress")
		}
		table := attr(start, "tableId")
		if table == "" {
			table = attr(start, "table")
		}
		return ServerRedirect{
			Endpoint: addr,
			TableID:  table,
			Server:   attr(start, "gameServer"),
		}
	}

	return unrecognized(text, "unknown tag "+start.Name.Local)
}

func decodePong(start xml.StartElement) Event {
	ack := HeartbeatAck{Seq: parseUint(attr(start, "seq"))}
	if ms, err := strconv.ParseInt(attr(start, "time"), 10, 64); err == nil {
		ack.SentAt = time.UnixMilli(ms)
	}
	return ack
}

func decodeResult(text string, start xml.StartElement) Event {
	score := attr(start, "score")
	if score == "" {
		return unrecognized(text, "result without score")
	}
	value, err := strconv.Atoi(score)
	if err != nil || value < 0 || value > maxRouletteValue {
		return unrecognized(text, "result score out of range: "+score)
	}
	return RoundResult{
		RoundID: attr(start, "game"),
		Value:   value,
		Seq:     parseUint(attr(start, "seq")),
	}
}

func ackStatus(status string) AckStatus {
	switch strings.ToLower(status) {
	case "success", "ok", "accepted":
		return AckAccepted
	case "error", "fail", "failed", "denied", "refused", "rejected":
		return AckRejected
	}
	return AckOther
}

// readText collects the character data directly under the current element
func readText(dec *xml.Decoder) string {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement, xml.StartElement:
			return strings.TrimSpace(sb.String())
		}
	}
	return strings.TrimSpace(sb.String())
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func unrecognized(raw, reason string) Unrecognized {
	return Unrecognized{Raw: raw, Err: &ProtocolError{Reason: reason, Raw: raw}}
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

// Command is anything Encode can serialize
type Command interface {
	command()
}

// Ping is the heartbeat frame
type Ping struct {
	At time.Time
}

// PlaceWager backs one color on an open round
type PlaceWager struct {
	TableID        string
	RoundID        string
	AccountRef     string
	Amount         decimal.Decimal
	WagerTypeCode  string
	IdempotencyKey string
}

func (Ping) command()       {}
func (PlaceWager) command() {}

// Wager type codes for even-money color bets
const (
	CodeRed   = "48"
	CodeBlack = "49"
)

// WagerCode returns the bet code for a color. Green cannot be backed.
func WagerCode(c types.Color) (string, error) {
	switch c {
	case types.Red:
		return CodeRed, nil
	case types.Black:
		return CodeBlack, nil
	}
	return "", fmt.Errorf("no wager code for color %s", c.Name())
}

// Encode serializes a command into a text frame
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case Ping:
		return []byte(fmt.Sprintf("<ping time='%d'></ping>", c.At.UnixMilli())), nil

	case PlaceWager:
		if c.RoundID == "" || c.TableID == "" {
			return nil, fmt.Errorf("place wager: round and table are required")
		}
		if c.IdempotencyKey == "" {
			return nil, fmt.Errorf("place wager: idempotency key is required")
		}
		if !c.Amount.IsPositive() {
			return nil, fmt.Errorf("place wager: amount must be positive, got %s", c.Amount)
		}

		var b bytes.Buffer
		fmt.Fprintf(&b, `<command channel="table-%s">`, escape(c.TableID))
		fmt.Fprintf(&b, `<lpbet gm="roulette_desktop" gId="%s" uId="%s" ck="%s">`,
			escape(c.RoundID), escape(c.AccountRef), escape(c.IdempotencyKey))
		fmt.Fprintf(&b, `<bet amt="%s" bc="%s" ck="%s" />`,
			c.Amount.StringFixed(2), escape(c.WagerTypeCode), escape(c.IdempotencyKey))
		b.WriteString(`</lpbet></command>`)
		return b.Bytes(), nil
	}

	return nil, fmt.Errorf("encode: unsupported command %T", cmd)
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
