// Package protocol implements the JS8CHESS over-the-air (OTA) text protocol:
// parsing inbound frames and formatting outbound ones. It is pure: no I/O,
// no clock reads except through an injected Clock, so parse/format tables
// are trivially testable.
//
// All OTA text is case-insensitive on parse and emitted UPPERCASE. Internally
// coordinate moves are stored lowercase.
package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a parsed OTA message.
type Kind int

const (
	Unknown Kind = iota
	NewProposal
	Acceptance
	Move
	Ack
	Error
	ResyncRequest
	ResyncOk
)

func (k Kind) String() string {
	switch k {
	case NewProposal:
		return "NewProposal"
	case Acceptance:
		return "Acceptance"
	case Move:
		return "Move"
	case Ack:
		return "Ack"
	case Error:
		return "Error"
	case ResyncRequest:
		return "ResyncRequest"
	case ResyncOk:
		return "ResyncOk"
	default:
		return "Unknown"
	}
}

// Color is a proposed or assigned side, as carried on the wire.
type Color string

const (
	NoColor Color = ""
	White   Color = "W"
	Black   Color = "B"
)

// Opposite returns the other color. Opposite of NoColor is NoColor.
func (c Color) Opposite() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoColor
	}
}

// ErrorCode is one of the fixed OTA error enumeration values.
type ErrorCode string

const (
	NoError       ErrorCode = ""
	ErrIllegalMove ErrorCode = "ERR01"
	ErrBadMoveNum  ErrorCode = "ERR02"
	ErrNoSession   ErrorCode = "ERR03"
	ErrParse       ErrorCode = "ERR04"
	ErrDesync      ErrorCode = "ERR05"
)

// Descriptions of the fixed error enumeration, for info-string narration.
var Descriptions = map[ErrorCode]string{
	ErrIllegalMove: "Illegal move",
	ErrBadMoveNum:  "Unexpected move number",
	ErrNoSession:   "Not in active session",
	ErrParse:       "Parse error",
	ErrDesync:      "Desync",
}

// Message is a parsed OTA frame, tagged by Kind with the fields relevant to
// that kind populated.
type Message struct {
	Kind Kind

	From, To string

	Color         Color
	Timestamp     string // 12-digit YYYYMMDDHHMM
	MoveNum       int    // 1-based ply ordinal
	Move          string // lowercase coordinate notation, e.g. "e2e4", "e7e8q"
	ErrorCode     ErrorCode
	ResyncMoveNum int
}

func (m *Message) String() string {
	return fmt.Sprintf("%v{from=%v to=%v color=%v ts=%v moveNum=%v move=%v err=%v resyncMoveNum=%v}",
		m.Kind, m.From, m.To, m.Color, m.Timestamp, m.MoveNum, m.Move, m.ErrorCode, m.ResyncMoveNum)
}

// Clock abstracts the wall clock so tests can substitute a fixed time. The
// codec MUST NOT consult the clock except through NowTimestamp.
type Clock func() time.Time

// NowTimestamp returns clock() formatted as the 12-digit game id.
func NowTimestamp(clock Clock) string {
	if clock == nil {
		clock = time.Now
	}
	return clock().Format("200601021504")
}

var (
	reNewProposal = regexp.MustCompile(`^NEW ([WB])$`)
	reAcceptance  = regexp.MustCompile(`^(\d{12}) ([WB])$`)
	reMove        = regexp.MustCompile(`^(\d+)([A-H][1-8][A-H][1-8])([QRBN]?)$`)
	reError       = regexp.MustCompile(`^(ERR0[1-5])\s*>?$`)
	reResyncReq   = regexp.MustCompile(`^RS (\d{12}) MN=(\d+)$`)
	reResyncOk    = regexp.MustCompile(`^OK RS (\d{12}) MN=(\d+)$`)
)

// Parse parses raw OTA text directed at us. local and remote are our own
// and our correspondent's callsigns (any case). fromCall, if non-empty, is
// an authenticated sender callsign supplied by the transport and is checked
// against remote; a mismatch overrides a matching text prefix.
//
// Parse returns nil when the message is not for us (prefix does not match,
// or fromCall contradicts the prefix). It returns a Message with Kind ==
// Unknown when the prefix matches but the payload matches no known kind.
// Parse never panics on malformed input.
func Parse(raw, local, remote, fromCall string) *Message {
	text := strings.ToUpper(strings.TrimSpace(raw))
	local = strings.ToUpper(strings.TrimSpace(local))
	remote = strings.ToUpper(strings.TrimSpace(remote))

	remoteLocalPrefix := remote + " " + local + " JS8CHESS"
	localRemotePrefix := local + " " + remote + " JS8CHESS"
	barePrefix := local + " JS8CHESS"

	var payload string

	switch {
	case strings.HasPrefix(text, remoteLocalPrefix):
		payload = strings.TrimSpace(text[len(remoteLocalPrefix):])
	case strings.HasPrefix(text, localRemotePrefix):
		payload = strings.TrimSpace(text[len(localRemotePrefix):])
	case strings.HasPrefix(text, barePrefix):
		payload = strings.TrimSpace(text[len(barePrefix):])
	default:
		return nil
	}

	if fromCall != "" && strings.ToUpper(strings.TrimSpace(fromCall)) != remote {
		return nil
	}

	msg := &Message{From: remote, To: local}

	// Every kind's payload grammar is mutually exclusive, so any prefix form
	// that matched is tried against all kinds: a peer's own local-first
	// formatting (Acceptance, ResyncOk) arrives at us as our remote-local
	// prefix, same as every other directed kind.
	switch {
	case payload == ">" || payload == "":
		msg.Kind = Ack
		return msg

	case reNewProposal.MatchString(payload):
		m := reNewProposal.FindStringSubmatch(payload)
		msg.Kind = NewProposal
		msg.Color = Color(m[1])
		return msg

	case reAcceptance.MatchString(payload):
		m := reAcceptance.FindStringSubmatch(payload)
		msg.Kind = Acceptance
		msg.Timestamp = m[1]
		msg.Color = Color(m[2])
		return msg

	case reError.MatchString(payload):
		m := reError.FindStringSubmatch(payload)
		msg.Kind = Error
		msg.ErrorCode = ErrorCode(m[1])
		return msg

	case reResyncOk.MatchString(payload):
		m := reResyncOk.FindStringSubmatch(payload)
		msg.Kind = ResyncOk
		msg.Timestamp = m[1]
		n, _ := strconv.Atoi(m[2])
		msg.ResyncMoveNum = n
		return msg

	case reResyncReq.MatchString(payload):
		m := reResyncReq.FindStringSubmatch(payload)
		msg.Kind = ResyncRequest
		msg.Timestamp = m[1]
		n, _ := strconv.Atoi(m[2])
		msg.ResyncMoveNum = n
		return msg

	case reMove.MatchString(payload):
		m := reMove.FindStringSubmatch(payload)
		msg.Kind = Move
		n, _ := strconv.Atoi(m[1])
		msg.MoveNum = n
		msg.Move = strings.ToLower(m[2] + m[3])
		return msg

	default:
		msg.Kind = Unknown
		return msg
	}
}

// FmtNewProposal renders a NEW game proposal: "<remote> <local> JS8CHESS NEW <color>".
func FmtNewProposal(local, remote string, color Color) string {
	return fmt.Sprintf("%v %v JS8CHESS NEW %v", up(remote), up(local), color)
}

// FmtAcceptance renders an acceptance: "<local> <remote> JS8CHESS <timestamp> <color>".
func FmtAcceptance(local, remote, timestamp string, color Color) string {
	return fmt.Sprintf("%v %v JS8CHESS %v %v", up(local), up(remote), timestamp, color)
}

// FmtMove renders a move: "<remote> <local> JS8CHESS <moveNum><MOVE>".
func FmtMove(local, remote string, moveNum int, uciMove string) string {
	return fmt.Sprintf("%v %v JS8CHESS %v%v", up(remote), up(local), moveNum, strings.ToUpper(uciMove))
}

// FmtError renders an error frame: "<remote> <local> JS8CHESS <code> >".
func FmtError(local, remote string, code ErrorCode) string {
	return fmt.Sprintf("%v %v JS8CHESS %v >", up(remote), up(local), code)
}

// FmtResyncRequest renders a resync request: "<remote> <local> JS8CHESS RS <timestamp> MN=<n>".
func FmtResyncRequest(local, remote, timestamp string, n int) string {
	return fmt.Sprintf("%v %v JS8CHESS RS %v MN=%v", up(remote), up(local), timestamp, n)
}

// FmtResyncOk renders a resync confirmation: "<local> <remote> JS8CHESS OK RS <timestamp> MN=<n>".
func FmtResyncOk(local, remote, timestamp string, n int) string {
	return fmt.Sprintf("%v %v JS8CHESS OK RS %v MN=%v", up(local), up(remote), timestamp, n)
}

func up(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
