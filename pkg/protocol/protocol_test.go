package protocol_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqueum/js8chess/pkg/protocol"
)

const (
	local  = "CALLSIGN"
	remote = "SWL"
)

func TestRoundTripMove(t *testing.T) {
	tests := []struct {
		n int
		m string
	}{
		{1, "e2e4"},
		{2, "a1a8"},
		{42, "e7e8q"},
	}

	for _, tt := range tests {
		raw := protocol.FmtMove(local, remote, tt.n, tt.m)

		msg := protocol.Parse(raw, local, remote, "")
		require.NotNil(t, msg)
		assert.Equal(t, protocol.Move, msg.Kind)
		assert.Equal(t, tt.n, msg.MoveNum)
		assert.Equal(t, tt.m, msg.Move)
	}
}

func TestRoundTripAcceptance(t *testing.T) {
	for _, c := range []protocol.Color{protocol.White, protocol.Black} {
		ts := "202506011430"
		raw := protocol.FmtAcceptance(local, remote, ts, c)

		msg := protocol.Parse(raw, local, remote, "")
		require.NotNil(t, msg)
		assert.Equal(t, protocol.Acceptance, msg.Kind)
		assert.Equal(t, ts, msg.Timestamp)
		assert.Equal(t, c, msg.Color)
	}
}

func TestRoundTripResyncOk(t *testing.T) {
	ts := "202506011430"
	raw := protocol.FmtResyncOk(local, remote, ts, 3)

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.ResyncOk, msg.Kind)
	assert.Equal(t, ts, msg.Timestamp)
	assert.Equal(t, 3, msg.ResyncMoveNum)
}

func TestAcceptanceParsesInRealTrafficDirection(t *testing.T) {
	raw := remote + " " + local + " JS8CHESS 202506011430 B"

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.Acceptance, msg.Kind)
	assert.Equal(t, "202506011430", msg.Timestamp)
	assert.Equal(t, protocol.Black, msg.Color)
}

func TestResyncOkParsesInRealTrafficDirection(t *testing.T) {
	raw := remote + " " + local + " JS8CHESS OK RS 202506011430 MN=3"

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.ResyncOk, msg.Kind)
	assert.Equal(t, "202506011430", msg.Timestamp)
	assert.Equal(t, 3, msg.ResyncMoveNum)
}

func TestRoundTripNewProposal(t *testing.T) {
	raw := protocol.FmtNewProposal(local, remote, protocol.White)

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.NewProposal, msg.Kind)
	assert.Equal(t, protocol.White, msg.Color)
}

func TestRoundTripError(t *testing.T) {
	for code := range protocol.Descriptions {
		raw := protocol.FmtError(local, remote, code)

		msg := protocol.Parse(raw, local, remote, "")
		require.NotNil(t, msg)
		assert.Equal(t, protocol.Error, msg.Kind)
		assert.Equal(t, code, msg.ErrorCode)
	}
}

func TestRoundTripResyncRequest(t *testing.T) {
	ts := "202506011430"
	raw := protocol.FmtResyncRequest(local, remote, ts, 5)

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.ResyncRequest, msg.Kind)
	assert.Equal(t, ts, msg.Timestamp)
	assert.Equal(t, 5, msg.ResyncMoveNum)
}

func TestAcceptanceTimestampMustBe12Digits(t *testing.T) {
	tests := []struct {
		name string
		ts   string
	}{
		{"11 digits", "20250601143"},
		{"13 digits", "2025060114300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := local + " " + remote + " JS8CHESS " + tt.ts + " W"

			msg := protocol.Parse(raw, local, remote, "")
			require.NotNil(t, msg)
			assert.NotEqual(t, protocol.Acceptance, msg.Kind)
		})
	}
}

func TestMoveOrdinalAllowsMultipleDigits(t *testing.T) {
	raw := protocol.FmtMove(local, remote, 123, "e2e4")

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.Move, msg.Kind)
	assert.Equal(t, 123, msg.MoveNum)
}

func TestParseIsCaseInsensitiveFormatIsUppercase(t *testing.T) {
	raw := protocol.FmtMove(local, remote, 1, "e2e4")
	assert.Equal(t, remote+" "+local+" JS8CHESS 1E2E4", raw)

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)

	lower := protocol.Parse(stringsToLower(raw), local, remote, "")
	require.NotNil(t, lower)
	assert.Equal(t, msg.Kind, lower.Kind)
	assert.Equal(t, msg.Move, lower.Move)
}

func TestPrefixMismatchIsNotForUs(t *testing.T) {
	raw := "OTHERCALL ANOTHERCALL JS8CHESS NEW W"

	msg := protocol.Parse(raw, local, remote, "")
	assert.Nil(t, msg)
}

func TestFromCallMismatchOverridesPrefix(t *testing.T) {
	raw := remote + " " + local + " JS8CHESS NEW W"

	msg := protocol.Parse(raw, local, remote, "IMPOSTOR")
	assert.Nil(t, msg)
}

func TestFromCallMatchIsAccepted(t *testing.T) {
	raw := remote + " " + local + " JS8CHESS NEW W"

	msg := protocol.Parse(raw, local, remote, remote)
	require.NotNil(t, msg)
	assert.Equal(t, protocol.NewProposal, msg.Kind)
}

func TestBarePrefixImputesRemote(t *testing.T) {
	raw := local + " JS8CHESS NEW W"

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.NewProposal, msg.Kind)
	assert.Equal(t, remote, msg.From)
}

func TestUnknownPayloadWithMatchingPrefix(t *testing.T) {
	raw := remote + " " + local + " JS8CHESS GARBAGE"

	msg := protocol.Parse(raw, local, remote, "")
	require.NotNil(t, msg)
	assert.Equal(t, protocol.Unknown, msg.Kind)
}

func TestAckPayloadVariants(t *testing.T) {
	for _, payload := range []string{">", ""} {
		raw := remote + " " + local + " JS8CHESS " + payload

		msg := protocol.Parse(raw, local, remote, "")
		require.NotNil(t, msg)
		assert.Equal(t, protocol.Ack, msg.Kind)
	}
}

func TestNowTimestampUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	got := protocol.NowTimestamp(func() time.Time { return fixed })
	assert.Equal(t, "202506011430", got)
}

func TestParseNeverPanicsOnMalformedInput(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		remote + " " + local + " JS8CHESS",
		remote + " " + local + " JS8CHESS 1",
		remote + " " + local + " JS8CHESS RS MN=",
		"not even close to a valid frame",
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			protocol.Parse(in, local, remote, "")
		})
	}
}

func stringsToLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
