// Package session owns a single active game: the board (via the chess
// rules library), the chronological move stack in coordinate notation, and
// its mirrored standard-notation (PGN) document on disk.
package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/notnil/chess"
	"github.com/seekerror/logw"

	"github.com/aqueum/js8chess/pkg/config"
	"github.com/aqueum/js8chess/pkg/protocol"
)

// Session is the authoritative state of one correspondence game.
type Session struct {
	GameID     string
	LocalCall  string
	RemoteCall string
	LocalColor protocol.Color

	game    *chess.Game
	moves   []string
	pgnPath string
}

// New creates an empty session with a seeded standard-notation document.
// The on-disk notation path is "<remote>-<game_id>.pgn" under the fixed
// config/notation directory.
func New(gameID, localCall, remoteCall string, localColor protocol.Color) (*Session, error) {
	dir, err := config.Home()
	if err != nil {
		return nil, fmt.Errorf("session: resolve notation dir: %w", err)
	}

	s := &Session{
		GameID:     gameID,
		LocalCall:  strings.ToUpper(strings.TrimSpace(localCall)),
		RemoteCall: strings.ToUpper(strings.TrimSpace(remoteCall)),
		LocalColor: localColor,
		game:       chess.NewGame(chess.UseNotation(chess.UCINotation{})),
		pgnPath:    filepath.Join(dir, fmt.Sprintf("%v-%v.pgn", strings.ToUpper(remoteCall), gameID)),
	}
	s.applyHeaders("*")
	if err := s.save(); err != nil {
		logw.Warningf(context.Background(), "session: could not seed notation file %v: %v", s.pgnPath, err)
	}
	return s, nil
}

// PGNPath returns the on-disk notation file path for this session.
func (s *Session) PGNPath() string {
	return s.pgnPath
}

// ExpectedMoveNum is the ordinal of the next move to be applied: the
// number of plies applied so far, plus one.
func (s *Session) ExpectedMoveNum() int {
	return len(s.moves) + 1
}

// IsLocalTurn reports whether it is the local side's turn to move.
func (s *Session) IsLocalTurn() bool {
	return s.game.Position().Turn() == colorOf(s.LocalColor)
}

// IsRemoteTurn reports whether it is the remote side's turn to move.
func (s *Session) IsRemoteTurn() bool {
	return !s.IsLocalTurn()
}

// MoveList returns the chronological move stack in coordinate notation.
func (s *Session) MoveList() []string {
	out := make([]string, len(s.moves))
	copy(out, s.moves)
	return out
}

// ValidateMove reports whether move parses as coordinate notation and is
// legal in the current position, without mutating any state.
func (s *Session) ValidateMove(move string) bool {
	return s.tryMove(move) == nil
}

// ApplyMove applies move to the board, appends it to the notation
// document, and flushes the document to disk. It returns false — without
// mutating any state — if the move is illegal or unparsable.
func (s *Session) ApplyMove(move string) bool {
	move = strings.ToLower(strings.TrimSpace(move))
	if err := s.tryMove(move); err != nil {
		return false
	}
	if err := s.game.MoveStr(move); err != nil {
		logw.Errorf(context.Background(), "session: move %v validated on clone but failed on live game: %v", move, err)
		return false
	}
	s.moves = append(s.moves, move)
	if err := s.save(); err != nil {
		logw.Warningf(context.Background(), "session: flush notation file %v: %v", s.pgnPath, err)
	}
	return true
}

func (s *Session) tryMove(move string) error {
	return s.game.Clone().MoveStr(strings.ToLower(strings.TrimSpace(move)))
}

// RestoreToPly reloads the notation file from disk, replays exactly n
// plies onto a fresh board, and adopts that board as current. It fails,
// leaving state unchanged, if the file is missing or malformed, or if n
// exceeds the number of plies recorded in the file.
func (s *Session) RestoreToPly(n int) error {
	data, err := os.ReadFile(s.pgnPath)
	if err != nil {
		return fmt.Errorf("session: read notation file: %w", err)
	}
	pgnFn, err := chess.PGN(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("session: parse notation file: %w", err)
	}
	loaded := chess.NewGame(pgnFn)
	all := loaded.Moves()
	if n < 0 || n > len(all) {
		return fmt.Errorf("session: restore ply %v out of range (have %v)", n, len(all))
	}

	fresh := chess.NewGame(chess.UseNotation(chess.UCINotation{}))
	var notation chess.UCINotation
	moves := make([]string, 0, n)
	for i := 0; i < n; i++ {
		m := all[i]
		moves = append(moves, strings.ToLower(notation.Encode(fresh.Position(), m)))
		if err := fresh.Move(m); err != nil {
			return fmt.Errorf("session: replay ply %v: %w", i+1, err)
		}
	}

	s.game = fresh
	s.moves = moves
	s.applyHeaders("*")
	if err := s.save(); err != nil {
		logw.Warningf(context.Background(), "session: flush notation file after restore %v: %v", s.pgnPath, err)
	}
	return nil
}

// SetResult writes the game result header and flushes the document.
func (s *Session) SetResult(result string) error {
	switch result {
	case "*", "1-0", "0-1", "1/2-1/2":
	default:
		return fmt.Errorf("session: invalid result %q", result)
	}
	s.applyHeaders(result)
	return s.save()
}

func (s *Session) applyHeaders(result string) {
	white, black := s.RemoteCall, s.LocalCall
	if s.LocalColor == protocol.White {
		white, black = s.LocalCall, s.RemoteCall
	}

	date := "????.??.??"
	if len(s.GameID) >= 8 {
		date = fmt.Sprintf("%v.%v.%v", s.GameID[0:4], s.GameID[4:6], s.GameID[6:8])
	}

	s.game.AddTagPair("Event", "JS8Chess correspondence game")
	s.game.AddTagPair("Date", date)
	s.game.AddTagPair("White", white)
	s.game.AddTagPair("Black", black)
	s.game.AddTagPair("Result", result)
}

func (s *Session) save() error {
	if err := os.MkdirAll(filepath.Dir(s.pgnPath), 0o750); err != nil {
		return err
	}
	return os.WriteFile(s.pgnPath, []byte(s.game.String()), 0o600)
}

func colorOf(c protocol.Color) chess.Color {
	if c == protocol.Black {
		return chess.Black
	}
	return chess.White
}
