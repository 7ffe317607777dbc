// Package controller is the game-session controller: it negotiates a game,
// owns the authoritative session, speaks UCI to the front-end, and
// coordinates UCI request/response timing with asynchronously arriving
// radio frames.
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/seekerror/build"
	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
	"github.com/seekerror/stdlib/pkg/util/contextx"
	"github.com/seekerror/stdlib/pkg/util/iox"

	"github.com/aqueum/js8chess/pkg/config"
	"github.com/aqueum/js8chess/pkg/protocol"
	"github.com/aqueum/js8chess/pkg/session"
)

// ProtocolName is the front-end transport token this controller answers to
// on the first line read from stdin.
const ProtocolName = "uci"

var version = build.NewVersion(0, 1, 0)

const pollInterval = 5 * time.Second

// State is the engine's coarse game-negotiation state.
type State int

const (
	NoGame State = iota
	ProposalSent
	AwaitingProposal
	GameActive
	GameOver
)

func (s State) String() string {
	switch s {
	case NoGame:
		return "NoGame"
	case ProposalSent:
		return "ProposalSent"
	case AwaitingProposal:
		return "AwaitingProposal"
	case GameActive:
		return "GameActive"
	case GameOver:
		return "GameOver"
	default:
		return "Unknown"
	}
}

// Sender is the radio bridge surface the controller depends on.
type Sender interface {
	Send(ctx context.Context, to, text string) bool
	Stop()
}

// Option configures a Controller at construction.
type Option func(*options)

type options struct {
	clock protocol.Clock
}

// WithClock overrides the wall clock used to mint game ids. For tests.
func WithClock(clock protocol.Clock) Option {
	return func(o *options) { o.clock = clock }
}

type queueItem struct {
	msg  *protocol.Message
	stop bool
}

// Controller is the UCI-facing, state_lock-protected game controller.
type Controller struct {
	cfg    config.Config
	bridge Sender
	clock  protocol.Clock

	out chan<- string

	mu            sync.Mutex // state_lock: protects state, sess, positionCache
	state         State
	sess          lang.Optional[*session.Session]
	positionCache []string
	workerStop    iox.AsyncCloser

	inbound chan queueItem
	active  atomic.Bool // at most one go worker live

	closed iox.AsyncCloser
}

// NewController wires a controller to a UCI input channel and a radio
// Sender, returning it plus its UCI output channel (closed when the
// controller terminates, mirroring the teacher's driver shape).
func NewController(ctx context.Context, cfg config.Config, bridge Sender, in <-chan string, opts ...Option) (*Controller, <-chan string) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	out := make(chan string, 100)
	c := &Controller{
		cfg:     cfg,
		bridge:  bridge,
		clock:   o.clock,
		out:     out,
		state:   NoGame,
		inbound: make(chan queueItem, 64),
		closed:  iox.NewAsyncCloser(),
	}
	go c.process(ctx, in)
	return c, out
}

// Closed reports when the controller has terminated (after `quit`).
func (c *Controller) Closed() <-chan struct{} {
	return c.closed.Closed()
}

// State returns the current engine state under the state lock.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnRadioMessage is the bridge's inbound hook: a decoded directed message.
func (c *Controller) OnRadioMessage(from, to, text string) {
	ctx := context.Background()

	msg := protocol.Parse(text, c.cfg.LocalCallsign, c.cfg.RemoteCallsign, from)
	if msg == nil {
		return
	}
	logw.Debugf(ctx, "radio rx: %v", msg)

	switch msg.Kind {
	case protocol.NewProposal:
		c.handleNewProposal(ctx, msg)
	case protocol.Acceptance:
		c.handleAcceptance(ctx, msg)
	case protocol.ResyncRequest:
		c.handleResyncRequest(ctx, msg)
	default:
		c.mu.Lock()
		active := c.state == GameActive
		c.mu.Unlock()
		if !active {
			logw.Debugf(ctx, "dropping %v received outside an active game (state %v)", msg.Kind, c.State())
			return
		}
		c.enqueue(msg)
	}
}

// SendNewProposal transmits a NEW game proposal for the given color,
// per the CLI's --propose option.
func (c *Controller) SendNewProposal(ctx context.Context, color protocol.Color) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != NoGame && state != AwaitingProposal {
		logw.Warningf(ctx, "cannot send a proposal from state %v", state)
		return
	}

	c.mu.Lock()
	c.state = ProposalSent
	c.mu.Unlock()

	line := protocol.FmtNewProposal(c.cfg.LocalCallsign, c.cfg.RemoteCallsign, color)
	c.transmit(ctx, line)
	c.infof(ctx, "sent proposal to play %v", color)
}

func (c *Controller) process(ctx context.Context, in <-chan string) {
	defer c.closed.Close()
	defer close(c.out)

	logw.Infof(ctx, "UCI protocol initialized")

	// The GUI's initial "uci" line was already consumed by the front-end's
	// protocol-selection dispatch before this driver was even constructed,
	// so the identity banner is sent unconditionally at startup rather than
	// in response to a line this driver will never see (mirrors the
	// teacher's uci.Driver).
	c.out <- fmt.Sprintf("id name js8chess %v", version)
	c.out <- "id author Aqueum"
	c.out <- "uciok"

	for line := range in {
		if c.handle(ctx, line) {
			c.shutdown(ctx)
			return
		}
	}
	c.shutdown(ctx)
}

// handle dispatches one UCI line. It returns true when the controller
// should terminate (a `quit` was seen).
func (c *Controller) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "isready":
		c.out <- "readyok"

	case "debug", "setoption", "register":
		// Accepted but no behavior change; this bridge has no tunable search
		// options and no registration requirement.

	case "ucinewgame":
		c.mu.Lock()
		c.state = NoGame
		c.sess = lang.Optional[*session.Session]{}
		c.positionCache = nil
		c.mu.Unlock()

	case "position":
		c.handlePosition(fields[1:])

	case "go":
		c.handleGo(ctx)

	case "stop":
		c.handleStop(ctx)

	case "quit":
		c.handleStop(ctx)
		return true

	default:
		logw.Debugf(ctx, "ignoring unrecognized UCI verb %q", fields[0])
	}
	return false
}

func (c *Controller) handlePosition(args []string) {
	var moves []string
	for i, a := range args {
		if strings.EqualFold(a, "moves") {
			for _, m := range args[i+1:] {
				moves = append(moves, strings.ToLower(m))
			}
			break
		}
	}

	c.mu.Lock()
	c.positionCache = moves
	c.mu.Unlock()
}

func (c *Controller) handleGo(ctx context.Context) {
	if !c.active.CompareAndSwap(false, true) {
		logw.Warningf(ctx, "go received while a worker is already active; ignoring")
		return
	}

	stop := iox.NewAsyncCloser()
	c.mu.Lock()
	c.workerStop = stop
	c.mu.Unlock()

	id := uuid.New().String()[:8]
	go func() {
		defer c.active.Store(false)
		c.goWorker(ctx, stop, id)
	}()
}

func (c *Controller) handleStop(ctx context.Context) {
	c.mu.Lock()
	stop := c.workerStop
	c.mu.Unlock()
	if stop != nil {
		stop.Close()
	}

	select {
	case c.inbound <- queueItem{stop: true}:
	default:
	}
	_ = ctx
}

func (c *Controller) enqueue(msg *protocol.Message) {
	select {
	case c.inbound <- queueItem{msg: msg}:
	default:
		logw.Warningf(context.Background(), "inbound queue full, dropping %v", msg.Kind)
	}
}

// goWorker implements the per-`go` await logic of the state machine.
func (c *Controller) goWorker(ctx context.Context, stop iox.AsyncCloser, id string) {
	wctx, cancel := contextx.WithQuitCancel(ctx, stop.Closed())
	defer cancel()

	c.mu.Lock()
	state := c.state
	sess, hasSess := c.sess.V()
	frontEnd := append([]string(nil), c.positionCache...)
	c.mu.Unlock()

	if state != GameActive || !hasSess {
		c.awaitActivationOrStop(stop)
		c.bestMove(ctx, "0000")
		return
	}

	sessionMoves := sess.MoveList()
	var newLocal []string
	if len(frontEnd) > len(sessionMoves) && samePrefix(frontEnd, sessionMoves) {
		newLocal = frontEnd[len(sessionMoves):]
	}

	var lastOrdinal int
	var lastMove string

	for _, mv := range newLocal {
		if contextx.IsCancelled(wctx) {
			c.bestMove(ctx, "0000")
			return
		}
		if !sess.ValidateMove(mv) {
			c.infof(ctx, "ERROR: illegal local move %v", mv)
			c.bestMove(ctx, "0000")
			return
		}

		ordinal := sess.ExpectedMoveNum()
		sess.ApplyMove(mv)

		line := protocol.FmtMove(c.cfg.LocalCallsign, c.cfg.RemoteCallsign, ordinal, mv)
		c.transmit(ctx, line)
		c.infof(ctx, "sent move %v (ply %v)", mv, ordinal)

		lastOrdinal, lastMove = ordinal, mv
	}

	retriesLeft := c.cfg.MaxRetries
	cycle := time.Duration(c.cfg.MoveResponseWaitSeconds) * time.Second

	for {
		msg, stopped := c.waitForMoveCycle(stop, cycle)
		if stopped {
			c.bestMove(ctx, "0000")
			return
		}
		if msg == nil {
			if retriesLeft <= 0 {
				c.infof(ctx, "ERROR: no response after max retries")
				c.bestMove(ctx, "0000")
				return
			}
			retriesLeft--
			if lastMove != "" {
				line := protocol.FmtMove(c.cfg.LocalCallsign, c.cfg.RemoteCallsign, lastOrdinal, lastMove)
				c.transmit(ctx, line)
				c.infof(ctx, "retransmitted move %v (ply %v), %v retries left", lastMove, lastOrdinal, retriesLeft)
			}
			continue
		}

		switch msg.Kind {
		case protocol.Ack:
			continue

		case protocol.Move:
			if msg.MoveNum != sess.ExpectedMoveNum() {
				c.sendError(ctx, protocol.ErrBadMoveNum)
				continue
			}
			if !sess.ValidateMove(msg.Move) {
				c.sendError(ctx, protocol.ErrIllegalMove)
				continue
			}
			sess.ApplyMove(msg.Move)
			c.infof(ctx, "received move %v (ply %v)", msg.Move, msg.MoveNum)
			c.bestMove(ctx, msg.Move)
			return

		default:
			logw.Debugf(ctx, "go-worker[%v]: ignoring %v while waiting", id, msg.Kind)
			continue
		}
	}
}

func (c *Controller) awaitActivationOrStop(stop iox.AsyncCloser) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Closed():
			return
		case <-ticker.C:
			c.mu.Lock()
			active := c.state == GameActive
			c.mu.Unlock()
			if active {
				return
			}
		}
	}
}

// waitForMoveCycle waits up to totalWait for an inbound item, polling at
// pollInterval so the stop signal is observed promptly. It returns
// (nil, false) on a plain timeout and (nil, true) if stopped.
func (c *Controller) waitForMoveCycle(stop iox.AsyncCloser, totalWait time.Duration) (*protocol.Message, bool) {
	deadline := time.Now().Add(totalWait)

	for {
		if stop.IsClosed() {
			return nil, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case item := <-c.inbound:
			if item.stop {
				return nil, true
			}
			return item.msg, false
		case <-stop.Closed():
			return nil, true
		case <-time.After(wait):
			// loop: re-check remaining and stop
		}
	}
}

func (c *Controller) handleNewProposal(ctx context.Context, msg *protocol.Message) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case NoGame, AwaitingProposal:
		if !c.cfg.AutoAccept {
			logw.Infof(ctx, "declined proposal from %v (auto-accept disabled)", msg.From)
			return
		}

		localColor := msg.Color.Opposite()
		gameID := protocol.NowTimestamp(c.clock)

		sess, err := session.New(gameID, c.cfg.LocalCallsign, c.cfg.RemoteCallsign, localColor)
		if err != nil {
			logw.Errorf(ctx, "failed to create session for accepted proposal: %v", err)
			return
		}

		c.mu.Lock()
		c.state = GameActive
		c.sess = lang.Some(sess)
		c.mu.Unlock()

		line := protocol.FmtAcceptance(c.cfg.LocalCallsign, c.cfg.RemoteCallsign, gameID, localColor)
		c.transmit(ctx, line)
		c.infof(ctx, "accepted proposal, playing %v, game id %v", localColor, gameID)

	default:
		logw.Infof(ctx, "ignoring NewProposal in state %v", state)
	}
}

func (c *Controller) handleAcceptance(ctx context.Context, msg *protocol.Message) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != ProposalSent {
		logw.Infof(ctx, "ignoring unexpected Acceptance in state %v", state)
		return
	}

	localColor := msg.Color.Opposite()

	sess, err := session.New(msg.Timestamp, c.cfg.LocalCallsign, c.cfg.RemoteCallsign, localColor)
	if err != nil {
		logw.Errorf(ctx, "failed to create session for accepted proposal: %v", err)
		return
	}

	c.mu.Lock()
	c.state = GameActive
	c.sess = lang.Some(sess)
	c.mu.Unlock()

	c.infof(ctx, "proposal accepted, playing %v, game id %v", localColor, msg.Timestamp)
}

func (c *Controller) handleResyncRequest(ctx context.Context, msg *protocol.Message) {
	c.mu.Lock()
	sess, ok := c.sess.V()
	c.mu.Unlock()

	if !ok {
		c.sendError(ctx, protocol.ErrNoSession)
		return
	}
	if msg.Timestamp != sess.GameID {
		c.sendError(ctx, protocol.ErrDesync)
		return
	}
	if err := sess.RestoreToPly(msg.ResyncMoveNum - 1); err != nil {
		logw.Warningf(ctx, "resync restore to ply %v failed: %v", msg.ResyncMoveNum-1, err)
		c.sendError(ctx, protocol.ErrDesync)
		return
	}

	line := protocol.FmtResyncOk(c.cfg.LocalCallsign, c.cfg.RemoteCallsign, sess.GameID, msg.ResyncMoveNum)
	c.transmit(ctx, line)
	c.infof(ctx, "resynced to ply %v", msg.ResyncMoveNum-1)
}

func (c *Controller) shutdown(ctx context.Context) {
	c.mu.Lock()
	stop := c.workerStop
	c.mu.Unlock()
	if stop != nil {
		stop.Close()
	}
	if c.bridge != nil {
		c.bridge.Stop()
	}
	logw.Infof(ctx, "controller shut down")
}

func (c *Controller) bestMove(ctx context.Context, mv string) {
	c.out <- fmt.Sprintf("bestmove %v", mv)
	_ = ctx
}

func (c *Controller) infof(ctx context.Context, format string, args ...any) {
	line := fmt.Sprintf("info string "+format, args...)
	c.out <- line
	logw.Infof(ctx, "%v", line)
}

func (c *Controller) transmit(ctx context.Context, line string) {
	if !c.bridge.Send(ctx, c.cfg.RemoteCallsign, line) {
		logw.Warningf(ctx, "failed to transmit: %v", line)
	}
}

func (c *Controller) sendError(ctx context.Context, code protocol.ErrorCode) {
	line := protocol.FmtError(c.cfg.LocalCallsign, c.cfg.RemoteCallsign, code)
	c.transmit(ctx, line)
	c.infof(ctx, "sent %v (%v)", code, protocol.Descriptions[code])
}

func samePrefix(longer, prefix []string) bool {
	for i, v := range prefix {
		if longer[i] != v {
			return false
		}
	}
	return true
}
