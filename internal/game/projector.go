// Package game projects authoritative events onto the working game state
// and derives at most one playback task per event. The projector performs
// no deduplication: the sequence manager guarantees each event arrives
// exactly once, in order.
package game

import (
	"time"

	"go.uber.org/zap"

	"github.com/parques-online/client-go/internal/playback"
	"github.com/parques-online/client-go/pkg/protocol"
)

// Animation durations, mirrored by the rendering layer.
const (
	DurDiceRoll         = 250 * time.Millisecond
	DurTokenMoveSquare  = 300 * time.Millisecond
	DurTokenCapture     = 500 * time.Millisecond
	DurStackForm        = 400 * time.Millisecond
	DurStackDissolve    = 400 * time.Millisecond
	DurTokenExitHell    = 500 * time.Millisecond
	DurTokenReachHeaven = 800 * time.Millisecond
)

// Config pins down boundary semantics left open by the server contract.
type Config struct {
	// HomestretchExclusive selects strict comparison against
	// squares_to_homestretch when classifying a moved stack's square.
	// Default (false) treats the threshold square itself as homestretch.
	HomestretchExclusive bool
}

// CaptureOption is a parsed choice offered by awaiting_capture_choice.
type CaptureOption struct {
	ID    string
	Label string
	Type  string // "stack" | "capture" | "target"
}

// Projector owns the working state snapshot. Only ApplyFullState and
// Apply mutate it; readers take deep copies via State and never observe a
// partially applied event. Owned by the session loop, not concurrency-safe.
type Projector struct {
	cfg Config
	log *zap.Logger

	state      *protocol.GameState
	myPlayerID string

	highlighted    []HighlightedToken
	selectedToken  string
	captureOptions []CaptureOption
	rollToAllocate int
	winnerID       string
	finalRankings  []string
}

// HighlightedToken marks a token the local player may currently act on.
type HighlightedToken struct {
	TokenID  string
	PlayerID string
	Kind     string // "selectable" | "selected" | "enemy"
}

func NewProjector(cfg Config, log *zap.Logger) *Projector {
	return &Projector{cfg: cfg, log: log, state: &protocol.GameState{Phase: protocol.PhaseNotStarted}}
}

// ApplyFullState replaces the entire working state from a snapshot. The
// caller must also reset its sequence manager to snapshot.EventSeq.
func (p *Projector) ApplyFullState(snapshot *protocol.GameState, myPlayerID string) {
	p.state = snapshot.Clone()
	p.myPlayerID = myPlayerID
	p.highlighted = nil
	p.selectedToken = ""
	p.captureOptions = nil
	p.rollToAllocate = 0
	if p.state.CurrentTurn != nil {
		p.highlightFor(p.state.CurrentTurn.PlayerID, p.state.CurrentTurn.LegalMoves)
	}
}

// State returns a consistent deep copy of the working snapshot.
func (p *Projector) State() *protocol.GameState { return p.state.Clone() }

// EventSeq returns the sequence number the working state reflects.
func (p *Projector) EventSeq() int64 { return p.state.EventSeq }

func (p *Projector) MyPlayerID() string { return p.myPlayerID }

// Highlighted returns the tokens currently marked selectable.
func (p *Projector) Highlighted() []HighlightedToken {
	return append([]HighlightedToken(nil), p.highlighted...)
}

// CaptureOptions returns the pending capture choices, if any.
func (p *Projector) CaptureOptions() []CaptureOption {
	return append([]CaptureOption(nil), p.captureOptions...)
}

// RollToAllocate returns the roll value the pending choice will spend,
// zero when no choice is awaited.
func (p *Projector) RollToAllocate() int { return p.rollToAllocate }

// Winner returns the winner and final rankings once the game finished.
func (p *Projector) Winner() (string, []string) {
	return p.winnerID, append([]string(nil), p.finalRankings...)
}

// ClearSelection drops local selection and highlight state. Called
// optimistically when an action is submitted, before the server answers.
func (p *Projector) ClearSelection() {
	p.highlighted = nil
	p.selectedToken = ""
}

// ClearCaptureOptions drops the pending capture choice prompt.
func (p *Projector) ClearCaptureOptions() { p.captureOptions = nil }

// Apply routes one event to its reducer and returns the derived playback
// task, or nil for pure bookkeeping events. Unknown event types are
// logged and ignored so a newer server never crashes an older client.
func (p *Projector) Apply(ev protocol.Event) *playback.Task {
	var task *playback.Task
	switch ev.EventType {
	case protocol.EvtGameStarted:
		p.state.Phase = protocol.PhaseInProgress

	case protocol.EvtGameEnded:
		p.state.Phase = protocol.PhaseFinished
		p.winnerID = ev.WinnerID
		p.finalRankings = append([]string(nil), ev.FinalRankings...)

	case protocol.EvtTurnStarted:
		p.state.CurrentTurn = &protocol.Turn{
			PlayerID:         ev.PlayerID,
			InitialRoll:      true,
			CurrentTurnOrder: ev.TurnNumber,
		}
		p.state.CurrentEvent = protocol.CurrentPlayerRoll
		p.highlighted = nil
		p.rollToAllocate = 0

	case protocol.EvtTurnEnded:
		p.highlighted = nil
		p.rollToAllocate = 0

	case protocol.EvtRollGranted:
		// Bookkeeping only: the matching dice_rolled carries the value.

	case protocol.EvtDiceRolled:
		if turn := p.state.CurrentTurn; turn != nil {
			if ev.GrantsExtraRoll {
				turn.ExtraRolls++
			}
			turn.RollsToAllocate = append(turn.RollsToAllocate, ev.Value)
		}
		task = newTask(playback.TaskDiceRoll, ev, DurDiceRoll)

	case protocol.EvtThreeSixesPenalty:
		// Displayed by the UI layer outside the animation queue; the
		// following turn_ended carries the state effect.

	case protocol.EvtTokenMoved:
		p.updateToken(ev.PlayerID, ev.TokenID, func(t *protocol.Token) {
			t.State = ev.ToState
			t.Progress = ev.ToProgress
		})
		p.consumeRoll(ev.RollUsed)
		task = newTask(playback.TaskTokenMove, ev, moveDuration(ev.FromProgress, ev.ToProgress))

	case protocol.EvtTokenExitedHell:
		p.updateToken(ev.PlayerID, ev.TokenID, func(t *protocol.Token) {
			t.State = protocol.TokenRoad
			t.Progress = 0
		})
		p.consumeRoll(ev.RollUsed)
		task = newTask(playback.TaskTokenExitHell, ev, DurTokenExitHell)

	case protocol.EvtTokenReachedHeaven:
		p.updateToken(ev.PlayerID, ev.TokenID, func(t *protocol.Token) {
			t.State = protocol.TokenHeaven
		})
		task = newTask(playback.TaskTokenReachHeaven, ev, DurTokenReachHeaven)

	case protocol.EvtTokenCaptured:
		p.updateToken(ev.CapturedPlayerID, ev.CapturedTokenID, func(t *protocol.Token) {
			t.State = protocol.TokenHell
			t.Progress = 0
			t.InStack = false
		})
		if ev.GrantsExtraRoll && p.state.CurrentTurn != nil {
			p.state.CurrentTurn.ExtraRolls++
		}
		task = newTask(playback.TaskTokenCapture, ev, DurTokenCapture)

	case protocol.EvtStackFormed:
		p.addStack(ev.PlayerID, protocol.Stack{StackID: ev.StackID, Tokens: ev.TokenIDs})
		task = newTask(playback.TaskStackForm, ev, DurStackForm)

	case protocol.EvtStackDissolved:
		p.removeStack(ev.PlayerID, ev.StackID)
		task = newTask(playback.TaskStackDissolve, ev, DurStackDissolve)

	case protocol.EvtStackSplit:
		p.applyStackSplit(ev)
		task = newTask(playback.TaskStackSplit, ev, DurStackForm)

	case protocol.EvtStackMoved:
		p.applyStackMoved(ev)
		p.consumeRoll(ev.RollUsed)
		task = newTask(playback.TaskStackMove, ev, moveDuration(ev.FromProgress, ev.ToProgress))

	case protocol.EvtAwaitingChoice:
		p.state.CurrentEvent = protocol.CurrentPlayerChoice
		if turn := p.state.CurrentTurn; turn != nil {
			turn.LegalMoves = append([]string(nil), ev.LegalMoves...)
		}
		p.rollToAllocate = ev.RollToAllocate
		p.highlightFor(ev.PlayerID, ev.LegalMoves)

	case protocol.EvtAwaitingCaptureChoice:
		p.state.CurrentEvent = protocol.CurrentCaptureChoice
		if ev.PlayerID == p.myPlayerID {
			p.captureOptions = parseCaptureOptions(ev.Options)
		}

	default:
		p.log.Warn("no reducer for event type, ignoring",
			zap.String("event_type", ev.EventType),
			zap.Int64("seq", ev.Seq))
		return nil
	}

	p.state.EventSeq = ev.Seq
	return task
}

func newTask(taskType string, ev protocol.Event, dur time.Duration) *playback.Task {
	t := playback.NewTask(taskType, ev, dur)
	return &t
}

func moveDuration(from, to int) time.Duration {
	squares := to - from
	if squares < 0 {
		squares = -squares
	}
	return time.Duration(squares) * DurTokenMoveSquare
}

// inHomestretch classifies a progress counter against the board's
// threshold using the configured boundary convention.
func (p *Projector) inHomestretch(progress int) bool {
	threshold := p.state.BoardSetup.SquaresToHomestretch
	if p.cfg.HomestretchExclusive {
		return progress > threshold
	}
	return progress >= threshold
}

// consumeRoll removes exactly one outstanding roll of the given value.
// The unconsumed count can never go negative: a missing value means the
// server and client disagree, which is logged and left to resync.
func (p *Projector) consumeRoll(value int) {
	turn := p.state.CurrentTurn
	if turn == nil {
		return
	}
	for i, r := range turn.RollsToAllocate {
		if r == value {
			turn.RollsToAllocate = append(turn.RollsToAllocate[:i], turn.RollsToAllocate[i+1:]...)
			return
		}
	}
	p.log.Warn("no outstanding roll to consume", zap.Int("value", value))
}

func (p *Projector) findPlayer(playerID string) *protocol.Player {
	for i := range p.state.Players {
		if p.state.Players[i].PlayerID == playerID {
			return &p.state.Players[i]
		}
	}
	return nil
}

func (p *Projector) updateToken(playerID, tokenID string, mutate func(*protocol.Token)) {
	player := p.findPlayer(playerID)
	if player == nil {
		p.log.Warn("event for unknown player", zap.String("player_id", playerID))
		return
	}
	for i := range player.Tokens {
		if player.Tokens[i].TokenID == tokenID {
			mutate(&player.Tokens[i])
			return
		}
	}
	p.log.Warn("event for unknown token",
		zap.String("player_id", playerID), zap.String("token_id", tokenID))
}

func (p *Projector) addStack(playerID string, stack protocol.Stack) {
	player := p.findPlayer(playerID)
	if player == nil {
		return
	}
	player.Stacks = append(player.Stacks, stack)
	for _, tokenID := range stack.Tokens {
		p.updateToken(playerID, tokenID, func(t *protocol.Token) { t.InStack = true })
	}
}

func (p *Projector) removeStack(playerID, stackID string) {
	player := p.findPlayer(playerID)
	if player == nil {
		return
	}
	for i, st := range player.Stacks {
		if st.StackID != stackID {
			continue
		}
		for _, tokenID := range st.Tokens {
			p.updateToken(playerID, tokenID, func(t *protocol.Token) { t.InStack = false })
		}
		player.Stacks = append(player.Stacks[:i], player.Stacks[i+1:]...)
		return
	}
}

func (p *Projector) updateStack(playerID, stackID string, tokens []string) {
	player := p.findPlayer(playerID)
	if player == nil {
		return
	}
	for i := range player.Stacks {
		if player.Stacks[i].StackID == stackID {
			player.Stacks[i].Tokens = append([]string(nil), tokens...)
			return
		}
	}
}

func (p *Projector) applyStackSplit(ev protocol.Event) {
	if len(ev.RemainingTokenIDs) > 0 {
		p.updateStack(ev.PlayerID, ev.OriginalStackID, ev.RemainingTokenIDs)
	} else {
		p.removeStack(ev.PlayerID, ev.OriginalStackID)
	}

	if ev.NewStackID != "" && len(ev.MovingTokenIDs) > 1 {
		p.addStack(ev.PlayerID, protocol.Stack{StackID: ev.NewStackID, Tokens: ev.MovingTokenIDs})
	} else {
		for _, tokenID := range ev.MovingTokenIDs {
			p.updateToken(ev.PlayerID, tokenID, func(t *protocol.Token) { t.InStack = false })
		}
	}
}

// applyStackMoved moves the composite as one unit while every constituent
// token tracks the new progress and derived track state individually.
func (p *Projector) applyStackMoved(ev protocol.Event) {
	state := protocol.TokenRoad
	if p.inHomestretch(ev.ToProgress) {
		state = protocol.TokenHomestretch
	}
	for _, tokenID := range ev.TokenIDs {
		p.updateToken(ev.PlayerID, tokenID, func(t *protocol.Token) {
			t.Progress = ev.ToProgress
			t.State = state
		})
	}
}

// highlightFor marks the acting player's legal moves when that player is
// the local one.
func (p *Projector) highlightFor(playerID string, legalMoves []string) {
	if playerID != p.myPlayerID || len(legalMoves) == 0 {
		return
	}
	p.highlighted = p.highlighted[:0]
	for _, tokenID := range HighlightableTokens(legalMoves, p.state.Players) {
		p.highlighted = append(p.highlighted, HighlightedToken{
			TokenID:  tokenID,
			PlayerID: playerID,
			Kind:     "selectable",
		})
	}
}

func parseCaptureOptions(options []string) []CaptureOption {
	out := make([]CaptureOption, 0, len(options))
	for _, opt := range options {
		switch opt {
		case "stack":
			out = append(out, CaptureOption{ID: "stack", Label: "Stack with your token", Type: "stack"})
		case "capture":
			out = append(out, CaptureOption{ID: "capture", Label: "Capture enemy token", Type: "capture"})
		default:
			out = append(out, CaptureOption{ID: opt, Label: "Capture " + opt, Type: "target"})
		}
	}
	return out
}
