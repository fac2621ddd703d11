// Package session is the orchestrator: it owns one transport link, the
// sequencing layer, the state projector, and the playback queue, and runs
// them from a single goroutine so none of the inner layers need locks.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parques-online/client-go/internal/game"
	"github.com/parques-online/client-go/internal/playback"
	"github.com/parques-online/client-go/internal/sequence"
	"github.com/parques-online/client-go/internal/transport"
	"github.com/parques-online/client-go/pkg/protocol"
)

// Transport is the slice of the link the session drives. Satisfied by
// *transport.Link; faked in tests.
type Transport interface {
	Connect(ctx context.Context, creds transport.Credentials) error
	Disconnect()
	Send(env protocol.Envelope)
	Request(ctx context.Context, env protocol.Envelope, timeout time.Duration) (protocol.Envelope, error)
	OnMessage(fn func(protocol.Envelope))
	OnState(fn func(transport.State))
	State() transport.State
}

type Msg interface{ isSessionMsg() }

type fromServer struct{ Env protocol.Envelope }

func (fromServer) isSessionMsg() {}

type linkState struct{ State transport.State }

func (linkState) isSessionMsg() {}

type doAction struct{ Payload protocol.GameActionPayload }

func (doAction) isSessionMsg() {}

type requestResync struct{}

func (requestResync) isSessionMsg() {}

type resyncResult struct {
	Env protocol.Envelope
	Err error
}

func (resyncResult) isSessionMsg() {}

type getView struct{ Reply chan View }

func (getView) isSessionMsg() {}

type shutdown struct{}

func (shutdown) isSessionMsg() {}

// View is a race-free copy of everything a frontend needs to render.
type View struct {
	Link           transport.State
	UserID         string
	State          *protocol.GameState
	LastApplied    int64
	PendingEvents  int
	QueueDepth     int
	Playing        bool
	Highlighted    []game.HighlightedToken
	CaptureOptions []game.CaptureOption
	RollToAllocate int
	WinnerID       string
	FinalRankings  []string
}

// Config assembles a session.
type Config struct {
	Credentials transport.Credentials
	Game        game.Config

	// ResyncTimeout bounds the request_state round trip. Zero uses the
	// transport default.
	ResyncTimeout time.Duration

	// OnGameError, when set, observes rejected actions and server-side
	// game errors. Called from the session goroutine.
	OnGameError func(protocol.ErrorPayload)
}

type Session struct {
	cfg   Config
	tr    Transport
	log   *zap.Logger
	inbox chan Msg

	seq   *sequence.Manager
	proj  *game.Projector
	queue *playback.Queue

	userID         string
	gapPending     bool
	resyncInFlight bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the session loop. Playback runs the given player; pass a
// PlayerFunc that drives the UI's animations.
func New(parent context.Context, cfg Config, tr Transport, player playback.Player, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		cfg:    cfg,
		tr:     tr,
		log:    log,
		inbox:  make(chan Msg, 64),
		seq:    sequence.New(-1),
		proj:   game.NewProjector(cfg.Game, log),
		queue:  playback.NewQueue(player, log),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.seq.SetGapHandler(func(gap sequence.Gap) {
		// Runs inside ProcessEvents on the loop goroutine.
		s.log.Warn("event gap detected",
			zap.Int64("expected", gap.Expected),
			zap.Int64("received", gap.Received),
			zap.Int64("missing", gap.Missing))
		s.gapPending = true
	})

	tr.OnMessage(func(env protocol.Envelope) { s.post(fromServer{Env: env}) })
	tr.OnState(func(st transport.State) { s.post(linkState{State: st}) })

	go s.loop()
	return s
}

// Connect dials and authenticates with the configured credentials.
func (s *Session) Connect(ctx context.Context) error {
	return s.tr.Connect(ctx, s.cfg.Credentials)
}

// Roll submits a dice roll. A non-zero value asks the server for a fixed
// roll, honored only on tables with debug rolls enabled.
func (s *Session) Roll(value int) {
	s.post(doAction{Payload: protocol.GameActionPayload{
		ActionType: protocol.ActionRoll,
		Value:      value,
	}})
}

// SelectMove submits a move for a token or stack and clears the local
// selection optimistically; the server's events carry the outcome.
func (s *Session) SelectMove(moveID string) {
	s.post(doAction{Payload: protocol.GameActionPayload{
		ActionType:     protocol.ActionMove,
		TokenOrStackID: moveID,
	}})
}

// ChooseCapture answers an awaiting_capture_choice prompt.
func (s *Session) ChooseCapture(choice string) {
	s.post(doAction{Payload: protocol.GameActionPayload{
		ActionType: protocol.ActionCaptureChoice,
		Choice:     choice,
	}})
}

// StartGame asks the server to start the match.
func (s *Session) StartGame() {
	s.post(doAction{Payload: protocol.GameActionPayload{ActionType: protocol.ActionStartGame}})
}

// RequestResync forces a full-state refetch, as after a detected gap.
func (s *Session) RequestResync() { s.post(requestResync{}) }

// SetFastForward toggles compressed playback.
func (s *Session) SetFastForward(enabled bool) { s.queue.SetFastForward(enabled) }

// SkipToEnd discards queued animations and jumps the playback marker.
func (s *Session) SkipToEnd() { s.queue.SkipToEnd() }

// View snapshots the session without data races.
func (s *Session) View() View {
	reply := make(chan View, 1)
	s.post(getView{Reply: reply})
	select {
	case v := <-reply:
		return v
	case <-s.ctx.Done():
		return View{Link: s.tr.State()}
	}
}

// Close tears the session down: socket, loop, playback.
func (s *Session) Close() {
	s.post(shutdown{})
	<-s.done
}

func (s *Session) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case fromServer:
				s.handleServer(msg.Env)

			case linkState:
				if msg.State == transport.StateDisconnected {
					// The dead connection can no longer fill the gap, so
					// play out whatever was buffered; the reconnect
					// handshake delivers an authoritative snapshot anyway.
					s.project(s.seq.FlushPending())
				}

			case doAction:
				s.handleAction(msg.Payload)

			case requestResync:
				s.startResync()

			case resyncResult:
				s.finishResync(msg)

			case getView:
				msg.Reply <- s.view()

			case shutdown:
				s.teardown()
				return
			}
		}
	}
}

func (s *Session) handleServer(env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgAuthenticated, protocol.MsgConnected:
		var payload protocol.AuthenticatedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			s.log.Warn("bad authenticated payload", zap.Error(err))
			return
		}
		if payload.UserID != "" {
			s.userID = payload.UserID
		}
		if payload.State != nil {
			s.adoptSnapshot(payload.State, false)
		}

	case protocol.MsgGameEvents:
		var payload protocol.GameEventsPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			s.log.Warn("bad game_events payload", zap.Error(err))
			return
		}
		s.applyEvents(payload.Events)

	case protocol.MsgGameState:
		// While a resync is in flight the snapshot also arrives through
		// the request's reply path; finishResync adopts it exactly once.
		if s.resyncInFlight {
			return
		}
		var state protocol.GameState
		if err := json.Unmarshal(env.Payload, &state); err != nil {
			s.log.Warn("bad game_state payload", zap.Error(err))
			return
		}
		s.adoptSnapshot(&state, true)

	case protocol.MsgError, protocol.MsgGameError:
		var payload protocol.ErrorPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		s.log.Warn("server error",
			zap.String("error_code", payload.ErrorCode),
			zap.String("message", payload.Message))
		if s.cfg.OnGameError != nil {
			s.cfg.OnGameError(payload)
		}
	}
}

// applyEvents runs a batch through sequencing, projection, and playback.
func (s *Session) applyEvents(events []protocol.Event) {
	s.project(s.seq.ProcessEvents(events))

	if s.gapPending {
		s.gapPending = false
		s.startResync()
	}
}

// project feeds released events through the projector and enqueues the
// derived animations.
func (s *Session) project(released []protocol.Event) {
	var tasks []playback.Task
	for _, ev := range released {
		if task := s.proj.Apply(ev); task != nil {
			tasks = append(tasks, *task)
		}
	}
	if len(tasks) > 0 {
		s.queue.EnqueueMany(tasks)
	}
}

// adoptSnapshot replaces the projection with an authoritative snapshot and
// realigns sequencing. After a resync the queue jumps past animations that
// describe a past the snapshot already includes.
func (s *Session) adoptSnapshot(state *protocol.GameState, resync bool) {
	s.proj.ApplyFullState(state, s.userID)
	s.seq.Reset(state.EventSeq)
	if resync {
		s.queue.SkipToEnd()
	}
	s.queue.SetLastProcessedSeq(state.EventSeq)
	s.log.Info("adopted state snapshot",
		zap.Int64("event_seq", state.EventSeq), zap.Bool("resync", resync))
}

func (s *Session) handleAction(payload protocol.GameActionPayload) {
	switch payload.ActionType {
	case protocol.ActionMove:
		s.proj.ClearSelection()
	case protocol.ActionCaptureChoice:
		s.proj.ClearCaptureOptions()
	}
	s.tr.Send(protocol.MustEnvelope(protocol.MsgGameAction, uuid.NewString(), payload))
}

// startResync fetches a fresh snapshot over the request/response channel.
// The round trip runs off-loop; the reply comes back through the inbox.
func (s *Session) startResync() {
	if s.resyncInFlight {
		return
	}
	s.resyncInFlight = true
	go func() {
		env, err := s.tr.Request(s.ctx,
			protocol.Envelope{Type: protocol.MsgRequestState}, s.cfg.ResyncTimeout)
		s.post(resyncResult{Env: env, Err: err})
	}()
}

func (s *Session) finishResync(res resyncResult) {
	s.resyncInFlight = false
	if res.Err != nil {
		s.log.Warn("state resync failed", zap.Error(res.Err))
		return
	}
	var state protocol.GameState
	if err := json.Unmarshal(res.Env.Payload, &state); err != nil {
		s.log.Warn("bad resync payload", zap.Error(err))
		return
	}
	s.adoptSnapshot(&state, true)
}

func (s *Session) view() View {
	winnerID, rankings := s.proj.Winner()
	return View{
		Link:           s.tr.State(),
		UserID:         s.userID,
		State:          s.proj.State(),
		LastApplied:    s.seq.LastApplied(),
		PendingEvents:  s.seq.PendingCount(),
		QueueDepth:     s.queue.Len(),
		Playing:        s.queue.Playing(),
		Highlighted:    s.proj.Highlighted(),
		CaptureOptions: s.proj.CaptureOptions(),
		RollToAllocate: s.proj.RollToAllocate(),
		WinnerID:       winnerID,
		FinalRankings:  rankings,
	}
}

func (s *Session) teardown() {
	s.tr.Disconnect()
	s.queue.Close()
	s.cancel()
}
