package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parques-online/client-go/internal/playback"
	"github.com/parques-online/client-go/internal/transport"
	"github.com/parques-online/client-go/pkg/protocol"
)

// fakeTransport records outbound traffic and lets tests inject inbound
// messages through the registered observers.
type fakeTransport struct {
	mu      sync.Mutex
	msgFn   func(protocol.Envelope)
	stateFn func(transport.State)
	state   transport.State

	sent         chan protocol.Envelope
	requests     chan protocol.Envelope
	responses    chan protocol.Envelope
	disconnected chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:        transport.StateConnected,
		sent:         make(chan protocol.Envelope, 16),
		requests:     make(chan protocol.Envelope, 16),
		responses:    make(chan protocol.Envelope, 16),
		disconnected: make(chan struct{}, 1),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, creds transport.Credentials) error {
	return nil
}

func (f *fakeTransport) Disconnect() {
	select {
	case f.disconnected <- struct{}{}:
	default:
	}
}

func (f *fakeTransport) Send(env protocol.Envelope) { f.sent <- env }

func (f *fakeTransport) Request(ctx context.Context, env protocol.Envelope, timeout time.Duration) (protocol.Envelope, error) {
	f.requests <- env
	select {
	case res := <-f.responses:
		return res, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (f *fakeTransport) OnMessage(fn func(protocol.Envelope)) {
	f.mu.Lock()
	f.msgFn = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnState(fn func(transport.State)) {
	f.mu.Lock()
	f.stateFn = fn
	f.mu.Unlock()
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// serve injects a server message as if it arrived on the socket.
func (f *fakeTransport) serve(env protocol.Envelope) {
	f.mu.Lock()
	fn := f.msgFn
	f.mu.Unlock()
	fn(env)
}

func (f *fakeTransport) dropLink() {
	f.mu.Lock()
	f.state = transport.StateDisconnected
	fn := f.stateFn
	f.mu.Unlock()
	fn(transport.StateDisconnected)
}

func recvEnvelope(t *testing.T, ch chan protocol.Envelope) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for an envelope")
		return protocol.Envelope{}
	}
}

// instantPlayer records played task types without taking any time.
type instantPlayer struct {
	mu     sync.Mutex
	played []string
}

func (p *instantPlayer) Play(ctx context.Context, task playback.Task) error {
	p.mu.Lock()
	p.played = append(p.played, task.Type)
	p.mu.Unlock()
	return nil
}

func (p *instantPlayer) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func testSnapshot(eventSeq int64) *protocol.GameState {
	return &protocol.GameState{
		Phase:        protocol.PhaseInProgress,
		CurrentEvent: protocol.CurrentPlayerRoll,
		EventSeq:     eventSeq,
		BoardSetup:   protocol.BoardSetup{SquaresToWin: 57, SquaresToHomestretch: 52},
		CurrentTurn:  &protocol.Turn{PlayerID: "p1", RollsToAllocate: []int{5}},
		Players: []protocol.Player{
			{
				PlayerID: "p1",
				Tokens: []protocol.Token{
					{TokenID: "p1_token_1", State: protocol.TokenRoad, Progress: 10},
					{TokenID: "p1_token_2", State: protocol.TokenHell},
				},
			},
			{
				PlayerID: "p2",
				Tokens: []protocol.Token{
					{TokenID: "p2_token_1", State: protocol.TokenRoad, Progress: 3},
				},
			},
		},
	}
}

type fixture struct {
	sess   *Session
	tr     *fakeTransport
	player *instantPlayer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	tr := newFakeTransport()
	player := &instantPlayer{}
	sess := New(context.Background(), cfg, tr, player, zap.NewNop())
	t.Cleanup(sess.Close)
	return &fixture{sess: sess, tr: tr, player: player}
}

// authenticate seeds the session with a snapshot at the given seq.
func (fx *fixture) authenticate(t *testing.T, seq int64) {
	t.Helper()
	fx.tr.serve(protocol.MustEnvelope(protocol.MsgAuthenticated, "", protocol.AuthenticatedPayload{
		UserID: "p1",
		State:  testSnapshot(seq),
	}))
}

func waitView(t *testing.T, s *Session, ok func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		v := s.View()
		if ok(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("view never reached the expected shape: %+v", v)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSession_AuthenticatedSnapshotSeedsEverything(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.authenticate(t, 41)

	v := waitView(t, fx.sess, func(v View) bool { return v.UserID == "p1" })
	if v.LastApplied != 41 {
		t.Fatalf("last applied = %d, want 41", v.LastApplied)
	}
	if v.State.Phase != protocol.PhaseInProgress || len(v.State.Players) != 2 {
		t.Fatalf("snapshot not adopted: %+v", v.State)
	}
}

func TestSession_EventsProjectAndAnimate(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.authenticate(t, 10)

	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameEvents, "", protocol.GameEventsPayload{
		Events: []protocol.Event{
			{Seq: 11, EventType: protocol.EvtDiceRolled, PlayerID: "p1", Value: 5},
			{Seq: 12, EventType: protocol.EvtTokenMoved, PlayerID: "p1", TokenID: "p1_token_1",
				FromState: protocol.TokenRoad, ToState: protocol.TokenRoad,
				FromProgress: 10, ToProgress: 15, RollUsed: 5},
		},
	}))

	v := waitView(t, fx.sess, func(v View) bool { return v.LastApplied == 12 })
	if got := v.State.Players[0].Tokens[0].Progress; got != 15 {
		t.Fatalf("token progress = %d, want 15", got)
	}

	deadline := time.Now().Add(time.Second)
	for len(fx.player.types()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("played %v, want 2 tasks", fx.player.types())
		}
		time.Sleep(2 * time.Millisecond)
	}
	types := fx.player.types()
	if types[0] != playback.TaskDiceRoll || types[1] != playback.TaskTokenMove {
		t.Fatalf("played %v", types)
	}
}

func TestSession_FirstEventMayBeNumberedZero(t *testing.T) {
	fx := newFixture(t, Config{})

	// Events arriving before any snapshot start the stream at seq 0;
	// nothing may be dropped and no gap may be reported.
	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameEvents, "", protocol.GameEventsPayload{
		Events: []protocol.Event{
			{Seq: 0, EventType: protocol.EvtDiceRolled, PlayerID: "p1", Value: 2},
			{Seq: 1, EventType: protocol.EvtDiceRolled, PlayerID: "p1", Value: 6},
		},
	}))

	v := waitView(t, fx.sess, func(v View) bool { return v.LastApplied == 1 })
	if v.PendingEvents != 0 {
		t.Fatalf("pending = %d, want 0", v.PendingEvents)
	}
	select {
	case env := <-fx.tr.requests:
		t.Fatalf("resync requested for a gapless stream: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}

	deadline := time.Now().Add(time.Second)
	for len(fx.player.types()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("played %v, want both dice rolls", fx.player.types())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSession_GapTriggersSingleResync(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.authenticate(t, 10)

	// 13 is missing: 11 releases, 13 buffers, the gap fires a resync.
	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameEvents, "", protocol.GameEventsPayload{
		Events: []protocol.Event{
			{Seq: 11, EventType: protocol.EvtDiceRolled, PlayerID: "p1", Value: 3},
			{Seq: 13, EventType: protocol.EvtDiceRolled, PlayerID: "p1", Value: 6},
		},
	}))

	req := recvEnvelope(t, fx.tr.requests)
	if req.Type != protocol.MsgRequestState {
		t.Fatalf("resync request type = %q", req.Type)
	}

	// A second gap while the first resync is in flight must not stack a
	// second request.
	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameEvents, "", protocol.GameEventsPayload{
		Events: []protocol.Event{{Seq: 20, EventType: protocol.EvtDiceRolled, PlayerID: "p1", Value: 1}},
	}))
	select {
	case <-fx.tr.requests:
		t.Fatalf("second resync requested while one was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// The reply also echoes through the message fan-out; only the reply
	// path may adopt it, or the snapshot would be applied twice.
	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameState, req.RequestID, testSnapshot(99)))
	time.Sleep(50 * time.Millisecond)
	if v := fx.sess.View(); v.LastApplied == 99 {
		t.Fatalf("fan-out copy adopted while resync in flight")
	}

	fx.tr.responses <- protocol.MustEnvelope(protocol.MsgGameState, req.RequestID, testSnapshot(25))

	v := waitView(t, fx.sess, func(v View) bool { return v.LastApplied == 25 })
	if v.PendingEvents != 0 {
		t.Fatalf("buffer not cleared by resync: %d pending", v.PendingEvents)
	}
}

func TestSession_GameStatePushAdoptedAsResync(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.authenticate(t, 5)

	state := testSnapshot(30)
	raw, _ := json.Marshal(state)
	fx.tr.serve(protocol.Envelope{Type: protocol.MsgGameState, Payload: raw})

	waitView(t, fx.sess, func(v View) bool { return v.LastApplied == 30 })
}

func TestSession_ActionsCarryRequestIDs(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.authenticate(t, 1)

	fx.sess.Roll(0)

	env := recvEnvelope(t, fx.tr.sent)
	if env.Type != protocol.MsgGameAction || env.RequestID == "" {
		t.Fatalf("action envelope = %+v", env)
	}
	var payload protocol.GameActionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.ActionType != protocol.ActionRoll {
		t.Fatalf("payload = %+v (%v)", payload, err)
	}
}

func TestSession_SelectMoveClearsHighlightsOptimistically(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.authenticate(t, 10)

	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameEvents, "", protocol.GameEventsPayload{
		Events: []protocol.Event{{
			Seq: 11, EventType: protocol.EvtAwaitingChoice, PlayerID: "p1",
			LegalMoves: []string{"p1_token_1"},
		}},
	}))
	waitView(t, fx.sess, func(v View) bool { return len(v.Highlighted) == 1 })

	fx.sess.SelectMove("p1_token_1")

	env := recvEnvelope(t, fx.tr.sent)
	var payload protocol.GameActionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.TokenOrStackID != "p1_token_1" {
		t.Fatalf("payload = %+v (%v)", payload, err)
	}
	waitView(t, fx.sess, func(v View) bool { return len(v.Highlighted) == 0 })
}

func TestSession_CaptureChoiceFlow(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.authenticate(t, 10)

	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameEvents, "", protocol.GameEventsPayload{
		Events: []protocol.Event{{
			Seq: 11, EventType: protocol.EvtAwaitingCaptureChoice, PlayerID: "p1",
			Options: []string{"p2_token_1", "p2_token_2"},
		}},
	}))
	waitView(t, fx.sess, func(v View) bool { return len(v.CaptureOptions) == 2 })

	fx.sess.ChooseCapture("p2_token_1")

	recvEnvelope(t, fx.tr.sent)
	waitView(t, fx.sess, func(v View) bool { return len(v.CaptureOptions) == 0 })
}

func TestSession_GameErrorReachesObserver(t *testing.T) {
	errs := make(chan protocol.ErrorPayload, 1)
	fx := newFixture(t, Config{OnGameError: func(p protocol.ErrorPayload) { errs <- p }})
	fx.authenticate(t, 1)

	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameError, "req-9", protocol.ErrorPayload{
		ErrorCode: protocol.ErrCodeInvalidMove, Message: "blocked",
	}))

	select {
	case payload := <-errs:
		if payload.ErrorCode != protocol.ErrCodeInvalidMove {
			t.Fatalf("error code = %q", payload.ErrorCode)
		}
	case <-time.After(time.Second):
		t.Fatalf("error never reached the observer")
	}
}

func TestSession_DisconnectPlaysOutBufferedEvents(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.authenticate(t, 10)

	// 13 buffers behind the missing 12; the resync request hangs
	// unanswered, then the link drops.
	fx.tr.serve(protocol.MustEnvelope(protocol.MsgGameEvents, "", protocol.GameEventsPayload{
		Events: []protocol.Event{
			{Seq: 11, EventType: protocol.EvtDiceRolled, PlayerID: "p1", Value: 2},
			{Seq: 13, EventType: protocol.EvtDiceRolled, PlayerID: "p1", Value: 4},
		},
	}))
	recvEnvelope(t, fx.tr.requests)
	waitView(t, fx.sess, func(v View) bool { return v.PendingEvents == 1 })

	fx.tr.dropLink()

	v := waitView(t, fx.sess, func(v View) bool { return v.PendingEvents == 0 })
	if v.LastApplied != 13 {
		t.Fatalf("last applied = %d, want 13 after flush", v.LastApplied)
	}
}

func TestSession_CloseDisconnectsTransport(t *testing.T) {
	tr := newFakeTransport()
	sess := New(context.Background(), Config{}, tr, &instantPlayer{}, zap.NewNop())
	sess.Close()

	select {
	case <-tr.disconnected:
	case <-time.After(time.Second):
		t.Fatalf("transport never disconnected")
	}
}
